package tools

import (
	"context"
	"encoding/json"
)

// Tool is the interface for all tools declared to the model.
type Tool interface {
	Name() string
	Description() string
	Parameters() json.RawMessage
}

// Executor is implemented by tools that run server-side, such as retrieval
// tools. Tools that do not implement it are client actions: their calls are
// handed back to the caller instead of being executed.
type Executor interface {
	Run(ctx context.Context, args string) (string, error)
}

var emptySchema = json.RawMessage(`{"type":"object","properties":{}}`)
