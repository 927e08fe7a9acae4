package agent

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/qmuntal/stateless"
	"github.com/sashabaranov/go-openai"

	"github.com/comigor/muhtesem-assistant/internal/llm"
	"github.com/comigor/muhtesem-assistant/internal/logger"
	"github.com/comigor/muhtesem-assistant/pkg/tools"
)

// FunctionCall is a client action requested by the model.
type FunctionCall struct {
	ID   string
	Name string
	Args string // raw JSON object
}

// Response is the outcome of one turn: either text or client function calls.
type Response struct {
	Text          string
	FunctionCalls []FunctionCall
}

// ToolResult answers a FunctionCall previously returned by the session.
type ToolResult struct {
	CallID  string
	Content string
}

const unansweredCallResult = "No result was reported for this call."

// Session is one ongoing dialogue with the model. Turns on a session are
// serialized in arrival order.
type Session struct {
	llmClient     llm.Client
	model         string
	maxToolRounds int
	tools         *tools.ToolManager
	declarations  []openai.Tool

	mu      sync.Mutex
	history []openai.ChatCompletionMessage
	pending []FunctionCall
}

func newSession(c llm.Client, model string, maxToolRounds int, tm *tools.ToolManager, instruction string) *Session {
	s := &Session{
		llmClient:     c,
		model:         model,
		maxToolRounds: maxToolRounds,
		tools:         tm,
		declarations:  tm.OpenAITools(),
	}
	if instruction != "" {
		s.history = append(s.history, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: instruction,
		})
	}
	return s
}

// SendMessage sends a user turn and waits for the model's response.
// Function calls left unanswered from an earlier turn are closed with a
// placeholder result first.
func (s *Session) SendMessage(ctx context.Context, text string) (Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	mark, pending := len(s.history), s.pending
	s.answerPending()
	s.history = append(s.history, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: text,
	})
	return s.runTurn(ctx, mark, pending)
}

// SendToolResults answers pending function calls and lets the model respond.
// Results for unknown call ids are ignored; pending calls without a result get
// a placeholder. When nothing was pending the model is not called.
func (s *Session) SendToolResults(ctx context.Context, results []ToolResult) (Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	mark, pending := len(s.history), slices.Clone(s.pending)
	for _, r := range results {
		i := slices.IndexFunc(s.pending, func(c FunctionCall) bool { return c.ID == r.CallID })
		if i < 0 {
			logger.L.Debug("dropping result for unknown call", "call_id", r.CallID)
			continue
		}
		call := s.pending[i]
		s.pending = slices.Delete(s.pending, i, i+1)
		s.history = append(s.history, toolMessage(call.ID, call.Name, r.Content))
	}
	s.answerPending()
	if len(s.history) == mark {
		return Response{}, nil
	}
	return s.runTurn(ctx, mark, pending)
}

// History returns a copy of the messages exchanged so far.
func (s *Session) History() []openai.ChatCompletionMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.history)
}

func (s *Session) answerPending() {
	for _, call := range s.pending {
		s.history = append(s.history, toolMessage(call.ID, call.Name, unansweredCallResult))
	}
	s.pending = nil
}

func toolMessage(id, name, content string) openai.ChatCompletionMessage {
	return openai.ChatCompletionMessage{
		Role:       openai.ChatMessageRoleTool,
		Content:    content,
		ToolCallID: id,
		Name:       name,
	}
}

type turnState string

const (
	stateIdle           turnState = "Idle"
	stateCallingModel   turnState = "CallingModel"
	stateExecutingTools turnState = "ExecutingTools"
	stateDone           turnState = "Done"
	stateFailed         turnState = "Failed"
)

type turnTrigger string

const (
	triggerStart          turnTrigger = "Start"
	triggerToolsRequested turnTrigger = "ToolsRequested"
	triggerToolsExecuted  turnTrigger = "ToolsExecuted"
	triggerReplied        turnTrigger = "Replied"
	triggerFailed         turnTrigger = "Failed"
)

// turn holds the data of one request/response exchange. Entry actions record
// the next trigger instead of firing it, and runTurn drives the machine.
type turn struct {
	s         *Session
	rounds    int
	toolCalls []openai.ToolCall
	resp      Response
	err       error
	next      turnTrigger
}

// runTurn calls the model until it answers with text or client function
// calls, executing retrieval tools in between. On failure the history is
// rolled back to mark and the pending calls restored.
func (s *Session) runTurn(ctx context.Context, mark int, pending []FunctionCall) (Response, error) {
	t := &turn{s: s}

	fsm := stateless.NewStateMachine(stateIdle)
	fsm.Configure(stateIdle).
		Permit(triggerStart, stateCallingModel)
	fsm.Configure(stateCallingModel).
		OnEntry(t.callModel).
		Permit(triggerToolsRequested, stateExecutingTools).
		Permit(triggerReplied, stateDone).
		Permit(triggerFailed, stateFailed)
	fsm.Configure(stateExecutingTools).
		OnEntry(t.executeTools).
		Permit(triggerToolsExecuted, stateCallingModel).
		Permit(triggerFailed, stateFailed)
	fsm.Configure(stateDone)
	fsm.Configure(stateFailed)

	t.next = triggerStart
	for t.next != "" {
		trigger := t.next
		t.next = ""
		if err := fsm.FireCtx(ctx, trigger); err != nil {
			t.err = fmt.Errorf("turn state machine: %w", err)
			break
		}
	}

	if t.err != nil {
		s.history = s.history[:mark]
		s.pending = pending
		return Response{}, t.err
	}
	return t.resp, nil
}

func (t *turn) fail(err error) error {
	t.err = err
	t.next = triggerFailed
	return nil
}

func (t *turn) callModel(ctx context.Context, _ ...any) error {
	s := t.s
	if t.rounds >= s.maxToolRounds {
		logger.L.Warn("max tool rounds reached", "max", s.maxToolRounds)
		return t.fail(ErrMaxToolRounds)
	}
	t.rounds++

	resp, err := s.llmClient.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:    s.model,
		Messages: s.history,
		Tools:    s.declarations,
	})
	if err != nil {
		return t.fail(fmt.Errorf("chat completion: %w", err))
	}
	if len(resp.Choices) == 0 {
		return t.fail(ErrEmptyResponse)
	}

	msg := resp.Choices[0].Message
	if msg.Role == "" {
		msg.Role = openai.ChatMessageRoleAssistant
	}
	s.history = append(s.history, msg)

	if len(msg.ToolCalls) == 0 {
		t.resp = Response{Text: msg.Content}
		t.next = triggerReplied
		return nil
	}

	// The first call decides whether this is a retrieval round or a client action.
	if s.isExecutor(msg.ToolCalls[0].Function.Name) {
		t.toolCalls = msg.ToolCalls
		t.next = triggerToolsRequested
		return nil
	}

	calls := make([]FunctionCall, 0, len(msg.ToolCalls))
	for _, tc := range msg.ToolCalls {
		calls = append(calls, FunctionCall{ID: tc.ID, Name: tc.Function.Name, Args: tc.Function.Arguments})
	}
	s.pending = calls
	t.resp = Response{Text: msg.Content, FunctionCalls: calls}
	t.next = triggerReplied
	return nil
}

func (t *turn) executeTools(ctx context.Context, _ ...any) error {
	s := t.s
	for _, tc := range t.toolCalls {
		s.history = append(s.history, toolMessage(tc.ID, tc.Function.Name, s.execute(ctx, tc)))
	}
	t.toolCalls = nil
	t.next = triggerToolsExecuted
	return nil
}

func (s *Session) isExecutor(name string) bool {
	tool, err := s.tools.GetTool(name)
	if err != nil {
		return false
	}
	_, ok := tool.(tools.Executor)
	return ok
}

func (s *Session) execute(ctx context.Context, tc openai.ToolCall) string {
	tool, err := s.tools.GetTool(tc.Function.Name)
	if err != nil {
		return "Error: unknown tool " + tc.Function.Name
	}
	exec, ok := tool.(tools.Executor)
	if !ok {
		return "Not executed: " + tc.Function.Name + " must be requested on its own."
	}
	logger.L.Debug("executing retrieval tool", "tool", tc.Function.Name, "arguments", tc.Function.Arguments)
	out, err := exec.Run(ctx, tc.Function.Arguments)
	if err != nil {
		logger.L.Warn("retrieval tool failed", "tool", tc.Function.Name, "error", err)
		return "Error: " + err.Error()
	}
	return out
}
