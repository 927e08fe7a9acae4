// Package chat implements the assistant widget: a conversation log, the
// session manager that mediates every turn with the model, and the inline
// application forms the model can ask to display.
package chat

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNoSession        = errors.New("chat: no model session")
	ErrClosed           = errors.New("chat: conversation closed")
	ErrMessageNotFound  = errors.New("chat: message not found")
	ErrNotActionForm    = errors.New("chat: message is not an action form")
	ErrAlreadyResolved  = errors.New("chat: form already submitted")
	ErrSubmitting       = errors.New("chat: form submission in progress")
	ErrIncomplete       = errors.New("chat: name and a valid email are required")
	ErrImmutableMessage = errors.New("chat: message id and kind cannot change")
)

// Role is the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Kind says how a message renders. It never changes after creation.
type Kind string

const (
	KindText       Kind = "text"
	KindActionForm Kind = "action-form"
)

// ActionPayload is carried by action-form messages.
type ActionPayload struct {
	SubjectTitle string `json:"subjectTitle"`
	SubjectID    string `json:"subjectId,omitempty"`
}

// Message is an entry in the conversation log.
type Message struct {
	ID            string         `json:"id"`
	Role          Role           `json:"role"`
	Kind          Kind           `json:"kind"`
	Text          string         `json:"text,omitempty"`
	ActionPayload *ActionPayload `json:"actionPayload,omitempty"`
	IsResolved    bool           `json:"isResolved"`
	CreatedAt     time.Time      `json:"createdAt"`
}

// newID returns a time-ordered unique id.
func newID() string {
	return uuid.Must(uuid.NewV7()).String()
}

// NewTextMessage creates a text message.
func NewTextMessage(role Role, text string) Message {
	return Message{
		ID:        newID(),
		Role:      role,
		Kind:      KindText,
		Text:      text,
		CreatedAt: time.Now(),
	}
}

// NewActionFormMessage creates an unresolved assistant form message.
func NewActionFormMessage(p ActionPayload) Message {
	return Message{
		ID:            newID(),
		Role:          RoleAssistant,
		Kind:          KindActionForm,
		ActionPayload: &p,
		CreatedAt:     time.Now(),
	}
}
