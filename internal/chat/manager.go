package chat

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/comigor/muhtesem-assistant/internal/agent"
	"github.com/comigor/muhtesem-assistant/internal/logger"
	"github.com/comigor/muhtesem-assistant/pkg/tools"
)

const (
	// ApologyText replaces a turn that failed.
	ApologyText = "I'm sorry, I'm having trouble connecting right now. Please try again later."
	// FallbackText replaces an empty model answer.
	FallbackText = "I'm sorry, I couldn't generate a response."
	// FallbackSubject labels a form whose call carried no title.
	FallbackSubject = "this role"

	ignoredCallResult    = "Ignored: only one form is shown per turn."
	defaultNotifyTimeout = 30 * time.Second
)

// ModelSession is one dialogue with the language model.
type ModelSession interface {
	SendMessage(ctx context.Context, text string) (agent.Response, error)
	SendToolResults(ctx context.Context, results []agent.ToolResult) (agent.Response, error)
}

// SessionOpener creates model sessions.
type SessionOpener interface {
	OpenSession(ctx context.Context, opts agent.SessionOptions) (ModelSession, error)
}

// OpenerFunc adapts a function to SessionOpener.
type OpenerFunc func(ctx context.Context, opts agent.SessionOptions) (ModelSession, error)

// OpenSession calls f.
func (f OpenerFunc) OpenSession(ctx context.Context, opts agent.SessionOptions) (ModelSession, error) {
	return f(ctx, opts)
}

// AgentOpener opens sessions on a.
func AgentOpener(a *agent.Agent) SessionOpener {
	return OpenerFunc(func(ctx context.Context, opts agent.SessionOptions) (ModelSession, error) {
		s, err := a.OpenSession(ctx, opts)
		if err != nil {
			return nil, err
		}
		return s, nil
	})
}

// Manager holds the single model session of a conversation and mediates
// every user turn through it.
//
// Send is not reentrant: callers must not start a turn while Pending is
// true. The HTTP layer enforces this the way a disabled send button would.
type Manager struct {
	opener        SessionOpener
	instruction   func() (string, error)
	log           *Log
	notifyTimeout time.Duration

	mu      sync.Mutex
	session ModelSession

	pending    atomic.Bool
	background sync.WaitGroup
}

// NewManager creates a manager appending to log. instruction is evaluated
// once, when the session is opened.
func NewManager(opener SessionOpener, instruction func() (string, error), log *Log, notifyTimeout time.Duration) *Manager {
	if notifyTimeout <= 0 {
		notifyTimeout = defaultNotifyTimeout
	}
	return &Manager{
		opener:        opener,
		instruction:   instruction,
		log:           log,
		notifyTimeout: notifyTimeout,
	}
}

// Initialize opens the session unless one exists. Failures are logged and
// leave the manager without a session; a later call tries again.
func (m *Manager) Initialize(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session != nil {
		return
	}

	log := logger.FromContext(ctx)
	instruction, err := m.instruction()
	if err != nil {
		log.Error("failed to build system instruction", "error", err)
		return
	}
	s, err := m.opener.OpenSession(ctx, agent.SessionOptions{
		SystemInstruction: instruction,
		Tools:             []tools.Tool{tools.ApplicationFormTool{}},
	})
	if err != nil {
		log.Error("failed to initialize chat session", "error", err)
		return
	}
	m.session = s
	log.Info("chat session initialized")
}

// HasSession reports whether Initialize succeeded.
func (m *Manager) HasSession() bool {
	return m.currentSession() != nil
}

// Pending reports whether a turn is in flight.
func (m *Manager) Pending() bool { return m.pending.Load() }

func (m *Manager) currentSession() ModelSession {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session
}

// Send submits one user turn. Blank text is ignored. Without a session it
// returns ErrNoSession and leaves the log untouched. Every other failure is
// recovered by appending ApologyText, so the only error is ErrNoSession.
func (m *Manager) Send(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	session := m.currentSession()
	if session == nil {
		return ErrNoSession
	}

	m.log.Append(NewTextMessage(RoleUser, text))
	m.pending.Store(true)
	defer m.pending.Store(false)

	log := logger.FromContext(ctx)
	resp, err := session.SendMessage(ctx, text)
	if err != nil {
		log.Error("chat turn failed", "error", err)
		m.log.Append(NewTextMessage(RoleAssistant, ApologyText))
		return nil
	}

	if len(resp.FunctionCalls) > 0 {
		m.handleFunctionCalls(ctx, session, resp.FunctionCalls)
		return nil
	}

	reply := resp.Text
	if strings.TrimSpace(reply) == "" {
		reply = FallbackText
	}
	m.log.Append(NewTextMessage(RoleAssistant, reply))
	return nil
}

// handleFunctionCalls honours the first call only and tells the model,
// without waiting, that the form was shown.
func (m *Manager) handleFunctionCalls(ctx context.Context, session ModelSession, calls []agent.FunctionCall) {
	log := logger.FromContext(ctx)
	first := calls[0]
	if len(calls) > 1 {
		log.Info("ignoring extra function calls", "honoured", first.Name, "ignored", len(calls)-1)
	}
	if first.Name != tools.ApplicationFormName {
		log.Warn("model called an unknown client action", "name", first.Name)
		m.log.Append(NewTextMessage(RoleAssistant, FallbackText))
		return
	}

	args, err := tools.ParseApplicationArgs(first.Args)
	if err != nil {
		log.Warn("malformed application form arguments", "error", err)
	}
	title := args.Title
	if title == "" {
		title = FallbackSubject
	}
	m.log.Append(NewActionFormMessage(ActionPayload{SubjectTitle: title, SubjectID: args.ID}))

	results := make([]agent.ToolResult, 0, len(calls))
	for i, c := range calls {
		content := ignoredCallResult
		if i == 0 {
			content = fmt.Sprintf("[System] Form for %s displayed to user.", title)
		}
		results = append(results, agent.ToolResult{CallID: c.ID, Content: content})
	}
	m.goBackground(ctx, "form notification", func(ctx context.Context) error {
		_, err := session.SendToolResults(ctx, results)
		return err
	})
}

// Echo tells the model about something that happened outside the chat,
// e.g. a submitted form. It does not wait and its answer is not shown.
func (m *Manager) Echo(ctx context.Context, text string) {
	session := m.currentSession()
	if session == nil {
		return
	}
	m.goBackground(ctx, "context echo", func(ctx context.Context) error {
		_, err := session.SendMessage(ctx, text)
		return err
	})
}

// goBackground runs fn detached from ctx's cancellation, bounded by the
// notify timeout. Errors are logged and dropped.
func (m *Manager) goBackground(ctx context.Context, what string, fn func(context.Context) error) {
	log := logger.FromContext(ctx)
	m.background.Add(1)
	go func() {
		defer m.background.Done()
		bctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.notifyTimeout)
		defer cancel()
		if err := fn(bctx); err != nil {
			log.Warn(what+" failed", "error", err)
		}
	}()
}

// Wait blocks until background notifications have finished.
func (m *Manager) Wait() { m.background.Wait() }

// Close drops the session. Background work still in flight completes but
// cannot touch the log once it is closed.
func (m *Manager) Close() {
	m.mu.Lock()
	m.session = nil
	m.mu.Unlock()
}
