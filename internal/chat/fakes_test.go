package chat

import (
	"context"
	"errors"
	"sync"

	"github.com/comigor/muhtesem-assistant/internal/agent"
)

// fakeSession is a scripted model session.
type fakeSession struct {
	mu          sync.Mutex
	reply       func(ctx context.Context, text string) (agent.Response, error)
	messages    []string
	toolResults [][]agent.ToolResult
	notified    chan []agent.ToolResult
}

func newFakeSession(reply func(ctx context.Context, text string) (agent.Response, error)) *fakeSession {
	return &fakeSession{reply: reply, notified: make(chan []agent.ToolResult, 8)}
}

func textReply(text string) func(context.Context, string) (agent.Response, error) {
	return func(context.Context, string) (agent.Response, error) { return agent.Response{Text: text}, nil }
}

func callsReply(calls ...agent.FunctionCall) func(context.Context, string) (agent.Response, error) {
	return func(context.Context, string) (agent.Response, error) { return agent.Response{FunctionCalls: calls}, nil }
}

func (s *fakeSession) SendMessage(ctx context.Context, text string) (agent.Response, error) {
	s.mu.Lock()
	s.messages = append(s.messages, text)
	reply := s.reply
	s.mu.Unlock()
	return reply(ctx, text)
}

func (s *fakeSession) SendToolResults(_ context.Context, results []agent.ToolResult) (agent.Response, error) {
	s.mu.Lock()
	s.toolResults = append(s.toolResults, results)
	s.mu.Unlock()
	s.notified <- results
	return agent.Response{Text: "noted"}, errors.New("notification failures are swallowed")
}

func (s *fakeSession) sent() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.messages...)
}

type countingOpener struct {
	mu      sync.Mutex
	opened  int
	opts    []agent.SessionOptions
	session ModelSession
	err     error
}

func (o *countingOpener) OpenSession(_ context.Context, opts agent.SessionOptions) (ModelSession, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.opts = append(o.opts, opts)
	if o.err != nil {
		return nil, o.err
	}
	o.opened++
	return o.session, nil
}

func staticInstruction() (string, error) { return "be helpful", nil }

// instantSubmitter accepts every application immediately.
type instantSubmitter struct {
	mu   sync.Mutex
	apps []Application
	err  error
}

func (s *instantSubmitter) Submit(_ context.Context, app Application) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.apps = append(s.apps, app)
	return s.err
}

// gateSubmitter blocks until release is closed.
type gateSubmitter struct {
	started chan struct{}
	release chan struct{}
}

func newGateSubmitter() *gateSubmitter {
	return &gateSubmitter{started: make(chan struct{}, 1), release: make(chan struct{})}
}

func (s *gateSubmitter) Submit(ctx context.Context, _ Application) error {
	s.started <- struct{}{}
	select {
	case <-s.release:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func newTestConversation(session ModelSession, submitter Submitter) *Conversation {
	c := NewConversation(Options{
		Opener:      &countingOpener{session: session},
		Instruction: staticInstruction,
		Submitter:   submitter,
		Welcome:     "Hello! How can I help you today?",
	})
	c.Mount(context.Background())
	return c
}

func formCall(id, args string) agent.FunctionCall {
	return agent.FunctionCall{ID: id, Name: "show_application_form", Args: args}
}
