package chat

import (
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"
)

// Options configure a new conversation.
type Options struct {
	Opener      SessionOpener
	Instruction func() (string, error)
	Submitter   Submitter
	Welcome     string
	// NotifyTimeout bounds the background calls that tell the model about
	// shown and submitted forms.
	NotifyTimeout time.Duration
	// EchoSubmissions tells the model when a form has been submitted.
	EchoSubmissions bool
}

// Conversation is one chat widget: its log, its session manager, its inline
// forms and whether its panel is open. Mount it once; Unmount ends it.
type Conversation struct {
	id       string
	log      *Log
	manager  *Manager
	renderer *Renderer
	welcome  string

	mountOnce sync.Once
	open      atomic.Bool
}

// NewConversation wires a conversation together. Nothing is sent until Mount.
func NewConversation(opts Options) *Conversation {
	c := &Conversation{id: newID(), welcome: opts.Welcome}

	var onResolve func(context.Context, Application)
	if opts.EchoSubmissions {
		onResolve = func(ctx context.Context, app Application) {
			c.manager.Echo(ctx, fmt.Sprintf("[System] %s submitted an application for %s.", app.Fields.Name, app.SubjectTitle))
		}
	}
	c.renderer = NewRenderer(opts.Submitter, onResolve)
	c.log = NewLog(c.renderer.Materialize)
	c.renderer.attach(c.log)
	c.manager = NewManager(opts.Opener, opts.Instruction, c.log, opts.NotifyTimeout)
	return c
}

// ID identifies the conversation.
func (c *Conversation) ID() string { return c.id }

// Log returns the conversation log.
func (c *Conversation) Log() *Log { return c.log }

// Manager returns the session manager.
func (c *Conversation) Manager() *Manager { return c.manager }

// Mount posts the welcome message and opens the model session. Only the
// first call has any effect.
func (c *Conversation) Mount(ctx context.Context) {
	c.mountOnce.Do(func() {
		if c.welcome != "" {
			c.log.Append(NewTextMessage(RoleAssistant, c.welcome))
		}
		c.manager.Initialize(ctx)
	})
}

// Toggle opens or closes the panel and returns the new state.
func (c *Conversation) Toggle() bool {
	for {
		cur := c.open.Load()
		if c.open.CompareAndSwap(cur, !cur) {
			return !cur
		}
	}
}

// IsOpen reports whether the panel is open.
func (c *Conversation) IsOpen() bool { return c.open.Load() }

// Pending reports whether a turn is in flight.
func (c *Conversation) Pending() bool { return c.manager.Pending() }

// Send submits a user turn; see Manager.Send.
func (c *Conversation) Send(ctx context.Context, text string) error {
	if c.log.Closed() {
		return ErrClosed
	}
	return c.manager.Send(ctx, text)
}

// Form returns the inline form of an action-form message.
func (c *Conversation) Form(messageID string) (*Form, error) {
	return c.renderer.Form(messageID)
}

// View is the rendered state of the widget.
type View struct {
	ID       string        `json:"id"`
	Open     bool          `json:"open"`
	Pending  bool          `json:"pending"`
	Ready    bool          `json:"ready"`
	Messages []MessageView `json:"messages"`
}

// View renders the widget.
func (c *Conversation) View() View {
	return View{
		ID:       c.id,
		Open:     c.IsOpen(),
		Pending:  c.Pending(),
		Ready:    c.manager.HasSession(),
		Messages: c.renderer.Views(),
	}
}

// RenderHTML writes the message list as an HTML fragment.
func (c *Conversation) RenderHTML(w io.Writer) error {
	return c.renderer.RenderHTML(w, c.Pending())
}

// Unmount ends the conversation. Results still in flight are discarded.
func (c *Conversation) Unmount() {
	c.log.Close()
	c.manager.Close()
}

// Wait blocks until background notifications have finished.
func (c *Conversation) Wait() { c.manager.Wait() }

// Registry holds the mounted conversations.
type Registry struct {
	newOptions func() Options

	mu    sync.RWMutex
	convs map[string]*Conversation
}

// NewRegistry creates a registry; newOptions is called for each conversation.
func NewRegistry(newOptions func() Options) *Registry {
	return &Registry{newOptions: newOptions, convs: make(map[string]*Conversation)}
}

// Create mounts a new conversation.
func (r *Registry) Create(ctx context.Context) *Conversation {
	c := NewConversation(r.newOptions())
	c.Mount(ctx)
	r.mu.Lock()
	r.convs[c.ID()] = c
	r.mu.Unlock()
	return c
}

// Get looks up a conversation.
func (r *Registry) Get(id string) (*Conversation, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.convs[id]
	return c, ok
}

// Delete unmounts and forgets a conversation.
func (r *Registry) Delete(id string) bool {
	r.mu.Lock()
	c, ok := r.convs[id]
	delete(r.convs, id)
	r.mu.Unlock()
	if ok {
		c.Unmount()
	}
	return ok
}

// Close unmounts every conversation and waits for their background work.
func (r *Registry) Close() {
	r.mu.Lock()
	convs := r.convs
	r.convs = make(map[string]*Conversation)
	r.mu.Unlock()
	for _, c := range convs {
		c.Unmount()
		c.Wait()
	}
}
