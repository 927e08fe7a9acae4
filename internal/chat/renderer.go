package chat

import (
	"context"
	_ "embed"
	"html/template"
	"io"
	"sync"
)

// Renderer turns action-form messages into interactive forms and renders
// the message list.
type Renderer struct {
	log       *Log
	submitter Submitter
	onResolve func(context.Context, Application)

	mu    sync.RWMutex
	forms map[string]*Form
}

// NewRenderer creates a renderer for log. Hook Materialize into the log so
// every appended action-form message gets its own form.
func NewRenderer(submitter Submitter, onResolve func(context.Context, Application)) *Renderer {
	if submitter == nil {
		submitter = SimulatedSubmitter{}
	}
	return &Renderer{
		submitter: submitter,
		onResolve: onResolve,
		forms:     make(map[string]*Form),
	}
}

func (r *Renderer) attach(log *Log) { r.log = log }

// Materialize creates the form of an action-form message. Other messages
// and messages that already have a form are ignored.
func (r *Renderer) Materialize(m Message) {
	if m.Kind != KindActionForm || m.ActionPayload == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.forms[m.ID]; ok {
		return
	}
	r.forms[m.ID] = newForm(m, r.log, r.submitter, r.onResolve)
}

// Form returns the form of the message with id.
func (r *Renderer) Form(id string) (*Form, error) {
	m, ok := r.log.Get(id)
	if !ok {
		return nil, ErrMessageNotFound
	}
	if m.Kind != KindActionForm {
		return nil, ErrNotActionForm
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.forms[id]
	if !ok {
		return nil, ErrMessageNotFound
	}
	return f, nil
}

// FormView is how an action-form message renders.
type FormView struct {
	SubjectTitle string    `json:"subjectTitle"`
	SubjectID    string    `json:"subjectId,omitempty"`
	State        FormState `json:"state"`
	Fields       Fields    `json:"fields"`
	CanSubmit    bool      `json:"canSubmit"`
	Error        string    `json:"error,omitempty"`
}

// MessageView is one rendered entry of the message list.
type MessageView struct {
	Message
	Form *FormView `json:"form,omitempty"`
}

// Views renders the log in display order. A resolved form shows only its
// confirmation: no fields and no submit affordance.
func (r *Renderer) Views() []MessageView {
	msgs := r.log.Messages()
	out := make([]MessageView, 0, len(msgs))
	for _, m := range msgs {
		v := MessageView{Message: m}
		if m.Kind == KindActionForm {
			v.Form = r.formView(m)
		}
		out = append(out, v)
	}
	return out
}

func (r *Renderer) formView(m Message) *FormView {
	v := &FormView{SubjectTitle: m.ActionPayload.SubjectTitle, SubjectID: m.ActionPayload.SubjectID, State: FormDraft}
	if m.IsResolved {
		v.State = FormResolved
		return v
	}
	r.mu.RLock()
	f := r.forms[m.ID]
	r.mu.RUnlock()
	if f == nil {
		return v
	}
	v.State = f.State()
	v.Fields = f.Fields()
	v.CanSubmit = f.CanSubmit()
	if err := f.LastError(); err != nil {
		v.Error = "We couldn't send your application. Please try again."
	}
	return v
}

//go:embed templates/messages.html.tmpl
var messagesTemplate string

var messagesTmpl = template.Must(template.New("messages").Parse(messagesTemplate))

// RenderHTML writes the message list as an HTML fragment.
func (r *Renderer) RenderHTML(w io.Writer, pending bool) error {
	return messagesTmpl.Execute(w, struct {
		Messages []MessageView
		Pending  bool
	}{r.Views(), pending})
}
