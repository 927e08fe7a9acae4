package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	jsonpatch "github.com/evanphx/json-patch/v5"
	"github.com/qmuntal/stateless"

	"github.com/comigor/muhtesem-assistant/internal/logger"
)

// FormState is the lifecycle state of an inline application form.
type FormState string

const (
	FormDraft      FormState = "draft"
	FormSubmitting FormState = "submitting"
	FormResolved   FormState = "resolved"
)

type formTrigger string

const (
	triggerSubmit       formTrigger = "submit"
	triggerSubmitted    formTrigger = "submitted"
	triggerSubmitFailed formTrigger = "submit_failed"
)

// Fields are the draft values of an application form.
type Fields struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	LinkedIn string `json:"linkedin"`
}

// Complete reports whether the required fields are filled in.
func (f Fields) Complete() bool {
	return strings.TrimSpace(f.Name) != "" && looksLikeEmail(f.Email)
}

// looksLikeEmail is the check an <input type="email"> performs: something
// on each side of a single @.
func looksLikeEmail(s string) bool {
	s = strings.TrimSpace(s)
	local, domain, ok := strings.Cut(s, "@")
	return ok && local != "" && domain != "" && !strings.ContainsAny(domain, "@ ") && !strings.Contains(local, " ")
}

// Application is what a submitted form hands to the Submitter.
type Application struct {
	MessageID    string
	SubjectTitle string
	SubjectID    string
	Fields       Fields
}

// Submitter delivers applications.
type Submitter interface {
	Submit(ctx context.Context, app Application) error
}

// SimulatedSubmitter pretends to deliver an application after Delay.
type SimulatedSubmitter struct {
	Delay time.Duration
}

// Submit waits for Delay or ctx, whichever ends first.
func (s SimulatedSubmitter) Submit(ctx context.Context, app Application) error {
	t := time.NewTimer(s.Delay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		logger.FromContext(ctx).Info("application received", "subject", app.SubjectTitle, "subject_id", app.SubjectID)
		return nil
	}
}

// ConfirmationText is appended to the log once a form is submitted.
func ConfirmationText(name, subject string) string {
	return fmt.Sprintf("Thanks %s! We've received your initial details for the %s role. A recruiter will be in touch via email shortly.", strings.TrimSpace(name), subject)
}

// Form is the interactive state of one action-form message. Its draft lives
// here, apart from the log, until it is submitted. Each form is independent
// of every other form in the conversation.
type Form struct {
	messageID string
	payload   ActionPayload
	log       *Log
	submitter Submitter
	onResolve func(context.Context, Application)

	mu      sync.Mutex
	fsm     *stateless.StateMachine
	fields  Fields
	lastErr error
}

func newForm(m Message, log *Log, submitter Submitter, onResolve func(context.Context, Application)) *Form {
	f := &Form{
		messageID: m.ID,
		payload:   *m.ActionPayload,
		log:       log,
		submitter: submitter,
		onResolve: onResolve,
	}

	initial := FormDraft
	if m.IsResolved {
		initial = FormResolved
	}
	f.fsm = stateless.NewStateMachine(initial)
	f.fsm.Configure(FormDraft).
		Permit(triggerSubmit, FormSubmitting, func(_ context.Context, _ ...any) bool {
			return f.fields.Complete()
		})
	f.fsm.Configure(FormSubmitting).
		Permit(triggerSubmitted, FormResolved).
		Permit(triggerSubmitFailed, FormDraft)
	f.fsm.Configure(FormResolved).
		OnEntryFrom(triggerSubmitted, f.resolve)
	return f
}

// MessageID returns the id of the message the form belongs to.
func (f *Form) MessageID() string { return f.messageID }

// Payload returns the subject the form applies to.
func (f *Form) Payload() ActionPayload { return f.payload }

// State returns the current lifecycle state.
func (f *Form) State() FormState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state()
}

func (f *Form) state() FormState {
	return f.fsm.MustState().(FormState)
}

// Fields returns the current draft.
func (f *Form) Fields() Fields {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fields
}

// LastError returns the error of the last failed submission, if any.
func (f *Form) LastError() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastErr
}

// CanSubmit reports whether Submit would be accepted now.
func (f *Form) CanSubmit() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state() == FormDraft && f.fields.Complete()
}

// Edit replaces the draft. Only drafts can be edited.
func (f *Form) Edit(fields Fields) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.editable(); err != nil {
		return err
	}
	f.fields = fields
	return nil
}

// Patch applies an RFC 7386 merge patch to the draft, e.g. {"email":"a@b.c"}.
func (f *Form) Patch(patch []byte) (Fields, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.editable(); err != nil {
		return f.fields, err
	}

	cur, err := sonic.Marshal(f.fields)
	if err != nil {
		return f.fields, err
	}
	merged, err := jsonpatch.MergePatch(cur, patch)
	if err != nil {
		return f.fields, fmt.Errorf("apply draft patch: %w", err)
	}
	var next Fields
	if err := sonic.Unmarshal(merged, &next); err != nil {
		return f.fields, fmt.Errorf("apply draft patch: %w", err)
	}
	f.fields = next
	return next, nil
}

func (f *Form) editable() error {
	switch f.state() {
	case FormSubmitting:
		return ErrSubmitting
	case FormResolved:
		return ErrAlreadyResolved
	}
	return nil
}

// Submit freezes the draft, delivers it and locks the form. The draft stays
// frozen while the Submitter runs. If delivery fails the form returns to
// draft with LastError set, so the user can retry.
func (f *Form) Submit(ctx context.Context) error {
	f.mu.Lock()
	if err := f.editable(); err != nil {
		f.mu.Unlock()
		return err
	}
	if !f.fields.Complete() {
		f.mu.Unlock()
		return ErrIncomplete
	}
	if err := f.fsm.FireCtx(ctx, triggerSubmit); err != nil {
		f.mu.Unlock()
		return fmt.Errorf("submit form: %w", err)
	}
	app := Application{
		MessageID:    f.messageID,
		SubjectTitle: f.payload.SubjectTitle,
		SubjectID:    f.payload.SubjectID,
		Fields:       f.fields,
	}
	f.mu.Unlock()

	err := f.submitter.Submit(ctx, app)

	f.mu.Lock()
	defer f.mu.Unlock()
	if err != nil {
		f.lastErr = err
		if ferr := f.fsm.FireCtx(ctx, triggerSubmitFailed); ferr != nil {
			return errors.Join(err, ferr)
		}
		return fmt.Errorf("submit form: %w", err)
	}
	f.lastErr = nil
	return f.fsm.FireCtx(ctx, triggerSubmitted, app)
}

// resolve runs on entering FormResolved: it locks the message in the log and
// appends the confirmation. A closed log means the widget is gone; that is
// not an error.
func (f *Form) resolve(ctx context.Context, args ...any) error {
	app := args[0].(Application)
	if _, err := f.log.Resolve(f.messageID); err != nil {
		if errors.Is(err, ErrClosed) {
			return nil
		}
		return err
	}
	f.log.Append(NewTextMessage(RoleAssistant, ConfirmationText(app.Fields.Name, app.SubjectTitle)))
	if f.onResolve != nil {
		f.onResolve(ctx, app)
	}
	return nil
}
