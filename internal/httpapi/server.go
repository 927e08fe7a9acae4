package httpapi

import (
	"context"
	"errors"
	"io"
	"mime"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/bytedance/sonic"

	"github.com/comigor/muhtesem-assistant/internal/alerts"
	"github.com/comigor/muhtesem-assistant/internal/chat"
	"github.com/comigor/muhtesem-assistant/internal/jobs"
	"github.com/comigor/muhtesem-assistant/internal/logger"
	"github.com/comigor/muhtesem-assistant/internal/savedjobs"
)

const (
	visitorHeader = "X-Visitor-ID"
	maxBodyBytes  = 64 << 10

	defaultSubmitTimeout = time.Minute
	defaultPublicURL     = "https://muhtesem-tech.com"
	defaultCompany       = "Muhteşem Technology"
)

// Server exposes conversations and the jobs board over HTTP.
type Server struct {
	convs   *chat.Registry
	catalog *jobs.Catalog
	saved   *savedjobs.Store
	images  *jobs.Images
	alerts  *alerts.Service

	publicURL string
	company   string

	// SubmitTimeout bounds a detached form submission.
	SubmitTimeout time.Duration

	// busy holds the ids of conversations with a turn in flight.
	busy       sync.Map
	background sync.WaitGroup
}

// Options are the collaborators of a Server. Only Conversations is
// required; a nil Saved, Images or Alerts turns that feature off.
type Options struct {
	Conversations *chat.Registry
	Catalog       *jobs.Catalog
	Saved         *savedjobs.Store
	Images        *jobs.Images
	Alerts        *alerts.Service
	// PublicURL and Company shape the share links of a job.
	PublicURL string
	Company   string
}

// NewServer creates a server.
func NewServer(opts Options) *Server {
	if opts.Catalog == nil {
		opts.Catalog = jobs.Default()
	}
	if opts.PublicURL == "" {
		opts.PublicURL = defaultPublicURL
	}
	if opts.Company == "" {
		opts.Company = defaultCompany
	}
	return &Server{
		convs:         opts.Conversations,
		catalog:       opts.Catalog,
		saved:         opts.Saved,
		images:        opts.Images,
		alerts:        opts.Alerts,
		publicURL:     opts.PublicURL,
		company:       opts.Company,
		SubmitTimeout: defaultSubmitTimeout,
	}
}

// Handler returns the routed handler wrapped in the middleware chain.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	mux.HandleFunc("POST /conversations", s.handleCreateConversation)
	mux.HandleFunc("GET /conversations/{id}", s.withConversation(s.handleGetConversation))
	mux.HandleFunc("GET /conversations/{id}/html", s.withConversation(s.handleConversationHTML))
	mux.HandleFunc("POST /conversations/{id}/toggle", s.withConversation(s.handleToggle))
	mux.HandleFunc("POST /conversations/{id}/messages", s.withConversation(s.handleSendMessage))
	mux.HandleFunc("PATCH /conversations/{id}/forms/{messageID}", s.withConversation(s.handlePatchForm))
	mux.HandleFunc("POST /conversations/{id}/forms/{messageID}/submit", s.withConversation(s.handleSubmitForm))
	mux.HandleFunc("DELETE /conversations/{id}", s.handleDeleteConversation)

	mux.HandleFunc("GET /jobs", s.handleListJobs)
	mux.HandleFunc("GET /jobs/{id}", s.handleGetJob)
	mux.HandleFunc("POST /jobs/{id}/save", s.handleToggleSaved)
	mux.HandleFunc("POST /jobs/{id}/image", s.handleJobImage)
	mux.HandleFunc("POST /jobs/alerts", s.handleSubscribeAlerts)

	return chainMiddlewares(mux, withCORS, withLogging, withRequestID)
}

// Wait blocks until detached form submissions have finished.
func (s *Server) Wait() { s.background.Wait() }

// ─── DTOs ───

type sendMessageRequest struct {
	Text string `json:"text"`
}

type toggleResponse struct {
	Open bool `json:"open"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// ─── conversations ───

type conversationHandler func(w http.ResponseWriter, r *http.Request, c *chat.Conversation)

func (s *Server) withConversation(h conversationHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c, ok := s.convs.Get(r.PathValue("id"))
		if !ok {
			writeError(w, http.StatusNotFound, "conversation not found")
			return
		}
		h(w, r, c)
	}
}

func (s *Server) handleCreateConversation(w http.ResponseWriter, r *http.Request) {
	c := s.convs.Create(r.Context())
	logger.FromContext(r.Context()).Info("conversation mounted", "conversation_id", c.ID(), "ready", c.Manager().HasSession())
	writeJSON(w, http.StatusCreated, c.View())
}

func (s *Server) handleGetConversation(w http.ResponseWriter, _ *http.Request, c *chat.Conversation) {
	writeJSON(w, http.StatusOK, c.View())
}

func (s *Server) handleConversationHTML(w http.ResponseWriter, r *http.Request, c *chat.Conversation) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := c.RenderHTML(w); err != nil {
		logger.FromContext(r.Context()).Error("render conversation", "conversation_id", c.ID(), "error", err)
	}
}

func (s *Server) handleToggle(w http.ResponseWriter, _ *http.Request, c *chat.Conversation) {
	writeJSON(w, http.StatusOK, toggleResponse{Open: c.Toggle()})
}

func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request, c *chat.Conversation) {
	var req sendMessageRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if _, loaded := s.busy.LoadOrStore(c.ID(), struct{}{}); loaded || c.Pending() {
		if !loaded {
			s.busy.Delete(c.ID())
		}
		writeError(w, http.StatusConflict, "a reply is still pending")
		return
	}
	defer s.busy.Delete(c.ID())

	err := c.Send(r.Context(), req.Text)
	switch {
	case errors.Is(err, chat.ErrNoSession):
		writeError(w, http.StatusServiceUnavailable, "the assistant is unavailable")
		return
	case errors.Is(err, chat.ErrClosed):
		writeError(w, http.StatusGone, "conversation closed")
		return
	case err != nil:
		internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c.View())
}

func (s *Server) handlePatchForm(w http.ResponseWriter, r *http.Request, c *chat.Conversation) {
	form, ok := s.form(w, r, c)
	if !ok {
		return
	}
	patch, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "unreadable body")
		return
	}
	if _, err := form.Patch(patch); err != nil {
		if status := formErrorStatus(err); status != 0 {
			writeError(w, status, err.Error())
			return
		}
		writeError(w, http.StatusBadRequest, "invalid merge patch")
		return
	}
	writeJSON(w, http.StatusOK, c.View())
}

// handleSubmitForm accepts the submission and runs it detached from the
// request, so a client that disconnects does not abort delivery.
func (s *Server) handleSubmitForm(w http.ResponseWriter, r *http.Request, c *chat.Conversation) {
	form, ok := s.form(w, r, c)
	if !ok {
		return
	}
	if isFormPost(r) {
		r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
		if err := r.ParseForm(); err != nil {
			writeError(w, http.StatusBadRequest, "unreadable form")
			return
		}
		if form.State() == chat.FormDraft {
			fields := chat.Fields{
				Name:     r.PostForm.Get("name"),
				Email:    r.PostForm.Get("email"),
				LinkedIn: r.PostForm.Get("linkedin"),
			}
			if err := form.Edit(fields); err != nil {
				if status := formErrorStatus(err); status != 0 {
					writeError(w, status, err.Error())
					return
				}
				internalError(w, r, err)
				return
			}
		}
	}
	switch form.State() {
	case chat.FormSubmitting:
		writeError(w, http.StatusConflict, chat.ErrSubmitting.Error())
		return
	case chat.FormResolved:
		writeError(w, http.StatusConflict, chat.ErrAlreadyResolved.Error())
		return
	}
	if !form.CanSubmit() {
		writeError(w, http.StatusUnprocessableEntity, chat.ErrIncomplete.Error())
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), s.SubmitTimeout)
	log := logger.FromContext(ctx)
	s.background.Add(1)
	go func() {
		defer s.background.Done()
		defer cancel()
		if err := form.Submit(ctx); err != nil {
			log.Warn("application submission failed", "conversation_id", c.ID(), "message_id", form.MessageID(), "error", err)
		}
	}()
	writeJSON(w, http.StatusAccepted, c.View())
}

func (s *Server) form(w http.ResponseWriter, r *http.Request, c *chat.Conversation) (*chat.Form, bool) {
	form, err := c.Form(r.PathValue("messageID"))
	switch {
	case errors.Is(err, chat.ErrMessageNotFound):
		writeError(w, http.StatusNotFound, "message not found")
		return nil, false
	case errors.Is(err, chat.ErrNotActionForm):
		writeError(w, http.StatusBadRequest, "message has no form")
		return nil, false
	case err != nil:
		internalError(w, r, err)
		return nil, false
	}
	return form, true
}

// isFormPost reports whether r carries the fields of the rendered HTML form.
func isFormPost(r *http.Request) bool {
	ct, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	return ct == "application/x-www-form-urlencoded"
}

func formErrorStatus(err error) int {
	switch {
	case errors.Is(err, chat.ErrSubmitting), errors.Is(err, chat.ErrAlreadyResolved):
		return http.StatusConflict
	case errors.Is(err, chat.ErrIncomplete):
		return http.StatusUnprocessableEntity
	}
	return 0
}

func (s *Server) handleDeleteConversation(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !s.convs.Delete(id) {
		writeError(w, http.StatusNotFound, "conversation not found")
		return
	}
	s.busy.Delete(id)
	w.WriteHeader(http.StatusNoContent)
}

// ─── helpers ───

func decodeJSON(r *http.Request, v any) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return err
	}
	if strings.TrimSpace(string(body)) == "" {
		return errors.New("empty body")
	}
	return sonic.Unmarshal(body, v)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	body, err := sonic.Marshal(v)
	if err != nil {
		logger.L.Error("encode response", "error", err)
		status = http.StatusInternalServerError
		body = []byte(`{"error":"internal server error"}`)
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

func internalError(w http.ResponseWriter, r *http.Request, err error) {
	logger.FromContext(r.Context()).Error("request failed", "path", r.URL.Path, "error", err)
	writeError(w, http.StatusInternalServerError, "internal server error")
}
