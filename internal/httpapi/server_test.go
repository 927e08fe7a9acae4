package httpapi

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/require"

	"github.com/comigor/muhtesem-assistant/internal/agent"
	"github.com/comigor/muhtesem-assistant/internal/alerts"
	"github.com/comigor/muhtesem-assistant/internal/chat"
	"github.com/comigor/muhtesem-assistant/internal/jobs"
	"github.com/comigor/muhtesem-assistant/internal/savedjobs"
)

// stubSession answers every message with reply.
type stubSession struct {
	mu    sync.Mutex
	reply func(ctx context.Context, text string) (agent.Response, error)
}

func (s *stubSession) SendMessage(ctx context.Context, text string) (agent.Response, error) {
	s.mu.Lock()
	reply := s.reply
	s.mu.Unlock()
	return reply(ctx, text)
}

func (s *stubSession) SendToolResults(context.Context, []agent.ToolResult) (agent.Response, error) {
	return agent.Response{}, nil
}

// stubImages returns the same image for every request.
type stubImages struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (s *stubImages) CreateImage(context.Context, openai.ImageRequest) (openai.ImageResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return openai.ImageResponse{}, s.err
	}
	return openai.ImageResponse{Data: []openai.ImageResponseDataInner{{B64JSON: "aW1n"}}}, nil
}

type testEnv struct {
	srv     *Server
	handler http.Handler
	session *stubSession
	images  *stubImages
	alerts  *alerts.Service
}

func newTestEnv(t *testing.T, openErr error) *testEnv {
	t.Helper()
	session := &stubSession{reply: func(context.Context, string) (agent.Response, error) {
		return agent.Response{Text: "We have a QA Manager role in Berlin."}, nil
	}}
	opener := chat.OpenerFunc(func(context.Context, agent.SessionOptions) (chat.ModelSession, error) {
		if openErr != nil {
			return nil, openErr
		}
		return session, nil
	})
	registry := chat.NewRegistry(func() chat.Options {
		return chat.Options{
			Opener:      opener,
			Instruction: func() (string, error) { return "be helpful", nil },
			Submitter:   chat.SimulatedSubmitter{},
			Welcome:     "Hello! How can I help you today?",
		}
	})
	store := savedjobs.New(filepath.Join(t.TempDir(), "saved.db"))
	images := &stubImages{}
	subs := alerts.New(0)
	srv := NewServer(Options{
		Conversations: registry,
		Catalog:       jobs.Default(),
		Saved:         store,
		Images:        jobs.NewImages(images, "dall-e-3", ""),
		Alerts:        subs,
		PublicURL:     "https://jobs.example.com",
		Company:       "Acme Talent",
	})
	t.Cleanup(func() {
		srv.Wait()
		registry.Close()
		_ = store.Close()
	})
	return &testEnv{srv: srv, handler: srv.Handler(), session: session, images: images, alerts: subs}
}

func (e *testEnv) do(t *testing.T, method, path, body string, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	e.handler.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, sonic.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func (e *testEnv) create(t *testing.T) chat.View {
	t.Helper()
	w := e.do(t, http.MethodPost, "/conversations", "")
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	return decode[chat.View](t, w)
}

func TestHealthz(t *testing.T) {
	env := newTestEnv(t, nil)
	w := env.do(t, http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, w.Code)
	require.NotEmpty(t, w.Header().Get(requestIDHeader))
}

func TestRequestIDIsEchoed(t *testing.T) {
	env := newTestEnv(t, nil)
	w := env.do(t, http.MethodGet, "/healthz", "", requestIDHeader, "req-123")
	require.Equal(t, "req-123", w.Header().Get(requestIDHeader))
}

func TestCORSPreflight(t *testing.T) {
	env := newTestEnv(t, nil)
	w := env.do(t, http.MethodOptions, "/conversations", "")
	require.Equal(t, http.StatusNoContent, w.Code)
	require.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
	require.Contains(t, w.Header().Get("Access-Control-Allow-Headers"), visitorHeader)
}

func TestCreateAndSendMessage(t *testing.T) {
	env := newTestEnv(t, nil)
	view := env.create(t)
	require.True(t, view.Ready)
	require.Len(t, view.Messages, 1)
	require.Equal(t, "Hello! How can I help you today?", view.Messages[0].Text)

	w := env.do(t, http.MethodPost, "/conversations/"+view.ID+"/messages", `{"text":"  any QA jobs?  "}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	view = decode[chat.View](t, w)
	require.Len(t, view.Messages, 3)
	require.Equal(t, chat.RoleUser, view.Messages[1].Role)
	require.Equal(t, "any QA jobs?", view.Messages[1].Text)
	require.Equal(t, "We have a QA Manager role in Berlin.", view.Messages[2].Text)
	require.False(t, view.Pending)

	w = env.do(t, http.MethodPost, "/conversations/"+view.ID+"/messages", `{"text":"   "}`)
	require.Equal(t, http.StatusOK, w.Code)
	require.Len(t, decode[chat.View](t, w).Messages, 3)

	w = env.do(t, http.MethodPost, "/conversations/"+view.ID+"/messages", `not json`)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSendMessage_NoSession(t *testing.T) {
	env := newTestEnv(t, errors.New("no api key"))
	view := env.create(t)
	require.False(t, view.Ready)

	w := env.do(t, http.MethodPost, "/conversations/"+view.ID+"/messages", `{"text":"hello"}`)
	require.Equal(t, http.StatusServiceUnavailable, w.Code)

	w = env.do(t, http.MethodGet, "/conversations/"+view.ID, "")
	require.Len(t, decode[chat.View](t, w).Messages, 1)
}

func TestSendMessage_ConflictWhilePending(t *testing.T) {
	env := newTestEnv(t, nil)
	started := make(chan struct{})
	release := make(chan struct{})
	env.session.mu.Lock()
	env.session.reply = func(context.Context, string) (agent.Response, error) {
		close(started)
		<-release
		return agent.Response{Text: "done"}, nil
	}
	env.session.mu.Unlock()

	view := env.create(t)
	done := make(chan int, 1)
	go func() {
		done <- env.do(t, http.MethodPost, "/conversations/"+view.ID+"/messages", `{"text":"first"}`).Code
	}()
	<-started

	w := env.do(t, http.MethodPost, "/conversations/"+view.ID+"/messages", `{"text":"second"}`)
	require.Equal(t, http.StatusConflict, w.Code)

	w = env.do(t, http.MethodGet, "/conversations/"+view.ID, "")
	require.True(t, decode[chat.View](t, w).Pending)

	close(release)
	require.Equal(t, http.StatusOK, <-done)
}

func TestFormLifecycle(t *testing.T) {
	env := newTestEnv(t, nil)
	env.session.mu.Lock()
	env.session.reply = func(context.Context, string) (agent.Response, error) {
		return agent.Response{FunctionCalls: []agent.FunctionCall{{
			ID: "call_1", Name: "show_application_form", Args: `{"jobTitle":"Senior React Developer","jobId":"4"}`,
		}}}, nil
	}
	env.session.mu.Unlock()

	view := env.create(t)
	base := "/conversations/" + view.ID
	w := env.do(t, http.MethodPost, base+"/messages", `{"text":"I want to apply for the React role"}`)
	require.Equal(t, http.StatusOK, w.Code)
	view = decode[chat.View](t, w)
	formMsg := view.Messages[len(view.Messages)-1]
	require.Equal(t, chat.KindActionForm, formMsg.Kind)
	require.NotNil(t, formMsg.Form)
	require.Equal(t, "4", formMsg.Form.SubjectID)
	formPath := base + "/forms/" + formMsg.ID

	w = env.do(t, http.MethodPost, formPath+"/submit", "")
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)

	w = env.do(t, http.MethodPatch, formPath, `{"name":"Jane Doe","email":"jane@x.com"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	view = decode[chat.View](t, w)
	require.True(t, view.Messages[len(view.Messages)-1].Form.CanSubmit)

	w = env.do(t, http.MethodPost, formPath+"/submit", "")
	require.Equal(t, http.StatusAccepted, w.Code)
	env.srv.Wait()

	w = env.do(t, http.MethodGet, base, "")
	view = decode[chat.View](t, w)
	var resolved bool
	for _, m := range view.Messages {
		if m.ID == formMsg.ID {
			resolved = m.IsResolved
		}
	}
	require.True(t, resolved)
	last := view.Messages[len(view.Messages)-1]
	require.Contains(t, last.Text, "Jane Doe")
	require.Contains(t, last.Text, "Senior React Developer")

	w = env.do(t, http.MethodPost, formPath+"/submit", "")
	require.Equal(t, http.StatusConflict, w.Code)
	w = env.do(t, http.MethodPatch, formPath, `{"name":"Other"}`)
	require.Equal(t, http.StatusConflict, w.Code)

	w = env.do(t, http.MethodPatch, base+"/forms/"+view.Messages[0].ID, `{"name":"x"}`)
	require.Equal(t, http.StatusBadRequest, w.Code)
	w = env.do(t, http.MethodPatch, base+"/forms/unknown", `{"name":"x"}`)
	require.Equal(t, http.StatusNotFound, w.Code)

	w = env.do(t, http.MethodGet, base+"/html", "")
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Header().Get("Content-Type"), "text/html")
	require.Contains(t, w.Body.String(), "Application Sent")
}

func TestToggleAndDelete(t *testing.T) {
	env := newTestEnv(t, nil)
	view := env.create(t)
	require.False(t, view.Open)

	w := env.do(t, http.MethodPost, "/conversations/"+view.ID+"/toggle", "")
	require.Equal(t, http.StatusOK, w.Code)
	require.True(t, decode[toggleResponse](t, w).Open)

	w = env.do(t, http.MethodDelete, "/conversations/"+view.ID, "")
	require.Equal(t, http.StatusNoContent, w.Code)
	w = env.do(t, http.MethodGet, "/conversations/"+view.ID, "")
	require.Equal(t, http.StatusNotFound, w.Code)
	w = env.do(t, http.MethodDelete, "/conversations/"+view.ID, "")
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestListJobs(t *testing.T) {
	env := newTestEnv(t, nil)

	w := env.do(t, http.MethodGet, "/jobs", "")
	require.Equal(t, http.StatusOK, w.Code)
	resp := decode[listJobsResponse](t, w)
	require.Len(t, resp.Jobs, 5)
	require.Equal(t, jobs.All, resp.Categories[0])
	require.Equal(t, []jobs.Type{jobs.All, jobs.Contract, jobs.Permanent}, resp.Types)

	w = env.do(t, http.MethodGet, "/jobs?q=berlin", "")
	resp = decode[listJobsResponse](t, w)
	require.Len(t, resp.Jobs, 1)
	require.Equal(t, "QA Manager", resp.Jobs[0].Title)

	w = env.do(t, http.MethodGet, "/jobs?type=Permanent&category=All", "")
	require.Len(t, decode[listJobsResponse](t, w).Jobs, 2)
}

func TestSavedJobs(t *testing.T) {
	env := newTestEnv(t, nil)

	w := env.do(t, http.MethodPost, "/jobs/4/save", "")
	require.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, http.MethodPost, "/jobs/404/save", "", visitorHeader, "v1")
	require.Equal(t, http.StatusNotFound, w.Code)

	w = env.do(t, http.MethodPost, "/jobs/4/save", "", visitorHeader, "v1")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	toggled := decode[toggleSavedResponse](t, w)
	require.True(t, toggled.Saved)
	require.Equal(t, []string{"4"}, toggled.SavedJobs)

	w = env.do(t, http.MethodGet, "/jobs?saved=true", "", visitorHeader, "v1")
	resp := decode[listJobsResponse](t, w)
	require.Len(t, resp.Jobs, 1)
	require.True(t, resp.Jobs[0].Saved)
	require.Equal(t, 1, resp.SavedCount)

	w = env.do(t, http.MethodGet, "/jobs?saved=true", "", visitorHeader, "v2")
	require.Empty(t, decode[listJobsResponse](t, w).Jobs)

	w = env.do(t, http.MethodGet, "/jobs/4", "", visitorHeader, "v1")
	require.Equal(t, http.StatusOK, w.Code)
	require.True(t, decode[jobDetailResponse](t, w).Saved)

	w = env.do(t, http.MethodPost, "/jobs/4/save", "", visitorHeader, "v1")
	toggled = decode[toggleSavedResponse](t, w)
	require.False(t, toggled.Saved)
	require.Empty(t, toggled.SavedJobs)

	w = env.do(t, http.MethodGet, "/jobs/nope", "")
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestSubmitTimeoutDefault(t *testing.T) {
	srv := NewServer(Options{Conversations: chat.NewRegistry(func() chat.Options { return chat.Options{} })})
	require.Equal(t, time.Minute, srv.SubmitTimeout)
	require.NotNil(t, srv.catalog)
	require.Equal(t, "https://muhtesem-tech.com", srv.publicURL)

	handler := srv.Handler()
	for _, path := range []string{"/jobs/4/image", "/jobs/alerts", "/jobs/4/save"} {
		req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(`{"email":"jane@example.com"}`))
		req.Header.Set(visitorHeader, "v1")
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		require.Equal(t, http.StatusServiceUnavailable, w.Code, path)
	}
}

func TestSubmitForm_HTMLFormPost(t *testing.T) {
	env := newTestEnv(t, nil)
	env.session.mu.Lock()
	env.session.reply = func(context.Context, string) (agent.Response, error) {
		return agent.Response{FunctionCalls: []agent.FunctionCall{{
			ID: "call_1", Name: "show_application_form", Args: `{"jobTitle":"Senior React Developer"}`,
		}}}, nil
	}
	env.session.mu.Unlock()

	view := env.create(t)
	base := "/conversations/" + view.ID
	w := env.do(t, http.MethodPost, base+"/messages", `{"text":"apply please"}`)
	require.Equal(t, http.StatusOK, w.Code)
	view = decode[chat.View](t, w)
	formID := view.Messages[len(view.Messages)-1].ID

	w = env.do(t, http.MethodGet, base+"/html", "")
	require.Contains(t, w.Body.String(), `action="forms/`+formID+`/submit"`)
	require.Contains(t, w.Body.String(), `<button type="submit">`)

	formType := []string{"Content-Type", "application/x-www-form-urlencoded"}
	w = env.do(t, http.MethodPost, base+"/forms/"+formID+"/submit", "name=Jane&email=not-an-email", formType...)
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)

	w = env.do(t, http.MethodPost, base+"/forms/"+formID+"/submit", "name=Jane+Doe&email=jane%40x.com&linkedin=", formType...)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	env.srv.Wait()

	w = env.do(t, http.MethodGet, base, "")
	view = decode[chat.View](t, w)
	last := view.Messages[len(view.Messages)-1]
	require.Contains(t, last.Text, "Thanks Jane Doe!")
	require.Contains(t, last.Text, "Senior React Developer")

	w = env.do(t, http.MethodPost, base+"/forms/"+formID+"/submit", "name=Other&email=o%40x.com", formType...)
	require.Equal(t, http.StatusConflict, w.Code)
}

func TestGetJob_ShareLinksAndImage(t *testing.T) {
	env := newTestEnv(t, nil)

	w := env.do(t, http.MethodGet, "/jobs/5", "")
	require.Equal(t, http.StatusOK, w.Code)
	detail := decode[jobDetailResponse](t, w)
	require.Equal(t, "QA Manager", detail.Title)
	require.Equal(t, "https://jobs.example.com/jobs/5", detail.Share.URL)
	require.Contains(t, detail.Share.Twitter, "Acme%20Talent")
	require.Contains(t, detail.Share.LinkedIn, "https%3A%2F%2Fjobs.example.com%2Fjobs%2F5")
	require.Empty(t, detail.Image)

	w = env.do(t, http.MethodPost, "/jobs/5/image", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	img := decode[jobImageResponse](t, w)
	require.Equal(t, "5", img.JobID)
	require.Equal(t, "data:image/png;base64,aW1n", img.Image)

	w = env.do(t, http.MethodPost, "/jobs/5/image", "")
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, 1, env.images.calls)

	w = env.do(t, http.MethodGet, "/jobs/5", "")
	require.Equal(t, "data:image/png;base64,aW1n", decode[jobDetailResponse](t, w).Image)

	w = env.do(t, http.MethodPost, "/jobs/nope/image", "")
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestJobImage_Failure(t *testing.T) {
	env := newTestEnv(t, nil)
	env.images.err = errors.New("quota exceeded")

	w := env.do(t, http.MethodPost, "/jobs/3/image", "")
	require.Equal(t, http.StatusBadGateway, w.Code)

	env.images.err = nil
	w = env.do(t, http.MethodPost, "/jobs/3/image", "")
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, 2, env.images.calls)
}

func TestSubscribeAlerts(t *testing.T) {
	env := newTestEnv(t, nil)

	w := env.do(t, http.MethodPost, "/jobs/alerts", `{"email":"jane@example.com","category":"LEGAL"}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	sub := decode[alerts.Subscription](t, w)
	require.Equal(t, "jane@example.com", sub.Email)
	require.Equal(t, "LEGAL", sub.Category)

	w = env.do(t, http.MethodPost, "/jobs/alerts", `{"email":"kim@example.com","category":"All"}`)
	require.Equal(t, http.StatusCreated, w.Code)
	require.Empty(t, decode[alerts.Subscription](t, w).Category)

	w = env.do(t, http.MethodPost, "/jobs/alerts", `{"email":"nope"}`)
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)
	w = env.do(t, http.MethodPost, "/jobs/alerts", ``)
	require.Equal(t, http.StatusBadRequest, w.Code)

	require.Len(t, env.alerts.Subscriptions(), 2)
}
