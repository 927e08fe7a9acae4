package httpapi

import (
	"errors"
	"net/http"
	"slices"
	"strconv"

	"github.com/comigor/muhtesem-assistant/internal/alerts"
	"github.com/comigor/muhtesem-assistant/internal/jobs"
	"github.com/comigor/muhtesem-assistant/internal/logger"
)

type jobResponse struct {
	jobs.Job
	Saved bool `json:"saved"`
}

type jobDetailResponse struct {
	jobResponse
	Share jobs.ShareLinks `json:"share"`
	Image string          `json:"image,omitempty"`
}

type jobImageResponse struct {
	JobID string `json:"jobId"`
	Image string `json:"image"`
}

type subscribeAlertsRequest struct {
	Email    string `json:"email"`
	Category string `json:"category"`
}

type listJobsResponse struct {
	Jobs       []jobResponse `json:"jobs"`
	Categories []string      `json:"categories"`
	Types      []jobs.Type   `json:"types"`
	SavedCount int           `json:"savedCount"`
}

type toggleSavedResponse struct {
	JobID     string   `json:"jobId"`
	Saved     bool     `json:"saved"`
	SavedJobs []string `json:"savedJobs"`
}

// savedFor returns the saved job ids of the visitor making the request.
// Anonymous visitors and store failures yield an empty list.
func (s *Server) savedFor(r *http.Request) []string {
	visitor := r.Header.Get(visitorHeader)
	if visitor == "" || s.saved == nil {
		return nil
	}
	ids, err := s.saved.Load(r.Context(), visitor)
	if err != nil {
		logger.FromContext(r.Context()).Warn("load saved jobs", "error", err)
		return nil
	}
	return ids
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	savedOnly, _ := strconv.ParseBool(q.Get("saved"))
	saved := s.savedFor(r)

	matches := s.catalog.Filter(jobs.Filter{
		Query:     q.Get("q"),
		Category:  q.Get("category"),
		Type:      q.Get("type"),
		SavedOnly: savedOnly,
		Saved:     saved,
	})

	resp := listJobsResponse{
		Jobs:       make([]jobResponse, 0, len(matches)),
		Categories: append([]string{jobs.All}, s.catalog.Categories()...),
		Types:      append([]jobs.Type{jobs.All}, s.catalog.Types()...),
		SavedCount: len(saved),
	}
	for _, j := range matches {
		resp.Jobs = append(resp.Jobs, jobResponse{Job: j, Saved: slices.Contains(saved, j.ID)})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	j, ok := s.catalog.Get(r.PathValue("id"))
	if !ok {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	resp := jobDetailResponse{
		jobResponse: jobResponse{Job: j, Saved: slices.Contains(s.savedFor(r), j.ID)},
		Share:       jobs.Share(s.publicURL, s.company, j),
	}
	if s.images != nil {
		resp.Image, _ = s.images.Cached(j.ID)
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleJobImage returns the header image of a job, generating it on the
// first request.
func (s *Server) handleJobImage(w http.ResponseWriter, r *http.Request) {
	if s.images == nil {
		writeError(w, http.StatusServiceUnavailable, "image generation is unavailable")
		return
	}
	j, ok := s.catalog.Get(r.PathValue("id"))
	if !ok {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	img, err := s.images.Image(r.Context(), j)
	if err != nil {
		writeError(w, http.StatusBadGateway, "failed to generate image")
		return
	}
	writeJSON(w, http.StatusOK, jobImageResponse{JobID: j.ID, Image: img})
}

func (s *Server) handleSubscribeAlerts(w http.ResponseWriter, r *http.Request) {
	if s.alerts == nil {
		writeError(w, http.StatusServiceUnavailable, "job alerts are unavailable")
		return
	}
	var req subscribeAlertsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	category := req.Category
	if category == jobs.All {
		category = ""
	}
	sub, err := s.alerts.Subscribe(r.Context(), req.Email, category)
	switch {
	case errors.Is(err, alerts.ErrInvalidEmail):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	case err != nil:
		internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, sub)
}

func (s *Server) handleToggleSaved(w http.ResponseWriter, r *http.Request) {
	visitor := r.Header.Get(visitorHeader)
	if visitor == "" {
		writeError(w, http.StatusBadRequest, visitorHeader+" header is required")
		return
	}
	if s.saved == nil {
		writeError(w, http.StatusServiceUnavailable, "saving jobs is unavailable")
		return
	}
	id := r.PathValue("id")
	if _, ok := s.catalog.Get(id); !ok {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}

	saved, ids, err := s.saved.Toggle(r.Context(), visitor, id)
	if err != nil {
		internalError(w, r, err)
		return
	}
	if ids == nil {
		ids = []string{}
	}
	writeJSON(w, http.StatusOK, toggleSavedResponse{JobID: id, Saved: saved, SavedJobs: ids})
}
