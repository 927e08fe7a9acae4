package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/sashabaranov/go-openai"

	"github.com/comigor/muhtesem-assistant/internal/llm"
	"github.com/comigor/muhtesem-assistant/internal/logger"
)

// ErrNoImage is returned when the image service answers without an image.
var ErrNoImage = errors.New("jobs: image service returned no image")

// ImagePrompt describes the header image of a job posting.
func ImagePrompt(j Job) string {
	return fmt.Sprintf("Generate a professional, high-quality, modern, cinematic header image for a job posting. "+
		"Job Title: %s. Industry Sector: %s. "+
		"Visual style: Corporate, high-tech, clean, cinematic lighting, no text overlays.", j.Title, j.Category)
}

// Images generates one header image per job and keeps it. Concurrent
// requests for the same job share a single generation; failures are not
// cached.
type Images struct {
	client llm.ImageClient
	model  string
	size   string

	mu       sync.Mutex
	byJob    map[string]string // job id -> data URL
	inflight map[string]*generation
}

type generation struct {
	done chan struct{}
	img  string
	err  error
}

// NewImages creates a generator using model at size (e.g. "1792x1024").
func NewImages(client llm.ImageClient, model, size string) *Images {
	if size == "" {
		size = openai.CreateImageSize1792x1024
	}
	return &Images{
		client:   client,
		model:    model,
		size:     size,
		byJob:    make(map[string]string),
		inflight: make(map[string]*generation),
	}
}

// Cached returns the image of a job if one was generated.
func (g *Images) Cached(jobID string) (string, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	img, ok := g.byJob[jobID]
	return img, ok
}

// Image returns the header image of j as a data URL, generating it on first use.
// The generation outlives a cancelled caller so that others waiting on it
// still get the image.
func (g *Images) Image(ctx context.Context, j Job) (string, error) {
	g.mu.Lock()
	if img, ok := g.byJob[j.ID]; ok {
		g.mu.Unlock()
		return img, nil
	}
	if call, ok := g.inflight[j.ID]; ok {
		g.mu.Unlock()
		logger.FromContext(ctx).Debug("joined in-flight image generation", "job_id", j.ID)
		select {
		case <-call.done:
			return call.img, call.err
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	call := &generation{done: make(chan struct{})}
	g.inflight[j.ID] = call
	g.mu.Unlock()

	call.img, call.err = g.generate(context.WithoutCancel(ctx), j)

	g.mu.Lock()
	if call.err == nil {
		g.byJob[j.ID] = call.img
	}
	delete(g.inflight, j.ID)
	g.mu.Unlock()
	close(call.done)
	return call.img, call.err
}

func (g *Images) generate(ctx context.Context, j Job) (string, error) {
	resp, err := g.client.CreateImage(ctx, openai.ImageRequest{
		Prompt:         ImagePrompt(j),
		Model:          g.model,
		Size:           g.size,
		ResponseFormat: openai.CreateImageResponseFormatB64JSON,
		N:              1,
	})
	if err != nil {
		logger.FromContext(ctx).Warn("failed to generate job image", "job_id", j.ID, "error", err)
		return "", fmt.Errorf("generate image for job %s: %w", j.ID, err)
	}
	if len(resp.Data) == 0 || resp.Data[0].B64JSON == "" {
		return "", ErrNoImage
	}
	return "data:image/png;base64," + resp.Data[0].B64JSON, nil
}
