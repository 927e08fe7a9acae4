package llm

import (
	"context"
	"net/http"
	"strings"

	"github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"

	"github.com/comigor/muhtesem-assistant/internal/config"
	"github.com/comigor/muhtesem-assistant/internal/logger"
)

// Supported values of llm.provider.
const (
	ProviderOpenAI = "openai"
	ProviderAzure  = "azure"
)

// clientConfig maps the configured provider onto a go-openai config.
// Unknown providers are treated as OpenAI-compatible endpoints.
func clientConfig(cfg config.LLMConfig) openai.ClientConfig {
	var c openai.ClientConfig
	switch strings.ToLower(cfg.Provider) {
	case ProviderAzure:
		c = openai.DefaultAzureConfig(cfg.APIKey, cfg.BaseURL)
	case "", ProviderOpenAI:
		c = openai.DefaultConfig(cfg.APIKey)
	default:
		logger.L.Warn("unknown llm provider, assuming an OpenAI-compatible API", "provider", cfg.Provider)
		c = openai.DefaultConfig(cfg.APIKey)
	}
	if cfg.BaseURL != "" {
		c.BaseURL = cfg.BaseURL
	}
	c.HTTPClient = &http.Client{Timeout: cfg.RequestTimeout}
	return c
}

// NewClient creates a chat client for cfg.Provider. Requests are bounded by
// cfg.RequestTimeout and, when cfg.RateLimit is set, throttled client-side.
func NewClient(cfg config.LLMConfig) Client {
	var c Client = openai.NewClientWithConfig(clientConfig(cfg))
	if cfg.RateLimit > 0 {
		c = WithRateLimit(c, cfg.RateLimit, cfg.RateBurst)
	}
	return c
}

// NewImageClient creates an image client sharing the chat client's settings.
func NewImageClient(cfg config.LLMConfig) ImageClient {
	var c ImageClient = openai.NewClientWithConfig(clientConfig(cfg))
	if cfg.RateLimit > 0 {
		c = &limitedImageClient{next: c, limiter: newLimiter(cfg.RateLimit, cfg.RateBurst)}
	}
	return c
}

func newLimiter(perSecond float64, burst int) *rate.Limiter {
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(perSecond), burst)
}

type limitedClient struct {
	next    Client
	limiter *rate.Limiter
}

// WithRateLimit wraps c so that at most perSecond completions start each second.
func WithRateLimit(c Client, perSecond float64, burst int) Client {
	return &limitedClient{next: c, limiter: newLimiter(perSecond, burst)}
}

func (l *limitedClient) CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	if err := l.limiter.Wait(ctx); err != nil {
		return openai.ChatCompletionResponse{}, err
	}
	return l.next.CreateChatCompletion(ctx, req)
}

type limitedImageClient struct {
	next    ImageClient
	limiter *rate.Limiter
}

func (l *limitedImageClient) CreateImage(ctx context.Context, req openai.ImageRequest) (openai.ImageResponse, error) {
	if err := l.limiter.Wait(ctx); err != nil {
		return openai.ImageResponse{}, err
	}
	return l.next.CreateImage(ctx, req)
}
