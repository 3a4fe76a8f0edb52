// Package embedding wraps an OpenAI-compatible embedding API behind a small
// provider with a fixed error taxonomy, deterministic input truncation and
// request rate limiting.
package embedding

import (
	"context"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"
)

// Error taxonomy for refresh and query callers.
var (
	// ErrProviderUnavailable marks transport, auth and timeout failures.
	// Retryable with backoff.
	ErrProviderUnavailable = errors.New("embedding provider unavailable")

	// ErrProviderRejected marks content-policy or malformed-input failures.
	// Retrying the same input would fail identically, so callers must not retry.
	ErrProviderRejected = errors.New("embedding provider rejected input")

	// ErrSchemaMismatch marks a vector of unexpected dimensionality. Fatal for
	// the refresh attempt; it signals a provider/deployment misconfiguration.
	ErrSchemaMismatch = errors.New("embedding dimensionality mismatch")
)

// Config represents embedding provider configuration.
type Config struct {
	Provider   string
	Model      string
	APIKey     string
	BaseURL    string
	Dimensions int

	// Timeout bounds every provider call.
	Timeout time.Duration
	// MaxInputRunes caps the embedded text. Longer input is truncated at the
	// head boundary, never from the middle.
	MaxInputRunes int
	// RequestsPerSecond throttles calls to respect provider rate limits.
	// Zero disables throttling.
	RequestsPerSecond float64
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Provider:      "openai",
		BaseURL:       "https://api.openai.com/v1",
		Model:         "text-embedding-3-large",
		Dimensions:    3072,
		Timeout:       10 * time.Second,
		MaxInputRunes: 8000,
	}
}

// Provider generates vector embeddings through any OpenAI-compatible endpoint
// (openai, siliconflow, ollama, etc.).
type Provider struct {
	client  *openai.Client
	config  *Config
	limiter *rate.Limiter
}

// NewProvider creates a new embedding provider.
func NewProvider(cfg *Config) (*Provider, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.Model == "" {
		cfg.Model = "text-embedding-3-large"
	}
	if cfg.Dimensions <= 0 {
		cfg.Dimensions = 3072
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.MaxInputRunes <= 0 {
		cfg.MaxInputRunes = 8000
	}

	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}

	var limiter *rate.Limiter
	if cfg.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}

	return &Provider{
		client:  openai.NewClientWithConfig(clientConfig),
		config:  cfg,
		limiter: limiter,
	}, nil
}

// Embed generates the vector for a single text.
// The same truncation rules apply to entity text and query text.
func (p *Provider) Embed(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, errors.Wrap(ErrProviderRejected, "empty input")
	}

	if p.limiter != nil {
		if err := p.limiter.Wait(ctx); err != nil {
			return nil, errors.Wrap(ErrProviderUnavailable, err.Error())
		}
	}

	ctx, cancel := context.WithTimeout(ctx, p.config.Timeout)
	defer cancel()

	req := openai.EmbeddingRequest{
		Input:      []string{TruncateInput(text, p.config.MaxInputRunes)},
		Model:      openai.EmbeddingModel(p.config.Model),
		Dimensions: p.config.Dimensions,
	}

	resp, err := p.client.CreateEmbeddings(ctx, req)
	if err != nil {
		return nil, classifyError(err)
	}

	if len(resp.Data) == 0 {
		return nil, errors.Wrap(ErrProviderUnavailable, "empty embedding response")
	}

	vector := resp.Data[0].Embedding
	if len(vector) != p.config.Dimensions {
		return nil, errors.Wrapf(ErrSchemaMismatch, "got %d dimensions, want %d", len(vector), p.config.Dimensions)
	}

	return vector, nil
}

// Dimensions returns the vector dimension.
func (p *Provider) Dimensions() int {
	return p.config.Dimensions
}

// Model returns the embedding model identifier.
func (p *Provider) Model() string {
	return p.config.Model
}

// TruncateInput truncates text to maxRunes, keeping the head. Rune-level so
// multi-byte characters are never split.
func TruncateInput(text string, maxRunes int) string {
	if maxRunes <= 0 {
		return ""
	}
	runes := []rune(text)
	if len(runes) <= maxRunes {
		return text
	}
	return string(runes[:maxRunes])
}

// classifyError maps transport/API failures onto the provider taxonomy.
// A 4xx status on the input itself is a permanent rejection; everything else
// (auth, 5xx, timeouts, connection errors) is transient.
func classifyError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.HTTPStatusCode {
		case http.StatusBadRequest, http.StatusUnprocessableEntity:
			return errors.Wrap(ErrProviderRejected, apiErr.Message)
		}
		return errors.Wrapf(ErrProviderUnavailable, "status %d: %s", apiErr.HTTPStatusCode, apiErr.Message)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return errors.Wrap(ErrProviderUnavailable, "request timed out")
	}
	return errors.Wrap(ErrProviderUnavailable, err.Error())
}
