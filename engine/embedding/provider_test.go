package embedding

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/sashabaranov/go-openai"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.BaseURL != "https://api.openai.com/v1" {
		t.Errorf("BaseURL = %v, want https://api.openai.com/v1", cfg.BaseURL)
	}
	if cfg.Model != "text-embedding-3-large" {
		t.Errorf("Model = %v, want text-embedding-3-large", cfg.Model)
	}
	if cfg.Dimensions != 3072 {
		t.Errorf("Dimensions = %v, want 3072", cfg.Dimensions)
	}
	if cfg.Timeout != 10*time.Second {
		t.Errorf("Timeout = %v, want 10s", cfg.Timeout)
	}
}

func TestNewProvider(t *testing.T) {
	tests := []struct {
		name string
		cfg  *Config
	}{
		{name: "nil config uses defaults", cfg: nil},
		{
			name: "zero values are filled with defaults",
			cfg:  &Config{BaseURL: "https://api.test.com", APIKey: "test-key"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := NewProvider(tt.cfg)
			if err != nil {
				t.Fatalf("NewProvider() error = %v", err)
			}
			if p == nil || p.config == nil {
				t.Fatal("NewProvider() returned nil provider or config")
			}
			if p.config.Dimensions != 3072 {
				t.Errorf("Dimensions = %v, want 3072", p.config.Dimensions)
			}
			if p.config.Timeout != 10*time.Second {
				t.Errorf("Timeout = %v, want 10s", p.config.Timeout)
			}
			if p.config.MaxInputRunes != 8000 {
				t.Errorf("MaxInputRunes = %v, want 8000", p.config.MaxInputRunes)
			}
		})
	}
}

func TestTruncateInput(t *testing.T) {
	tests := []struct {
		name     string
		text     string
		maxRunes int
		want     string
	}{
		{"short text untouched", "hello", 10, "hello"},
		{"exact length untouched", "hello", 5, "hello"},
		{"head kept on truncation", "hello world", 5, "hello"},
		{"multi-byte runes not split", "世界和平永驻", 2, "世界"},
		{"zero budget", "hello", 0, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := TruncateInput(tt.text, tt.maxRunes); got != tt.want {
				t.Errorf("TruncateInput() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestTruncateInputDeterministic(t *testing.T) {
	text := "a long description of a knight that keeps going"
	if TruncateInput(text, 10) != TruncateInput(text, 10) {
		t.Error("truncation must be deterministic")
	}
}

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{
			name: "bad request is rejected",
			err:  &openai.APIError{HTTPStatusCode: http.StatusBadRequest, Message: "input too long"},
			want: ErrProviderRejected,
		},
		{
			name: "unprocessable entity is rejected",
			err:  &openai.APIError{HTTPStatusCode: http.StatusUnprocessableEntity},
			want: ErrProviderRejected,
		},
		{
			name: "unauthorized is transient",
			err:  &openai.APIError{HTTPStatusCode: http.StatusUnauthorized},
			want: ErrProviderUnavailable,
		},
		{
			name: "server error is transient",
			err:  &openai.APIError{HTTPStatusCode: http.StatusInternalServerError},
			want: ErrProviderUnavailable,
		},
		{
			name: "deadline exceeded is transient",
			err:  context.DeadlineExceeded,
			want: ErrProviderUnavailable,
		},
		{
			name: "plain transport error is transient",
			err:  errors.New("connection refused"),
			want: ErrProviderUnavailable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := classifyError(tt.err)
			if !errors.Is(got, tt.want) {
				t.Errorf("classifyError() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestEmbedRejectsEmptyInput(t *testing.T) {
	p, err := NewProvider(&Config{APIKey: "test-key"})
	if err != nil {
		t.Fatalf("NewProvider() error = %v", err)
	}

	_, err = p.Embed(context.Background(), "")
	if !errors.Is(err, ErrProviderRejected) {
		t.Errorf("Embed(\"\") error = %v, want ErrProviderRejected", err)
	}
}
