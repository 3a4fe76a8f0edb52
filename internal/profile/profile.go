package profile

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Profile is configuration to start main server.
type Profile struct {
	// Embedding provider configuration (OpenAI-compatible protocol).
	// All providers (openai, siliconflow, ollama) use the same config shape.
	EmbeddingProvider   string // Provider identifier: openai, siliconflow, ollama
	EmbeddingAPIKey     string
	EmbeddingBaseURL    string // Optional, has a default per provider
	EmbeddingModel      string
	EmbeddingDimensions int // Vector dimensionality, fixed per deployment
	EmbeddingTimeout    int // Per-request timeout in seconds

	// Sync configuration
	SyncWorkers int // Bounded concurrency for bulk refresh

	Mode    string
	Addr    string
	Port    int
	Data    string
	Driver  string // postgres or sqlite
	DSN     string
	Version string
}

// Provider default configurations for embeddings.
// Used when the base URL or model is not explicitly set.
var embeddingProviderDefaults = map[string]struct {
	BaseURL string
	Model   string
}{
	"openai": {
		BaseURL: "https://api.openai.com/v1",
		Model:   "text-embedding-3-large",
	},
	"siliconflow": {
		BaseURL: "https://api.siliconflow.cn/v1",
		Model:   "BAAI/bge-m3",
	},
	"ollama": {
		BaseURL: "http://localhost:11434/v1",
		Model:   "nomic-embed-text",
	},
}

func (p *Profile) IsDev() bool {
	return p.Mode != "prod"
}

// IsEmbeddingEnabled returns true if an embedding provider is configured.
// Ollama runs locally and needs no API key.
func (p *Profile) IsEmbeddingEnabled() bool {
	return p.EmbeddingAPIKey != "" || p.EmbeddingProvider == "ollama"
}

// getEnvOrDefault returns environment variable value or default value.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvOrDefaultInt returns environment variable value as int or default value.
func getEnvOrDefaultInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// FromEnv loads configuration from environment variables.
func (p *Profile) FromEnv() {
	p.EmbeddingProvider = getEnvOrDefault("FABLECRAFT_EMBEDDING_PROVIDER", "openai")
	p.EmbeddingAPIKey = getEnvOrDefault("FABLECRAFT_EMBEDDING_API_KEY", "")
	p.EmbeddingBaseURL = getEnvOrDefault("FABLECRAFT_EMBEDDING_BASE_URL", "")
	p.EmbeddingModel = getEnvOrDefault("FABLECRAFT_EMBEDDING_MODEL", "")
	p.EmbeddingDimensions = getEnvOrDefaultInt("FABLECRAFT_EMBEDDING_DIMENSIONS", 3072)
	p.EmbeddingTimeout = getEnvOrDefaultInt("FABLECRAFT_EMBEDDING_TIMEOUT_SECONDS", 10)
	p.SyncWorkers = getEnvOrDefaultInt("FABLECRAFT_SYNC_WORKERS", 4)

	if _, ok := embeddingProviderDefaults[p.EmbeddingProvider]; !ok {
		p.EmbeddingProvider = "openai"
	}
	if defaults, ok := embeddingProviderDefaults[p.EmbeddingProvider]; ok {
		if p.EmbeddingBaseURL == "" {
			p.EmbeddingBaseURL = defaults.BaseURL
		}
		if p.EmbeddingModel == "" {
			p.EmbeddingModel = defaults.Model
		}
	}
}

func checkDataDir(dataDir string) (string, error) {
	// Convert to absolute path if relative path is supplied.
	if !filepath.IsAbs(dataDir) {
		relativeDir := filepath.Join(filepath.Dir(os.Args[0]), dataDir)
		absDir, err := filepath.Abs(relativeDir)
		if err != nil {
			return "", err
		}
		dataDir = absDir
	}

	// Trim trailing \ or / in case user supplies
	dataDir = strings.TrimRight(dataDir, "\\/")
	if _, err := os.Stat(dataDir); err != nil {
		return "", errors.Wrapf(err, "unable to access data folder %s", dataDir)
	}
	return dataDir, nil
}

// Validate normalizes and checks the profile.
func (p *Profile) Validate() error {
	if p.Mode != "demo" && p.Mode != "dev" && p.Mode != "prod" {
		p.Mode = "demo"
	}

	if p.Mode == "prod" && p.Data == "" {
		p.Data = "/var/opt/fablecraft"
	}

	dataDir, err := checkDataDir(p.Data)
	if err != nil {
		return err
	}
	p.Data = dataDir

	switch p.Driver {
	case "sqlite":
		if p.DSN == "" {
			dbFile := fmt.Sprintf("fablecraft_%s.db", p.Mode)
			p.DSN = filepath.Join(dataDir, dbFile)
		}
	case "postgres":
		if p.DSN == "" {
			return errors.New("dsn is required for postgres driver")
		}
	default:
		return errors.Errorf("unsupported driver %q (postgres, sqlite)", p.Driver)
	}

	if p.SyncWorkers <= 0 {
		p.SyncWorkers = 4
	}
	if p.EmbeddingDimensions <= 0 {
		p.EmbeddingDimensions = 3072
	}

	return nil
}
