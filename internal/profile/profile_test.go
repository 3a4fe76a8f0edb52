package profile

import (
	"testing"
)

func TestEmbeddingProfileDefaults(t *testing.T) {
	clearEmbeddingEnvVars(t)

	profile := &Profile{}
	profile.FromEnv()

	tests := []struct {
		name     string
		expected string
		actual   string
	}{
		{"EmbeddingProvider default", "openai", profile.EmbeddingProvider},
		{"EmbeddingBaseURL default", "https://api.openai.com/v1", profile.EmbeddingBaseURL},
		{"EmbeddingModel default", "text-embedding-3-large", profile.EmbeddingModel},
		{"EmbeddingAPIKey default", "", profile.EmbeddingAPIKey},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.actual != tt.expected {
				t.Errorf("%s: expected %q, got %q", tt.name, tt.expected, tt.actual)
			}
		})
	}

	if profile.EmbeddingDimensions != 3072 {
		t.Errorf("EmbeddingDimensions: expected 3072, got %d", profile.EmbeddingDimensions)
	}
	if profile.SyncWorkers != 4 {
		t.Errorf("SyncWorkers: expected 4, got %d", profile.SyncWorkers)
	}
	if profile.IsEmbeddingEnabled() {
		t.Error("IsEmbeddingEnabled should be false without an API key")
	}
}

func TestEmbeddingProfileFromEnv(t *testing.T) {
	clearEmbeddingEnvVars(t)

	t.Setenv("FABLECRAFT_EMBEDDING_PROVIDER", "siliconflow")
	t.Setenv("FABLECRAFT_EMBEDDING_API_KEY", "test-key")
	t.Setenv("FABLECRAFT_EMBEDDING_DIMENSIONS", "1024")

	profile := &Profile{}
	profile.FromEnv()

	if profile.EmbeddingProvider != "siliconflow" {
		t.Errorf("EmbeddingProvider: expected siliconflow, got %q", profile.EmbeddingProvider)
	}
	if profile.EmbeddingBaseURL != "https://api.siliconflow.cn/v1" {
		t.Errorf("EmbeddingBaseURL: expected siliconflow default, got %q", profile.EmbeddingBaseURL)
	}
	if profile.EmbeddingModel != "BAAI/bge-m3" {
		t.Errorf("EmbeddingModel: expected BAAI/bge-m3, got %q", profile.EmbeddingModel)
	}
	if profile.EmbeddingDimensions != 1024 {
		t.Errorf("EmbeddingDimensions: expected 1024, got %d", profile.EmbeddingDimensions)
	}
	if !profile.IsEmbeddingEnabled() {
		t.Error("IsEmbeddingEnabled should be true with an API key")
	}
}

func TestEmbeddingProfileUnknownProviderFallsBack(t *testing.T) {
	clearEmbeddingEnvVars(t)

	t.Setenv("FABLECRAFT_EMBEDDING_PROVIDER", "not-a-provider")

	profile := &Profile{}
	profile.FromEnv()

	if profile.EmbeddingProvider != "openai" {
		t.Errorf("EmbeddingProvider: expected fallback to openai, got %q", profile.EmbeddingProvider)
	}
}

func TestProfileValidate(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name    string
		profile *Profile
		wantErr bool
	}{
		{"sqlite with defaults", &Profile{Mode: "dev", Data: dir, Driver: "sqlite"}, false},
		{"postgres without dsn", &Profile{Mode: "dev", Data: dir, Driver: "postgres"}, true},
		{"postgres with dsn", &Profile{Mode: "dev", Data: dir, Driver: "postgres", DSN: "postgresql://u:p@localhost/db"}, false},
		{"unknown driver", &Profile{Mode: "dev", Data: dir, Driver: "mysql"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.profile.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestProfileValidateSQLiteDefaultDSN(t *testing.T) {
	dir := t.TempDir()
	profile := &Profile{Mode: "dev", Data: dir, Driver: "sqlite"}

	if err := profile.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if profile.DSN == "" {
		t.Error("Validate() should fill a default sqlite DSN")
	}
}

func clearEmbeddingEnvVars(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"FABLECRAFT_EMBEDDING_PROVIDER",
		"FABLECRAFT_EMBEDDING_API_KEY",
		"FABLECRAFT_EMBEDDING_BASE_URL",
		"FABLECRAFT_EMBEDDING_MODEL",
		"FABLECRAFT_EMBEDDING_DIMENSIONS",
		"FABLECRAFT_EMBEDDING_TIMEOUT_SECONDS",
		"FABLECRAFT_SYNC_WORKERS",
	} {
		t.Setenv(key, "")
	}
}
