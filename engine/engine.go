// Package engine assembles the embedding provider, the sync orchestrator and
// the retrieval service from a server profile.
package engine

import (
	"time"

	"github.com/pkg/errors"

	"github.com/fablecraft/fablecraft/engine/embedding"
	"github.com/fablecraft/fablecraft/engine/retrieval"
	enginesync "github.com/fablecraft/fablecraft/engine/sync"
	"github.com/fablecraft/fablecraft/internal/profile"
	"github.com/fablecraft/fablecraft/store"
)

// Engine bundles the retrieval stack behind one constructor.
type Engine struct {
	Provider  *embedding.Provider
	Sync      *enginesync.Orchestrator
	Retrieval *retrieval.Service
}

// New builds the engine for a profile and store.
func New(p *profile.Profile, s *store.Store) (*Engine, error) {
	provider, err := embedding.NewProvider(&embedding.Config{
		Provider:   p.EmbeddingProvider,
		Model:      p.EmbeddingModel,
		APIKey:     p.EmbeddingAPIKey,
		BaseURL:    p.EmbeddingBaseURL,
		Dimensions: p.EmbeddingDimensions,
		Timeout:    time.Duration(p.EmbeddingTimeout) * time.Second,
	})
	if err != nil {
		return nil, errors.Wrap(err, "create embedding provider")
	}

	return &Engine{
		Provider:  provider,
		Sync:      enginesync.New(s, provider, enginesync.Options{Workers: p.SyncWorkers}),
		Retrieval: retrieval.NewService(s, provider),
	}, nil
}
