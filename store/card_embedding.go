package store

import (
	"context"

	"github.com/pkg/errors"
)

// CardEmbedding is the vector embedding of a card. It is a derived, disposable
// cache: losing a row only degrades retrieval quality until the card is
// resynchronized.
type CardEmbedding struct {
	ID      int32
	CardID  int32
	NovelID int32
	Model   string
	Vector  []float32
	// ContentDigest is the hash of the normalized card text that produced the
	// vector. A mismatch against the card's current text marks the row stale.
	ContentDigest string
	CreatedTs     int64
	UpdatedTs     int64
}

// CardScanOptions selects embedding candidates for ranking. NovelID is
// mandatory so that a scan can never cross novel boundaries.
type CardScanOptions struct {
	NovelID int32
	// QueryVector is optional; when empty the scan returns candidates without
	// semantic scores and the caller ranks lexically.
	QueryVector []float32
	Limit       int
}

// Validate validates the CardScanOptions.
func (o *CardScanOptions) Validate() error {
	if o.NovelID <= 0 {
		return errors.Errorf("invalid NovelID: %d", o.NovelID)
	}
	if o.Limit < 0 {
		return errors.Errorf("limit cannot be negative: %d", o.Limit)
	}
	if o.Limit == 0 {
		o.Limit = 200
	}
	if o.Limit > 1000 {
		return errors.Errorf("limit too large (max 1000): %d", o.Limit)
	}
	return nil
}

// CardCandidate is one row of a card scan: the card plus, when a stored
// embedding exists, its cosine similarity against the query vector and the
// digest recorded at embed time.
type CardCandidate struct {
	Card         *Card
	HasEmbedding bool
	// Semantic is the raw cosine similarity. Only meaningful when HasEmbedding
	// is true and the digest still matches the card's current text.
	Semantic      float32
	ContentDigest string
}

// EmbeddingCoverage reports how many entities of one kind have a stored
// embedding, regardless of freshness.
type EmbeddingCoverage struct {
	Total         int32
	WithEmbedding int32
}

// Percentage returns coverage as 0-100.
func (c EmbeddingCoverage) Percentage() float64 {
	if c.Total == 0 {
		return 0
	}
	return float64(c.WithEmbedding) / float64(c.Total) * 100
}

func (s *Store) UpsertCardEmbedding(ctx context.Context, upsert *CardEmbedding) (*CardEmbedding, error) {
	return s.driver.UpsertCardEmbedding(ctx, upsert)
}

func (s *Store) GetCardEmbedding(ctx context.Context, cardID int32, model string) (*CardEmbedding, error) {
	return s.driver.GetCardEmbedding(ctx, cardID, model)
}

func (s *Store) DeleteCardEmbedding(ctx context.Context, cardID int32) error {
	return s.driver.DeleteCardEmbedding(ctx, cardID)
}

// ListCardEmbeddingDigests returns cardID -> stored content digest for a novel.
// Bulk refresh uses it to skip fresh cards without loading vectors.
func (s *Store) ListCardEmbeddingDigests(ctx context.Context, novelID int32, model string) (map[int32]string, error) {
	return s.driver.ListCardEmbeddingDigests(ctx, novelID, model)
}

// ScanCards returns ranking candidates for every card of the novel, with
// semantic scores where a stored vector exists.
func (s *Store) ScanCards(ctx context.Context, opts *CardScanOptions) ([]*CardCandidate, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	return s.driver.ScanCards(ctx, opts)
}

func (s *Store) CountCardEmbeddingCoverage(ctx context.Context, novelID int32, model string) (*EmbeddingCoverage, error) {
	return s.driver.CountCardEmbeddingCoverage(ctx, novelID, model)
}

// DeleteNovelEmbeddings drops every embedding row for a novel, both kinds.
// Used by administrative re-index; the entities themselves are untouched.
func (s *Store) DeleteNovelEmbeddings(ctx context.Context, novelID int32) error {
	return s.driver.DeleteNovelEmbeddings(ctx, novelID)
}
