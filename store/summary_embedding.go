package store

import (
	"context"

	"github.com/pkg/errors"
)

// SummaryEmbedding is the vector embedding of a chapter summary.
type SummaryEmbedding struct {
	ID            int32
	SummaryID     int32
	NovelID       int32
	Model         string
	Vector        []float32
	ContentDigest string
	CreatedTs     int64
	UpdatedTs     int64
}

// SummaryScanOptions selects summary candidates for ranking.
// BeforeChapterSeq, when set, excludes summaries whose chapter sequence is
// greater than or equal to the cutoff. The exclusion happens in the scan
// itself, before any ranking, so future chapters can never starve topK.
type SummaryScanOptions struct {
	NovelID          int32
	QueryVector      []float32
	BeforeChapterSeq *int32
	Limit            int
}

// Validate validates the SummaryScanOptions.
func (o *SummaryScanOptions) Validate() error {
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
	if o.BeforeChapterSeq != nil && *o.BeforeChapterSeq < 1 {
		return errors.Errorf("beforeChapterSeq must be >= 1: %d", *o.BeforeChapterSeq)
	}
	return nil
}

// SummaryCandidate is one row of a summary scan.
type SummaryCandidate struct {
	Summary       *ChapterSummary
	HasEmbedding  bool
	Semantic      float32
	ContentDigest string
}

func (s *Store) UpsertSummaryEmbedding(ctx context.Context, upsert *SummaryEmbedding) (*SummaryEmbedding, error) {
	return s.driver.UpsertSummaryEmbedding(ctx, upsert)
}

func (s *Store) GetSummaryEmbedding(ctx context.Context, summaryID int32, model string) (*SummaryEmbedding, error) {
	return s.driver.GetSummaryEmbedding(ctx, summaryID, model)
}

func (s *Store) DeleteSummaryEmbedding(ctx context.Context, summaryID int32) error {
	return s.driver.DeleteSummaryEmbedding(ctx, summaryID)
}

// ListSummaryEmbeddingDigests returns summaryID -> stored content digest for a novel.
func (s *Store) ListSummaryEmbeddingDigests(ctx context.Context, novelID int32, model string) (map[int32]string, error) {
	return s.driver.ListSummaryEmbeddingDigests(ctx, novelID, model)
}

// ScanSummaries returns ranking candidates for the novel's chapter summaries,
// honoring the narrative cutoff.
func (s *Store) ScanSummaries(ctx context.Context, opts *SummaryScanOptions) ([]*SummaryCandidate, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	return s.driver.ScanSummaries(ctx, opts)
}

func (s *Store) CountSummaryEmbeddingCoverage(ctx context.Context, novelID int32, model string) (*EmbeddingCoverage, error) {
	return s.driver.CountSummaryEmbeddingCoverage(ctx, novelID, model)
}
