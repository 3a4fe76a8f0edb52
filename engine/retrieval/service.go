// Package retrieval serves document-scoped hybrid search over cards and
// chapter summaries, and reports embedding coverage.
package retrieval

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/fablecraft/fablecraft/engine/internal/strutil"
	"github.com/fablecraft/fablecraft/engine/metrics"
	"github.com/fablecraft/fablecraft/engine/normalize"
	"github.com/fablecraft/fablecraft/engine/rank"
	"github.com/fablecraft/fablecraft/store"
)

// snippetMaxRunes bounds the text excerpt returned with each result.
const snippetMaxRunes = 200

// Store is the persistence surface the service needs. *store.Store satisfies
// it; tests substitute fakes.
type Store interface {
	ScanCards(ctx context.Context, opts *store.CardScanOptions) ([]*store.CardCandidate, error)
	ScanSummaries(ctx context.Context, opts *store.SummaryScanOptions) ([]*store.SummaryCandidate, error)
	CountCardEmbeddingCoverage(ctx context.Context, novelID int32, model string) (*store.EmbeddingCoverage, error)
	CountSummaryEmbeddingCoverage(ctx context.Context, novelID int32, model string) (*store.EmbeddingCoverage, error)
}

// Embedder generates the query vector. *embedding.Provider satisfies it.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Model() string
}

// Options tune a single search call. Zero values take the ranking defaults.
type Options struct {
	TopK int
	// Threshold overrides the inclusive score cutoff when non-nil.
	Threshold *float32
	// BeforeChapterSeq restricts summary search to chapters strictly before the
	// given narrative position. Ignored for card search.
	BeforeChapterSeq *int32
}

// CardResult is one ranked card hit.
type CardResult struct {
	UID      string             `json:"uid"`
	Name     string             `json:"name"`
	Category store.CardCategory `json:"category"`
	Snippet  string             `json:"snippet"`
	Score    float32            `json:"score"`
	Kind     rank.MatchKind     `json:"kind"`
	Rank     int                `json:"rank"`
}

// SummaryResult is one ranked chapter summary hit.
type SummaryResult struct {
	UID          string         `json:"uid"`
	ChapterSeq   int32          `json:"chapterSeq"`
	ChapterTitle string         `json:"chapterTitle"`
	Snippet      string         `json:"snippet"`
	Score        float32        `json:"score"`
	Kind         rank.MatchKind `json:"kind"`
	Rank         int            `json:"rank"`
}

// EmbeddingStatus reports per-kind embedding coverage for a novel.
type EmbeddingStatus struct {
	Cards     store.EmbeddingCoverage
	Summaries store.EmbeddingCoverage
}

// Service answers search and status queries. It never mutates embeddings.
type Service struct {
	store    Store
	embedder Embedder
}

// NewService creates a retrieval service.
func NewService(searchStore Store, embedder Embedder) *Service {
	return &Service{store: searchStore, embedder: embedder}
}

// SearchCards runs a hybrid search over one novel's cards.
//
// When the query cannot be embedded the search degrades to lexical-only
// scoring instead of failing; the degradation is logged and counted.
func (s *Service) SearchCards(ctx context.Context, novelID int32, query string, opts Options) ([]*CardResult, error) {
	start := time.Now()
	defer func() {
		metrics.SearchDuration.WithLabelValues("card").Observe(time.Since(start).Seconds())
	}()

	query = strings.TrimSpace(query)
	if query == "" {
		return nil, errors.New("query must not be empty")
	}

	queryVector := s.embedQuery(ctx, query)

	candidates, err := s.store.ScanCards(ctx, &store.CardScanOptions{
		NovelID:     novelID,
		QueryVector: queryVector,
	})
	if err != nil {
		return nil, errors.Wrap(err, "scan cards")
	}

	cardsByUID := make(map[string]*store.Card, len(candidates))
	rankCandidates := make([]rank.Candidate, 0, len(candidates))
	for _, candidate := range candidates {
		card := candidate.Card
		cardsByUID[card.UID] = card
		text := normalize.CardText(card)
		rankCandidates = append(rankCandidates, rank.Candidate{
			ID:          card.UID,
			Text:        text,
			Semantic:    candidate.Semantic,
			HasSemantic: semanticUsable(queryVector, candidate.HasEmbedding, candidate.ContentDigest, text),
			Pinned:      card.Pinned,
			UpdatedTs:   card.UpdatedTs,
		})
	}

	ranked := rank.Rank(query, rankCandidates, s.rankOptions(opts))
	results := make([]*CardResult, 0, len(ranked))
	for _, r := range ranked {
		card := cardsByUID[r.ID]
		results = append(results, &CardResult{
			UID:      card.UID,
			Name:     card.Name,
			Category: card.Category,
			Snippet:  strutil.Truncate(card.Description, snippetMaxRunes),
			Score:    r.Score,
			Kind:     r.Kind,
			Rank:     r.Rank,
		})
	}
	return results, nil
}

// SearchSummaries runs a hybrid search over one novel's chapter summaries.
// A narrative cutoff in opts excludes later chapters before ranking, so
// future chapters can never displace eligible ones.
func (s *Service) SearchSummaries(ctx context.Context, novelID int32, query string, opts Options) ([]*SummaryResult, error) {
	start := time.Now()
	defer func() {
		metrics.SearchDuration.WithLabelValues("summary").Observe(time.Since(start).Seconds())
	}()

	query = strings.TrimSpace(query)
	if query == "" {
		return nil, errors.New("query must not be empty")
	}

	queryVector := s.embedQuery(ctx, query)

	candidates, err := s.store.ScanSummaries(ctx, &store.SummaryScanOptions{
		NovelID:          novelID,
		QueryVector:      queryVector,
		BeforeChapterSeq: opts.BeforeChapterSeq,
	})
	if err != nil {
		return nil, errors.Wrap(err, "scan summaries")
	}

	summariesByUID := make(map[string]*store.ChapterSummary, len(candidates))
	rankCandidates := make([]rank.Candidate, 0, len(candidates))
	for _, candidate := range candidates {
		summary := candidate.Summary
		summariesByUID[summary.UID] = summary
		text := normalize.SummaryText(summary)
		rankCandidates = append(rankCandidates, rank.Candidate{
			ID:          summary.UID,
			Text:        text,
			Semantic:    candidate.Semantic,
			HasSemantic: semanticUsable(queryVector, candidate.HasEmbedding, candidate.ContentDigest, text),
			Pinned:      summary.Pinned,
			UpdatedTs:   summary.UpdatedTs,
		})
	}

	ranked := rank.Rank(query, rankCandidates, s.rankOptions(opts))
	results := make([]*SummaryResult, 0, len(ranked))
	for _, r := range ranked {
		summary := summariesByUID[r.ID]
		results = append(results, &SummaryResult{
			UID:          summary.UID,
			ChapterSeq:   summary.ChapterSeq,
			ChapterTitle: summary.ChapterTitle,
			Snippet:      strutil.Truncate(summary.Summary, snippetMaxRunes),
			Score:        r.Score,
			Kind:         r.Kind,
			Rank:         r.Rank,
		})
	}
	return results, nil
}

// Status reports embedding coverage for both entity kinds of a novel.
func (s *Service) Status(ctx context.Context, novelID int32) (*EmbeddingStatus, error) {
	cards, err := s.store.CountCardEmbeddingCoverage(ctx, novelID, s.embedder.Model())
	if err != nil {
		return nil, errors.Wrap(err, "count card coverage")
	}
	summaries, err := s.store.CountSummaryEmbeddingCoverage(ctx, novelID, s.embedder.Model())
	if err != nil {
		return nil, errors.Wrap(err, "count summary coverage")
	}
	return &EmbeddingStatus{Cards: *cards, Summaries: *summaries}, nil
}

// embedQuery returns the query vector, or nil when the provider fails and the
// search must degrade to lexical-only scoring.
func (s *Service) embedQuery(ctx context.Context, query string) []float32 {
	vector, err := s.embedder.Embed(ctx, query)
	if err != nil {
		slog.Warn("query embedding failed, degrading to lexical search", "err", err)
		metrics.SearchDegradedTotal.Inc()
		return nil
	}
	return vector
}

// semanticUsable reports whether a candidate's stored semantic score may be
// used: the query was embedded, a stored vector exists, and the stored digest
// still matches the entity's current normalized text. A stale vector is
// ignored, not served.
func semanticUsable(queryVector []float32, hasEmbedding bool, storedDigest, currentText string) bool {
	return len(queryVector) > 0 && hasEmbedding && storedDigest == normalize.Digest(currentText)
}

func (s *Service) rankOptions(opts Options) rank.Options {
	rankOpts := rank.Options{TopK: opts.TopK, Threshold: rank.DefaultThreshold}
	if opts.Threshold != nil {
		rankOpts.Threshold = *opts.Threshold
	}
	return rankOpts
}
