package retrieval

import (
	"context"
	"strings"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fablecraft/fablecraft/engine/embedding"
	"github.com/fablecraft/fablecraft/engine/normalize"
	"github.com/fablecraft/fablecraft/engine/rank"
	"github.com/fablecraft/fablecraft/store"
)

type fakeSearchStore struct {
	cardCandidates    []*store.CardCandidate
	summaryCandidates []*store.SummaryCandidate

	lastCardScan    *store.CardScanOptions
	lastSummaryScan *store.SummaryScanOptions

	cardCoverage    *store.EmbeddingCoverage
	summaryCoverage *store.EmbeddingCoverage
}

func (f *fakeSearchStore) ScanCards(_ context.Context, opts *store.CardScanOptions) ([]*store.CardCandidate, error) {
	f.lastCardScan = opts
	return f.cardCandidates, nil
}

func (f *fakeSearchStore) ScanSummaries(_ context.Context, opts *store.SummaryScanOptions) ([]*store.SummaryCandidate, error) {
	f.lastSummaryScan = opts
	var list []*store.SummaryCandidate
	for _, candidate := range f.summaryCandidates {
		if opts.BeforeChapterSeq != nil && candidate.Summary.ChapterSeq >= *opts.BeforeChapterSeq {
			continue
		}
		list = append(list, candidate)
	}
	return list, nil
}

func (f *fakeSearchStore) CountCardEmbeddingCoverage(context.Context, int32, string) (*store.EmbeddingCoverage, error) {
	return f.cardCoverage, nil
}

func (f *fakeSearchStore) CountSummaryEmbeddingCoverage(context.Context, int32, string) (*store.EmbeddingCoverage, error) {
	return f.summaryCoverage, nil
}

type fakeQueryEmbedder struct {
	vector []float32
	err    error
	calls  int
}

func (f *fakeQueryEmbedder) Embed(context.Context, string) ([]float32, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.vector, nil
}

func (f *fakeQueryEmbedder) Model() string { return "test-model" }

func cardCandidate(uid, name, description string, semantic float32, fresh bool) *store.CardCandidate {
	card := &store.Card{UID: uid, Name: name, Category: store.CardCategoryCharacter, Description: description}
	candidate := &store.CardCandidate{Card: card}
	if semantic > 0 {
		candidate.HasEmbedding = true
		candidate.Semantic = semantic
		candidate.ContentDigest = normalize.Digest(normalize.CardText(card))
		if !fresh {
			candidate.ContentDigest = "stale-digest"
		}
	}
	return candidate
}

func TestSearchCardsHybrid(t *testing.T) {
	fs := &fakeSearchStore{
		cardCandidates: []*store.CardCandidate{
			cardCandidate("aria", "Aria", "a brave knight of the realm", 0.82, true),
			cardCandidate("blade", "Dragon Blade", "a legendary sword", 0, false),
		},
	}
	embedder := &fakeQueryEmbedder{vector: []float32{0.1, 0.2}}
	service := NewService(fs, embedder)

	results, err := service.SearchCards(context.Background(), 7, "knight sword", Options{TopK: 5})

	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "aria", results[0].UID)
	assert.Equal(t, rank.MatchHybrid, results[0].Kind)
	assert.InDelta(t, 0.82, float64(results[0].Score), 0.0001)
	assert.Equal(t, 1, results[0].Rank)

	assert.Equal(t, "blade", results[1].UID)
	assert.Equal(t, rank.MatchLexical, results[1].Kind, "card without embedding matches lexically")

	require.NotNil(t, fs.lastCardScan)
	assert.EqualValues(t, 7, fs.lastCardScan.NovelID)
	assert.Equal(t, []float32{0.1, 0.2}, fs.lastCardScan.QueryVector)
}

func TestSearchCardsStaleEmbeddingFallsBackToLexical(t *testing.T) {
	fs := &fakeSearchStore{
		cardCandidates: []*store.CardCandidate{
			cardCandidate("aria", "Aria", "a brave knight", 0.95, false),
		},
	}
	service := NewService(fs, &fakeQueryEmbedder{vector: []float32{0.1}})

	results, err := service.SearchCards(context.Background(), 7, "knight", Options{})

	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, rank.MatchLexical, results[0].Kind, "stale vector must not contribute a semantic score")
	assert.InDelta(t, 1.0, float64(results[0].Score), 0.0001)
}

func TestSearchCardsDegradesWhenQueryEmbeddingFails(t *testing.T) {
	fs := &fakeSearchStore{
		cardCandidates: []*store.CardCandidate{
			cardCandidate("aria", "Aria", "a brave knight", 0.95, true),
		},
	}
	embedder := &fakeQueryEmbedder{err: errors.Wrap(embedding.ErrProviderUnavailable, "down")}
	service := NewService(fs, embedder)

	results, err := service.SearchCards(context.Background(), 7, "knight", Options{})

	require.NoError(t, err, "provider failure degrades the search, it does not fail it")
	require.Len(t, results, 1)
	assert.Equal(t, rank.MatchLexical, results[0].Kind)
	require.NotNil(t, fs.lastCardScan)
	assert.Nil(t, fs.lastCardScan.QueryVector, "no vector is passed to the scan when embedding failed")
}

func TestSearchCardsEmptyQuery(t *testing.T) {
	service := NewService(&fakeSearchStore{}, &fakeQueryEmbedder{})

	_, err := service.SearchCards(context.Background(), 7, "   ", Options{})

	require.Error(t, err)
}

func TestSearchCardsThresholdOverride(t *testing.T) {
	fs := &fakeSearchStore{
		cardCandidates: []*store.CardCandidate{
			cardCandidate("low", "Background Figure", "a minor presence", 0.2, true),
		},
	}
	service := NewService(fs, &fakeQueryEmbedder{vector: []float32{0.1}})

	results, err := service.SearchCards(context.Background(), 7, "unrelated", Options{})
	require.NoError(t, err)
	assert.Empty(t, results, "0.2 is below the default threshold")

	threshold := float32(0.1)
	results, err = service.SearchCards(context.Background(), 7, "unrelated", Options{Threshold: &threshold})
	require.NoError(t, err)
	assert.Len(t, results, 1)
}

func TestSearchCardsSnippetTruncation(t *testing.T) {
	long := strings.Repeat("a very long description ", 40)
	fs := &fakeSearchStore{
		cardCandidates: []*store.CardCandidate{
			cardCandidate("aria", "Aria", long, 0.9, true),
		},
	}
	service := NewService(fs, &fakeQueryEmbedder{vector: []float32{0.1}})

	results, err := service.SearchCards(context.Background(), 7, "description", Options{})

	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.LessOrEqual(t, len([]rune(results[0].Snippet)), snippetMaxRunes+3)
	assert.True(t, strings.HasSuffix(results[0].Snippet, "..."))
}

func summaryCandidate(uid string, seq int32, title, text string, semantic float32) *store.SummaryCandidate {
	summary := &store.ChapterSummary{UID: uid, ChapterSeq: seq, ChapterTitle: title, Summary: text}
	candidate := &store.SummaryCandidate{Summary: summary}
	if semantic > 0 {
		candidate.HasEmbedding = true
		candidate.Semantic = semantic
		candidate.ContentDigest = normalize.Digest(text)
	}
	return candidate
}

func TestSearchSummariesNarrativeCutoff(t *testing.T) {
	fs := &fakeSearchStore{
		summaryCandidates: []*store.SummaryCandidate{
			summaryCandidate("ch1", 1, "The Village", "Aria leaves the village.", 0.9),
			summaryCandidate("ch5", 5, "The Betrayal", "Aria is betrayed.", 0.95),
		},
	}
	service := NewService(fs, &fakeQueryEmbedder{vector: []float32{0.1}})

	cutoff := int32(5)
	results, err := service.SearchSummaries(context.Background(), 7, "Aria", Options{BeforeChapterSeq: &cutoff})

	require.NoError(t, err)
	require.Len(t, results, 1, "chapter at the cutoff is excluded")
	assert.Equal(t, "ch1", results[0].UID)
	assert.EqualValues(t, 1, results[0].ChapterSeq)
	require.NotNil(t, fs.lastSummaryScan)
	require.NotNil(t, fs.lastSummaryScan.BeforeChapterSeq)
	assert.EqualValues(t, 5, *fs.lastSummaryScan.BeforeChapterSeq)
}

func TestSearchSummariesNoCutoffReturnsAll(t *testing.T) {
	fs := &fakeSearchStore{
		summaryCandidates: []*store.SummaryCandidate{
			summaryCandidate("ch1", 1, "The Village", "Aria leaves the village.", 0.9),
			summaryCandidate("ch5", 5, "The Betrayal", "Aria is betrayed.", 0.95),
		},
	}
	service := NewService(fs, &fakeQueryEmbedder{vector: []float32{0.1}})

	results, err := service.SearchSummaries(context.Background(), 7, "Aria", Options{})

	require.NoError(t, err)
	assert.Len(t, results, 2)
	assert.Equal(t, "ch5", results[0].UID, "higher semantic score ranks first")
}

func TestStatus(t *testing.T) {
	fs := &fakeSearchStore{
		cardCoverage:    &store.EmbeddingCoverage{Total: 10, WithEmbedding: 8},
		summaryCoverage: &store.EmbeddingCoverage{Total: 4, WithEmbedding: 4},
	}
	service := NewService(fs, &fakeQueryEmbedder{})

	status, err := service.Status(context.Background(), 7)

	require.NoError(t, err)
	assert.EqualValues(t, 10, status.Cards.Total)
	assert.EqualValues(t, 8, status.Cards.WithEmbedding)
	assert.InDelta(t, 80.0, status.Cards.Percentage(), 0.001)
	assert.InDelta(t, 100.0, status.Summaries.Percentage(), 0.001)
}
