package rank

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRankPinnedWinsTies(t *testing.T) {
	candidates := []Candidate{
		{ID: "plain", Text: "knight", Semantic: 0.8, HasSemantic: true, UpdatedTs: 200},
		{ID: "pinned", Text: "knight", Semantic: 0.8, HasSemantic: true, Pinned: true, UpdatedTs: 100},
	}

	results := Rank("knight", candidates, Options{TopK: 2, Threshold: 0.3})

	require.Len(t, results, 2)
	assert.Equal(t, "pinned", results[0].ID, "pinned candidate must precede non-pinned at equal score")
	assert.Equal(t, "plain", results[1].ID)
	assert.Equal(t, 1, results[0].Rank)
	assert.Equal(t, 2, results[1].Rank)
}

func TestRankRecencyBreaksRemainingTies(t *testing.T) {
	candidates := []Candidate{
		{ID: "older", Text: "knight", Semantic: 0.7, HasSemantic: true, UpdatedTs: 100},
		{ID: "newer", Text: "knight", Semantic: 0.7, HasSemantic: true, UpdatedTs: 300},
	}

	results := Rank("knight", candidates, Options{TopK: 2, Threshold: 0.3})

	require.Len(t, results, 2)
	assert.Equal(t, "newer", results[0].ID)
}

func TestRankThresholdIsInclusive(t *testing.T) {
	const epsilon = 0.0001
	candidates := []Candidate{
		{ID: "at", Semantic: 0.3, HasSemantic: true},
		{ID: "below", Semantic: 0.3 - epsilon, HasSemantic: true},
	}

	results := Rank("anything", candidates, Options{TopK: 10, Threshold: 0.3})

	require.Len(t, results, 1)
	assert.Equal(t, "at", results[0].ID, "score exactly at threshold is included, one epsilon below is not")
}

func TestRankMatchKinds(t *testing.T) {
	candidates := []Candidate{
		{ID: "hybrid", Text: "a brave knight", Semantic: 0.9, HasSemantic: true},
		{ID: "semantic", Text: "a legendary sword", Semantic: 0.8, HasSemantic: true},
		{ID: "lexical", Text: "the knight rides at dawn"},
	}

	results := Rank("knight", candidates, Options{TopK: 10, Threshold: 0.2})

	require.Len(t, results, 3)
	kinds := map[string]MatchKind{}
	for _, r := range results {
		kinds[r.ID] = r.Kind
	}
	assert.Equal(t, MatchHybrid, kinds["hybrid"])
	assert.Equal(t, MatchSemantic, kinds["semantic"])
	assert.Equal(t, MatchLexical, kinds["lexical"])
}

func TestRankLexicalFallbackForStaleCandidates(t *testing.T) {
	// Candidates without a fresh embedding score on lexical overlap only.
	candidates := []Candidate{
		{ID: "stale", Text: "knight sword armor"},
	}

	results := Rank("knight sword", candidates, Options{TopK: 5, Threshold: 0.3})

	require.Len(t, results, 1)
	assert.Equal(t, MatchLexical, results[0].Kind)
	assert.InDelta(t, 1.0, float64(results[0].Score), 0.0001, "both query tokens are contained")
}

func TestRankKnightSwordScenario(t *testing.T) {
	// Document with "Aria" (a brave knight) and "Dragon Blade" (a legendary
	// sword); the query matches each on a different token.
	candidates := []Candidate{
		{ID: "aria", Text: "name: Aria\ndescription: a brave knight\ntags: ", Semantic: 0.62, HasSemantic: true, UpdatedTs: 10},
		{ID: "dragon-blade", Text: "name: Dragon Blade\ndescription: a legendary sword\ntags: "},
	}

	results := Rank("knight sword", candidates, Options{TopK: 2, Threshold: 0.3})

	require.Len(t, results, 2)
	assert.Equal(t, "aria", results[0].ID)
	assert.Equal(t, MatchHybrid, results[0].Kind)
	assert.Equal(t, "dragon-blade", results[1].ID)
	assert.Equal(t, MatchLexical, results[1].Kind)
	assert.InDelta(t, 0.5, float64(results[1].Score), 0.0001)
}

func TestRankTopKTruncation(t *testing.T) {
	candidates := []Candidate{
		{ID: "a", Semantic: 0.9, HasSemantic: true},
		{ID: "b", Semantic: 0.8, HasSemantic: true},
		{ID: "c", Semantic: 0.7, HasSemantic: true},
	}

	results := Rank("query", candidates, Options{TopK: 2, Threshold: 0.3})

	require.Len(t, results, 2)
	assert.Equal(t, "a", results[0].ID)
	assert.Equal(t, "b", results[1].ID)
}

func TestRankDeduplicatesByID(t *testing.T) {
	candidates := []Candidate{
		{ID: "dup", Semantic: 0.5, HasSemantic: true},
		{ID: "dup", Semantic: 0.9, HasSemantic: true},
	}

	results := Rank("query", candidates, Options{TopK: 10, Threshold: 0.3})

	require.Len(t, results, 1)
	assert.InDelta(t, 0.9, float64(results[0].Score), 0.0001, "higher-scoring duplicate wins")
}

func TestRankDefaults(t *testing.T) {
	candidates := make([]Candidate, 0, 10)
	for i := 0; i < 10; i++ {
		candidates = append(candidates, Candidate{ID: string(rune('a' + i)), Semantic: 0.9, HasSemantic: true})
	}

	results := Rank("query", candidates, Options{})

	assert.Len(t, results, DefaultTopK)
}

func TestTokenize(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []string
	}{
		{"simple words", "Knight Sword", []string{"knight", "sword"}},
		{"punctuation split", "knight, sword!", []string{"knight", "sword"}},
		{"empty", "", nil},
		{"digits kept", "chapter 12", []string{"chapter", "12"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Tokenize(tt.input)
			if tt.want == nil {
				assert.Empty(t, got)
				return
			}
			assert.Equal(t, tt.want, got)
		})
	}
}
