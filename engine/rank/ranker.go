// Package rank combines vector similarity and lexical overlap into one
// ordered, thresholded result list.
package rank

import (
	"sort"
	"strings"
	"unicode"
)

// MatchKind tells which signals contributed to a result's score.
type MatchKind string

const (
	MatchSemantic MatchKind = "SEMANTIC"
	MatchLexical  MatchKind = "LEXICAL"
	MatchHybrid   MatchKind = "HYBRID"
)

// Default tuning constants. These are product-tuned values, not invariants;
// every call may override them.
const (
	DefaultTopK      = 5
	DefaultThreshold = 0.3
)

// Candidate is one entity to be ranked. Text is the entity's normalized text
// used for lexical scoring, independent of embedding freshness.
type Candidate struct {
	ID   string
	Text string

	// Semantic is the cosine similarity against the query vector. Only used
	// when HasSemantic is true, i.e. the candidate had a fresh embedding and
	// the query itself was embedded.
	Semantic    float32
	HasSemantic bool

	Pinned    bool
	UpdatedTs int64
}

// Options control thresholding and truncation.
type Options struct {
	TopK int
	// Threshold is the inclusive lower bound on the combined score.
	Threshold float32
}

// Result is a ranked candidate.
type Result struct {
	Candidate
	Score float32
	Kind  MatchKind
	Rank  int
}

// Rank scores, filters and orders candidates for a query.
//
// The combined score is the semantic score when a fresh embedding exists and
// the lexical score otherwise, so heavily edited entities degrade to lexical
// matching instead of disappearing. Ties break pinned-first, then most
// recently updated, then by ID for determinism.
func Rank(query string, candidates []Candidate, opts Options) []Result {
	if opts.TopK <= 0 {
		opts.TopK = DefaultTopK
	}

	queryTokens := Tokenize(query)

	// Deduplicate by ID, keeping the higher-scoring occurrence.
	best := map[string]Result{}
	for _, candidate := range candidates {
		lexical := lexicalOverlap(queryTokens, Tokenize(candidate.Text))

		var score float32
		var kind MatchKind
		switch {
		case candidate.HasSemantic && lexical > 0:
			score, kind = candidate.Semantic, MatchHybrid
		case candidate.HasSemantic:
			score, kind = candidate.Semantic, MatchSemantic
		default:
			score, kind = lexical, MatchLexical
		}

		if score < opts.Threshold {
			continue
		}

		result := Result{Candidate: candidate, Score: score, Kind: kind}
		if prev, ok := best[candidate.ID]; !ok || result.Score > prev.Score {
			best[candidate.ID] = result
		}
	}

	results := make([]Result, 0, len(best))
	for _, result := range best {
		results = append(results, result)
	}

	sort.Slice(results, func(i, j int) bool {
		a, b := results[i], results[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.Pinned != b.Pinned {
			return a.Pinned
		}
		if a.UpdatedTs != b.UpdatedTs {
			return a.UpdatedTs > b.UpdatedTs
		}
		return a.ID < b.ID
	})

	if len(results) > opts.TopK {
		results = results[:opts.TopK]
	}
	for i := range results {
		results[i].Rank = i + 1
	}
	return results
}

// Tokenize lowercases text and splits it on any non-letter/non-digit rune.
func Tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// lexicalOverlap is the fraction of distinct query tokens contained in the
// candidate's token set, in [0,1].
func lexicalOverlap(queryTokens, candidateTokens []string) float32 {
	if len(queryTokens) == 0 || len(candidateTokens) == 0 {
		return 0
	}

	candidateSet := make(map[string]struct{}, len(candidateTokens))
	for _, token := range candidateTokens {
		candidateSet[token] = struct{}{}
	}

	querySet := make(map[string]struct{}, len(queryTokens))
	for _, token := range queryTokens {
		querySet[token] = struct{}{}
	}

	matched := 0
	for token := range querySet {
		if _, ok := candidateSet[token]; ok {
			matched++
		}
	}
	return float32(matched) / float32(len(querySet))
}
