package normalize

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/fablecraft/fablecraft/store"
)

func TestCardTextDeterministic(t *testing.T) {
	card := &store.Card{
		Name:        "Aria",
		Description: "a brave knight",
		Tags:        []string{"knight", "protagonist"},
	}

	first := CardText(card)
	second := CardText(card)

	assert.Equal(t, first, second, "repeated calls with unchanged input must be byte-identical")
	assert.Equal(t, "name: Aria\ndescription: a brave knight\ntags: knight, protagonist", first)
}

func TestCardTextIgnoresNonContentFields(t *testing.T) {
	card := &store.Card{
		Name:        "Aria",
		Description: "a brave knight",
		Tags:        []string{"knight"},
		SortOrder:   1,
		Pinned:      false,
		UpdatedTs:   100,
	}
	before := Digest(CardText(card))

	// Changing sort order, pinning or timestamps must not change the digest.
	card.SortOrder = 42
	card.Pinned = true
	card.UpdatedTs = 9999

	assert.Equal(t, before, Digest(CardText(card)))
}

func TestCardTextChangesWithContentFields(t *testing.T) {
	card := &store.Card{Name: "Aria", Description: "a brave knight", Tags: []string{"knight"}}
	before := Digest(CardText(card))

	tests := []struct {
		name   string
		mutate func(c *store.Card)
	}{
		{"name change", func(c *store.Card) { c.Name = "Arya" }},
		{"description change", func(c *store.Card) { c.Description = "a fallen knight" }},
		{"tag change", func(c *store.Card) { c.Tags = []string{"knight", "villain"} }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mutated := &store.Card{Name: card.Name, Description: card.Description, Tags: append([]string{}, card.Tags...)}
			tt.mutate(mutated)
			assert.NotEqual(t, before, Digest(CardText(mutated)))
		})
	}
}

func TestCardTextTrimsFormattingNoise(t *testing.T) {
	clean := &store.Card{Name: "Aria", Description: "a brave knight", Tags: []string{"knight"}}
	noisy := &store.Card{Name: "  Aria ", Description: "a brave knight  ", Tags: []string{" knight ", ""}}

	assert.Equal(t, CardText(clean), CardText(noisy))
}

func TestSummaryTextExcludesKeyPoints(t *testing.T) {
	summary := &store.ChapterSummary{
		Summary:   "The knight leaves the castle.",
		KeyPoints: []string{"departure"},
	}
	before := Digest(SummaryText(summary))

	summary.KeyPoints = []string{"departure", "foreshadowing"}
	summary.ChapterTitle = "A New Road"

	assert.Equal(t, before, Digest(SummaryText(summary)))
	assert.Equal(t, "The knight leaves the castle.", SummaryText(summary))
}

func TestDigestStable(t *testing.T) {
	assert.Equal(t, Digest("abc"), Digest("abc"))
	assert.NotEqual(t, Digest("abc"), Digest("abd"))
	assert.Len(t, Digest(""), 64)
}
