// Package normalize builds the canonical text an entity is embedded from, and
// the content digest used for staleness checks.
//
// Normalization is deterministic: identical field values always yield
// byte-identical output, so a digest mismatch means the embedded text really
// changed. Fields that do not contribute to meaning (sort order, pinned flag,
// timestamps) are excluded so that reordering a card never marks it stale.
package normalize

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/fablecraft/fablecraft/store"
)

// CardText builds the canonical embedded text for a card: name, description
// and tags with stable field ordering and separators.
func CardText(card *store.Card) string {
	var b strings.Builder
	b.WriteString("name: ")
	b.WriteString(strings.TrimSpace(card.Name))
	b.WriteString("\ndescription: ")
	b.WriteString(strings.TrimSpace(card.Description))
	b.WriteString("\ntags: ")
	tags := make([]string, 0, len(card.Tags))
	for _, tag := range card.Tags {
		tag = strings.TrimSpace(tag)
		if tag != "" {
			tags = append(tags, tag)
		}
	}
	b.WriteString(strings.Join(tags, ", "))
	return b.String()
}

// SummaryText builds the canonical embedded text for a chapter summary.
// Key points are display-only and deliberately excluded.
func SummaryText(summary *store.ChapterSummary) string {
	return strings.TrimSpace(summary.Summary)
}

// Digest returns the hex-encoded SHA-256 of the normalized text.
func Digest(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}
