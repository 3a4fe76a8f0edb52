package postgres

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
)

// Migrate applies the schema. Statements are idempotent so migration can run
// on every startup.
//
// The embedding columns use pgvector. Dimensionality is fixed per deployment
// (profile.EmbeddingDimensions); changing it requires dropping the embedding
// tables and re-indexing, which is safe because embeddings are a derived cache.
func (d *DB) Migrate(ctx context.Context) error {
	dim := d.profile.EmbeddingDimensions

	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		`CREATE TABLE IF NOT EXISTS novel (
			id SERIAL PRIMARY KEY,
			uid TEXT NOT NULL UNIQUE,
			title TEXT NOT NULL DEFAULT '',
			created_ts BIGINT NOT NULL,
			updated_ts BIGINT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS card (
			id SERIAL PRIMARY KEY,
			uid TEXT NOT NULL UNIQUE,
			novel_id INTEGER NOT NULL REFERENCES novel(id) ON DELETE CASCADE,
			name TEXT NOT NULL,
			category TEXT NOT NULL DEFAULT 'OTHER',
			description TEXT NOT NULL DEFAULT '',
			tags TEXT NOT NULL DEFAULT '[]',
			pinned BOOLEAN NOT NULL DEFAULT FALSE,
			sort_order INTEGER NOT NULL DEFAULT 0,
			created_ts BIGINT NOT NULL,
			updated_ts BIGINT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_card_novel_id ON card(novel_id)`,
		`CREATE TABLE IF NOT EXISTS chapter_summary (
			id SERIAL PRIMARY KEY,
			uid TEXT NOT NULL UNIQUE,
			novel_id INTEGER NOT NULL REFERENCES novel(id) ON DELETE CASCADE,
			chapter_id INTEGER NOT NULL,
			chapter_seq INTEGER NOT NULL,
			chapter_title TEXT NOT NULL DEFAULT '',
			summary TEXT NOT NULL DEFAULT '',
			key_points TEXT NOT NULL DEFAULT '[]',
			pinned BOOLEAN NOT NULL DEFAULT FALSE,
			created_ts BIGINT NOT NULL,
			updated_ts BIGINT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_chapter_summary_novel_seq ON chapter_summary(novel_id, chapter_seq)`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS card_embedding (
			id SERIAL PRIMARY KEY,
			card_id INTEGER NOT NULL REFERENCES card(id) ON DELETE CASCADE,
			novel_id INTEGER NOT NULL REFERENCES novel(id) ON DELETE CASCADE,
			model TEXT NOT NULL,
			embedding vector(%d) NOT NULL,
			content_digest TEXT NOT NULL,
			created_ts BIGINT NOT NULL,
			updated_ts BIGINT NOT NULL,
			UNIQUE(card_id, model)
		)`, dim),
		`CREATE INDEX IF NOT EXISTS idx_card_embedding_novel_id ON card_embedding(novel_id)`,
		`CREATE INDEX IF NOT EXISTS idx_card_embedding_card_id ON card_embedding(card_id)`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS summary_embedding (
			id SERIAL PRIMARY KEY,
			summary_id INTEGER NOT NULL REFERENCES chapter_summary(id) ON DELETE CASCADE,
			novel_id INTEGER NOT NULL REFERENCES novel(id) ON DELETE CASCADE,
			model TEXT NOT NULL,
			embedding vector(%d) NOT NULL,
			content_digest TEXT NOT NULL,
			created_ts BIGINT NOT NULL,
			updated_ts BIGINT NOT NULL,
			UNIQUE(summary_id, model)
		)`, dim),
		`CREATE INDEX IF NOT EXISTS idx_summary_embedding_novel_id ON summary_embedding(novel_id)`,
		`CREATE INDEX IF NOT EXISTS idx_summary_embedding_summary_id ON summary_embedding(summary_id)`,
	}

	for _, stmt := range stmts {
		if _, err := d.db.ExecContext(ctx, stmt); err != nil {
			return errors.Wrapf(err, "failed to migrate: %.80s", stmt)
		}
	}
	return nil
}
