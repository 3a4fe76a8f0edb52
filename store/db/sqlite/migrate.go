package sqlite

import (
	"context"

	"github.com/pkg/errors"
)

// Migrate applies the schema. Embedding vectors are BLOBs; there is no vector
// index, similarity is computed in Go at scan time.
func (d *DB) Migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS novel (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			uid TEXT NOT NULL UNIQUE,
			title TEXT NOT NULL DEFAULT '',
			created_ts BIGINT NOT NULL,
			updated_ts BIGINT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS card (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			uid TEXT NOT NULL UNIQUE,
			novel_id INTEGER NOT NULL REFERENCES novel(id) ON DELETE CASCADE,
			name TEXT NOT NULL,
			category TEXT NOT NULL DEFAULT 'OTHER',
			description TEXT NOT NULL DEFAULT '',
			tags TEXT NOT NULL DEFAULT '[]',
			pinned INTEGER NOT NULL DEFAULT 0,
			sort_order INTEGER NOT NULL DEFAULT 0,
			created_ts BIGINT NOT NULL,
			updated_ts BIGINT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_card_novel_id ON card(novel_id)`,
		`CREATE TABLE IF NOT EXISTS chapter_summary (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			uid TEXT NOT NULL UNIQUE,
			novel_id INTEGER NOT NULL REFERENCES novel(id) ON DELETE CASCADE,
			chapter_id INTEGER NOT NULL,
			chapter_seq INTEGER NOT NULL,
			chapter_title TEXT NOT NULL DEFAULT '',
			summary TEXT NOT NULL DEFAULT '',
			key_points TEXT NOT NULL DEFAULT '[]',
			pinned INTEGER NOT NULL DEFAULT 0,
			created_ts BIGINT NOT NULL,
			updated_ts BIGINT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_chapter_summary_novel_seq ON chapter_summary(novel_id, chapter_seq)`,
		`CREATE TABLE IF NOT EXISTS card_embedding (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			card_id INTEGER NOT NULL REFERENCES card(id) ON DELETE CASCADE,
			novel_id INTEGER NOT NULL REFERENCES novel(id) ON DELETE CASCADE,
			model TEXT NOT NULL,
			embedding BLOB NOT NULL,
			content_digest TEXT NOT NULL,
			created_ts BIGINT NOT NULL,
			updated_ts BIGINT NOT NULL,
			UNIQUE(card_id, model)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_card_embedding_novel_id ON card_embedding(novel_id)`,
		`CREATE TABLE IF NOT EXISTS summary_embedding (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			summary_id INTEGER NOT NULL REFERENCES chapter_summary(id) ON DELETE CASCADE,
			novel_id INTEGER NOT NULL REFERENCES novel(id) ON DELETE CASCADE,
			model TEXT NOT NULL,
			embedding BLOB NOT NULL,
			content_digest TEXT NOT NULL,
			created_ts BIGINT NOT NULL,
			updated_ts BIGINT NOT NULL,
			UNIQUE(summary_id, model)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_summary_embedding_novel_id ON summary_embedding(novel_id)`,
	}

	for _, stmt := range stmts {
		if _, err := d.db.ExecContext(ctx, stmt); err != nil {
			return errors.Wrapf(err, "failed to migrate: %.80s", stmt)
		}
	}
	return nil
}
