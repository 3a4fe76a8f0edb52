package sqlite

import (
	"context"
	"database/sql"

	"github.com/pkg/errors"

	"github.com/fablecraft/fablecraft/store"
)

// UpsertCardEmbedding inserts or replaces a card embedding.
func (d *DB) UpsertCardEmbedding(ctx context.Context, upsert *store.CardEmbedding) (*store.CardEmbedding, error) {
	vectorBLOB, err := float32ArrayToBLOB(upsert.Vector, d.profile.EmbeddingDimensions)
	if err != nil {
		return nil, errors.Wrap(err, "failed to convert embedding vector to BLOB")
	}

	stmt := `INSERT INTO card_embedding (card_id, novel_id, model, embedding, content_digest, created_ts, updated_ts)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (card_id, model) DO UPDATE SET
			embedding = excluded.embedding,
			content_digest = excluded.content_digest,
			updated_ts = excluded.updated_ts
		RETURNING id, created_ts, updated_ts`

	if err := d.db.QueryRowContext(ctx, stmt,
		upsert.CardID,
		upsert.NovelID,
		upsert.Model,
		vectorBLOB,
		upsert.ContentDigest,
		upsert.CreatedTs,
		upsert.UpdatedTs,
	).Scan(&upsert.ID, &upsert.CreatedTs, &upsert.UpdatedTs); err != nil {
		return nil, errors.Wrap(err, "failed to upsert card embedding")
	}

	return upsert, nil
}

// GetCardEmbedding returns the embedding of a card, or nil if none is stored.
func (d *DB) GetCardEmbedding(ctx context.Context, cardID int32, model string) (*store.CardEmbedding, error) {
	query := `SELECT id, card_id, novel_id, model, embedding, content_digest, created_ts, updated_ts
		FROM card_embedding
		WHERE card_id = ? AND model = ?`

	var embedding store.CardEmbedding
	var vectorBLOB []byte
	err := d.db.QueryRowContext(ctx, query, cardID, model).Scan(
		&embedding.ID,
		&embedding.CardID,
		&embedding.NovelID,
		&embedding.Model,
		&vectorBLOB,
		&embedding.ContentDigest,
		&embedding.CreatedTs,
		&embedding.UpdatedTs,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get card embedding")
	}

	vector, err := blobToFloat32Array(vectorBLOB, d.profile.EmbeddingDimensions)
	if err != nil {
		return nil, errors.Wrap(err, "failed to convert embedding BLOB to array")
	}
	embedding.Vector = vector
	return &embedding, nil
}

func (d *DB) DeleteCardEmbedding(ctx context.Context, cardID int32) error {
	if _, err := d.db.ExecContext(ctx, `DELETE FROM card_embedding WHERE card_id = ?`, cardID); err != nil {
		return errors.Wrap(err, "failed to delete card embedding")
	}
	return nil
}

// ListCardEmbeddingDigests returns cardID -> content digest for a novel.
func (d *DB) ListCardEmbeddingDigests(ctx context.Context, novelID int32, model string) (map[int32]string, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT card_id, content_digest FROM card_embedding WHERE novel_id = ? AND model = ?`,
		novelID, model)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list card embedding digests")
	}
	defer rows.Close()

	digests := map[int32]string{}
	for rows.Next() {
		var cardID int32
		var digest string
		if err := rows.Scan(&cardID, &digest); err != nil {
			return nil, errors.Wrap(err, "failed to scan card embedding digest")
		}
		digests[cardID] = digest
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return digests, nil
}

// ScanCards returns ranking candidates for every card of a novel. Cosine
// similarity is computed in the application layer on the deserialized BLOBs.
func (d *DB) ScanCards(ctx context.Context, opts *store.CardScanOptions) ([]*store.CardCandidate, error) {
	// Without a query vector the BLOB would be fetched only to be discarded.
	embeddingColumn := "e.embedding"
	if len(opts.QueryVector) == 0 {
		embeddingColumn = "NULL"
	}

	query := `SELECT
			c.id, c.uid, c.novel_id, c.name, c.category, c.description, c.tags, c.pinned, c.sort_order, c.created_ts, c.updated_ts,
			e.content_digest, ` + embeddingColumn + `
		FROM card c
		LEFT JOIN card_embedding e ON c.id = e.card_id AND e.model = ?
		WHERE c.novel_id = ?
		ORDER BY c.updated_ts DESC
		LIMIT ?`

	rows, err := d.db.QueryContext(ctx, query, d.profile.EmbeddingModel, opts.NovelID, opts.Limit)
	if err != nil {
		return nil, errors.Wrap(err, "failed to scan cards")
	}
	defer rows.Close()

	candidates := []*store.CardCandidate{}
	for rows.Next() {
		var card store.Card
		var category, tagsJSON string
		var digest sql.NullString
		var vectorBLOB []byte

		if err := rows.Scan(
			&card.ID,
			&card.UID,
			&card.NovelID,
			&card.Name,
			&category,
			&card.Description,
			&tagsJSON,
			&card.Pinned,
			&card.SortOrder,
			&card.CreatedTs,
			&card.UpdatedTs,
			&digest,
			&vectorBLOB,
		); err != nil {
			return nil, errors.Wrap(err, "failed to scan card candidate")
		}

		card.Category = store.CardCategory(category)
		if err := unmarshalStringList(tagsJSON, &card.Tags); err != nil {
			return nil, err
		}

		candidate := &store.CardCandidate{
			Card:         &card,
			HasEmbedding: digest.Valid,
		}
		if digest.Valid {
			candidate.ContentDigest = digest.String
			if len(opts.QueryVector) > 0 {
				vector, err := blobToFloat32Array(vectorBLOB, d.profile.EmbeddingDimensions)
				if err != nil {
					return nil, errors.Wrap(err, "failed to convert embedding BLOB to array")
				}
				candidate.Semantic = cosineSimilarity(opts.QueryVector, vector)
			}
		}
		candidates = append(candidates, candidate)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return candidates, nil
}

// CountCardEmbeddingCoverage reports the card embedding coverage of a novel.
func (d *DB) CountCardEmbeddingCoverage(ctx context.Context, novelID int32, model string) (*store.EmbeddingCoverage, error) {
	query := `SELECT COUNT(c.id), COUNT(e.id)
		FROM card c
		LEFT JOIN card_embedding e ON c.id = e.card_id AND e.model = ?
		WHERE c.novel_id = ?`

	var coverage store.EmbeddingCoverage
	if err := d.db.QueryRowContext(ctx, query, model, novelID).Scan(&coverage.Total, &coverage.WithEmbedding); err != nil {
		return nil, errors.Wrap(err, "failed to count card embedding coverage")
	}
	return &coverage, nil
}

// DeleteNovelEmbeddings drops all embedding rows of a novel, both kinds.
func (d *DB) DeleteNovelEmbeddings(ctx context.Context, novelID int32) error {
	if _, err := d.db.ExecContext(ctx, `DELETE FROM card_embedding WHERE novel_id = ?`, novelID); err != nil {
		return errors.Wrap(err, "failed to delete card embeddings")
	}
	if _, err := d.db.ExecContext(ctx, `DELETE FROM summary_embedding WHERE novel_id = ?`, novelID); err != nil {
		return errors.Wrap(err, "failed to delete summary embeddings")
	}
	return nil
}
