package postgres

import (
	"context"
	"database/sql"

	"github.com/pgvector/pgvector-go"
	"github.com/pkg/errors"

	"github.com/fablecraft/fablecraft/store"
)

// UpsertCardEmbedding inserts or replaces a card embedding.
func (d *DB) UpsertCardEmbedding(ctx context.Context, upsert *store.CardEmbedding) (*store.CardEmbedding, error) {
	stmt := `
		INSERT INTO card_embedding (card_id, novel_id, model, embedding, content_digest, created_ts, updated_ts)
		VALUES (` + placeholders(7) + `)
		ON CONFLICT (card_id, model)
		DO UPDATE SET
			embedding = EXCLUDED.embedding,
			content_digest = EXCLUDED.content_digest,
			updated_ts = EXCLUDED.updated_ts
		RETURNING id, created_ts, updated_ts
	`

	vector := pgvector.NewVector(upsert.Vector)
	err := d.db.QueryRowContext(ctx, stmt,
		upsert.CardID,
		upsert.NovelID,
		upsert.Model,
		vector,
		upsert.ContentDigest,
		upsert.CreatedTs,
		upsert.UpdatedTs,
	).Scan(&upsert.ID, &upsert.CreatedTs, &upsert.UpdatedTs)

	if err != nil {
		return nil, errors.Wrap(err, "failed to upsert card embedding")
	}

	return upsert, nil
}

// GetCardEmbedding returns the embedding of a card, or nil if none is stored.
func (d *DB) GetCardEmbedding(ctx context.Context, cardID int32, model string) (*store.CardEmbedding, error) {
	query := `
		SELECT id, card_id, novel_id, model, embedding, content_digest, created_ts, updated_ts
		FROM card_embedding
		WHERE card_id = ` + placeholder(1) + ` AND model = ` + placeholder(2)

	var embedding store.CardEmbedding
	var vector pgvector.Vector
	err := d.db.QueryRowContext(ctx, query, cardID, model).Scan(
		&embedding.ID,
		&embedding.CardID,
		&embedding.NovelID,
		&embedding.Model,
		&vector,
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

	embedding.Vector = vector.Slice()
	return &embedding, nil
}

func (d *DB) DeleteCardEmbedding(ctx context.Context, cardID int32) error {
	_, err := d.db.ExecContext(ctx, `DELETE FROM card_embedding WHERE card_id = `+placeholder(1), cardID)
	if err != nil {
		return errors.Wrap(err, "failed to delete card embedding")
	}
	return nil
}

// ListCardEmbeddingDigests returns cardID -> content digest for every card
// embedding of a novel. Vectors are not loaded.
func (d *DB) ListCardEmbeddingDigests(ctx context.Context, novelID int32, model string) (map[int32]string, error) {
	query := `
		SELECT card_id, content_digest
		FROM card_embedding
		WHERE novel_id = ` + placeholder(1) + ` AND model = ` + placeholder(2)

	rows, err := d.db.QueryContext(ctx, query, novelID, model)
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

// ScanCards returns ranking candidates for every card of a novel.
//
// The <=> operator computes cosine distance (1 - cosine_similarity), so the
// similarity is reconstructed in the SELECT. Cards without a stored embedding
// are still returned (LEFT JOIN) so the ranker can fall back to lexical
// scoring for them.
func (d *DB) ScanCards(ctx context.Context, opts *store.CardScanOptions) ([]*store.CardCandidate, error) {
	scoreExpr := "NULL"
	args := []any{opts.NovelID, d.profile.EmbeddingModel}
	if len(opts.QueryVector) > 0 {
		scoreExpr = "1 - (e.embedding <=> " + placeholder(3) + ")"
		args = append(args, pgvector.NewVector(opts.QueryVector))
	}
	args = append(args, opts.Limit)

	query := `
		SELECT
			c.id, c.uid, c.novel_id, c.name, c.category, c.description, c.tags, c.pinned, c.sort_order, c.created_ts, c.updated_ts,
			e.content_digest,
			CASE WHEN e.id IS NULL THEN NULL ELSE ` + scoreExpr + ` END AS score
		FROM card c
		LEFT JOIN card_embedding e ON c.id = e.card_id AND e.model = ` + placeholder(2) + `
		WHERE c.novel_id = ` + placeholder(1) + `
		ORDER BY c.updated_ts DESC
		LIMIT ` + placeholder(len(args))

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to scan cards")
	}
	defer rows.Close()

	candidates := []*store.CardCandidate{}
	for rows.Next() {
		candidate, err := scanCardCandidate(rows)
		if err != nil {
			return nil, err
		}
		candidates = append(candidates, candidate)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return candidates, nil
}

func scanCardCandidate(row rowScanner) (*store.CardCandidate, error) {
	var card store.Card
	var category, tagsJSON string
	var digest sql.NullString
	var score sql.NullFloat64

	if err := row.Scan(
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
		&score,
	); err != nil {
		return nil, errors.Wrap(err, "failed to scan card candidate")
	}

	card.Category = store.CardCategory(category)
	if err := jsonUnmarshalTags(tagsJSON, &card.Tags); err != nil {
		return nil, err
	}

	candidate := &store.CardCandidate{
		Card:         &card,
		HasEmbedding: digest.Valid,
	}
	if digest.Valid {
		candidate.ContentDigest = digest.String
	}
	if score.Valid {
		candidate.Semantic = float32(score.Float64)
	}
	return candidate, nil
}

// CountCardEmbeddingCoverage reports the card embedding coverage of a novel.
func (d *DB) CountCardEmbeddingCoverage(ctx context.Context, novelID int32, model string) (*store.EmbeddingCoverage, error) {
	query := `
		SELECT COUNT(c.id), COUNT(e.id)
		FROM card c
		LEFT JOIN card_embedding e ON c.id = e.card_id AND e.model = ` + placeholder(2) + `
		WHERE c.novel_id = ` + placeholder(1)

	var coverage store.EmbeddingCoverage
	if err := d.db.QueryRowContext(ctx, query, novelID, model).Scan(&coverage.Total, &coverage.WithEmbedding); err != nil {
		return nil, errors.Wrap(err, "failed to count card embedding coverage")
	}
	return &coverage, nil
}

// DeleteNovelEmbeddings drops all embedding rows of a novel, both kinds.
func (d *DB) DeleteNovelEmbeddings(ctx context.Context, novelID int32) error {
	if _, err := d.db.ExecContext(ctx, `DELETE FROM card_embedding WHERE novel_id = `+placeholder(1), novelID); err != nil {
		return errors.Wrap(err, "failed to delete card embeddings")
	}
	if _, err := d.db.ExecContext(ctx, `DELETE FROM summary_embedding WHERE novel_id = `+placeholder(1), novelID); err != nil {
		return errors.Wrap(err, "failed to delete summary embeddings")
	}
	return nil
}
