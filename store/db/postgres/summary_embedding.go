package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"

	"github.com/pgvector/pgvector-go"
	"github.com/pkg/errors"

	"github.com/fablecraft/fablecraft/store"
)

// UpsertSummaryEmbedding inserts or replaces a chapter summary embedding.
func (d *DB) UpsertSummaryEmbedding(ctx context.Context, upsert *store.SummaryEmbedding) (*store.SummaryEmbedding, error) {
	stmt := `
		INSERT INTO summary_embedding (summary_id, novel_id, model, embedding, content_digest, created_ts, updated_ts)
		VALUES (` + placeholders(7) + `)
		ON CONFLICT (summary_id, model)
		DO UPDATE SET
			embedding = EXCLUDED.embedding,
			content_digest = EXCLUDED.content_digest,
			updated_ts = EXCLUDED.updated_ts
		RETURNING id, created_ts, updated_ts
	`

	vector := pgvector.NewVector(upsert.Vector)
	err := d.db.QueryRowContext(ctx, stmt,
		upsert.SummaryID,
		upsert.NovelID,
		upsert.Model,
		vector,
		upsert.ContentDigest,
		upsert.CreatedTs,
		upsert.UpdatedTs,
	).Scan(&upsert.ID, &upsert.CreatedTs, &upsert.UpdatedTs)

	if err != nil {
		return nil, errors.Wrap(err, "failed to upsert summary embedding")
	}

	return upsert, nil
}

// GetSummaryEmbedding returns the embedding of a chapter summary, or nil if none is stored.
func (d *DB) GetSummaryEmbedding(ctx context.Context, summaryID int32, model string) (*store.SummaryEmbedding, error) {
	query := `
		SELECT id, summary_id, novel_id, model, embedding, content_digest, created_ts, updated_ts
		FROM summary_embedding
		WHERE summary_id = ` + placeholder(1) + ` AND model = ` + placeholder(2)

	var embedding store.SummaryEmbedding
	var vector pgvector.Vector
	err := d.db.QueryRowContext(ctx, query, summaryID, model).Scan(
		&embedding.ID,
		&embedding.SummaryID,
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
		return nil, errors.Wrap(err, "failed to get summary embedding")
	}

	embedding.Vector = vector.Slice()
	return &embedding, nil
}

func (d *DB) DeleteSummaryEmbedding(ctx context.Context, summaryID int32) error {
	_, err := d.db.ExecContext(ctx, `DELETE FROM summary_embedding WHERE summary_id = `+placeholder(1), summaryID)
	if err != nil {
		return errors.Wrap(err, "failed to delete summary embedding")
	}
	return nil
}

// ListSummaryEmbeddingDigests returns summaryID -> content digest for a novel.
func (d *DB) ListSummaryEmbeddingDigests(ctx context.Context, novelID int32, model string) (map[int32]string, error) {
	query := `
		SELECT summary_id, content_digest
		FROM summary_embedding
		WHERE novel_id = ` + placeholder(1) + ` AND model = ` + placeholder(2)

	rows, err := d.db.QueryContext(ctx, query, novelID, model)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list summary embedding digests")
	}
	defer rows.Close()

	digests := map[int32]string{}
	for rows.Next() {
		var summaryID int32
		var digest string
		if err := rows.Scan(&summaryID, &digest); err != nil {
			return nil, errors.Wrap(err, "failed to scan summary embedding digest")
		}
		digests[summaryID] = digest
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return digests, nil
}

// ScanSummaries returns ranking candidates for a novel's chapter summaries.
// The narrative cutoff is part of the WHERE clause: summaries at or past
// BeforeChapterSeq never reach the ranker.
func (d *DB) ScanSummaries(ctx context.Context, opts *store.SummaryScanOptions) ([]*store.SummaryCandidate, error) {
	where := []string{"s.novel_id = " + placeholder(1)}
	args := []any{opts.NovelID, d.profile.EmbeddingModel}
	argIdx := 3

	scoreExpr := "NULL"
	if len(opts.QueryVector) > 0 {
		scoreExpr = "1 - (e.embedding <=> " + placeholder(argIdx) + ")"
		args = append(args, pgvector.NewVector(opts.QueryVector))
		argIdx++
	}
	if opts.BeforeChapterSeq != nil {
		where = append(where, "s.chapter_seq < "+placeholder(argIdx))
		args = append(args, *opts.BeforeChapterSeq)
		argIdx++
	}
	args = append(args, opts.Limit)

	query := `
		SELECT
			s.id, s.uid, s.novel_id, s.chapter_id, s.chapter_seq, s.chapter_title, s.summary, s.key_points, s.pinned, s.created_ts, s.updated_ts,
			e.content_digest,
			CASE WHEN e.id IS NULL THEN NULL ELSE ` + scoreExpr + ` END AS score
		FROM chapter_summary s
		LEFT JOIN summary_embedding e ON s.id = e.summary_id AND e.model = ` + placeholder(2) + `
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY s.chapter_seq DESC
		LIMIT ` + placeholder(argIdx)

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to scan summaries")
	}
	defer rows.Close()

	candidates := []*store.SummaryCandidate{}
	for rows.Next() {
		candidate, err := scanSummaryCandidate(rows)
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

func scanSummaryCandidate(row rowScanner) (*store.SummaryCandidate, error) {
	var summary store.ChapterSummary
	var keyPointsJSON string
	var digest sql.NullString
	var score sql.NullFloat64

	if err := row.Scan(
		&summary.ID,
		&summary.UID,
		&summary.NovelID,
		&summary.ChapterID,
		&summary.ChapterSeq,
		&summary.ChapterTitle,
		&summary.Summary,
		&keyPointsJSON,
		&summary.Pinned,
		&summary.CreatedTs,
		&summary.UpdatedTs,
		&digest,
		&score,
	); err != nil {
		return nil, errors.Wrap(err, "failed to scan summary candidate")
	}

	if err := json.Unmarshal([]byte(keyPointsJSON), &summary.KeyPoints); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal key points")
	}

	candidate := &store.SummaryCandidate{
		Summary:      &summary,
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

// CountSummaryEmbeddingCoverage reports the summary embedding coverage of a novel.
func (d *DB) CountSummaryEmbeddingCoverage(ctx context.Context, novelID int32, model string) (*store.EmbeddingCoverage, error) {
	query := `
		SELECT COUNT(s.id), COUNT(e.id)
		FROM chapter_summary s
		LEFT JOIN summary_embedding e ON s.id = e.summary_id AND e.model = ` + placeholder(2) + `
		WHERE s.novel_id = ` + placeholder(1)

	var coverage store.EmbeddingCoverage
	if err := d.db.QueryRowContext(ctx, query, novelID, model).Scan(&coverage.Total, &coverage.WithEmbedding); err != nil {
		return nil, errors.Wrap(err, "failed to count summary embedding coverage")
	}
	return &coverage, nil
}
