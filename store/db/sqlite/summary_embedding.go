package sqlite

import (
	"context"
	"database/sql"
	"strings"

	"github.com/pkg/errors"

	"github.com/fablecraft/fablecraft/store"
)

// UpsertSummaryEmbedding inserts or replaces a chapter summary embedding.
func (d *DB) UpsertSummaryEmbedding(ctx context.Context, upsert *store.SummaryEmbedding) (*store.SummaryEmbedding, error) {
	vectorBLOB, err := float32ArrayToBLOB(upsert.Vector, d.profile.EmbeddingDimensions)
	if err != nil {
		return nil, errors.Wrap(err, "failed to convert embedding vector to BLOB")
	}

	stmt := `INSERT INTO summary_embedding (summary_id, novel_id, model, embedding, content_digest, created_ts, updated_ts)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (summary_id, model) DO UPDATE SET
			embedding = excluded.embedding,
			content_digest = excluded.content_digest,
			updated_ts = excluded.updated_ts
		RETURNING id, created_ts, updated_ts`

	if err := d.db.QueryRowContext(ctx, stmt,
		upsert.SummaryID,
		upsert.NovelID,
		upsert.Model,
		vectorBLOB,
		upsert.ContentDigest,
		upsert.CreatedTs,
		upsert.UpdatedTs,
	).Scan(&upsert.ID, &upsert.CreatedTs, &upsert.UpdatedTs); err != nil {
		return nil, errors.Wrap(err, "failed to upsert summary embedding")
	}

	return upsert, nil
}

// GetSummaryEmbedding returns the embedding of a chapter summary, or nil if none is stored.
func (d *DB) GetSummaryEmbedding(ctx context.Context, summaryID int32, model string) (*store.SummaryEmbedding, error) {
	query := `SELECT id, summary_id, novel_id, model, embedding, content_digest, created_ts, updated_ts
		FROM summary_embedding
		WHERE summary_id = ? AND model = ?`

	var embedding store.SummaryEmbedding
	var vectorBLOB []byte
	err := d.db.QueryRowContext(ctx, query, summaryID, model).Scan(
		&embedding.ID,
		&embedding.SummaryID,
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
		return nil, errors.Wrap(err, "failed to get summary embedding")
	}

	vector, err := blobToFloat32Array(vectorBLOB, d.profile.EmbeddingDimensions)
	if err != nil {
		return nil, errors.Wrap(err, "failed to convert embedding BLOB to array")
	}
	embedding.Vector = vector
	return &embedding, nil
}

func (d *DB) DeleteSummaryEmbedding(ctx context.Context, summaryID int32) error {
	if _, err := d.db.ExecContext(ctx, `DELETE FROM summary_embedding WHERE summary_id = ?`, summaryID); err != nil {
		return errors.Wrap(err, "failed to delete summary embedding")
	}
	return nil
}

// ListSummaryEmbeddingDigests returns summaryID -> content digest for a novel.
func (d *DB) ListSummaryEmbeddingDigests(ctx context.Context, novelID int32, model string) (map[int32]string, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT summary_id, content_digest FROM summary_embedding WHERE novel_id = ? AND model = ?`,
		novelID, model)
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
// The narrative cutoff is applied in the WHERE clause, before any ranking.
func (d *DB) ScanSummaries(ctx context.Context, opts *store.SummaryScanOptions) ([]*store.SummaryCandidate, error) {
	where, args := []string{"s.novel_id = ?"}, []any{d.profile.EmbeddingModel, opts.NovelID}
	if opts.BeforeChapterSeq != nil {
		where = append(where, "s.chapter_seq < ?")
		args = append(args, *opts.BeforeChapterSeq)
	}
	args = append(args, opts.Limit)

	// Without a query vector the BLOB would be fetched only to be discarded.
	embeddingColumn := "e.embedding"
	if len(opts.QueryVector) == 0 {
		embeddingColumn = "NULL"
	}

	query := `SELECT
			s.id, s.uid, s.novel_id, s.chapter_id, s.chapter_seq, s.chapter_title, s.summary, s.key_points, s.pinned, s.created_ts, s.updated_ts,
			e.content_digest, ` + embeddingColumn + `
		FROM chapter_summary s
		LEFT JOIN summary_embedding e ON s.id = e.summary_id AND e.model = ?
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY s.chapter_seq DESC
		LIMIT ?`

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to scan summaries")
	}
	defer rows.Close()

	candidates := []*store.SummaryCandidate{}
	for rows.Next() {
		var summary store.ChapterSummary
		var keyPointsJSON string
		var digest sql.NullString
		var vectorBLOB []byte

		if err := rows.Scan(
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
			&vectorBLOB,
		); err != nil {
			return nil, errors.Wrap(err, "failed to scan summary candidate")
		}

		if err := unmarshalStringList(keyPointsJSON, &summary.KeyPoints); err != nil {
			return nil, err
		}

		candidate := &store.SummaryCandidate{
			Summary:      &summary,
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

// CountSummaryEmbeddingCoverage reports the summary embedding coverage of a novel.
func (d *DB) CountSummaryEmbeddingCoverage(ctx context.Context, novelID int32, model string) (*store.EmbeddingCoverage, error) {
	query := `SELECT COUNT(s.id), COUNT(e.id)
		FROM chapter_summary s
		LEFT JOIN summary_embedding e ON s.id = e.summary_id AND e.model = ?
		WHERE s.novel_id = ?`

	var coverage store.EmbeddingCoverage
	if err := d.db.QueryRowContext(ctx, query, model, novelID).Scan(&coverage.Total, &coverage.WithEmbedding); err != nil {
		return nil, errors.Wrap(err, "failed to count summary embedding coverage")
	}
	return &coverage, nil
}
