package sqlite

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/pkg/errors"

	"github.com/fablecraft/fablecraft/store"
)

func (d *DB) CreateChapterSummary(ctx context.Context, create *store.ChapterSummary) (*store.ChapterSummary, error) {
	keyPointsJSON, err := json.Marshal(create.KeyPoints)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal key points")
	}

	stmt := `INSERT INTO chapter_summary (uid, novel_id, chapter_id, chapter_seq, chapter_title, summary, key_points, pinned, created_ts, updated_ts)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id`
	if err := d.db.QueryRowContext(ctx, stmt,
		create.UID,
		create.NovelID,
		create.ChapterID,
		create.ChapterSeq,
		create.ChapterTitle,
		create.Summary,
		string(keyPointsJSON),
		create.Pinned,
		create.CreatedTs,
		create.UpdatedTs,
	).Scan(&create.ID); err != nil {
		return nil, errors.Wrap(err, "failed to create chapter summary")
	}
	return create, nil
}

func (d *DB) ListChapterSummaries(ctx context.Context, find *store.FindChapterSummary) ([]*store.ChapterSummary, error) {
	where, args := []string{"1 = 1"}, []any{}

	if find.ID != nil {
		where, args = append(where, "id = ?"), append(args, *find.ID)
	}
	if find.UID != nil {
		where, args = append(where, "uid = ?"), append(args, *find.UID)
	}
	if find.NovelID != nil {
		where, args = append(where, "novel_id = ?"), append(args, *find.NovelID)
	}
	if find.ChapterID != nil {
		where, args = append(where, "chapter_id = ?"), append(args, *find.ChapterID)
	}

	query := `SELECT id, uid, novel_id, chapter_id, chapter_seq, chapter_title, summary, key_points, pinned, created_ts, updated_ts
		FROM chapter_summary
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY chapter_seq ASC`

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list chapter summaries")
	}
	defer rows.Close()

	list := []*store.ChapterSummary{}
	for rows.Next() {
		summary, err := scanChapterSummary(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, summary)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return list, nil
}

func (d *DB) UpdateChapterSummary(ctx context.Context, update *store.UpdateChapterSummary) (*store.ChapterSummary, error) {
	set, args := []string{}, []any{}

	if update.ChapterSeq != nil {
		set, args = append(set, "chapter_seq = ?"), append(args, *update.ChapterSeq)
	}
	if update.ChapterTitle != nil {
		set, args = append(set, "chapter_title = ?"), append(args, *update.ChapterTitle)
	}
	if update.Summary != nil {
		set, args = append(set, "summary = ?"), append(args, *update.Summary)
	}
	if update.KeyPoints != nil {
		keyPointsJSON, err := json.Marshal(update.KeyPoints)
		if err != nil {
			return nil, errors.Wrap(err, "failed to marshal key points")
		}
		set, args = append(set, "key_points = ?"), append(args, string(keyPointsJSON))
	}
	if update.Pinned != nil {
		set, args = append(set, "pinned = ?"), append(args, *update.Pinned)
	}
	if update.UpdatedTs != nil {
		set, args = append(set, "updated_ts = ?"), append(args, *update.UpdatedTs)
	}
	if len(set) == 0 {
		return nil, errors.New("no fields to update")
	}

	args = append(args, update.ID)
	stmt := `UPDATE chapter_summary
		SET ` + strings.Join(set, ", ") + `
		WHERE id = ?
		RETURNING id, uid, novel_id, chapter_id, chapter_seq, chapter_title, summary, key_points, pinned, created_ts, updated_ts`

	summary, err := scanChapterSummary(d.db.QueryRowContext(ctx, stmt, args...))
	if err != nil {
		return nil, errors.Wrap(err, "failed to update chapter summary")
	}
	return summary, nil
}

func (d *DB) DeleteChapterSummary(ctx context.Context, id int32) error {
	result, err := d.db.ExecContext(ctx, `DELETE FROM chapter_summary WHERE id = ?`, id)
	if err != nil {
		return errors.Wrap(err, "failed to delete chapter summary")
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return errors.Wrap(store.ErrNotFound, "chapter summary")
	}
	return nil
}

func scanChapterSummary(row rowScanner) (*store.ChapterSummary, error) {
	var summary store.ChapterSummary
	var keyPointsJSON string

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
	); err != nil {
		return nil, errors.Wrap(err, "failed to scan chapter summary")
	}

	if err := json.Unmarshal([]byte(keyPointsJSON), &summary.KeyPoints); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal key points")
	}
	return &summary, nil
}
