package postgres

import (
	"context"
	"strings"

	"github.com/pkg/errors"

	"github.com/fablecraft/fablecraft/store"
)

func (d *DB) CreateNovel(ctx context.Context, create *store.Novel) (*store.Novel, error) {
	stmt := `
		INSERT INTO novel (uid, title, created_ts, updated_ts)
		VALUES (` + placeholders(4) + `)
		RETURNING id
	`
	if err := d.db.QueryRowContext(ctx, stmt,
		create.UID,
		create.Title,
		create.CreatedTs,
		create.UpdatedTs,
	).Scan(&create.ID); err != nil {
		return nil, errors.Wrap(err, "failed to create novel")
	}
	return create, nil
}

func (d *DB) ListNovels(ctx context.Context, find *store.FindNovel) ([]*store.Novel, error) {
	where, args := []string{"1 = 1"}, []any{}

	if find.ID != nil {
		where, args = append(where, "id = "+placeholder(len(args)+1)), append(args, *find.ID)
	}
	if find.UID != nil {
		where, args = append(where, "uid = "+placeholder(len(args)+1)), append(args, *find.UID)
	}

	query := `
		SELECT id, uid, title, created_ts, updated_ts
		FROM novel
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY created_ts DESC
	`

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list novels")
	}
	defer rows.Close()

	list := []*store.Novel{}
	for rows.Next() {
		var novel store.Novel
		if err := rows.Scan(
			&novel.ID,
			&novel.UID,
			&novel.Title,
			&novel.CreatedTs,
			&novel.UpdatedTs,
		); err != nil {
			return nil, errors.Wrap(err, "failed to scan novel")
		}
		list = append(list, &novel)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return list, nil
}

func (d *DB) DeleteNovel(ctx context.Context, id int32) error {
	// Cards, summaries and embeddings cascade via foreign keys.
	result, err := d.db.ExecContext(ctx, `DELETE FROM novel WHERE id = `+placeholder(1), id)
	if err != nil {
		return errors.Wrap(err, "failed to delete novel")
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return errors.Wrap(store.ErrNotFound, "novel")
	}
	return nil
}
