package sqlite

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/pkg/errors"

	"github.com/fablecraft/fablecraft/store"
)

func (d *DB) CreateCard(ctx context.Context, create *store.Card) (*store.Card, error) {
	tagsJSON, err := json.Marshal(create.Tags)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal card tags")
	}

	stmt := `INSERT INTO card (uid, novel_id, name, category, description, tags, pinned, sort_order, created_ts, updated_ts)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id`
	if err := d.db.QueryRowContext(ctx, stmt,
		create.UID,
		create.NovelID,
		create.Name,
		string(create.Category),
		create.Description,
		string(tagsJSON),
		create.Pinned,
		create.SortOrder,
		create.CreatedTs,
		create.UpdatedTs,
	).Scan(&create.ID); err != nil {
		return nil, errors.Wrap(err, "failed to create card")
	}
	return create, nil
}

func (d *DB) ListCards(ctx context.Context, find *store.FindCard) ([]*store.Card, error) {
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

	query := `SELECT id, uid, novel_id, name, category, description, tags, pinned, sort_order, created_ts, updated_ts
		FROM card
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY sort_order ASC, created_ts DESC`

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list cards")
	}
	defer rows.Close()

	list := []*store.Card{}
	for rows.Next() {
		card, err := scanCard(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, card)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return list, nil
}

func (d *DB) UpdateCard(ctx context.Context, update *store.UpdateCard) (*store.Card, error) {
	set, args := []string{}, []any{}

	if update.Name != nil {
		set, args = append(set, "name = ?"), append(args, *update.Name)
	}
	if update.Category != nil {
		set, args = append(set, "category = ?"), append(args, string(*update.Category))
	}
	if update.Description != nil {
		set, args = append(set, "description = ?"), append(args, *update.Description)
	}
	if update.Tags != nil {
		tagsJSON, err := json.Marshal(update.Tags)
		if err != nil {
			return nil, errors.Wrap(err, "failed to marshal card tags")
		}
		set, args = append(set, "tags = ?"), append(args, string(tagsJSON))
	}
	if update.Pinned != nil {
		set, args = append(set, "pinned = ?"), append(args, *update.Pinned)
	}
	if update.SortOrder != nil {
		set, args = append(set, "sort_order = ?"), append(args, *update.SortOrder)
	}
	if update.UpdatedTs != nil {
		set, args = append(set, "updated_ts = ?"), append(args, *update.UpdatedTs)
	}
	if len(set) == 0 {
		return nil, errors.New("no fields to update")
	}

	args = append(args, update.ID)
	stmt := `UPDATE card
		SET ` + strings.Join(set, ", ") + `
		WHERE id = ?
		RETURNING id, uid, novel_id, name, category, description, tags, pinned, sort_order, created_ts, updated_ts`

	card, err := scanCard(d.db.QueryRowContext(ctx, stmt, args...))
	if err != nil {
		return nil, errors.Wrap(err, "failed to update card")
	}
	return card, nil
}

func (d *DB) DeleteCard(ctx context.Context, id int32) error {
	result, err := d.db.ExecContext(ctx, `DELETE FROM card WHERE id = ?`, id)
	if err != nil {
		return errors.Wrap(err, "failed to delete card")
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return errors.Wrap(store.ErrNotFound, "card")
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCard(row rowScanner) (*store.Card, error) {
	var card store.Card
	var category string
	var tagsJSON string

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
	); err != nil {
		return nil, errors.Wrap(err, "failed to scan card")
	}

	card.Category = store.CardCategory(category)
	if err := json.Unmarshal([]byte(tagsJSON), &card.Tags); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal card tags")
	}
	return &card, nil
}
