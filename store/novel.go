package store

import (
	"context"

	"github.com/pkg/errors"
)

// ErrNotFound is returned when a requested entity or novel does not exist.
var ErrNotFound = errors.New("not found")

// Novel is the parent aggregate that owns cards and chapter summaries.
// Deleting a novel cascades to its entities and their embeddings.
type Novel struct {
	ID        int32
	UID       string
	Title     string
	CreatedTs int64
	UpdatedTs int64
}

// FindNovel is the find condition for novels.
type FindNovel struct {
	ID  *int32
	UID *string
}

func (s *Store) CreateNovel(ctx context.Context, create *Novel) (*Novel, error) {
	return s.driver.CreateNovel(ctx, create)
}

func (s *Store) GetNovel(ctx context.Context, find *FindNovel) (*Novel, error) {
	list, err := s.driver.ListNovels(ctx, find)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, errors.Wrap(ErrNotFound, "novel")
	}
	return list[0], nil
}

func (s *Store) ListNovels(ctx context.Context, find *FindNovel) ([]*Novel, error) {
	return s.driver.ListNovels(ctx, find)
}

func (s *Store) DeleteNovel(ctx context.Context, id int32) error {
	return s.driver.DeleteNovel(ctx, id)
}
