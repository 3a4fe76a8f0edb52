package store

import (
	"context"

	"github.com/pkg/errors"
)

// ChapterSummary is the condensed recap of a single chapter, owned by a novel.
// ChapterSeq is the narrative position used for the search cutoff.
type ChapterSummary struct {
	ID           int32
	UID          string
	NovelID      int32
	ChapterID    int32
	ChapterSeq   int32
	ChapterTitle string
	Summary      string
	// KeyPoints are retained for display only and never contribute to the
	// embedded text.
	KeyPoints []string
	Pinned    bool
	CreatedTs int64
	UpdatedTs int64
}

// FindChapterSummary is the find condition for chapter summaries.
type FindChapterSummary struct {
	ID        *int32
	UID       *string
	NovelID   *int32
	ChapterID *int32
}

// UpdateChapterSummary holds the mutable fields of a chapter summary.
type UpdateChapterSummary struct {
	ID           int32
	ChapterSeq   *int32
	ChapterTitle *string
	Summary      *string
	KeyPoints    []string
	Pinned       *bool
	UpdatedTs    *int64
}

func (s *Store) CreateChapterSummary(ctx context.Context, create *ChapterSummary) (*ChapterSummary, error) {
	return s.driver.CreateChapterSummary(ctx, create)
}

func (s *Store) GetChapterSummary(ctx context.Context, find *FindChapterSummary) (*ChapterSummary, error) {
	list, err := s.driver.ListChapterSummaries(ctx, find)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, errors.Wrap(ErrNotFound, "chapter summary")
	}
	return list[0], nil
}

func (s *Store) ListChapterSummaries(ctx context.Context, find *FindChapterSummary) ([]*ChapterSummary, error) {
	return s.driver.ListChapterSummaries(ctx, find)
}

func (s *Store) UpdateChapterSummary(ctx context.Context, update *UpdateChapterSummary) (*ChapterSummary, error) {
	return s.driver.UpdateChapterSummary(ctx, update)
}

func (s *Store) DeleteChapterSummary(ctx context.Context, id int32) error {
	return s.driver.DeleteChapterSummary(ctx, id)
}
