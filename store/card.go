package store

import (
	"context"

	"github.com/pkg/errors"
)

// CardCategory is the fixed enumerated set of world-building card categories.
type CardCategory string

const (
	CardCategoryCharacter CardCategory = "CHARACTER"
	CardCategoryLocation  CardCategory = "LOCATION"
	CardCategoryItem      CardCategory = "ITEM"
	CardCategoryFaction   CardCategory = "FACTION"
	CardCategoryConcept   CardCategory = "CONCEPT"
	CardCategoryEvent     CardCategory = "EVENT"
	CardCategoryOther     CardCategory = "OTHER"
)

// Valid reports whether the category is a member of the enumerated set.
func (c CardCategory) Valid() bool {
	switch c {
	case CardCategoryCharacter, CardCategoryLocation, CardCategoryItem,
		CardCategoryFaction, CardCategoryConcept, CardCategoryEvent, CardCategoryOther:
		return true
	}
	return false
}

// Card is a character/world-building entry owned by a novel.
type Card struct {
	ID          int32
	UID         string
	NovelID     int32
	Name        string
	Category    CardCategory
	Description string
	Tags        []string
	Pinned      bool
	SortOrder   int32
	CreatedTs   int64
	UpdatedTs   int64
}

// FindCard is the find condition for cards.
type FindCard struct {
	ID      *int32
	UID     *string
	NovelID *int32
}

// UpdateCard holds the mutable fields of a card. Nil fields are left unchanged.
type UpdateCard struct {
	ID          int32
	Name        *string
	Category    *CardCategory
	Description *string
	Tags        []string
	Pinned      *bool
	SortOrder   *int32
	UpdatedTs   *int64
}

func (s *Store) CreateCard(ctx context.Context, create *Card) (*Card, error) {
	if !create.Category.Valid() {
		return nil, errors.Errorf("invalid card category: %s", create.Category)
	}
	return s.driver.CreateCard(ctx, create)
}

func (s *Store) GetCard(ctx context.Context, find *FindCard) (*Card, error) {
	list, err := s.driver.ListCards(ctx, find)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, errors.Wrap(ErrNotFound, "card")
	}
	return list[0], nil
}

func (s *Store) ListCards(ctx context.Context, find *FindCard) ([]*Card, error) {
	return s.driver.ListCards(ctx, find)
}

func (s *Store) UpdateCard(ctx context.Context, update *UpdateCard) (*Card, error) {
	if update.Category != nil && !update.Category.Valid() {
		return nil, errors.Errorf("invalid card category: %s", *update.Category)
	}
	return s.driver.UpdateCard(ctx, update)
}

func (s *Store) DeleteCard(ctx context.Context, id int32) error {
	return s.driver.DeleteCard(ctx, id)
}
