package v1

import (
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/lithammer/shortuuid/v4"

	"github.com/fablecraft/fablecraft/engine/retrieval"
	"github.com/fablecraft/fablecraft/store"
)

type CardResponse struct {
	UID         string             `json:"uid"`
	NovelUID    string             `json:"novelUid"`
	Name        string             `json:"name"`
	Category    store.CardCategory `json:"category"`
	Description string             `json:"description"`
	Tags        []string           `json:"tags"`
	Pinned      bool               `json:"pinned"`
	SortOrder   int32              `json:"sortOrder"`
	CreatedTs   int64              `json:"createdTs"`
	UpdatedTs   int64              `json:"updatedTs"`
}

func convertCard(card *store.Card, novelUID string) *CardResponse {
	return &CardResponse{
		UID:         card.UID,
		NovelUID:    novelUID,
		Name:        card.Name,
		Category:    card.Category,
		Description: card.Description,
		Tags:        card.Tags,
		Pinned:      card.Pinned,
		SortOrder:   card.SortOrder,
		CreatedTs:   card.CreatedTs,
		UpdatedTs:   card.UpdatedTs,
	}
}

type CreateCardRequest struct {
	Name        string   `json:"name"`
	Category    string   `json:"category"`
	Description string   `json:"description"`
	Tags        []string `json:"tags"`
	Pinned      bool     `json:"pinned"`
	SortOrder   int32    `json:"sortOrder"`
}

// CreateCard creates a card and schedules its embedding in the background.
// The write itself never waits on the embedding provider.
func (s *APIV1Service) CreateCard(c echo.Context) error {
	ctx := c.Request().Context()
	novel, err := s.findNovelByUID(c)
	if err != nil {
		return errorResponse(c, err)
	}

	request := &CreateCardRequest{}
	if err := c.Bind(request); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed request body")
	}
	if strings.TrimSpace(request.Name) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "name is required")
	}
	category := store.CardCategory(request.Category)
	if !category.Valid() {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid category")
	}

	now := time.Now().Unix()
	card, err := s.Store.CreateCard(ctx, &store.Card{
		UID:         shortuuid.New(),
		NovelID:     novel.ID,
		Name:        request.Name,
		Category:    category,
		Description: request.Description,
		Tags:        request.Tags,
		Pinned:      request.Pinned,
		SortOrder:   request.SortOrder,
		CreatedTs:   now,
		UpdatedTs:   now,
	})
	if err != nil {
		return errorResponse(c, err)
	}

	s.Engine.Sync.ScheduleCardRefresh(card.ID)
	return c.JSON(http.StatusCreated, convertCard(card, novel.UID))
}

func (s *APIV1Service) ListCards(c echo.Context) error {
	novel, err := s.findNovelByUID(c)
	if err != nil {
		return errorResponse(c, err)
	}

	cards, err := s.Store.ListCards(c.Request().Context(), &store.FindCard{NovelID: &novel.ID})
	if err != nil {
		return errorResponse(c, err)
	}
	response := make([]*CardResponse, 0, len(cards))
	for _, card := range cards {
		response = append(response, convertCard(card, novel.UID))
	}
	return c.JSON(http.StatusOK, response)
}

type UpdateCardRequest struct {
	Name        *string  `json:"name"`
	Category    *string  `json:"category"`
	Description *string  `json:"description"`
	Tags        []string `json:"tags"`
	Pinned      *bool    `json:"pinned"`
	SortOrder   *int32   `json:"sortOrder"`
}

// UpdateCard applies a partial update. Content edits schedule a background
// re-embed; until it lands, search serves the card on lexical matching.
func (s *APIV1Service) UpdateCard(c echo.Context) error {
	ctx := c.Request().Context()
	uid := c.Param("uid")
	card, err := s.Store.GetCard(ctx, &store.FindCard{UID: &uid})
	if err != nil {
		return errorResponse(c, err)
	}

	request := &UpdateCardRequest{}
	if err := c.Bind(request); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed request body")
	}

	update := &store.UpdateCard{
		ID:          card.ID,
		Name:        request.Name,
		Description: request.Description,
		Tags:        request.Tags,
		Pinned:      request.Pinned,
		SortOrder:   request.SortOrder,
	}
	if request.Category != nil {
		category := store.CardCategory(*request.Category)
		if !category.Valid() {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid category")
		}
		update.Category = &category
	}
	now := time.Now().Unix()
	update.UpdatedTs = &now

	updated, err := s.Store.UpdateCard(ctx, update)
	if err != nil {
		return errorResponse(c, err)
	}

	s.Engine.Sync.ScheduleCardRefresh(updated.ID)

	novel, err := s.Store.GetNovel(ctx, &store.FindNovel{ID: &updated.NovelID})
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(http.StatusOK, convertCard(updated, novel.UID))
}

func (s *APIV1Service) DeleteCard(c echo.Context) error {
	ctx := c.Request().Context()
	uid := c.Param("uid")
	card, err := s.Store.GetCard(ctx, &store.FindCard{UID: &uid})
	if err != nil {
		return errorResponse(c, err)
	}
	if err := s.Store.DeleteCard(ctx, card.ID); err != nil {
		return errorResponse(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

type ScheduleRefreshResponse struct {
	Scheduled bool `json:"scheduled"`
}

// RefreshCard schedules a background re-embed for one card. Returns 202
// immediately; a failed refresh leaves the previous embedding in place.
func (s *APIV1Service) RefreshCard(c echo.Context) error {
	uid := c.Param("uid")
	card, err := s.Store.GetCard(c.Request().Context(), &store.FindCard{UID: &uid})
	if err != nil {
		return errorResponse(c, err)
	}

	s.Engine.Sync.ScheduleCardRefresh(card.ID)
	return c.JSON(http.StatusAccepted, &ScheduleRefreshResponse{Scheduled: true})
}

type SearchRequest struct {
	Query     string   `json:"query"`
	TopK      int      `json:"topK"`
	Threshold *float32 `json:"threshold"`
	// BeforeChapterSeq only applies to summary search.
	BeforeChapterSeq *int32 `json:"beforeChapterSeq"`
}

type SearchCardsResponse struct {
	Results []*retrieval.CardResult `json:"results"`
}

func (s *APIV1Service) SearchCards(c echo.Context) error {
	ctx := c.Request().Context()
	novel, err := s.findNovelByUID(c)
	if err != nil {
		return errorResponse(c, err)
	}

	request := &SearchRequest{}
	if err := c.Bind(request); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed request body")
	}
	if strings.TrimSpace(request.Query) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "query is required")
	}

	results, err := s.Engine.Retrieval.SearchCards(ctx, novel.ID, request.Query, retrieval.Options{
		TopK:      request.TopK,
		Threshold: request.Threshold,
	})
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(http.StatusOK, &SearchCardsResponse{Results: results})
}
