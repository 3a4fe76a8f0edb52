package v1

import (
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/lithammer/shortuuid/v4"

	"github.com/fablecraft/fablecraft/store"
)

type NovelResponse struct {
	UID       string `json:"uid"`
	Title     string `json:"title"`
	CreatedTs int64  `json:"createdTs"`
	UpdatedTs int64  `json:"updatedTs"`
}

func convertNovel(novel *store.Novel) *NovelResponse {
	return &NovelResponse{
		UID:       novel.UID,
		Title:     novel.Title,
		CreatedTs: novel.CreatedTs,
		UpdatedTs: novel.UpdatedTs,
	}
}

type CreateNovelRequest struct {
	Title string `json:"title"`
}

func (s *APIV1Service) CreateNovel(c echo.Context) error {
	ctx := c.Request().Context()
	request := &CreateNovelRequest{}
	if err := c.Bind(request); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed request body")
	}
	if strings.TrimSpace(request.Title) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "title is required")
	}

	now := time.Now().Unix()
	novel, err := s.Store.CreateNovel(ctx, &store.Novel{
		UID:       shortuuid.New(),
		Title:     strings.TrimSpace(request.Title),
		CreatedTs: now,
		UpdatedTs: now,
	})
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(http.StatusCreated, convertNovel(novel))
}

func (s *APIV1Service) ListNovels(c echo.Context) error {
	novels, err := s.Store.ListNovels(c.Request().Context(), &store.FindNovel{})
	if err != nil {
		return errorResponse(c, err)
	}
	response := make([]*NovelResponse, 0, len(novels))
	for _, novel := range novels {
		response = append(response, convertNovel(novel))
	}
	return c.JSON(http.StatusOK, response)
}

func (s *APIV1Service) GetNovel(c echo.Context) error {
	novel, err := s.findNovelByUID(c)
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(http.StatusOK, convertNovel(novel))
}

func (s *APIV1Service) DeleteNovel(c echo.Context) error {
	novel, err := s.findNovelByUID(c)
	if err != nil {
		return errorResponse(c, err)
	}
	if err := s.Store.DeleteNovel(c.Request().Context(), novel.ID); err != nil {
		return errorResponse(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

type RefreshNovelResponse struct {
	CardsTotal       int32 `json:"cardsTotal"`
	CardsUpdated     int32 `json:"cardsUpdated"`
	CardsFailed      int32 `json:"cardsFailed"`
	SummariesTotal   int32 `json:"summariesTotal"`
	SummariesUpdated int32 `json:"summariesUpdated"`
	SummariesFailed  int32 `json:"summariesFailed"`
}

// RefreshNovel re-embeds every stale entity of a novel and reports counts.
// The call is synchronous; large novels should use the request timeout to
// bound it.
func (s *APIV1Service) RefreshNovel(c echo.Context) error {
	novel, err := s.findNovelByUID(c)
	if err != nil {
		return errorResponse(c, err)
	}

	report, err := s.Engine.Sync.RefreshNovel(c.Request().Context(), novel.ID)
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(http.StatusOK, &RefreshNovelResponse{
		CardsTotal:       report.CardsTotal,
		CardsUpdated:     report.CardsUpdated,
		CardsFailed:      report.CardsFailed,
		SummariesTotal:   report.SummariesTotal,
		SummariesUpdated: report.SummariesUpdated,
		SummariesFailed:  report.SummariesFailed,
	})
}

type CoverageResponse struct {
	Total         int32   `json:"total"`
	WithEmbedding int32   `json:"withEmbedding"`
	Percentage    float64 `json:"percentage"`
}

type EmbeddingStatusResponse struct {
	Cards     CoverageResponse `json:"cards"`
	Summaries CoverageResponse `json:"summaries"`
}

func (s *APIV1Service) GetEmbeddingStatus(c echo.Context) error {
	novel, err := s.findNovelByUID(c)
	if err != nil {
		return errorResponse(c, err)
	}

	status, err := s.Engine.Retrieval.Status(c.Request().Context(), novel.ID)
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(http.StatusOK, &EmbeddingStatusResponse{
		Cards: CoverageResponse{
			Total:         status.Cards.Total,
			WithEmbedding: status.Cards.WithEmbedding,
			Percentage:    status.Cards.Percentage(),
		},
		Summaries: CoverageResponse{
			Total:         status.Summaries.Total,
			WithEmbedding: status.Summaries.WithEmbedding,
			Percentage:    status.Summaries.Percentage(),
		},
	})
}

// DeleteNovelEmbeddings drops all stored embeddings of a novel so the next
// refresh rebuilds them from scratch. Entities are untouched.
func (s *APIV1Service) DeleteNovelEmbeddings(c echo.Context) error {
	novel, err := s.findNovelByUID(c)
	if err != nil {
		return errorResponse(c, err)
	}
	if err := s.Store.DeleteNovelEmbeddings(c.Request().Context(), novel.ID); err != nil {
		return errorResponse(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}
