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

type ChapterSummaryResponse struct {
	UID          string   `json:"uid"`
	NovelUID     string   `json:"novelUid"`
	ChapterID    int32    `json:"chapterId"`
	ChapterSeq   int32    `json:"chapterSeq"`
	ChapterTitle string   `json:"chapterTitle"`
	Summary      string   `json:"summary"`
	KeyPoints    []string `json:"keyPoints"`
	Pinned       bool     `json:"pinned"`
	CreatedTs    int64    `json:"createdTs"`
	UpdatedTs    int64    `json:"updatedTs"`
}

func convertChapterSummary(summary *store.ChapterSummary, novelUID string) *ChapterSummaryResponse {
	return &ChapterSummaryResponse{
		UID:          summary.UID,
		NovelUID:     novelUID,
		ChapterID:    summary.ChapterID,
		ChapterSeq:   summary.ChapterSeq,
		ChapterTitle: summary.ChapterTitle,
		Summary:      summary.Summary,
		KeyPoints:    summary.KeyPoints,
		Pinned:       summary.Pinned,
		CreatedTs:    summary.CreatedTs,
		UpdatedTs:    summary.UpdatedTs,
	}
}

type CreateChapterSummaryRequest struct {
	ChapterID    int32    `json:"chapterId"`
	ChapterSeq   int32    `json:"chapterSeq"`
	ChapterTitle string   `json:"chapterTitle"`
	Summary      string   `json:"summary"`
	KeyPoints    []string `json:"keyPoints"`
	Pinned       bool     `json:"pinned"`
}

// CreateChapterSummary creates a chapter summary and schedules its embedding.
func (s *APIV1Service) CreateChapterSummary(c echo.Context) error {
	ctx := c.Request().Context()
	novel, err := s.findNovelByUID(c)
	if err != nil {
		return errorResponse(c, err)
	}

	request := &CreateChapterSummaryRequest{}
	if err := c.Bind(request); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed request body")
	}
	if strings.TrimSpace(request.Summary) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "summary is required")
	}
	if request.ChapterSeq < 1 {
		return echo.NewHTTPError(http.StatusBadRequest, "chapterSeq must be >= 1")
	}

	now := time.Now().Unix()
	summary, err := s.Store.CreateChapterSummary(ctx, &store.ChapterSummary{
		UID:          shortuuid.New(),
		NovelID:      novel.ID,
		ChapterID:    request.ChapterID,
		ChapterSeq:   request.ChapterSeq,
		ChapterTitle: request.ChapterTitle,
		Summary:      request.Summary,
		KeyPoints:    request.KeyPoints,
		Pinned:       request.Pinned,
		CreatedTs:    now,
		UpdatedTs:    now,
	})
	if err != nil {
		return errorResponse(c, err)
	}

	s.Engine.Sync.ScheduleSummaryRefresh(summary.ID)
	return c.JSON(http.StatusCreated, convertChapterSummary(summary, novel.UID))
}

func (s *APIV1Service) ListChapterSummaries(c echo.Context) error {
	novel, err := s.findNovelByUID(c)
	if err != nil {
		return errorResponse(c, err)
	}

	summaries, err := s.Store.ListChapterSummaries(c.Request().Context(), &store.FindChapterSummary{NovelID: &novel.ID})
	if err != nil {
		return errorResponse(c, err)
	}
	response := make([]*ChapterSummaryResponse, 0, len(summaries))
	for _, summary := range summaries {
		response = append(response, convertChapterSummary(summary, novel.UID))
	}
	return c.JSON(http.StatusOK, response)
}

type UpdateChapterSummaryRequest struct {
	ChapterSeq   *int32   `json:"chapterSeq"`
	ChapterTitle *string  `json:"chapterTitle"`
	Summary      *string  `json:"summary"`
	KeyPoints    []string `json:"keyPoints"`
	Pinned       *bool    `json:"pinned"`
}

// UpdateChapterSummary applies a partial update and schedules a re-embed.
// Key-point edits alone never make the embedding stale.
func (s *APIV1Service) UpdateChapterSummary(c echo.Context) error {
	ctx := c.Request().Context()
	uid := c.Param("uid")
	summary, err := s.Store.GetChapterSummary(ctx, &store.FindChapterSummary{UID: &uid})
	if err != nil {
		return errorResponse(c, err)
	}

	request := &UpdateChapterSummaryRequest{}
	if err := c.Bind(request); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed request body")
	}
	if request.ChapterSeq != nil && *request.ChapterSeq < 1 {
		return echo.NewHTTPError(http.StatusBadRequest, "chapterSeq must be >= 1")
	}

	now := time.Now().Unix()
	updated, err := s.Store.UpdateChapterSummary(ctx, &store.UpdateChapterSummary{
		ID:           summary.ID,
		ChapterSeq:   request.ChapterSeq,
		ChapterTitle: request.ChapterTitle,
		Summary:      request.Summary,
		KeyPoints:    request.KeyPoints,
		Pinned:       request.Pinned,
		UpdatedTs:    &now,
	})
	if err != nil {
		return errorResponse(c, err)
	}

	s.Engine.Sync.ScheduleSummaryRefresh(updated.ID)

	novel, err := s.Store.GetNovel(ctx, &store.FindNovel{ID: &updated.NovelID})
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(http.StatusOK, convertChapterSummary(updated, novel.UID))
}

func (s *APIV1Service) DeleteChapterSummary(c echo.Context) error {
	ctx := c.Request().Context()
	uid := c.Param("uid")
	summary, err := s.Store.GetChapterSummary(ctx, &store.FindChapterSummary{UID: &uid})
	if err != nil {
		return errorResponse(c, err)
	}
	if err := s.Store.DeleteChapterSummary(ctx, summary.ID); err != nil {
		return errorResponse(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// RefreshChapterSummary schedules a background re-embed for one summary.
func (s *APIV1Service) RefreshChapterSummary(c echo.Context) error {
	uid := c.Param("uid")
	summary, err := s.Store.GetChapterSummary(c.Request().Context(), &store.FindChapterSummary{UID: &uid})
	if err != nil {
		return errorResponse(c, err)
	}

	s.Engine.Sync.ScheduleSummaryRefresh(summary.ID)
	return c.JSON(http.StatusAccepted, &ScheduleRefreshResponse{Scheduled: true})
}

type SearchSummariesResponse struct {
	Results []*retrieval.SummaryResult `json:"results"`
}

// SearchSummaries runs hybrid search over a novel's chapter summaries. A
// beforeChapterSeq in the request hides chapters at or past that position.
func (s *APIV1Service) SearchSummaries(c echo.Context) error {
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
	if request.BeforeChapterSeq != nil && *request.BeforeChapterSeq < 1 {
		return echo.NewHTTPError(http.StatusBadRequest, "beforeChapterSeq must be >= 1")
	}

	results, err := s.Engine.Retrieval.SearchSummaries(ctx, novel.ID, request.Query, retrieval.Options{
		TopK:             request.TopK,
		Threshold:        request.Threshold,
		BeforeChapterSeq: request.BeforeChapterSeq,
	})
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(http.StatusOK, &SearchSummariesResponse{Results: results})
}
