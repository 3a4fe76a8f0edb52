// Package v1 implements the REST API.
package v1

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/fablecraft/fablecraft/engine"
	"github.com/fablecraft/fablecraft/internal/profile"
	"github.com/fablecraft/fablecraft/store"
)

type APIV1Service struct {
	Profile *profile.Profile
	Store   *store.Store
	Engine  *engine.Engine
}

func NewAPIV1Service(instanceProfile *profile.Profile, storeInstance *store.Store, eng *engine.Engine) *APIV1Service {
	return &APIV1Service{
		Profile: instanceProfile,
		Store:   storeInstance,
		Engine:  eng,
	}
}

// RegisterRoutes mounts the v1 API onto the echo server.
func (s *APIV1Service) RegisterRoutes(e *echo.Echo) {
	g := e.Group("/api/v1")

	g.POST("/novels", s.CreateNovel)
	g.GET("/novels", s.ListNovels)
	g.GET("/novels/:uid", s.GetNovel)
	g.DELETE("/novels/:uid", s.DeleteNovel)
	g.POST("/novels/:uid/refresh", s.RefreshNovel)
	g.GET("/novels/:uid/embeddings/status", s.GetEmbeddingStatus)
	g.DELETE("/novels/:uid/embeddings", s.DeleteNovelEmbeddings)

	g.POST("/novels/:uid/cards", s.CreateCard)
	g.GET("/novels/:uid/cards", s.ListCards)
	g.PATCH("/cards/:uid", s.UpdateCard)
	g.DELETE("/cards/:uid", s.DeleteCard)
	g.POST("/cards/:uid/refresh", s.RefreshCard)
	g.POST("/novels/:uid/cards/search", s.SearchCards)

	g.POST("/novels/:uid/summaries", s.CreateChapterSummary)
	g.GET("/novels/:uid/summaries", s.ListChapterSummaries)
	g.PATCH("/summaries/:uid", s.UpdateChapterSummary)
	g.DELETE("/summaries/:uid", s.DeleteChapterSummary)
	g.POST("/summaries/:uid/refresh", s.RefreshChapterSummary)
	g.POST("/novels/:uid/summaries/search", s.SearchSummaries)
}

// errorResponse maps store and validation errors onto HTTP statuses.
func errorResponse(c echo.Context, err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	}
	return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
}

func (s *APIV1Service) findNovelByUID(c echo.Context) (*store.Novel, error) {
	uid := c.Param("uid")
	return s.Store.GetNovel(c.Request().Context(), &store.FindNovel{UID: &uid})
}
