package v1

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	gosync "sync"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fablecraft/fablecraft/engine"
	"github.com/fablecraft/fablecraft/internal/profile"
	"github.com/fablecraft/fablecraft/store"
)

// memoryDriver is an in-memory store.Driver for handler tests.
type memoryDriver struct {
	mu     gosync.Mutex
	nextID int32

	novels    map[int32]*store.Novel
	cards     map[int32]*store.Card
	summaries map[int32]*store.ChapterSummary

	cardEmbeddings    map[int32]*store.CardEmbedding
	summaryEmbeddings map[int32]*store.SummaryEmbedding
}

func newMemoryDriver() *memoryDriver {
	return &memoryDriver{
		novels:            map[int32]*store.Novel{},
		cards:             map[int32]*store.Card{},
		summaries:         map[int32]*store.ChapterSummary{},
		cardEmbeddings:    map[int32]*store.CardEmbedding{},
		summaryEmbeddings: map[int32]*store.SummaryEmbedding{},
	}
}

func (d *memoryDriver) id() int32 { d.nextID++; return d.nextID }

func (d *memoryDriver) GetDB() *sql.DB { return nil }
func (d *memoryDriver) Close() error   { return nil }

func (d *memoryDriver) Migrate(context.Context) error               { return nil }
func (d *memoryDriver) IsInitialized(context.Context) (bool, error) { return true, nil }

func (d *memoryDriver) CreateNovel(_ context.Context, create *store.Novel) (*store.Novel, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	create.ID = d.id()
	d.novels[create.ID] = create
	return create, nil
}

func (d *memoryDriver) ListNovels(_ context.Context, find *store.FindNovel) ([]*store.Novel, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	var list []*store.Novel
	for _, novel := range d.novels {
		if find.ID != nil && novel.ID != *find.ID {
			continue
		}
		if find.UID != nil && novel.UID != *find.UID {
			continue
		}
		list = append(list, novel)
	}
	return list, nil
}

func (d *memoryDriver) DeleteNovel(_ context.Context, id int32) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.novels, id)
	return nil
}

func (d *memoryDriver) CreateCard(_ context.Context, create *store.Card) (*store.Card, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	create.ID = d.id()
	d.cards[create.ID] = create
	return create, nil
}

func (d *memoryDriver) ListCards(_ context.Context, find *store.FindCard) ([]*store.Card, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	var list []*store.Card
	for _, card := range d.cards {
		if find.ID != nil && card.ID != *find.ID {
			continue
		}
		if find.UID != nil && card.UID != *find.UID {
			continue
		}
		if find.NovelID != nil && card.NovelID != *find.NovelID {
			continue
		}
		list = append(list, card)
	}
	return list, nil
}

func (d *memoryDriver) UpdateCard(_ context.Context, update *store.UpdateCard) (*store.Card, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	card, ok := d.cards[update.ID]
	if !ok {
		return nil, errors.Wrap(store.ErrNotFound, "card")
	}
	if update.Name != nil {
		card.Name = *update.Name
	}
	if update.Category != nil {
		card.Category = *update.Category
	}
	if update.Description != nil {
		card.Description = *update.Description
	}
	if update.Tags != nil {
		card.Tags = update.Tags
	}
	if update.Pinned != nil {
		card.Pinned = *update.Pinned
	}
	if update.SortOrder != nil {
		card.SortOrder = *update.SortOrder
	}
	if update.UpdatedTs != nil {
		card.UpdatedTs = *update.UpdatedTs
	}
	return card, nil
}

func (d *memoryDriver) DeleteCard(_ context.Context, id int32) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.cards, id)
	return nil
}

func (d *memoryDriver) CreateChapterSummary(_ context.Context, create *store.ChapterSummary) (*store.ChapterSummary, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	create.ID = d.id()
	d.summaries[create.ID] = create
	return create, nil
}

func (d *memoryDriver) ListChapterSummaries(_ context.Context, find *store.FindChapterSummary) ([]*store.ChapterSummary, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	var list []*store.ChapterSummary
	for _, summary := range d.summaries {
		if find.ID != nil && summary.ID != *find.ID {
			continue
		}
		if find.UID != nil && summary.UID != *find.UID {
			continue
		}
		if find.NovelID != nil && summary.NovelID != *find.NovelID {
			continue
		}
		list = append(list, summary)
	}
	return list, nil
}

func (d *memoryDriver) UpdateChapterSummary(_ context.Context, update *store.UpdateChapterSummary) (*store.ChapterSummary, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	summary, ok := d.summaries[update.ID]
	if !ok {
		return nil, errors.Wrap(store.ErrNotFound, "chapter summary")
	}
	if update.ChapterSeq != nil {
		summary.ChapterSeq = *update.ChapterSeq
	}
	if update.ChapterTitle != nil {
		summary.ChapterTitle = *update.ChapterTitle
	}
	if update.Summary != nil {
		summary.Summary = *update.Summary
	}
	if update.KeyPoints != nil {
		summary.KeyPoints = update.KeyPoints
	}
	if update.Pinned != nil {
		summary.Pinned = *update.Pinned
	}
	if update.UpdatedTs != nil {
		summary.UpdatedTs = *update.UpdatedTs
	}
	return summary, nil
}

func (d *memoryDriver) DeleteChapterSummary(_ context.Context, id int32) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.summaries, id)
	return nil
}

func (d *memoryDriver) UpsertCardEmbedding(_ context.Context, upsert *store.CardEmbedding) (*store.CardEmbedding, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cardEmbeddings[upsert.CardID] = upsert
	return upsert, nil
}

func (d *memoryDriver) GetCardEmbedding(_ context.Context, cardID int32, _ string) (*store.CardEmbedding, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cardEmbeddings[cardID], nil
}

func (d *memoryDriver) DeleteCardEmbedding(_ context.Context, cardID int32) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.cardEmbeddings, cardID)
	return nil
}

func (d *memoryDriver) ListCardEmbeddingDigests(_ context.Context, novelID int32, _ string) (map[int32]string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	digests := map[int32]string{}
	for id, rec := range d.cardEmbeddings {
		if rec.NovelID == novelID {
			digests[id] = rec.ContentDigest
		}
	}
	return digests, nil
}

func (d *memoryDriver) ScanCards(_ context.Context, opts *store.CardScanOptions) ([]*store.CardCandidate, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	var list []*store.CardCandidate
	for _, card := range d.cards {
		if card.NovelID != opts.NovelID {
			continue
		}
		candidate := &store.CardCandidate{Card: card}
		if rec, ok := d.cardEmbeddings[card.ID]; ok {
			candidate.HasEmbedding = true
			candidate.ContentDigest = rec.ContentDigest
		}
		list = append(list, candidate)
	}
	return list, nil
}

func (d *memoryDriver) CountCardEmbeddingCoverage(_ context.Context, novelID int32, _ string) (*store.EmbeddingCoverage, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	coverage := &store.EmbeddingCoverage{}
	for _, card := range d.cards {
		if card.NovelID != novelID {
			continue
		}
		coverage.Total++
		if _, ok := d.cardEmbeddings[card.ID]; ok {
			coverage.WithEmbedding++
		}
	}
	return coverage, nil
}

func (d *memoryDriver) UpsertSummaryEmbedding(_ context.Context, upsert *store.SummaryEmbedding) (*store.SummaryEmbedding, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.summaryEmbeddings[upsert.SummaryID] = upsert
	return upsert, nil
}

func (d *memoryDriver) GetSummaryEmbedding(_ context.Context, summaryID int32, _ string) (*store.SummaryEmbedding, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.summaryEmbeddings[summaryID], nil
}

func (d *memoryDriver) DeleteSummaryEmbedding(_ context.Context, summaryID int32) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.summaryEmbeddings, summaryID)
	return nil
}

func (d *memoryDriver) ListSummaryEmbeddingDigests(_ context.Context, novelID int32, _ string) (map[int32]string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	digests := map[int32]string{}
	for id, rec := range d.summaryEmbeddings {
		if rec.NovelID == novelID {
			digests[id] = rec.ContentDigest
		}
	}
	return digests, nil
}

func (d *memoryDriver) ScanSummaries(_ context.Context, opts *store.SummaryScanOptions) ([]*store.SummaryCandidate, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	var list []*store.SummaryCandidate
	for _, summary := range d.summaries {
		if summary.NovelID != opts.NovelID {
			continue
		}
		if opts.BeforeChapterSeq != nil && summary.ChapterSeq >= *opts.BeforeChapterSeq {
			continue
		}
		candidate := &store.SummaryCandidate{Summary: summary}
		if rec, ok := d.summaryEmbeddings[summary.ID]; ok {
			candidate.HasEmbedding = true
			candidate.ContentDigest = rec.ContentDigest
		}
		list = append(list, candidate)
	}
	return list, nil
}

func (d *memoryDriver) CountSummaryEmbeddingCoverage(_ context.Context, novelID int32, _ string) (*store.EmbeddingCoverage, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	coverage := &store.EmbeddingCoverage{}
	for _, summary := range d.summaries {
		if summary.NovelID != novelID {
			continue
		}
		coverage.Total++
		if _, ok := d.summaryEmbeddings[summary.ID]; ok {
			coverage.WithEmbedding++
		}
	}
	return coverage, nil
}

func (d *memoryDriver) DeleteNovelEmbeddings(_ context.Context, novelID int32) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	for id, rec := range d.cardEmbeddings {
		if rec.NovelID == novelID {
			delete(d.cardEmbeddings, id)
		}
	}
	for id, rec := range d.summaryEmbeddings {
		if rec.NovelID == novelID {
			delete(d.summaryEmbeddings, id)
		}
	}
	return nil
}

// newTestService wires the API against the in-memory driver. The embedding
// provider points at an unreachable local address so provider calls fail fast
// and searches exercise the lexical degradation path.
func newTestService(t *testing.T) (*APIV1Service, *echo.Echo, *memoryDriver) {
	t.Helper()

	testProfile := &profile.Profile{
		Mode:                "dev",
		Driver:              "sqlite",
		EmbeddingProvider:   "openai",
		EmbeddingBaseURL:    "http://127.0.0.1:1/v1",
		EmbeddingModel:      "test-model",
		EmbeddingDimensions: 4,
		EmbeddingTimeout:    1,
		SyncWorkers:         2,
	}
	driver := newMemoryDriver()
	storeInstance := store.New(driver, testProfile)
	eng, err := engine.New(testProfile, storeInstance)
	require.NoError(t, err)

	e := echo.New()
	service := NewAPIV1Service(testProfile, storeInstance, eng)
	service.RegisterRoutes(e)
	return service, e, driver
}

func doRequest(e *echo.Echo, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestCreateNovel(t *testing.T) {
	_, e, _ := newTestService(t)

	rec := doRequest(e, http.MethodPost, "/api/v1/novels", `{"title":"The Dragon War"}`)

	require.Equal(t, http.StatusCreated, rec.Code)
	var response NovelResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &response))
	assert.NotEmpty(t, response.UID)
	assert.Equal(t, "The Dragon War", response.Title)
}

func TestCreateNovelRequiresTitle(t *testing.T) {
	_, e, _ := newTestService(t)

	rec := doRequest(e, http.MethodPost, "/api/v1/novels", `{"title":"  "}`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetNovelNotFound(t *testing.T) {
	_, e, _ := newTestService(t)

	rec := doRequest(e, http.MethodGet, "/api/v1/novels/unknown", "")

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func createTestNovel(t *testing.T, e *echo.Echo, title string) NovelResponse {
	t.Helper()
	rec := doRequest(e, http.MethodPost, "/api/v1/novels", `{"title":"`+title+`"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	var novel NovelResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &novel))
	return novel
}

func TestCreateCardValidatesCategory(t *testing.T) {
	_, e, _ := newTestService(t)
	novel := createTestNovel(t, e, "Novel")

	rec := doRequest(e, http.MethodPost, "/api/v1/novels/"+novel.UID+"/cards",
		`{"name":"Aria","category":"WIZARD"}`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateCard(t *testing.T) {
	_, e, driver := newTestService(t)
	novel := createTestNovel(t, e, "Novel")

	rec := doRequest(e, http.MethodPost, "/api/v1/novels/"+novel.UID+"/cards",
		`{"name":"Aria","category":"CHARACTER","description":"a brave knight","tags":["protagonist"]}`)

	require.Equal(t, http.StatusCreated, rec.Code)
	var response CardResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &response))
	assert.NotEmpty(t, response.UID)
	assert.Equal(t, novel.UID, response.NovelUID)
	assert.Equal(t, store.CardCategoryCharacter, response.Category)
	assert.Len(t, driver.cards, 1)
}

func TestRefreshCardReturnsAccepted(t *testing.T) {
	_, e, _ := newTestService(t)
	novel := createTestNovel(t, e, "Novel")
	rec := doRequest(e, http.MethodPost, "/api/v1/novels/"+novel.UID+"/cards",
		`{"name":"Aria","category":"CHARACTER"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	var card CardResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &card))

	rec = doRequest(e, http.MethodPost, "/api/v1/cards/"+card.UID+"/refresh", "")

	require.Equal(t, http.StatusAccepted, rec.Code)
	var response ScheduleRefreshResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &response))
	assert.True(t, response.Scheduled)
}

func TestRefreshCardUnknownUID(t *testing.T) {
	_, e, _ := newTestService(t)

	rec := doRequest(e, http.MethodPost, "/api/v1/cards/unknown/refresh", "")

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSearchCardsLexicalWhenProviderDown(t *testing.T) {
	_, e, _ := newTestService(t)
	novel := createTestNovel(t, e, "Novel")
	rec := doRequest(e, http.MethodPost, "/api/v1/novels/"+novel.UID+"/cards",
		`{"name":"Aria","category":"CHARACTER","description":"a brave knight"}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	// Give the fire-and-forget refresh a moment; it fails against the
	// unreachable provider and must not affect search availability.
	time.Sleep(50 * time.Millisecond)

	rec = doRequest(e, http.MethodPost, "/api/v1/novels/"+novel.UID+"/cards/search",
		`{"query":"knight"}`)

	require.Equal(t, http.StatusOK, rec.Code)
	var response SearchCardsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &response))
	require.Len(t, response.Results, 1)
	assert.Equal(t, "Aria", response.Results[0].Name)
	assert.EqualValues(t, "LEXICAL", response.Results[0].Kind)
}

func TestSearchCardsRequiresQuery(t *testing.T) {
	_, e, _ := newTestService(t)
	novel := createTestNovel(t, e, "Novel")

	rec := doRequest(e, http.MethodPost, "/api/v1/novels/"+novel.UID+"/cards/search", `{"query":""}`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSearchSummariesHonorsCutoff(t *testing.T) {
	_, e, _ := newTestService(t)
	novel := createTestNovel(t, e, "Novel")
	for _, body := range []string{
		`{"chapterId":1,"chapterSeq":1,"chapterTitle":"The Village","summary":"Aria leaves the village."}`,
		`{"chapterId":5,"chapterSeq":5,"chapterTitle":"The Betrayal","summary":"Aria is betrayed by her mentor."}`,
	} {
		rec := doRequest(e, http.MethodPost, "/api/v1/novels/"+novel.UID+"/summaries", body)
		require.Equal(t, http.StatusCreated, rec.Code)
	}

	rec := doRequest(e, http.MethodPost, "/api/v1/novels/"+novel.UID+"/summaries/search",
		`{"query":"Aria","beforeChapterSeq":5}`)

	require.Equal(t, http.StatusOK, rec.Code)
	var response SearchSummariesResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &response))
	require.Len(t, response.Results, 1)
	assert.EqualValues(t, 1, response.Results[0].ChapterSeq)
}

func TestCreateChapterSummaryValidatesSeq(t *testing.T) {
	_, e, _ := newTestService(t)
	novel := createTestNovel(t, e, "Novel")

	rec := doRequest(e, http.MethodPost, "/api/v1/novels/"+novel.UID+"/summaries",
		`{"chapterSeq":0,"summary":"text"}`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestEmbeddingStatus(t *testing.T) {
	_, e, driver := newTestService(t)
	novel := createTestNovel(t, e, "Novel")
	rec := doRequest(e, http.MethodPost, "/api/v1/novels/"+novel.UID+"/cards",
		`{"name":"Aria","category":"CHARACTER"}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	// Simulate one stored embedding.
	for id, card := range driver.cards {
		driver.cardEmbeddings[id] = &store.CardEmbedding{CardID: id, NovelID: card.NovelID, ContentDigest: "d"}
	}

	rec = doRequest(e, http.MethodGet, "/api/v1/novels/"+novel.UID+"/embeddings/status", "")

	require.Equal(t, http.StatusOK, rec.Code)
	var response EmbeddingStatusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &response))
	assert.EqualValues(t, 1, response.Cards.Total)
	assert.EqualValues(t, 1, response.Cards.WithEmbedding)
	assert.InDelta(t, 100.0, response.Cards.Percentage, 0.001)
}

func TestDeleteNovelEmbeddings(t *testing.T) {
	_, e, driver := newTestService(t)
	novel := createTestNovel(t, e, "Novel")
	rec := doRequest(e, http.MethodPost, "/api/v1/novels/"+novel.UID+"/cards",
		`{"name":"Aria","category":"CHARACTER"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	for id, card := range driver.cards {
		driver.cardEmbeddings[id] = &store.CardEmbedding{CardID: id, NovelID: card.NovelID, ContentDigest: "d"}
	}

	rec = doRequest(e, http.MethodDelete, "/api/v1/novels/"+novel.UID+"/embeddings", "")

	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.Empty(t, driver.cardEmbeddings)
}
