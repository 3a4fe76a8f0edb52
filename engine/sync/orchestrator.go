// Package sync keeps stored embeddings consistent with entity text. It runs
// refreshes through a bounded worker pool, coalesces duplicate requests for
// the same entity, and retries transient provider failures with backoff.
package sync

import (
	"context"
	"fmt"
	"log/slog"
	gosync "sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"golang.org/x/sync/semaphore"

	"github.com/fablecraft/fablecraft/engine/embedding"
	"github.com/fablecraft/fablecraft/engine/metrics"
	"github.com/fablecraft/fablecraft/engine/normalize"
	"github.com/fablecraft/fablecraft/store"
)

// EntityStore is the persistence surface the orchestrator needs. *store.Store
// satisfies it; tests substitute fakes.
type EntityStore interface {
	GetCard(ctx context.Context, find *store.FindCard) (*store.Card, error)
	ListCards(ctx context.Context, find *store.FindCard) ([]*store.Card, error)
	GetCardEmbedding(ctx context.Context, cardID int32, model string) (*store.CardEmbedding, error)
	UpsertCardEmbedding(ctx context.Context, upsert *store.CardEmbedding) (*store.CardEmbedding, error)
	ListCardEmbeddingDigests(ctx context.Context, novelID int32, model string) (map[int32]string, error)

	GetChapterSummary(ctx context.Context, find *store.FindChapterSummary) (*store.ChapterSummary, error)
	ListChapterSummaries(ctx context.Context, find *store.FindChapterSummary) ([]*store.ChapterSummary, error)
	GetSummaryEmbedding(ctx context.Context, summaryID int32, model string) (*store.SummaryEmbedding, error)
	UpsertSummaryEmbedding(ctx context.Context, upsert *store.SummaryEmbedding) (*store.SummaryEmbedding, error)
	ListSummaryEmbeddingDigests(ctx context.Context, novelID int32, model string) (map[int32]string, error)
}

// Embedder generates vectors. *embedding.Provider satisfies it.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Model() string
}

// Refresh outcomes, also used as metric labels.
const (
	outcomeUpdated = "updated"
	outcomeSkipped = "skipped"
	outcomeFailed  = "failed"
)

// defaultBackoffs are the waits between provider retry attempts. Two retries
// total; permanent rejections and dimension mismatches are never retried.
var defaultBackoffs = []time.Duration{500 * time.Millisecond, 2 * time.Second}

// Options tune the orchestrator.
type Options struct {
	// Workers bounds how many refreshes run concurrently.
	Workers int
	// Backoffs are the waits between retry attempts; the attempt count is
	// len(Backoffs)+1.
	Backoffs []time.Duration
}

// NovelRefreshReport aggregates a bulk refresh. Entities that were already
// fresh are counted in the totals but neither updated nor failed.
type NovelRefreshReport struct {
	CardsTotal       int32
	CardsUpdated     int32
	CardsFailed      int32
	SummariesTotal   int32
	SummariesUpdated int32
	SummariesFailed  int32
}

// Orchestrator serializes embedding refreshes behind a worker pool.
type Orchestrator struct {
	store    EntityStore
	embedder Embedder
	sem      *semaphore.Weighted
	backoffs []time.Duration

	mu gosync.Mutex
	// inflight tracks refreshes by key; the value records whether another
	// request arrived while that refresh was running.
	inflight map[string]bool
}

// New creates an orchestrator.
func New(entityStore EntityStore, embedder Embedder, opts Options) *Orchestrator {
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.Backoffs == nil {
		opts.Backoffs = defaultBackoffs
	}
	return &Orchestrator{
		store:    entityStore,
		embedder: embedder,
		sem:      semaphore.NewWeighted(int64(opts.Workers)),
		backoffs: opts.Backoffs,
		inflight: map[string]bool{},
	}
}

// ScheduleCardRefresh refreshes a card's embedding in the background. Write
// paths call it fire-and-forget: a failed refresh leaves the old embedding in
// place and is logged, never propagated to the caller.
func (o *Orchestrator) ScheduleCardRefresh(cardID int32) {
	o.schedule(fmt.Sprintf("card/%d", cardID), func(ctx context.Context) {
		outcome, err := o.RefreshCard(ctx, cardID)
		if err != nil {
			slog.Error("background card refresh failed", "cardID", cardID, "err", err)
		} else {
			slog.Debug("background card refresh finished", "cardID", cardID, "outcome", outcome)
		}
	})
}

// ScheduleSummaryRefresh refreshes a chapter summary's embedding in the
// background.
func (o *Orchestrator) ScheduleSummaryRefresh(summaryID int32) {
	o.schedule(fmt.Sprintf("summary/%d", summaryID), func(ctx context.Context) {
		outcome, err := o.RefreshSummary(ctx, summaryID)
		if err != nil {
			slog.Error("background summary refresh failed", "summaryID", summaryID, "err", err)
		} else {
			slog.Debug("background summary refresh finished", "summaryID", summaryID, "outcome", outcome)
		}
	})
}

// schedule runs fn on the worker pool unless a refresh for the same key is
// already in flight. A request arriving mid-flight coalesces into a single
// follow-up run after the current one completes: the running refresh may have
// read the entity's text before the edit that triggered the new request, so
// freshness must be observed again rather than assumed.
func (o *Orchestrator) schedule(key string, fn func(ctx context.Context)) {
	if !o.tryMarkInflight(key) {
		slog.Debug("refresh coalesced", "key", key)
		return
	}
	go func() {
		ctx := context.Background()
		if err := o.sem.Acquire(ctx, 1); err != nil {
			o.clearInflight(key)
			return
		}
		fn(ctx)
		o.sem.Release(1)
		if o.clearInflight(key) {
			o.schedule(key, fn)
		}
	}()
}

// tryMarkInflight records a running refresh for key. When one is already
// running it records the request as pending instead and reports false.
func (o *Orchestrator) tryMarkInflight(key string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, ok := o.inflight[key]; ok {
		o.inflight[key] = true
		return false
	}
	o.inflight[key] = false
	return true
}

// clearInflight removes the key and reports whether another refresh was
// requested while this one ran.
func (o *Orchestrator) clearInflight(key string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	pending := o.inflight[key]
	delete(o.inflight, key)
	return pending
}

// RefreshCard synchronously brings one card's embedding up to date. It returns
// outcomeSkipped without any provider call when the stored digest already
// matches the card's current text.
func (o *Orchestrator) RefreshCard(ctx context.Context, cardID int32) (string, error) {
	card, err := o.store.GetCard(ctx, &store.FindCard{ID: &cardID})
	if err != nil {
		metrics.RefreshTotal.WithLabelValues("card", outcomeFailed).Inc()
		return outcomeFailed, errors.Wrap(err, "load card")
	}

	text := normalize.CardText(card)
	digest := normalize.Digest(text)

	record, err := o.store.GetCardEmbedding(ctx, card.ID, o.embedder.Model())
	if err != nil {
		metrics.RefreshTotal.WithLabelValues("card", outcomeFailed).Inc()
		return outcomeFailed, errors.Wrap(err, "load card embedding")
	}
	if record != nil && !IsStale(digest, record.ContentDigest) {
		metrics.RefreshTotal.WithLabelValues("card", outcomeSkipped).Inc()
		return outcomeSkipped, nil
	}

	slog.Debug("card refresh embedding", "cardID", card.ID)
	vector, err := o.embedWithRetry(ctx, text)
	if err != nil {
		metrics.RefreshTotal.WithLabelValues("card", outcomeFailed).Inc()
		return outcomeFailed, errors.Wrap(err, "embed card text")
	}

	slog.Debug("card refresh writing", "cardID", card.ID)
	now := time.Now().Unix()
	if _, err := o.store.UpsertCardEmbedding(ctx, &store.CardEmbedding{
		CardID:        card.ID,
		NovelID:       card.NovelID,
		Model:         o.embedder.Model(),
		Vector:        vector,
		ContentDigest: digest,
		CreatedTs:     now,
		UpdatedTs:     now,
	}); err != nil {
		metrics.RefreshTotal.WithLabelValues("card", outcomeFailed).Inc()
		return outcomeFailed, errors.Wrap(err, "upsert card embedding")
	}

	metrics.RefreshTotal.WithLabelValues("card", outcomeUpdated).Inc()
	return outcomeUpdated, nil
}

// RefreshSummary synchronously brings one chapter summary's embedding up to
// date.
func (o *Orchestrator) RefreshSummary(ctx context.Context, summaryID int32) (string, error) {
	summary, err := o.store.GetChapterSummary(ctx, &store.FindChapterSummary{ID: &summaryID})
	if err != nil {
		metrics.RefreshTotal.WithLabelValues("summary", outcomeFailed).Inc()
		return outcomeFailed, errors.Wrap(err, "load chapter summary")
	}

	text := normalize.SummaryText(summary)
	digest := normalize.Digest(text)

	record, err := o.store.GetSummaryEmbedding(ctx, summary.ID, o.embedder.Model())
	if err != nil {
		metrics.RefreshTotal.WithLabelValues("summary", outcomeFailed).Inc()
		return outcomeFailed, errors.Wrap(err, "load summary embedding")
	}
	if record != nil && !IsStale(digest, record.ContentDigest) {
		metrics.RefreshTotal.WithLabelValues("summary", outcomeSkipped).Inc()
		return outcomeSkipped, nil
	}

	slog.Debug("summary refresh embedding", "summaryID", summary.ID)
	vector, err := o.embedWithRetry(ctx, text)
	if err != nil {
		metrics.RefreshTotal.WithLabelValues("summary", outcomeFailed).Inc()
		return outcomeFailed, errors.Wrap(err, "embed summary text")
	}

	slog.Debug("summary refresh writing", "summaryID", summary.ID)
	now := time.Now().Unix()
	if _, err := o.store.UpsertSummaryEmbedding(ctx, &store.SummaryEmbedding{
		SummaryID:     summary.ID,
		NovelID:       summary.NovelID,
		Model:         o.embedder.Model(),
		Vector:        vector,
		ContentDigest: digest,
		CreatedTs:     now,
		UpdatedTs:     now,
	}); err != nil {
		metrics.RefreshTotal.WithLabelValues("summary", outcomeFailed).Inc()
		return outcomeFailed, errors.Wrap(err, "upsert summary embedding")
	}

	metrics.RefreshTotal.WithLabelValues("summary", outcomeUpdated).Inc()
	return outcomeUpdated, nil
}

// RefreshNovel re-embeds every stale card and chapter summary of a novel.
// Fresh entities are skipped on their digest alone, without loading vectors or
// calling the provider. If the context deadline expires mid-run, entities not
// yet processed simply remain stale; they are not counted as failed.
func (o *Orchestrator) RefreshNovel(ctx context.Context, novelID int32) (*NovelRefreshReport, error) {
	jobID := uuid.NewString()
	start := time.Now()
	slog.Info("novel refresh started", "jobID", jobID, "novelID", novelID)

	report := &NovelRefreshReport{}
	var wg gosync.WaitGroup

	cards, err := o.store.ListCards(ctx, &store.FindCard{NovelID: &novelID})
	if err != nil {
		return nil, errors.Wrap(err, "list cards")
	}
	cardDigests, err := o.store.ListCardEmbeddingDigests(ctx, novelID, o.embedder.Model())
	if err != nil {
		return nil, errors.Wrap(err, "list card embedding digests")
	}
	report.CardsTotal = int32(len(cards))
	for _, card := range cards {
		if !IsStale(normalize.Digest(normalize.CardText(card)), cardDigests[card.ID]) {
			metrics.RefreshTotal.WithLabelValues("card", outcomeSkipped).Inc()
			continue
		}
		cardID := card.ID
		o.runPooled(ctx, &wg, fmt.Sprintf("card/%d", cardID), func(ctx context.Context) {
			switch outcome, err := o.RefreshCard(ctx, cardID); outcome {
			case outcomeUpdated:
				atomic.AddInt32(&report.CardsUpdated, 1)
			case outcomeFailed:
				atomic.AddInt32(&report.CardsFailed, 1)
				slog.Warn("novel refresh: card failed", "jobID", jobID, "cardID", cardID, "err", err)
			}
		}, func() { o.ScheduleCardRefresh(cardID) })
	}

	summaries, err := o.store.ListChapterSummaries(ctx, &store.FindChapterSummary{NovelID: &novelID})
	if err != nil {
		wg.Wait()
		return nil, errors.Wrap(err, "list chapter summaries")
	}
	summaryDigests, err := o.store.ListSummaryEmbeddingDigests(ctx, novelID, o.embedder.Model())
	if err != nil {
		wg.Wait()
		return nil, errors.Wrap(err, "list summary embedding digests")
	}
	report.SummariesTotal = int32(len(summaries))
	for _, summary := range summaries {
		if !IsStale(normalize.Digest(normalize.SummaryText(summary)), summaryDigests[summary.ID]) {
			metrics.RefreshTotal.WithLabelValues("summary", outcomeSkipped).Inc()
			continue
		}
		summaryID := summary.ID
		o.runPooled(ctx, &wg, fmt.Sprintf("summary/%d", summaryID), func(ctx context.Context) {
			switch outcome, err := o.RefreshSummary(ctx, summaryID); outcome {
			case outcomeUpdated:
				atomic.AddInt32(&report.SummariesUpdated, 1)
			case outcomeFailed:
				atomic.AddInt32(&report.SummariesFailed, 1)
				slog.Warn("novel refresh: summary failed", "jobID", jobID, "summaryID", summaryID, "err", err)
			}
		}, func() { o.ScheduleSummaryRefresh(summaryID) })
	}

	wg.Wait()
	slog.Info("novel refresh finished",
		"jobID", jobID,
		"novelID", novelID,
		"elapsed", time.Since(start),
		"cardsUpdated", report.CardsUpdated,
		"cardsFailed", report.CardsFailed,
		"summariesUpdated", report.SummariesUpdated,
		"summariesFailed", report.SummariesFailed,
	)
	return report, nil
}

// runPooled runs fn on the worker pool, honoring coalescing with background
// refreshes of the same entity; a request that arrived mid-flight gets its
// follow-up via followUp after fn completes. Acquire fails only when ctx is
// done, in which case the remaining work is dropped.
func (o *Orchestrator) runPooled(ctx context.Context, wg *gosync.WaitGroup, key string, fn func(ctx context.Context), followUp func()) {
	if err := o.sem.Acquire(ctx, 1); err != nil {
		return
	}
	if !o.tryMarkInflight(key) {
		o.sem.Release(1)
		return
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		fn(ctx)
		o.sem.Release(1)
		if o.clearInflight(key) {
			followUp()
		}
	}()
}

// embedWithRetry calls the provider, retrying transient failures after each
// configured backoff. Permanent rejections and dimension mismatches abort
// immediately.
func (o *Orchestrator) embedWithRetry(ctx context.Context, text string) ([]float32, error) {
	var lastErr error
	for attempt := 0; ; attempt++ {
		vector, err := o.embedder.Embed(ctx, text)
		if err == nil {
			metrics.ProviderCallsTotal.WithLabelValues("ok").Inc()
			return vector, nil
		}
		metrics.ProviderCallsTotal.WithLabelValues("error").Inc()
		lastErr = err

		if errors.Is(err, embedding.ErrProviderRejected) || errors.Is(err, embedding.ErrSchemaMismatch) {
			return nil, err
		}
		if attempt >= len(o.backoffs) {
			return nil, lastErr
		}

		slog.Debug("provider call failed, backing off", "attempt", attempt+1, "backoff", o.backoffs[attempt], "err", err)
		select {
		case <-time.After(o.backoffs[attempt]):
		case <-ctx.Done():
			return nil, errors.Wrap(embedding.ErrProviderUnavailable, ctx.Err().Error())
		}
	}
}
