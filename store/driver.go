package store

import (
	"context"
	"database/sql"
)

// Driver is an interface for store driver.
// It contains all methods that store database driver should implement.
type Driver interface {
	GetDB() *sql.DB
	Close() error

	Migrate(ctx context.Context) error
	IsInitialized(ctx context.Context) (bool, error)

	// Novel model related methods.
	CreateNovel(ctx context.Context, create *Novel) (*Novel, error)
	ListNovels(ctx context.Context, find *FindNovel) ([]*Novel, error)
	DeleteNovel(ctx context.Context, id int32) error

	// Card model related methods.
	CreateCard(ctx context.Context, create *Card) (*Card, error)
	ListCards(ctx context.Context, find *FindCard) ([]*Card, error)
	UpdateCard(ctx context.Context, update *UpdateCard) (*Card, error)
	DeleteCard(ctx context.Context, id int32) error

	// ChapterSummary model related methods.
	CreateChapterSummary(ctx context.Context, create *ChapterSummary) (*ChapterSummary, error)
	ListChapterSummaries(ctx context.Context, find *FindChapterSummary) ([]*ChapterSummary, error)
	UpdateChapterSummary(ctx context.Context, update *UpdateChapterSummary) (*ChapterSummary, error)
	DeleteChapterSummary(ctx context.Context, id int32) error

	// CardEmbedding model related methods.
	UpsertCardEmbedding(ctx context.Context, upsert *CardEmbedding) (*CardEmbedding, error)
	GetCardEmbedding(ctx context.Context, cardID int32, model string) (*CardEmbedding, error)
	DeleteCardEmbedding(ctx context.Context, cardID int32) error
	ListCardEmbeddingDigests(ctx context.Context, novelID int32, model string) (map[int32]string, error)
	ScanCards(ctx context.Context, opts *CardScanOptions) ([]*CardCandidate, error)
	CountCardEmbeddingCoverage(ctx context.Context, novelID int32, model string) (*EmbeddingCoverage, error)

	// SummaryEmbedding model related methods.
	UpsertSummaryEmbedding(ctx context.Context, upsert *SummaryEmbedding) (*SummaryEmbedding, error)
	GetSummaryEmbedding(ctx context.Context, summaryID int32, model string) (*SummaryEmbedding, error)
	DeleteSummaryEmbedding(ctx context.Context, summaryID int32) error
	ListSummaryEmbeddingDigests(ctx context.Context, novelID int32, model string) (map[int32]string, error)
	ScanSummaries(ctx context.Context, opts *SummaryScanOptions) ([]*SummaryCandidate, error)
	CountSummaryEmbeddingCoverage(ctx context.Context, novelID int32, model string) (*EmbeddingCoverage, error)

	DeleteNovelEmbeddings(ctx context.Context, novelID int32) error
}
