// Package store persists pipeline state: raw article observations, final
// classification results, the denormalized read view, and the ingest watermark.
package store

import (
	"context"
	"time"

	"github.com/watchfolio/newsimpact/internal/model"
)

// WatermarkKey is the fixed logical name of the single ingest cursor row.
const WatermarkKey = "last_ingest_at"

// TickerSource exposes the distinct set of watched tickers. The watchlist
// itself is owned by the API layer; the pipeline only reads it.
type TickerSource interface {
	DistinctTickers(ctx context.Context) ([]string, error)
}

// WatchlistWriter bulk-adds watchlist entries. Existing (user, ticker) pairs
// are left untouched.
type WatchlistWriter interface {
	AddWatchlistEntries(ctx context.Context, entries []model.WatchlistEntry) error
}

// RawStore is the append-only observation log of sighted articles, keyed by
// content hash with last-write-wins metadata.
type RawStore interface {
	UpsertRaw(ctx context.Context, items []model.CanonicalItem) error
}

// ResultStore holds the insert-once classification results.
type ResultStore interface {
	// InsertResultIfAbsent atomically inserts res unless a row for its
	// content hash already exists. Returns true only on a real insert.
	InsertResultIfAbsent(ctx context.Context, res model.ImpactResult) (bool, error)

	// ExistingHashes returns the subset of hashes that already have a result.
	ExistingHashes(ctx context.Context, hashes []string) (map[string]bool, error)
}

// ViewStore maintains the denormalized news view read by the API layer.
type ViewStore interface {
	UpsertView(ctx context.Context, view model.NewsView) error
}

// WatermarkStore is the durable "last successful ingest" cursor.
type WatermarkStore interface {
	// GetWatermark returns the stored cursor; ok is false if it was never set.
	GetWatermark(ctx context.Context) (t time.Time, ok bool, err error)
	SetWatermark(ctx context.Context, t time.Time) error
}

// Store is the full persistence interface for the ingestion pipeline.
type Store interface {
	TickerSource
	WatchlistWriter
	RawStore
	ResultStore
	ViewStore
	WatermarkStore

	Migrate(ctx context.Context) error
	Close() error
}
