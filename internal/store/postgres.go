package store

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/watchfolio/newsimpact/internal/db"
	"github.com/watchfolio/newsimpact/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool db.Pool
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, maxConns, minConns int32) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	if maxConns <= 0 {
		maxConns = 10
	}
	if minConns <= 0 {
		minConns = 2
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS watchlists (
	id         TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	user_id    TEXT NOT NULL,
	ticker     TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS news_raw_ingest (
	content_hash  TEXT PRIMARY KEY,
	url           TEXT NOT NULL,
	canonical_url TEXT NOT NULL,
	headline      TEXT NOT NULL,
	source        TEXT,
	published_at  TIMESTAMPTZ NOT NULL,
	tickers       TEXT[] NOT NULL DEFAULT '{}',
	fetched_at    TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS news_results (
	content_hash   TEXT PRIMARY KEY,
	url            TEXT NOT NULL,
	canonical_url  TEXT NOT NULL,
	headline       TEXT NOT NULL,
	impact         INT NOT NULL,
	direction      TEXT NOT NULL,
	category       TEXT NOT NULL,
	points         TEXT[] NOT NULL,
	confidence     DOUBLE PRECISION NOT NULL,
	model          TEXT NOT NULL,
	prompt_version TEXT NOT NULL,
	created_at     TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS news_view (
	content_hash   TEXT PRIMARY KEY,
	url            TEXT NOT NULL,
	canonical_url  TEXT NOT NULL,
	headline       TEXT NOT NULL,
	source         TEXT,
	published_at   TIMESTAMPTZ NOT NULL,
	tickers        TEXT[] NOT NULL DEFAULT '{}',
	impact         INT NOT NULL,
	direction      TEXT NOT NULL,
	category       TEXT NOT NULL,
	points         TEXT[] NOT NULL,
	confidence     DOUBLE PRECISION NOT NULL,
	model          TEXT NOT NULL,
	prompt_version TEXT NOT NULL,
	updated_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS pipeline_state (
	id    TEXT PRIMARY KEY,
	value TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_watchlists_ticker ON watchlists(ticker);
CREATE UNIQUE INDEX IF NOT EXISTS idx_watchlists_user_ticker ON watchlists(user_id, ticker);
CREATE INDEX IF NOT EXISTS idx_news_raw_ingest_fetched_at ON news_raw_ingest(fetched_at);
CREATE INDEX IF NOT EXISTS idx_news_view_published_at ON news_view(published_at DESC);
CREATE INDEX IF NOT EXISTS idx_news_view_tickers ON news_view USING GIN(tickers);
`

// Migrate creates the pipeline tables if they do not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

// Close releases the connection pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// DistinctTickers returns the de-duplicated, uppercased set of watched tickers.
func (s *PostgresStore) DistinctTickers(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT DISTINCT ticker FROM watchlists WHERE ticker <> ''`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: distinct tickers")
	}
	defer rows.Close()

	seen := make(map[string]bool)
	var tickers []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, eris.Wrap(err, "postgres: scan ticker")
		}
		t = strings.ToUpper(strings.TrimSpace(t))
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		tickers = append(tickers, t)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "postgres: iterate tickers")
	}
	return tickers, nil
}

// AddWatchlistEntries inserts new subscriptions, ignoring pairs that already
// exist.
func (s *PostgresStore) AddWatchlistEntries(ctx context.Context, entries []model.WatchlistEntry) error {
	if len(entries) == 0 {
		return nil
	}

	users := make([]string, len(entries))
	tickers := make([]string, len(entries))
	for i, e := range entries {
		users[i] = e.UserID
		tickers[i] = e.Ticker
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO watchlists (user_id, ticker)
		SELECT u, t FROM unnest($1::text[], $2::text[]) AS x(u, t)
		ON CONFLICT (user_id, ticker) DO NOTHING`,
		users, tickers,
	)
	return eris.Wrap(err, "postgres: add watchlist entries")
}

// UpsertRaw bulk-upserts the observation log, keyed by content hash. Every
// sighting refreshes the metadata and stamps fetched_at.
func (s *PostgresStore) UpsertRaw(ctx context.Context, items []model.CanonicalItem) error {
	if len(items) == 0 {
		return nil
	}

	// An article surfacing under several tickers appears more than once in a
	// batch, and a single INSERT ... ON CONFLICT DO UPDATE command cannot
	// touch the same row twice.
	items = collapseByHash(items)

	fetchedAt := time.Now().UTC()
	rows := make([][]any, len(items))
	for i, item := range items {
		tickers := item.Tickers
		if tickers == nil {
			tickers = []string{}
		}
		rows[i] = []any{
			item.ContentHash,
			item.URL,
			item.CanonicalURL,
			item.Headline,
			item.Source,
			item.PublishedAt,
			tickers,
			fetchedAt,
		}
	}

	_, err := db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        "news_raw_ingest",
		Columns:      []string{"content_hash", "url", "canonical_url", "headline", "source", "published_at", "tickers", "fetched_at"},
		ConflictKeys: []string{"content_hash"},
	}, rows)
	return eris.Wrap(err, "postgres: upsert raw news")
}

// collapseByHash keeps one item per content hash, the last sighting winning.
func collapseByHash(items []model.CanonicalItem) []model.CanonicalItem {
	idx := make(map[string]int, len(items))
	out := make([]model.CanonicalItem, 0, len(items))
	for _, item := range items {
		if i, seen := idx[item.ContentHash]; seen {
			out[i] = item
			continue
		}
		idx[item.ContentHash] = len(out)
		out = append(out, item)
	}
	return out
}

// InsertResultIfAbsent inserts the classification result unless one already
// exists for the hash. The conflict target makes the insert-once guarantee
// atomic under concurrent runs.
func (s *PostgresStore) InsertResultIfAbsent(ctx context.Context, res model.ImpactResult) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO news_results
			(content_hash, url, canonical_url, headline, impact, direction, category, points, confidence, model, prompt_version, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (content_hash) DO NOTHING`,
		res.ContentHash,
		res.URL,
		res.CanonicalURL,
		res.Headline,
		res.Impact.Score,
		string(res.Impact.Direction),
		string(res.Impact.Category),
		res.Impact.Points,
		res.Impact.Confidence,
		res.Model,
		res.PromptVersion,
		res.CreatedAt,
	)
	if err != nil {
		return false, eris.Wrap(err, "postgres: insert result")
	}
	return tag.RowsAffected() == 1, nil
}

// ExistingHashes returns which of the given hashes already have a result.
func (s *PostgresStore) ExistingHashes(ctx context.Context, hashes []string) (map[string]bool, error) {
	existing := make(map[string]bool, len(hashes))
	if len(hashes) == 0 {
		return existing, nil
	}

	rows, err := s.pool.Query(ctx, `SELECT content_hash FROM news_results WHERE content_hash = ANY($1)`, hashes)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: query existing hashes")
	}
	defer rows.Close()

	for rows.Next() {
		var h string
		if err := rows.Scan(&h); err != nil {
			return nil, eris.Wrap(err, "postgres: scan existing hash")
		}
		existing[h] = true
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "postgres: iterate existing hashes")
	}
	return existing, nil
}

// UpsertView refreshes the denormalized read view for a freshly classified
// article.
func (s *PostgresStore) UpsertView(ctx context.Context, view model.NewsView) error {
	tickers := view.Tickers
	if tickers == nil {
		tickers = []string{}
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO news_view
			(content_hash, url, canonical_url, headline, source, published_at, tickers, impact, direction, category, points, confidence, model, prompt_version, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, now())
		ON CONFLICT (content_hash) DO UPDATE SET
			url = EXCLUDED.url,
			canonical_url = EXCLUDED.canonical_url,
			headline = EXCLUDED.headline,
			source = EXCLUDED.source,
			published_at = EXCLUDED.published_at,
			tickers = EXCLUDED.tickers,
			impact = EXCLUDED.impact,
			direction = EXCLUDED.direction,
			category = EXCLUDED.category,
			points = EXCLUDED.points,
			confidence = EXCLUDED.confidence,
			model = EXCLUDED.model,
			prompt_version = EXCLUDED.prompt_version,
			updated_at = now()`,
		view.ContentHash,
		view.URL,
		view.CanonicalURL,
		view.Headline,
		view.Source,
		view.PublishedAt,
		tickers,
		view.Impact.Score,
		string(view.Impact.Direction),
		string(view.Impact.Category),
		view.Impact.Points,
		view.Impact.Confidence,
		view.Model,
		view.PromptVersion,
	)
	return eris.Wrap(err, "postgres: upsert view")
}

// GetWatermark reads the ingest cursor. ok is false when no run has ever
// completed.
func (s *PostgresStore) GetWatermark(ctx context.Context) (time.Time, bool, error) {
	var value time.Time
	err := s.pool.QueryRow(ctx, `SELECT value FROM pipeline_state WHERE id = $1`, WatermarkKey).Scan(&value)
	if err != nil {
		if isNoRows(err) {
			return time.Time{}, false, nil
		}
		return time.Time{}, false, eris.Wrap(err, "postgres: get watermark")
	}
	return value, true, nil
}

func isNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}

// SetWatermark upserts the ingest cursor.
func (s *PostgresStore) SetWatermark(ctx context.Context, t time.Time) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO pipeline_state (id, value) VALUES ($1, $2)
		ON CONFLICT (id) DO UPDATE SET value = EXCLUDED.value`,
		WatermarkKey, t.UTC(),
	)
	return eris.Wrap(err, "postgres: set watermark")
}
