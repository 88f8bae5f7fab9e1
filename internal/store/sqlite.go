package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/watchfolio/newsimpact/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite. Intended for local
// development; ticker and point arrays are stored as JSON text.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := sqlDB.Exec(pragma); err != nil {
			sqlDB.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: sqlDB}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS watchlists (
	id         TEXT PRIMARY KEY,
	user_id    TEXT NOT NULL,
	ticker     TEXT NOT NULL,
	created_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS news_raw_ingest (
	content_hash  TEXT PRIMARY KEY,
	url           TEXT NOT NULL,
	canonical_url TEXT NOT NULL,
	headline      TEXT NOT NULL,
	source        TEXT,
	published_at  DATETIME NOT NULL,
	tickers       TEXT NOT NULL DEFAULT '[]',
	fetched_at    DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS news_results (
	content_hash   TEXT PRIMARY KEY,
	url            TEXT NOT NULL,
	canonical_url  TEXT NOT NULL,
	headline       TEXT NOT NULL,
	impact         INTEGER NOT NULL,
	direction      TEXT NOT NULL,
	category       TEXT NOT NULL,
	points         TEXT NOT NULL,
	confidence     REAL NOT NULL,
	model          TEXT NOT NULL,
	prompt_version TEXT NOT NULL,
	created_at     DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS news_view (
	content_hash   TEXT PRIMARY KEY,
	url            TEXT NOT NULL,
	canonical_url  TEXT NOT NULL,
	headline       TEXT NOT NULL,
	source         TEXT,
	published_at   DATETIME NOT NULL,
	tickers        TEXT NOT NULL DEFAULT '[]',
	impact         INTEGER NOT NULL,
	direction      TEXT NOT NULL,
	category       TEXT NOT NULL,
	points         TEXT NOT NULL,
	confidence     REAL NOT NULL,
	model          TEXT NOT NULL,
	prompt_version TEXT NOT NULL,
	updated_at     DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS pipeline_state (
	id    TEXT PRIMARY KEY,
	value DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_watchlists_ticker ON watchlists(ticker);
CREATE UNIQUE INDEX IF NOT EXISTS idx_watchlists_user_ticker ON watchlists(user_id, ticker);
CREATE INDEX IF NOT EXISTS idx_news_raw_ingest_fetched_at ON news_raw_ingest(fetched_at);
CREATE INDEX IF NOT EXISTS idx_news_view_published_at ON news_view(published_at);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) DistinctTickers(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT ticker FROM watchlists WHERE ticker <> ''`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: distinct tickers")
	}
	defer rows.Close()

	seen := make(map[string]bool)
	var tickers []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan ticker")
		}
		t = strings.ToUpper(strings.TrimSpace(t))
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		tickers = append(tickers, t)
	}
	return tickers, rows.Err()
}

func (s *SQLiteStore) AddWatchlistEntries(ctx context.Context, entries []model.WatchlistEntry) error {
	if len(entries) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin tx")
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO watchlists (id, user_id, ticker) VALUES (?, ?, ?)
		ON CONFLICT (user_id, ticker) DO NOTHING`)
	if err != nil {
		return eris.Wrap(err, "sqlite: prepare watchlist insert")
	}
	defer stmt.Close()

	for _, e := range entries {
		if _, err := stmt.ExecContext(ctx, uuid.NewString(), e.UserID, e.Ticker); err != nil {
			return eris.Wrap(err, "sqlite: insert watchlist entry")
		}
	}

	return eris.Wrap(tx.Commit(), "sqlite: commit watchlist insert")
}

func (s *SQLiteStore) UpsertRaw(ctx context.Context, items []model.CanonicalItem) error {
	if len(items) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin tx")
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO news_raw_ingest
			(content_hash, url, canonical_url, headline, source, published_at, tickers, fetched_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (content_hash) DO UPDATE SET
			url = excluded.url,
			canonical_url = excluded.canonical_url,
			headline = excluded.headline,
			source = excluded.source,
			published_at = excluded.published_at,
			tickers = excluded.tickers,
			fetched_at = excluded.fetched_at`)
	if err != nil {
		return eris.Wrap(err, "sqlite: prepare raw upsert")
	}
	defer stmt.Close()

	fetchedAt := time.Now().UTC()
	for _, item := range items {
		tickers, err := marshalStrings(item.Tickers)
		if err != nil {
			return err
		}
		if _, err := stmt.ExecContext(ctx,
			item.ContentHash, item.URL, item.CanonicalURL, item.Headline,
			item.Source, item.PublishedAt.UTC(), tickers, fetchedAt,
		); err != nil {
			return eris.Wrap(err, "sqlite: upsert raw news")
		}
	}

	return eris.Wrap(tx.Commit(), "sqlite: commit raw upsert")
}

func (s *SQLiteStore) InsertResultIfAbsent(ctx context.Context, res model.ImpactResult) (bool, error) {
	points, err := marshalStrings(res.Impact.Points)
	if err != nil {
		return false, err
	}

	out, err := s.db.ExecContext(ctx, `
		INSERT INTO news_results
			(content_hash, url, canonical_url, headline, impact, direction, category, points, confidence, model, prompt_version, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (content_hash) DO NOTHING`,
		res.ContentHash, res.URL, res.CanonicalURL, res.Headline,
		res.Impact.Score, string(res.Impact.Direction), string(res.Impact.Category),
		points, res.Impact.Confidence, res.Model, res.PromptVersion, res.CreatedAt.UTC(),
	)
	if err != nil {
		return false, eris.Wrap(err, "sqlite: insert result")
	}
	n, err := out.RowsAffected()
	if err != nil {
		return false, eris.Wrap(err, "sqlite: rows affected")
	}
	return n == 1, nil
}

func (s *SQLiteStore) ExistingHashes(ctx context.Context, hashes []string) (map[string]bool, error) {
	existing := make(map[string]bool, len(hashes))
	if len(hashes) == 0 {
		return existing, nil
	}

	placeholders := strings.Repeat("?,", len(hashes))
	placeholders = placeholders[:len(placeholders)-1]
	args := make([]any, len(hashes))
	for i, h := range hashes {
		args[i] = h
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT content_hash FROM news_results WHERE content_hash IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: query existing hashes")
	}
	defer rows.Close()

	for rows.Next() {
		var h string
		if err := rows.Scan(&h); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan existing hash")
		}
		existing[h] = true
	}
	return existing, rows.Err()
}

func (s *SQLiteStore) UpsertView(ctx context.Context, view model.NewsView) error {
	tickers, err := marshalStrings(view.Tickers)
	if err != nil {
		return err
	}
	points, err := marshalStrings(view.Impact.Points)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO news_view
			(content_hash, url, canonical_url, headline, source, published_at, tickers, impact, direction, category, points, confidence, model, prompt_version, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, datetime('now'))
		ON CONFLICT (content_hash) DO UPDATE SET
			url = excluded.url,
			canonical_url = excluded.canonical_url,
			headline = excluded.headline,
			source = excluded.source,
			published_at = excluded.published_at,
			tickers = excluded.tickers,
			impact = excluded.impact,
			direction = excluded.direction,
			category = excluded.category,
			points = excluded.points,
			confidence = excluded.confidence,
			model = excluded.model,
			prompt_version = excluded.prompt_version,
			updated_at = datetime('now')`,
		view.ContentHash, view.URL, view.CanonicalURL, view.Headline, view.Source,
		view.PublishedAt.UTC(), tickers, view.Impact.Score, string(view.Impact.Direction),
		string(view.Impact.Category), points, view.Impact.Confidence, view.Model, view.PromptVersion,
	)
	return eris.Wrap(err, "sqlite: upsert view")
}

func (s *SQLiteStore) GetWatermark(ctx context.Context) (time.Time, bool, error) {
	var value time.Time
	err := s.db.QueryRowContext(ctx, `SELECT value FROM pipeline_state WHERE id = ?`, WatermarkKey).Scan(&value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return time.Time{}, false, nil
		}
		return time.Time{}, false, eris.Wrap(err, "sqlite: get watermark")
	}
	return value, true, nil
}

func (s *SQLiteStore) SetWatermark(ctx context.Context, t time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO pipeline_state (id, value) VALUES (?, ?)
		ON CONFLICT (id) DO UPDATE SET value = excluded.value`,
		WatermarkKey, t.UTC(),
	)
	return eris.Wrap(err, "sqlite: set watermark")
}

func marshalStrings(vals []string) (string, error) {
	if vals == nil {
		vals = []string{}
	}
	data, err := json.Marshal(vals)
	if err != nil {
		return "", eris.Wrap(err, "sqlite: marshal string slice")
	}
	return string(data), nil
}
