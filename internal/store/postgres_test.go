package store

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/watchfolio/newsimpact/internal/model"
)

// newMockPostgresStore creates a PostgresStore backed by pgxmock for unit testing.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	s := &PostgresStore{pool: mock}
	return s, mock
}

func sampleResult() model.ImpactResult {
	return model.ImpactResult{
		ContentHash:  "abc123",
		URL:          "https://news.example.com/a?utm_source=x",
		CanonicalURL: "https://news.example.com/a",
		Headline:     "Apple beats estimates",
		Impact: model.Impact{
			Score:      8,
			Direction:  model.DirectionPositive,
			Category:   model.CategoryEarnings,
			Points:     []string{"record revenue", "guidance raised", "margin expansion"},
			Confidence: 0.9,
		},
		Model:         "claude-haiku-4-5-20251001",
		PromptVersion: "v1",
		CreatedAt:     time.Now().UTC(),
	}
}

func TestPostgresStore_InsertResultIfAbsent_Inserted(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	res := sampleResult()

	mock.ExpectExec(`INSERT INTO news_results`).
		WithArgs(res.ContentHash, res.URL, res.CanonicalURL, res.Headline,
			res.Impact.Score, "positive", "EARNINGS", res.Impact.Points,
			res.Impact.Confidence, res.Model, res.PromptVersion, res.CreatedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	inserted, err := s.InsertResultIfAbsent(context.Background(), res)
	require.NoError(t, err)
	assert.True(t, inserted)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_InsertResultIfAbsent_Conflict(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	res := sampleResult()

	mock.ExpectExec(`INSERT INTO news_results`).
		WithArgs(res.ContentHash, res.URL, res.CanonicalURL, res.Headline,
			res.Impact.Score, "positive", "EARNINGS", res.Impact.Points,
			res.Impact.Confidence, res.Model, res.PromptVersion, res.CreatedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))

	inserted, err := s.InsertResultIfAbsent(context.Background(), res)
	require.NoError(t, err)
	assert.False(t, inserted, "conflict must report not-inserted, not error")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_DistinctTickers_Normalized(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	rows := pgxmock.NewRows([]string{"ticker"}).
		AddRow("aapl").
		AddRow(" MSFT ").
		AddRow("AAPL").
		AddRow("")

	mock.ExpectQuery(`SELECT DISTINCT ticker FROM watchlists`).WillReturnRows(rows)

	tickers, err := s.DistinctTickers(context.Background())
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"AAPL", "MSFT"}, tickers)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_AddWatchlistEntries(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO watchlists`).
		WithArgs([]string{"u1", "u1"}, []string{"AAPL", "MSFT"}).
		WillReturnResult(pgxmock.NewResult("INSERT", 2))

	err := s.AddWatchlistEntries(context.Background(), []model.WatchlistEntry{
		{UserID: "u1", Ticker: "AAPL"},
		{UserID: "u1", Ticker: "MSFT"},
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_AddWatchlistEntries_EmptyInput(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	require.NoError(t, s.AddWatchlistEntries(context.Background(), nil))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ExistingHashes(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT content_hash FROM news_results WHERE content_hash = ANY`).
		WithArgs([]string{"h1", "h2", "h3"}).
		WillReturnRows(pgxmock.NewRows([]string{"content_hash"}).AddRow("h2"))

	existing, err := s.ExistingHashes(context.Background(), []string{"h1", "h2", "h3"})
	require.NoError(t, err)
	assert.Equal(t, map[string]bool{"h2": true}, existing)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ExistingHashes_EmptyInput(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	existing, err := s.ExistingHashes(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, existing)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetWatermark_NeverSet(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT value FROM pipeline_state`).
		WithArgs(WatermarkKey).
		WillReturnError(pgx.ErrNoRows)

	_, ok, err := s.GetWatermark(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetWatermark_Set(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	want := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`SELECT value FROM pipeline_state`).
		WithArgs(WatermarkKey).
		WillReturnRows(pgxmock.NewRows([]string{"value"}).AddRow(want))

	got, ok, err := s.GetWatermark(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, want, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SetWatermark(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	ts := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectExec(`INSERT INTO pipeline_state`).
		WithArgs(WatermarkKey, ts).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, s.SetWatermark(context.Background(), ts))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpsertRaw_EmptyBatchSkipsDB(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	require.NoError(t, s.UpsertRaw(context.Background(), nil))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func rawItem(url, hash, headline string) model.CanonicalItem {
	return model.CanonicalItem{
		FetchedItem: model.FetchedItem{
			URL:         url,
			Headline:    headline,
			Source:      "Example Wire",
			PublishedAt: time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC),
			Tickers:     []string{"AAPL"},
		},
		CanonicalURL: url,
		ContentHash:  hash,
	}
}

func expectRawBulkUpsert(m pgxmock.PgxPoolIface, n int64) {
	cols := []string{"content_hash", "url", "canonical_url", "headline", "source", "published_at", "tickers", "fetched_at"}
	m.ExpectBegin()
	m.ExpectExec("CREATE TEMP TABLE").WillReturnResult(pgxmock.NewResult("CREATE", 0))
	m.ExpectCopyFrom(pgx.Identifier{"_tmp_upsert_news_raw_ingest"}, cols).WillReturnResult(n)
	m.ExpectExec("INSERT INTO").WillReturnResult(pgxmock.NewResult("INSERT", n))
	m.ExpectCommit()
}

func TestPostgresStore_UpsertRaw_DuplicateHashBatch(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	// The same article seen for two tickers carries the same hash twice in
	// one batch; the upsert must collapse it rather than propose the row
	// twice to a single ON CONFLICT command.
	items := []model.CanonicalItem{
		rawItem("https://n.example.com/a", "h1", "first sighting"),
		rawItem("https://n.example.com/b", "h2", "other article"),
		rawItem("https://n.example.com/a?utm_source=x", "h1", "second sighting"),
	}

	expectRawBulkUpsert(mock, 2)

	require.NoError(t, s.UpsertRaw(context.Background(), items))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCollapseByHash_LastSightingWins(t *testing.T) {
	items := []model.CanonicalItem{
		rawItem("https://n.example.com/a", "h1", "first sighting"),
		rawItem("https://n.example.com/b", "h2", "other article"),
		rawItem("https://n.example.com/a?utm_source=x", "h1", "second sighting"),
	}

	out := collapseByHash(items)

	require.Len(t, out, 2)
	assert.Equal(t, "h1", out[0].ContentHash)
	assert.Equal(t, "second sighting", out[0].Headline)
	assert.Equal(t, "h2", out[1].ContentHash)
}

func TestPostgresStore_UpsertView(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	res := sampleResult()
	view := model.NewsView{
		ContentHash:   res.ContentHash,
		URL:           res.URL,
		CanonicalURL:  res.CanonicalURL,
		Headline:      res.Headline,
		Source:        "Example News",
		PublishedAt:   time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC),
		Tickers:       []string{"AAPL"},
		Impact:        res.Impact,
		Model:         res.Model,
		PromptVersion: res.PromptVersion,
	}

	mock.ExpectExec(`INSERT INTO news_view`).
		WithArgs(view.ContentHash, view.URL, view.CanonicalURL, view.Headline,
			view.Source, view.PublishedAt, view.Tickers, view.Impact.Score,
			"positive", "EARNINGS", view.Impact.Points, view.Impact.Confidence,
			view.Model, view.PromptVersion).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, s.UpsertView(context.Background(), view))
	assert.NoError(t, mock.ExpectationsWereMet())
}
