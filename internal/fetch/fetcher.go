// Package fetch pulls candidate news items per watched ticker from the
// external news provider.
package fetch

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/watchfolio/newsimpact/internal/model"
	"github.com/watchfolio/newsimpact/internal/resilience"
	"github.com/watchfolio/newsimpact/pkg/massive"
)

// Fetcher queries the news provider once per ticker with bounded retries.
type Fetcher struct {
	client massive.Client
	retry  resilience.RetryConfig
	limit  int
}

// New creates a Fetcher. limit bounds the per-ticker page size.
func New(client massive.Client, retry resilience.RetryConfig, limit int) *Fetcher {
	retry.ShouldRetry = isRetryable
	return &Fetcher{client: client, retry: retry, limit: limit}
}

// FetchSince returns all candidate articles published in [since, now) for the
// given tickers. Per-ticker calls run concurrently; a ticker whose retries are
// exhausted is logged and dropped without affecting the rest of the batch.
// An empty ticker set returns nil without calling the provider.
func (f *Fetcher) FetchSince(ctx context.Context, since time.Time, tickers []string) []model.FetchedItem {
	if len(tickers) == 0 {
		return nil
	}

	to := time.Now().UTC()

	var (
		mu    sync.Mutex
		items []model.FetchedItem
		wg    sync.WaitGroup
	)

	for _, ticker := range tickers {
		wg.Add(1)
		go func() {
			defer wg.Done()

			resp, err := resilience.DoVal(ctx, f.retry, func(ctx context.Context) (*massive.NewsResponse, error) {
				return f.client.ListNews(ctx, massive.NewsParams{
					Ticker:       ticker,
					PublishedGTE: since,
					PublishedLTE: to,
					Limit:        f.limit,
				})
			})
			if err != nil {
				// One noisy ticker must not block ingestion for the others.
				zap.L().Warn("news fetch failed for ticker",
					zap.String("ticker", ticker),
					zap.Error(err),
				)
				return
			}

			batch := make([]model.FetchedItem, 0, len(resp.Results))
			for _, r := range resp.Results {
				batch = append(batch, model.FetchedItem{
					URL:         r.ArticleURL,
					Headline:    r.Title,
					Source:      r.Publisher.Name,
					PublishedAt: r.PublishedUTC,
					Tickers:     r.Tickers,
				})
			}

			mu.Lock()
			items = append(items, batch...)
			mu.Unlock()
		}()
	}

	wg.Wait()
	return items
}

// isRetryable treats provider 408/429/5xx responses and network-level
// failures as transient.
func isRetryable(err error) bool {
	var apiErr *massive.APIError
	if errors.As(err, &apiErr) {
		return resilience.IsTransientHTTPStatus(apiErr.StatusCode)
	}
	return resilience.IsTransient(err)
}
