// Package massive provides a client for the Massive (formerly Polygon)
// reference news API.
package massive

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"
)

// Default base URL for the Massive REST API.
const defaultBaseURL = "https://api.massive.com"

// maxPageLimit is the provider-side cap on the news page size.
const maxPageLimit = 1000

// Client defines the Massive API operations used by the pipeline.
type Client interface {
	ListNews(ctx context.Context, params NewsParams) (*NewsResponse, error)
}

// NewsParams bounds a news listing request.
type NewsParams struct {
	Ticker       string
	PublishedGTE time.Time
	PublishedLTE time.Time
	Limit        int
}

// NewsResponse is the response from GET /v2/reference/news.
type NewsResponse struct {
	Status  string       `json:"status"`
	Count   int          `json:"count"`
	Results []NewsResult `json:"results"`
}

// NewsResult is a single article reference.
type NewsResult struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	ArticleURL   string    `json:"article_url"`
	PublishedUTC time.Time `json:"published_utc"`
	Tickers      []string  `json:"tickers"`
	Publisher    Publisher `json:"publisher"`
}

// Publisher identifies the article's source outlet.
type Publisher struct {
	Name string `json:"name"`
}

// APIError is returned when Massive responds with a non-2xx status.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("massive: HTTP %d: %s", e.StatusCode, e.Body)
}

// Option configures the httpClient.
type Option func(*httpClient)

// WithBaseURL overrides the default base URL.
func WithBaseURL(url string) Option {
	return func(c *httpClient) {
		c.baseURL = url
	}
}

// WithHTTPClient sets a custom *http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithRateLimit throttles outgoing requests to rps requests per second.
func WithRateLimit(rps float64) Option {
	return func(c *httpClient) {
		if rps > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(rps), 1)
		}
	}
}

// httpClient implements Client using net/http.
type httpClient struct {
	apiKey  string
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
}

// NewClient creates a new Massive client.
func NewClient(apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		http: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *httpClient) ListNews(ctx context.Context, params NewsParams) (*NewsResponse, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, eris.Wrap(err, "massive: rate limiter wait")
		}
	}

	limit := params.Limit
	if limit <= 0 || limit > maxPageLimit {
		limit = maxPageLimit
	}

	q := url.Values{}
	q.Set("order", "desc")
	q.Set("sort", "published_utc")
	q.Set("limit", strconv.Itoa(limit))
	q.Set("apiKey", c.apiKey)
	if params.Ticker != "" {
		q.Set("ticker", params.Ticker)
	}
	if !params.PublishedGTE.IsZero() {
		q.Set("published_utc.gte", params.PublishedGTE.UTC().Format(time.RFC3339))
	}
	if !params.PublishedLTE.IsZero() {
		q.Set("published_utc.lte", params.PublishedLTE.UTC().Format(time.RFC3339))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v2/reference/news?"+q.Encode(), nil)
	if err != nil {
		return nil, eris.Wrap(err, "massive: create request")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "massive: execute request")
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "massive: read response body")
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &APIError{
			StatusCode: resp.StatusCode,
			Body:       string(data),
		}
	}

	var out NewsResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, eris.Wrap(err, "massive: decode response")
	}

	return &out, nil
}
