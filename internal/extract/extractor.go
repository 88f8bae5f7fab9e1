package extract

import (
	"context"
	"fmt"
	"time"

	"github.com/watchfolio/newsimpact/internal/resilience"
)

// Result is the readable text of a successfully extracted page.
type Result struct {
	Content   string
	WordCount int
}

// Extractor renders a page and applies the minimum-content policy.
//
// A page that renders but yields fewer than minWords of readable text is not
// an error; Extract returns (nil, nil) and the caller records a skip. Render
// timeouts surface as a *resilience.TimeoutError so callers can keep the
// reason in their telemetry before treating the item as skipped.
type Extractor struct {
	renderer Renderer
	timeout  time.Duration
	minWords int
}

// NewExtractor wires an Extractor over the given renderer.
func NewExtractor(renderer Renderer, timeout time.Duration, minWords int) *Extractor {
	return &Extractor{renderer: renderer, timeout: timeout, minWords: minWords}
}

// Extract renders url and returns its readable text, or nil when the page
// carries too little content to classify.
func (e *Extractor) Extract(ctx context.Context, url string) (*Result, error) {
	msg := fmt.Sprintf("extraction of %s timed out after %s", url, e.timeout)
	return resilience.WithTimeout(ctx, e.timeout, msg, func(ctx context.Context) (*Result, error) {
		html, err := e.renderer.Render(ctx, url)
		if err != nil {
			return nil, err
		}
		text, err := ReadableText(html)
		if err != nil {
			return nil, err
		}
		words := CountWords(text)
		if words < e.minWords {
			return nil, nil
		}
		return &Result{Content: text, WordCount: words}, nil
	})
}

// Close releases the underlying renderer.
func (e *Extractor) Close() error {
	return e.renderer.Close()
}
