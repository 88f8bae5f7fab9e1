// Package extract renders article pages and distills their readable text.
package extract

import (
	"context"

	"github.com/chromedp/chromedp"
	"github.com/rotisserie/eris"
)

// Renderer fetches the fully rendered HTML for a URL. It is modeled as a
// capability so tests can substitute a fake without spawning browsers.
type Renderer interface {
	Render(ctx context.Context, url string) (string, error)
	Close() error
}

// ChromeRenderer drives a single headless Chrome process. Each Render call
// runs in its own isolated tab; the browser is shared across calls within a
// run to amortize startup cost.
type ChromeRenderer struct {
	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc
}

// NewChromeRenderer launches a headless browser. Callers must Close it once
// the run completes.
func NewChromeRenderer(ctx context.Context) (*ChromeRenderer, error) {
	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, chromedp.DefaultExecAllocatorOptions[:]...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)

	// Start the browser process eagerly so the first Render doesn't pay for it.
	if err := chromedp.Run(browserCtx); err != nil {
		browserCancel()
		allocCancel()
		return nil, eris.Wrap(err, "extract: launch browser")
	}

	return &ChromeRenderer{
		allocCancel:   allocCancel,
		browserCtx:    browserCtx,
		browserCancel: browserCancel,
	}, nil
}

// Render navigates an isolated tab to url and returns the document HTML.
// The tab is torn down on every exit path, including caller cancellation.
func (r *ChromeRenderer) Render(ctx context.Context, url string) (string, error) {
	tabCtx, tabCancel := chromedp.NewContext(r.browserCtx)
	defer tabCancel()

	// Tie the tab's lifetime to the caller's context so an abandoned render
	// still releases its page.
	stop := context.AfterFunc(ctx, tabCancel)
	defer stop()

	var html string
	err := chromedp.Run(tabCtx,
		chromedp.Navigate(url),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", eris.Wrapf(err, "extract: render %s", url)
	}
	return html, nil
}

// Close tears down the shared browser process.
func (r *ChromeRenderer) Close() error {
	r.browserCancel()
	r.allocCancel()
	return nil
}
