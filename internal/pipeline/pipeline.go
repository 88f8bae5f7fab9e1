// Package pipeline orchestrates one ingestion run: discover tickers, fetch
// candidate articles since the watermark, dedup by content hash, extract
// readable text, classify impact, and persist results exactly once.
package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/watchfolio/newsimpact/internal/extract"
	"github.com/watchfolio/newsimpact/internal/model"
	"github.com/watchfolio/newsimpact/internal/resilience"
	"github.com/watchfolio/newsimpact/internal/store"
	"github.com/watchfolio/newsimpact/internal/urlutil"
)

// NewsFetcher pulls candidate articles per ticker.
type NewsFetcher interface {
	FetchSince(ctx context.Context, since time.Time, tickers []string) []model.FetchedItem
}

// ArticleExtractor renders and distills one article page.
type ArticleExtractor interface {
	Extract(ctx context.Context, url string) (*extract.Result, error)
	Close() error
}

// ExtractorFactory builds the extractor for a single run. The pipeline owns
// its lifetime: one browser per run, closed when the extraction stage ends.
type ExtractorFactory func(ctx context.Context) (ArticleExtractor, error)

// ImpactClassifier scores one extracted article.
type ImpactClassifier interface {
	Classify(ctx context.Context, item model.ExtractedItem) (*model.Impact, error)
	Model() string
	PromptVersion() string
}

// Config bounds the pipeline's stage concurrency and its catch-up window.
type Config struct {
	ExtractConcurrency  int
	ClassifyConcurrency int
	InitialLookback     time.Duration
}

// Pipeline runs the ingestion batch end to end.
type Pipeline struct {
	store        store.Store
	fetcher      NewsFetcher
	newExtractor ExtractorFactory
	classifier   ImpactClassifier
	cfg          Config
	now          func() time.Time
}

// New assembles a Pipeline from its stage implementations.
func New(st store.Store, fetcher NewsFetcher, factory ExtractorFactory, classifier ImpactClassifier, cfg Config) *Pipeline {
	if cfg.ExtractConcurrency < 1 {
		cfg.ExtractConcurrency = 1
	}
	if cfg.ClassifyConcurrency < 1 {
		cfg.ClassifyConcurrency = 1
	}
	return &Pipeline{
		store:        st,
		fetcher:      fetcher,
		newExtractor: factory,
		classifier:   classifier,
		cfg:          cfg,
		now:          time.Now,
	}
}

// Run executes one ingestion batch. Per-item failures are counted in the
// summary; only store and watermark faults abort the run. An aborted run
// leaves the watermark untouched so the next run re-covers its window.
func (p *Pipeline) Run(ctx context.Context) (*model.RunSummary, error) {
	runID := uuid.NewString()
	runStart := p.now().UTC()
	summary := &model.RunSummary{RunID: runID}

	log := zap.L().With(zap.String("run_id", runID))
	log.Info("pipeline run started", zap.Time("started_at", runStart))

	tickers, err := p.store.DistinctTickers(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: discover tickers")
	}

	since, ok, err := p.store.GetWatermark(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: read watermark")
	}
	if !ok {
		since = runStart.Add(-p.cfg.InitialLookback)
	}

	// With nothing watched, still advance the watermark so a later watchlist
	// addition does not trigger a giant catch-up window.
	if len(tickers) == 0 {
		if err := p.store.SetWatermark(ctx, runStart); err != nil {
			return nil, eris.Wrap(err, "pipeline: advance watermark")
		}
		log.Info("no watched tickers, run skipped")
		return summary, nil
	}

	fetched := p.fetcher.FetchSince(ctx, since, tickers)
	summary.Ingested = len(fetched)

	canonical := p.canonicalize(log, fetched, summary)

	if err := p.store.UpsertRaw(ctx, canonical); err != nil {
		return nil, eris.Wrap(err, "pipeline: record raw observations")
	}

	pending, err := p.filterDone(ctx, log, canonical, summary)
	if err != nil {
		return nil, err
	}

	extracted, err := p.extractAll(ctx, log, pending, summary)
	if err != nil {
		return nil, err
	}

	p.classifyAll(ctx, log, extracted, summary)

	// The watermark records the run's start time so items published while the
	// run was in flight are re-fetched next time.
	if err := p.store.SetWatermark(ctx, runStart); err != nil {
		return nil, eris.Wrap(err, "pipeline: advance watermark")
	}

	log.Info("pipeline run finished",
		zap.Int("ingested", summary.Ingested),
		zap.Int("extracted_ok", summary.ExtractedOK),
		zap.Int("skipped_no_content", summary.SkippedNoContent),
		zap.Int("ai_ok", summary.AIOK),
		zap.Int("failed", summary.Failed),
		zap.Int("already_done", summary.AlreadyDone),
		zap.Duration("took", p.now().UTC().Sub(runStart)),
	)
	return summary, nil
}

// canonicalize resolves each fetched URL to its canonical form and content
// hash. Items with unparseable URLs are counted as failed and dropped.
func (p *Pipeline) canonicalize(log *zap.Logger, fetched []model.FetchedItem, summary *model.RunSummary) []model.CanonicalItem {
	out := make([]model.CanonicalItem, 0, len(fetched))
	for _, item := range fetched {
		started := p.now()
		cu, err := urlutil.Canonicalize(item.URL)
		if err != nil {
			summary.Failed++
			logItem(log, item.URL, "", "ingest", "fail", started, p.now(), err)
			continue
		}
		ci := model.CanonicalItem{
			FetchedItem:  item,
			CanonicalURL: cu,
			ContentHash:  urlutil.Hash(cu),
		}
		out = append(out, ci)
		logItem(log, item.URL, ci.ContentHash, "ingest", "ok", started, p.now(), nil)
	}
	return out
}

// filterDone collapses duplicate hashes within the run (last sighting wins
// for metadata) and drops items that already have a stored result.
func (p *Pipeline) filterDone(ctx context.Context, log *zap.Logger, canonical []model.CanonicalItem, summary *model.RunSummary) ([]model.CanonicalItem, error) {
	var order []string
	byHash := make(map[string]model.CanonicalItem, len(canonical))
	for _, ci := range canonical {
		if _, seen := byHash[ci.ContentHash]; !seen {
			order = append(order, ci.ContentHash)
		}
		byHash[ci.ContentHash] = ci
	}

	done, err := p.store.ExistingHashes(ctx, order)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: check existing results")
	}

	pending := make([]model.CanonicalItem, 0, len(order))
	for _, hash := range order {
		ci := byHash[hash]
		if done[hash] {
			summary.AlreadyDone++
			logItem(log, ci.URL, hash, "store", "skip", p.now(), p.now(), nil)
			continue
		}
		pending = append(pending, ci)
	}
	return pending, nil
}

// extractAll runs the extraction pool. The browser lives for exactly this
// stage; extraction timeouts and thin pages count as skips, not failures.
func (p *Pipeline) extractAll(ctx context.Context, log *zap.Logger, pending []model.CanonicalItem, summary *model.RunSummary) ([]model.ExtractedItem, error) {
	if len(pending) == 0 {
		return nil, nil
	}

	extractor, err := p.newExtractor(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: start extractor")
	}
	defer extractor.Close()

	var (
		mu        sync.Mutex
		extracted []model.ExtractedItem
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.ExtractConcurrency)
	for _, ci := range pending {
		g.Go(func() error {
			started := p.now()
			// Render the URL as fetched; stripped parameters can change what
			// a page serves. The canonical form is identity only.
			res, extractErr := extractor.Extract(gctx, ci.URL)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case extractErr != nil && resilience.IsTimeout(extractErr):
				summary.SkippedNoContent++
				logItem(log, ci.URL, ci.ContentHash, "extract", "skip", started, p.now(), extractErr)
			case extractErr != nil:
				summary.Failed++
				logItem(log, ci.URL, ci.ContentHash, "extract", "fail", started, p.now(), extractErr)
			case res == nil:
				summary.SkippedNoContent++
				logItem(log, ci.URL, ci.ContentHash, "extract", "skip", started, p.now(), nil)
			default:
				summary.ExtractedOK++
				extracted = append(extracted, model.ExtractedItem{CanonicalItem: ci, Content: res.Content})
				logItem(log, ci.URL, ci.ContentHash, "extract", "ok", started, p.now(), nil)
			}
			return nil
		})
	}
	_ = g.Wait()
	return extracted, nil
}

// classifyAll runs the classification pool and persists each verdict. A
// result row is only ever written on a real insert; the view row follows it.
func (p *Pipeline) classifyAll(ctx context.Context, log *zap.Logger, extracted []model.ExtractedItem, summary *model.RunSummary) {
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.ClassifyConcurrency)
	for _, item := range extracted {
		g.Go(func() error {
			started := p.now()
			impact, err := p.classifier.Classify(gctx, item)
			if err != nil {
				mu.Lock()
				summary.Failed++
				mu.Unlock()
				logItem(log, item.URL, item.ContentHash, "ai", "fail", started, p.now(), err)
				return nil
			}
			mu.Lock()
			summary.AIOK++
			mu.Unlock()
			logItem(log, item.URL, item.ContentHash, "ai", "ok", started, p.now(), nil)

			p.persist(gctx, log, item, *impact, summary, &mu)
			return nil
		})
	}
	_ = g.Wait()
}

func (p *Pipeline) persist(ctx context.Context, log *zap.Logger, item model.ExtractedItem, impact model.Impact, summary *model.RunSummary, mu *sync.Mutex) {
	started := p.now()
	res := model.ImpactResult{
		ContentHash:   item.ContentHash,
		URL:           item.URL,
		CanonicalURL:  item.CanonicalURL,
		Headline:      item.Headline,
		Impact:        impact,
		Model:         p.classifier.Model(),
		PromptVersion: p.classifier.PromptVersion(),
		CreatedAt:     p.now().UTC(),
	}

	inserted, err := p.store.InsertResultIfAbsent(ctx, res)
	if err != nil {
		mu.Lock()
		summary.Failed++
		mu.Unlock()
		logItem(log, item.URL, item.ContentHash, "store", "fail", started, p.now(), err)
		return
	}
	if !inserted {
		// A concurrent or earlier run got there first.
		mu.Lock()
		summary.AlreadyDone++
		mu.Unlock()
		logItem(log, item.URL, item.ContentHash, "store", "skip", started, p.now(), nil)
		return
	}

	view := model.NewsView{
		ContentHash:   item.ContentHash,
		URL:           item.URL,
		CanonicalURL:  item.CanonicalURL,
		Headline:      item.Headline,
		Source:        item.Source,
		PublishedAt:   item.PublishedAt,
		Tickers:       item.Tickers,
		Impact:        impact,
		Model:         res.Model,
		PromptVersion: res.PromptVersion,
	}
	if err := p.store.UpsertView(ctx, view); err != nil {
		mu.Lock()
		summary.Failed++
		mu.Unlock()
		logItem(log, item.URL, item.ContentHash, "store", "fail", started, p.now(), err)
		return
	}

	logItem(log, item.URL, item.ContentHash, "store", "ok", started, p.now(), nil)
}

// logItem emits the per-item structured event shared by every stage.
func logItem(log *zap.Logger, url, hash, stage, status string, started, finished time.Time, err error) {
	fields := []zap.Field{
		zap.String("url", url),
		zap.String("content_hash", hash),
		zap.String("stage", stage),
		zap.String("status", status),
		zap.Int64("duration_ms", finished.Sub(started).Milliseconds()),
	}
	if err != nil {
		fields = append(fields, zap.Error(err))
	}

	if status == "fail" {
		log.Warn("pipeline item", fields...)
		return
	}
	log.Info("pipeline item", fields...)
}
