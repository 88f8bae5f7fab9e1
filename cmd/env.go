package main

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/watchfolio/newsimpact/internal/classify"
	"github.com/watchfolio/newsimpact/internal/extract"
	"github.com/watchfolio/newsimpact/internal/fetch"
	"github.com/watchfolio/newsimpact/internal/pipeline"
	"github.com/watchfolio/newsimpact/internal/resilience"
	"github.com/watchfolio/newsimpact/internal/store"
	anthropicpkg "github.com/watchfolio/newsimpact/pkg/anthropic"
	"github.com/watchfolio/newsimpact/pkg/massive"
)

// pipelineEnv holds the initialized store and the locked pipeline runner
// shared by the run and serve commands.
type pipelineEnv struct {
	Store  store.Store
	Runner *pipeline.Runner
}

// Close releases resources held by the pipeline environment.
func (pe *pipelineEnv) Close() {
	if pe.Store != nil {
		_ = pe.Store.Close()
	}
}

// initPipeline opens the store, runs migrations, wires the stage clients, and
// builds the single-flight runner. Callers should defer env.Close().
func initPipeline(ctx context.Context) (*pipelineEnv, error) {
	st, err := store.Open(ctx, cfg.Store)
	if err != nil {
		return nil, err
	}

	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	retry := resilience.RetryConfig{
		MaxAttempts: cfg.Pipeline.RetryAttempts,
		BaseDelay:   cfg.Pipeline.RetryBaseDelay(),
		MaxDelay:    cfg.Pipeline.RetryMaxDelay(),
	}

	newsClient := massive.NewClient(cfg.Massive.Key,
		massive.WithBaseURL(cfg.Massive.BaseURL),
		massive.WithRateLimit(cfg.Massive.RateLimitRPS),
	)
	fetcher := fetch.New(newsClient, retry, cfg.Pipeline.FetchLimit)

	factory := func(ctx context.Context) (pipeline.ArticleExtractor, error) {
		renderer, err := extract.NewChromeRenderer(ctx)
		if err != nil {
			return nil, err
		}
		return extract.NewExtractor(renderer, cfg.Pipeline.ExtractTimeout(), cfg.Pipeline.MinWordCount), nil
	}

	classifier := classify.New(anthropicpkg.NewClient(cfg.Anthropic.Key), classify.Params{
		Model:           cfg.Anthropic.Model,
		PromptVersion:   cfg.Pipeline.PromptVersion,
		MaxArticleChars: cfg.Pipeline.MaxInputChars,
		Retry:           retry,
	})

	p := pipeline.New(st, fetcher, factory, classifier, pipeline.Config{
		ExtractConcurrency:  cfg.Pipeline.ExtractConcurrency,
		ClassifyConcurrency: cfg.Pipeline.ClassifyConcurrency,
		InitialLookback:     cfg.Pipeline.InitialLookback(),
	})

	return &pipelineEnv{
		Store:  st,
		Runner: pipeline.NewRunner(p),
	}, nil
}
