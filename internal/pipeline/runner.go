package pipeline

import (
	"context"
	"sync"

	"github.com/rotisserie/eris"

	"github.com/watchfolio/newsimpact/internal/model"
)

// ErrAlreadyRunning is returned when a run is requested while another run
// holds the lock. Callers (cron, HTTP) skip rather than queue.
var ErrAlreadyRunning = eris.New("pipeline: run already in progress")

// Runner serializes pipeline runs within the process. At most one run is in
// flight at any time; overlapping triggers are rejected immediately.
type Runner struct {
	mu  sync.Mutex
	run func(ctx context.Context) (*model.RunSummary, error)
}

// NewRunner wraps the pipeline behind the single-flight lock.
func NewRunner(p *Pipeline) *Runner {
	return &Runner{run: p.Run}
}

// Run executes one pipeline run, or returns ErrAlreadyRunning without
// blocking if one is already in flight.
func (r *Runner) Run(ctx context.Context) (*model.RunSummary, error) {
	if !r.mu.TryLock() {
		return nil, ErrAlreadyRunning
	}
	defer r.mu.Unlock()
	return r.run(ctx)
}
