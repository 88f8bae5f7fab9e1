package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/watchfolio/newsimpact/internal/model"
)

func TestRunner_RejectsOverlappingRun(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	r := &Runner{run: func(ctx context.Context) (*model.RunSummary, error) {
		close(started)
		<-release
		return &model.RunSummary{RunID: "first"}, nil
	}}

	done := make(chan *model.RunSummary, 1)
	go func() {
		summary, err := r.Run(context.Background())
		assert.NoError(t, err)
		done <- summary
	}()

	<-started
	_, err := r.Run(context.Background())
	assert.ErrorIs(t, err, ErrAlreadyRunning)

	close(release)
	select {
	case summary := <-done:
		assert.Equal(t, "first", summary.RunID)
	case <-time.After(time.Second):
		t.Fatal("first run never finished")
	}
}

func TestRunner_SequentialRunsAllowed(t *testing.T) {
	calls := 0
	r := &Runner{run: func(ctx context.Context) (*model.RunSummary, error) {
		calls++
		return &model.RunSummary{}, nil
	}}

	for range 3 {
		_, err := r.Run(context.Background())
		require.NoError(t, err)
	}
	assert.Equal(t, 3, calls)
}

func TestRunner_WrapsPipeline(t *testing.T) {
	f := newFixture()
	r := NewRunner(f.pipeline)

	summary, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.NotEmpty(t, summary.RunID)
}
