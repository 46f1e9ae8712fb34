package app

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/newsreel/newsreel/internal/breaking"
	"github.com/newsreel/newsreel/internal/config"
	"github.com/newsreel/newsreel/internal/feed"
	"github.com/newsreel/newsreel/internal/grouper"
	"github.com/newsreel/newsreel/internal/notify"
	"github.com/newsreel/newsreel/internal/pipeline"
	"github.com/newsreel/newsreel/internal/scraper"
	"github.com/newsreel/newsreel/internal/selector"
	"github.com/newsreel/newsreel/internal/state"
)

// newIdleApp wires an App whose feed catalog has no sources, so every
// breaking cycle comes up empty.
func newIdleApp(t *testing.T) *App {
	t.Helper()
	dir := t.TempDir()

	store, err := state.NewFileStore(filepath.Join(dir, "state.json"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	cfg := &config.Config{
		DailyMaxAge:     24 * time.Hour,
		UsedRetention:   30 * 24 * time.Hour,
		UsedMaxPerGroup: 500,
		OutputDir:       dir,
	}
	catalog := &feed.Catalog{Categories: []feed.CategoryConfig{{Name: "world"}}}

	return &App{
		cfg:      cfg,
		store:    store,
		reader:   feed.NewReader(catalog, feed.ReaderOptions{}),
		grouper:  grouper.New(0.40),
		selector: selector.New(store, 0.50),
		detector: breaking.NewDetector(store, 5, 2, 30*time.Minute),
		scraper:  scraper.New(),
		notifier: notify.NewNotifier("", ""),
		// Pre-built so the cycle does not require provider credentials.
		pipe: pipeline.New(nil, nil, nil, nil, nil, pipeline.Options{OutputDir: dir}),
	}
}

func TestBreakingCycleIdleProducesSummary(t *testing.T) {
	a := newIdleApp(t)

	summary, err := a.RunBreakingCycle(context.Background(), false)
	require.NoError(t, err)
	require.NotNil(t, summary)

	assert.Equal(t, pipeline.StatusNoOp, summary.Status)
	assert.Equal(t, pipeline.BreakingShorts, summary.ContentType)
	assert.NotEmpty(t, summary.JobID)
	assert.NotEmpty(t, summary.Error)

	// The idle outcome is persisted like any other terminal summary.
	matches, err := filepath.Glob(filepath.Join(a.cfg.OutputDir, "summary_*.json"))
	require.NoError(t, err)
	assert.Len(t, matches, 1)
}

func TestBreakingCycleDryRunHasNoSideEffects(t *testing.T) {
	a := newIdleApp(t)

	summary, err := a.RunBreakingCycle(context.Background(), true)
	require.NoError(t, err)
	assert.Nil(t, summary)

	matches, err := filepath.Glob(filepath.Join(a.cfg.OutputDir, "summary_*.json"))
	require.NoError(t, err)
	assert.Empty(t, matches)
}
