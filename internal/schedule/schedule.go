// Package schedule runs the breaking-news evaluation loop on a fixed
// interval.
package schedule

import (
	"context"
	"time"

	"github.com/newsreel/newsreel/internal/logger"
)

// Ticker fires the job immediately and then on every interval until the
// context is cancelled or Stop is called. Cycle errors are logged, never
// fatal; the lock and daily cap keep an erroring loop from doing harm.
type Ticker struct {
	interval time.Duration
	stop     chan struct{}
}

func NewTicker(interval time.Duration) *Ticker {
	return &Ticker{interval: interval}
}

func (t *Ticker) Start(ctx context.Context, name string, job func(context.Context) error) {
	if t.stop != nil {
		return
	}
	t.stop = make(chan struct{})

	go func() {
		ticker := time.NewTicker(t.interval)
		defer ticker.Stop()

		runOnce := func() {
			if err := job(ctx); err != nil {
				logger.Error("scheduled cycle failed", "job", name, "error", err)
			}
		}

		logger.Info("schedule started", "job", name, "interval", t.interval.String())
		runOnce()
		for {
			select {
			case <-ticker.C:
				runOnce()
			case <-ctx.Done():
				logger.Info("schedule stopped", "job", name)
				return
			case <-t.stop:
				logger.Info("schedule stopped", "job", name)
				return
			}
		}
	}()
}

func (t *Ticker) Stop() {
	if t.stop == nil {
		return
	}
	close(t.stop)
	t.stop = nil
}
