package store

import (
	"context"
	"fmt"
	"time"

	"github.com/adhocore/gronx"

	"github.com/tinyland-inc/picorelay/pkg/logger"
)

// StatsFlusher persists deferred stats on a cron schedule.
type StatsFlusher struct {
	store *Store
	expr  string
	now   func() time.Time
}

// NewStatsFlusher validates expr, a standard five-field cron expression.
func NewStatsFlusher(s *Store, expr string) (*StatsFlusher, error) {
	if !gronx.New().IsValid(expr) {
		return nil, fmt.Errorf("invalid stats flush schedule %q", expr)
	}
	return &StatsFlusher{store: s, expr: expr, now: time.Now}, nil
}

// Next returns the first tick strictly after ref.
func (f *StatsFlusher) Next(ref time.Time) (time.Time, error) {
	return gronx.NextTickAfter(f.expr, ref, false)
}

// Run flushes on every tick until ctx is done, then flushes once more with a
// fresh context so pending counters survive shutdown.
func (f *StatsFlusher) Run(ctx context.Context) error {
	logger.InfoCF("store", "Stats flusher started", map[string]any{"schedule": f.expr})
	defer f.final()

	for {
		next, err := f.Next(f.now())
		if err != nil {
			return err
		}
		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
			if err := f.store.FlushStats(ctx); err != nil {
				logger.WarnCF("store", "Scheduled stats flush failed", map[string]any{"error": err.Error()})
			}
		}
	}
}

func (f *StatsFlusher) final() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := f.store.FlushStats(ctx); err != nil {
		logger.ErrorCF("store", "Final stats flush failed", map[string]any{"error": err.Error()})
	}
}
