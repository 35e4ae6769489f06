package ingest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/mymmrac/telego"

	"github.com/tinyland-inc/picorelay/pkg/logger"
)

// UpdateSource is the provider side of long polling.
type UpdateSource interface {
	GetUpdates(ctx context.Context, offset, limit, timeout int) ([]telego.Update, error)
	DeleteWebhook(ctx context.Context, dropPending bool) error
}

type PollerConfig struct {
	Limit       int
	Timeout     int
	DropPending bool
	// MinBackoff and MaxBackoff bound the delay after a failed poll.
	MinBackoff time.Duration
	MaxBackoff time.Duration
}

// Poller pulls update batches and processes each batch sequentially in
// order. The offset only moves past an update once it was handled.
type Poller struct {
	baseAdapter
	cfg PollerConfig
	src UpdateSource

	mu     sync.Mutex
	offset int
	cancel context.CancelFunc
	done   chan struct{}
}

func NewPoller(cfg PollerConfig, src UpdateSource, handler Handler) *Poller {
	if cfg.Limit <= 0 || cfg.Limit > 100 {
		cfg.Limit = 100
	}
	if cfg.Timeout < 0 {
		cfg.Timeout = 0
	}
	if cfg.MinBackoff <= 0 {
		cfg.MinBackoff = time.Second
	}
	if cfg.MaxBackoff < cfg.MinBackoff {
		cfg.MaxBackoff = 30 * time.Second
	}
	return &Poller{
		baseAdapter: baseAdapter{name: "poll", handler: handler},
		cfg:         cfg,
		src:         src,
	}
}

// Start removes any registered webhook, since the provider refuses
// getUpdates while one is set, then begins polling.
func (p *Poller) Start(ctx context.Context) error {
	if p.IsRunning() {
		return nil
	}
	if err := p.src.DeleteWebhook(ctx, p.cfg.DropPending); err != nil {
		return fmt.Errorf("ingest: preparing long polling: %w", err)
	}

	pollCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.done = make(chan struct{})
	p.running.Store(true)

	go p.run(pollCtx)

	logger.InfoCF("ingest", "Long polling started", map[string]any{
		"limit":   p.cfg.Limit,
		"timeout": p.cfg.Timeout,
	})
	return nil
}

// Stop ends polling. The update being handled, if any, runs to completion
// unless ctx expires first.
func (p *Poller) Stop(ctx context.Context) error {
	if !p.running.CompareAndSwap(true, false) {
		return nil
	}
	p.cancel()
	select {
	case <-p.done:
		logger.InfoC("ingest", "Long polling stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Offset is the next update id that will be requested.
func (p *Poller) Offset() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.offset
}

func (p *Poller) run(ctx context.Context) {
	defer close(p.done)

	// Handling is detached from ctx so a stop never interrupts an update
	// half way through its deliveries.
	handleCtx := context.WithoutCancel(ctx)
	backoff := p.cfg.MinBackoff

	for ctx.Err() == nil {
		updates, err := p.src.GetUpdates(ctx, p.Offset(), p.cfg.Limit, p.cfg.Timeout)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.WarnCF("ingest", "getUpdates failed", map[string]any{
				"error":   err.Error(),
				"backoff": backoff.String(),
			})
			if !sleep(ctx, backoff) {
				return
			}
			backoff = min(backoff*2, p.cfg.MaxBackoff)
			continue
		}
		backoff = p.cfg.MinBackoff

		for _, u := range updates {
			if ctx.Err() != nil {
				return
			}
			p.handler.Handle(handleCtx, u)
			p.advance(u.UpdateID)
		}
	}
}

func (p *Poller) advance(updateID int) {
	p.mu.Lock()
	if updateID+1 > p.offset {
		p.offset = updateID + 1
	}
	p.mu.Unlock()
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
