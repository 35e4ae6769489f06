// Package ingest receives updates from the provider, either pushed to a
// webhook or pulled by long polling, and hands them to the relay pipeline.
package ingest

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/mymmrac/telego"

	"github.com/tinyland-inc/picorelay/pkg/config"
	"github.com/tinyland-inc/picorelay/pkg/relay"
)

// Adapter is one ingestion strategy. Exactly one runs per process.
type Adapter interface {
	Name() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	IsRunning() bool
}

// Handler processes one update. It must be safe for concurrent use.
type Handler interface {
	Handle(ctx context.Context, update telego.Update) relay.Result
}

type baseAdapter struct {
	name    string
	handler Handler
	running atomic.Bool
}

func (b *baseAdapter) Name() string {
	return b.name
}

func (b *baseAdapter) IsRunning() bool {
	return b.running.Load()
}

// New selects the adapter for cfg.Ingest.Mode. src is required for polling.
func New(cfg *config.Config, handler Handler, src UpdateSource, status StatusFunc) (Adapter, error) {
	switch cfg.Ingest.Mode {
	case config.ModeWebhook:
		return NewWebhookServer(WebhookConfig{
			Addr:        cfg.ListenAddr(),
			Path:        cfg.Ingest.WebhookPath,
			SecretToken: cfg.Ingest.SecretToken,
			AckTimeout:  cfg.AckTimeout(),
			MaxInFlight: cfg.Ingest.MaxInFlight,
			MaxQueued:   cfg.Ingest.MaxQueued,
		}, handler, status), nil
	case config.ModePoll:
		if src == nil {
			return nil, fmt.Errorf("ingest: poll mode needs an update source")
		}
		return NewPoller(PollerConfig{
			Limit:       cfg.Ingest.PollLimit,
			Timeout:     cfg.Ingest.PollTimeout,
			DropPending: cfg.Ingest.DropPending,
		}, src, handler), nil
	default:
		return nil, fmt.Errorf("%w: %q", config.ErrInvalidMode, cfg.Ingest.Mode)
	}
}
