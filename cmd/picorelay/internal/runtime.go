package internal

import (
	"context"
	"errors"
	"fmt"

	"github.com/mymmrac/telego"

	"github.com/tinyland-inc/picorelay/pkg/access"
	"github.com/tinyland-inc/picorelay/pkg/audit"
	"github.com/tinyland-inc/picorelay/pkg/bus"
	"github.com/tinyland-inc/picorelay/pkg/commands"
	"github.com/tinyland-inc/picorelay/pkg/config"
	"github.com/tinyland-inc/picorelay/pkg/delivery"
	"github.com/tinyland-inc/picorelay/pkg/events"
	"github.com/tinyland-inc/picorelay/pkg/relay"
	"github.com/tinyland-inc/picorelay/pkg/router"
	"github.com/tinyland-inc/picorelay/pkg/store"
	"github.com/tinyland-inc/picorelay/pkg/telegram"
)

// Runtime holds the components shared by the gateway and the console.
type Runtime struct {
	Config     *config.Config
	Store      *store.Store
	Bot        *telego.Bot
	Sender     *telegram.Sender
	Notices    *bus.NoticeBus
	Engine     *delivery.Engine
	Dispatcher *commands.Dispatcher
	Audit      audit.Sink
}

// NewRuntime wires the store, Bot API client, delivery engine and command
// dispatcher from cfg. cfg must already be validated.
func NewRuntime(ctx context.Context, cfg *config.Config, storeOpts ...store.Option) (*Runtime, error) {
	s, err := OpenStore(ctx, cfg, storeOpts...)
	if err != nil {
		return nil, err
	}

	bot, err := telegram.NewBot(cfg.Telegram)
	if err != nil {
		_ = s.Close()
		return nil, err
	}
	sender, err := telegram.NewSender(bot, cfg.Relay)
	if err != nil {
		_ = s.Close()
		return nil, err
	}

	var sink audit.Sink = audit.NopSink{}
	if cfg.Audit.Enabled {
		ks, err := audit.NewKafkaSink(cfg.Audit.Brokers, cfg.Audit.Topic)
		if err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("audit sink: %w", err)
		}
		sink = ks
	}

	notices := bus.NewNoticeBus(bus.DefaultCapacity)
	engine := delivery.NewEngine(sender, s,
		delivery.WithConcurrency(cfg.Relay.FanoutConcurrency),
		delivery.WithSendTimeout(cfg.SendTimeout()),
		delivery.WithTransientThreshold(cfg.Relay.TransientNotifyThreshold),
		delivery.WithNotifier(delivery.NewBusNotifier(notices)),
		delivery.WithObserver(audit.Observer(sink)),
	)

	return &Runtime{
		Config:     cfg,
		Store:      s,
		Bot:        bot,
		Sender:     sender,
		Notices:    notices,
		Engine:     engine,
		Dispatcher: commands.NewDispatcher(s, access.NewChecker(s), engine),
		Audit:      sink,
	}, nil
}

// Pipeline builds the update handler used by ingestion.
func (r *Runtime) Pipeline() *relay.Pipeline {
	rt := router.New(r.Store, router.WithExcludedContent(r.Config.Relay.ExcludeContent...))
	return relay.New(events.NewNormalizer(r.Config.Relay.DedupCapacity), rt, r.Engine, r.Dispatcher, r.Sender)
}

// Status is the document served on GET /status.
func (r *Runtime) Status() any {
	rules := r.Store.ListRules()
	active := 0
	for _, rule := range rules {
		if rule.Active {
			active++
		}
	}
	stats := r.Store.Stats()
	return map[string]any{
		"status":          "online",
		"mode":            r.Config.Ingest.Mode,
		"relay_mode":      r.Config.Relay.Mode,
		"enabled":         r.Store.Enabled(),
		"rules":           len(rules),
		"active_rules":    active,
		"delivered":       stats.TotalDelivered,
		"errors":          stats.TotalErrors,
		"last_delivery":   stats.LastDeliveryAt,
		"started_at":      stats.StartedAt,
		"notices_dropped": r.Notices.Dropped(),
	}
}

// Close releases the audit sink and the store.
func (r *Runtime) Close() error {
	r.Notices.Close()
	return errors.Join(r.Audit.Close(), r.Store.Close())
}
