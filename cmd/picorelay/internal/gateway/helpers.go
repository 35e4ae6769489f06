package gateway

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tinyland-inc/picorelay/cmd/picorelay/internal"
	"github.com/tinyland-inc/picorelay/pkg/config"
	"github.com/tinyland-inc/picorelay/pkg/ingest"
	"github.com/tinyland-inc/picorelay/pkg/logger"
	"github.com/tinyland-inc/picorelay/pkg/store"
	"github.com/tinyland-inc/picorelay/pkg/telegram"
)

const shutdownTimeout = 20 * time.Second

func gatewayCmd(debug bool) error {
	cfg, err := internal.LoadConfig()
	if err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}
	if debug {
		cfg.Log.Level = "debug"
	}
	if err := logger.Configure(cfg.Log.Level, cfg.Log.Format); err != nil {
		return err
	}
	if debug {
		fmt.Println("🔍 Debug mode enabled")
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var storeOpts []store.Option
	if cfg.Store.StatsFlush != "" {
		storeOpts = append(storeOpts, store.WithDeferredStats())
	}
	rt, err := internal.NewRuntime(ctx, cfg, storeOpts...)
	if err != nil {
		return err
	}
	defer func() {
		if err := rt.Close(); err != nil {
			logger.ErrorCF("gateway", "Failed to close resources", map[string]any{"error": err.Error()})
		}
	}()

	if rt.Store.Actors().Owner == 0 {
		fmt.Println("⚠ Warning: no owner configured, set access.owner_id to manage rules from chat")
	}

	// Background workers outlive the signal context so shutdown can drain them
	// in order.
	bg, cancelBG := context.WithCancel(context.Background())
	defer cancelBG()

	flusherDone := make(chan struct{})
	if cfg.Store.StatsFlush != "" {
		flusher, err := store.NewStatsFlusher(rt.Store, cfg.Store.StatsFlush)
		if err != nil {
			return err
		}
		go func() {
			defer close(flusherDone)
			if err := flusher.Run(bg); err != nil {
				logger.ErrorCF("gateway", "Stats flusher stopped", map[string]any{"error": err.Error()})
			}
		}()
	} else {
		close(flusherDone)
	}

	noticesDone := make(chan struct{})
	go func() {
		defer close(noticesDone)
		telegram.NewNoticeWorker(rt.Notices, rt.Sender, rt.Store).Run(bg)
	}()

	if cfg.Ingest.Mode == config.ModeWebhook {
		if err := telegram.RegisterWebhook(ctx, rt.Bot, cfg.WebhookURL(), cfg.Ingest.SecretToken, cfg.Ingest.DropPending); err != nil {
			return fmt.Errorf("error registering webhook: %w", err)
		}
		fmt.Printf("✓ Webhook registered at %s\n", cfg.WebhookURL())
	}

	adapter, err := ingest.New(cfg, rt.Pipeline(), telegram.NewUpdates(rt.Bot), rt.Status)
	if err != nil {
		return err
	}
	if err := adapter.Start(bg); err != nil {
		return fmt.Errorf("error starting %s ingestion: %w", adapter.Name(), err)
	}

	rules := rt.Store.ListRules()
	fmt.Printf("✓ Relay rules loaded: %d\n", len(rules))
	if cfg.Ingest.Mode == config.ModeWebhook {
		fmt.Printf("✓ Gateway listening on %s\n", cfg.ListenAddr())
	} else {
		fmt.Println("✓ Long polling started")
	}
	fmt.Println("Press Ctrl+C to stop")

	<-ctx.Done()
	fmt.Println("\nShutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	shutdown(shutdownCtx, adapter, rt, cancelBG, flusherDone, noticesDone)

	fmt.Println("✓ Gateway stopped")
	return nil
}

// shutdown stops ingestion and drains in-flight updates, then persists
// stats, then lets pending operator notices go out.
func shutdown(ctx context.Context, adapter ingest.Adapter, rt *internal.Runtime, cancelBG context.CancelFunc,
	flusherDone, noticesDone <-chan struct{},
) {
	if err := adapter.Stop(ctx); err != nil {
		logger.WarnCF("gateway", "Ingestion did not stop cleanly", map[string]any{"error": err.Error()})
	}

	if err := rt.Store.FlushStats(ctx); err != nil {
		logger.ErrorCF("gateway", "Failed to persist stats", map[string]any{"error": err.Error()})
	}

	rt.Notices.Close()
	select {
	case <-noticesDone:
	case <-ctx.Done():
		logger.WarnCF("gateway", "Pending notices abandoned", map[string]any{"pending": rt.Notices.Len()})
	}

	cancelBG()
	<-flusherDone
}
