package status

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/tinyland-inc/picorelay/cmd/picorelay/internal"
	"github.com/tinyland-inc/picorelay/pkg/config"
)

func statusCmd(ctx context.Context, out io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := internal.LoadConfig()
	if err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}

	configPath := internal.GetConfigPath()

	fmt.Fprintf(out, "%s picorelay Status\n", internal.Logo)
	fmt.Fprintf(out, "Version: %s\n", internal.FormatVersion())
	build, _ := internal.FormatBuildInfo()
	if build != "" {
		fmt.Fprintf(out, "Build: %s\n", build)
	}
	fmt.Fprintln(out)

	if _, err := os.Stat(configPath); err == nil {
		fmt.Fprintln(out, "Config:", configPath, "✓")
	} else {
		fmt.Fprintln(out, "Config:", configPath, "✗ (using defaults and environment)")
	}

	token := "not set"
	if cfg.Telegram.Token != "" {
		token = "✓"
	}
	fmt.Fprintf(out, "Telegram token: %s\n", token)
	fmt.Fprintf(out, "Ingest mode: %s\n", cfg.Ingest.Mode)
	if cfg.Ingest.Mode == config.ModeWebhook {
		fmt.Fprintf(out, "Webhook URL: %s\n", cfg.WebhookURL())
		fmt.Fprintf(out, "Listen: %s\n", cfg.ListenAddr())
	}
	fmt.Fprintf(out, "Relay mode: %s\n", cfg.Relay.Mode)
	fmt.Fprintf(out, "Store: %s\n", storeLocation(cfg))
	if cfg.Audit.Enabled {
		fmt.Fprintf(out, "Audit: kafka topic %s\n", cfg.Audit.Topic)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(out, "Config problem: %v\n", err)
	}

	s, err := internal.OpenStore(ctx, cfg)
	if err != nil {
		fmt.Fprintf(out, "\nState: unavailable (%v)\n", err)
		return nil
	}
	defer s.Close()

	rules := s.ListRules()
	active := 0
	for _, r := range rules {
		if r.Active {
			active++
		}
	}
	stats := s.Stats()
	actors := s.Actors()

	fmt.Fprintln(out)
	fmt.Fprintf(out, "Relaying: %v\n", s.Enabled())
	fmt.Fprintf(out, "Rules: %d (%d active)\n", len(rules), active)
	fmt.Fprintf(out, "Owner: %d, admins: %d\n", actors.Owner, len(actors.Admins))
	fmt.Fprintf(out, "Delivered: %d, errors: %d\n", stats.TotalDelivered, stats.TotalErrors)
	if stats.LastDeliveryAt != nil {
		fmt.Fprintf(out, "Last delivery: %s\n", stats.LastDeliveryAt.UTC().Format(time.RFC3339))
	}
	return nil
}

func storeLocation(cfg *config.Config) string {
	if cfg.Store.Backend == config.BackendRedis {
		return fmt.Sprintf("redis %s key %s", cfg.Store.RedisAddr, cfg.Store.RedisKey)
	}
	return "file " + cfg.StorePath()
}
