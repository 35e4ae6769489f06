package internal

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/tinyland-inc/picorelay/pkg/config"
	"github.com/tinyland-inc/picorelay/pkg/store"
)

const Logo = "📡"

var (
	version   = "dev"
	gitCommit string
	buildTime string
	goVersion string
)

// ConfigPath overrides the config file location when set by --config.
var ConfigPath string

func GetConfigPath() string {
	if ConfigPath != "" {
		return ConfigPath
	}
	if p := os.Getenv("PICORELAY_CONFIG"); p != "" {
		return p
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".picorelay", "config.json")
}

func LoadConfig() (*config.Config, error) {
	return config.LoadConfig(GetConfigPath())
}

// OpenStore builds the configured backend and loads the state, seeding the
// bootstrap owner and admins from cfg.
func OpenStore(ctx context.Context, cfg *config.Config, opts ...store.Option) (*store.Store, error) {
	admins, err := cfg.AdminIDs()
	if err != nil {
		return nil, err
	}

	var backend store.Backend
	switch cfg.Store.Backend {
	case config.BackendRedis:
		rb := store.NewRedisBackend(store.RedisOptions{
			Addr:     cfg.Store.RedisAddr,
			Password: cfg.Store.RedisPassword,
			DB:       cfg.Store.RedisDB,
			Key:      cfg.Store.RedisKey,
		})
		if err := rb.Ping(ctx); err != nil {
			_ = rb.Close()
			return nil, fmt.Errorf("connecting to redis at %s: %w", cfg.Store.RedisAddr, err)
		}
		backend = rb
	case config.BackendFile, "":
		backend = store.NewFileBackend(cfg.StorePath())
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}

	opts = append([]store.Option{store.WithBootstrap(cfg.Access.OwnerID, admins)}, opts...)
	s := store.New(backend, opts...)
	if err := s.Load(ctx); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("loading relay state: %w", err)
	}
	return s, nil
}

// FormatVersion returns the version string with optional git commit
func FormatVersion() string {
	v := version
	if gitCommit != "" {
		v += fmt.Sprintf(" (git: %s)", gitCommit)
	}
	return v
}

// FormatBuildInfo returns build time and go version info
func FormatBuildInfo() (string, string) {
	build := buildTime
	goVer := goVersion
	if goVer == "" {
		goVer = runtime.Version()
	}
	return build, goVer
}

func GetVersion() string {
	return version
}
