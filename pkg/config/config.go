package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

var (
	// ErrInvalidMode is returned when ingest.mode is neither webhook nor poll.
	ErrInvalidMode = errors.New("invalid ingest mode")
	// ErrMissingToken is returned when no bot token is configured.
	ErrMissingToken = errors.New("telegram bot token is required")
)

const (
	ModeWebhook = "webhook"
	ModePoll    = "poll"

	RelayModeForward = "forward"
	RelayModeCopy    = "copy"

	BackendFile  = "file"
	BackendRedis = "redis"
)

// ContentKinds lists the values accepted by relay.exclude_content.
var ContentKinds = []string{"text", "photo", "video", "document", "audio", "voice", "sticker", "other"}

// FlexibleStringSlice is a []string that also accepts JSON numbers,
// so admin_ids can contain both "123" and 123.
type FlexibleStringSlice []string

func (f *FlexibleStringSlice) UnmarshalJSON(data []byte) error {
	var ss []string
	if err := json.Unmarshal(data, &ss); err == nil {
		*f = ss
		return nil
	}

	var raw []any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	result := make([]string, 0, len(raw))
	for _, v := range raw {
		switch val := v.(type) {
		case string:
			result = append(result, val)
		case float64:
			result = append(result, fmt.Sprintf("%.0f", val))
		default:
			result = append(result, fmt.Sprintf("%v", val))
		}
	}
	*f = result
	return nil
}

type Config struct {
	Telegram TelegramConfig `json:"telegram"`
	Ingest   IngestConfig   `json:"ingest"`
	Relay    RelayConfig    `json:"relay"`
	Store    StoreConfig    `json:"store"`
	Access   AccessConfig   `json:"access"`
	Audit    AuditConfig    `json:"audit,omitzero"`
	Log      LogConfig      `json:"log"`
}

type TelegramConfig struct {
	Token       string `env:"PICORELAY_TELEGRAM_TOKEN"        json:"token"`
	APIURL      string `env:"PICORELAY_TELEGRAM_API_URL"      json:"api_url,omitempty"`
	SendTimeout int    `env:"PICORELAY_TELEGRAM_SEND_TIMEOUT" json:"send_timeout"`
}

type IngestConfig struct {
	Mode         string `env:"PICORELAY_INGEST_MODE"    json:"mode"`
	PublicURL    string `env:"PICORELAY_PUBLIC_URL"     json:"public_url,omitempty"`
	ListenHost   string `env:"PICORELAY_HOST"           json:"listen_host"`
	Port         int    `env:"PORT"                     json:"port"`
	WebhookPath  string `env:"PICORELAY_WEBHOOK_PATH"   json:"webhook_path"`
	SecretToken  string `env:"PICORELAY_WEBHOOK_SECRET" json:"secret_token,omitempty"`
	AckTimeoutMS int    `env:"PICORELAY_ACK_TIMEOUT_MS" json:"ack_timeout_ms"`
	MaxInFlight  int    `env:"PICORELAY_MAX_IN_FLIGHT"  json:"max_in_flight"`
	MaxQueued    int    `env:"PICORELAY_MAX_QUEUED"     json:"max_queued"`
	PollTimeout  int    `env:"PICORELAY_POLL_TIMEOUT"   json:"poll_timeout"`
	PollLimit    int    `env:"PICORELAY_POLL_LIMIT"     json:"poll_limit"`
	DropPending  bool   `env:"PICORELAY_DROP_PENDING"   json:"drop_pending"`
}

type RelayConfig struct {
	DedupCapacity            int                 `env:"PICORELAY_DEDUP_CAPACITY"             json:"dedup_capacity"`
	ExcludeContent           FlexibleStringSlice `env:"PICORELAY_EXCLUDE_CONTENT"            json:"exclude_content,omitempty"`
	Mode                     string              `env:"PICORELAY_RELAY_MODE"                 json:"mode"`
	CaptionTemplate          string              `env:"PICORELAY_CAPTION_TEMPLATE"           json:"caption_template,omitempty"`
	FanoutConcurrency        int                 `env:"PICORELAY_FANOUT_CONCURRENCY"         json:"fanout_concurrency"`
	TransientNotifyThreshold int                 `env:"PICORELAY_TRANSIENT_NOTIFY_THRESHOLD" json:"transient_notify_threshold"`
}

type StoreConfig struct {
	Backend       string `env:"PICORELAY_STORE_BACKEND"  json:"backend"`
	Path          string `env:"PICORELAY_STORE_PATH"     json:"path"`
	RedisAddr     string `env:"PICORELAY_REDIS_ADDR"     json:"redis_addr,omitempty"`
	RedisPassword string `env:"PICORELAY_REDIS_PASSWORD" json:"redis_password,omitempty"`
	RedisDB       int    `env:"PICORELAY_REDIS_DB"       json:"redis_db"`
	RedisKey      string `env:"PICORELAY_REDIS_KEY"      json:"redis_key"`
	StatsFlush    string `env:"PICORELAY_STATS_FLUSH"    json:"stats_flush,omitempty"`
}

type AccessConfig struct {
	OwnerID  int64               `env:"PICORELAY_OWNER_ID" json:"owner_id"`
	AdminIDs FlexibleStringSlice `env:"ADMIN_IDS"          json:"admin_ids,omitempty"`
}

type AuditConfig struct {
	Enabled bool                `env:"PICORELAY_AUDIT_ENABLED" json:"enabled"`
	Brokers FlexibleStringSlice `env:"PICORELAY_AUDIT_BROKERS" json:"brokers,omitempty"`
	Topic   string              `env:"PICORELAY_AUDIT_TOPIC"   json:"topic,omitempty"`
}

type LogConfig struct {
	Level  string `env:"PICORELAY_LOG_LEVEL"  json:"level"`
	Format string `env:"PICORELAY_LOG_FORMAT" json:"format"`
}

func DefaultConfig() *Config {
	return &Config{
		Telegram: TelegramConfig{
			SendTimeout: 10,
		},
		Ingest: IngestConfig{
			Mode:         ModePoll,
			ListenHost:   "0.0.0.0",
			Port:         10000,
			WebhookPath:  "/webhook",
			AckTimeoutMS: 2000,
			MaxInFlight:  16,
			MaxQueued:    64,
			PollTimeout:  30,
			PollLimit:    100,
		},
		Relay: RelayConfig{
			DedupCapacity:     4096,
			Mode:              RelayModeForward,
			FanoutConcurrency: 4,
		},
		Store: StoreConfig{
			Backend:  BackendFile,
			Path:     "~/.picorelay/forward_db.json",
			RedisKey: "picorelay:state",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// LoadConfig reads path (a missing file yields defaults), then a .env file in
// the working directory, then the process environment. Later sources win.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	if err == nil {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("loading .env: %w", err)
	}

	applyLegacyEnv(cfg)

	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// applyLegacyEnv honours the variable names earlier deployments used. The
// PICORELAY_* names parsed afterwards take precedence.
func applyLegacyEnv(cfg *Config) {
	for _, key := range []string{"BOT_TOKEN", "TELEGRAM_BOT_TOKEN"} {
		if v := os.Getenv(key); v != "" {
			cfg.Telegram.Token = v
		}
	}
	for _, key := range []string{"WEBHOOK_URL", "RENDER_EXTERNAL_URL"} {
		if v := os.Getenv(key); v != "" {
			cfg.Ingest.PublicURL = v
		}
	}
}

func SaveConfig(path string, cfg *Config) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	return os.WriteFile(path, data, 0o600)
}

// Validate reports the first configuration problem that would prevent the
// gateway from starting.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Telegram.Token) == "" {
		return ErrMissingToken
	}
	switch c.Ingest.Mode {
	case ModePoll:
	case ModeWebhook:
		if strings.TrimSpace(c.Ingest.PublicURL) == "" {
			return errors.New("ingest.public_url is required in webhook mode")
		}
	default:
		return fmt.Errorf("%w: %q", ErrInvalidMode, c.Ingest.Mode)
	}
	switch c.Store.Backend {
	case BackendFile, BackendRedis:
	default:
		return fmt.Errorf("unknown store backend %q", c.Store.Backend)
	}
	if c.Store.Backend == BackendRedis && c.Store.RedisAddr == "" {
		return errors.New("store.redis_addr is required for the redis backend")
	}
	switch c.Relay.Mode {
	case RelayModeForward, RelayModeCopy:
	default:
		return fmt.Errorf("unknown relay mode %q", c.Relay.Mode)
	}
	for _, kind := range c.Relay.ExcludeContent {
		if !slices.Contains(ContentKinds, kind) {
			return fmt.Errorf("unknown content kind %q in relay.exclude_content", kind)
		}
	}
	if _, err := c.AdminIDs(); err != nil {
		return err
	}
	if c.Audit.Enabled && (len(c.Audit.Brokers) == 0 || c.Audit.Topic == "") {
		return errors.New("audit.brokers and audit.topic are required when audit is enabled")
	}
	return nil
}

// AdminIDs parses the bootstrap admin identities.
func (c *Config) AdminIDs() ([]int64, error) {
	ids := make([]int64, 0, len(c.Access.AdminIDs))
	for _, raw := range c.Access.AdminIDs {
		for _, part := range strings.Split(raw, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			id, err := strconv.ParseInt(part, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("invalid admin id %q: %w", part, err)
			}
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (c *Config) StorePath() string {
	return expandHome(c.Store.Path)
}

func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Ingest.ListenHost, c.Ingest.Port)
}

// WebhookURL is the public URL registered with the Bot API.
func (c *Config) WebhookURL() string {
	return strings.TrimRight(c.Ingest.PublicURL, "/") + c.Ingest.WebhookPath
}

func (c *Config) SendTimeout() time.Duration {
	return time.Duration(c.Telegram.SendTimeout) * time.Second
}

func (c *Config) AckTimeout() time.Duration {
	return time.Duration(c.Ingest.AckTimeoutMS) * time.Millisecond
}

func expandHome(path string) string {
	if path == "" {
		return path
	}
	if path[0] == '~' {
		home, _ := os.UserHomeDir()
		if len(path) > 1 && path[1] == '/' {
			return home + path[1:]
		}
		return home
	}
	return path
}
