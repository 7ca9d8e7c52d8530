package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// TelegramConfig holds Telegram bot related settings.
type TelegramConfig struct {
	Token   string `yaml:"token" envconfig:"BOT_TOKEN"`
	AdminID int64  `yaml:"admin_id" envconfig:"TELEGRAM_ADMIN_ID"`
	RunMode string `yaml:"run_mode" envconfig:"TELEGRAM_RUN_MODE"`
	// LongPollTimeoutSeconds defines long polling timeout; 0 -> default
	LongPollTimeoutSeconds int `yaml:"longpoll_timeout_seconds" envconfig:"TELEGRAM_LONGPOLL_TIMEOUT_SECONDS"`
}

// WebhookConfig specifies webhook settings.
type WebhookConfig struct {
	URL    string `yaml:"url" envconfig:"WEBHOOK_URL"`
	Listen string `yaml:"listen" envconfig:"WEBHOOK_LISTEN"`
	Port   int    `yaml:"port" envconfig:"WEBHOOK_PORT"`
}

// LoggingConfig defines logging related configuration.
type LoggingConfig struct {
	Level       string `yaml:"level"`
	Format      string `yaml:"format"`
	KeysOrder   string `yaml:"keys_order"`
	DebugSample string `yaml:"debug_sample"`
	Dir         string `yaml:"dir"`
	File        string `yaml:"file"`
	// Profile indicates environment profile such as "debug" or "prod".
	Profile string `yaml:"profile"`
}

// RateLimitConfig holds settings for rate limiting.
// ExcludeUpdates accepts update types to bypass limiting:
// - "callback": Telegram callback button presses
// - "message": standard text messages
// - "inline_query": inline query updates
type RateLimitConfig struct {
	IntervalMS     int      `yaml:"interval_ms" envconfig:"RATE_LIMIT_INTERVAL_MS"`
	ExcludeUpdates []string `yaml:"exclude_updates" envconfig:"RATE_LIMIT_EXCLUDE_UPDATES"`
}

// MetadataConfig describes the application shown to the wallet during pairing.
type MetadataConfig struct {
	Name        string   `yaml:"name"`
	Description string   `yaml:"description"`
	URL         string   `yaml:"url"`
	Icons       []string `yaml:"icons"`
}

// ThemeConfig mirrors the wallet modal theme options.
type ThemeConfig struct {
	Mode   string `yaml:"mode"`
	Accent string `yaml:"accent"`
}

// FeaturesConfig lists the optional connect features.
type FeaturesConfig struct {
	Email               bool     `yaml:"email"`
	Analytics           bool     `yaml:"analytics"`
	LegalCheckbox       bool     `yaml:"legal_checkbox"`
	ConnectMethodsOrder []string `yaml:"connect_methods_order"`
}

// WalletConnectConfig configures the wallet connection service.
type WalletConnectConfig struct {
	ProjectID string `yaml:"project_id" envconfig:"WALLETCONNECT_PROJECT_ID"`
	BridgeURL string `yaml:"bridge_url" envconfig:"WALLETCONNECT_BRIDGE_URL"`
	// Networks lists CAIP-2 identifiers offered to the wallet; the first one is the default.
	Networks              []string       `yaml:"networks" ignored:"true"`
	Metadata              MetadataConfig `yaml:"metadata" ignored:"true"`
	Theme                 ThemeConfig    `yaml:"theme" ignored:"true"`
	Features              FeaturesConfig `yaml:"features" ignored:"true"`
	ReadTimeoutSeconds    int            `yaml:"read_timeout_seconds" envconfig:"WALLETCONNECT_READ_TIMEOUT_SECONDS"`
	RequestTimeoutSeconds int            `yaml:"request_timeout_seconds" envconfig:"WALLETCONNECT_REQUEST_TIMEOUT_SECONDS"`
}

// ChainConfig overrides RPC endpoints per CAIP-2 network id.
type ChainConfig struct {
	RPC map[string]string `yaml:"rpc" ignored:"true"`
}

// FlowConfig controls the connect/sign/send flow of the wallet screen.
type FlowConfig struct {
	Mode               string `yaml:"mode" envconfig:"FLOW_MODE"`
	SignMethod         string `yaml:"sign_method" envconfig:"FLOW_SIGN_METHOD"`
	CloseDelayMS       int    `yaml:"close_delay_ms" envconfig:"FLOW_CLOSE_DELAY_MS"`
	ButtonText         string `yaml:"button_text"`
	SignTimeoutSeconds int    `yaml:"sign_timeout_seconds" envconfig:"FLOW_SIGN_TIMEOUT_SECONDS"`
	MiniAppURL         string `yaml:"mini_app_url" envconfig:"MINI_APP_URL"`
}

// DatabaseConfig holds database connection settings.
type DatabaseConfig struct {
	Host           string `yaml:"host" envconfig:"DB_HOST"`
	Port           string `yaml:"port" envconfig:"DB_PORT"`
	User           string `yaml:"user" envconfig:"DB_USER"`
	Password       string `yaml:"password" envconfig:"DB_PASSWORD"`
	Name           string `yaml:"name" envconfig:"DB_NAME"`
	SSLMode        string `yaml:"sslmode" envconfig:"DB_SSLMODE"`
	MaxConnections int    `yaml:"max_connections" envconfig:"DB_MAX_CONNECTIONS"`
	MigrationsDir  string `yaml:"migrations_dir" envconfig:"DB_MIGRATIONS_DIR"`
}

// StorageConfig selects where relayed wallet links are recorded.
type StorageConfig struct {
	Driver   string         `yaml:"driver" envconfig:"STORAGE_DRIVER"`
	Database DatabaseConfig `yaml:"database"`
}

// HTTPConfig configures the metrics and health endpoint. Empty Listen disables it.
type HTTPConfig struct {
	Listen string `yaml:"listen" envconfig:"HTTP_LISTEN"`
}

const (
	// RunModeWebhook selects webhook mode for Telegram updates.
	RunModeWebhook = "webhook"
	// RunModeLongpoll selects long-polling mode for Telegram updates.
	RunModeLongpoll = "longpoll"
)

const (
	// UpdateCallback identifies callback updates for rate limit exclusions.
	UpdateCallback = "callback"
	// UpdateMessage identifies message updates for rate limit exclusions.
	UpdateMessage = "message"
	// UpdateInlineQuery identifies inline query updates for rate limit exclusions.
	UpdateInlineQuery = "inline_query"
)

const (
	// FlowModeConfirm signs first and relays on an explicit confirm.
	FlowModeConfirm = "confirm"
	// FlowModeAuto signs and relays from a single primary action click.
	FlowModeAuto = "auto"

	// SignMethodTypedData requests an EIP-712 signature.
	SignMethodTypedData = "typed_data"
	// SignMethodMessage requests a personal_sign signature.
	SignMethodMessage = "message"

	// StorageMemory keeps relayed links in process memory.
	StorageMemory = "memory"
	// StoragePostgres records relayed links in PostgreSQL.
	StoragePostgres = "postgres"
)

// Defaults applied by Normalize when the corresponding value is empty.
const (
	DefaultProjectID          = "0e504323519d920498cb09268e59a1db"
	DefaultBridgeURL          = "https://bridge.walletconnect.org"
	DefaultCloseDelayMS       = 2000
	DefaultButtonText         = "CONFIRM WALLET"
	DefaultSignTimeoutSeconds = 300
	DefaultReadTimeoutSeconds = 300
	DefaultRequestTimeoutSecs = 30
)

// DefaultNetworks is the supported network list in CAIP-2 form.
var DefaultNetworks = []string{
	"eip155:1",
	"eip155:42161",
	"eip155:11155111",
	"bip122:000000000019d6689c085ae165831e93",
	"solana:5eykt4UsFv8P8NJdTREpY1vzqKqZKvdp",
	"solana:4uhcVJyU9pJkvQyS88uRDiswHXSCkY3z",
	"solana:EtWTRABZaYq6iMfeYKouRu166VU2xqa1",
	"eip155:920637907288165",
	"eip155:421614",
}

// Config aggregates the configuration of the bot.
type Config struct {
	Telegram      TelegramConfig      `yaml:"telegram"`
	Webhook       WebhookConfig       `yaml:"webhook"`
	Logging       LoggingConfig       `yaml:"logging"`
	RateLimit     RateLimitConfig     `yaml:"rate_limit"`
	WalletConnect WalletConnectConfig `yaml:"walletconnect"`
	Chain         ChainConfig         `yaml:"chain"`
	Flow          FlowConfig          `yaml:"flow"`
	Storage       StorageConfig       `yaml:"storage"`
	HTTP          HTTPConfig          `yaml:"http"`
}

// Load reads configuration from a YAML file and environment variables.
func Load(path string) (*Config, error) {
	var cfg Config

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML config: %w", err)
	}
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process env: %w", err)
	}

	if err := Normalize(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Normalize performs validation of required configuration fields and adjusts defaults.
func Normalize(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("nil config")
	}

	if cfg.Telegram.Token == "" {
		return fmt.Errorf("telegram token is required")
	}

	rm := strings.ToLower(strings.TrimSpace(cfg.Telegram.RunMode))
	if rm == "" || rm == "polling" {
		rm = RunModeLongpoll
	}
	switch rm {
	case RunModeWebhook:
		if strings.TrimSpace(cfg.Webhook.URL) == "" {
			return fmt.Errorf("webhook.url is required when telegram.run_mode is 'webhook'")
		}
		if strings.TrimSpace(cfg.Webhook.Listen) == "" {
			return fmt.Errorf("webhook.listen is required when telegram.run_mode is 'webhook'")
		}
		if cfg.Webhook.Port <= 0 {
			return fmt.Errorf("webhook.port must be > 0 when telegram.run_mode is 'webhook'")
		}
	case RunModeLongpoll:
		if cfg.Telegram.LongPollTimeoutSeconds < 0 {
			return fmt.Errorf("telegram.longpoll_timeout_seconds must be >= 0")
		}
	default:
		return fmt.Errorf("invalid telegram.run_mode %q; allowed: webhook, longpoll", cfg.Telegram.RunMode)
	}
	cfg.Telegram.RunMode = rm

	allowed := map[string]struct{}{
		UpdateCallback:    {},
		UpdateMessage:     {},
		UpdateInlineQuery: {},
	}
	for i, v := range cfg.RateLimit.ExcludeUpdates {
		key := strings.ToLower(strings.TrimSpace(v))
		if key == "" {
			continue
		}
		if _, ok := allowed[key]; !ok {
			return fmt.Errorf("invalid rate_limit.exclude_updates value %q; allowed: callback, message, inline_query", v)
		}
		cfg.RateLimit.ExcludeUpdates[i] = key
	}

	if err := normalizeWalletConnect(&cfg.WalletConnect); err != nil {
		return err
	}
	if err := normalizeFlow(&cfg.Flow); err != nil {
		return err
	}
	return normalizeStorage(&cfg.Storage)
}

func normalizeWalletConnect(wc *WalletConnectConfig) error {
	wc.ProjectID = strings.TrimSpace(wc.ProjectID)
	if wc.ProjectID == "" {
		wc.ProjectID = DefaultProjectID
	}
	if strings.TrimSpace(wc.BridgeURL) == "" {
		wc.BridgeURL = DefaultBridgeURL
	}
	if !strings.HasPrefix(wc.BridgeURL, "https://") && !strings.HasPrefix(wc.BridgeURL, "wss://") &&
		!strings.HasPrefix(wc.BridgeURL, "http://") && !strings.HasPrefix(wc.BridgeURL, "ws://") {
		return fmt.Errorf("walletconnect.bridge_url must be an http(s) or ws(s) URL, got %q", wc.BridgeURL)
	}

	var networks []string
	seen := make(map[string]struct{}, len(wc.Networks))
	for _, n := range wc.Networks {
		n = strings.TrimSpace(n)
		if n == "" {
			continue
		}
		if !strings.Contains(n, ":") {
			return fmt.Errorf("walletconnect.networks entry %q is not a CAIP-2 id", n)
		}
		if _, dup := seen[n]; dup {
			continue
		}
		seen[n] = struct{}{}
		networks = append(networks, n)
	}
	if len(networks) == 0 {
		networks = append([]string(nil), DefaultNetworks...)
	}
	wc.Networks = networks

	if wc.Metadata.Name == "" {
		wc.Metadata = MetadataConfig{
			Name:        "AppKit",
			Description: "AppKit Example",
			URL:         "https://reown.com",
			Icons:       []string{"https://avatars.githubusercontent.com/u/179229932"},
		}
	}
	if wc.Theme.Mode == "" {
		wc.Theme.Mode = "light"
	}
	if wc.Theme.Accent == "" {
		wc.Theme.Accent = "#2481cc"
	}
	if len(wc.Features.ConnectMethodsOrder) == 0 {
		wc.Features.ConnectMethodsOrder = []string{"wallet"}
	}
	if wc.ReadTimeoutSeconds <= 0 {
		wc.ReadTimeoutSeconds = DefaultReadTimeoutSeconds
	}
	if wc.RequestTimeoutSeconds <= 0 {
		wc.RequestTimeoutSeconds = DefaultRequestTimeoutSecs
	}
	return nil
}

func normalizeFlow(f *FlowConfig) error {
	mode := strings.ToLower(strings.TrimSpace(f.Mode))
	if mode == "" {
		mode = FlowModeConfirm
	}
	if mode != FlowModeConfirm && mode != FlowModeAuto {
		return fmt.Errorf("invalid flow.mode %q; allowed: confirm, auto", f.Mode)
	}
	f.Mode = mode

	method := strings.ToLower(strings.TrimSpace(f.SignMethod))
	switch method {
	case "", "typed", "typed_data", "eip712":
		method = SignMethodTypedData
	case SignMethodMessage, "personal_sign":
		method = SignMethodMessage
	default:
		return fmt.Errorf("invalid flow.sign_method %q; allowed: typed_data, message", f.SignMethod)
	}
	f.SignMethod = method

	if f.CloseDelayMS < 0 {
		return fmt.Errorf("flow.close_delay_ms must be >= 0")
	}
	if f.CloseDelayMS == 0 {
		f.CloseDelayMS = DefaultCloseDelayMS
	}
	if strings.TrimSpace(f.ButtonText) == "" {
		f.ButtonText = DefaultButtonText
	}
	if f.SignTimeoutSeconds <= 0 {
		f.SignTimeoutSeconds = DefaultSignTimeoutSeconds
	}
	return nil
}

func normalizeStorage(s *StorageConfig) error {
	driver := strings.ToLower(strings.TrimSpace(s.Driver))
	if driver == "" {
		driver = StorageMemory
	}
	switch driver {
	case StorageMemory:
	case StoragePostgres:
		if strings.TrimSpace(s.Database.Host) == "" || strings.TrimSpace(s.Database.Name) == "" {
			return fmt.Errorf("storage.database.host and storage.database.name are required for the postgres driver")
		}
		if s.Database.SSLMode == "" {
			s.Database.SSLMode = "disable"
		}
		if s.Database.Port == "" {
			s.Database.Port = "5432"
		}
		if s.Database.MaxConnections <= 0 {
			s.Database.MaxConnections = 5
		}
		if s.Database.MigrationsDir == "" {
			s.Database.MigrationsDir = "migrations"
		}
	default:
		return fmt.Errorf("invalid storage.driver %q; allowed: memory, postgres", s.Driver)
	}
	s.Driver = driver
	return nil
}
