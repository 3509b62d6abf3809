package core

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-config/cfgx"
	opts "github.com/goliatone/go-options"
)

type HTTPConfig struct {
	Addr string `koanf:"addr" mapstructure:"addr"`
}

type DatabaseConfig struct {
	Driver string `koanf:"driver" mapstructure:"driver"`
	DSN    string `koanf:"dsn" mapstructure:"dsn"`
	Debug  bool   `koanf:"debug" mapstructure:"debug"`
}

type ProviderConfig struct {
	Name              string        `koanf:"name" mapstructure:"name"`
	Timeout           time.Duration `koanf:"timeout" mapstructure:"timeout"`
	TokenCache        bool          `koanf:"token_cache" mapstructure:"token_cache"`
	TokenSafetyMargin time.Duration `koanf:"token_safety_margin" mapstructure:"token_safety_margin"`
}

type WebhooksConfig struct {
	StripeSecret     string        `koanf:"stripe_secret" mapstructure:"stripe_secret"`
	CoinbaseSecret   string        `koanf:"coinbase_secret" mapstructure:"coinbase_secret"`
	RejectUnverified bool          `koanf:"reject_unverified" mapstructure:"reject_unverified"`
	ReplayWindow     time.Duration `koanf:"replay_window" mapstructure:"replay_window"`
	// CoalesceWindow collapses repeated transitions for one order; zero disables it.
	CoalesceWindow time.Duration `koanf:"coalesce_window" mapstructure:"coalesce_window"`
}

type ActivationConfig struct {
	NotReadyThreshold time.Duration `koanf:"not_ready_threshold" mapstructure:"not_ready_threshold"`
}

type MessagingConfig struct {
	RabbitURL string `koanf:"rabbit_url" mapstructure:"rabbit_url"`
	Exchange  string `koanf:"exchange" mapstructure:"exchange"`
}

type OutboxConfig struct {
	Interval  time.Duration `koanf:"interval" mapstructure:"interval"`
	BatchSize int           `koanf:"batch_size" mapstructure:"batch_size"`
}

// SecurityConfig seals stored provider secrets when AppKey is set.
type SecurityConfig struct {
	AppKey     string `koanf:"app_key" mapstructure:"app_key"`
	KeyID      string `koanf:"key_id" mapstructure:"key_id"`
	KeyVersion int    `koanf:"key_version" mapstructure:"key_version"`
}

type Config struct {
	ServiceName string           `koanf:"service_name" mapstructure:"service_name"`
	HTTP        HTTPConfig       `koanf:"http" mapstructure:"http"`
	Database    DatabaseConfig   `koanf:"database" mapstructure:"database"`
	Provider    ProviderConfig   `koanf:"provider" mapstructure:"provider"`
	Webhooks    WebhooksConfig   `koanf:"webhooks" mapstructure:"webhooks"`
	Activation  ActivationConfig `koanf:"activation" mapstructure:"activation"`
	Messaging   MessagingConfig  `koanf:"messaging" mapstructure:"messaging"`
	Outbox      OutboxConfig     `koanf:"outbox" mapstructure:"outbox"`
	Security    SecurityConfig   `koanf:"security" mapstructure:"security"`
}

const (
	DefaultProviderName        = "airalo"
	DefaultNotReadyThreshold   = 5 * time.Minute
	DefaultTokenSafetyMargin   = 5 * time.Minute
	DefaultProviderTimeout     = 30 * time.Second
	DefaultWebhookReplayWindow = 5 * time.Minute
)

func DefaultConfig() Config {
	return Config{
		ServiceName: "esim",
		HTTP:        HTTPConfig{Addr: ":8080"},
		Database: DatabaseConfig{
			Driver: "sqlite3",
			DSN:    "file:esim.db?cache=shared&_foreign_keys=on",
		},
		Provider: ProviderConfig{
			Name:              DefaultProviderName,
			Timeout:           DefaultProviderTimeout,
			TokenSafetyMargin: DefaultTokenSafetyMargin,
		},
		Webhooks: WebhooksConfig{
			RejectUnverified: true,
			ReplayWindow:     DefaultWebhookReplayWindow,
		},
		Activation: ActivationConfig{NotReadyThreshold: DefaultNotReadyThreshold},
		Messaging:  MessagingConfig{Exchange: "esim.orders"},
		Outbox: OutboxConfig{
			Interval:  2 * time.Second,
			BatchSize: 50,
		},
		Security: SecurityConfig{KeyID: "app-key", KeyVersion: 1},
	}
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.ServiceName) == "" {
		return fmt.Errorf("core: service_name is required")
	}
	switch strings.TrimSpace(c.Database.Driver) {
	case "sqlite3", "postgres":
	default:
		return fmt.Errorf("core: database.driver %q is not supported", c.Database.Driver)
	}
	if strings.TrimSpace(c.Database.DSN) == "" {
		return fmt.Errorf("core: database.dsn is required")
	}
	if strings.TrimSpace(c.Provider.Name) == "" {
		return fmt.Errorf("core: provider.name is required")
	}
	if c.Provider.Timeout < 0 || c.Provider.TokenSafetyMargin < 0 {
		return fmt.Errorf("core: provider durations must not be negative")
	}
	if c.Activation.NotReadyThreshold < 0 {
		return fmt.Errorf("core: activation.not_ready_threshold must not be negative")
	}
	if c.Webhooks.ReplayWindow < 0 || c.Webhooks.CoalesceWindow < 0 {
		return fmt.Errorf("core: webhook windows must not be negative")
	}
	if c.Outbox.BatchSize < 0 {
		return fmt.Errorf("core: outbox.batch_size must not be negative")
	}
	if c.Security.KeyVersion < 0 {
		return fmt.Errorf("core: security.key_version must not be negative")
	}
	return nil
}

type RawConfigLoader interface {
	LoadRaw(ctx context.Context) (map[string]any, error)
}

type RawConfigLoaderFunc func(ctx context.Context) (map[string]any, error)

func (fn RawConfigLoaderFunc) LoadRaw(ctx context.Context) (map[string]any, error) {
	if fn == nil {
		return map[string]any{}, nil
	}
	return fn(ctx)
}

type StaticRawConfigLoader struct {
	Values map[string]any
}

func (l StaticRawConfigLoader) LoadRaw(context.Context) (map[string]any, error) {
	return cloneFields(l.Values), nil
}

type CfgxConfigProvider struct {
	Loader RawConfigLoader
}

func NewCfgxConfigProvider(loader RawConfigLoader) *CfgxConfigProvider {
	return &CfgxConfigProvider{Loader: loader}
}

func (p *CfgxConfigProvider) Load(ctx context.Context, defaults Config) (Config, error) {
	if p == nil {
		return defaults, nil
	}
	loader := p.Loader
	if loader == nil {
		loader = StaticRawConfigLoader{}
	}
	raw, err := loader.LoadRaw(ctx)
	if err != nil {
		return Config{}, err
	}
	return cfgx.Build[Config](raw,
		cfgx.WithDefaults(defaults),
		cfgx.WithValidator[Config]((*Config).Validate),
	)
}

// ResolveConfig layers defaults, loaded config and runtime overrides, in that
// order of precedence, and validates the merged result.
func ResolveConfig(defaults Config, loaded map[string]any, runtime map[string]any) (Config, error) {
	stack, err := opts.NewStack(
		opts.NewLayer(
			opts.NewScope("defaults", 0),
			ConfigToLayerMap(defaults),
			opts.WithSnapshotID[map[string]any]("defaults"),
		),
		opts.NewLayer(
			opts.NewScope("config", 10),
			cloneFields(loaded),
			opts.WithSnapshotID[map[string]any]("config"),
		),
		opts.NewLayer(
			opts.NewScope("runtime", 20),
			cloneFields(runtime),
			opts.WithSnapshotID[map[string]any]("runtime"),
		),
	)
	if err != nil {
		return Config{}, fmt.Errorf("core: options stack build failed: %w", err)
	}
	merged, err := stack.Merge()
	if err != nil {
		return Config{}, fmt.Errorf("core: options merge failed: %w", err)
	}
	resolved, err := cfgx.Build[Config](merged.Value,
		cfgx.WithDefaults(defaults),
		cfgx.WithValidator[Config]((*Config).Validate),
	)
	if err != nil {
		return Config{}, err
	}
	return resolved, nil
}

func ConfigToLayerMap(cfg Config) map[string]any {
	return map[string]any{
		"service_name": cfg.ServiceName,
		"http": map[string]any{
			"addr": cfg.HTTP.Addr,
		},
		"database": map[string]any{
			"driver": cfg.Database.Driver,
			"dsn":    cfg.Database.DSN,
			"debug":  cfg.Database.Debug,
		},
		"provider": map[string]any{
			"name":                cfg.Provider.Name,
			"timeout":             cfg.Provider.Timeout,
			"token_cache":         cfg.Provider.TokenCache,
			"token_safety_margin": cfg.Provider.TokenSafetyMargin,
		},
		"webhooks": map[string]any{
			"stripe_secret":     cfg.Webhooks.StripeSecret,
			"coinbase_secret":   cfg.Webhooks.CoinbaseSecret,
			"reject_unverified": cfg.Webhooks.RejectUnverified,
			"replay_window":     cfg.Webhooks.ReplayWindow,
			"coalesce_window":   cfg.Webhooks.CoalesceWindow,
		},
		"activation": map[string]any{
			"not_ready_threshold": cfg.Activation.NotReadyThreshold,
		},
		"messaging": map[string]any{
			"rabbit_url": cfg.Messaging.RabbitURL,
			"exchange":   cfg.Messaging.Exchange,
		},
		"outbox": map[string]any{
			"interval":   cfg.Outbox.Interval,
			"batch_size": cfg.Outbox.BatchSize,
		},
		"security": map[string]any{
			"app_key":     cfg.Security.AppKey,
			"key_id":      cfg.Security.KeyID,
			"key_version": cfg.Security.KeyVersion,
		},
	}
}

// Persistence config adapter for go-persistence-bun.
type PersistenceConfig struct {
	Driver      string
	Server      string
	Debug       bool
	PingTimeout time.Duration
}

func (c Config) PersistenceConfig() PersistenceConfig {
	return PersistenceConfig{
		Driver:      c.Database.Driver,
		Server:      c.Database.DSN,
		Debug:       c.Database.Debug,
		PingTimeout: 5 * time.Second,
	}
}

func (c PersistenceConfig) GetDebug() bool                { return c.Debug }
func (c PersistenceConfig) GetDriver() string             { return c.Driver }
func (c PersistenceConfig) GetServer() string             { return c.Server }
func (c PersistenceConfig) GetPingTimeout() time.Duration { return c.PingTimeout }
func (c PersistenceConfig) GetOtelIdentifier() string     { return "" }
