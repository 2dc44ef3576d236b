package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"

	"omnichannel-backend/internal/models"
)

type Config struct {
	Database DatabaseConfig `envPrefix:"DB_"`
	Redis    RedisConfig    `envPrefix:"REDIS_"`

	Messenger ChannelConfig `envPrefix:"MESSENGER_"`
	Instagram ChannelConfig `envPrefix:"INSTAGRAM_"`
	WhatsApp  ChannelConfig `envPrefix:"WHATSAPP_"`

	Sync    SyncConfig    `envPrefix:"SYNC_"`
	Webhook WebhookConfig `envPrefix:"WEBHOOK_"`

	ServiceName string `env:"SERVICE_NAME" envDefault:"omnichannel-backend"`
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	TenantID    string `env:"TENANT_ID" envDefault:"default"`
	Port        string `env:"PORT" envDefault:"8080"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`
	GinMode     string `env:"GIN_MODE" envDefault:"debug"`
	DemoMode    bool   `env:"DEMO_MODE" envDefault:"false"`
}

type DatabaseConfig struct {
	URL      string `env:"URL"`
	Host     string `env:"HOST" envDefault:"localhost"`
	Port     string `env:"PORT" envDefault:"5432"`
	User     string `env:"USER" envDefault:"postgres"`
	Password string `env:"PASSWORD"`
	DBName   string `env:"NAME" envDefault:"omnichannel"`
	SSLMode  string `env:"SSLMODE" envDefault:"disable"`
	MaxConns int32  `env:"MAX_CONNS" envDefault:"10"`
}

type RedisConfig struct {
	URL string `env:"URL"`
}

// ChannelConfig holds the per-channel credentials. Which fields are needed
// depends on the channel: Graph-style channels use AccountID + AccessToken,
// bridge-style channels use BaseURL + Instance + AccessToken (as api key).
type ChannelConfig struct {
	VerifyToken string `env:"VERIFY_TOKEN"`
	AppSecret   string `env:"APP_SECRET"`
	AccountID   string `env:"ACCOUNT_ID"`
	AccessToken string `env:"ACCESS_TOKEN"`
	BaseURL     string `env:"BASE_URL"`
	Instance    string `env:"INSTANCE"`
	PageSize    int    `env:"PAGE_SIZE" envDefault:"25"`
}

type SyncConfig struct {
	Cron            string        `env:"CRON"`
	JobTimeout      time.Duration `env:"JOB_TIMEOUT" envDefault:"10m"`
	ProviderTimeout time.Duration `env:"PROVIDER_TIMEOUT" envDefault:"15s"`
	Concurrency     int           `env:"CONCURRENCY" envDefault:"1"`
	LockTTL         time.Duration `env:"LOCK_TTL" envDefault:"15m"`
}

type WebhookConfig struct {
	ProcessTimeout time.Duration `env:"PROCESS_TIMEOUT" envDefault:"8s"`
	MaxBodyBytes   int64         `env:"MAX_BODY_BYTES" envDefault:"1048576"`
	// WorkerConcurrency only applies when REDIS_URL enables the ingest queue.
	WorkerConcurrency int `env:"WORKER_CONCURRENCY" envDefault:"10"`
}

// Load parses the process environment into a Config. It is called once at
// start-up; everything downstream receives the values explicitly.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env config: %w", err)
	}
	if strings.TrimSpace(cfg.TenantID) == "" {
		return nil, fmt.Errorf("TENANT_ID must not be empty")
	}
	if cfg.Sync.Concurrency <= 0 {
		cfg.Sync.Concurrency = 1
	}
	if cfg.Sync.ProviderTimeout <= 0 {
		cfg.Sync.ProviderTimeout = 15 * time.Second
	}
	if cfg.Webhook.ProcessTimeout <= 0 {
		cfg.Webhook.ProcessTimeout = 8 * time.Second
	}
	return cfg, nil
}

// Channel returns the configuration block for ch.
func (c *Config) Channel(ch models.Channel) ChannelConfig {
	switch ch {
	case models.ChannelMessenger:
		return c.Messenger
	case models.ChannelInstagram:
		return c.Instagram
	case models.ChannelWhatsApp:
		return c.WhatsApp
	}
	return ChannelConfig{}
}

// Missing lists the credentials required to reach the channel's pull-sync
// provider that are not set.
func (cc ChannelConfig) Missing(ch models.Channel) []string {
	var missing []string
	prefix := strings.ToUpper(string(ch)) + "_"
	if ch == models.ChannelWhatsApp {
		if strings.TrimSpace(cc.BaseURL) == "" {
			missing = append(missing, prefix+"BASE_URL")
		}
		if strings.TrimSpace(cc.Instance) == "" {
			missing = append(missing, prefix+"INSTANCE")
		}
	} else if strings.TrimSpace(cc.AccountID) == "" {
		missing = append(missing, prefix+"ACCOUNT_ID")
	}
	if strings.TrimSpace(cc.AccessToken) == "" {
		missing = append(missing, prefix+"ACCESS_TOKEN")
	}
	return missing
}

func (cc ChannelConfig) Configured(ch models.Channel) bool {
	return len(cc.Missing(ch)) == 0
}

func (c *Config) GetDatabaseURL() string {
	if strings.TrimSpace(c.Database.URL) != "" {
		return normalizeDSN(c.Database.URL)
	}
	return c.buildDatabaseURL()
}

func (c *Config) buildDatabaseURL() string {
	var sb strings.Builder

	sb.WriteString("postgres://")
	sb.WriteString(c.Database.User)
	if c.Database.Password != "" {
		sb.WriteString(":")
		sb.WriteString(c.Database.Password)
	}
	sb.WriteString("@")
	sb.WriteString(c.Database.Host)
	sb.WriteString(":")
	sb.WriteString(c.Database.Port)
	sb.WriteString("/")
	sb.WriteString(c.Database.DBName)

	if c.Database.SSLMode != "" {
		sb.WriteString("?sslmode=")
		sb.WriteString(c.Database.SSLMode)
	}

	return sb.String()
}

// normalizeDSN rewrites driver-suffixed schemes found in shared .env files
// (postgresql+asyncpg://, postgres+pgx://) to plain postgres URLs.
func normalizeDSN(dsn string) string {
	s := strings.TrimSpace(dsn)
	for _, suffix := range []string{"+asyncpg", "+pgx"} {
		s = strings.Replace(s, "postgresql"+suffix+"://", "postgresql://", 1)
		s = strings.Replace(s, "postgres"+suffix+"://", "postgres://", 1)
	}
	return s
}

func (c *Config) Addr() string {
	return ":" + c.Port
}
