package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application
type Config struct {
	Server         ServerConfig         `yaml:"server"`
	Database       DatabaseConfig       `yaml:"database"`
	Redis          RedisConfig          `yaml:"redis"`
	Hotmart        HotmartConfig        `yaml:"hotmart"`
	Memberkit      MemberkitConfig      `yaml:"memberkit"`
	ActiveCampaign ActiveCampaignConfig `yaml:"activecampaign"`
	Pipeline       PipelineConfig       `yaml:"pipeline"`
	Archive        ArchiveConfig        `yaml:"archive"`
	Logging        LoggingConfig        `yaml:"logging"`
}

// ServerConfig holds the operational API settings.
type ServerConfig struct {
	Port           int      `yaml:"port"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// DatabaseConfig holds the postgres connection settings.
type DatabaseConfig struct {
	URL          string `yaml:"url"`
	MaxOpenConns int    `yaml:"max_open_conns"`
	MaxIdleConns int    `yaml:"max_idle_conns"`
}

// RedisConfig holds the optional Redis connection used for the run lock.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// HotmartConfig holds OAuth2 credentials for the Hotmart platform API.
type HotmartConfig struct {
	Enabled      bool          `yaml:"enabled"`
	BaseURL      string        `yaml:"base_url"`
	TokenURL     string        `yaml:"token_url"`
	ClientID     string        `yaml:"client_id"`
	ClientSecret string        `yaml:"client_secret"`
	PageSize     int           `yaml:"page_size"`
	Clubs        []HotmartClub `yaml:"clubs"`
}

// HotmartClub maps one Hotmart club (membership area subdomain) to the
// product it represents locally.
type HotmartClub struct {
	Subdomain   string `yaml:"subdomain"`
	ProductCode string `yaml:"product_code"`
	ProductName string `yaml:"product_name"`
}

// MemberkitConfig holds API-key credentials for the Memberkit platform API.
type MemberkitConfig struct {
	Enabled  bool   `yaml:"enabled"`
	BaseURL  string `yaml:"base_url"`
	APIKey   string `yaml:"api_key"`
	PageSize int    `yaml:"page_size"`
}

// ActiveCampaignConfig holds credentials for the marketing CRM.
type ActiveCampaignConfig struct {
	BaseURL  string `yaml:"base_url"`
	APIToken string `yaml:"api_token"`
}

// PipelineConfig tunes the nightly batch run.
type PipelineConfig struct {
	// RunHourUTC is the hour of day the scheduler launches the pipeline.
	RunHourUTC int `yaml:"run_hour_utc"`
	// CallTimeoutSeconds bounds every outbound remote call.
	CallTimeoutSeconds int `yaml:"call_timeout_seconds"`
	// CallDelayMillis is the fixed delay between successive remote calls
	// during bulk phases, keeping the run under provider rate limits.
	CallDelayMillis int `yaml:"call_delay_millis"`
	// ProgressStepPercent is the fixed increment at which reconcile progress
	// and ETA are logged.
	ProgressStepPercent int `yaml:"progress_step_percent"`
	// MaxSummaryErrors caps the error list on the persisted execution record.
	MaxSummaryErrors int `yaml:"max_summary_errors"`
	// LockTTLMinutes is the run lock TTL; must exceed the longest batch window.
	LockTTLMinutes int `yaml:"lock_ttl_minutes"`
	// AuditRetentionDays is how long communication-log entries are kept.
	// Zero disables pruning.
	AuditRetentionDays int `yaml:"audit_retention_days"`
}

// ArchiveConfig holds the optional S3 mirror of execution records.
type ArchiveConfig struct {
	Enabled bool   `yaml:"enabled"`
	Bucket  string `yaml:"bucket"`
	Region  string `yaml:"region"`
	Prefix  string `yaml:"prefix"`
}

// LoggingConfig tunes the structured run-event logger.
type LoggingConfig struct {
	Level     string `yaml:"level"`
	RedactPII *bool  `yaml:"redact_pii"`
}

// CallTimeout returns the per-call timeout as a duration.
func (p PipelineConfig) CallTimeout() time.Duration {
	return time.Duration(p.CallTimeoutSeconds) * time.Second
}

// CallDelay returns the inter-call delay as a duration.
func (p PipelineConfig) CallDelay() time.Duration {
	return time.Duration(p.CallDelayMillis) * time.Millisecond
}

// LockTTL returns the run-lock TTL as a duration.
func (p PipelineConfig) LockTTL() time.Duration {
	return time.Duration(p.LockTTLMinutes) * time.Minute
}

// Load reads the YAML config file at path and applies defaults. A missing
// file is not an error; defaults plus env overrides must be enough to run.
func Load(path string) (*Config, error) {
	var cfg Config

	data, err := os.ReadFile(path)
	if err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	applyDefaults(&cfg)
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 10
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 5
	}
	if cfg.Hotmart.BaseURL == "" {
		cfg.Hotmart.BaseURL = "https://developers.hotmart.com"
	}
	if cfg.Hotmart.TokenURL == "" {
		cfg.Hotmart.TokenURL = "https://api-sec-vlc.hotmart.com/security/oauth/token"
	}
	if cfg.Hotmart.PageSize == 0 {
		cfg.Hotmart.PageSize = 100
	}
	if cfg.Memberkit.BaseURL == "" {
		cfg.Memberkit.BaseURL = "https://memberkit.com.br/api/v1"
	}
	if cfg.Memberkit.PageSize == 0 {
		cfg.Memberkit.PageSize = 100
	}
	if cfg.Pipeline.RunHourUTC == 0 {
		cfg.Pipeline.RunHourUTC = 6
	}
	if cfg.Pipeline.CallTimeoutSeconds == 0 {
		cfg.Pipeline.CallTimeoutSeconds = 30
	}
	if cfg.Pipeline.CallDelayMillis == 0 {
		cfg.Pipeline.CallDelayMillis = 250
	}
	if cfg.Pipeline.ProgressStepPercent == 0 {
		cfg.Pipeline.ProgressStepPercent = 10
	}
	if cfg.Pipeline.AuditRetentionDays == 0 {
		cfg.Pipeline.AuditRetentionDays = 365
	}
	if cfg.Pipeline.MaxSummaryErrors == 0 {
		cfg.Pipeline.MaxSummaryErrors = 25
	}
	if cfg.Pipeline.LockTTLMinutes == 0 {
		cfg.Pipeline.LockTTLMinutes = 120
	}
	if cfg.Archive.Prefix == "" {
		cfg.Archive.Prefix = "executions"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
}

// LoadFromEnv loads configuration with environment variable overrides.
// It loads a .env file (if present) first, so secrets can live in .env
// locally and in real env vars in the deployed environment.
func LoadFromEnv(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}

	if v := os.Getenv("PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = p
		}
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Database.URL = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("HOTMART_CLIENT_ID"); v != "" {
		cfg.Hotmart.ClientID = v
		cfg.Hotmart.Enabled = true
	}
	if v := os.Getenv("HOTMART_CLIENT_SECRET"); v != "" {
		cfg.Hotmart.ClientSecret = v
	}
	if v := os.Getenv("HOTMART_BASE_URL"); v != "" {
		cfg.Hotmart.BaseURL = v
	}
	if v := os.Getenv("MEMBERKIT_API_KEY"); v != "" {
		cfg.Memberkit.APIKey = v
		cfg.Memberkit.Enabled = true
	}
	if v := os.Getenv("MEMBERKIT_BASE_URL"); v != "" {
		cfg.Memberkit.BaseURL = v
	}
	if v := os.Getenv("ACTIVECAMPAIGN_BASE_URL"); v != "" {
		cfg.ActiveCampaign.BaseURL = v
	}
	if v := os.Getenv("ACTIVECAMPAIGN_API_TOKEN"); v != "" {
		cfg.ActiveCampaign.APIToken = v
	}
	if v := os.Getenv("ARCHIVE_S3_BUCKET"); v != "" {
		cfg.Archive.Bucket = v
		cfg.Archive.Enabled = true
	}
	if v := os.Getenv("ARCHIVE_S3_REGION"); v != "" {
		cfg.Archive.Region = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = strings.ToLower(v)
	}

	return cfg, nil
}

// Validate checks that the settings required for a batch run are present.
func (c *Config) Validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("database.url is required")
	}
	if c.ActiveCampaign.BaseURL == "" || c.ActiveCampaign.APIToken == "" {
		return fmt.Errorf("activecampaign.base_url and activecampaign.api_token are required")
	}
	if c.Pipeline.ProgressStepPercent < 1 || c.Pipeline.ProgressStepPercent > 100 {
		return fmt.Errorf("pipeline.progress_step_percent must be between 1 and 100")
	}
	return nil
}
