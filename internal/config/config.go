package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds the complete application configuration
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Tracking TrackingConfig `mapstructure:"tracking"`
	Sync     SyncConfig     `mapstructure:"sync"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Drive    DriveConfig    `mapstructure:"drive"`
	History  HistoryConfig  `mapstructure:"history"`
	StateDir string         `mapstructure:"state_dir"`
}

// ServerConfig defines server ports and addresses
type ServerConfig struct {
	BindAddress    string   `mapstructure:"bind_address"`
	APIPort        int      `mapstructure:"api_port"`
	MetricsPort    int      `mapstructure:"metrics_port"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// StorageConfig defines storage backend settings
type StorageConfig struct {
	Type  string      `mapstructure:"type"` // redis, bolt or sqlite
	Path  string      `mapstructure:"path"` // file path for bolt and sqlite
	Redis RedisConfig `mapstructure:"redis"`
}

// RedisConfig defines Redis connection settings
type RedisConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	Password     string `mapstructure:"password"`
	DB           int    `mapstructure:"db"`
	PoolSize     int    `mapstructure:"pool_size"`
	MinIdleConns int    `mapstructure:"min_idle_conns"`
	DialTimeout  string `mapstructure:"dial_timeout"`
	ReadTimeout  string `mapstructure:"read_timeout"`
	WriteTimeout string `mapstructure:"write_timeout"`
}

// LoggingConfig defines logging behavior
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// TrackingConfig defines the accrual timers and thresholds
type TrackingConfig struct {
	TickInterval   string  `mapstructure:"tick_interval"`
	FlushInterval  string  `mapstructure:"flush_interval"`
	FlushTimeout   string  `mapstructure:"flush_timeout"`
	IdleTimeout    string  `mapstructure:"idle_timeout"`
	MaxGap         string  `mapstructure:"max_gap"`
	FlushThreshold float64 `mapstructure:"flush_threshold"`
	Timezone       string  `mapstructure:"timezone"`
}

// SyncConfig defines cloud reconciliation settings
type SyncConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	Interval     string `mapstructure:"interval"`
	Timeout      string `mapstructure:"timeout"` // "0" disables the network deadline
	FileName     string `mapstructure:"file_name"`
	FailureReset string `mapstructure:"failure_reset"`
}

// AuthConfig defines the OAuth2 client used to reach the drive
type AuthConfig struct {
	ClientID     string   `mapstructure:"client_id"`
	ClientSecret string   `mapstructure:"client_secret"`
	AuthURL      string   `mapstructure:"auth_url"`
	TokenURL     string   `mapstructure:"token_url"`
	RedirectURL  string   `mapstructure:"redirect_url"`
	Scopes       []string `mapstructure:"scopes"`
	OpenBrowser  bool     `mapstructure:"open_browser"`
}

// DriveConfig defines the remote file API endpoint
type DriveConfig struct {
	Endpoint string `mapstructure:"endpoint"` // empty uses the public Drive API
}

// HistoryConfig defines the presentation cache
type HistoryConfig struct {
	CacheDays int `mapstructure:"cache_days"`
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults
	SetDefaults(v)

	// Optional .env files next to the config and in the working directory
	loadDotEnv(configPath)

	// Configure viper
	v.SetConfigFile(configPath)
	v.SetEnvPrefix("SKILLTRACK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found, use defaults and environment variables
	}

	// Unmarshal config
	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Validate config
	if err := validate(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// SetDefaults sets default configuration values
func SetDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.bind_address", "127.0.0.1")
	v.SetDefault("server.api_port", 8086)
	v.SetDefault("server.metrics_port", 9090)
	v.SetDefault("server.allowed_origins", []string{"https://www.skills.google"})

	// Storage defaults
	v.SetDefault("storage.type", "redis")
	v.SetDefault("storage.path", "/var/lib/skilltrack/skilltrack.db")
	v.SetDefault("storage.redis.host", "127.0.0.1")
	v.SetDefault("storage.redis.port", 6379)
	v.SetDefault("storage.redis.db", 0)
	v.SetDefault("storage.redis.pool_size", 10)
	v.SetDefault("storage.redis.min_idle_conns", 2)
	v.SetDefault("storage.redis.dial_timeout", "5s")
	v.SetDefault("storage.redis.read_timeout", "3s")
	v.SetDefault("storage.redis.write_timeout", "3s")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	// Tracking defaults
	v.SetDefault("tracking.tick_interval", "1s")
	v.SetDefault("tracking.flush_interval", "5s")
	v.SetDefault("tracking.flush_timeout", "5s")
	v.SetDefault("tracking.idle_timeout", "30s")
	v.SetDefault("tracking.max_gap", "300s")
	v.SetDefault("tracking.flush_threshold", 0.1)
	v.SetDefault("tracking.timezone", "UTC")

	// Sync defaults
	v.SetDefault("sync.enabled", true)
	v.SetDefault("sync.interval", "15m")
	v.SetDefault("sync.timeout", "60s")
	v.SetDefault("sync.file_name", "skills_tracker_data.json")
	v.SetDefault("sync.failure_reset", "3s")

	// Auth defaults
	v.SetDefault("auth.auth_url", "https://accounts.google.com/o/oauth2/auth")
	v.SetDefault("auth.token_url", "https://oauth2.googleapis.com/token")
	v.SetDefault("auth.redirect_url", "http://127.0.0.1:8087/oauth2/callback")
	v.SetDefault("auth.scopes", []string{"https://www.googleapis.com/auth/drive.appdata"})
	v.SetDefault("auth.open_browser", true)

	// Drive defaults
	v.SetDefault("drive.endpoint", "")

	// History defaults
	v.SetDefault("history.cache_days", 400)

	v.SetDefault("state_dir", "/var/lib/skilltrack")
}

// validate validates the configuration
func validate(cfg *Config) error {
	if cfg.Server.APIPort <= 0 || cfg.Server.APIPort > 65535 {
		return fmt.Errorf("invalid API port: %d", cfg.Server.APIPort)
	}
	if cfg.Server.MetricsPort < 0 || cfg.Server.MetricsPort > 65535 {
		return fmt.Errorf("invalid metrics port: %d", cfg.Server.MetricsPort)
	}

	if cfg.Storage.Type == "" {
		cfg.Storage.Type = "redis"
	}
	switch cfg.Storage.Type {
	case "redis":
	case "bolt", "sqlite":
		if cfg.Storage.Path == "" {
			return fmt.Errorf("storage path is required for %s storage", cfg.Storage.Type)
		}
	default:
		return fmt.Errorf("unsupported storage type: %s", cfg.Storage.Type)
	}

	durations := map[string]string{
		"tracking.tick_interval":  cfg.Tracking.TickInterval,
		"tracking.flush_interval": cfg.Tracking.FlushInterval,
		"tracking.flush_timeout":  cfg.Tracking.FlushTimeout,
		"tracking.idle_timeout":   cfg.Tracking.IdleTimeout,
		"tracking.max_gap":        cfg.Tracking.MaxGap,
		"sync.interval":           cfg.Sync.Interval,
		"sync.timeout":            cfg.Sync.Timeout,
		"sync.failure_reset":      cfg.Sync.FailureReset,
	}
	for key, value := range durations {
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", key, err)
		}
		if d < 0 {
			return fmt.Errorf("invalid %s: must not be negative", key)
		}
	}

	if cfg.Tracking.FlushThreshold < 0 {
		return fmt.Errorf("invalid tracking.flush_threshold: %v", cfg.Tracking.FlushThreshold)
	}
	if _, err := time.LoadLocation(cfg.Tracking.Timezone); err != nil {
		return fmt.Errorf("invalid tracking.timezone: %w", err)
	}

	if cfg.Sync.FileName == "" {
		return fmt.Errorf("sync.file_name is required")
	}
	if cfg.History.CacheDays <= 0 {
		return fmt.Errorf("invalid history.cache_days: %d", cfg.History.CacheDays)
	}

	return nil
}

// Location returns the time zone day keys are computed in.
func (c TrackingConfig) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// loadDotEnv loads optional .env files without overriding variables that are
// already set in the environment.
func loadDotEnv(configPath string) {
	candidates := []string{".env"}
	if configPath != "" {
		candidates = append([]string{filepath.Join(filepath.Dir(configPath), ".env")}, candidates...)
	}
	for _, p := range candidates {
		if _, err := os.Stat(p); err != nil {
			continue
		}
		_ = godotenv.Load(p)
	}
}
