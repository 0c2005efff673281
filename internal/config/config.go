// Package config provides configuration management for the transcoder job
// server using Viper. It supports configuration from files, environment
// variables, and defaults.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Default configuration values.
const (
	defaultServerPort      = 8080
	defaultServerTimeout   = 30 * time.Second
	defaultShutdownTimeout = 10 * time.Second
	defaultMaxOpenConns    = 25
	defaultMaxIdleConns    = 10
	defaultConnMaxIdleTime = 30 * time.Minute
	defaultVideoQuality    = 20
	defaultMaxConcurrent   = 1
	defaultStabilizeSecs   = 60
	defaultMaxRetryCount   = 3
	defaultMinFreeSpaceGB  = 10
	defaultHistoryRetain   = 30 * 24 * time.Hour
	defaultJobRetention    = 7 * 24 * time.Hour
)

// Config holds all configuration for the transcoder job server.
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Paths       PathsConfig       `mapstructure:"paths"`
	Encoding    EncodingConfig    `mapstructure:"encoding"`
	Runtime     RuntimeConfig     `mapstructure:"runtime"`
	Auth        AuthConfig        `mapstructure:"auth"`
	Logging     LoggingConfig     `mapstructure:"logging"`
	Maintenance MaintenanceConfig `mapstructure:"maintenance"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	CORSOrigins     []string      `mapstructure:"cors_origins"`
}

// DatabaseConfig holds database connection configuration.
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"` // sqlite, postgres, mysql
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	LogLevel        string        `mapstructure:"log_level"` // silent, error, warn, info
}

// PathsConfig holds the filesystem roots the worker operates against.
type PathsConfig struct {
	RawPath       string `mapstructure:"raw_path"`
	CompletedPath string `mapstructure:"completed_path"`
	WorkPath      string `mapstructure:"work_path"`
	DBPath        string `mapstructure:"db_path"`
	MoviesSubdir  string `mapstructure:"movies_subdir"`
	TVSubdir      string `mapstructure:"tv_subdir"`
	AudioSubdir   string `mapstructure:"audio_subdir"`
}

// EncodingConfig holds the user-tunable transcode parameters. Values are
// passed through commandguard.Validate before use; this struct only carries
// what the operator configured, not the normalized/validated form.
type EncodingConfig struct {
	VideoEncoder      string `mapstructure:"video_encoder"`
	VideoQuality      int    `mapstructure:"video_quality"` // 0-51
	AudioEncoder      string `mapstructure:"audio_encoder"`
	SubtitleMode      string `mapstructure:"subtitle_mode"`
	HandbrakePreset   string `mapstructure:"handbrake_preset"`
	HandbrakePreset4K string `mapstructure:"handbrake_preset_4k"`
	VAAPIDevice       string `mapstructure:"vaapi_device"`
}

// RuntimeConfig holds worker loop tunables.
type RuntimeConfig struct {
	MaxConcurrent      int     `mapstructure:"max_concurrent"`
	StabilizeSeconds   int     `mapstructure:"stabilize_seconds"`
	MaxRetryCount      int     `mapstructure:"max_retry_count"` // 0-10
	MinimumFreeSpaceGB float64 `mapstructure:"minimum_free_space_gb"`
	DeleteSource       bool    `mapstructure:"delete_source"`
}

// AuthConfig holds control-plane and webhook authentication settings.
type AuthConfig struct {
	RequireAPIAuth bool   `mapstructure:"require_api_auth"`
	APIKeys        string `mapstructure:"api_keys"` // comma-separated, optional "role:" prefix
	WebhookSecret  string `mapstructure:"webhook_secret"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`  // trace, debug, info, warn, error
	Format     string `mapstructure:"format"` // json, text
	AddSource  bool   `mapstructure:"add_source"`
	TimeFormat string `mapstructure:"time_format"`
}

// MaintenanceConfig holds retention and cleanup scheduling.
type MaintenanceConfig struct {
	HistoryRetention      Duration `mapstructure:"history_retention"`
	CompletedJobRetention Duration `mapstructure:"completed_job_retention"`
	CleanupCron           string   `mapstructure:"cleanup_cron"`
}

// Load reads configuration from file and environment variables.
// Environment variables take precedence over file configuration.
// Environment variables are prefixed with TRANSCODER_ and use underscores
// for nesting. Example: TRANSCODER_SERVER_PORT=8080.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	SetDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/transcoder")
		v.AddConfigPath("$HOME/.transcoder")
	}

	v.SetEnvPrefix("TRANSCODER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// SetDefaults configures default values for all configuration options.
// This should be called before reading the config file to ensure defaults
// are in place.
func SetDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", defaultServerPort)
	v.SetDefault("server.read_timeout", defaultServerTimeout)
	v.SetDefault("server.write_timeout", defaultServerTimeout)
	v.SetDefault("server.shutdown_timeout", defaultShutdownTimeout)
	v.SetDefault("server.cors_origins", []string{"*"})

	// Database defaults
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.max_open_conns", defaultMaxOpenConns)
	v.SetDefault("database.max_idle_conns", defaultMaxIdleConns)
	v.SetDefault("database.conn_max_lifetime", time.Hour)
	v.SetDefault("database.conn_max_idle_time", defaultConnMaxIdleTime)
	v.SetDefault("database.log_level", "warn")

	// Paths defaults
	v.SetDefault("paths.raw_path", "/data/raw")
	v.SetDefault("paths.completed_path", "/data/completed")
	v.SetDefault("paths.work_path", "/data/work")
	v.SetDefault("paths.db_path", "/data/transcoder.db")
	v.SetDefault("paths.movies_subdir", "movies")
	v.SetDefault("paths.tv_subdir", "tv")
	v.SetDefault("paths.audio_subdir", "audio")

	// Encoding defaults
	v.SetDefault("encoding.video_encoder", "x265")
	v.SetDefault("encoding.video_quality", defaultVideoQuality)
	v.SetDefault("encoding.audio_encoder", "aac")
	v.SetDefault("encoding.subtitle_mode", "all")
	v.SetDefault("encoding.handbrake_preset", "Fast 1080p30")
	v.SetDefault("encoding.handbrake_preset_4k", "")
	v.SetDefault("encoding.vaapi_device", "/dev/dri/renderD128")

	// Runtime defaults
	v.SetDefault("runtime.max_concurrent", defaultMaxConcurrent)
	v.SetDefault("runtime.stabilize_seconds", defaultStabilizeSecs)
	v.SetDefault("runtime.max_retry_count", defaultMaxRetryCount)
	v.SetDefault("runtime.minimum_free_space_gb", defaultMinFreeSpaceGB)
	v.SetDefault("runtime.delete_source", true)

	// Auth defaults
	v.SetDefault("auth.require_api_auth", true)
	v.SetDefault("auth.api_keys", "")
	v.SetDefault("auth.webhook_secret", "")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.add_source", false)
	v.SetDefault("logging.time_format", time.RFC3339)

	// Maintenance defaults
	v.SetDefault("maintenance.history_retention", defaultHistoryRetain)
	v.SetDefault("maintenance.completed_job_retention", defaultJobRetention)
	v.SetDefault("maintenance.cleanup_cron", "0 * * * *")
}

// Validate checks the configuration for errors, failing closed: any
// violation here means the process must exit before binding a listener.
func (c *Config) Validate() error {
	const maxPort = 65535
	if c.Server.Port < 1 || c.Server.Port > maxPort {
		return fmt.Errorf("server.port must be between 1 and %d", maxPort)
	}

	validDrivers := map[string]bool{"sqlite": true, "postgres": true, "mysql": true}
	if !validDrivers[c.Database.Driver] {
		return fmt.Errorf("database.driver must be one of: sqlite, postgres, mysql")
	}
	if c.Database.Driver != "sqlite" && c.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required for driver %q", c.Database.Driver)
	}

	if c.Paths.RawPath == "" {
		return fmt.Errorf("paths.raw_path is required")
	}
	if c.Paths.CompletedPath == "" {
		return fmt.Errorf("paths.completed_path is required")
	}
	if c.Paths.WorkPath == "" {
		return fmt.Errorf("paths.work_path is required")
	}
	if c.Paths.DBPath == "" && c.Database.Driver == "sqlite" {
		return fmt.Errorf("paths.db_path is required for the sqlite driver")
	}

	const maxVideoQuality = 51
	if c.Encoding.VideoQuality < 0 || c.Encoding.VideoQuality > maxVideoQuality {
		return fmt.Errorf("encoding.video_quality must be between 0 and %d", maxVideoQuality)
	}

	const maxRetryCount = 10
	if c.Runtime.MaxRetryCount < 0 || c.Runtime.MaxRetryCount > maxRetryCount {
		return fmt.Errorf("runtime.max_retry_count must be between 0 and %d", maxRetryCount)
	}
	if c.Runtime.MaxConcurrent < 1 {
		return fmt.Errorf("runtime.max_concurrent must be at least 1")
	}
	if c.Runtime.MinimumFreeSpaceGB < 0 {
		return fmt.Errorf("runtime.minimum_free_space_gb must not be negative")
	}

	validLevels := map[string]bool{"trace": true, "debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: trace, debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	return nil
}

// Address returns the server address in host:port format.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
