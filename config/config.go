// Package config loads donationd settings from a YAML file, DONATION_*
// environment variables and built-in defaults, in that order of precedence
// (env wins over file, file wins over defaults).
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"github.com/warp/donation-ledger/donation"
	"github.com/warp/donation-ledger/logger"
)

// EnvPrefix namespaces environment overrides, e.g. DONATION_SERVER_ADDR.
const EnvPrefix = "DONATION"

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Log      LogConfig      `mapstructure:"log"`
	Tiers    TierConfig     `mapstructure:"tiers"`
	Proof    ProofConfig    `mapstructure:"proof"`
	Reminder ReminderConfig `mapstructure:"reminder"`

	// Timezone is the IANA zone used for calendar months and years.
	Timezone string `mapstructure:"timezone"`
}

type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins"`
	MaxUploadMB     int64         `mapstructure:"max_upload_mb"`
}

type DatabaseConfig struct {
	Path string `mapstructure:"path"`
	// AutoMigrate applies pending migrations on serve. When false the
	// server refuses to start on an outdated schema.
	AutoMigrate bool `mapstructure:"auto_migrate"`
}

type LogConfig struct {
	Level       string `mapstructure:"level"`  // debug, info, warn, error
	Output      string `mapstructure:"output"` // stdout, stderr, file
	File        string `mapstructure:"file"`
	MaxSize     int    `mapstructure:"max_size"`
	MaxBackups  int    `mapstructure:"max_backups"`
	MaxAge      int    `mapstructure:"max_age"`
	Compress    bool   `mapstructure:"compress"`
	Development bool   `mapstructure:"development"`
}

// TierConfig holds the minimum monthly verified total for each tier as
// decimal strings.
type TierConfig struct {
	Blue   string `mapstructure:"blue"`
	Bronze string `mapstructure:"bronze"`
	Silver string `mapstructure:"silver"`
	Gold   string `mapstructure:"gold"`
}

type ProofConfig struct {
	Backend string `mapstructure:"backend"` // local, s3
	Dir     string `mapstructure:"dir"`

	S3Bucket string `mapstructure:"s3_bucket"`
	S3Region string `mapstructure:"s3_region"`
	S3Prefix string `mapstructure:"s3_prefix"`
}

type ReminderConfig struct {
	Enabled    bool          `mapstructure:"enabled"`
	Interval   time.Duration `mapstructure:"interval"`
	PendingAge time.Duration `mapstructure:"pending_age"`
}

// SetDefaults registers every key so env overrides work without a file.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 15*time.Second)
	v.SetDefault("server.idle_timeout", 60*time.Second)
	v.SetDefault("server.shutdown_timeout", 30*time.Second)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("server.max_upload_mb", 10)

	v.SetDefault("database.path", "./data/donations.db")
	v.SetDefault("database.auto_migrate", true)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.output", "stdout")
	v.SetDefault("log.file", "logs/donationd.log")
	v.SetDefault("log.max_size", 100)
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("log.max_age", 28)
	v.SetDefault("log.compress", true)
	v.SetDefault("log.development", false)

	th := donation.DefaultThresholds()
	v.SetDefault("tiers.blue", th.Blue.String())
	v.SetDefault("tiers.bronze", th.Bronze.String())
	v.SetDefault("tiers.silver", th.Silver.String())
	v.SetDefault("tiers.gold", th.Gold.String())

	v.SetDefault("proof.backend", "local")
	v.SetDefault("proof.dir", "./data/proofs")
	v.SetDefault("proof.s3_bucket", "")
	v.SetDefault("proof.s3_region", "")
	v.SetDefault("proof.s3_prefix", "proofs/")

	v.SetDefault("reminder.enabled", true)
	v.SetDefault("reminder.interval", time.Hour)
	v.SetDefault("reminder.pending_age", 48*time.Hour)

	v.SetDefault("timezone", "UTC")
}

// Load reads configuration into a validated Config. An empty file searches
// ./config.yaml, ./config/config.yaml and /etc/donation-ledger/config.yaml;
// a missing file is fine, a broken one is not.
func Load(v *viper.Viper, file string) (*Config, error) {
	if v == nil {
		v = viper.New()
	}
	SetDefaults(v)

	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/donation-ledger")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks values that would otherwise fail late at runtime.
func (c *Config) Validate() error {
	if _, err := c.Thresholds(); err != nil {
		return err
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	if _, err := logger.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	switch c.Proof.Backend {
	case "local":
		if c.Proof.Dir == "" {
			return fmt.Errorf("proof.dir is required for the local backend")
		}
	case "s3":
		if c.Proof.S3Bucket == "" {
			return fmt.Errorf("proof.s3_bucket is required for the s3 backend")
		}
	default:
		return fmt.Errorf("proof.backend: unknown backend %q", c.Proof.Backend)
	}
	if c.Reminder.Enabled && c.Reminder.Interval <= 0 {
		return fmt.Errorf("reminder.interval must be positive")
	}
	return nil
}

// Thresholds parses and validates the tier boundaries.
func (c *Config) Thresholds() (donation.Thresholds, error) {
	var (
		th  donation.Thresholds
		err error
	)
	fields := []struct {
		name string
		raw  string
		dst  *decimal.Decimal
	}{
		{"tiers.blue", c.Tiers.Blue, &th.Blue},
		{"tiers.bronze", c.Tiers.Bronze, &th.Bronze},
		{"tiers.silver", c.Tiers.Silver, &th.Silver},
		{"tiers.gold", c.Tiers.Gold, &th.Gold},
	}
	for _, f := range fields {
		if *f.dst, err = decimal.NewFromString(strings.TrimSpace(f.raw)); err != nil {
			return donation.Thresholds{}, fmt.Errorf("%s: %w", f.name, err)
		}
	}
	if err := th.Validate(); err != nil {
		return donation.Thresholds{}, err
	}
	return th, nil
}

// Location resolves the configured timezone.
func (c *Config) Location() (*time.Location, error) {
	if c.Timezone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("timezone: %w", err)
	}
	return loc, nil
}

// Logger converts the log section for the logger package.
func (c *Config) Logger() logger.Config {
	return logger.Config{
		Level:       c.Log.Level,
		Output:      c.Log.Output,
		File:        c.Log.File,
		MaxSize:     c.Log.MaxSize,
		MaxBackups:  c.Log.MaxBackups,
		MaxAge:      c.Log.MaxAge,
		Compress:    c.Log.Compress,
		Development: c.Log.Development,
	}
}
