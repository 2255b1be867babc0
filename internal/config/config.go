// Package config loads zion's settings.
//
// Values are layered, later sources winning:
//
//  1. built-in defaults
//  2. $XDG_CONFIG_HOME/zion/config.toml, if present
//  3. a .env file in the working directory, if present
//  4. ZION_* environment variables (ZION_CONCURRENCY, ZION_CACHE_DIR, ...)
//
// Command-line flags are applied on top by the CLI.
package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/matzehuels/zion/pkg/errors"
	"github.com/matzehuels/zion/pkg/fetch"
	"github.com/matzehuels/zion/pkg/httputil"
	"github.com/matzehuels/zion/pkg/scheduler"
)

const (
	// AppName names the config and cache directories.
	AppName = "zion"
	// EnvPrefix prefixes environment overrides.
	EnvPrefix = "ZION"
	// FileName is the config file name inside the config directory.
	FileName = "config.toml"
)

// Resolution cache backends.
const (
	ResolveCacheFile  = "file"
	ResolveCacheRedis = "redis"
	ResolveCacheNone  = "none"
)

// Config is the resolved configuration.
type Config struct {
	Concurrency  int           `mapstructure:"concurrency"`
	Retries      int           `mapstructure:"retries"`
	BaseDelay    time.Duration `mapstructure:"base_delay"`
	HTTPTimeout  time.Duration `mapstructure:"http_timeout"`
	CacheDir     string        `mapstructure:"cache_dir"`
	Host         string        `mapstructure:"host"`
	Branches     []string      `mapstructure:"branches"`
	ResolveCache string        `mapstructure:"resolve_cache"`
	ResolveTTL   time.Duration `mapstructure:"resolve_ttl"`
	RedisURL     string        `mapstructure:"redis_url"`
	LogLevel     string        `mapstructure:"log_level"`
	Progress     bool          `mapstructure:"progress"`

	// File is the config file that was read, if any.
	File string `mapstructure:"-"`
}

// Options control where Load looks. Zero values use the standard
// locations.
type Options struct {
	ConfigFile string // explicit config file; must exist when set
	EnvFile    string // defaults to ".env"
}

// Dir returns the zion config directory.
func Dir() string {
	return filepath.Join(xdg.ConfigHome, AppName)
}

// DefaultCacheDir returns the default cache root.
func DefaultCacheDir() string {
	return filepath.Join(xdg.CacheHome, AppName)
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Concurrency:  scheduler.DefaultConcurrency,
		Retries:      scheduler.DefaultAttempts,
		BaseDelay:    scheduler.DefaultBaseDelay,
		HTTPTimeout:  httputil.DefaultTimeout,
		CacheDir:     DefaultCacheDir(),
		Host:         fetch.DefaultHost,
		Branches:     append([]string(nil), fetch.DefaultBranches...),
		ResolveCache: ResolveCacheFile,
		ResolveTTL:   fetch.DefaultResolveTTL,
		LogLevel:     "info",
		Progress:     true,
	}
}

// Load resolves the configuration.
func Load(opts Options) (*Config, error) {
	envFile := opts.EnvFile
	if envFile == "" {
		envFile = ".env"
	}
	if _, err := os.Stat(envFile); err == nil {
		// Existing environment variables take precedence over the file.
		if err := godotenv.Load(envFile); err != nil {
			return nil, errors.Wrap(errors.ErrCodeInvalidInput, err, "load %s", envFile)
		}
	}

	v := viper.New()
	d := Default()
	v.SetDefault("concurrency", d.Concurrency)
	v.SetDefault("retries", d.Retries)
	v.SetDefault("base_delay", d.BaseDelay)
	v.SetDefault("http_timeout", d.HTTPTimeout)
	v.SetDefault("cache_dir", d.CacheDir)
	v.SetDefault("host", d.Host)
	v.SetDefault("branches", d.Branches)
	v.SetDefault("resolve_cache", d.ResolveCache)
	v.SetDefault("resolve_ttl", d.ResolveTTL)
	v.SetDefault("redis_url", d.RedisURL)
	v.SetDefault("log_level", d.LogLevel)
	v.SetDefault("progress", d.Progress)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	file := opts.ConfigFile
	if file == "" {
		if p := filepath.Join(Dir(), FileName); fileExists(p) {
			file = p
		}
	} else if !fileExists(file) {
		return nil, errors.New(errors.ErrCodePreconditionMissing, "config file not found: %s", file)
	}
	if file != "" {
		v.SetConfigFile(file)
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrap(errors.ErrCodeInvalidInput, err, "read config %s", file)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(errors.ErrCodeInvalidInput, err, "parse config")
	}
	cfg.File = file
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks value ranges.
func (c *Config) Validate() error {
	if c.Concurrency < 1 {
		return errors.New(errors.ErrCodeInvalidInput, "concurrency must be at least 1, got %d", c.Concurrency)
	}
	if c.Retries < 1 {
		return errors.New(errors.ErrCodeInvalidInput, "retries must be at least 1, got %d", c.Retries)
	}
	if err := errors.ValidateURL(c.Host); err != nil {
		return errors.Wrap(errors.ErrCodeInvalidInput, err, "host")
	}
	if len(c.Branches) == 0 {
		return errors.New(errors.ErrCodeInvalidInput, "branches must not be empty")
	}
	switch c.ResolveCache {
	case ResolveCacheFile, ResolveCacheNone:
	case ResolveCacheRedis:
		if c.RedisURL == "" {
			return errors.New(errors.ErrCodeInvalidInput, "resolve_cache is redis but redis_url is empty")
		}
	default:
		return errors.New(errors.ErrCodeInvalidInput, "resolve_cache must be file, redis or none, got %q", c.ResolveCache)
	}
	return nil
}

// ArchiveDir returns where archives are cached.
func (c *Config) ArchiveDir() string {
	return filepath.Join(c.CacheDir, "archives")
}

// ResolveDir returns where the file resolution cache lives.
func (c *Config) ResolveDir() string {
	return filepath.Join(c.CacheDir, "resolve")
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
