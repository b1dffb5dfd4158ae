package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is the prefix of environment variables overriding config keys,
// e.g. REDNOTE_BROWSER_HEADLESS=false.
const EnvPrefix = "REDNOTE"

// Store backends
const (
	BackendFile  = "file"
	BackendRedis = "redis"
)

// Config represents the full rednote configuration.
type Config struct {
	Browser   BrowserConfig   `mapstructure:"browser" yaml:"browser"`
	Store     StoreConfig     `mapstructure:"store" yaml:"store"`
	Login     LoginConfig     `mapstructure:"login" yaml:"login"`
	Crawl     CrawlConfig     `mapstructure:"crawl" yaml:"crawl"`
	Detail    DetailConfig    `mapstructure:"detail" yaml:"detail"`
	Publish   PublishConfig   `mapstructure:"publish" yaml:"publish"`
	Selectors SelectorsConfig `mapstructure:"selectors" yaml:"selectors"`
	Log       LogConfig       `mapstructure:"log" yaml:"log"`
	Metrics   MetricsConfig   `mapstructure:"metrics" yaml:"metrics"`
}

// BrowserConfig configures the shared browser driver and its contexts
type BrowserConfig struct {
	Headless       bool   `mapstructure:"headless" yaml:"headless"`
	Channel        string `mapstructure:"channel" yaml:"channel"` // e.g. "chrome"; empty uses bundled chromium
	UserAgent      string `mapstructure:"user_agent" yaml:"user_agent"`
	ViewportWidth  int    `mapstructure:"viewport_width" yaml:"viewport_width"`
	ViewportHeight int    `mapstructure:"viewport_height" yaml:"viewport_height"`
	MaxLeases      int    `mapstructure:"max_leases" yaml:"max_leases"`

	NavigationTimeout time.Duration `mapstructure:"navigation_timeout" yaml:"navigation_timeout"`
	ActionTimeout     time.Duration `mapstructure:"action_timeout" yaml:"action_timeout"`
}

// StoreConfig selects where user sessions are persisted
type StoreConfig struct {
	Backend string      `mapstructure:"backend" yaml:"backend"`
	Dir     string      `mapstructure:"dir" yaml:"dir"`
	Redis   RedisConfig `mapstructure:"redis" yaml:"redis"`
}

// RedisConfig configures the redis session backend
type RedisConfig struct {
	Addr     string `mapstructure:"addr" yaml:"addr"`
	Password string `mapstructure:"password" yaml:"password"`
	DB       int    `mapstructure:"db" yaml:"db"`
	Prefix   string `mapstructure:"prefix" yaml:"prefix"`
}

// LoginConfig holds the login state machine timings
type LoginConfig struct {
	ValidatePollInterval time.Duration `mapstructure:"validate_poll_interval" yaml:"validate_poll_interval"`
	ValidateTimeout      time.Duration `mapstructure:"validate_timeout" yaml:"validate_timeout"`
	InteractiveTimeout   time.Duration `mapstructure:"interactive_timeout" yaml:"interactive_timeout"`
	StatusPollInterval   time.Duration `mapstructure:"status_poll_interval" yaml:"status_poll_interval"`
	StatusTimeout        time.Duration `mapstructure:"status_timeout" yaml:"status_timeout"`

	// AssumeAuthenticatedOnTimeout treats "no signal before timeout" as logged in.
	AssumeAuthenticatedOnTimeout bool `mapstructure:"assume_authenticated_on_timeout" yaml:"assume_authenticated_on_timeout"`
}

// CrawlConfig configures the search crawler
type CrawlConfig struct {
	MaxItems         int           `mapstructure:"max_items" yaml:"max_items"` // 0 means every rendered item
	ContainerTimeout time.Duration `mapstructure:"container_timeout" yaml:"container_timeout"`
}

// DetailConfig configures the detail extractor
type DetailConfig struct {
	TitleTimeout time.Duration `mapstructure:"title_timeout" yaml:"title_timeout"`
}

// PublishConfig configures the publish workflow
type PublishConfig struct {
	ScratchDir          string        `mapstructure:"scratch_dir" yaml:"scratch_dir"`
	MaxRetry            int           `mapstructure:"max_retry" yaml:"max_retry"`
	DownloadConcurrency int           `mapstructure:"download_concurrency" yaml:"download_concurrency"`
	DownloadTimeout     time.Duration `mapstructure:"download_timeout" yaml:"download_timeout"`
	UploadTimeout       time.Duration `mapstructure:"upload_timeout" yaml:"upload_timeout"`
	SuccessTimeout      time.Duration `mapstructure:"success_timeout" yaml:"success_timeout"`
}

// SelectorsConfig points at an optional selector set overriding the embedded one
type SelectorsConfig struct {
	File string `mapstructure:"file" yaml:"file"`
}

// LogConfig configures logging
type LogConfig struct {
	Level string `mapstructure:"level" yaml:"level"`
	Dir   string `mapstructure:"dir" yaml:"dir"`
}

// MetricsConfig configures the prometheus endpoint
type MetricsConfig struct {
	Addr string `mapstructure:"addr" yaml:"addr"` // empty disables the endpoint
}

// Default returns a configuration suitable for most use cases
func Default() *Config {
	return &Config{
		Browser: BrowserConfig{
			Headless:          true,
			ViewportWidth:     1280,
			ViewportHeight:    720,
			MaxLeases:         5,
			NavigationTimeout: 30 * time.Second,
			ActionTimeout:     10 * time.Second,
		},
		Store: StoreConfig{
			Backend: BackendFile,
			Dir:     defaultDataPath("users"),
			Redis: RedisConfig{
				Addr:   "localhost:6379",
				Prefix: "rednote:session:",
			},
		},
		Login: LoginConfig{
			ValidatePollInterval:         time.Second,
			ValidateTimeout:              10 * time.Second,
			InteractiveTimeout:           5 * time.Minute,
			StatusPollInterval:           200 * time.Millisecond,
			StatusTimeout:                10 * time.Second,
			AssumeAuthenticatedOnTimeout: true,
		},
		Crawl: CrawlConfig{
			ContainerTimeout: 5 * time.Second,
		},
		Detail: DetailConfig{
			TitleTimeout: 5 * time.Second,
		},
		Publish: PublishConfig{
			ScratchDir:          filepath.Join(os.TempDir(), "rednote-scratch"),
			MaxRetry:            2,
			DownloadConcurrency: 4,
			DownloadTimeout:     30 * time.Second,
			UploadTimeout:       30 * time.Second,
			SuccessTimeout:      10 * time.Second,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// defaultDataPath returns ~/.rednote/<name>, or a relative path when the home
// directory is unknown.
func defaultDataPath(name string) string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".rednote", name)
	}
	return filepath.Join(homeDir, ".rednote", name)
}

// Load reads configuration from path (optional), REDNOTE_* environment
// variables and defaults, in increasing order of precedence: defaults, file, env.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v, Default())

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	} else {
		v.SetConfigName("rednote")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath(defaultDataPath(""))
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("error reading config file: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// setDefaults registers every key so that env overrides resolve during Unmarshal
func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("browser.headless", d.Browser.Headless)
	v.SetDefault("browser.channel", d.Browser.Channel)
	v.SetDefault("browser.user_agent", d.Browser.UserAgent)
	v.SetDefault("browser.viewport_width", d.Browser.ViewportWidth)
	v.SetDefault("browser.viewport_height", d.Browser.ViewportHeight)
	v.SetDefault("browser.max_leases", d.Browser.MaxLeases)
	v.SetDefault("browser.navigation_timeout", d.Browser.NavigationTimeout)
	v.SetDefault("browser.action_timeout", d.Browser.ActionTimeout)

	v.SetDefault("store.backend", d.Store.Backend)
	v.SetDefault("store.dir", d.Store.Dir)
	v.SetDefault("store.redis.addr", d.Store.Redis.Addr)
	v.SetDefault("store.redis.password", d.Store.Redis.Password)
	v.SetDefault("store.redis.db", d.Store.Redis.DB)
	v.SetDefault("store.redis.prefix", d.Store.Redis.Prefix)

	v.SetDefault("login.validate_poll_interval", d.Login.ValidatePollInterval)
	v.SetDefault("login.validate_timeout", d.Login.ValidateTimeout)
	v.SetDefault("login.interactive_timeout", d.Login.InteractiveTimeout)
	v.SetDefault("login.status_poll_interval", d.Login.StatusPollInterval)
	v.SetDefault("login.status_timeout", d.Login.StatusTimeout)
	v.SetDefault("login.assume_authenticated_on_timeout", d.Login.AssumeAuthenticatedOnTimeout)

	v.SetDefault("crawl.max_items", d.Crawl.MaxItems)
	v.SetDefault("crawl.container_timeout", d.Crawl.ContainerTimeout)
	v.SetDefault("detail.title_timeout", d.Detail.TitleTimeout)

	v.SetDefault("publish.scratch_dir", d.Publish.ScratchDir)
	v.SetDefault("publish.max_retry", d.Publish.MaxRetry)
	v.SetDefault("publish.download_concurrency", d.Publish.DownloadConcurrency)
	v.SetDefault("publish.download_timeout", d.Publish.DownloadTimeout)
	v.SetDefault("publish.upload_timeout", d.Publish.UploadTimeout)
	v.SetDefault("publish.success_timeout", d.Publish.SuccessTimeout)

	v.SetDefault("selectors.file", d.Selectors.File)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.dir", d.Log.Dir)
	v.SetDefault("metrics.addr", d.Metrics.Addr)
}

// Validate validates the configuration
func (c *Config) Validate() error {
	switch c.Store.Backend {
	case BackendFile:
		if c.Store.Dir == "" {
			return fmt.Errorf("store.dir is required for the file backend")
		}
	case BackendRedis:
		if c.Store.Redis.Addr == "" {
			return fmt.Errorf("store.redis.addr is required for the redis backend")
		}
	default:
		return fmt.Errorf("invalid store backend: %s (must be 'file' or 'redis')", c.Store.Backend)
	}

	if c.Browser.MaxLeases <= 0 {
		return fmt.Errorf("browser.max_leases must be positive")
	}
	if c.Browser.ViewportWidth <= 0 || c.Browser.ViewportHeight <= 0 {
		return fmt.Errorf("browser viewport must be positive")
	}

	if c.Publish.MaxRetry < 1 {
		return fmt.Errorf("publish.max_retry must be at least 1")
	}
	if c.Publish.DownloadConcurrency < 1 {
		return fmt.Errorf("publish.download_concurrency must be at least 1")
	}
	if c.Crawl.MaxItems < 0 {
		return fmt.Errorf("crawl.max_items cannot be negative")
	}

	timeouts := map[string]time.Duration{
		"login.validate_poll_interval": c.Login.ValidatePollInterval,
		"login.validate_timeout":       c.Login.ValidateTimeout,
		"login.interactive_timeout":    c.Login.InteractiveTimeout,
		"login.status_poll_interval":   c.Login.StatusPollInterval,
		"login.status_timeout":         c.Login.StatusTimeout,
		"crawl.container_timeout":      c.Crawl.ContainerTimeout,
		"detail.title_timeout":         c.Detail.TitleTimeout,
		"publish.upload_timeout":       c.Publish.UploadTimeout,
		"publish.success_timeout":      c.Publish.SuccessTimeout,
	}
	for key, d := range timeouts {
		if d <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Log.Level] {
		return fmt.Errorf("invalid log level: %s (must be 'debug', 'info', 'warn', or 'error')", c.Log.Level)
	}
	return nil
}
