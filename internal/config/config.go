package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures the inbox runtime parameters.
type Config struct {
	BaseURL        string        `mapstructure:"base_url"`
	Token          string        `mapstructure:"token"`
	UserID         string        `mapstructure:"user_id"`
	PollInterval   time.Duration `mapstructure:"-"`
	RequestTimeout time.Duration `mapstructure:"-"`
	LogLevel       string        `mapstructure:"log_level"`
	CachePath      string        `mapstructure:"cache_path"`
	MetricsAddr    string        `mapstructure:"metrics_addr"`
	Redis          RedisConfig   `mapstructure:"redis"`
}

// RedisConfig describes the optional cross-process update channel.
type RedisConfig struct {
	URL     string `mapstructure:"url"`
	Channel string `mapstructure:"channel"`
}

const (
	defaultPollInterval   = 10 * time.Second
	defaultRequestTimeout = 15 * time.Second
	defaultLogLevel       = "info"
	defaultCachePath      = "inbox.db"
	defaultRedisChannel   = "inbox:messages-updated"
)

// Load reads configuration from the provided file path (if any) and the environment.
// Environment variables are prefixed with INBOX_ and can override file values;
// nested keys use underscores, e.g. INBOX_REDIS_URL. An empty variable is an
// explicit value, so INBOX_CACHE_PATH= disables the cache.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("INBOX")
	v.AllowEmptyEnv(true)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("base_url", "")
	v.SetDefault("token", "")
	v.SetDefault("user_id", "")
	v.SetDefault("poll_interval", defaultPollInterval.String())
	v.SetDefault("request_timeout", defaultRequestTimeout.String())
	v.SetDefault("log_level", defaultLogLevel)
	v.SetDefault("cache_path", defaultCachePath)
	v.SetDefault("metrics_addr", "")
	v.SetDefault("redis.url", "")
	v.SetDefault("redis.channel", defaultRedisChannel)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	// Viper leaves durations as strings; normalize them here.
	var err error
	if cfg.PollInterval, err = duration(v, "poll_interval", defaultPollInterval); err != nil {
		return Config{}, err
	}
	if cfg.RequestTimeout, err = duration(v, "request_timeout", defaultRequestTimeout); err != nil {
		return Config{}, err
	}

	if cfg.LogLevel == "" {
		cfg.LogLevel = defaultLogLevel
	}
	if cfg.Redis.Channel == "" {
		cfg.Redis.Channel = defaultRedisChannel
	}
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	cfg.Token = strings.TrimSpace(cfg.Token)

	return cfg, nil
}

func duration(v *viper.Viper, key string, def time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(v.GetString(key))
	if raw == "" {
		return def, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("invalid %s: must be positive, got %s", key, d)
	}
	return d, nil
}

// Validate checks the settings needed to talk to the backend.
func (c Config) Validate() error {
	var errs []error
	if c.BaseURL == "" {
		errs = append(errs, errors.New("base_url is required"))
	}
	if c.UserID == "" {
		errs = append(errs, errors.New("user_id is required"))
	}
	return errors.Join(errs...)
}
