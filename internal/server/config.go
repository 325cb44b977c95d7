package server

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config holds the server configuration.
type Config struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
	// ReadOnly rejects every mutating request, e.g. during a change freeze.
	ReadOnly       bool    `mapstructure:"read_only"`
	RateLimitRPS   float64 `mapstructure:"rate_limit_rps"`
	RateLimitBurst int     `mapstructure:"rate_limit_burst"`
	// SubmitRateLimitPerMinute bounds job submissions, cancellations and
	// device refreshes per client.
	SubmitRateLimitPerMinute int `mapstructure:"submit_rate_limit_per_minute"`
}

// DefaultConfig returns the listener defaults.
func DefaultConfig() Config {
	return Config{Host: "0.0.0.0", Port: 8080, RateLimitRPS: 50, RateLimitBurst: 100, SubmitRateLimitPerMinute: 30}
}

// Addr returns the listen address as host:port.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// LoadConfig reads configuration from file and environment variables.
// An empty configPath searches for panupgrade.yaml in the usual places; a
// missing file is not an error.
func LoadConfig(configPath string) (*viper.Viper, error) {
	v := viper.New()

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_only", false)
	v.SetDefault("server.rate_limit_rps", 50)
	v.SetDefault("server.rate_limit_burst", 100)
	v.SetDefault("server.submit_rate_limit_per_minute", 30)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("database.path", "./data/panupgrade.db")

	v.SetDefault("plugins.inventory.inventory_file", "")
	v.SetDefault("plugins.inventory.api_timeout", "60s")
	v.SetDefault("plugins.inventory.api_rps", 5)
	v.SetDefault("plugins.upgrade.workers", 4)
	v.SetDefault("plugins.upgrade.queue_size", 64)
	v.SetDefault("plugins.upgrade.settle_period", "120s")
	v.SetDefault("plugins.upgrade.download_poll_interval", "30s")
	v.SetDefault("plugins.upgrade.download_poll_attempts", 60)
	v.SetDefault("plugins.upgrade.lock_backend", "local")
	v.SetDefault("plugins.upgrade.redis.addr", "localhost:6379")
	v.SetDefault("plugins.upgrade.redis.lock_ttl", "2h")
	v.SetDefault("plugins.upgrade.icmp_probe", false)
	v.SetDefault("plugins.webhook.enabled", true)
	v.SetDefault("plugins.webhook.url", "")
	v.SetDefault("plugins.webhook.timeout", "10s")
	v.SetDefault("plugins.webhook.attempts", 3)
	v.SetDefault("plugins.webhook.retry_delay", "2s")

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("panupgrade")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/panupgrade")
	}

	// PANUP_PLUGINS_UPGRADE_WORKERS=8 overrides plugins.upgrade.workers.
	v.SetEnvPrefix("PANUP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	return v, nil
}
