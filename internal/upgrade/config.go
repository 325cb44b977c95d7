package upgrade

import (
	"fmt"
	"time"
)

// Lock backends.
const (
	LockBackendLocal = "local"
	LockBackendRedis = "redis"
)

// Config holds the upgrade module configuration.
type Config struct {
	Workers              int           `mapstructure:"workers"`
	QueueSize            int           `mapstructure:"queue_size"`
	SettlePeriod         time.Duration `mapstructure:"settle_period"`
	DownloadPollInterval time.Duration `mapstructure:"download_poll_interval"`
	DownloadPollAttempts int           `mapstructure:"download_poll_attempts"`
	LockBackend          string        `mapstructure:"lock_backend"`
	Redis                RedisConfig   `mapstructure:"redis"`
	ICMPProbe            bool          `mapstructure:"icmp_probe"`
	ICMPPrivileged       bool          `mapstructure:"icmp_privileged"`
}

// RedisConfig locates the Redis server backing the shared download lock.
type RedisConfig struct {
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	LockTTL  time.Duration `mapstructure:"lock_ttl"`
}

// DefaultConfig returns the default configuration for the upgrade module.
func DefaultConfig() Config {
	return Config{
		Workers:              4,
		QueueSize:            64,
		SettlePeriod:         120 * time.Second,
		DownloadPollInterval: 30 * time.Second,
		DownloadPollAttempts: 60,
		LockBackend:          LockBackendLocal,
		Redis: RedisConfig{
			Addr:    "localhost:6379",
			LockTTL: 2 * time.Hour,
		},
	}
}

// Validate checks the configuration for values the module cannot run with.
func (c Config) Validate() error {
	if c.Workers < 1 {
		return fmt.Errorf("workers must be at least 1, got %d", c.Workers)
	}
	if c.QueueSize < 1 {
		return fmt.Errorf("queue_size must be at least 1, got %d", c.QueueSize)
	}
	if c.DownloadPollInterval <= 0 || c.DownloadPollAttempts < 1 {
		return fmt.Errorf("download polling needs a positive interval and attempt count")
	}
	switch c.LockBackend {
	case LockBackendLocal:
	case LockBackendRedis:
		if c.Redis.Addr == "" {
			return fmt.Errorf("lock_backend %q needs redis.addr", c.LockBackend)
		}
		if c.Redis.LockTTL <= 0 {
			return fmt.Errorf("redis.lock_ttl must be positive")
		}
		if window := c.DownloadPollInterval * time.Duration(c.DownloadPollAttempts); c.Redis.LockTTL < window {
			return fmt.Errorf("redis.lock_ttl %s is shorter than one download poll window (%s)", c.Redis.LockTTL, window)
		}
	default:
		return fmt.Errorf("unknown lock_backend %q (want %q or %q)", c.LockBackend, LockBackendLocal, LockBackendRedis)
	}
	return nil
}
