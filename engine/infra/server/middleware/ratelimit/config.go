// Package ratelimit throttles completion-backed endpoints per client IP.
package ratelimit

import (
	"errors"
	"time"

	"github.com/ulule/limiter/v3"
)

// Config is a single rate applied per client IP.
type Config struct {
	Limit    int64
	Period   time.Duration
	Prefix   string
	MaxRetry int
}

func DefaultConfig() *Config {
	return &Config{
		Limit:    30,
		Period:   time.Minute,
		Prefix:   "utakatik:ratelimit:",
		MaxRetry: 3,
	}
}

// ToLimiterRate converts the config to a limiter.Rate.
func (c *Config) ToLimiterRate() limiter.Rate {
	return limiter.Rate{Period: c.Period, Limit: c.Limit}
}

func (c *Config) Validate() error {
	if c.Limit <= 0 {
		return errors.New("rate limit must be positive")
	}
	if c.Period <= 0 {
		return errors.New("rate limit period must be positive")
	}
	return nil
}
