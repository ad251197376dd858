package monitoring

import (
	"fmt"
	"strings"
)

// Config controls the metrics endpoint.
type Config struct {
	Enabled bool
	Path    string
}

func DefaultConfig() *Config {
	return &Config{Enabled: true, Path: "/metrics"}
}

func (c *Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	if !strings.HasPrefix(c.Path, "/") {
		return fmt.Errorf("monitoring path must start with '/': %q", c.Path)
	}
	if strings.HasPrefix(c.Path, "/api/") {
		return fmt.Errorf("monitoring path must not live under /api/: %q", c.Path)
	}
	return nil
}
