// Package config loads the service configuration from a YAML or JSON file
// with MD_ environment overrides.
package config

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/kilianp07/movedispatch/core/dispatch"
	"github.com/kilianp07/movedispatch/core/factory"
	"github.com/kilianp07/movedispatch/core/metrics"
	"github.com/kilianp07/movedispatch/core/tracking"
	"github.com/kilianp07/movedispatch/infra/mqtt"
)

// EnvPrefix marks environment variables that override file values.
// MD_DISPATCH__OFFER_WINDOW=90s sets dispatch.offer_window.
const EnvPrefix = "MD_"

type Config struct {
	Server         ServerConfig         `json:"server"`
	Auth           AuthConfig           `json:"auth"`
	Store          factory.ModuleConfig `json:"store"`
	Dispatch       dispatch.Config      `json:"dispatch"`
	Tracking       tracking.Config      `json:"tracking"`
	Classification ClassificationConfig `json:"classification"`
	MQTT           mqtt.Config          `json:"mqtt"`
	Metrics        metrics.Config       `json:"metrics"`
	Sentry         SentryConfig         `json:"sentry"`
	Logging        LoggingConfig        `json:"logging"`
}

// Load reads path and applies environment overrides. An empty path loads
// defaults and environment only.
func Load(path string) (*Config, error) {
	k := koanf.New(".")
	if path != "" {
		ext := strings.ToLower(filepath.Ext(path))
		var parser koanf.Parser
		switch ext {
		case ".yaml", ".yml":
			parser = yaml.Parser()
		case ".json":
			parser = json.Parser()
		default:
			return nil, fmt.Errorf("unsupported config format: %s", ext)
		}
		if err := k.Load(file.Provider(path), parser); err != nil {
			return nil, err
		}
	}
	if err := k.Load(env.Provider(EnvPrefix, "__", func(s string) string {
		s = strings.TrimPrefix(strings.ToLower(s), strings.ToLower(EnvPrefix))
		return strings.ReplaceAll(s, "__", ".")
	}), nil); err != nil {
		return nil, err
	}
	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "json"}); err != nil {
		return nil, err
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// SetDefaults fills every section.
func (c *Config) SetDefaults() {
	c.Server.SetDefaults()
	if c.Store.Type == "" {
		c.Store.Type = "memory"
	}
	c.Dispatch.SetDefaults()
	c.Tracking.SetDefaults()
	if c.MQTT.Enabled {
		c.MQTT.SetDefaults()
	}
	c.Logging.SetDefaults()
}

// Validate checks every section.
func (c Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return err
	}
	if err := c.Auth.Validate(); err != nil {
		return err
	}
	if err := c.Dispatch.Validate(); err != nil {
		return err
	}
	if err := c.Tracking.Validate(); err != nil {
		return err
	}
	if err := c.MQTT.Validate(); err != nil {
		return err
	}
	return c.Logging.Validate()
}
