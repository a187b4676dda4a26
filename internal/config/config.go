// Package config loads the proxy's bootstrap configuration: a YAML file on
// disk, overlaid with GPROXY_* environment variables as fallbacks, per
// spec §6.5 ("All are fallbacks; values in storage take precedence once
// loaded."). Grounded on the teacher's internal/config/config.go, which
// takes the same "read file, yaml.Unmarshal into a struct" shape; this
// repo adds the env-fallback overlay that the teacher does per-field for
// API keys.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the on-disk bootstrap configuration. Once the snapshot store
// (internal/snapshot) loads a GlobalConfig from storage, that value takes
// precedence; Config only seeds the very first snapshot and is consulted
// again if storage has nothing saved yet.
type Config struct {
	Host                 string `yaml:"host"`
	Port                 int    `yaml:"port"`
	AdminKey             string `yaml:"admin-key"`
	ProxyURL             string `yaml:"proxy-url"`
	DSN                  string `yaml:"dsn"`
	EventRedactSensitive bool   `yaml:"event-redact-sensitive"`
	Debug                bool   `yaml:"debug"`
}

// Load reads configFile (if it exists) and overlays GPROXY_* environment
// variables onto any field left at its zero value.
func Load(configFile string) (*Config, error) {
	cfg := &Config{Host: "0.0.0.0", Port: 8317}
	if configFile != "" {
		data, err := os.ReadFile(configFile)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("config: read %s: %w", configFile, err)
			}
		} else if err = yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", configFile, err)
		}
	}
	applyEnvFallback(cfg)
	return cfg, nil
}

func applyEnvFallback(cfg *Config) {
	if v := os.Getenv("GPROXY_DSN"); v != "" && cfg.DSN == "" {
		cfg.DSN = v
	}
	if v := os.Getenv("GPROXY_HOST"); v != "" && cfg.Host == "" {
		cfg.Host = v
	}
	if v := os.Getenv("GPROXY_PORT"); v != "" && cfg.Port == 0 {
		fmt.Sscanf(v, "%d", &cfg.Port)
	}
	if v := os.Getenv("GPROXY_ADMIN_KEY"); v != "" && cfg.AdminKey == "" {
		cfg.AdminKey = v
	}
	if v := os.Getenv("GPROXY_PROXY"); v != "" && cfg.ProxyURL == "" {
		cfg.ProxyURL = v
	}
	if v := os.Getenv("GPROXY_EVENT_REDACT_SENSITIVE"); v != "" && !cfg.EventRedactSensitive {
		cfg.EventRedactSensitive = v == "1" || v == "true"
	}
}
