// Package config loads missionlog configuration from YAML files,
// environment variables and command-line flags.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Load reads the config file at path and returns the parsed Config.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var c Config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return &c, nil
}

// Addr returns the listen address derived from the server section,
// defaulting to 0.0.0.0:8080 when unset.
func (c *Config) Addr() string {
	host := c.Server.Address
	if host == "" {
		host = "0.0.0.0"
	}
	port := c.Server.Port
	if port == 0 {
		port = 8080
	}
	return fmt.Sprintf("%s:%d", host, port)
}

// ResolveConfigPath returns the config file path to use. Precedence:
// explicit flag value, MISSIONLOG_CONFIG env, then ./config.yaml if it
// exists. Returns empty string when no config file is available.
func ResolveConfigPath(flagPath string) string {
	if flagPath != "" {
		return flagPath
	}
	if env := os.Getenv("MISSIONLOG_CONFIG"); env != "" {
		return env
	}
	def := filepath.Join(".", "config.yaml")
	if _, err := os.Stat(def); err == nil {
		return def
	}
	return ""
}
