// Package config loads the optional dfl-vast configuration file.
// Settings resolve in priority order: command-line flag, config file,
// environment variable, built-in default.
package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/MannyJMusic/dfl-desktop/paths"
)

// Config is the top-level configuration.
type Config struct {
	// Binary is the vastai CLI executable name or path.
	Binary string `yaml:"binary,omitempty"`
	// APIKey is the Vast.ai API key.
	APIKey string `yaml:"api_key,omitempty"`
	// OwnerID overrides the caller id used for template ownership checks.
	OwnerID string `yaml:"owner_id,omitempty"`
	// Search tunes the default offer search.
	Search SearchConfig `yaml:"search,omitempty"`
	// Template holds the preset offered when creating a new template.
	Template TemplateConfig `yaml:"template,omitempty"`
	// Debug enables debug-level logging.
	Debug bool `yaml:"debug,omitempty"`
}

// SearchConfig tunes offer searches.
type SearchConfig struct {
	Query     string `yaml:"query,omitempty"`
	Limit     int    `yaml:"limit,omitempty"`
	SortBy    string `yaml:"sort_by,omitempty"`
	Ascending *bool  `yaml:"ascending,omitempty"`
}

// TemplateConfig is the preset for template creation prompts.
type TemplateConfig struct {
	Name      string `yaml:"name,omitempty"`
	Image     string `yaml:"image,omitempty"`
	Env       string `yaml:"env,omitempty"`
	DiskSpace int    `yaml:"disk_space,omitempty"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	ascending := true
	return &Config{
		Binary: "vastai",
		Search: SearchConfig{
			Query:     "verified=true rentable=true",
			Limit:     5,
			SortBy:    "dph_total",
			Ascending: &ascending,
		},
		Template: TemplateConfig{
			Name:  "DeepFaceLab Desktop",
			Image: "mannyj37/dfl-desktop:latest",
			Env: "-p 5901 -p 11111 " +
				"-e VNC_PASSWORD=deepfacelab " +
				"-e PROVISIONING_SCRIPT=https://raw.githubusercontent.com/MannyJMusic/dfl-desktop/refs/heads/main/config/provisioning/vastai-provisioning.sh",
			DiskSpace: 50,
		},
	}
}

// Load reads and parses the config file at path.
// Returns nil, nil if the file does not exist.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return &cfg, nil
}

// LoadAndMerge loads the config from the default location (or an explicit
// path) and merges it over the built-in defaults. A missing file yields the
// defaults unchanged.
func LoadAndMerge(explicitPath string) (*Config, error) {
	path := explicitPath
	if path == "" {
		var err error
		path, err = paths.ConfigFilePath()
		if err != nil {
			return nil, err
		}
	}

	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}

	defaults := DefaultConfig()
	if cfg == nil {
		return defaults, nil
	}
	defaults.merge(cfg)
	return defaults, nil
}

// merge overlays non-zero fields from other.
func (c *Config) merge(other *Config) {
	if other.Binary != "" {
		c.Binary = other.Binary
	}
	if other.APIKey != "" {
		c.APIKey = other.APIKey
	}
	if other.OwnerID != "" {
		c.OwnerID = other.OwnerID
	}
	if other.Debug {
		c.Debug = true
	}
	if other.Search.Query != "" {
		c.Search.Query = other.Search.Query
	}
	if other.Search.Limit > 0 {
		c.Search.Limit = other.Search.Limit
	}
	if other.Search.SortBy != "" {
		c.Search.SortBy = other.Search.SortBy
	}
	if other.Search.Ascending != nil {
		c.Search.Ascending = other.Search.Ascending
	}
	if other.Template.Name != "" {
		c.Template.Name = other.Template.Name
	}
	if other.Template.Image != "" {
		c.Template.Image = other.Template.Image
	}
	if other.Template.Env != "" {
		c.Template.Env = other.Template.Env
	}
	if other.Template.DiskSpace > 0 {
		c.Template.DiskSpace = other.Template.DiskSpace
	}
}

// ResolveAPIKey applies the flag > config > environment priority order.
func (c *Config) ResolveAPIKey(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if c.APIKey != "" {
		return c.APIKey
	}
	return strings.TrimSpace(os.Getenv("VAST_API_KEY"))
}

// ResolveOwnerID applies the flag > config > environment priority order.
func (c *Config) ResolveOwnerID(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if c.OwnerID != "" {
		return c.OwnerID
	}
	return strings.TrimSpace(os.Getenv("VAST_OWNER_ID"))
}

// SortAscending reports the configured sort direction, defaulting to
// ascending when unset.
func (c *Config) SortAscending() bool {
	if c.Search.Ascending == nil {
		return true
	}
	return *c.Search.Ascending
}
