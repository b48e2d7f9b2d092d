package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"skylark/internal/conflict"
)

// Config models skylark.yml (or skylark.toml).
type Config struct {
	Fleet struct {
		Name    string `yaml:"name" toml:"name" json:"name"`
		IDWidth int    `yaml:"id_width" toml:"id_width" json:"id_width"`
	} `yaml:"fleet" toml:"fleet" json:"fleet"`
	Conflicts struct {
		DateRule conflict.DateRule `yaml:"date_rule" toml:"date_rule" json:"date_rule"`
	} `yaml:"conflicts" toml:"conflicts" json:"conflicts"`
	Unavailable struct {
		PilotStatus string `yaml:"pilot_status" toml:"pilot_status" json:"pilot_status"`
		DroneStatus string `yaml:"drone_status" toml:"drone_status" json:"drone_status"`
	} `yaml:"unavailable" toml:"unavailable" json:"unavailable"`
	Server struct {
		Addr     string `yaml:"addr" toml:"addr" json:"addr"`
		BasePath string `yaml:"base_path" toml:"base_path" json:"base_path"`
	} `yaml:"server" toml:"server" json:"server"`
	Auth struct {
		JWTSecret        string `yaml:"jwt_secret" toml:"jwt_secret" json:"-"`
		AllowActorHeader bool   `yaml:"allow_actor_header" toml:"allow_actor_header" json:"allow_actor_header"`
	} `yaml:"auth" toml:"auth" json:"auth"`
	Log      LogConfig       `yaml:"log" toml:"log" json:"log"`
	Webhooks []WebhookConfig `yaml:"webhooks" toml:"webhooks" json:"webhooks"`
}

type LogConfig struct {
	Level  string `yaml:"level" toml:"level" json:"level"`
	Format string `yaml:"format" toml:"format" json:"format"`
}

type WebhookConfig struct {
	URL            string   `yaml:"url" toml:"url" json:"url"`
	Events         []string `yaml:"events" toml:"events" json:"events"`
	Secret         string   `yaml:"secret" toml:"secret" json:"-"`
	TimeoutSeconds int      `yaml:"timeout_seconds" toml:"timeout_seconds" json:"timeout_seconds"`
	Enabled        *bool    `yaml:"enabled" toml:"enabled" json:"enabled,omitempty"`
}

// Active reports whether the hook should receive events. Hooks are on unless disabled.
func (w WebhookConfig) Active() bool {
	return w.Enabled == nil || *w.Enabled
}

const (
	yamlName = "skylark.yml"
	tomlName = "skylark.toml"
)

// Default returns the configuration used when no file is present.
func Default() *Config {
	var cfg Config
	cfg.Fleet.Name = "skylark"
	cfg.Fleet.IDWidth = 3
	cfg.Conflicts.DateRule = conflict.DateRuleStart
	cfg.Unavailable.PilotStatus = "Unavailable"
	cfg.Unavailable.DroneStatus = "Maintenance"
	cfg.Server.Addr = "127.0.0.1:8080"
	cfg.Server.BasePath = "/v0"
	cfg.Log.Level = "info"
	cfg.Log.Format = "json"
	return &cfg
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Fleet.IDWidth < 1 || c.Fleet.IDWidth > 9 {
		return fmt.Errorf("config.fleet.id_width must be between 1 and 9")
	}
	if !c.Conflicts.DateRule.Valid() {
		return fmt.Errorf("config.conflicts.date_rule must be 'start' or 'end', got %q", c.Conflicts.DateRule)
	}
	switch c.Unavailable.PilotStatus {
	case "On Leave", "Unavailable":
	default:
		return fmt.Errorf("config.unavailable.pilot_status must be 'On Leave' or 'Unavailable'")
	}
	if c.Unavailable.DroneStatus != "Maintenance" {
		return fmt.Errorf("config.unavailable.drone_status must be 'Maintenance'")
	}
	if c.Server.BasePath != "" && !strings.HasPrefix(c.Server.BasePath, "/") {
		return fmt.Errorf("config.server.base_path must start with /")
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config.log.level %q is not one of debug, info, warn, error", c.Log.Level)
	}
	switch c.Log.Format {
	case "json", "console":
	default:
		return fmt.Errorf("config.log.format must be 'json' or 'console'")
	}
	for i, hook := range c.Webhooks {
		if hook.URL == "" {
			return fmt.Errorf("config.webhooks[%d].url is required", i)
		}
		if !strings.HasPrefix(hook.URL, "http://") && !strings.HasPrefix(hook.URL, "https://") {
			return fmt.Errorf("config.webhooks[%d].url must be http or https", i)
		}
		if hook.TimeoutSeconds < 0 {
			return fmt.Errorf("config.webhooks[%d].timeout_seconds must not be negative", i)
		}
		for _, evt := range hook.Events {
			if strings.TrimSpace(evt) == "" {
				return fmt.Errorf("config.webhooks[%d] has an empty event filter", i)
			}
		}
	}
	return nil
}

// Path returns the config file path for a workspace, preferring YAML when both exist.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	yml := filepath.Join(workspace, yamlName)
	if _, err := os.Stat(yml); err == nil {
		return yml
	}
	tml := filepath.Join(workspace, tomlName)
	if _, err := os.Stat(tml); err == nil {
		return tml
	}
	return yml
}

// LoadOptional returns Default() when no config file exists in the workspace.
func LoadOptional(workspace string) (*Config, error) {
	cfg, err := FromFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return cfg, nil
}

// FromYAML parses and validates config from raw YAML bytes. Missing keys keep their defaults.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromTOML parses and validates config from raw TOML bytes.
func FromTOML(data []byte) (*Config, error) {
	cfg := Default()
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config toml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromFile reads config from path, choosing the format by extension.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		return FromTOML(data)
	}
	return FromYAML(data)
}

// YAML renders the config for display.
func (c *Config) YAML() (string, error) {
	out, err := yaml.Marshal(c)
	if err != nil {
		return "", err
	}
	return string(out), nil
}
