package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config models storyline.yml.
type Config struct {
	API struct {
		BaseURL      string `yaml:"base_url"`
		TokenPath    string `yaml:"token_path"`
		TokenCommand string `yaml:"token_command"`
	} `yaml:"api"`
	Create struct {
		LogMarker string `yaml:"log_marker"`
	} `yaml:"create"`
	Bridge struct {
		Addr     string `yaml:"addr"`
		BasePath string `yaml:"base_path"`
	} `yaml:"bridge"`
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with sl config init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns nil,nil if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.API.BaseURL == "" {
		return fmt.Errorf("config.api.base_url is required")
	}
	if !strings.HasPrefix(c.API.BaseURL, "http://") && !strings.HasPrefix(c.API.BaseURL, "https://") {
		return fmt.Errorf("config.api.base_url must be an http(s) URL")
	}
	if c.API.TokenPath != "" && c.API.TokenCommand != "" {
		return fmt.Errorf("config.api: set token_path or token_command, not both")
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "storyline.yml")
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Create.LogMarker == "" {
		cfg.Create.LogMarker = "## Activity"
	}
	if cfg.Bridge.Addr == "" {
		cfg.Bridge.Addr = "127.0.0.1:8191"
	}
	if cfg.Bridge.BasePath == "" {
		cfg.Bridge.BasePath = "/v0"
	}
	return &cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

// GenerateDefault returns default config YAML.
func GenerateDefault(baseURL string) string {
	return fmt.Sprintf(defaultTemplate, baseURL)
}

const defaultTemplate = `api:
  base_url: %s
  # token_path: ~/.config/storyline/token
  # token_command: gpg --quiet --decrypt ~/.config/storyline/token.gpg

create:
  log_marker: "## Activity"

bridge:
  addr: 127.0.0.1:8191
  base_path: /v0
`
