package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"storyline/internal/config"
)

func TestFromYAMLDefaults(t *testing.T) {
	cfg, err := config.FromYAML([]byte("api:\n  base_url: https://api.tracker.example/v3\n"))
	if err != nil {
		t.Fatalf("from yaml: %v", err)
	}
	if cfg.API.BaseURL != "https://api.tracker.example/v3" {
		t.Fatalf("base url = %q", cfg.API.BaseURL)
	}
	if cfg.Create.LogMarker != "## Activity" {
		t.Fatalf("log marker default = %q", cfg.Create.LogMarker)
	}
	if cfg.Bridge.Addr != "127.0.0.1:8191" || cfg.Bridge.BasePath != "/v0" {
		t.Fatalf("bridge defaults = %q %q", cfg.Bridge.Addr, cfg.Bridge.BasePath)
	}
}

func TestFromYAMLValidation(t *testing.T) {
	cases := []struct {
		name string
		yaml string
		want string
	}{
		{"missing base url", "create:\n  log_marker: x\n", "base_url is required"},
		{"bad scheme", "api:\n  base_url: ftp://x\n", "http(s)"},
		{
			"both token sources",
			"api:\n  base_url: https://x\n  token_path: /a\n  token_command: gpg\n",
			"not both",
		},
		{"broken yaml", "api: [\n", "invalid config yaml"},
	}
	for _, tc := range cases {
		_, err := config.FromYAML([]byte(tc.yaml))
		if err == nil || !strings.Contains(err.Error(), tc.want) {
			t.Fatalf("%s: err = %v, want substring %q", tc.name, err, tc.want)
		}
	}
}

func TestLoad(t *testing.T) {
	ws := t.TempDir()
	if _, err := config.Load(ws); err == nil || !strings.Contains(err.Error(), "config init") {
		t.Fatalf("missing config: err = %v", err)
	}
	if cfg, err := config.LoadOptional(ws); err != nil || cfg != nil {
		t.Fatalf("optional load of missing config: %v %v", cfg, err)
	}

	path := filepath.Join(ws, "storyline.yml")
	if err := os.WriteFile(path, []byte("api:\n  base_url: http://localhost:9999\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, err := config.Load(ws)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.API.BaseURL != "http://localhost:9999" {
		t.Fatalf("base url = %q", cfg.API.BaseURL)
	}
}

func TestGenerateDefaultParses(t *testing.T) {
	cfg, err := config.FromYAML([]byte(config.GenerateDefault("https://api.tracker.example/v3")))
	if err != nil {
		t.Fatalf("generated config does not parse: %v", err)
	}
	if cfg.API.BaseURL != "https://api.tracker.example/v3" {
		t.Fatalf("base url = %q", cfg.API.BaseURL)
	}
	if cfg.API.TokenPath != "" || cfg.API.TokenCommand != "" {
		t.Fatalf("token sources should ship commented out: %+v", cfg.API)
	}
}
