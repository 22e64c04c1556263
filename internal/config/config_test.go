package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// FUNCTIONAL VALIDATION TEST: Default configuration provides production-ready settings
func TestConfig_DefaultConfig(t *testing.T) {
	config := DefaultConfig()
	if err := config.Validate(); err != nil {
		t.Fatalf("Default config should be valid: %v", err)
	}
	if config.Database.Driver != "sqlite" {
		t.Errorf("Expected sqlite by default, got %s", config.Database.Driver)
	}
	if config.Engine.ConsensusWindow != 2*time.Second {
		t.Errorf("Expected 2s consensus window, got %v", config.Engine.ConsensusWindow)
	}
	if config.Classifier.Timeout != 5*time.Second || config.Classifier.MatchThreshold != 0.4 {
		t.Errorf("Unexpected classifier defaults: %+v", config.Classifier)
	}
	if config.Engine.FrameRateLimit != 30 {
		t.Errorf("Expected 30 frames/s, got %d", config.Engine.FrameRateLimit)
	}
}

// FUNCTIONAL VALIDATION TEST: Configuration validation prevents invalid settings
func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"invalid port", func(c *Config) { c.HTTP.Port = -1 }, "port"},
		{"empty host", func(c *Config) { c.HTTP.Host = "" }, "host"},
		{"empty database path", func(c *Config) { c.Database.Path = "" }, "database path"},
		{"unknown driver", func(c *Config) { c.Database.Driver = "mysql" }, "driver"},
		{"read timeout below ping", func(c *Config) { c.WebSocket.ReadTimeout = c.WebSocket.PingInterval }, "ping interval"},
		{"zero buffer", func(c *Config) { c.WebSocket.BufferSize = 0 }, "buffer size"},
		{"empty classifier address", func(c *Config) { c.Classifier.Address = "" }, "classifier address"},
		{"threshold above one", func(c *Config) { c.Classifier.MatchThreshold = 1.5 }, "threshold"},
		{"zero window", func(c *Config) { c.Engine.ConsensusWindow = 0 }, "consensus window"},
		{"zero rate", func(c *Config) { c.Engine.FrameRateLimit = 0 }, "frame rate"},
		{"empty alert dir", func(c *Config) { c.Engine.AlertDir = "" }, "alert directory"},
		{"bad log level", func(c *Config) { c.Log.Level = "trace" }, "log level"},
		{"bad log format", func(c *Config) { c.Log.Format = "xml" }, "log format"},
		{"missing section", func(c *Config) { c.Engine = nil }, "engine configuration"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := DefaultConfig()
			tt.mutate(config)
			err := config.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestConfig_LoadFromEnv(t *testing.T) {
	t.Setenv("PERCEPTOR_HTTP_PORT", "9090")
	t.Setenv("PERCEPTOR_DATABASE_DRIVER", "postgres")
	t.Setenv("PERCEPTOR_DATABASE_URL", "postgres://localhost/perceptor")
	t.Setenv("PERCEPTOR_CLASSIFIER_TIMEOUT", "750ms")
	t.Setenv("PERCEPTOR_CLASSIFIER_MATCH_THRESHOLD", "0.35")
	t.Setenv("PERCEPTOR_ENGINE_CONSENSUS_WINDOW", "3s")
	t.Setenv("PERCEPTOR_WEBSOCKET_MAX_MESSAGE_BYTES", "1024")
	t.Setenv("PERCEPTOR_LOG_LEVEL", "debug")

	config := LoadFromEnv()
	if config.HTTP.Port != 9090 {
		t.Errorf("Expected port 9090, got %d", config.HTTP.Port)
	}
	if config.Database.Driver != "postgres" || config.Database.URL != "postgres://localhost/perceptor" {
		t.Errorf("Database env not applied: %+v", config.Database)
	}
	if config.Classifier.Timeout != 750*time.Millisecond || config.Classifier.MatchThreshold != 0.35 {
		t.Errorf("Classifier env not applied: %+v", config.Classifier)
	}
	if config.Engine.ConsensusWindow != 3*time.Second {
		t.Errorf("Expected 3s window, got %v", config.Engine.ConsensusWindow)
	}
	if config.WebSocket.MaxMessageBytes != 1024 || config.Log.Level != "debug" {
		t.Errorf("Unexpected websocket/log values: %d %s", config.WebSocket.MaxMessageBytes, config.Log.Level)
	}
}

func TestConfig_LoadFromEnvIgnoresGarbage(t *testing.T) {
	t.Setenv("PERCEPTOR_HTTP_PORT", "not-a-number")
	t.Setenv("PERCEPTOR_CLASSIFIER_TIMEOUT", "soon")

	config := LoadFromEnv()
	if config.HTTP.Port != 8080 {
		t.Errorf("Expected default port, got %d", config.HTTP.Port)
	}
	if config.Classifier.Timeout != 5*time.Second {
		t.Errorf("Expected default timeout, got %v", config.Classifier.Timeout)
	}
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("Failed to write %s: %v", name, err)
	}
	return path
}

func TestConfig_LoadFromFileJSON(t *testing.T) {
	path := writeFile(t, "perceptor.json", `{
		"http": {"port": 9000, "read_timeout": "45s"},
		"classifier": {"address": "models:50051", "timeout": "2s"},
		"engine": {"frame_rate_limit": 15, "alert_dir": "/var/lib/perceptor/alerts"}
	}`)

	config, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile failed: %v", err)
	}
	if config.HTTP.Port != 9000 || config.HTTP.ReadTimeout != 45*time.Second {
		t.Errorf("HTTP not loaded: %+v", config.HTTP)
	}
	if config.Classifier.Address != "models:50051" || config.Classifier.Timeout != 2*time.Second {
		t.Errorf("Classifier not loaded: %+v", config.Classifier)
	}
	if config.Engine.FrameRateLimit != 15 || config.Engine.AlertDir != "/var/lib/perceptor/alerts" {
		t.Errorf("Engine not loaded: %+v", config.Engine)
	}
	// untouched sections keep defaults
	if config.WebSocket.PingInterval != 30*time.Second {
		t.Errorf("Expected default ping interval, got %v", config.WebSocket.PingInterval)
	}
}

func TestConfig_LoadFromFileYAML(t *testing.T) {
	path := writeFile(t, "perceptor.yaml", `
database:
  driver: postgres
  url: postgres://db/perceptor
  conn_max_lifetime: 30m
websocket:
  ping_interval: 10s
  read_timeout: 25s
log:
  level: warn
  format: json
`)

	config, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile failed: %v", err)
	}
	if config.Database.Driver != "postgres" || config.Database.ConnMaxLifetime != 30*time.Minute {
		t.Errorf("Database not loaded: %+v", config.Database)
	}
	if config.WebSocket.PingInterval != 10*time.Second || config.WebSocket.ReadTimeout != 25*time.Second {
		t.Errorf("WebSocket not loaded: %+v", config.WebSocket)
	}
	if config.Log.Level != "warn" || config.Log.Format != "json" {
		t.Errorf("Log not loaded: %+v", config.Log)
	}
}

func TestConfig_LoadFromFileErrors(t *testing.T) {
	if _, err := LoadFromFile(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Error("Expected error for missing file")
	}
	if _, err := LoadFromFile(writeFile(t, "bad.json", `{"http": {`)); err == nil {
		t.Error("Expected error for invalid JSON")
	}
	_, err := LoadFromFile(writeFile(t, "bad.yaml", "classifier:\n  timeout: forever\n"))
	if err == nil || !strings.Contains(err.Error(), "classifier.timeout") {
		t.Errorf("Expected duration error naming the field, got %v", err)
	}
	if _, err := LoadFromFile(writeFile(t, "invalid.json", `{"http": {"host": "h", "port": 70000}}`)); err == nil {
		t.Error("Expected validation error for port out of range")
	}
}

func TestConfig_LoadConfigWithPrecedence(t *testing.T) {
	t.Setenv("PERCEPTOR_HTTP_PORT", "7000")
	t.Setenv("PERCEPTOR_HTTP_HOST", "127.0.0.1")

	// env only
	config, err := LoadConfigWithPrecedence("")
	if err != nil {
		t.Fatalf("LoadConfigWithPrecedence failed: %v", err)
	}
	if config.HTTP.Port != 7000 {
		t.Errorf("Expected env port 7000, got %d", config.HTTP.Port)
	}

	// file beats env, env still fills the rest
	path := writeFile(t, "perceptor.json", `{"http": {"port": 7100}}`)
	config, err = LoadConfigWithPrecedence(path)
	if err != nil {
		t.Fatalf("LoadConfigWithPrecedence failed: %v", err)
	}
	if config.HTTP.Port != 7100 {
		t.Errorf("Expected file port 7100, got %d", config.HTTP.Port)
	}
	if config.HTTP.Host != "127.0.0.1" {
		t.Errorf("Expected env host, got %s", config.HTTP.Host)
	}

	if _, err := LoadConfigWithPrecedence(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("Expected error for a named config file that does not exist")
	}
}
