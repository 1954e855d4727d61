package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return configPath
}

func TestLoad_ValidConfig(t *testing.T) {
	content := `
bridge:
  mode: "self"
  profile_version: "2.1.2"
  short_poll: 15
  long_poll: 60
nest:
  api_url: "https://developer-api.nest.com"
database:
  path: "/tmp/test.db"
  wal_mode: true
  busy_timeout: 5
mqtt:
  broker:
    host: "localhost"
    port: 1883
    client_id: "test-client"
  qos: 1
api:
  host: "127.0.0.1"
  port: 8099
`
	cfg, err := Load(writeConfig(t, content))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Bridge.Mode != ModeSelfHosted {
		t.Errorf("Bridge.Mode = %q, want %q", cfg.Bridge.Mode, ModeSelfHosted)
	}
	if cfg.Bridge.ProfileVersion != "2.1.2" {
		t.Errorf("Bridge.ProfileVersion = %q, want %q", cfg.Bridge.ProfileVersion, "2.1.2")
	}
	if cfg.Database.Path != "/tmp/test.db" {
		t.Errorf("Database.Path = %q, want %q", cfg.Database.Path, "/tmp/test.db")
	}
	if cfg.MQTT.Broker.Host != "localhost" {
		t.Errorf("MQTT.Broker.Host = %q, want %q", cfg.MQTT.Broker.Host, "localhost")
	}
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "bridge:\n  mode: \"self\"\n"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Nest.APIURL != "https://developer-api.nest.com" {
		t.Errorf("Nest.APIURL = %q, want default", cfg.Nest.APIURL)
	}
	if cfg.Nest.StreamStaleAfter != 1800 {
		t.Errorf("Nest.StreamStaleAfter = %d, want 1800", cfg.Nest.StreamStaleAfter)
	}
	if cfg.Bridge.ShortPoll != 15 || cfg.Bridge.LongPoll != 60 {
		t.Errorf("tick defaults = %d/%d, want 15/60", cfg.Bridge.ShortPoll, cfg.Bridge.LongPoll)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Error("Load() expected error for missing file, got nil")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	_, err := Load(writeConfig(t, "invalid: [yaml: content"))
	if err == nil {
		t.Error("Load() expected error for invalid YAML, got nil")
	}
}

func TestLoad_InvalidMode(t *testing.T) {
	_, err := Load(writeConfig(t, "bridge:\n  mode: \"hybrid\"\n"))
	if err == nil {
		t.Error("Load() expected error for unknown bridge mode, got nil")
	}
}

func TestLoad_CloudModeRequiresOAuth(t *testing.T) {
	content := `
bridge:
  mode: "cloud"
`
	_, err := Load(writeConfig(t, content))
	if err == nil {
		t.Error("Load() expected error for cloud mode without oauth init data, got nil")
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("NEST_MQTT_HOST", "broker.example.com")
	t.Setenv("NEST_OAUTH_CLIENT_ID", "env-client")
	t.Setenv("NEST_OAUTH_CLIENT_SECRET", "env-secret")
	t.Setenv("NEST_BRIDGE_MODE", "cloud")

	cfg, err := Load(writeConfig(t, "bridge:\n  mode: \"self\"\n"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.MQTT.Broker.Host != "broker.example.com" {
		t.Errorf("MQTT.Broker.Host = %q, want env override", cfg.MQTT.Broker.Host)
	}
	if cfg.Bridge.Mode != ModeCloud {
		t.Errorf("Bridge.Mode = %q, want cloud from env", cfg.Bridge.Mode)
	}
	if cfg.OAuth.ClientID != "env-client" {
		t.Errorf("OAuth.ClientID = %q, want env override", cfg.OAuth.ClientID)
	}
}

func TestValidate_TickOrdering(t *testing.T) {
	cfg := defaultConfig()
	cfg.Bridge.ShortPoll = 60
	cfg.Bridge.LongPoll = 15

	if err := cfg.Validate(); err == nil {
		t.Error("Validate() expected error when long_poll < short_poll, got nil")
	}
}

func TestDurationGetters(t *testing.T) {
	cfg := defaultConfig()

	if got := cfg.ShortPollInterval().Seconds(); got != 15 {
		t.Errorf("ShortPollInterval() = %vs, want 15s", got)
	}
	if got := cfg.StreamStaleWindow().Seconds(); got != 1800 {
		t.Errorf("StreamStaleWindow() = %vs, want 1800s", got)
	}
}
