package shared

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestConfig(t *testing.T) {
	t.Run("DefaultConfig", func(t *testing.T) {
		config := DefaultConfig()

		if config.Database.Driver != "sqlite" {
			t.Errorf("expected sqlite driver, got %s", config.Database.Driver)
		}
		if config.Database.Path != "./themeroom.db" {
			t.Errorf("expected database path ./themeroom.db, got %s", config.Database.Path)
		}
		if config.Broker.Kind != "memory" {
			t.Errorf("expected memory broker, got %s", config.Broker.Kind)
		}
		if config.Presence.Heartbeat() != 30*time.Second {
			t.Errorf("expected 30s heartbeat, got %v", config.Presence.Heartbeat())
		}
		if config.Presence.Grace() != 75*time.Second {
			t.Errorf("expected 75s grace, got %v", config.Presence.Grace())
		}
		if config.Playback.Duration() != 90*time.Second {
			t.Errorf("expected 1m30s simulated duration, got %v", config.Playback.Duration())
		}
		if config.Changes.RecentLimit != 50 {
			t.Errorf("expected recent limit 50, got %d", config.Changes.RecentLimit)
		}
		if err := config.Validate(); err != nil {
			t.Errorf("default config should validate: %v", err)
		}
	})

	t.Run("CreateConfigFile", func(t *testing.T) {
		configPath := filepath.Join(t.TempDir(), "nested", "config.toml")

		if err := CreateConfigFile(configPath); err != nil {
			t.Fatalf("failed to create config file: %v", err)
		}

		config, err := LoadConfig(configPath)
		if err != nil {
			t.Fatalf("failed to load created config: %v", err)
		}

		if config.Database.Path != DefaultConfig().Database.Path {
			t.Errorf("created config database path doesn't match default")
		}

		if err := CreateConfigFile(configPath); err == nil {
			t.Error("creating config file again should fail")
		}
	})

	t.Run("LoadConfig overlays defaults", func(t *testing.T) {
		configPath := filepath.Join(t.TempDir(), "config.toml")

		testConfig := `[identity]
user_id = "u-1"
display_name = "Mika"

[broker]
kind = "redis"
redis_addr = "cache:6379"

[presence]
heartbeat_interval = "10s"
grace_period = "5s"
`
		if err := os.WriteFile(configPath, []byte(testConfig), 0644); err != nil {
			t.Fatalf("failed to write test config: %v", err)
		}

		config, err := LoadConfig(configPath)
		if err != nil {
			t.Fatalf("failed to load config: %v", err)
		}

		if config.Identity.UserID != "u-1" || config.Identity.DisplayName != "Mika" {
			t.Errorf("unexpected identity: %+v", config.Identity)
		}
		if config.Broker.RedisAddr != "cache:6379" {
			t.Errorf("expected redis addr cache:6379, got %s", config.Broker.RedisAddr)
		}
		if config.Database.Path != "./themeroom.db" {
			t.Errorf("expected default database path to survive overlay, got %s", config.Database.Path)
		}
		if config.Presence.Grace() != 20*time.Second {
			t.Errorf("grace shorter than 2x heartbeat should be raised, got %v", config.Presence.Grace())
		}
	})

	t.Run("LoadConfig missing file", func(t *testing.T) {
		_, err := LoadConfig(filepath.Join(t.TempDir(), "absent.toml"))
		if !errors.Is(err, ErrConfigNotFound) {
			t.Errorf("expected ErrConfigNotFound, got %v", err)
		}
	})

	t.Run("LoadConfig invalid TOML", func(t *testing.T) {
		configPath := filepath.Join(t.TempDir(), "config.toml")
		if err := os.WriteFile(configPath, []byte("[database\npath = "), 0644); err != nil {
			t.Fatalf("failed to write test config: %v", err)
		}
		if _, err := LoadConfig(configPath); err == nil {
			t.Error("expected parse error")
		}
	})
}

func TestConfigValidate(t *testing.T) {
	tc := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "defaults", mutate: func(*Config) {}},
		{name: "postgres without url", mutate: func(c *Config) { c.Database.Driver = "postgres" }, wantErr: true},
		{name: "postgres with url", mutate: func(c *Config) {
			c.Database.Driver = "postgres"
			c.Database.URL = "postgres://localhost/themeroom"
		}},
		{name: "unknown broker", mutate: func(c *Config) { c.Broker.Kind = "kafka" }, wantErr: true},
		{name: "unknown repeat", mutate: func(c *Config) { c.Playback.Repeat = "forever" }, wantErr: true},
		{name: "volume out of range", mutate: func(c *Config) { c.Playback.Volume = 1.5 }, wantErr: true},
	}

	for _, tt := range tc {
		t.Run(tt.name, func(t *testing.T) {
			c := DefaultConfig()
			tt.mutate(c)
			err := c.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("expected ErrInvalidConfig, got %v", err)
			}
		})
	}
}
