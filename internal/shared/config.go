package shared

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

//go:embed config.example.toml
var exampleConf []byte

// Config represents the application configuration loaded from a TOML file.
type Config struct {
	Identity IdentityConfig `toml:"identity"`
	OAuth    OAuthConfig    `toml:"oauth"`
	Database DatabaseConfig `toml:"database"`
	Broker   BrokerConfig   `toml:"broker"`
	Presence PresenceConfig `toml:"presence"`
	Playback PlaybackConfig `toml:"playback"`
	Changes  ChangesConfig  `toml:"changes"`
	Catalog  CatalogConfig  `toml:"catalog"`
	Server   ServerConfig   `toml:"server"`
	Logging  LoggingConfig  `toml:"logging"`
}

// IdentityConfig names the local user and where session credentials live.
type IdentityConfig struct {
	UserID      string `toml:"user_id"`
	DisplayName string `toml:"display_name"`
	TokenFile   string `toml:"token_file"`
	JWTSecret   string `toml:"jwt_secret"`
}

// OAuthConfig contains the identity provider's OAuth2 client settings.
type OAuthConfig struct {
	ClientID     string   `toml:"client_id"`
	ClientSecret string   `toml:"client_secret"`
	AuthURL      string   `toml:"auth_url"`
	TokenURL     string   `toml:"token_url"`
	RedirectURL  string   `toml:"redirect_url"`
	Scopes       []string `toml:"scopes"`
}

// DatabaseConfig contains database connection settings.
type DatabaseConfig struct {
	Driver       string `toml:"driver"` // sqlite or postgres
	Path         string `toml:"path"`
	URL          string `toml:"url"`
	MaxOpenConns int    `toml:"max_open_conns"`
	MaxIdleConns int    `toml:"max_idle_conns"`
}

// BrokerConfig selects the publish/subscribe substrate.
type BrokerConfig struct {
	Kind          string `toml:"kind"` // memory or redis
	RedisAddr     string `toml:"redis_addr"`
	RedisPassword string `toml:"redis_password"`
	RedisDB       int    `toml:"redis_db"`
}

// PresenceConfig holds heartbeat timing. Durations use [time.ParseDuration] syntax.
type PresenceConfig struct {
	HeartbeatInterval string `toml:"heartbeat_interval"`
	GracePeriod       string `toml:"grace_period"`
}

// PlaybackConfig holds the initial transport settings for a session.
type PlaybackConfig struct {
	Volume            float64 `toml:"volume"`
	Shuffle           bool    `toml:"shuffle"`
	Repeat            string  `toml:"repeat"`
	SimulatedDuration string  `toml:"simulated_duration"`
}

// ChangesConfig sizes the activity feed.
type ChangesConfig struct {
	RecentLimit int `toml:"recent_limit"`
}

// CatalogConfig points at the anime theme catalog API.
type CatalogConfig struct {
	BaseURL   string  `toml:"base_url"`
	RateLimit float64 `toml:"rate_limit"`
}

// ServerConfig contains relay server settings.
type ServerConfig struct {
	Addr           string   `toml:"addr"`
	AllowedOrigins []string `toml:"allowed_origins"`
}

// LoggingConfig contains log level and the TUI log file.
type LoggingConfig struct {
	Level string `toml:"level"`
	File  string `toml:"file"`
}

const (
	defaultHeartbeat = 30 * time.Second
	defaultDuration  = 90 * time.Second
)

// Heartbeat returns the presence re-announce interval.
func (p PresenceConfig) Heartbeat() time.Duration {
	return parseDurationOr(p.HeartbeatInterval, defaultHeartbeat)
}

// Grace returns the silence window after which a peer is considered gone.
// Values shorter than twice the heartbeat are raised to twice the heartbeat.
func (p PresenceConfig) Grace() time.Duration {
	hb := p.Heartbeat()
	g := parseDurationOr(p.GracePeriod, 2*hb+hb/2)
	if g < 2*hb {
		return 2 * hb
	}
	return g
}

// Duration returns the simulated device's track length.
func (p PlaybackConfig) Duration() time.Duration {
	return parseDurationOr(p.SimulatedDuration, defaultDuration)
}

func parseDurationOr(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(strings.TrimSpace(s))
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

// Validate reports configuration values that cannot be used as given.
func (c *Config) Validate() error {
	var errs []error

	switch c.Database.Driver {
	case "", "sqlite":
	case "postgres":
		if c.Database.URL == "" {
			errs = append(errs, fmt.Errorf("%w: database.url is required for postgres", ErrInvalidConfig))
		}
	default:
		errs = append(errs, fmt.Errorf("%w: unknown database driver %q", ErrInvalidConfig, c.Database.Driver))
	}

	switch c.Broker.Kind {
	case "", "memory", "redis":
	default:
		errs = append(errs, fmt.Errorf("%w: unknown broker kind %q", ErrInvalidConfig, c.Broker.Kind))
	}

	switch c.Playback.Repeat {
	case "", "off", "track", "playlist":
	default:
		errs = append(errs, fmt.Errorf("%w: unknown repeat mode %q", ErrInvalidConfig, c.Playback.Repeat))
	}

	if c.Playback.Volume < 0 || c.Playback.Volume > 1 {
		errs = append(errs, fmt.Errorf("%w: playback.volume must be within [0,1]", ErrInvalidConfig))
	}

	return errors.Join(errs...)
}

// LoadConfig reads and parses a TOML configuration file from the specified path.
//
// Keys missing from the file keep the embedded defaults.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(ExpandHome(path))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrConfigNotFound, path)
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	if err := toml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	return config, nil
}

// DefaultConfig returns a Config with sensible defaults loaded from the embedded example config.
func DefaultConfig() *Config {
	var config Config
	if err := toml.Unmarshal(exampleConf, &config); err != nil {
		panic(fmt.Sprintf("failed to parse embedded default config: %v", err))
	}
	return &config
}

// DefaultConfigPath returns ~/.config/themeroom/config.toml.
func DefaultConfigPath() string {
	return ExpandHome("~/.config/themeroom/config.toml")
}

// CreateConfigFile creates a config.toml file at the specified path using the embedded example config.
func CreateConfigFile(path string) error {
	path = ExpandHome(path)
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(path, exampleConf, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// ExpandHome replaces a leading "~" with the user's home directory.
func ExpandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}
