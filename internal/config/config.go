// Package config loads mirror.toml and MIRROR_* environment overrides.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/HMasataka/mirror/internal/relay"
	"github.com/HMasataka/mirror/internal/signaling"
	"github.com/HMasataka/mirror/pkg/transport"
	"github.com/caarlos0/env/v11"
	"github.com/pelletier/go-toml/v2"
)

const EnvPrefix = "MIRROR_"

var ErrInvalidConfig = errors.New("config: invalid")

const (
	BackendMemory    = "memory"
	BackendFirestore = "firestore"
	BackendRedis     = "redis"
	BackendRelay     = "relay"
)

var backends = []string{BackendMemory, BackendFirestore, BackendRedis, BackendRelay}

type Config struct {
	Device    DeviceConfig     `toml:"device" envPrefix:"DEVICE_"`
	Directory DirectoryConfig  `toml:"directory" envPrefix:"DIRECTORY_"`
	WebRTC    transport.Config `toml:"webrtc" envPrefix:"WEBRTC_"`
	Relay     RelayConfig      `toml:"relay" envPrefix:"RELAY_"`
	Log       LogConfig        `toml:"log" envPrefix:"LOG_"`
}

type DeviceConfig struct {
	Name string `toml:"name" env:"NAME"`
}

type DirectoryConfig struct {
	Backend     string            `toml:"backend" env:"BACKEND"`
	Collections CollectionsConfig `toml:"collections" envPrefix:"COLLECTIONS_"`

	// ListDebounce is in milliseconds.
	ListDebounce  int `toml:"list_debounce" env:"LIST_DEBOUNCE"`
	RetryAttempts int `toml:"retry_attempts" env:"RETRY_ATTEMPTS"`

	Firestore FirestoreConfig   `toml:"firestore" envPrefix:"FIRESTORE_"`
	Redis     RedisConfig       `toml:"redis" envPrefix:"REDIS_"`
	Relay     RelayClientConfig `toml:"relay" envPrefix:"RELAY_"`
}

type CollectionsConfig struct {
	Sessions           string `toml:"sessions" env:"SESSIONS"`
	Receivers          string `toml:"receivers" env:"RECEIVERS"`
	CallerCandidates   string `toml:"caller_candidates" env:"CALLER_CANDIDATES"`
	CalleeCandidates   string `toml:"callee_candidates" env:"CALLEE_CANDIDATES"`
	OffererCandidates  string `toml:"offerer_candidates" env:"OFFERER_CANDIDATES"`
	AnswererCandidates string `toml:"answerer_candidates" env:"ANSWERER_CANDIDATES"`
}

type FirestoreConfig struct {
	ProjectID       string `toml:"project_id" env:"PROJECT_ID"`
	CredentialsFile string `toml:"credentials_file" env:"CREDENTIALS_FILE"`
}

type RedisConfig struct {
	URL    string `toml:"url" env:"URL"`
	Prefix string `toml:"prefix" env:"PREFIX"`
}

type RelayClientConfig struct {
	URL   string `toml:"url" env:"URL"`
	Token string `toml:"token" env:"TOKEN"`
}

type RelayConfig struct {
	Listen         string           `toml:"listen" env:"LISTEN"`
	Token          string           `toml:"token" env:"TOKEN"`
	AllowedOrigins []string         `toml:"allowed_origins" env:"ALLOWED_ORIGINS" envSeparator:","`
	TURN           relay.TURNConfig `toml:"turn" envPrefix:"TURN_"`
}

type LogConfig struct {
	Level  string `toml:"level" env:"LEVEL"`
	Format string `toml:"format" env:"FORMAT"`
}

// Default returns the configuration used when no file or environment
// overrides are present.
func Default() Config {
	sig := signaling.DefaultConfig()

	name, err := os.Hostname()
	if err != nil || name == "" {
		name = "mirror"
	}

	return Config{
		Device: DeviceConfig{Name: name},
		Directory: DirectoryConfig{
			Backend: BackendMemory,
			Collections: CollectionsConfig{
				Sessions:           sig.Sessions,
				Receivers:          sig.Receivers,
				CallerCandidates:   sig.CallerCandidates,
				CalleeCandidates:   sig.CalleeCandidates,
				OffererCandidates:  sig.OffererCandidates,
				AnswererCandidates: sig.AnswererCandidates,
			},
			ListDebounce:  int(sig.ListDebounce / time.Millisecond),
			RetryAttempts: sig.Retry.Attempts,
			Redis:         RedisConfig{URL: "redis://localhost:6379/0", Prefix: "mirror:"},
			Relay:         RelayClientConfig{URL: "ws://localhost:8080/ws"},
		},
		WebRTC: transport.DefaultConfig(),
		Relay: RelayConfig{
			Listen: ":8080",
			TURN:   relay.DefaultTURNConfig(),
		},
		Log: LogConfig{Level: "info", Format: "json"},
	}
}

// Load reads path when it is not empty, then applies MIRROR_* environment
// variables on top.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("failed to read config: %w", err)
		}
		if err := Parse(b, &cfg); err != nil {
			return Config{}, err
		}
	}

	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return Config{}, fmt.Errorf("failed to parse environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// Parse decodes TOML into cfg. Keys missing from b keep the values already
// in cfg.
func Parse(b []byte, cfg *Config) error {
	if err := toml.Unmarshal(b, cfg); err != nil {
		return fmt.Errorf("failed to decode config: %w", err)
	}
	return nil
}

func (c Config) Validate() error {
	if !slices.Contains(backends, c.Directory.Backend) {
		return fmt.Errorf("%w: unknown directory backend %q (want one of %s)",
			ErrInvalidConfig, c.Directory.Backend, strings.Join(backends, ", "))
	}

	switch c.Directory.Backend {
	case BackendFirestore:
		if c.Directory.Firestore.ProjectID == "" {
			return fmt.Errorf("%w: directory.firestore.project_id is required", ErrInvalidConfig)
		}
	case BackendRedis:
		if c.Directory.Redis.URL == "" {
			return fmt.Errorf("%w: directory.redis.url is required", ErrInvalidConfig)
		}
	case BackendRelay:
		if c.Directory.Relay.URL == "" {
			return fmt.Errorf("%w: directory.relay.url is required", ErrInvalidConfig)
		}
	}

	if len(c.WebRTC.PortRange) != 0 && len(c.WebRTC.PortRange) != 2 {
		return fmt.Errorf("%w: webrtc.portrange needs exactly two ports", ErrInvalidConfig)
	}

	if _, err := c.Log.SlogLevel(); err != nil {
		return err
	}
	if c.Log.Format != "json" && c.Log.Format != "text" {
		return fmt.Errorf("%w: log.format must be json or text, got %q", ErrInvalidConfig, c.Log.Format)
	}

	return nil
}

// Signaling converts the directory section into engine settings.
func (c Config) Signaling() signaling.Config {
	cfg := signaling.DefaultConfig()

	col := c.Directory.Collections
	cfg.Sessions = col.Sessions
	cfg.Receivers = col.Receivers
	cfg.CallerCandidates = col.CallerCandidates
	cfg.CalleeCandidates = col.CalleeCandidates
	cfg.OffererCandidates = col.OffererCandidates
	cfg.AnswererCandidates = col.AnswererCandidates

	if c.Directory.ListDebounce > 0 {
		cfg.ListDebounce = time.Duration(c.Directory.ListDebounce) * time.Millisecond
	}
	if c.Directory.RetryAttempts > 0 {
		cfg.Retry.Attempts = c.Directory.RetryAttempts
	}

	return cfg
}

func (c LogConfig) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Level)); err != nil {
		return 0, fmt.Errorf("%w: log.level: %w", ErrInvalidConfig, err)
	}
	return level, nil
}
