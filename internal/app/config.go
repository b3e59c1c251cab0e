package app

import (
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Config carries every tunable of the client. Defaults apply first, then an
// optional YAML file, then environment variables override.
type Config struct {
	ServerURL     string        `yaml:"server_url" env:"SERVER_URL"`
	SocketURL     string        `yaml:"socket_url" env:"SOCKET_URL"`
	DebugAddr     string        `yaml:"debug_addr" env:"DEBUG_ADDR"`
	ArchivePath   string        `yaml:"archive_path" env:"EVENT_ARCHIVE_PATH"`
	EventPageSize int           `yaml:"event_page_size" env:"EVENT_PAGE_SIZE"`
	ReconnectBase time.Duration `yaml:"reconnect_base" env:"RECONNECT_BASE"`
	ReconnectMax  time.Duration `yaml:"reconnect_max" env:"RECONNECT_MAX"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() Config {
	return Config{
		ServerURL:     "http://127.0.0.1:8000",
		DebugAddr:     ":9090",
		EventPageSize: 50,
		ReconnectBase: time.Second,
		ReconnectMax:  8 * time.Second,
	}
}

// LoadConfig layers the YAML file at path (when non-empty) and the
// environment over the defaults, then derives the socket URL when it was
// not set explicitly.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file: %w", err)
		}
	}
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if cfg.SocketURL == "" {
		derived, err := deriveSocketURL(cfg.ServerURL)
		if err != nil {
			return Config{}, err
		}
		cfg.SocketURL = derived
	}
	return cfg, nil
}

// deriveSocketURL maps the HTTP base URL onto the server's websocket
// endpoint: the scheme flips to ws/wss and the path becomes /ws.
func deriveSocketURL(serverURL string) (string, error) {
	parsed, err := url.Parse(serverURL)
	if err != nil {
		return "", fmt.Errorf("parse server url: %w", err)
	}
	switch parsed.Scheme {
	case "http":
		parsed.Scheme = "ws"
	case "https":
		parsed.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported server url scheme %q", parsed.Scheme)
	}
	parsed.Path = "/ws"
	parsed.RawQuery = ""
	return parsed.String(), nil
}
