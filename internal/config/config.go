// Package config provides configuration loading for wabot.
//
// Values are layered: built-in defaults, then the TOML file
// (~/.wabot/config.toml unless --config names another), then environment
// variables. CLI flags are applied last by the command that owns them.
package config

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v11"

	wabotErrors "github.com/ibetin/wabot/internal/errors"
)

// Config represents the wabot configuration.
// TOML keys are snake_case. Env names are PORT (kept for hosting platforms
// that inject it) and WABOT_* for everything else.
type Config struct {
	// Port is the status page port. Default: 3000
	Port int `toml:"port" env:"PORT"`

	// ListenHost is the interface the status page binds. Default: 0.0.0.0
	ListenHost string `toml:"listen_host" env:"WABOT_LISTEN_HOST"`

	// BridgeURL is the session-engine sidecar WebSocket endpoint.
	BridgeURL string `toml:"bridge_url" env:"WABOT_BRIDGE_URL"`

	// ClientID and DataPath are passed through to the engine untouched.
	ClientID string `toml:"client_id" env:"WABOT_CLIENT_ID"`
	DataPath string `toml:"data_path" env:"WABOT_DATA_PATH"`

	// ReconnectDelayMs is the wait before re-initializing after a
	// disconnection. Default: 5000
	ReconnectDelayMs int `toml:"reconnect_delay_ms" env:"WABOT_RECONNECT_DELAY_MS"`

	// ReconnectPolicy is "fixed" (default) or "exponential".
	ReconnectPolicy string `toml:"reconnect_policy" env:"WABOT_RECONNECT_POLICY"`

	// ReconnectMaxDelayMs caps the exponential policy. Default: 60000
	ReconnectMaxDelayMs int `toml:"reconnect_max_delay_ms" env:"WABOT_RECONNECT_MAX_DELAY_MS"`

	// ReplyMode is "trigger" (default) or "always".
	ReplyMode string `toml:"reply_mode" env:"WABOT_REPLY_MODE"`

	// TriggerPhrase must equal the whole body, ignoring case.
	TriggerPhrase string `toml:"trigger_phrase" env:"WABOT_TRIGGER_PHRASE"`

	// ReplyText may contain {sender}.
	ReplyText string `toml:"reply_text" env:"WABOT_REPLY_TEXT"`

	// ReplyTimeoutMs bounds a single reply round trip. Default: 30000
	ReplyTimeoutMs int `toml:"reply_timeout_ms" env:"WABOT_REPLY_TIMEOUT_MS"`

	// JournalPath is the SQLite lifecycle journal.
	// Default: ~/.wabot/journal.db
	JournalPath string `toml:"journal_path" env:"WABOT_JOURNAL_PATH"`

	// JournalDisabled turns the journal off entirely.
	JournalDisabled bool `toml:"journal_disabled" env:"WABOT_JOURNAL_DISABLED"`

	// MetricsAddr enables /metrics, /live and /ready on a separate listener.
	// Empty disables it.
	MetricsAddr string `toml:"metrics_addr" env:"WABOT_METRICS_ADDR"`

	// MdnsEnabled advertises the status page on the local network.
	// Default: false
	MdnsEnabled bool `toml:"mdns_enabled" env:"WABOT_MDNS_ENABLED"`

	// LogFile redirects log output. Empty logs to stderr.
	LogFile string `toml:"log_file" env:"WABOT_LOG_FILE"`
}

// Default returns a Config holding every built-in default.
func Default() *Config {
	return &Config{
		Port:                DefaultPort,
		ListenHost:          DefaultListenHost,
		BridgeURL:           DefaultBridgeURL,
		ClientID:            DefaultClientID,
		DataPath:            DefaultDataPath,
		ReconnectDelayMs:    DefaultReconnectDelayMs,
		ReconnectPolicy:     PolicyFixed,
		ReconnectMaxDelayMs: DefaultReconnectMaxDelayMs,
		ReplyMode:           DefaultReplyMode,
		TriggerPhrase:       DefaultTriggerPhrase,
		ReplyText:           DefaultReplyText,
		ReplyTimeoutMs:      DefaultReplyTimeoutMs,
	}
}

// DefaultConfigPath returns the default config file location: ~/.wabot/config.toml.
// Returns an error only if the user's home directory cannot be determined.
func DefaultConfigPath() (string, error) {
	return homePath("config.toml")
}

// DefaultJournalPath returns ~/.wabot/journal.db.
func DefaultJournalPath() (string, error) {
	return homePath("journal.db")
}

func homePath(name string) (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".wabot", name), nil
}

// Load builds a Config from defaults, the TOML file at path and the
// environment.
//
// Behavior:
//   - If path is empty, the default location is tried. A missing default
//     file is not an error.
//   - If path is specified, a missing file is an error.
//   - A file that exists but cannot be parsed is an error.
//   - Environment variables override file values.
//
// Load does not validate; call Validate after flags are applied.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		defaultPath, err := DefaultConfigPath()
		if err == nil {
			if _, statErr := os.Stat(defaultPath); statErr == nil {
				path = defaultPath
			}
		}
	} else if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("config file not found: %s", path)
	}

	if path != "" {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	if err := ApplyEnv(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides cfg with any set environment variables. Unset
// variables leave the current value alone.
func ApplyEnv(cfg *Config) error {
	if err := env.Parse(cfg); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// Validate checks every field and returns a config.invalid error for the
// first bad one.
func (c *Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return wabotErrors.ConfigInvalid("port", strconv.Itoa(c.Port)+" is out of range 1-65535")
	}
	if c.ListenHost == "" {
		return wabotErrors.ConfigInvalid("listen_host", "must not be empty")
	}

	u, err := url.Parse(c.BridgeURL)
	if err != nil {
		return wabotErrors.ConfigInvalid("bridge_url", err.Error())
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return wabotErrors.ConfigInvalid("bridge_url", fmt.Sprintf("scheme must be ws or wss, got %q", u.Scheme))
	}
	if u.Host == "" {
		return wabotErrors.ConfigInvalid("bridge_url", "missing host")
	}

	if c.ClientID == "" {
		return wabotErrors.ConfigInvalid("client_id", "must not be empty")
	}
	if c.ReconnectDelayMs <= 0 {
		return wabotErrors.ConfigInvalid("reconnect_delay_ms", "must be positive")
	}
	switch c.ReconnectPolicy {
	case PolicyFixed:
	case PolicyExponential:
		if c.ReconnectMaxDelayMs < c.ReconnectDelayMs {
			return wabotErrors.ConfigInvalid("reconnect_max_delay_ms", "must be at least reconnect_delay_ms")
		}
	default:
		return wabotErrors.ConfigInvalid("reconnect_policy", fmt.Sprintf("unknown policy %q", c.ReconnectPolicy))
	}

	switch c.ReplyMode {
	case ReplyModeTrigger:
		if c.TriggerPhrase == "" {
			return wabotErrors.ConfigInvalid("trigger_phrase", "must not be empty in trigger mode")
		}
	case ReplyModeAlways:
	default:
		return wabotErrors.ConfigInvalid("reply_mode", fmt.Sprintf("unknown mode %q", c.ReplyMode))
	}
	if c.ReplyText == "" {
		return wabotErrors.ConfigInvalid("reply_text", "must not be empty")
	}
	if c.ReplyTimeoutMs <= 0 {
		return wabotErrors.ConfigInvalid("reply_timeout_ms", "must be positive")
	}

	if c.MetricsAddr != "" {
		if _, _, err := net.SplitHostPort(c.MetricsAddr); err != nil {
			return wabotErrors.ConfigInvalid("metrics_addr", err.Error())
		}
	}
	return nil
}

// Addr is the status page listen address.
func (c *Config) Addr() string {
	return net.JoinHostPort(c.ListenHost, strconv.Itoa(c.Port))
}

// ReconnectDelay returns ReconnectDelayMs as a duration.
func (c *Config) ReconnectDelay() time.Duration {
	return time.Duration(c.ReconnectDelayMs) * time.Millisecond
}

// ReconnectMaxDelay returns ReconnectMaxDelayMs as a duration.
func (c *Config) ReconnectMaxDelay() time.Duration {
	return time.Duration(c.ReconnectMaxDelayMs) * time.Millisecond
}

// ReplyTimeout returns ReplyTimeoutMs as a duration.
func (c *Config) ReplyTimeout() time.Duration {
	return time.Duration(c.ReplyTimeoutMs) * time.Millisecond
}
