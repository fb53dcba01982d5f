package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultMaxSkew is the freshness window applied to signed credentials.
// Short enough to limit replay value, long enough for clock drift and UI
// latency.
const DefaultMaxSkew = 300 * time.Second

// DefaultRelays are used when no relay set is configured anywhere.
var DefaultRelays = []string{
	"wss://relay.damus.io",
	"wss://relay.nostr.band",
	"wss://nos.lol",
	"wss://relay.primal.net",
}

// Config models nostrack.yml. It is built once at startup and treated as
// immutable afterwards; the server, engine and publisher all receive it by
// value at construction time.
type Config struct {
	Listen   string `yaml:"listen"`
	BasePath string `yaml:"base_path"`
	Admin    struct {
		// Pubkeys is the admin allow-list: exact-match hex identities.
		Pubkeys []string `yaml:"pubkeys"`
		// MaxSkewSeconds overrides the credential freshness window.
		MaxSkewSeconds int `yaml:"max_skew_seconds"`
	} `yaml:"admin"`
	Nostr struct {
		// Relays is the default publish endpoint set; a settings-table
		// override takes precedence at runtime.
		Relays []string `yaml:"relays"`
		// PublishTimeoutSeconds bounds each per-relay publish attempt.
		PublishTimeoutSeconds int `yaml:"publish_timeout_seconds"`
	} `yaml:"nostr"`
}

// Default returns the baseline config.
func Default() Config {
	var cfg Config
	cfg.Listen = "127.0.0.1:8080"
	cfg.BasePath = "/api"
	cfg.Nostr.Relays = append([]string(nil), DefaultRelays...)
	cfg.Nostr.PublishTimeoutSeconds = 10
	return cfg
}

// MaxSkew returns the effective freshness window.
func (c Config) MaxSkew() time.Duration {
	if c.Admin.MaxSkewSeconds > 0 {
		return time.Duration(c.Admin.MaxSkewSeconds) * time.Second
	}
	return DefaultMaxSkew
}

// PublishTimeout returns the per-relay publish deadline.
func (c Config) PublishTimeout() time.Duration {
	if c.Nostr.PublishTimeoutSeconds > 0 {
		return time.Duration(c.Nostr.PublishTimeoutSeconds) * time.Second
	}
	return 10 * time.Second
}

// Validate ensures the config meets required structure.
func (c Config) Validate() error {
	for _, pk := range c.Admin.Pubkeys {
		if strings.TrimSpace(pk) == "" {
			return fmt.Errorf("config.admin.pubkeys contains an empty entry")
		}
	}
	if err := ValidateRelays(c.Nostr.Relays); err != nil {
		return err
	}
	return nil
}

// ValidateRelays checks that every relay is a non-empty, URL-shaped
// websocket endpoint.
func ValidateRelays(relays []string) error {
	for _, r := range relays {
		r = strings.TrimSpace(r)
		if r == "" {
			return fmt.Errorf("relay URL must not be empty")
		}
		u, err := url.Parse(r)
		if err != nil {
			return fmt.Errorf("invalid relay URL %q: %w", r, err)
		}
		if u.Scheme != "wss" && u.Scheme != "ws" {
			return fmt.Errorf("relay URL %q must use ws:// or wss://", r)
		}
		if u.Host == "" {
			return fmt.Errorf("relay URL %q has no host", r)
		}
	}
	return nil
}

// ParsePubkeys splits a comma-separated allow-list, trimming whitespace and
// dropping empty entries.
func ParsePubkeys(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

// ParseRelays splits a comma-separated relay list the same way.
func ParseRelays(raw string) []string {
	return ParsePubkeys(raw)
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "nostrack.yml")
}

// LoadOptional returns the default config if the file does not exist.
func LoadOptional(workspace string) (Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return Config{}, err
	}
	return FromYAML(data)
}

// FromYAML parses and validates config from raw YAML bytes, layered over
// the defaults.
func FromYAML(data []byte) (Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
