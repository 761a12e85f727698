// Package config handles switchboard configuration loading.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// DefaultSearchPaths returns the config file search order.
// An explicit path (from -config flag) is checked first.
// Then: ./config.yaml, ~/.config/switchboard/config.yaml,
// /etc/switchboard/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"config.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "switchboard", "config.yaml"))
	}

	paths = append(paths, "/etc/switchboard/config.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches DefaultSearchPaths and returns the first that exists.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", DefaultSearchPaths())
}

// Config holds all switchboard configuration.
type Config struct {
	Discord  DiscordConfig `yaml:"discord"`
	Zalo     ZaloConfig    `yaml:"zalo"`
	Webhook  WebhookConfig `yaml:"webhook"`
	LogLevel string        `yaml:"log_level"`
}

// DiscordConfig defines the Discord bot connection.
type DiscordConfig struct {
	Enabled  bool   `yaml:"enabled"`
	BotToken string `yaml:"bot_token"`
	// Intents is the gateway event-category bitmask sent in the Identify
	// payload. Zero means the connector's default set.
	Intents uint64 `yaml:"intents"`
}

// ZaloConfig defines the Zalo personal-account connection.
type ZaloConfig struct {
	Enabled bool `yaml:"enabled"`
	// IMEI is the device fingerprint sent during login. Generated and
	// printed by `switchboard login-qr` when empty.
	IMEI string `yaml:"imei"`
	// Cookie is the Zalo Web session cookie (must contain zpw_sek).
	Cookie string `yaml:"cookie"`
	// UserAgent overrides the browser fingerprint user agent.
	UserAgent string `yaml:"user_agent"`
}

// WebhookConfig defines the generic inbound/outbound webhook channel.
type WebhookConfig struct {
	Enabled bool `yaml:"enabled"`
	// Secret verifies inbound payload signatures when set.
	Secret string `yaml:"secret"`
	// OutboundURL receives outbound messages as JSON POSTs when set.
	OutboundURL string `yaml:"outbound_url"`
	// Listen is the bind address for the inbound webhook endpoint
	// (default ":8170").
	Listen string `yaml:"listen"`
}

// Load reads configuration from a YAML file. Environment variables in
// the file body are expanded before parsing, so secrets can live in the
// environment (bot_token: ${DISCORD_BOT_TOKEN}).
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Default returns a default configuration.
func Default() *Config {
	return &Config{
		Webhook: WebhookConfig{Listen: ":8170"},
	}
}
