// Package config handles process configuration loading.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// DefaultSearchPaths returns the config file search order.
// An explicit path (from -config flag) is checked first.
// Then: ./config.yaml, ~/.config/blockprocd/config.yaml, /config/config.yaml,
// /etc/blockprocd/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"config.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "blockprocd", "config.yaml"))
	}

	paths = append(paths, "/config/config.yaml") // Container convention
	paths = append(paths, "/etc/blockprocd/config.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches DefaultSearchPaths and returns the first that exists.
// Returns the path found, or an error if nothing was found.
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

// Config holds all blockprocd configuration: the process's own identity
// and listen settings, and the remote processes it dials out to as a
// client (spec.md §4.7's client proxy).
type Config struct {
	Process  ProcessConfig  `yaml:"process"`
	Listen   ListenConfig   `yaml:"listen"`
	Autocert AutocertConfig `yaml:"autocert"`
	MQTT     MQTTConfig     `yaml:"mqtt"`
	Remotes  []RemoteConfig `yaml:"remotes"`
	DataDir  string         `yaml:"data_dir"`
	LogLevel string         `yaml:"log_level"`
}

// ProcessConfig names this process. Name is both the root path segment
// other processes use to address its Blocks and the identity it
// announces over any comms it serves.
type ProcessConfig struct {
	Name string `yaml:"name"`
}

// ListenConfig defines the WebSocket ServerComms bind settings.
type ListenConfig struct {
	Address string `yaml:"address"` // Bind address (default: "" = all interfaces)
	Port    int    `yaml:"port"`
}

// AutocertConfig configures automatic TLS for ServerComms via Let's
// Encrypt. Enabled requires at least one host in Hosts.
type AutocertConfig struct {
	Enabled  bool     `yaml:"enabled"`
	Hosts    []string `yaml:"hosts"`
	CacheDir string   `yaml:"cache_dir"`
}

// MQTTConfig defines the broker settings for the optional MQTT comms
// transport, mirroring mqttcomms.Config.
type MQTTConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Broker   string `yaml:"broker"`
	Prefix   string `yaml:"prefix"`
	ClientID string `yaml:"client_id"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// RemoteConfig names a remote process whose Blocks this process mirrors
// via a client proxy. Transport selects which comms package dials it:
// "ws" uses a wscomms.ClientComms against URL; "mqtt" uses a
// mqttcomms.ClientComms against the top-level MQTT broker, using Prefix
// as its topic prefix, or Name when Prefix is empty.
type RemoteConfig struct {
	Name      string `yaml:"name"`
	Transport string `yaml:"transport"` // "ws" or "mqtt"
	URL       string `yaml:"url"`       // ws/wss endpoint, when Transport is "ws"
	Prefix    string `yaml:"prefix"`    // topic prefix, when Transport is "mqtt"
}

// Load reads configuration from a YAML file, expands environment
// variables, applies defaults for any unset fields, and validates
// the result. After Load returns successfully, all fields are usable
// without additional nil/empty checks.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Expand environment variables (e.g., ${HOME}, ${MQTT_PASSWORD}).
	// This is a convenience for container deployments; the recommended
	// approach is to put values directly in the config file.
	expanded := os.ExpandEnv(string(data))

	cfg := &Config{}
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, err
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// applyDefaults fills in zero-value fields with sensible defaults.
// Called automatically by Load. After this, callers can read any field
// without checking for empty strings or zero values.
func (c *Config) applyDefaults() {
	if c.Process.Name == "" {
		c.Process.Name = "blockproc"
	}
	if c.Listen.Port == 0 {
		c.Listen.Port = 8008
	}
	if c.DataDir == "" {
		c.DataDir = "./data"
	}
	if c.Autocert.CacheDir == "" {
		c.Autocert.CacheDir = "./autocert-cache"
	}
	if c.MQTT.Prefix == "" {
		c.MQTT.Prefix = c.Process.Name
	}
	if c.MQTT.ClientID == "" {
		c.MQTT.ClientID = c.Process.Name
	}
	for i := range c.Remotes {
		if c.Remotes[i].Transport == "" {
			c.Remotes[i].Transport = "ws"
		}
	}
}

// Validate checks that the configuration is internally consistent.
// It runs after applyDefaults, so it can assume defaults are populated.
// Returns an error describing the first problem found, or nil.
func (c *Config) Validate() error {
	if c.Listen.Port < 1 || c.Listen.Port > 65535 {
		return fmt.Errorf("listen.port %d out of range (1-65535)", c.Listen.Port)
	}
	if c.Autocert.Enabled && len(c.Autocert.Hosts) == 0 {
		return fmt.Errorf("autocert.enabled requires at least one host")
	}
	if c.MQTT.Enabled && c.MQTT.Broker == "" {
		return fmt.Errorf("mqtt.enabled requires mqtt.broker")
	}
	for i, r := range c.Remotes {
		if r.Name == "" {
			return fmt.Errorf("remotes[%d].name is required", i)
		}
		switch r.Transport {
		case "ws":
			if r.URL == "" {
				return fmt.Errorf("remotes[%d] (%s): transport ws requires url", i, r.Name)
			}
		case "mqtt":
			if !c.MQTT.Enabled {
				return fmt.Errorf("remotes[%d] (%s): transport mqtt requires mqtt.enabled", i, r.Name)
			}
		default:
			return fmt.Errorf("remotes[%d] (%s): unknown transport %q (want ws or mqtt)", i, r.Name, r.Transport)
		}
	}
	if c.LogLevel != "" {
		if _, err := ParseLogLevel(c.LogLevel); err != nil {
			return err
		}
	}
	return nil
}

// Default returns a default configuration suitable for local
// development: a process named "blockproc" serving WebSocket on
// :8008. All defaults are already applied.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}
