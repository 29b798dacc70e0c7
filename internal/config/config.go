// Package config loads the recorder's configuration from a YAML file with
// environment-variable overrides, following §6 of the capture specification.
package config

import (
	"log/slog"
	"os"
	"strconv"
	"sync"

	"gopkg.in/yaml.v2"
)

// Config is the recorder's full configuration tree.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Capture CaptureConfig `yaml:"capture"`
	Store   StoreConfig   `yaml:"store"`
	IPC     IPCConfig     `yaml:"ipc"`
}

// ServerConfig configures the HTTP query surface (§OUT OF SCOPE httpapi).
type ServerConfig struct {
	Port         string `yaml:"port"`
	HTTPSKeyPath string `yaml:"https_key_path"`
	HTTPSCertPath string `yaml:"https_cert_path"`
	Registry     string `yaml:"registry"`
	BuildNumber  string `yaml:"build_number"`
}

// CaptureConfig configures the kernel probe attachment (C1) and the network
// id used to key the PNet shared secret (C5).
type CaptureConfig struct {
	Dry                   bool   `yaml:"dry"`
	Test                  bool   `yaml:"test"`
	Terminate             bool   `yaml:"terminate"`
	DebuggerWaitForever   bool   `yaml:"debugger_wait_forever"`
	FirewallDefaultWhitelist bool `yaml:"firewall_default_whitelist"`
	NetworkID             string `yaml:"network_id"`
}

// StoreConfig configures the byte-addressable database (§OUT OF SCOPE).
type StoreConfig struct {
	Path    string `yaml:"path"`
	Backend string `yaml:"backend"` // "memory" | "postgres"
	PgDSN   string `yaml:"pg_dsn"`
}

// IPCConfig configures the helper stdio side-channel (C8) for replay/test mode.
type IPCConfig struct {
	StdinPath  string `yaml:"stdin_path"`
	StdoutPath string `yaml:"stdout_path"`
}

var (
	instance *Config
	once     sync.Once
)

// Get returns the process-wide config singleton, loading it on first use.
func Get() *Config {
	once.Do(func() {
		cfg, err := LoadConfig(getEnv("CONFIG_PATH", "config.yaml"))
		if err != nil {
			slog.Warn("config: failed to load config file, using defaults", "error", err)
		}
		if cfg == nil {
			cfg = &Config{}
		}
		cfg.applyEnvOverrides()
		instance = cfg
	})
	return instance
}

// LoadConfig loads a Config from a YAML file.
func LoadConfig(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var cfg Config
	if err := yaml.NewDecoder(f).Decode(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyEnvOverrides applies the environment variables named in spec.md §6.
func (c *Config) applyEnvOverrides() {
	c.Server.Port = getEnv("SERVER_PORT", c.Server.Port)
	c.Server.HTTPSKeyPath = getEnv("HTTPS_KEY_PATH", c.Server.HTTPSKeyPath)
	c.Server.HTTPSCertPath = getEnv("HTTPS_CERT_PATH", c.Server.HTTPSCertPath)
	c.Server.Registry = getEnv("REGISTRY", c.Server.Registry)
	c.Server.BuildNumber = getEnv("BUILD_NUMBER", c.Server.BuildNumber)

	c.Store.Path = getEnv("DB_PATH", c.Store.Path)

	c.Capture.Dry = getEnvBool("DRY", c.Capture.Dry)
	c.Capture.Test = getEnvBool("TEST", c.Capture.Test)
	c.Capture.Terminate = getEnvBool("TERMINATE", c.Capture.Terminate)
	c.Capture.DebuggerWaitForever = getEnvBool("DEBUGGER_WAIT_FOREVER", c.Capture.DebuggerWaitForever)
	c.Capture.FirewallDefaultWhitelist = getEnvBool("FIREWALL_DEFAULT_WHITELIST", c.Capture.FirewallDefaultWhitelist)

	c.applyDefaults()
}

func (c *Config) applyDefaults() {
	if c.Server.Port == "" {
		c.Server.Port = "8000"
	}
	if c.Store.Path == "" {
		c.Store.Path = "target/db"
	}
	if c.Store.Backend == "" {
		c.Store.Backend = "memory"
	}
	if c.Capture.NetworkID == "" {
		c.Capture.NetworkID = "mainnet"
	}
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		return val == "true" || val == "1"
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			return n
		}
	}
	return defaultVal
}
