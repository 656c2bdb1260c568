// Package runtime assembles the registry, router, channel manager and
// wsproto engine behind one explicit value instead of global singletons
// (§9 Design Notes: "Global singletons (logger, validator registry):
// replace with an explicit Runtime value threaded into the server
// builder; transports borrow it").
package runtime

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// ConfigResolver locates a YAML config file for this service following
// the same layered precedence cellorg's StandardConfigResolver uses for
// agent configs, adapted from an agent-name keyed lookup to a single
// service binary: CLI flag, then env var, then a couple of CWD-relative
// conventions, then binary-relative, then "no file, use defaults".
type ConfigResolver struct {
	ConfigFlag *string
}

// Resolve returns the config file path, or "" if none was found and the
// caller should fall back to DefaultConfig.
func (r *ConfigResolver) Resolve() string {
	if r.ConfigFlag != nil && *r.ConfigFlag != "" {
		return *r.ConfigFlag
	}
	if path := os.Getenv("RAFFEL_CONFIG_PATH"); path != "" && fileExists(path) {
		return path
	}
	if dir := os.Getenv("RAFFEL_CONFIG_DIR"); dir != "" {
		path := filepath.Join(dir, "raffel.yaml")
		if fileExists(path) {
			return path
		}
	}
	if fileExists(filepath.Join("config", "raffel.yaml")) {
		return filepath.Join("config", "raffel.yaml")
	}
	if fileExists("raffel.yaml") {
		return "raffel.yaml"
	}
	binaryDir := filepath.Dir(os.Args[0])
	if path := filepath.Join(binaryDir, "config", "raffel.yaml"); fileExists(path) {
		return path
	}
	return ""
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// Config is the YAML-shaped form of the §6 "Configuration (recognized
// options)" surface. Hooks (ContextFactory, Authorize, PresenceData,
// OnPublish) are not representable in YAML and are set on the Runtime
// programmatically after New returns.
type Config struct {
	Port              int    `yaml:"port"`
	Host              string `yaml:"host"`
	Path              string `yaml:"path"`
	MaxPayloadSize    int64  `yaml:"maxPayloadSize"`
	HeartbeatInterval int    `yaml:"heartbeatInterval"`
	// EnableCompression turns on deflate compression of large outgoing
	// frames, sent as binary frames (§6, SPEC_FULL §1.2).
	EnableCompression bool `yaml:"enableCompression"`
}

// DefaultConfig returns the §6-documented defaults: host 0.0.0.0, path
// "/", 1 MiB payload cap, 30s heartbeat.
func DefaultConfig() Config {
	return Config{
		Port:              8080,
		Host:              "0.0.0.0",
		Path:              "/",
		MaxPayloadSize:    1 << 20,
		HeartbeatInterval: 30000,
	}
}

// LoadConfig resolves and parses a YAML config file, falling back to
// DefaultConfig when none is found, mirroring cellorg's
// LoadConfigWithDefaults generic helper.
func LoadConfig(configFlag *string) (Config, error) {
	resolver := &ConfigResolver{ConfigFlag: configFlag}
	path := resolver.Resolve()
	if path == "" {
		return DefaultConfig(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("runtime: failed to read config %s: %w", path, err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("runtime: failed to parse config %s: %w", path, err)
	}
	return cfg, nil
}

// heartbeatDuration converts the YAML millisecond field to a
// time.Duration, preserving the "0 disables" convention.
func (c Config) heartbeatDuration() time.Duration {
	if c.HeartbeatInterval <= 0 {
		return 0
	}
	return time.Duration(c.HeartbeatInterval) * time.Millisecond
}
