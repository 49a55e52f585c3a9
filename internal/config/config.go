// Package config loads the service configuration from CLI flags, a
// .env file, environment variables and defaults, in that priority.
package config

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Config holds the application configuration.
type Config struct {
	DataDir        string
	ListenAddr     string
	BearerToken    string
	StorageBackend string // "sqlite" or "memory"
	Workers        int    // concurrent device operations
	SNMPCommunity  string
	LogLevel       string
	LogFormat      string // "console" or "json"
	ConfigFile     string // path to the .env file actually loaded
}

// Load resolves configuration with the following priority, highest
// first: CLI opts, .env file, environment variables, defaults.
func Load(opts *Config) *Config {
	cfg := &Config{
		DataDir:        "./data",
		ListenAddr:     ":8080",
		StorageBackend: "sqlite",
		Workers:        10,
		SNMPCommunity:  "public",
		LogLevel:       "info",
		LogFormat:      "console",
	}

	envFile := ".env"
	if _, err := os.Stat(envFile); err == nil {
		if err := loadFromEnvFile(cfg, envFile); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to load .env file: %v\n", err)
		} else {
			cfg.ConfigFile = envFile
		}
	}

	applyEnv(cfg)

	if opts != nil {
		if opts.DataDir != "" {
			cfg.DataDir = opts.DataDir
		}
		if opts.ListenAddr != "" {
			cfg.ListenAddr = opts.ListenAddr
		}
		if opts.BearerToken != "" {
			cfg.BearerToken = opts.BearerToken
		}
		if opts.StorageBackend != "" {
			cfg.StorageBackend = opts.StorageBackend
		}
		if opts.Workers > 0 {
			cfg.Workers = opts.Workers
		}
		if opts.SNMPCommunity != "" {
			cfg.SNMPCommunity = opts.SNMPCommunity
		}
		if opts.LogLevel != "" {
			cfg.LogLevel = opts.LogLevel
		}
		if opts.LogFormat != "" {
			cfg.LogFormat = opts.LogFormat
		}
	}

	if cfg.StorageBackend != "sqlite" && cfg.StorageBackend != "memory" {
		cfg.StorageBackend = "sqlite"
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 10
	}
	return cfg
}

// applyEnv fills in environment variables without overriding values
// the .env file already customized.
func applyEnv(cfg *Config) {
	assign(cfg, os.Getenv, false)
}

func loadFromEnvFile(cfg *Config, filename string) error {
	file, err := os.Open(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	values := map[string]string{}
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		values[key] = strings.Trim(strings.TrimSpace(parts[1]), "\"")
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	assign(cfg, func(key string) string { return values[key] }, true)
	return nil
}

// assign copies the NETFABD_* values into the config. When override is
// false an already customized field is left alone.
func assign(cfg *Config, get func(string) string, override bool) {
	fields := []struct {
		key    string
		target *string
	}{
		{"NETFABD_DATA_DIR", &cfg.DataDir},
		{"NETFABD_LISTEN_ADDR", &cfg.ListenAddr},
		{"NETFABD_BEARER_TOKEN", &cfg.BearerToken},
		{"NETFABD_STORAGE_BACKEND", &cfg.StorageBackend},
		{"NETFABD_SNMP_COMMUNITY", &cfg.SNMPCommunity},
		{"NETFABD_LOG_LEVEL", &cfg.LogLevel},
		{"NETFABD_LOG_FORMAT", &cfg.LogFormat},
	}
	defaults := Config{
		DataDir:        "./data",
		ListenAddr:     ":8080",
		StorageBackend: "sqlite",
		SNMPCommunity:  "public",
		LogLevel:       "info",
		LogFormat:      "console",
	}
	defaultFor := map[string]string{
		"NETFABD_DATA_DIR":        defaults.DataDir,
		"NETFABD_LISTEN_ADDR":     defaults.ListenAddr,
		"NETFABD_BEARER_TOKEN":    defaults.BearerToken,
		"NETFABD_STORAGE_BACKEND": defaults.StorageBackend,
		"NETFABD_SNMP_COMMUNITY":  defaults.SNMPCommunity,
		"NETFABD_LOG_LEVEL":       defaults.LogLevel,
		"NETFABD_LOG_FORMAT":      defaults.LogFormat,
	}
	for _, f := range fields {
		value := get(f.key)
		if value == "" {
			continue
		}
		if override || *f.target == defaultFor[f.key] {
			*f.target = value
		}
	}
	if value := get("NETFABD_WORKERS"); value != "" {
		if workers, err := strconv.Atoi(value); err == nil && workers > 0 {
			if override || cfg.Workers == 10 {
				cfg.Workers = workers
			}
		}
	}
}

// IsMCPEnabled reports whether MCP authentication is configured.
func (c *Config) IsMCPEnabled() bool {
	return c.BearerToken != ""
}

// String names the configuration source.
func (c *Config) String() string {
	if c.ConfigFile != "" {
		return fmt.Sprintf(".env file (%s)", c.ConfigFile)
	}
	return "environment variables"
}
