// Package config provides configuration for the basex-go tools.
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/xqlabs/basex-go/pkg/client"
)

// Config holds connection and tool settings. Values come from the YAML
// config file, overridden by BASEX_* environment variables.
type Config struct {
	Host        string        `yaml:"host"`
	Port        int           `yaml:"port"`
	Username    string        `yaml:"username"`
	Password    string        `yaml:"password"`
	Timeout     time.Duration `yaml:"timeout"`
	GatewayAddr string        `yaml:"gateway_addr"`
	LogLevel    string        `yaml:"log_level"`
	MaxSessions int           `yaml:"max_sessions"`
}

// Default returns the stock configuration: a local BaseX server with its
// shipped credentials.
func Default() *Config {
	return &Config{
		Host:        client.DefaultHost,
		Port:        client.DefaultPort,
		Username:    client.DefaultUsername,
		Password:    client.DefaultPassword,
		Timeout:     10 * time.Second,
		GatewayAddr: ":8984",
		LogLevel:    "info",
		MaxSessions: 8,
	}
}

// Dir returns the tool data directory (~/.basex-go).
func Dir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".basex-go"
	}
	return filepath.Join(home, ".basex-go")
}

// Path returns the default config file location.
func Path() string {
	return filepath.Join(Dir(), "config.yml")
}

// Load reads the config file at the default path. A missing file is not an
// error; defaults plus environment overrides apply.
func Load() (*Config, error) {
	return LoadFile(Path())
}

// LoadFile reads the config file at path, falling back to defaults when the
// file does not exist, then applies environment overrides.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	if err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, err
		}
	}

	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("BASEX_HOST"); v != "" {
		c.Host = v
	}
	if v := os.Getenv("BASEX_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil && port > 0 {
			c.Port = port
		}
	}
	if v := os.Getenv("BASEX_USERNAME"); v != "" {
		c.Username = v
	}
	if v := os.Getenv("BASEX_PASSWORD"); v != "" {
		c.Password = v
	}
	if v := os.Getenv("BASEX_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			c.Timeout = d
		}
	}
	if v := os.Getenv("BASEX_GATEWAY_ADDR"); v != "" {
		c.GatewayAddr = v
	}
	if v := os.Getenv("BASEX_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("BASEX_MAX_SESSIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.MaxSessions = n
		}
	}
}

// ClientOptions converts the config into session options.
func (c *Config) ClientOptions() client.Options {
	return client.Options{
		Host:        c.Host,
		Port:        c.Port,
		Username:    c.Username,
		Password:    c.Password,
		DialTimeout: c.Timeout,
	}
}

// Level parses the configured log level, defaulting to info.
func (c *Config) Level() zerolog.Level {
	level, err := zerolog.ParseLevel(c.LogLevel)
	if err != nil || level == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return level
}
