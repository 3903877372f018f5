package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the terminal process configuration: YAML file first, then
// environment overrides.
type Config struct {
	Role              string        `yaml:"role"`    // primary, secondary or both
	Channel           string        `yaml:"channel"` // shared channel name, one per physical terminal
	NATSURL           string        `yaml:"nats_url"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	TimeoutWindow     time.Duration `yaml:"timeout_window"`
	HTTPAddr          string        `yaml:"http_addr"`
	StatePath         string        `yaml:"state_path"` // SQLite file; empty disables persistence
	LogLevel          string        `yaml:"log_level"`
}

// Default returns the configuration a terminal runs with out of the box.
func Default() Config {
	return Config{
		Role:              "primary",
		Channel:           "default",
		NATSURL:           "nats://127.0.0.1:4222",
		HeartbeatInterval: 2 * time.Second,
		TimeoutWindow:     5 * time.Second,
		HTTPAddr:          ":8090",
		StatePath:         "terminal-state.db",
		LogLevel:          "info",
	}
}

// Load reads the YAML file at path if it exists, then applies environment
// overrides and validates. An empty path skips the file entirely.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
			// Running on defaults plus env is fine.
		case err != nil:
			return Config{}, fmt.Errorf("read config file: %w", err)
		default:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return Config{}, fmt.Errorf("parse config file: %w", err)
			}
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.Role = getEnv("TERMINAL_ROLE", c.Role)
	c.Channel = getEnv("TERMINAL_CHANNEL", c.Channel)
	c.NATSURL = getEnv("NATS_URL", c.NATSURL)
	c.HTTPAddr = getEnv("TERMINAL_HTTP_ADDR", c.HTTPAddr)
	c.StatePath = getEnv("TERMINAL_STATE_PATH", c.StatePath)
	c.LogLevel = getEnv("TERMINAL_LOG_LEVEL", c.LogLevel)
	c.HeartbeatInterval = getEnvAsDuration("TERMINAL_HEARTBEAT_INTERVAL", c.HeartbeatInterval)
	c.TimeoutWindow = getEnvAsDuration("TERMINAL_TIMEOUT_WINDOW", c.TimeoutWindow)
}

// Validate rejects configurations that would misbehave at runtime. The
// timeout window must cover at least two heartbeat intervals so a single
// missed beat does not flap the peer-active signal.
func (c Config) Validate() error {
	switch c.Role {
	case "primary", "secondary", "both":
	default:
		return fmt.Errorf("invalid role %q (want primary, secondary or both)", c.Role)
	}
	if c.Channel == "" {
		return fmt.Errorf("channel must not be empty")
	}
	if c.HeartbeatInterval <= 0 {
		return fmt.Errorf("heartbeat_interval must be positive")
	}
	if c.TimeoutWindow < 2*c.HeartbeatInterval {
		return fmt.Errorf("timeout_window %s must be at least twice heartbeat_interval %s",
			c.TimeoutWindow, c.HeartbeatInterval)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second
	}
	return defaultValue
}
