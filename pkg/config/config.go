// Package config loads server configuration from the environment, with
// an optional YAML file providing defaults for anything unset.
package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config holds connection settings for every backing service. Empty
// values mean the corresponding subsystem runs in degraded mode (the
// server logs a warning and serves what it can).
type Config struct {
	HTTPAddr    string `yaml:"http_addr"`
	DatabaseURL string `yaml:"database_url"`
	NATSURL     string `yaml:"nats_url"`
	MQTTBroker  string `yaml:"mqtt_broker"`
	MQTTPort    int    `yaml:"mqtt_port"`
	RedisURL    string `yaml:"redis_url"`
	LogLevel    string `yaml:"log_level"`
	LogJSON     bool   `yaml:"log_json"`
}

// Defaults returns the out-of-the-box configuration.
func Defaults() Config {
	return Config{
		HTTPAddr:   ":8000",
		NATSURL:    "nats://localhost:4222",
		MQTTBroker: "localhost",
		MQTTPort:   1883,
		RedisURL:   "redis://localhost:6379",
		LogLevel:   "info",
	}
}

// Load builds the configuration from defaults, then the YAML file at
// path (if non-empty), then environment variables. Later sources win.
func Load(path string) (Config, error) {
	cfg := Defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}

	applyEnv(&cfg)

	if cfg.MQTTPort < 1 || cfg.MQTTPort > 65535 {
		return cfg, fmt.Errorf("mqtt port %d out of range", cfg.MQTTPort)
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("HTTP_ADDR"); v != "" {
		cfg.HTTPAddr = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.DatabaseURL = v
	}
	if v := os.Getenv("NATS_URL"); v != "" {
		cfg.NATSURL = v
	}
	if v := os.Getenv("MQTT_BROKER"); v != "" {
		cfg.MQTTBroker = v
	}
	if v := os.Getenv("MQTT_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.MQTTPort = port
		}
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.RedisURL = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("LOG_JSON"); v != "" {
		cfg.LogJSON = v == "1" || v == "true"
	}
}

// MQTTAddr returns the broker address in host:port form.
func (c Config) MQTTAddr() string {
	return fmt.Sprintf("tcp://%s:%d", c.MQTTBroker, c.MQTTPort)
}
