package main

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the optional YAML configuration file. Anything not set falls
// back to environment variables and defaults.
type Config struct {
	Server struct {
		Addr string `yaml:"addr"`
	} `yaml:"server"`

	NATS struct {
		URL string `yaml:"url"`
	} `yaml:"nats"`

	Sync struct {
		ThrottleIntervalMS int `yaml:"throttle_interval_ms"`
		DriftThresholdMS   int `yaml:"drift_threshold_ms"`
		GuardWindowMS      int `yaml:"guard_window_ms"`
		FlushIntervalMS    int `yaml:"flush_interval_ms"`
	} `yaml:"sync"`
}

func loadConfig(path string) (*Config, error) {
	var config Config

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return &config, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &config, nil
}

func (c *Config) serverAddr() string {
	if c.Server.Addr != "" {
		return c.Server.Addr
	}
	return ":" + getEnv("PORT", "8080")
}

func (c *Config) natsURL() string {
	if c.NATS.URL != "" {
		return c.NATS.URL
	}
	return getEnv("NATS_URL", "nats://localhost:4222")
}

// syncTuning returns the reconciliation tunables served to clients, with
// the recommended defaults filled in.
func (c *Config) syncTuning() map[string]int {
	tuning := map[string]int{
		"throttle_interval_ms": c.Sync.ThrottleIntervalMS,
		"drift_threshold_ms":   c.Sync.DriftThresholdMS,
		"guard_window_ms":      c.Sync.GuardWindowMS,
		"flush_interval_ms":    c.Sync.FlushIntervalMS,
	}
	defaults := map[string]int{
		"throttle_interval_ms": 1500,
		"drift_threshold_ms":   1250,
		"guard_window_ms":      250,
		"flush_interval_ms":    10,
	}
	for key, value := range tuning {
		if value <= 0 {
			tuning[key] = defaults[key]
		}
	}
	return tuning
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
