package main

import (
	"fmt"
	"os"
	"time"

	"github.com/mcdev12/battlequiz/go/internal/battle"
	"gopkg.in/yaml.v3"
)

// Config is the YAML server configuration. Every battle policy has a
// default, so a missing file just means defaults.
type Config struct {
	Battle struct {
		GracePeriodSec    int `yaml:"grace_period_sec"`
		MatchTimeLimitSec int `yaml:"match_time_limit_sec"`
		QuestionsPerMatch int `yaml:"questions_per_match"`
	} `yaml:"battle"`
}

func defaultConfig() *Config {
	cfg := &Config{}
	cfg.Battle.GracePeriodSec = 30
	cfg.Battle.MatchTimeLimitSec = 120
	cfg.Battle.QuestionsPerMatch = 5
	return cfg
}

func loadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return defaultConfig(), nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := defaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	return config, nil
}

// battleConfig converts the YAML knobs to coordinator policies.
func (c *Config) battleConfig() battle.Config {
	return battle.Config{
		GracePeriod:       time.Duration(c.Battle.GracePeriodSec) * time.Second,
		MatchTimeLimit:    time.Duration(c.Battle.MatchTimeLimitSec) * time.Second,
		QuestionsPerMatch: c.Battle.QuestionsPerMatch,
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
