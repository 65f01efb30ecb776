// Package config loads local-development fallback defaults for pattern
// tuning (breaker thresholds, pipeline mandatory stages, jury quorum,
// map-reduce reducer role) from a YAML file, used when the
// corresponding environment variable the hook dispatcher reads is
// unset. Grounded on the teacher's internal/agents.LoadTeamsConfig and
// internal/server.loadNotificationConfig: read the file, yaml.Unmarshal
// it, and treat a missing file as "no config, fall back to library
// defaults" rather than a fatal error.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// PatternConfig is the on-disk shape of a pattern-tuning config file.
// Every field is optional; zero values mean "no override."
type PatternConfig struct {
	CircuitBreaker struct {
		InitialThreshold int     `yaml:"initial_threshold"`
		MinThreshold     int     `yaml:"min_threshold"`
		MaxThreshold     int     `yaml:"max_threshold"`
		AdaptationRate   float64 `yaml:"adaptation_rate"`
		WindowSeconds    int     `yaml:"window_seconds"`
	} `yaml:"circuit_breaker"`

	Pipeline struct {
		MandatoryStages []int `yaml:"mandatory_stages"`
	} `yaml:"pipeline"`

	Jury struct {
		Quorum int `yaml:"quorum"`
	} `yaml:"jury"`

	MapReduce struct {
		ReducerRole string `yaml:"reducer_role"`
	} `yaml:"map_reduce"`
}

// Load reads and parses a PatternConfig from path. A missing file is
// not an error: it returns a zero-value PatternConfig, meaning every
// pattern falls back to its library defaults.
func Load(path string) (*PatternConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &PatternConfig{}, nil
		}
		return nil, fmt.Errorf("read pattern config: %w", err)
	}

	var cfg PatternConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse pattern config: %w", err)
	}
	return &cfg, nil
}
