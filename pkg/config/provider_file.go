package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// ProviderSettings describes what the instrument provider loads on start.
//
//	load_all: true
//	load_ids: ["BTCUSDT.BINANCE"]
//	load_timeout: 90s
//	filters:
//	  market_type: SPOT
type ProviderSettings struct {
	LoadAll     bool           `yaml:"load_all"`
	LoadIDs     []string       `yaml:"load_ids"`
	Filters     map[string]any `yaml:"filters"`
	LoadTimeout time.Duration  `yaml:"load_timeout"`
}

// LoadProviderSettings reads settings from a YAML file.
func LoadProviderSettings(path string) (ProviderSettings, error) {
	var s ProviderSettings
	data, err := os.ReadFile(path)
	if err != nil {
		return s, fmt.Errorf("read provider settings %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &s); err != nil {
		return s, fmt.Errorf("parse provider settings %s: %w", path, err)
	}
	if s.LoadTimeout < 0 {
		return s, fmt.Errorf("provider settings %s: load_timeout must not be negative", path)
	}
	return s, nil
}

// applyEnv lets LOAD_ALL, LOAD_IDS and LOAD_TIMEOUT override the file.
func (s *ProviderSettings) applyEnv() {
	if b, ok := LookupEnvBool("LOAD_ALL"); ok {
		s.LoadAll = b
	}
	if ids := GetEnvList("LOAD_IDS", nil); ids != nil {
		s.LoadIDs = ids
	}
	s.LoadTimeout = GetEnvDuration("LOAD_TIMEOUT", s.LoadTimeout)
}
