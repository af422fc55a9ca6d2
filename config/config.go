// Package config loads the engine and showcase configuration from YAML.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/on-the-ground/saga_ive_go/effects/log"
)

const DefaultYAML = `# saga_ive_go configuration
engine:
  call_partitions: 4
  stop_timeout: 5s

log:
  level: info
  format: console

tracing:
  enabled: false
  service_name: saga-showcase
  output: ""   # empty writes to stdout

showcase:
  latency: 500ms
  fetch_users_latency: 2s
  refresh_timeout: 5s
  counter_delay: 1s
  failure_rate: 0
  fetch_attempts: 3
  retry_backoff: 100ms
  cache_ttl: 1m
  cache_max_items: 1000
  cities: [Seoul, Lisbon, Nairobi]
`

type EngineConfig struct {
	// CallPartitions is the number of ordered queues serving keyed calls.
	CallPartitions int           `yaml:"call_partitions"`
	StopTimeout    time.Duration `yaml:"stop_timeout"`
}

type TracingConfig struct {
	Enabled     bool   `yaml:"enabled"`
	ServiceName string `yaml:"service_name"`
	Output      string `yaml:"output"`
}

// ShowcaseConfig holds the mock backend behaviour and saga timings.
type ShowcaseConfig struct {
	Latency           time.Duration `yaml:"latency"`
	FetchUsersLatency time.Duration `yaml:"fetch_users_latency"`
	RefreshTimeout    time.Duration `yaml:"refresh_timeout"`
	CounterDelay      time.Duration `yaml:"counter_delay"`
	FailureRate       float64       `yaml:"failure_rate"`
	FetchAttempts     int           `yaml:"fetch_attempts"`
	RetryBackoff      time.Duration `yaml:"retry_backoff"`
	CacheTTL          time.Duration `yaml:"cache_ttl"`
	CacheMaxItems     int64         `yaml:"cache_max_items"`
	Cities            []string      `yaml:"cities"`
}

type Config struct {
	Engine   EngineConfig   `yaml:"engine"`
	Log      log.Config     `yaml:"log"`
	Tracing  TracingConfig  `yaml:"tracing"`
	Showcase ShowcaseConfig `yaml:"showcase"`
}

// Default returns the configuration described by DefaultYAML.
func Default() Config {
	var cfg Config
	if err := yaml.Unmarshal([]byte(DefaultYAML), &cfg); err != nil {
		panic(fmt.Sprintf("config: invalid default yaml: %v", err))
	}
	return cfg
}

// Parse overlays data on top of the defaults and validates the result.
func Parse(data []byte) (Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Load reads path. An empty path yields the defaults.
func Load(path string) (Config, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("load config: %w", err)
	}
	return Parse(data)
}

var ErrInvalid = errors.New("invalid config")

func (c Config) Validate() error {
	var errs []error
	if c.Engine.CallPartitions < 1 {
		errs = append(errs, fmt.Errorf("engine.call_partitions must be positive, got %d", c.Engine.CallPartitions))
	}
	if c.Engine.StopTimeout <= 0 {
		errs = append(errs, fmt.Errorf("engine.stop_timeout must be positive, got %v", c.Engine.StopTimeout))
	}
	if err := c.Log.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("log: %w", err))
	}
	if c.Tracing.Enabled && c.Tracing.ServiceName == "" {
		errs = append(errs, errors.New("tracing.service_name is required when tracing is enabled"))
	}

	s := c.Showcase
	for name, d := range map[string]time.Duration{
		"latency":             s.Latency,
		"fetch_users_latency": s.FetchUsersLatency,
		"counter_delay":       s.CounterDelay,
		"retry_backoff":       s.RetryBackoff,
	} {
		if d < 0 {
			errs = append(errs, fmt.Errorf("showcase.%s must not be negative, got %v", name, d))
		}
	}
	if s.RefreshTimeout <= 0 {
		errs = append(errs, fmt.Errorf("showcase.refresh_timeout must be positive, got %v", s.RefreshTimeout))
	}
	if s.FailureRate < 0 || s.FailureRate > 1 {
		errs = append(errs, fmt.Errorf("showcase.failure_rate must be within [0, 1], got %v", s.FailureRate))
	}
	if s.FetchAttempts < 1 {
		errs = append(errs, fmt.Errorf("showcase.fetch_attempts must be positive, got %d", s.FetchAttempts))
	}
	if s.CacheTTL <= 0 || s.CacheMaxItems <= 0 {
		errs = append(errs, errors.New("showcase.cache_ttl and showcase.cache_max_items must be positive"))
	}
	if len(s.Cities) == 0 {
		errs = append(errs, errors.New("showcase.cities must not be empty"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalid, errors.Join(errs...))
	}
	return nil
}
