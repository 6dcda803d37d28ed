package config

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Load reads and validates a configuration file.
func Load(_ context.Context, path string) (*Config, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- user-provided config path is expected
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.applyEnvironmentOverrides()

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// FromEnvironment builds a configuration from defaults and environment
// variables alone, for running without a config file.
func FromEnvironment(_ context.Context) (*Config, error) {
	cfg := DefaultConfig()
	cfg.applyEnvironmentOverrides()

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Validate checks a configuration for errors and fills remaining defaults.
func Validate(cfg *Config) error {
	if cfg.LogFile == "" {
		return errors.New("log_file: a log file path is required")
	}

	if err := validateEndpoint(&cfg.Endpoint); err != nil {
		return fmt.Errorf("endpoint: %w", err)
	}

	if err := validateFollow(&cfg.Follow); err != nil {
		return fmt.Errorf("follow: %w", err)
	}

	if err := validateQueue(&cfg.Queue); err != nil {
		return fmt.Errorf("queue: %w", err)
	}

	if cfg.Cache.Retention <= 0 {
		cfg.Cache.Retention = DefaultCacheRetention
	}

	if err := validateTaxonomy(&cfg.Taxonomy); err != nil {
		return fmt.Errorf("taxonomy: %w", err)
	}

	return nil
}

func validateEndpoint(ep *EndpointConfig) error {
	if ep.URL == "" {
		return errors.New("url is required")
	}

	u, err := url.Parse(ep.URL)
	if err != nil {
		return fmt.Errorf("invalid url: %w", err)
	}

	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("url scheme must be http or https, got %q", u.Scheme)
	}

	if u.Host == "" {
		return errors.New("url must have a host")
	}

	ep.Token = expandEnvVar(ep.Token)

	if ep.Timeout <= 0 {
		ep.Timeout = DefaultEndpointTimeout
	}

	return nil
}

func validateFollow(f *FollowConfig) error {
	if f.PollInterval <= 0 {
		f.PollInterval = DefaultPollInterval
	}

	if f.CheckpointFile == "" {
		return errors.New("checkpoint_file is required")
	}

	if f.MaxChunkBytes <= 0 {
		f.MaxChunkBytes = DefaultMaxChunkBytes
	}

	return nil
}

func validateQueue(q *QueueConfig) error {
	if q.Capacity <= 0 {
		q.Capacity = DefaultQueueCapacity
	}

	if q.MaxAttempts <= 0 {
		q.MaxAttempts = DefaultMaxAttempts
	}

	if q.InitialBackoff <= 0 {
		q.InitialBackoff = DefaultInitialBackoff
	}

	if q.MaxBackoff < q.InitialBackoff {
		q.MaxBackoff = DefaultMaxBackoff
	}

	if q.DrainGrace <= 0 {
		q.DrainGrace = DefaultDrainGrace
	}

	return nil
}

func validateTaxonomy(t *TaxonomyConfig) error {
	if len(t.Events) == 0 {
		return errors.New("at least one event rule is required")
	}

	seen := make(map[string]bool, len(t.Events))
	for i := range t.Events {
		rule := &t.Events[i]

		if rule.Kind == "" {
			return fmt.Errorf("events[%d]: kind is required", i)
		}

		if seen[rule.Kind] {
			return fmt.Errorf("events[%d]: duplicate kind %q", i, rule.Kind)
		}
		seen[rule.Kind] = true

		if rule.Field == "" && rule.Marker == "" {
			return fmt.Errorf("events[%d] (%s): field or marker is required", i, rule.Kind)
		}

		switch rule.Role {
		case RoleSession, RoleGameplay, RoleGameStart, RoleGameEnd, RoleMatchEnd:
			// Valid
		default:
			return fmt.Errorf("events[%d] (%s): invalid role %q", i, rule.Kind, rule.Role)
		}
	}

	return nil
}

// expandEnvVar expands environment variables in the format ${VAR} or $VAR.
func expandEnvVar(s string) string {
	if s == "" {
		return s
	}

	// Handle ${VAR} format
	if strings.HasPrefix(s, "${") && strings.HasSuffix(s, "}") {
		varName := s[2 : len(s)-1]
		return os.Getenv(varName)
	}

	// Handle $VAR format (no braces)
	if strings.HasPrefix(s, "$") && !strings.HasPrefix(s, "${") {
		varName := s[1:]
		return os.Getenv(varName)
	}

	return s
}
