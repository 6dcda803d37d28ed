package config

import (
	"os"
	"path/filepath"
	"time"
)

// Default values for configuration.
const (
	DefaultPollInterval    = 1 * time.Second
	DefaultEndpointTimeout = 10 * time.Second
	DefaultQueueCapacity   = 512
	DefaultMaxAttempts     = 8
	DefaultInitialBackoff  = 1 * time.Second
	DefaultMaxBackoff      = 10 * time.Minute
	DefaultDrainGrace      = 5 * time.Second
	DefaultCacheRetention  = 72 * time.Hour
	DefaultMaxChunkBytes   = 4 << 20
)

// Environment variable names.
const (
	EnvLogFile     = "UPLOG_LOG_FILE"
	EnvEndpointURL = "UPLOG_ENDPOINT_URL"
	EnvToken       = "UPLOG_API_TOKEN"
)

// StateDir returns the directory for uplog's persisted state.
func StateDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".uplog"
	}
	return filepath.Join(home, ".uplog")
}

// DefaultConfig returns a configuration with sensible defaults, including
// the built-in version of the event taxonomy.
func DefaultConfig() *Config {
	return &Config{
		Endpoint: EndpointConfig{
			Timeout: DefaultEndpointTimeout,
		},
		Follow: FollowConfig{
			PollInterval:   DefaultPollInterval,
			CheckpointFile: filepath.Join(StateDir(), "checkpoint.json"),
			MaxChunkBytes:  DefaultMaxChunkBytes,
		},
		Queue: QueueConfig{
			Capacity:       DefaultQueueCapacity,
			MaxAttempts:    DefaultMaxAttempts,
			InitialBackoff: DefaultInitialBackoff,
			MaxBackoff:     DefaultMaxBackoff,
			DrainGrace:     DefaultDrainGrace,
		},
		Cache: CacheConfig{
			File:      filepath.Join(StateDir(), "delivered.db"),
			Retention: DefaultCacheRetention,
		},
		Taxonomy: DefaultTaxonomy(),
	}
}

// DefaultTaxonomy returns the built-in event taxonomy table.
// The table order matters: terminal and boundary kinds are listed before
// the generic gameplay kinds so they win classification.
func DefaultTaxonomy() TaxonomyConfig {
	return TaxonomyConfig{
		Version: 1,
		Events: []EventRule{
			{Kind: "session_created", Field: "sessionId", Role: RoleSession},
			{Kind: "match_ended", Field: "finalMatchResult", Role: RoleMatchEnd},
			{Kind: "game_started", Field: "gameNumber", Role: RoleGameStart},
			{Kind: "game_ended", Field: "winningTeamId", Role: RoleGameEnd},
			{Kind: "draft_pick", Field: "pickedCardId", Role: RoleGameplay},
			{Kind: "deck_submitted", Field: "deckCards", Role: RoleGameplay},
			{Kind: "game_action", Field: "gameStateMessage", Role: RoleGameplay},
			{Kind: "rank_updated", Marker: "RankUpdated", Role: RoleGameplay},
		},
	}
}

// applyEnvironmentOverrides applies environment variable overrides to the config.
func (c *Config) applyEnvironmentOverrides() {
	if path := os.Getenv(EnvLogFile); path != "" {
		c.LogFile = path
	}
	if url := os.Getenv(EnvEndpointURL); url != "" {
		c.Endpoint.URL = url
	}
	if token := os.Getenv(EnvToken); token != "" {
		c.Endpoint.Token = token
	}
}
