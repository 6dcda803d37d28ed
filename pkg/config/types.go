// Package config provides configuration loading and validation for uplog.
package config

import (
	"time"
)

// Config is the root configuration structure loaded from YAML.
type Config struct {
	// LogFile is the path to the game client's append-only log.
	LogFile string `yaml:"log_file"`

	Endpoint EndpointConfig `yaml:"endpoint"`
	Follow   FollowConfig   `yaml:"follow"`
	Queue    QueueConfig    `yaml:"queue"`
	Cache    CacheConfig    `yaml:"cache"`
	Taxonomy TaxonomyConfig `yaml:"taxonomy"`
}

// EndpointConfig describes the remote collection endpoint.
type EndpointConfig struct {
	// URL is the event collection endpoint (required).
	URL string `yaml:"url"`

	// Token is a bearer token for authentication.
	// Supports ${VAR} environment variable expansion.
	Token string `yaml:"token,omitempty"`

	// ClientVersion identifies this client to the endpoint.
	ClientVersion string `yaml:"client_version,omitempty"`

	// Timeout is the per-request timeout. Defaults to 10s.
	Timeout time.Duration `yaml:"timeout,omitempty"`
}

// FollowConfig controls the file tailer.
type FollowConfig struct {
	// PollInterval is the fixed cadence at which the log is polled for
	// new bytes. Defaults to 1s.
	PollInterval time.Duration `yaml:"poll_interval,omitempty"`

	// CheckpointFile is where the resume checkpoint is persisted.
	CheckpointFile string `yaml:"checkpoint_file,omitempty"`

	// FromStart reads the log from offset 0 on a first run instead of
	// seeking to the end of the file.
	FromStart bool `yaml:"from_start,omitempty"`

	// MaxChunkBytes bounds a single poll read. Defaults to 4 MiB.
	MaxChunkBytes int64 `yaml:"max_chunk_bytes,omitempty"`
}

// QueueConfig controls the delivery queue and its retry policy.
type QueueConfig struct {
	// Capacity bounds the in-memory queue. When full, the oldest
	// non-in-flight item is dropped. Defaults to 512.
	Capacity int `yaml:"capacity,omitempty"`

	// MaxAttempts caps delivery attempts per item. Defaults to 8.
	MaxAttempts int `yaml:"max_attempts,omitempty"`

	// InitialBackoff is the first retry delay. Defaults to 1s.
	InitialBackoff time.Duration `yaml:"initial_backoff,omitempty"`

	// MaxBackoff caps exponential backoff growth. Defaults to 10m.
	MaxBackoff time.Duration `yaml:"max_backoff,omitempty"`

	// DrainGrace bounds how long shutdown waits for in-flight
	// deliveries. Defaults to 5s.
	DrainGrace time.Duration `yaml:"drain_grace,omitempty"`
}

// CacheConfig controls the local delivered-event cache.
type CacheConfig struct {
	// File is the SQLite database path. Empty disables the cache.
	File string `yaml:"file,omitempty"`

	// Retention is how long delivered keys are kept. Defaults to 72h.
	Retention time.Duration `yaml:"retention,omitempty"`
}

// EventRole determines how the state tracker treats an event kind.
type EventRole string

const (
	// RoleSession establishes a new match context (context-only, not forwarded).
	RoleSession EventRole = "session"

	// RoleGameplay is forwarded with the active context attached.
	RoleGameplay EventRole = "gameplay"

	// RoleGameStart advances the game number within the active context.
	RoleGameStart EventRole = "game_start"

	// RoleGameEnd marks the end of a game within the match.
	RoleGameEnd EventRole = "game_end"

	// RoleMatchEnd is forwarded with context, then the context is cleared.
	RoleMatchEnd EventRole = "match_end"
)

// EventRule classifies a decoded fragment into an event kind.
// A rule matches when the fragment has the named top-level field, or when
// the plain text immediately preceding the fragment contains the marker.
// Rules are evaluated in table order; the first match wins.
type EventRule struct {
	// Kind is the event kind assigned on match (required).
	Kind string `yaml:"kind"`

	// Field is a top-level field whose presence selects this rule.
	Field string `yaml:"field,omitempty"`

	// Marker is a plain-text marker searched for in the text
	// preceding the fragment.
	Marker string `yaml:"marker,omitempty"`

	// Role determines state tracker handling (required).
	Role EventRole `yaml:"role"`
}

// TaxonomyConfig is the versioned table of relevant event kinds.
// The taxonomy is defined by the collection endpoint's contract and is
// expected to evolve; shapes matching no rule are tagged unknown and
// dropped rather than guessed at.
type TaxonomyConfig struct {
	// Version identifies the taxonomy revision in delivered payloads.
	Version int `yaml:"version"`

	// Events lists the classification rules in priority order.
	Events []EventRule `yaml:"events"`
}
