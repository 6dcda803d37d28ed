// Package parser extracts structured event fragments from a semi-structured
// game log stream and classifies them against the configured taxonomy.
package parser

import (
	"github.com/gametrace/uplog/pkg/config"
)

// KindUnknown tags fragments whose shape matches no taxonomy rule.
const KindUnknown = "unknown"

// RawFragment is a contiguous slice of log text believed to contain one
// structured record.
type RawFragment struct {
	// Text is the fragment body, from opening to matching closing brace.
	Text string

	// Prefix is the plain log text between the previous fragment and this
	// one; markers that classify the fragment live here.
	Prefix string

	// Offset is the byte offset of the fragment start in the log file.
	Offset int64
}

// ParsedEvent is a decoded, classified fragment.
// Malformed fragments never become a ParsedEvent.
type ParsedEvent struct {
	// Kind is the taxonomy kind assigned at classification.
	Kind string

	// Role is the state-tracker role of the kind.
	Role config.EventRole

	// Payload is the decoded structured data.
	Payload map[string]any

	// Seq is the local sequence number, monotonic per process run.
	Seq uint64
}
