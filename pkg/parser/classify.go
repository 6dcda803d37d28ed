package parser

import (
	"encoding/json"
	"strings"

	"github.com/gametrace/uplog/internal/logging"
	"github.com/gametrace/uplog/pkg/config"
)

// Classifier assigns event kinds to decoded fragments using the configured
// taxonomy table. Rules are evaluated in table order; first match wins.
type Classifier struct {
	rules []config.EventRule
	log   *logging.Logger
}

// NewClassifier creates a Classifier over the given taxonomy.
func NewClassifier(taxonomy config.TaxonomyConfig, log *logging.Logger) *Classifier {
	return &Classifier{rules: taxonomy.Events, log: log}
}

// Classify decodes and classifies a fragment.
// A fragment that fails to decode, or whose shape matches no rule, returns
// ok=false: the former is logged as a warning, the latter is expected
// (most log content is irrelevant) and only noted at debug level.
func (c *Classifier) Classify(frag RawFragment) (ParsedEvent, bool) {
	var payload map[string]any
	if err := json.Unmarshal([]byte(frag.Text), &payload); err != nil {
		c.log.Warnf("dropping malformed fragment at offset %d: %v", frag.Offset, err)
		return ParsedEvent{}, false
	}

	for _, rule := range c.rules {
		if rule.Field != "" {
			if _, ok := payload[rule.Field]; ok {
				return ParsedEvent{Kind: rule.Kind, Role: rule.Role, Payload: payload}, true
			}
			continue
		}
		if rule.Marker != "" && strings.Contains(frag.Prefix, rule.Marker) {
			return ParsedEvent{Kind: rule.Kind, Role: rule.Role, Payload: payload}, true
		}
	}

	c.log.Debugf("ignoring %s fragment at offset %d", KindUnknown, frag.Offset)
	return ParsedEvent{}, false
}
