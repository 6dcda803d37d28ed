package parser

import (
	"github.com/gametrace/uplog/internal/logging"
	"github.com/gametrace/uplog/pkg/config"
)

// Extractor combines the fragment scanner and classifier, assigning local
// sequence numbers to the events it yields. It is driven by the polling
// loop only and is not safe for concurrent use.
type Extractor struct {
	scan  *Scanner
	class *Classifier
	seq   uint64
}

// NewExtractor creates an Extractor. startSeq seeds the sequence counter,
// normally from the checkpoint's last sequence number so replayed
// fragments reproduce their original dedupe keys.
func NewExtractor(taxonomy config.TaxonomyConfig, startSeq uint64, log *logging.Logger) *Extractor {
	return &Extractor{
		scan:  NewScanner(log),
		class: NewClassifier(taxonomy, log),
		seq:   startSeq,
	}
}

// Consume feeds one chunk through the scanner and returns all complete,
// well-formed, recognized events it contained, in log order.
func (e *Extractor) Consume(data []byte, offset int64) []ParsedEvent {
	e.scan.Append(data, offset)

	var events []ParsedEvent
	for {
		frag, ok := e.scan.Next()
		if !ok {
			return events
		}

		ev, ok := e.class.Classify(frag)
		if !ok {
			continue
		}

		e.seq++
		ev.Seq = e.seq
		events = append(events, ev)
	}
}

// Reset discards the carry buffer. Called after truncation or rotation;
// the sequence counter keeps counting so dedupe keys never repeat.
func (e *Extractor) Reset() {
	e.scan.Reset()
}

// LastSeq returns the last assigned sequence number.
func (e *Extractor) LastSeq() uint64 {
	return e.seq
}
