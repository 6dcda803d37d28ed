// Package pipeline wires the follow → parse → contextualize → deliver
// stages into the two loops that make up a running uplog process.
package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/gametrace/uplog/internal/logging"
	"github.com/gametrace/uplog/pkg/api"
	"github.com/gametrace/uplog/pkg/config"
	"github.com/gametrace/uplog/pkg/dedupe"
	"github.com/gametrace/uplog/pkg/parser"
	"github.com/gametrace/uplog/pkg/queue"
	"github.com/gametrace/uplog/pkg/tailer"
	"github.com/gametrace/uplog/pkg/tracker"
)

// Pipeline runs the polling loop (tailer, parser, tracker) and the
// delivery consumer, decoupled only by the bounded queue.
type Pipeline struct {
	cfg    *config.Config
	log    *logging.Logger
	sender queue.Sender

	tailer    *tailer.Tailer
	extractor *parser.Extractor
	tracker   *tracker.Tracker
	queue     *queue.Queue
	cache     *dedupe.Cache
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithLogger sets the root logger; components log under derived names.
func WithLogger(l *logging.Logger) Option {
	return func(p *Pipeline) {
		p.log = l
	}
}

// WithSender overrides the delivery sender (used by tests).
func WithSender(s queue.Sender) Option {
	return func(p *Pipeline) {
		p.sender = s
	}
}

// New creates a Pipeline from configuration.
func New(cfg *config.Config, opts ...Option) *Pipeline {
	p := &Pipeline{
		cfg: cfg,
		log: logging.New("pipeline"),
	}

	for _, opt := range opts {
		opt(p)
	}

	if p.sender == nil {
		p.sender = api.NewClient(cfg.Endpoint)
	}

	return p
}

// Run executes the pipeline until ctx is cancelled. It returns an error
// only for the fatal conditions: an unreadable log at startup or a failing
// checkpoint store.
func (p *Pipeline) Run(ctx context.Context) error {
	cfg := p.cfg

	// The delivered-event cache is an optimization, not a correctness
	// requirement; failing to open it costs at most one duplicate per
	// event, which the endpoint's own dedupe absorbs.
	if cfg.Cache.File != "" {
		cache, err := dedupe.Open(cfg.Cache.File)
		if err != nil {
			p.log.Warnf("delivered-event cache unavailable: %v", err)
		} else {
			p.cache = cache
			defer cache.Close()
			if n, err := cache.Prune(ctx, cfg.Cache.Retention); err == nil && n > 0 {
				p.log.Debugf("pruned %d expired delivered keys", n)
			}
		}
	}

	scope, err := instanceID(filepath.Join(filepath.Dir(cfg.Follow.CheckpointFile), "instance_id"))
	if err != nil {
		p.log.Warnf("no stable instance id: %v", err)
	}

	store := tailer.NewStore(cfg.Follow.CheckpointFile)
	p.tailer = tailer.New(cfg.LogFile, store,
		tailer.WithLogger(p.log.Named("tailer")),
		tailer.WithMaxChunk(cfg.Follow.MaxChunkBytes),
		tailer.WithFromStart(cfg.Follow.FromStart),
	)
	if _, err := p.tailer.Open(); err != nil {
		return err
	}
	defer p.tailer.Close()

	p.extractor = parser.NewExtractor(cfg.Taxonomy, p.tailer.LastSeq(), p.log.Named("parser"))
	p.tracker = tracker.New(p.log.Named("tracker"))

	queueOpts := []queue.Option{
		queue.WithLogger(p.log.Named("queue")),
		queue.WithTaxonomyVersion(cfg.Taxonomy.Version),
		queue.WithKeyScope(scope),
	}
	if p.cache != nil {
		queueOpts = append(queueOpts, queue.WithCache(p.cache))
	}
	p.queue = queue.New(p.sender, cfg.Queue, queueOpts...)

	// Consumer loop: the only goroutine that touches the network, and
	// the only one that may block (bounded by the per-call timeout).
	consumerCtx, stopConsumer := context.WithCancel(context.Background())
	defer stopConsumer()
	consumerDone := make(chan struct{})
	go func() {
		defer close(consumerDone)
		p.queue.Run(consumerCtx)
	}()

	p.tailer.Watch(ctx)

	ticker := time.NewTicker(cfg.Follow.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.shutdown(stopConsumer, consumerDone)
			return nil

		case <-ticker.C:
		case <-p.tailer.Wake():
		}

		if err := p.pollOnce(); err != nil {
			p.shutdown(stopConsumer, consumerDone)
			return err
		}
	}
}

// pollOnce runs one cycle of the polling loop. A recoverable read problem
// skips the cycle; a checkpoint write failure is fatal.
func (p *Pipeline) pollOnce() error {
	chunk, err := p.tailer.Poll()
	if err != nil {
		p.log.Warnf("skipping poll cycle: %v", err)
		return nil
	}
	if chunk == nil {
		return nil
	}

	if chunk.Reset {
		p.extractor.Reset()
		p.tracker.Reset()
	}

	for _, ev := range p.extractor.Consume(chunk.Data, chunk.Offset) {
		enriched, forward := p.tracker.Track(ev)
		if forward {
			p.queue.Enqueue(enriched)
		}
	}

	// Commit strictly after the chunk is handed off: a crash before this
	// line re-parses the chunk, it never loses it.
	if err := p.tailer.Commit(chunk, p.extractor.LastSeq()); err != nil {
		return fmt.Errorf("checkpoint store failed: %w", err)
	}

	return nil
}

// shutdown drains in-flight deliveries up to the grace period. The polling
// loop has already stopped; nothing new is retried once draining begins.
func (p *Pipeline) shutdown(stopConsumer context.CancelFunc, consumerDone <-chan struct{}) {
	p.queue.BeginDrain()

	deadline := time.Now().Add(p.cfg.Queue.DrainGrace)
	for !p.queue.Idle() && time.Now().Before(deadline) {
		time.Sleep(20 * time.Millisecond)
	}

	stopConsumer()
	<-consumerDone

	stats := p.queue.Stats()
	p.log.Infof("pipeline stopped: delivered=%d deduped=%d dropped=%d",
		stats.Delivered, stats.Deduped,
		stats.DroppedFull+stats.DroppedPermanent+stats.DroppedExhausted)
}

// Stats returns delivery counters, or the zero value before Run.
func (p *Pipeline) Stats() queue.Stats {
	if p.queue == nil {
		return queue.Stats{}
	}
	return p.queue.Stats()
}

// TrackerState exposes the tracker state for inspection.
func (p *Pipeline) TrackerState() tracker.State {
	if p.tracker == nil {
		return tracker.Idle
	}
	return p.tracker.State()
}

// instanceID loads or creates the persisted id that scopes dedupe keys for
// events delivered before any session id is known. It must be stable
// across restarts so replayed pre-session events keep their keys.
func instanceID(path string) (string, error) {
	raw, err := os.ReadFile(path) // #nosec G304 -- path derives from validated config
	if err == nil {
		if id := strings.TrimSpace(string(raw)); id != "" {
			return id, nil
		}
	}

	id := ulid.Make().String()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return id, err
	}
	if err := os.WriteFile(path, []byte(id+"\n"), 0o644); err != nil {
		return id, err
	}
	return id, nil
}
