// Package queue buffers enriched events and delivers them to the remote
// endpoint in order, with bounded retry and backoff.
package queue

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gametrace/uplog/internal/logging"
	"github.com/gametrace/uplog/pkg/api"
	"github.com/gametrace/uplog/pkg/config"
	"github.com/gametrace/uplog/pkg/dedupe"
	"github.com/gametrace/uplog/pkg/tracker"
)

// Sender issues one delivery call. *api.Client implements it.
type Sender interface {
	Send(ctx context.Context, payload any) *api.Response
}

// DeliveryItem is one event awaiting delivery.
type DeliveryItem struct {
	Event     tracker.EnrichedEvent
	DedupeKey string
	Attempts  int
}

// Envelope is the JSON body posted per event.
type Envelope struct {
	DedupeKey       string                `json:"dedupeKey"`
	Kind            string                `json:"kind"`
	Seq             uint64                `json:"seq"`
	TaxonomyVersion int                   `json:"taxonomyVersion,omitempty"`
	Context         *tracker.MatchContext `json:"context,omitempty"`
	Payload         map[string]any        `json:"payload"`
}

// Stats counts queue outcomes.
type Stats struct {
	Delivered        uint64
	Deduped          uint64
	Retries          uint64
	DroppedFull      uint64
	DroppedPermanent uint64
	DroppedExhausted uint64
}

// Queue is the bounded delivery buffer and its consumer.
// Enqueue is called by the polling loop; Run is the single consumer.
// These are the only two goroutines that touch it.
type Queue struct {
	sender          Sender
	cache           *dedupe.Cache
	log             *logging.Logger
	capacity        int
	maxAttempts     int
	backoff         Backoff
	taxonomyVersion int
	keyScope        string

	mu       sync.Mutex
	items    []*DeliveryItem
	notEmpty chan struct{}

	draining      atomic.Bool
	inFlight      atomic.Bool
	lastDelivered atomic.Uint64
	stats         struct {
		sync.Mutex
		Stats
	}
}

// Option configures a Queue.
type Option func(*Queue)

// WithLogger sets the diagnostic logger.
func WithLogger(l *logging.Logger) Option {
	return func(q *Queue) {
		q.log = l
	}
}

// WithCache consults and updates a local delivered-event cache.
func WithCache(c *dedupe.Cache) Option {
	return func(q *Queue) {
		q.cache = c
	}
}

// WithTaxonomyVersion stamps delivered envelopes with the taxonomy revision.
func WithTaxonomyVersion(v int) Option {
	return func(q *Queue) {
		q.taxonomyVersion = v
	}
}

// WithKeyScope scopes dedupe keys for events that carry no session id.
// The scope must be stable across restarts (a persisted instance id) so
// replayed pre-session events keep their original keys.
func WithKeyScope(scope string) Option {
	return func(q *Queue) {
		q.keyScope = scope
	}
}

// New creates a Queue delivering through the given sender.
func New(sender Sender, cfg config.QueueConfig, opts ...Option) *Queue {
	q := &Queue{
		sender:      sender,
		log:         logging.New("queue"),
		capacity:    cfg.Capacity,
		maxAttempts: cfg.MaxAttempts,
		backoff:     Backoff{Initial: cfg.InitialBackoff, Max: cfg.MaxBackoff},
		notEmpty:    make(chan struct{}, 1),
	}

	if q.capacity <= 0 {
		q.capacity = config.DefaultQueueCapacity
	}
	if q.maxAttempts <= 0 {
		q.maxAttempts = config.DefaultMaxAttempts
	}

	for _, opt := range opts {
		opt(q)
	}

	return q
}

// Enqueue adds an event for delivery. When the queue is full the oldest
// waiting item is dropped with a warning: delivery is best-effort under
// sustained outage, not a durable store.
func (q *Queue) Enqueue(ev tracker.EnrichedEvent) {
	item := &DeliveryItem{
		Event:     ev,
		DedupeKey: DedupeKey(ev, q.keyScope),
	}

	q.mu.Lock()
	if len(q.items) >= q.capacity {
		dropped := q.items[0]
		q.items = q.items[1:]
		q.log.Warnf("queue full, dropping oldest item %s", dropped.DedupeKey)
		q.bumpStats(func(s *Stats) { s.DroppedFull++ })
	}
	q.items = append(q.items, item)
	q.mu.Unlock()

	select {
	case q.notEmpty <- struct{}{}:
	default:
	}
}

// DedupeKey derives the idempotency key for an event: the session id that
// scopes it plus its local sequence number. Events with no session fall
// back to the given scope, or "presession" when it is empty.
func DedupeKey(ev tracker.EnrichedEvent, fallbackScope string) string {
	scope := fallbackScope
	if scope == "" {
		scope = "presession"
	}
	if ev.Context != nil && ev.Context.SessionID != "" {
		scope = ev.Context.SessionID
	}
	return fmt.Sprintf("%s:%d", scope, ev.Event.Seq)
}

// Len returns the number of items waiting (excluding any in-flight item).
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Idle reports whether nothing is waiting or in flight.
func (q *Queue) Idle() bool {
	return q.Len() == 0 && !q.inFlight.Load()
}

// LastDelivered returns the sequence number of the last successfully
// delivered event. Informational only: resume correctness is governed by
// parse-side checkpointing plus dedupe keys.
func (q *Queue) LastDelivered() uint64 {
	return q.lastDelivered.Load()
}

// Stats returns a snapshot of queue counters.
func (q *Queue) Stats() Stats {
	q.stats.Lock()
	defer q.stats.Unlock()
	return q.stats.Stats
}

// BeginDrain marks the start of shutdown: items still in the queue get one
// final attempt each, but nothing is retried once draining.
func (q *Queue) BeginDrain() {
	q.draining.Store(true)
}

// Run is the consumer loop. It blocks until ctx is cancelled, draining
// items in order and delivering one at a time.
func (q *Queue) Run(ctx context.Context) {
	for {
		item := q.next(ctx)
		if item == nil {
			return
		}
		q.inFlight.Store(true)
		q.deliver(ctx, item)
		q.inFlight.Store(false)
	}
}

// next pops the oldest item, blocking until one is available or ctx ends.
func (q *Queue) next(ctx context.Context) *DeliveryItem {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			item := q.items[0]
			q.items = q.items[1:]
			q.mu.Unlock()
			return item
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil
		case <-q.notEmpty:
		}
	}
}

func (q *Queue) deliver(ctx context.Context, item *DeliveryItem) {
	if q.cache != nil {
		if seen, err := q.cache.Seen(ctx, item.DedupeKey); err == nil && seen {
			q.log.Debugf("skipping already-delivered item %s", item.DedupeKey)
			q.bumpStats(func(s *Stats) { s.Deduped++ })
			return
		}
	}

	envelope := Envelope{
		DedupeKey:       item.DedupeKey,
		Kind:            item.Event.Event.Kind,
		Seq:             item.Event.Event.Seq,
		TaxonomyVersion: q.taxonomyVersion,
		Context:         item.Event.Context,
		Payload:         item.Event.Event.Payload,
	}

	for {
		item.Attempts++
		resp := q.sender.Send(ctx, envelope)

		switch {
		case resp.Success():
			q.lastDelivered.Store(item.Event.Event.Seq)
			q.bumpStats(func(s *Stats) { s.Delivered++ })
			if q.cache != nil {
				if err := q.cache.MarkDelivered(ctx, item.DedupeKey, time.Now()); err != nil {
					q.log.Warnf("recording delivered key %s: %v", item.DedupeKey, err)
				}
			}
			return

		case resp.Permanent():
			q.log.Errorf("dropping item %s after non-retryable status %d", item.DedupeKey, resp.StatusCode)
			q.bumpStats(func(s *Stats) { s.DroppedPermanent++ })
			return

		default:
			if item.Attempts >= q.maxAttempts {
				q.log.Errorf("dropping item %s: permanent delivery failure after %d attempts", item.DedupeKey, item.Attempts)
				q.bumpStats(func(s *Stats) { s.DroppedExhausted++ })
				return
			}
			if q.draining.Load() {
				q.log.Warnf("dropping item %s: shutdown in progress, not retrying", item.DedupeKey)
				q.bumpStats(func(s *Stats) { s.DroppedExhausted++ })
				return
			}

			delay := q.backoff.Delay(item.Attempts)
			q.log.Warnf("delivery of %s failed (attempt %d, status %d), retrying in %s",
				item.DedupeKey, item.Attempts, resp.StatusCode, delay)
			q.bumpStats(func(s *Stats) { s.Retries++ })

			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}
		}
	}
}

func (q *Queue) bumpStats(f func(*Stats)) {
	q.stats.Lock()
	f(&q.stats.Stats)
	q.stats.Unlock()
}
