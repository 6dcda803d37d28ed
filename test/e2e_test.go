package test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/gametrace/uplog/internal/logging"
	"github.com/gametrace/uplog/pkg/config"
	"github.com/gametrace/uplog/pkg/pipeline"
)

// receivedEnvelope is the shape the collection endpoint sees on the wire.
type receivedEnvelope struct {
	DedupeKey       string         `json:"dedupeKey"`
	Kind            string         `json:"kind"`
	Seq             uint64         `json:"seq"`
	TaxonomyVersion int            `json:"taxonomyVersion"`
	Context         map[string]any `json:"context"`
	Payload         map[string]any `json:"payload"`
}

// collector is an httptest-backed collection endpoint recording every upload.
type collector struct {
	mu       sync.Mutex
	received []receivedEnvelope
	auth     []string
	server   *httptest.Server
}

func newCollector(t *testing.T) *collector {
	t.Helper()
	c := &collector{}
	c.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		var env receivedEnvelope
		if err := json.Unmarshal(body, &env); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		c.mu.Lock()
		c.received = append(c.received, env)
		c.auth = append(c.auth, r.Header.Get("Authorization"))
		c.mu.Unlock()

		w.WriteHeader(http.StatusNoContent)
	}))
	t.Cleanup(c.server.Close)
	return c
}

func (c *collector) envelopes() []receivedEnvelope {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]receivedEnvelope(nil), c.received...)
}

func e2eConfig(t *testing.T, dir, endpoint string) *config.Config {
	t.Helper()

	cfg := config.DefaultConfig()
	cfg.LogFile = filepath.Join(dir, "Player.log")
	cfg.Endpoint.URL = endpoint
	cfg.Endpoint.Token = "e2e-token"
	cfg.Follow.PollInterval = 10 * time.Millisecond
	cfg.Follow.CheckpointFile = filepath.Join(dir, "checkpoint.json")
	cfg.Follow.FromStart = true
	cfg.Queue.InitialBackoff = time.Millisecond
	cfg.Queue.DrainGrace = 200 * time.Millisecond
	cfg.Cache.File = filepath.Join(dir, "delivered.db")

	if err := config.Validate(cfg); err != nil {
		t.Fatalf("Failed to build config: %v", err)
	}
	return cfg
}

// runUntil runs the pipeline until cond holds, then shuts it down.
func runUntil(t *testing.T, p *pipeline.Pipeline, cond func() bool, msg string) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- p.Run(ctx)
	}()

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) && !cond() {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()

	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("Pipeline failed: %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Pipeline did not stop")
	}

	if !cond() {
		t.Fatalf("Timed out waiting for %s", msg)
	}
}

// TestE2E_FullMatchUploaded drives a complete match through the real HTTP
// client and asserts what the collection endpoint receives.
func TestE2E_FullMatchUploaded(t *testing.T) {
	dir := t.TempDir()
	coll := newCollector(t)
	cfg := e2eConfig(t, dir, coll.server.URL)

	logContent := `[Client] connecting
[Client] {"sessionId": "sess-9", "matchId": "match-4", "seatId": 2}
GreToClientEvent {"gameStateMessage": {"turn": 1}}
Draft.Notify {"pickedCardId": 31, "packNumber": 2}
[Client] {"finalMatchResult": "loss", "matchId": "match-4"}
trailing noise with no fragment
`
	if err := os.WriteFile(cfg.LogFile, []byte(logContent), 0o644); err != nil {
		t.Fatalf("Failed to write log: %v", err)
	}

	log := logging.New("e2e", logging.WithWriter(io.Discard))
	p := pipeline.New(cfg, pipeline.WithLogger(log))
	runUntil(t, p, func() bool { return len(coll.envelopes()) >= 3 }, "3 uploads")

	got := coll.envelopes()
	if len(got) != 3 {
		t.Fatalf("Endpoint received %d envelopes, want 3", len(got))
	}

	wantKinds := []string{"game_action", "draft_pick", "match_ended"}
	for i, env := range got {
		if env.Kind != wantKinds[i] {
			t.Errorf("Envelope %d kind = %s, want %s", i, env.Kind, wantKinds[i])
		}
		if env.Context == nil || env.Context["sessionId"] != "sess-9" {
			t.Errorf("Envelope %d context = %v, want session sess-9", i, env.Context)
		}
		if env.DedupeKey == "" {
			t.Errorf("Envelope %d has no dedupe key", i)
		}
		if env.TaxonomyVersion != cfg.Taxonomy.Version {
			t.Errorf("Envelope %d taxonomy version = %d, want %d", i, env.TaxonomyVersion, cfg.Taxonomy.Version)
		}
	}

	if got[1].Payload["pickedCardId"] != float64(31) {
		t.Errorf("Draft pick payload = %v", got[1].Payload)
	}

	for i, auth := range coll.auth {
		if auth != "Bearer e2e-token" {
			t.Errorf("Upload %d Authorization = %q", i, auth)
		}
	}
}

// TestE2E_RestartResumesWithoutDuplicates stops the process mid-log,
// appends more entries, restarts, and verifies the endpoint sees each
// event exactly once.
func TestE2E_RestartResumesWithoutDuplicates(t *testing.T) {
	dir := t.TempDir()
	coll := newCollector(t)
	cfg := e2eConfig(t, dir, coll.server.URL)

	first := `{"sessionId": "sess-1", "matchId": "m1", "seatId": 1}
Draft.Notify {"pickedCardId": 1}
`
	if err := os.WriteFile(cfg.LogFile, []byte(first), 0o644); err != nil {
		t.Fatalf("Failed to write log: %v", err)
	}

	log := logging.New("e2e", logging.WithWriter(io.Discard))

	p := pipeline.New(cfg, pipeline.WithLogger(log))
	runUntil(t, p, func() bool { return len(coll.envelopes()) >= 1 }, "first upload")

	// The client keeps writing while uplog is down.
	f, err := os.OpenFile(cfg.LogFile, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.WriteString(`Draft.Notify {"pickedCardId": 2}` + "\n"); err != nil {
		t.Fatal(err)
	}
	f.Close()

	p2 := pipeline.New(cfg, pipeline.WithLogger(log))
	runUntil(t, p2, func() bool { return len(coll.envelopes()) >= 2 }, "second upload")

	got := coll.envelopes()
	if len(got) != 2 {
		t.Fatalf("Endpoint received %d envelopes, want exactly 2", len(got))
	}

	seen := make(map[string]bool)
	for _, env := range got {
		if seen[env.DedupeKey] {
			t.Errorf("Duplicate dedupe key uploaded: %s", env.DedupeKey)
		}
		seen[env.DedupeKey] = true
	}

	if got[0].Payload["pickedCardId"] != float64(1) || got[1].Payload["pickedCardId"] != float64(2) {
		t.Errorf("Uploads out of order or wrong: %v, %v", got[0].Payload, got[1].Payload)
	}
}

// TestE2E_OutageRetriedThenDelivered fails the first two upload attempts
// and verifies the event still arrives exactly once.
func TestE2E_OutageRetriedThenDelivered(t *testing.T) {
	dir := t.TempDir()

	var mu sync.Mutex
	var failures, deliveries int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		if failures < 2 {
			failures++
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		deliveries++
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	cfg := e2eConfig(t, dir, server.URL)

	logContent := `{"sessionId": "sess-1"}
Draft.Notify {"pickedCardId": 5}
`
	if err := os.WriteFile(cfg.LogFile, []byte(logContent), 0o644); err != nil {
		t.Fatal(err)
	}

	log := logging.New("e2e", logging.WithWriter(io.Discard))
	p := pipeline.New(cfg, pipeline.WithLogger(log))
	runUntil(t, p, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return deliveries == 1
	}, "delivery after outage")

	mu.Lock()
	defer mu.Unlock()
	if failures != 2 {
		t.Errorf("Failed attempts = %d, want 2", failures)
	}
	if deliveries != 1 {
		t.Errorf("Deliveries = %d, want exactly 1", deliveries)
	}
}
