package tailer

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/gametrace/uplog/internal/logging"
)

// Tailer owns the open log file and the checkpoint that tracks it.
// It is not safe for concurrent use; the polling loop is its sole caller.
type Tailer struct {
	path      string
	store     *Store
	log       *logging.Logger
	maxChunk  int64
	fromStart bool

	file *os.File
	cp   Checkpoint
	wake chan struct{}
}

// Option configures a Tailer.
type Option func(*Tailer)

// WithLogger sets the diagnostic logger.
func WithLogger(l *logging.Logger) Option {
	return func(t *Tailer) {
		t.log = l
	}
}

// WithMaxChunk bounds the bytes read in a single poll.
func WithMaxChunk(n int64) Option {
	return func(t *Tailer) {
		if n > 0 {
			t.maxChunk = n
		}
	}
}

// WithFromStart reads from offset 0 on a first run instead of seeking to
// the end of the file.
func WithFromStart(v bool) Option {
	return func(t *Tailer) {
		t.fromStart = v
	}
}

// New creates a Tailer for the given log path and checkpoint store.
func New(path string, store *Store, opts ...Option) *Tailer {
	t := &Tailer{
		path:     path,
		store:    store,
		log:      logging.New("tailer"),
		maxChunk: 4 << 20,
		wake:     make(chan struct{}, 1),
	}

	for _, opt := range opts {
		opt(t)
	}

	return t
}

// Open opens the log file and decides the resume position.
// If the persisted checkpoint matches the file's identity and the file is
// at least as large as the checkpointed offset, tailing resumes there.
// Otherwise the offset resets to 0 (rotation/truncation) or, on a true
// first run, to the end of the file.
// An unreadable log file here is fatal by contract.
func (t *Tailer) Open() (resumed bool, err error) {
	f, err := os.Open(t.path) // #nosec G304 -- path comes from validated config
	if err != nil {
		return false, fmt.Errorf("opening log file %s: %w", t.path, err)
	}

	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return false, fmt.Errorf("stat log file %s: %w", t.path, err)
	}
	size := fi.Size()

	saved, err := t.store.Load()
	if err != nil {
		f.Close()
		return false, err
	}

	t.file = f

	if saved != nil && saved.Identity.Path == t.path && size >= saved.Offset {
		id, err := fingerprint(f, size, saved.Identity.HeadBytes)
		if err == nil && id.Fingerprint == saved.Identity.Fingerprint {
			t.cp = *saved
			if _, err := f.Seek(t.cp.Offset, 0); err != nil {
				return false, fmt.Errorf("seeking to checkpoint offset: %w", err)
			}
			t.log.Infof("resuming %s at offset %d", t.path, t.cp.Offset)
			return true, nil
		}
		t.log.Warnf("log file identity changed, restarting from offset 0")
	}

	start := int64(0)
	if saved == nil && !t.fromStart {
		// First run: only new events matter.
		start = size
	}

	id, err := fingerprint(f, size, 0)
	if err != nil {
		return false, err
	}

	t.cp = Checkpoint{Identity: id, Offset: start}
	if saved != nil {
		// Sequence numbers keep counting across rotations so dedupe
		// keys never repeat within a run of sessions.
		t.cp.LastSeq = saved.LastSeq
	}

	if _, err := f.Seek(start, 0); err != nil {
		return false, fmt.Errorf("seeking log file: %w", err)
	}

	// Unrecoverable local storage is the one other fatal condition.
	if err := t.store.Save(t.cp); err != nil {
		return false, err
	}

	t.log.Infof("following %s from offset %d", t.path, start)
	return false, nil
}

// Poll reads all bytes appended since the last committed offset, up to the
// chunk bound. It returns (nil, nil) when the file has not grown. A
// returned error means this cycle should be skipped, not that tailing has
// failed. Rotation and truncation produce a Chunk with Reset set, reading
// the new file from offset 0.
func (t *Tailer) Poll() (*Chunk, error) {
	fi, err := os.Stat(t.path)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", t.path, err)
	}

	ofi, err := t.file.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat open handle: %w", err)
	}

	reset := false
	switch {
	case !os.SameFile(fi, ofi):
		t.log.Warnf("log file rotated, resetting to offset 0")
		reset = true
	case fi.Size() < t.cp.Offset:
		t.log.Warnf("log file truncated (%d < %d), resetting to offset 0", fi.Size(), t.cp.Offset)
		reset = true
	}

	if reset {
		if err := t.reopen(); err != nil {
			return nil, err
		}
		if fi, err = t.file.Stat(); err != nil {
			return nil, fmt.Errorf("stat reopened file: %w", err)
		}
	}

	size := fi.Size()
	if size <= t.cp.Offset {
		if reset {
			// Nothing to read yet, but the reset itself must reach
			// the pipeline so stale context is cleared.
			return &Chunk{Offset: t.cp.Offset, Reset: true}, nil
		}
		return nil, nil
	}

	n := size - t.cp.Offset
	if n > t.maxChunk {
		n = t.maxChunk
	}

	buf := make([]byte, n)
	read, err := t.file.ReadAt(buf, t.cp.Offset)
	if err != nil && read == 0 {
		return nil, fmt.Errorf("reading %s: %w", t.path, err)
	}

	return &Chunk{Data: buf[:read], Offset: t.cp.Offset, Reset: reset}, nil
}

// Commit records that the chunk has been fully handed off downstream and
// persists the advanced checkpoint. Called strictly after hand-off, so a
// crash mid-chunk re-parses rather than losing data.
func (t *Tailer) Commit(chunk *Chunk, lastSeq uint64) error {
	newOffset := chunk.Offset + int64(len(chunk.Data))

	t.cp.Offset = newOffset
	t.cp.LastSeq = lastSeq

	// Widen the fingerprint while the file is still shorter than the
	// head window, so identity checks cover as much as possible.
	if t.cp.Identity.HeadBytes < fingerprintHead {
		if id, err := fingerprint(t.file, newOffset, 0); err == nil {
			t.cp.Identity = id
		}
	}

	return t.store.Save(t.cp)
}

// LastSeq returns the checkpointed last local sequence number.
func (t *Tailer) LastSeq() uint64 {
	return t.cp.LastSeq
}

// Offset returns the current committed offset.
func (t *Tailer) Offset() int64 {
	return t.cp.Offset
}

// Watch starts a best-effort filesystem watcher that wakes the poll loop
// early when the log's directory sees activity. Polling remains the source
// of truth; a failed watcher only costs latency.
func (t *Tailer) Watch(ctx context.Context) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		t.log.Debugf("fsnotify unavailable, relying on polling: %v", err)
		return
	}

	if err := w.Add(filepath.Dir(t.path)); err != nil {
		t.log.Debugf("cannot watch %s: %v", filepath.Dir(t.path), err)
		w.Close()
		return
	}

	go func() {
		defer w.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) == filepath.Clean(t.path) {
					select {
					case t.wake <- struct{}{}:
					default:
					}
				}
			case _, ok := <-w.Errors:
				if !ok {
					return
				}
			}
		}
	}()
}

// Wake returns the channel pulsed by the filesystem watcher.
func (t *Tailer) Wake() <-chan struct{} {
	return t.wake
}

// Close releases the open file handle.
func (t *Tailer) Close() error {
	if t.file != nil {
		err := t.file.Close()
		t.file = nil
		return err
	}
	return nil
}

func (t *Tailer) reopen() error {
	f, err := os.Open(t.path) // #nosec G304 -- path comes from validated config
	if err != nil {
		return fmt.Errorf("reopening %s: %w", t.path, err)
	}

	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return fmt.Errorf("stat reopened file: %w", err)
	}

	id, err := fingerprint(f, fi.Size(), 0)
	if err != nil {
		f.Close()
		return err
	}

	t.file.Close()
	t.file = f
	t.cp.Identity = id
	t.cp.Offset = 0

	return nil
}
