package tailer

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/zeebo/blake3"
)

// fingerprintHead is how many leading bytes of the log participate in the
// identity fingerprint.
const fingerprintHead = 4096

// Store persists checkpoints to a single JSON file.
// It has exactly one writer at a time: the Tailer that owns it.
type Store struct {
	path string
}

// NewStore creates a checkpoint store at the given path.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Load reads the persisted checkpoint.
// A missing file is not an error: it returns (nil, nil) for a first run.
// A corrupt file is treated the same way, since the safe response to an
// unreadable checkpoint is a fresh start.
func (s *Store) Load() (*Checkpoint, error) {
	raw, err := os.ReadFile(s.path) // #nosec G304 -- path comes from validated config
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading checkpoint: %w", err)
	}

	var cp Checkpoint
	if err := json.Unmarshal(raw, &cp); err != nil {
		return nil, nil
	}

	return &cp, nil
}

// Save writes the checkpoint atomically (temp file, then rename).
func (s *Store) Save(cp Checkpoint) error {
	raw, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding checkpoint: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("creating checkpoint dir: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return fmt.Errorf("writing checkpoint: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replacing checkpoint: %w", err)
	}

	return nil
}

// fingerprint hashes up to fingerprintHead leading bytes of the open file.
// headBytes limits the hashed prefix so a stored fingerprint can be
// re-verified after the file has grown; pass 0 to cover min(size, head).
func fingerprint(f *os.File, size, headBytes int64) (FileIdentity, error) {
	n := size
	if n > fingerprintHead {
		n = fingerprintHead
	}
	if headBytes > 0 && headBytes < n {
		n = headBytes
	}

	buf := make([]byte, n)
	if n > 0 {
		if _, err := f.ReadAt(buf, 0); err != nil && err != io.EOF {
			return FileIdentity{}, fmt.Errorf("reading file head: %w", err)
		}
	}

	sum := blake3.Sum256(buf)
	return FileIdentity{
		Path:        f.Name(),
		Fingerprint: hex.EncodeToString(sum[:]),
		HeadBytes:   n,
	}, nil
}
