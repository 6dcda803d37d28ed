// Package tailer follows a single append-only log file, detecting growth,
// truncation, and rotation, and persists resume checkpoints.
package tailer

// FileIdentity identifies the concrete file behind a path across restarts.
// The fingerprint hashes the file's leading bytes, so a rotated file at the
// same path is recognized as a different file even at an equal size.
type FileIdentity struct {
	Path        string `json:"path"`
	Fingerprint string `json:"fingerprint"`
	HeadBytes   int64  `json:"head_bytes"`
}

// Checkpoint is the minimal persisted state needed to resume tailing
// without loss or duplication.
type Checkpoint struct {
	Identity FileIdentity `json:"identity"`
	Offset   int64        `json:"offset"`
	LastSeq  uint64       `json:"last_seq"`
}

// Chunk is one poll's worth of newly appended log bytes.
type Chunk struct {
	// Data holds the raw bytes read.
	Data []byte

	// Offset is the byte offset of Data[0] in the file.
	Offset int64

	// Reset is true when the file's identity changed or it shrank since
	// the last poll; any carried parse buffer and session context must
	// be discarded before Data is processed.
	Reset bool
}
