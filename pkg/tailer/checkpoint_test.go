package tailer

import (
	"os"
	"path/filepath"
	"testing"
)

func TestStore_LoadMissing(t *testing.T) {
	store := NewStore(filepath.Join(t.TempDir(), "checkpoint.json"))

	cp, err := store.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cp != nil {
		t.Errorf("Load() = %+v, want nil for missing file", cp)
	}
}

func TestStore_SaveAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "checkpoint.json")
	store := NewStore(path)

	want := Checkpoint{
		Identity: FileIdentity{Path: "/var/log/game/Player.log", Fingerprint: "abc123", HeadBytes: 64},
		Offset:   1024,
		LastSeq:  17,
	}
	if err := store.Save(want); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	got, err := store.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got == nil {
		t.Fatal("Load() = nil, want checkpoint")
	}
	if *got != want {
		t.Errorf("Load() = %+v, want %+v", *got, want)
	}

	// No temp file left behind.
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Error("temp file left behind after Save()")
	}
}

func TestStore_LoadCorrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "checkpoint.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}

	store := NewStore(path)
	cp, err := store.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cp != nil {
		t.Errorf("Load() = %+v, want nil for corrupt checkpoint", cp)
	}
}

func TestFingerprint_DetectsDifferentContent(t *testing.T) {
	dir := t.TempDir()

	p1 := filepath.Join(dir, "a.log")
	p2 := filepath.Join(dir, "b.log")
	if err := os.WriteFile(p1, []byte("first file contents"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(p2, []byte("other file contents"), 0o644); err != nil {
		t.Fatal(err)
	}

	f1, err := os.Open(p1)
	if err != nil {
		t.Fatal(err)
	}
	defer f1.Close()
	f2, err := os.Open(p2)
	if err != nil {
		t.Fatal(err)
	}
	defer f2.Close()

	id1, err := fingerprint(f1, 19, 0)
	if err != nil {
		t.Fatal(err)
	}
	id2, err := fingerprint(f2, 19, 0)
	if err != nil {
		t.Fatal(err)
	}

	if id1.Fingerprint == id2.Fingerprint {
		t.Error("fingerprints match for different content")
	}
}

func TestFingerprint_StableAfterGrowth(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "a.log")
	if err := os.WriteFile(p, []byte("stable prefix"), 0o644); err != nil {
		t.Fatal(err)
	}

	f, err := os.Open(p)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	before, err := fingerprint(f, 13, 0)
	if err != nil {
		t.Fatal(err)
	}

	// Append and re-fingerprint over the stored head width.
	if err := os.WriteFile(p, []byte("stable prefix plus more"), 0o644); err != nil {
		t.Fatal(err)
	}

	after, err := fingerprint(f, 23, before.HeadBytes)
	if err != nil {
		t.Fatal(err)
	}

	if before.Fingerprint != after.Fingerprint {
		t.Error("fingerprint changed after append despite fixed head width")
	}
}
