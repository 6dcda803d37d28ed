package dedupe

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func openTestCache(t *testing.T) *Cache {
	t.Helper()
	c, err := Open(filepath.Join(t.TempDir(), "delivered.db"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func TestCache_SeenAfterMark(t *testing.T) {
	c := openTestCache(t)
	ctx := context.Background()

	seen, err := c.Seen(ctx, "s1:42")
	if err != nil {
		t.Fatalf("Seen() error = %v", err)
	}
	if seen {
		t.Error("Seen() = true for unknown key")
	}

	if err := c.MarkDelivered(ctx, "s1:42", time.Now()); err != nil {
		t.Fatalf("MarkDelivered() error = %v", err)
	}

	seen, err = c.Seen(ctx, "s1:42")
	if err != nil {
		t.Fatalf("Seen() error = %v", err)
	}
	if !seen {
		t.Error("Seen() = false after MarkDelivered")
	}
}

func TestCache_MarkIsIdempotent(t *testing.T) {
	c := openTestCache(t)
	ctx := context.Background()

	if err := c.MarkDelivered(ctx, "s1:1", time.Now()); err != nil {
		t.Fatal(err)
	}
	if err := c.MarkDelivered(ctx, "s1:1", time.Now()); err != nil {
		t.Errorf("second MarkDelivered() error = %v", err)
	}
}

func TestCache_PruneRemovesOldKeys(t *testing.T) {
	c := openTestCache(t)
	ctx := context.Background()

	old := time.Now().Add(-48 * time.Hour)
	if err := c.MarkDelivered(ctx, "old:1", old); err != nil {
		t.Fatal(err)
	}
	if err := c.MarkDelivered(ctx, "new:1", time.Now()); err != nil {
		t.Fatal(err)
	}

	n, err := c.Prune(ctx, 24*time.Hour)
	if err != nil {
		t.Fatalf("Prune() error = %v", err)
	}
	if n != 1 {
		t.Errorf("Prune() = %d, want 1", n)
	}

	if seen, _ := c.Seen(ctx, "old:1"); seen {
		t.Error("pruned key still present")
	}
	if seen, _ := c.Seen(ctx, "new:1"); !seen {
		t.Error("recent key was pruned")
	}
}

func TestCache_SurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "delivered.db")
	ctx := context.Background()

	c, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := c.MarkDelivered(ctx, "s1:7", time.Now()); err != nil {
		t.Fatal(err)
	}
	c.Close()

	c2, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer c2.Close()

	seen, err := c2.Seen(ctx, "s1:7")
	if err != nil {
		t.Fatal(err)
	}
	if !seen {
		t.Error("delivered key lost across reopen")
	}
}
