package catalog

import (
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/open-politics/globe/cluster"
)

func buildIndex(n int, category string, seed int64) *cluster.Supercluster {
	sc := cluster.NewSupercluster(cluster.SuperclusterOptions{})
	sc.Load(cluster.GenerateTestPoints(n, category, cluster.WorldBounds(), seed))
	return sc
}

func TestPutAndGet(t *testing.T) {
	m := NewManager(t.TempDir(), 4, zerolog.Nop())

	m.Put("Protests", buildIndex(10, "Protests", 1))

	sc, err := m.Get("Protests")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if len(sc.Points) != 10 {
		t.Errorf("Expected 10 points, got %d", len(sc.Points))
	}

	if _, err := m.Get("Unknown"); err == nil {
		t.Error("Expected an error for a category with no index or snapshot")
	}
}

func TestEvictionDropsLeastRecentlyUsed(t *testing.T) {
	m := NewManager(t.TempDir(), 2, zerolog.Nop())

	m.Put("A", buildIndex(5, "A", 1))
	m.Put("B", buildIndex(5, "B", 2))

	// Touch A so B becomes the eviction candidate.
	if _, err := m.Get("A"); err != nil {
		t.Fatal(err)
	}
	m.Put("C", buildIndex(5, "C", 3))

	cats := m.Categories()
	if len(cats) != 2 {
		t.Fatalf("Expected 2 resident indexes, got %d", len(cats))
	}
	for _, name := range cats {
		if name == "B" {
			t.Error("Expected B to be evicted as least recently used")
		}
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	dir := t.TempDir()
	m := NewManager(dir, 4, zerolog.Nop())

	m.Put("Protests", buildIndex(20, "Protests", 7))
	info, err := m.SaveSnapshot("Protests")
	if err != nil {
		t.Fatalf("SaveSnapshot failed: %v", err)
	}
	if info.Category != "Protests" || info.FileSize == 0 {
		t.Errorf("Unexpected snapshot info: %+v", info)
	}

	snaps, err := m.ListSnapshots()
	if err != nil {
		t.Fatalf("ListSnapshots failed: %v", err)
	}
	if len(snaps) != 1 || snaps[0].ID != info.ID {
		t.Fatalf("Expected the saved snapshot listed, got %+v", snaps)
	}

	// A fresh manager must reload the category from disk.
	m2 := NewManager(dir, 4, zerolog.Nop())
	sc, err := m2.Get("Protests")
	if err != nil {
		t.Fatalf("Get from snapshot failed: %v", err)
	}
	if len(sc.Points) != 20 {
		t.Errorf("Expected 20 points after reload, got %d", len(sc.Points))
	}
}

func TestSaveSnapshotUnknownCategory(t *testing.T) {
	m := NewManager(t.TempDir(), 4, zerolog.Nop())
	if _, err := m.SaveSnapshot("Nope"); err == nil {
		t.Error("Expected an error for a category with no resident index")
	}
}

func TestSnapshotFilenameRoundTrip(t *testing.T) {
	ts := time.Date(2026, 8, 30, 15, 45, 0, 0, time.Local)

	name := snapshotFilename("Foreign Affairs", ts, "1a2b3c4d")
	info, ok := parseSnapshotFilename(name)
	if !ok {
		t.Fatalf("Expected %q to parse", name)
	}
	if info.Category != "foreign-affairs" {
		t.Errorf("Expected category slug foreign-affairs, got %q", info.Category)
	}
	if info.ID != "1a2b3c4d" {
		t.Errorf("Expected id 1a2b3c4d, got %q", info.ID)
	}
	if !info.Timestamp.Equal(ts) {
		t.Errorf("Expected timestamp %v, got %v", ts, info.Timestamp)
	}

	for _, bad := range []string{"other.zst", "catalog-x.zst", "notes.txt"} {
		if _, ok := parseSnapshotFilename(bad); ok {
			t.Errorf("Expected %q to be rejected", bad)
		}
	}
}
