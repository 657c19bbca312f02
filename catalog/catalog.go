// Package catalog manages the per-category cluster indexes the feature
// server answers from. Indexes are built from point catalogs, snapshotted
// to compressed files, and reloaded lazily with least-recently-used
// eviction when too many categories are resident at once.
package catalog

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/open-politics/globe/cluster"
)

// Manager holds the loaded indexes. Safe for concurrent use.
type Manager struct {
	dataDir     string
	maxResident int
	log         zerolog.Logger

	mu           sync.RWMutex
	indexes      map[string]*cluster.Supercluster
	lastAccessed map[string]time.Time
}

// SnapshotInfo describes one saved snapshot file.
type SnapshotInfo struct {
	Category  string    `json:"category"`
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	FileSize  int64     `json:"fileSize"`
	Path      string    `json:"-"`
}

func NewManager(dataDir string, maxResident int, logger zerolog.Logger) *Manager {
	if maxResident <= 0 {
		maxResident = 8
	}
	return &Manager{
		dataDir:      dataDir,
		maxResident:  maxResident,
		log:          logger.With().Str("component", "catalog").Logger(),
		indexes:      make(map[string]*cluster.Supercluster),
		lastAccessed: make(map[string]time.Time),
	}
}

// Put registers a freshly built index under a category, evicting the least
// recently used one if the residency cap is hit.
func (m *Manager) Put(category string, sc *cluster.Supercluster) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.indexes[category]; !exists {
		m.evictLocked()
	}
	m.indexes[category] = sc
	m.lastAccessed[category] = time.Now()
}

// Get returns the resident index for a category, loading the newest
// snapshot from disk when it is not in memory.
func (m *Manager) Get(category string) (*cluster.Supercluster, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if sc, ok := m.indexes[category]; ok {
		m.lastAccessed[category] = time.Now()
		return sc, nil
	}

	snap, err := m.newestSnapshotLocked(category)
	if err != nil {
		return nil, err
	}
	sc, err := cluster.LoadCompressedSupercluster(snap.Path)
	if err != nil {
		return nil, fmt.Errorf("load snapshot %s: %w", snap.Path, err)
	}

	m.evictLocked()
	m.indexes[category] = sc
	m.lastAccessed[category] = time.Now()
	m.log.Info().Str("category", category).Str("snapshot", snap.ID).Msg("index loaded from snapshot")
	return sc, nil
}

// Categories lists the resident category names.
func (m *Manager) Categories() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.indexes))
	for name := range m.indexes {
		out = append(out, name)
	}
	return out
}

// evictLocked drops the least recently used index when the cap is reached.
func (m *Manager) evictLocked() {
	if len(m.indexes) < m.maxResident {
		return
	}
	var oldest string
	var oldestAt time.Time
	first := true
	for name, at := range m.lastAccessed {
		if first || at.Before(oldestAt) {
			oldest = name
			oldestAt = at
			first = false
		}
	}
	if oldest != "" {
		delete(m.indexes, oldest)
		delete(m.lastAccessed, oldest)
		m.log.Debug().Str("category", oldest).Msg("evicted least recently used index")
	}
}

// SaveSnapshot writes the category's index to a new compressed snapshot
// file and returns its info.
func (m *Manager) SaveSnapshot(category string) (SnapshotInfo, error) {
	m.mu.RLock()
	sc, ok := m.indexes[category]
	m.mu.RUnlock()
	if !ok {
		return SnapshotInfo{}, fmt.Errorf("no resident index for category %q", category)
	}

	if err := os.MkdirAll(m.dataDir, 0o755); err != nil {
		return SnapshotInfo{}, fmt.Errorf("create data dir: %w", err)
	}

	id := uuid.New().String()[:8]
	ts := time.Now()
	path := filepath.Join(m.dataDir, snapshotFilename(category, ts, id))
	if err := sc.SaveCompressed(path); err != nil {
		return SnapshotInfo{}, fmt.Errorf("save snapshot: %w", err)
	}

	fi, err := os.Stat(path)
	if err != nil {
		return SnapshotInfo{}, fmt.Errorf("stat snapshot: %w", err)
	}
	m.log.Info().Str("category", category).Str("snapshot", id).Int64("bytes", fi.Size()).Msg("snapshot saved")
	return SnapshotInfo{Category: category, ID: id, Timestamp: ts, FileSize: fi.Size(), Path: path}, nil
}

// ListSnapshots enumerates snapshot files on disk, newest first per
// category order on disk.
func (m *Manager) ListSnapshots() ([]SnapshotInfo, error) {
	entries, err := os.ReadDir(m.dataDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read data dir: %w", err)
	}

	var out []SnapshotInfo
	for _, e := range entries {
		info, ok := parseSnapshotFilename(e.Name())
		if !ok {
			continue
		}
		fi, err := e.Info()
		if err != nil {
			continue
		}
		info.FileSize = fi.Size()
		info.Path = filepath.Join(m.dataDir, e.Name())
		out = append(out, info)
	}
	return out, nil
}

func (m *Manager) newestSnapshotLocked(category string) (SnapshotInfo, error) {
	snaps, err := m.ListSnapshots()
	if err != nil {
		return SnapshotInfo{}, err
	}
	var best SnapshotInfo
	found := false
	want := categorySlug(category)
	for _, s := range snaps {
		if s.Category != want {
			continue
		}
		if !found || s.Timestamp.After(best.Timestamp) {
			best = s
			found = true
		}
	}
	if !found {
		return SnapshotInfo{}, fmt.Errorf("no snapshot for category %q", category)
	}
	return best, nil
}

func categorySlug(category string) string {
	return strings.ToLower(strings.ReplaceAll(category, " ", "-"))
}

// Filenames look like catalog-protests-20260830-154500-1a2b3c4d.zst. Parsed
// infos carry the slugged category, not the display name.
func snapshotFilename(category string, ts time.Time, id string) string {
	return fmt.Sprintf("catalog-%s-%s-%s.zst", categorySlug(category), ts.Format("20060102-150405"), id)
}

func parseSnapshotFilename(name string) (SnapshotInfo, bool) {
	if !strings.HasPrefix(name, "catalog-") || !strings.HasSuffix(name, ".zst") {
		return SnapshotInfo{}, false
	}
	trimmed := strings.TrimSuffix(strings.TrimPrefix(name, "catalog-"), ".zst")
	parts := strings.Split(trimmed, "-")
	if len(parts) < 4 {
		return SnapshotInfo{}, false
	}
	id := parts[len(parts)-1]
	ts, err := time.ParseInLocation("20060102-150405", parts[len(parts)-3]+"-"+parts[len(parts)-2], time.Local)
	if err != nil {
		return SnapshotInfo{}, false
	}
	category := strings.Join(parts[:len(parts)-3], "-")
	return SnapshotInfo{Category: category, ID: id, Timestamp: ts}, true
}
