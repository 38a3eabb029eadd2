package checkpoint

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"syscall"

	"github.com/therealutkarshpriyadarshi/dvblogparser/pkg/types"
)

// Manager remembers which log files were fully scanned, so an unchanged
// rotated file can be skipped on the next run.
type Manager struct {
	mu       sync.RWMutex
	path     string
	previous map[string]*types.FileFingerprint
	current  map[string]*types.FileFingerprint
}

// NewManager creates a new checkpoint manager backed by path
func NewManager(path string) *Manager {
	return &Manager{
		path:     path,
		previous: make(map[string]*types.FileFingerprint),
		current:  make(map[string]*types.FileFingerprint),
	}
}

// Load loads fingerprints from disk. A missing file is not an error.
func (m *Manager) Load() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	data, err := os.ReadFile(m.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil // No checkpoint file yet
		}
		return fmt.Errorf("failed to read checkpoint file: %w", err)
	}

	var fingerprints map[string]*types.FileFingerprint
	if err := json.Unmarshal(data, &fingerprints); err != nil {
		return fmt.Errorf("failed to unmarshal checkpoint data: %w", err)
	}
	if fingerprints == nil {
		fingerprints = make(map[string]*types.FileFingerprint)
	}

	m.previous = fingerprints
	return nil
}

// Unchanged reports whether fp matches the fingerprint recorded last run
func (m *Manager) Unchanged(fp *types.FileFingerprint) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	prev, ok := m.previous[fp.Path]
	if !ok || prev == nil {
		return false
	}
	return prev.Size == fp.Size && prev.Inode == fp.Inode && prev.ModTime.Equal(fp.ModTime)
}

// Record marks fp as scanned in this run
func (m *Manager) Record(fp *types.FileFingerprint) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.current[fp.Path] = fp
}

// Save replaces the checkpoint file with the fingerprints recorded this run.
// Files that disappeared from the directory are forgotten.
func (m *Manager) Save() error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	data, err := json.MarshalIndent(m.current, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal checkpoint data: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(m.path), 0755); err != nil {
		return fmt.Errorf("failed to create checkpoint directory: %w", err)
	}

	// Write to temporary file first, then rename for atomicity
	tmpFile := m.path + ".tmp"
	if err := os.WriteFile(tmpFile, data, 0644); err != nil {
		return fmt.Errorf("failed to write checkpoint file: %w", err)
	}

	if err := os.Rename(tmpFile, m.path); err != nil {
		return fmt.Errorf("failed to rename checkpoint file: %w", err)
	}

	return nil
}

// Fingerprint stats path
func Fingerprint(path string) (*types.FileFingerprint, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	return FromFileInfo(path, info), nil
}

// FromFileInfo builds a fingerprint from an existing stat result
func FromFileInfo(path string, info os.FileInfo) *types.FileFingerprint {
	return &types.FileFingerprint{
		Path:    path,
		Size:    info.Size(),
		ModTime: info.ModTime().UTC(),
		Inode:   getInode(info),
	}
}

// getInode extracts inode from FileInfo
func getInode(fi os.FileInfo) uint64 {
	if stat, ok := fi.Sys().(*syscall.Stat_t); ok {
		return stat.Ino
	}
	return 0
}
