package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/therealutkarshpriyadarshi/dvblogparser/internal/compress"
	"github.com/therealutkarshpriyadarshi/dvblogparser/internal/logging"
	"github.com/therealutkarshpriyadarshi/dvblogparser/pkg/types"
)

// Store persists the working set as a JSON snapshot plus derived
// compressed mirrors at sibling paths.
type Store struct {
	path    string
	mirrors []compress.Compressor
	logger  *logging.Logger
}

// LoadResult carries the loaded working set and whether it came from disk
type LoadResult struct {
	Set types.WorkingSet
	// Fresh is true when no usable snapshot existed
	Fresh bool
}

// NewStore creates a store writing to path with one mirror per codec
func NewStore(path string, mirrors []compress.CompressionType, logger *logging.Logger) (*Store, error) {
	s := &Store{
		path:   path,
		logger: logger.WithComponent("state"),
	}

	for _, ct := range mirrors {
		c, err := compress.GetCompressor(ct)
		if err != nil {
			return nil, fmt.Errorf("failed to create mirror compressor: %w", err)
		}
		if ct == compress.CompressionNone {
			continue
		}
		s.mirrors = append(s.mirrors, c)
	}

	return s, nil
}

// Path returns the snapshot path
func (s *Store) Path() string {
	return s.path
}

// MirrorPaths returns the mirror file paths in write order
func (s *Store) MirrorPaths() []string {
	paths := make([]string, 0, len(s.mirrors))
	for _, m := range s.mirrors {
		paths = append(paths, s.path+m.Type().Extension())
	}
	return paths
}

// Load reads the previous snapshot. A missing, empty or unparsable snapshot
// yields an empty working set; only read failures are returned as errors.
func (s *Store) Load() (*LoadResult, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			s.logger.Info().Str("path", s.path).Msg("No snapshot yet, starting fresh")
			return &LoadResult{Set: make(types.WorkingSet), Fresh: true}, nil
		}
		return nil, fmt.Errorf("failed to read snapshot: %w", err)
	}

	var set types.WorkingSet
	if err := json.Unmarshal(data, &set); err != nil {
		s.logger.Warn().Err(err).Str("path", s.path).Msg("Snapshot is corrupt, starting fresh")
		return &LoadResult{Set: make(types.WorkingSet), Fresh: true}, nil
	}
	if set == nil {
		// a literal null
		return &LoadResult{Set: make(types.WorkingSet), Fresh: true}, nil
	}

	// Entries are re-keyed by their own hash; nil entries are dropped
	for key, rec := range set {
		if rec == nil {
			delete(set, key)
			continue
		}
		if rec.Hash == "" {
			rec.Hash = key
		}
		if rec.Hash != key {
			delete(set, key)
			set[rec.Hash] = rec
		}
	}

	s.logger.Debug().Str("path", s.path).Int("records", len(set)).Msg("Loaded snapshot")
	return &LoadResult{Set: set}, nil
}

// Save writes set as the new snapshot and then refreshes every mirror.
// The snapshot is replaced atomically; mirrors are derived from the same bytes.
func (s *Store) Save(set types.WorkingSet) error {
	if set == nil {
		set = make(types.WorkingSet)
	}

	data, err := json.Marshal(set)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	if err := writeFileAtomic(s.path, data); err != nil {
		return fmt.Errorf("failed to write snapshot: %w", err)
	}

	for _, m := range s.mirrors {
		mirrorPath := s.path + m.Type().Extension()

		compressed, err := m.Compress(data)
		if err != nil {
			return fmt.Errorf("failed to compress %s mirror: %w", m.Type(), err)
		}
		if err := writeFileAtomic(mirrorPath, compressed); err != nil {
			return fmt.Errorf("failed to write %s mirror: %w", m.Type(), err)
		}
	}

	s.logger.Debug().
		Str("path", s.path).
		Int("records", len(set)).
		Int("bytes", len(data)).
		Msg("Saved snapshot")

	return nil
}

// writeFileAtomic writes to a temporary file first, then renames it into place
func writeFileAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	tmpFile := path + ".tmp"
	if err := os.WriteFile(tmpFile, data, 0644); err != nil {
		return err
	}

	if err := os.Rename(tmpFile, path); err != nil {
		_ = os.Remove(tmpFile)
		return err
	}

	return nil
}
