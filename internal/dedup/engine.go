// Package dedup holds the shared working set and decides which log lines are new.
package dedup

import (
	"errors"
	"sync"
	"time"

	"github.com/therealutkarshpriyadarshi/dvblogparser/internal/logging"
	"github.com/therealutkarshpriyadarshi/dvblogparser/internal/parser"
	"github.com/therealutkarshpriyadarshi/dvblogparser/pkg/types"
)

// Outcome describes what Admit did with a line
type Outcome int

const (
	// Admitted means the line was new and is now in the working set
	Admitted Outcome = iota
	// Duplicate means a record with the same hash already exists
	Duplicate
	// Expired means the record is older than the retention threshold
	Expired
	// Malformed means the line could not be parsed
	Malformed
)

// String returns the outcome name used in logs and metric labels
func (o Outcome) String() string {
	switch o {
	case Admitted:
		return "admitted"
	case Duplicate:
		return "duplicate"
	case Expired:
		return "expired"
	case Malformed:
		return "malformed"
	default:
		return "unknown"
	}
}

// Engine guards the working set. Admit is safe for concurrent use and
// linearizable: a hash is admitted at most once per engine.
type Engine struct {
	mu        sync.RWMutex
	set       types.WorkingSet
	threshold time.Time
	parser    parser.Parser
	logger    *logging.Logger
}

// New creates an engine over set. Records with TimeParsed not after
// threshold are never admitted.
func New(set types.WorkingSet, threshold time.Time, p parser.Parser, logger *logging.Logger) *Engine {
	if set == nil {
		set = make(types.WorkingSet)
	}
	return &Engine{
		set:       set,
		threshold: threshold,
		parser:    p,
		logger:    logger.WithComponent("dedup"),
	}
}

// Admit checks line against the working set and inserts it when it is new
// and within retention. The record is only returned for Admitted.
func (e *Engine) Admit(line string) (*types.LogRecord, Outcome) {
	hash := parser.HashLine(line)

	// Known lines skip the parse entirely
	e.mu.RLock()
	_, seen := e.set[hash]
	e.mu.RUnlock()
	if seen {
		return nil, Duplicate
	}

	rec, err := e.parser.Parse(line)
	if err != nil {
		if !errors.Is(err, parser.ErrNoMatch) {
			e.logger.Debug().Err(err).Str("hash", hash).Msg("Dropping line with undecodable payload")
		}
		return nil, Malformed
	}

	if !rec.TimeParsed.After(e.threshold) {
		return nil, Expired
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.set[rec.Hash]; ok {
		return nil, Duplicate
	}
	e.set[rec.Hash] = rec

	return rec, Admitted
}

// Contains reports whether hash is in the working set
func (e *Engine) Contains(hash string) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()

	_, ok := e.set[hash]
	return ok
}

// Len returns the working set size
func (e *Engine) Len() int {
	e.mu.RLock()
	defer e.mu.RUnlock()

	return len(e.set)
}

// Live returns a copy of the members still inside the retention window.
// Aged-out members are dropped here, not when they expire.
func (e *Engine) Live() types.WorkingSet {
	e.mu.RLock()
	defer e.mu.RUnlock()

	return e.set.Live(e.threshold)
}
