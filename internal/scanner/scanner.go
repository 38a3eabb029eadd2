package scanner

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/time/rate"

	"github.com/therealutkarshpriyadarshi/dvblogparser/internal/compress"
	"github.com/therealutkarshpriyadarshi/dvblogparser/internal/dedup"
	"github.com/therealutkarshpriyadarshi/dvblogparser/internal/logging"
	"github.com/therealutkarshpriyadarshi/dvblogparser/pkg/types"
)

// Scanner streams log files line by line through the dedup engine
type Scanner struct {
	engine  *dedup.Engine
	limiter *rate.Limiter
	logger  *logging.Logger
}

// Result holds what one file contributed
type Result struct {
	Path  string
	New   types.WorkingSet
	Stats types.RunStats
}

// New creates a scanner. limiter may be nil for unthrottled reads; it is
// shared by every file scanned through this scanner.
func New(engine *dedup.Engine, limiter *rate.Limiter, logger *logging.Logger) *Scanner {
	return &Scanner{
		engine:  engine,
		limiter: limiter,
		logger:  logger.WithComponent("scanner"),
	}
}

// NewLimiter returns a line limiter for linesPerSecond, or nil when unlimited
func NewLimiter(linesPerSecond float64) *rate.Limiter {
	if linesPerSecond <= 0 {
		return nil
	}
	burst := int(linesPerSecond)
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(linesPerSecond), burst)
}

// ScanFile opens path, decompressing by suffix, and admits every line.
// Any open, decompression or read error aborts the scan.
func (s *Scanner) ScanFile(ctx context.Context, path string) (*Result, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	reader, err := compress.NewReader(file, compress.FromPath(path))
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer reader.Close()

	res, err := s.Scan(ctx, reader, path)
	if err != nil {
		return nil, fmt.Errorf("failed to scan %s: %w", path, err)
	}
	return res, nil
}

// Scan admits every line read from r. Only one line is held in memory at a time.
func (s *Scanner) Scan(ctx context.Context, r io.Reader, path string) (*Result, error) {
	res := &Result{
		Path: path,
		New:  make(types.WorkingSet),
	}
	logger := s.logger.WithFile(path)

	err := readLines(r, func(line string) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if s.limiter != nil {
			if err := s.limiter.Wait(ctx); err != nil {
				return err
			}
		}

		res.Stats.Lines++
		rec, outcome := s.engine.Admit(line)
		switch outcome {
		case dedup.Admitted:
			res.Stats.Admitted++
			res.New[rec.Hash] = rec
		case dedup.Duplicate:
			res.Stats.Duplicates++
		case dedup.Expired:
			res.Stats.Expired++
		case dedup.Malformed:
			res.Stats.Malformed++
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	logger.Debug().
		Int64("lines", res.Stats.Lines).
		Int64("admitted", res.Stats.Admitted).
		Int64("duplicates", res.Stats.Duplicates).
		Int64("expired", res.Stats.Expired).
		Int64("malformed", res.Stats.Malformed).
		Msg("Scanned file")

	return res, nil
}

// readLines calls fn for each line without its terminator. "\n", "\r\n"
// and a lone "\r" all end a line. A final line without a terminator is
// still delivered.
func readLines(r io.Reader, fn func(line string) error) error {
	reader := bufio.NewReaderSize(r, 64*1024)
	for {
		chunk, err := reader.ReadString('\n')
		if len(chunk) > 0 {
			chunk = strings.TrimSuffix(chunk, "\n")
			chunk = strings.TrimSuffix(chunk, "\r")
			for _, line := range strings.Split(chunk, "\r") {
				if ferr := fn(line); ferr != nil {
					return ferr
				}
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("read failed: %w", err)
		}
	}
}
