package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/therealutkarshpriyadarshi/dvblogparser/internal/checkpoint"
	"github.com/therealutkarshpriyadarshi/dvblogparser/internal/compress"
	"github.com/therealutkarshpriyadarshi/dvblogparser/internal/config"
	"github.com/therealutkarshpriyadarshi/dvblogparser/internal/dedup"
	"github.com/therealutkarshpriyadarshi/dvblogparser/internal/logging"
	"github.com/therealutkarshpriyadarshi/dvblogparser/internal/metrics"
	"github.com/therealutkarshpriyadarshi/dvblogparser/internal/parser"
	"github.com/therealutkarshpriyadarshi/dvblogparser/internal/scanner"
	"github.com/therealutkarshpriyadarshi/dvblogparser/internal/state"
	"github.com/therealutkarshpriyadarshi/dvblogparser/internal/tracing"
	"github.com/therealutkarshpriyadarshi/dvblogparser/internal/worker"
	"github.com/therealutkarshpriyadarshi/dvblogparser/pkg/types"
)

// Pipeline runs one ingestion pass over the log directory
type Pipeline struct {
	cfg     *config.Config
	store   *state.Store
	parser  parser.Parser
	metrics *metrics.Collector
	tracer  trace.Tracer
	logger  *logging.Logger
	out     io.Writer
	now     func() time.Time
}

// Result summarizes a run
type Result struct {
	FilesScanned int
	FilesSkipped int
	Stats        types.RunStats
	LiveRecords  int
	Pruned       int
	NewRecords   int
	NewErrors    []*types.LogRecord
	Duration     time.Duration
}

// Option configures a Pipeline
type Option func(*Pipeline)

// WithOutput sets where new error records are written (default stdout)
func WithOutput(w io.Writer) Option {
	return func(p *Pipeline) { p.out = w }
}

// WithClock overrides the clock used for the retention threshold
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

// WithMetrics sets the metrics collector
func WithMetrics(c *metrics.Collector) Option {
	return func(p *Pipeline) { p.metrics = c }
}

// WithTracer sets the tracer used for run spans
func WithTracer(t trace.Tracer) Option {
	return func(p *Pipeline) { p.tracer = t }
}

// New creates a pipeline from a validated configuration
func New(cfg *config.Config, logger *logging.Logger, opts ...Option) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	mirrors := make([]compress.CompressionType, 0, len(cfg.State.Mirrors))
	for _, m := range cfg.State.Mirrors {
		mirrors = append(mirrors, compress.CompressionType(m))
	}

	store, err := state.NewStore(cfg.State.Path, mirrors, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create state store: %w", err)
	}

	p := &Pipeline{
		cfg:    cfg,
		store:  store,
		parser: parser.New(),
		tracer: noop.NewTracerProvider().Tracer("dvblogparser"),
		logger: logger.WithComponent("pipeline"),
		out:    os.Stdout,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.metrics == nil {
		p.metrics = metrics.NewCollector()
	}

	return p, nil
}

// Run loads the working set, scans every matching file, writes the new
// error records and persists the live set. Nothing is persisted unless
// every step before the persist succeeded.
func (p *Pipeline) Run(ctx context.Context) (*Result, error) {
	start := time.Now()
	res, err := p.run(ctx)

	if res == nil {
		res = &Result{}
	}
	res.Duration = time.Since(start)
	p.metrics.ObserveRun(res.Duration, err == nil)

	// metrics are written even for failed runs
	if werr := p.metrics.WriteTextfile(p.cfg.Metrics.Textfile); werr != nil {
		p.logger.Warn().Err(werr).Msg("Failed to write metrics textfile")
	}

	if err != nil {
		return nil, err
	}

	p.logger.Info().
		Int("files_scanned", res.FilesScanned).
		Int("files_skipped", res.FilesSkipped).
		Int64("lines", res.Stats.Lines).
		Int64("admitted", res.Stats.Admitted).
		Int64("duplicates", res.Stats.Duplicates).
		Int64("expired", res.Stats.Expired).
		Int64("malformed", res.Stats.Malformed).
		Int("live", res.LiveRecords).
		Int("pruned", res.Pruned).
		Int("new_errors", len(res.NewErrors)).
		Dur("duration", res.Duration).
		Msg("Run complete")

	return res, nil
}

func (p *Pipeline) run(ctx context.Context) (*Result, error) {
	ctx, span := tracing.TraceRun(ctx, p.tracer, p.cfg.LogDir)
	defer span.End()

	// Threshold is fixed once so every file sees the same cutoff
	threshold := p.now().Add(-p.cfg.Retention)

	loaded, err := p.load(ctx)
	if err != nil {
		tracing.RecordError(ctx, err)
		return nil, err
	}

	files, err := p.discover()
	if err != nil {
		tracing.RecordError(ctx, err)
		return nil, err
	}

	var ckpt *checkpoint.Manager
	if p.cfg.Scan.SkipUnchanged {
		ckpt = p.loadCheckpoints()
	}

	toScan, skipped, err := p.filterUnchanged(ckpt, files, loaded.Fresh)
	if err != nil {
		tracing.RecordError(ctx, err)
		return nil, err
	}

	engine := dedup.New(loaded.Set, threshold, p.parser, p.logger)
	sc := scanner.New(engine, scanner.NewLimiter(p.cfg.Scan.MaxLinesPerSecond), p.logger)

	results, pool, err := worker.Run(ctx, worker.PoolConfig{NumWorkers: p.cfg.Scan.MaxConcurrency},
		func(ctx context.Context, path string) (*scanner.Result, error) {
			return p.scanFile(ctx, sc, ckpt, path)
		}, toScan)
	p.metrics.ObservePool(pool.NumWorkers, pool.JobsProcessed, pool.JobsFailed, pool.JobsSkipped)
	p.logger.Debug().
		Int("workers", pool.NumWorkers).
		Uint64("jobs_processed", pool.JobsProcessed).
		Uint64("jobs_failed", pool.JobsFailed).
		Uint64("jobs_skipped", pool.JobsSkipped).
		Float64("success_rate", pool.SuccessRate()).
		Msg("Scan workers finished")
	if err != nil {
		tracing.RecordError(ctx, err)
		return nil, err
	}

	res := &Result{
		FilesScanned: len(toScan),
		FilesSkipped: len(skipped),
	}

	combined := make(types.WorkingSet)
	for _, r := range results {
		res.Stats.Add(r.Stats)
		for hash, rec := range r.New {
			combined[hash] = rec
		}
	}
	p.metrics.ObserveStats(res.Stats)
	p.metrics.FilesScanned.Add(float64(res.FilesScanned))
	p.metrics.FilesSkipped.Add(float64(res.FilesSkipped))

	live := engine.Live()
	res.LiveRecords = len(live)
	res.Pruned = engine.Len() - len(live)
	res.NewRecords = len(combined)
	p.metrics.RecordsPruned.Add(float64(res.Pruned))

	res.NewErrors = p.filterLevel(combined)
	if err := p.emit(res.NewErrors); err != nil {
		tracing.RecordError(ctx, err)
		return nil, err
	}
	p.metrics.NewErrors.Add(float64(len(res.NewErrors)))

	if err := p.persist(ctx, live); err != nil {
		tracing.RecordError(ctx, err)
		return nil, err
	}
	p.metrics.WorkingSetSize.Set(float64(len(live)))

	if ckpt != nil {
		if err := ckpt.Save(); err != nil {
			// the snapshot is already authoritative; the next run rescans
			p.logger.Warn().Err(err).Msg("Failed to save file checkpoints")
		}
	}

	span.SetAttributes(
		attribute.Int("files.scanned", res.FilesScanned),
		attribute.Int("records.live", res.LiveRecords),
		attribute.Int("records.new_errors", len(res.NewErrors)),
	)
	return res, nil
}

func (p *Pipeline) load(ctx context.Context) (*state.LoadResult, error) {
	_, span := tracing.TraceLoad(ctx, p.tracer, p.store.Path())
	defer span.End()

	loaded, err := p.store.Load()
	if err != nil {
		return nil, err
	}
	span.SetAttributes(
		attribute.Int("state.records", len(loaded.Set)),
		attribute.Bool("state.fresh", loaded.Fresh),
	)
	return loaded, nil
}

// discover lists regular entries of the log directory whose name starts
// with the configured prefix, in name order
func (p *Pipeline) discover() ([]string, error) {
	entries, err := os.ReadDir(p.cfg.LogDir)
	if err != nil {
		return nil, fmt.Errorf("failed to list log directory: %w", err)
	}

	var files []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if !strings.HasPrefix(entry.Name(), p.cfg.FilePrefix) {
			continue
		}
		files = append(files, filepath.Join(p.cfg.LogDir, entry.Name()))
	}
	sort.Strings(files)

	p.logger.Debug().Str("dir", p.cfg.LogDir).Int("files", len(files)).Msg("Discovered log files")
	return files, nil
}

func (p *Pipeline) loadCheckpoints() *checkpoint.Manager {
	ckpt := checkpoint.NewManager(p.cfg.Scan.CheckpointPath)
	if err := ckpt.Load(); err != nil {
		p.logger.Warn().Err(err).Msg("Ignoring unreadable file checkpoints")
		return checkpoint.NewManager(p.cfg.Scan.CheckpointPath)
	}
	return ckpt
}

// filterUnchanged splits files into those to scan and those whose
// fingerprint matches the last successful run. Skipped files keep their
// fingerprint for the next run.
func (p *Pipeline) filterUnchanged(ckpt *checkpoint.Manager, files []string, fresh bool) ([]string, []string, error) {
	if ckpt == nil {
		return files, nil, nil
	}
	if fresh {
		// without a snapshot the skipped files' records would be lost
		return files, nil, nil
	}

	var toScan, skipped []string
	for _, path := range files {
		fp, err := checkpoint.Fingerprint(path)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to stat %s: %w", path, err)
		}
		if ckpt.Unchanged(fp) {
			ckpt.Record(fp)
			skipped = append(skipped, path)
			continue
		}
		toScan = append(toScan, path)
	}
	return toScan, skipped, nil
}

func (p *Pipeline) scanFile(ctx context.Context, sc *scanner.Scanner, ckpt *checkpoint.Manager, path string) (*scanner.Result, error) {
	ct := compress.FromPath(path)
	ctx, span := tracing.TraceScan(ctx, p.tracer, path, string(ct))
	defer span.End()

	// fingerprint before reading so growth during the scan forces a rescan
	var fp *types.FileFingerprint
	if ckpt != nil {
		var err error
		if fp, err = checkpoint.Fingerprint(path); err != nil {
			return nil, fmt.Errorf("failed to stat %s: %w", path, err)
		}
	}

	start := time.Now()
	res, err := sc.ScanFile(ctx, path)
	p.metrics.ScanDuration.WithLabelValues(string(ct)).Observe(time.Since(start).Seconds())
	if err != nil {
		tracing.RecordError(ctx, err)
		return nil, err
	}

	if fp != nil {
		ckpt.Record(fp)
	}
	span.SetAttributes(
		attribute.Int64("lines", res.Stats.Lines),
		attribute.Int64("admitted", res.Stats.Admitted),
	)
	return res, nil
}

// filterLevel keeps the records whose payload level equals the output
// level, ordered by time then hash
func (p *Pipeline) filterLevel(set types.WorkingSet) []*types.LogRecord {
	matched := make(types.WorkingSet)
	for hash, rec := range set {
		if rec.Level() == p.cfg.Output.Level {
			matched[hash] = rec
		}
	}
	return matched.Sorted()
}

// emit writes records as an indented JSON array; nothing is written when
// there are none
func (p *Pipeline) emit(records []*types.LogRecord) error {
	if len(records) == 0 {
		return nil
	}

	data, err := json.MarshalIndent(records, "", "    ")
	if err != nil {
		return fmt.Errorf("failed to marshal new errors: %w", err)
	}
	data = append(data, '\n')

	if _, err := p.out.Write(data); err != nil {
		return fmt.Errorf("failed to write new errors: %w", err)
	}
	return nil
}

func (p *Pipeline) persist(ctx context.Context, live types.WorkingSet) error {
	_, span := tracing.TracePersist(ctx, p.tracer, len(live))
	defer span.End()

	start := time.Now()
	defer func() {
		p.metrics.PersistDuration.Observe(time.Since(start).Seconds())
	}()

	if err := p.store.Save(live); err != nil {
		return err
	}
	return nil
}
