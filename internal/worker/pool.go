package worker

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/therealutkarshpriyadarshi/dvblogparser/internal/scanner"
)

var (
	ErrPoolClosed = errors.New("worker pool is closed")
	ErrNotStarted = errors.New("worker pool not started")
)

// JobFunc scans one file
type JobFunc func(ctx context.Context, path string) (*scanner.Result, error)

// PoolConfig holds configuration for the worker pool
type PoolConfig struct {
	NumWorkers int
	QueueSize  int
}

// WorkerPool scans files on a bounded number of goroutines. The first
// failing job cancels every job still queued or running.
type WorkerPool struct {
	config   PoolConfig
	jobFunc  JobFunc
	jobQueue chan string

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.RWMutex
	started bool
	closed  bool

	resMu    sync.Mutex
	firstErr error
	results  []*scanner.Result

	// Metrics
	jobsProcessed uint64
	jobsFailed    uint64
	jobsSkipped   uint64
}

// NewWorkerPool creates a new worker pool
func NewWorkerPool(config PoolConfig, jobFunc JobFunc) (*WorkerPool, error) {
	if jobFunc == nil {
		return nil, errors.New("job function is required")
	}
	if config.NumWorkers <= 0 {
		config.NumWorkers = 4 // Default
	}
	if config.QueueSize <= 0 {
		config.QueueSize = config.NumWorkers * 2
	}

	return &WorkerPool{
		config:   config,
		jobFunc:  jobFunc,
		jobQueue: make(chan string, config.QueueSize),
	}, nil
}

// Start starts all workers. Cancelling ctx cancels every job.
func (p *WorkerPool) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.started {
		return
	}
	p.started = true
	p.ctx, p.cancel = context.WithCancel(ctx)

	for i := 0; i < p.config.NumWorkers; i++ {
		p.wg.Add(1)
		go p.run()
	}
}

// Submit queues path for scanning, blocking while the queue is full
func (p *WorkerPool) Submit(path string) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if !p.started {
		return ErrNotStarted
	}
	if p.closed {
		return ErrPoolClosed
	}

	select {
	case <-p.ctx.Done():
		return ErrPoolClosed
	default:
	}

	select {
	case p.jobQueue <- path:
		return nil
	case <-p.ctx.Done():
		return ErrPoolClosed
	}
}

// Wait stops accepting jobs, waits for the workers to drain the queue and
// returns the results ordered by path. The error is the first job failure,
// or the context error if the pool was cancelled from outside.
func (p *WorkerPool) Wait() ([]*scanner.Result, error) {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return nil, ErrNotStarted
	}
	if !p.closed {
		p.closed = true
		close(p.jobQueue)
	}
	p.mu.Unlock()

	p.wg.Wait()

	p.resMu.Lock()
	defer p.resMu.Unlock()

	err := p.firstErr
	if err == nil {
		err = p.ctx.Err()
	}
	p.cancel()

	if err != nil {
		return nil, err
	}

	sort.Slice(p.results, func(i, j int) bool {
		return p.results[i].Path < p.results[j].Path
	})
	return p.results, nil
}

// Run scans every path on a fresh pool. The pool statistics are returned
// even when a job fails.
func Run(ctx context.Context, config PoolConfig, jobFunc JobFunc, paths []string) ([]*scanner.Result, PoolMetrics, error) {
	pool, err := NewWorkerPool(config, jobFunc)
	if err != nil {
		return nil, PoolMetrics{}, err
	}
	pool.Start(ctx)

	for _, path := range paths {
		if err := pool.Submit(path); err != nil {
			break // Wait reports the cause
		}
	}
	results, err := pool.Wait()
	return results, pool.Metrics(), err
}

// run is the main worker loop
func (p *WorkerPool) run() {
	defer p.wg.Done()

	for path := range p.jobQueue {
		if p.ctx.Err() != nil {
			atomic.AddUint64(&p.jobsSkipped, 1)
			continue
		}
		p.processJob(path)
	}
}

// processJob scans a single file
func (p *WorkerPool) processJob(path string) {
	res, err := p.jobFunc(p.ctx, path)
	atomic.AddUint64(&p.jobsProcessed, 1)

	p.resMu.Lock()
	defer p.resMu.Unlock()

	if err != nil {
		atomic.AddUint64(&p.jobsFailed, 1)
		if p.firstErr == nil {
			p.firstErr = err
			p.cancel()
		}
		return
	}
	if res != nil {
		p.results = append(p.results, res)
	}
}

// Metrics returns worker pool statistics
func (p *WorkerPool) Metrics() PoolMetrics {
	return PoolMetrics{
		NumWorkers:    p.config.NumWorkers,
		JobsProcessed: atomic.LoadUint64(&p.jobsProcessed),
		JobsFailed:    atomic.LoadUint64(&p.jobsFailed),
		JobsSkipped:   atomic.LoadUint64(&p.jobsSkipped),
	}
}

// PoolMetrics holds worker pool statistics. Skipped jobs were dequeued
// after the pool was cancelled and never ran.
type PoolMetrics struct {
	NumWorkers    int
	JobsProcessed uint64
	JobsFailed    uint64
	JobsSkipped   uint64
}

// SuccessRate returns the job success rate percentage (0-100)
func (m PoolMetrics) SuccessRate() float64 {
	total := m.JobsProcessed
	if total == 0 {
		return 100.0
	}
	successful := total - m.JobsFailed
	return (float64(successful) / float64(total)) * 100.0
}
