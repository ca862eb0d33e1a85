package pipeline

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/smukkama/floodwatch/internal/protocol"
	"github.com/smukkama/floodwatch/internal/queue"
)

// ErrPoolStopped is returned when submitting to a stopped pool
var ErrPoolStopped = errors.New("worker pool is stopped")

// Handler evaluates one observation
type Handler interface {
	Evaluate(ctx context.Context, env *protocol.ObservationEnvelope) (*Evaluation, error)
}

// Job is one observation waiting for evaluation. Done, when set, is
// called with the evaluation error once the job has run.
type Job struct {
	Envelope *protocol.ObservationEnvelope
	Done     func(err error)
}

// Pool evaluates observations on a fixed set of workers. Jobs are
// sharded by location key so observations of one location run in order
// on the same worker.
type Pool struct {
	handler Handler
	logger  *zap.Logger
	queues  []chan Job
	workers []*worker
	wg      sync.WaitGroup

	mu      sync.RWMutex
	stopped bool

	processed atomic.Uint64
	failed    atomic.Uint64
}

type worker struct {
	id    int
	jobs  <-chan Job
	pool  *Pool
	count atomic.Uint64
}

// PoolStats contains statistics about the pool
type PoolStats struct {
	Workers   int      `json:"workers"`
	Queued    int      `json:"queued"`
	Processed uint64   `json:"processed"`
	Failed    uint64   `json:"failed"`
	PerWorker []uint64 `json:"per_worker"`
}

// NewPool creates a pool of workerCount workers, each with a queue of
// queueSize jobs
func NewPool(handler Handler, workerCount, queueSize int, logger *zap.Logger) *Pool {
	if workerCount <= 0 {
		workerCount = 8
	}
	if queueSize <= 0 {
		queueSize = 256
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	p := &Pool{
		handler: handler,
		logger:  logger,
		queues:  make([]chan Job, workerCount),
		workers: make([]*worker, workerCount),
	}
	for i := range p.queues {
		p.queues[i] = make(chan Job, queueSize)
		p.workers[i] = &worker{id: i, jobs: p.queues[i], pool: p}
	}
	return p
}

// Start starts the workers. Jobs run with ctx.
func (p *Pool) Start(ctx context.Context) {
	for _, w := range p.workers {
		p.wg.Add(1)
		go w.run(ctx)
	}
	p.logger.Info("worker pool started", zap.Int("workers", len(p.workers)))
}

// Submit queues a job on the worker owning its location key. It blocks
// while that worker's queue is full.
func (p *Pool) Submit(ctx context.Context, job Job) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.stopped {
		return ErrPoolStopped
	}

	q := p.queues[queue.PartitionFor(job.Envelope.Key(), len(p.queues))]
	select {
	case q <- job:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop stops accepting jobs, drains the queues and waits for the workers
func (p *Pool) Stop() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	for _, q := range p.queues {
		close(q)
	}
	p.mu.Unlock()

	p.wg.Wait()
	p.logger.Info("worker pool stopped",
		zap.Uint64("processed", p.processed.Load()),
		zap.Uint64("failed", p.failed.Load()))
}

// Stats returns statistics about the pool
func (p *Pool) Stats() PoolStats {
	stats := PoolStats{
		Workers:   len(p.workers),
		Processed: p.processed.Load(),
		Failed:    p.failed.Load(),
		PerWorker: make([]uint64, len(p.workers)),
	}
	for i, w := range p.workers {
		stats.Queued += len(p.queues[i])
		stats.PerWorker[i] = w.count.Load()
	}
	return stats
}

func (w *worker) run(ctx context.Context) {
	defer w.pool.wg.Done()

	for job := range w.jobs {
		_, err := w.pool.handler.Evaluate(ctx, job.Envelope)
		w.count.Add(1)
		w.pool.processed.Add(1)
		if err != nil {
			w.pool.failed.Add(1)
			w.pool.logger.Error("evaluation failed",
				zap.Int("worker", w.id),
				zap.String("location_key", job.Envelope.Key()),
				zap.Error(err))
		}
		if job.Done != nil {
			job.Done(err)
		}
	}
}
