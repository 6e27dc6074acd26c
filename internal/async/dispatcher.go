package async

import (
	"context"
	"errors"
	"hash/fnv"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/minutron/minutron/internal/common"
)

// ErrClosed is returned by Enqueue after Shutdown.
var ErrClosed = errors.New("dispatcher is shutting down")

// Dispatcher fans jobs out to a fixed set of workers. Each key is pinned
// to one worker, so events of one requester never run concurrently while
// different requesters proceed in parallel.
type Dispatcher struct {
	logger  *slog.Logger
	workers int
	size    int
	timeout time.Duration

	lanes []chan Job
	wg    sync.WaitGroup
	once  sync.Once

	mu     sync.RWMutex
	closed bool
}

type Option func(*Dispatcher)

func WithWorkers(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.workers = n
		}
	}
}

func WithQueueSize(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.size = n
		}
	}
}

// WithJobTimeout bounds a single job; zero means no bound.
func WithJobTimeout(t time.Duration) Option {
	return func(d *Dispatcher) {
		if t >= 0 {
			d.timeout = t
		}
	}
}

func NewDispatcher(logger *slog.Logger, opts ...Option) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	d := &Dispatcher{
		logger:  logger,
		workers: 4,
		size:    64,
		timeout: 10 * time.Minute,
	}
	for _, o := range opts {
		o(d)
	}
	d.start()
	return d
}

func (d *Dispatcher) start() {
	d.once.Do(func() {
		d.lanes = make([]chan Job, d.workers)
		for i := range d.lanes {
			d.lanes[i] = make(chan Job, d.size)
			d.wg.Add(1)
			go d.work(i+1, d.lanes[i])
		}
	})
}

func (d *Dispatcher) work(workerID int, lane <-chan Job) {
	defer d.wg.Done()
	d.logger.Debug("dispatch.worker.started", "worker_id", workerID)
	for job := range lane {
		d.run(workerID, job)
	}
	d.logger.Debug("dispatch.worker.stopped", "worker_id", workerID)
}

func (d *Dispatcher) run(workerID int, job Job) {
	ctx := common.WithRequestID(context.Background(), job.TraceID)
	cancel := func() {}
	if d.timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
	}
	defer cancel()

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("dispatch.job.panic", "worker_id", workerID, "key", job.Key, "job", job.Name, "panic", r)
		}
	}()

	err := job.Run(ctx)
	attrs := []any{
		"worker_id", workerID,
		"key", job.Key,
		"job", job.Name,
		"trace_id", job.TraceID,
		"queued_ms", start.Sub(job.SubmittedAt).Milliseconds(),
		"elapsed_ms", time.Since(start).Milliseconds(),
	}
	if err != nil {
		d.logger.Warn("dispatch.job.failed", append(attrs, "error", err)...)
		return
	}
	d.logger.Debug("dispatch.job.done", attrs...)
}

// Lane returns the worker index a key is pinned to.
func (d *Dispatcher) Lane(key string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % uint32(len(d.lanes)))
}

// Enqueue submits a job. It blocks when the key's lane is full.
func (d *Dispatcher) Enqueue(ctx context.Context, job Job) error {
	if job.SubmittedAt.IsZero() {
		job.SubmittedAt = time.Now()
	}
	if job.TraceID == "" {
		job.TraceID = uuid.NewString()
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		d.logger.Warn("dispatch.enqueue.closed", "key", job.Key, "job", job.Name)
		return ErrClosed
	}
	lane := d.lanes[d.Lane(job.Key)]
	select {
	case lane <- job:
		return nil
	default:
		d.logger.Warn("dispatch.lane.full", "key", job.Key, "job", job.Name)
	}
	select {
	case lane <- job:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown stops accepting jobs and waits for queued ones to finish.
func (d *Dispatcher) Shutdown(ctx context.Context) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	for _, lane := range d.lanes {
		close(lane)
	}
	d.mu.Unlock()

	done := make(chan struct{})
	go func() { defer close(done); d.wg.Wait() }()

	select {
	case <-ctx.Done():
		d.logger.Warn("dispatch.shutdown.interrupted")
	case <-done:
		d.logger.Info("dispatch.shutdown.complete")
	}
}
