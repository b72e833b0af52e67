package team

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/time/rate"

	"github.com/officefloor/officefloor/internal/log"
)

// PoolOptions configure a worker pool.
type PoolOptions struct {
	// Rate limits job starts per second across the pool. Zero disables it.
	Rate  float64
	Burst int
	// Logger defaults to the team component logger.
	Logger *slog.Logger
}

// WorkerPool runs jobs on a fixed number of goroutines consuming a FIFO queue.
type WorkerPool struct {
	name    string
	size    int
	limiter *rate.Limiter
	logger  *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	cond     *sync.Cond
	queue    []Job
	stopping bool
	wg       sync.WaitGroup
}

var _ Team = (*WorkerPool)(nil)

// NewWorkerPool starts size workers.
func NewWorkerPool(name string, size int, opts PoolOptions) *WorkerPool {
	if size < 1 {
		size = 1
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.WithComponent("team")
	}
	ctx, cancel := context.WithCancel(context.Background())
	p := &WorkerPool{
		name:   name,
		size:   size,
		logger: logger.With("team", name),
		ctx:    ctx,
		cancel: cancel,
	}
	if opts.Rate > 0 {
		burst := opts.Burst
		if burst < 1 {
			burst = 1
		}
		p.limiter = rate.NewLimiter(rate.Limit(opts.Rate), burst)
	}
	p.cond = sync.NewCond(&p.mu)
	p.wg.Add(size)
	for i := 0; i < size; i++ {
		go p.worker()
	}
	return p
}

func (p *WorkerPool) Name() string { return p.name }

// Size returns the number of workers.
func (p *WorkerPool) Size() int { return p.size }

// Pending returns the number of queued jobs.
func (p *WorkerPool) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queue)
}

func (p *WorkerPool) Assign(job Job) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopping {
		return fmt.Errorf("assign to %s: %w", p.name, ErrTeamStopped)
	}
	p.queue = append(p.queue, job)
	p.cond.Signal()
	return nil
}

func (p *WorkerPool) worker() {
	defer p.wg.Done()
	for {
		p.mu.Lock()
		for len(p.queue) == 0 && !p.stopping {
			p.cond.Wait()
		}
		if len(p.queue) == 0 {
			p.mu.Unlock()
			return
		}
		job := p.queue[0]
		p.queue[0] = nil
		p.queue = p.queue[1:]
		p.mu.Unlock()

		if p.limiter != nil {
			if err := p.limiter.Wait(p.ctx); err != nil {
				job.Fail(fmt.Errorf("team %s: %w", p.name, ErrTeamStopped))
				continue
			}
		}
		run(p.name, job, p.logger)
	}
}

func (p *WorkerPool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if p.stopping {
		p.mu.Unlock()
		return nil
	}
	p.stopping = true
	p.cond.Broadcast()
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.cancel()
		p.logger.Debug("team drained")
		return nil
	case <-ctx.Done():
	}

	p.cancel()
	p.mu.Lock()
	remaining := p.queue
	p.queue = nil
	p.mu.Unlock()
	for _, job := range remaining {
		job.Fail(fmt.Errorf("team %s: %w", p.name, ErrTeamStopped))
	}
	p.logger.Warn("team drain timed out", "cancelled", len(remaining))
	return fmt.Errorf("drain team %s: %w", p.name, ctx.Err())
}
