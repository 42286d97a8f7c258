// Package worker provides a generic worker pool for concurrent task execution.
package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

var (
	// ErrBackpressure is returned when the queue is full and the pool refuses to block.
	ErrBackpressure = errors.New("worker pool queue full")
	// ErrPoolClosed is returned when submitting to a closed pool.
	ErrPoolClosed = errors.New("worker pool closed")
)

// DropPolicy decides what Submit does when the queue is full.
type DropPolicy int

const (
	// DropPolicyBlock waits for queue space (default).
	DropPolicyBlock DropPolicy = iota
	// DropPolicyNewest rejects the incoming job with ErrBackpressure.
	DropPolicyNewest
	// DropPolicyOldest discards the oldest queued job to make room.
	DropPolicyOldest
)

// Job represents a unit of work to be executed by a worker.
type Job struct {
	// ID is an optional identifier for the job (useful for logging/debugging)
	ID string
	// Execute is the function to run. It receives a context and returns a result and error.
	Execute func(ctx context.Context) (interface{}, error)

	reply chan<- Result
}

// Result represents the outcome of a job execution.
type Result struct {
	// JobID is the ID of the job that produced this result
	JobID string
	// Value is the result of the job execution (nil if error)
	Value interface{}
	// Err is the error from job execution (nil if successful)
	Err error
}

// PoolConfig configures a Pool.
type PoolConfig struct {
	Workers    int
	QueueSize  int
	DropPolicy DropPolicy
}

// Stats is a snapshot of pool counters.
type Stats struct {
	JobsSubmitted int64
	JobsCompleted int64
	JobsFailed    int64
	JobsDropped   int64
	QueueLen      int
}

// Pool is a worker pool that processes jobs concurrently.
// It maintains a fixed number of worker goroutines that pull jobs from a queue.
type Pool struct {
	workers    int
	dropPolicy DropPolicy
	jobQueue   chan Job
	results    chan Result
	wg         sync.WaitGroup
	ctx        context.Context
	cancel     context.CancelFunc
	closeOnce  sync.Once
	closed     atomic.Bool

	submitted atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64
	dropped   atomic.Int64
}

// NewPool creates a blocking pool with the specified number of workers.
//
// Example:
//
//	pool := worker.NewPool(ctx, 4, 100)
//	defer pool.Close()
//	pool.Submit(worker.Job{ID: "incr", Execute: func(ctx context.Context) (interface{}, error) { ... }})
func NewPool(ctx context.Context, workers int, queueSize int) *Pool {
	return NewPoolWithConfig(ctx, PoolConfig{Workers: workers, QueueSize: queueSize})
}

// NewPoolWithConfig creates a pool and starts its workers.
func NewPoolWithConfig(ctx context.Context, cfg PoolConfig) *Pool {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.QueueSize < 0 {
		cfg.QueueSize = 0
	}

	poolCtx, cancel := context.WithCancel(ctx)

	p := &Pool{
		workers:    cfg.Workers,
		dropPolicy: cfg.DropPolicy,
		jobQueue:   make(chan Job, cfg.QueueSize),
		results:    make(chan Result, cfg.QueueSize),
		ctx:        poolCtx,
		cancel:     cancel,
	}

	for i := 0; i < cfg.Workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}

	return p
}

func (p *Pool) worker() {
	defer p.wg.Done()

	for {
		select {
		case <-p.ctx.Done():
			return
		case job := <-p.jobQueue:
			value, err := job.Execute(p.ctx)
			if err != nil {
				p.failed.Add(1)
			}
			p.completed.Add(1)

			result := Result{JobID: job.ID, Value: value, Err: err}
			if job.reply != nil {
				job.reply <- result
				continue
			}
			// Nobody is obliged to read shared results; drop when full
			select {
			case p.results <- result:
			default:
			}
		}
	}
}

// Submit adds a job to the queue, applying the pool's DropPolicy when it is full.
func (p *Pool) Submit(job Job) error {
	if p.closed.Load() {
		return ErrPoolClosed
	}
	if err := p.ctx.Err(); err != nil {
		return err
	}

	switch p.dropPolicy {
	case DropPolicyNewest:
		return p.TrySubmit(job)

	case DropPolicyOldest:
		for {
			select {
			case p.jobQueue <- job:
				p.submitted.Add(1)
				return nil
			default:
			}
			select {
			case <-p.jobQueue:
				p.dropped.Add(1)
			case <-p.ctx.Done():
				return p.ctx.Err()
			default:
			}
		}

	default:
		select {
		case <-p.ctx.Done():
			return p.ctx.Err()
		case p.jobQueue <- job:
			p.submitted.Add(1)
			return nil
		}
	}
}

// TrySubmit enqueues without blocking, returning ErrBackpressure when the queue is full.
func (p *Pool) TrySubmit(job Job) error {
	if p.closed.Load() {
		return ErrPoolClosed
	}
	if err := p.ctx.Err(); err != nil {
		return err
	}

	select {
	case p.jobQueue <- job:
		p.submitted.Add(1)
		return nil
	default:
		p.dropped.Add(1)
		return ErrBackpressure
	}
}

// SubmitAndWait submits multiple jobs and waits for all of their results.
// Returns results in the order they complete (not submission order).
func (p *Pool) SubmitAndWait(jobs []Job) []Result {
	reply := make(chan Result, len(jobs))

	pending := 0
	for _, job := range jobs {
		job.reply = reply
		if err := p.Submit(job); err != nil {
			// Rejected jobs report their own error
			reply <- Result{JobID: job.ID, Err: err}
		}
		pending++
	}

	results := make([]Result, 0, len(jobs))
	for i := 0; i < pending; i++ {
		select {
		case <-p.ctx.Done():
			return results
		case result := <-reply:
			results = append(results, result)
		}
	}

	return results
}

// Results returns the results channel for jobs submitted with Submit or TrySubmit.
func (p *Pool) Results() <-chan Result {
	return p.results
}

// Close stops accepting jobs, cancels in-flight work and waits for all workers to exit.
func (p *Pool) Close() {
	p.closeOnce.Do(func() {
		p.closed.Store(true)
		p.cancel()
		p.wg.Wait()
		close(p.results)
	})
}

// Workers returns the number of workers in the pool.
func (p *Pool) Workers() int {
	return p.workers
}

// DropPolicy returns the policy applied when the queue is full.
func (p *Pool) DropPolicy() DropPolicy {
	return p.dropPolicy
}

// QueueLen returns the current number of jobs waiting in the queue.
func (p *Pool) QueueLen() int {
	return len(p.jobQueue)
}

// Stats returns a snapshot of the pool counters.
func (p *Pool) Stats() Stats {
	return Stats{
		JobsSubmitted: p.submitted.Load(),
		JobsCompleted: p.completed.Load(),
		JobsFailed:    p.failed.Load(),
		JobsDropped:   p.dropped.Load(),
		QueueLen:      len(p.jobQueue),
	}
}
