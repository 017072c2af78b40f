package store

import (
	"log/slog"
	"sync"
	"time"
)

// queueCapacity is the bound on pending jobs per queue; beyond this,
// Enqueue drops the job rather than blocking its caller, the same
// never-block-the-caller discipline the engine uses for its
// channel-based event fan-out.
const queueCapacity = 100

// circuitBreakerThreshold is the number of consecutive job failures
// that trips a queue's breaker open.
const circuitBreakerThreshold = 10

// probeInterval is how often an open breaker allows a single job
// through to test recovery.
const probeInterval = 5 * time.Second

// Queue is a bounded, single-consumer job queue sitting in front of a
// persistence backend, with a circuit breaker that stops driving load
// at a backend that is consistently failing.
type Queue struct {
	name string
	log  *slog.Logger
	jobs chan func() error
	run  func(func() error) error

	mu               sync.Mutex
	consecutiveFails int
	open             bool
	lastProbeAt      time.Time
}

// NewQueue creates a Queue named name with the given capacity, driving
// every enqueued job through run (the store's drain function).
func NewQueue(name string, capacity int, log *slog.Logger, run func(func() error) error) *Queue {
	if capacity <= 0 {
		capacity = queueCapacity
	}
	return &Queue{
		name: name,
		log:  log.With("component", "store_queue", "queue", name),
		jobs: make(chan func() error, capacity),
		run:  run,
	}
}

// Enqueue submits job for the consumer loop to run. If the queue is
// full, the job is dropped and logged rather than blocking the
// caller — a persistence backlog must never stall the execution
// kernel.
func (q *Queue) Enqueue(job func() error) {
	select {
	case q.jobs <- job:
	default:
		q.log.Warn("persistence queue full, dropping job", "capacity", cap(q.jobs))
	}
}

// Depth reports the number of jobs currently queued, for metrics.
func (q *Queue) Depth() int {
	return len(q.jobs)
}

// BreakerOpen reports whether the circuit breaker is currently
// tripped, for metrics.
func (q *Queue) BreakerOpen() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.open
}

// Run drains jobs until stop fires. While the breaker is open, only
// one probe job is let through per probeInterval; every other queued
// job is held until the probe either succeeds (closing the breaker)
// or fails (keeping it open for another interval).
func (q *Queue) Run(stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			return
		case job := <-q.jobs:
			for q.shouldSkip() {
				select {
				case <-stop:
					return
				case <-time.After(100 * time.Millisecond):
				}
			}
			q.runJob(job)
		}
	}
}

// Stop is a no-op placeholder for symmetry with components that hold
// their own goroutine lifecycle; Run already exits on stop.
func (q *Queue) Stop() {}

func (q *Queue) shouldSkip() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.open {
		return false
	}
	if time.Since(q.lastProbeAt) < probeInterval {
		return true
	}
	q.lastProbeAt = time.Now()
	return false
}

func (q *Queue) runJob(job func() error) {
	err := q.run(job)

	q.mu.Lock()
	defer q.mu.Unlock()
	if err != nil {
		q.consecutiveFails++
		if q.consecutiveFails >= circuitBreakerThreshold && !q.open {
			q.open = true
			q.lastProbeAt = time.Now()
			q.log.Error("persistence circuit breaker tripped", "consecutive_failures", q.consecutiveFails)
		}
		q.log.Error("persistence job failed", "error", err, "consecutive_failures", q.consecutiveFails)
		return
	}

	if q.open {
		q.log.Info("persistence circuit breaker recovered")
	}
	q.consecutiveFails = 0
	q.open = false
}
