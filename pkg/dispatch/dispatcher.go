// Package dispatch runs backend work with bounded concurrency and shares
// identical in-flight requests between callers.
package dispatch

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/Sternrassler/api-request-core/pkg/transport"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// DefaultMaxConcurrency is the number of tasks allowed to run at once.
const DefaultMaxConcurrency = 6

// Task is one unit of backend work.
type Task func(ctx context.Context) (any, error)

// Config holds the dispatcher configuration.
type Config struct {
	// MaxConcurrency is the maximum number of tasks running at once
	MaxConcurrency int

	// Registry shares tasks submitted with the same signature (optional)
	Registry *Registry

	Logger *zerolog.Logger
}

// DefaultConfig returns a dispatcher configuration with its own registry.
func DefaultConfig() Config {
	return Config{
		MaxConcurrency: DefaultMaxConcurrency,
		Registry:       NewRegistry(SafetyTimeout),
	}
}

// Stats is a point-in-time view of the dispatcher.
type Stats struct {
	Active         int
	Queued         int
	MaxConcurrency int
}

type job struct {
	ctx      context.Context
	task     Task
	future   *Future
	priority bool
	queuedAt time.Time
}

// Dispatcher runs at most MaxConcurrency tasks at once. Waiting tasks form a
// FIFO backlog; priority tasks are inserted at its front. Tasks are never
// retried.
type Dispatcher struct {
	mu      sync.Mutex
	max     int
	active  int
	backlog []*job

	registry *Registry
	logger   zerolog.Logger
}

// New creates a dispatcher.
func New(cfg Config) *Dispatcher {
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = DefaultMaxConcurrency
	}
	logger := log.With().Str("component", "dispatcher").Logger()
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}

	return &Dispatcher{
		max:      cfg.MaxConcurrency,
		registry: cfg.Registry,
		logger:   logger,
	}
}

// Submit schedules task and returns its future. With a non-empty signature and
// a registry, a caller whose signature is already in flight is attached to the
// existing future instead of being queued.
func (d *Dispatcher) Submit(ctx context.Context, task Task, signature string, priority bool) *Future {
	if signature != "" && d.registry != nil {
		return d.registry.GetOrCreate(signature, func() *Future {
			return d.enqueue(ctx, task, priority)
		})
	}
	return d.enqueue(ctx, task, priority)
}

// Stats returns the current active and queued task counts.
func (d *Dispatcher) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return Stats{Active: d.active, Queued: len(d.backlog), MaxConcurrency: d.max}
}

func (d *Dispatcher) enqueue(ctx context.Context, task Task, priority bool) *Future {
	j := &job{
		ctx:      ctx,
		task:     task,
		future:   newFuture(),
		priority: priority,
		queuedAt: time.Now(),
	}
	dispatcherTasksTotal.WithLabelValues(strconv.FormatBool(priority)).Inc()

	d.mu.Lock()
	if d.active < d.max {
		d.active++
		dispatcherActive.Set(float64(d.active))
		d.mu.Unlock()
		go d.run(j)
		return j.future
	}

	if priority {
		d.backlog = append([]*job{j}, d.backlog...)
	} else {
		d.backlog = append(d.backlog, j)
	}
	queued := len(d.backlog)
	dispatcherQueued.Set(float64(queued))
	d.mu.Unlock()

	d.logger.Debug().
		Bool("priority", priority).
		Int("queued", queued).
		Msg("Task queued, concurrency limit reached")

	return j.future
}

// run executes j and then keeps draining the backlog on the same slot.
func (d *Dispatcher) run(j *job) {
	for j != nil {
		value, err := d.execute(j)
		j.future.resolve(value, err)
		j = d.next()
	}
}

func (d *Dispatcher) execute(j *job) (value any, err error) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error().Interface("panic", r).Msg("Task panicked")
			err = fmt.Errorf("task panicked: %v", r)
		}
	}()
	return j.task(j.ctx)
}

// next releases the finished slot and claims it for the next runnable job.
// Jobs whose context ended while queued are resolved without running.
func (d *Dispatcher) next() *job {
	var cancelled []*job

	d.mu.Lock()
	d.active--
	var j *job
	for len(d.backlog) > 0 {
		candidate := d.backlog[0]
		d.backlog[0] = nil
		d.backlog = d.backlog[1:]
		if candidate.ctx.Err() != nil {
			cancelled = append(cancelled, candidate)
			continue
		}
		j = candidate
		d.active++
		break
	}
	dispatcherActive.Set(float64(d.active))
	dispatcherQueued.Set(float64(len(d.backlog)))
	d.mu.Unlock()

	for _, c := range cancelled {
		c.future.resolve(nil, transport.ContextError("", "", c.ctx.Err()))
	}
	if j != nil {
		dispatcherQueueWait.Observe(time.Since(j.queuedAt).Seconds())
	}
	return j
}
