package clock

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/efreitasn/tradesim/internal/metrics"
)

// Dispatcher runs background tasks on a fixed number of workers. Delayed
// tasks wait on timers; on Close they are queued at once and every queued
// task is run before Close returns.
type Dispatcher struct {
	tasks  chan func(context.Context)
	done   chan struct{}
	once   sync.Once
	logger *slog.Logger

	tmu    sync.Mutex
	timers map[*time.Timer]func(context.Context)

	workers int
	wg      sync.WaitGroup
}

// NewDispatcher creates a Dispatcher with the given worker count and
// queue size.
func NewDispatcher(workers, queue int, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		tasks:   make(chan func(context.Context), queue),
		done:    make(chan struct{}),
		logger:  logger,
		timers:  make(map[*time.Timer]func(context.Context)),
		workers: workers,
	}
}

// Start launches the workers. Tasks receive ctx.
func (d *Dispatcher) Start(ctx context.Context) {
	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			for {
				select {
				case task := <-d.tasks:
					d.run(ctx, task)
				case <-d.done:
					d.drain(ctx)
					return
				}
			}
		}()
	}
}

func (d *Dispatcher) run(ctx context.Context, task func(context.Context)) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("background task panicked", slog.Any("panic", r))
		}
	}()
	task(ctx)
}

func (d *Dispatcher) drain(ctx context.Context) {
	for {
		select {
		case task := <-d.tasks:
			d.run(ctx, task)
		default:
			return
		}
	}
}

// Submit queues a task, blocking while the queue is full. It returns
// false once the dispatcher is closed.
func (d *Dispatcher) Submit(task func(context.Context)) bool {
	select {
	case <-d.done:
		metrics.TasksDropped.Inc()
		return false
	default:
	}
	select {
	case d.tasks <- task:
		return true
	case <-d.done:
		metrics.TasksDropped.Inc()
		return false
	}
}

// Schedule queues a task after delay.
func (d *Dispatcher) Schedule(delay time.Duration, task func(context.Context)) {
	if delay <= 0 {
		d.Submit(task)
		return
	}

	d.tmu.Lock()
	defer d.tmu.Unlock()

	var timer *time.Timer
	timer = time.AfterFunc(delay, func() {
		d.tmu.Lock()
		delete(d.timers, timer)
		d.tmu.Unlock()
		d.Submit(task)
	})
	d.timers[timer] = task
}

// Pending returns the number of delayed tasks still waiting.
func (d *Dispatcher) Pending() int {
	d.tmu.Lock()
	defer d.tmu.Unlock()
	return len(d.timers)
}

// Close flushes delayed tasks, stops accepting new ones and waits for the
// workers to drain the queue.
func (d *Dispatcher) Close() {
	d.tmu.Lock()
	flush := make([]func(context.Context), 0, len(d.timers))
	for timer, task := range d.timers {
		if timer.Stop() {
			flush = append(flush, task)
		}
		delete(d.timers, timer)
	}
	d.tmu.Unlock()
	for _, task := range flush {
		d.Submit(task)
	}

	d.once.Do(func() { close(d.done) })
	d.wg.Wait()
}
