// Package pool implements a fixed-size worker pool: a FIFO queue of
// tasks consumed by a bounded set of worker goroutines, where every
// submitted task gets back a future.Future for its result.
package pool

import (
	"fmt"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/ananas-project/ananas/future"
)

// DefaultWorkers is the worker count a Pool uses when WithWorkers is
// not supplied.
const DefaultWorkers = 1

// MaxWorkers is the largest worker count a Pool will ever run.
const MaxWorkers = 512

// ErrPoolShutdown is returned (as a failed future) by Submit after
// Shutdown has been called.
var ErrPoolShutdown = errors.New("pool: shutdown")

// Options configures a Pool.
type Options struct {
	Workers int
	Logger  *zap.Logger
}

// Option mutates Options.
type Option func(*Options)

// WithWorkers sets the number of worker goroutines, clamped to
// [1, MaxWorkers].
func WithWorkers(n int) Option {
	return func(o *Options) { o.Workers = n }
}

// WithLogger attaches a zap logger; the default is a no-op logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *Options) { o.Logger = l }
}

// Pool is a fixed-size worker pool. Workers are spun up lazily on the
// first Submit. The zero value is not usable; use New.
type Pool struct {
	workers int
	log     *zap.Logger

	mu       sync.Mutex
	queue    []func()
	notEmpty *sync.Cond
	shutdown bool
	started  bool
	wg       sync.WaitGroup

	shutdownOnce sync.Once
}

// New creates a Pool per opts. The pool constructing goroutine is the
// only one allowed to call Shutdown.
func New(opts ...Option) *Pool {
	o := Options{Workers: DefaultWorkers, Logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.Workers < 1 {
		o.Workers = 1
	}
	if o.Workers > MaxWorkers {
		o.Workers = MaxWorkers
	}

	p := &Pool{workers: o.Workers, log: o.Logger}
	p.notEmpty = sync.NewCond(&p.mu)
	return p
}

// Submit enqueues f and returns a future for its result. Submitting
// after Shutdown returns an already-failed future (ErrPoolShutdown).
// A panic inside f is recovered and turned into a failed future
// rather than crashing the worker.
func Submit[T any](p *Pool, f func() (T, error)) *future.Future[T] {
	prom := future.NewPromise[T]()
	fut, _ := prom.Future()

	p.mu.Lock()
	if p.shutdown {
		p.mu.Unlock()
		prom.SetError(ErrPoolShutdown)
		return fut
	}
	if !p.started {
		p.started = true
		p.startWorkers()
	}

	task := func() {
		v, err := runTask(f)
		if err != nil {
			prom.SetError(err)
		} else {
			prom.SetValue(v)
		}
	}
	p.queue = append(p.queue, task)
	p.notEmpty.Signal()
	p.mu.Unlock()

	return fut
}

func runTask[T any](f func() (T, error)) (result T, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf("pool: task panicked: %v", r)
		}
	}()
	return f()
}

func (p *Pool) startWorkers() {
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.runWorker(i)
	}
}

func (p *Pool) runWorker(id int) {
	defer p.wg.Done()
	for {
		p.mu.Lock()
		for len(p.queue) == 0 && !p.shutdown {
			p.notEmpty.Wait()
		}
		if len(p.queue) == 0 && p.shutdown {
			p.mu.Unlock()
			return
		}
		task := p.queue[0]
		p.queue = p.queue[1:]
		p.mu.Unlock()

		func() {
			defer func() {
				if r := recover(); r != nil {
					p.log.Error("pool: task panicked in worker",
						zap.Int("worker", id), zap.Any("panic", r))
				}
			}()
			task()
		}()
	}
}

// Shutdown is idempotent and blocks until every worker has drained the
// queue and exited. It must only be called from the goroutine that
// constructed the Pool. Submit after Shutdown always returns a
// pre-failed future.
func (p *Pool) Shutdown() {
	p.shutdownOnce.Do(func() {
		p.mu.Lock()
		p.shutdown = true
		p.mu.Unlock()
		p.notEmpty.Broadcast()
		p.wg.Wait()
	})
}

// QueueLen reports the number of tasks currently waiting to run. It is
// meant for tests and diagnostics, not for flow control.
func (p *Pool) QueueLen() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queue)
}

// Execute implements future.Executor by submitting f as a task whose
// result is ignored — it lets a Pool be passed directly to
// future.ThenOn/Future.OnTimeout for "run this continuation off the
// pool" semantics.
func (p *Pool) Execute(f func()) {
	Submit(p, func() (struct{}, error) {
		f()
		return struct{}{}, nil
	})
}

// ScheduleAfter implements future.Executor by sleeping in a dedicated
// goroutine before submitting f to the pool. It exists so a Pool can
// serve as the Executor argument to Future.OnTimeout; reactor.Loop is
// almost always the better choice for real timers since it doesn't
// spend a goroutine per pending timeout.
func (p *Pool) ScheduleAfter(d time.Duration, f func()) (cancel func()) {
	stop := make(chan struct{})
	var once sync.Once
	go func() {
		t := time.NewTimer(d)
		defer t.Stop()
		select {
		case <-t.C:
			p.Execute(f)
		case <-stop:
		}
	}()
	return func() { once.Do(func() { close(stop) }) }
}

// String renders basic diagnostics, e.g. for log lines.
func (p *Pool) String() string {
	return fmt.Sprintf("pool(workers=%d, queued=%d)", p.workers, p.QueueLen())
}
