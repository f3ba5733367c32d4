// Package reactor implements a single-threaded epoll/kqueue event
// loop: pollable Channels (listeners, connections, datagram sockets,
// a self-pipe wakeup) multiplexed by one poller per Loop, plus a
// Group that runs several Loops each on its own goroutine.
package reactor

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/ananas-project/ananas/future"
	"github.com/ananas-project/ananas/timer"
)

const (
	minPollTimeout = time.Millisecond
	maxPollTimeout = 10 * time.Millisecond
)

// Loop is a single-threaded reactor: one poller, one timer manager, a
// set of registered Channels and a task queue other goroutines use to
// get work done on the loop's own goroutine. A Loop must run on
// exactly one goroutine (via Run); every other method is safe to call
// from any goroutine.
type Loop struct {
	log *zap.Logger

	pfd     poller
	pipe    *selfPipe
	timers  *timer.Manager
	maxOpen uint64

	ids channelIDAllocator

	mu       sync.Mutex
	channels map[int]Channel // keyed by fd
	byID     map[uint64]Channel
	tasks    []func()
	closed   bool
}

// NewLoop builds a Loop backed by the platform poller, ready to Run.
func NewLoop(log *zap.Logger) (*Loop, error) {
	if log == nil {
		log = zap.NewNop()
	}
	pfd, err := newPoller()
	if err != nil {
		return nil, err
	}
	pipe, err := newSelfPipe()
	if err != nil {
		pfd.Close()
		return nil, err
	}

	l := &Loop{
		log:      log,
		pfd:      pfd,
		pipe:     pipe,
		timers:   timer.NewManager(),
		channels: make(map[int]Channel),
		byID:     make(map[uint64]Channel),
		maxOpen:  queryMaxOpenFiles(),
	}
	pipe.id = l.ids.allocate()
	l.channels[pipe.Fd()] = pipe
	l.byID[pipe.id] = pipe
	if err := pfd.Register(pipe.Fd(), EventRead, 0); err != nil {
		pfd.Close()
		pipe.Close()
		return nil, err
	}
	return l, nil
}

func queryMaxOpenFiles() uint64 {
	var rlim unix.Rlimit
	if err := unix.Getrlimit(unix.RLIMIT_NOFILE, &rlim); err != nil {
		return 1 << 20
	}
	return rlim.Cur
}

// Register assigns the channel an id and adds it to the poller under
// its current Events() interest.
func (l *Loop) Register(ch Channel) error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return ErrLoopClosed
	}
	type idSetter interface{ setID(uint64) }
	if s, ok := ch.(idSetter); ok {
		if ch.ID() != 0 {
			l.mu.Unlock()
			return ErrChannelAlreadyRegistered
		}
		s.setID(l.ids.allocate())
	} else if ch.ID() != 0 {
		l.mu.Unlock()
		return ErrChannelAlreadyRegistered
	}
	if uint64(ch.Fd()+1) >= l.maxOpen {
		l.mu.Unlock()
		return ErrTooManyOpenFiles
	}

	if err := l.pfd.Register(ch.Fd(), ch.Events(), ch.ID()); err != nil {
		l.mu.Unlock()
		return err
	}
	l.channels[ch.Fd()] = ch
	l.byID[ch.ID()] = ch
	l.mu.Unlock()

	type connectNotifier interface{ fireOnConnect() }
	if n, ok := ch.(connectNotifier); ok {
		n.fireOnConnect()
	}
	return nil
}

// Modify updates the poller interest for an already-registered channel.
func (l *Loop) Modify(ch Channel) error {
	return l.pfd.Modify(ch.Fd(), ch.Events(), ch.ID())
}

// Unregister removes the channel from the poller and the loop's
// bookkeeping maps.
func (l *Loop) Unregister(ch Channel) error {
	l.mu.Lock()
	if cur, ok := l.channels[ch.Fd()]; !ok || cur != ch {
		// not registered, already removed, or its fd now belongs to
		// another channel (e.g. the Connection a Connector handed it to)
		l.mu.Unlock()
		return nil
	}
	delete(l.channels, ch.Fd())
	delete(l.byID, ch.ID())
	l.mu.Unlock()
	return l.pfd.Unregister(ch.Fd(), ch.Events())
}

// Execute runs f on the loop goroutine: f is queued and the self-pipe
// is pinged so a blocked Poll wakes immediately. It always queues, even
// when called from the loop goroutine itself; f never runs inline, and
// runs when the loop next drains its task queue.
func (l *Loop) Execute(f func()) {
	l.mu.Lock()
	l.tasks = append(l.tasks, f)
	l.mu.Unlock()
	l.pipe.Notify()
}

// ScheduleAfter arms a one-shot timer on this loop's Manager.
func (l *Loop) ScheduleAfter(d time.Duration, f func()) timer.ID {
	return l.timers.ScheduleAfter(d, 1, f)
}

// Schedule arms a periodic (or repeat-limited) timer; repeat ==
// timer.Forever runs until explicitly Cancelled.
func (l *Loop) Schedule(d time.Duration, repeat int, f func()) timer.ID {
	return l.timers.ScheduleAfter(d, repeat, f)
}

// CancelTimer cancels a previously scheduled timer.
func (l *Loop) CancelTimer(id timer.ID) bool {
	return l.timers.Cancel(id)
}

// Sleep returns a future that resolves after d has elapsed, as driven
// by this loop's own timer manager.
func (l *Loop) Sleep(d time.Duration) *future.Future[struct{}] {
	p := future.NewPromise[struct{}]()
	f, _ := p.Future()
	l.ScheduleAfter(d, func() { p.SetValue(struct{}{}) })
	return f
}

// executorAdapter makes a Loop satisfy future.Executor, whose
// ScheduleAfter returns a cancel func rather than this package's own
// stable timer.ID.
type executorAdapter struct{ loop *Loop }

func (e executorAdapter) Execute(f func()) { e.loop.Execute(f) }

func (e executorAdapter) ScheduleAfter(d time.Duration, f func()) func() {
	id := e.loop.ScheduleAfter(d, f)
	return func() { e.loop.CancelTimer(id) }
}

// Executor returns a future.Executor view of l, for passing to
// future.ThenOn/Future.OnTimeout when a continuation needs loop
// affinity.
func (l *Loop) Executor() future.Executor { return executorAdapter{loop: l} }

// Run drives the reactor loop until ctx is cancelled (or the loop has
// already been shut down). It must be called from exactly one
// goroutine.
func (l *Loop) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			l.shutdown()
			return nil
		default:
		}

		l.mu.Lock()
		if l.closed {
			l.mu.Unlock()
			return nil
		}
		l.mu.Unlock()

		timeout := clampDuration(l.timers.Nearest(), minPollTimeout, maxPollTimeout)
		events, err := l.pfd.Poll(256, timeout)
		if err != nil {
			l.log.Error("reactor: poll failed", zap.Error(err))
			continue
		}

		l.dispatch(events)
		l.timers.Update(time.Now())
		l.drainTasks()
	}
}

func clampDuration(d, lo, hi time.Duration) time.Duration {
	if d < lo {
		return lo
	}
	if d > hi {
		return hi
	}
	return d
}

// dispatch fires Read, then Write, then Error handlers over a
// snapshot of the channels that were ready this pass, so a handler
// that unregisters a sibling channel mid-iteration never leaves a
// dangling reference in the slice being iterated.
func (l *Loop) dispatch(events []PollEvent) {
	type fired struct {
		ch Channel
		ev Event
	}
	l.mu.Lock()
	snapshot := make([]fired, 0, len(events))
	for _, pe := range events {
		if ch, ok := l.channels[pe.Fd]; ok {
			snapshot = append(snapshot, fired{ch: ch, ev: pe.Events})
		}
	}
	l.mu.Unlock()

	for _, s := range snapshot {
		if s.ev.Has(EventRead) {
			if !s.ch.HandleRead() {
				l.teardown(s.ch)
				continue
			}
		}
		if s.ev.Has(EventWrite) {
			if !s.ch.HandleWrite() {
				l.teardown(s.ch)
				continue
			}
		}
		if s.ev.Has(EventError) {
			s.ch.HandleError()
			l.teardown(s.ch)
		}
	}
}

func (l *Loop) teardown(ch Channel) {
	if err := l.Unregister(ch); err != nil {
		l.log.Debug("reactor: unregister on teardown failed", zap.Error(err))
	}
}

func (l *Loop) drainTasks() {
	l.mu.Lock()
	tasks := l.tasks
	l.tasks = nil
	l.mu.Unlock()

	for _, f := range tasks {
		f()
	}
}

func (l *Loop) shutdown() {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.closed = true
	l.mu.Unlock()
	l.pfd.Close()
	l.pipe.Close()
}

// ChannelCount reports how many channels (including the self-pipe)
// are currently registered; meant for diagnostics.
func (l *Loop) ChannelCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.channels)
}
