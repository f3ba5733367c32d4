package future

import (
	"sync"
	"time"

	"github.com/pkg/errors"
)

// ErrAlreadySatisfied would be the natural error for a second
// SetValue/SetError call, but per the spec's on_timeout race rule the
// loser of a value-vs-timeout race is simply dropped rather than
// surfaced — so this is exported for documentation/testing purposes
// only; the implementation never returns it.
var ErrAlreadySatisfied = errors.New("future: promise already satisfied")

// ErrBroken is the error stored in a Future whose Promise was dropped
// (garbage collected) without ever calling SetValue/SetError. Go has
// no destructor to hook this synchronously, so in practice a broken
// promise simply never resolves; ErrBroken exists for callers that
// want to thread an explicit "giving up" error through SetError
// themselves.
var ErrBroken = errors.New("future: broken promise")

// ErrTimeout is stored in a Future that lost the OnTimeout race.
var ErrTimeout = errors.New("future: timeout")

// ErrNoneMatched is returned by WhenIfAny/WhenIfN when every input
// settles without ever satisfying the predicate.
var ErrNoneMatched = errors.New("future: no input matched the predicate")

// ErrFutureAlreadyRetrieved is returned by Promise.Future when called
// more than once on the same promise.
var ErrFutureAlreadyRetrieved = errors.New("future: future already retrieved")

type progress int32

const (
	progressNone progress = iota
	progressDone
	progressTimeout
)

// state is the block of memory a Promise and its Future share. Every
// transition is protected by mu; mu is only ever held long enough to
// update fields — it is always released before any continuation
// runs, so a continuation is free to call back into this package
// (e.g. attach another Then) without deadlocking.
type state[T any] struct {
	mu sync.Mutex

	progress progress
	result   Try[T]

	hasContinuation      bool
	continuation         func(Try[T])
	continuationExecutor Executor

	timeoutCancel func()

	done chan struct{}
}

func newState[T any]() *state[T] {
	return &state[T]{done: make(chan struct{})}
}

// resolve performs the one terminal transition this state is allowed:
// None -> Done. If the state is already Done or Timeout, the value is
// dropped silently — this is what makes the OnTimeout race and a
// stray double SetValue both harmless.
func (s *state[T]) resolve(t Try[T]) {
	s.mu.Lock()
	if s.progress != progressNone {
		s.mu.Unlock()
		return
	}
	s.progress = progressDone
	s.result = t
	cancel := s.timeoutCancel
	cont := s.continuation
	exec := s.continuationExecutor
	s.mu.Unlock()

	close(s.done)
	if cancel != nil {
		cancel()
	}
	if cont != nil {
		runContinuation(exec, cont, t)
	}
}

// resolveTimeout performs the other terminal transition: None ->
// Timeout. It returns true if this call won the race.
func (s *state[T]) resolveTimeout() bool {
	s.mu.Lock()
	if s.progress != progressNone {
		s.mu.Unlock()
		return false
	}
	s.progress = progressTimeout
	t := Try[T]{Err: ErrTimeout}
	s.result = t
	cont := s.continuation
	exec := s.continuationExecutor
	s.mu.Unlock()

	close(s.done)
	if cont != nil {
		runContinuation(exec, cont, t)
	}
	return true
}

func runContinuation[T any](exec Executor, cont func(Try[T]), t Try[T]) {
	run := func() { cont(t) }
	if exec != nil {
		exec.Execute(run)
	} else {
		run()
	}
}

// Promise is the write side of a Future/Promise pair. It is safe to
// call SetValue/SetError from any goroutine, exactly once in effect —
// every call after the first (or after the future times out) is
// silently ignored.
type Promise[T any] struct {
	state     *state[T]
	retrieved bool
	mu        sync.Mutex
}

// NewPromise creates an unsatisfied Promise.
func NewPromise[T any]() *Promise[T] {
	return &Promise[T]{state: newState[T]()}
}

// SetValue satisfies the promise with a value. A call after the
// promise is already satisfied (including by a timeout) is a no-op.
func (p *Promise[T]) SetValue(v T) { p.state.resolve(Try[T]{Value: v}) }

// SetError satisfies the promise with an error.
func (p *Promise[T]) SetError(err error) { p.state.resolve(Try[T]{Err: err}) }

// SetResult satisfies the promise with a pre-built Try.
func (p *Promise[T]) SetResult(t Try[T]) { p.state.resolve(t) }

// Future returns this promise's Future. Calling it more than once
// returns ErrFutureAlreadyRetrieved, mirroring the one-retrieval rule
// of the C++ original; most callers should just keep the single
// *Future[T] returned the first time.
func (p *Promise[T]) Future() (*Future[T], error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.retrieved {
		return nil, ErrFutureAlreadyRetrieved
	}
	p.retrieved = true
	return &Future[T]{state: p.state}, nil
}

// Future is the read side of a Future/Promise pair.
type Future[T any] struct {
	state *state[T]
}

// NewSatisfied returns a Future already resolved with v — useful for
// call sites that need to return a Future but already have the
// answer in hand.
func NewSatisfied[T any](v T) *Future[T] {
	p := NewPromise[T]()
	p.SetValue(v)
	f, _ := p.Future()
	return f
}

// NewFailed returns a Future already resolved with err.
func NewFailed[T any](err error) *Future[T] {
	p := NewPromise[T]()
	p.SetError(err)
	f, _ := p.Future()
	return f
}

// IsReady reports whether the future has reached a terminal state
// (Done or Timeout). Safe to call multiple times.
func (f *Future[T]) IsReady() bool {
	select {
	case <-f.state.done:
		return true
	default:
		return false
	}
}

// Wait blocks until the future reaches a terminal state.
func (f *Future[T]) Wait() {
	<-f.state.done
}

// Done returns a channel closed when the future reaches a terminal
// state, for use in select statements.
func (f *Future[T]) Done() <-chan struct{} {
	return f.state.done
}

// Get blocks until the future is ready and returns its Try. Calling
// it multiple times is fine — unlike the retrieval of the Future
// itself, reading the result is not one-shot.
func (f *Future[T]) Get() Try[T] {
	f.Wait()
	f.state.mu.Lock()
	defer f.state.mu.Unlock()
	return f.state.result
}

// OnTimeout arms a one-shot timer on exec; if it fires before the
// future is otherwise resolved, the future's state transitions to
// Timeout (ErrTimeout) and onTimeout runs on exec. If the future
// resolves first, the timer is cancelled and onTimeout never runs.
// Whichever transition happens first wins; the loser is a no-op. It
// returns the same Future for chaining.
func (f *Future[T]) OnTimeout(d time.Duration, exec Executor, onTimeout func()) *Future[T] {
	s := f.state
	cancel := exec.ScheduleAfter(d, func() {
		if s.resolveTimeout() && onTimeout != nil {
			onTimeout()
		}
	})

	s.mu.Lock()
	if s.progress != progressNone {
		s.mu.Unlock()
		cancel()
	} else {
		s.timeoutCancel = cancel
		s.mu.Unlock()
	}
	return f
}

// attachContinuation is the single choke point Then/ThenOn/ThenFlat
// and the When* combinators use to enforce "exactly one continuation
// per future".
func attachContinuation[T any](s *state[T], exec Executor, run func(Try[T])) {
	s.mu.Lock()
	if s.hasContinuation {
		s.mu.Unlock()
		panic("future: Then attached twice on the same future")
	}
	s.hasContinuation = true

	if s.progress != progressNone {
		t := s.result
		s.mu.Unlock()
		runContinuation(exec, run, t)
		return
	}

	s.continuation = run
	s.continuationExecutor = exec
	s.mu.Unlock()
}
