package future

import "time"

// Executor runs callbacks, either immediately or after some delay.
// pool.Pool satisfies this interface, and reactor.Loop provides one
// through Loop.Executor(); it is the thing a caller passes to
// ThenOn/OnTimeout to get loop- or pool-affinity for a continuation
// instead of running it inline on whichever goroutine completes the
// promise.
type Executor interface {
	// Execute runs f. Implementations decide whether that happens
	// inline or is handed off (e.g. to a single reactor goroutine).
	Execute(f func())

	// ScheduleAfter arms a one-shot timer that runs f after d and
	// returns a function that cancels it. Calling the returned
	// function after the timer has already fired is a harmless no-op.
	ScheduleAfter(d time.Duration, f func()) (cancel func())
}

// inlineExecutor runs callbacks synchronously on the calling
// goroutine — the same thing Then and promise resolution do on their
// own when no Executor is supplied.
type inlineExecutor struct{}

func (inlineExecutor) Execute(f func()) { f() }
func (inlineExecutor) ScheduleAfter(time.Duration, func()) (cancel func()) {
	panic("future: inline executor cannot schedule timers; pass a real Executor to OnTimeout")
}

// Inline is an explicit Executor for the default behaviour: it runs
// the continuation synchronously on whichever goroutine calls Execute,
// as Then/resolution do when given no executor.
var Inline Executor = inlineExecutor{}
