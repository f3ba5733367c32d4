package rpc

import (
	"github.com/ananas-project/ananas/future"
	"github.com/ananas-project/ananas/pool"
)

// AsyncHandler adapts a synchronous request/response function into a
// Handler that runs on p instead of the reactor loop goroutine. The
// dispatching goroutine returns immediately after submitting the task;
// rw.Done/rw.Fail are called later from whichever pool worker finishes
// it — exactly the off-loop ResponseWriter pattern a slow or blocking
// method needs so it doesn't stall every other connection sharing the
// same Loop.
func AsyncHandler(p *pool.Pool, f func(req Message) (Message, error)) Handler {
	return func(req Message, rw ResponseWriter) {
		fut := pool.Submit(p, func() (Message, error) { return f(req) })
		future.Then(fut, func(t future.Try[Message]) future.Try[struct{}] {
			if t.Err != nil {
				rw.Fail(t.Err)
			} else {
				rw.Done(t.Value)
			}
			return future.Try[struct{}]{}
		})
	}
}
