package future

import "github.com/pkg/errors"

// Then attaches a continuation that runs once f resolves, mapping
// Try[T] to Try[U]. It may only be attached once per future (a second
// call panics — a caller that needs to fan a result out to several
// places should do so inside the single continuation, or use the
// when_* combinators). If f is already resolved, fn runs immediately,
// inline on the calling goroutine.
//
// This is the free-function form Go generics require in place of a
// method with its own type parameter (Future[T].Then[U] isn't
// expressible): Then(fut, fn) reads the same as fut.Then(fn) would.
func Then[T, U any](f *Future[T], fn func(Try[T]) Try[U]) *Future[U] {
	return ThenOn(f, nil, fn)
}

// ThenOn is Then with an explicit Executor: if f is already resolved,
// fn still runs on exec rather than inline, and if exec is non-nil
// when f resolves later, fn runs on exec there too.
func ThenOn[T, U any](f *Future[T], exec Executor, fn func(Try[T]) Try[U]) *Future[U] {
	p := NewPromise[U]()
	next, _ := p.Future()

	run := func(t Try[T]) {
		p.SetResult(safeApply(fn, t))
	}
	attachContinuation(f.state, exec, run)
	return next
}

// ThenValue is sugar over Then for the common case of a continuation
// that only cares about the success value and returns a plain (U,
// error) pair instead of a Try[U]. An incoming error short-circuits:
// fn never runs and the error propagates to the next future.
func ThenValue[T, U any](f *Future[T], fn func(T) (U, error)) *Future[U] {
	return Then(f, func(t Try[T]) Try[U] {
		if t.HasError() {
			return Failed[U](t.Err)
		}
		v, err := fn(t.Value)
		if err != nil {
			return Failed[U](err)
		}
		return Ok(v)
	})
}

// ThenFlat attaches a continuation whose own result is another
// Future[U] (monadic flattening): the returned Future[U] resolves
// when the inner future fn produces does, not when fn merely returns.
// This is the "F returns another future type" branch of the original
// _ThenImpl.
func ThenFlat[T, U any](f *Future[T], fn func(Try[T]) *Future[U]) *Future[U] {
	p := NewPromise[U]()
	next, _ := p.Future()

	run := func(t Try[T]) {
		inner := safeApplyFuture(fn, t)
		attachContinuation(inner.state, nil, func(u Try[U]) {
			p.SetResult(u)
		})
	}
	attachContinuation(f.state, nil, run)
	return next
}

// safeApply runs fn, turning a panic into a failed Try the same way
// the original's WrapWithTry turns a thrown exception into Try<T>.
func safeApply[T, U any](fn func(Try[T]) Try[U], t Try[T]) (result Try[U]) {
	defer func() {
		if r := recover(); r != nil {
			result = Failed[U](panicError(r))
		}
	}()
	return fn(t)
}

func safeApplyFuture[T, U any](fn func(Try[T]) *Future[U], t Try[T]) (result *Future[U]) {
	defer func() {
		if r := recover(); r != nil {
			result = NewFailed[U](panicError(r))
		}
	}()
	return fn(t)
}

func panicError(r any) error {
	if err, ok := r.(error); ok {
		return err
	}
	return errors.Errorf("future: continuation panicked: %v", r)
}
