package future

import "sync"

// IndexedTry pairs a Try[T] with the index of the input future it
// came from, as returned by WhenAny/WhenIfAny/WhenN/WhenIfN.
type IndexedTry[T any] struct {
	Index int
	Try   Try[T]
}

// WhenAllSlice resolves once every future in futs has resolved,
// preserving input order: result[i] is the Try for futs[i]. The
// mutex guarding the shared context is held only long enough to
// record one slot and check the completion count; it is released
// before the final resolve (and therefore before any downstream
// continuation runs).
func WhenAllSlice[T any](futs []*Future[T]) *Future[[]Try[T]] {
	p := NewPromise[[]Try[T]]()
	next, _ := p.Future()

	if len(futs) == 0 {
		p.SetValue(nil)
		return next
	}

	var mu sync.Mutex
	results := make([]Try[T], len(futs))
	remaining := len(futs)

	for i, f := range futs {
		i := i
		attachContinuation(f.state, nil, func(t Try[T]) {
			mu.Lock()
			results[i] = t
			remaining--
			done := remaining == 0
			mu.Unlock()

			if done {
				p.SetValue(results)
			}
		})
	}

	return next
}

// WhenAny resolves with the IndexedTry of whichever input future in
// futs settles first.
func WhenAny[T any](futs []*Future[T]) *Future[IndexedTry[T]] {
	return WhenIfAny(futs, func(Try[T]) bool { return true })
}

// WhenIfAny resolves with the IndexedTry of the first input future
// whose result satisfies pred. If none ever does (all inputs resolve
// without satisfying pred), the returned future fails with
// ErrNoneMatched once the last candidate has been evaluated.
func WhenIfAny[T any](futs []*Future[T], pred func(Try[T]) bool) *Future[IndexedTry[T]] {
	p := NewPromise[IndexedTry[T]]()
	next, _ := p.Future()

	if len(futs) == 0 {
		p.SetError(ErrNoneMatched)
		return next
	}

	var mu sync.Mutex
	var done bool
	remaining := len(futs)

	for i, f := range futs {
		i := i
		attachContinuation(f.state, nil, func(t Try[T]) {
			mu.Lock()
			remaining--
			if done || !pred(t) {
				isLast := remaining == 0 && !done
				mu.Unlock()
				if isLast {
					p.SetError(ErrNoneMatched)
				}
				return
			}
			done = true
			mu.Unlock()

			p.SetValue(IndexedTry[T]{Index: i, Try: t})
		})
	}

	return next
}

// WhenN resolves once the first k futures in futs have resolved (in
// completion order, not input order), regardless of their outcome.
func WhenN[T any](k int, futs []*Future[T]) *Future[[]IndexedTry[T]] {
	return WhenIfN(k, futs, func(Try[T]) bool { return true })
}

// WhenIfN resolves once k futures satisfying pred have resolved, or
// fails with ErrNoneMatched if fewer than k ever will (all inputs
// have settled and fewer than k matched).
func WhenIfN[T any](k int, futs []*Future[T], pred func(Try[T]) bool) *Future[[]IndexedTry[T]] {
	p := NewPromise[[]IndexedTry[T]]()
	next, _ := p.Future()

	if k <= 0 {
		p.SetValue(nil)
		return next
	}
	if k > len(futs) {
		p.SetError(ErrNoneMatched)
		return next
	}

	var mu sync.Mutex
	var matched []IndexedTry[T]
	remaining := len(futs)
	var settled bool

	for i, f := range futs {
		i := i
		attachContinuation(f.state, nil, func(t Try[T]) {
			mu.Lock()
			remaining--
			if settled {
				mu.Unlock()
				return
			}
			if pred(t) {
				matched = append(matched, IndexedTry[T]{Index: i, Try: t})
			}

			switch {
			case len(matched) == k:
				settled = true
				result := matched
				mu.Unlock()
				p.SetValue(result)
			case remaining == 0:
				settled = true
				mu.Unlock()
				p.SetError(ErrNoneMatched)
			default:
				mu.Unlock()
			}
		})
	}

	return next
}

// Try2 is the heterogeneous pair result of WhenAll2 — the Go rendering
// of the original's variadic tuple WhenAll, capped at a fixed arity
// since Go generics have no parameter packs.
type Try2[A, B any] struct {
	A Try[A]
	B Try[B]
}

// WhenAll2 resolves once both fa and fb have resolved, regardless of
// completion order; the result always reports A before B.
func WhenAll2[A, B any](fa *Future[A], fb *Future[B]) *Future[Try2[A, B]] {
	p := NewPromise[Try2[A, B]]()
	next, _ := p.Future()

	var mu sync.Mutex
	var result Try2[A, B]
	remaining := 2

	attachContinuation(fa.state, nil, func(t Try[A]) {
		mu.Lock()
		result.A = t
		remaining--
		done := remaining == 0
		r := result
		mu.Unlock()
		if done {
			p.SetValue(r)
		}
	})
	attachContinuation(fb.state, nil, func(t Try[B]) {
		mu.Lock()
		result.B = t
		remaining--
		done := remaining == 0
		r := result
		mu.Unlock()
		if done {
			p.SetValue(r)
		}
	})

	return next
}

// Try3 is the three-way analogue of Try2.
type Try3[A, B, C any] struct {
	A Try[A]
	B Try[B]
	C Try[C]
}

// WhenAll3 resolves once fa, fb and fc have all resolved.
func WhenAll3[A, B, C any](fa *Future[A], fb *Future[B], fc *Future[C]) *Future[Try3[A, B, C]] {
	p := NewPromise[Try3[A, B, C]]()
	next, _ := p.Future()

	var mu sync.Mutex
	var result Try3[A, B, C]
	remaining := 3

	settle := func() {
		done := remaining == 0
		r := result
		if done {
			mu.Unlock()
			p.SetValue(r)
		} else {
			mu.Unlock()
		}
	}

	attachContinuation(fa.state, nil, func(t Try[A]) {
		mu.Lock()
		result.A = t
		remaining--
		settle()
	})
	attachContinuation(fb.state, nil, func(t Try[B]) {
		mu.Lock()
		result.B = t
		remaining--
		settle()
	})
	attachContinuation(fc.state, nil, func(t Try[C]) {
		mu.Lock()
		result.C = t
		remaining--
		settle()
	})

	return next
}
