package pool

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubmitReturnsValue(t *testing.T) {
	p := New(WithWorkers(2))
	defer p.Shutdown()

	fut := Submit(p, func() (int, error) { return 21 * 2, nil })
	res := fut.Get()
	require.NoError(t, res.Err)
	assert.Equal(t, 42, res.Value)
}

func TestSubmitPropagatesError(t *testing.T) {
	p := New()
	defer p.Shutdown()

	fut := Submit(p, func() (int, error) { return 0, assertErr })
	res := fut.Get()
	assert.ErrorIs(t, res.Err, assertErr)
}

func TestSubmitRecoversPanic(t *testing.T) {
	p := New()
	defer p.Shutdown()

	fut := Submit(p, func() (int, error) {
		panic("boom")
	})
	res := fut.Get()
	assert.Error(t, res.Err)
}

func TestTasksRunFIFOPerWorker(t *testing.T) {
	p := New(WithWorkers(1))
	defer p.Shutdown()

	var order []int
	var futs []interface{ Wait() }
	for i := 0; i < 5; i++ {
		i := i
		f := Submit(p, func() (int, error) {
			order = append(order, i)
			return i, nil
		})
		futs = append(futs, f)
	}
	for _, f := range futs {
		f.Wait()
	}

	assert.Equal(t, []int{0, 1, 2, 3, 4}, order)
}

func TestShutdownIsIdempotentAndDrains(t *testing.T) {
	p := New(WithWorkers(3))

	var done int32
	for i := 0; i < 20; i++ {
		Submit(p, func() (int, error) {
			atomic.AddInt32(&done, 1)
			return 0, nil
		})
	}

	p.Shutdown()
	p.Shutdown() // must not block or panic

	assert.EqualValues(t, 20, atomic.LoadInt32(&done))
}

func TestSubmitAfterShutdownFailsImmediately(t *testing.T) {
	p := New()
	p.Shutdown()

	fut := Submit(p, func() (int, error) { return 1, nil })
	res := fut.Get()
	assert.ErrorIs(t, res.Err, ErrPoolShutdown)
}

func TestExecuteRunsOnPool(t *testing.T) {
	p := New(WithWorkers(2))
	defer p.Shutdown()

	done := make(chan struct{})
	p.Execute(func() { close(done) })

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Execute did not run f")
	}
}

var assertErr = assertError("boom")

type assertError string

func (e assertError) Error() string { return string(e) }
