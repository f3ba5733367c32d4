package reactor

import (
	"context"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Group owns a fixed set of Loops, each pinned to its own goroutine,
// and round-robins Next() across them — the analogue of handing every
// accepted connection to a different worker loop so no single loop's
// goroutine becomes the bottleneck.
type Group struct {
	loops  []*Loop
	cursor atomic.Uint64

	cancel context.CancelFunc
	eg     *errgroup.Group
}

// NewGroup builds n Loops and returns a Group ready for Run.
func NewGroup(n int, log *zap.Logger) (*Group, error) {
	if n < 1 {
		n = 1
	}
	loops := make([]*Loop, 0, n)
	for i := 0; i < n; i++ {
		l, err := NewLoop(log)
		if err != nil {
			for _, prev := range loops {
				prev.shutdown()
			}
			return nil, err
		}
		loops = append(loops, l)
	}
	return &Group{loops: loops}, nil
}

// Next returns the next Loop in round-robin order.
func (g *Group) Next() *Loop {
	i := g.cursor.Add(1) - 1
	return g.loops[i%uint64(len(g.loops))]
}

// Loops returns every Loop owned by the group, e.g. for a Listener
// that wants to register itself on loop 0 while handing accepted
// connections to Next().
func (g *Group) Loops() []*Loop {
	return g.loops
}

// Run starts every Loop on its own goroutine and blocks until ctx is
// cancelled or Shutdown is called, at which point it waits for all
// loops to return.
func (g *Group) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	g.cancel = cancel
	eg, egCtx := errgroup.WithContext(ctx)
	g.eg = eg

	for _, l := range g.loops {
		l := l
		eg.Go(func() error { return l.Run(egCtx) })
	}
	return eg.Wait()
}

// Shutdown cancels the group's context and waits for every Loop's
// goroutine to exit.
func (g *Group) Shutdown() error {
	if g.cancel != nil {
		g.cancel()
	}
	if g.eg != nil {
		return g.eg.Wait()
	}
	return nil
}
