package reactor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGroupNextRoundRobins(t *testing.T) {
	g, err := NewGroup(3, nil)
	require.NoError(t, err)

	seen := map[*Loop]int{}
	for i := 0; i < 6; i++ {
		seen[g.Next()]++
	}
	assert.Len(t, seen, 3)
	for _, count := range seen {
		assert.Equal(t, 2, count)
	}
}

func TestGroupRunAndShutdown(t *testing.T) {
	g, err := NewGroup(2, nil)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- g.Run(context.Background()) }()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, g.Shutdown())

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("group did not shut down")
	}
}
