package reactor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func newTestLoop(t *testing.T) (*Loop, context.CancelFunc) {
	t.Helper()
	l, err := NewLoop(nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	go l.Run(ctx)
	t.Cleanup(cancel)
	return l, cancel
}

func socketpair(t *testing.T) (int, int) {
	t.Helper()
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_NONBLOCK, 0)
	require.NoError(t, err)
	return fds[0], fds[1]
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func TestConnectionDeliversIncomingBytesToOnMessage(t *testing.T) {
	loop, _ := newTestLoop(t)
	a, b := socketpair(t)

	var received []byte
	conn := NewConnection(loop, a, Endpoint{}, nil)
	conn.OnMessage = func(c *Connection, data []byte) int {
		received = append(received, data...)
		return len(data)
	}
	require.NoError(t, loop.Register(conn))

	_, err := unix.Write(b, []byte("hello"))
	require.NoError(t, err)

	waitFor(t, time.Second, func() bool { return len(received) == 5 })
	assert.Equal(t, "hello", string(received))
}

func TestSendPacketDeliversBytesToPeer(t *testing.T) {
	loop, _ := newTestLoop(t)
	a, b := socketpair(t)

	conn := NewConnection(loop, a, Endpoint{}, nil)
	require.NoError(t, loop.Register(conn))

	done := make(chan struct{})
	loop.Execute(func() {
		conn.SendPacket([]byte("ping"))
		close(done)
	})
	<-done

	buf := make([]byte, 16)
	waitFor(t, time.Second, func() bool {
		n, err := unix.Read(b, buf)
		return err == nil && n > 0
	})
}

func TestActiveCloseWithEmptyQueueClosesImmediately(t *testing.T) {
	loop, _ := newTestLoop(t)
	a, _ := socketpair(t)

	var disconnected bool
	conn := NewConnection(loop, a, Endpoint{}, nil)
	conn.OnDisconnect = func(c *Connection) { disconnected = true }
	require.NoError(t, loop.Register(conn))

	done := make(chan struct{})
	loop.Execute(func() {
		conn.ActiveClose()
		close(done)
	})
	<-done

	assert.Equal(t, StateClosed, conn.State())
	assert.True(t, disconnected)
}

func TestHighWaterFiresOnRisingEdge(t *testing.T) {
	loop, _ := newTestLoop(t)
	a, _ := socketpair(t)

	conn := NewConnection(loop, a, Endpoint{}, nil)
	conn.highWater = 8

	var transitions []bool
	conn.OnHighWater = func(c *Connection, above bool) {
		transitions = append(transitions, above)
	}

	done := make(chan struct{})
	loop.Execute(func() {
		conn.sendBuf.Push(make([]byte, 4))
		conn.checkHighWater()
		conn.sendBuf.Push(make([]byte, 10))
		conn.checkHighWater()
		close(done)
	})
	<-done

	require.Len(t, transitions, 1)
	assert.True(t, transitions[0])
}
