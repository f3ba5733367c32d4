package reactor

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func freeLoopbackAddr(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())
	return addr
}

func TestListenerAcceptAndConnectorRoundTrip(t *testing.T) {
	loop, _ := newTestLoop(t)
	addr := freeLoopbackAddr(t)

	accepted := make(chan int, 1)
	ln, err := Listen(loop, addr, nil)
	require.NoError(t, err)
	ln.OnAccept = func(fd int, peer Endpoint) { accepted <- fd }

	connected := make(chan int, 1)
	var clientFd int
	loop.Execute(func() {
		c, err := Connect(loop, Endpoint{Proto: ProtoTCP, Addr: addr}, time.Second, nil)
		require.NoError(t, err)
		c.OnConnected = func(fd int, peer Endpoint) { connected <- fd }
	})

	select {
	case clientFd = <-connected:
	case <-time.After(2 * time.Second):
		t.Fatal("connect never completed")
	}
	assert.NotZero(t, clientFd)

	select {
	case <-accepted:
	case <-time.After(2 * time.Second):
		t.Fatal("accept never fired")
	}
}

func TestConnectRefusedCallsOnFail(t *testing.T) {
	loop, _ := newTestLoop(t)
	addr := freeLoopbackAddr(t) // nothing listening on this port

	failed := make(chan error, 1)
	loop.Execute(func() {
		c, err := Connect(loop, Endpoint{Proto: ProtoTCP, Addr: addr}, 2*time.Second, nil)
		require.NoError(t, err)
		c.OnFail = func(peer Endpoint, err error) { failed <- err }
	})

	select {
	case err := <-failed:
		assert.Error(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("expected connect to fail")
	}
}
