package rpc

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/ananas-project/ananas/reactor"
)

func newTestLoop(t *testing.T) *reactor.Loop {
	t.Helper()
	l, err := reactor.NewLoop(nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	go l.Run(ctx)
	t.Cleanup(cancel)
	return l
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

// newChannelPair wires a ClientChannel and a ServerChannel on top of a
// connected socketpair, both driven by the same loop — enough to
// exercise the whole frame round trip without a real Listener/Connector.
func newChannelPair(t *testing.T, loop *reactor.Loop, lookup ServiceLookup) (*ClientChannel, *ServerChannel) {
	t.Helper()
	a, b := socketpair(t)

	var cc *ClientChannel
	var sc *ServerChannel
	done := make(chan struct{})
	loop.Execute(func() {
		clientConn := reactor.NewConnection(loop, a, reactor.Endpoint{}, nil)
		serverConn := reactor.NewConnection(loop, b, reactor.Endpoint{}, nil)
		require.NoError(t, loop.Register(clientConn))
		require.NoError(t, loop.Register(serverConn))

		cc = NewClientChannel(loop, clientConn, nil)
		sc = NewServerChannel(loop, serverConn, lookup, nil)
		close(done)
	})
	<-done
	return cc, sc
}

func TestHealthServicePingRoundTrip(t *testing.T) {
	loop := newTestLoop(t)
	health := NewHealthService()
	cc, _ := newChannelPair(t, loop, func(name string) (*Service, bool) {
		if name == HealthServiceName {
			return health, true
		}
		return nil, false
	})

	fut := Call(cc, HealthServiceName, "Ping", &PingRequest{Echo: "hi"}, func() *PingResponse { return &PingResponse{} })
	fut.Wait()
	result := fut.Get()
	require.NoError(t, result.Err)
	assert.Equal(t, "hi", result.Value.Echo)
}

func TestNoSuchMethodKeepsConnectionOpen(t *testing.T) {
	loop := newTestLoop(t)
	empty := NewService("S")
	health := NewHealthService()
	cc, _ := newChannelPair(t, loop, func(name string) (*Service, bool) {
		switch name {
		case "S":
			return empty, true
		case HealthServiceName:
			return health, true
		}
		return nil, false
	})

	fut := Call(cc, "S", "NoSuchMethod", &PingRequest{Echo: "x"}, func() *PingResponse { return &PingResponse{} })
	fut.Wait()
	result := fut.Get()
	require.Error(t, result.Err)
	assert.ErrorAs(t, result.Err, new(remoteError))

	// connection must still be usable — Ping on the health service
	// succeeds on the same channel right after the error response.
	fut2 := Call(cc, HealthServiceName, "Ping", &PingRequest{Echo: "again"}, func() *PingResponse { return &PingResponse{} })
	fut2.Wait()
	require.NoError(t, fut2.Get().Err)
}

func TestNoSuchServiceError(t *testing.T) {
	loop := newTestLoop(t)
	cc, _ := newChannelPair(t, loop, func(string) (*Service, bool) { return nil, false })

	fut := Call(cc, "Nope", "M", &PingRequest{}, func() *PingResponse { return &PingResponse{} })
	fut.Wait()
	require.Error(t, fut.Get().Err)
}

func TestDisconnectFailsAllPendingCalls(t *testing.T) {
	loop := newTestLoop(t)
	health := NewHealthService()
	cc, sc := newChannelPair(t, loop, func(name string) (*Service, bool) {
		if name == HealthServiceName {
			return health, true
		}
		return nil, false
	})

	// Leave one call pending, then close the client's own connection
	// before the response can be read back.
	fut := Call(cc, HealthServiceName, "Ping", &PingRequest{Echo: "bye"}, func() *PingResponse { return &PingResponse{} })

	done := make(chan struct{})
	loop.Execute(func() {
		// the client connection goes away with the call still pending,
		// so the pending future is failed rather than answered.
		_ = sc
		cc.conn.ActiveClose()
		close(done)
	})
	<-done

	waitFor(t, time.Second, func() bool { return fut.IsReady() })
	assert.ErrorIs(t, fut.Get().Err, ErrConnectionReset)
}

func TestServerDispatchesTwoFramesArrivingInOneRead(t *testing.T) {
	loop := newTestLoop(t)
	health := NewHealthService()

	a, b := socketpair(t)
	var sc *ServerChannel
	done := make(chan struct{})
	loop.Execute(func() {
		serverConn := reactor.NewConnection(loop, b, reactor.Endpoint{}, nil)
		require.NoError(t, loop.Register(serverConn))
		sc = NewServerChannel(loop, serverConn, func(name string) (*Service, bool) {
			if name == HealthServiceName {
				return health, true
			}
			return nil, false
		}, nil)
		close(done)
	})
	<-done
	_ = sc

	f1, err := encodeFrame(&Frame{Kind: KindRequest, RequestID: 1, ServiceName: HealthServiceName, MethodName: "Ping", Payload: mustMarshal(t, &PingRequest{Echo: "a"})})
	require.NoError(t, err)
	f2, err := encodeFrame(&Frame{Kind: KindRequest, RequestID: 2, ServiceName: HealthServiceName, MethodName: "Ping", Payload: mustMarshal(t, &PingRequest{Echo: "b"})})
	require.NoError(t, err)

	both := append(append([]byte{}, f1...), f2...)
	_, err = unix.Write(a, both)
	require.NoError(t, err)

	buf := make([]byte, 256)
	var total int
	waitFor(t, time.Second, func() bool {
		n, rerr := unix.Read(a, buf[total:])
		if rerr == nil && n > 0 {
			total += n
		}
		// the two responses are shorter than the two requests, so wait
		// until both whole response frames have arrived.
		r1, n1, _ := tryDecodeFrame(buf[:total])
		if r1 == nil {
			return false
		}
		r2, _, _ := tryDecodeFrame(buf[n1:total])
		return r2 != nil
	})

	r1, n1, err := tryDecodeFrame(buf[:total])
	require.NoError(t, err)
	require.NotNil(t, r1)
	assert.Equal(t, int64(1), r1.RequestID)
	r2, _, err := tryDecodeFrame(buf[n1:total])
	require.NoError(t, err)
	require.NotNil(t, r2)
	assert.Equal(t, int64(2), r2.RequestID)
}

func TestServerDispatchesViaMethodSelectorWhenMethodNameEmpty(t *testing.T) {
	loop := newTestLoop(t)

	svc := NewService("Echo")
	svc.DecodeDefault = func() Message { return &PingRequest{} }
	svc.Selector = func(req Message) string {
		if req.(*PingRequest).Echo == "selected" {
			return "Ping"
		}
		return ""
	}
	svc.AddMethod(Method{
		Name:       "Ping",
		NewRequest: func() Message { return &PingRequest{} },
		Handler: func(req Message, rw ResponseWriter) {
			rw.Done(&PingResponse{Echo: req.(*PingRequest).Echo})
		},
	})

	a, b := socketpair(t)
	done := make(chan struct{})
	loop.Execute(func() {
		serverConn := reactor.NewConnection(loop, b, reactor.Endpoint{}, nil)
		require.NoError(t, loop.Register(serverConn))
		NewServerChannel(loop, serverConn, func(name string) (*Service, bool) {
			if name == "Echo" {
				return svc, true
			}
			return nil, false
		}, nil)
		close(done)
	})
	<-done

	// no MethodName set: routing goes through svc.Selector instead.
	req, err := encodeFrame(&Frame{Kind: KindRequest, RequestID: 7, ServiceName: "Echo", Payload: mustMarshal(t, &PingRequest{Echo: "selected"})})
	require.NoError(t, err)
	_, err = unix.Write(a, req)
	require.NoError(t, err)

	buf := make([]byte, 256)
	var total int
	waitFor(t, time.Second, func() bool {
		n, rerr := unix.Read(a, buf[total:])
		if rerr == nil && n > 0 {
			total += n
		}
		return total > 0
	})

	rsp, _, err := tryDecodeFrame(buf[:total])
	require.NoError(t, err)
	require.NotNil(t, rsp)
	assert.Equal(t, int64(7), rsp.RequestID)
	assert.Zero(t, rsp.ErrorCode)

	var out PingResponse
	require.NoError(t, out.Unmarshal(rsp.Payload))
	assert.Equal(t, "selected", out.Echo)
}

func mustMarshal(t *testing.T, m Message) []byte {
	t.Helper()
	b, err := m.Marshal()
	require.NoError(t, err)
	return b
}
