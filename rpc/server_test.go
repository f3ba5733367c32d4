package rpc

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ananas-project/ananas/reactor"
)

func freeLoopbackAddr(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())
	return addr
}

func newTestGroup(t *testing.T) *reactor.Group {
	t.Helper()
	g, err := reactor.NewGroup(2, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	go g.Run(ctx)
	t.Cleanup(cancel)
	return g
}

func TestServerAndServiceStubPingRoundTrip(t *testing.T) {
	group := newTestGroup(t)
	addr := freeLoopbackAddr(t)

	server := NewServer(group, ServerConfig{}, nil)
	require.NoError(t, server.Listen(addr))
	t.Cleanup(func() { server.Close() })

	resolver := StaticResolver{Endpoints: []reactor.Endpoint{{Proto: reactor.ProtoTCP, Addr: addr}}}
	stub := NewServiceStub(HealthServiceName, resolver, nil)

	clientLoop := group.Next()
	chanFut := stub.Channel(clientLoop)

	var cc *ClientChannel
	waitFor(t, 2*time.Second, func() bool {
		if !chanFut.IsReady() {
			return false
		}
		r := chanFut.Get()
		require.NoError(t, r.Err)
		cc = r.Value
		return true
	})
	require.NotNil(t, cc)

	fut := Call(cc, HealthServiceName, "Ping", &PingRequest{Echo: "over-the-wire"}, func() *PingResponse { return &PingResponse{} })
	fut.Wait()
	result := fut.Get()
	require.NoError(t, result.Err)
	assert.Equal(t, "over-the-wire", result.Value.Echo)

	stats := server.Stats()
	assert.Equal(t, int64(1), stats[HealthServiceName])
}

func TestServiceStubFailsWithNoAvailableEndpoint(t *testing.T) {
	stub := NewServiceStub("Nope", StaticResolver{}, nil)
	group := newTestGroup(t)

	fut := stub.Channel(group.Next())
	fut.Wait()
	assert.ErrorIs(t, fut.Get().Err, ErrNoAvailableEndpoint)
}
