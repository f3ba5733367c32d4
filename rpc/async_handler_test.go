package rpc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ananas-project/ananas/pool"
)

func TestAsyncHandlerRunsOffLoop(t *testing.T) {
	loop := newTestLoop(t)
	p := pool.New(pool.WithWorkers(2))
	t.Cleanup(p.Shutdown)

	svc := NewService("Echo")
	svc.AddMethod(Method{
		Name:       "Upper",
		NewRequest: func() Message { return &PingRequest{} },
		Handler: AsyncHandler(p, func(req Message) (Message, error) {
			ping := req.(*PingRequest)
			return &PingResponse{Echo: ping.Echo + "!"}, nil
		}),
	})

	cc, _ := newChannelPair(t, loop, func(name string) (*Service, bool) {
		if name == "Echo" {
			return svc, true
		}
		return nil, false
	})

	fut := Call(cc, "Echo", "Upper", &PingRequest{Echo: "go"}, func() *PingResponse { return &PingResponse{} })
	fut.Wait()
	result := fut.Get()
	require.NoError(t, result.Err)
	assert.Equal(t, "go!", result.Value.Echo)
}
