package reactor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseEndpointRoundTrip(t *testing.T) {
	e, err := ParseEndpoint("tcp://127.0.0.1:9090")
	require.NoError(t, err)
	assert.Equal(t, ProtoTCP, e.Proto)
	assert.Equal(t, "127.0.0.1:9090", e.Addr)
	assert.Equal(t, "tcp://127.0.0.1:9090", e.String())
}

func TestParseEndpointRejectsUnknownProto(t *testing.T) {
	_, err := ParseEndpoint("http://example.com:80")
	assert.Error(t, err)
}

func TestParseEndpointRejectsMissingScheme(t *testing.T) {
	_, err := ParseEndpoint("127.0.0.1:9090")
	assert.Error(t, err)
}

func TestEndpointEqual(t *testing.T) {
	a := Endpoint{Proto: ProtoTCP, Addr: "h:1"}
	b := Endpoint{Proto: ProtoTCP, Addr: "h:1"}
	c := Endpoint{Proto: ProtoUDP, Addr: "h:1"}
	assert.True(t, a.Equal(b))
	assert.False(t, a.Equal(c))
}
