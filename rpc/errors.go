package rpc

import "github.com/pkg/errors"

// Error taxonomy for the rpc layer. NoSuchService/NoSuchMethod/
// EmptyRequest/ThrowInMethod are all recoverable — the server replies
// with a framed error Response and keeps the connection open.
// DecodeFail and MethodUndetermined are not recoverable — they leave
// the stream unparseable and the connection is closed.
var (
	ErrNoSuchService      = errors.New("rpc: no such service")
	ErrNoSuchMethod       = errors.New("rpc: no such method")
	ErrEmptyRequest       = errors.New("rpc: empty request")
	ErrMethodUndetermined = errors.New("rpc: method could not be determined for frame")
	ErrDecodeFail         = errors.New("rpc: failed to decode message")
	ErrEncodeFail         = errors.New("rpc: failed to encode message")
	ErrThrowInMethod      = errors.New("rpc: method handler panicked")

	ErrConnectionLost      = errors.New("rpc: connection lost")
	ErrConnectionReset     = errors.New("rpc: connection reset, pending calls abandoned")
	ErrConnectRefused      = errors.New("rpc: connect refused")
	ErrNoAvailableEndpoint = errors.New("rpc: no available endpoint for service")
	ErrTimeout             = errors.New("rpc: call timed out")
)

// closesConnection reports whether err is one of the two protocol
// violations that end the TCP connection rather than just one call.
func closesConnection(err error) bool {
	return errors.Is(err, ErrDecodeFail) ||
		errors.Is(err, ErrMethodUndetermined) ||
		errors.Is(err, ErrFrameTooSmall) ||
		errors.Is(err, ErrFrameTooLarge)
}
