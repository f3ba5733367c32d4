package reactor

import "github.com/pkg/errors"

// Errors surfaced by the reactor package's public operations. Socket
// errno-level detail is wrapped via github.com/pkg/errors rather than
// flattened into these sentinels, so callers that need it can still
// unwrap to the underlying syscall.Errno.
var (
	// ErrLoopClosed is returned by Register once the Loop has shut
	// down (its Run context was cancelled).
	ErrLoopClosed = errors.New("reactor: loop closed")

	// ErrChannelAlreadyRegistered is returned by Register when the
	// Channel already carries a non-zero id.
	ErrChannelAlreadyRegistered = errors.New("reactor: channel already registered")

	// ErrTooManyOpenFiles is returned by Register when fd+1 would
	// reach or exceed the process's RLIMIT_NOFILE soft limit.
	ErrTooManyOpenFiles = errors.New("reactor: too many open files")

	// ErrConnectTimeout is delivered to Connector.OnFail when a
	// connect attempt doesn't complete before its deadline.
	ErrConnectTimeout = errors.New("reactor: connect timeout")

	// ErrConnectionClosed is delivered to DatagramSocket.OnFail when
	// the poller reports an error condition on the socket.
	ErrConnectionClosed = errors.New("reactor: connection closed")
)
