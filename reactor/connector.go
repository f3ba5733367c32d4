package reactor

import (
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/ananas-project/ananas/timer"
)

// DefaultConnectTimeout is the deadline a Connector arms when none is
// given explicitly.
const DefaultConnectTimeout = 3 * time.Second

// Connector drives one non-blocking connect() attempt. It is a
// transient Channel: it exists only until the connect resolves
// (success, refusal, or timeout), at which point it unregisters
// itself and hands the fd off (on success) or reports failure.
type Connector struct {
	channelID
	log  *zap.Logger
	loop *Loop
	fd   int
	peer Endpoint

	timeoutID timer.ID
	done      bool

	// OnConnected receives the connected fd; the caller is expected to
	// wrap it in a Connection.
	OnConnected func(fd int, peer Endpoint)
	// OnFail reports a connect failure or timeout exactly once.
	OnFail func(peer Endpoint, err error)
}

// Connect issues a non-blocking connect to peer ("host:port") and
// registers a Connector on loop; timeout defaults to
// DefaultConnectTimeout when zero.
func Connect(loop *Loop, peer Endpoint, timeout time.Duration, log *zap.Logger) (*Connector, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = DefaultConnectTimeout
	}

	sa, fam, err := resolveTCPAddr(peer.Addr)
	if err != nil {
		return nil, err
	}
	fd, err := unix.Socket(fam, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return nil, errors.Wrap(err, "reactor: socket")
	}

	c := &Connector{log: log, loop: loop, fd: fd, peer: peer}

	err = unix.Connect(fd, sa)
	if err == nil {
		// connected synchronously (loopback is common here); defer the
		// callback through Execute so it always runs on the loop
		// goroutine like every other completion path.
		loop.Execute(func() { c.succeed() })
		return c, nil
	}
	if err != unix.EINPROGRESS {
		unix.Close(fd)
		return nil, errors.Wrap(err, "reactor: connect")
	}

	if err := loop.Register(c); err != nil {
		unix.Close(fd)
		return nil, err
	}
	c.timeoutID = loop.ScheduleAfter(timeout, func() { c.fail(ErrConnectTimeout) })
	return c, nil
}

func (c *Connector) Fd() int       { return c.fd }
func (c *Connector) Events() Event { return EventWrite }

// HandleRead is never meaningfully reached (a Connector only ever
// registers for Write), but is required by the Channel interface.
func (c *Connector) HandleRead() bool { return true }

// HandleWrite fires when the connect attempt completes one way or
// the other; SO_ERROR distinguishes success from failure.
func (c *Connector) HandleWrite() bool {
	errno, err := unix.GetsockoptInt(c.fd, unix.SOL_SOCKET, unix.SO_ERROR)
	if err != nil {
		c.fail(err)
		return false
	}
	if errno != 0 {
		c.fail(unix.Errno(errno))
		return false
	}
	c.succeed()
	return false
}

func (c *Connector) HandleError() {
	errno, _ := unix.GetsockoptInt(c.fd, unix.SOL_SOCKET, unix.SO_ERROR)
	c.fail(unix.Errno(errno))
}

func (c *Connector) succeed() {
	if c.done {
		return
	}
	c.done = true
	c.cancelTimeout()
	c.loop.Unregister(c)
	if c.OnConnected != nil {
		c.OnConnected(c.fd, c.peer)
	}
}

func (c *Connector) fail(err error) {
	if c.done {
		return
	}
	c.done = true
	c.cancelTimeout()
	c.loop.Unregister(c)
	unix.Close(c.fd)
	if c.OnFail != nil {
		c.OnFail(c.peer, err)
	}
}

func (c *Connector) cancelTimeout() {
	if c.timeoutID != 0 {
		c.loop.CancelTimer(c.timeoutID)
	}
}
