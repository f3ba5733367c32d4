package reactor

import (
	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/ananas-project/ananas/buffer"
)

// ConnState is the lifecycle a Connection moves through. Every
// transition is one-way; Closed is terminal.
type ConnState int32

const (
	StateNone ConnState = iota
	StateConnected
	StateCloseWaitWrite // ActiveClose issued with data still queued
	StatePassiveClose   // peer sent EOF
	StateActiveClose    // we initiated close and the queue was already empty
	StateError
	StateClosed
)

func (s ConnState) String() string {
	switch s {
	case StateNone:
		return "none"
	case StateConnected:
		return "connected"
	case StateCloseWaitWrite:
		return "close-wait-write"
	case StatePassiveClose:
		return "passive-close"
	case StateActiveClose:
		return "active-close"
	case StateError:
		return "error"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

const defaultHighWater = 64 << 20 // 64MiB of unsent data

// Connection wraps one connected stream socket: a recv buffer fed by
// the poller's Read readiness, a send queue drained by Write
// readiness, and the state machine described in ConnState.
type Connection struct {
	channelID
	log  *zap.Logger
	fd   int
	loop *Loop

	peer Endpoint

	recvBuf        *buffer.Buffer
	sendBuf        *buffer.Buffer
	minPacketSize  int
	maxPacketSize  int
	highWater      int
	aboveHighWater bool

	state ConnState

	OnConnect       func(c *Connection)
	OnMessage       func(c *Connection, data []byte) (consumed int)
	OnDisconnect    func(c *Connection)
	OnFail          func(c *Connection, err error)
	OnWriteComplete func(c *Connection)
	OnHighWater     func(c *Connection, aboveMark bool)

	disconnectFired bool
	failFired       bool
}

// NewConnection wraps an already-connected, non-blocking fd.
func NewConnection(loop *Loop, fd int, peer Endpoint, log *zap.Logger) *Connection {
	if log == nil {
		log = zap.NewNop()
	}
	return &Connection{
		loop:          loop,
		fd:            fd,
		peer:          peer,
		log:           log,
		recvBuf:       buffer.New(),
		sendBuf:       buffer.New(),
		maxPacketSize: 64 << 20,
		highWater:     defaultHighWater,
		state:         StateConnected,
	}
}

func (c *Connection) Fd() int { return c.fd }

// fireOnConnect is invoked by Loop.Register once this connection has
// been added to the poller.
func (c *Connection) fireOnConnect() {
	if c.OnConnect != nil {
		c.OnConnect(c)
	}
}

// Events reports the poller interest this connection currently wants:
// Read unless the send queue is non-empty, in which case Read|Write.
func (c *Connection) Events() Event {
	ev := EventRead
	if !c.sendBuf.IsEmpty() {
		ev |= EventWrite
	}
	return ev
}

// State returns the connection's current lifecycle state.
func (c *Connection) State() ConnState { return c.state }

// Peer returns the remote endpoint this connection was established
// with.
func (c *Connection) Peer() Endpoint { return c.peer }

// SendPacket appends data to the send queue and attempts to drain it
// immediately if the queue was empty (the rising edge from idle to
// busy); it returns false once the connection has reached Closed.
func (c *Connection) SendPacket(data []byte) bool {
	if c.state == StateClosed || c.state == StateError {
		return false
	}
	wasEmpty := c.sendBuf.IsEmpty()
	if _, err := c.sendBuf.Push(data); err != nil {
		c.fail(err)
		return false
	}
	c.checkHighWater()

	if wasEmpty {
		if !c.flush() {
			return true // fail() already handled teardown
		}
	}
	if !c.sendBuf.IsEmpty() {
		c.loop.Modify(c)
	}
	return true
}

func (c *Connection) checkHighWater() {
	above := c.sendBuf.Readable() >= c.highWater
	if above != c.aboveHighWater {
		c.aboveHighWater = above
		if c.OnHighWater != nil {
			c.OnHighWater(c, above)
		}
	}
}

// flush attempts to write out as much of the send queue as the socket
// will currently accept. It returns false if the connection was torn
// down as a result (a non-EAGAIN write error).
func (c *Connection) flush() bool {
	for !c.sendBuf.IsEmpty() {
		chunk := c.sendBuf.ReadAddr()
		n, err := unix.Write(c.fd, chunk)
		if n > 0 {
			c.sendBuf.Consume(n)
			c.checkHighWater()
		}
		if err != nil {
			if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
				break
			}
			if err == unix.EINTR {
				continue
			}
			c.fail(err)
			return false
		}
		if n == 0 {
			break
		}
	}
	if c.sendBuf.IsEmpty() {
		if c.OnWriteComplete != nil {
			c.OnWriteComplete(c)
		}
		if c.state == StateCloseWaitWrite {
			c.closeNow()
		}
	}
	return true
}

// ActiveClose starts (or completes) a graceful close: if the send
// queue is already empty the connection closes immediately, otherwise
// it transitions to CloseWaitWrite and closes once the queue drains.
func (c *Connection) ActiveClose() {
	if c.state != StateConnected {
		return
	}
	if c.sendBuf.IsEmpty() {
		c.state = StateActiveClose
		c.closeNow()
		return
	}
	c.state = StateCloseWaitWrite
}

// HandleRead reads available bytes into recvBuf and repeatedly invokes
// OnMessage until it stops consuming; an OnMessage that returns 0 on a
// non-empty buffer means "wait for more bytes", not an error.
func (c *Connection) HandleRead() bool {
	var buf [64 * 1024]byte
	for {
		n, err := unix.Read(c.fd, buf[:])
		switch {
		case n > 0:
			if _, perr := c.recvBuf.Push(buf[:n]); perr != nil {
				c.fail(perr)
				return false
			}
		case n == 0:
			c.passiveClose()
			return false
		}
		if err != nil {
			if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
				break
			}
			if err == unix.EINTR {
				continue
			}
			c.fail(err)
			return false
		}
		if n == 0 {
			break
		}
		if n < len(buf) {
			break
		}
	}

	c.deliverMessages()
	return c.state == StateConnected
}

func (c *Connection) deliverMessages() {
	if c.OnMessage == nil {
		return
	}
	for {
		avail := c.recvBuf.Readable()
		if avail == 0 || avail < c.minPacketSize {
			return
		}
		consumed := c.OnMessage(c, c.recvBuf.ReadAddr())
		if consumed <= 0 {
			return
		}
		c.recvBuf.Consume(consumed)
	}
}

// HandleWrite drains whatever the socket will currently accept from
// the send queue.
func (c *Connection) HandleWrite() bool {
	if !c.flush() {
		return false
	}
	if c.sendBuf.IsEmpty() {
		c.loop.Modify(c)
	}
	return c.state == StateConnected || c.state == StateCloseWaitWrite
}

// HandleError tears the connection down as a syscall-level failure.
func (c *Connection) HandleError() {
	errno, _ := unix.GetsockoptInt(c.fd, unix.SOL_SOCKET, unix.SO_ERROR)
	c.fail(unix.Errno(errno))
}

func (c *Connection) passiveClose() {
	c.state = StatePassiveClose
	c.closeNow()
}

func (c *Connection) fail(err error) {
	c.state = StateError
	c.fireDisconnectAndFail(err)
	c.teardownSocket()
}

func (c *Connection) closeNow() {
	prev := c.state
	c.state = StateClosed
	if prev != StateError {
		c.fireDisconnectAndFail(nil)
	}
	c.teardownSocket()
}

// fireDisconnectAndFail invokes OnDisconnect then, if err != nil,
// OnFail — each exactly once per connection regardless of how many
// teardown paths converge on it.
func (c *Connection) fireDisconnectAndFail(err error) {
	if !c.disconnectFired {
		c.disconnectFired = true
		if c.OnDisconnect != nil {
			c.OnDisconnect(c)
		}
	}
	if err != nil && !c.failFired {
		c.failFired = true
		if c.OnFail != nil {
			c.OnFail(c, err)
		}
	}
}

func (c *Connection) teardownSocket() {
	c.loop.Unregister(c)
	unix.Close(c.fd)
}
