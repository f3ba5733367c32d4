package reactor

import (
	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

type datagramEntry struct {
	dst  unix.Sockaddr
	data []byte
}

// DatagramSocket wraps a non-blocking UDP socket. Unlike Connection, a
// write to UDP is atomic — sendto either consumes the whole datagram
// or fails outright — so the send path is a flat FIFO with no partial
// writes to track.
type DatagramSocket struct {
	channelID
	log  *zap.Logger
	loop *Loop
	fd   int

	queue []datagramEntry

	OnMessage func(s *DatagramSocket, data []byte, src Endpoint)
	OnFail    func(s *DatagramSocket, err error)
}

// NewDatagramSocket binds a non-blocking UDP socket to addr
// ("host:port", host may be empty to bind all interfaces) and
// registers it on loop for Read readiness.
func NewDatagramSocket(loop *Loop, addr string, log *zap.Logger) (*DatagramSocket, error) {
	if log == nil {
		log = zap.NewNop()
	}
	sa, fam, err := resolveTCPAddr(addr)
	if err != nil {
		return nil, err
	}
	fd, err := unix.Socket(fam, unix.SOCK_DGRAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return nil, err
	}
	if err := unix.Bind(fd, sa); err != nil {
		unix.Close(fd)
		return nil, err
	}

	d := &DatagramSocket{log: log, loop: loop, fd: fd}
	if err := loop.Register(d); err != nil {
		unix.Close(fd)
		return nil, err
	}
	return d, nil
}

func (d *DatagramSocket) Fd() int { return d.fd }

func (d *DatagramSocket) Events() Event {
	ev := EventRead
	if len(d.queue) > 0 {
		ev |= EventWrite
	}
	return ev
}

// SendPacket sends data to dst, attempting sendto immediately if the
// queue was empty; otherwise the datagram is queued behind whatever
// is already pending.
func (d *DatagramSocket) SendPacket(dst Endpoint, data []byte) error {
	sa, _, err := resolveTCPAddr(dst.Addr)
	if err != nil {
		return err
	}
	if len(d.queue) == 0 {
		if d.trySend(sa, data) {
			return nil
		}
	}
	d.queue = append(d.queue, datagramEntry{dst: sa, data: data})
	d.loop.Modify(d)
	return nil
}

// trySend attempts one sendto; it returns true if the datagram was
// consumed (sent, or dropped after a hard failure) and false if it
// should be queued for later (EAGAIN).
func (d *DatagramSocket) trySend(dst unix.Sockaddr, data []byte) bool {
	err := unix.Sendto(d.fd, data, 0, dst)
	if err == nil {
		return true
	}
	if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
		return false
	}
	d.log.Warn("reactor: dropping datagram after sendto failure", zap.Error(err))
	if d.OnFail != nil {
		d.OnFail(d, err)
	}
	return true // drop: UDP sends are fire-and-forget
}

// HandleWrite drains the pending FIFO, one sendto per entry.
func (d *DatagramSocket) HandleWrite() bool {
	for len(d.queue) > 0 {
		e := d.queue[0]
		if !d.trySend(e.dst, e.data) {
			break
		}
		d.queue = d.queue[1:]
	}
	if len(d.queue) == 0 {
		d.loop.Modify(d)
	}
	return true
}

// HandleRead drains pending datagrams via recvfrom, invoking
// OnMessage once per datagram.
func (d *DatagramSocket) HandleRead() bool {
	var buf [64 * 1024]byte
	for {
		n, from, err := unix.Recvfrom(d.fd, buf[:], 0)
		if err != nil {
			if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
				return true
			}
			if err == unix.EINTR {
				continue
			}
			if d.OnFail != nil {
				d.OnFail(d, err)
			}
			return false
		}
		if d.OnMessage != nil {
			d.OnMessage(d, buf[:n], peerFromSockaddr(from))
		}
	}
}

func (d *DatagramSocket) HandleError() {
	if d.OnFail != nil {
		d.OnFail(d, ErrConnectionClosed)
	}
}

// Close unregisters and closes the socket.
func (d *DatagramSocket) Close() error {
	d.loop.Unregister(d)
	return unix.Close(d.fd)
}
