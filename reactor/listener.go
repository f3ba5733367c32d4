package reactor

import (
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"
	"golang.org/x/time/rate"
)

// Listener is a non-blocking bound+listening socket registered for
// Read readiness; each readiness notification drains Accept4 until
// EAGAIN.
type Listener struct {
	channelID
	log  *zap.Logger
	loop *Loop
	fd   int

	backoff *rate.Sometimes

	// OnAccept hands off a freshly accepted fd and its peer address to
	// the caller, which is expected to wrap it in a Connection on
	// whichever *Loop it chooses (typically via Group.Next().Execute).
	OnAccept func(fd int, peer Endpoint)
	// OnAcceptError reports a listener-fatal error; the listener
	// channel is torn down right after this fires.
	OnAcceptError func(err error)
}

// Listen creates a non-blocking TCP listener bound to addr
// ("host:port") and registers it on loop for Read readiness.
func Listen(loop *Loop, addr string, log *zap.Logger) (*Listener, error) {
	if log == nil {
		log = zap.NewNop()
	}
	sa, fam, err := resolveTCPAddr(addr)
	if err != nil {
		return nil, err
	}

	fd, err := unix.Socket(fam, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return nil, errors.Wrap(err, "reactor: socket")
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return nil, errors.Wrap(err, "reactor: setsockopt reuseaddr")
	}
	if err := unix.Bind(fd, sa); err != nil {
		unix.Close(fd)
		return nil, errors.Wrap(err, "reactor: bind")
	}
	if err := unix.Listen(fd, 1024); err != nil {
		unix.Close(fd)
		return nil, errors.Wrap(err, "reactor: listen")
	}

	l := &Listener{
		log:     log,
		loop:    loop,
		fd:      fd,
		backoff: &rate.Sometimes{Interval: 100 * time.Millisecond},
	}
	if err := loop.Register(l); err != nil {
		unix.Close(fd)
		return nil, err
	}
	return l, nil
}

func (l *Listener) Fd() int       { return l.fd }
func (l *Listener) Events() Event { return EventRead }

// HandleRead drains the accept queue. Retryable errors (EINTR,
// ECONNABORTED, EPROTO) are swallowed and accepting continues;
// resource-exhaustion errors (EMFILE, ENFILE, ENOBUFS, ENOMEM) are
// rate-limited and logged rather than closing the listener; any other
// error is reported via OnAcceptError and ends the listener.
func (l *Listener) HandleRead() bool {
	for {
		nfd, sa, err := unix.Accept4(l.fd, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
		if err != nil {
			switch err {
			case unix.EAGAIN, unix.EWOULDBLOCK:
				return true
			case unix.EINTR, unix.ECONNABORTED, unix.EPROTO:
				continue
			case unix.EMFILE, unix.ENFILE, unix.ENOBUFS, unix.ENOMEM:
				l.backoff.Do(func() {
					l.log.Warn("reactor: accept backing off", zap.Error(err))
				})
				return true
			default:
				if l.OnAcceptError != nil {
					l.OnAcceptError(errors.Wrap(err, "reactor: accept4"))
				}
				return false
			}
		}

		peer := peerFromSockaddr(sa)
		if l.OnAccept != nil {
			l.OnAccept(nfd, peer)
		} else {
			unix.Close(nfd)
		}
	}
}

func (l *Listener) HandleWrite() bool { return true }
func (l *Listener) HandleError() {
	if l.OnAcceptError != nil {
		l.OnAcceptError(errors.New("reactor: listener socket error"))
	}
}

// Close unregisters and closes the listening socket.
func (l *Listener) Close() error {
	l.loop.Unregister(l)
	return unix.Close(l.fd)
}
