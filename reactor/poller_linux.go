//go:build linux

package reactor

import (
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// epollPoller wraps an epoll instance in level-triggered mode. The fd
// itself is what epoll hands back on Poll, so cookie is accepted for
// interface symmetry with the kqueue backend but not stored.
type epollPoller struct {
	epfd int
}

func newPoller() (poller, error) {
	fd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, errors.Wrap(err, "reactor: epoll_create1")
	}
	return &epollPoller{epfd: fd}, nil
}

func toEpollEvents(mask Event) uint32 {
	var e uint32
	if mask.Has(EventRead) {
		e |= unix.EPOLLIN
	}
	if mask.Has(EventWrite) {
		e |= unix.EPOLLOUT
	}
	return e
}

func (p *epollPoller) Register(fd int, mask Event, _ uint64) error {
	ev := unix.EpollEvent{Events: toEpollEvents(mask), Fd: int32(fd)}
	err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, fd, &ev)
	if errors.Is(err, unix.EEXIST) {
		err = unix.EpollCtl(p.epfd, unix.EPOLL_CTL_MOD, fd, &ev)
	}
	if err != nil {
		return errors.Wrap(err, "reactor: epoll_ctl add")
	}
	return nil
}

func (p *epollPoller) Modify(fd int, mask Event, _ uint64) error {
	ev := unix.EpollEvent{Events: toEpollEvents(mask), Fd: int32(fd)}
	err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_MOD, fd, &ev)
	if errors.Is(err, unix.ENOENT) {
		err = unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, fd, &ev)
	}
	if err != nil {
		return errors.Wrap(err, "reactor: epoll_ctl mod")
	}
	return nil
}

func (p *epollPoller) Unregister(fd int, _ Event) error {
	err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, nil)
	if err != nil && !errors.Is(err, unix.ENOENT) {
		return errors.Wrap(err, "reactor: epoll_ctl del")
	}
	return nil
}

func (p *epollPoller) Poll(max int, timeout time.Duration) ([]PollEvent, error) {
	if max <= 0 {
		max = 128
	}
	raw := make([]unix.EpollEvent, max)
	ms := int(timeout / time.Millisecond)
	if timeout > 0 && ms == 0 {
		ms = 1
	}
	n, err := unix.EpollWait(p.epfd, raw, ms)
	if err != nil {
		if errors.Is(err, unix.EINTR) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "reactor: epoll_wait")
	}

	out := make([]PollEvent, 0, n)
	for i := 0; i < n; i++ {
		ev := raw[i]
		var mask Event
		if ev.Events&(unix.EPOLLIN|unix.EPOLLHUP|unix.EPOLLRDHUP) != 0 {
			mask |= EventRead
		}
		if ev.Events&unix.EPOLLOUT != 0 {
			mask |= EventWrite
		}
		if ev.Events&unix.EPOLLERR != 0 {
			mask |= EventError
		}
		out = append(out, PollEvent{Fd: int(ev.Fd), Events: mask})
	}
	return out, nil
}

func (p *epollPoller) Close() error {
	return unix.Close(p.epfd)
}
