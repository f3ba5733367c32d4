//go:build darwin || dragonfly || freebsd || netbsd || openbsd

package reactor

import (
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// kqueuePoller wraps a kqueue instance. Unlike epoll, kqueue tracks
// read and write interest as two independent filters, so Register and
// Modify translate a single Event mask into an EV_ADD/EV_DELETE pair.
type kqueuePoller struct {
	kq int
}

func newPoller() (poller, error) {
	fd, err := unix.Kqueue()
	if err != nil {
		return nil, errors.Wrap(err, "reactor: kqueue")
	}
	return &kqueuePoller{kq: fd}, nil
}

func kqueueChanges(fd int, mask Event) []unix.Kevent_t {
	changes := make([]unix.Kevent_t, 0, 2)
	addOrDel := func(filter int16, want bool) {
		flags := uint16(unix.EV_DELETE)
		if want {
			flags = unix.EV_ADD | unix.EV_ENABLE
		}
		changes = append(changes, unix.Kevent_t{
			Ident:  uint64(fd),
			Filter: filter,
			Flags:  flags,
		})
	}
	addOrDel(unix.EVFILT_READ, mask.Has(EventRead))
	addOrDel(unix.EVFILT_WRITE, mask.Has(EventWrite))
	return changes
}

func (p *kqueuePoller) apply(fd int, mask Event) error {
	changes := kqueueChanges(fd, mask)
	_, err := unix.Kevent(p.kq, changes, nil, nil)
	if err != nil && !errors.Is(err, unix.ENOENT) {
		return errors.Wrap(err, "reactor: kevent register")
	}
	return nil
}

func (p *kqueuePoller) Register(fd int, mask Event, _ uint64) error {
	return p.apply(fd, mask)
}

func (p *kqueuePoller) Modify(fd int, mask Event, _ uint64) error {
	return p.apply(fd, mask)
}

func (p *kqueuePoller) Unregister(fd int, _ Event) error {
	return p.apply(fd, 0)
}

func (p *kqueuePoller) Poll(max int, timeout time.Duration) ([]PollEvent, error) {
	if max <= 0 {
		max = 128
	}
	raw := make([]unix.Kevent_t, max)
	var ts *unix.Timespec
	if timeout >= 0 {
		spec := unix.NsecToTimespec(timeout.Nanoseconds())
		ts = &spec
	}

	n, err := unix.Kevent(p.kq, nil, raw, ts)
	if err != nil {
		if errors.Is(err, unix.EINTR) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "reactor: kevent wait")
	}

	byFd := make(map[int]*PollEvent, n)
	out := make([]PollEvent, 0, n)
	for i := 0; i < n; i++ {
		ev := raw[i]
		fd := int(ev.Ident)
		pe, ok := byFd[fd]
		if !ok {
			out = append(out, PollEvent{Fd: fd})
			pe = &out[len(out)-1]
			byFd[fd] = pe
		}
		switch ev.Filter {
		case unix.EVFILT_READ:
			pe.Events |= EventRead
		case unix.EVFILT_WRITE:
			pe.Events |= EventWrite
		}
		if ev.Flags&unix.EV_ERROR != 0 {
			pe.Events |= EventError
		}
	}
	return out, nil
}

func (p *kqueuePoller) Close() error {
	return unix.Close(p.kq)
}
