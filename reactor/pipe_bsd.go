//go:build darwin || dragonfly || freebsd || netbsd || openbsd

package reactor

import (
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

func newSelfPipe() (*selfPipe, error) {
	fds := make([]int, 2)
	if err := unix.Pipe(fds); err != nil {
		return nil, errors.Wrap(err, "reactor: pipe")
	}
	for _, fd := range fds {
		if err := unix.SetNonblock(fd, true); err != nil {
			return nil, errors.Wrap(err, "reactor: set nonblock")
		}
		if _, err := unix.FcntlInt(uintptr(fd), unix.F_SETFD, unix.FD_CLOEXEC); err != nil {
			return nil, errors.Wrap(err, "reactor: set cloexec")
		}
	}
	return &selfPipe{readFd: fds[0], writeFd: fds[1]}, nil
}
