//go:build linux

package reactor

import (
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

func newSelfPipe() (*selfPipe, error) {
	fds := make([]int, 2)
	if err := unix.Pipe2(fds, unix.O_NONBLOCK|unix.O_CLOEXEC); err != nil {
		return nil, errors.Wrap(err, "reactor: pipe2")
	}
	return &selfPipe{readFd: fds[0], writeFd: fds[1]}, nil
}
