package reactor

import (
	"sync/atomic"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// selfPipe wakes a blocked Poll call from another goroutine. It is
// registered like any other Channel but never carries application
// data; HandleRead just drains whatever was written to it.
type selfPipe struct {
	channelID
	readFd   int
	writeFd  int
	signaled atomic.Bool
}

func (p *selfPipe) Fd() int       { return p.readFd }
func (p *selfPipe) Events() Event { return EventRead }

// Notify wakes the loop at most once per poll iteration; redundant
// notifies before the pipe is drained are coalesced.
func (p *selfPipe) Notify() {
	if !p.signaled.CompareAndSwap(false, true) {
		return
	}
	var b [1]byte
	for {
		_, err := unix.Write(p.writeFd, b[:])
		if errors.Is(err, unix.EINTR) {
			continue
		}
		return
	}
}

func (p *selfPipe) HandleRead() bool {
	p.signaled.Store(false)
	var buf [64]byte
	for {
		n, err := unix.Read(p.readFd, buf[:])
		if n <= 0 || errors.Is(err, unix.EAGAIN) {
			return true
		}
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if err != nil {
			return true
		}
	}
}

func (p *selfPipe) HandleWrite() bool { return true }
func (p *selfPipe) HandleError()      {}

func (p *selfPipe) Close() error {
	err1 := unix.Close(p.readFd)
	err2 := unix.Close(p.writeFd)
	if err1 != nil {
		return err1
	}
	return err2
}
