//go:build linux
// +build linux

// File: reactor/poller_linux.go
// Author: momentics <momentics@gmail.com>
//
// Linux poll(2) backend and self-pipe built on golang.org/x/sys/unix.

package reactor

import (
	"errors"
	"unsafe"

	"golang.org/x/sys/unix"
)

type systemPoller struct{}

// NewSystemPoller returns the poll(2) backend.
func NewSystemPoller() (Poller, error) { return systemPoller{}, nil }

// Poll hands the array to poll(2) in place; PollFd shares the layout of
// unix.PollFd.
func (systemPoller) Poll(fds []PollFd, timeoutMs int) (int, error) {
	var raw []unix.PollFd
	if len(fds) > 0 {
		raw = unsafe.Slice((*unix.PollFd)(unsafe.Pointer(&fds[0])), len(fds))
	}
	return unix.Poll(raw, timeoutMs)
}

type selfPipe struct {
	fds [2]int
}

func newSelfPipe() (selfPipe, error) {
	var p selfPipe
	if err := unix.Pipe2(p.fds[:], unix.O_NONBLOCK|unix.O_CLOEXEC); err != nil {
		return p, err
	}
	return p, nil
}

func (p selfPipe) readFD() int { return p.fds[0] }

// write never blocks; a full pipe already guarantees a pending wakeup.
func (p selfPipe) write(b byte) {
	buf := [1]byte{b}
	for {
		_, err := unix.Write(p.fds[1], buf[:])
		if !errors.Is(err, unix.EINTR) {
			return
		}
	}
}

func (p selfPipe) read(buf []byte) (int, error) {
	return unix.Read(p.fds[0], buf)
}

func (p selfPipe) close() error {
	return errors.Join(unix.Close(p.fds[0]), unix.Close(p.fds[1]))
}
