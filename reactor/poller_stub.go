//go:build !linux
// +build !linux

// File: reactor/poller_stub.go
// Author: momentics <momentics@gmail.com>
//
// Stub implementation for unsupported platforms.

package reactor

import "github.com/momentics/pcxd/api"

func NewSystemPoller() (Poller, error) { return nil, api.ErrNotSupported }

type selfPipe struct{}

func newSelfPipe() (selfPipe, error) { return selfPipe{}, api.ErrNotSupported }

func (selfPipe) readFD() int              { return -1 }
func (selfPipe) write(byte)               {}
func (selfPipe) read([]byte) (int, error) { return 0, api.ErrNotSupported }
func (selfPipe) close() error             { return nil }
