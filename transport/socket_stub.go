//go:build !linux
// +build !linux

// File: transport/socket_stub.go
// Author: momentics <momentics@gmail.com>

package transport

import "github.com/momentics/pcxd/api"

// DefaultPort is used when a listen address names no port.
const DefaultPort = 3648

func Listen(string) (int, error)        { return -1, api.ErrNotSupported }
func BoundPort(int) (int, error)        { return 0, api.ErrNotSupported }
func CloseSocket(int) error             { return api.ErrNotSupported }
func IsFDExhausted(error) bool          { return false }
func IsTemporary(error) bool            { return false }
func temporary(error) bool              { return false }
func sockError(int) error               { return nil }
func sysClose(int) error                { return api.ErrNotSupported }
func sysRead(int, []byte) (int, error)  { return 0, api.ErrNotSupported }
func sysWrite(int, []byte) (int, error) { return 0, api.ErrNotSupported }

func sysAccept(int) (int, string, []byte, error) {
	return -1, "", nil, api.ErrNotSupported
}
