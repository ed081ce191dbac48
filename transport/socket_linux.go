//go:build linux
// +build linux

// File: transport/socket_linux.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Non-blocking TCP sockets on golang.org/x/sys/unix.

package transport

import (
	"errors"
	"fmt"
	"net"
	"strconv"

	"golang.org/x/sys/unix"

	"github.com/momentics/pcxd/api"
)

// DefaultPort is used when a listen address names no port.
const DefaultPort = 3648

const listenBacklog = 10

// Listen opens a non-blocking listening socket. addr is either a bare port,
// bound on the IPv6 wildcard with an IPv4 fallback, or host[:port] with a
// literal IP.
func Listen(addr string) (int, error) {
	if port, err := strconv.ParseUint(addr, 0, 16); err == nil {
		return listenPort(int(port))
	}

	host, portStr, err := net.SplitHostPort(addr)
	port := DefaultPort
	if err != nil {
		host = addr
	} else if p, perr := strconv.ParseUint(portStr, 10, 16); perr == nil {
		port = int(p)
	} else {
		return -1, invalidAddress(addr)
	}

	ip := net.ParseIP(trimBrackets(host))
	if ip == nil {
		return -1, invalidAddress(addr)
	}
	if ip4 := ip.To4(); ip4 != nil {
		sa := &unix.SockaddrInet4{Port: port}
		copy(sa.Addr[:], ip4)
		return listenSockaddr(unix.AF_INET, sa)
	}
	sa := &unix.SockaddrInet6{Port: port}
	copy(sa.Addr[:], ip.To16())
	return listenSockaddr(unix.AF_INET6, sa)
}

func trimBrackets(h string) string {
	if len(h) > 1 && h[0] == '[' && h[len(h)-1] == ']' {
		return h[1 : len(h)-1]
	}
	return h
}

func invalidAddress(addr string) error {
	return api.NewError(api.ErrCodeInvalidArgument, fmt.Sprintf("the listen address %s is invalid", addr)).
		Wrap(api.ErrInvalidArgument)
}

func listenPort(port int) (int, error) {
	fd, err := listenSockaddr(unix.AF_INET6, &unix.SockaddrInet6{Port: port})
	if err == nil {
		return fd, nil
	}
	// Some hosts disable IPv6.
	if !errors.Is(err, unix.EAFNOSUPPORT) && !errors.Is(err, unix.EPFNOSUPPORT) {
		return -1, err
	}
	return listenSockaddr(unix.AF_INET, &unix.SockaddrInet4{Port: port})
}

func listenSockaddr(family int, sa unix.Sockaddr) (int, error) {
	fd, err := unix.Socket(family, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return -1, fmt.Errorf("failed to create socket: %w", err)
	}
	_ = unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)

	if err := unix.Bind(fd, sa); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("failed to bind socket: %w", err)
	}
	if err := unix.Listen(fd, listenBacklog); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("failed to make socket listen: %w", err)
	}
	return fd, nil
}

// BoundPort returns the local port of a listening socket.
func BoundPort(fd int) (int, error) {
	sa, err := unix.Getsockname(fd)
	if err != nil {
		return 0, err
	}
	switch a := sa.(type) {
	case *unix.SockaddrInet4:
		return a.Port, nil
	case *unix.SockaddrInet6:
		return a.Port, nil
	}
	return 0, api.ErrNotSupported
}

// CloseSocket closes a descriptor returned by Listen.
func CloseSocket(fd int) error { return unix.Close(fd) }

// sockAddr renders the peer address and returns the raw bytes used to salt
// player ids.
func sockAddr(sa unix.Sockaddr) (string, []byte) {
	switch a := sa.(type) {
	case *unix.SockaddrInet4:
		salt := append([]byte{byte(a.Port), byte(a.Port >> 8)}, a.Addr[:]...)
		return net.JoinHostPort(net.IP(a.Addr[:]).String(), strconv.Itoa(a.Port)), salt
	case *unix.SockaddrInet6:
		salt := append([]byte{byte(a.Port), byte(a.Port >> 8)}, a.Addr[:]...)
		return net.JoinHostPort(net.IP(a.Addr[:]).String(), strconv.Itoa(a.Port)), salt
	}
	return "unknown", nil
}

func sysAccept(listenFD int) (int, string, []byte, error) {
	fd, sa, err := unix.Accept4(listenFD, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
	if err != nil {
		return -1, "", nil, err
	}
	remote, salt := sockAddr(sa)
	return fd, remote, salt, nil
}

func sysRead(fd int, p []byte) (int, error)  { return unix.Read(fd, p) }
func sysWrite(fd int, p []byte) (int, error) { return unix.Write(fd, p) }
func sysClose(fd int) error                  { return unix.Close(fd) }

// sockError returns the pending SO_ERROR of fd, or nil if unknown.
func sockError(fd int) error {
	v, err := unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_ERROR)
	if err != nil || v == 0 {
		return nil
	}
	return unix.Errno(v)
}

// temporary reports errors that only mean "try again on next readiness".
func temporary(err error) bool {
	return errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EINTR)
}

// IsFDExhausted reports whether an accept failed for lack of descriptors.
func IsFDExhausted(err error) bool {
	return errors.Is(err, unix.EMFILE) || errors.Is(err, unix.ENFILE)
}

// IsTemporary reports whether an accept may be retried on next readiness.
func IsTemporary(err error) bool {
	return temporary(err) || errors.Is(err, unix.ECONNABORTED)
}
