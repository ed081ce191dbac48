// File: protocol/frame.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Frame header codec with payload size enforcement.

package protocol

import (
	"encoding/binary"
	"errors"
)

const (
	// MaxPayloadSize bounds every message payload, fragments included.
	MaxPayloadSize = 1024
	// MaxControlPayload is the RFC 6455 limit for control frames.
	MaxControlPayload = 125
	// MaxFrameHeaderLen is a header with 64-bit length and a mask.
	MaxFrameHeaderLen = 1 + 1 + 8 + 4
)

// Opcodes understood by the server.
const (
	OpContinuation byte = 0x0
	OpBinary       byte = 0x2
	OpClose        byte = 0x8
	OpPing         byte = 0x9
	OpPong         byte = 0xa
)

// binaryFin is FIN plus the binary opcode, the first byte of every data
// frame the server sends.
const binaryFin = 0x80 | OpBinary

var (
	ErrReservedBits = errors.New("frame with non-zero RSV bits")
	ErrLengthTopBit = errors.New("64-bit payload length with the top bit set")
)

// FrameHeader is a decoded client frame header.
type FrameHeader struct {
	Fin        bool
	Opcode     byte
	Masked     bool
	Mask       [4]byte
	PayloadLen uint64
	// Len is the encoded header size, mask included.
	Len int
}

// IsControl reports whether the opcode belongs to a control frame.
func (h FrameHeader) IsControl() bool { return h.Opcode&0x8 != 0 }

// FrameHeaderLen returns the header size for a server frame carrying n
// payload bytes.
func FrameHeaderLen(n int) int {
	switch {
	case n > 0xffff:
		return 2 + 8
	case n >= 126:
		return 2 + 2
	}
	return 2
}

// PutFrameHeader writes an unmasked binary frame header for n payload
// bytes into buf and returns the number of bytes written. buf must hold
// FrameHeaderLen(n) bytes.
func PutFrameHeader(buf []byte, n int) int {
	buf[0] = binaryFin
	switch {
	case n > 0xffff:
		buf[1] = 127
		binary.BigEndian.PutUint64(buf[2:], uint64(n))
		return 10
	case n >= 126:
		buf[1] = 126
		binary.BigEndian.PutUint16(buf[2:], uint16(n))
		return 4
	}
	buf[1] = byte(n)
	return 2
}

// AppendFrame appends a complete unmasked frame with the given first byte.
func AppendFrame(dst []byte, b0 byte, payload []byte) []byte {
	var hdr [10]byte
	n := PutFrameHeader(hdr[:], len(payload))
	hdr[0] = b0
	dst = append(dst, hdr[:n]...)
	return append(dst, payload...)
}

// ParseFrameHeader decodes the header at the start of buf. ok is false when
// buf does not yet hold the whole header.
func ParseFrameHeader(buf []byte) (h FrameHeader, ok bool, err error) {
	if len(buf) < 2 {
		return h, false, nil
	}
	if buf[0]&0x70 != 0 {
		return h, false, ErrReservedBits
	}
	h.Fin = buf[0]&0x80 != 0
	h.Opcode = buf[0] & 0x0f
	h.Masked = buf[1]&0x80 != 0
	h.PayloadLen = uint64(buf[1] & 0x7f)
	h.Len = 2

	switch h.PayloadLen {
	case 126:
		if len(buf) < h.Len+2 {
			return h, false, nil
		}
		h.PayloadLen = uint64(binary.BigEndian.Uint16(buf[h.Len:]))
		h.Len += 2
	case 127:
		if len(buf) < h.Len+8 {
			return h, false, nil
		}
		h.PayloadLen = binary.BigEndian.Uint64(buf[h.Len:])
		if h.PayloadLen>>63 != 0 {
			return h, false, ErrLengthTopBit
		}
		h.Len += 8
	}

	if h.Masked {
		if len(buf) < h.Len+4 {
			return h, false, nil
		}
		copy(h.Mask[:], buf[h.Len:h.Len+4])
		h.Len += 4
	}
	return h, true, nil
}

// Unmask XORs data in place with the frame mask.
func Unmask(mask [4]byte, data []byte) {
	for i := range data {
		data[i] ^= mask[i&3]
	}
}
