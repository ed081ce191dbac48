// File: protocol/command.go
// Author: momentics <momentics@gmail.com>
//
// Command payloads: a command byte followed by little-endian integers,
// NUL-terminated strings or a trailing blob.

package protocol

import (
	"bytes"
	"encoding/binary"
	"errors"
)

// Commands sent by clients.
const (
	CmdNewPlayer        byte = 0x80
	CmdReconnect        byte = 0x81
	CmdButton           byte = 0x82
	CmdKeepAlive        byte = 0x83
	CmdLeave            byte = 0x84
	CmdSendMessage      byte = 0x85
	CmdNewPrivatePlayer byte = 0x86
)

// Commands sent by the server.
const (
	CmdPlayerID      byte = 0x00
	CmdMessage       byte = 0x01
	CmdGameType      byte = 0x02
	CmdPrivateGameID byte = 0x03
)

var (
	ErrNoSpace      = errors.New("command does not fit in buffer")
	ErrShortPayload = errors.New("payload too short")
	ErrNoTerminator = errors.New("string without NUL terminator")
	ErrTrailingData = errors.New("unexpected trailing payload data")
)

type fieldKind uint8

const (
	kindUint8 fieldKind = iota
	kindUint16
	kindUint32
	kindUint64
	kindString
	kindBlob
)

// Field is one typed value of a command payload.
type Field struct {
	kind fieldKind
	num  uint64
	str  string
	blob []byte
}

func Uint8(v uint8) Field   { return Field{kind: kindUint8, num: uint64(v)} }
func Uint16(v uint16) Field { return Field{kind: kindUint16, num: uint64(v)} }
func Uint32(v uint32) Field { return Field{kind: kindUint32, num: uint64(v)} }
func Uint64(v uint64) Field { return Field{kind: kindUint64, num: v} }

// String is encoded with a trailing NUL.
func String(s string) Field { return Field{kind: kindString, str: s} }

// Blob is copied verbatim.
func Blob(b []byte) Field { return Field{kind: kindBlob, blob: b} }

func (f Field) size() int {
	switch f.kind {
	case kindUint8:
		return 1
	case kindUint16:
		return 2
	case kindUint32:
		return 4
	case kindUint64:
		return 8
	case kindString:
		return len(f.str) + 1
	}
	return len(f.blob)
}

func (f Field) append(dst []byte) []byte {
	switch f.kind {
	case kindUint8:
		return append(dst, byte(f.num))
	case kindUint16:
		return binary.LittleEndian.AppendUint16(dst, uint16(f.num))
	case kindUint32:
		return binary.LittleEndian.AppendUint32(dst, uint32(f.num))
	case kindUint64:
		return binary.LittleEndian.AppendUint64(dst, f.num)
	case kindString:
		return append(append(dst, f.str...), 0)
	}
	return append(dst, f.blob...)
}

// CommandLen returns the framed size of a command.
func CommandLen(fields ...Field) int {
	n := 1
	for _, f := range fields {
		n += f.size()
	}
	return FrameHeaderLen(n) + n
}

// AppendCommand appends a framed command to dst. It never grows dst past
// cap(dst) and returns ErrNoSpace, with dst unchanged, instead.
func AppendCommand(dst []byte, cmd byte, fields ...Field) ([]byte, error) {
	payload := 1
	for _, f := range fields {
		payload += f.size()
	}
	if len(dst)+FrameHeaderLen(payload)+payload > cap(dst) {
		return dst, ErrNoSpace
	}

	var hdr [10]byte
	dst = append(dst, hdr[:PutFrameHeader(hdr[:], payload)]...)
	dst = append(dst, cmd)
	for _, f := range fields {
		dst = f.append(dst)
	}
	return dst, nil
}

// Reader decodes a command payload. The first error is sticky; check Err or
// Done after reading every field.
type Reader struct {
	buf []byte
	off int
	err error
}

// NewReader reads fields from payload, which excludes the command byte.
func NewReader(payload []byte) *Reader { return &Reader{buf: payload} }

func (r *Reader) take(n int) []byte {
	if r.err != nil {
		return nil
	}
	if len(r.buf)-r.off < n {
		r.err = ErrShortPayload
		return nil
	}
	b := r.buf[r.off : r.off+n]
	r.off += n
	return b
}

func (r *Reader) Uint8() uint8 {
	if b := r.take(1); b != nil {
		return b[0]
	}
	return 0
}

func (r *Reader) Uint16() uint16 {
	if b := r.take(2); b != nil {
		return binary.LittleEndian.Uint16(b)
	}
	return 0
}

func (r *Reader) Uint32() uint32 {
	if b := r.take(4); b != nil {
		return binary.LittleEndian.Uint32(b)
	}
	return 0
}

func (r *Reader) Uint64() uint64 {
	if b := r.take(8); b != nil {
		return binary.LittleEndian.Uint64(b)
	}
	return 0
}

// String reads up to and including the next NUL.
func (r *Reader) String() string {
	if r.err != nil {
		return ""
	}
	i := bytes.IndexByte(r.buf[r.off:], 0)
	if i < 0 {
		r.err = ErrNoTerminator
		return ""
	}
	s := string(r.buf[r.off : r.off+i])
	r.off += i + 1
	return s
}

// Rest returns every remaining byte.
func (r *Reader) Rest() []byte {
	if r.err != nil {
		return nil
	}
	b := r.buf[r.off:]
	r.off = len(r.buf)
	return b
}

// Err returns the first decoding error.
func (r *Reader) Err() error { return r.err }

// Done returns the first decoding error, or ErrTrailingData if unread bytes
// remain.
func (r *Reader) Done() error {
	if r.err == nil && r.off != len(r.buf) {
		r.err = ErrTrailingData
	}
	return r.err
}
