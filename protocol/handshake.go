// File: protocol/handshake.go
// Author: momentics <momentics@gmail.com>
//
// Server side of the WebSocket opening handshake.

package protocol

import (
	"bufio"
	"bytes"
	"crypto/sha1"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
)

const (
	WebSocketGUID           = "258EAFA5-E914-47DA-95CA-C5AB0DC85B11"
	MaxHandshakeHeadersSize = 8192
	HeaderSecWebSocketKey   = "Sec-WebSocket-Key"
)

var (
	// ErrIncomplete means the request headers have not all arrived yet.
	ErrIncomplete            = errors.New("handshake incomplete")
	ErrHandshakeTooLarge     = errors.New("handshake headers too large")
	ErrMissingWebSocketKey   = errors.New("missing Sec-WebSocket-Key header")
	ErrDuplicateWebSocketKey = errors.New("multiple Sec-WebSocket-Key headers")
)

const responsePrefix = "HTTP/1.1 101 Switching Protocols\r\n" +
	"Upgrade: websocket\r\n" +
	"Connection: Upgrade\r\n" +
	"Sec-WebSocket-Accept: "

var headerEnd = []byte("\r\n\r\n")

// ComputeAcceptKey derives Sec-WebSocket-Accept from the client key.
func ComputeAcceptKey(key string) string {
	sum := sha1.Sum([]byte(key + WebSocketGUID))
	return base64.StdEncoding.EncodeToString(sum[:])
}

// Handshake consumes an upgrade request from the start of buf. It returns
// ErrIncomplete until the blank line ending the headers is present; on
// success consumed is the request length, and any bytes after it are
// already frame data.
func Handshake(buf []byte) (response []byte, consumed int, err error) {
	end := bytes.Index(buf, headerEnd)
	if end < 0 {
		if len(buf) >= MaxHandshakeHeadersSize {
			return nil, 0, ErrHandshakeTooLarge
		}
		return nil, 0, ErrIncomplete
	}
	consumed = end + len(headerEnd)

	req, err := http.ReadRequest(bufio.NewReader(bytes.NewReader(buf[:consumed])))
	if err != nil {
		return nil, 0, fmt.Errorf("handshake read request: %w", err)
	}
	keys := req.Header.Values(HeaderSecWebSocketKey)
	switch {
	case len(keys) == 0:
		return nil, 0, ErrMissingWebSocketKey
	case len(keys) > 1:
		return nil, 0, ErrDuplicateWebSocketKey
	}

	response = make([]byte, 0, len(responsePrefix)+28+len(headerEnd))
	response = append(response, responsePrefix...)
	response = append(response, ComputeAcceptKey(keys[0])...)
	response = append(response, headerEnd...)
	return response, consumed, nil
}
