// Package protocol implements the client wire format: the WebSocket
// opening handshake, binary frame headers and the command payloads carried
// inside them.
//
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
package protocol
