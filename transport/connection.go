// File: transport/connection.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Connection is one accepted WebSocket client driven by reactor readiness
// callbacks. It parses frames, decodes client commands into events and
// streams the attached player's conversation back.

package transport

import (
	"bytes"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/momentics/pcxd/api"
	"github.com/momentics/pcxd/control"
	"github.com/momentics/pcxd/conversation"
	"github.com/momentics/pcxd/internal/logging"
	"github.com/momentics/pcxd/internal/signal"
	"github.com/momentics/pcxd/playerbase"
	"github.com/momentics/pcxd/pool"
	"github.com/momentics/pcxd/protocol"
)

// BufferSize is the capacity of each connection buffer: one full payload
// and the largest frame header.
const BufferSize = protocol.MaxPayloadSize + protocol.MaxFrameHeaderLen

// NewBufferPool returns a pool sized for connection buffers.
func NewBufferPool() *pool.BytePool { return pool.NewBytePool(BufferSize) }

// State is the connection lifecycle stage.
type State int

const (
	StateHandshake State = iota
	StateActive
	StateError
)

func (s State) String() string {
	switch s {
	case StateHandshake:
		return "handshake"
	case StateActive:
		return "active"
	case StateError:
		return "error"
	}
	return "unknown"
}

// Protocol violations that put a connection into the error state.
var (
	ErrPeerClosed       = errors.New("client closed the connection")
	ErrCloseFrame       = errors.New("client sent a close frame")
	ErrBadControlFrame  = errors.New("invalid control frame")
	ErrUnknownOpcode    = errors.New("unknown opcode")
	ErrMessageTooLong   = errors.New("message too long")
	ErrBadContinuation  = errors.New("continuation frame without a message")
	ErrEmptyFragment    = errors.New("empty fragmented frame")
	ErrUnknownCommand   = errors.New("unknown command")
	ErrInvalidCommand   = errors.New("invalid command payload")
	ErrHandshakeOverrun = errors.New("frame data after handshake exceeds buffer")
	ErrReadOverflow     = errors.New("read buffer overflow")
)

// EventType enumerates the events a connection emits.
type EventType int

const (
	EventError EventType = iota
	EventNewPlayer
	EventReconnect
	EventLeave
	EventButton
	EventSendMessage
)

func (t EventType) String() string {
	switch t {
	case EventError:
		return "error"
	case EventNewPlayer:
		return "new-player"
	case EventReconnect:
		return "reconnect"
	case EventLeave:
		return "leave"
	case EventButton:
		return "button"
	case EventSendMessage:
		return "send-message"
	}
	return "unknown"
}

// Event is emitted on Connection.Events. Listeners run on the loop
// goroutine and must not call Close directly; schedule it with AddIdle.
type Event struct {
	Type EventType
	Conn *Connection

	// EventError
	Err error

	// EventNewPlayer
	Name     string
	GameType string
	Language string
	Private  bool

	// EventReconnect
	PlayerID         uint64
	MessagesReceived int

	// EventButton carries the button data, EventSendMessage the chat text.
	Data string
	Text string
}

// Option configures a Connection.
type Option func(*Connection)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Connection) { c.log = l }
}

// WithMetrics attaches telemetry collectors.
func WithMetrics(m *control.Metrics) Option {
	return func(c *Connection) { c.metrics = m }
}

// Connection must only be used from the loop goroutine.
type Connection struct {
	ID     string
	Events signal.Signal[Event]

	r       api.Reactor
	fd      int
	remote  string
	salt    []byte
	source  api.Handle
	state   State
	buffers *pool.BytePool

	handshake []byte
	readBuf   []byte
	writeBuf  []byte
	message   []byte

	pong       []byte
	pongQueued bool

	player      *playerbase.Player
	conv        *conversation.Conversation
	convSub     signal.Subscription
	sentDetails bool
	nextMessage int

	lastActivity time.Time
	closed       bool

	log     *zap.Logger
	metrics *control.Metrics
}

// Accept takes one pending client from listenFD and registers it with r.
// Errors come straight from accept(2); see IsFDExhausted and IsTemporary.
func Accept(r api.Reactor, listenFD int, buffers *pool.BytePool, opts ...Option) (*Connection, error) {
	fd, remote, salt, err := sysAccept(listenFD)
	if err != nil {
		return nil, err
	}
	return newConnection(r, fd, remote, salt, buffers, opts...), nil
}

func newConnection(r api.Reactor, fd int, remote string, salt []byte, buffers *pool.BytePool, opts ...Option) *Connection {
	c := &Connection{
		ID:           uuid.NewString(),
		r:            r,
		fd:           fd,
		remote:       remote,
		salt:         salt,
		buffers:      buffers,
		state:        StateHandshake,
		handshake:    make([]byte, 0, protocol.MaxHandshakeHeadersSize),
		readBuf:      buffers.GetBuffer(),
		writeBuf:     buffers.GetBuffer(),
		message:      buffers.GetBuffer(),
		pong:         make([]byte, 0, protocol.MaxControlPayload),
		lastActivity: r.Now(),
	}
	for _, o := range opts {
		o(c)
	}
	if c.log == nil {
		c.log = logging.Named("transport")
	}
	c.log = c.log.With(zap.String("conn", c.ID), zap.String("remote", remote))
	c.source = r.AddPoll(fd, api.PollIn, c.onPoll)
	c.metrics.ConnectionOpened()
	c.log.Info("accepted connection")
	return c
}

// State returns the lifecycle stage.
func (c *Connection) State() State { return c.state }

// RemoteAddr returns the peer address.
func (c *Connection) RemoteAddr() string { return c.remote }

// Salt returns peer address bytes suitable for player id generation.
func (c *Connection) Salt() []byte { return c.salt }

// Player returns the attached player or nil.
func (c *Connection) Player() *playerbase.Player { return c.player }

// Conversation returns the conversation of the attached player or nil.
func (c *Connection) Conversation() *conversation.Conversation { return c.conv }

// Fail puts the connection into the error state, e.g. when a command names
// an unknown game. The EventError listeners run before it returns.
func (c *Connection) Fail(reason error) { c.setError(reason) }

func (c *Connection) onPoll(_ api.Handle, _ int, flags api.PollFlags) {
	switch {
	case flags&api.PollError != 0:
		c.handleError()
	case flags&api.PollIn != 0:
		c.handleRead()
	case flags&api.PollOut != 0:
		c.handleWrite()
	}
}

func (c *Connection) handleError() {
	if err := sockError(c.fd); err != nil {
		c.setError(fmt.Errorf("socket error: %w", err))
		return
	}
	c.setError(errors.New("unknown socket error"))
}

func (c *Connection) setError(reason error) {
	if c.state == StateError || c.closed {
		return
	}
	c.state = StateError
	c.removeSource()
	c.metrics.ObserveConnectionError(errorLabel(reason))
	c.log.Info("connection error", zap.Error(reason))
	c.Events.Emit(Event{Type: EventError, Conn: c, Err: reason})
}

func errorLabel(err error) string {
	switch {
	case errors.Is(err, ErrPeerClosed), errors.Is(err, ErrCloseFrame):
		return "closed"
	case errors.Is(err, ErrUnknownCommand), errors.Is(err, ErrInvalidCommand):
		return "command"
	case errors.As(err, new(*api.Error)):
		return "rejected"
	}
	return "protocol"
}

func (c *Connection) removeSource() {
	if !c.source.Valid() {
		return
	}
	if err := c.r.Remove(c.source); err != nil {
		c.log.Warn("failed to remove poll source", zap.Error(err))
	}
	c.source = api.Handle{}
}

// dead reports whether processing must stop, either because an error was
// raised or because a listener tore the connection down.
func (c *Connection) dead() bool { return c.state == StateError || c.closed }

func (c *Connection) handleRead() {
	buf := c.readBuf
	if c.state == StateHandshake {
		buf = c.handshake
	}
	if len(buf) == cap(buf) {
		if c.state == StateHandshake {
			c.setError(protocol.ErrHandshakeTooLarge)
		} else {
			c.setError(ErrReadOverflow)
		}
		return
	}

	n, err := sysRead(c.fd, buf[len(buf):cap(buf)])
	if err != nil {
		if !temporary(err) {
			c.setError(fmt.Errorf("read failed: %w", err))
		}
		return
	}
	if n == 0 {
		c.setError(ErrPeerClosed)
		return
	}

	c.touch()
	if c.state == StateHandshake {
		c.handshake = buf[:len(buf)+n]
		c.finishHandshake()
		return
	}
	c.readBuf = buf[:len(buf)+n]
	c.processFrames()
}

func (c *Connection) touch() {
	c.lastActivity = c.r.Now()
	if c.player != nil {
		c.player.Touch(c.lastActivity)
	}
}

func (c *Connection) finishHandshake() {
	resp, consumed, err := protocol.Handshake(c.handshake)
	if errors.Is(err, protocol.ErrIncomplete) {
		return
	}
	if err != nil {
		c.setError(err)
		return
	}

	rest := c.handshake[consumed:]
	if len(rest) > cap(c.readBuf) {
		c.setError(ErrHandshakeOverrun)
		return
	}
	c.readBuf = append(c.readBuf[:0], rest...)
	c.writeBuf = append(c.writeBuf, resp...)
	c.handshake = nil
	c.state = StateActive
	c.log.Debug("handshake complete")

	c.updatePollFlags()
	c.processFrames()
}

func (c *Connection) processFrames() {
	data := c.readBuf
	for {
		h, ok, err := protocol.ParseFrameHeader(data)
		if err != nil {
			c.setError(err)
			return
		}
		if !ok {
			break
		}
		if err := c.checkFrame(h); err != nil {
			c.setError(err)
			return
		}
		end := uint64(h.Len) + h.PayloadLen
		if end > uint64(len(data)) {
			break
		}
		payload := data[h.Len:end]
		if h.Masked {
			protocol.Unmask(h.Mask, payload)
		}

		if h.IsControl() {
			c.processControl(h.Opcode, payload)
		} else {
			c.message = append(c.message, payload...)
			if h.Fin {
				c.processMessage(c.message)
				c.message = c.message[:0]
			}
		}
		if c.dead() {
			return
		}
		data = data[end:]
	}

	n := copy(c.readBuf[:cap(c.readBuf)], data)
	c.readBuf = c.readBuf[:n]
}

func (c *Connection) checkFrame(h protocol.FrameHeader) error {
	switch h.Opcode {
	case protocol.OpClose, protocol.OpPing, protocol.OpPong:
		if h.PayloadLen > protocol.MaxControlPayload || !h.Fin {
			return ErrBadControlFrame
		}
	case protocol.OpBinary, protocol.OpContinuation:
		if h.PayloadLen > protocol.MaxPayloadSize ||
			h.PayloadLen+uint64(len(c.message)) > protocol.MaxPayloadSize {
			return ErrMessageTooLong
		}
		if h.Opcode == protocol.OpContinuation && len(c.message) == 0 {
			return ErrBadContinuation
		}
		if h.PayloadLen == 0 && !h.Fin {
			return ErrEmptyFragment
		}
	default:
		return fmt.Errorf("%w 0x%x", ErrUnknownOpcode, h.Opcode)
	}
	return nil
}

func (c *Connection) processControl(op byte, payload []byte) {
	switch op {
	case protocol.OpClose:
		c.setError(ErrCloseFrame)
	case protocol.OpPing:
		c.pong = append(c.pong[:0], payload...)
		c.pongQueued = true
		c.updatePollFlags()
	case protocol.OpPong:
	}
}

func (c *Connection) processMessage(msg []byte) {
	if len(msg) < 1 {
		c.setError(fmt.Errorf("%w: empty message", ErrInvalidCommand))
		return
	}
	cmd := msg[0]
	rd := protocol.NewReader(msg[1:])
	ev := Event{Conn: c}

	switch cmd {
	case protocol.CmdNewPlayer, protocol.CmdNewPrivatePlayer:
		ev.Type = EventNewPlayer
		ev.Name = rd.String()
		ev.GameType = rd.String()
		ev.Language = rd.String()
		ev.Private = cmd == protocol.CmdNewPrivatePlayer
	case protocol.CmdReconnect:
		ev.Type = EventReconnect
		ev.PlayerID = rd.Uint64()
		ev.MessagesReceived = int(rd.Uint16())
	case protocol.CmdLeave:
		ev.Type = EventLeave
	case protocol.CmdKeepAlive:
		if err := rd.Done(); err != nil {
			c.setError(fmt.Errorf("%w: keep alive: %v", ErrInvalidCommand, err))
		}
		return
	case protocol.CmdButton:
		rest := rd.Rest()
		if len(rest) < 1 {
			c.setError(fmt.Errorf("%w: empty button", ErrInvalidCommand))
			return
		}
		if i := bytes.IndexByte(rest, 0); i >= 0 {
			rest = rest[:i]
		}
		ev.Type = EventButton
		ev.Data = string(rest)
	case protocol.CmdSendMessage:
		ev.Type = EventSendMessage
		ev.Text = rd.String()
	default:
		c.setError(fmt.Errorf("%w 0x%02x", ErrUnknownCommand, cmd))
		return
	}

	if err := rd.Done(); err != nil {
		c.setError(fmt.Errorf("%w: %s: %v", ErrInvalidCommand, ev.Type, err))
		return
	}
	c.Events.Emit(ev)
}

// SetPlayer attaches p, seated in conv, and starts streaming conv's
// messages after the first messagesReceived ones visible to p.
func (c *Connection) SetPlayer(p *playerbase.Player, conv *conversation.Conversation, messagesReceived int) {
	if c.player != nil {
		c.log.Warn("player already attached", zap.Uint64("player", c.player.ID))
		return
	}
	p.Ref()
	c.player = p
	c.conv = conv
	c.convSub = conv.Events.Add(func(ev conversation.Event) bool {
		if ev.Type == conversation.EventNewMessage {
			c.updatePollFlags()
		}
		return true
	})
	c.sentDetails = false

	i := 0
	for ; i < conv.Messages() && messagesReceived > 0; i++ {
		if conv.Message(i).VisibleTo(p.Num) {
			messagesReceived--
		}
	}
	c.nextMessage = i

	c.touch()
	c.updatePollFlags()
}

func (c *Connection) readyToWrite() bool {
	if len(c.writeBuf) > 0 || c.pongQueued {
		return true
	}
	if c.player == nil {
		return false
	}
	if !c.sentDetails {
		return true
	}
	return !c.player.HasLeft() && c.nextMessage < c.conv.Messages()
}

func (c *Connection) updatePollFlags() {
	if !c.source.Valid() || c.state == StateError {
		return
	}
	flags := api.PollIn
	if c.readyToWrite() {
		flags |= api.PollOut
	}
	c.r.ModifyPoll(c.source, flags)
}

// Enqueue appends an already framed message to the write buffer.
func (c *Connection) Enqueue(frame []byte) error {
	if c.dead() {
		return api.ErrConnectionClosed
	}
	if len(c.writeBuf)+len(frame) > cap(c.writeBuf) {
		return api.ErrBufferFull
	}
	c.writeBuf = append(c.writeBuf, frame...)
	c.updatePollFlags()
	return nil
}

func (c *Connection) handleWrite() {
	c.fillWriteBuf()

	if len(c.writeBuf) > 0 {
		n, err := sysWrite(c.fd, c.writeBuf)
		if err != nil {
			if !temporary(err) {
				c.setError(fmt.Errorf("write failed: %w", err))
			}
			return
		}
		rest := copy(c.writeBuf, c.writeBuf[n:])
		c.writeBuf = c.writeBuf[:rest]
	}
	c.updatePollFlags()
}

func (c *Connection) fillWriteBuf() {
	if c.pongQueued && !c.writePong() {
		return
	}
	if c.player == nil {
		return
	}
	if !c.sentDetails && !c.writeDetails() {
		return
	}
	if !c.player.HasLeft() {
		c.writeMessages()
	}
}

func (c *Connection) writePong() bool {
	if len(c.writeBuf)+2+len(c.pong) > cap(c.writeBuf) {
		return false
	}
	c.writeBuf = protocol.AppendFrame(c.writeBuf, 0x80|protocol.OpPong, c.pong)
	c.pongQueued = false
	return true
}

func (c *Connection) writeCommand(cmd byte, fields ...protocol.Field) bool {
	buf, err := protocol.AppendCommand(c.writeBuf, cmd, fields...)
	if err != nil {
		return false
	}
	c.writeBuf = buf
	return true
}

func (c *Connection) writeDetails() bool {
	start := len(c.writeBuf)
	ok := c.writeCommand(protocol.CmdPlayerID, protocol.Uint64(c.player.ID)) &&
		c.writeCommand(protocol.CmdGameType, protocol.String(c.conv.Type.Name))
	if ok && c.conv.Private {
		ok = c.writeCommand(protocol.CmdPrivateGameID, protocol.Uint64(c.conv.PrivateGameID))
	}
	if !ok {
		c.writeBuf = c.writeBuf[:start]
		return false
	}
	c.sentDetails = true
	return true
}

func (c *Connection) writeMessages() {
	num := c.player.Num
	for ; c.nextMessage < c.conv.Messages(); c.nextMessage++ {
		m := c.conv.Message(c.nextMessage)
		if !m.VisibleTo(num) {
			continue
		}
		n := 1 + m.PayloadLen(num)
		if n > protocol.MaxPayloadSize {
			c.log.Warn("skipping oversized message", zap.Int("index", c.nextMessage), zap.Int("len", n))
			continue
		}
		hdr := protocol.FrameHeaderLen(n)
		if len(c.writeBuf)+hdr+n > cap(c.writeBuf) {
			return
		}
		start := len(c.writeBuf)
		c.writeBuf = c.writeBuf[:start+hdr]
		protocol.PutFrameHeader(c.writeBuf[start:], n)
		c.writeBuf = append(c.writeBuf, protocol.CmdMessage)
		c.writeBuf = m.AppendPayload(c.writeBuf, num)
	}
}

// Close unregisters the connection, detaches the player and closes the
// socket. Calls after the first are no-ops.
func (c *Connection) Close() {
	if c.closed {
		return
	}
	c.closed = true
	c.removeSource()

	if c.player != nil {
		c.conv.Events.Remove(c.convSub)
		c.player.Unref()
		c.player = nil
		c.conv = nil
	}
	if err := sysClose(c.fd); err != nil {
		c.log.Warn("failed to close socket", zap.Error(err))
	}

	c.buffers.PutBuffer(c.readBuf)
	c.buffers.PutBuffer(c.writeBuf)
	c.buffers.PutBuffer(c.message)
	c.readBuf, c.writeBuf, c.message = nil, nil, nil
	c.handshake = nil

	c.metrics.ConnectionClosed()
	c.log.Info("connection closed")
}
