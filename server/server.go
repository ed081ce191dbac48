// File: server/server.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Listening socket, client list and routing of connection events to
// players and conversations.

package server

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strconv"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/momentics/pcxd/api"
	"github.com/momentics/pcxd/conversation"
	"github.com/momentics/pcxd/internal/logging"
	"github.com/momentics/pcxd/msgqueue"
	"github.com/momentics/pcxd/playerbase"
	"github.com/momentics/pcxd/transport"
)

var (
	ErrUnknownGame     = errors.New("unknown game type")
	ErrUnknownLanguage = errors.New("unknown language")
	ErrUnknownPlayer   = errors.New("unknown player id")
	ErrPlayerAttached  = errors.New("connection already has a player")
)

// New listens on cfg.ListenAddr and registers the listening socket with r.
func New(r api.Reactor, cfg *Config, opts ...ServerOption) (*Server, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s := &Server{
		cfg:       cfg,
		r:         r,
		listenFD:  -1,
		clients:   make(map[*transport.Connection]struct{}),
		gameTypes: make(map[string]*conversation.GameType),
		languages: make(map[string]struct{}, len(cfg.Languages)),
		pending:   make(map[string]*conversation.Conversation),
		accept:    transport.Accept,
	}
	for _, o := range opts {
		o(s)
	}
	if s.log == nil {
		s.log = logging.Named("server")
	}
	if s.buffers == nil {
		s.buffers = transport.NewBufferPool()
	}
	for _, code := range cfg.Languages {
		s.languages[code] = struct{}{}
	}

	addr := cfg.ListenAddr
	if addr == "" {
		addr = strconv.Itoa(transport.DefaultPort)
	}
	fd, err := transport.Listen(addr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", addr, err)
	}
	s.listenFD = fd
	s.listenSource = r.AddPoll(fd, api.PollIn, s.onListen)

	s.players = playerbase.New(r,
		playerbase.WithMaxAge(cfg.MaxPlayerAge),
		playerbase.WithLogger(s.log.Named("playerbase")),
		playerbase.WithMetrics(s.metrics))

	if s.sender == nil && cfg.RelayURL != "" {
		s.sender = msgqueue.NewHTTPSender(cfg.RelayURL)
	}
	if s.sender != nil {
		q := msgqueue.New[[]byte](
			msgqueue.WithLimit(cfg.RelayLimit),
			msgqueue.WithWindow(cfg.RelayWindow),
			msgqueue.WithClock(r.Now))
		s.relay = msgqueue.NewPump(r, q, s.sender,
			msgqueue.WithLogger(s.log.Named("relay")),
			msgqueue.WithMetrics(s.metrics))
	}

	s.log.Info("listening", zap.String("addr", addr))
	return s, nil
}

// Port returns the bound port of the listening socket.
func (s *Server) Port() (int, error) { return transport.BoundPort(s.listenFD) }

// Players exposes the player directory.
func (s *Server) Players() *playerbase.Playerbase { return s.players }

// NClients returns the number of open client connections.
func (s *Server) NClients() int { return len(s.clients) }

// Accepting reports whether the listening socket is polled for clients.
func (s *Server) Accepting() bool { return s.listenSource.Valid() }

func (s *Server) onListen(h api.Handle, fd int, _ api.PollFlags) {
	conn, err := s.accept(s.r, fd, s.buffers,
		transport.WithLogger(s.log.Named("conn")),
		transport.WithMetrics(s.metrics))
	if err != nil {
		switch {
		case transport.IsFDExhausted(err):
			s.log.Warn("accept failed due to too many open fds, waiting for a client to disconnect")
			s.r.ModifyPoll(h, 0)
		case transport.IsTemporary(err):
		default:
			s.log.Error("accept failed, no longer listening", zap.Error(err))
			_ = s.r.Remove(h)
			s.listenSource = api.Handle{}
		}
		return
	}
	s.addClient(conn)
}

func (s *Server) addClient(conn *transport.Connection) {
	s.clients[conn] = struct{}{}
	conn.Events.Add(func(ev transport.Event) bool {
		return s.handleEvent(ev)
	})
}

func (s *Server) removeClient(conn *transport.Connection) {
	if _, ok := s.clients[conn]; !ok {
		return
	}
	delete(s.clients, conn)
	conn.Close()

	// A freed descriptor may let a disabled accept succeed again.
	if s.listenSource.Valid() {
		s.r.ModifyPoll(s.listenSource, api.PollIn|api.PollError)
	}
}

func (s *Server) handleEvent(ev transport.Event) bool {
	conn := ev.Conn
	switch ev.Type {
	case transport.EventError:
		// Connections are freed outside their own callbacks.
		s.r.AddIdle(func(api.Handle) { s.removeClient(conn) })
	case transport.EventNewPlayer:
		s.handleNewPlayer(ev)
	case transport.EventReconnect:
		s.handleReconnect(ev)
	case transport.EventLeave:
		if p := conn.Player(); p != nil {
			p.Leave()
		}
	case transport.EventButton:
		if p := conn.Player(); p != nil && !p.HasLeft() {
			conn.Conversation().PushButton(p.Num, ev.Data)
		}
	case transport.EventSendMessage:
		if p := conn.Player(); p != nil && !p.HasLeft() {
			conn.Conversation().SendChat(p.Num, ev.Text)
		}
	}
	return true
}

func (s *Server) handleNewPlayer(ev transport.Event) {
	conn := ev.Conn
	if conn.Player() != nil {
		conn.Fail(ErrPlayerAttached)
		return
	}
	gt, ok := s.gameTypes[ev.GameType]
	if !ok {
		conn.Fail(api.NewError(api.ErrCodeNotFound, "new player").
			WithContext("game", ev.GameType).Wrap(ErrUnknownGame))
		return
	}
	if _, ok := s.languages[ev.Language]; !ok {
		conn.Fail(api.NewError(api.ErrCodeNotFound, "new player").
			WithContext("language", ev.Language).Wrap(ErrUnknownLanguage))
		return
	}

	var conv *conversation.Conversation
	if ev.Private {
		conv = s.newConversation(gt)
		conv.Private = true
		conv.PrivateGameID = randomID()
	} else if conv = s.pending[gt.Name]; conv != nil {
		conv.Ref()
	} else {
		conv = s.newConversation(gt)
		s.pending[gt.Name] = conv
		conv.Ref()
		conv.Events.Add(func(e conversation.Event) bool {
			if e.Type == conversation.EventStarted {
				s.dropPending(gt.Name, conv)
			}
			return true
		})
	}

	p := s.players.Add(conv, ev.Name, s.players.GenerateID(conn.Salt()))
	conv.Unref()
	conn.SetPlayer(p, conv, 0)

	s.log.Info("new player",
		zap.Uint64("player", p.ID),
		zap.Uint64("conversation", conv.ID),
		zap.String("game", gt.Name),
		zap.Bool("private", ev.Private))
}

func (s *Server) dropPending(name string, conv *conversation.Conversation) {
	if s.pending[name] != conv {
		return
	}
	delete(s.pending, name)
	conv.Unref()
}

func (s *Server) newConversation(gt *conversation.GameType) *conversation.Conversation {
	s.nextConvID++
	conv := conversation.New(s.nextConvID, gt)
	if s.relay != nil {
		conv.Events.Add(func(e conversation.Event) bool {
			if e.Type == conversation.EventNewMessage && e.Message.Public() {
				s.relay.Submit(int64(conv.ID), []byte(e.Message.Text()))
			}
			return true
		})
	}
	return conv
}

func (s *Server) handleReconnect(ev transport.Event) {
	conn := ev.Conn
	if conn.Player() != nil {
		conn.Fail(ErrPlayerAttached)
		return
	}
	p, ok := s.players.Lookup(ev.PlayerID)
	if !ok {
		conn.Fail(api.NewError(api.ErrCodeNotFound, "reconnect").
			WithContext("player", ev.PlayerID).Wrap(ErrUnknownPlayer))
		return
	}
	conv, ok := p.Seat.(*conversation.Conversation)
	if !ok {
		conn.Fail(api.NewError(api.ErrCodeInternal, "reconnect").
			WithContext("player", ev.PlayerID).Wrap(api.ErrNotSupported))
		return
	}
	conn.SetPlayer(p, conv, ev.MessagesReceived)
	s.log.Debug("player reconnected", zap.Uint64("player", p.ID), zap.Int("received", ev.MessagesReceived))
}

func randomID() uint64 {
	for {
		u := uuid.New()
		if id := binary.LittleEndian.Uint64(u[:8]); id != 0 {
			return id
		}
	}
}

// Close frees every client, the playerbase and the listening socket.
func (s *Server) Close() error {
	for conn := range s.clients {
		delete(s.clients, conn)
		conn.Close()
	}
	for name, conv := range s.pending {
		delete(s.pending, name)
		conv.Unref()
	}
	if s.relay != nil {
		s.relay.Close()
	}
	s.players.Close()

	if s.listenSource.Valid() {
		_ = s.r.Remove(s.listenSource)
		s.listenSource = api.Handle{}
	}
	if s.listenFD == -1 {
		return nil
	}
	err := transport.CloseSocket(s.listenFD)
	s.listenFD = -1
	return err
}
