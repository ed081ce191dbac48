package server_test

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/momentics/pcxd/api"
	"github.com/momentics/pcxd/conversation"
	"github.com/momentics/pcxd/fake"
	"github.com/momentics/pcxd/msgqueue"
	"github.com/momentics/pcxd/protocol"
	"github.com/momentics/pcxd/reactor"
	"github.com/momentics/pcxd/server"
)

const waitTimeout = 5 * time.Second

var duel = &conversation.GameType{Name: "duel", MinPlayers: 2, MaxPlayers: 2}
var party = &conversation.GameType{Name: "party", MinPlayers: 2, MaxPlayers: 4}

type testServer struct {
	t    *testing.T
	s    *server.Server
	mc   *reactor.MainContext
	port int
}

func startServer(t *testing.T, opts ...server.ServerOption) *testServer {
	t.Helper()
	mc, err := reactor.New(
		reactor.WithLogger(zap.NewNop()),
		reactor.WithSignalNotifier(fake.NewNotifier()),
	)
	if err != nil {
		t.Fatal(err)
	}
	cfg := server.DefaultConfig()
	cfg.ListenAddr = "127.0.0.1:0"
	opts = append([]server.ServerOption{
		server.WithLogger(zap.NewNop()),
		server.WithGameTypes(duel, party),
	}, opts...)
	s, err := server.New(mc, cfg, opts...)
	if err != nil {
		t.Fatal(err)
	}
	port, err := s.Port()
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- mc.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
		s.Close()
		mc.Close()
	})
	return &testServer{t: t, s: s, mc: mc, port: port}
}

// onLoop runs fn on the reactor goroutine and waits for it.
func (ts *testServer) onLoop(fn func()) {
	ts.t.Helper()
	done := make(chan struct{})
	ts.mc.AddIdle(func(api.Handle) {
		fn()
		close(done)
	})
	select {
	case <-done:
	case <-time.After(waitTimeout):
		ts.t.Fatal("reactor did not run the idle callback")
	}
}

func (ts *testServer) dial() *websocket.Conn {
	ts.t.Helper()
	ws, _, err := websocket.DefaultDialer.Dial(fmt.Sprintf("ws://127.0.0.1:%d/", ts.port), nil)
	if err != nil {
		ts.t.Fatalf("dial: %v", err)
	}
	ts.t.Cleanup(func() { ws.Close() })
	ws.SetReadDeadline(time.Now().Add(waitTimeout))
	return ws
}

func command(cmd byte, fields ...protocol.Field) []byte {
	buf, _ := protocol.AppendCommand(make([]byte, 0, 256), cmd, fields...)
	// Strip the server frame header; the client library frames it again.
	h, _, _ := protocol.ParseFrameHeader(buf)
	return buf[h.Len:]
}

func join(t *testing.T, ws *websocket.Conn, cmd byte, name, game string) {
	t.Helper()
	msg := command(cmd, protocol.String(name), protocol.String(game), protocol.String("en"))
	if err := ws.WriteMessage(websocket.BinaryMessage, msg); err != nil {
		t.Fatal(err)
	}
}

func read(t *testing.T, ws *websocket.Conn) []byte {
	t.Helper()
	_, data, err := ws.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	return data
}

// readPlayerID consumes the player id frame and returns the id.
func readPlayerID(t *testing.T, ws *websocket.Conn) uint64 {
	t.Helper()
	data := read(t, ws)
	if len(data) != 9 || data[0] != protocol.CmdPlayerID {
		t.Fatalf("expected player id frame, got % x", data)
	}
	return binary.LittleEndian.Uint64(data[1:])
}

// readMessageContaining skips frames until a message frame holds text.
func readMessageContaining(t *testing.T, ws *websocket.Conn, text string) []byte {
	t.Helper()
	for {
		data := read(t, ws)
		if data[0] == protocol.CmdMessage && bytes.Contains(data, []byte(text)) {
			return data
		}
	}
}

func expectClosed(t *testing.T, ws *websocket.Conn) {
	t.Helper()
	for {
		if _, _, err := ws.ReadMessage(); err != nil {
			var netErr interface{ Timeout() bool }
			if errors.As(err, &netErr) && netErr.Timeout() {
				t.Fatal("connection was not closed by the server")
			}
			return
		}
	}
}

func TestPlayersShareConversationUntilFull(t *testing.T) {
	ts := startServer(t)

	alice := ts.dial()
	join(t, alice, protocol.CmdNewPlayer, "alice", "duel")
	readPlayerID(t, alice)
	if got := read(t, alice); !bytes.Equal(got, []byte("\x02duel\x00")) {
		t.Fatalf("game type frame %q", got)
	}
	readMessageContaining(t, alice, "Welcome alice")

	bob := ts.dial()
	join(t, bob, protocol.CmdNewPlayer, "bob", "duel")
	readPlayerID(t, bob)
	readMessageContaining(t, bob, "Welcome bob")
	readMessageContaining(t, alice, "Welcome bob")

	// The duel is full, so a third player opens a new conversation.
	carol := ts.dial()
	join(t, carol, protocol.CmdNewPlayer, "carol", "duel")
	readPlayerID(t, carol)
	readMessageContaining(t, carol, "Welcome carol")

	ts.onLoop(func() {
		if n := ts.s.Players().Len(); n != 3 {
			t.Errorf("players = %d, want 3", n)
		}
		if n := ts.s.NClients(); n != 3 {
			t.Errorf("clients = %d, want 3", n)
		}
	})
}

func TestPrivatePlayerGetsGameID(t *testing.T) {
	ts := startServer(t)
	ws := ts.dial()
	join(t, ws, protocol.CmdNewPrivatePlayer, "alice", "party")
	readPlayerID(t, ws)
	read(t, ws)
	data := read(t, ws)
	if len(data) != 9 || data[0] != protocol.CmdPrivateGameID {
		t.Fatalf("expected private game id frame, got % x", data)
	}
	if binary.LittleEndian.Uint64(data[1:]) == 0 {
		t.Fatal("private game id is zero")
	}
}

func TestRejectedCommandsCloseConnection(t *testing.T) {
	cases := []struct {
		name string
		msg  []byte
	}{
		{"unknown game", command(protocol.CmdNewPlayer,
			protocol.String("alice"), protocol.String("chess"), protocol.String("en"))},
		{"unknown language", command(protocol.CmdNewPlayer,
			protocol.String("alice"), protocol.String("duel"), protocol.String("tlh"))},
		{"unknown player", command(protocol.CmdReconnect, protocol.Uint64(12345), protocol.Uint16(0))},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ts := startServer(t)
			ws := ts.dial()
			if err := ws.WriteMessage(websocket.BinaryMessage, tc.msg); err != nil {
				t.Fatal(err)
			}
			expectClosed(t, ws)
			ts.onLoop(func() {
				if n := ts.s.NClients(); n != 0 {
					t.Errorf("clients = %d after rejection, want 0", n)
				}
			})
		})
	}
}

func TestReconnectResendsMessages(t *testing.T) {
	ts := startServer(t)

	first := ts.dial()
	join(t, first, protocol.CmdNewPlayer, "alice", "party")
	id := readPlayerID(t, first)
	readMessageContaining(t, first, "Welcome alice")
	first.Close()

	second := ts.dial()
	msg := command(protocol.CmdReconnect, protocol.Uint64(id), protocol.Uint16(0))
	if err := second.WriteMessage(websocket.BinaryMessage, msg); err != nil {
		t.Fatal(err)
	}
	if got := readPlayerID(t, second); got != id {
		t.Fatalf("reconnected as %x, want %x", got, id)
	}
	readMessageContaining(t, second, "Welcome alice")

	ts.onLoop(func() {
		p, ok := ts.s.Players().Lookup(id)
		if !ok {
			t.Fatal("player vanished")
		}
		if p.RefCount() != 1 {
			t.Errorf("ref count = %d, want 1", p.RefCount())
		}
	})
}

func TestChatReachesOtherPlayers(t *testing.T) {
	ts := startServer(t)

	alice := ts.dial()
	join(t, alice, protocol.CmdNewPlayer, "alice", "party")
	readMessageContaining(t, alice, "Welcome alice")
	bob := ts.dial()
	join(t, bob, protocol.CmdNewPlayer, "bob", "party")
	readMessageContaining(t, bob, "Welcome bob")

	if err := alice.WriteMessage(websocket.BinaryMessage,
		command(protocol.CmdSendMessage, protocol.String("hello & bye"))); err != nil {
		t.Fatal(err)
	}

	got := readMessageContaining(t, bob, "hello &amp; bye")
	if kind := conversation.MessageType(got[1] >> 1 & 3); kind != conversation.MessageChatOther {
		t.Fatalf("bob sees message type %d, want chat-other", kind)
	}
	mine := readMessageContaining(t, alice, "hello &amp; bye")
	if kind := conversation.MessageType(mine[1] >> 1 & 3); kind != conversation.MessageChatYou {
		t.Fatalf("alice sees message type %d, want chat-you", kind)
	}
}

func TestOversizedChatDoesNotStallRoom(t *testing.T) {
	ts := startServer(t)

	alice := ts.dial()
	join(t, alice, protocol.CmdNewPlayer, "alice", "party")
	readMessageContaining(t, alice, "Welcome alice")
	bob := ts.dial()
	join(t, bob, protocol.CmdNewPlayer, "bob", "party")
	readMessageContaining(t, bob, "Welcome bob")

	for _, text := range []string{strings.Repeat("<", 400), "after"} {
		if err := alice.WriteMessage(websocket.BinaryMessage,
			command(protocol.CmdSendMessage, protocol.String(text))); err != nil {
			t.Fatal(err)
		}
	}

	long := readMessageContaining(t, bob, "&lt;&lt;")
	if len(long) > protocol.MaxPayloadSize {
		t.Fatalf("chat frame payload is %d bytes", len(long))
	}
	readMessageContaining(t, bob, "after")
}

func TestRelayForwardsPublicMessages(t *testing.T) {
	type relayed struct {
		dest int64
		text string
	}
	out := make(chan relayed, 8)
	sender := msgqueue.SenderFunc[[]byte](func(dest int64, payload []byte, done func(error)) {
		out <- relayed{dest, string(payload)}
		done(nil)
	})
	ts := startServer(t, server.WithRelaySender(sender))

	ws := ts.dial()
	join(t, ws, protocol.CmdNewPlayer, "alice", "party")

	select {
	case r := <-out:
		if r.dest != 1 || !strings.HasPrefix(r.text, "Welcome alice") {
			t.Fatalf("relayed %+v", r)
		}
	case <-time.After(waitTimeout):
		t.Fatal("nothing relayed")
	}
}

func TestCloseStopsListening(t *testing.T) {
	ts := startServer(t)
	ws := ts.dial()
	join(t, ws, protocol.CmdNewPlayer, "alice", "party")
	readPlayerID(t, ws)

	ts.onLoop(func() {
		if err := ts.s.Close(); err != nil {
			t.Errorf("Close: %v", err)
		}
		if ts.s.Accepting() || ts.s.NClients() != 0 || ts.s.Players().Len() != 0 {
			t.Error("server still holds resources after Close")
		}
	})
	expectClosed(t, ws)
}

func TestConfigValidate(t *testing.T) {
	if err := server.DefaultConfig().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	cfg := server.DefaultConfig()
	cfg.MaxPlayerAge = 0
	if err := cfg.Validate(); !errors.Is(err, api.ErrInvalidArgument) {
		t.Fatalf("Validate = %v, want ErrInvalidArgument", err)
	}
	cfg = server.DefaultConfig()
	cfg.RelayURL = "http://relay.invalid"
	cfg.RelayLimit = 0
	if err := cfg.Validate(); err == nil {
		t.Fatal("zero relay limit accepted")
	}
}
