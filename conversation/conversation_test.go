package conversation_test

import (
	"bytes"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/momentics/pcxd/conversation"
	"github.com/momentics/pcxd/playerbase"
)

var _ playerbase.Seat = (*conversation.Conversation)(nil)

type recordingGame struct {
	buttons  []string
	messages []string
	closed   bool
	onButton func()
}

func (g *recordingGame) HandleButton(_ int, data string) {
	g.buttons = append(g.buttons, data)
	if g.onButton != nil {
		g.onButton()
	}
}

func (g *recordingGame) HandleMessage(_ int, text string) { g.messages = append(g.messages, text) }
func (g *recordingGame) Close()                           { g.closed = true }

func newGameType(game *recordingGame) *conversation.GameType {
	return &conversation.GameType{
		Name:       "test",
		MinPlayers: 2,
		MaxPlayers: 3,
		NewGame: func(*conversation.Conversation, []string) conversation.Game {
			return game
		},
	}
}

func TestJoinStartAndEvents(t *testing.T) {
	game := &recordingGame{}
	c := conversation.New(1, newGameType(game))

	var events []conversation.EventType
	c.Events.Add(func(ev conversation.Event) bool {
		events = append(events, ev.Type)
		return true
	})

	if n := c.AddPlayer("ann"); n != 0 {
		t.Fatalf("first seat = %d", n)
	}
	c.PushButton(0, "start")
	if c.Started() {
		t.Fatal("started below MinPlayers")
	}
	c.AddPlayer("ben")

	// Second welcome offers the start button to everyone.
	last := c.Message(c.Messages() - 1)
	if last.ButtonPlayers == 0 || last.PayloadLen(0) == len(last.Text())+2 {
		t.Fatal("welcome message has no start button")
	}
	c.PushButton(1, "start")
	if !c.Started() {
		t.Fatal("start button ignored")
	}
	c.PushButton(0, "play:1")
	if len(game.buttons) != 1 || game.buttons[0] != "play:1" {
		t.Fatalf("game saw buttons %v", game.buttons)
	}

	want := []conversation.EventType{
		conversation.EventPlayerAdded, conversation.EventNewMessage,
		conversation.EventPlayerAdded, conversation.EventNewMessage,
		conversation.EventStarted,
	}
	if len(events) != len(want) {
		t.Fatalf("events = %v, want %v", events, want)
	}
	for i := range want {
		if events[i] != want[i] {
			t.Fatalf("events = %v, want %v", events, want)
		}
	}

	c.Unref()
	if !c.Freed() || !game.closed {
		t.Fatal("last Unref did not free the conversation")
	}
}

func TestFullConversationStartsItself(t *testing.T) {
	game := &recordingGame{}
	c := conversation.New(2, newGameType(game))
	c.AddPlayer("a")
	c.AddPlayer("b")
	c.AddPlayer("c")
	if !c.Started() || !c.Full() {
		t.Fatal("full conversation did not start")
	}
}

func TestRemovePlayerAnnounces(t *testing.T) {
	c := conversation.New(3, &conversation.GameType{Name: "chat", MinPlayers: 1, MaxPlayers: 4})
	c.AddPlayer("zoe")

	var removed []int
	c.Events.Add(func(ev conversation.Event) bool {
		if ev.Type == conversation.EventPlayerRemoved {
			removed = append(removed, ev.PlayerNum)
		}
		return true
	})
	before := c.Messages()
	c.RemovePlayer(0)
	if c.Messages() != before+1 {
		t.Fatal("no left message queued")
	}
	if got := c.Message(before).Text(); got != "zoe left the game." {
		t.Fatalf("left message = %q", got)
	}
	if len(removed) != 1 || removed[0] != 0 {
		t.Fatalf("removed events = %v", removed)
	}
}

func TestChatEncoding(t *testing.T) {
	game := &recordingGame{}
	c := conversation.New(4, newGameType(game))
	c.AddPlayer("a<b")
	c.AddPlayer("c")
	c.Start()
	c.SendChat(0, "hi & bye")

	m := c.Message(c.Messages() - 1)
	if m.SendingPlayer != 0 {
		t.Fatalf("sending player = %d", m.SendingPlayer)
	}
	mine := m.AppendPayload(nil, 0)
	theirs := m.AppendPayload(nil, 1)
	if mine[0] != 0x01|byte(conversation.MessageChatYou)<<1 {
		t.Fatalf("own chat flags = %#x", mine[0])
	}
	if theirs[0] != 0x01|byte(conversation.MessageChatOther)<<1 {
		t.Fatalf("other chat flags = %#x", theirs[0])
	}
	wantText := "<b>a&lt;b</b>\n\nhi &amp; bye\x00"
	if !bytes.Equal(mine[1:], []byte(wantText)) {
		t.Fatalf("payload text = %q", mine[1:])
	}
	if len(game.messages) != 1 || game.messages[0] != "hi & bye" {
		t.Fatalf("game saw %v", game.messages)
	}
}

func TestPrivateMessageWithButtons(t *testing.T) {
	c := conversation.New(5, &conversation.GameType{Name: "chat", MinPlayers: 1, MaxPlayers: 4})
	c.AddPlayer("a")
	c.AddPlayer("b")
	c.Send(conversation.GameMessage{
		Text:    "pick",
		Target:  1,
		Buttons: []conversation.Button{{Text: "One", Data: "1"}},
	})
	m := c.Message(c.Messages() - 1)
	if m.VisibleTo(0) || !m.VisibleTo(1) {
		t.Fatal("private message visibility wrong")
	}
	got := m.AppendPayload(nil, 1)
	want := append([]byte{byte(conversation.MessagePrivate) << 1}, "pick\x00One\x001\x00"...)
	if !bytes.Equal(got, want) {
		t.Fatalf("payload = %q, want %q", got, want)
	}
}

func TestLongMessagesFitOnePayload(t *testing.T) {
	c := conversation.New(5, &conversation.GameType{Name: "party", MinPlayers: 2, MaxPlayers: 4})
	c.AddPlayer("alice")
	c.AddPlayer("bob")

	c.SendChat(0, strings.Repeat("<", 400))
	chat := c.Message(c.Messages() - 1)
	payload := chat.AppendPayload(nil, 1)
	if len(payload) > conversation.MaxPayloadLen {
		t.Fatalf("chat payload is %d bytes, max %d", len(payload), conversation.MaxPayloadLen)
	}
	text := chat.Text()
	if !strings.HasPrefix(text, "<b>alice</b>\n\n&lt;") || !strings.HasSuffix(text, "&lt;") {
		t.Fatalf("truncated chat splits an entity: ...%q", text[len(text)-8:])
	}

	c.Send(conversation.GameMessage{
		Text:          strings.Repeat("é", 600),
		Target:        -1,
		ButtonPlayers: ^uint32(0),
		Buttons:       []conversation.Button{{Text: "Go", Data: "go"}},
	})
	m := c.Message(c.Messages() - 1)
	payload = m.AppendPayload(nil, 0)
	if len(payload) > conversation.MaxPayloadLen {
		t.Fatalf("game payload is %d bytes, max %d", len(payload), conversation.MaxPayloadLen)
	}
	if !utf8.ValidString(m.Text()) {
		t.Fatal("truncation split a rune")
	}
	if !bytes.HasSuffix(payload, []byte("Go\x00go\x00")) {
		t.Fatal("buttons dropped although they fit")
	}
}

func TestGameOverDetachesEngine(t *testing.T) {
	game := &recordingGame{}
	gt := newGameType(game)
	gt.NewGame = func(c *conversation.Conversation, _ []string) conversation.Game {
		game.onButton = c.GameOver
		return game
	}
	c := conversation.New(6, gt)
	c.AddPlayer("a")
	c.AddPlayer("b")
	c.Start()

	c.PushButton(0, "resign")
	if !game.closed {
		t.Fatal("engine not closed by GameOver")
	}
	c.SendChat(1, "gg")
	if len(game.messages) != 0 {
		t.Fatalf("finished engine still got chat %v", game.messages)
	}
	if c.Freed() {
		t.Fatal("conversation freed by GameOver")
	}
	c.GameOver()
}
