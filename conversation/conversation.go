// File: conversation/conversation.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// A game room: seated players, an append-only message log and an event
// signal that attached connections listen to.

package conversation

import (
	"fmt"
	"html"
	"strings"

	"github.com/momentics/pcxd/internal/signal"
)

// Game is a running game engine. Rule engines live outside this module.
type Game interface {
	HandleButton(player int, data string)
	HandleMessage(player int, text string)
	Close()
}

// GameType describes a game that can be played in a conversation.
type GameType struct {
	Name       string
	MinPlayers int
	MaxPlayers int
	// NewGame starts the engine once enough players are seated. It may be
	// nil, in which case the conversation is a plain chat room.
	NewGame func(c *Conversation, players []string) Game
}

// EventType enumerates conversation events.
type EventType int

const (
	EventStarted EventType = iota
	EventPlayerAdded
	EventPlayerRemoved
	EventNewMessage
)

func (t EventType) String() string {
	switch t {
	case EventStarted:
		return "started"
	case EventPlayerAdded:
		return "player-added"
	case EventPlayerRemoved:
		return "player-removed"
	case EventNewMessage:
		return "new-message"
	}
	return "unknown"
}

// Event is emitted on Conversation.Events.
type Event struct {
	Type         EventType
	Conversation *Conversation
	// PlayerNum is set for EventPlayerAdded and EventPlayerRemoved.
	PlayerNum int
	// Message is set for EventNewMessage.
	Message *Message
}

const startButtonData = "start"

// Conversation is owned by the loop goroutine.
type Conversation struct {
	ID            uint64
	Type          *GameType
	Private       bool
	PrivateGameID uint64

	Events signal.Signal[Event]

	names    []string
	messages []*Message
	started  bool
	refCount int
	game     Game
	freed    bool
}

// New returns a conversation holding one reference.
func New(id uint64, gt *GameType) *Conversation {
	return &Conversation{ID: id, Type: gt, refCount: 1}
}

// Ref takes a reference.
func (c *Conversation) Ref() { c.refCount++ }

// Unref drops a reference; the last one stops the game.
func (c *Conversation) Unref() {
	c.refCount--
	if c.refCount > 0 {
		return
	}
	if c.game != nil {
		c.game.Close()
		c.game = nil
	}
	c.freed = true
}

// Freed reports whether the last reference was dropped.
func (c *Conversation) Freed() bool { return c.freed }

// Started reports whether the game began.
func (c *Conversation) Started() bool { return c.started }

// Full reports whether every seat is taken.
func (c *Conversation) Full() bool { return len(c.names) >= c.Type.MaxPlayers }

// NPlayers returns the number of seats taken.
func (c *Conversation) NPlayers() int { return len(c.names) }

// PlayerName returns the name of seat num.
func (c *Conversation) PlayerName(num int) string { return c.names[num] }

// Messages returns the number of logged messages.
func (c *Conversation) Messages() int { return len(c.messages) }

// Message returns log entry i.
func (c *Conversation) Message(i int) *Message { return c.messages[i] }

func (c *Conversation) emit(ev Event) bool {
	ev.Conversation = c
	c.Ref()
	defer c.Unref()
	return c.Events.Emit(ev)
}

// Send appends m to the log. Games call it to talk to players.
func (c *Conversation) Send(m GameMessage) {
	c.queue(m, -1)
}

func (c *Conversation) queue(m GameMessage, sendingPlayer int) {
	msg := encodeMessage(m, sendingPlayer)
	c.messages = append(c.messages, msg)
	c.emit(Event{Type: EventNewMessage, Message: msg})
}

// AddPlayer seats name and returns the seat number. The game starts as soon
// as the last seat is taken.
func (c *Conversation) AddPlayer(name string) int {
	num := len(c.names)
	c.names = append(c.names, name)

	c.Ref()
	defer c.Unref()

	c.emit(Event{Type: EventPlayerAdded, PlayerNum: num})
	c.sendWelcome(num)
	if c.Full() {
		c.Start()
	}
	return num
}

func (c *Conversation) sendWelcome(num int) {
	var b strings.Builder
	n := len(c.names)
	switch {
	case n < c.Type.MinPlayers:
		fmt.Fprintf(&b, "Welcome %s. More players are needed before the game can start.", c.names[num])
	case n < c.Type.MaxPlayers:
		fmt.Fprintf(&b, "Welcome %s. Press start when everyone is here.", c.names[num])
	default:
		fmt.Fprintf(&b, "Welcome %s. The game is full and will start now.", c.names[num])
	}
	if n < c.Type.MaxPlayers {
		b.WriteString("\n\nCurrent players:\n")
		for i, name := range c.names {
			if i > 0 {
				if i == n-1 {
					b.WriteString(" and ")
				} else {
					b.WriteString(", ")
				}
			}
			b.WriteString(name)
		}
	}

	m := PublicMessage(b.String())
	if n >= c.Type.MinPlayers && n < c.Type.MaxPlayers {
		m.Buttons = []Button{{Text: "Start", Data: startButtonData}}
		m.ButtonPlayers = ^uint32(0)
	}
	c.Send(m)
}

// RemovePlayer announces that seat num was vacated.
func (c *Conversation) RemovePlayer(num int) {
	c.Ref()
	defer c.Unref()

	c.Send(PublicMessage(fmt.Sprintf("%s left the game.", c.names[num])))
	c.emit(Event{Type: EventPlayerRemoved, PlayerNum: num})
}

// Start begins the game if enough players are seated.
func (c *Conversation) Start() {
	if c.started || len(c.names) < c.Type.MinPlayers {
		return
	}
	c.started = true

	c.Ref()
	defer c.Unref()

	c.emit(Event{Type: EventStarted})
	if c.Type.NewGame != nil {
		c.game = c.Type.NewGame(c, append([]string(nil), c.names...))
	}
}

// PushButton handles an inline button press from player num.
func (c *Conversation) PushButton(num int, data string) {
	if data == startButtonData {
		c.Start()
		return
	}
	if c.game != nil {
		c.Ref()
		defer c.Unref()
		c.game.HandleButton(num, data)
	}
}

// SendChat logs a chat line from player num and forwards it to the game.
func (c *Conversation) SendChat(num int, text string) {
	c.queue(GameMessage{
		Text:   "<b>" + html.EscapeString(c.names[num]) + "</b>\n\n" + html.EscapeString(text),
		HTML:   true,
		Target: -1,
	}, num)

	if c.game != nil {
		c.Ref()
		defer c.Unref()
		c.game.HandleMessage(num, text)
	}
}

// GameOver stops the running game. The conversation stays open.
func (c *Conversation) GameOver() {
	if c.game == nil {
		return
	}
	c.game.Close()
	c.game = nil
}
