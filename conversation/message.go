// File: conversation/message.go
// Author: momentics <momentics@gmail.com>

package conversation

import (
	"strings"
	"unicode/utf8"

	"github.com/momentics/pcxd/protocol"
)

// MaxPayloadLen bounds an encoded message so that, with the command byte in
// front, it fits one protocol payload.
const MaxPayloadLen = protocol.MaxPayloadSize - 1

// MessageType is carried in bits 1-2 of the first payload byte.
type MessageType uint8

const (
	MessagePublic MessageType = iota
	MessagePrivate
	MessageChatOther
	MessageChatYou
)

// flagHTML is bit 0 of the first payload byte.
const flagHTML = 0x01

// Button is an inline choice offered with a message.
type Button struct {
	Text string
	Data string
}

// GameMessage is what a game, or the conversation itself, asks to show.
type GameMessage struct {
	Text string
	HTML bool
	// Target is the receiving player, or -1 for everyone.
	Target int
	// ButtonPlayers is the mask of players who see the buttons of a public
	// message. Private messages always carry their buttons.
	ButtonPlayers uint32
	Buttons       []Button
}

// PublicMessage returns a plain message for every player.
func PublicMessage(text string) GameMessage {
	return GameMessage{Text: text, Target: -1}
}

// Message is an entry of the conversation log, pre-encoded as the payload
// that follows the message command byte.
type Message struct {
	Target        int
	SendingPlayer int
	ButtonPlayers uint32

	data         []byte
	noButtonsLen int
}

// encodeMessage never produces more than MaxPayloadLen bytes. Buttons are
// dropped when they alone exceed it, then the text is truncated.
func encodeMessage(m GameMessage, sendingPlayer int) *Message {
	buttons := 0
	for _, b := range m.Buttons {
		buttons += len(b.Text) + 1 + len(b.Data) + 1
	}
	if 2+buttons > MaxPayloadLen {
		m.Buttons, buttons = nil, 0
	}
	if room := MaxPayloadLen - 2 - buttons; len(m.Text) > room {
		m.Text = truncateText(m.Text, room, m.HTML)
	}
	buf := make([]byte, 0, 1+len(m.Text)+1+buttons)

	var flags byte
	if m.HTML {
		flags |= flagHTML
	}
	if m.Target != -1 {
		flags |= byte(MessagePrivate) << 1
	}
	buf = append(buf, flags)
	buf = append(buf, m.Text...)
	buf = append(buf, 0)
	noButtons := len(buf)
	for _, b := range m.Buttons {
		buf = append(buf, b.Text...)
		buf = append(buf, 0)
		buf = append(buf, b.Data...)
		buf = append(buf, 0)
	}

	return &Message{
		Target:        m.Target,
		SendingPlayer: sendingPlayer,
		ButtonPlayers: m.ButtonPlayers,
		data:          buf,
		noButtonsLen:  noButtons,
	}
}

// VisibleTo reports whether player num receives the message.
func (m *Message) VisibleTo(num int) bool {
	return m.Target == -1 || m.Target == num
}

// PayloadLen returns the encoded length for player num.
func (m *Message) PayloadLen(num int) int {
	if m.Target == -1 && m.ButtonPlayers&(1<<uint(num)) == 0 {
		return m.noButtonsLen
	}
	return len(m.data)
}

// AppendPayload appends the encoding seen by player num. Chat messages are
// tagged as the player's own or as someone else's.
func (m *Message) AppendPayload(dst []byte, num int) []byte {
	start := len(dst)
	dst = append(dst, m.data[:m.PayloadLen(num)]...)
	if m.SendingPlayer != -1 {
		t := MessageChatOther
		if m.SendingPlayer == num {
			t = MessageChatYou
		}
		dst[start] |= byte(t) << 1
	}
	return dst
}

// Text returns the message text without buttons.
func (m *Message) Text() string {
	return string(m.data[1 : m.noButtonsLen-1])
}

// Public reports whether the message is addressed to every player and did
// not come from a player.
func (m *Message) Public() bool { return m.Target == -1 && m.SendingPlayer == -1 }

// truncateText cuts s to at most n bytes on a rune boundary. HTML text is
// also cut before a tag or entity the limit would split.
func truncateText(s string, n int, html bool) string {
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	s = s[:n]
	if !html {
		return s
	}
	if i := strings.LastIndexByte(s, '&'); i > strings.LastIndexByte(s, ';') {
		s = s[:i]
	}
	if i := strings.LastIndexByte(s, '<'); i > strings.LastIndexByte(s, '>') {
		s = s[:i]
	}
	return s
}
