// File: playerbase/player.go
// Author: momentics <momentics@gmail.com>

package playerbase

import "time"

// Seat is the player's view of the conversation it sits in.
type Seat interface {
	// AddPlayer takes a seat and returns its number.
	AddPlayer(name string) int
	// RemovePlayer vacates a seat.
	RemovePlayer(num int)
	Ref()
	Unref()
}

// Player is a long-lived, reference counted handle on a conversation seat.
// Connections hold references while attached; an unreferenced player whose
// last activity is older than the playerbase MaxAge is evicted.
type Player struct {
	ID   uint64
	Num  int
	Name string
	Seat Seat

	refCount     int
	lastActivity time.Time
	hasLeft      bool

	hashNext *Player
}

// Ref records an attached connection.
func (p *Player) Ref() { p.refCount++ }

// Unref releases a reference taken with Ref.
func (p *Player) Unref() {
	if p.refCount == 0 {
		panic("playerbase: Unref of unreferenced player")
	}
	p.refCount--
}

// RefCount returns the number of attached connections.
func (p *Player) RefCount() int { return p.refCount }

// Touch refreshes the activity timestamp.
func (p *Player) Touch(now time.Time) { p.lastActivity = now }

// Leave vacates the seat now. The player record stays until collected, but
// eviction no longer notifies the seat.
func (p *Player) Leave() {
	if p.hasLeft {
		return
	}
	p.hasLeft = true
	p.Seat.RemovePlayer(p.Num)
}

// HasLeft reports whether Leave was called.
func (p *Player) HasLeft() bool { return p.hasLeft }
