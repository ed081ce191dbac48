// File: playerbase/playerbase.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Player directory: chained hash index plus insertion-ordered list, swept
// by a reactor timer.

package playerbase

import (
	"time"

	"go.uber.org/zap"

	"github.com/momentics/pcxd/api"
	"github.com/momentics/pcxd/control"
	"github.com/momentics/pcxd/internal/logging"
)

const (
	// DefaultMaxAge is how long an unreferenced player survives without
	// activity.
	DefaultMaxAge = 2 * time.Minute

	initialCapacity = 8
)

// Playerbase owns every Player. It is used from the loop goroutine only.
type Playerbase struct {
	r       api.Reactor
	maxAge  time.Duration
	log     *zap.Logger
	metrics *control.Metrics

	players []*Player
	table   []*Player
	gc      api.Handle
}

// Option configures a Playerbase.
type Option func(*Playerbase)

// WithMaxAge overrides DefaultMaxAge. The sweep runs every MaxAge, rounded
// up to whole minutes.
func WithMaxAge(d time.Duration) Option {
	return func(pb *Playerbase) {
		if d > 0 {
			pb.maxAge = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(pb *Playerbase) { pb.log = l }
}

// WithMetrics attaches telemetry collectors.
func WithMetrics(m *control.Metrics) Option {
	return func(pb *Playerbase) { pb.metrics = m }
}

// New returns an empty playerbase bound to r.
func New(r api.Reactor, opts ...Option) *Playerbase {
	pb := &Playerbase{
		r:      r,
		maxAge: DefaultMaxAge,
		table:  make([]*Player, initialCapacity),
	}
	for _, o := range opts {
		o(pb)
	}
	if pb.log == nil {
		pb.log = logging.Named("playerbase")
	}
	return pb
}

func (pb *Playerbase) pos(id uint64) int { return int(id % uint64(len(pb.table))) }

func (pb *Playerbase) link(p *Player) {
	i := pb.pos(p.ID)
	p.hashNext = pb.table[i]
	pb.table[i] = p
}

func (pb *Playerbase) unlink(p *Player) {
	for prev := &pb.table[pb.pos(p.ID)]; *prev != nil; prev = &(*prev).hashNext {
		if *prev == p {
			*prev = p.hashNext
			p.hashNext = nil
			return
		}
	}
}

func (pb *Playerbase) grow() {
	pb.table = make([]*Player, len(pb.table)*2)
	for _, p := range pb.players {
		pb.link(p)
	}
}

// Add creates a player seated in seat and arms the sweep timer.
func (pb *Playerbase) Add(seat Seat, name string, id uint64) *Player {
	if len(pb.players)+1 > len(pb.table)*3/4 {
		pb.grow()
	}

	seat.Ref()
	p := &Player{
		ID:           id,
		Name:         name,
		Seat:         seat,
		lastActivity: pb.r.Now(),
	}
	p.Num = seat.AddPlayer(name)

	pb.players = append(pb.players, p)
	pb.link(p)
	pb.metrics.SetPlayers(len(pb.players))

	if !pb.gc.Valid() {
		pb.gc = pb.r.AddTimer(pb.periodMinutes(), pb.sweep)
	}
	return p
}

func (pb *Playerbase) periodMinutes() int {
	return int((pb.maxAge + time.Minute - 1) / time.Minute)
}

// Lookup finds a live player by id.
func (pb *Playerbase) Lookup(id uint64) (*Player, bool) {
	for p := pb.table[pb.pos(id)]; p != nil; p = p.hashNext {
		if p.ID == id {
			return p, true
		}
	}
	return nil, false
}

// Len returns the number of live players.
func (pb *Playerbase) Len() int { return len(pb.players) }

// Players returns the live players in insertion order.
func (pb *Playerbase) Players() []*Player {
	return append([]*Player(nil), pb.players...)
}

func (pb *Playerbase) sweep(h api.Handle) {
	now := pb.r.Now()
	kept := pb.players[:0]
	for _, p := range pb.players {
		if p.refCount == 0 && now.Sub(p.lastActivity) >= pb.maxAge {
			pb.evict(p)
			continue
		}
		kept = append(kept, p)
	}
	clear(pb.players[len(kept):])
	pb.players = kept
	pb.metrics.SetPlayers(len(pb.players))

	if len(pb.players) == 0 {
		_ = pb.r.Remove(h)
		pb.gc = api.Handle{}
	}
}

func (pb *Playerbase) evict(p *Player) {
	pb.unlink(p)
	pb.log.Debug("evicting idle player", zap.Uint64("id", p.ID), zap.Int("num", p.Num))
	pb.metrics.ObserveEviction()
	if !p.hasLeft {
		p.Seat.RemovePlayer(p.Num)
	}
	p.Seat.Unref()
}

// Close frees every player without notifying seats and disarms the sweep.
func (pb *Playerbase) Close() {
	for _, p := range pb.players {
		p.Seat.Unref()
	}
	clear(pb.players)
	pb.players = nil
	pb.table = make([]*Player, initialCapacity)
	pb.metrics.SetPlayers(0)
	if pb.gc.Valid() {
		_ = pb.r.Remove(pb.gc)
		pb.gc = api.Handle{}
	}
}
