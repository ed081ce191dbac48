// File: server/types.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package server

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/momentics/pcxd/api"
	"github.com/momentics/pcxd/control"
	"github.com/momentics/pcxd/conversation"
	"github.com/momentics/pcxd/msgqueue"
	"github.com/momentics/pcxd/playerbase"
	"github.com/momentics/pcxd/pool"
	"github.com/momentics/pcxd/transport"
)

// Config holds all server-side configuration parameters.
type Config struct {
	ListenAddr   string        // port, "host:port" or "[v6]:port"; empty means the default port
	MaxPlayerAge time.Duration // idle lifetime of a detached player
	Languages    []string      // language codes accepted from new players

	RelayURL    string        // when set, public messages are POSTed to RelayURL/<conversation>
	RelayLimit  int           // messages per conversation per window
	RelayWindow time.Duration // rate-limit window of the relay
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		MaxPlayerAge: playerbase.DefaultMaxAge,
		Languages:    []string{"en", "eo", "fr", "pt-br", "zh-tw"},
		RelayLimit:   msgqueue.DefaultLimit,
		RelayWindow:  msgqueue.DefaultWindow,
	}
}

// Validate checks values that would otherwise fail deep inside the loop.
func (c *Config) Validate() error {
	switch {
	case c.MaxPlayerAge <= 0:
		return invalid("max player age must be positive")
	case len(c.Languages) == 0:
		return invalid("at least one language is required")
	case c.RelayURL != "" && c.RelayLimit <= 0:
		return invalid("relay limit must be positive")
	case c.RelayURL != "" && c.RelayWindow <= 0:
		return invalid("relay window must be positive")
	}
	return nil
}

func invalid(msg string) error {
	return api.NewError(api.ErrCodeInvalidArgument, fmt.Sprintf("server config: %s", msg)).
		Wrap(api.ErrInvalidArgument)
}

type acceptFunc func(r api.Reactor, listenFD int, buffers *pool.BytePool, opts ...transport.Option) (*transport.Connection, error)

// Server accepts clients on one listening socket and routes their commands
// to players and conversations. Everything runs on the reactor goroutine.
type Server struct {
	cfg *Config
	r   api.Reactor

	listenFD     int
	listenSource api.Handle
	buffers      *pool.BytePool
	clients      map[*transport.Connection]struct{}
	accept       acceptFunc

	players    *playerbase.Playerbase
	gameTypes  map[string]*conversation.GameType
	languages  map[string]struct{}
	pending    map[string]*conversation.Conversation
	nextConvID uint64
	sender     msgqueue.Sender[[]byte]
	relay      *msgqueue.Pump[[]byte]

	log     *zap.Logger
	metrics *control.Metrics
}
