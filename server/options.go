// File: server/options.go
// Package server defines functional options for the Server.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package server

import (
	"go.uber.org/zap"

	"github.com/momentics/pcxd/control"
	"github.com/momentics/pcxd/conversation"
	"github.com/momentics/pcxd/msgqueue"
	"github.com/momentics/pcxd/pool"
)

// ServerOption customizes server initialization.
type ServerOption func(*Server)

// WithGameTypes registers the games clients may ask for.
func WithGameTypes(types ...*conversation.GameType) ServerOption {
	return func(s *Server) {
		for _, gt := range types {
			s.gameTypes[gt.Name] = gt
		}
	}
}

// WithRelaySender replaces the HTTP relay with an arbitrary sender. The
// relay is enabled even if Config.RelayURL is empty.
func WithRelaySender(sender msgqueue.Sender[[]byte]) ServerOption {
	return func(s *Server) {
		s.sender = sender
	}
}

// WithBufferPool shares a connection buffer pool between servers.
func WithBufferPool(p *pool.BytePool) ServerOption {
	return func(s *Server) {
		s.buffers = p
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) ServerOption {
	return func(s *Server) {
		s.log = l
	}
}

// WithMetrics attaches telemetry collectors to the server and every
// component it creates.
func WithMetrics(m *control.Metrics) ServerOption {
	return func(s *Server) {
		s.metrics = m
	}
}
