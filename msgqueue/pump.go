// File: msgqueue/pump.go
// Author: momentics <momentics@gmail.com>
//
// Reactor-driven send loop over a Queue.

package msgqueue

import (
	"go.uber.org/zap"

	"github.com/momentics/pcxd/api"
	"github.com/momentics/pcxd/control"
	"github.com/momentics/pcxd/internal/logging"
)

// Sender delivers one payload. done must be called exactly once, from any
// goroutine.
type Sender[T any] interface {
	Send(dest int64, payload T, done func(error))
}

// SenderFunc adapts a function to Sender.
type SenderFunc[T any] func(dest int64, payload T, done func(error))

// Send implements Sender.
func (f SenderFunc[T]) Send(dest int64, payload T, done func(error)) { f(dest, payload, done) }

// Pump drains a Queue through a Sender with at most one send in flight.
// When every pending destination is over quota it sleeps on a one-minute
// reactor timer, which always covers the remaining window.
type Pump[T any] struct {
	r      api.Reactor
	q      *Queue[T]
	sender Sender[T]

	inFlight bool
	idle     api.Handle
	timer    api.Handle
	closed   bool

	log     *zap.Logger
	metrics *control.Metrics
}

// PumpOption configures a Pump.
type PumpOption func(*pumpConfig)

type pumpConfig struct {
	log     *zap.Logger
	metrics *control.Metrics
}

// WithLogger sets the pump logger.
func WithLogger(l *zap.Logger) PumpOption {
	return func(c *pumpConfig) { c.log = l }
}

// WithMetrics attaches telemetry collectors.
func WithMetrics(m *control.Metrics) PumpOption {
	return func(c *pumpConfig) { c.metrics = m }
}

// NewPump binds q and sender to the reactor r.
func NewPump[T any](r api.Reactor, q *Queue[T], sender Sender[T], opts ...PumpOption) *Pump[T] {
	cfg := pumpConfig{}
	for _, o := range opts {
		o(&cfg)
	}
	if cfg.log == nil {
		cfg.log = logging.Named("msgqueue")
	}
	return &Pump[T]{r: r, q: q, sender: sender, log: cfg.log, metrics: cfg.metrics}
}

// Queue returns the underlying queue.
func (p *Pump[T]) Queue() *Queue[T] { return p.q }

// Submit queues payload for dest and schedules a send attempt.
func (p *Pump[T]) Submit(dest int64, payload T) {
	if p.closed {
		return
	}
	p.q.Enqueue(dest, payload)
	p.metrics.SetQueueDepth(p.q.Len())
	p.schedule()
}

func (p *Pump[T]) schedule() {
	if p.closed || p.inFlight || p.idle.Valid() {
		return
	}
	p.idle = p.r.AddIdle(p.step)
}

func (p *Pump[T]) step(api.Handle) {
	p.idle = api.Handle{}
	if p.closed || p.inFlight {
		return
	}

	msg, ok, wait := p.q.Dequeue()
	if !ok {
		if wait.Pending && !p.timer.Valid() {
			p.log.Debug("all destinations over quota", zap.Duration("delay", wait.Delay))
			p.timer = p.r.AddTimer(1, p.wake)
		}
		return
	}

	p.metrics.SetQueueDepth(p.q.Len())
	p.inFlight = true
	p.sender.Send(msg.Dest, msg.Payload, func(err error) {
		p.r.AddIdle(func(api.Handle) { p.sent(msg.Dest, err) })
	})
}

func (p *Pump[T]) sent(dest int64, err error) {
	p.inFlight = false
	p.metrics.ObserveSend(err)
	if err != nil {
		p.log.Warn("send failed", zap.Int64("dest", dest), zap.Error(err))
	}
	p.schedule()
}

func (p *Pump[T]) wake(h api.Handle) {
	_ = p.r.Remove(h)
	p.timer = api.Handle{}
	p.schedule()
}

// Close stops scheduling. A send already in flight completes but nothing
// further is dequeued.
func (p *Pump[T]) Close() {
	if p.closed {
		return
	}
	p.closed = true
	if p.idle.Valid() {
		_ = p.r.Remove(p.idle)
		p.idle = api.Handle{}
	}
	if p.timer.Valid() {
		_ = p.r.Remove(p.timer)
		p.timer = api.Handle{}
	}
}
