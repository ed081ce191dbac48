// File: reactor/reactor.go
// Author: momentics <momentics@gmail.com>
//
// Main context: source registration, cached clocks and lifecycle.

package reactor

import (
	"os"
	"slices"
	"sync"
	"syscall"
	"time"

	"github.com/eapache/queue"
	"go.uber.org/zap"

	"github.com/momentics/pcxd/api"
	"github.com/momentics/pcxd/control"
	"github.com/momentics/pcxd/internal/logging"
)

// Clock is the time source of a main context.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// Stats is a snapshot of registered sources.
type Stats struct {
	Poll    int
	Timers  int
	Buckets int
	Idle    int
	Quit    int
}

// MainContext is the event reactor. Construct with New; the zero value is
// not usable.
type MainContext struct {
	// mu guards slots, idle, polling, wakePending and nbuckets. It is the
	// only lock in the reactor and exists so AddIdle and Stats can be called
	// from any goroutine.
	mu          sync.Mutex
	slots       slotMap
	idle        *queue.Queue
	polling     bool
	wakePending bool
	nbuckets    int

	pollSources []api.Handle
	pollDirty   bool
	pollFds     []PollFd
	pollHandles []api.Handle

	buckets        []*bucket
	lastTimerCheck time.Time
	firing         bool

	quitSources []api.Handle

	monoValid bool
	mono      time.Time
	wallValid bool
	wall      int64

	pipe       selfPipe
	pipeSource api.Handle
	sigCh      chan os.Signal
	sigDone    chan struct{}
	sigWG      sync.WaitGroup

	stopping bool
	closed   bool

	clock    Clock
	poller   Poller
	notifier SignalNotifier
	signals  []os.Signal
	log      *zap.Logger
	metrics  *control.Metrics
}

// Option customizes a main context.
type Option func(*MainContext)

// WithClock replaces the system clock.
func WithClock(c Clock) Option {
	return func(mc *MainContext) {
		mc.clock = c
	}
}

// WithPoller replaces the poll(2) backend.
func WithPoller(p Poller) Option {
	return func(mc *MainContext) {
		mc.poller = p
	}
}

// WithSignalNotifier replaces os/signal as the termination signal source.
func WithSignalNotifier(n SignalNotifier) Option {
	return func(mc *MainContext) {
		mc.notifier = n
	}
}

// WithSignals overrides the signals treated as quit requests.
func WithSignals(sigs ...os.Signal) Option {
	return func(mc *MainContext) {
		mc.signals = sigs
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(mc *MainContext) {
		mc.log = l
	}
}

// WithMetrics attaches telemetry collectors.
func WithMetrics(m *control.Metrics) Option {
	return func(mc *MainContext) {
		mc.metrics = m
	}
}

// New creates a main context with its self-pipe registered and termination
// signals routed through it.
func New(opts ...Option) (*MainContext, error) {
	mc := &MainContext{
		idle:      queue.New(),
		pollDirty: true,
		clock:     systemClock{},
		notifier:  osNotifier{},
		signals:   []os.Signal{syscall.SIGINT, syscall.SIGTERM},
	}
	for _, o := range opts {
		o(mc)
	}
	if mc.log == nil {
		mc.log = logging.Named("reactor")
	}
	if mc.poller == nil {
		p, err := NewSystemPoller()
		if err != nil {
			return nil, err
		}
		mc.poller = p
	}

	pipe, err := newSelfPipe()
	if err != nil {
		return nil, err
	}
	mc.pipe = pipe
	mc.pipeSource = mc.AddPoll(pipe.readFD(), api.PollIn, mc.pipeReadable)
	mc.startSignalForwarding()

	return mc, nil
}

// Now returns the monotonic time cached for the current iteration.
// The cache is invalidated each time the loop returns from a wait.
func (mc *MainContext) Now() time.Time {
	if !mc.monoValid {
		mc.mono = mc.clock.Now()
		mc.monoValid = true
	}
	return mc.mono
}

// WallClock returns the cached wall-clock time in unix seconds.
func (mc *MainContext) WallClock() int64 {
	if !mc.wallValid {
		mc.wall = mc.clock.Now().Unix()
		mc.wallValid = true
	}
	return mc.wall
}

func (mc *MainContext) invalidateClocks() {
	mc.monoValid = false
	mc.wallValid = false
}

func (mc *MainContext) lookup(h api.Handle) *source {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	return mc.slots.get(h)
}

func (mc *MainContext) insert(s *source) api.Handle {
	mc.mu.Lock()
	h := mc.slots.insert(s)
	n := mc.slots.count(s.kind)
	mc.mu.Unlock()
	mc.metrics.SetSources(s.kind.String(), n)
	return h
}

func (mc *MainContext) release(h api.Handle, kind sourceKind) {
	mc.mu.Lock()
	mc.slots.release(h)
	n := mc.slots.count(kind)
	mc.mu.Unlock()
	mc.metrics.SetSources(kind.String(), n)
}

// AddPoll registers fd for readiness notifications.
func (mc *MainContext) AddPoll(fd int, flags api.PollFlags, cb api.PollFunc) api.Handle {
	h := mc.insert(&source{kind: kindPoll, fd: fd, flags: flags, pollCB: cb})
	mc.pollSources = append(mc.pollSources, h)
	mc.pollDirty = true
	return h
}

// ModifyPoll changes the interest set of a poll source.
func (mc *MainContext) ModifyPoll(h api.Handle, flags api.PollFlags) {
	src := mc.lookup(h)
	if src == nil || src.kind != kindPoll {
		mc.log.Warn("modify of non-poll or stale source", zap.Stringer("handle", h))
		return
	}
	if src.flags == flags {
		return
	}
	src.flags = flags
	mc.pollDirty = true
}

// AddTimer registers a periodic callback. Timers with the same period share
// a bucket and fire together.
func (mc *MainContext) AddTimer(periodMinutes int, cb api.TimerFunc) api.Handle {
	if periodMinutes < 1 {
		periodMinutes = 1
	}
	if len(mc.buckets) == 0 {
		mc.lastTimerCheck = mc.Now()
	}
	b := mc.bucketFor(periodMinutes)
	src := &source{kind: kindTimer, bucket: b, timerCB: cb}
	h := mc.insert(src)
	b.sources = append(b.sources, h)
	return h
}

// AddIdle schedules cb to run once on the loop goroutine. Safe to call from
// any goroutine.
func (mc *MainContext) AddIdle(cb api.IdleFunc) api.Handle {
	mc.mu.Lock()
	h := mc.slots.insert(&source{kind: kindIdle, idleCB: cb})
	mc.idle.Add(h)
	wake := mc.polling && !mc.wakePending
	if wake {
		mc.wakePending = true
	}
	mc.mu.Unlock()

	if wake {
		mc.pipe.write(wakeByte)
	}
	return h
}

// AddQuit registers an observer invoked on every termination signal.
func (mc *MainContext) AddQuit(cb api.QuitFunc) api.Handle {
	h := mc.insert(&source{kind: kindQuit, quitCB: cb})
	mc.quitSources = append(mc.quitSources, h)
	return h
}

// Remove unregisters a source. A timer removed while its batch is firing is
// only marked and freed once the batch completes.
func (mc *MainContext) Remove(h api.Handle) error {
	src := mc.lookup(h)
	if src == nil || src.removed {
		return api.ErrStaleHandle
	}

	switch src.kind {
	case kindPoll:
		mc.pollSources = deleteHandle(mc.pollSources, h)
		mc.pollDirty = true
		mc.release(h, kindPoll)
	case kindTimer:
		if src.busy {
			src.removed = true
			return nil
		}
		src.bucket.sources = deleteHandle(src.bucket.sources, h)
		mc.release(h, kindTimer)
		if !mc.firing {
			mc.pruneBuckets()
		}
	case kindIdle:
		// The queued handle goes stale and is skipped by the drain.
		mc.release(h, kindIdle)
	case kindQuit:
		mc.quitSources = deleteHandle(mc.quitSources, h)
		mc.release(h, kindQuit)
	}
	return nil
}

// Stats reports the number of registered sources. Safe from any goroutine.
func (mc *MainContext) Stats() Stats {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	return Stats{
		Poll:    mc.slots.count(kindPoll),
		Timers:  mc.slots.count(kindTimer),
		Buckets: mc.nbuckets,
		Idle:    mc.slots.count(kindIdle),
		Quit:    mc.slots.count(kindQuit),
	}
}

// Close releases the self-pipe and stops signal delivery. All other sources
// must have been removed by their owners.
func (mc *MainContext) Close() error {
	if mc.closed {
		return api.ErrReactorClosed
	}
	mc.closed = true
	mc.stopSignalForwarding()
	_ = mc.Remove(mc.pipeSource)

	if st := mc.Stats(); st.Poll+st.Timers+st.Quit > 0 {
		mc.log.Warn("closing reactor with live sources",
			zap.Int("poll", st.Poll), zap.Int("timers", st.Timers), zap.Int("quit", st.Quit))
	}
	return mc.pipe.close()
}

func deleteHandle(list []api.Handle, h api.Handle) []api.Handle {
	if i := slices.Index(list, h); i >= 0 {
		return slices.Delete(list, i, i+1)
	}
	return list
}
