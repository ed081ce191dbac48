// File: reactor/signal.go
// Author: momentics <momentics@gmail.com>
//
// Self-pipe bridge: termination signals and cross-goroutine wakeups are
// turned into bytes on a pipe whose read end is an ordinary poll source, so
// quit observers always run on the loop goroutine.

package reactor

import (
	"errors"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/momentics/pcxd/api"
)

// wakeByte only interrupts the wait. Any other byte is a signal number.
const wakeByte byte = 0

// SignalNotifier is the seam to the process signal machinery.
type SignalNotifier interface {
	Notify(c chan<- os.Signal, sig ...os.Signal)
	Stop(c chan<- os.Signal)
}

type osNotifier struct{}

func (osNotifier) Notify(c chan<- os.Signal, sig ...os.Signal) { signal.Notify(c, sig...) }
func (osNotifier) Stop(c chan<- os.Signal)                     { signal.Stop(c) }

func (mc *MainContext) startSignalForwarding() {
	mc.sigCh = make(chan os.Signal, 4)
	mc.sigDone = make(chan struct{})
	mc.notifier.Notify(mc.sigCh, mc.signals...)

	mc.sigWG.Add(1)
	go func() {
		defer mc.sigWG.Done()
		for {
			select {
			case sig := <-mc.sigCh:
				b := byte(syscall.SIGTERM)
				if s, ok := sig.(syscall.Signal); ok && s > 0 && s < 256 {
					b = byte(s)
				}
				mc.pipe.write(b)
			case <-mc.sigDone:
				return
			}
		}
	}()
}

func (mc *MainContext) stopSignalForwarding() {
	mc.notifier.Stop(mc.sigCh)
	close(mc.sigDone)
	mc.sigWG.Wait()
}

// pipeReadable drains the self-pipe and emits any signals found in it.
func (mc *MainContext) pipeReadable(_ api.Handle, _ int, flags api.PollFlags) {
	if flags&api.PollError != 0 {
		mc.log.Warn("error condition on self-pipe")
	}

	var (
		buf  [64]byte
		sigs []os.Signal
	)
	for {
		n, err := mc.pipe.read(buf[:])
		if err != nil {
			if !errors.Is(err, syscall.EAGAIN) && !errors.Is(err, syscall.EINTR) {
				mc.log.Warn("read from self-pipe failed", zap.Error(err))
			}
			break
		}
		for _, b := range buf[:n] {
			if b != wakeByte {
				sigs = append(sigs, syscall.Signal(b))
			}
		}
		if n < len(buf) {
			break
		}
	}

	mc.mu.Lock()
	mc.wakePending = false
	mc.mu.Unlock()

	for _, sig := range sigs {
		mc.emitQuit(sig)
	}
}

func (mc *MainContext) emitQuit(sig os.Signal) {
	mc.log.Info("termination signal received", zap.Stringer("signal", sig))
	handles := append([]api.Handle(nil), mc.quitSources...)
	for _, h := range handles {
		src := mc.lookup(h)
		if src == nil {
			continue
		}
		mc.metrics.ObserveDispatch("quit")
		src.quitCB(h, sig)
	}
}
