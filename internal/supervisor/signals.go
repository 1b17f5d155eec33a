package supervisor

import (
	"os"
	"os/signal"
	"syscall"
)

// notifySignals is the fixed set of signals the control plane reacts
// to. SIGALRM is the timer signal that triggers a full upgrade.
var notifySignals = []os.Signal{
	syscall.SIGINT,
	syscall.SIGTERM,
	syscall.SIGQUIT,
	syscall.SIGHUP,
	syscall.SIGALRM,
	syscall.SIGCHLD,
	syscall.SIGUSR2,
}

// SignalQueue captures OS signals for deferred processing on the run
// loop. The OS-level handler only enqueues; every supervisory action
// runs synchronously on the loop, never in signal context.
type SignalQueue struct {
	C  <-chan os.Signal
	ch chan os.Signal
}

// NewSignalQueue registers for the control-plane signal set with a
// buffer of 16 signals.
func NewSignalQueue() *SignalQueue {
	ch := make(chan os.Signal, 16)
	signal.Notify(ch, notifySignals...)
	return &SignalQueue{C: ch, ch: ch}
}

// Stop deregisters signal notifications. Pending signals already in the
// channel remain readable.
func (sq *SignalQueue) Stop() {
	signal.Stop(sq.ch)
}

// ResetDispositions restores every control-plane signal to its platform
// default disposition. Called before re-executing into a new process
// image so the new image starts clean.
func ResetDispositions() {
	signal.Reset(notifySignals...)
}
