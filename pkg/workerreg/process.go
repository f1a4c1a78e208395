package workerreg

import (
	"os"
	"syscall"
	"time"
)

// Handle is a minimal view of an OS process that the registry can probe and
// signal without holding a parent/child relationship to it.
//
// Registry entries are only ever "was alive at some point"; every consumer
// must re-probe through IsAlive before acting on one.
type Handle struct {
	pid int
}

// NewHandle wraps a process identifier.
func NewHandle(pid int) Handle {
	return Handle{pid: pid}
}

// PID returns the wrapped process identifier.
func (h Handle) PID() int {
	return h.pid
}

// IsAlive reports whether the process can currently be signaled.
func (h Handle) IsAlive() bool {
	if h.pid <= 0 {
		return false
	}
	p, err := os.FindProcess(h.pid)
	if err != nil {
		return false
	}
	// signal 0 checks for existence without delivering a signal.
	if err := p.Signal(syscall.Signal(0)); err != nil {
		return false
	}
	return true
}

// Terminate sends the graceful-termination request (SIGTERM).
func (h Handle) Terminate() error {
	return h.signal(syscall.SIGTERM)
}

// Kill sends the forceful termination request (SIGKILL).
func (h Handle) Kill() error {
	return h.signal(syscall.SIGKILL)
}

func (h Handle) signal(sig syscall.Signal) error {
	p, err := os.FindProcess(h.pid)
	if err != nil {
		return err
	}
	return p.Signal(sig)
}

// WaitExit re-probes liveness at probeInterval until the process exits or
// grace elapses. It returns true if the process exited in time.
func (h Handle) WaitExit(grace, probeInterval time.Duration) bool {
	if probeInterval <= 0 {
		probeInterval = 250 * time.Millisecond
	}
	deadline := time.Now().Add(grace)
	for time.Now().Before(deadline) {
		if !h.IsAlive() {
			return true
		}
		time.Sleep(probeInterval)
	}
	return !h.IsAlive()
}
