// Package workerreg tracks the job's spawned worker processes in a shared
// on-disk registry and escalates their termination during shutdown.
//
// File layout: one line per registered worker,
//
//	<pid> [free-text label]
//
// Workers append their own line once at start; only the single orchestrator
// reads and prunes. The append-only discipline keeps the write path free of
// read-modify-write races, so no lock is needed on either side.
//
// Workers do not reliably deregister on normal exit, so the registry may
// contain stale entries. Membership means "was alive at some point", never
// "is alive now"; TerminateAll re-probes liveness before signaling.
package workerreg

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

const probeInterval = 250 * time.Millisecond

// Entry is one parsed registry line.
type Entry struct {
	PID   int
	Label string
}

// Registry is the shared worker record backed by a single append-only file.
type Registry struct {
	path string
	log  *zap.Logger
}

// New returns a registry backed by path. The file is created lazily on
// first registration.
func New(path string, log *zap.Logger) *Registry {
	if log == nil {
		log = zap.NewNop()
	}
	return &Registry{path: path, log: log}
}

// Path returns the registry file path.
func (r *Registry) Path() string {
	return r.path
}

// Register appends one worker line. Each line is written in a single
// O_APPEND write so concurrent registrations from many workers never
// interleave.
func (r *Registry) Register(pid int, label string) error {
	if pid <= 0 {
		return fmt.Errorf("invalid worker pid: %d", pid)
	}

	f, err := os.OpenFile(r.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("open worker registry: %w", err)
	}
	defer func() { _ = f.Close() }()

	line := strconv.Itoa(pid)
	if label = strings.TrimSpace(label); label != "" {
		line += " " + label
	}
	if _, err := f.WriteString(line + "\n"); err != nil {
		return fmt.Errorf("append worker registration: %w", err)
	}
	return nil
}

// List parses the registry. Only the leading token of each line is the
// identifier; malformed lines are skipped. An absent file is an empty
// registry, not an error.
func (r *Registry) List() ([]Entry, error) {
	b, err := os.ReadFile(r.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read worker registry: %w", err)
	}

	var out []Entry
	for _, line := range strings.Split(string(b), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		fields := strings.SplitN(line, " ", 2)
		pid, err := strconv.Atoi(fields[0])
		if err != nil || pid <= 0 {
			continue
		}
		e := Entry{PID: pid}
		if len(fields) == 2 {
			e.Label = strings.TrimSpace(fields[1])
		}
		out = append(out, e)
	}
	return out, nil
}

// TerminateAll escalates termination of every live registered worker:
// SIGTERM, then up to grace of liveness re-probing, then SIGKILL. Entries
// whose process is already gone are silently skipped; an empty registry is
// a no-op.
func (r *Registry) TerminateAll(grace time.Duration) error {
	entries, err := r.List()
	if err != nil {
		return err
	}

	for _, e := range entries {
		h := NewHandle(e.PID)
		if !h.IsAlive() {
			continue
		}

		r.log.Info("terminating worker",
			zap.Int("pid", e.PID),
			zap.String("label", e.Label))

		if err := h.Terminate(); err != nil {
			// Lost a race with exit; the re-probe below settles it.
			r.log.Debug("sigterm failed", zap.Int("pid", e.PID), zap.Error(err))
		}
		if h.WaitExit(grace, probeInterval) {
			continue
		}

		r.log.Warn("worker ignored graceful stop, killing",
			zap.Int("pid", e.PID),
			zap.Duration("grace", grace))
		_ = h.Kill()
	}
	return nil
}

// Remove deletes the registry storage itself. An already-absent file is
// not an error.
func (r *Registry) Remove() error {
	if err := os.Remove(r.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove worker registry: %w", err)
	}
	return nil
}
