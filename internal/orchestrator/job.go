package orchestrator

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// CleanupMode selects which local artifacts survive the run.
type CleanupMode string

const (
	// CleanupKeep deletes nothing.
	CleanupKeep CleanupMode = "keep"

	// CleanupOutput deletes downloaded inputs and intermediates, keeping
	// results and logs.
	CleanupOutput CleanupMode = "output"

	// CleanupGPG deletes everything except encrypted result artifacts.
	CleanupGPG CleanupMode = "gpg"

	// CleanupAll deletes all local state after a successful upload, then
	// powers the host off on success.
	CleanupAll CleanupMode = "all"
)

// ParseCleanupMode validates an operator-supplied mode string.
func ParseCleanupMode(s string) (CleanupMode, error) {
	switch m := CleanupMode(strings.ToLower(strings.TrimSpace(s))); m {
	case CleanupKeep, CleanupOutput, CleanupGPG, CleanupAll:
		return m, nil
	default:
		return "", fmt.Errorf("unknown cleanup mode %q (want keep, output, gpg, or all)", s)
	}
}

// Job is one execution instance. The exit code is set exactly once, on the
// first entry into the shutdown path, and is immutable afterwards.
type Job struct {
	ID          string
	Name        string
	RunID       string
	CleanupMode CleanupMode
	Encrypt     bool
	StartedAt   time.Time

	exitOnce sync.Once
	exitCode int
	exitSet  bool
	mu       sync.Mutex
}

// NewJob builds the job identity: name, start timestamp, host, and the
// orchestrator's pid.
func NewJob(name string, mode CleanupMode, encrypt bool) *Job {
	now := time.Now().UTC()
	host, err := os.Hostname()
	if err != nil {
		host = "unknown-host"
	}
	return &Job{
		ID:          fmt.Sprintf("%s-%s-%s-%d", name, now.Format("20060102T150405Z"), host, os.Getpid()),
		Name:        name,
		RunID:       uuid.New().String(),
		CleanupMode: mode,
		Encrypt:     encrypt,
		StartedAt:   now,
	}
}

// SetExitCode records the terminal exit code. Only the first call wins;
// later calls (duplicate signals, monitor results racing a signal) are
// no-ops.
func (j *Job) SetExitCode(code int) {
	j.exitOnce.Do(func() {
		j.mu.Lock()
		defer j.mu.Unlock()
		j.exitCode = code
		j.exitSet = true
	})
}

// ExitCode returns the recorded code, or zero if none was set.
func (j *Job) ExitCode() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.exitCode
}

// ExitCodeSet reports whether the terminal code has been assigned.
func (j *Job) ExitCodeSet() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.exitSet
}
