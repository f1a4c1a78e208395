// Package fanout drives the job's parallel workload: one OS process per
// work unit, bounded by a configured maximum of concurrent workers.
//
// Every spawned process is registered in the worker registry before its
// unit starts, so the shutdown path can escalate termination even for
// workers the driver itself has lost track of. The driver additionally
// honors a two-stage stop contract of its own (SoftStop ends dispatch of
// new units, HardStop also signals in-flight units) because at stop time
// it may own processes whose registration has not landed yet.
package fanout

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/tidelinehq/spotrun/pkg/workerreg"
)

// Config configures the driver.
type Config struct {
	// Command and Args form the worker command line; the unit's input
	// path is appended as the final argument.
	Command string
	Args    []string

	// MaxWorkers bounds concurrent worker processes.
	MaxWorkers int

	// WorkDir is the working directory for worker processes.
	WorkDir string

	// UnitLogDir receives per-unit stdout/stderr capture files. Empty
	// discards worker output.
	UnitLogDir string
}

// Driver runs units and tracks in-flight processes.
type Driver struct {
	cfg Config
	reg *workerreg.Registry
	log *zap.Logger

	started     atomic.Bool
	softStopped atomic.Bool
	exitCode    atomic.Int64
	unitsRun    atomic.Int64

	mu       sync.Mutex
	inflight map[int]*os.Process

	done chan struct{}
}

// New builds a driver. reg must not be nil: unregistered workers cannot be
// reaped at shutdown.
func New(cfg Config, reg *workerreg.Registry, log *zap.Logger) *Driver {
	if cfg.MaxWorkers < 1 {
		cfg.MaxWorkers = 1
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Driver{
		cfg:      cfg,
		reg:      reg,
		log:      log,
		inflight: make(map[int]*os.Process),
		done:     make(chan struct{}),
	}
}

// Start launches the fan-out over units and returns immediately. Done()
// closes once every dispatched unit has exited.
func (d *Driver) Start(ctx context.Context, units []string) {
	d.started.Store(true)
	go d.run(ctx, units)
}

// Started reports whether Start was ever called. Done() never closes for a
// driver that was not started.
func (d *Driver) Started() bool {
	return d.started.Load()
}

// Done closes when the fan-out has fully drained.
func (d *Driver) Done() <-chan struct{} {
	return d.done
}

// ExitCode is 0 when every dispatched unit succeeded, otherwise the exit
// code of the first failing unit. Valid once Done() is closed.
func (d *Driver) ExitCode() int {
	return int(d.exitCode.Load())
}

// UnitsRun reports how many units were dispatched.
func (d *Driver) UnitsRun() int {
	return int(d.unitsRun.Load())
}

// SoftStop stops dispatching new units. In-flight units keep running.
// Idempotent.
func (d *Driver) SoftStop() {
	if d.softStopped.CompareAndSwap(false, true) {
		d.log.Info("fanout soft stop: no new units will be dispatched")
	}
}

// HardStop soft-stops and then signals every in-flight worker to
// terminate. Idempotent; escalation beyond SIGTERM is the registry's job.
func (d *Driver) HardStop() {
	d.SoftStop()

	d.mu.Lock()
	procs := make([]*os.Process, 0, len(d.inflight))
	for _, p := range d.inflight {
		procs = append(procs, p)
	}
	d.mu.Unlock()

	for _, p := range procs {
		d.log.Info("fanout hard stop: signaling in-flight unit", zap.Int("pid", p.Pid))
		_ = p.Signal(os.Interrupt)
	}
}

func (d *Driver) run(ctx context.Context, units []string) {
	defer close(d.done)

	sem := make(chan struct{}, d.cfg.MaxWorkers)
	var wg sync.WaitGroup

	for _, unit := range units {
		if d.softStopped.Load() || ctx.Err() != nil {
			break
		}
		sem <- struct{}{}
		// Re-check after a potentially long semaphore wait.
		if d.softStopped.Load() || ctx.Err() != nil {
			<-sem
			break
		}

		wg.Add(1)
		d.unitsRun.Add(1)
		go func(unit string) {
			defer wg.Done()
			defer func() { <-sem }()
			d.runUnit(unit)
		}(unit)
	}

	wg.Wait()
}

func (d *Driver) runUnit(unit string) {
	args := append(append([]string{}, d.cfg.Args...), unit)
	cmd := exec.Command(d.cfg.Command, args...)
	cmd.Dir = d.cfg.WorkDir

	var logFile *os.File
	if d.cfg.UnitLogDir != "" {
		name := filepath.Join(d.cfg.UnitLogDir, "unit-"+filepath.Base(unit)+".log")
		if f, err := os.Create(name); err == nil {
			logFile = f
			cmd.Stdout = f
			cmd.Stderr = f
		}
	}
	defer func() {
		if logFile != nil {
			_ = logFile.Close()
		}
	}()

	if err := cmd.Start(); err != nil {
		d.log.Error("start worker unit", zap.String("unit", unit), zap.Error(err))
		d.exitCode.CompareAndSwap(0, 1)
		return
	}

	pid := cmd.Process.Pid
	// Register before the unit does real work so shutdown can always
	// reach it.
	if err := d.reg.Register(pid, "fanout "+filepath.Base(unit)); err != nil {
		d.log.Warn("register worker", zap.Int("pid", pid), zap.Error(err))
	}

	d.mu.Lock()
	d.inflight[pid] = cmd.Process
	d.mu.Unlock()
	defer func() {
		d.mu.Lock()
		delete(d.inflight, pid)
		d.mu.Unlock()
	}()

	err := cmd.Wait()
	if err != nil {
		code := 1
		var ee *exec.ExitError
		if errors.As(err, &ee) && ee.ExitCode() > 0 {
			code = ee.ExitCode()
		}
		d.log.Warn("worker unit failed",
			zap.String("unit", unit),
			zap.Int("pid", pid),
			zap.Int("exit_code", code))
		// First failure wins.
		d.exitCode.CompareAndSwap(0, int64(code))
		return
	}

	d.log.Debug("worker unit finished", zap.String("unit", unit), zap.Int("pid", pid))
}
