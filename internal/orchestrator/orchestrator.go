// Package orchestrator runs one job end to end: prepare the workspace,
// fetch inputs, fan the workload out across worker processes, watch for
// trouble while they run, and tear everything down in a fixed order no
// matter which exit path fired first.
//
// The run is a linear state machine: Init, Fetch, Process, Monitor,
// Finalize, Shutdown. Any failure, operator signal, or cloud interruption
// notice funnels into the same shutdown sequence; the first terminal cause
// to land fixes the job's exit code and every later one is a no-op.
package orchestrator

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"

	"go.uber.org/zap"

	"github.com/tidelinehq/spotrun/internal/config"
	"github.com/tidelinehq/spotrun/internal/fanout"
	"github.com/tidelinehq/spotrun/pkg/crypt"
	"github.com/tidelinehq/spotrun/pkg/interruption"
	"github.com/tidelinehq/spotrun/pkg/manifest"
	"github.com/tidelinehq/spotrun/pkg/remote"
	"github.com/tidelinehq/spotrun/pkg/resource"
	"github.com/tidelinehq/spotrun/pkg/retry"
	"github.com/tidelinehq/spotrun/pkg/status"
	"github.com/tidelinehq/spotrun/pkg/workerreg"
)

// Exit codes reported when an operator signal ends the run.
const (
	exitSIGINT  = 130
	exitSIGTERM = 143
)

// Orchestrator coordinates one run.
type Orchestrator struct {
	cfg    *config.Config
	spec   *manifest.JobSpec
	job    *Job
	log    *zap.Logger
	store  remote.Store
	crypto crypt.Runner // nil disables the crypto operation
	paths  RunPaths

	reg     *workerreg.Registry
	eng     *retry.Engine
	imon    *interruption.Monitor
	sampler *resource.Sampler
	driver  *fanout.Driver

	// poweroff is swapped out by tests; the default shells out to the
	// system poweroff command.
	poweroff func() error

	shutdownOnce sync.Once
	outcome      Outcome
}

// New wires an orchestrator for one job. store must be non-nil; crypto may
// be nil when encryption is disabled.
func New(cfg *config.Config, spec *manifest.JobSpec, job *Job, store remote.Store, crypto crypt.Runner, log *zap.Logger) (*Orchestrator, error) {
	if cfg == nil || spec == nil || job == nil || store == nil {
		return nil, fmt.Errorf("orchestrator requires config, job spec, job, and store")
	}
	if log == nil {
		log = zap.NewNop()
	}

	paths := NewRunPaths(cfg.WorkspaceRoot, job.ID)

	metrics := retry.NewMetricsLog(paths.MetricsPath)
	eng := retry.NewEngine(retry.Policy{
		MaxAttempts:  cfg.Retry.MaxAttempts,
		InitialDelay: cfg.Retry.InitialDelay,
		MaxDelay:     cfg.Retry.MaxDelay,
		Multiplier:   cfg.Retry.Multiplier,
	}, job.ID, metrics, log)

	o := &Orchestrator{
		cfg:     cfg,
		spec:    spec,
		job:     job,
		log:     log,
		store:   store,
		crypto:  crypto,
		paths:   paths,
		reg:     workerreg.New(paths.RegistryPath, log),
		eng:     eng,
		sampler: resource.NewSampler(),
		imon: interruption.New(interruption.Config{
			Interval:       cfg.Intervals.InterruptionPoll,
			RequestTimeout: cfg.Intervals.InterruptionTimeout,
		}, log),
		poweroff: systemPoweroff,
	}
	o.driver = fanout.New(fanout.Config{
		Command:    spec.Worker.Command,
		Args:       spec.Worker.Args,
		MaxWorkers: cfg.MaxWorkers,
		WorkDir:    paths.TmpDir,
		UnitLogDir: paths.LogDir,
	}, o.reg, log)
	return o, nil
}

// Paths exposes the run's workspace layout.
func (o *Orchestrator) Paths() RunPaths {
	return o.paths
}

// Run executes the full lifecycle and returns the terminal outcome. The
// shutdown sequence always runs, whatever state the run died in.
//
// One signal watcher lives for the whole run: it records the signal's
// exit code and cancels the run context, and every state reads the same
// recorded code. A second signal lands in the buffered channel and is
// ignored; shutdown re-entry is already once-guarded.
func (o *Orchestrator) Run(ctx context.Context) Outcome {
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	sigCode := watchSignals(runCtx, sigCh, cancel, o.log)

	o.log.Info("run starting",
		zap.String("job_id", o.job.ID),
		zap.String("run_id", o.job.RunID),
		zap.String("cleanup_mode", string(o.job.CleanupMode)))

	if err := o.stateInit(); err != nil {
		o.log.Error("init failed", zap.Error(err))
		return o.Shutdown(1, "init failed")
	}

	if code, reason := o.stateFetch(runCtx, sigCode); code != status.CodeOK {
		return o.Shutdown(code, reason)
	}

	units, err := o.collectUnits()
	if err != nil {
		o.log.Error("enumerate work units", zap.Error(err))
		return o.Shutdown(1, "no work units")
	}
	o.log.Info("fan-out starting", zap.Int("units", len(units)), zap.Int("max_workers", o.cfg.MaxWorkers))
	o.driver.Start(runCtx, units)

	code, reason := o.stateMonitor(runCtx, sigCode)
	return o.Shutdown(code, reason)
}

// stateInit prepares the workspace and the worker registry.
func (o *Orchestrator) stateInit() error {
	if err := o.paths.Create(); err != nil {
		return err
	}
	if err := o.touchHeartbeat(); err != nil {
		return err
	}
	return nil
}

// stateFetch sizes, downloads, and (when enabled) decrypts the inputs. A
// signal arriving mid-transfer cancels the run context so the retry
// engine surfaces the shutdown sentinel instead of burning its budget.
func (o *Orchestrator) stateFetch(ctx context.Context, sigCode *atomic.Int64) (int, string) {
	var inputSize int64
	res := o.eng.DoTransfer(ctx, func(ctx context.Context) int {
		n, err := o.store.PrefixSize(ctx, o.spec.Remote.InputPrefix)
		if err != nil {
			o.log.Warn("size input prefix", zap.Error(err))
			return remote.StatusOf(err)
		}
		inputSize = n
		return status.CodeOK
	})
	if !res.Success() {
		if c := sigCode.Load(); c != 0 {
			return int(c), "signal during fetch"
		}
		return res.Status, "input sizing failed"
	}

	if free, err := freeBytes(o.paths.Root); err == nil {
		need := int64(float64(inputSize) * o.cfg.MinFreeDiskRatio)
		if free < need {
			o.log.Error("insufficient workspace disk",
				zap.Int64("free_bytes", free),
				zap.Int64("required_bytes", need),
				zap.Int64("input_bytes", inputSize))
			return 1, "insufficient disk"
		}
	}

	o.log.Info("fetching inputs",
		zap.String("prefix", o.spec.Remote.InputPrefix),
		zap.Int64("bytes", inputSize))
	res = o.eng.DoTransfer(ctx, func(ctx context.Context) int {
		if err := o.store.DownloadPrefix(ctx, o.spec.Remote.InputPrefix, o.paths.InputsDir); err != nil {
			o.log.Warn("download inputs", zap.Error(err))
			return remote.StatusOf(err)
		}
		return status.CodeOK
	})
	if !res.Success() {
		if c := sigCode.Load(); c != 0 {
			return int(c), "signal during fetch"
		}
		return res.Status, "input download failed"
	}

	if o.crypto != nil {
		if code := o.crypto.DecryptDir(ctx, o.paths.InputsDir); code != 0 {
			o.log.Error("decrypt inputs", zap.Int("status", code))
			return code, "input decryption failed"
		}
	}
	// A signal in the instant the last transfer finished must still end
	// the run before the fan-out starts.
	if c := sigCode.Load(); c != 0 {
		return int(c), "signal during fetch"
	}
	return status.CodeOK, ""
}

// collectUnits lists the input artifacts the fan-out will dispatch, sorted
// for deterministic ordering. Encrypted siblings left behind by decryption
// are not units.
func (o *Orchestrator) collectUnits() ([]string, error) {
	var units []string
	err := filepath.WalkDir(o.paths.InputsDir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || strings.HasSuffix(p, crypt.Suffix) {
			return nil
		}
		units = append(units, p)
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(units) == 0 {
		return nil, fmt.Errorf("no work units under %s", o.paths.InputsDir)
	}
	sort.Strings(units)
	return units, nil
}

// stateFinalize writes the run manifest. Best-effort: a manifest write
// failure is logged, never escalated, so it cannot mask the job's real
// outcome.
func (o *Orchestrator) stateFinalize(ctx context.Context, code int) {
	inputs, err := manifest.CollectArtifacts(o.paths.InputsDir)
	if err != nil {
		o.log.Warn("collect input artifacts", zap.Error(err))
	}
	outputs, err := manifest.CollectArtifacts(o.paths.ResultsDir)
	if err != nil {
		o.log.Warn("collect output artifacts", zap.Error(err))
	}

	m := &manifest.RunManifest{
		JobID:     o.job.ID,
		Name:      o.job.Name,
		StartedAt: o.job.StartedAt,
		EndedAt:   nowUTC(),
		ExitCode:  code,
		Inputs:    inputs,
		Outputs:   outputs,
		Resources: o.sampler.Summary(),
	}
	if err := manifest.WriteRunManifest(o.paths.ManifestPath, m); err != nil {
		o.log.Warn("write run manifest", zap.Error(err))
	}
}

// touchHeartbeat writes the liveness timestamp atomically.
func (o *Orchestrator) touchHeartbeat() error {
	tmp := o.paths.HeartbeatPath + ".tmp"
	if err := os.WriteFile(tmp, []byte(nowUTC().Format("2006-01-02T15:04:05Z07:00")+"\n"), 0644); err != nil {
		return fmt.Errorf("write heartbeat: %w", err)
	}
	return os.Rename(tmp, o.paths.HeartbeatPath)
}

func freeBytes(path string) (int64, error) {
	var st syscall.Statfs_t
	if err := syscall.Statfs(path, &st); err != nil {
		return 0, err
	}
	return int64(st.Bavail) * int64(st.Bsize), nil
}

func systemPoweroff() error {
	return syscall.Exec("/sbin/poweroff", []string{"poweroff"}, os.Environ())
}
