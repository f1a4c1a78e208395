package orchestrator

import (
	"context"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/tidelinehq/spotrun/pkg/remote"
	"github.com/tidelinehq/spotrun/pkg/retry"
	"github.com/tidelinehq/spotrun/pkg/status"
)

// OutcomeKind distinguishes how the process leaves.
type OutcomeKind int

const (
	// OutcomeExit means return the code to the caller for a normal exit.
	OutcomeExit OutcomeKind = iota

	// OutcomePowerOff means the host should be powered off. Reported only
	// for a clean run in the full-cleanup mode.
	OutcomePowerOff
)

func (k OutcomeKind) String() string {
	if k == OutcomePowerOff {
		return "power-off"
	}
	return "exit"
}

// Outcome is the terminal result of a run.
type Outcome struct {
	Kind OutcomeKind
	Code int
}

// Shutdown runs the teardown sequence exactly once. The first caller's
// code becomes the job's exit code; concurrent and repeated invocations
// (a second signal landing mid-teardown, a monitor result racing a signal)
// get the already-decided outcome back and trigger no work.
func (o *Orchestrator) Shutdown(code int, reason string) Outcome {
	o.shutdownOnce.Do(func() {
		o.job.SetExitCode(code)
		o.outcome = o.runShutdown(reason)
	})
	return o.outcome
}

// Outcome returns the decided outcome; valid once Shutdown has run.
func (o *Orchestrator) Outcome() Outcome {
	return o.outcome
}

// runShutdown is the ordered teardown. Every step is tolerant of the state
// it finds: absent directories, an empty registry, a driver that never
// started a unit. The shutdown path deliberately detaches from the run
// context: an already-cancelled run must still be able to drain uploads.
func (o *Orchestrator) runShutdown(reason string) Outcome {
	code := o.job.ExitCode()
	sctx := context.Background()

	o.log.Info("shutdown starting",
		zap.String("reason", reason),
		zap.Int("exit_code", code),
		zap.String("cleanup_mode", string(o.job.CleanupMode)))

	// Stop dispatching, give in-flight units a moment to finish on their
	// own, then signal the stragglers. A run that died before the fan-out
	// started has nothing to drain.
	o.driver.SoftStop()
	if o.driver.Started() {
		select {
		case <-o.driver.Done():
		case <-time.After(o.cfg.Shutdown.SoftStopGrace):
			o.driver.HardStop()
		}
		select {
		case <-o.driver.Done():
		case <-time.After(o.cfg.Shutdown.TerminateGrace):
			o.log.Warn("fan-out did not drain within grace; registry escalation takes over")
		}
	}

	snap := o.sampler.Snapshot()
	o.log.Info("resource snapshot at shutdown",
		zap.Int64("peak_rss_bytes", snap.PeakRSSBytes),
		zap.Float64("avg_load1", snap.AvgLoad1),
		zap.Int("samples", snap.Samples))

	if err := o.reg.TerminateAll(o.cfg.Shutdown.TerminateGrace); err != nil {
		o.log.Warn("terminate registered workers", zap.Error(err))
	}

	if o.crypto != nil {
		if c := o.crypto.EncryptDir(sctx, o.paths.ResultsDir); c != 0 {
			// Encryption failure degrades to an unencrypted upload rather
			// than losing the results entirely.
			o.log.Error("encrypt results", zap.Int("status", c))
		}
	}

	uploadOK := o.uploadResults(sctx)

	o.stateFinalize(sctx, code)
	if _, err := os.Stat(o.paths.ManifestPath); err == nil {
		o.uploadAuxFile(sctx, o.paths.ManifestPath, "manifest.json")
	}
	if o.packageLogs() == nil {
		o.uploadAuxFile(sctx, o.logArchivePath(), o.logArchiveName())
	}

	o.cleanupArtifacts(uploadOK)

	if err := o.reg.Remove(); err != nil {
		o.log.Warn("remove worker registry", zap.Error(err))
	}

	if o.job.CleanupMode == CleanupAll && code == 0 {
		o.log.Info("clean full-cleanup run; powering host off")
		if err := o.poweroff(); err != nil {
			o.log.Error("power off", zap.Error(err))
			return Outcome{Kind: OutcomeExit, Code: 1}
		}
		return Outcome{Kind: OutcomePowerOff, Code: code}
	}

	o.log.Info("shutdown complete", zap.Int("exit_code", code))
	return Outcome{Kind: OutcomeExit, Code: code}
}

// uploadResults pushes the results directory with the most persistent
// policy: this is the transfer whose failure loses the job's work.
func (o *Orchestrator) uploadResults(ctx context.Context) bool {
	if _, err := os.Stat(o.paths.ResultsDir); err != nil {
		return true // nothing to lose
	}
	res := o.eng.Do(ctx, func(ctx context.Context) int {
		if err := o.store.UploadDir(ctx, o.paths.ResultsDir, o.spec.Remote.OutputPrefix); err != nil {
			o.log.Warn("upload results", zap.Error(err))
			return remote.StatusOf(err)
		}
		return status.CodeOK
	}, retry.Critical)
	if !res.Success() {
		o.log.Error("result upload failed; local results are preserved",
			zap.Int("status", res.Status),
			zap.Int("attempts", res.Attempts))
		return false
	}
	o.log.Info("results uploaded", zap.String("prefix", o.spec.Remote.OutputPrefix))
	return true
}

// uploadAuxFile pushes a diagnostic artifact best-effort.
func (o *Orchestrator) uploadAuxFile(ctx context.Context, path, name string) {
	res := o.eng.Do(ctx, func(ctx context.Context) int {
		if err := o.store.UploadFile(ctx, path, o.outputKey(name)); err != nil {
			o.log.Warn("upload "+name, zap.Error(err))
			return remote.StatusOf(err)
		}
		return status.CodeOK
	}, retry.Batch)
	if !res.Success() {
		o.log.Warn("diagnostic upload abandoned", zap.String("name", name), zap.Int("status", res.Status))
	}
}

func (o *Orchestrator) logArchiveName() string {
	return fmt.Sprintf("logs-%s.tar.gz", o.job.ID)
}

func (o *Orchestrator) logArchivePath() string {
	return fmt.Sprintf("%s/%s", o.paths.Root, o.logArchiveName())
}

// packageLogs bundles the log directory for upload. An absent or empty log
// directory is not an error; a packaging failure only costs the archive.
func (o *Orchestrator) packageLogs() error {
	if _, err := os.Stat(o.paths.LogDir); err != nil {
		return err
	}
	if err := archiveDir(o.paths.LogDir, o.logArchivePath()); err != nil {
		o.log.Warn("package logs", zap.Error(err))
		return err
	}
	return nil
}

func nowUTC() time.Time {
	return time.Now().UTC()
}
