package orchestrator

import (
	"context"
	"os"
	"path"
	"sync/atomic"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/tidelinehq/spotrun/pkg/remote"
	"github.com/tidelinehq/spotrun/pkg/retry"
	"github.com/tidelinehq/spotrun/pkg/status"
)

// terminalCause is the first event that ends the Monitor state.
type terminalCause struct {
	code   int
	reason string
}

// stateMonitor watches the running workload. Three loops share one
// cancellation context: resource sampling (which also touches the
// heartbeat), periodic output sync, and the interruption monitor. The
// state ends on the first terminal cause; every exit path runs the same
// tie-break, so a shutdown source landing in the same tick as a fatal
// workload result always wins and eviction handling is never pre-empted
// by a worker that died while the host was already going away.
func (o *Orchestrator) stateMonitor(ctx context.Context, sigCode *atomic.Int64) (int, string) {
	monCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	events := make(chan terminalCause, 1)

	go o.resourceLoop(monCtx)
	go o.outputSyncLoop(monCtx, events)
	go func() {
		if o.imon.Run(monCtx) {
			n := o.imon.Notice()
			if n != nil {
				o.log.Warn("interruption notice: beginning early shutdown",
					zap.String("action", n.Action),
					zap.Time("deadline", n.Time))
			}
			events <- terminalCause{code: o.imon.Status(), reason: "interruption notice"}
		}
	}()

	select {
	case <-ctx.Done():
		if c := sigCode.Load(); c != 0 {
			return int(c), "operator signal"
		}
		return status.CodeShutdownRequested, "run context cancelled"

	case c := <-events:
		return o.preferShutdown(c, sigCode)

	case <-o.driver.Done():
		// An event already queued when the workload finishes still goes
		// through the tie-break: the sync loop's fatal cause must not
		// shadow a signal or a sticky interruption detection.
		select {
		case c := <-events:
			return o.preferShutdown(c, sigCode)
		default:
		}
		code := o.driver.ExitCode()
		reason := "workload finished"
		if code != 0 {
			reason = "worker failure"
		}
		return o.preferShutdown(terminalCause{code: code, reason: reason}, sigCode)
	}
}

// preferShutdown resolves a terminal cause against the shutdown sources.
// A shutdown source always outranks a fatal (or clean) workload result
// from the same tick: the recorded signal first, then a sticky
// interruption detection whose event send may have lost the race for the
// channel slot.
func (o *Orchestrator) preferShutdown(c terminalCause, sigCode *atomic.Int64) (int, string) {
	if status.IsShutdown(c.code) {
		return c.code, c.reason
	}
	if s := sigCode.Load(); s != 0 {
		o.log.Warn("operator signal outranks workload result", zap.Int("status", c.code))
		return int(s), "operator signal"
	}
	if o.imon.Detected() {
		o.log.Warn("interruption notice outranks workload result", zap.Int("status", c.code))
		return status.CodeShutdownRequested, "interruption notice"
	}
	return c.code, c.reason
}

// resourceLoop samples usage and refreshes the heartbeat on every tick.
func (o *Orchestrator) resourceLoop(ctx context.Context) {
	t := time.NewTicker(o.cfg.Intervals.ResourcePoll)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			o.sampler.Sample()
			if err := o.touchHeartbeat(); err != nil {
				o.log.Warn("refresh heartbeat", zap.Error(err))
			}
		}
	}
}

// outputSyncLoop periodically pushes whatever results exist so an abrupt
// host loss forfeits at most one sync interval of output. A retry-budget
// exhaustion is logged and retried next tick; a fatal transfer status ends
// the Monitor state through the shared event channel.
func (o *Orchestrator) outputSyncLoop(ctx context.Context, events chan<- terminalCause) {
	t := time.NewTicker(o.cfg.Intervals.OutputSync)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if o.crypto != nil {
				if c := o.crypto.EncryptDir(ctx, o.paths.ResultsDir); c != 0 {
					o.log.Warn("encrypt results for sync", zap.Int("status", c))
				}
			}
			res := o.eng.Do(ctx, func(ctx context.Context) int {
				if err := o.store.UploadDir(ctx, o.paths.ResultsDir, o.spec.Remote.OutputPrefix); err != nil {
					o.log.Warn("periodic output sync", zap.Error(err))
					return remote.StatusOf(err)
				}
				return status.CodeOK
			}, retry.Batch)

			switch {
			case res.Success(), status.IsShutdown(res.Status):
				// Success needs nothing; a shutdown sentinel means the run
				// is already ending and the main select will see why.
			case status.IsRetryable(res.Status):
				o.log.Warn("periodic output sync gave up until next tick",
					zap.Int("status", res.Status),
					zap.Int("attempts", res.Attempts))
			default:
				select {
				case events <- terminalCause{code: res.Status, reason: "output sync fatal"}:
				default: // a terminal cause already landed
				}
				return
			}
		}
	}
}

// watchSignals converts the first terminal signal into a context
// cancellation and records its exit code. One watcher lives for the whole
// run, so a signal can never be consumed by a goroutine that is already
// winding down. The goroutine exits with ctx.
func watchSignals(ctx context.Context, sigCh <-chan os.Signal, cancel context.CancelFunc, log *zap.Logger) *atomic.Int64 {
	var code atomic.Int64
	go func() {
		select {
		case sig := <-sigCh:
			log.Warn("terminal signal received", zap.String("signal", sig.String()))
			code.Store(int64(signalExitCode(sig)))
			cancel()
		case <-ctx.Done():
		}
	}()
	return &code
}

// signalExitCode mirrors shell convention: 128 plus the signal number.
func signalExitCode(sig os.Signal) int {
	switch sig {
	case syscall.SIGTERM:
		return exitSIGTERM
	default:
		return exitSIGINT
	}
}

// outputKey joins the remote output prefix and a file name.
func (o *Orchestrator) outputKey(name string) string {
	return path.Join(o.spec.Remote.OutputPrefix, name)
}
