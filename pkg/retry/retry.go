// Package retry implements bounded, classified exponential backoff around
// operations that report completion as an exit status.
//
// The engine absorbs Retryable failures locally: the caller only sees the
// final outcome plus enough metadata (attempts used, cumulative delay) to
// populate a metrics row. Fatal and ShutdownSignal statuses abort on the
// spot; deciding whether to escalate or report-and-continue is the
// caller's job, never the engine's.
package retry

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/tidelinehq/spotrun/pkg/status"
)

// Operation is one retryable invocation. It returns an exit status; the
// engine never inspects anything else about it.
type Operation func(ctx context.Context) int

// Policy bounds a retry sequence. The zero value is unusable; use one of
// the presets or normalize explicitly.
type Policy struct {
	// MaxAttempts is the number of retries permitted after the first
	// attempt. A policy with MaxAttempts=N allows N+1 invocations total.
	MaxAttempts int

	// InitialDelay is the wait before the first retry.
	InitialDelay time.Duration

	// MaxDelay clamps the growing delay.
	MaxDelay time.Duration

	// Multiplier scales the delay after each retry. Values below 1 are
	// normalized to 2.
	Multiplier float64
}

// Preset policies selected by job-criticality classification before any
// retried operation begins.
var (
	// Critical is for operations whose failure loses the job's output.
	Critical = Policy{MaxAttempts: 8, InitialDelay: 2 * time.Second, MaxDelay: 60 * time.Second, Multiplier: 2}

	// Normal is the general-purpose policy.
	Normal = Policy{MaxAttempts: 5, InitialDelay: 2 * time.Second, MaxDelay: 30 * time.Second, Multiplier: 2}

	// Batch is for best-effort bulk work where giving up early is cheap.
	Batch = Policy{MaxAttempts: 3, InitialDelay: 5 * time.Second, MaxDelay: 30 * time.Second, Multiplier: 2}

	// Transfer is the aggressive fixed policy applied by DoTransfer:
	// more attempts, shorter initial delay than any general preset.
	Transfer = Policy{MaxAttempts: 10, InitialDelay: 500 * time.Millisecond, MaxDelay: 15 * time.Second, Multiplier: 2}
)

func (p Policy) normalized() Policy {
	if p.MaxAttempts < 0 {
		p.MaxAttempts = 0
	}
	if p.InitialDelay <= 0 {
		p.InitialDelay = Normal.InitialDelay
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = Normal.MaxDelay
	}
	if p.Multiplier < 1 {
		p.Multiplier = 2
	}
	return p
}

// Result is the outcome of one retry sequence.
//
// Attempts counts retries, not invocations: it is zero both for immediate
// success and for an immediate fatal failure, which keeps the two
// one-invocation outcomes distinguishable from an exhausted sequence in
// the metrics log.
type Result struct {
	Status     int
	Class      status.Class
	Attempts   int
	TotalDelay time.Duration
}

// Success reports whether the final status is CodeOK.
func (r Result) Success() bool {
	return r.Status == status.CodeOK
}

// Engine runs operations under a retry policy and records one metrics row
// per completed sequence.
type Engine struct {
	def     Policy
	jobID   string
	metrics *MetricsLog // nil disables metric rows
	log     *zap.Logger

	// sleep is swapped out by tests; the default waits on a timer or the
	// context, whichever fires first.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewEngine builds an engine with the given default policy. metrics may be
// nil when no metrics log is wanted.
func NewEngine(def Policy, jobID string, metrics *MetricsLog, log *zap.Logger) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{
		def:     def.normalized(),
		jobID:   jobID,
		metrics: metrics,
		log:     log,
		sleep:   sleepCtx,
	}
}

// DefaultPolicy returns the engine's configured default policy.
func (e *Engine) DefaultPolicy() Policy {
	return e.def
}

// DoDefault runs op under the engine's default policy.
func (e *Engine) DoDefault(ctx context.Context, op Operation) Result {
	return e.Do(ctx, op, e.def)
}

// DoTransfer runs op under the aggressive Transfer policy. The override is
// scoped to this call: the engine's default policy is left untouched for
// subsequent operations.
func (e *Engine) DoTransfer(ctx context.Context, op Operation) Result {
	return e.Do(ctx, op, Transfer)
}

// Do attempts op until success, a non-retryable status, policy exhaustion,
// or context cancellation. It never panics; cancellation during a backoff
// wait surfaces as the shutdown sentinel, since the only caller of
// cancellation is the orchestrator's shutdown path.
func (e *Engine) Do(ctx context.Context, op Operation, pol Policy) Result {
	pol = pol.normalized()

	delay := pol.InitialDelay
	var total time.Duration
	attempts := 0

	for {
		code := op(ctx)
		if code == status.CodeOK {
			return e.finish(Result{Status: code, Attempts: attempts, TotalDelay: total})
		}

		cls := status.Classify(code)
		if cls != status.Retryable {
			return e.finish(Result{Status: code, Class: cls, Attempts: attempts, TotalDelay: total})
		}
		if attempts >= pol.MaxAttempts {
			// Exhausted: final status is that of the last attempt.
			e.log.Warn("retry budget exhausted",
				zap.Int("status", code),
				zap.Int("attempts", attempts))
			return e.finish(Result{Status: code, Class: cls, Attempts: attempts, TotalDelay: total})
		}

		e.log.Debug("retryable failure, backing off",
			zap.Int("status", code),
			zap.Int("attempt", attempts+1),
			zap.Duration("delay", delay))

		if err := e.sleep(ctx, delay); err != nil {
			return e.finish(Result{
				Status:     status.CodeShutdownRequested,
				Class:      status.ShutdownSignal,
				Attempts:   attempts,
				TotalDelay: total,
			})
		}
		total += delay
		attempts++

		delay = time.Duration(float64(delay) * pol.Multiplier)
		if delay > pol.MaxDelay {
			delay = pol.MaxDelay
		}
	}
}

func (e *Engine) finish(r Result) Result {
	if e.metrics != nil {
		if err := e.metrics.Append(e.jobID, r.Attempts, r.Success(), r.TotalDelay); err != nil {
			// Metrics are diagnostics; losing a row never changes the outcome.
			e.log.Warn("append retry metric", zap.Error(err))
		}
	}
	return r
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
