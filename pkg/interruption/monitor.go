// Package interruption polls the EC2 instance metadata service for a spot
// interruption notice and bridges a positive detection into the job's
// normal error channel as the shutdown sentinel.
//
// The monitor fails open: an unreachable metadata endpoint (not running on
// EC2, IMDS disabled, plain 404 because no notice is pending) is "no
// interruption", never an error. A spurious shutdown triggered by a probe
// failure would be strictly worse than missing the two-minute eviction
// window by one poll interval.
package interruption

import (
	"context"
	"encoding/json"
	"io"
	"sync/atomic"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/ec2/imds"
	"go.uber.org/zap"

	"github.com/tidelinehq/spotrun/pkg/status"
)

// instanceActionPath is the IMDS path that exists only while an
// interruption notice is pending.
const instanceActionPath = "spot/instance-action"

// Notice is the decoded interruption payload.
type Notice struct {
	Action string    `json:"action"`
	Time   time.Time `json:"time"`
}

// Config tunes the monitor.
type Config struct {
	// Interval between metadata polls.
	Interval time.Duration

	// RequestTimeout bounds each individual metadata call so a hung
	// endpoint can never stall the shutdown path.
	RequestTimeout time.Duration

	// Endpoint overrides the metadata endpoint (tests, simulators).
	Endpoint string
}

// Monitor polls for an interruption notice.
type Monitor struct {
	client   *imds.Client
	interval time.Duration
	timeout  time.Duration
	log      *zap.Logger

	detected atomic.Bool
	notice   atomic.Pointer[Notice]
}

// New builds a monitor. Zero durations get conservative defaults.
func New(cfg Config, log *zap.Logger) *Monitor {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Second
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 2 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}

	opts := imds.Options{}
	if cfg.Endpoint != "" {
		opts.Endpoint = cfg.Endpoint
	}

	return &Monitor{
		client:   imds.New(opts),
		interval: cfg.Interval,
		timeout:  cfg.RequestTimeout,
		log:      log,
	}
}

// Run polls until a notice is detected or ctx is cancelled. It returns
// true exactly when an interruption notice was observed; detection is
// sticky and a finished monitor never re-fires.
func (m *Monitor) Run(ctx context.Context) bool {
	t := time.NewTicker(m.interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return false
		case <-t.C:
			if m.check(ctx) {
				m.detected.Store(true)
				return true
			}
		}
	}
}

// Detected reports whether an interruption notice has been observed.
func (m *Monitor) Detected() bool {
	return m.detected.Load()
}

// Notice returns the decoded notice, or nil if none was observed (or the
// payload did not decode).
func (m *Monitor) Notice() *Notice {
	return m.notice.Load()
}

// Status returns the sentinel exit status a detection reports through the
// caller's error channel.
func (m *Monitor) Status() int {
	return status.CodeShutdownRequested
}

func (m *Monitor) check(ctx context.Context) bool {
	cctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	out, err := m.client.GetMetadata(cctx, &imds.GetMetadataInput{Path: instanceActionPath})
	if err != nil {
		// 404 (no pending notice), no IMDS at all, or timeout: fail open.
		return false
	}
	defer func() { _ = out.Content.Close() }()

	b, err := io.ReadAll(out.Content)
	if err != nil {
		m.log.Debug("read instance-action body", zap.Error(err))
		return true // the path existing is the detection; the payload is gravy
	}

	var n Notice
	if err := json.Unmarshal(b, &n); err == nil {
		m.notice.Store(&n)
		m.log.Warn("spot interruption notice received",
			zap.String("action", n.Action),
			zap.Time("time", n.Time))
	} else {
		m.log.Warn("spot interruption notice received (undecodable payload)")
	}
	return true
}
