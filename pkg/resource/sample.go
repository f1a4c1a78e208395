// Package resource provides best-effort process resource sampling from
// /proc. Sampling failures never fail the run; a missing /proc simply
// yields zeroes.
package resource

import (
	"os"
	"strconv"
	"strings"
	"sync"
)

// Summary is the coarse usage roll-up recorded in the run manifest and
// logged as the shutdown diagnostics snapshot.
type Summary struct {
	PeakRSSBytes int64   `json:"peak_rss_bytes"`
	AvgLoad1     float64 `json:"avg_load1"`
	Samples      int     `json:"samples"`
}

// Sampler accumulates samples over the life of the run.
type Sampler struct {
	mu      sync.Mutex
	peakRSS int64
	loadSum float64
	samples int
}

// NewSampler returns an empty sampler.
func NewSampler() *Sampler {
	return &Sampler{}
}

// Sample takes one reading. It never returns an error; unreadable proc
// files contribute nothing.
func (s *Sampler) Sample() {
	rss := readRSSBytes()
	load := readLoad1()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.samples++
	if rss > s.peakRSS {
		s.peakRSS = rss
	}
	s.loadSum += load
}

// Summary returns the accumulated roll-up.
func (s *Sampler) Summary() Summary {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := Summary{PeakRSSBytes: s.peakRSS, Samples: s.samples}
	if s.samples > 0 {
		out.AvgLoad1 = s.loadSum / float64(s.samples)
	}
	return out
}

// Snapshot takes one fresh reading and returns the updated roll-up.
func (s *Sampler) Snapshot() Summary {
	s.Sample()
	return s.Summary()
}

// readRSSBytes parses VmRSS from /proc/self/status. Returns 0 when
// unavailable.
func readRSSBytes() int64 {
	b, err := os.ReadFile("/proc/self/status")
	if err != nil {
		return 0
	}
	for _, line := range strings.Split(string(b), "\n") {
		if !strings.HasPrefix(line, "VmRSS:") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			return 0
		}
		kb, err := strconv.ParseInt(fields[1], 10, 64)
		if err != nil {
			return 0
		}
		return kb * 1024
	}
	return 0
}

// readLoad1 parses the 1-minute load average from /proc/loadavg.
func readLoad1() float64 {
	b, err := os.ReadFile("/proc/loadavg")
	if err != nil {
		return 0
	}
	fields := strings.Fields(string(b))
	if len(fields) == 0 {
		return 0
	}
	v, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return 0
	}
	return v
}
