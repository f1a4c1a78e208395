package retry

import (
	"fmt"
	"os"
	"sync"
	"time"
)

// metricsHeader is written exactly once, when the file is first created.
const metricsHeader = "timestamp,job_id,attempts,success,total_delay_seconds\n"

// MetricsLog appends one tabular row per completed retry sequence.
//
// Rows are append-only and never mutated or deleted here; rotation and
// archival belong to external tooling.
type MetricsLog struct {
	path string
	mu   sync.Mutex
}

// NewMetricsLog returns a log that will create path (with a header row) on
// first append.
func NewMetricsLog(path string) *MetricsLog {
	return &MetricsLog{path: path}
}

// Path returns the backing file path.
func (m *MetricsLog) Path() string {
	return m.path
}

// Append writes one row: timestamp, job_id, attempts, success(0|1),
// total_delay_seconds.
func (m *MetricsLog) Append(jobID string, attempts int, success bool, totalDelay time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	f, err := os.OpenFile(m.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("open retry metrics: %w", err)
	}
	defer func() { _ = f.Close() }()

	st, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat retry metrics: %w", err)
	}
	if st.Size() == 0 {
		if _, err := f.WriteString(metricsHeader); err != nil {
			return fmt.Errorf("write metrics header: %w", err)
		}
	}

	ok := 0
	if success {
		ok = 1
	}
	row := fmt.Sprintf("%s,%s,%d,%d,%.3f\n",
		time.Now().UTC().Format(time.RFC3339),
		jobID,
		attempts,
		ok,
		totalDelay.Seconds())
	if _, err := f.WriteString(row); err != nil {
		return fmt.Errorf("write metrics row: %w", err)
	}
	return nil
}
