package interruption

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tidelinehq/spotrun/pkg/status"
)

// fakeIMDS serves the IMDSv2 token handshake plus a configurable
// instance-action response.
func fakeIMDS(t *testing.T, actionStatus int, actionBody string) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/latest/api/token", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte("test-token"))
	})
	mux.HandleFunc("/latest/meta-data/spot/instance-action", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.NotFound(w, r)
			return
		}
		w.WriteHeader(actionStatus)
		_, _ = w.Write([]byte(actionBody))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newTestMonitor(t *testing.T, endpoint string) *Monitor {
	t.Helper()
	return New(Config{
		Interval:       10 * time.Millisecond,
		RequestTimeout: 500 * time.Millisecond,
		Endpoint:       endpoint,
	}, nil)
}

func TestRun_DetectsPendingNotice(t *testing.T) {
	srv := fakeIMDS(t, http.StatusOK, `{"action":"terminate","time":"2026-08-27T12:00:00Z"}`)
	m := newTestMonitor(t, srv.URL)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.True(t, m.Run(ctx), "pending notice must be detected")
	assert.True(t, m.Detected())
	assert.Equal(t, status.CodeShutdownRequested, m.Status())

	n := m.Notice()
	require.NotNil(t, n)
	assert.Equal(t, "terminate", n.Action)
}

func TestRun_NoNoticeFailsOpen(t *testing.T) {
	srv := fakeIMDS(t, http.StatusNotFound, "")
	m := newTestMonitor(t, srv.URL)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	assert.False(t, m.Run(ctx), "404 means no pending notice, not an interruption")
	assert.False(t, m.Detected())
}

func TestRun_UnreachableEndpointFailsOpen(t *testing.T) {
	// A closed port: the expected environment is simply absent.
	srv := httptest.NewServer(http.NotFoundHandler())
	endpoint := srv.URL
	srv.Close()

	m := newTestMonitor(t, endpoint)

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()

	assert.False(t, m.Run(ctx), "unreachable metadata endpoint must not raise a spurious shutdown")
}

func TestRun_CancellationStopsPolling(t *testing.T) {
	srv := fakeIMDS(t, http.StatusNotFound, "")
	m := newTestMonitor(t, srv.URL)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan bool, 1)
	go func() { done <- m.Run(ctx) }()

	cancel()
	select {
	case got := <-done:
		assert.False(t, got)
	case <-time.After(2 * time.Second):
		t.Fatal("monitor did not stop on cancellation")
	}
}
