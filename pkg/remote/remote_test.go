package remote

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"testing"

	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tidelinehq/spotrun/pkg/status"
)

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestStatusOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, status.CodeOK},
		{"deadline", context.DeadlineExceeded, status.CodeNetTimeout},
		{"canceled", context.Canceled, status.CodeShutdownRequested},
		{"throttled", fmt.Errorf("put object: %w", ErrThrottled), status.CodeNetTimeout},
		{"net_timeout", fmt.Errorf("get: %w", error(timeoutErr{})), status.CodeNetTimeout},
		{"conn_refused", &net.OpError{Op: "dial", Err: errors.New("connection refused")}, status.CodeConnFailed},
		{"tls", errors.New("tls: handshake failure"), status.CodeTLSHandshake},
		{"empty_reply", errors.New("unexpected EOF"), status.CodeEmptyReply},
		{"local_fs", os.ErrPermission, 1},
		{"not_found", fmt.Errorf("get object: %w", ErrNotFound), 1},
		{"generic", errors.New("boom"), 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := StatusOf(tt.err)
			assert.Equal(t, tt.want, got)
			if tt.err != nil && tt.want != 1 && tt.want != status.CodeShutdownRequested {
				assert.Equal(t, status.Retryable, status.Classify(got))
			}
		})
	}
}

func TestStatusOf_LocalErrorsAreFatal(t *testing.T) {
	// Local filesystem errors are assumed non-transient: never retryable.
	got := StatusOf(fmt.Errorf("create download file: %w", os.ErrNotExist))
	assert.Equal(t, status.Fatal, status.Classify(got))
}

func TestMapMissing(t *testing.T) {
	for _, code := range []string{"NoSuchKey", "NoSuchBucket", "NotFound"} {
		err := mapMissing(&smithy.GenericAPIError{Code: code, Message: "absent"})
		assert.ErrorIs(t, err, ErrNotFound, code)
		assert.Equal(t, status.Fatal, status.Classify(StatusOf(err)))
	}

	// Other API errors pass through untouched.
	slow := &smithy.GenericAPIError{Code: "SlowDown", Message: "throttle"}
	assert.NotErrorIs(t, mapMissing(slow), ErrNotFound)
	assert.Equal(t, status.CodeNetTimeout, StatusOf(slow))
}

func seedLocal(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for rel, content := range files {
		p := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0755))
		require.NoError(t, os.WriteFile(p, []byte(content), 0644))
	}
}

func TestLocalStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	store, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)

	src := t.TempDir()
	seedLocal(t, src, map[string]string{
		"a.dat":        "alpha",
		"nested/b.dat": "bravo",
	})

	require.NoError(t, store.UploadDir(ctx, src, "jobs/run-1/outputs"))

	size, err := store.PrefixSize(ctx, "jobs/run-1/outputs")
	require.NoError(t, err)
	assert.Equal(t, int64(len("alpha")+len("bravo")), size)

	dest := t.TempDir()
	require.NoError(t, store.DownloadPrefix(ctx, "jobs/run-1/outputs", dest))

	got, err := os.ReadFile(filepath.Join(dest, "nested", "b.dat"))
	require.NoError(t, err)
	assert.Equal(t, "bravo", string(got))
}

func TestLocalStore_EmptyPrefix(t *testing.T) {
	ctx := context.Background()
	store, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)

	size, err := store.PrefixSize(ctx, "missing/prefix")
	require.NoError(t, err)
	assert.Zero(t, size)

	dest := t.TempDir()
	require.NoError(t, store.DownloadPrefix(ctx, "missing/prefix", dest))

	entries, err := os.ReadDir(dest)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestLocalStore_UploadFile(t *testing.T) {
	ctx := context.Background()
	store, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)

	p := filepath.Join(t.TempDir(), "logs.tar.gz")
	require.NoError(t, os.WriteFile(p, []byte("archive"), 0644))

	require.NoError(t, store.UploadFile(ctx, p, "jobs/run-1/logs/logs.tar.gz"))

	got, err := os.ReadFile(filepath.Join(store.Root(), "jobs", "run-1", "logs", "logs.tar.gz"))
	require.NoError(t, err)
	assert.Equal(t, "archive", string(got))
}

func TestS3Config_Validate(t *testing.T) {
	assert.Error(t, (&S3Config{}).Validate())
	assert.Error(t, (&S3Config{Bucket: "b", AccessKeyID: "k"}).Validate())
	assert.NoError(t, (&S3Config{Bucket: "b"}).Validate())
}
