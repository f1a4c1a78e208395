// Package remote implements the job's transfer operation against cloud
// object storage, plus a local-filesystem store used for tests and for
// running without cloud credentials.
//
// Store methods return ordinary errors; StatusOf maps an error onto the
// exit-status taxonomy so the retry engine can classify transfers exactly
// like any other operation.
package remote

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/aws/smithy-go"

	"github.com/tidelinehq/spotrun/pkg/status"
)

// Store is the opaque transfer operation surface the orchestrator depends
// on. Implementations must be safe for concurrent use.
type Store interface {
	// PrefixSize returns the total byte size of all objects under prefix,
	// used for workspace sizing before download.
	PrefixSize(ctx context.Context, prefix string) (int64, error)

	// DownloadPrefix materializes every object under prefix into destDir,
	// preserving relative paths.
	DownloadPrefix(ctx context.Context, prefix, destDir string) error

	// UploadDir pushes every regular file under dir to prefix, preserving
	// relative paths.
	UploadDir(ctx context.Context, dir, prefix string) error

	// UploadFile pushes a single file to key.
	UploadFile(ctx context.Context, path, key string) error
}

// Sentinel errors shared by Store implementations.
var (
	// ErrNotFound indicates the requested object or prefix does not exist.
	ErrNotFound = errors.New("object not found")

	// ErrThrottled indicates the request was rate limited by the provider.
	ErrThrottled = errors.New("request throttled")
)

// StatusOf maps a transfer error onto an exit status.
//
// Transient network conditions land in the retryable set; everything else,
// including every local filesystem error, maps to a generic fatal status.
func StatusOf(err error) int {
	switch {
	case err == nil:
		return status.CodeOK
	case errors.Is(err, context.DeadlineExceeded):
		return status.CodeNetTimeout
	case errors.Is(err, context.Canceled):
		return status.CodeShutdownRequested
	case errors.Is(err, ErrThrottled):
		return status.CodeNetTimeout
	case errors.Is(err, ErrNotFound):
		// A missing object is never transient; retrying cannot create it.
		return 1
	case isTimeout(err):
		return status.CodeNetTimeout
	case isConnFailure(err):
		return status.CodeConnFailed
	case isTLSFailure(err):
		return status.CodeTLSHandshake
	case isEmptyReply(err):
		return status.CodeEmptyReply
	default:
		return 1
	}
}

func isTimeout(err error) bool {
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	var ae smithy.APIError
	if errors.As(err, &ae) {
		switch ae.ErrorCode() {
		case "RequestTimeout", "RequestTimeoutException", "SlowDown", "Throttling", "ThrottlingException":
			return true
		}
	}
	return false
}

func isConnFailure(err error) bool {
	var oe *net.OpError
	if errors.As(err, &oe) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "connection refused") || strings.Contains(msg, "connection reset")
}

func isTLSFailure(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "tls:") || strings.Contains(msg, "x509:")
}

func isEmptyReply(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "unexpected EOF") || strings.Contains(msg, "empty reply")
}

// wrapOp decorates an error with the failing operation and key for logs.
func wrapOp(op, key string, err error) error {
	if err == nil {
		return nil
	}
	if key != "" {
		return fmt.Errorf("%s %s: %w", op, key, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}
