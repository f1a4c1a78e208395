// Package status defines the exit-status taxonomy shared by every spotrun
// operation and the three-way classification that drives retry decisions.
//
// All operations (remote transfers, crypto batches, worker units) report
// completion as a small integer exit status. A status of CodeOK means
// success and is never classified; every non-zero status falls into exactly
// one of three classes:
//
//   - Retryable: transient network conditions worth another attempt.
//   - ShutdownSignal: a forced-shutdown request routed through the same
//     error channel ordinary operations use, so callers need no parallel
//     signaling path.
//   - Fatal: everything else, including all local filesystem errors. Local
//     errors are assumed non-transient and are deliberately never retried.
package status

// Class is the classification of a non-zero exit status.
type Class int

const (
	// Retryable statuses are transient and safe to re-attempt.
	Retryable Class = iota

	// Fatal statuses abort the operation immediately.
	Fatal

	// ShutdownSignal statuses request an orderly shutdown of the whole job.
	ShutdownSignal
)

// String returns the lowercase class name.
func (c Class) String() string {
	switch c {
	case Retryable:
		return "retryable"
	case Fatal:
		return "fatal"
	case ShutdownSignal:
		return "shutdown"
	default:
		return "unknown"
	}
}

// Exit statuses understood by the classifier.
//
// NOTE: The retryable set mirrors the exit codes of the underlying transfer
// tooling and is part of the stable operational contract; metric rows and
// run manifests record these values verbatim.
const (
	// CodeOK is unconditional success.
	CodeOK = 0

	// CodeConnFailed indicates the remote endpoint refused or dropped the
	// connection.
	CodeConnFailed = 7

	// CodeNetTimeout indicates a network operation exceeded its deadline.
	CodeNetTimeout = 28

	// CodeTLSHandshake indicates secure-channel setup failed.
	CodeTLSHandshake = 35

	// CodeEmptyReply indicates the remote end returned nothing at all.
	CodeEmptyReply = 52

	// CodeShutdownRequested is the sentinel carried through the normal
	// error channel when an interruption notice or operator signal forces
	// shutdown. It is distinct from every operation exit code.
	CodeShutdownRequested = 199
)

// Classify maps a non-zero exit status onto its class.
//
// Classify is a pure function: no logging, no state. Callers are expected
// to check for CodeOK themselves before classifying.
func Classify(code int) Class {
	switch code {
	case CodeConnFailed, CodeNetTimeout, CodeTLSHandshake, CodeEmptyReply:
		return Retryable
	case CodeShutdownRequested:
		return ShutdownSignal
	default:
		return Fatal
	}
}

// IsRetryable reports whether code classifies as Retryable.
func IsRetryable(code int) bool {
	return Classify(code) == Retryable
}

// IsShutdown reports whether code is the shutdown sentinel.
func IsShutdown(code int) bool {
	return code == CodeShutdownRequested
}
