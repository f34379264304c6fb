// Package pgarman is the root package of the backup and point-in-time
// recovery engine. It defines the error taxonomy shared by every
// sub-package; the engine itself lives in orchestrator, catalog, pgwal,
// copier, scanner, serverdriver, pagemap, relid and restorer.
package pgarman

import "errors"

// Kind classifies a fatal error so the orchestrator's cleanup handler and
// the CLI's exit-status mapping can dispatch on it without string matching.
type Kind int

const (
	// KindUsage covers a missing or invalid flag/option.
	KindUsage Kind = iota
	// KindConfiguration covers a bad ini file.
	KindConfiguration
	// KindEnvironment covers missing directories or permission denied.
	KindEnvironment
	// KindServer covers connection failure or version mismatch.
	KindServer
	// KindProtocol covers an unexpected result from a server call.
	KindProtocol
	// KindTimeout covers an archive segment not arriving within the deadline.
	KindTimeout
	// KindCorruption covers a bad CRC/checksum in WAL or a page.
	KindCorruption
	// KindContention covers the catalog lock being held by another process.
	KindContention
	// KindInterrupt covers an operator interrupt (signal).
	KindInterrupt
	// KindInternal covers an assertion failure or other programming error.
	KindInternal
)

func (k Kind) String() string {
	switch k {
	case KindUsage:
		return "usage"
	case KindConfiguration:
		return "configuration"
	case KindEnvironment:
		return "environment"
	case KindServer:
		return "server"
	case KindProtocol:
		return "protocol"
	case KindTimeout:
		return "timeout"
	case KindCorruption:
		return "corruption"
	case KindContention:
		return "contention"
	case KindInterrupt:
		return "interrupt"
	case KindInternal:
		return "internal"
	default:
		return "unknown"
	}
}

// Error wraps an underlying cause with a Kind so callers can switch on it.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Op != "" {
		return e.Op + ": " + e.Err.Error()
	}
	return e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

// NewError constructs a Kind-tagged error.
func NewError(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// ExitCode maps a Kind to the process exit status described in spec §6/§7.
// Contention gets a distinguished code; every other fatal kind shares the
// generic non-zero status.
func (k Kind) ExitCode() int {
	if k == KindContention {
		return 3
	}
	return 1
}

// Sentinel errors referenced across packages.
var (
	// ErrNoFullParent is returned when a DIFF_PAGE backup has no DONE FULL
	// ancestor on the current timeline. Capitalization matches the
	// diagnostic's exact wording (§8 S8).
	ErrNoFullParent = errors.New("Valid full backup not found for differential backup")
	// ErrStandby is returned when the target server is a standby/replica.
	ErrStandby = errors.New("backup is not allowed on a standby server")
	// ErrVersionMismatch is returned when the server's version disagrees
	// with the version the engine was built against.
	ErrVersionMismatch = errors.New("server version does not match")
	// ErrLockContention is returned by catalog.Lock when another process
	// already holds the catalog lock.
	ErrLockContention = errors.New("could not acquire catalog lock: another backup is in progress")
	// ErrArchiveTimeout is returned by serverdriver.WaitForArchive when the
	// expected WAL segment does not appear before the fixed deadline.
	ErrArchiveTimeout = errors.New("timed out waiting for WAL segment to be archived")
	// ErrInterrupted is returned when an operator interrupt is observed at
	// a loop-top check.
	ErrInterrupted = errors.New("interrupted")
	// ErrClockRewind is returned when the wall clock is observed to be
	// earlier than a file's recorded modification time.
	ErrClockRewind = errors.New("system clock appears to have moved backwards; retry with full backup")
)
