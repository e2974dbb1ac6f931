// Package errors defines the two error classes spec.md §7 distinguishes:
// CommandError, reported back to the requesting client over the response
// stream, and IntegrityError, logged and never surfaced to clients.
package errors

import (
	"fmt"
	"time"

	"github.com/cxrefd/cxrefd/internal/types"
)

// ErrorType names the failure category, matching spec.md §7's enumerated
// error kinds.
type ErrorType string

const (
	ErrorTypeParse          ErrorType = "parse"
	ErrorTypeDependencyIO   ErrorType = "dependency_io"
	ErrorTypeStoreCommit    ErrorType = "store_commit"
	ErrorTypeSchemaMismatch ErrorType = "schema_mismatch"
	ErrorTypeCorruptSnap    ErrorType = "corrupt_snapshot"
	ErrorTypeSocketBind     ErrorType = "socket_bind"
	ErrorTypeUnknownMessage ErrorType = "unknown_message"
	ErrorTypeWatcherLoss    ErrorType = "watcher_loss"
)

// CommandError is returned to the client issuing a request: a parse failure,
// a not-found lookup, a malformed query. Never logged as an error — it is an
// expected, client-facing outcome.
type CommandError struct {
	Type       ErrorType
	Message    string
	Underlying error
}

func NewCommandError(t ErrorType, message string) *CommandError {
	return &CommandError{Type: t, Message: message}
}

func (e *CommandError) Error() string {
	if e.Underlying != nil {
		return fmt.Sprintf("%s: %s: %v", e.Type, e.Message, e.Underlying)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

func (e *CommandError) Unwrap() error { return e.Underlying }

// IntegrityError is a fault in the daemon's own bookkeeping — a store
// failure, a schema mismatch, a corrupt snapshot, a watcher losing OS
// resources. Clients never observe these directly; the daemon logs them and
// applies the recovery policy spec.md §7 specifies for that ErrorType.
type IntegrityError struct {
	Type       ErrorType
	FileID     types.FileID
	FilePath   string
	Operation  string
	Underlying error
	Timestamp  time.Time
	Recoverable bool
}

func NewIntegrityError(t ErrorType, op string, err error) *IntegrityError {
	return &IntegrityError{Type: t, Operation: op, Underlying: err, Timestamp: time.Now()}
}

func (e *IntegrityError) WithFile(id types.FileID, path string) *IntegrityError {
	e.FileID = id
	e.FilePath = path
	return e
}

func (e *IntegrityError) WithRecoverable(r bool) *IntegrityError {
	e.Recoverable = r
	return e
}

func (e *IntegrityError) Error() string {
	if e.FilePath != "" {
		return fmt.Sprintf("%s %s failed for %s: %v", e.Type, e.Operation, e.FilePath, e.Underlying)
	}
	return fmt.Sprintf("%s %s failed: %v", e.Type, e.Operation, e.Underlying)
}

func (e *IntegrityError) Unwrap() error { return e.Underlying }

// ParseFailure is the diagnostic-only outcome of a transient parser failure
// or a dependency I/O failure during parse (spec.md §7): the job reports it
// as a diagnostic on the source's file-id and does not commit, does not
// re-queue, and leaves prior facts intact.
type ParseFailure struct {
	FileID     types.FileID
	FilePath   string
	Underlying error
}

func (e *ParseFailure) Error() string {
	return fmt.Sprintf("parse failed for %s: %v", e.FilePath, e.Underlying)
}

func (e *ParseFailure) Unwrap() error { return e.Underlying }
