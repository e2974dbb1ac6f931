package idcodec

import (
	"errors"
	"fmt"

	"github.com/cxrefd/cxrefd/internal/types"
)

// LookupErrorReason explains why a location lookup failed.
type LookupErrorReason int

const (
	ReasonNotFound LookupErrorReason = iota
	ReasonDeletedFile
	ReasonInvalidID
)

func (r LookupErrorReason) String() string {
	switch r {
	case ReasonNotFound:
		return "not found"
	case ReasonDeletedFile:
		return "file deleted"
	case ReasonInvalidID:
		return "invalid ID"
	default:
		return "unknown"
	}
}

// LookupError carries the reason a CursorInfo lookup by location failed.
type LookupError struct {
	Location types.Location
	Reason   LookupErrorReason
	Detail   string
}

func (e *LookupError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("location lookup failed for %d: %s (%s)", e.Location, e.Reason, e.Detail)
	}
	return fmt.Sprintf("location lookup failed for %d: %s", e.Location, e.Reason)
}

// Is implements errors.Is comparing by reason only, so callers can write
// errors.Is(err, idcodec.ErrNotFound) regardless of which location failed.
func (e *LookupError) Is(target error) bool {
	var le *LookupError
	if errors.As(target, &le) {
		return e.Reason == le.Reason
	}
	return false
}

var (
	ErrNotFound    = &LookupError{Reason: ReasonNotFound}
	ErrFileDeleted = &LookupError{Reason: ReasonDeletedFile}
	ErrInvalidID   = &LookupError{Reason: ReasonInvalidID}
)

func NewNotFoundError(loc types.Location) *LookupError {
	return &LookupError{Location: loc, Reason: ReasonNotFound}
}

func NewDeletedFileError(loc types.Location, path string) *LookupError {
	return &LookupError{Location: loc, Reason: ReasonDeletedFile, Detail: path}
}

func NewInvalidIDError(detail string) *LookupError {
	return &LookupError{Reason: ReasonInvalidID, Detail: detail}
}
