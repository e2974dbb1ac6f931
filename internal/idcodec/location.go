// Package idcodec provides display-friendly encoding for the ids cxrefd hands
// to clients (location and USR identifiers), wrapping internal/encoding's
// base-63 primitive the way the teacher's idcodec package wraps its own
// encoding package: internal/encoding owns the raw algorithm, idcodec owns
// the cxrefd-specific types built on top of it.
package idcodec

import (
	"github.com/cxrefd/cxrefd/internal/encoding"
	"github.com/cxrefd/cxrefd/internal/types"
)

// Re-exported so callers only need to import idcodec, not encoding, for the
// constants that describe the wire alphabet.
const (
	Base     = encoding.Base63
	Alphabet = encoding.Alphabet63
)

var (
	ErrEmptyString = encoding.ErrEmptyString
	ErrInvalidChar = encoding.ErrInvalidChar
	ErrOverflow    = encoding.ErrOverflow
)

// EncodeLocation encodes a Location as a single base-63 string a client can
// round-trip through DecodeLocation without caring about the packed layout.
func EncodeLocation(loc types.Location) string {
	return encoding.Base63Encode(uint64(loc))
}

// DecodeLocation is the inverse of EncodeLocation.
func DecodeLocation(encoded string) (types.Location, error) {
	if encoded == "" {
		return types.InvalidLocation, ErrEmptyString
	}
	v, err := encoding.Base63Decode(encoded)
	if err != nil {
		return types.InvalidLocation, err
	}
	return types.Location(v), nil
}

// EncodeFileOffset encodes a (FileID, offset) pair directly, without going
// through a types.Location value, for callers that only have the two parts.
func EncodeFileOffset(file types.FileID, offset uint32) string {
	return EncodeLocation(types.EncodeLocation(file, offset))
}

// DecodeFileOffset decodes a string produced by EncodeFileOffset or
// EncodeLocation back into its (FileID, offset) parts.
func DecodeFileOffset(encoded string) (types.FileID, uint32, error) {
	loc, err := DecodeLocation(encoded)
	if err != nil {
		return types.InvalidFileID, 0, err
	}
	return loc.File(), loc.Offset(), nil
}
