package encoding

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
)

// WriteString writes a length-prefixed (uint32 big-endian) UTF-8 string.
func WriteString(w io.Writer, s string) error {
	if err := binary.Write(w, binary.BigEndian, uint32(len(s))); err != nil {
		return err
	}
	_, err := io.WriteString(w, s)
	return err
}

// ReadString reads a length-prefixed string written by WriteString.
func ReadString(r io.Reader) (string, error) {
	var n uint32
	if err := binary.Read(r, binary.BigEndian, &n); err != nil {
		return "", err
	}
	if n == 0 {
		return "", nil
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}

// WriteStringSlice writes a length-prefixed (uint32) count followed by each
// element as a WriteString.
func WriteStringSlice(w io.Writer, ss []string) error {
	if err := binary.Write(w, binary.BigEndian, uint32(len(ss))); err != nil {
		return err
	}
	for _, s := range ss {
		if err := WriteString(w, s); err != nil {
			return err
		}
	}
	return nil
}

// ReadStringSlice reads a slice written by WriteStringSlice.
func ReadStringSlice(r io.Reader) ([]string, error) {
	var n uint32
	if err := binary.Read(r, binary.BigEndian, &n); err != nil {
		return nil, err
	}
	out := make([]string, n)
	for i := range out {
		s, err := ReadString(r)
		if err != nil {
			return nil, err
		}
		out[i] = s
	}
	return out, nil
}

// WriteUint64Slice writes a length-prefixed uint64 slice, each element
// big-endian. Used for sets of locations.
func WriteUint64Slice(w io.Writer, vs []uint64) error {
	if err := binary.Write(w, binary.BigEndian, uint32(len(vs))); err != nil {
		return err
	}
	for _, v := range vs {
		if err := binary.Write(w, binary.BigEndian, v); err != nil {
			return err
		}
	}
	return nil
}

// ReadUint64Slice reads a slice written by WriteUint64Slice.
func ReadUint64Slice(r io.Reader) ([]uint64, error) {
	var n uint32
	if err := binary.Read(r, binary.BigEndian, &n); err != nil {
		return nil, err
	}
	out := make([]uint64, n)
	for i := range out {
		if err := binary.Read(r, binary.BigEndian, &out[i]); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// NewBufferedReader wraps r for the many small reads the typed decoders do.
func NewBufferedReader(r io.Reader) *bufio.Reader {
	return bufio.NewReaderSize(r, 64*1024)
}

// ErrShortRead is returned when a fixed-size key is the wrong length.
var ErrShortRead = fmt.Errorf("encoding: short read")

// PutUint64BE encodes v as 8 big-endian bytes, reusing buf's backing array
// when it is already large enough (store keys are encoded this way so that a
// byte-lexicographic key order equals the (file-id, offset) location order).
func PutUint64BE(buf []byte, v uint64) []byte {
	if cap(buf) < 8 {
		buf = make([]byte, 8)
	}
	buf = buf[:8]
	binary.BigEndian.PutUint64(buf, v)
	return buf
}

// Uint64BE decodes 8 big-endian bytes back to a uint64.
func Uint64BE(buf []byte) (uint64, error) {
	if len(buf) != 8 {
		return 0, ErrShortRead
	}
	return binary.BigEndian.Uint64(buf), nil
}
