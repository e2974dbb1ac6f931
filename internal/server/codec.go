package server

import (
	"encoding/binary"
	"fmt"

	"github.com/cxrefd/cxrefd/internal/types"
)

// payloadReader/payloadWriter implement the same length-prefixed-string,
// fixed-width-int encoding for every message payload spec.md §6 defines,
// since the wire format itself (not a library) dictates field order.

type payloadReader struct {
	buf []byte
	pos int
}

func newPayloadReader(buf []byte) *payloadReader { return &payloadReader{buf: buf} }

func (r *payloadReader) u8() (uint8, error) {
	if r.pos+1 > len(r.buf) {
		return 0, fmt.Errorf("server: truncated payload reading u8")
	}
	v := r.buf[r.pos]
	r.pos++
	return v, nil
}

func (r *payloadReader) u32() (uint32, error) {
	if r.pos+4 > len(r.buf) {
		return 0, fmt.Errorf("server: truncated payload reading u32")
	}
	v := binary.BigEndian.Uint32(r.buf[r.pos:])
	r.pos += 4
	return v, nil
}

func (r *payloadReader) i32() (int32, error) {
	v, err := r.u32()
	return int32(v), err
}

func (r *payloadReader) bool() (bool, error) {
	v, err := r.u8()
	return v != 0, err
}

func (r *payloadReader) str() (string, error) {
	n, err := r.u32()
	if err != nil {
		return "", err
	}
	if r.pos+int(n) > len(r.buf) {
		return "", fmt.Errorf("server: truncated payload reading string")
	}
	s := string(r.buf[r.pos : r.pos+int(n)])
	r.pos += int(n)
	return s, nil
}

func (r *payloadReader) bytes() ([]byte, error) {
	n, err := r.u32()
	if err != nil {
		return nil, err
	}
	if r.pos+int(n) > len(r.buf) {
		return nil, fmt.Errorf("server: truncated payload reading bytes")
	}
	b := r.buf[r.pos : r.pos+int(n)]
	r.pos += int(n)
	return b, nil
}

func (r *payloadReader) strSlice() ([]string, error) {
	n, err := r.u32()
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, n)
	for i := uint32(0); i < n; i++ {
		s, err := r.str()
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

type payloadWriter struct {
	buf []byte
}

func (w *payloadWriter) u8(v uint8)   { w.buf = append(w.buf, v) }
func (w *payloadWriter) u32(v uint32) { w.buf = binary.BigEndian.AppendUint32(w.buf, v) }
func (w *payloadWriter) str(s string) {
	w.u32(uint32(len(s)))
	w.buf = append(w.buf, s...)
}

func (w *payloadWriter) bytes() []byte { return w.buf }

// decodeCompile parses a Compile message payload.
func decodeCompile(payload []byte) (types.CompileMessage, error) {
	r := newPayloadReader(payload)
	cwd, err := r.str()
	if err != nil {
		return types.CompileMessage{}, err
	}
	argv, err := r.strSlice()
	if err != nil {
		return types.CompileMessage{}, err
	}
	escape, err := r.bool()
	if err != nil {
		return types.CompileMessage{}, err
	}
	return types.CompileMessage{Cwd: cwd, Argv: argv, Escape: escape}, nil
}

// decodeQuery parses a Query message payload.
func decodeQuery(payload []byte) (types.QueryMessage, error) {
	r := newPayloadReader(payload)
	qtype, err := r.u8()
	if err != nil {
		return types.QueryMessage{}, err
	}
	query, err := r.str()
	if err != nil {
		return types.QueryMessage{}, err
	}
	flags, err := r.u32()
	if err != nil {
		return types.QueryMessage{}, err
	}
	max, err := r.i32()
	if err != nil {
		return types.QueryMessage{}, err
	}
	pathFilters, err := r.strSlice()
	if err != nil {
		return types.QueryMessage{}, err
	}
	unsavedCount, err := r.u32()
	if err != nil {
		return types.QueryMessage{}, err
	}
	unsaved := make([]types.UnsavedFile, 0, unsavedCount)
	for i := uint32(0); i < unsavedCount; i++ {
		path, err := r.str()
		if err != nil {
			return types.QueryMessage{}, err
		}
		contents, err := r.bytes()
		if err != nil {
			return types.QueryMessage{}, err
		}
		unsaved = append(unsaved, types.UnsavedFile{Path: path, Contents: append([]byte(nil), contents...)})
	}
	projectsHint, err := r.strSlice()
	if err != nil {
		return types.QueryMessage{}, err
	}
	return types.QueryMessage{
		Type:         types.QueryType(qtype),
		Query:        query,
		Flags:        types.QueryFlag(flags),
		Max:          max,
		PathFilters:  pathFilters,
		UnsavedFiles: unsaved,
		ProjectsHint: projectsHint,
	}, nil
}

// decodeProject parses a Project message payload.
func decodeProject(payload []byte) (types.ProjectMessage, error) {
	r := newPayloadReader(payload)
	root, err := r.str()
	if err != nil {
		return types.ProjectMessage{}, err
	}
	action, err := r.u8()
	if err != nil {
		return types.ProjectMessage{}, err
	}
	return types.ProjectMessage{Root: root, Action: types.ProjectAction(action)}, nil
}

// decodeCreateOutput parses a CreateOutput message payload.
func decodeCreateOutput(payload []byte) (types.CreateOutputMessage, error) {
	r := newPayloadReader(payload)
	level, err := r.u8()
	if err != nil {
		return types.CreateOutputMessage{}, err
	}
	return types.CreateOutputMessage{Level: types.LogLevel(level)}, nil
}
