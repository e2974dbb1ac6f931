// Package server implements the local socket daemon from spec.md §6: one
// reactor goroutine accepts connections, each connection is framed as
// (messageId uint8, payloadLen uint32 big-endian, payload []byte) and
// dispatched to Compile/Query/Project/CreateOutput handlers against the
// daemon's set of open projects. Grounded on the teacher's internal/server
// (IndexServer: socket lifecycle, per-connection handling, Start/Shutdown/
// Wait) generalized from its HTTP-over-unix-socket JSON-RPC transport to
// the bespoke binary framing spec.md §6 mandates. That framing is the one
// place this system reaches for `encoding/binary` over a library: no
// example repo carries a length-prefixed binary RPC codec, and the format
// is specified down to field order and endianness, leaving no room for a
// generic framing library to add value.
package server

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/cxrefd/cxrefd/internal/types"
)

// maxPayloadSize bounds a single frame to guard against a corrupt or
// malicious length prefix causing an unbounded allocation.
const maxPayloadSize = 64 << 20

// readFrame reads one (messageId, payloadLen, payload) frame from r.
func readFrame(r io.Reader) (types.MessageID, []byte, error) {
	var header [5]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return 0, nil, err
	}
	id := types.MessageID(header[0])
	length := binary.BigEndian.Uint32(header[1:])
	if length > maxPayloadSize {
		return 0, nil, fmt.Errorf("server: frame length %d exceeds limit", length)
	}
	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return 0, nil, err
	}
	return id, payload, nil
}

// writeFrame writes one frame to w.
func writeFrame(w io.Writer, id types.MessageID, payload []byte) error {
	var header [5]byte
	header[0] = byte(id)
	binary.BigEndian.PutUint32(header[1:], uint32(len(payload)))
	if _, err := w.Write(header[:]); err != nil {
		return err
	}
	if len(payload) == 0 {
		return nil
	}
	_, err := w.Write(payload)
	return err
}

// writeResponseLine frames a single text line as a Response message, the
// shape every query result and status line is delivered in (spec.md §6:
// "Response — server -> client, payload: text line").
func writeResponseLine(w io.Writer, line string) error {
	return writeFrame(w, types.MessageResponse, []byte(line))
}
