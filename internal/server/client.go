package server

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/cxrefd/cxrefd/internal/types"
)

// Client is a thin framed-socket client for cxrefd's daemon, the binary
// counterpart of the teacher's HTTP-over-unix-socket Client: same
// dial-a-unix-socket shape, reworked onto the bespoke message framing
// spec.md §6 mandates instead of JSON-over-HTTP.
type Client struct {
	socketPath string
	timeout    time.Duration
}

// NewClient builds a Client dialing socketPath for each request.
func NewClient(socketPath string) *Client {
	return &Client{socketPath: socketPath, timeout: 30 * time.Second}
}

func (c *Client) dial(ctx context.Context) (net.Conn, error) {
	var d net.Dialer
	return d.DialContext(ctx, "unix", c.socketPath)
}

// roundTrip sends one framed message and reads back every Response line
// until the connection closes, the protocol spec.md §6 describes for a
// one-shot query.
func (c *Client) roundTrip(ctx context.Context, id types.MessageID, payload []byte) ([]string, error) {
	conn, err := c.dial(ctx)
	if err != nil {
		return nil, fmt.Errorf("server: dial %s: %w", c.socketPath, err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	} else if c.timeout > 0 {
		_ = conn.SetDeadline(time.Now().Add(c.timeout))
	}

	if err := writeFrame(conn, id, payload); err != nil {
		return nil, fmt.Errorf("server: write frame: %w", err)
	}

	var lines []string
	for {
		respID, respPayload, err := readFrame(conn)
		if err != nil {
			break
		}
		if respID != types.MessageResponse {
			continue
		}
		lines = append(lines, string(respPayload))
	}
	return lines, nil
}

// Compile sends a Compile message for one observed compile record.
func (c *Client) Compile(ctx context.Context, msg types.CompileMessage) ([]string, error) {
	w := &payloadWriter{}
	w.str(msg.Cwd)
	w.u32(uint32(len(msg.Argv)))
	for _, a := range msg.Argv {
		w.str(a)
	}
	if msg.Escape {
		w.u8(1)
	} else {
		w.u8(0)
	}
	return c.roundTrip(ctx, types.MessageCompile, w.bytes())
}

// Query sends a Query message and returns its Response lines.
func (c *Client) Query(ctx context.Context, msg types.QueryMessage) ([]string, error) {
	w := &payloadWriter{}
	w.u8(uint8(msg.Type))
	w.str(msg.Query)
	w.u32(uint32(msg.Flags))
	w.u32(uint32(msg.Max))
	w.u32(uint32(len(msg.PathFilters)))
	for _, p := range msg.PathFilters {
		w.str(p)
	}
	w.u32(uint32(len(msg.UnsavedFiles)))
	for _, u := range msg.UnsavedFiles {
		w.str(u.Path)
		w.u32(uint32(len(u.Contents)))
		w.buf = append(w.buf, u.Contents...)
	}
	w.u32(uint32(len(msg.ProjectsHint)))
	for _, p := range msg.ProjectsHint {
		w.str(p)
	}
	return c.roundTrip(ctx, types.MessageQuery, w.bytes())
}

// Project sends a Project message (select/list/delete/clear).
func (c *Client) Project(ctx context.Context, msg types.ProjectMessage) ([]string, error) {
	w := &payloadWriter{}
	w.str(msg.Root)
	w.u8(uint8(msg.Action))
	return c.roundTrip(ctx, types.MessageProject, w.bytes())
}

// Shutdown asks the daemon to exit cleanly, the mechanism Start()'s bind
// retry (spec.md §7) uses against an already-running instance.
func (c *Client) Shutdown(ctx context.Context) error {
	_, err := c.Query(ctx, types.QueryMessage{Type: types.QueryShutdown})
	return err
}
