// Package transport dials the login/patch servers and exchanges whole DML
// frames over the resulting TCP connection. It generalizes the
// read-whatever-arrived-then-parse style of the teacher's connection
// handling into a framed read loop driven by the outer header's own
// length field, since this protocol (unlike the teacher's) always tells
// you exactly how many more bytes to expect.
package transport

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"log"
	"net"
	"time"

	"midaslauncher/internal/dml"
	"midaslauncher/internal/xerrors"
)

// Conn wraps a TCP connection to a login or patch server.
type Conn struct {
	nc   net.Conn
	addr string
}

// Dial opens a TCP connection to addr.
func Dial(ctx context.Context, addr string) (*Conn, error) {
	var d net.Dialer
	nc, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("transport: dial %s: %w", addr, xerrors.TransportError)
	}
	log.Printf("[Transport] connected to %s", addr)
	return &Conn{nc: nc, addr: addr}, nil
}

// Close closes the underlying connection.
func (c *Conn) Close() error {
	return c.nc.Close()
}

// Recv reads one complete frame.
//
// The wire does not frame the way the outer header's field names suggest:
// the stored length only covers the magic+length+is_control+opcode+padding
// prefix plus payload minus four bytes, so total_frame_bytes always equals
// length + 4, never length + 8. A frame's first four bytes (magic, length)
// are enough to learn that length value; everything else the header
// appears to carry (is_control, opcode, padding) falls out of the
// remaining length bytes rather than the first 8, so Recv reads the
// 4-byte prefix, then exactly length more bytes, for length+4 total —
// matching what a real client reads off this socket.
func (c *Conn) Recv(timeout time.Duration) ([]byte, error) {
	if timeout > 0 {
		c.nc.SetReadDeadline(time.Now().Add(timeout))
	}

	prefix := make([]byte, 4)
	if _, err := io.ReadFull(c.nc, prefix); err != nil {
		return nil, fmt.Errorf("transport: reading frame prefix from %s: %w", c.addr, xerrors.TransportError)
	}
	if binary.LittleEndian.Uint16(prefix[0:2]) != dml.Magic {
		return nil, fmt.Errorf("transport: bad magic from %s: %w", c.addr, xerrors.BadFrame)
	}
	length := binary.LittleEndian.Uint16(prefix[2:4])

	rest := make([]byte, length)
	if length > 0 {
		if _, err := io.ReadFull(c.nc, rest); err != nil {
			return nil, fmt.Errorf("transport: reading %d-byte frame body from %s: %w", length, c.addr, xerrors.TransportError)
		}
	}

	return append(prefix, rest...), nil
}

// Send writes a complete frame (as produced by dml.Serialize or
// dml.SerializeControl) to the connection.
func (c *Conn) Send(frame []byte) error {
	if _, err := c.nc.Write(frame); err != nil {
		return fmt.Errorf("transport: writing to %s: %w", c.addr, xerrors.TransportError)
	}
	return nil
}
