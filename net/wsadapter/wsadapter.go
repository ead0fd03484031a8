// Package wsadapter lets a browser client reach an Endpoint over a
// websocket instead of a raw TCP frame stream: every websocket binary
// message carries exactly the same AEAD frame bytes a native client would
// write directly to the socket. Grounded on the teacher's
// internal/shared/handlers_ws.go upgrade path, ported from gorilla/websocket
// to gobwas/ws for its low-allocation, io.Reader/io.Writer-friendly API.
package wsadapter

import (
	"fmt"
	"io"
	"net"
	"net/http"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

// Upgrade promotes an incoming HTTP request to a websocket connection and
// returns a Conn wrapper presenting it as a plain
// io.Reader/io.Writer of binary message payloads, so it can be handed to a
// net.Channel exactly like a native TCP socket.
func Upgrade(w http.ResponseWriter, r *http.Request) (*Conn, error) {
	conn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		return nil, fmt.Errorf("neutronium: websocket upgrade: %w", err)
	}
	return &Conn{conn: conn}, nil
}

// Conn adapts a gobwas/ws connection to io.Reader/io.Writer by unwrapping
// and rewrapping each message's binary payload, buffering across Read
// calls when a message arrives larger than the caller's slice.
type Conn struct {
	conn    net.Conn
	pending []byte
}

// Read implements io.Reader, pulling the next websocket binary message's
// payload bytes into p, draining any leftover payload from a previous
// message first.
func (c *Conn) Read(p []byte) (int, error) {
	if len(c.pending) == 0 {
		data, op, err := wsutil.ReadClientData(c.conn)
		if err != nil {
			return 0, err
		}
		if op == ws.OpClose {
			return 0, io.EOF
		}
		c.pending = data
	}
	n := copy(p, c.pending)
	c.pending = c.pending[n:]
	return n, nil
}

// Write implements io.Writer by sending p as one binary websocket message.
func (c *Conn) Write(p []byte) (int, error) {
	if err := wsutil.WriteServerBinary(c.conn, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

// Close closes the underlying websocket connection.
func (c *Conn) Close() error { return c.conn.Close() }
