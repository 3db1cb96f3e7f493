package transport

import (
	"context"
	"crypto/tls"
	"io"
	"net"
	"net/url"
	"time"

	"github.com/gorilla/websocket"
)

// GorillaDialer opens the WebSocket transport used by the client pool's
// shared reconnect path. Unlike the single-client Adapter above (which
// dials ws/wss through x/net/websocket), the pool needs a dial call that
// honors per-attempt context cancellation — gorilla/websocket's
// Dialer.DialContext gives exactly that, where x/net/websocket's
// DialConfig does not take a context at all.
type GorillaDialer struct {
	TLSClientConfig  *tls.Config
	HandshakeTimeout time.Duration
}

// Dial opens target (scheme ws or wss) and returns it wrapped as a
// net.Conn, so callers downstream of dialing (the PacketAssembler, the
// fixed-header codec) never need to know it's message-framed underneath.
func (d *GorillaDialer) Dial(ctx context.Context, target *url.URL) (net.Conn, error) {
	path := target.Path
	if path == "" {
		path = "/mqtt"
	}
	loc := &url.URL{Scheme: target.Scheme, Host: target.Host, Path: path}

	dialer := &websocket.Dialer{
		Subprotocols:     []string{"mqtt"},
		TLSClientConfig:  d.TLSClientConfig,
		HandshakeTimeout: d.HandshakeTimeout,
	}
	ws, _, err := dialer.DialContext(ctx, loc.String(), nil)
	if err != nil {
		return nil, err
	}
	return &wsConn{Conn: ws}, nil
}

// wsConn adapts gorilla/websocket's message-oriented Conn to the
// continuous byte-stream io.Reader/io.Writer that the rest of this module
// (built around x/net/websocket's stream semantics) expects. Each Write
// call is sent as one binary WebSocket message, so a packet whose Pack
// writes in several pieces spans several messages; reads drain the
// current message before asking for the next one.
type wsConn struct {
	*websocket.Conn
	r io.Reader
}

func (c *wsConn) Read(p []byte) (int, error) {
	for {
		if c.r != nil {
			n, err := c.r.Read(p)
			if err == io.EOF {
				c.r = nil
				if n > 0 {
					return n, nil
				}
				continue
			}
			return n, err
		}
		_, r, err := c.Conn.NextReader()
		if err != nil {
			return 0, err
		}
		c.r = r
	}
}

func (c *wsConn) Write(p []byte) (int, error) {
	if err := c.Conn.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (c *wsConn) SetDeadline(t time.Time) error {
	if err := c.Conn.SetReadDeadline(t); err != nil {
		return err
	}
	return c.Conn.SetWriteDeadline(t)
}
