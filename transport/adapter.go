// Package transport is the TransportAdapter: it turns a URL scheme
// (tcp/tls/ws/wss) into a live net.Conn and pairs it with a PacketAssembler
// reading decoded MQTT packets off that connection. The dial logic here is
// lifted directly from the original single-connection client's dial method,
// generalized so the state machine and client pool can open and tear down
// connections without knowing which transport is underneath.
package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"net"
	"net/url"

	"golang.org/x/net/websocket"
)

// Adapter records the net.Conn of its most recent Dial. One Adapter may
// serve every reconnect of a client: each Dial opens a new connection and
// replaces the recorded one.
type Adapter struct {
	conn net.Conn

	// DialContext, if set, is used instead of net.Dialer for the
	// "tcp"/"mqtt" schemes.
	DialContext func(ctx context.Context, network, addr string) (net.Conn, error)

	// DialTLSContext, if set, is used instead of tls.DialWithDialer for the
	// "tls"/"mqtts" schemes.
	DialTLSContext func(ctx context.Context, network, addr string) (net.Conn, error)

	// TLSClientConfig configures the tls/mqtts and wss schemes.
	TLSClientConfig *tls.Config
}

// Dial opens a connection to target, whose scheme selects the transport:
// tcp/mqtt for plain TCP, tls/mqtts for TLS, ws/wss for WebSocket framed
// with the "mqtt" subprotocol and binary payloads.
func (a *Adapter) Dial(ctx context.Context, target *url.URL) (net.Conn, error) {
	scheme, addr := target.Scheme, target.Host

	if a.DialContext != nil && (scheme == "tcp" || scheme == "mqtt") {
		con, err := a.DialContext(ctx, "tcp", addr)
		if con == nil && err == nil {
			err = errors.New("mqtt: DialContext hook returned (nil, nil)")
		}
		a.conn = con
		return con, err
	}
	if a.DialTLSContext != nil && (scheme == "tls" || scheme == "mqtts") {
		con, err := a.DialTLSContext(ctx, "tcp", addr)
		if con == nil && err == nil {
			err = errors.New("mqtt: DialTLSContext hook returned (nil, nil)")
		}
		a.conn = con
		return con, err
	}

	switch scheme {
	case "mqtt", "tcp":
		con, err := (&net.Dialer{}).DialContext(ctx, "tcp", addr)
		a.conn = con
		return con, err
	case "mqtts", "tls":
		con, err := tls.DialWithDialer(&net.Dialer{}, "tcp", addr, a.TLSClientConfig)
		a.conn = con
		return con, err
	case "ws", "wss":
		path := target.Path
		if path == "" {
			path = "/mqtt"
		}
		loc := &url.URL{Scheme: scheme, Host: addr, Path: path}
		originScheme := "http"
		if scheme == "wss" {
			originScheme = "https"
		}
		origin := &url.URL{Scheme: originScheme, Host: addr}

		cfg, err := websocket.NewConfig(loc.String(), origin.String())
		if err != nil {
			return nil, err
		}
		cfg.Protocol = []string{"mqtt"}
		if scheme == "wss" {
			cfg.TlsConfig = a.TLSClientConfig
		}
		ws, err := websocket.DialConfig(cfg)
		if err != nil {
			return nil, err
		}
		ws.PayloadType = websocket.BinaryFrame
		a.conn = ws
		return ws, nil
	default:
		con, err := (&net.Dialer{}).DialContext(ctx, "tcp", addr)
		a.conn = con
		return con, err
	}
}

// Close shuts down the underlying connection, if one was dialed.
func (a *Adapter) Close() error {
	if a.conn == nil {
		return nil
	}
	err := a.conn.Close()
	a.conn = nil
	return err
}

// IsConnected reports whether Dial has produced a live connection that has
// not since been closed by this Adapter.
func (a *Adapter) IsConnected() bool {
	return a.conn != nil
}

// Conn returns the underlying connection, or nil before Dial succeeds.
func (a *Adapter) Conn() net.Conn {
	return a.conn
}
