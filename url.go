package mqtt

import (
	"hash/fnv"
	"encoding/binary"
	"fmt"
	"net/url"
	"strconv"
)

// defaultPort returns the standard port for scheme, or 0 if the scheme
// has no protocol-defined default (ws/wss take whatever the URL says).
func defaultPort(scheme string) int {
	switch scheme {
	case "mqtt", "tcp":
		return 1883
	case "mqtts", "tls":
		return 8883
	default:
		return 0
	}
}

// parsedURL holds the pieces of the connection URL grammar
// scheme://[user[:password]@]host[:port][/path].
type parsedURL struct {
	Scheme   string
	Host     string
	Port     int
	Username string
	Password string
	Path     string
}

// parseURL parses raw against that grammar. An explicit port in
// raw overrides the scheme default; a missing port falls back to
// defaultPort, left at 0 for ws/wss where there is no protocol default.
func parseURL(raw string) (parsedURL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return parsedURL{}, fmt.Errorf("mqtt: invalid URL %q: %w", raw, err)
	}
	switch u.Scheme {
	case "mqtt", "mqtts", "ws", "wss", "tcp", "tls":
	default:
		return parsedURL{}, fmt.Errorf("mqtt: unsupported scheme %q", u.Scheme)
	}

	host := u.Hostname()
	if host == "" {
		return parsedURL{}, fmt.Errorf("mqtt: URL %q is missing a host", raw)
	}

	port := defaultPort(u.Scheme)
	if p := u.Port(); p != "" {
		n, err := strconv.Atoi(p)
		if err != nil {
			return parsedURL{}, fmt.Errorf("mqtt: invalid port in URL %q: %w", raw, err)
		}
		port = n
	}

	out := parsedURL{Scheme: u.Scheme, Host: host, Port: port, Path: u.Path}
	if u.User != nil {
		out.Username = u.User.Username()
		out.Password, _ = u.User.Password()
	}
	return out, nil
}

// fingerprint computes the stable hash Pool deduplicates Clients on:
// protocol, host, port, username,
// path, protocol version, keep-alive, retry parameters, and
// max-connection-retries.
// Password is deliberately excluded so rotating credentials reuses the
// same pooled Client instance.
func (p parsedURL) fingerprint(s ConnectionSettings) string {
	h := fnv.New64a()
	fmt.Fprintf(h, "%s|%s|%d|%s|%s|%d|%d|%f|%d|%d|%d",
		p.Scheme, p.Host, p.Port, p.Username, p.Path,
		s.ProtocolVersion,
		s.KeepAliveInterval,
		s.RetryBackoffMultiplier,
		s.PacketRetryInterval,
		s.InitialRetryInterval,
		s.MaxConnectionRetries,
	)
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], h.Sum64())
	return fmt.Sprintf("%x", buf)
}

// deriveClientID produces the deterministic client identifier used when
// ClientID is left empty: "go-mqtt-" followed by the fingerprint, so
// the same ConnectionSettings always derive the same identifier across
// process restarts (useful for a persistent session under
// clean_session=false) without requiring the caller to pick one.
func deriveClientID(fingerprint string) string {
	return "go-mqtt-" + fingerprint
}
