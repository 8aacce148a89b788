// Package transport provides the two byte pipes duel clients arrive on: a
// raw TCP listener for native clients and a WebSocket endpoint for browser
// builds. Both produce conn.Transport values and hand them to an accept
// callback; everything above the transport is identical for the two.
package transport

import (
	"net"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/moecube/duelrelay/internal/conn"
)

// AcceptFn receives every established transport. It must not block: the
// listener calls it inline from its accept loop.
type AcceptFn func(tr conn.Transport)

// ErrServerAlreadyRunning is returned by Start on a running server.
var ErrServerAlreadyRunning = eris.New("server is already running")

// ProxyTrust decides whether a socket peer is a reverse proxy whose
// forwarded-client header may be believed.
type ProxyTrust struct {
	nets []*net.IPNet
}

// ParseProxyTrust builds a ProxyTrust from CIDR strings. Bare addresses
// are accepted as single-host networks.
func ParseProxyTrust(cidrs []string) (*ProxyTrust, error) {
	t := &ProxyTrust{}
	for _, c := range cidrs {
		c = strings.TrimSpace(c)
		if c == "" {
			continue
		}
		if !strings.Contains(c, "/") {
			if ip := net.ParseIP(c); ip != nil {
				bits := 32
				if ip.To4() == nil {
					bits = 128
				}
				c = c + "/" + strconv.Itoa(bits)
			}
		}
		_, ipnet, err := net.ParseCIDR(c)
		if err != nil {
			return nil, eris.Wrapf(err, "trusted proxy %q", c)
		}
		t.nets = append(t.nets, ipnet)
	}
	return t, nil
}

// Trusted reports whether addr (host or host:port) belongs to a trusted
// proxy network.
func (t *ProxyTrust) Trusted(addr string) bool {
	if t == nil || len(t.nets) == 0 {
		return false
	}
	host := addr
	if h, _, err := net.SplitHostPort(addr); err == nil {
		host = h
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return false
	}
	for _, n := range t.nets {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

// ForwardedClient extracts the original client address from an
// X-Forwarded-For value, or "" when the header is absent.
func ForwardedClient(header string) string {
	if header == "" {
		return ""
	}
	first := header
	if i := strings.Index(header, ","); i >= 0 {
		first = header[:i]
	}
	return strings.TrimSpace(first)
}

func hostOf(addr string) string {
	if h, _, err := net.SplitHostPort(addr); err == nil {
		return h
	}
	return addr
}
