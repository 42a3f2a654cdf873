package api

import (
	"net"
	"net/http"
	"net/netip"
	"strings"

	"github.com/saveenergy/speedgauge/internal/config"
)

// ClientIPResolver determines the address a request came from. Proxy headers
// are honoured only when the direct peer is a trusted proxy.
type ClientIPResolver struct {
	trustProxyHeaders bool
	trusted           []netip.Prefix
}

func NewClientIPResolver(cfg *config.Config) *ClientIPResolver {
	if cfg == nil {
		return &ClientIPResolver{}
	}
	r := &ClientIPResolver{trustProxyHeaders: cfg.TrustProxyHeaders}
	for _, entry := range cfg.TrustedProxyCIDRs {
		if prefix, err := netip.ParsePrefix(strings.TrimSpace(entry)); err == nil {
			r.trusted = append(r.trusted, prefix.Masked())
		}
	}
	return r
}

func (r *ClientIPResolver) FromRequest(req *http.Request) string {
	peer, ok := parseAddr(req.RemoteAddr)
	if !ok {
		return "unknown"
	}
	if !r.trustProxyHeaders || !r.isTrusted(peer) {
		return peer.String()
	}

	// Walk right to left: entries prepended by the client are untrusted.
	hops := strings.Split(req.Header.Get("X-Forwarded-For"), ",")
	for i := len(hops) - 1; i >= 0; i-- {
		hop, ok := parseAddr(hops[i])
		if !ok || r.isTrusted(hop) {
			continue
		}
		return hop.String()
	}
	if realIP, ok := parseAddr(req.Header.Get("X-Real-IP")); ok {
		return realIP.String()
	}
	return peer.String()
}

func (r *ClientIPResolver) isTrusted(addr netip.Addr) bool {
	for _, prefix := range r.trusted {
		if prefix.Contains(addr) {
			return true
		}
	}
	return false
}

// parseAddr accepts a bare IP, host:port or [v6]:port.
func parseAddr(value string) (netip.Addr, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return netip.Addr{}, false
	}
	if host, _, err := net.SplitHostPort(value); err == nil {
		value = host
	}
	value = strings.TrimSuffix(strings.TrimPrefix(value, "["), "]")
	addr, err := netip.ParseAddr(value)
	if err != nil {
		return netip.Addr{}, false
	}
	return addr.Unmap(), true
}
