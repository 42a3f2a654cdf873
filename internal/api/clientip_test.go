package api

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/saveenergy/speedgauge/internal/config"
)

func TestClientIPResolver(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.TrustProxyHeaders = true
	cfg.TrustedProxyCIDRs = []string{"10.0.0.0/8"}
	resolver := NewClientIPResolver(cfg)

	tests := []struct {
		name   string
		remote string
		xff    string
		realIP string
		want   string
	}{
		{"direct peer", "203.0.113.9:5000", "", "", "203.0.113.9"},
		{"untrusted peer ignores headers", "203.0.113.9:5000", "198.51.100.1", "", "203.0.113.9"},
		{"trusted proxy uses rightmost untrusted", "10.0.0.2:80", "1.1.1.1, 198.51.100.7, 10.0.0.3", "", "198.51.100.7"},
		{"trusted proxy falls back to real ip", "10.0.0.2:80", "", "198.51.100.8", "198.51.100.8"},
		{"ipv6 peer", "[2001:db8::1]:443", "", "", "2001:db8::1"},
		{"garbage peer", "nope", "", "", "unknown"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/", nil)
			req.RemoteAddr = tt.remote
			if tt.xff != "" {
				req.Header.Set("X-Forwarded-For", tt.xff)
			}
			if tt.realIP != "" {
				req.Header.Set("X-Real-IP", tt.realIP)
			}
			assert.Equal(t, tt.want, resolver.FromRequest(req))
		})
	}
}

func TestClientIPResolverWithoutTrust(t *testing.T) {
	resolver := NewClientIPResolver(nil)
	req := httptest.NewRequest("GET", "/", nil)
	req.RemoteAddr = "10.0.0.2:80"
	req.Header.Set("X-Forwarded-For", "198.51.100.7")
	assert.Equal(t, "10.0.0.2", resolver.FromRequest(req))
}
