package http_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	pkghttp "github.com/sentra-auth/sentra/pkg/http"
)

func TestExtractClientIP(t *testing.T) {
	internal := &pkghttp.IPConfig{TrustedProxies: []string{"10.0.0.0/8", "127.0.0.1/32"}}

	tests := []struct {
		name       string
		remoteAddr string
		headers    map[string]string
		config     *pkghttp.IPConfig
		want       string
	}{
		{
			name:       "direct connection ignores forged headers",
			remoteAddr: "203.0.113.10:54321",
			headers: map[string]string{
				"X-Forwarded-For": "1.2.3.4, 5.6.7.8",
				"X-Real-IP":       "192.168.1.1",
			},
			config: internal,
			want:   "203.0.113.10",
		},
		{
			name:       "trusted proxy uses X-Forwarded-For",
			remoteAddr: "10.0.0.5:54321",
			headers: map[string]string{
				"X-Forwarded-For": "203.0.113.42, 10.0.0.5",
			},
			config: internal,
			want:   "203.0.113.42",
		},
		{
			name:       "trusted proxy falls back to X-Real-IP",
			remoteAddr: "10.0.0.5:54321",
			headers: map[string]string{
				"X-Real-IP": "203.0.113.42",
			},
			config: internal,
			want:   "203.0.113.42",
		},
		{
			name:       "first valid hop wins in the chain",
			remoteAddr: "10.0.0.5:54321",
			headers: map[string]string{
				"X-Forwarded-For": "not-an-ip, 203.0.113.42, 10.0.0.5",
			},
			config: internal,
			want:   "203.0.113.42",
		},
		{
			name:       "ipv6 proxy and client",
			remoteAddr: "[::1]:54321",
			headers: map[string]string{
				"X-Forwarded-For": "2001:db8::1",
			},
			config: &pkghttp.IPConfig{TrustedProxies: []string{"::1/128"}},
			want:   "2001:db8::1",
		},
		{
			name:       "nil config never trusts headers",
			remoteAddr: "203.0.113.10:54321",
			headers: map[string]string{
				"X-Forwarded-For": "1.2.3.4",
			},
			config: nil,
			want:   "203.0.113.10",
		},
		{
			name:       "empty proxy list never trusts headers",
			remoteAddr: "203.0.113.10:54321",
			headers: map[string]string{
				"X-Forwarded-For": "1.2.3.4",
			},
			config: &pkghttp.IPConfig{},
			want:   "203.0.113.10",
		},
		{
			name:       "invalid CIDR entries are skipped",
			remoteAddr: "203.0.113.10:54321",
			headers: map[string]string{
				"X-Forwarded-For": "1.2.3.4",
			},
			config: &pkghttp.IPConfig{TrustedProxies: []string{"not-a-cidr"}},
			want:   "203.0.113.10",
		},
		{
			name:       "remote addr without port",
			remoteAddr: "203.0.113.10",
			config:     internal,
			want:       "203.0.113.10",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remoteAddr
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}

			assert.Equal(t, tt.want, pkghttp.ExtractClientIP(req, tt.config))
		})
	}
}

func TestExtractClientIP_SpoofedLocalhost(t *testing.T) {
	// An attacker claiming to be localhost must not be able to dodge
	// per-IP rate limits.
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "203.0.113.10:54321"
	req.Header.Set("X-Forwarded-For", "127.0.0.1, 203.0.113.10")

	config := &pkghttp.IPConfig{TrustedProxies: []string{"10.0.0.0/8"}}

	assert.Equal(t, "203.0.113.10", pkghttp.ExtractClientIP(req, config))
}
