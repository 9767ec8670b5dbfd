package metadata

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"brandaudit/pkg/requestcontext"
)

func TestClientIPFromRequest(t *testing.T) {
	tests := []struct {
		name       string
		headers    map[string]string
		remoteAddr string
		want       string
	}{
		{name: "forwarded chain", headers: map[string]string{"X-Forwarded-For": "203.0.113.9, 10.0.0.1"}, remoteAddr: "10.0.0.2:443", want: "203.0.113.9"},
		{name: "real ip", headers: map[string]string{"X-Real-IP": " 198.51.100.4 "}, remoteAddr: "10.0.0.2:443", want: "198.51.100.4"},
		{name: "remote ipv4", remoteAddr: "192.0.2.1:5555", want: "192.0.2.1"},
		{name: "remote ipv6", remoteAddr: "[::1]:5555", want: "::1"},
		{name: "no port", remoteAddr: "192.0.2.1", want: "192.0.2.1"},
		{name: "empty", remoteAddr: "", want: "unknown"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remoteAddr
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			assert.Equal(t, tt.want, ClientIPFromRequest(req))
		})
	}
}

func TestParseUserAgent(t *testing.T) {
	t.Run("desktop browser", func(t *testing.T) {
		c := ParseUserAgent("Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36")
		assert.Equal(t, "Chrome", c.Browser)
		assert.Equal(t, "120.0.0.0", c.Version)
		assert.Contains(t, c.OS, "Windows")
		assert.False(t, c.Mobile)
		assert.False(t, c.Bot)
	})

	t.Run("crawler", func(t *testing.T) {
		c := ParseUserAgent("Mozilla/5.0 (compatible; Googlebot/2.1; +http://www.google.com/bot.html)")
		assert.True(t, c.Bot)
	})

	t.Run("empty header", func(t *testing.T) {
		assert.Equal(t, requestcontext.Client{}, ParseUserAgent("  "))
	})
}

func TestClientMetadataMiddleware(t *testing.T) {
	var got requestcontext.Client
	var ip, ua string
	h := ClientMetadata(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = requestcontext.ClientInfo(r.Context())
		ip = requestcontext.ClientIP(r.Context())
		ua = requestcontext.UserAgent(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.10:1234"
	req.Header.Set("User-Agent", "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.1 Safari/605.1.15")
	h.ServeHTTP(httptest.NewRecorder(), req)

	assert.Equal(t, "192.0.2.10", ip)
	assert.Equal(t, req.Header.Get("User-Agent"), ua)
	assert.Equal(t, "Safari", got.Browser)
}
