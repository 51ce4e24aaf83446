package ratelimit

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestClientIP(t *testing.T) {
	tests := []struct {
		name       string
		headers    map[string]string
		remoteAddr string
		trust      bool
		want       string
	}{
		{
			name:    "ipv6 header wins",
			headers: map[string]string{"CF-Connecting-IPv6": "2001:db8::1", "CF-Connecting-IP": "192.0.2.1"},
			want:    "2001:db8::1",
		},
		{
			name:    "cloudflare ipv4",
			headers: map[string]string{"CF-Connecting-IP": "192.0.2.1", "X-Real-IP": "10.0.0.1"},
			want:    "192.0.2.1",
		},
		{
			name:    "x-real-ip",
			headers: map[string]string{"X-Real-IP": "198.51.100.4"},
			want:    "198.51.100.4",
		},
		{
			name:    "first hop of a chain",
			headers: map[string]string{"X-Real-IP": " 198.51.100.4 , 10.0.0.1"},
			want:    "198.51.100.4",
		},
		{
			name:       "remote addr ignored by default",
			remoteAddr: "203.0.113.9:4321",
			want:       "",
		},
		{
			name:       "remote addr when trusted",
			remoteAddr: "203.0.113.9:4321",
			trust:      true,
			want:       "203.0.113.9",
		},
		{
			name:       "remote addr without port",
			remoteAddr: "203.0.113.9",
			trust:      true,
			want:       "203.0.113.9",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("POST", "/", nil)
			req.RemoteAddr = tt.remoteAddr
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}

			assert.Equal(t, tt.want, ClientIP(req, DefaultClientIPHeaders, tt.trust))
		})
	}
}

func TestSetHeaders_Allowed(t *testing.T) {
	rr := httptest.NewRecorder()
	reset := time.Unix(1_700_000_000, 0)

	SetHeaders(rr, Info{Limit: 10, Remaining: 9, ResetAt: reset})

	assert.Equal(t, "10", rr.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "9", rr.Header().Get("X-RateLimit-Remaining"))
	assert.Equal(t, "1700000000", rr.Header().Get("X-RateLimit-Reset"))
	assert.Empty(t, rr.Header().Get("Retry-After"))
}

func TestSetHeaders_Limited(t *testing.T) {
	rr := httptest.NewRecorder()

	SetHeaders(rr, Info{Limit: 10, Remaining: 0, ResetAt: time.Now(), RetryAfter: 1500 * time.Millisecond})

	assert.Equal(t, "0", rr.Header().Get("X-RateLimit-Remaining"))
	assert.Equal(t, "2", rr.Header().Get("Retry-After"))
}

func TestRetryAfterSeconds(t *testing.T) {
	assert.Equal(t, 1, RetryAfterSeconds(Info{RetryAfter: time.Second}))
	assert.Equal(t, 1, RetryAfterSeconds(Info{RetryAfter: 200 * time.Millisecond}))
	assert.Equal(t, 60, RetryAfterSeconds(Info{RetryAfter: time.Minute}))
}
