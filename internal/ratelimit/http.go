package ratelimit

import (
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
)

// DefaultClientIPHeaders are the headers consulted for the client address,
// in order. Cloudflare sets the first two; X-Real-IP covers plain reverse
// proxies.
var DefaultClientIPHeaders = []string{"CF-Connecting-IPv6", "CF-Connecting-IP", "X-Real-IP"}

// ClientIP extracts the client address from the first non-empty header in
// headers. If none is set and trustRemoteAddr is true, the host part of
// r.RemoteAddr is used. It returns "" when no address is available.
func ClientIP(r *http.Request, headers []string, trustRemoteAddr bool) string {
	for _, name := range headers {
		value := r.Header.Get(name)
		if value == "" {
			continue
		}
		// Tolerate comma separated proxy chains; the first hop is the client.
		if first, _, found := strings.Cut(value, ","); found {
			value = first
		}
		if value = strings.TrimSpace(value); value != "" {
			return value
		}
	}

	if !trustRemoteAddr || r.RemoteAddr == "" {
		return ""
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

// SetHeaders writes the standard rate limit headers for info. Retry-After is
// added, in whole seconds rounded up, only when the call was not admitted.
func SetHeaders(w http.ResponseWriter, info Info) {
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(info.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(info.Remaining))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(info.ResetAt.Unix(), 10))

	if !info.Allowed() {
		w.Header().Set("Retry-After", strconv.Itoa(RetryAfterSeconds(info)))
	}
}

// RetryAfterSeconds rounds the suggested wait up to whole seconds, minimum 1.
func RetryAfterSeconds(info Info) int {
	return max(int(math.Ceil(info.RetryAfter.Seconds())), 1)
}
