package util

import (
	"net"
	"net/http"
	"strings"
)

// ClientIP resolves the originating client address of a request. It trusts
// X-Forwarded-For (first hop) and X-Real-IP before falling back to the
// connection's remote address, matching the usual reverse-proxy layout in
// front of the gateway.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first := strings.TrimSpace(strings.Split(xff, ",")[0])
		if ip := net.ParseIP(first); ip != nil {
			return ip.String()
		}
	}

	if xrip := strings.TrimSpace(r.Header.Get("X-Real-IP")); xrip != "" {
		if ip := net.ParseIP(xrip); ip != nil {
			return ip.String()
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
