package middleware

import (
	"net"
	"net/http"
)

type contextKey string

// ClientIP is the caller address with the port stripped. chi's RealIP
// middleware has already folded proxy headers into RemoteAddr.
func ClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
