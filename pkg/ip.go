package pkg

import (
	"net"
	"net/http"
	"strings"
)

// ReadUserIP returns the client address of the request, preferring the
// headers set by the reverse proxy in front of the service.
func ReadUserIP(r *http.Request) string {
	ipAddr := r.Header.Get("X-Real-Ip")
	if ipAddr == "" {
		// first entry is the original client
		if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
			ipAddr = strings.TrimSpace(strings.Split(fwd, ",")[0])
		}
	}
	if ipAddr == "" {
		ipAddr = r.RemoteAddr
	}

	if host, _, err := net.SplitHostPort(ipAddr); err == nil {
		return host
	}
	return ipAddr
}
