package middleware

import (
	"io"
	"net/http"
)

// MaxRequestBodyBytes fits a blog post with its image URL list with room to spare.
const MaxRequestBodyBytes int64 = 1 << 20

// DrainAndCloseRequest caps the request body at maxBytes, then drains what the
// handler left unread and closes it, so the connection can be reused.
// Draining stops at the cap, an oversized upload is never read to the end.
func DrainAndCloseRequest(maxBytes int64) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Body != nil && r.Body != http.NoBody {
				r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			}

			next.ServeHTTP(w, r)

			if r.Body != nil {
				_, _ = io.Copy(io.Discard, r.Body)
				_ = r.Body.Close()
			}
		})
	}
}
