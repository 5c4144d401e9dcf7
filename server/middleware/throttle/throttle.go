// Package throttle provides an HTTP middleware which rate limits requests,
// protecting a slow serial link from being thrashed by eager clients
package throttle

import (
	"net/http"

	"golang.org/x/time/rate"
)

// Throttle wraps a token bucket limiter in an HTTP middleware
type Throttle struct {
	limiter *rate.Limiter
}

// New returns a Throttle allowing rps requests per second with the given
// burst size
func New(rps float64, burst int) *Throttle {
	return &Throttle{limiter: rate.NewLimiter(rate.Limit(rps), burst)}
}

// Check is an HTTP middleware that returns 429 when the limiter is
// exhausted, otherwise passes the request down the line
func (t *Throttle) Check(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !t.limiter.Allow() {
			http.Error(w, "request rate exceeds the limit of the serial link", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}
