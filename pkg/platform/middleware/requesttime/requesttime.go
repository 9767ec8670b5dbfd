// Package requesttime pins a single "now" for the lifetime of a request.
package requesttime

import (
	"net/http"
	"time"

	"brandaudit/pkg/requestcontext"
)

// Middleware captures the time the request arrived and stores it in the
// context. Read it back with requestcontext.Now.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := requestcontext.WithTime(r.Context(), time.Now().UTC())
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
