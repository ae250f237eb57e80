// SPDX-License-Identifier: MIT

package middleware

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/chapterd/chapterd/internal/log"
)

// Logging emits one structured line per finished request.
func Logging() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sw := &statusWriter{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(sw, r)

			path := r.URL.Path
			if rctx := chi.RouteContext(r.Context()); rctx != nil {
				if pattern := rctx.RoutePattern(); pattern != "" {
					path = pattern
				}
			}

			logger := log.WithComponentFromContext(r.Context(), "http")
			evt := logger.Info()
			if sw.statusCode >= 500 {
				evt = logger.Error()
			}
			evt.
				Str("event", "http.request").
				Str("method", r.Method).
				Str("path", path).
				Int("status", sw.statusCode).
				Dur("duration", time.Since(start)).
				Str("remote_addr", r.RemoteAddr).
				Msg("request finished")
		})
	}
}
