package mw

import (
	"net/http"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/jmylchreest/xcheck/internal/logging"
)

// RequestContext copies chi's request ID into the logging context and echoes
// it in the X-Request-Id response header. Must run after middleware.RequestID.
func RequestContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := middleware.GetReqID(r.Context())
		if reqID == "" {
			next.ServeHTTP(w, r)
			return
		}
		w.Header().Set(middleware.RequestIDHeader, reqID)
		next.ServeHTTP(w, r.WithContext(logging.WithRequestID(r.Context(), reqID)))
	})
}
