package mw

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/jmylchreest/xcheck/internal/admission"
	"github.com/jmylchreest/xcheck/internal/logging"
	"github.com/jmylchreest/xcheck/internal/metrics"
	"github.com/jmylchreest/xcheck/internal/models"
)

// Admission gates requests through the admission controller, keyed by the
// caller identifier Auth stored. The slot is released when the handler
// returns, whatever the outcome.
func Admission(ctrl *admission.Controller, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			caller := logging.GetCaller(r.Context())

			release, ok, reason := ctrl.Admit(caller)
			if !ok {
				metrics.AdmissionRejected(admission.RejectKind(reason))
				logging.FromContext(r.Context(), logger).Info("request rejected by admission",
					"reason", reason,
					"path", r.URL.Path,
				)
				if secs := admission.RetryAfter(reason); secs > 0 {
					w.Header().Set("Retry-After", strconv.Itoa(secs))
				}
				WriteError(w, "", &models.ScrapingError{Code: models.CodeRateLimitExceeded, Message: reason})
				return
			}
			defer release()

			next.ServeHTTP(w, r)
		})
	}
}
