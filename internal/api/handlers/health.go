package handlers

import (
	"context"
	"time"

	"github.com/jmylchreest/xcheck/internal/admission"
	"github.com/jmylchreest/xcheck/internal/credentials"
	"github.com/jmylchreest/xcheck/internal/models"
	"github.com/jmylchreest/xcheck/internal/version"
)

// HealthIdentifier is the admission identifier whose stats health reports.
const HealthIdentifier = "health_check"

// SessionStatus reports the persisted login session.
type SessionStatus interface {
	Status() credentials.Status
}

// HealthHandler handles health check requests.
type HealthHandler struct {
	sessions  SessionStatus
	admission *admission.Controller
	started   time.Time
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(sessions SessionStatus, ctrl *admission.Controller) *HealthHandler {
	return &HealthHandler{sessions: sessions, admission: ctrl, started: time.Now()}
}

// Handle returns the health status.
func (h *HealthHandler) Handle(ctx context.Context, _ *struct{}) (*EnvelopeOutput, error) {
	status := h.sessions.Status()

	return success("", models.HealthResult{
		Status:         "healthy",
		Version:        version.Get().Short(),
		SessionState:   string(status.State),
		SessionValid:   status.Valid,
		RateLimitStats: h.admission.Stats(HealthIdentifier),
		Uptime:         int64(time.Since(h.started).Seconds()),
	}, "API is running normally"), nil
}
