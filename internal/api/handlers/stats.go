package handlers

import (
	"context"
	"log/slog"

	"github.com/jmylchreest/xcheck/internal/admission"
	"github.com/jmylchreest/xcheck/internal/logging"
	"github.com/jmylchreest/xcheck/internal/models"
)

// HistoryReader lists recorded checks.
type HistoryReader interface {
	Recent(ctx context.Context, caller string, limit int) ([]models.HistoryEntry, error)
}

// StatsHandler serves per-caller statistics and check history.
type StatsHandler struct {
	admission *admission.Controller
	history   HistoryReader
	logger    *slog.Logger
}

// NewStatsHandler creates a new stats handler. history may be nil when the
// audit store is disabled.
func NewStatsHandler(ctrl *admission.Controller, history HistoryReader, logger *slog.Logger) *StatsHandler {
	return &StatsHandler{admission: ctrl, history: history, logger: logger}
}

// Stats returns the caller's admission counters.
func (h *StatsHandler) Stats(ctx context.Context, _ *struct{}) (*EnvelopeOutput, error) {
	stats := h.admission.Stats(logging.GetCaller(ctx))
	return success("", stats, "Statistics retrieved successfully"), nil
}

// History returns the caller's most recent checks.
func (h *StatsHandler) History(ctx context.Context, in *models.HumaHistoryRequest) (*EnvelopeOutput, error) {
	if h.history == nil {
		return success("", []models.HistoryEntry{}, "History is disabled"), nil
	}

	entries, err := h.history.Recent(ctx, logging.GetCaller(ctx), in.Limit)
	if err != nil {
		logging.FromContext(ctx, h.logger).Error("failed to read history", "error", err)
		return failure("", &models.ScrapingError{Code: models.CodeInternalServerError, Message: "Internal server error occurred"}), nil
	}
	return success("", entries, "History retrieved successfully"), nil
}
