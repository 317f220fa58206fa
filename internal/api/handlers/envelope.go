// Package handlers provides the HTTP handlers of the verification API.
package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/jmylchreest/xcheck/internal/http/mw"
	"github.com/jmylchreest/xcheck/internal/models"
)

// EnvelopeOutput is the Huma output of every endpoint: an envelope and the
// status it is written with.
type EnvelopeOutput struct {
	Status int
	Body   models.Envelope
}

func success(action string, result any, details string) *EnvelopeOutput {
	return &EnvelopeOutput{Status: http.StatusOK, Body: *models.NewSuccess(action, result, details)}
}

func failure(action string, err error) *EnvelopeOutput {
	se := models.AsScrapingError(err)
	return &EnvelopeOutput{Status: se.HTTPStatus(), Body: *models.NewFailure(action, se)}
}

func invalidRequest(action string) *EnvelopeOutput {
	return failure(action, &models.ScrapingError{Code: models.CodeInvalidRequest, Message: "JSON data is required"})
}

func missingParameter(action, message string) *EnvelopeOutput {
	return failure(action, &models.ScrapingError{Code: models.CodeMissingParameter, Message: message})
}

// EnvelopeError is a Huma error rendered as a failure envelope.
type EnvelopeError struct {
	status int
	env    *models.Envelope
}

func (e *EnvelopeError) Error() string { return e.env.Error.Message }

// GetStatus implements huma.StatusError.
func (e *EnvelopeError) GetStatus() int { return e.status }

func (e *EnvelopeError) MarshalJSON() ([]byte, error) { return json.Marshal(e.env) }

// UseEnvelopeErrors makes Huma render its own errors (malformed bodies,
// validation failures) as failure envelopes.
func UseEnvelopeErrors() {
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		code := models.CodeInternalServerError
		switch {
		case status == http.StatusBadRequest || status == http.StatusUnprocessableEntity:
			code, status = models.CodeInvalidRequest, http.StatusBadRequest
			if len(errs) > 0 && errs[0] != nil {
				msg += ": " + errs[0].Error()
			}
		case status == http.StatusNotFound:
			code = models.CodeNotFound
		case status == http.StatusMethodNotAllowed:
			code = models.CodeMethodNotAllowed
		case status < http.StatusInternalServerError && status >= http.StatusBadRequest:
			code = models.CodeInvalidRequest
		default:
			msg = "Internal server error occurred"
		}
		return &EnvelopeError{
			status: status,
			env:    models.NewFailure("", &models.ScrapingError{Code: code, Message: msg}),
		}
	}
}

// NotFound writes the envelope for unknown paths.
func NotFound(w http.ResponseWriter, _ *http.Request) {
	mw.WriteEnvelope(w, http.StatusNotFound, models.NewFailure("", &models.ScrapingError{
		Code:    models.CodeNotFound,
		Message: "Endpoint not found",
	}))
}

// MethodNotAllowed writes the envelope for a known path with the wrong method.
func MethodNotAllowed(w http.ResponseWriter, _ *http.Request) {
	mw.WriteEnvelope(w, http.StatusMethodNotAllowed, models.NewFailure("", &models.ScrapingError{
		Code:    models.CodeMethodNotAllowed,
		Message: "Method not allowed",
	}))
}
