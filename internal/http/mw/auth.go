// Package mw contains the HTTP middleware of the request pipeline.
package mw

import (
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"strings"

	"github.com/jmylchreest/xcheck/internal/auth"
	"github.com/jmylchreest/xcheck/internal/logging"
	"github.com/jmylchreest/xcheck/internal/models"
)

const (
	// HeaderAPIKey carries the API key.
	HeaderAPIKey = "X-API-Key"
	// QueryAPIKey is the query parameter fallback for the API key.
	QueryAPIKey = "api_key"
)

// Caller identifier prefixes.
const (
	CallerAPIKey = "api_key:"
	CallerToken  = "token:"
)

// AuthConfig holds configuration for the auth middleware.
type AuthConfig struct {
	// Keys are the accepted API keys.
	Keys *auth.KeyStore

	// Tokens verifies Authorization: Bearer service tokens (optional).
	Tokens *auth.TokenVerifier

	// AllowUnauthenticated admits requests without credentials, identified
	// by client IP.
	AllowUnauthenticated bool

	Logger *slog.Logger
}

// Auth authenticates the caller and stores its admission identifier in the
// request context (see logging.GetCaller):
//  1. Authorization: Bearer <service token> when tokens are enabled
//  2. X-API-Key header or api_key query parameter
//  3. the client IP when unauthenticated access is allowed
func Auth(cfg AuthConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			caller, claims, failure := authenticate(cfg, r)
			if failure != nil {
				if cfg.Logger != nil {
					logging.FromContext(r.Context(), cfg.Logger).Debug("authentication failed",
						"code", failure.Code,
						"path", r.URL.Path,
						"remote", clientIP(r),
					)
				}
				WriteError(w, "", failure)
				return
			}

			ctx := logging.WithCaller(r.Context(), caller)
			if claims != nil {
				ctx = auth.WithClaims(ctx, claims)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func authenticate(cfg AuthConfig, r *http.Request) (string, *auth.ServiceClaims, *models.ScrapingError) {
	if token, ok := bearerToken(r); ok && cfg.Tokens.Enabled() {
		claims, err := cfg.Tokens.Verify(token)
		if err != nil {
			return "", nil, &models.ScrapingError{Code: models.CodeInvalidAPIKey, Message: "Invalid or expired token"}
		}
		return CallerToken + claims.Subject, claims, nil
	}

	key := r.Header.Get(HeaderAPIKey)
	if key == "" {
		key = r.URL.Query().Get(QueryAPIKey)
	}
	if key != "" {
		if cfg.Keys == nil || !cfg.Keys.Valid(key) {
			return "", nil, &models.ScrapingError{Code: models.CodeInvalidAPIKey, Message: "Invalid API key"}
		}
		return CallerAPIKey + key, nil, nil
	}

	if cfg.AllowUnauthenticated {
		return clientIP(r), nil, nil
	}
	return "", nil, &models.ScrapingError{Code: models.CodeMissingAPIKey, Message: "API key is required"}
}

func bearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	if !strings.HasPrefix(h, "Bearer ") {
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
	return token, token != ""
}

// clientIP is the remote address without its port. RealIP runs first, so
// proxies are already resolved.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// WriteError writes a failure envelope with the status of its code.
func WriteError(w http.ResponseWriter, action string, se *models.ScrapingError) {
	WriteEnvelope(w, se.HTTPStatus(), models.NewFailure(action, se))
}

// WriteEnvelope writes env as JSON.
func WriteEnvelope(w http.ResponseWriter, status int, env *models.Envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(env)
}
