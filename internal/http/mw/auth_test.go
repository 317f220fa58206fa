package mw

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/jmylchreest/xcheck/internal/admission"
	"github.com/jmylchreest/xcheck/internal/auth"
	"github.com/jmylchreest/xcheck/internal/logging"
	"github.com/jmylchreest/xcheck/internal/models"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

// callerEcho writes the caller identifier the pipeline stored.
func callerEcho() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(logging.GetCaller(r.Context())))
	})
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) models.Envelope {
	t.Helper()
	var env models.Envelope
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("invalid envelope %q: %v", rec.Body.String(), err)
	}
	return env
}

func TestAuth(t *testing.T) {
	tokens := auth.NewTokenVerifier("token-secret")
	valid, err := tokens.Issue("billing-svc", "", time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	keys := auth.NewKeyStore("good-key", "", testLogger())

	tests := []struct {
		name       string
		allowAnon  bool
		header     map[string]string
		query      string
		wantStatus int
		wantCaller string
		wantCode   string
	}{
		{
			name:       "header key",
			header:     map[string]string{HeaderAPIKey: "good-key"},
			wantStatus: http.StatusOK,
			wantCaller: "api_key:good-key",
		},
		{
			name:       "query key",
			query:      "?api_key=good-key",
			wantStatus: http.StatusOK,
			wantCaller: "api_key:good-key",
		},
		{
			name:       "wrong key",
			header:     map[string]string{HeaderAPIKey: "bad-key"},
			wantStatus: http.StatusUnauthorized,
			wantCode:   models.CodeInvalidAPIKey,
		},
		{
			name:       "no credentials",
			wantStatus: http.StatusUnauthorized,
			wantCode:   models.CodeMissingAPIKey,
		},
		{
			name:       "no credentials allowed",
			allowAnon:  true,
			wantStatus: http.StatusOK,
			wantCaller: "192.0.2.1",
		},
		{
			name:       "wrong key even when anonymous is allowed",
			allowAnon:  true,
			header:     map[string]string{HeaderAPIKey: "bad-key"},
			wantStatus: http.StatusUnauthorized,
			wantCode:   models.CodeInvalidAPIKey,
		},
		{
			name:       "service token",
			header:     map[string]string{"Authorization": "Bearer " + valid},
			wantStatus: http.StatusOK,
			wantCaller: "token:billing-svc",
		},
		{
			name:       "bad service token",
			header:     map[string]string{"Authorization": "Bearer forged"},
			wantStatus: http.StatusUnauthorized,
			wantCode:   models.CodeInvalidAPIKey,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := Auth(AuthConfig{
				Keys:                 keys,
				Tokens:               tokens,
				AllowUnauthenticated: tt.allowAnon,
				Logger:               testLogger(),
			})(callerEcho())

			req := httptest.NewRequest(http.MethodPost, "/api/check/like"+tt.query, nil)
			for k, v := range tt.header {
				req.Header.Set(k, v)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d (%s)", rec.Code, tt.wantStatus, rec.Body.String())
			}
			if tt.wantCode == "" {
				if got := rec.Body.String(); got != tt.wantCaller {
					t.Errorf("caller = %q, want %q", got, tt.wantCaller)
				}
				return
			}
			env := decodeEnvelope(t, rec)
			if env.Success || env.Error == nil || env.Error.Code != tt.wantCode {
				t.Errorf("envelope = %+v, want code %s", env, tt.wantCode)
			}
		})
	}
}

func TestAuth_TokenClaimsInContext(t *testing.T) {
	tokens := auth.NewTokenVerifier("token-secret")
	token, _ := tokens.Issue("ops", "admin", time.Hour)

	var got *auth.ServiceClaims
	h := Auth(AuthConfig{Tokens: tokens})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = auth.GetClaimsFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/stats", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	h.ServeHTTP(httptest.NewRecorder(), req)

	if got == nil || got.Subject != "ops" || got.Scope != "admin" {
		t.Errorf("claims = %+v", got)
	}
}

func TestAuth_BearerIgnoredWithoutSecret(t *testing.T) {
	h := Auth(AuthConfig{
		Keys:   auth.NewKeyStore("good-key", "", testLogger()),
		Tokens: auth.NewTokenVerifier(""),
	})(callerEcho())

	req := httptest.NewRequest(http.MethodGet, "/api/stats", nil)
	req.Header.Set("Authorization", "Bearer whatever")
	req.Header.Set(HeaderAPIKey, "good-key")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK || rec.Body.String() != "api_key:good-key" {
		t.Errorf("got %d %q", rec.Code, rec.Body.String())
	}
}

func TestAdmission(t *testing.T) {
	ctrl := admission.New(admission.Limits{PerMinute: 2, PerHour: 100, Concurrent: 5})
	h := Admission(ctrl, testLogger())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	serve := func(caller string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/check/like", nil)
		req = req.WithContext(logging.WithCaller(req.Context(), caller))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	for i := 0; i < 2; i++ {
		if rec := serve("api_key:a"); rec.Code != http.StatusOK {
			t.Fatalf("request %d status = %d", i, rec.Code)
		}
	}

	rec := serve("api_key:a")
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("third request status = %d, want 429", rec.Code)
	}
	env := decodeEnvelope(t, rec)
	if env.Error == nil || env.Error.Code != models.CodeRateLimitExceeded {
		t.Errorf("envelope = %+v", env)
	}

	if rec := serve("api_key:b"); rec.Code != http.StatusOK {
		t.Errorf("other caller status = %d, want 200", rec.Code)
	}

	if st := ctrl.Stats("api_key:a"); st.ConcurrentRequests != 0 {
		t.Errorf("in-flight after completion = %d, want 0", st.ConcurrentRequests)
	}
}

func TestAdmission_ReleasesOnPanic(t *testing.T) {
	ctrl := admission.New(admission.Limits{PerMinute: 10, PerHour: 10, Concurrent: 1})
	h := middleware.Recoverer(Admission(ctrl, testLogger())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	})))

	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req = req.WithContext(logging.WithCaller(context.Background(), "ip:1"))
	h.ServeHTTP(httptest.NewRecorder(), req)

	if st := ctrl.Stats("ip:1"); st.ConcurrentRequests != 0 {
		t.Errorf("in-flight after panic = %d, want 0", st.ConcurrentRequests)
	}
}

func TestAdmission_ConcurrencyCap(t *testing.T) {
	ctrl := admission.New(admission.Limits{PerMinute: 100, PerHour: 100, Concurrent: 1})
	entered := make(chan struct{})
	unblock := make(chan struct{})
	h := Admission(ctrl, testLogger())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(entered)
		<-unblock
	}))

	newReq := func() *http.Request {
		req := httptest.NewRequest(http.MethodPost, "/", nil)
		return req.WithContext(logging.WithCaller(req.Context(), "api_key:slow"))
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		h.ServeHTTP(httptest.NewRecorder(), newReq())
	}()
	<-entered

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, newReq())
	close(unblock)
	wg.Wait()

	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", rec.Code)
	}
	if env := decodeEnvelope(t, rec); env.Error.Message != admission.ReasonConcurrency {
		t.Errorf("message = %q", env.Error.Message)
	}
}

func TestRequestContext(t *testing.T) {
	var got string
	h := middleware.RequestID(RequestContext(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = logging.GetRequestID(r.Context())
	})))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if got == "" {
		t.Fatal("request id not propagated to logging context")
	}
	if rec.Header().Get(middleware.RequestIDHeader) != got {
		t.Errorf("response header = %q, want %q", rec.Header().Get(middleware.RequestIDHeader), got)
	}
}

func TestAPIVersion(t *testing.T) {
	for _, status := range []int{http.StatusOK, http.StatusNotFound, http.StatusInternalServerError} {
		h := APIVersion()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(status)
		}))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		if rec.Header().Get("X-API-Version") == "" {
			t.Errorf("status %d: X-API-Version header missing", status)
		}
	}
}
