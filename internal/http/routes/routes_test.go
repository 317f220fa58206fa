package routes

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strconv"
	"strings"
	"testing"

	"github.com/jmylchreest/xcheck/internal/admission"
	"github.com/jmylchreest/xcheck/internal/api/handlers"
	"github.com/jmylchreest/xcheck/internal/auth"
	"github.com/jmylchreest/xcheck/internal/credentials"
	"github.com/jmylchreest/xcheck/internal/http/mw"
	"github.com/jmylchreest/xcheck/internal/models"
)

const testKey = "test-key"

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

type fakeChecker struct {
	err     error
	gotRef  string
	gotUser string
	gotText string
}

func (f *fakeChecker) CheckFollow(_ context.Context, handle string) (*models.FollowResult, error) {
	f.gotRef = handle
	if f.err != nil {
		return nil, f.err
	}
	following := true
	return &models.FollowResult{IsFollowing: &following, ButtonText: "Following", ButtonState: "following"}, nil
}

func (f *fakeChecker) CheckLike(_ context.Context, ref string) (*models.LikeResult, error) {
	f.gotRef = ref
	if f.err != nil {
		return nil, f.err
	}
	return &models.LikeResult{IsLiked: true, LikeCount: 1200, ButtonState: "liked"}, nil
}

func (f *fakeChecker) CheckRepost(_ context.Context, ref string) (*models.RepostResult, error) {
	f.gotRef = ref
	if f.err != nil {
		return nil, f.err
	}
	return &models.RepostResult{RepostCount: 3, ButtonState: "not_reposted"}, nil
}

func (f *fakeChecker) CheckComment(_ context.Context, ref, account, text string) (*models.CommentResult, error) {
	f.gotRef, f.gotUser, f.gotText = ref, account, text
	if f.err != nil {
		return nil, f.err
	}
	return &models.CommentResult{Comments: []models.Comment{}}, nil
}

func (f *fakeChecker) CheckQuote(_ context.Context, ref string) (*models.QuoteResult, error) {
	f.gotRef = ref
	if f.err != nil {
		return nil, f.err
	}
	return &models.QuoteResult{HasQuoteReposts: true, QuoteCount: 4}, nil
}

type fakeSessions struct{}

func (fakeSessions) Status() credentials.Status {
	return credentials.Status{State: credentials.StateCookiesValid, Valid: true}
}

type fakeHistory struct {
	caller string
	limit  int
}

func (f *fakeHistory) Recent(_ context.Context, caller string, limit int) ([]models.HistoryEntry, error) {
	f.caller, f.limit = caller, limit
	return []models.HistoryEntry{{ID: "01J", Action: models.ActionLike, Success: true}}, nil
}

type fixture struct {
	handler http.Handler
	checker *fakeChecker
	history *fakeHistory
	ctrl    *admission.Controller
}

func newFixture(t *testing.T, limits admission.Limits) *fixture {
	t.Helper()
	checker := &fakeChecker{}
	history := &fakeHistory{}
	ctrl := admission.New(limits)

	h := New(Options{}, Handlers{
		Health: handlers.NewHealthHandler(fakeSessions{}, ctrl),
		Checks: handlers.NewCheckHandler(checker),
		Stats:  handlers.NewStatsHandler(ctrl, history, testLogger()),
	}, mw.AuthConfig{
		Keys:   auth.NewKeyStore(testKey, "", testLogger()),
		Tokens: auth.NewTokenVerifier(""),
		Logger: testLogger(),
	}, ctrl, testLogger())

	return &fixture{handler: h, checker: checker, history: history, ctrl: ctrl}
}

func defaultLimits() admission.Limits {
	return admission.Limits{PerMinute: 30, PerHour: 1000, Concurrent: 5}
}

func (f *fixture) do(t *testing.T, method, path, body string, authed bool) (*httptest.ResponseRecorder, models.Envelope) {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	if authed {
		req.Header.Set(mw.HeaderAPIKey, testKey)
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)

	var env models.Envelope
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
			t.Fatalf("invalid envelope %q: %v", rec.Body.String(), err)
		}
	}
	return rec, env
}

func TestHealth(t *testing.T) {
	f := newFixture(t, defaultLimits())
	rec, env := f.do(t, http.MethodGet, "/api/health", "", false)

	if rec.Code != http.StatusOK || !env.Success {
		t.Fatalf("status = %d, env = %+v", rec.Code, env)
	}
	if env.Details != "API is running normally" {
		t.Errorf("details = %q", env.Details)
	}
	result, _ := env.Result.(map[string]any)
	if result["status"] != "healthy" || result["session_state"] != string(credentials.StateCookiesValid) {
		t.Errorf("result = %v", env.Result)
	}
	if rec.Header().Get("X-API-Version") == "" {
		t.Error("X-API-Version header missing")
	}
}

func TestChecks(t *testing.T) {
	tests := []struct {
		name        string
		path        string
		body        string
		checkErr    error
		wantStatus  int
		wantCode    string
		wantAction  string
		wantRef     string
		wantDetails string
	}{
		{
			name:        "follow",
			path:        "/api/check/follow",
			body:        `{"target_user":"@jack"}`,
			wantStatus:  http.StatusOK,
			wantAction:  models.ActionFollow,
			wantRef:     "@jack",
			wantDetails: "Follow status checked for @jack",
		},
		{
			name:        "like",
			path:        "/api/check/like",
			body:        `{"tweet_url":"https://x.com/jack/status/20"}`,
			wantStatus:  http.StatusOK,
			wantAction:  models.ActionLike,
			wantRef:     "https://x.com/jack/status/20",
			wantDetails: "Like status checked for tweet",
		},
		{
			name:       "repost",
			path:       "/api/check/repost",
			body:       `{"tweet_url":"1790000000000000001"}`,
			wantStatus: http.StatusOK,
			wantAction: models.ActionRepost,
			wantRef:    "1790000000000000001",
		},
		{
			name:       "quote",
			path:       "/api/check/quote",
			body:       `{"tweet_url":"1790000000000000001"}`,
			wantStatus: http.StatusOK,
			wantAction: models.ActionQuote,
			wantRef:    "1790000000000000001",
		},
		{
			name:       "missing body",
			path:       "/api/check/like",
			wantStatus: http.StatusBadRequest,
			wantCode:   models.CodeInvalidRequest,
			wantAction: models.ActionLike,
		},
		{
			name:       "missing tweet_url",
			path:       "/api/check/repost",
			body:       `{}`,
			wantStatus: http.StatusBadRequest,
			wantCode:   models.CodeMissingParameter,
			wantAction: models.ActionRepost,
		},
		{
			name:       "blank target_user",
			path:       "/api/check/follow",
			body:       `{"target_user":"  "}`,
			wantStatus: http.StatusBadRequest,
			wantCode:   models.CodeMissingParameter,
			wantAction: models.ActionFollow,
		},
		{
			name:       "malformed JSON",
			path:       "/api/check/like",
			body:       `{"tweet_url":`,
			wantStatus: http.StatusBadRequest,
			wantCode:   models.CodeInvalidRequest,
		},
		{
			name:       "element not found",
			path:       "/api/check/like",
			body:       `{"tweet_url":"20"}`,
			checkErr:   models.ErrElementNotFound("Tweet not found or deleted"),
			wantStatus: http.StatusNotFound,
			wantCode:   models.CodeElementNotFound,
			wantAction: models.ActionLike,
		},
		{
			name:       "login required",
			path:       "/api/check/follow",
			body:       `{"target_user":"jack"}`,
			checkErr:   models.ErrLoginRequired("X.com login is required. Please update cookies.", nil),
			wantStatus: http.StatusUnauthorized,
			wantCode:   models.CodeLoginRequired,
			wantAction: models.ActionFollow,
		},
		{
			name:       "platform rate limit",
			path:       "/api/check/quote",
			body:       `{"tweet_url":"20"}`,
			checkErr:   models.ErrRateLimited("X.com rate limit reached"),
			wantStatus: http.StatusTooManyRequests,
			wantCode:   models.CodeRateLimited,
			wantAction: models.ActionQuote,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, defaultLimits())
			f.checker.err = tt.checkErr

			rec, env := f.do(t, http.MethodPost, tt.path, tt.body, true)
			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d (%s)", rec.Code, tt.wantStatus, rec.Body.String())
			}
			if tt.wantAction != "" && env.Action != tt.wantAction {
				t.Errorf("action = %q, want %q", env.Action, tt.wantAction)
			}
			if tt.wantCode != "" {
				if env.Success || env.Error == nil || env.Error.Code != tt.wantCode {
					t.Fatalf("envelope = %+v, want code %s", env, tt.wantCode)
				}
				return
			}
			if !env.Success || env.Result == nil || env.Timestamp == "" {
				t.Errorf("envelope = %+v", env)
			}
			if f.checker.gotRef != tt.wantRef {
				t.Errorf("checker got %q, want %q", f.checker.gotRef, tt.wantRef)
			}
			if tt.wantDetails != "" && env.Details != tt.wantDetails {
				t.Errorf("details = %q, want %q", env.Details, tt.wantDetails)
			}
		})
	}
}

func TestCheckComment(t *testing.T) {
	f := newFixture(t, defaultLimits())

	rec, env := f.do(t, http.MethodPost, "/api/check/comment", `{"tweet_url":"20","checking_user":"alice","text":"gm"}`, true)
	if rec.Code != http.StatusOK || !env.Success {
		t.Fatalf("status = %d, env = %+v", rec.Code, env)
	}
	if f.checker.gotUser != "alice" || f.checker.gotText != "gm" {
		t.Errorf("checker got user %q text %q", f.checker.gotUser, f.checker.gotText)
	}
	if env.Details != "Comment status checked for alice" {
		t.Errorf("details = %q", env.Details)
	}

	rec, env = f.do(t, http.MethodPost, "/api/check/comment", `{"tweet_url":"20"}`, true)
	if rec.Code != http.StatusBadRequest || env.Error.Code != models.CodeMissingParameter {
		t.Errorf("missing checking_user: status = %d, env = %+v", rec.Code, env)
	}
	if env.Error.Message != "tweet_url and checking_user are required" {
		t.Errorf("message = %q", env.Error.Message)
	}
}

func TestChecks_RequireAPIKey(t *testing.T) {
	f := newFixture(t, defaultLimits())
	rec, env := f.do(t, http.MethodPost, "/api/check/like", `{"tweet_url":"20"}`, false)

	if rec.Code != http.StatusUnauthorized || env.Error == nil || env.Error.Code != models.CodeMissingAPIKey {
		t.Errorf("status = %d, env = %+v", rec.Code, env)
	}
	if f.checker.gotRef != "" {
		t.Error("checker ran without authentication")
	}
}

func TestChecks_Admission(t *testing.T) {
	f := newFixture(t, admission.Limits{PerMinute: 1, PerHour: 10, Concurrent: 5})

	if rec, _ := f.do(t, http.MethodPost, "/api/check/like", `{"tweet_url":"20"}`, true); rec.Code != http.StatusOK {
		t.Fatalf("first request status = %d", rec.Code)
	}
	rec, env := f.do(t, http.MethodPost, "/api/check/like", `{"tweet_url":"20"}`, true)
	if rec.Code != http.StatusTooManyRequests || env.Error.Code != models.CodeRateLimitExceeded {
		t.Fatalf("second request: status = %d, env = %+v", rec.Code, env)
	}
	if !strings.HasPrefix(env.Error.Message, "Rate limit exceeded. Try again in") {
		t.Errorf("message = %q", env.Error.Message)
	}
	retry := rec.Header().Get("Retry-After")
	if secs, err := strconv.Atoi(retry); err != nil || secs < 1 || secs > 60 {
		t.Errorf("Retry-After = %q, want seconds within the minute window", retry)
	} else if !strings.Contains(env.Error.Message, "in "+retry+" seconds") {
		t.Errorf("Retry-After = %q does not match message %q", retry, env.Error.Message)
	}

	// Stats are not admission gated.
	if rec, _ := f.do(t, http.MethodGet, "/api/stats", "", true); rec.Code != http.StatusOK {
		t.Errorf("stats status = %d", rec.Code)
	}
}

func TestStats(t *testing.T) {
	f := newFixture(t, defaultLimits())
	f.do(t, http.MethodPost, "/api/check/like", `{"tweet_url":"20"}`, true)

	rec, env := f.do(t, http.MethodGet, "/api/stats", "", true)
	if rec.Code != http.StatusOK || env.Details != "Statistics retrieved successfully" {
		t.Fatalf("status = %d, env = %+v", rec.Code, env)
	}
	result, _ := env.Result.(map[string]any)
	if result["requests_per_minute"] != float64(1) || result["concurrent_requests"] != float64(0) {
		t.Errorf("result = %v", env.Result)
	}
}

func TestHistory(t *testing.T) {
	f := newFixture(t, defaultLimits())

	rec, env := f.do(t, http.MethodGet, "/api/history?limit=5", "", true)
	if rec.Code != http.StatusOK || !env.Success {
		t.Fatalf("status = %d, env = %+v", rec.Code, env)
	}
	if f.history.caller != mw.CallerAPIKey+testKey || f.history.limit != 5 {
		t.Errorf("history queried with caller %q limit %d", f.history.caller, f.history.limit)
	}

	rec, env = f.do(t, http.MethodGet, "/api/history?limit=500", "", true)
	if rec.Code != http.StatusBadRequest || env.Error == nil || env.Error.Code != models.CodeInvalidRequest {
		t.Errorf("out of range limit: status = %d, env = %+v", rec.Code, env)
	}
}

func TestFallbacks(t *testing.T) {
	f := newFixture(t, defaultLimits())

	rec, env := f.do(t, http.MethodGet, "/api/nope", "", true)
	if rec.Code != http.StatusNotFound || env.Error == nil || env.Error.Code != models.CodeNotFound {
		t.Errorf("unknown path: status = %d, env = %+v", rec.Code, env)
	}
	if env.Error != nil && env.Error.Message != "Endpoint not found" {
		t.Errorf("message = %q", env.Error.Message)
	}

	rec, env = f.do(t, http.MethodGet, "/api/check/like", "", true)
	if rec.Code != http.StatusMethodNotAllowed || env.Error == nil || env.Error.Code != models.CodeMethodNotAllowed {
		t.Errorf("wrong method: status = %d, env = %+v", rec.Code, env)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t, defaultLimits())
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "xcheck_") {
		t.Errorf("status = %d", rec.Code)
	}
}

func TestOpenAPIDocument(t *testing.T) {
	f := newFixture(t, defaultLimits())
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/openapi.json", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var doc struct {
		Paths map[string]json.RawMessage `json:"paths"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &doc); err != nil {
		t.Fatalf("invalid document: %v", err)
	}

	paths := []string{
		"/api/health",
		"/api/stats",
		"/api/history",
		"/api/check/follow",
		"/api/check/like",
		"/api/check/repost",
		"/api/check/quote",
		"/api/check/comment",
	}
	for _, p := range paths {
		t.Run(p, func(t *testing.T) {
			if _, ok := doc.Paths[p]; !ok {
				t.Errorf("%s missing from /openapi.json", p)
			}
		})
	}
}
