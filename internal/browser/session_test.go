package browser_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jmylchreest/xcheck/internal/browser"
	"github.com/jmylchreest/xcheck/internal/browser/browsertest"
	"github.com/jmylchreest/xcheck/internal/models"
)

func TestSession_NavigateRetries(t *testing.T) {
	tests := []struct {
		name       string
		errs       []error
		maxRetries int
		want       bool
		wantCalls  int
	}{
		{"first attempt", nil, 3, true, 1},
		{"succeeds on third", []error{errors.New("net"), errors.New("net")}, 3, true, 3},
		{"exhausted", []error{errors.New("a"), errors.New("b"), errors.New("c")}, 3, false, 3},
		{"zero retries still tries once", []error{errors.New("a")}, 0, false, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			page := browsertest.NewPage("<html><body>ok</body></html>")
			page.NavigateErrs = tt.errs
			sess := browsertest.Session(page)

			got := sess.Navigate(context.Background(), "https://x.com/jack", tt.maxRetries)
			if got != tt.want {
				t.Errorf("Navigate() = %v, want %v", got, tt.want)
			}
			if len(page.Navigations) != tt.wantCalls {
				t.Errorf("navigation attempts = %d, want %d", len(page.Navigations), tt.wantCalls)
			}
		})
	}
}

func TestSession_NavigateBackoffGrows(t *testing.T) {
	page := browsertest.NewPage("<html></html>")
	page.NavigateErrs = []error{errors.New("a"), errors.New("b")}
	sess := browser.NewSession(page, browser.Timings{RetryDelay: 20 * time.Millisecond}, browsertest.Logger())

	start := time.Now()
	if !sess.Navigate(context.Background(), "https://x.com", 3) {
		t.Fatal("Navigate() = false, want true")
	}
	// 20ms after attempt 1, 40ms after attempt 2.
	if elapsed := time.Since(start); elapsed < 60*time.Millisecond {
		t.Errorf("elapsed = %v, want at least 60ms of backoff", elapsed)
	}
}

func TestSession_AwaitReadyTimeoutIsNotFatal(t *testing.T) {
	page := browsertest.NewPage("<html></html>")
	page.ReadyErr = errors.New("context deadline exceeded")
	sess := browsertest.Session(page)

	if !sess.Navigate(context.Background(), "https://x.com", 1) {
		t.Error("a readiness timeout should not fail navigation")
	}
}

func TestSession_CloseIsIdempotent(t *testing.T) {
	page := browsertest.NewPage()
	closes := 0
	sess := browser.NewSession(page, browser.Timings{}, browsertest.Logger(), func() error {
		closes++
		return nil
	})

	sess.Close()
	sess.Close()

	if page.Closed != 1 {
		t.Errorf("page closed %d times, want 1", page.Closed)
	}
	if closes != 1 {
		t.Errorf("browser closed %d times, want 1", closes)
	}
}

func TestSleep_ContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if browser.Sleep(ctx, time.Hour) {
		t.Error("Sleep() on cancelled context should return false")
	}
	if !browser.Sleep(context.Background(), 0) {
		t.Error("Sleep(0) should return true")
	}
}

func TestCookieConversion(t *testing.T) {
	in := []models.Cookie{
		{Name: "auth_token", Value: "abc", Domain: ".x.com", Path: "/", Expires: 1893456000, Secure: true, HTTPOnly: true, SameSite: "None"},
		{Name: "lang", Value: "en", Domain: "x.com", SameSite: "bogus"},
	}

	params := browser.ToCookieParams(in)
	if len(params) != 2 {
		t.Fatalf("len(params) = %d, want 2", len(params))
	}
	if params[0].Expires != 1893456000 {
		t.Errorf("Expires = %v, want 1893456000", params[0].Expires)
	}
	if string(params[0].SameSite) != "None" {
		t.Errorf("SameSite = %q, want None", params[0].SameSite)
	}
	if params[1].SameSite != "" {
		t.Errorf("unknown SameSite should be dropped, got %q", params[1].SameSite)
	}
	if params[1].Expires != 0 {
		t.Errorf("session cookie should have no expiry, got %v", params[1].Expires)
	}
}
