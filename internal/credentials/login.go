package credentials

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jmylchreest/xcheck/internal/browser"
)

var (
	// ErrManualIntervention means the platform asked for something only a
	// human can provide (verification code, phone confirmation, ...).
	ErrManualIntervention = errors.New("manual intervention required")
	// ErrLoginForm means an expected login form control never appeared.
	ErrLoginForm = errors.New("login form control not found")
	// ErrLoginNotConfirmed means the form was submitted but no logged-in
	// marker appeared.
	ErrLoginNotConfirmed = errors.New("login not confirmed")
)

var (
	identifierFields = []browser.Candidate{
		{CSS: `input[autocomplete="username"]`},
		{CSS: `input[name="text"]`},
		{CSS: `input[type="text"]`},
	}
	nextButtons = []browser.Candidate{
		{CSS: `[role="button"]`, Text: `^(Next|次へ)$`},
		{CSS: `button`, Text: `^(Next|次へ)$`},
	}
	passwordFields = []browser.Candidate{
		{CSS: `input[name="password"]`},
		{CSS: `input[type="password"]`},
		{CSS: `input[autocomplete="current-password"]`},
	}
	submitButtons = []browser.Candidate{
		{CSS: `[data-testid="LoginForm_Login_Button"]`},
		{CSS: `[role="button"]`, Text: `^(Log in|ログイン)$`},
	}
)

const (
	identifierTimeout = 3 * time.Second
	passwordTimeout   = 10 * time.Second
)

// login runs one attempt of the automatic login sub-protocol on sess.
func (m *Manager) login(ctx context.Context, sess *browser.Session) error {
	page := sess.Page

	if !sess.Navigate(ctx, m.cfg.LoginURL, m.cfg.RetryCount) {
		return fmt.Errorf("%w: login page unreachable", ErrLoginForm)
	}

	field, _, ok := browser.Resolve(page, identifierFields, identifierTimeout)
	if !ok {
		return fmt.Errorf("%w: identifier field", ErrLoginForm)
	}
	if err := field.Input(m.cfg.AccountUsername); err != nil {
		return fmt.Errorf("typing identifier: %w", err)
	}

	if next, _, ok := browser.Resolve(page, nextButtons, identifierTimeout); ok {
		if err := next.Click(); err != nil {
			return fmt.Errorf("clicking next: %w", err)
		}
	}

	pw, _, ok := browser.Resolve(page, passwordFields, passwordTimeout)
	if !ok {
		if det := m.detector.DetectLoginInterstitial(page); det.NeedsHuman() {
			return fmt.Errorf("%w: %s before password", ErrManualIntervention, det.Type)
		}
		return fmt.Errorf("%w: password field", ErrLoginForm)
	}
	if err := pw.Input(m.cfg.AccountPassword); err != nil {
		return fmt.Errorf("typing password: %w", err)
	}

	submit, _, ok := browser.Resolve(page, submitButtons, identifierTimeout)
	if !ok {
		return fmt.Errorf("%w: submit button", ErrLoginForm)
	}
	if err := submit.Click(); err != nil {
		return fmt.Errorf("submitting login: %w", err)
	}

	browser.Sleep(ctx, m.cfg.LoginSettleDelay)

	if det := m.detector.DetectLoginInterstitial(page); det.NeedsHuman() {
		return fmt.Errorf("%w: %s", ErrManualIntervention, det.Type)
	}
	if !m.IsLoggedIn(page) {
		return ErrLoginNotConfirmed
	}
	return nil
}
