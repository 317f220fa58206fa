package credentials

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/jmylchreest/xcheck/internal/browser"
	"github.com/jmylchreest/xcheck/internal/challenge"
	"github.com/jmylchreest/xcheck/internal/config"
	"github.com/jmylchreest/xcheck/internal/logging"
	"github.com/jmylchreest/xcheck/internal/metrics"
	"github.com/jmylchreest/xcheck/internal/models"
)

// State is the credential state of the service.
type State string

const (
	StateNoCredentials State = "no_credentials"
	StateCookiesValid  State = "cookies_valid"
	StateLoggedIn      State = "logged_in"
	StateLoginFailed   State = "login_failed"
)

// Login methods recorded in the validity record.
const (
	MethodCookies  = "cookies"
	MethodPassword = "password"
)

const msgLoginRequired = "X.com login is required. Please update cookies."

// loggedInMarkers are only rendered for an authenticated session. First
// match wins.
var loggedInMarkers = []browser.Candidate{
	{CSS: `[data-testid="SideNav_AccountSwitcher_Button"]`},
	{CSS: `[data-testid="AppTabBar_Profile_Link"]`},
	{CSS: `[aria-label="Profile"]`},
}

// Status is a snapshot of the credential state for health reporting.
type Status struct {
	State           State      `json:"state"`
	Valid           bool       `json:"valid"`
	LastValid       *time.Time `json:"last_valid,omitempty"`
	LastLoginMethod string     `json:"last_login_method,omitempty"`
	JarExpiresAt    *time.Time `json:"jar_expires_at,omitempty"`
}

// Manager owns the persisted session and the login state machine.
type Manager struct {
	cfg           *config.Config
	jar           *JarStore
	validity      *ValidityStore
	detector      *challenge.Detector
	logger        *slog.Logger
	markerTimeout time.Duration
	now           func() time.Time

	// mu guards state and is held across writes of the jar and validity
	// files, so the state always agrees with what is on disk.
	mu    sync.Mutex
	state State

	// loginMu serializes automatic logins across concurrent checks.
	loginMu sync.Mutex
}

// NewManager loads (or creates) the encryption key beside the cookie file and
// derives the initial state from what is on disk.
func NewManager(cfg *config.Config, logger *slog.Logger) (*Manager, error) {
	master, err := LoadOrCreateKey(cfg.KeyFilePath())
	if err != nil {
		return nil, err
	}
	key, err := DeriveKey(master, "cookie-jar")
	if err != nil {
		return nil, err
	}
	c, err := NewCipher(key)
	if err != nil {
		return nil, err
	}

	m := &Manager{
		cfg:           cfg,
		jar:           NewJarStore(cfg.CookieFilePath, c, logger),
		validity:      NewValidityStore(cfg.ValidityFilePath(), logger),
		detector:      challenge.NewDetector(),
		logger:        logger,
		markerTimeout: 2 * time.Second,
		now:           time.Now,
		state:         StateNoCredentials,
	}
	if m.IsSessionValid() {
		m.state = StateCookiesValid
	}
	return m, nil
}

// SetClock replaces the time source. Intended for tests.
func (m *Manager) SetClock(now func() time.Time) {
	m.now = now
}

// State returns the current credential state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Manager) setState(s State) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.setStateLocked(s)
}

// setStateLocked requires m.mu.
func (m *Manager) setStateLocked(s State) {
	prev := m.state
	m.state = s
	if prev != s {
		m.logger.Info("credential state changed", "from", prev, "to", s)
	}
}

// IsSessionValid reports whether the stored session may be reused: it was
// confirmed within the validity window, the jar has not expired, and the
// jar file itself is younger than the window.
func (m *Manager) IsSessionValid() bool {
	rec := m.validity.Load()
	if rec == nil {
		return false
	}
	now := m.now()
	window := rec.Window()
	if window <= 0 {
		window = m.cfg.SessionValidity
	}
	if now.Sub(rec.LastValid) >= window {
		return false
	}

	jar := m.jar.Load()
	if jar == nil || !jar.ExpiresAt.After(now) {
		return false
	}
	modTime, ok := m.jar.ModTime()
	if !ok || now.Sub(modTime) >= window {
		return false
	}
	return true
}

// EnsureLoggedIn makes sess authenticated, restoring the stored session when
// it is valid and otherwise running the automatic login if enabled. Returns a
// LOGIN_REQUIRED error when neither works.
func (m *Manager) EnsureLoggedIn(ctx context.Context, sess *browser.Session) error {
	if sess.LoggedIn {
		return nil
	}

	if m.IsSessionValid() {
		ok := m.restore(ctx, sess)
		metrics.Login(MethodCookies, ok)
		if ok {
			m.established(sess, MethodCookies)
			return nil
		}
		m.logger.Warn("stored session was rejected by the platform")
	}

	if !m.cfg.CanAutoLogin() {
		m.setState(StateLoginFailed)
		return models.ErrLoginRequired(msgLoginRequired, nil)
	}
	return m.loginSerialized(ctx, sess)
}

func (m *Manager) loginSerialized(ctx context.Context, sess *browser.Session) error {
	m.loginMu.Lock()
	defer m.loginMu.Unlock()

	// Another check may have logged in while this one waited.
	if m.IsSessionValid() && m.restore(ctx, sess) {
		m.established(sess, MethodCookies)
		return nil
	}

	attempts := m.cfg.LoginMaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		lastErr = m.login(ctx, sess)
		metrics.Login(MethodPassword, lastErr == nil)
		if lastErr == nil {
			m.established(sess, MethodPassword)
			return nil
		}

		m.logger.Warn("automatic login attempt failed",
			"attempt", attempt,
			"account", logging.Mask(m.cfg.AccountUsername),
			"error", lastErr,
		)
		if errors.Is(lastErr, ErrManualIntervention) {
			break
		}
		if attempt < attempts && !browser.Sleep(ctx, m.cfg.LoginRetryBackoff) {
			break
		}
	}

	m.setState(StateLoginFailed)
	if errors.Is(lastErr, ErrManualIntervention) {
		return models.ErrLoginRequired("login needs manual intervention", lastErr)
	}
	return models.ErrLoginRequired("automatic login failed", lastErr)
}

// restore injects the stored cookies and confirms the platform accepts them.
func (m *Manager) restore(ctx context.Context, sess *browser.Session) bool {
	jar := m.jar.Load()
	if jar == nil || len(jar.Cookies) == 0 {
		return false
	}
	if !sess.Navigate(ctx, m.cfg.BaseURL, m.cfg.RetryCount) {
		return false
	}
	if err := sess.Page.SetCookies(jar.Cookies); err != nil {
		m.logger.Warn("failed to inject cookies", "error", err)
		return false
	}
	if err := sess.Page.Reload(); err != nil {
		m.logger.Warn("failed to reload after injecting cookies", "error", err)
		return false
	}
	sess.AwaitReady(ctx, m.cfg.PageLoadTimeout)

	return m.IsLoggedIn(sess.Page)
}

// IsLoggedIn probes the page for authenticated-only affordances.
func (m *Manager) IsLoggedIn(page browser.Page) bool {
	for _, c := range loggedInMarkers {
		if _, ok := page.Probe(c, m.markerTimeout); ok {
			return true
		}
	}
	return false
}

// established persists the session's cookies and refreshes validity.
func (m *Manager) established(sess *browser.Session, method string) {
	sess.LoggedIn = true
	now := m.now()

	cookies, err := sess.Page.Cookies()

	m.mu.Lock()
	defer m.mu.Unlock()
	switch {
	case err != nil:
		m.logger.Warn("failed to read session cookies", "error", err)
	case len(cookies) == 0:
		m.logger.Warn("session has no cookies to persist")
	default:
		if err := m.jar.Save(cookies, now); err != nil {
			m.logger.Error("failed to persist cookies", "error", err)
		}
	}

	if err := m.validity.Save(ValidityRecord{
		LastValid:       now.UTC(),
		WindowSeconds:   int64(m.cfg.SessionValidity / time.Second),
		LastLoginMethod: method,
	}); err != nil {
		m.logger.Error("failed to persist session validity", "error", err)
	}

	m.setStateLocked(StateLoggedIn)
	m.logger.Info("session established", "method", method, "session_id", sess.ID)
}

// Invalidate forgets that the stored session is valid. The jar is kept so
// an operator can inspect it.
func (m *Manager) Invalidate() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.validity.Remove(); err != nil {
		m.logger.Warn("failed to remove validity record", "error", err)
	}
	m.setStateLocked(StateNoCredentials)
}

// CleanupExpired removes a jar that is expired or cannot be decrypted.
// Reports whether anything was removed.
func (m *Manager) CleanupExpired() bool {
	if _, err := os.Stat(m.cfg.CookieFilePath); err != nil {
		return false
	}
	jar := m.jar.Load()
	if jar != nil && jar.ExpiresAt.After(m.now()) {
		return false
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.jar.Remove(); err != nil {
		m.logger.Error("failed to remove expired cookie jar", "error", err)
		return false
	}
	_ = m.validity.Remove()
	m.setStateLocked(StateNoCredentials)
	m.logger.Info("expired cookie jar removed")
	return true
}

// Status returns a snapshot for health reporting.
func (m *Manager) Status() Status {
	st := Status{State: m.State(), Valid: m.IsSessionValid()}
	if rec := m.validity.Load(); rec != nil {
		lv := rec.LastValid
		st.LastValid = &lv
		st.LastLoginMethod = rec.LastLoginMethod
	}
	if jar := m.jar.Load(); jar != nil {
		exp := jar.ExpiresAt
		st.JarExpiresAt = &exp
	}
	return st
}

// ImportCookies stores an operator-supplied cookie set and marks it valid
// for one window. It is confirmed against the platform on the next check.
func (m *Manager) ImportCookies(cookies []models.Cookie) error {
	if len(cookies) == 0 {
		return fmt.Errorf("no cookies to import")
	}
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.jar.Save(cookies, now); err != nil {
		return err
	}
	if err := m.validity.Save(ValidityRecord{
		LastValid:       now.UTC(),
		WindowSeconds:   int64(m.cfg.SessionValidity / time.Second),
		LastLoginMethod: MethodCookies,
	}); err != nil {
		return err
	}
	m.setStateLocked(StateCookiesValid)
	return nil
}
