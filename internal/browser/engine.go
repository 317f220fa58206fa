// Package browser launches isolated headless browser sessions and exposes
// the narrow page surface the checks drive.
package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"

	"github.com/jmylchreest/xcheck/internal/config"
	"github.com/jmylchreest/xcheck/internal/metrics"
)

var (
	// ErrLaunch is returned when a browser process cannot be started or reached.
	ErrLaunch = errors.New("browser launch failed")
	// ErrEngineClosed is returned when creating a session after shutdown.
	ErrEngineClosed = errors.New("browser engine is closed")
)

// Teardown bounds. A wedged Chromium is killed rather than waited on.
const (
	teardownTimeout = 10 * time.Second
	closeTimeout    = 5 * time.Second
)

// process is the slice of the rod launcher used for teardown.
type process interface {
	Kill()
	Cleanup()
}

// Engine creates one browser per session and tracks the live ones so they
// can be torn down on shutdown.
type Engine struct {
	cfg     *config.Config
	logger  *slog.Logger
	timings Timings

	mu     sync.Mutex
	live   map[string]*Session
	closed bool
}

// NewEngine creates a new Engine.
func NewEngine(cfg *config.Config, logger *slog.Logger) *Engine {
	return &Engine{
		cfg:    cfg,
		logger: logger,
		timings: Timings{
			PageLoadTimeout: cfg.PageLoadTimeout,
			RetryDelay:      cfg.RetryDelay,
			SettleDelay:     cfg.SettleDelay,
			RandomDelayMin:  cfg.RandomDelayMin,
			RandomDelayMax:  cfg.RandomDelayMax,
		},
		live: make(map[string]*Session),
	}
}

// Warmup ensures a Chromium binary is available so the first check does not
// pay for the download.
func (e *Engine) Warmup(ctx context.Context) error {
	if e.cfg.ChromePath != "" {
		e.logger.Info("using custom Chrome path", "path", e.cfg.ChromePath)
		return nil
	}
	e.logger.Info("ensuring Chromium is available...")
	b := launcher.NewBrowser()
	b.Context = ctx
	path, err := b.Get()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrLaunch, err)
	}
	e.logger.Info("Chromium ready", "path", path)
	return nil
}

// Create launches a fresh browser with a stealth page and a user agent drawn
// from the configured pool.
func (e *Engine) Create(ctx context.Context) (*Session, error) {
	e.mu.Lock()
	closed := e.closed
	e.mu.Unlock()
	if closed {
		return nil, ErrEngineClosed
	}

	l := launcher.New().Context(ctx)
	if e.cfg.ChromePath != "" {
		l = l.Bin(e.cfg.ChromePath)
	}
	l = l.
		Headless(e.cfg.Headless).
		Set("no-sandbox").
		Set("disable-setuid-sandbox").
		Set("disable-dev-shm-usage").
		Set("disable-gpu").
		Set("disable-blink-features", "AutomationControlled").
		Set("disable-infobars").
		Set("disable-extensions").
		Set("window-size", "1920,1080").
		Set("lang", "en-US,en")

	u, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLaunch, err)
	}

	b := rod.New().ControlURL(u)
	if err := b.Connect(); err != nil {
		l.Kill()
		cleanupWithin(l, teardownTimeout)
		return nil, fmt.Errorf("%w: %v", ErrLaunch, err)
	}

	page, err := CreateStealthPage(b)
	if err != nil {
		_ = shutdownBrowser(b.Timeout(teardownTimeout).Close, l, teardownTimeout)
		return nil, fmt.Errorf("%w: stealth page: %v", ErrLaunch, err)
	}

	ua := e.pickUserAgent()
	rp := NewRodPage(page)
	if ua != "" {
		if err := rp.SetUserAgent(ua); err != nil {
			e.logger.Warn("failed to set user agent", "error", err)
		}
	}

	var sess *Session
	sess = NewSession(rp, e.timings, e.logger, func() error {
		defer metrics.SessionClosed()
		defer e.forget(sess.ID)
		return shutdownBrowser(b.Timeout(teardownTimeout).Close, l, teardownTimeout)
	})
	sess.UserAgent = ua
	metrics.SessionOpened()

	if err := e.adopt(sess); err != nil {
		return nil, err
	}

	e.logger.Debug("browser session created", "session_id", sess.ID)
	return sess, nil
}

// adopt tracks sess as live. If Close ran while the browser was launching,
// sess is torn down instead and ErrEngineClosed returned.
func (e *Engine) adopt(sess *Session) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		sess.Close()
		return ErrEngineClosed
	}
	e.live[sess.ID] = sess
	e.mu.Unlock()
	return nil
}

// Active returns the number of open sessions.
func (e *Engine) Active() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.live)
}

// Close shuts down every live session and refuses new ones.
func (e *Engine) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	sessions := make([]*Session, 0, len(e.live))
	for _, s := range e.live {
		sessions = append(sessions, s)
	}
	e.mu.Unlock()

	for _, s := range sessions {
		s.Close()
	}
	if len(sessions) > 0 {
		e.logger.Info("closed live browser sessions", "count", len(sessions))
	}
}

// shutdownBrowser closes the browser over CDP and reaps its process. A failed
// close kills the process outright; reaping never waits longer than timeout.
func shutdownBrowser(closeBrowser func() error, proc process, timeout time.Duration) error {
	err := closeBrowser()
	if err != nil {
		proc.Kill()
	}
	if !cleanupWithin(proc, timeout) {
		return errors.Join(err, fmt.Errorf("browser process did not exit within %s, killed", timeout))
	}
	return err
}

// cleanupWithin waits for the process to exit and remove its profile dir.
// After timeout the process is killed and false is returned; the cleanup
// goroutine finishes once the kill lands.
func cleanupWithin(proc process, timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		proc.Cleanup()
		close(done)
	}()

	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-done:
		return true
	case <-t.C:
		proc.Kill()
		return false
	}
}

func (e *Engine) forget(id string) {
	e.mu.Lock()
	delete(e.live, id)
	e.mu.Unlock()
}

func (e *Engine) pickUserAgent() string {
	if len(e.cfg.UserAgents) == 0 {
		return ""
	}
	return e.cfg.UserAgents[rand.IntN(len(e.cfg.UserAgents))]
}
