package browser

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// Timings controls navigation retries and settle delays.
type Timings struct {
	PageLoadTimeout time.Duration
	RetryDelay      time.Duration
	SettleDelay     time.Duration
	RandomDelayMin  time.Duration
	RandomDelayMax  time.Duration
}

// Session is a single-use browser context owned by one check.
type Session struct {
	ID        string
	Page      Page
	UserAgent string
	CreatedAt time.Time
	LoggedIn  bool

	timings   Timings
	logger    *slog.Logger
	closeOnce sync.Once
	closers   []func() error
}

// NewSession wraps an already-open page. Closers run after the page is
// closed, in order.
func NewSession(page Page, timings Timings, logger *slog.Logger, closers ...func() error) *Session {
	id := ulid.Make().String()
	return &Session{
		ID:        id,
		Page:      page,
		CreatedAt: time.Now(),
		timings:   timings,
		logger:    logger.With("session_id", id),
		closers:   closers,
	}
}

// Navigate loads url, retrying up to maxRetries attempts with a growing
// delay. It reports success and never returns an error.
func (s *Session) Navigate(ctx context.Context, url string, maxRetries int) bool {
	if maxRetries < 1 {
		maxRetries = 1
	}
	for attempt := 1; attempt <= maxRetries; attempt++ {
		err := s.Page.Navigate(ctx, url, s.timings.PageLoadTimeout)
		if err == nil {
			s.AwaitReady(ctx, s.timings.PageLoadTimeout)
			s.logger.Debug("navigated", "url", url, "attempt", attempt)
			return true
		}

		s.logger.Warn("navigation failed", "url", url, "attempt", attempt, "error", err)
		if attempt < maxRetries {
			if !Sleep(ctx, s.timings.RetryDelay*time.Duration(attempt)) {
				return false
			}
		}
	}
	s.logger.Error("navigation exhausted retries", "url", url, "attempts", maxRetries)
	return false
}

// AwaitReady waits for the document to finish loading, then settles. A
// timeout is logged, not returned.
func (s *Session) AwaitReady(ctx context.Context, timeout time.Duration) {
	if err := s.Page.WaitReady(timeout); err != nil {
		s.logger.Warn("page not ready before timeout", "timeout", timeout, "error", err)
	}
	Sleep(ctx, s.timings.SettleDelay)
}

// RandomDelay sleeps for a uniformly random duration in the configured range.
func (s *Session) RandomDelay(ctx context.Context) {
	Sleep(ctx, randomBetween(s.timings.RandomDelayMin, s.timings.RandomDelayMax))
}

// Close releases the page and browser. Safe to call repeatedly.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		if err := s.Page.Close(); err != nil {
			s.logger.Debug("error closing page", "error", err)
		}
		for _, c := range s.closers {
			if err := c(); err != nil {
				s.logger.Warn("error closing browser", "error", err)
			}
		}
		s.logger.Debug("session closed", "age", time.Since(s.CreatedAt))
	})
}

// Sleep waits for d or until ctx is done. It reports whether the full
// duration elapsed.
func Sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

func randomBetween(lo, hi time.Duration) time.Duration {
	if hi <= lo {
		return lo
	}
	return lo + rand.N(hi-lo)
}
