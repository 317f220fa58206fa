// Package consent dismisses overlays that cover the controls a check needs:
// the cookie sheet and the sign-in nag shown to fresh sessions.
package consent

import (
	"context"
	"log/slog"
	"time"

	"github.com/jmylchreest/xcheck/internal/browser"
)

// overlayButtons are tried in order; each one that is present and visible is
// clicked. Order matters: the cookie sheet sits above the nag dialog.
var overlayButtons = []browser.Candidate{
	// Cookie sheet
	{CSS: `[data-testid="BottomBar"] button`, Text: `/^(Refuse non-essential cookies|Accept all cookies)$/i`},
	{CSS: `[data-testid="BottomBar"] button`, Text: `^(必須ではないCookieを拒否|すべてのCookieを受け入れる)$`},
	{CSS: `div[role="button"]`, Text: `/^Refuse non-essential cookies$/i`},

	// Sign-in / app nag
	{CSS: `[data-testid="sheetDialog"] [data-testid="app-bar-close"]`},
	{CSS: `[role="dialog"] [aria-label="Close"]`},
	{CSS: `[role="dialog"] [aria-label="閉じる"]`},
	{CSS: `[role="button"]`, Text: `^(Not now|今はしない)$`},
}

// Dismisser handles overlay dismissal.
type Dismisser struct {
	logger  *slog.Logger
	timeout time.Duration
	pause   time.Duration
}

// NewDismisser creates a new overlay dismisser.
func NewDismisser(logger *slog.Logger) *Dismisser {
	return &Dismisser{
		logger:  logger,
		timeout: 500 * time.Millisecond, // overlays are either there after settle or not at all
		pause:   300 * time.Millisecond,
	}
}

// WithTimings overrides the per-candidate probe timeout and the pause after
// a click.
func (d *Dismisser) WithTimings(timeout, pause time.Duration) *Dismisser {
	d.timeout = timeout
	d.pause = pause
	return d
}

// Dismiss clicks every visible overlay control and returns how many were
// dismissed. Failures are logged and ignored.
func (d *Dismisser) Dismiss(ctx context.Context, page browser.Page) int {
	dismissed := 0
	for _, c := range overlayButtons {
		if ctx.Err() != nil {
			break
		}
		el, ok := page.Probe(c, d.timeout)
		if !ok || !el.Visible() {
			continue
		}
		if err := el.Click(); err != nil {
			d.logger.Debug("failed to click overlay control", "selector", c.String(), "error", err)
			continue
		}
		d.logger.Debug("dismissed overlay", "selector", c.String())
		dismissed++
		browser.Sleep(ctx, d.pause)
	}
	return dismissed
}
