// Package challenge recognizes pages that block a check: login
// interstitials that need a human, platform throttling, and redirects back
// to the login wall.
package challenge

import (
	"strings"

	"github.com/jmylchreest/xcheck/internal/browser"
)

// Type represents the kind of blocking page detected.
type Type string

const (
	// TypeNone indicates nothing blocking was detected.
	TypeNone Type = "none"
	// TypeTwoFactor is a verification-code prompt during login.
	TypeTwoFactor Type = "two_factor"
	// TypePhoneVerification asks to confirm a phone number.
	TypePhoneVerification Type = "phone_verification"
	// TypeIdentifierPrompt is the unusual-activity prompt for email or phone.
	TypeIdentifierPrompt Type = "identifier_prompt"
	// TypeAccountLocked is the account access / locked page.
	TypeAccountLocked Type = "account_locked"
	// TypeRateLimited is the platform's own throttling notice.
	TypeRateLimited Type = "rate_limited"
	// TypeLoginWall means the session was bounced to the login flow.
	TypeLoginWall Type = "login_wall"
)

// Detection describes a blocking page.
type Detection struct {
	Type    Type   `json:"type"`
	Marker  string `json:"marker,omitempty"`
	PageURL string `json:"pageUrl,omitempty"`
}

// Blocking reports whether a check cannot proceed.
func (d *Detection) Blocking() bool {
	return d != nil && d.Type != TypeNone
}

// NeedsHuman reports whether only manual intervention can clear it.
func (d *Detection) NeedsHuman() bool {
	switch d.Type {
	case TypeTwoFactor, TypePhoneVerification, TypeIdentifierPrompt, TypeAccountLocked:
		return true
	}
	return false
}

type marker struct {
	typ  Type
	text string
}

// Text markers, checked against the page markup in order.
var interstitialMarkers = []marker{
	{TypeTwoFactor, "Enter your verification code"},
	{TypeTwoFactor, "認証コードを入力"},
	{TypeTwoFactor, "Check your email"},
	{TypePhoneVerification, "Verify your phone number"},
	{TypePhoneVerification, "電話番号を確認"},
	{TypeIdentifierPrompt, "There was unusual login activity"},
	{TypeIdentifierPrompt, "Enter your phone number or email address"},
	{TypeIdentifierPrompt, "普段と異なるログイン"},
}

var rateLimitMarkers = []string{
	"Rate limit exceeded",
	"You are over the daily limit",
	"レート制限を超えました",
}

// Detector inspects pages for blocking states.
type Detector struct{}

// NewDetector creates a new Detector.
func NewDetector() *Detector {
	return &Detector{}
}

// DetectLoginInterstitial checks the page reached after submitting
// credentials for prompts that cannot be completed automatically.
func (d *Detector) DetectLoginInterstitial(page browser.Page) *Detection {
	url := page.URL()
	if strings.Contains(url, "/account/access") {
		return &Detection{Type: TypeAccountLocked, Marker: "/account/access", PageURL: url}
	}

	html, err := page.HTML()
	if err != nil {
		return &Detection{Type: TypeNone, PageURL: url}
	}
	for _, m := range interstitialMarkers {
		if strings.Contains(html, m.text) {
			return &Detection{Type: m.typ, Marker: m.text, PageURL: url}
		}
	}

	// A second text input after the password step is a challenge prompt.
	if page.Has(`input[data-testid="ocfEnterTextTextInput"]`) {
		return &Detection{Type: TypeIdentifierPrompt, Marker: "ocfEnterTextTextInput", PageURL: url}
	}

	return &Detection{Type: TypeNone, PageURL: url}
}

// Detect checks a page loaded for a check. Throttling wins over the login
// wall, which wins over a locked account.
func (d *Detector) Detect(page browser.Page) *Detection {
	url := page.URL()

	if html, err := page.HTML(); err == nil {
		for _, text := range rateLimitMarkers {
			if strings.Contains(html, text) {
				return &Detection{Type: TypeRateLimited, Marker: text, PageURL: url}
			}
		}
	}

	switch {
	case strings.Contains(url, "/i/flow/login"), strings.HasSuffix(strings.TrimSuffix(url, "/"), "/login"):
		return &Detection{Type: TypeLoginWall, Marker: "login redirect", PageURL: url}
	case strings.Contains(url, "/account/access"):
		return &Detection{Type: TypeAccountLocked, Marker: "/account/access", PageURL: url}
	}

	return &Detection{Type: TypeNone, PageURL: url}
}
