package browser

import (
	"context"
	"fmt"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"

	"github.com/jmylchreest/xcheck/internal/models"
)

// Candidate is one way of locating an element. CSS is required; Text, when
// set, is a regular expression the element's text content must match.
type Candidate struct {
	CSS  string
	Text string
}

func (c Candidate) String() string {
	if c.Text == "" {
		return c.CSS
	}
	return fmt.Sprintf("%s /%s/", c.CSS, c.Text)
}

// Resolve probes candidates in priority order and returns the first match.
func Resolve(page Page, candidates []Candidate, timeout time.Duration) (Element, Candidate, bool) {
	for _, c := range candidates {
		if el, ok := page.Probe(c, timeout); ok {
			return el, c, true
		}
	}
	return nil, Candidate{}, false
}

// Page is the browser surface the checking packages depend on.
type Page interface {
	Navigate(ctx context.Context, url string, timeout time.Duration) error
	WaitReady(timeout time.Duration) error
	// Probe waits up to timeout for the candidate and reports whether it was found.
	Probe(c Candidate, timeout time.Duration) (Element, bool)
	// Has reports whether css currently matches, without waiting.
	Has(css string) bool
	URL() string
	HTML() (string, error)
	ScrollHeight() (int, error)
	ScrollToBottom() error
	Cookies() ([]models.Cookie, error)
	SetCookies(cookies []models.Cookie) error
	SetUserAgent(ua string) error
	Reload() error
	Close() error
}

// Element is a located node.
type Element interface {
	OuterHTML() (string, error)
	// ParentHTML returns the outer HTML of the element's parent.
	ParentHTML() (string, error)
	Text() (string, error)
	Visible() bool
	Input(text string) error
	Click() error
}

// RodPage adapts a rod page to Page.
type RodPage struct {
	page *rod.Page
}

// NewRodPage wraps page.
func NewRodPage(page *rod.Page) *RodPage {
	return &RodPage{page: page}
}

func (p *RodPage) Navigate(ctx context.Context, url string, timeout time.Duration) error {
	return p.page.Context(ctx).Timeout(timeout).Navigate(url)
}

func (p *RodPage) WaitReady(timeout time.Duration) error {
	page := p.page.Timeout(timeout)
	if err := page.WaitLoad(); err != nil {
		return err
	}
	_, err := page.Element("body")
	return err
}

func (p *RodPage) Probe(c Candidate, timeout time.Duration) (Element, bool) {
	page := p.page.Timeout(timeout)

	var (
		el  *rod.Element
		err error
	)
	if c.Text != "" {
		el, err = page.ElementR(c.CSS, c.Text)
	} else {
		el, err = page.Element(c.CSS)
	}
	if err != nil {
		return nil, false
	}
	// Detach from the probe timeout so later reads are not cut short.
	return &rodElement{el: el.Context(p.page.GetContext())}, true
}

func (p *RodPage) Has(css string) bool {
	has, _, err := p.page.Has(css)
	return err == nil && has
}

func (p *RodPage) URL() string {
	info, err := p.page.Info()
	if err != nil {
		return ""
	}
	return info.URL
}

func (p *RodPage) HTML() (string, error) {
	return p.page.HTML()
}

func (p *RodPage) ScrollHeight() (int, error) {
	res, err := p.page.Eval(`() => document.body.scrollHeight`)
	if err != nil {
		return 0, err
	}
	return res.Value.Int(), nil
}

func (p *RodPage) ScrollToBottom() error {
	_, err := p.page.Eval(`() => window.scrollTo(0, document.body.scrollHeight)`)
	return err
}

func (p *RodPage) Cookies() ([]models.Cookie, error) {
	raw, err := p.page.Cookies(nil)
	if err != nil {
		return nil, err
	}
	return FromNetworkCookies(raw), nil
}

func (p *RodPage) SetCookies(cookies []models.Cookie) error {
	cmd := proto.NetworkSetCookies{Cookies: ToCookieParams(cookies)}
	return cmd.Call(p.page)
}

func (p *RodPage) SetUserAgent(ua string) error {
	return p.page.SetUserAgent(&proto.NetworkSetUserAgentOverride{UserAgent: ua})
}

func (p *RodPage) Reload() error {
	return p.page.Reload()
}

func (p *RodPage) Close() error {
	return p.page.Timeout(closeTimeout).Close()
}

type rodElement struct {
	el *rod.Element
}

func (e *rodElement) OuterHTML() (string, error) {
	return e.el.HTML()
}

func (e *rodElement) ParentHTML() (string, error) {
	parent, err := e.el.Parent()
	if err != nil {
		return "", err
	}
	return parent.HTML()
}

func (e *rodElement) Text() (string, error) {
	return e.el.Text()
}

func (e *rodElement) Visible() bool {
	v, err := e.el.Visible()
	return err == nil && v
}

func (e *rodElement) Input(text string) error {
	return e.el.Input(text)
}

func (e *rodElement) Click() error {
	return e.el.Click(proto.InputMouseButtonLeft, 1)
}

// FromNetworkCookies converts CDP cookies to the persisted form.
func FromNetworkCookies(raw []*proto.NetworkCookie) []models.Cookie {
	cookies := make([]models.Cookie, 0, len(raw))
	for _, c := range raw {
		cookies = append(cookies, models.Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Expires:  float64(c.Expires),
			HTTPOnly: c.HTTPOnly,
			Secure:   c.Secure,
			SameSite: string(c.SameSite),
		})
	}
	return cookies
}

// ToCookieParams converts persisted cookies to CDP parameters.
func ToCookieParams(cookies []models.Cookie) []*proto.NetworkCookieParam {
	params := make([]*proto.NetworkCookieParam, 0, len(cookies))
	for _, c := range cookies {
		param := &proto.NetworkCookieParam{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Secure:   c.Secure,
			HTTPOnly: c.HTTPOnly,
		}
		if c.Expires > 0 {
			param.Expires = proto.TimeSinceEpoch(c.Expires)
		}
		switch proto.NetworkCookieSameSite(c.SameSite) {
		case proto.NetworkCookieSameSiteStrict, proto.NetworkCookieSameSiteLax, proto.NetworkCookieSameSiteNone:
			param.SameSite = proto.NetworkCookieSameSite(c.SameSite)
		}
		params = append(params, param)
	}
	return params
}
