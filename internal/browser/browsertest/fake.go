// Package browsertest provides an in-memory browser.Page backed by static
// HTML, for tests that exercise the checks without a browser.
package browsertest

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/jmylchreest/xcheck/internal/browser"
	"github.com/jmylchreest/xcheck/internal/models"
)

// FrameHeight is the scroll height reported per loaded frame.
const FrameHeight = 1000

// Page serves Frames[i] as the document; ScrollToBottom advances to the next
// frame until the last one is reached.
type Page struct {
	mu sync.Mutex

	Frames        []string
	frame         int
	NavigateErrs  []error // consumed one per Navigate call
	ReadyErr      error
	Jar           []models.Cookie
	UserAgent     string
	CurrentURL    string
	Navigations   []string
	Inputs        map[string]string
	Clicks        []string
	Reloads       int
	SetCookieCall int
	Closed        int

	// OnClick and OnNavigate may swap Frames to simulate page transitions.
	OnClick    func(p *Page, css string)
	OnNavigate func(p *Page, url string)
	OnReload   func(p *Page)
}

// NewPage returns a page serving the given frames.
func NewPage(frames ...string) *Page {
	return &Page{Frames: frames, Inputs: make(map[string]string)}
}

// SetHTML replaces all frames with a single document.
func (p *Page) SetHTML(html string) {
	p.Frames = []string{html}
	p.frame = 0
}

func (p *Page) current() string {
	if len(p.Frames) == 0 {
		return "<html><body></body></html>"
	}
	return p.Frames[p.frame]
}

func (p *Page) doc() *goquery.Document {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(p.current()))
	if err != nil {
		doc, _ = goquery.NewDocumentFromReader(strings.NewReader(""))
	}
	return doc
}

func (p *Page) Navigate(ctx context.Context, url string, timeout time.Duration) error {
	p.mu.Lock()
	p.Navigations = append(p.Navigations, url)
	var err error
	if len(p.NavigateErrs) > 0 {
		err, p.NavigateErrs = p.NavigateErrs[0], p.NavigateErrs[1:]
	}
	hook := p.OnNavigate
	if err == nil {
		p.CurrentURL = url
		p.frame = 0
	}
	p.mu.Unlock()

	if err == nil && hook != nil {
		hook(p, url)
	}
	return err
}

func (p *Page) WaitReady(timeout time.Duration) error {
	return p.ReadyErr
}

func (p *Page) Probe(c browser.Candidate, timeout time.Duration) (browser.Element, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var re *regexp.Regexp
	if c.Text != "" {
		var err error
		if re, err = compileJSRegex(c.Text); err != nil {
			return nil, false
		}
	}

	var found *goquery.Selection
	p.doc().Find(c.CSS).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if re != nil && !re.MatchString(strings.TrimSpace(s.Text())) {
			return true
		}
		found = s
		return false
	})
	if found == nil {
		return nil, false
	}
	return &Element{page: p, sel: found, css: c.CSS}, true
}

func (p *Page) Has(css string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.doc().Find(css).Length() > 0
}

func (p *Page) URL() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.CurrentURL
}

func (p *Page) HTML() (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current(), nil
}

func (p *Page) ScrollHeight() (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return (p.frame + 1) * FrameHeight, nil
}

func (p *Page) ScrollToBottom() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.frame < len(p.Frames)-1 {
		p.frame++
	}
	return nil
}

func (p *Page) Cookies() ([]models.Cookie, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]models.Cookie(nil), p.Jar...), nil
}

func (p *Page) SetCookies(cookies []models.Cookie) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.SetCookieCall++
	p.Jar = append([]models.Cookie(nil), cookies...)
	return nil
}

func (p *Page) SetUserAgent(ua string) error {
	p.UserAgent = ua
	return nil
}

func (p *Page) Reload() error {
	p.mu.Lock()
	p.Reloads++
	hook := p.OnReload
	p.mu.Unlock()
	if hook != nil {
		hook(p)
	}
	return nil
}

func (p *Page) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Closed++
	return nil
}

// Element is a node of the current frame.
type Element struct {
	page *Page
	sel  *goquery.Selection
	css  string
}

func (e *Element) OuterHTML() (string, error) {
	return goquery.OuterHtml(e.sel)
}

func (e *Element) ParentHTML() (string, error) {
	parent := e.sel.Parent()
	if parent.Length() == 0 {
		return "", errors.New("no parent")
	}
	return goquery.OuterHtml(parent)
}

func (e *Element) Text() (string, error) {
	return e.sel.Text(), nil
}

func (e *Element) Visible() bool {
	if _, hidden := e.sel.Attr("hidden"); hidden {
		return false
	}
	style, _ := e.sel.Attr("style")
	return !strings.Contains(strings.ReplaceAll(style, " ", ""), "display:none")
}

func (e *Element) Input(text string) error {
	e.page.mu.Lock()
	defer e.page.mu.Unlock()
	e.page.Inputs[e.css] = text
	return nil
}

func (e *Element) Click() error {
	e.page.mu.Lock()
	e.page.Clicks = append(e.page.Clicks, e.css)
	hook := e.page.OnClick
	e.page.mu.Unlock()
	if hook != nil {
		hook(e.page, e.css)
	}
	return nil
}

// Session wraps page in a browser.Session with zero delays.
func Session(page browser.Page) *browser.Session {
	return browser.NewSession(page, browser.Timings{}, discardLogger())
}

// compileJSRegex accepts the same forms rod's ElementR does: a bare pattern
// or /pattern/flags.
func compileJSRegex(expr string) (*regexp.Regexp, error) {
	if strings.HasPrefix(expr, "/") {
		if end := strings.LastIndex(expr, "/"); end > 0 {
			pattern, flags := expr[1:end], expr[end+1:]
			if strings.Contains(flags, "i") {
				pattern = "(?i)" + pattern
			}
			return regexp.Compile(pattern)
		}
	}
	return regexp.Compile(expr)
}
