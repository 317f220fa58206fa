package extract

import (
	"log/slog"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/jmylchreest/xcheck/internal/browser"
	"github.com/jmylchreest/xcheck/internal/models"
)

const (
	defaultProbeTimeout = 3 * time.Second
	defaultOwnerTimeout = 2 * time.Second
)

// Status is the inspected state of an action control.
type Status struct {
	Active bool
	// Own is set when the page belongs to the checking account and has no
	// control to inspect.
	Own    bool
	Count  int
	Text   string
	State  string
	Signal Signal
}

// Extractor runs the extraction protocol against a page.
type Extractor struct {
	classifier   Classifier
	logger       *slog.Logger
	probeTimeout time.Duration
	ownerTimeout time.Duration
}

// New creates an Extractor using the cascade classifier.
func New(logger *slog.Logger) *Extractor {
	return &Extractor{
		classifier:   NewCascadeClassifier(logger),
		logger:       logger,
		probeTimeout: defaultProbeTimeout,
		ownerTimeout: defaultOwnerTimeout,
	}
}

// WithClassifier replaces the classifier.
func (x *Extractor) WithClassifier(c Classifier) *Extractor {
	x.classifier = c
	return x
}

// WithProbeTimeout sets the per-candidate wait.
func (x *Extractor) WithProbeTimeout(d time.Duration) *Extractor {
	x.probeTimeout = d
	x.ownerTimeout = d
	return x
}

// Inspect resolves the profile's control, classifies it and reads its count.
func (x *Extractor) Inspect(page browser.Page, p *Profile) (*Status, error) {
	el, matched, ok := browser.Resolve(page, p.Controls, x.probeTimeout)
	if !ok {
		return x.unresolved(page, p)
	}

	outer, err := el.OuterHTML()
	if err != nil {
		return nil, models.ErrGeneric("failed to read action control", err)
	}
	snap, err := NewSnapshot(outer)
	if err != nil {
		return nil, models.ErrGeneric("failed to read action control", err)
	}

	cls := x.classifier.Classify(p, snap)
	st := &Status{
		Active: cls.Active,
		Signal: cls.Signal,
		Text:   snap.Text,
		State:  p.InactiveState,
	}
	if cls.Active {
		st.State = p.ActiveState
	}
	if len(p.CountContainers) > 0 {
		st.Count = x.count(el, p)
	}

	x.logger.Debug("control inspected",
		"kind", p.Kind,
		"candidate", matched.String(),
		"active", st.Active,
		"signal", st.Signal,
		"count", st.Count,
	)
	return st, nil
}

func (x *Extractor) unresolved(page browser.Page, p *Profile) (*Status, error) {
	if len(p.Owner) > 0 {
		if _, _, own := browser.Resolve(page, p.Owner, x.ownerTimeout); own {
			return &Status{Own: true, Text: "Own Profile", State: "own_profile"}, nil
		}
	}

	html, err := page.HTML()
	if err == nil {
		for _, marker := range p.NotFound {
			if strings.Contains(html, marker) {
				return nil, models.ErrElementNotFound(p.MissingTarget)
			}
		}
	}
	return nil, models.ErrElementNotFound(p.MissingControl)
}

// Count reads the count beside the profile's control. found is false when
// no control resolves.
func (x *Extractor) Count(page browser.Page, p *Profile) (count int, found bool) {
	el, _, ok := browser.Resolve(page, p.Controls, x.probeTimeout)
	if !ok {
		return 0, false
	}
	return x.count(el, p), true
}

// count looks for a count container inside the control's parent, then
// falls back to the control's own text.
func (x *Extractor) count(el browser.Element, p *Profile) int {
	if parent, err := el.ParentHTML(); err == nil {
		doc, err := goquery.NewDocumentFromReader(strings.NewReader(parent))
		if err == nil {
			for _, css := range p.CountContainers {
				if text := strings.TrimSpace(doc.Find(css).First().Text()); text != "" {
					return ParseCount(text)
				}
			}
		}
	}

	text, err := el.Text()
	if err != nil {
		x.logger.Debug("failed to read control text", "kind", p.Kind, "error", err)
		return 0
	}
	return ParseCount(text)
}
