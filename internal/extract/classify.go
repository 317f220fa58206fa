package extract

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/jmylchreest/xcheck/internal/metrics"
)

var errEmptyMarkup = errors.New("control markup has no element")

// Snapshot is the subset of a control's markup the classifier reads.
type Snapshot struct {
	TestID  string
	Pressed string
	Label   string
	Text    string
	Class   string
	// Colours are the lower-cased fill, stroke and style values of the
	// control's icon graphics.
	Colours []string
}

// NewSnapshot parses a control's outer HTML.
func NewSnapshot(outerHTML string) (*Snapshot, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(outerHTML))
	if err != nil {
		return nil, fmt.Errorf("parsing control markup: %w", err)
	}
	root := doc.Find("body").Children().First()
	if root.Length() == 0 {
		return nil, errEmptyMarkup
	}

	s := &Snapshot{
		TestID:  root.AttrOr("data-testid", ""),
		Pressed: root.AttrOr("aria-pressed", ""),
		Label:   root.AttrOr("aria-label", ""),
		Text:    strings.TrimSpace(root.Text()),
		Class:   root.AttrOr("class", ""),
	}
	root.Find("svg, svg path, svg g").Each(func(_ int, n *goquery.Selection) {
		for _, attr := range []string{"fill", "stroke", "style", "color"} {
			if v, ok := n.Attr(attr); ok && v != "" {
				s.Colours = append(s.Colours, strings.ToLower(v))
			}
		}
	})
	return s, nil
}

// Signal names the classification stage that decided.
type Signal string

const (
	SignalTestID  Signal = "test_id"
	SignalPressed Signal = "aria_pressed"
	SignalLabel   Signal = "aria_label"
	SignalAccent  Signal = "accent_colour"
	SignalClass   Signal = "class"
	SignalDefault Signal = "default"
)

// Classification is the decided toggle state.
type Classification struct {
	Active bool
	Signal Signal
}

// Classifier decides whether a control is in its active state.
type Classifier interface {
	Classify(p *Profile, s *Snapshot) Classification
}

// CascadeClassifier consults the profile's signals in fixed precedence and
// stops at the first that applies.
type CascadeClassifier struct {
	logger *slog.Logger
}

// NewCascadeClassifier creates a CascadeClassifier.
func NewCascadeClassifier(logger *slog.Logger) *CascadeClassifier {
	return &CascadeClassifier{logger: logger}
}

func (c *CascadeClassifier) Classify(p *Profile, s *Snapshot) Classification {
	r := p.Rules

	if s.TestID != "" {
		if matchTestID(s.TestID, r.ActiveTestIDs) {
			return Classification{Active: true, Signal: SignalTestID}
		}
		if matchTestID(s.TestID, r.InactiveTestIDs) {
			return Classification{Active: false, Signal: SignalTestID}
		}
	}

	switch strings.ToLower(s.Pressed) {
	case "true":
		return Classification{Active: true, Signal: SignalPressed}
	case "false":
		return Classification{Active: false, Signal: SignalPressed}
	}

	label := s.Label
	if label == "" {
		label = s.Text
	}
	if label = normalizeLabel(label); label != "" {
		if containsAny(label, r.ActivePhrases) {
			return Classification{Active: true, Signal: SignalLabel}
		}
		if containsAny(label, r.InactivePhrases) {
			return Classification{Active: false, Signal: SignalLabel}
		}
	}

	for _, colour := range s.Colours {
		if containsAny(colour, r.AccentColors) {
			return Classification{Active: true, Signal: SignalAccent}
		}
	}

	if containsAny(strings.ToLower(s.Class), r.ActiveClasses) {
		return Classification{Active: true, Signal: SignalClass}
	}

	c.logger.Warn("could not classify control state, assuming inactive",
		"kind", p.Kind,
		"test_id", s.TestID,
		"label", s.Label,
	)
	metrics.ClassificationDefaults.WithLabelValues(string(p.Kind)).Inc()
	return Classification{Active: false, Signal: SignalDefault}
}

func matchTestID(id string, ids []string) bool {
	for _, want := range ids {
		if id == want || strings.HasSuffix(id, "-"+want) {
			return true
		}
	}
	return false
}

// normalizeLabel lower-cases a label and drops @handles, which can contain
// any of the phrases.
func normalizeLabel(label string) string {
	fields := strings.Fields(strings.ToLower(label))
	kept := fields[:0]
	for _, f := range fields {
		if !strings.HasPrefix(f, "@") {
			kept = append(kept, f)
		}
	}
	return strings.Join(kept, " ")
}

func containsAny(s string, needles []string) bool {
	for _, n := range needles {
		if n != "" && strings.Contains(s, strings.ToLower(n)) {
			return true
		}
	}
	return false
}
