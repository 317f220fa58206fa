package extract

import (
	"context"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/jmylchreest/xcheck/internal/browser"
	"github.com/jmylchreest/xcheck/internal/models"
)

// DefaultScrollAttempts bounds how many times more replies are loaded.
const DefaultScrollAttempts = 5

var (
	cardSelectors = []string{
		`article[data-testid="tweet"]`,
		`div[data-testid="tweet"]`,
		`[data-testid="tweet"]`,
	}
	authorSelectors = []string{
		`[data-testid="User-Names"] a[href*="/"]`,
		`a[role="link"][href*="/"]`,
		`[data-testid="User-Names"] span`,
	}
	textSelectors = []string{
		`[data-testid="tweetText"]`,
		`div[lang]`,
		`span[lang]`,
	}

	lastPathSegment = regexp.MustCompile(`/([^/?#]+)/?$`)
	statusID        = regexp.MustCompile(`/status/(\d+)`)
)

// CommentOptions tunes CollectComments.
type CommentOptions struct {
	MaxAttempts int
	// Pause is waited after each scroll so new cards can render.
	Pause time.Duration
	// ExcludeID skips the card of the post being replied to.
	ExcludeID string
}

// CollectComments gathers the cards authored by account, scrolling to load
// more until the attempt budget is spent or the page stops growing.
func (x *Extractor) CollectComments(ctx context.Context, page browser.Page, account string, opts CommentOptions) []models.Comment {
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = DefaultScrollAttempts
	}
	account = strings.TrimPrefix(account, "@")

	seen := make(map[string]struct{})
	comments := []models.Comment{}

	for attempt := 1; attempt <= opts.MaxAttempts; attempt++ {
		html, err := page.HTML()
		if err != nil {
			x.logger.Warn("failed to read page for comments", "attempt", attempt, "error", err)
			break
		}
		for _, c := range ParseComments(html, account) {
			if c.CommentID != "" && c.CommentID == opts.ExcludeID {
				continue
			}
			key := commentKey(c)
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			comments = append(comments, c)
		}

		if !x.loadMore(ctx, page, opts.Pause) {
			x.logger.Debug("no more replies loaded", "attempt", attempt)
			break
		}
	}
	return comments
}

// loadMore scrolls to the bottom and reports whether the page grew.
func (x *Extractor) loadMore(ctx context.Context, page browser.Page, pause time.Duration) bool {
	before, err := page.ScrollHeight()
	if err != nil {
		return false
	}
	if err := page.ScrollToBottom(); err != nil {
		x.logger.Debug("scroll failed", "error", err)
		return false
	}
	if !browser.Sleep(ctx, pause) {
		return false
	}
	after, err := page.ScrollHeight()
	if err != nil {
		return false
	}
	return after > before
}

// ParseComments extracts the cards in html whose author is account,
// compared case-insensitively.
func ParseComments(html, account string) []models.Comment {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil
	}

	var cards *goquery.Selection
	for _, css := range cardSelectors {
		if sel := doc.Find(css); sel.Length() > 0 {
			cards = sel
			break
		}
	}
	if cards == nil {
		return nil
	}

	var out []models.Comment
	cards.Each(func(_ int, card *goquery.Selection) {
		author := cardAuthor(card)
		if author == "" || !strings.EqualFold(author, account) {
			return
		}
		c := models.Comment{
			Username:  author,
			Text:      cardText(card),
			Timestamp: card.Find("time").First().AttrOr("datetime", ""),
		}
		card.Find(`a[href*="/status/"]`).EachWithBreak(func(_ int, a *goquery.Selection) bool {
			if m := statusID.FindStringSubmatch(a.AttrOr("href", "")); m != nil {
				c.CommentID = m[1]
				return false
			}
			return true
		})
		out = append(out, c)
	})
	return out
}

func cardAuthor(card *goquery.Selection) string {
	for _, css := range authorSelectors {
		el := card.Find(css).First()
		if el.Length() == 0 {
			continue
		}
		if href, ok := el.Attr("href"); ok && href != "" {
			if m := lastPathSegment.FindStringSubmatch(href); m != nil {
				return m[1]
			}
			continue
		}
		if text := strings.TrimSpace(el.Text()); text != "" {
			return strings.TrimPrefix(text, "@")
		}
	}
	return ""
}

func cardText(card *goquery.Selection) string {
	for _, css := range textSelectors {
		if el := card.Find(css).First(); el.Length() > 0 {
			return strings.TrimSpace(el.Text())
		}
	}
	return ""
}

func commentKey(c models.Comment) string {
	if c.CommentID != "" {
		return c.CommentID
	}
	return strings.ToLower(c.Username) + "|" + c.Timestamp + "|" + c.Text
}

// MatchText reports whether any comment contains text, case-insensitively.
func MatchText(comments []models.Comment, text string) bool {
	needle := strings.ToLower(text)
	for _, c := range comments {
		if strings.Contains(strings.ToLower(c.Text), needle) {
			return true
		}
	}
	return false
}

// TotalReplies reads the post's reply count, 0 when no reply control shows.
func (x *Extractor) TotalReplies(page browser.Page) int {
	n, _ := x.Count(page, Reply)
	return n
}
