package checker

import (
	"regexp"
	"strings"

	"github.com/jmylchreest/xcheck/internal/models"
)

const msgInvalidReference = "invalid reference"

var (
	handlePattern  = regexp.MustCompile(`^[A-Za-z0-9_]{1,15}$`)
	profilePattern = regexp.MustCompile(`^https?://(?:www\.|mobile\.)?(?:twitter\.com|x\.com)/([A-Za-z0-9_]{1,15})/?(?:[?#].*)?$`)

	// Tried in order; the first submatch is the post id.
	postPatterns = []*regexp.Regexp{
		regexp.MustCompile(`^https?://(?:www\.|mobile\.)?(?:twitter\.com|x\.com)/\w+/status/(\d+)`),
		regexp.MustCompile(`^https?://(?:www\.|mobile\.)?(?:twitter\.com|x\.com)/i/web/status/(\d+)`),
		regexp.MustCompile(`^(\d{15,20})$`),
	}
)

// NormalizeHandle returns the bare account handle for "@name", "name" or a
// profile URL.
func NormalizeHandle(ref string) (string, error) {
	ref = strings.TrimSpace(ref)
	if m := profilePattern.FindStringSubmatch(ref); m != nil {
		ref = m[1]
	}
	ref = strings.TrimPrefix(ref, "@")
	if !handlePattern.MatchString(ref) {
		return "", models.ErrGeneric(msgInvalidReference, nil)
	}
	return ref, nil
}

// PostID extracts the numeric post id from a post URL, a web-view URL or a
// bare id.
func PostID(ref string) (string, error) {
	ref = strings.TrimSpace(ref)
	for _, p := range postPatterns {
		if m := p.FindStringSubmatch(ref); m != nil {
			return m[1], nil
		}
	}
	return "", models.ErrGeneric(msgInvalidReference, nil)
}

// PostURL returns the canonical URL of the referenced post.
func PostURL(baseURL, ref string) (string, error) {
	id, err := PostID(ref)
	if err != nil {
		return "", err
	}
	return baseURL + "/i/web/status/" + id, nil
}

// ProfileURL returns the canonical URL of the referenced account.
func ProfileURL(baseURL, ref string) (string, error) {
	handle, err := NormalizeHandle(ref)
	if err != nil {
		return "", err
	}
	return baseURL + "/" + handle, nil
}
