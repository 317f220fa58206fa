// Package extract reads interaction state from a loaded platform page:
// it resolves the action control for an interaction kind, classifies its
// toggle state, parses the adjacent count and collects reply cards.
package extract

import "github.com/jmylchreest/xcheck/internal/browser"

// Kind identifies an interaction whose control is inspected.
type Kind string

const (
	KindFollow Kind = "follow"
	KindLike   Kind = "like"
	KindRepost Kind = "repost"
	KindQuote  Kind = "quote"
	KindReply  Kind = "reply"
)

// Rules are the per-kind signals the classifier looks for, in the order it
// consults them.
type Rules struct {
	// ActiveTestIDs and InactiveTestIDs match data-testid exactly or as a
	// "-<id>" suffix (the platform prefixes follow controls with a user id).
	ActiveTestIDs   []string
	InactiveTestIDs []string
	// Phrases are matched case-insensitively against aria-label, or the
	// control text when it has no label. Active phrases are checked first.
	ActivePhrases   []string
	InactivePhrases []string
	// AccentColors are fill, stroke or style colours of the icon that only
	// appear in the active state.
	AccentColors []string
	// ActiveClasses are substrings of the class attribute.
	ActiveClasses []string
}

// Profile parametrizes the extraction protocol for one interaction kind.
type Profile struct {
	Kind Kind
	// Controls are tried in priority order; first match wins.
	Controls []browser.Candidate
	// NotFound markers are matched against the full page markup when no
	// control resolves.
	NotFound []string
	// CountContainers are looked up inside the control's parent.
	CountContainers []string
	// Owner markers identify the checking account's own page. Only the
	// follow profile sets them.
	Owner []browser.Candidate
	Rules Rules

	ActiveState   string
	InactiveState string
	// Messages for the two ELEMENT_NOT_FOUND outcomes.
	MissingTarget  string
	MissingControl string
}

// focalPost is the post a status page is about. Replies rendered below it
// are separate articles and carry their own controls.
const focalPost = `article[tabindex="-1"]`

// onFocalPost scopes candidates to the focal post, keeping the unscoped
// forms as fallbacks for layouts without one.
func onFocalPost(candidates []browser.Candidate) []browser.Candidate {
	scoped := make([]browser.Candidate, 0, 2*len(candidates))
	for _, c := range candidates {
		scoped = append(scoped, browser.Candidate{CSS: focalPost + " " + c.CSS, Text: c.Text})
	}
	return append(scoped, candidates...)
}

var countContainers = []string{
	`span[data-testid="app-text-transition-container"]`,
	`span.css-901oao`,
	`span[dir="ltr"]`,
}

var postNotFound = []string{
	"This Tweet was deleted",
	"このツイートは削除されました",
	"Tweet not available",
	"Something went wrong",
	"Try again",
	"Hmm...this page doesn't exist",
}

// Follow inspects the follow control on a profile page.
var Follow = &Profile{
	Kind: KindFollow,
	Controls: []browser.Candidate{
		{CSS: `[data-testid$="-unfollow"]`},
		{CSS: `[data-testid$="-follow"]`},
		{CSS: `[data-testid="follow"]`},
		{CSS: `[data-testid="unfollow"]`},
		{CSS: `[aria-label*="Follow"]`},
		{CSS: `[aria-label*="Following"]`},
		{CSS: `[aria-label*="Unfollow"]`},
		{CSS: `div[role="button"]`, Text: `^(Follow|Following|Follow back|フォロー|フォロー中)$`},
	},
	NotFound: []string{
		"This account doesn't exist",
		"アカウントが存在しません",
		"Something went wrong",
		"Try again",
	},
	Owner: []browser.Candidate{
		{CSS: `[data-testid="editProfileButton"]`},
		{CSS: `a[href="/settings/profile"]`},
		{CSS: `a, [role="button"]`, Text: `^(Edit profile|プロフィールを編集)$`},
	},
	Rules: Rules{
		ActiveTestIDs:   []string{"unfollow"},
		InactiveTestIDs: []string{"follow"},
		ActivePhrases:   []string{"following", "unfollow", "フォロー中", "フォロー解除"},
		InactivePhrases: []string{"follow back", "follow", "フォローバック", "フォロー"},
		ActiveClasses:   []string{"following"},
	},
	ActiveState:    "following",
	InactiveState:  "not_following",
	MissingTarget:  "Profile not found or private",
	MissingControl: "Follow button not found",
}

// Like inspects the like control on a post.
var Like = &Profile{
	Kind: KindLike,
	Controls: onFocalPost([]browser.Candidate{
		{CSS: `[data-testid="like"]`},
		{CSS: `[data-testid="unlike"]`},
		{CSS: `[aria-label*="Like"]`},
		{CSS: `[aria-label*="Liked"]`},
		{CSS: `[aria-label*="いいね"]`},
		{CSS: `div[role="button"][aria-label*="like" i]`},
		{CSS: `button[aria-label*="like" i]`},
	}),
	NotFound:        postNotFound,
	CountContainers: countContainers,
	Rules: Rules{
		ActiveTestIDs:   []string{"unlike"},
		InactiveTestIDs: []string{"like"},
		ActivePhrases:   []string{"liked", "いいねしました"},
		InactivePhrases: []string{"like", "いいね"},
		AccentColors:    []string{"#f91880", "rgb(249, 24, 128)", "red"},
		ActiveClasses:   []string{"liked", "active"},
	},
	ActiveState:    "liked",
	InactiveState:  "not_liked",
	MissingTarget:  "Tweet not found or deleted",
	MissingControl: "Like button not found",
}

// Repost inspects the repost control on a post.
var Repost = &Profile{
	Kind: KindRepost,
	Controls: onFocalPost([]browser.Candidate{
		{CSS: `[data-testid="retweet"]`},
		{CSS: `[data-testid="unretweet"]`},
		{CSS: `[aria-label*="Repost"]`},
		{CSS: `[aria-label*="Reposted"]`},
		{CSS: `[aria-label*="Retweet"]`},
		{CSS: `[aria-label*="Retweeted"]`},
		{CSS: `[aria-label*="リポスト"]`},
		{CSS: `div[role="button"][aria-label*="retweet" i]`},
		{CSS: `button[aria-label*="retweet" i]`},
	}),
	NotFound:        postNotFound,
	CountContainers: countContainers,
	Rules: Rules{
		ActiveTestIDs:   []string{"unretweet"},
		InactiveTestIDs: []string{"retweet"},
		ActivePhrases:   []string{"reposted", "retweeted", "リポストしました"},
		InactivePhrases: []string{"repost", "retweet", "リポスト"},
		AccentColors:    []string{"#00ba7c", "rgb(0, 186, 124)", "green"},
		ActiveClasses:   []string{"reposted", "retweeted"},
	},
	ActiveState:    "reposted",
	InactiveState:  "not_reposted",
	MissingTarget:  "Tweet not found or deleted",
	MissingControl: "Repost button not found",
}

// Quote locates the quote-count control on a post. Only its count is read.
var Quote = &Profile{
	Kind: KindQuote,
	Controls: onFocalPost([]browser.Candidate{
		{CSS: `[data-testid="quoteTweet"]`},
		{CSS: `[aria-label*="Quote"]`},
		{CSS: `[aria-label*="引用"]`},
	}),
	CountContainers: countContainers,
}

// Reply locates the reply control on a post. Only its count is read.
var Reply = &Profile{
	Kind: KindReply,
	Controls: onFocalPost([]browser.Candidate{
		{CSS: `[data-testid="reply"]`},
		{CSS: `[aria-label*="Reply"]`},
		{CSS: `[aria-label*="replies"]`},
		{CSS: `[aria-label*="返信"]`},
	}),
	CountContainers: countContainers[:1],
}
