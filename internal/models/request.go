// Package models defines API request and response types and the domain
// result and error types shared by the checking packages.
package models

// Action names used in envelopes, metrics and the audit log.
const (
	ActionFollow  = "follow"
	ActionLike    = "like"
	ActionRepost  = "repost"
	ActionComment = "comment"
	ActionQuote   = "quote"
)

// Cookie represents a browser cookie as persisted in the cookie jar.
type Cookie struct {
	Name     string  `json:"name"`
	Value    string  `json:"value"`
	Domain   string  `json:"domain,omitempty"`
	Path     string  `json:"path,omitempty"`
	Expires  float64 `json:"expires,omitempty"`
	HTTPOnly bool    `json:"httpOnly,omitempty"`
	Secure   bool    `json:"secure,omitempty"`
	SameSite string  `json:"sameSite,omitempty"`
}

// FollowRequest asks whether the checking account follows target_user.
type FollowRequest struct {
	TargetUser string `json:"target_user" required:"false" doc:"Handle of the account to check, with or without @" example:"jack"`
}

// PostRequest references a post by URL or bare numeric id.
type PostRequest struct {
	TweetURL string `json:"tweet_url" required:"false" doc:"Post URL or numeric post id" example:"https://x.com/jack/status/20"`
}

// CommentRequest asks whether checking_user replied to a post.
type CommentRequest struct {
	TweetURL     string `json:"tweet_url" required:"false" doc:"Post URL or numeric post id"`
	CheckingUser string `json:"checking_user" required:"false" doc:"Handle whose replies are searched"`
	Text         string `json:"text,omitempty" doc:"Optional substring the reply must contain (case-insensitive)"`
}

// HumaFollowRequest wraps FollowRequest for Huma API.
type HumaFollowRequest struct {
	Body *FollowRequest `required:"false"`
}

// HumaPostRequest wraps PostRequest for Huma API.
type HumaPostRequest struct {
	Body *PostRequest `required:"false"`
}

// HumaCommentRequest wraps CommentRequest for Huma API.
type HumaCommentRequest struct {
	Body *CommentRequest `required:"false"`
}

// HumaHistoryRequest selects recent audit entries for the caller.
type HumaHistoryRequest struct {
	Limit int `query:"limit" default:"20" minimum:"1" maximum:"200"`
}
