package models

import "time"

// Result is one of the per-action result variants.
type Result interface {
	Action() string
}

// FollowResult describes the follow relationship to a target account.
// IsFollowing is nil when the target is the checking account itself.
type FollowResult struct {
	IsFollowing *bool  `json:"is_following"`
	ButtonText  string `json:"button_text"`
	ButtonState string `json:"button_state"`
}

func (FollowResult) Action() string { return ActionFollow }

// LikeResult describes the like state of a post.
type LikeResult struct {
	IsLiked     bool   `json:"is_liked"`
	LikeCount   int    `json:"like_count"`
	ButtonState string `json:"button_state"`
}

func (LikeResult) Action() string { return ActionLike }

// RepostResult describes the repost state of a post.
type RepostResult struct {
	IsReposted  bool   `json:"is_reposted"`
	RepostCount int    `json:"repost_count"`
	ButtonState string `json:"button_state"`
}

func (RepostResult) Action() string { return ActionRepost }

// Comment is a reply authored by the checked account.
type Comment struct {
	Username  string `json:"username"`
	Text      string `json:"text"`
	Timestamp string `json:"timestamp,omitempty"`
	CommentID string `json:"comment_id,omitempty"`
}

// CommentResult lists the checked account's replies to a post.
type CommentResult struct {
	HasCommented bool      `json:"has_commented"`
	CommentCount int       `json:"comment_count"`
	Comments     []Comment `json:"comments"`
	TotalReplies int       `json:"total_replies"`
	TextMatched  *bool     `json:"text_matched,omitempty"`
}

func (CommentResult) Action() string { return ActionComment }

// QuoteResult reports whether a post has been quoted.
type QuoteResult struct {
	HasQuoteReposts bool `json:"has_quote_reposts"`
	QuoteCount      int  `json:"quote_count"`
}

func (QuoteResult) Action() string { return ActionQuote }

// ErrorBody is the error member of a failure envelope.
type ErrorBody struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	RetryAfter int    `json:"retry_after,omitempty"`
}

// Envelope is the response shape for every endpoint.
type Envelope struct {
	Success   bool       `json:"success"`
	Timestamp string     `json:"timestamp"`
	Action    string     `json:"action,omitempty"`
	Result    any        `json:"result,omitempty"`
	Details   string     `json:"details,omitempty"`
	Error     *ErrorBody `json:"error,omitempty"`
}

// HumaEnvelope wraps Envelope for Huma API.
type HumaEnvelope struct {
	Body Envelope
}

// Timestamp formats t the way envelopes carry it.
func Timestamp(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000000Z")
}

// NewSuccess creates a success envelope.
func NewSuccess(action string, result any, details string) *Envelope {
	return &Envelope{
		Success:   true,
		Timestamp: Timestamp(time.Now()),
		Action:    action,
		Result:    result,
		Details:   details,
	}
}

// NewFailure creates a failure envelope.
func NewFailure(action string, err *ScrapingError) *Envelope {
	return &Envelope{
		Success:   false,
		Timestamp: Timestamp(time.Now()),
		Action:    action,
		Error:     err.Body(),
	}
}

// AdmissionStats is the view of an identifier's admission windows.
type AdmissionStats struct {
	RequestsPerMinute  int             `json:"requests_per_minute"`
	RequestsPerHour    int             `json:"requests_per_hour"`
	ConcurrentRequests int             `json:"concurrent_requests"`
	Limits             AdmissionLimits `json:"limits"`
}

// AdmissionLimits are the configured ceilings.
type AdmissionLimits struct {
	PerMinute  int `json:"per_minute"`
	PerHour    int `json:"per_hour"`
	Concurrent int `json:"concurrent"`
}

// HealthResult is the result member of the health envelope.
type HealthResult struct {
	Status         string         `json:"status"`
	Version        string         `json:"version"`
	SessionState   string         `json:"session_state"`
	SessionValid   bool           `json:"session_valid"`
	RateLimitStats AdmissionStats `json:"rate_limit_stats"`
	Uptime         int64          `json:"uptime_seconds"`
}

// HistoryEntry is one recorded check.
type HistoryEntry struct {
	ID         string    `json:"id"`
	RequestID  string    `json:"request_id,omitempty"`
	Action     string    `json:"action"`
	Target     string    `json:"target"`
	Success    bool      `json:"success"`
	ErrorCode  string    `json:"error_code,omitempty"`
	Outcome    string    `json:"outcome,omitempty"`
	DurationMS int64     `json:"duration_ms"`
	CreatedAt  time.Time `json:"created_at"`
}
