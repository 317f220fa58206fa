package handlers

import (
	"context"
	"strings"

	"github.com/jmylchreest/xcheck/internal/models"
)

// Checker runs the interaction checks.
type Checker interface {
	CheckFollow(ctx context.Context, handle string) (*models.FollowResult, error)
	CheckLike(ctx context.Context, ref string) (*models.LikeResult, error)
	CheckRepost(ctx context.Context, ref string) (*models.RepostResult, error)
	CheckComment(ctx context.Context, ref, account, text string) (*models.CommentResult, error)
	CheckQuote(ctx context.Context, ref string) (*models.QuoteResult, error)
}

// CheckHandler serves the check endpoints.
type CheckHandler struct {
	svc Checker
}

// NewCheckHandler creates a new check handler.
func NewCheckHandler(svc Checker) *CheckHandler {
	return &CheckHandler{svc: svc}
}

// Follow handles POST /api/check/follow.
func (h *CheckHandler) Follow(ctx context.Context, in *models.HumaFollowRequest) (*EnvelopeOutput, error) {
	const action = models.ActionFollow
	if in.Body == nil {
		return invalidRequest(action), nil
	}
	target := strings.TrimSpace(in.Body.TargetUser)
	if target == "" {
		return missingParameter(action, "target_user is required"), nil
	}

	res, err := h.svc.CheckFollow(ctx, target)
	if err != nil {
		return failure(action, err), nil
	}
	return success(action, res, "Follow status checked for "+target), nil
}

// Like handles POST /api/check/like.
func (h *CheckHandler) Like(ctx context.Context, in *models.HumaPostRequest) (*EnvelopeOutput, error) {
	const action = models.ActionLike
	ref, out := postRef(action, in)
	if out != nil {
		return out, nil
	}

	res, err := h.svc.CheckLike(ctx, ref)
	if err != nil {
		return failure(action, err), nil
	}
	return success(action, res, "Like status checked for tweet"), nil
}

// Repost handles POST /api/check/repost.
func (h *CheckHandler) Repost(ctx context.Context, in *models.HumaPostRequest) (*EnvelopeOutput, error) {
	const action = models.ActionRepost
	ref, out := postRef(action, in)
	if out != nil {
		return out, nil
	}

	res, err := h.svc.CheckRepost(ctx, ref)
	if err != nil {
		return failure(action, err), nil
	}
	return success(action, res, "Repost status checked for tweet"), nil
}

// Quote handles POST /api/check/quote.
func (h *CheckHandler) Quote(ctx context.Context, in *models.HumaPostRequest) (*EnvelopeOutput, error) {
	const action = models.ActionQuote
	ref, out := postRef(action, in)
	if out != nil {
		return out, nil
	}

	res, err := h.svc.CheckQuote(ctx, ref)
	if err != nil {
		return failure(action, err), nil
	}
	return success(action, res, "Quote status checked for tweet"), nil
}

// Comment handles POST /api/check/comment.
func (h *CheckHandler) Comment(ctx context.Context, in *models.HumaCommentRequest) (*EnvelopeOutput, error) {
	const action = models.ActionComment
	if in.Body == nil {
		return invalidRequest(action), nil
	}
	ref := strings.TrimSpace(in.Body.TweetURL)
	account := strings.TrimSpace(in.Body.CheckingUser)
	if ref == "" || account == "" {
		return missingParameter(action, "tweet_url and checking_user are required"), nil
	}

	res, err := h.svc.CheckComment(ctx, ref, account, in.Body.Text)
	if err != nil {
		return failure(action, err), nil
	}
	return success(action, res, "Comment status checked for "+account), nil
}

func postRef(action string, in *models.HumaPostRequest) (string, *EnvelopeOutput) {
	if in.Body == nil {
		return "", invalidRequest(action)
	}
	ref := strings.TrimSpace(in.Body.TweetURL)
	if ref == "" {
		return "", missingParameter(action, "tweet_url is required")
	}
	return ref, nil
}
