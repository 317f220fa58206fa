// Package checker implements the interaction checks: each one normalizes
// its reference, opens a logged-in browser session, loads the target and
// runs the matching extraction.
package checker

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/jmylchreest/xcheck/internal/browser"
	"github.com/jmylchreest/xcheck/internal/challenge"
	"github.com/jmylchreest/xcheck/internal/consent"
	"github.com/jmylchreest/xcheck/internal/extract"
	"github.com/jmylchreest/xcheck/internal/logging"
	"github.com/jmylchreest/xcheck/internal/metrics"
	"github.com/jmylchreest/xcheck/internal/models"
)

const msgLoginRequired = "X.com login is required. Please update cookies."

// SessionFactory opens browser sessions.
type SessionFactory interface {
	Create(ctx context.Context) (*browser.Session, error)
}

// Authenticator establishes a logged-in state on a session.
type Authenticator interface {
	EnsureLoggedIn(ctx context.Context, sess *browser.Session) error
	Invalidate()
}

// Recorder stores finished checks.
type Recorder interface {
	Record(ctx context.Context, entry models.HistoryEntry) error
}

// Options configures a Service.
type Options struct {
	BaseURL    string
	RetryCount int
	// ScrollAttempts and ScrollPause bound reply collection.
	ScrollAttempts int
	ScrollPause    time.Duration
}

// Service runs interaction checks.
type Service struct {
	sessions  SessionFactory
	auth      Authenticator
	extractor *extract.Extractor
	dismisser *consent.Dismisser
	detector  *challenge.Detector
	recorder  Recorder
	opts      Options
	logger    *slog.Logger
}

// NewService creates a Service.
func NewService(sessions SessionFactory, auth Authenticator, x *extract.Extractor, opts Options, logger *slog.Logger) *Service {
	if opts.ScrollAttempts < 1 {
		opts.ScrollAttempts = extract.DefaultScrollAttempts
	}
	return &Service{
		sessions:  sessions,
		auth:      auth,
		extractor: x,
		dismisser: consent.NewDismisser(logger),
		detector:  challenge.NewDetector(),
		opts:      opts,
		logger:    logger,
	}
}

// WithRecorder stores every finished check in r.
func (s *Service) WithRecorder(r Recorder) *Service {
	s.recorder = r
	return s
}

// WithDismisser replaces the overlay dismisser.
func (s *Service) WithDismisser(d *consent.Dismisser) *Service {
	s.dismisser = d
	return s
}

// CheckFollow reports whether the checking account follows handle.
func (s *Service) CheckFollow(ctx context.Context, handle string) (*models.FollowResult, error) {
	url, err := ProfileURL(s.opts.BaseURL, handle)
	if err != nil {
		return nil, s.rejected(ctx, models.ActionFollow, handle, err)
	}
	return check(ctx, s, models.ActionFollow, url, func(ctx context.Context, sess *browser.Session) (*models.FollowResult, error) {
		st, err := s.extractor.Inspect(sess.Page, extract.Follow)
		if err != nil {
			return nil, err
		}
		res := &models.FollowResult{ButtonText: st.Text, ButtonState: st.State}
		if !st.Own {
			following := st.Active
			res.IsFollowing = &following
		}
		return res, nil
	})
}

// CheckLike reports whether the checking account liked the post.
func (s *Service) CheckLike(ctx context.Context, ref string) (*models.LikeResult, error) {
	url, err := PostURL(s.opts.BaseURL, ref)
	if err != nil {
		return nil, s.rejected(ctx, models.ActionLike, ref, err)
	}
	return check(ctx, s, models.ActionLike, url, func(ctx context.Context, sess *browser.Session) (*models.LikeResult, error) {
		st, err := s.extractor.Inspect(sess.Page, extract.Like)
		if err != nil {
			return nil, err
		}
		return &models.LikeResult{IsLiked: st.Active, LikeCount: st.Count, ButtonState: st.State}, nil
	})
}

// CheckRepost reports whether the checking account reposted the post.
func (s *Service) CheckRepost(ctx context.Context, ref string) (*models.RepostResult, error) {
	url, err := PostURL(s.opts.BaseURL, ref)
	if err != nil {
		return nil, s.rejected(ctx, models.ActionRepost, ref, err)
	}
	return check(ctx, s, models.ActionRepost, url, func(ctx context.Context, sess *browser.Session) (*models.RepostResult, error) {
		st, err := s.extractor.Inspect(sess.Page, extract.Repost)
		if err != nil {
			return nil, err
		}
		return &models.RepostResult{IsReposted: st.Active, RepostCount: st.Count, ButtonState: st.State}, nil
	})
}

// CheckComment lists account's replies to the post. When text is set the
// result also says whether any reply contains it.
func (s *Service) CheckComment(ctx context.Context, ref, account, text string) (*models.CommentResult, error) {
	id, err := PostID(ref)
	if err != nil {
		return nil, s.rejected(ctx, models.ActionComment, ref, err)
	}
	account, err = NormalizeHandle(account)
	if err != nil {
		return nil, s.rejected(ctx, models.ActionComment, ref, err)
	}
	url := s.opts.BaseURL + "/i/web/status/" + id

	return check(ctx, s, models.ActionComment, url, func(ctx context.Context, sess *browser.Session) (*models.CommentResult, error) {
		// Read before scrolling moves the post out of the rendered list.
		total := s.extractor.TotalReplies(sess.Page)

		comments := s.extractor.CollectComments(ctx, sess.Page, account, extract.CommentOptions{
			MaxAttempts: s.opts.ScrollAttempts,
			Pause:       s.opts.ScrollPause,
			ExcludeID:   id,
		})
		res := &models.CommentResult{
			HasCommented: len(comments) > 0,
			CommentCount: len(comments),
			Comments:     comments,
			TotalReplies: total,
		}
		if text != "" {
			matched := extract.MatchText(comments, text)
			res.TextMatched = &matched
		}
		return res, nil
	})
}

// CheckQuote reports whether the post has been quoted.
func (s *Service) CheckQuote(ctx context.Context, ref string) (*models.QuoteResult, error) {
	url, err := PostURL(s.opts.BaseURL, ref)
	if err != nil {
		return nil, s.rejected(ctx, models.ActionQuote, ref, err)
	}
	return check(ctx, s, models.ActionQuote, url, func(ctx context.Context, sess *browser.Session) (*models.QuoteResult, error) {
		n, _ := s.extractor.Count(sess.Page, extract.Quote)
		return &models.QuoteResult{HasQuoteReposts: n > 0, QuoteCount: n}, nil
	})
}

// check runs the shared pipeline around inspect. The session is closed and
// the outcome recorded on every path, including a panic.
func check[T models.Result](
	ctx context.Context,
	s *Service,
	action, url string,
	inspect func(context.Context, *browser.Session) (T, error),
) (res T, err error) {
	start := time.Now()
	logger := logging.FromContext(ctx, s.logger).With("action", action)

	defer func() {
		if r := recover(); r != nil {
			logger.Error("check panicked", "panic", r, "stack", string(debug.Stack()))
			var zero T
			res, err = zero, models.ErrInternal(fmt.Errorf("panic: %v", r))
		}
		if err != nil {
			err = models.AsScrapingError(err)
		}
		s.finish(ctx, logger, action, url, start, any(res), err)
	}()

	var zero T
	sess, err := s.sessions.Create(ctx)
	if err != nil {
		return zero, models.ErrGeneric("failed to start browser", err)
	}
	defer sess.Close()

	if err := s.auth.EnsureLoggedIn(ctx, sess); err != nil {
		return zero, err
	}

	if !sess.Navigate(ctx, url, s.opts.RetryCount) {
		return zero, models.ErrGeneric("failed to navigate", nil)
	}
	sess.RandomDelay(ctx)
	s.dismisser.Dismiss(ctx, sess.Page)

	if err := s.blocked(sess.Page); err != nil {
		return zero, err
	}
	return inspect(ctx, sess)
}

// blocked maps a blocking page to its domain error.
func (s *Service) blocked(page browser.Page) error {
	det := s.detector.Detect(page)
	if !det.Blocking() {
		return nil
	}
	s.logger.Warn("check blocked", "type", det.Type, "marker", det.Marker, "url", det.PageURL)

	switch det.Type {
	case challenge.TypeRateLimited:
		return models.ErrRateLimited("X.com rate limit reached")
	case challenge.TypeLoginWall:
		s.auth.Invalidate()
		return models.ErrLoginRequired(msgLoginRequired, nil)
	default:
		return models.ErrLoginRequired("account needs manual attention: "+string(det.Type), nil)
	}
}

// rejected records a reference that failed normalization.
func (s *Service) rejected(ctx context.Context, action, ref string, err error) error {
	s.finish(ctx, logging.FromContext(ctx, s.logger).With("action", action), action, ref, time.Now(), nil, err)
	return err
}

func (s *Service) finish(ctx context.Context, logger *slog.Logger, action, target string, start time.Time, res any, err error) {
	elapsed := time.Since(start)
	entry := models.HistoryEntry{
		ID:         ulid.Make().String(),
		RequestID:  logging.GetRequestID(ctx),
		Action:     action,
		Target:     target,
		Success:    err == nil,
		DurationMS: elapsed.Milliseconds(),
		CreatedAt:  time.Now().UTC(),
	}

	outcome := "ok"
	if se := models.AsScrapingError(err); err != nil {
		outcome = se.Code
		entry.ErrorCode = se.Code
		logger.Warn("check failed",
			"target", target,
			"code", se.Code,
			"error", err,
			"duration_ms", entry.DurationMS,
		)
	} else {
		entry.Outcome = summarize(res)
		logger.Info("check completed",
			"target", target,
			"outcome", entry.Outcome,
			"duration_ms", entry.DurationMS,
		)
	}
	metrics.ObserveCheck(action, outcome, elapsed)

	if s.recorder == nil {
		return
	}
	if rerr := s.recorder.Record(context.WithoutCancel(ctx), entry); rerr != nil {
		logger.Error("failed to record check", "error", rerr)
	}
}

// summarize renders the deciding field of a result for the history log.
func summarize(res any) string {
	switch r := res.(type) {
	case *models.FollowResult:
		return r.ButtonState
	case *models.LikeResult:
		return r.ButtonState
	case *models.RepostResult:
		return r.ButtonState
	case *models.CommentResult:
		return fmt.Sprintf("comments=%d", r.CommentCount)
	case *models.QuoteResult:
		return fmt.Sprintf("quotes=%d", r.QuoteCount)
	}
	return ""
}
