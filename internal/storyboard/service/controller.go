package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	authdomain "github.com/xleos/studio/internal/auth/domain"
	"github.com/xleos/studio/internal/backend"
	"github.com/xleos/studio/internal/storyboard/domain"
	"github.com/xleos/studio/internal/storyboard/reconciler"
	"github.com/xleos/studio/internal/storyboard/session"
	"github.com/xleos/studio/internal/storyboard/updates"
)

// AuthGate is the part of the auth gate the controller consults before acting.
type AuthGate interface {
	Snapshot() authdomain.Session
	RecordSubmission() authdomain.Quota
	RefreshQuota(ctx context.Context) (authdomain.Quota, error)
}

// Backend is the part of the backend API the controller calls directly.
type Backend interface {
	SubmitScript(ctx context.Context, script string) (string, error)
	Submissions(ctx context.Context) ([]*domain.Submission, error)
	SubmitFeedback(ctx context.Context, submissionID string, lineNumber int, req backend.FeedbackRequest) error
}

type Options struct {
	MaxScriptLength int
	// Fallback is used when the primary update channel cannot subscribe.
	Fallback updates.Channel
}

// SubmitResult describes an accepted submission.
type SubmitResult struct {
	SubmissionID string
	// QuotaNotice is set when the user should be reminded of a low quota.
	QuotaNotice bool
	Quota       authdomain.Quota
}

// Controller drives the submission lifecycle for one user session.
type Controller struct {
	gate       AuthGate
	client     Backend
	channel    updates.Channel
	store      *session.Store
	reconciler *reconciler.Reconciler
	opts       Options
	log        *zap.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func NewController(
	gate AuthGate,
	client Backend,
	channel updates.Channel,
	store *session.Store,
	rec *reconciler.Reconciler,
	opts Options,
	logger *zap.Logger,
) *Controller {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.MaxScriptLength <= 0 {
		opts.MaxScriptLength = 1000
	}
	return &Controller{
		gate:       gate,
		client:     client,
		channel:    channel,
		store:      store,
		reconciler: rec,
		opts:       opts,
		log:        logger.Named("controller"),
	}
}

// Store exposes the session store for read-only observers.
func (c *Controller) Store() *session.Store { return c.store }

// Submit validates and gates the script, sends it, and starts watching for
// updates. Every rejection happens before any network call.
func (c *Controller) Submit(ctx context.Context, script string) (*SubmitResult, error) {
	script = strings.TrimSpace(script)
	if script == "" {
		return nil, domain.ErrScriptEmpty
	}
	if n := utf8.RuneCountInString(script); n > c.opts.MaxScriptLength {
		return nil, fmt.Errorf("%w: %d characters, limit is %d", domain.ErrScriptTooLong, n, c.opts.MaxScriptLength)
	}

	auth := c.gate.Snapshot()
	if !auth.Authenticated() {
		return nil, domain.ErrNotAuthenticated
	}
	if auth.Approval != authdomain.ApprovalApproved {
		return nil, domain.ErrApprovalPending
	}
	if auth.Quota.Exhausted() {
		return nil, domain.ErrQuotaExhausted
	}
	notice := auth.Quota.Low()

	id, err := c.client.SubmitScript(ctx, script)
	if err != nil {
		c.log.Warn("submit script failed", zap.Error(err))
		return nil, fmt.Errorf("submit script: %w", err)
	}
	log := c.log.With(zap.String("submission_id", id))
	log.Info("script submitted", zap.Int("length", utf8.RuneCountInString(script)))

	c.stopWatch()
	c.store.Begin(&domain.Submission{
		ID:            id,
		OwnerIdentity: auth.User.Email,
		ScriptText:    script,
		Status:        domain.StatusProcessing,
		CreatedAt:     time.Now(),
	})
	c.gate.RecordSubmission()

	quota, err := c.gate.RefreshQuota(ctx)
	if err != nil {
		log.Debug("quota refresh after submit failed", zap.Error(err))
		quota = c.gate.Snapshot().Quota
	}

	c.watch(id)
	return &SubmitResult{SubmissionID: id, QuotaNotice: notice, Quota: quota}, nil
}

// NewSession abandons the current submission and returns to script input.
func (c *Controller) NewSession() error {
	auth := c.gate.Snapshot()
	if auth.Authenticated() && auth.Approval == authdomain.ApprovalPending {
		return domain.ErrApprovalPending
	}
	c.stopWatch()
	c.store.Clear()
	return nil
}

// History lists past submissions newest first, filtered by a case-insensitive
// substring of the script.
func (c *Controller) History(ctx context.Context, query string) ([]*domain.Submission, error) {
	if err := c.requireApproved(); err != nil {
		return nil, err
	}
	subs, err := c.client.Submissions(ctx)
	if err != nil {
		return nil, fmt.Errorf("list submissions: %w", err)
	}

	query = strings.ToLower(strings.TrimSpace(query))
	out := make([]*domain.Submission, 0, len(subs))
	for _, s := range subs {
		if query != "" && !strings.Contains(strings.ToLower(s.ScriptText), query) {
			continue
		}
		out = append(out, s)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})

	c.store.SetView(domain.ViewHistory)
	return out, nil
}

// Select shows a historical submission. A completed submission stored without
// lines is fetched on first view; one still processing resumes updates.
func (c *Controller) Select(ctx context.Context, sub *domain.Submission) error {
	if err := c.requireApproved(); err != nil {
		return err
	}
	if sub == nil {
		return domain.ErrSubmissionNotFound
	}
	c.stopWatch()
	c.store.Select(sub)

	switch {
	case sub.Status == domain.StatusCompleted && len(sub.Lines) == 0:
		if err := c.reconciler.Refresh(ctx, sub.ID); err != nil {
			return fmt.Errorf("load results: %w", err)
		}
	case sub.Status == domain.StatusProcessing:
		c.watch(sub.ID)
	}
	return nil
}

// RecordFeedback rates every video of the line at lineIndex. All ratings must
// be valid before anything is sent. Each video is recorded locally once its
// request succeeds; videos already holding the same feedback are not resent.
func (c *Controller) RecordFeedback(ctx context.Context, lineIndex int, feedback []domain.Feedback) error {
	snap := c.store.Snapshot()
	sub := snap.Submission
	if sub == nil {
		return domain.ErrNoActiveSubmission
	}
	if sub.Status != domain.StatusCompleted {
		return domain.ErrSubmissionNotReady
	}
	if lineIndex < 0 || lineIndex >= len(sub.Lines) {
		return domain.ErrLineNotFound
	}
	line := sub.Lines[lineIndex]
	if len(line.Videos) == 0 || len(feedback) != len(line.Videos) {
		return domain.ErrInvalidFeedback
	}
	for _, fb := range feedback {
		if err := fb.Validate(); err != nil {
			return err
		}
	}

	for i, v := range line.Videos {
		fb := domain.Feedback{Rating: feedback[i].Rating, Comment: strings.TrimSpace(feedback[i].Comment)}
		if v.Feedback != nil && *v.Feedback == fb {
			continue
		}
		req := backend.FeedbackRequest{VideoIndex: v.Index, Rating: fb.Rating, Text: fb.Comment}
		if err := c.client.SubmitFeedback(ctx, sub.ID, line.Number, req); err != nil {
			return fmt.Errorf("submit feedback for video %d: %w", v.Index, err)
		}
		if err := c.store.RecordFeedback(sub.ID, lineIndex, i, fb); err != nil {
			return err
		}
	}
	c.log.Info("feedback recorded",
		zap.String("submission_id", sub.ID),
		zap.Int("line_number", line.Number),
		zap.Int("videos", len(line.Videos)),
	)
	return nil
}

// Wait blocks until the current watch finishes or ctx is done.
func (c *Controller) Wait(ctx context.Context) error {
	c.mu.Lock()
	done := c.done
	c.mu.Unlock()
	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops any running watch.
func (c *Controller) Close() {
	c.stopWatch()
}

// requireApproved applies the same session gate as Submit, minus the quota.
func (c *Controller) requireApproved() error {
	auth := c.gate.Snapshot()
	if !auth.Authenticated() {
		return domain.ErrNotAuthenticated
	}
	if auth.Approval != authdomain.ApprovalApproved {
		return domain.ErrApprovalPending
	}
	return nil
}

func (c *Controller) watch(id string) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	c.mu.Lock()
	c.cancel = cancel
	c.done = done
	c.mu.Unlock()

	log := c.log.With(zap.String("submission_id", id))
	go func() {
		defer close(done)
		defer cancel()

		events, err := c.channel.Subscribe(ctx, id)
		if err != nil && c.opts.Fallback != nil {
			log.Warn("update channel unavailable, falling back", zap.Error(err))
			events, err = c.opts.Fallback.Subscribe(ctx, id)
		}
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Error("subscribe to updates", zap.Error(err))
			_, _ = c.store.MarkFailed(id, domain.MsgResultsUnavailable)
			return
		}

		if err := c.reconciler.Run(ctx, id, events); err != nil && !errors.Is(err, context.Canceled) {
			log.Debug("watch ended", zap.Error(err))
		}
	}()
}

func (c *Controller) stopWatch() {
	c.mu.Lock()
	cancel, done := c.cancel, c.done
	c.cancel, c.done = nil, nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
}
