// Package reconciler applies update channel events to the session store and
// performs the authoritative results fetch on completion.
package reconciler

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/xleos/studio/internal/storyboard/domain"
	"github.com/xleos/studio/internal/storyboard/session"
)

var (
	transitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "xleos_submission_transitions_total",
			Help: "Submission status transitions applied to the session store.",
		},
		[]string{"status"},
	)
	resultFetchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "xleos_result_fetches_total",
			Help: "Authoritative results fetches by outcome.",
		},
		[]string{"outcome"},
	)
)

// ResultsFetcher reads the authoritative state of a submission.
type ResultsFetcher interface {
	Results(ctx context.Context, submissionID string) (*domain.Submission, error)
}

type Reconciler struct {
	store   *session.Store
	fetcher ResultsFetcher
	group   singleflight.Group
	log     *zap.Logger
}

func New(store *session.Store, fetcher ResultsFetcher, logger *zap.Logger) *Reconciler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reconciler{
		store:   store,
		fetcher: fetcher,
		log:     logger.Named("reconciler"),
	}
}

// Apply merges one event into the store. Events for a submission that is no
// longer current return ErrStaleSubmission and change nothing.
func (r *Reconciler) Apply(ctx context.Context, ev domain.Event) error {
	log := r.log.With(zap.String("submission_id", ev.SubmissionID))
	if current := r.store.CurrentID(); current != ev.SubmissionID {
		log.Debug("dropping event for stale submission", zap.String("current_id", current))
		return domain.ErrStaleSubmission
	}

	switch ev.Status {
	case domain.StatusProcessing:
		changed, err := r.store.ApplyProcessing(ev.SubmissionID, ev.Message, ev.Progress)
		if err != nil {
			return err
		}
		if changed {
			transitionsTotal.WithLabelValues(string(domain.StatusProcessing)).Inc()
		}
		return nil

	case domain.StatusCompleted:
		changed, err := r.store.MarkCompleted(ev.SubmissionID)
		if err != nil {
			return err
		}
		if !changed {
			log.Debug("duplicate completed event ignored")
			return nil
		}
		transitionsTotal.WithLabelValues(string(domain.StatusCompleted)).Inc()
		log.Info("submission completed")
		if len(ev.Lines) > 0 {
			if err := r.store.ReplaceLines(ev.SubmissionID, ev.Lines); err != nil {
				return err
			}
		}
		return r.Refresh(ctx, ev.SubmissionID)

	case domain.StatusError:
		msg := ev.Message
		if msg == "" {
			msg = domain.MsgResultsUnavailable
		}
		changed, err := r.store.MarkFailed(ev.SubmissionID, msg)
		if err != nil {
			return err
		}
		if changed {
			transitionsTotal.WithLabelValues(string(domain.StatusError)).Inc()
			log.Info("submission failed", zap.String("message", msg), zap.Bool("synthetic", ev.Synthetic))
		}
		return nil
	}
	return nil
}

// Refresh fetches results and overwrites the lines of the current submission.
// Concurrent calls for the same id share one request. On failure the
// submission keeps its status and a display message is set.
func (r *Reconciler) Refresh(ctx context.Context, submissionID string) error {
	_, err, shared := r.group.Do(submissionID, func() (any, error) {
		start := time.Now()
		sub, err := r.fetcher.Results(ctx, submissionID)
		if err != nil {
			resultFetchesTotal.WithLabelValues("error").Inc()
			r.log.Warn("authoritative results fetch failed",
				zap.String("submission_id", submissionID),
				zap.Duration("duration", time.Since(start)),
				zap.Error(err),
			)
			if serr := r.store.SetMessage(submissionID, domain.MsgFetchFailed); serr != nil && !errors.Is(serr, domain.ErrStaleSubmission) {
				r.log.Debug("set fetch failure message", zap.Error(serr))
			}
			return nil, err
		}
		resultFetchesTotal.WithLabelValues("ok").Inc()
		return nil, r.store.ReplaceLines(submissionID, sub.Lines)
	})
	if shared {
		r.log.Debug("joined in-flight results fetch", zap.String("submission_id", submissionID))
	}
	return err
}

// Run applies events until the channel closes or ctx is done. A stream that
// ends without a terminal event fails the submission.
func (r *Reconciler) Run(ctx context.Context, submissionID string, events <-chan domain.Event) error {
	terminal := false
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				if !terminal {
					r.log.Info("update stream ended before a terminal event", zap.String("submission_id", submissionID))
					err := r.Apply(ctx, domain.Event{
						SubmissionID: submissionID,
						Status:       domain.StatusError,
						Message:      domain.MsgConnectionClosed,
						Synthetic:    true,
						At:           time.Now(),
					})
					if errors.Is(err, domain.ErrStaleSubmission) {
						return nil
					}
					return err
				}
				return nil
			}

			err := r.Apply(ctx, ev)
			if ev.Status.IsTerminal() {
				terminal = true
			}
			if err != nil && !errors.Is(err, domain.ErrStaleSubmission) && ev.Status != domain.StatusCompleted {
				r.log.Warn("apply event", zap.String("submission_id", submissionID), zap.Error(err))
			}
		}
	}
}
