package updates

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/xleos/studio/internal/backend"
	"github.com/xleos/studio/internal/storyboard/domain"
)

const transportPull = "pull"

// ResultsFetcher reads the authoritative state of a submission.
type ResultsFetcher interface {
	Results(ctx context.Context, submissionID string) (*domain.Submission, error)
}

// Poller is the pull strategy: it requests results at a fixed interval until
// they are terminal or the attempt budget is spent.
type Poller struct {
	fetcher     ResultsFetcher
	interval    time.Duration
	maxAttempts int
	log         *zap.Logger
}

func NewPoller(fetcher ResultsFetcher, interval time.Duration, maxAttempts int, logger *zap.Logger) *Poller {
	if logger == nil {
		logger = zap.NewNop()
	}
	if maxAttempts <= 0 {
		maxAttempts = 30
	}
	return &Poller{
		fetcher:     fetcher,
		interval:    interval,
		maxAttempts: maxAttempts,
		log:         logger.Named("poller"),
	}
}

func (p *Poller) Subscribe(ctx context.Context, submissionID string) (<-chan domain.Event, error) {
	out := make(chan domain.Event, 1)
	go p.run(ctx, submissionID, out)
	return out, nil
}

func (p *Poller) run(ctx context.Context, id string, out chan<- domain.Event) {
	defer close(out)
	log := p.log.With(zap.String("submission_id", id))

	timer := time.NewTimer(0)
	defer timer.Stop()

	for attempt := 1; attempt <= p.maxAttempts; attempt++ {
		if attempt > 1 {
			timer.Reset(p.interval)
		}
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		sub, err := p.fetcher.Results(ctx, id)
		switch {
		case ctx.Err() != nil:
			return
		case errors.Is(err, domain.ErrNotReady):
			if !emit(ctx, out, transportPull, processing(id, domain.MsgCheckingResults)) {
				return
			}
			continue
		case errors.Is(err, backend.ErrMalformedPayload):
			log.Debug("ignoring malformed results payload", zap.Int("attempt", attempt), zap.Error(err))
			continue
		case err != nil:
			log.Warn("results poll failed, retrying", zap.Int("attempt", attempt), zap.Error(err))
			continue
		}

		ev := domain.Event{
			SubmissionID: id,
			Status:       sub.Status,
			Message:      sub.Message,
		}
		switch sub.Status {
		case domain.StatusCompleted:
			ev.Lines = sub.Lines
		case domain.StatusProcessing:
			if ev.Message == "" {
				ev.Message = domain.MsgCheckingResults
			}
		}
		if !emit(ctx, out, transportPull, ev) {
			return
		}
		if sub.Status.IsTerminal() {
			return
		}
	}

	log.Info("results still not available, giving up", zap.Int("attempts", p.maxAttempts))
	emit(ctx, out, transportPull, domain.Event{
		SubmissionID: id,
		Status:       domain.StatusError,
		Message:      domain.MsgResultsUnavailable,
		Synthetic:    true,
	})
}

func processing(id, msg string) domain.Event {
	return domain.Event{SubmissionID: id, Status: domain.StatusProcessing, Message: msg}
}
