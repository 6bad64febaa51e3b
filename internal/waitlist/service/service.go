package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/xleos/studio/internal/waitlist/domain"
)

var signupsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "xleos_waitlist_signups_total",
		Help: "Waitlist signup attempts by outcome.",
	},
	[]string{"outcome"},
)

// Sink is the system of record for signups.
type Sink interface {
	Append(ctx context.Context, s domain.Signup) error
}

// Mirror is an optional secondary copy of signups.
type Mirror interface {
	Save(ctx context.Context, s *domain.Signup) error
}

// Guard rejects repeated signups for the same email.
type Guard interface {
	Reserve(ctx context.Context, email string) (bool, error)
	Release(ctx context.Context, email string) error
}

type Service struct {
	sink   Sink
	mirror Mirror
	guard  Guard
	source string
	now    func() time.Time
	log    *zap.Logger
}

// NewService wires the waitlist. mirror and guard may be nil.
func NewService(sink Sink, mirror Mirror, guard Guard, source string, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		sink:   sink,
		mirror: mirror,
		guard:  guard,
		source: source,
		now:    time.Now,
		log:    logger.Named("waitlist"),
	}
}

// Join validates the request and stores the signup.
func (s *Service) Join(ctx context.Context, req domain.Request) (*domain.Signup, error) {
	signup, err := req.Validate()
	if err != nil {
		signupsTotal.WithLabelValues("invalid").Inc()
		return nil, err
	}
	signup.Source = s.source
	signup.Timestamp = s.now().UTC()

	if s.guard != nil {
		ok, err := s.guard.Reserve(ctx, signup.Email)
		switch {
		case err != nil:
			// fail open
			s.log.Warn("dedup guard unavailable", zap.Error(err))
		case !ok:
			signupsTotal.WithLabelValues("duplicate").Inc()
			return nil, domain.ErrDuplicate
		}
	}

	if s.sink == nil {
		return nil, s.fail(ctx, signup.Email, errors.New("no waitlist sink configured"))
	}
	if err := s.sink.Append(ctx, signup); err != nil {
		return nil, s.fail(ctx, signup.Email, err)
	}

	if s.mirror != nil {
		if err := s.mirror.Save(ctx, &signup); err != nil {
			s.log.Warn("waitlist mirror write failed", zap.String("email", signup.Email), zap.Error(err))
		}
	}

	signupsTotal.WithLabelValues("ok").Inc()
	s.log.Info("added waitlist entry", zap.String("name", signup.FullName), zap.String("email", signup.Email))
	return &signup, nil
}

func (s *Service) fail(ctx context.Context, email string, cause error) error {
	signupsTotal.WithLabelValues("error").Inc()
	s.log.Error("failed to append waitlist row", zap.String("email", email), zap.Error(cause))
	if s.guard != nil {
		if err := s.guard.Release(ctx, email); err != nil {
			s.log.Warn("release dedup claim", zap.Error(err))
		}
	}
	return fmt.Errorf("%w: %v", domain.ErrSinkFailed, cause)
}
