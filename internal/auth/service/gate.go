package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xleos/studio/internal/auth/domain"
	"github.com/xleos/studio/internal/backend"
)

// Backend is the subset of the backend API the gate relies on.
type Backend interface {
	UserStatus(ctx context.Context) (*backend.UserStatus, error)
	UserStats(ctx context.Context) (*backend.UserStats, error)
	ExchangeCode(ctx context.Context, code string) (*backend.CallbackResponse, error)
	Logout(ctx context.Context) error
	LoginURLs(ctx context.Context) (backend.AuthURLs, error)
	SignupURLs(ctx context.Context) (backend.AuthURLs, error)
	ClearCookies() error
}

type Options struct {
	// BootstrapRetries is the number of extra status attempts after a code exchange.
	BootstrapRetries int
	RetryDelay       time.Duration
	Authorizer       *Authorizer
}

// Gate owns the session bootstrap state. It is the single writer of the
// session; callers read it through Snapshot.
type Gate struct {
	client Backend
	opts   Options
	log    *zap.Logger

	mu      sync.RWMutex
	session domain.Session
	// generation identifies the latest bootstrap; results from older runs are dropped.
	generation string
}

func NewGate(client Backend, opts Options, logger *zap.Logger) *Gate {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.BootstrapRetries < 0 {
		opts.BootstrapRetries = 0
	}
	return &Gate{
		client: client,
		opts:   opts,
		log:    logger.Named("auth"),
		session: domain.Session{
			State:    domain.StateUninitialized,
			Approval: domain.ApprovalUnknown,
			Quota:    domain.DefaultQuota(),
		},
	}
}

// Snapshot returns a copy of the current session.
func (g *Gate) Snapshot() domain.Session {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.session
}

// IsAuthRoute reports whether route is a dedicated sign in page, where the
// startup status check is skipped.
func IsAuthRoute(route string) bool {
	route = strings.TrimSpace(route)
	if i := strings.IndexAny(route, "?#"); i >= 0 {
		route = route[:i]
	}
	return strings.Contains(route, "/auth/") || route == "/login" || route == "/signup"
}

// Initialize runs the startup check unless route is an auth page.
func (g *Gate) Initialize(ctx context.Context, route string) domain.Session {
	if IsAuthRoute(route) {
		gen := g.begin(domain.StateUnauthenticated)
		g.log.Debug("auth route, skipping status check", zap.String("route", route), zap.String("bootstrap_id", gen))
		return g.Snapshot()
	}
	s, _ := g.Bootstrap(ctx)
	return s
}

// Bootstrap checks the session cookie against the backend and loads the quota.
// An unauthorized response is an expected outcome and is not returned as an error.
func (g *Gate) Bootstrap(ctx context.Context) (domain.Session, error) {
	gen := g.begin(domain.StateChecking)
	err := g.bootstrapOnce(ctx, gen)
	if errors.Is(err, backend.ErrUnauthorized) {
		g.commit(gen, func(s *domain.Session) {
			*s = unauthenticated()
		})
		return g.Snapshot(), nil
	}
	if err != nil {
		g.log.Warn("session bootstrap failed", zap.String("bootstrap_id", gen), zap.Error(err))
		g.commit(gen, func(s *domain.Session) {
			s.State = domain.StateError
			s.Approval = domain.ApprovalUnknown
			s.Err = err
		})
		return g.Snapshot(), err
	}
	return g.Snapshot(), nil
}

// CompleteLogin handles the identity provider redirect. errCode is the
// provider's error parameter, if any.
func (g *Gate) CompleteLogin(ctx context.Context, code, errCode string) (domain.Session, error) {
	gen := g.begin(domain.StateChecking)
	log := g.log.With(zap.String("bootstrap_id", gen))

	fail := func(err error) (domain.Session, error) {
		g.commit(gen, func(s *domain.Session) {
			s.State = domain.StateError
			s.Approval = domain.ApprovalUnknown
			s.Err = err
		})
		return g.Snapshot(), err
	}

	if errCode != "" {
		log.Info("identity provider returned an error", zap.String("error_code", errCode))
		return fail(fmt.Errorf("%w: %s", domain.ErrAuthDenied, errCode))
	}
	if strings.TrimSpace(code) == "" {
		return fail(domain.ErrMissingCode)
	}

	resp, err := g.client.ExchangeCode(ctx, code)
	if err != nil {
		log.Warn("code exchange failed", zap.Error(err))
		return fail(fmt.Errorf("exchange code: %w", err))
	}
	if resp.User != nil {
		g.commit(gen, func(s *domain.Session) {
			s.User = domain.User{Email: resp.User.Email, Name: resp.User.Name}
		})
	}

	attempts := 1 + g.opts.BootstrapRetries
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			if err := sleep(ctx, g.opts.RetryDelay); err != nil {
				return fail(err)
			}
		}
		lastErr = g.bootstrapOnce(ctx, gen)
		if lastErr == nil {
			return g.Snapshot(), nil
		}
		log.Warn("status check after sign in failed",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", attempts),
			zap.Error(lastErr),
		)
	}
	return fail(fmt.Errorf("%w: %v", domain.ErrBootstrapFailed, lastErr))
}

// Logout clears the backend session. Local state is reset even when the
// backend call fails; that error is still returned.
func (g *Gate) Logout(ctx context.Context) error {
	err := g.client.Logout(ctx)
	if err != nil {
		g.log.Warn("backend logout failed, clearing local session anyway", zap.Error(err))
	}
	if cerr := g.client.ClearCookies(); cerr != nil {
		g.log.Warn("clear cookies", zap.Error(cerr))
	}

	g.mu.Lock()
	g.generation = uuid.NewString()
	g.session = unauthenticated()
	g.mu.Unlock()
	return err
}

// RefreshQuota overwrites the local quota with the server's numbers. On failure
// the current value is kept.
func (g *Gate) RefreshQuota(ctx context.Context) (domain.Quota, error) {
	g.mu.RLock()
	gen := g.generation
	g.mu.RUnlock()

	stats, err := g.client.UserStats(ctx)
	if err != nil {
		if !errors.Is(err, backend.ErrUnauthorized) {
			g.log.Warn("quota refresh failed", zap.Error(err))
		}
		return g.Snapshot().Quota, err
	}
	q := quotaFrom(stats)
	g.commit(gen, func(s *domain.Session) { s.Quota = q })
	return g.Snapshot().Quota, nil
}

// RecordSubmission bumps the local usage count right after a successful submit.
// Admins are not counted.
func (g *Gate) RecordSubmission() domain.Quota {
	g.mu.Lock()
	defer g.mu.Unlock()
	q := &g.session.Quota
	if !q.IsAdmin {
		q.Used++
		if q.Remaining > 0 {
			q.Remaining--
		}
	}
	return *q
}

// LoginURL returns where to send the user to sign in or sign up. Backend
// provided URLs win; the locally built authorize URL is the fallback.
func (g *Gate) LoginURL(ctx context.Context, signup bool) (string, error) {
	fetch := g.client.LoginURLs
	if signup {
		fetch = g.client.SignupURLs
	}
	urls, err := fetch(ctx)
	if err == nil {
		if u := urls.Primary(signup); u != "" {
			return u, nil
		}
	} else {
		g.log.Warn("fetch login urls failed", zap.Bool("signup", signup), zap.Error(err))
	}

	if g.opts.Authorizer != nil {
		u, _ := g.opts.Authorizer.AuthCodeURL(signup)
		return u, nil
	}
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrNoLoginURL, err)
	}
	return "", domain.ErrNoLoginURL
}

func (g *Gate) bootstrapOnce(ctx context.Context, gen string) error {
	status, err := g.client.UserStatus(ctx)
	if err != nil {
		if errors.Is(err, backend.ErrUnauthorized) {
			g.log.Debug("no active session", zap.String("bootstrap_id", gen))
		}
		return err
	}

	quota := domain.DefaultQuota()
	stats, err := g.client.UserStats(ctx)
	if err != nil {
		g.log.Warn("quota fetch failed, using default", zap.String("bootstrap_id", gen), zap.Error(err))
	} else {
		quota = quotaFrom(stats)
	}

	g.commit(gen, func(s *domain.Session) {
		s.State = domain.StateAuthenticated
		s.Approval = domain.ApprovalFrom(status.Approved)
		if status.Email != "" || status.Name != "" {
			s.User = domain.User{Email: status.Email, Name: status.Name}
		}
		s.Quota = quota
		s.Err = nil
	})
	return nil
}

// begin starts a new generation and moves to state.
func (g *Gate) begin(state domain.State) string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.generation = uuid.NewString()
	g.session.State = state
	if state == domain.StateUnauthenticated {
		g.session = unauthenticated()
	}
	return g.generation
}

// commit applies fn only if gen is still the latest generation.
func (g *Gate) commit(gen string, fn func(*domain.Session)) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if gen != g.generation {
		g.log.Debug("discarding superseded bootstrap result", zap.String("bootstrap_id", gen))
		return false
	}
	fn(&g.session)
	return true
}

func unauthenticated() domain.Session {
	return domain.Session{
		State:    domain.StateUnauthenticated,
		Approval: domain.ApprovalUnknown,
		Quota:    domain.DefaultQuota(),
	}
}

func quotaFrom(s *backend.UserStats) domain.Quota {
	return domain.Quota{
		Used:      s.SubmissionsUsed,
		Total:     s.TotalAllowed,
		Remaining: s.Remaining,
		IsAdmin:   s.IsAdmin,
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
