package repository

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/xleos/studio/internal/waitlist/domain"
)

const schema = `
CREATE TABLE IF NOT EXISTS waitlist_signups (
	id          UUID PRIMARY KEY,
	full_name   TEXT NOT NULL,
	email       TEXT NOT NULL UNIQUE,
	role        TEXT NOT NULL,
	company     TEXT NOT NULL DEFAULT '',
	use_case    TEXT NOT NULL,
	source      TEXT NOT NULL,
	signed_up_at TIMESTAMPTZ NOT NULL,
	updated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`

// PostgresRepository mirrors waitlist signups into PostgreSQL.
type PostgresRepository struct {
	db *sql.DB
}

func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// EnsureSchema creates the signups table if it does not exist.
func (r *PostgresRepository) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create waitlist schema: %w", err)
	}
	return nil
}

// Save upserts a signup keyed by email.
func (r *PostgresRepository) Save(ctx context.Context, s *domain.Signup) error {
	if s.ID == "" {
		s.ID = uuid.New().String()
	}

	query := `
		INSERT INTO waitlist_signups (
			id, full_name, email, role, company, use_case, source, signed_up_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (email) DO UPDATE SET
			full_name = EXCLUDED.full_name,
			role = EXCLUDED.role,
			company = EXCLUDED.company,
			use_case = EXCLUDED.use_case,
			updated_at = NOW()
		RETURNING id
	`

	var id string
	err := r.db.QueryRowContext(ctx, query,
		s.ID,
		s.FullName,
		s.Email,
		s.Role,
		s.Company,
		s.Use,
		s.Source,
		s.Timestamp,
	).Scan(&id)
	if err != nil {
		return fmt.Errorf("failed to save waitlist signup: %w", err)
	}
	s.ID = id
	return nil
}

// Count returns the number of stored signups.
func (r *PostgresRepository) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM waitlist_signups`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count waitlist signups: %w", err)
	}
	return n, nil
}

const countTimeout = 2 * time.Second

// SignupsGauge reports the mirrored signup count on each scrape. A failed
// query reports NaN.
func (r *PostgresRepository) SignupsGauge() prometheus.GaugeFunc {
	return prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "xleos_waitlist_mirror_signups",
			Help: "Signups stored in the Postgres waitlist mirror.",
		},
		func() float64 {
			ctx, cancel := context.WithTimeout(context.Background(), countTimeout)
			defer cancel()
			n, err := r.Count(ctx)
			if err != nil {
				return math.NaN()
			}
			return float64(n)
		},
	)
}
