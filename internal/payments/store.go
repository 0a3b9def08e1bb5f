package payments

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

var (
	// ErrNotFound indicates the payment does not exist.
	ErrNotFound = errors.New("payments: not found")
	// ErrBadState indicates the payment is not in a state that allows the
	// operation.
	ErrBadState = errors.New("payments: invalid state for operation")
)

// PgxPool is the subset of pgxpool.Pool the store needs.
type PgxPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store persists payments in Postgres.
type Store struct {
	pool PgxPool
}

func NewStore(pool PgxPool) *Store {
	if pool == nil {
		return nil
	}
	return &Store{pool: pool}
}

const paymentColumns = `
	id, appointment_id, patient_id, amount_cents, currency, status,
	provider_ref, refunded_by, refund_reason, created_at, updated_at`

func scanPayment(row pgx.Row) (*Payment, error) {
	var p Payment
	err := row.Scan(&p.ID, &p.AppointmentID, &p.PatientID, &p.AmountCents, &p.Currency,
		&p.Status, &p.ProviderRef, &p.RefundedBy, &p.RefundReason, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("payments: scan: %w", err)
	}
	return &p, nil
}

func (s *Store) Insert(ctx context.Context, p *Payment) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	if p.Currency == "" {
		p.Currency = "eur"
	}
	query := `
		INSERT INTO payments (id, appointment_id, patient_id, amount_cents, currency, status, provider_ref)
		VALUES ($1, $2, $3, $4, $5, 'pending', $6)
	`
	_, err := s.pool.Exec(ctx, query, p.ID, p.AppointmentID, p.PatientID, p.AmountCents, p.Currency, p.ProviderRef)
	if err != nil {
		return fmt.Errorf("payments: insert: %w", err)
	}
	p.Status = StatusPending
	return nil
}

func (s *Store) Get(ctx context.Context, id uuid.UUID) (*Payment, error) {
	return scanPayment(s.pool.QueryRow(ctx,
		`SELECT `+paymentColumns+` FROM payments WHERE id = $1`, id))
}

// GetByAppointment returns the latest payment for the appointment.
func (s *Store) GetByAppointment(ctx context.Context, appointmentID uuid.UUID) (*Payment, error) {
	query := `
		SELECT ` + paymentColumns + `
		FROM payments
		WHERE appointment_id = $1
		ORDER BY created_at DESC
		LIMIT 1
	`
	return scanPayment(s.pool.QueryRow(ctx, query, appointmentID))
}

// MarkPaid settles a pending payment. Replays are harmless: a paid payment
// stays paid.
func (s *Store) MarkPaid(ctx context.Context, id uuid.UUID, providerRef string) (*Payment, error) {
	query := `
		UPDATE payments
		SET status = 'paid', provider_ref = $2, updated_at = now()
		WHERE id = $1 AND status = 'pending'
		RETURNING ` + paymentColumns
	p, err := scanPayment(s.pool.QueryRow(ctx, query, id, providerRef))
	if errors.Is(err, ErrNotFound) {
		// Either missing or already settled. Look it up to tell which.
		existing, getErr := s.Get(ctx, id)
		if getErr != nil {
			return nil, getErr
		}
		if existing.Status == StatusPaid {
			return existing, nil
		}
		return nil, fmt.Errorf("%w: %s", ErrBadState, existing.Status)
	}
	return p, err
}

// MarkFailed records a provider-side failure for a pending payment.
func (s *Store) MarkFailed(ctx context.Context, id uuid.UUID) error {
	query := `
		UPDATE payments
		SET status = 'failed', updated_at = now()
		WHERE id = $1 AND status = 'pending'
	`
	ct, err := s.pool.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("payments: mark failed: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Refund reverses a paid payment, recording who refunded and why.
func (s *Store) Refund(ctx context.Context, id, actor uuid.UUID, reason string) (*Payment, error) {
	query := `
		UPDATE payments
		SET status = 'refunded', refunded_by = $2, refund_reason = $3, updated_at = now()
		WHERE id = $1 AND status = 'paid'
		RETURNING ` + paymentColumns
	p, err := scanPayment(s.pool.QueryRow(ctx, query, id, actor, reason))
	if errors.Is(err, ErrNotFound) {
		existing, getErr := s.Get(ctx, id)
		if getErr != nil {
			return nil, getErr
		}
		return nil, fmt.Errorf("%w: %s", ErrBadState, existing.Status)
	}
	return p, err
}

// ListByPatient returns the patient's payments, newest first.
func (s *Store) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]Payment, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	query := `
		SELECT ` + paymentColumns + `
		FROM payments
		WHERE patient_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`
	rows, err := s.pool.Query(ctx, query, patientID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("payments: list by patient: %w", err)
	}
	defer rows.Close()

	out := []Payment{}
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}
