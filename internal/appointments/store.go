package appointments

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/medpoint/telecare-platform/internal/clinicians"
)

var (
	// ErrNotFound indicates the appointment does not exist.
	ErrNotFound = errors.New("appointments: not found")
	// ErrSlotTaken indicates the clinician already has an appointment
	// overlapping the requested interval.
	ErrSlotTaken = errors.New("appointments: slot already taken")
)

// PgxPool is the subset of pgxpool.Pool the store needs.
type PgxPool interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store persists appointments in Postgres.
type Store struct {
	pool PgxPool
}

func NewStore(pool PgxPool) *Store {
	if pool == nil {
		return nil
	}
	return &Store{pool: pool}
}

const apptColumns = `
	id, patient_id, clinician_id, starts_at, ends_at, status, reason,
	video_room, cancelled_by, cancel_reason, completed_at, created_at, updated_at`

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	err := row.Scan(&a.ID, &a.PatientID, &a.ClinicianID, &a.StartsAt, &a.EndsAt,
		&a.Status, &a.Reason, &a.VideoRoom, &a.CancelledBy, &a.CancelReason,
		&a.CompletedAt, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("appointments: scan: %w", err)
	}
	return &a, nil
}

// lockOverlaps takes row locks on the clinician's live appointments that
// intersect the interval. Concurrent bookings for the same slot serialize
// on these locks, so the overlap check stays correct under races.
func lockOverlaps(ctx context.Context, tx pgx.Tx, clinicianID uuid.UUID, startsAt, endsAt time.Time, excludeID uuid.UUID) error {
	query := `
		SELECT id FROM appointments
		WHERE clinician_id = $1
		  AND status NOT IN ('cancelled', 'completed')
		  AND starts_at < $3 AND ends_at > $2
		  AND id <> $4
		FOR UPDATE
	`
	rows, err := tx.Query(ctx, query, clinicianID, startsAt, endsAt, excludeID)
	if err != nil {
		return fmt.Errorf("appointments: lock overlaps: %w", err)
	}
	defer rows.Close()
	if rows.Next() {
		return ErrSlotTaken
	}
	return rows.Err()
}

// Book inserts the appointment inside a transaction guarded against
// overlapping bookings for the same clinician.
func (s *Store) Book(ctx context.Context, a *Appointment) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("appointments: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := lockOverlaps(ctx, tx, a.ClinicianID, a.StartsAt, a.EndsAt, uuid.Nil); err != nil {
		return err
	}

	query := `
		INSERT INTO appointments (id, patient_id, clinician_id, starts_at, ends_at, status, reason, video_room)
		VALUES ($1, $2, $3, $4, $5, 'booked', $6, $7)
	`
	if _, err := tx.Exec(ctx, query, a.ID, a.PatientID, a.ClinicianID, a.StartsAt, a.EndsAt, a.Reason, a.VideoRoom); err != nil {
		return fmt.Errorf("appointments: insert: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("appointments: commit: %w", err)
	}
	a.Status = StatusBooked
	return nil
}

// Reschedule moves a booked or confirmed appointment to a new interval in
// one transaction, keeping the id and resetting the status to booked.
func (s *Store) Reschedule(ctx context.Context, id uuid.UUID, startsAt, endsAt time.Time) (*Appointment, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("appointments: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	current, err := scanAppointment(tx.QueryRow(ctx,
		`SELECT `+apptColumns+` FROM appointments WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return nil, err
	}
	if current.Status != StatusBooked && current.Status != StatusConfirmed {
		return nil, fmt.Errorf("appointments: cannot reschedule %s appointment", current.Status)
	}

	if err := lockOverlaps(ctx, tx, current.ClinicianID, startsAt, endsAt, id); err != nil {
		return nil, err
	}

	updated, err := scanAppointment(tx.QueryRow(ctx, `
		UPDATE appointments
		SET starts_at = $2, ends_at = $3, status = 'booked', updated_at = now()
		WHERE id = $1
		RETURNING `+apptColumns, id, startsAt, endsAt))
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("appointments: commit: %w", err)
	}
	return updated, nil
}

func (s *Store) Get(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return scanAppointment(s.pool.QueryRow(ctx,
		`SELECT `+apptColumns+` FROM appointments WHERE id = $1`, id))
}

// SetStatus applies a lifecycle transition. The expected current status is
// part of the predicate so stale writers lose.
func (s *Store) SetStatus(ctx context.Context, id uuid.UUID, from, to Status) error {
	var query string
	if to == StatusCompleted {
		query = `
			UPDATE appointments
			SET status = $3, completed_at = now(), updated_at = now()
			WHERE id = $1 AND status = $2
		`
	} else {
		query = `
			UPDATE appointments
			SET status = $3, updated_at = now()
			WHERE id = $1 AND status = $2
		`
	}
	ct, err := s.pool.Exec(ctx, query, id, from, to)
	if err != nil {
		return fmt.Errorf("appointments: set status: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Cancel marks the appointment cancelled, recording who cancelled and why.
// Only booked or confirmed appointments can be cancelled.
func (s *Store) Cancel(ctx context.Context, id, actor uuid.UUID, reason string) error {
	query := `
		UPDATE appointments
		SET status = 'cancelled', cancelled_by = $2, cancel_reason = $3, updated_at = now()
		WHERE id = $1 AND status IN ('booked', 'confirmed')
	`
	ct, err := s.pool.Exec(ctx, query, id, actor, reason)
	if err != nil {
		return fmt.Errorf("appointments: cancel: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// List returns the account's appointments, scoped by which side of the
// appointment they are on.
func (s *Store) List(ctx context.Context, accountID uuid.UUID, asClinician bool, upcoming bool, limit, offset int) ([]Appointment, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	col := "patient_id"
	if asClinician {
		col = "clinician_id"
	}
	cmp, order := "<", "DESC"
	if upcoming {
		cmp, order = ">=", "ASC"
	}
	query := fmt.Sprintf(`
		SELECT %s FROM appointments
		WHERE %s = $1 AND ends_at %s now()
		ORDER BY starts_at %s
		LIMIT $2 OFFSET $3
	`, apptColumns, col, cmp, order)

	rows, err := s.pool.Query(ctx, query, accountID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("appointments: list: %w", err)
	}
	defer rows.Close()

	out := []Appointment{}
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

// ListBusy returns the clinician's live appointment intervals in the window.
// The slot expander subtracts these from availability.
func (s *Store) ListBusy(ctx context.Context, clinicianID uuid.UUID, from, to time.Time) ([]clinicians.Busy, error) {
	query := `
		SELECT starts_at, ends_at FROM appointments
		WHERE clinician_id = $1
		  AND status NOT IN ('cancelled', 'completed')
		  AND starts_at < $3 AND ends_at > $2
		ORDER BY starts_at
	`
	rows, err := s.pool.Query(ctx, query, clinicianID, from, to)
	if err != nil {
		return nil, fmt.Errorf("appointments: list busy: %w", err)
	}
	defer rows.Close()

	var out []clinicians.Busy
	for rows.Next() {
		var b clinicians.Busy
		if err := rows.Scan(&b.StartsAt, &b.EndsAt); err != nil {
			return nil, fmt.Errorf("appointments: scan busy: %w", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// LatestCompletedAt returns when the pair last completed a consultation, or
// nil if they never have. The chat eligibility window is built on this.
func (s *Store) LatestCompletedAt(ctx context.Context, patientID, clinicianID uuid.UUID) (*time.Time, error) {
	query := `
		SELECT max(completed_at) FROM appointments
		WHERE patient_id = $1 AND clinician_id = $2 AND status = 'completed'
	`
	var latest *time.Time
	if err := s.pool.QueryRow(ctx, query, patientID, clinicianID).Scan(&latest); err != nil {
		return nil, fmt.Errorf("appointments: latest completed: %w", err)
	}
	return latest, nil
}

// HasInProgress reports whether the pair has a consultation running right now.
func (s *Store) HasInProgress(ctx context.Context, patientID, clinicianID uuid.UUID) (bool, error) {
	query := `
		SELECT 1 FROM appointments
		WHERE patient_id = $1 AND clinician_id = $2 AND status = 'in_progress'
		LIMIT 1
	`
	var one int
	err := s.pool.QueryRow(ctx, query, patientID, clinicianID).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("appointments: check in progress: %w", err)
	}
	return true, nil
}

// DepositDue reports whether the appointment can take a deposit checkout:
// it belongs to the patient and has not started, completed, or been
// cancelled.
func (s *Store) DepositDue(ctx context.Context, appointmentID, patientID uuid.UUID) (bool, error) {
	query := `
		SELECT 1 FROM appointments
		WHERE id = $1 AND patient_id = $2 AND status IN ('booked', 'confirmed')
	`
	var one int
	err := s.pool.QueryRow(ctx, query, appointmentID, patientID).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("appointments: check deposit due: %w", err)
	}
	return true, nil
}

// HasAnyRelationship reports whether the clinician has ever had a
// non-cancelled appointment with the patient. File access checks use this.
func (s *Store) HasAnyRelationship(ctx context.Context, patientID, clinicianID uuid.UUID) (bool, error) {
	query := `
		SELECT 1 FROM appointments
		WHERE patient_id = $1 AND clinician_id = $2 AND status <> 'cancelled'
		LIMIT 1
	`
	var one int
	err := s.pool.QueryRow(ctx, query, patientID, clinicianID).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("appointments: check relationship: %w", err)
	}
	return true, nil
}
