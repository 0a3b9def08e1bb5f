package clinicians

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// ErrNotFound indicates the profile, rule, or exception does not exist.
var ErrNotFound = errors.New("clinicians: not found")

// PgxPool is the subset of pgxpool.Pool the store needs.
type PgxPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store persists clinician profiles and availability in Postgres.
type Store struct {
	pool PgxPool
}

func NewStore(pool PgxPool) *Store {
	if pool == nil {
		return nil
	}
	return &Store{pool: pool}
}

const profileColumns = `
	account_id, specialty, license_number, bio, document_ids,
	latitude, longitude, emergency_opt_in, status, review_note,
	submitted_at, reviewed_at, updated_at`

func scanProfile(row pgx.Row) (*Profile, error) {
	var p Profile
	var docs []byte
	err := row.Scan(&p.AccountID, &p.Specialty, &p.LicenseNumber, &p.Bio, &docs,
		&p.Latitude, &p.Longitude, &p.EmergencyOptIn, &p.Status, &p.ReviewNote,
		&p.SubmittedAt, &p.ReviewedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("clinicians: scan profile: %w", err)
	}
	if len(docs) > 0 {
		if err := json.Unmarshal(docs, &p.DocumentIDs); err != nil {
			return nil, fmt.Errorf("clinicians: decode document ids: %w", err)
		}
	}
	return &p, nil
}

func (s *Store) GetProfile(ctx context.Context, accountID uuid.UUID) (*Profile, error) {
	query := `SELECT ` + profileColumns + ` FROM clinician_profiles WHERE account_id = $1`
	return scanProfile(s.pool.QueryRow(ctx, query, accountID))
}

// SubmitForVerification upserts the clinical profile and moves it to
// pending. Verified profiles keep their status; editing credentials on a
// verified profile re-enters review.
func (s *Store) SubmitForVerification(ctx context.Context, p *Profile) error {
	docs, err := json.Marshal(p.DocumentIDs)
	if err != nil {
		return fmt.Errorf("clinicians: marshal document ids: %w", err)
	}
	query := `
		INSERT INTO clinician_profiles (
			account_id, specialty, license_number, bio, document_ids,
			latitude, longitude, emergency_opt_in, status, submitted_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 'pending', now())
		ON CONFLICT (account_id) DO UPDATE SET
			specialty = EXCLUDED.specialty,
			license_number = EXCLUDED.license_number,
			bio = EXCLUDED.bio,
			document_ids = EXCLUDED.document_ids,
			latitude = EXCLUDED.latitude,
			longitude = EXCLUDED.longitude,
			emergency_opt_in = EXCLUDED.emergency_opt_in,
			status = 'pending',
			review_note = '',
			submitted_at = now(),
			updated_at = now()
	`
	_, err = s.pool.Exec(ctx, query, p.AccountID, p.Specialty, p.LicenseNumber, p.Bio,
		docs, p.Latitude, p.Longitude, p.EmergencyOptIn)
	if err != nil {
		return fmt.Errorf("clinicians: submit for verification: %w", err)
	}
	return nil
}

// SetVerification records an admin decision. Only pending profiles can be
// decided; deciding anything else returns ErrNotFound.
func (s *Store) SetVerification(ctx context.Context, accountID uuid.UUID, status VerificationStatus, note string) error {
	if status != StatusVerified && status != StatusRejected {
		return fmt.Errorf("clinicians: invalid decision %q", status)
	}
	query := `
		UPDATE clinician_profiles
		SET status = $2, review_note = $3, reviewed_at = now(), updated_at = now()
		WHERE account_id = $1 AND status = 'pending'
	`
	ct, err := s.pool.Exec(ctx, query, accountID, status, note)
	if err != nil {
		return fmt.Errorf("clinicians: set verification: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SearchVerified lists verified clinicians, optionally filtered by specialty.
func (s *Store) SearchVerified(ctx context.Context, specialty string, limit, offset int) ([]Profile, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	query := `
		SELECT ` + profileColumns + `
		FROM clinician_profiles
		WHERE status = 'verified' AND ($1 = '' OR specialty = $1)
		ORDER BY updated_at DESC
		LIMIT $2 OFFSET $3
	`
	rows, err := s.pool.Query(ctx, query, specialty, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("clinicians: search verified: %w", err)
	}
	defer rows.Close()

	out := []Profile{}
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

// EmergencyCandidate is a verified, opted-in clinician with coordinates.
type EmergencyCandidate struct {
	AccountID uuid.UUID
	Latitude  float64
	Longitude float64
	Specialty string
}

// ListEmergencyCandidates returns verified clinicians opted into emergency
// dispatch. Distance filtering happens in the caller.
func (s *Store) ListEmergencyCandidates(ctx context.Context) ([]EmergencyCandidate, error) {
	query := `
		SELECT account_id, latitude, longitude, specialty
		FROM clinician_profiles
		WHERE status = 'verified' AND emergency_opt_in
	`
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("clinicians: list emergency candidates: %w", err)
	}
	defer rows.Close()

	var out []EmergencyCandidate
	for rows.Next() {
		var c EmergencyCandidate
		if err := rows.Scan(&c.AccountID, &c.Latitude, &c.Longitude, &c.Specialty); err != nil {
			return nil, fmt.Errorf("clinicians: scan candidate: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) InsertRule(ctx context.Context, r *Rule) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	query := `
		INSERT INTO availability_rules (id, clinician_id, weekday, start_minute, end_minute, slot_minutes, location)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := s.pool.Exec(ctx, query, r.ID, r.ClinicianID, r.Weekday, r.StartMinute, r.EndMinute, r.SlotMinutes, r.Location)
	if err != nil {
		return fmt.Errorf("clinicians: insert rule: %w", err)
	}
	return nil
}

func (s *Store) DeleteRule(ctx context.Context, clinicianID, ruleID uuid.UUID) error {
	query := `DELETE FROM availability_rules WHERE id = $1 AND clinician_id = $2`
	ct, err := s.pool.Exec(ctx, query, ruleID, clinicianID)
	if err != nil {
		return fmt.Errorf("clinicians: delete rule: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) ListRules(ctx context.Context, clinicianID uuid.UUID) ([]Rule, error) {
	query := `
		SELECT id, clinician_id, weekday, start_minute, end_minute, slot_minutes, location
		FROM availability_rules
		WHERE clinician_id = $1
		ORDER BY weekday, start_minute
	`
	rows, err := s.pool.Query(ctx, query, clinicianID)
	if err != nil {
		return nil, fmt.Errorf("clinicians: list rules: %w", err)
	}
	defer rows.Close()

	out := []Rule{}
	for rows.Next() {
		var r Rule
		if err := rows.Scan(&r.ID, &r.ClinicianID, &r.Weekday, &r.StartMinute, &r.EndMinute, &r.SlotMinutes, &r.Location); err != nil {
			return nil, fmt.Errorf("clinicians: scan rule: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) UpsertException(ctx context.Context, e *Exception) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if _, err := time.Parse("2006-01-02", e.Date); err != nil {
		return fmt.Errorf("clinicians: invalid exception date: %w", err)
	}
	query := `
		INSERT INTO availability_exceptions (id, clinician_id, on_date, start_minute, end_minute)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (clinician_id, on_date) DO UPDATE SET
			start_minute = EXCLUDED.start_minute,
			end_minute = EXCLUDED.end_minute
	`
	_, err := s.pool.Exec(ctx, query, e.ID, e.ClinicianID, e.Date, e.StartMinute, e.EndMinute)
	if err != nil {
		return fmt.Errorf("clinicians: upsert exception: %w", err)
	}
	return nil
}

func (s *Store) DeleteException(ctx context.Context, clinicianID uuid.UUID, date string) error {
	query := `DELETE FROM availability_exceptions WHERE clinician_id = $1 AND on_date = $2`
	ct, err := s.pool.Exec(ctx, query, clinicianID, date)
	if err != nil {
		return fmt.Errorf("clinicians: delete exception: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) ListExceptions(ctx context.Context, clinicianID uuid.UUID, from, to string) ([]Exception, error) {
	query := `
		SELECT id, clinician_id, on_date, start_minute, end_minute
		FROM availability_exceptions
		WHERE clinician_id = $1 AND on_date >= $2 AND on_date < $3
		ORDER BY on_date
	`
	rows, err := s.pool.Query(ctx, query, clinicianID, from, to)
	if err != nil {
		return nil, fmt.Errorf("clinicians: list exceptions: %w", err)
	}
	defer rows.Close()

	out := []Exception{}
	for rows.Next() {
		var e Exception
		if err := rows.Scan(&e.ID, &e.ClinicianID, &e.Date, &e.StartMinute, &e.EndMinute); err != nil {
			return nil, fmt.Errorf("clinicians: scan exception: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// IsVerified reports whether the clinician may accept bookings.
func (s *Store) IsVerified(ctx context.Context, accountID uuid.UUID) (bool, error) {
	query := `SELECT 1 FROM clinician_profiles WHERE account_id = $1 AND status = 'verified'`
	var exists int
	if err := s.pool.QueryRow(ctx, query, accountID).Scan(&exists); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("clinicians: check verified: %w", err)
	}
	return true, nil
}
