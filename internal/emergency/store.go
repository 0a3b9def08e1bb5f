package emergency

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

var (
	// ErrNotFound indicates the request does not exist.
	ErrNotFound = errors.New("emergency: request not found")
	// ErrAlreadyClaimed indicates another clinician won the claim race or
	// the request is no longer open.
	ErrAlreadyClaimed = errors.New("emergency: request already claimed")
)

// PgxPool is the subset of pgxpool.Pool the store needs.
type PgxPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store persists emergency requests in Postgres.
type Store struct {
	pool PgxPool
}

func NewStore(pool PgxPool) *Store {
	if pool == nil {
		return nil
	}
	return &Store{pool: pool}
}

const requestColumns = `
	id, patient_id, latitude, longitude, complaint, status,
	claimed_by, claimed_at, resolution, closed_at, created_at`

func scanRequest(row pgx.Row) (*Request, error) {
	var req Request
	err := row.Scan(&req.ID, &req.PatientID, &req.Latitude, &req.Longitude,
		&req.Complaint, &req.Status, &req.ClaimedBy, &req.ClaimedAt,
		&req.Resolution, &req.ClosedAt, &req.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("emergency: scan request: %w", err)
	}
	return &req, nil
}

func (s *Store) Insert(ctx context.Context, req *Request) error {
	if req.ID == uuid.Nil {
		req.ID = uuid.New()
	}
	query := `
		INSERT INTO emergency_requests (id, patient_id, latitude, longitude, complaint, status)
		VALUES ($1, $2, $3, $4, $5, 'open')
	`
	_, err := s.pool.Exec(ctx, query, req.ID, req.PatientID, req.Latitude, req.Longitude, req.Complaint)
	if err != nil {
		return fmt.Errorf("emergency: insert request: %w", err)
	}
	req.Status = StatusOpen
	return nil
}

func (s *Store) Get(ctx context.Context, id uuid.UUID) (*Request, error) {
	return scanRequest(s.pool.QueryRow(ctx,
		`SELECT `+requestColumns+` FROM emergency_requests WHERE id = $1`, id))
}

// Claim atomically takes an open request. The status predicate makes the
// first claim win; everyone else gets ErrAlreadyClaimed.
func (s *Store) Claim(ctx context.Context, id, clinicianID uuid.UUID) (*Request, error) {
	query := `
		UPDATE emergency_requests
		SET status = 'claimed', claimed_by = $2, claimed_at = now()
		WHERE id = $1 AND status = 'open'
		RETURNING ` + requestColumns
	req, err := scanRequest(s.pool.QueryRow(ctx, query, id, clinicianID))
	if errors.Is(err, ErrNotFound) {
		// Distinguish a lost race from a request that never existed.
		if _, getErr := s.Get(ctx, id); getErr == nil {
			return nil, ErrAlreadyClaimed
		}
		return nil, ErrNotFound
	}
	return req, err
}

// Close resolves a claimed request.
func (s *Store) Close(ctx context.Context, id uuid.UUID, resolution string) (*Request, error) {
	query := `
		UPDATE emergency_requests
		SET status = 'closed', resolution = $2, closed_at = now()
		WHERE id = $1 AND status = 'claimed'
		RETURNING ` + requestColumns
	req, err := scanRequest(s.pool.QueryRow(ctx, query, id, resolution))
	if errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("emergency: close: request not claimed")
	}
	return req, err
}

// ExpireOlderThan closes open requests that nobody claimed within the TTL.
// The reminder worker calls this on a schedule.
func (s *Store) ExpireOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	query := `
		UPDATE emergency_requests
		SET status = 'expired', closed_at = now()
		WHERE status = 'open' AND created_at < $1
	`
	ct, err := s.pool.Exec(ctx, query, cutoff)
	if err != nil {
		return 0, fmt.Errorf("emergency: expire: %w", err)
	}
	return ct.RowsAffected(), nil
}

// ListOpen returns open requests, oldest first, for the dispatch board.
func (s *Store) ListOpen(ctx context.Context, limit int) ([]Request, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	query := `
		SELECT ` + requestColumns + `
		FROM emergency_requests
		WHERE status = 'open'
		ORDER BY created_at
		LIMIT $1
	`
	rows, err := s.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("emergency: list open: %w", err)
	}
	defer rows.Close()

	out := []Request{}
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *req)
	}
	return out, rows.Err()
}

// HasActiveClaim reports whether the clinician currently holds a claimed
// request from the patient. The chat policy treats this as an active
// consultation.
func (s *Store) HasActiveClaim(ctx context.Context, patientID, clinicianID uuid.UUID) (bool, error) {
	query := `
		SELECT 1 FROM emergency_requests
		WHERE patient_id = $1 AND claimed_by = $2 AND status = 'claimed'
		LIMIT 1
	`
	var one int
	err := s.pool.QueryRow(ctx, query, patientID, clinicianID).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("emergency: check active claim: %w", err)
	}
	return true, nil
}
