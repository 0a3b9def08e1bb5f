package chat

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
	// ErrNotFound indicates the thread or message does not exist.
	ErrNotFound = errors.New("chat: not found")
)

// PgxPool is the subset of pgxpool.Pool the store needs.
type PgxPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store persists threads, messages, and the block list in Postgres.
type Store struct {
	pool PgxPool
}

func NewStore(pool PgxPool) *Store {
	if pool == nil {
		return nil
	}
	return &Store{pool: pool}
}

const threadColumns = `id, patient_id, clinician_id, created_at`

func scanThread(row pgx.Row) (*Thread, error) {
	var t Thread
	err := row.Scan(&t.ID, &t.PatientID, &t.ClinicianID, &t.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("chat: scan thread: %w", err)
	}
	return &t, nil
}

// EnsureThread returns the pair's thread, creating it on first use. The
// unique (patient_id, clinician_id) index makes concurrent creates converge
// on one row.
func (s *Store) EnsureThread(ctx context.Context, patientID, clinicianID uuid.UUID) (*Thread, error) {
	insert := `
		INSERT INTO chat_threads (id, patient_id, clinician_id)
		VALUES ($1, $2, $3)
		ON CONFLICT (patient_id, clinician_id) DO NOTHING
	`
	if _, err := s.pool.Exec(ctx, insert, uuid.New(), patientID, clinicianID); err != nil {
		return nil, fmt.Errorf("chat: ensure thread: %w", err)
	}
	query := `SELECT ` + threadColumns + ` FROM chat_threads WHERE patient_id = $1 AND clinician_id = $2`
	return scanThread(s.pool.QueryRow(ctx, query, patientID, clinicianID))
}

func (s *Store) GetThread(ctx context.Context, id uuid.UUID) (*Thread, error) {
	return scanThread(s.pool.QueryRow(ctx,
		`SELECT `+threadColumns+` FROM chat_threads WHERE id = $1`, id))
}

// ListThreads returns every thread the account is on, most recent first.
func (s *Store) ListThreads(ctx context.Context, accountID uuid.UUID) ([]Thread, error) {
	query := `
		SELECT ` + threadColumns + `
		FROM chat_threads
		WHERE patient_id = $1 OR clinician_id = $1
		ORDER BY created_at DESC
	`
	rows, err := s.pool.Query(ctx, query, accountID)
	if err != nil {
		return nil, fmt.Errorf("chat: list threads: %w", err)
	}
	defer rows.Close()

	out := []Thread{}
	for rows.Next() {
		t, err := scanThread(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

const messageColumns = `id, thread_id, sender_id, body, dedup_key, created_at, read_at`

func scanMessage(row pgx.Row) (*Message, error) {
	var m Message
	err := row.Scan(&m.ID, &m.ThreadID, &m.SenderID, &m.Body, &m.DedupKey, &m.CreatedAt, &m.ReadAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("chat: scan message: %w", err)
	}
	return &m, nil
}

// InsertMessage writes the message idempotently. The unique
// (thread_id, sender_id, dedup_key) index absorbs retries; when the row
// already exists the original is returned and created is false.
func (s *Store) InsertMessage(ctx context.Context, threadID, senderID uuid.UUID, body, dedupKey string) (*Message, bool, error) {
	insert := `
		INSERT INTO chat_messages (id, thread_id, sender_id, body, dedup_key)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (thread_id, sender_id, dedup_key) DO NOTHING
		RETURNING ` + messageColumns
	msg, err := scanMessage(s.pool.QueryRow(ctx, insert, uuid.New(), threadID, senderID, body, dedupKey))
	if err == nil {
		return msg, true, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, false, err
	}

	// Conflict: hand back the original row.
	query := `
		SELECT ` + messageColumns + `
		FROM chat_messages
		WHERE thread_id = $1 AND sender_id = $2 AND dedup_key = $3
	`
	existing, err := scanMessage(s.pool.QueryRow(ctx, query, threadID, senderID, dedupKey))
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

// ListMessages pages backwards through the thread. A zero before means
// newest messages first from the end.
func (s *Store) ListMessages(ctx context.Context, threadID uuid.UUID, before time.Time, limit int) ([]Message, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	if before.IsZero() {
		before = time.Now().Add(time.Minute)
	}
	query := `
		SELECT ` + messageColumns + `
		FROM chat_messages
		WHERE thread_id = $1 AND created_at < $2
		ORDER BY created_at DESC
		LIMIT $3
	`
	rows, err := s.pool.Query(ctx, query, threadID, before, limit)
	if err != nil {
		return nil, fmt.Errorf("chat: list messages: %w", err)
	}
	defer rows.Close()

	out := []Message{}
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *m)
	}
	return out, rows.Err()
}

// MarkRead stamps every unread message the reader did not send.
func (s *Store) MarkRead(ctx context.Context, threadID, readerID uuid.UUID) (int64, error) {
	query := `
		UPDATE chat_messages
		SET read_at = now()
		WHERE thread_id = $1 AND sender_id <> $2 AND read_at IS NULL
	`
	ct, err := s.pool.Exec(ctx, query, threadID, readerID)
	if err != nil {
		return 0, fmt.Errorf("chat: mark read: %w", err)
	}
	return ct.RowsAffected(), nil
}

// Block stops a patient from messaging the clinician.
func (s *Store) Block(ctx context.Context, clinicianID, patientID uuid.UUID) error {
	query := `
		INSERT INTO chat_blocks (clinician_id, patient_id)
		VALUES ($1, $2)
		ON CONFLICT DO NOTHING
	`
	if _, err := s.pool.Exec(ctx, query, clinicianID, patientID); err != nil {
		return fmt.Errorf("chat: block: %w", err)
	}
	return nil
}

func (s *Store) Unblock(ctx context.Context, clinicianID, patientID uuid.UUID) error {
	query := `DELETE FROM chat_blocks WHERE clinician_id = $1 AND patient_id = $2`
	if _, err := s.pool.Exec(ctx, query, clinicianID, patientID); err != nil {
		return fmt.Errorf("chat: unblock: %w", err)
	}
	return nil
}

// IsBlocked reports whether the clinician has blocked the patient.
func (s *Store) IsBlocked(ctx context.Context, clinicianID, patientID uuid.UUID) (bool, error) {
	query := `SELECT 1 FROM chat_blocks WHERE clinician_id = $1 AND patient_id = $2`
	var one int
	err := s.pool.QueryRow(ctx, query, clinicianID, patientID).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("chat: check block: %w", err)
	}
	return true, nil
}
