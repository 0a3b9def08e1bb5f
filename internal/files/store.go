package files

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// ErrNotFound indicates the file row does not exist or is deleted.
var ErrNotFound = errors.New("files: not found")

// PgxPool is the subset of pgxpool.Pool the store needs.
type PgxPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store persists file metadata in Postgres.
type Store struct {
	pool PgxPool
}

func NewStore(pool PgxPool) *Store {
	if pool == nil {
		return nil
	}
	return &Store{pool: pool}
}

const fileColumns = `id, owner_id, name, content_type, size_bytes, s3_key, uploaded_at, deleted_at`

func scanFile(row pgx.Row) (*File, error) {
	var f File
	err := row.Scan(&f.ID, &f.OwnerID, &f.Name, &f.ContentType, &f.SizeBytes, &f.Key, &f.UploadedAt, &f.DeletedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("files: scan: %w", err)
	}
	return &f, nil
}

func (s *Store) Insert(ctx context.Context, f *File) error {
	if f.ID == uuid.Nil {
		f.ID = uuid.New()
	}
	query := `
		INSERT INTO patient_files (id, owner_id, name, content_type, size_bytes, s3_key)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := s.pool.Exec(ctx, query, f.ID, f.OwnerID, f.Name, f.ContentType, f.SizeBytes, f.Key)
	if err != nil {
		return fmt.Errorf("files: insert: %w", err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, id uuid.UUID) (*File, error) {
	query := `SELECT ` + fileColumns + ` FROM patient_files WHERE id = $1 AND deleted_at IS NULL`
	return scanFile(s.pool.QueryRow(ctx, query, id))
}

func (s *Store) ListByOwner(ctx context.Context, ownerID uuid.UUID) ([]File, error) {
	query := `
		SELECT ` + fileColumns + `
		FROM patient_files
		WHERE owner_id = $1 AND deleted_at IS NULL
		ORDER BY uploaded_at DESC
	`
	rows, err := s.pool.Query(ctx, query, ownerID)
	if err != nil {
		return nil, fmt.Errorf("files: list by owner: %w", err)
	}
	defer rows.Close()

	out := []File{}
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *f)
	}
	return out, rows.Err()
}

// Delete removes the row entirely.
func (s *Store) Delete(ctx context.Context, id uuid.UUID) error {
	ct, err := s.pool.Exec(ctx, `DELETE FROM patient_files WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("files: delete: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SoftDelete keeps the row but hides it. Used when the S3 delete failed so
// a cleanup job can retry later.
func (s *Store) SoftDelete(ctx context.Context, id uuid.UUID) error {
	query := `UPDATE patient_files SET deleted_at = now() WHERE id = $1 AND deleted_at IS NULL`
	ct, err := s.pool.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("files: soft delete: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
