package accounts

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// ErrNotFound indicates the requested account does not exist.
var ErrNotFound = errors.New("accounts: not found")

// ErrDuplicateEmail indicates the email is already registered.
var ErrDuplicateEmail = errors.New("accounts: email already registered")

// PgxPool is the subset of pgxpool.Pool the store needs.
type PgxPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store persists accounts and patient profiles in Postgres.
type Store struct {
	pool PgxPool
}

func NewStore(pool PgxPool) *Store {
	if pool == nil {
		return nil
	}
	return &Store{pool: pool}
}

func (s *Store) Insert(ctx context.Context, a *Account) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	a.Email = strings.ToLower(strings.TrimSpace(a.Email))
	query := `
		INSERT INTO accounts (id, email, password_hash, role, display_name, phone)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := s.pool.Exec(ctx, query, a.ID, a.Email, a.PasswordHash, a.Role, a.DisplayName, a.Phone)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrDuplicateEmail
		}
		return fmt.Errorf("accounts: insert: %w", err)
	}
	return nil
}

func (s *Store) GetByEmail(ctx context.Context, email string) (*Account, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	query := `
		SELECT id, email, password_hash, role, display_name, phone, created_at
		FROM accounts
		WHERE email = $1
	`
	var a Account
	err := s.pool.QueryRow(ctx, query, email).Scan(
		&a.ID, &a.Email, &a.PasswordHash, &a.Role, &a.DisplayName, &a.Phone, &a.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("accounts: get by email: %w", err)
	}
	return &a, nil
}

func (s *Store) Get(ctx context.Context, id uuid.UUID) (*Account, error) {
	query := `
		SELECT id, email, password_hash, role, display_name, phone, created_at
		FROM accounts
		WHERE id = $1
	`
	var a Account
	err := s.pool.QueryRow(ctx, query, id).Scan(
		&a.ID, &a.Email, &a.PasswordHash, &a.Role, &a.DisplayName, &a.Phone, &a.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("accounts: get: %w", err)
	}
	return &a, nil
}

func (s *Store) UpdateContact(ctx context.Context, id uuid.UUID, displayName, phone string) error {
	query := `
		UPDATE accounts
		SET display_name = $2, phone = $3
		WHERE id = $1
	`
	ct, err := s.pool.Exec(ctx, query, id, displayName, phone)
	if err != nil {
		return fmt.Errorf("accounts: update contact: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) GetPatientProfile(ctx context.Context, accountID uuid.UUID) (*PatientProfile, error) {
	query := `
		SELECT account_id, date_of_birth, sex, address_line, city, postal_code,
		       emergency_contact, updated_at
		FROM patient_profiles
		WHERE account_id = $1
	`
	var p PatientProfile
	err := s.pool.QueryRow(ctx, query, accountID).Scan(
		&p.AccountID, &p.DateOfBirth, &p.Sex, &p.AddressLine, &p.City,
		&p.PostalCode, &p.EmergencyContact, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("accounts: get patient profile: %w", err)
	}
	return &p, nil
}

func (s *Store) UpsertPatientProfile(ctx context.Context, p *PatientProfile) error {
	query := `
		INSERT INTO patient_profiles (account_id, date_of_birth, sex, address_line, city, postal_code, emergency_contact)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (account_id) DO UPDATE SET
			date_of_birth = EXCLUDED.date_of_birth,
			sex = EXCLUDED.sex,
			address_line = EXCLUDED.address_line,
			city = EXCLUDED.city,
			postal_code = EXCLUDED.postal_code,
			emergency_contact = EXCLUDED.emergency_contact,
			updated_at = now()
	`
	_, err := s.pool.Exec(ctx, query, p.AccountID, p.DateOfBirth, p.Sex, p.AddressLine,
		p.City, p.PostalCode, p.EmergencyContact)
	if err != nil {
		return fmt.Errorf("accounts: upsert patient profile: %w", err)
	}
	return nil
}
