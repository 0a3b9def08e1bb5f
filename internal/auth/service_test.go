package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"golang.org/x/crypto/bcrypt"

	"github.com/medpoint/telecare-platform/internal/accounts"
)

type stubAccountStore struct {
	byEmail map[string]*accounts.Account
	byID    map[uuid.UUID]*accounts.Account
	inserts []*accounts.Account
}

func newStubAccountStore() *stubAccountStore {
	return &stubAccountStore{
		byEmail: map[string]*accounts.Account{},
		byID:    map[uuid.UUID]*accounts.Account{},
	}
}

func (s *stubAccountStore) add(a *accounts.Account) {
	s.byEmail[a.Email] = a
	s.byID[a.ID] = a
}

func (s *stubAccountStore) Insert(ctx context.Context, a *accounts.Account) error {
	if _, exists := s.byEmail[a.Email]; exists {
		return accounts.ErrDuplicateEmail
	}
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	s.inserts = append(s.inserts, a)
	s.add(a)
	return nil
}

func (s *stubAccountStore) GetByEmail(ctx context.Context, email string) (*accounts.Account, error) {
	a, ok := s.byEmail[email]
	if !ok {
		return nil, accounts.ErrNotFound
	}
	return a, nil
}

func (s *stubAccountStore) Get(ctx context.Context, id uuid.UUID) (*accounts.Account, error) {
	a, ok := s.byID[id]
	if !ok {
		return nil, accounts.ErrNotFound
	}
	return a, nil
}

func newTestService(t *testing.T, store AccountStore, mock pgxmock.PgxPoolIface) *Service {
	t.Helper()
	issuer := NewTokenIssuer("unit-secret", 15*time.Minute, time.Hour)
	return NewService(store, &RefreshStore{pool: mock}, issuer, bcrypt.MinCost, nil)
}

func TestRegisterHashesPassword(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	defer mock.Close()

	store := newStubAccountStore()
	svc := newTestService(t, store, mock)

	account, err := svc.Register(context.Background(), RegisterInput{
		Email:       "pat@example.com",
		Password:    "correct horse",
		Role:        accounts.RolePatient,
		DisplayName: "Pat",
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if account.PasswordHash == "correct horse" || account.PasswordHash == "" {
		t.Error("password must be stored hashed")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(account.PasswordHash), []byte("correct horse")); err != nil {
		t.Errorf("stored hash does not verify: %v", err)
	}
}

func TestRegisterRejectsWeakInput(t *testing.T) {
	mock, _ := pgxmock.NewPool()
	defer mock.Close()
	svc := newTestService(t, newStubAccountStore(), mock)

	cases := []RegisterInput{
		{Email: "", Password: "long enough", Role: accounts.RolePatient, DisplayName: "X"},
		{Email: "a@b.c", Password: "short", Role: accounts.RolePatient, DisplayName: "X"},
		{Email: "a@b.c", Password: "long enough", Role: accounts.RoleAdmin, DisplayName: "X"},
		{Email: "a@b.c", Password: "long enough", Role: accounts.RolePatient, DisplayName: "  "},
	}
	for i, in := range cases {
		if _, err := svc.Register(context.Background(), in); err == nil {
			t.Errorf("case %d: expected validation error", i)
		}
	}
}

func TestLoginIssuesTokensAndPersistsJTI(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	defer mock.Close()

	hash, _ := bcrypt.GenerateFromPassword([]byte("correct horse"), bcrypt.MinCost)
	store := newStubAccountStore()
	account := &accounts.Account{
		ID:           uuid.New(),
		Email:        "pat@example.com",
		PasswordHash: string(hash),
		Role:         accounts.RolePatient,
		DisplayName:  "Pat",
	}
	store.add(account)

	mock.ExpectExec("INSERT INTO refresh_tokens").
		WithArgs(pgxmock.AnyArg(), account.ID, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	svc := newTestService(t, store, mock)
	got, pair, err := svc.Login(context.Background(), "pat@example.com", "correct horse")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if got.ID != account.ID {
		t.Error("wrong account returned")
	}
	if pair.AccessToken == "" || pair.RefreshToken == "" {
		t.Error("expected non-empty token pair")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestLoginWrongPassword(t *testing.T) {
	mock, _ := pgxmock.NewPool()
	defer mock.Close()

	hash, _ := bcrypt.GenerateFromPassword([]byte("correct horse"), bcrypt.MinCost)
	store := newStubAccountStore()
	store.add(&accounts.Account{ID: uuid.New(), Email: "pat@example.com", PasswordHash: string(hash), Role: accounts.RolePatient})

	svc := newTestService(t, store, mock)
	if _, _, err := svc.Login(context.Background(), "pat@example.com", "wrong"); !errors.Is(err, ErrBadCredentials) {
		t.Errorf("err = %v, want ErrBadCredentials", err)
	}
	if _, _, err := svc.Login(context.Background(), "ghost@example.com", "whatever"); !errors.Is(err, ErrBadCredentials) {
		t.Errorf("unknown email err = %v, want ErrBadCredentials", err)
	}
}

func TestRefreshRotatesJTI(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	defer mock.Close()

	store := newStubAccountStore()
	account := &accounts.Account{ID: uuid.New(), Email: "pat@example.com", Role: accounts.RolePatient}
	store.add(account)

	issuer := NewTokenIssuer("unit-secret", 15*time.Minute, time.Hour)
	pair, _, _, err := issuer.Issue(account)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	// Consume the presented jti, then persist the replacement.
	mock.ExpectExec("UPDATE refresh_tokens").
		WithArgs(pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec("INSERT INTO refresh_tokens").
		WithArgs(pgxmock.AnyArg(), account.ID, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	svc := NewService(store, &RefreshStore{pool: mock}, issuer, bcrypt.MinCost, nil)
	next, err := svc.Refresh(context.Background(), pair.RefreshToken)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if next.RefreshToken == pair.RefreshToken {
		t.Error("refresh token was not rotated")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestRefreshRejectsRevokedJTI(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	defer mock.Close()

	store := newStubAccountStore()
	account := &accounts.Account{ID: uuid.New(), Email: "pat@example.com", Role: accounts.RolePatient}
	store.add(account)

	issuer := NewTokenIssuer("unit-secret", 15*time.Minute, time.Hour)
	pair, _, _, err := issuer.Issue(account)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	// Zero rows affected: jti already consumed.
	mock.ExpectExec("UPDATE refresh_tokens").
		WithArgs(pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	svc := NewService(store, &RefreshStore{pool: mock}, issuer, bcrypt.MinCost, nil)
	if _, err := svc.Refresh(context.Background(), pair.RefreshToken); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("err = %v, want ErrInvalidToken", err)
	}
}

func TestParseRefreshRejectsGarbage(t *testing.T) {
	issuer := NewTokenIssuer("unit-secret", time.Minute, time.Hour)
	if _, _, err := issuer.ParseRefresh("not-a-token"); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("err = %v, want ErrInvalidToken", err)
	}
}
