package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/medpoint/telecare-platform/internal/accounts"
	"github.com/medpoint/telecare-platform/pkg/logging"
)

// ErrBadCredentials is returned for unknown emails and wrong passwords alike.
var ErrBadCredentials = errors.New("auth: bad credentials")

// AccountStore is the slice of accounts.Store the service needs.
type AccountStore interface {
	Insert(ctx context.Context, a *accounts.Account) error
	GetByEmail(ctx context.Context, email string) (*accounts.Account, error)
	Get(ctx context.Context, id uuid.UUID) (*accounts.Account, error)
}

// Service implements registration, login, and refresh rotation.
type Service struct {
	store      AccountStore
	refresh    *RefreshStore
	issuer     *TokenIssuer
	bcryptCost int
	logger     *logging.Logger
}

func NewService(store AccountStore, refresh *RefreshStore, issuer *TokenIssuer, bcryptCost int, logger *logging.Logger) *Service {
	if logger == nil {
		logger = logging.Default()
	}
	if bcryptCost < bcrypt.MinCost || bcryptCost > bcrypt.MaxCost {
		bcryptCost = bcrypt.DefaultCost
	}
	return &Service{
		store:      store,
		refresh:    refresh,
		issuer:     issuer,
		bcryptCost: bcryptCost,
		logger:     logger,
	}
}

// RegisterInput is what a signup form submits.
type RegisterInput struct {
	Email       string        `json:"email"`
	Password    string        `json:"password"`
	Role        accounts.Role `json:"role"`
	DisplayName string        `json:"display_name"`
	Phone       string        `json:"phone"`
}

func (in *RegisterInput) validate() error {
	in.Email = strings.TrimSpace(in.Email)
	if in.Email == "" || !strings.Contains(in.Email, "@") {
		return errors.New("valid email is required")
	}
	if len(in.Password) < 8 {
		return errors.New("password must be at least 8 characters")
	}
	if in.DisplayName = strings.TrimSpace(in.DisplayName); in.DisplayName == "" {
		return errors.New("display_name is required")
	}
	switch in.Role {
	case accounts.RolePatient, accounts.RoleClinician:
	default:
		return errors.New("role must be patient or clinician")
	}
	return nil
}

// Register creates an account. Admin accounts are provisioned out of band,
// never through this endpoint.
func (s *Service) Register(ctx context.Context, in RegisterInput) (*accounts.Account, error) {
	if err := in.validate(); err != nil {
		return nil, fmt.Errorf("auth: register: %w", err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), s.bcryptCost)
	if err != nil {
		return nil, fmt.Errorf("auth: hash password: %w", err)
	}

	account := &accounts.Account{
		Email:        in.Email,
		PasswordHash: string(hash),
		Role:         in.Role,
		DisplayName:  in.DisplayName,
		Phone:        strings.TrimSpace(in.Phone),
	}
	if err := s.store.Insert(ctx, account); err != nil {
		return nil, err
	}

	s.logger.Info("account registered", "account_id", account.ID, "role", account.Role)
	return account, nil
}

// Login verifies credentials and issues a token pair.
func (s *Service) Login(ctx context.Context, email, password string) (*accounts.Account, TokenPair, error) {
	account, err := s.store.GetByEmail(ctx, email)
	if errors.Is(err, accounts.ErrNotFound) {
		// Burn a comparison so unknown emails take as long as wrong passwords.
		_ = bcrypt.CompareHashAndPassword([]byte("$2a$12$000000000000000000000uGZLKQyxQOWqsmVjnNUserEqpF2eIy6"), []byte(password))
		return nil, TokenPair{}, ErrBadCredentials
	}
	if err != nil {
		return nil, TokenPair{}, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(account.PasswordHash), []byte(password)); err != nil {
		return nil, TokenPair{}, ErrBadCredentials
	}

	pair, jti, expiresAt, err := s.issuer.Issue(account)
	if err != nil {
		return nil, TokenPair{}, err
	}
	if err := s.refresh.Insert(ctx, jti, account.ID, expiresAt); err != nil {
		return nil, TokenPair{}, err
	}
	return account, pair, nil
}

// Refresh rotates a refresh token: the presented jti is revoked and a fresh
// pair is issued. A revoked or expired jti yields ErrInvalidToken.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (TokenPair, error) {
	accountID, jti, err := s.issuer.ParseRefresh(refreshToken)
	if err != nil {
		return TokenPair{}, err
	}

	live, err := s.refresh.Consume(ctx, jti)
	if err != nil {
		return TokenPair{}, err
	}
	if !live {
		return TokenPair{}, ErrInvalidToken
	}

	account, err := s.store.Get(ctx, accountID)
	if err != nil {
		return TokenPair{}, ErrInvalidToken
	}

	pair, newJTI, expiresAt, err := s.issuer.Issue(account)
	if err != nil {
		return TokenPair{}, err
	}
	if err := s.refresh.Insert(ctx, newJTI, account.ID, expiresAt); err != nil {
		return TokenPair{}, err
	}
	return pair, nil
}

// Logout revokes all live refresh tokens for the account.
func (s *Service) Logout(ctx context.Context, accountID uuid.UUID) error {
	return s.refresh.RevokeAll(ctx, accountID)
}
