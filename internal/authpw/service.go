// Package authpw provides email/password accounts and the password reset flow.
package authpw

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"inkwell/internal/auth"
	"inkwell/internal/store"
)

const (
	MinPasswordLength = 8
	ResetTokenTTL     = time.Hour
	bcryptCost        = 10
)

var (
	ErrMissingFields      = errors.New("missing fields")
	ErrWeakPassword       = fmt.Errorf("password must be at least %d characters", MinPasswordLength)
	ErrEmailTaken         = errors.New("email already used")
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrResetInvalid       = errors.New("token invalid or expired")
)

// UserStore defines the storage interface for auth
type UserStore interface {
	GetUserByEmail(ctx context.Context, email string) (store.User, error)
	CreateUser(ctx context.Context, user store.User) (store.User, error)
	CreatePasswordResetToken(ctx context.Context, token store.PasswordResetToken) error
	RedeemPasswordResetToken(ctx context.Context, tokenHash, passwordHash string, now time.Time) (store.User, error)
}

// Mailer delivers the reset link.
type Mailer interface {
	IsConfigured() bool
	SendPasswordResetEmail(ctx context.Context, to, resetURL string) error
}

// Service provides email/password authentication
type Service struct {
	store   UserStore
	mailer  Mailer
	baseURL string
	now     func() time.Time
}

// NewService creates a new auth service. baseURL prefixes reset links.
func NewService(store UserStore, mailer Mailer, baseURL string) *Service {
	return &Service{
		store:   store,
		mailer:  mailer,
		baseURL: strings.TrimRight(baseURL, "/"),
		now:     time.Now,
	}
}

type RegisterRequest struct {
	Email    string
	Password string
}

// Register creates an account with a bcrypt-hashed password.
func (s *Service) Register(ctx context.Context, req RegisterRequest) (store.User, error) {
	email := store.NormalizeEmail(req.Email)
	if email == "" || req.Password == "" {
		return store.User{}, ErrMissingFields
	}
	if len(req.Password) < MinPasswordLength {
		return store.User{}, ErrWeakPassword
	}

	if _, err := s.store.GetUserByEmail(ctx, email); err == nil {
		return store.User{}, ErrEmailTaken
	} else if !errors.Is(err, sql.ErrNoRows) {
		return store.User{}, fmt.Errorf("lookup user: %w", err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcryptCost)
	if err != nil {
		return store.User{}, fmt.Errorf("hash password: %w", err)
	}

	user, err := s.store.CreateUser(ctx, store.User{Email: email, PasswordHash: string(hash)})
	if errors.Is(err, store.ErrEmailTaken) {
		return store.User{}, ErrEmailTaken
	}
	if err != nil {
		return store.User{}, fmt.Errorf("create user: %w", err)
	}
	return user, nil
}

type SignInRequest struct {
	Email    string
	Password string
}

// SignIn checks credentials. Unknown email and wrong password are indistinguishable.
func (s *Service) SignIn(ctx context.Context, req SignInRequest) (store.User, error) {
	email := store.NormalizeEmail(req.Email)
	if email == "" || req.Password == "" {
		return store.User{}, ErrInvalidCredentials
	}

	user, err := s.store.GetUserByEmail(ctx, email)
	if errors.Is(err, sql.ErrNoRows) {
		return store.User{}, ErrInvalidCredentials
	}
	if err != nil {
		return store.User{}, fmt.Errorf("lookup user: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		return store.User{}, ErrInvalidCredentials
	}
	return user, nil
}

// RequestPasswordReset stores a one-hour token for a known email and mails the link.
// An unknown email returns "" and no error. The raw token is returned for the
// caller to expose when no mail transport is configured.
func (s *Service) RequestPasswordReset(ctx context.Context, email string) (string, error) {
	user, err := s.store.GetUserByEmail(ctx, email)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("lookup user: %w", err)
	}

	token, err := generateToken()
	if err != nil {
		return "", fmt.Errorf("generate reset token: %w", err)
	}

	if err := s.store.CreatePasswordResetToken(ctx, store.PasswordResetToken{
		Email:     user.Email,
		TokenHash: auth.HashToken(token),
		ExpiresAt: s.now().Add(ResetTokenTTL),
	}); err != nil {
		return "", fmt.Errorf("store reset token: %w", err)
	}

	if s.MailConfigured() {
		if err := s.mailer.SendPasswordResetEmail(ctx, user.Email, s.ResetURL(token)); err != nil {
			return "", fmt.Errorf("send reset email: %w", err)
		}
	}
	return token, nil
}

// MailConfigured reports whether reset links are delivered by email.
func (s *Service) MailConfigured() bool {
	return s.mailer != nil && s.mailer.IsConfigured()
}

// ResetURL is the link the user follows to choose a new password.
func (s *Service) ResetURL(token string) string {
	return s.baseURL + "/reset-password?token=" + url.QueryEscape(token)
}

// ResetPasswordRequest contains password reset parameters
type ResetPasswordRequest struct {
	Token    string
	Password string
}

// ResetPassword redeems a reset token; it succeeds at most once per token.
func (s *Service) ResetPassword(ctx context.Context, req ResetPasswordRequest) (store.User, error) {
	token := strings.TrimSpace(req.Token)
	if token == "" {
		return store.User{}, ErrResetInvalid
	}
	if req.Password == "" {
		return store.User{}, ErrMissingFields
	}
	if len(req.Password) < MinPasswordLength {
		return store.User{}, ErrWeakPassword
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcryptCost)
	if err != nil {
		return store.User{}, fmt.Errorf("hash password: %w", err)
	}

	user, err := s.store.RedeemPasswordResetToken(ctx, auth.HashToken(token), string(hash), s.now())
	if errors.Is(err, store.ErrResetTokenInvalid) {
		return store.User{}, ErrResetInvalid
	}
	if err != nil {
		return store.User{}, fmt.Errorf("redeem reset token: %w", err)
	}
	return user, nil
}

// generateToken creates a secure random token
func generateToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
