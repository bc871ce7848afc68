package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

func (s *PostgresStore) CreatePasswordResetToken(ctx context.Context, token PasswordResetToken) error {
	if token.ID == "" {
		token.ID = newID()
	}
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO password_reset_tokens (id, email, token_hash, expires_at)
		VALUES ($1, $2, $3, $4)
	`, token.ID, NormalizeEmail(token.Email), token.TokenHash, token.ExpiresAt); err != nil {
		return fmt.Errorf("insert password reset token: %w", err)
	}
	return nil
}

// RedeemPasswordResetToken sets a new password for the token's email and deletes the token,
// all under a row lock so a token is consumed at most once. Unknown or expired tokens return
// ErrResetTokenInvalid without touching users; an expired token is deleted on the way out.
func (s *PostgresStore) RedeemPasswordResetToken(ctx context.Context, tokenHash, passwordHash string, now time.Time) (User, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return User{}, fmt.Errorf("begin reset tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var (
		tokenID   string
		email     string
		expiresAt time.Time
	)
	err = tx.QueryRowContext(ctx, `
		SELECT id, email, expires_at
		FROM password_reset_tokens
		WHERE token_hash = $1
		FOR UPDATE
	`, tokenHash).Scan(&tokenID, &email, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrResetTokenInvalid
	}
	if err != nil {
		return User{}, fmt.Errorf("lookup reset token: %w", err)
	}

	if !expiresAt.After(now) {
		if _, err := tx.ExecContext(ctx, `DELETE FROM password_reset_tokens WHERE id = $1`, tokenID); err != nil {
			return User{}, fmt.Errorf("delete expired reset token: %w", err)
		}
		if err := tx.Commit(); err != nil {
			return User{}, fmt.Errorf("commit expired reset token: %w", err)
		}
		return User{}, ErrResetTokenInvalid
	}

	user, err := scanUser(tx.QueryRowContext(ctx, `
		UPDATE users
		SET password_hash = $2, updated_at = NOW()
		WHERE LOWER(email) = $1
		RETURNING id, email, password_hash, created_at, updated_at
	`, NormalizeEmail(email), passwordHash))
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrResetTokenInvalid
	}
	if err != nil {
		return User{}, fmt.Errorf("update password: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM password_reset_tokens WHERE id = $1`, tokenID); err != nil {
		return User{}, fmt.Errorf("consume reset token: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return User{}, fmt.Errorf("commit reset tx: %w", err)
	}
	return user, nil
}

func (s *PostgresStore) PurgeExpiredResetTokens(ctx context.Context, now time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM password_reset_tokens WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, fmt.Errorf("purge reset tokens: %w", err)
	}
	return result.RowsAffected()
}
