package store

import (
	"context"
	"database/sql"
	"fmt"
)

func (s *PostgresStore) GetSharedAccess(ctx context.Context, documentID, userID string) (SharedAccess, error) {
	var share SharedAccess
	err := s.db.QueryRowContext(ctx, `
		SELECT id, document_id, user_id, can_edit, created_at, updated_at
		FROM shared_access
		WHERE document_id = $1 AND user_id = $2
	`, documentID, userID).Scan(&share.ID, &share.DocumentID, &share.UserID, &share.CanEdit, &share.CreatedAt, &share.UpdatedAt)
	if err != nil {
		return SharedAccess{}, err
	}
	return share, nil
}

// UpsertSharedAccess creates the (document, user) grant or overwrites its canEdit flag.
func (s *PostgresStore) UpsertSharedAccess(ctx context.Context, share SharedAccess) (SharedAccess, error) {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO shared_access (id, document_id, user_id, can_edit)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (document_id, user_id)
		DO UPDATE SET can_edit = EXCLUDED.can_edit, updated_at = NOW()
		RETURNING id, created_at, updated_at
	`, newID(), share.DocumentID, share.UserID, share.CanEdit).Scan(&share.ID, &share.CreatedAt, &share.UpdatedAt)
	if err != nil {
		return SharedAccess{}, fmt.Errorf("upsert shared access: %w", err)
	}
	return share, nil
}

func (s *PostgresStore) ListSharedAccess(ctx context.Context, documentID string) ([]SharedAccess, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT s.id, s.document_id, s.user_id, u.email, s.can_edit, s.created_at, s.updated_at
		FROM shared_access s
		JOIN users u ON u.id = s.user_id
		WHERE s.document_id = $1
		ORDER BY u.email ASC
	`, documentID)
	if err != nil {
		return nil, fmt.Errorf("list shared access: %w", err)
	}
	defer rows.Close()

	shares := make([]SharedAccess, 0)
	for rows.Next() {
		var share SharedAccess
		if err := rows.Scan(&share.ID, &share.DocumentID, &share.UserID, &share.UserEmail, &share.CanEdit, &share.CreatedAt, &share.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan shared access: %w", err)
		}
		shares = append(shares, share)
	}
	return shares, rows.Err()
}

func (s *PostgresStore) DeleteSharedAccess(ctx context.Context, documentID, userID string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM shared_access WHERE document_id = $1 AND user_id = $2`, documentID, userID)
	if err != nil {
		return fmt.Errorf("delete shared access: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete shared access rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// ApplyMentions records a whole mention batch in one transaction. Unknown user ids are
// skipped; any failure rolls back every row of the batch.
func (s *PostgresStore) ApplyMentions(ctx context.Context, batch MentionBatch) (MentionResult, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return MentionResult{}, fmt.Errorf("begin mention tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	title, message := MentionNotificationText(batch.ActorEmail, batch.DocumentTitle)

	var result MentionResult
	for _, userID := range batch.UserIDs {
		var exists bool
		if err := tx.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM users WHERE id = $1)`, userID).Scan(&exists); err != nil {
			return MentionResult{}, fmt.Errorf("check mentioned user: %w", err)
		}
		if !exists {
			continue
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO mentions (id, document_id, mentioned_id) VALUES ($1, $2, $3)
		`, newID(), batch.DocumentID, userID); err != nil {
			return MentionResult{}, fmt.Errorf("insert mention: %w", err)
		}
		result.Mentions++

		if userID != batch.AuthorID {
			shared, err := grantReadAccess(ctx, tx, batch.DocumentID, userID)
			if err != nil {
				return MentionResult{}, err
			}
			if shared {
				result.AutoShared++
			}
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO notifications (id, user_id, type, title, message, document_id, is_read)
			VALUES ($1, $2, $3, $4, $5, $6, FALSE)
		`, newID(), userID, NotificationTypeMention, title, message, batch.DocumentID); err != nil {
			return MentionResult{}, fmt.Errorf("insert notification: %w", err)
		}
		result.Notifications++
	}

	if err := tx.Commit(); err != nil {
		return MentionResult{}, fmt.Errorf("commit mention tx: %w", err)
	}
	return result, nil
}

// grantReadAccess adds a read-only grant unless one already exists; it never downgrades canEdit.
func grantReadAccess(ctx context.Context, q queryer, documentID, userID string) (bool, error) {
	result, err := q.ExecContext(ctx, `
		INSERT INTO shared_access (id, document_id, user_id, can_edit)
		VALUES ($1, $2, $3, FALSE)
		ON CONFLICT (document_id, user_id) DO NOTHING
	`, newID(), documentID, userID)
	if err != nil {
		return false, fmt.Errorf("auto-share document: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("auto-share rows: %w", err)
	}
	return affected > 0, nil
}
