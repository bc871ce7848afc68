package store

import (
	"context"
	"database/sql"
	"fmt"

	sq "github.com/Masterminds/squirrel"
)

const documentReturning = `
	RETURNING id, title, content, visibility, author_id,
		(SELECT email FROM users WHERE users.id = documents.author_id),
		created_at, updated_at`

var documentColumns = []string{
	"d.id", "d.title", "d.content", "d.visibility", "d.author_id", "u.email", "d.created_at", "d.updated_at",
}

func scanDocument(row rowScanner) (Document, error) {
	var d Document
	if err := row.Scan(&d.ID, &d.Title, &d.Content, &d.Visibility, &d.AuthorID, &d.Author.Email, &d.CreatedAt, &d.UpdatedAt); err != nil {
		return Document{}, err
	}
	d.Author.ID = d.AuthorID
	return d, nil
}

func (s *PostgresStore) CreateDocument(ctx context.Context, doc Document) (Document, error) {
	if doc.ID == "" {
		doc.ID = newID()
	}
	if doc.Visibility == "" {
		doc.Visibility = VisibilityPrivate
	}
	created, err := scanDocument(s.db.QueryRowContext(ctx, `
		INSERT INTO documents (id, title, content, visibility, author_id)
		VALUES ($1, $2, $3, $4, $5)`+documentReturning,
		doc.ID, doc.Title, doc.Content, doc.Visibility, doc.AuthorID,
	))
	if err != nil {
		return Document{}, fmt.Errorf("insert document: %w", err)
	}
	return created, nil
}

func (s *PostgresStore) GetDocument(ctx context.Context, id string) (Document, error) {
	sqlStr, args, err := psql.Select(documentColumns...).
		From("documents d").
		Join("users u ON u.id = d.author_id").
		Where(sq.Eq{"d.id": id}).
		ToSql()
	if err != nil {
		return Document{}, fmt.Errorf("build document query: %w", err)
	}
	return scanDocument(s.db.QueryRowContext(ctx, sqlStr, args...))
}

// ListDocumentsForUser returns what userID may open: authored, shared with them, or public.
func (s *PostgresStore) ListDocumentsForUser(ctx context.Context, userID string) ([]Document, error) {
	visible := sq.Or{
		sq.Eq{"d.author_id": userID},
		sq.Eq{"d.visibility": string(VisibilityPublic)},
		sq.Expr("EXISTS (SELECT 1 FROM shared_access s WHERE s.document_id = d.id AND s.user_id = ?)", userID),
	}
	sqlStr, args, err := psql.Select(documentColumns...).
		From("documents d").
		Join("users u ON u.id = d.author_id").
		Where(visible).
		OrderBy("d.updated_at DESC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build document listing: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	docs := make([]Document, 0)
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

// UpdateDocument applies the non-nil fields of patch and refreshes updated_at.
func (s *PostgresStore) UpdateDocument(ctx context.Context, id string, patch DocumentPatch) (Document, error) {
	builder := psql.Update("documents").
		Set("updated_at", sq.Expr("NOW()")).
		Where(sq.Eq{"id": id}).
		Suffix(documentReturning)
	if patch.Title != nil {
		builder = builder.Set("title", *patch.Title)
	}
	if patch.Content != nil {
		builder = builder.Set("content", *patch.Content)
	}
	sqlStr, args, err := builder.ToSql()
	if err != nil {
		return Document{}, fmt.Errorf("build document update: %w", err)
	}
	return scanDocument(s.db.QueryRowContext(ctx, sqlStr, args...))
}

func (s *PostgresStore) UpdateDocumentVisibility(ctx context.Context, id string, visibility Visibility) (Document, error) {
	return scanDocument(s.db.QueryRowContext(ctx, `
		UPDATE documents
		SET visibility = $2, updated_at = NOW()
		WHERE id = $1`+documentReturning,
		id, visibility,
	))
}

// DeleteDocument removes the document; shares and mentions go with it through the foreign keys.
func (s *PostgresStore) DeleteDocument(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete document rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}
