package app

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"inkwell/internal/access"
	"inkwell/internal/export"
	"inkwell/internal/revisions"
	"inkwell/internal/store"
)

// DocumentView is a document as seen by one caller.
type DocumentView struct {
	store.Document
	Role     access.Role `json:"role"`
	CanEdit  bool        `json:"canEdit"`
	ShareURL string      `json:"shareUrl"`
}

type ShareInput struct {
	DocumentID string
	Email      string
	CanEdit    bool
}

func (s Session) Principal() access.Principal {
	return access.Principal{UserID: s.UserID}
}

// authorize loads the document and runs the access predicate for capability.
func (s *Service) authorize(ctx context.Context, principal access.Principal, documentID string, capability access.Capability) (store.Document, access.Decision, error) {
	doc, err := s.store.GetDocument(ctx, documentID)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Document{}, access.Decision{}, notFound("Document not found")
	}
	if err != nil {
		return store.Document{}, access.Decision{}, err
	}

	var grant *access.Grant
	if !principal.Anonymous() && principal.UserID != doc.AuthorID {
		share, err := s.store.GetSharedAccess(ctx, doc.ID, principal.UserID)
		switch {
		case err == nil:
			grant = access.GrantFrom(share)
		case !errors.Is(err, sql.ErrNoRows):
			return store.Document{}, access.Decision{}, err
		}
	}

	decision := access.Decide(principal, doc, grant, capability)
	if !decision.Allowed {
		return doc, decision, forbidden(decision.Reason)
	}
	return doc, decision, nil
}

// ListDocuments returns what the caller authored, was shared, or can read publicly.
func (s *Service) ListDocuments(ctx context.Context, session Session) ([]store.Document, error) {
	return s.store.ListDocumentsForUser(ctx, session.UserID)
}

// GetDocument returns the document if the principal may view it. Anonymous
// principals only see PUBLIC documents.
func (s *Service) GetDocument(ctx context.Context, principal access.Principal, documentID string) (DocumentView, error) {
	doc, decision, err := s.authorize(ctx, principal, documentID, access.CapabilityView)
	if err != nil {
		return DocumentView{}, err
	}
	return DocumentView{
		Document: doc,
		Role:     decision.Role,
		CanEdit:  access.Can(decision.Role, access.CapabilityEdit),
		ShareURL: s.ShareURL(doc.ID),
	}, nil
}

func (s *Service) ShareURL(documentID string) string {
	return s.cfg.PublicBaseURL + "/documents/" + documentID
}

// CreateDocument stores a new PRIVATE document owned by the caller.
func (s *Service) CreateDocument(ctx context.Context, session Session, title, content string) (store.Document, error) {
	if strings.TrimSpace(title) == "" {
		title = store.DefaultDocumentTitle
	}
	doc, err := s.store.CreateDocument(ctx, store.Document{
		Title:      title,
		Content:    content,
		Visibility: store.VisibilityPrivate,
		AuthorID:   session.UserID,
	})
	if err != nil {
		return store.Document{}, err
	}
	s.recordRevision(ctx, session, doc, "Create document")
	return doc, nil
}

// UpdateDocument applies a partial title/content save. Concurrent saves are
// last-write-wins.
func (s *Service) UpdateDocument(ctx context.Context, session Session, documentID string, patch store.DocumentPatch) (store.Document, error) {
	if patch.Empty() {
		return store.Document{}, validationError("No fields to update", nil)
	}
	if _, _, err := s.authorize(ctx, session.Principal(), documentID, access.CapabilityEdit); err != nil {
		return store.Document{}, err
	}

	doc, err := s.store.UpdateDocument(ctx, documentID, patch)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Document{}, notFound("Document not found")
	}
	if err != nil {
		return store.Document{}, err
	}
	s.recordRevision(ctx, session, doc, "")
	return doc, nil
}

// SetVisibility changes the access policy. Only the author may do this.
func (s *Service) SetVisibility(ctx context.Context, session Session, documentID, raw string) (store.Document, error) {
	visibility, ok := store.ParseVisibility(raw)
	if !ok {
		return store.Document{}, validationError("Invalid visibility value", map[string]any{
			"allowed": []store.Visibility{store.VisibilityPrivate, store.VisibilityPublic, store.VisibilityShared},
		})
	}
	if _, _, err := s.authorize(ctx, session.Principal(), documentID, access.CapabilityManage); err != nil {
		var domainErr *DomainError
		if errors.As(err, &domainErr) && domainErr.Status == http.StatusForbidden {
			return store.Document{}, forbidden("Only the document author can change visibility")
		}
		return store.Document{}, err
	}

	doc, err := s.store.UpdateDocumentVisibility(ctx, documentID, visibility)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Document{}, notFound("Document not found")
	}
	return doc, err
}

// DeleteDocument removes the document with its shares, mentions and history.
func (s *Service) DeleteDocument(ctx context.Context, session Session, documentID string) error {
	if _, _, err := s.authorize(ctx, session.Principal(), documentID, access.CapabilityManage); err != nil {
		return err
	}
	if err := s.store.DeleteDocument(ctx, documentID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return notFound("Document not found")
		}
		return err
	}
	if s.revisions != nil {
		if err := s.revisions.Remove(documentID); err != nil {
			zerolog.Ctx(ctx).Warn().Err(err).Str("document_id", documentID).Msg("remove revision history")
		}
	}
	return nil
}

// ShareDocument grants or updates a user's access. The target user is resolved
// first, then the caller must be able to manage the document.
func (s *Service) ShareDocument(ctx context.Context, session Session, input ShareInput) (store.SharedAccess, error) {
	target, err := s.store.GetUserByEmail(ctx, input.Email)
	if errors.Is(err, sql.ErrNoRows) {
		return store.SharedAccess{}, notFound("User not found")
	}
	if err != nil {
		return store.SharedAccess{}, err
	}

	doc, _, err := s.authorize(ctx, session.Principal(), input.DocumentID, access.CapabilityManage)
	if err != nil {
		return store.SharedAccess{}, err
	}
	if target.ID == doc.AuthorID {
		return store.SharedAccess{}, validationError("The author already has full access", nil)
	}

	share, err := s.store.UpsertSharedAccess(ctx, store.SharedAccess{
		DocumentID: doc.ID,
		UserID:     target.ID,
		CanEdit:    input.CanEdit,
	})
	if err != nil {
		return store.SharedAccess{}, err
	}
	share.UserEmail = target.Email
	return share, nil
}

func (s *Service) ListShares(ctx context.Context, session Session, documentID string) ([]store.SharedAccess, error) {
	if _, _, err := s.authorize(ctx, session.Principal(), documentID, access.CapabilityManage); err != nil {
		return nil, err
	}
	return s.store.ListSharedAccess(ctx, documentID)
}

func (s *Service) RevokeShare(ctx context.Context, session Session, documentID, userID string) error {
	if _, _, err := s.authorize(ctx, session.Principal(), documentID, access.CapabilityManage); err != nil {
		return err
	}
	err := s.store.DeleteSharedAccess(ctx, documentID, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return notFound("Share not found")
	}
	return err
}

// MentionUsers records mentions, auto-shares read access and notifies each
// existing user in one transaction. Repeated ids count once.
func (s *Service) MentionUsers(ctx context.Context, session Session, documentID string, userIDs []string) (store.MentionResult, error) {
	ids := uniqueIDs(userIDs)
	if len(ids) == 0 {
		return store.MentionResult{}, validationError("mentionedUserIds must be a non-empty array", nil)
	}
	doc, _, err := s.authorize(ctx, session.Principal(), documentID, access.CapabilityMention)
	if err != nil {
		return store.MentionResult{}, err
	}

	result, err := s.store.ApplyMentions(ctx, store.MentionBatch{
		DocumentID:    doc.ID,
		DocumentTitle: doc.Title,
		AuthorID:      doc.AuthorID,
		ActorEmail:    session.Email,
		UserIDs:       ids,
	})
	if err != nil {
		return store.MentionResult{}, err
	}
	s.metrics.ObserveMentions(result.Mentions, result.AutoShared, result.Notifications)
	return result, nil
}

func uniqueIDs(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// recordRevision snapshots a saved document. Postgres stays the source of
// truth, so a failed commit is logged and counted but never fails the save.
func (s *Service) recordRevision(ctx context.Context, session Session, doc store.Document, message string) {
	if s.revisions == nil {
		return
	}
	_, _, err := s.revisions.Record(doc.ID, revisions.Snapshot{Title: doc.Title, Content: doc.Content}, session.Email, message)
	if err != nil {
		s.metrics.RevisionCommitFailed()
		zerolog.Ctx(ctx).Warn().Err(err).Str("document_id", doc.ID).Msg("record revision")
		return
	}
	// A delete that finished while the commit was written leaves an orphan repo.
	if _, err := s.store.GetDocument(ctx, doc.ID); errors.Is(err, sql.ErrNoRows) {
		if err := s.revisions.Remove(doc.ID); err != nil {
			zerolog.Ctx(ctx).Warn().Err(err).Str("document_id", doc.ID).Msg("remove orphan revision history")
		}
	}
}

func (s *Service) ListRevisions(ctx context.Context, principal access.Principal, documentID string, limit int) ([]revisions.Revision, error) {
	if _, _, err := s.authorize(ctx, principal, documentID, access.CapabilityView); err != nil {
		return nil, err
	}
	if s.revisions == nil {
		return []revisions.Revision{}, nil
	}
	return s.revisions.History(documentID, limit)
}

type RevisionView struct {
	revisions.Revision
	Title   string `json:"title"`
	Content string `json:"content"`
}

func (s *Service) GetRevision(ctx context.Context, principal access.Principal, documentID, hash string) (RevisionView, error) {
	if _, _, err := s.authorize(ctx, principal, documentID, access.CapabilityView); err != nil {
		return RevisionView{}, err
	}
	if s.revisions == nil {
		return RevisionView{}, notFound("Revision not found")
	}
	snap, rev, err := s.revisions.Get(documentID, hash)
	if errors.Is(err, revisions.ErrNotFound) {
		return RevisionView{}, notFound("Revision not found")
	}
	if err != nil {
		return RevisionView{}, err
	}
	return RevisionView{Revision: rev, Title: snap.Title, Content: snap.Content}, nil
}

// ExportDocument renders a viewable document for download.
func (s *Service) ExportDocument(ctx context.Context, principal access.Principal, documentID string, format export.Format) (*export.Result, error) {
	doc, _, err := s.authorize(ctx, principal, documentID, access.CapabilityView)
	if err != nil {
		return nil, err
	}
	if s.exporter == nil {
		return nil, domainError(http.StatusNotImplemented, "EXPORT_UNAVAILABLE", "Export is not available", nil)
	}

	result, err := s.exporter.Export(ctx, export.Document{
		Title:       doc.Title,
		ContentHTML: doc.Content,
		Author:      doc.Author.Email,
		UpdatedAt:   doc.UpdatedAt,
	}, format)
	switch {
	case errors.Is(err, export.ErrPDFDependencyMissing), errors.Is(err, export.ErrDOCXDependencyMissing):
		return nil, domainError(http.StatusNotImplemented, "EXPORT_UNAVAILABLE", "Export runtime is not installed", map[string]any{"format": format})
	case errors.Is(err, export.ErrUnsupportedFormat):
		return nil, validationError("Unsupported export format", nil)
	case err != nil:
		return nil, err
	}
	return result, nil
}
