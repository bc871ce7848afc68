package app

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"inkwell/internal/access"
	"inkwell/internal/blob"
	"inkwell/internal/export"
	"inkwell/internal/store"
)

type documentRequest struct {
	Title   *string `json:"title" validate:"omitempty,max=500"`
	Content *string `json:"content"`
}

type visibilityRequest struct {
	Visibility string `json:"visibility" validate:"required,oneof=PRIVATE PUBLIC SHARED"`
}

type shareRequest struct {
	DocumentID string `json:"documentId" validate:"required"`
	Email      string `json:"email" validate:"required,email"`
	CanEdit    bool   `json:"canEdit"`
}

type mentionRequest struct {
	MentionedUserIDs []string `json:"mentionedUserIds"`
}

// handleDocumentReads serves the GET routes that anonymous callers may use
// on PUBLIC documents.
func (s *HTTPServer) handleDocumentReads(w http.ResponseWriter, r *http.Request, principal access.Principal, parts []string) {
	documentID := parts[2]

	if len(parts) == 3 {
		view, err := s.service.GetDocument(r.Context(), principal, documentID)
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, view)
		return
	}

	if len(parts) == 4 && parts[3] == "revisions" {
		items, err := s.service.ListRevisions(r.Context(), principal, documentID, queryInt(r, "limit", 50))
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, items)
		return
	}

	if len(parts) == 5 && parts[3] == "revisions" {
		revision, err := s.service.GetRevision(r.Context(), principal, documentID, parts[4])
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, revision)
		return
	}

	if len(parts) == 4 && parts[3] == "export" {
		format, ok := export.ParseFormat(strings.ToLower(strings.TrimSpace(r.URL.Query().Get("format"))))
		if !ok {
			writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "Unsupported export format", map[string]any{
				"allowed": []export.Format{export.FormatHTML, export.FormatPDF, export.FormatDOCX},
			})
			return
		}
		result, err := s.service.ExportDocument(r.Context(), principal, documentID, format)
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		w.Header().Set("Content-Type", result.MimeType)
		w.Header().Set("Content-Disposition", `attachment; filename="`+result.Filename+`"`)
		w.Header().Set("Content-Length", strconv.Itoa(len(result.Data)))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(result.Data)
		return
	}

	if len(parts) == 4 && parts[3] == "shares" {
		session, ok := s.requireSession(w, r)
		if !ok {
			return
		}
		shares, err := s.service.ListShares(r.Context(), session, documentID)
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, shares)
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Route not found", nil)
}

func (s *HTTPServer) handleDocuments(w http.ResponseWriter, r *http.Request, session Session, parts []string) {
	if len(parts) == 2 && r.Method == http.MethodGet {
		docs, err := s.service.ListDocuments(r.Context(), session)
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, docs)
		return
	}

	if len(parts) == 2 && r.Method == http.MethodPost {
		var body documentRequest
		if !decodeRequest(w, r, &body) {
			return
		}
		doc, err := s.service.CreateDocument(r.Context(), session, deref(body.Title), deref(body.Content))
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, doc)
		return
	}

	if len(parts) == 3 && parts[2] == "create" && r.Method == http.MethodPost {
		doc, err := s.service.CreateDocument(r.Context(), session, "", "")
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, doc)
		return
	}

	if len(parts) < 3 {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Route not found", nil)
		return
	}
	documentID := parts[2]

	if len(parts) == 3 && r.Method == http.MethodPut {
		var body documentRequest
		if !decodeRequest(w, r, &body) {
			return
		}
		doc, err := s.service.UpdateDocument(r.Context(), session, documentID, store.DocumentPatch{Title: body.Title, Content: body.Content})
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, doc)
		return
	}

	if len(parts) == 3 && r.Method == http.MethodDelete {
		if err := s.service.DeleteDocument(r.Context(), session, documentID); err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"message": "Document deleted successfully"})
		return
	}

	if len(parts) == 4 && parts[3] == "mentions" && r.Method == http.MethodPost {
		s.handleMentions(w, r, session, documentID)
		return
	}

	if len(parts) == 4 && parts[3] == "update" && r.Method == http.MethodPost {
		var body struct {
			Content *string `json:"content"`
		}
		if !decodeRequest(w, r, &body) {
			return
		}
		doc, err := s.service.UpdateDocument(r.Context(), session, documentID, store.DocumentPatch{Content: body.Content})
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, doc)
		return
	}

	if len(parts) == 4 && parts[3] == "visibility" && r.Method == http.MethodPatch {
		var body visibilityRequest
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		if verr := validateRequest(&body); verr != nil {
			writeError(w, verr.Status, verr.Code, "Invalid visibility value", verr.Details)
			return
		}
		doc, err := s.service.SetVisibility(r.Context(), session, documentID, body.Visibility)
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "document": doc})
		return
	}

	if len(parts) == 5 && parts[3] == "shares" && r.Method == http.MethodDelete {
		if err := s.service.RevokeShare(r.Context(), session, documentID, parts[4]); err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"success": true})
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Route not found", nil)
}

// handleMentions runs after the session check. An empty or malformed list is a 400.
func (s *HTTPServer) handleMentions(w http.ResponseWriter, r *http.Request, session Session, documentID string) {
	var body mentionRequest
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", "mentionedUserIds must be a non-empty array", nil)
		return
	}
	if len(body.MentionedUserIDs) == 0 {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "mentionedUserIds must be a non-empty array", nil)
		return
	}

	result, err := s.service.MentionUsers(r.Context(), session, documentID, body.MentionedUserIDs)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":       true,
		"mentions":      result.Mentions,
		"autoShared":    result.AutoShared,
		"notifications": result.Notifications,
	})
}

func (s *HTTPServer) handleShare(w http.ResponseWriter, r *http.Request, session Session) {
	var body shareRequest
	if !decodeRequest(w, r, &body) {
		return
	}
	share, err := s.service.ShareDocument(r.Context(), session, ShareInput{
		DocumentID: body.DocumentID,
		Email:      body.Email,
		CanEdit:    body.CanEdit,
	})
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "share": share})
}

func (s *HTTPServer) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, blob.MaxUploadBytes+(1<<20))
	file, _, err := r.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "File exceeds the 10 MiB limit", nil)
			return
		}
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "Missing fields", []fieldError{{Field: "file", Rule: "required"}})
		return
	}
	defer file.Close()

	obj, err := s.service.Upload(r.Context(), file)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"key":         obj.Key,
		"url":         s.service.UploadURL(obj.Key),
		"size":        obj.Size,
		"contentType": obj.ContentType,
	})
}

func (s *HTTPServer) handleGetUpload(w http.ResponseWriter, r *http.Request, key string) {
	rc, obj, err := s.service.OpenUpload(r.Context(), key)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", obj.ContentType)
	w.Header().Set("Content-Length", strconv.FormatInt(obj.Size, 10))
	w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, rc); err != nil {
		zerolog.Ctx(r.Context()).Warn().Err(err).Str("key", key).Msg("stream upload")
	}
}

func storeNotificationFilter(r *http.Request) store.NotificationFilter {
	unread, _ := strconv.ParseBool(r.URL.Query().Get("unread"))
	return store.NotificationFilter{UnreadOnly: unread, Limit: queryInt(r, "limit", 50)}
}

func deref(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}
