package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"inkwell/internal/auth"
	"inkwell/internal/authpw"
	"inkwell/internal/blob"
	"inkwell/internal/config"
	"inkwell/internal/export"
	"inkwell/internal/metrics"
	"inkwell/internal/revisions"
	"inkwell/internal/store"
)

type Session struct {
	Token     string
	UserID    string
	Email     string
	JTI       string
	ExpiresAt time.Time
}

type dataStore interface {
	authpw.UserStore
	GetUserByID(context.Context, string) (store.User, error)
	SearchUsers(context.Context, string, string, int) ([]store.UserSummary, error)
	CreateDocument(context.Context, store.Document) (store.Document, error)
	GetDocument(context.Context, string) (store.Document, error)
	ListDocumentsForUser(context.Context, string) ([]store.Document, error)
	UpdateDocument(context.Context, string, store.DocumentPatch) (store.Document, error)
	UpdateDocumentVisibility(context.Context, string, store.Visibility) (store.Document, error)
	DeleteDocument(context.Context, string) error
	GetSharedAccess(context.Context, string, string) (store.SharedAccess, error)
	UpsertSharedAccess(context.Context, store.SharedAccess) (store.SharedAccess, error)
	ListSharedAccess(context.Context, string) ([]store.SharedAccess, error)
	DeleteSharedAccess(context.Context, string, string) error
	ApplyMentions(context.Context, store.MentionBatch) (store.MentionResult, error)
	ListNotifications(context.Context, string, store.NotificationFilter) ([]store.Notification, error)
	MarkNotificationRead(context.Context, string, string) error
	MarkAllNotificationsRead(context.Context, string) (int64, error)
	Ping(ctx context.Context) error
}

type revocationList interface {
	Revoke(ctx context.Context, jti string, expiresAt time.Time) error
	IsRevoked(ctx context.Context, jti string) (bool, error)
	Ping(ctx context.Context) error
}

type revisionLog interface {
	Record(documentID string, snap revisions.Snapshot, author, message string) (revisions.Revision, bool, error)
	History(documentID string, limit int) ([]revisions.Revision, error)
	Get(documentID, hash string) (revisions.Snapshot, revisions.Revision, error)
	Remove(documentID string) error
}

type exporter interface {
	Export(ctx context.Context, doc export.Document, format export.Format) (*export.Result, error)
}

type blobStore interface {
	Put(ctx context.Context, r io.Reader) (blob.Object, error)
	Get(ctx context.Context, key string) (io.ReadCloser, blob.Object, error)
	Ping(ctx context.Context) error
}

// Dependencies are the collaborators a Service is built from. Revisions,
// Exporter and Uploads may be nil, which turns the matching feature off.
type Dependencies struct {
	Store       dataStore
	Auth        *authpw.Service
	Revocations revocationList
	Revisions   revisionLog
	Exporter    exporter
	Uploads     blobStore
	Metrics     *metrics.Metrics
}

type Service struct {
	cfg         config.Config
	store       dataStore
	auth        *authpw.Service
	revocations revocationList
	revisions   revisionLog
	exporter    exporter
	uploads     blobStore
	metrics     *metrics.Metrics
	now         func() time.Time
}

func New(cfg config.Config, deps Dependencies) *Service {
	return &Service{
		cfg:         cfg,
		store:       deps.Store,
		auth:        deps.Auth,
		revocations: deps.Revocations,
		revisions:   deps.Revisions,
		exporter:    deps.Exporter,
		uploads:     deps.Uploads,
		metrics:     deps.Metrics,
		now:         time.Now,
	}
}

// Register creates an account.
func (s *Service) Register(ctx context.Context, email, password string) (store.User, error) {
	user, err := s.auth.Register(ctx, authpw.RegisterRequest{Email: email, Password: password})
	switch {
	case errors.Is(err, authpw.ErrMissingFields):
		return store.User{}, validationError("Missing fields", nil)
	case errors.Is(err, authpw.ErrWeakPassword):
		return store.User{}, validationError(err.Error(), nil)
	case errors.Is(err, authpw.ErrEmailTaken):
		return store.User{}, domainError(http.StatusBadRequest, "EMAIL_EXISTS", "Email already used", nil)
	case err != nil:
		return store.User{}, err
	}
	return user, nil
}

// SignIn verifies credentials and issues a session token.
func (s *Service) SignIn(ctx context.Context, email, password string) (Session, error) {
	user, err := s.auth.SignIn(ctx, authpw.SignInRequest{Email: email, Password: password})
	if errors.Is(err, authpw.ErrInvalidCredentials) {
		return Session{}, domainError(http.StatusUnauthorized, "INVALID_CREDENTIALS", "Invalid email or password", nil)
	}
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(user)
}

func (s *Service) issueSession(user store.User) (Session, error) {
	token, claims, err := auth.IssueToken([]byte(s.cfg.SessionSecret), user.ID, user.Email, s.cfg.SessionTTL, s.now())
	if err != nil {
		return Session{}, fmt.Errorf("issue token: %w", err)
	}
	return Session{
		Token:     token,
		UserID:    user.ID,
		Email:     user.Email,
		JTI:       claims.JTI,
		ExpiresAt: claims.ExpiresAt,
	}, nil
}

// SessionFromToken verifies a bearer token, checks the revocation list and
// reloads the user so deleted accounts lose access immediately.
func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.SessionSecret), token)
	if err != nil {
		return Session{}, err
	}
	revoked, err := s.revocations.IsRevoked(ctx, claims.JTI)
	if err != nil {
		return Session{}, fmt.Errorf("check revocation: %w", err)
	}
	if revoked {
		return Session{}, auth.ErrInvalidToken
	}

	user, err := s.store.GetUserByID(ctx, claims.UserID)
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, auth.ErrInvalidToken
	}
	if err != nil {
		return Session{}, err
	}

	return Session{
		Token:     token,
		UserID:    user.ID,
		Email:     user.Email,
		JTI:       claims.JTI,
		ExpiresAt: claims.ExpiresAt,
	}, nil
}

// SignOut revokes the session token until it expires.
func (s *Service) SignOut(ctx context.Context, session Session) error {
	if session.JTI == "" {
		return nil
	}
	return s.revocations.Revoke(ctx, session.JTI, session.ExpiresAt)
}

// RequestPasswordReset starts the reset flow. The returned token is only
// non-empty when DevResetTokens is set and no mail transport is configured.
func (s *Service) RequestPasswordReset(ctx context.Context, email string) (string, error) {
	s.metrics.PasswordResetRequested()
	token, err := s.auth.RequestPasswordReset(ctx, email)
	if err != nil {
		return "", err
	}
	if token == "" || s.auth.MailConfigured() {
		return "", nil
	}
	if s.cfg.DevResetTokens {
		return token, nil
	}
	zerolog.Ctx(ctx).Debug().Msg("password reset link not delivered, no mail transport configured")
	return "", nil
}

func (s *Service) ResetPassword(ctx context.Context, token, password string) error {
	_, err := s.auth.ResetPassword(ctx, authpw.ResetPasswordRequest{Token: token, Password: password})
	switch {
	case errors.Is(err, authpw.ErrResetInvalid):
		return domainError(http.StatusBadRequest, "RESET_FAILED", "Token invalid or expired", nil)
	case errors.Is(err, authpw.ErrMissingFields):
		return validationError("Missing fields", nil)
	case errors.Is(err, authpw.ErrWeakPassword):
		return validationError(err.Error(), nil)
	}
	return err
}

// SearchUsers matches emails case-insensitively, excluding the caller.
func (s *Service) SearchUsers(ctx context.Context, session Session, query string) ([]store.UserSummary, error) {
	return s.store.SearchUsers(ctx, session.UserID, strings.TrimSpace(query), 10)
}

func (s *Service) ListNotifications(ctx context.Context, session Session, filter store.NotificationFilter) ([]store.Notification, error) {
	return s.store.ListNotifications(ctx, session.UserID, filter)
}

func (s *Service) MarkNotificationRead(ctx context.Context, session Session, notificationID string) error {
	err := s.store.MarkNotificationRead(ctx, session.UserID, notificationID)
	if errors.Is(err, sql.ErrNoRows) {
		return notFound("Notification not found")
	}
	return err
}

func (s *Service) MarkAllNotificationsRead(ctx context.Context, session Session) (int64, error) {
	return s.store.MarkAllNotificationsRead(ctx, session.UserID)
}

// Upload stores an editor image. Uploads are disabled without object storage.
func (s *Service) Upload(ctx context.Context, r io.Reader) (blob.Object, error) {
	if s.uploads == nil {
		return blob.Object{}, domainError(http.StatusServiceUnavailable, "UPLOADS_DISABLED", "Uploads are not configured", nil)
	}
	obj, err := s.uploads.Put(ctx, r)
	switch {
	case errors.Is(err, blob.ErrTooLarge):
		return blob.Object{}, validationError("File exceeds the 10 MiB limit", nil)
	case errors.Is(err, blob.ErrUnsupportedType):
		return blob.Object{}, validationError("Only PNG, JPEG, GIF and WebP images are accepted", nil)
	case err != nil:
		return blob.Object{}, err
	}
	return obj, nil
}

func (s *Service) OpenUpload(ctx context.Context, key string) (io.ReadCloser, blob.Object, error) {
	if s.uploads == nil {
		return nil, blob.Object{}, domainError(http.StatusServiceUnavailable, "UPLOADS_DISABLED", "Uploads are not configured", nil)
	}
	rc, obj, err := s.uploads.Get(ctx, key)
	if errors.Is(err, blob.ErrInvalidKey) || errors.Is(err, blob.ErrNotFound) {
		return nil, blob.Object{}, notFound("Upload not found")
	}
	return rc, obj, err
}

// UploadURL is where a stored upload is served from.
func (s *Service) UploadURL(key string) string {
	return "/api/uploads/" + key
}

// Ping checks the database and the revocation list. Keys name the checks.
func (s *Service) Ping(ctx context.Context) map[string]error {
	checks := map[string]error{
		"database": s.store.Ping(ctx),
		"sessions": s.revocations.Ping(ctx),
	}
	if s.uploads != nil {
		checks["uploads"] = s.uploads.Ping(ctx)
	}
	return checks
}
