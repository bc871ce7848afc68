package app

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"inkwell/internal/authpw"
	"inkwell/internal/config"
	"inkwell/internal/session"
	"inkwell/internal/store"
)

// fakeStore is an in-memory dataStore. Hook funcs override single methods.
type fakeStore struct {
	mu            sync.Mutex
	seq           int
	clock         time.Time
	users         map[string]store.User
	documents     map[string]store.Document
	shares        map[string]store.SharedAccess
	mentions      []store.Mention
	notifications []store.Notification
	resets        map[string]store.PasswordResetToken

	pingFn          func(context.Context) error
	applyMentionsFn func(context.Context, store.MentionBatch) (store.MentionResult, error)
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		clock:     time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC),
		users:     make(map[string]store.User),
		documents: make(map[string]store.Document),
		shares:    make(map[string]store.SharedAccess),
		resets:    make(map[string]store.PasswordResetToken),
	}
}

func (f *fakeStore) nextID(prefix string) string {
	f.seq++
	return fmt.Sprintf("%s-%d", prefix, f.seq)
}

func (f *fakeStore) tick() time.Time {
	f.clock = f.clock.Add(time.Second)
	return f.clock
}

func shareKey(documentID, userID string) string {
	return documentID + "|" + userID
}

func (f *fakeStore) withAuthor(doc store.Document) store.Document {
	author := f.users[doc.AuthorID]
	doc.Author = store.UserSummary{ID: author.ID, Email: author.Email}
	return doc
}

func (f *fakeStore) GetUserByEmail(_ context.Context, email string) (store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	email = store.NormalizeEmail(email)
	for _, u := range f.users {
		if u.Email == email {
			return u, nil
		}
	}
	return store.User{}, sql.ErrNoRows
}

func (f *fakeStore) CreateUser(_ context.Context, user store.User) (store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		if u.Email == user.Email {
			return store.User{}, store.ErrEmailTaken
		}
	}
	user.ID = f.nextID("user")
	user.CreatedAt = f.tick()
	user.UpdatedAt = user.CreatedAt
	f.users[user.ID] = user
	return user, nil
}

func (f *fakeStore) CreatePasswordResetToken(_ context.Context, token store.PasswordResetToken) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resets[token.TokenHash] = token
	return nil
}

func (f *fakeStore) RedeemPasswordResetToken(_ context.Context, tokenHash, passwordHash string, now time.Time) (store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	token, ok := f.resets[tokenHash]
	if !ok {
		return store.User{}, store.ErrResetTokenInvalid
	}
	if !token.ExpiresAt.After(now) {
		delete(f.resets, tokenHash)
		return store.User{}, store.ErrResetTokenInvalid
	}
	for id, u := range f.users {
		if u.Email == token.Email {
			u.PasswordHash = passwordHash
			f.users[id] = u
			delete(f.resets, tokenHash)
			return u, nil
		}
	}
	return store.User{}, store.ErrResetTokenInvalid
}

func (f *fakeStore) GetUserByID(_ context.Context, id string) (store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return store.User{}, sql.ErrNoRows
	}
	return u, nil
}

func (f *fakeStore) SearchUsers(_ context.Context, excludeID, query string, limit int) ([]store.UserSummary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []store.UserSummary{}
	for _, u := range f.users {
		if u.ID == excludeID || !strings.Contains(u.Email, strings.ToLower(query)) {
			continue
		}
		out = append(out, store.UserSummary{ID: u.ID, Email: u.Email})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Email < out[j].Email })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeStore) CreateDocument(_ context.Context, doc store.Document) (store.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc.ID = f.nextID("doc")
	if doc.Visibility == "" {
		doc.Visibility = store.VisibilityPrivate
	}
	doc.CreatedAt = f.tick()
	doc.UpdatedAt = doc.CreatedAt
	f.documents[doc.ID] = doc
	return f.withAuthor(doc), nil
}

func (f *fakeStore) GetDocument(_ context.Context, id string) (store.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, ok := f.documents[id]
	if !ok {
		return store.Document{}, sql.ErrNoRows
	}
	return f.withAuthor(doc), nil
}

func (f *fakeStore) ListDocumentsForUser(_ context.Context, userID string) ([]store.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []store.Document{}
	for _, doc := range f.documents {
		_, shared := f.shares[shareKey(doc.ID, userID)]
		if doc.AuthorID == userID || shared || doc.Visibility == store.VisibilityPublic {
			out = append(out, f.withAuthor(doc))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}

func (f *fakeStore) UpdateDocument(_ context.Context, id string, patch store.DocumentPatch) (store.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, ok := f.documents[id]
	if !ok {
		return store.Document{}, sql.ErrNoRows
	}
	if patch.Title != nil {
		doc.Title = *patch.Title
	}
	if patch.Content != nil {
		doc.Content = *patch.Content
	}
	doc.UpdatedAt = f.tick()
	f.documents[id] = doc
	return f.withAuthor(doc), nil
}

func (f *fakeStore) UpdateDocumentVisibility(_ context.Context, id string, visibility store.Visibility) (store.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, ok := f.documents[id]
	if !ok {
		return store.Document{}, sql.ErrNoRows
	}
	doc.Visibility = visibility
	doc.UpdatedAt = f.tick()
	f.documents[id] = doc
	return f.withAuthor(doc), nil
}

func (f *fakeStore) DeleteDocument(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.documents[id]; !ok {
		return sql.ErrNoRows
	}
	delete(f.documents, id)
	for key, share := range f.shares {
		if share.DocumentID == id {
			delete(f.shares, key)
		}
	}
	kept := f.mentions[:0]
	for _, m := range f.mentions {
		if m.DocumentID != id {
			kept = append(kept, m)
		}
	}
	f.mentions = kept
	return nil
}

func (f *fakeStore) GetSharedAccess(_ context.Context, documentID, userID string) (store.SharedAccess, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	share, ok := f.shares[shareKey(documentID, userID)]
	if !ok {
		return store.SharedAccess{}, sql.ErrNoRows
	}
	return share, nil
}

func (f *fakeStore) UpsertSharedAccess(_ context.Context, share store.SharedAccess) (store.SharedAccess, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := shareKey(share.DocumentID, share.UserID)
	now := f.tick()
	if existing, ok := f.shares[key]; ok {
		existing.CanEdit = share.CanEdit
		existing.UpdatedAt = now
		f.shares[key] = existing
		return existing, nil
	}
	share.ID = f.nextID("share")
	share.CreatedAt = now
	share.UpdatedAt = now
	f.shares[key] = share
	return share, nil
}

func (f *fakeStore) ListSharedAccess(_ context.Context, documentID string) ([]store.SharedAccess, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []store.SharedAccess{}
	for _, share := range f.shares {
		if share.DocumentID == documentID {
			share.UserEmail = f.users[share.UserID].Email
			out = append(out, share)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserEmail < out[j].UserEmail })
	return out, nil
}

func (f *fakeStore) DeleteSharedAccess(_ context.Context, documentID, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := shareKey(documentID, userID)
	if _, ok := f.shares[key]; !ok {
		return sql.ErrNoRows
	}
	delete(f.shares, key)
	return nil
}

// ApplyMentions stages every row and commits only when the whole batch succeeds.
func (f *fakeStore) ApplyMentions(ctx context.Context, batch store.MentionBatch) (store.MentionResult, error) {
	if f.applyMentionsFn != nil {
		return f.applyMentionsFn(ctx, batch)
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	var (
		result        store.MentionResult
		mentions      []store.Mention
		notifications []store.Notification
		shares        = map[string]store.SharedAccess{}
	)
	title, message := store.MentionNotificationText(batch.ActorEmail, batch.DocumentTitle)
	for _, userID := range batch.UserIDs {
		if _, ok := f.users[userID]; !ok {
			continue
		}
		now := f.tick()
		mentions = append(mentions, store.Mention{ID: f.nextID("mention"), DocumentID: batch.DocumentID, MentionedID: userID, CreatedAt: now})
		result.Mentions++
		key := shareKey(batch.DocumentID, userID)
		if _, exists := f.shares[key]; userID != batch.AuthorID && !exists {
			shares[key] = store.SharedAccess{ID: f.nextID("share"), DocumentID: batch.DocumentID, UserID: userID, CreatedAt: now, UpdatedAt: now}
			result.AutoShared++
		}
		docID := batch.DocumentID
		notifications = append(notifications, store.Notification{
			ID: f.nextID("notification"), UserID: userID, Type: store.NotificationTypeMention,
			Title: title, Message: message, DocumentID: &docID, CreatedAt: now,
		})
		result.Notifications++
	}

	f.mentions = append(f.mentions, mentions...)
	f.notifications = append(f.notifications, notifications...)
	for key, share := range shares {
		f.shares[key] = share
	}
	return result, nil
}

func (f *fakeStore) ListNotifications(_ context.Context, userID string, filter store.NotificationFilter) ([]store.Notification, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []store.Notification{}
	for i := len(f.notifications) - 1; i >= 0; i-- {
		n := f.notifications[i]
		if n.UserID != userID || (filter.UnreadOnly && n.IsRead) {
			continue
		}
		out = append(out, n)
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out, nil
}

func (f *fakeStore) MarkNotificationRead(_ context.Context, userID, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, n := range f.notifications {
		if n.ID == id && n.UserID == userID {
			f.notifications[i].IsRead = true
			return nil
		}
	}
	return sql.ErrNoRows
}

func (f *fakeStore) MarkAllNotificationsRead(_ context.Context, userID string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var updated int64
	for i, n := range f.notifications {
		if n.UserID == userID && !n.IsRead {
			f.notifications[i].IsRead = true
			updated++
		}
	}
	return updated, nil
}

func (f *fakeStore) Ping(ctx context.Context) error {
	if f.pingFn != nil {
		return f.pingFn(ctx)
	}
	return nil
}

func testConfig() config.Config {
	return config.Config{
		SessionSecret: "test-secret",
		SessionTTL:    time.Hour,
		PublicBaseURL: "http://docs.test",
		CORSOrigin:    "*",
	}
}

func newTestService(fs *fakeStore, mailer authpw.Mailer) *Service {
	cfg := testConfig()
	return New(cfg, Dependencies{
		Store:       fs,
		Auth:        authpw.NewService(fs, mailer, cfg.PublicBaseURL),
		Revocations: session.NewMemoryStore(),
	})
}

func newTestServer(svc *Service) *HTTPServer {
	return NewHTTPServer(svc, ServerOptions{CORSOrigin: "*", Logger: zerolog.Nop()})
}

func serve(t *testing.T, server *HTTPServer, method, path, token, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)
	return rr
}
