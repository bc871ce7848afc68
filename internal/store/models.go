package store

import "time"

// Visibility is the tri-state access policy of a document.
type Visibility string

const (
	VisibilityPrivate Visibility = "PRIVATE"
	VisibilityPublic  Visibility = "PUBLIC"
	VisibilityShared  Visibility = "SHARED"
)

// ParseVisibility accepts exactly the three enum values.
func ParseVisibility(raw string) (Visibility, bool) {
	switch Visibility(raw) {
	case VisibilityPrivate, VisibilityPublic, VisibilityShared:
		return Visibility(raw), true
	default:
		return "", false
	}
}

const DefaultDocumentTitle = "Untitled Document"

type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// UserSummary is the public projection of a user.
type UserSummary struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

type Document struct {
	ID         string      `json:"id"`
	Title      string      `json:"title"`
	Content    string      `json:"content"`
	Visibility Visibility  `json:"visibility"`
	AuthorID   string      `json:"authorId"`
	Author     UserSummary `json:"author"`
	CreatedAt  time.Time   `json:"createdAt"`
	UpdatedAt  time.Time   `json:"updatedAt"`
}

// DocumentPatch carries a partial update; nil fields are left untouched.
type DocumentPatch struct {
	Title   *string
	Content *string
}

func (p DocumentPatch) Empty() bool {
	return p.Title == nil && p.Content == nil
}

type SharedAccess struct {
	ID         string    `json:"id"`
	DocumentID string    `json:"documentId"`
	UserID     string    `json:"userId"`
	UserEmail  string    `json:"userEmail,omitempty"`
	CanEdit    bool      `json:"canEdit"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

type Mention struct {
	ID          string    `json:"id"`
	DocumentID  string    `json:"documentId"`
	MentionedID string    `json:"mentionedId"`
	CreatedAt   time.Time `json:"createdAt"`
}

const NotificationTypeMention = "MENTION"

// MentionNotificationText builds the title and message of a mention notification.
func MentionNotificationText(actorEmail, documentTitle string) (title, message string) {
	title = `You were mentioned in "` + documentTitle + `"`
	message = actorEmail + ` mentioned you in the document "` + documentTitle + `"`
	return title, message
}

type Notification struct {
	ID         string    `json:"id"`
	UserID     string    `json:"userId"`
	Type       string    `json:"type"`
	Title      string    `json:"title"`
	Message    string    `json:"message"`
	DocumentID *string   `json:"documentId"`
	IsRead     bool      `json:"isRead"`
	CreatedAt  time.Time `json:"createdAt"`
}

type PasswordResetToken struct {
	ID        string
	Email     string
	TokenHash string
	ExpiresAt time.Time
	CreatedAt time.Time
}

// MentionBatch is the input of one atomic mention run.
type MentionBatch struct {
	DocumentID    string
	DocumentTitle string
	AuthorID      string
	ActorEmail    string
	UserIDs       []string
}

// MentionResult counts the rows a mention batch created.
type MentionResult struct {
	Mentions      int `json:"mentions"`
	AutoShared    int `json:"autoShared"`
	Notifications int `json:"notifications"`
}

// NotificationFilter narrows a notification listing.
type NotificationFilter struct {
	UnreadOnly bool
	Limit      int
}
