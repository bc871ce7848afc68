package app

import (
	"encoding/json"
	"net/http"
	"strings"
	"testing"

	"inkwell/internal/store"
)

func createDocument(t *testing.T, server *HTTPServer, token, body string) store.Document {
	t.Helper()
	rr := serve(t, server, http.MethodPost, "/api/documents", token, body)
	if rr.Code != http.StatusCreated {
		t.Fatalf("create document: expected 201, got %d body=%s", rr.Code, rr.Body.String())
	}
	var doc store.Document
	if err := json.Unmarshal(rr.Body.Bytes(), &doc); err != nil {
		t.Fatalf("parse document: %v", err)
	}
	return doc
}

func TestDocumentAccessScenario(t *testing.T) {
	server := newTestServer(newTestService(newFakeStore(), nil))
	authorToken, _ := signUp(t, server, "a@example.com")
	viewerToken, _ := signUp(t, server, "b@example.com")

	rr := serve(t, server, http.MethodPost, "/api/documents/create", authorToken, "")
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rr.Code)
	}
	var doc store.Document
	if err := json.Unmarshal(rr.Body.Bytes(), &doc); err != nil {
		t.Fatalf("parse document: %v", err)
	}
	if doc.Title != "Untitled Document" || doc.Visibility != store.VisibilityPrivate {
		t.Fatalf("unexpected new document %+v", doc)
	}
	path := "/api/documents/" + doc.ID

	rr = serve(t, server, http.MethodGet, path, viewerToken, "")
	assertErrorCode(t, http.StatusForbidden, "FORBIDDEN", rr.Code, rr.Body.Bytes())

	rr = serve(t, server, http.MethodPost, "/api/share", authorToken, `{"documentId":"`+doc.ID+`","email":"b@example.com","canEdit":false}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("share: expected 200, got %d body=%s", rr.Code, rr.Body.String())
	}

	rr = serve(t, server, http.MethodGet, path, viewerToken, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("shared viewer: expected 200, got %d", rr.Code)
	}
	view := decodeMap(t, rr.Body.Bytes())
	if view["role"] != "viewer" || view["canEdit"] != false {
		t.Fatalf("expected read-only viewer, got role=%v canEdit=%v", view["role"], view["canEdit"])
	}

	rr = serve(t, server, http.MethodPut, path, viewerToken, `{"content":"<p>hijack</p>"}`)
	assertErrorCode(t, http.StatusForbidden, "FORBIDDEN", rr.Code, rr.Body.Bytes())

	rr = serve(t, server, http.MethodGet, path, "", "")
	assertErrorCode(t, http.StatusForbidden, "FORBIDDEN", rr.Code, rr.Body.Bytes())

	rr = serve(t, server, http.MethodPatch, path+"/visibility", authorToken, `{"visibility":"PUBLIC"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("visibility: expected 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	payload := decodeMap(t, rr.Body.Bytes())
	if payload["success"] != true {
		t.Fatalf("expected success flag, got %v", payload)
	}

	rr = serve(t, server, http.MethodGet, path, "", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("anonymous on public: expected 200, got %d", rr.Code)
	}
	view = decodeMap(t, rr.Body.Bytes())
	if view["role"] != "public" || view["shareUrl"] != "http://docs.test/documents/"+doc.ID {
		t.Fatalf("unexpected public view %v", view)
	}
}

func TestGetMissingDocumentIs404(t *testing.T) {
	server := newTestServer(newTestService(newFakeStore(), nil))
	token, _ := signUp(t, server, "a@example.com")

	rr := serve(t, server, http.MethodGet, "/api/documents/nope", token, "")
	assertErrorCode(t, http.StatusNotFound, "NOT_FOUND", rr.Code, rr.Body.Bytes())
	rr = serve(t, server, http.MethodGet, "/api/documents/nope", "", "")
	assertErrorCode(t, http.StatusNotFound, "NOT_FOUND", rr.Code, rr.Body.Bytes())
}

func TestVisibilityValidation(t *testing.T) {
	server := newTestServer(newTestService(newFakeStore(), nil))
	authorToken, _ := signUp(t, server, "a@example.com")
	otherToken, _ := signUp(t, server, "b@example.com")
	doc := createDocument(t, server, authorToken, `{"title":"Plan"}`)

	for _, token := range []string{authorToken, otherToken} {
		for _, body := range []string{`{"visibility":"public"}`, `{"visibility":"TEAM"}`, `{}`} {
			rr := serve(t, server, http.MethodPatch, "/api/documents/"+doc.ID+"/visibility", token, body)
			assertErrorCode(t, http.StatusBadRequest, "VALIDATION_ERROR", rr.Code, rr.Body.Bytes())
		}
		rr := serve(t, server, http.MethodPatch, "/api/documents/missing/visibility", token, `{"visibility":"bogus"}`)
		assertErrorCode(t, http.StatusBadRequest, "VALIDATION_ERROR", rr.Code, rr.Body.Bytes())
	}

	rr := serve(t, server, http.MethodPatch, "/api/documents/missing/visibility", authorToken, `{"visibility":"SHARED"}`)
	assertErrorCode(t, http.StatusNotFound, "NOT_FOUND", rr.Code, rr.Body.Bytes())

	rr = serve(t, server, http.MethodPatch, "/api/documents/"+doc.ID+"/visibility", otherToken, `{"visibility":"PUBLIC"}`)
	assertErrorCode(t, http.StatusForbidden, "FORBIDDEN", rr.Code, rr.Body.Bytes())
	if msg := decodeMap(t, rr.Body.Bytes())["error"]; msg != "Only the document author can change visibility" {
		t.Fatalf("unexpected message %v", msg)
	}
}

func TestUpdateDocumentRules(t *testing.T) {
	fs := newFakeStore()
	server := newTestServer(newTestService(fs, nil))
	authorToken, _ := signUp(t, server, "a@example.com")
	editorToken, _ := signUp(t, server, "e@example.com")
	doc := createDocument(t, server, authorToken, `{"title":"Spec","content":"<p>v1</p>"}`)
	path := "/api/documents/" + doc.ID

	rr := serve(t, server, http.MethodPut, path, authorToken, `{}`)
	assertErrorCode(t, http.StatusBadRequest, "VALIDATION_ERROR", rr.Code, rr.Body.Bytes())
	if msg := decodeMap(t, rr.Body.Bytes())["error"]; msg != "No fields to update" {
		t.Fatalf("unexpected message %v", msg)
	}

	rr = serve(t, server, http.MethodPut, "/api/documents/missing", authorToken, `{"title":"x"}`)
	assertErrorCode(t, http.StatusNotFound, "NOT_FOUND", rr.Code, rr.Body.Bytes())

	rr = serve(t, server, http.MethodPut, path, editorToken, `{"title":"x"}`)
	assertErrorCode(t, http.StatusForbidden, "FORBIDDEN", rr.Code, rr.Body.Bytes())

	rr = serve(t, server, http.MethodPost, "/api/share", authorToken, `{"documentId":"`+doc.ID+`","email":"e@example.com","canEdit":true}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("share: expected 200, got %d", rr.Code)
	}

	rr = serve(t, server, http.MethodPut, path, editorToken, `{"title":"Spec v2"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("editor PUT: expected 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	rr = serve(t, server, http.MethodPost, path+"/update", editorToken, `{"content":"<p>v2</p>"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("editor content save: expected 200, got %d", rr.Code)
	}

	saved := fs.documents[doc.ID]
	if saved.Title != "Spec v2" || saved.Content != "<p>v2</p>" {
		t.Fatalf("expected partial updates to merge, got %+v", saved)
	}

	rr = serve(t, server, http.MethodDelete, path, editorToken, "")
	assertErrorCode(t, http.StatusForbidden, "FORBIDDEN", rr.Code, rr.Body.Bytes())
	rr = serve(t, server, http.MethodPatch, path+"/visibility", editorToken, `{"visibility":"PUBLIC"}`)
	assertErrorCode(t, http.StatusForbidden, "FORBIDDEN", rr.Code, rr.Body.Bytes())
}

func TestListDocumentsVisibility(t *testing.T) {
	server := newTestServer(newTestService(newFakeStore(), nil))
	aToken, _ := signUp(t, server, "a@example.com")
	bToken, _ := signUp(t, server, "b@example.com")

	private := createDocument(t, server, aToken, `{"title":"Private"}`)
	public := createDocument(t, server, aToken, `{"title":"Public"}`)
	serve(t, server, http.MethodPatch, "/api/documents/"+public.ID+"/visibility", aToken, `{"visibility":"PUBLIC"}`)
	own := createDocument(t, server, bToken, `{"title":"Mine"}`)

	rr := serve(t, server, http.MethodGet, "/api/documents", bToken, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var docs []store.Document
	if err := json.Unmarshal(rr.Body.Bytes(), &docs); err != nil {
		t.Fatalf("parse list: %v", err)
	}
	ids := map[string]bool{}
	for _, d := range docs {
		ids[d.ID] = true
	}
	if !ids[public.ID] || !ids[own.ID] || ids[private.ID] {
		t.Fatalf("unexpected listing %v", ids)
	}
	if docs[0].ID != own.ID {
		t.Fatalf("expected most recently updated first, got %s", docs[0].ID)
	}
}

func TestShareRules(t *testing.T) {
	fs := newFakeStore()
	server := newTestServer(newTestService(fs, nil))
	authorToken, _ := signUp(t, server, "a@example.com")
	otherToken, _ := signUp(t, server, "b@example.com")
	_, carolID := signUp(t, server, "c@example.com")
	doc := createDocument(t, server, authorToken, `{"title":"Plan"}`)

	share := func(token, body string) (int, map[string]any) {
		rr := serve(t, server, http.MethodPost, "/api/share", token, body)
		return rr.Code, decodeMap(t, rr.Body.Bytes())
	}

	code, payload := share(authorToken, `{"documentId":"`+doc.ID+`","email":"nobody@example.com"}`)
	if code != http.StatusNotFound || payload["error"] != "User not found" {
		t.Fatalf("expected 404 User not found, got %d %v", code, payload)
	}
	code, _ = share(authorToken, `{"documentId":"missing","email":"c@example.com"}`)
	if code != http.StatusNotFound {
		t.Fatalf("expected 404 for missing document, got %d", code)
	}
	code, _ = share(otherToken, `{"documentId":"`+doc.ID+`","email":"c@example.com","canEdit":true}`)
	if code != http.StatusForbidden {
		t.Fatalf("non-author share: expected 403, got %d", code)
	}
	code, _ = share(authorToken, `{"documentId":"`+doc.ID+`","email":"a@example.com"}`)
	if code != http.StatusBadRequest {
		t.Fatalf("share with author: expected 400, got %d", code)
	}
	code, _ = share(authorToken, `{"documentId":"`+doc.ID+`","email":"not-an-email"}`)
	if code != http.StatusBadRequest {
		t.Fatalf("invalid email: expected 400, got %d", code)
	}

	share(authorToken, `{"documentId":"`+doc.ID+`","email":"c@example.com","canEdit":true}`)
	code, payload = share(authorToken, `{"documentId":"`+doc.ID+`","email":"C@example.com","canEdit":false}`)
	if code != http.StatusOK || payload["success"] != true {
		t.Fatalf("expected upsert success, got %d %v", code, payload)
	}
	if len(fs.shares) != 1 || fs.shares[shareKey(doc.ID, carolID)].CanEdit {
		t.Fatalf("expected one read-only share after upsert, got %+v", fs.shares)
	}

	rr := serve(t, server, http.MethodGet, "/api/documents/"+doc.ID+"/shares", authorToken, "")
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), "c@example.com") {
		t.Fatalf("expected share list with carol, got %d %s", rr.Code, rr.Body.String())
	}
	rr = serve(t, server, http.MethodGet, "/api/documents/"+doc.ID+"/shares", otherToken, "")
	assertErrorCode(t, http.StatusForbidden, "FORBIDDEN", rr.Code, rr.Body.Bytes())

	rr = serve(t, server, http.MethodDelete, "/api/documents/"+doc.ID+"/shares/"+carolID, authorToken, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("revoke: expected 200, got %d", rr.Code)
	}
	rr = serve(t, server, http.MethodDelete, "/api/documents/"+doc.ID+"/shares/"+carolID, authorToken, "")
	assertErrorCode(t, http.StatusNotFound, "NOT_FOUND", rr.Code, rr.Body.Bytes())
}

func TestMentionsBatch(t *testing.T) {
	fs := newFakeStore()
	server := newTestServer(newTestService(fs, nil))
	authorToken, authorID := signUp(t, server, "a@example.com")
	_, bobID := signUp(t, server, "b@example.com")
	_, carolID := signUp(t, server, "c@example.com")
	doc := createDocument(t, server, authorToken, `{"title":"Launch"}`)

	serve(t, server, http.MethodPost, "/api/share", authorToken, `{"documentId":"`+doc.ID+`","email":"c@example.com","canEdit":true}`)

	body := `{"mentionedUserIds":["` + bobID + `","` + carolID + `","` + authorID + `","ghost","` + bobID + `"]}`
	rr := serve(t, server, http.MethodPost, "/api/documents/"+doc.ID+"/mentions", authorToken, body)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	payload := decodeMap(t, rr.Body.Bytes())
	if payload["mentions"] != 3.0 || payload["notifications"] != 3.0 || payload["autoShared"] != 1.0 {
		t.Fatalf("unexpected counts %v", payload)
	}
	if fs.shares[shareKey(doc.ID, carolID)].CanEdit != true {
		t.Fatal("mention must not downgrade an existing edit grant")
	}
	if _, ok := fs.shares[shareKey(doc.ID, bobID)]; !ok {
		t.Fatal("expected bob to be auto-shared")
	}

	var bobNote store.Notification
	for _, n := range fs.notifications {
		if n.UserID == bobID {
			bobNote = n
		}
	}
	if bobNote.Title != `You were mentioned in "Launch"` || bobNote.Message != `a@example.com mentioned you in the document "Launch"` || bobNote.IsRead {
		t.Fatalf("unexpected notification %+v", bobNote)
	}
}

func TestMentionsValidationOrder(t *testing.T) {
	server := newTestServer(newTestService(newFakeStore(), nil))
	authorToken, _ := signUp(t, server, "a@example.com")
	viewerToken, viewerID := signUp(t, server, "b@example.com")
	doc := createDocument(t, server, authorToken, `{"title":"Launch"}`)
	path := "/api/documents/" + doc.ID + "/mentions"

	invalid := []string{`{"mentionedUserIds":[]}`, `{"mentionedUserIds":"u1"}`, `{}`}
	for _, body := range append(invalid, `{"mentionedUserIds":["x"]}`) {
		rr := serve(t, server, http.MethodPost, path, "", body)
		assertErrorCode(t, http.StatusUnauthorized, "UNAUTHORIZED", rr.Code, rr.Body.Bytes())
	}
	for _, body := range invalid {
		rr := serve(t, server, http.MethodPost, path, authorToken, body)
		if rr.Code != http.StatusBadRequest {
			t.Fatalf("body %s with session: expected 400, got %d", body, rr.Code)
		}
	}

	rr := serve(t, server, http.MethodPost, "/api/documents/missing/mentions", authorToken, `{"mentionedUserIds":["x"]}`)
	assertErrorCode(t, http.StatusNotFound, "NOT_FOUND", rr.Code, rr.Body.Bytes())

	serve(t, server, http.MethodPost, "/api/share", authorToken, `{"documentId":"`+doc.ID+`","email":"b@example.com"}`)
	rr = serve(t, server, http.MethodPost, path, viewerToken, `{"mentionedUserIds":["`+viewerID+`"]}`)
	assertErrorCode(t, http.StatusForbidden, "FORBIDDEN", rr.Code, rr.Body.Bytes())
	if msg := decodeMap(t, rr.Body.Bytes())["error"]; msg != "No permission to mention users" {
		t.Fatalf("unexpected message %v", msg)
	}
}

func TestNotificationsEndpoints(t *testing.T) {
	server := newTestServer(newTestService(newFakeStore(), nil))
	authorToken, _ := signUp(t, server, "a@example.com")
	bobToken, bobID := signUp(t, server, "b@example.com")
	first := createDocument(t, server, authorToken, `{"title":"One"}`)
	second := createDocument(t, server, authorToken, `{"title":"Two"}`)
	for _, doc := range []store.Document{first, second} {
		serve(t, server, http.MethodPost, "/api/documents/"+doc.ID+"/mentions", authorToken, `{"mentionedUserIds":["`+bobID+`"]}`)
	}

	rr := serve(t, server, http.MethodGet, "/api/notifications?unread=true", bobToken, "")
	var notes []store.Notification
	if err := json.Unmarshal(rr.Body.Bytes(), &notes); err != nil {
		t.Fatalf("parse notifications: %v", err)
	}
	if len(notes) != 2 || !strings.Contains(notes[0].Title, "Two") {
		t.Fatalf("expected two unread, newest first, got %+v", notes)
	}

	rr = serve(t, server, http.MethodPost, "/api/notifications/"+notes[0].ID+"/read", authorToken, "")
	assertErrorCode(t, http.StatusNotFound, "NOT_FOUND", rr.Code, rr.Body.Bytes())
	rr = serve(t, server, http.MethodPost, "/api/notifications/"+notes[0].ID+"/read", bobToken, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("mark read: expected 200, got %d", rr.Code)
	}

	rr = serve(t, server, http.MethodPost, "/api/notifications/read-all", bobToken, "")
	if updated := decodeMap(t, rr.Body.Bytes())["updated"]; updated != 1.0 {
		t.Fatalf("expected one remaining unread, got %v", updated)
	}
}

func TestSearchUsersExcludesCaller(t *testing.T) {
	server := newTestServer(newTestService(newFakeStore(), nil))
	token, _ := signUp(t, server, "ada@example.com")
	signUp(t, server, "adam@example.com")
	signUp(t, server, "bob@example.com")

	rr := serve(t, server, http.MethodGet, "/api/users?query=ADA", token, "")
	var users []store.UserSummary
	if err := json.Unmarshal(rr.Body.Bytes(), &users); err != nil {
		t.Fatalf("parse users: %v", err)
	}
	if len(users) != 1 || users[0].Email != "adam@example.com" {
		t.Fatalf("expected only adam, got %+v", users)
	}
}

func TestDeleteDocument(t *testing.T) {
	fs := newFakeStore()
	server := newTestServer(newTestService(fs, nil))
	token, _ := signUp(t, server, "a@example.com")
	doc := createDocument(t, server, token, `{"title":"Gone"}`)

	rr := serve(t, server, http.MethodDelete, "/api/documents/"+doc.ID, token, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if _, ok := fs.documents[doc.ID]; ok {
		t.Fatal("expected document removed")
	}
	rr = serve(t, server, http.MethodDelete, "/api/documents/"+doc.ID, token, "")
	assertErrorCode(t, http.StatusNotFound, "NOT_FOUND", rr.Code, rr.Body.Bytes())
}
