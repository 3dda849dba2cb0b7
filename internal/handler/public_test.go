package handler_test

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"

	flipshare "github.com/flipshare/flipshare"
	"github.com/flipshare/flipshare/internal/auth"
	"github.com/flipshare/flipshare/internal/config"
	"github.com/flipshare/flipshare/internal/db"
	"github.com/flipshare/flipshare/internal/handler"
	"github.com/flipshare/flipshare/internal/media"
	"github.com/flipshare/flipshare/internal/model"
	"github.com/flipshare/flipshare/internal/registry"
	"github.com/flipshare/flipshare/internal/sse"
	"github.com/flipshare/flipshare/internal/tracking"
	"github.com/flipshare/flipshare/internal/webhook"
)

type memStore struct{}

func (memStore) Upload(ctx context.Context, in media.UploadInput) (*media.UploadResult, error) {
	return &media.UploadResult{
		URL:          "https://cdn.example.com/" + in.PublicID + ".pdf",
		PublicID:     in.PublicID,
		ResourceType: in.ResourceType,
		Format:       "pdf",
		Bytes:        100,
	}, nil
}

func (memStore) Delete(ctx context.Context, item media.Item) error { return nil }

func (memStore) Cleanup(ctx context.Context, items []media.Item) media.CleanupSummary {
	return media.CleanupSummary{Deleted: len(items), TotalAttempted: len(items)}
}

type testEnv struct {
	srv    *httptest.Server
	db     *sql.DB
	apiKey string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	database, err := db.OpenMemory()
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	if err := db.Migrate(database, flipshare.MigrationFS); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	hash, err := auth.HashPassword("secret")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	account := &model.Account{
		ID: uuid.NewString(), Email: "owner@example.com", Name: "Owner", PasswordHash: hash,
	}
	if err := db.CreateAccount(database, account); err != nil {
		t.Fatalf("account: %v", err)
	}

	key, prefix, keyHash, err := auth.NewAPIKey()
	if err != nil {
		t.Fatalf("api key: %v", err)
	}
	if err := db.CreateAPIKey(database, &model.APIKey{
		ID: uuid.NewString(), AccountID: account.ID, Name: "test",
		KeyPrefix: prefix, KeyHash: keyHash,
	}); err != nil {
		t.Fatalf("store api key: %v", err)
	}

	cfg := &config.Config{
		BaseURL:        "http://test.local",
		SessionSecret:  "test-session-secret",
		CSRFSecret:     "test-csrf-secret-32-bytes-long!!",
		MaxUploadBytes: 10 << 20,
	}
	engine := tracking.NewEngine(database, nil)
	reg := registry.New(database, memStore{})
	h := handler.New(database, cfg, reg, engine, &webhook.Dispatcher{}, sse.New())

	authRL := handler.NewRateLimiter(100, 100)
	t.Cleanup(authRL.Stop)
	trackRL := handler.NewRateLimiter(100, 100)
	t.Cleanup(trackRL.Stop)

	srv := httptest.NewServer(h.Routes(authRL, trackRL))
	t.Cleanup(srv.Close)

	return &testEnv{srv: srv, db: database, apiKey: key}
}

func (e *testEnv) do(t *testing.T, method, path string, body interface{}, authed bool) (*http.Response, map[string]interface{}) {
	t.Helper()
	var rd io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		rd = bytes.NewReader(buf)
	}
	req, err := http.NewRequest(method, e.srv.URL+path, rd)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if authed {
		req.Header.Set("Authorization", "Bearer "+e.apiKey)
	}
	client := &http.Client{CheckRedirect: func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}}
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	defer resp.Body.Close()

	var out map[string]interface{}
	raw, _ := io.ReadAll(resp.Body)
	if len(raw) > 0 && strings.Contains(resp.Header.Get("Content-Type"), "json") {
		if err := json.Unmarshal(raw, &out); err != nil {
			t.Fatalf("decode %s: %v (%s)", path, err, raw)
		}
	}
	return resp, out
}

func (e *testEnv) createDocument(t *testing.T) string {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	mw.WriteField("title", "Q3 Deck")
	mw.WriteField("doc_type", "pdf")
	fw, err := mw.CreateFormFile("file", "deck.pdf")
	if err != nil {
		t.Fatalf("form file: %v", err)
	}
	fw.Write([]byte("%PDF-1.7 fake"))
	mw.Close()

	req, err := http.NewRequest(http.MethodPost, e.srv.URL+"/api/v1/documents/", &buf)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+e.apiKey)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		raw, _ := io.ReadAll(resp.Body)
		t.Fatalf("create status = %d: %s", resp.StatusCode, raw)
	}

	var doc struct {
		PublicSlug string `json:"publicSlug"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return doc.PublicSlug
}

func TestPublicViewFlow(t *testing.T) {
	env := newTestEnv(t)
	slug := env.createDocument(t)

	// Public payload carries no counters.
	resp, body := env.do(t, http.MethodGet, "/p/"+slug, nil, false)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get doc: %d", resp.StatusCode)
	}
	if _, leaked := body["stats"]; leaked {
		t.Error("public payload must not include stats")
	}
	if body["title"] != "Q3 Deck" {
		t.Errorf("title = %v", body["title"])
	}

	resp, body = env.do(t, http.MethodPost, "/p/"+slug+"/view",
		map[string]string{"referrer": "https://news.example.com"}, false)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("record view: %d", resp.StatusCode)
	}
	sessionID, _ := body["sessionId"].(string)
	if sessionID == "" {
		t.Fatal("no session id returned")
	}
	if body["isUnique"] != true {
		t.Error("first view should be unique")
	}

	resp, _ = env.do(t, http.MethodPost, "/p/"+slug+"/contact", map[string]string{
		"sessionId": sessionID, "name": "Ada Lovelace", "mobile": "555-0100",
	}, false)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("contact: %d", resp.StatusCode)
	}

	// Events append to the same view.
	resp, _ = env.do(t, http.MethodPost, "/p/"+slug+"/event", map[string]interface{}{
		"sessionId": sessionID, "kind": "page_turn", "payload": map[string]int{"page": 3},
	}, false)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("event: %d", resp.StatusCode)
	}

	// Download redirects to the stored file.
	resp, _ = env.do(t, http.MethodGet, "/p/"+slug+"/download?session_id="+sessionID, nil, false)
	if resp.StatusCode != http.StatusFound {
		t.Fatalf("download status = %d, want 302", resp.StatusCode)
	}
	if loc := resp.Header.Get("Location"); !strings.Contains(loc, "cdn.example.com") {
		t.Errorf("download location = %q", loc)
	}
}

func TestPublicUnknownDocument(t *testing.T) {
	env := newTestEnv(t)
	resp, body := env.do(t, http.MethodGet, "/p/doesnotexist", nil, false)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
	errObj, _ := body["error"].(map[string]interface{})
	if errObj["code"] != "NOT_FOUND" {
		t.Errorf("error code = %v, want NOT_FOUND", errObj["code"])
	}
}

func TestConsoleRequiresAuth(t *testing.T) {
	env := newTestEnv(t)
	resp, _ := env.do(t, http.MethodGet, "/api/v1/documents/", nil, false)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", resp.StatusCode)
	}
}

func TestConsoleStatsAfterTracking(t *testing.T) {
	env := newTestEnv(t)
	slug := env.createDocument(t)

	for i := 0; i < 2; i++ {
		resp, _ := env.do(t, http.MethodPost, "/p/"+slug+"/view", nil, false)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("view %d: %d", i, resp.StatusCode)
		}
	}

	resp, body := env.do(t, http.MethodGet, "/api/v1/documents/?q=Q3", nil, true)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list: %d", resp.StatusCode)
	}
	items, _ := body["items"].([]interface{})
	if len(items) != 1 {
		t.Fatalf("items = %d, want 1", len(items))
	}
	doc, _ := items[0].(map[string]interface{})
	stats, _ := doc["stats"].(map[string]interface{})
	if stats["totalViews"] != float64(2) {
		t.Errorf("totalViews = %v, want 2", stats["totalViews"])
	}
	// Both test requests come from the same loopback IP; only the first is
	// unique.
	if stats["uniqueViews"] != float64(1) {
		t.Errorf("uniqueViews = %v, want 1", stats["uniqueViews"])
	}
}

func TestDashboard(t *testing.T) {
	env := newTestEnv(t)
	slug := env.createDocument(t)
	if resp, _ := env.do(t, http.MethodPost, "/p/"+slug+"/view", nil, false); resp.StatusCode != http.StatusOK {
		t.Fatal("seed view failed")
	}

	resp, body := env.do(t, http.MethodGet, "/api/v1/dashboard", nil, true)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("dashboard: %d", resp.StatusCode)
	}
	stats, _ := body["stats"].(map[string]interface{})
	if stats["documents"] != float64(1) || stats["totalViews"] != float64(1) {
		t.Errorf("dashboard stats = %v", stats)
	}
	if _, ok := body["recentViews"]; !ok {
		t.Error("dashboard missing recentViews")
	}
}

func TestViewDetail(t *testing.T) {
	env := newTestEnv(t)
	slug := env.createDocument(t)

	resp, body := env.do(t, http.MethodPost, "/p/"+slug+"/view", nil, false)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("view: %d", resp.StatusCode)
	}
	viewID, _ := body["viewId"].(string)

	resp, body = env.do(t, http.MethodGet, "/api/v1/documents/?q=Q3", nil, true)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list: %d", resp.StatusCode)
	}
	items, _ := body["items"].([]interface{})
	doc, _ := items[0].(map[string]interface{})
	docID, _ := doc["id"].(string)

	resp, body = env.do(t, http.MethodGet, "/api/v1/documents/"+docID+"/views/"+viewID, nil, true)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("view detail: %d", resp.StatusCode)
	}
	view, _ := body["view"].(map[string]interface{})
	if view["id"] != viewID {
		t.Errorf("view id = %v, want %s", view["id"], viewID)
	}
	events, _ := body["events"].([]interface{})
	if len(events) != 1 {
		t.Fatalf("events = %d, want the initial view event", len(events))
	}
	first, _ := events[0].(map[string]interface{})
	if first["kind"] != "view" {
		t.Errorf("event kind = %v, want view", first["kind"])
	}

	resp, body = env.do(t, http.MethodGet, "/api/v1/documents/"+docID+"/views/no-such-view", nil, true)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown view status = %d, want 404", resp.StatusCode)
	}
	errObj, _ := body["error"].(map[string]interface{})
	if errObj["code"] != "VIEW_NOT_FOUND" {
		t.Errorf("error code = %v, want VIEW_NOT_FOUND", errObj["code"])
	}
}

func TestWebhookLifecycle(t *testing.T) {
	env := newTestEnv(t)

	resp, body := env.do(t, http.MethodPost, "/api/v1/webhooks/", map[string]interface{}{
		"url":    "https://hooks.example.com/flipshare",
		"events": []string{"contact.submitted"},
	}, true)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create: %d (%v)", resp.StatusCode, body)
	}
	hookID, _ := body["id"].(string)
	if body["secret"] == "" {
		t.Error("secret should be returned at creation")
	}

	resp, body = env.do(t, http.MethodGet, "/api/v1/webhooks/"+hookID, nil, true)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get: %d", resp.StatusCode)
	}
	if body["url"] != "https://hooks.example.com/flipshare" {
		t.Errorf("url = %v", body["url"])
	}
	if _, leaked := body["secret"]; leaked {
		t.Error("secret must not be repeated after creation")
	}
	events, _ := body["events"].([]interface{})
	if len(events) != 1 || events[0] != "contact.submitted" {
		t.Errorf("events = %v", events)
	}

	resp, _ = env.do(t, http.MethodGet, "/api/v1/webhooks/no-such-hook", nil, true)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown hook status = %d, want 404", resp.StatusCode)
	}
}

func TestLoginFlow(t *testing.T) {
	env := newTestEnv(t)

	// Wrong password and unknown user produce the same answer.
	for _, creds := range []map[string]string{
		{"email": "owner@example.com", "password": "wrong"},
		{"email": "ghost@example.com", "password": "secret"},
	} {
		resp, body := env.doWithCSRF(t, http.MethodPost, "/api/v1/auth/login", creds)
		if resp.StatusCode != http.StatusUnauthorized {
			t.Errorf("bad login status = %d, want 401 (%v)", resp.StatusCode, body)
		}
	}

	resp, body := env.doWithCSRF(t, http.MethodPost, "/api/v1/auth/login",
		map[string]string{"email": "owner@example.com", "password": "secret"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login: %d (%v)", resp.StatusCode, body)
	}
	if body["email"] != "owner@example.com" {
		t.Errorf("login payload = %v", body)
	}

	var sessionCookie bool
	for _, c := range resp.Cookies() {
		if c.Name == auth.CookieName {
			sessionCookie = true
		}
	}
	if !sessionCookie {
		t.Error("login should set the session cookie")
	}
}

// doWithCSRF first fetches a CSRF token, then performs the mutating request
// with the token header and cookies attached, as the console client does.
func (e *testEnv) doWithCSRF(t *testing.T, method, path string, body interface{}) (*http.Response, map[string]interface{}) {
	t.Helper()
	tokenReq, err := http.NewRequest(http.MethodGet, e.srv.URL+"/api/v1/auth/csrf", nil)
	if err != nil {
		t.Fatalf("token request: %v", err)
	}
	tokenResp, err := http.DefaultClient.Do(tokenReq)
	if err != nil {
		t.Fatalf("token fetch: %v", err)
	}
	defer tokenResp.Body.Close()
	token := tokenResp.Header.Get("X-CSRF-Token")
	if token == "" {
		t.Fatal("no CSRF token issued")
	}

	buf, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	req, err := http.NewRequest(method, e.srv.URL+path, bytes.NewReader(buf))
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-CSRF-Token", token)
	for _, c := range tokenResp.Cookies() {
		req.AddCookie(c)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	defer resp.Body.Close()

	var out map[string]interface{}
	raw, _ := io.ReadAll(resp.Body)
	if len(raw) > 0 && strings.Contains(resp.Header.Get("Content-Type"), "json") {
		if err := json.Unmarshal(raw, &out); err != nil {
			t.Fatalf("decode %s: %v (%s)", path, err, raw)
		}
	}
	return resp, out
}
