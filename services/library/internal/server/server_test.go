package server

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/abdulaziz-uzb777/library-project/internal/ratelimit"
	"github.com/abdulaziz-uzb777/library-project/internal/security"
	"github.com/abdulaziz-uzb777/library-project/internal/util"
	"github.com/abdulaziz-uzb777/library-project/pkg/adminsession"
	"github.com/abdulaziz-uzb777/library-project/pkg/auth"
	"github.com/abdulaziz-uzb777/library-project/pkg/identity"
	"github.com/abdulaziz-uzb777/library-project/pkg/kv"
	"github.com/abdulaziz-uzb777/library-project/pkg/storage"
	"github.com/abdulaziz-uzb777/library-project/pkg/store"
	"github.com/abdulaziz-uzb777/library-project/services/library/internal/app"
)

func newTestApp(t *testing.T) *app.App {
	t.Helper()
	st := store.New(kv.NewMemoryStore())
	tokens, err := auth.NewTokenIssuer("server-test-secret-01", auth.TokenOptions{})
	if err != nil {
		t.Fatalf("token issuer: %v", err)
	}
	a, err := app.New(app.Config{
		Store:           st,
		Objects:         storage.NewMemoryStore(),
		Identity:        identity.NewProvider(st, tokens),
		Admin:           adminsession.NewManager(st, adminsession.Config{}),
		SignedURLExpiry: time.Hour,
		MaxPDFBytes:     1 << 20,
		MaxCoverBytes:   64 << 10,
	})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	return a
}

func newTestServer(t *testing.T, cfg Config) *httptest.Server {
	t.Helper()
	ts, _ := newTestServerWith(t, cfg)
	return ts
}

func newTestServerWith(t *testing.T, cfg Config) (*httptest.Server, *Server) {
	t.Helper()
	if cfg.App == nil {
		cfg.App = newTestApp(t)
	}
	if cfg.PathPrefix == "" {
		cfg.PathPrefix = "/api"
	}
	srv, err := New(cfg)
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return ts, srv
}

func doJSON(t *testing.T, method, url string, body any, headers map[string]string) (*http.Response, map[string]any) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()
	var out map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp, out
}

func TestSignupSigninMeScenario(t *testing.T) {
	ts := newTestServer(t, Config{})

	resp, body := doJSON(t, http.MethodPost, ts.URL+"/api/auth/signup", map[string]string{
		"firstName": "Ann",
		"lastName":  "Smith",
		"password":  "secret1",
	}, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("signup expected 200, got %d: %v", resp.StatusCode, body)
	}
	login, _ := body["login"].(string)
	password, _ := body["password"].(string)
	if !strings.HasPrefix(login, "ann_") || password != "secret1" || body["success"] != true {
		t.Fatalf("unexpected signup response %v", body)
	}

	resp, body = doJSON(t, http.MethodPost, ts.URL+"/api/auth/signin", map[string]string{
		"login":    login,
		"password": password,
	}, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("signin expected 200, got %d: %v", resp.StatusCode, body)
	}
	token, _ := body["accessToken"].(string)
	if token == "" {
		t.Fatalf("expected access token in %v", body)
	}

	resp, body = doJSON(t, http.MethodGet, ts.URL+"/api/auth/me", nil, map[string]string{accessTokenHeader: token})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("me expected 200, got %d: %v", resp.StatusCode, body)
	}
	user, _ := body["user"].(map[string]any)
	if user["firstName"] != "Ann" || user["lastName"] != "Smith" || user["login"] != login {
		t.Fatalf("unexpected profile %v", user)
	}
	favorites, ok := user["favorites"].([]any)
	if !ok || len(favorites) != 0 {
		t.Fatalf("expected empty favorites array, got %v", user["favorites"])
	}
	recent, ok := user["recent"].([]any)
	if !ok || len(recent) != 0 {
		t.Fatalf("expected empty recent array, got %v", user["recent"])
	}
}

func TestSigninWrongPassword(t *testing.T) {
	ts := newTestServer(t, Config{})
	_, body := doJSON(t, http.MethodPost, ts.URL+"/api/auth/signup", map[string]string{"firstName": "Bob", "password": "secret1"}, nil)
	login, _ := body["login"].(string)

	resp, body := doJSON(t, http.MethodPost, ts.URL+"/api/auth/signin", map[string]string{"login": login, "password": "wrong!!"}, nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
	if body["code"] != "AUTH_INVALID_CREDENTIALS" {
		t.Fatalf("unexpected error body %v", body)
	}
}

func TestAdminLoginNoLockout(t *testing.T) {
	ts := newTestServer(t, Config{})

	for i := 0; i < 2; i++ {
		resp, body := doJSON(t, http.MethodPost, ts.URL+"/api/admin/login", map[string]string{"password": "wrong"}, nil)
		if resp.StatusCode != http.StatusUnauthorized {
			t.Fatalf("attempt %d expected 401, got %d", i+1, resp.StatusCode)
		}
		if body["code"] != "ADMIN_INVALID_PASSWORD" {
			t.Fatalf("unexpected error body %v", body)
		}
	}

	seen := map[string]bool{}
	for i := 0; i < 2; i++ {
		resp, body := doJSON(t, http.MethodPost, ts.URL+"/api/admin/login", map[string]string{"password": "7777"}, nil)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("correct password expected 200, got %d: %v", resp.StatusCode, body)
		}
		token, _ := body["token"].(string)
		if !strings.HasPrefix(token, adminsession.TokenPrefix) || seen[token] {
			t.Fatalf("expected fresh admin token, got %q", token)
		}
		seen[token] = true
	}
}

func TestAdminRoutesRequireToken(t *testing.T) {
	ts := newTestServer(t, Config{})

	resp, body := doJSON(t, http.MethodGet, ts.URL+"/api/admin/users", nil, nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", resp.StatusCode)
	}
	if body["requestId"] == "" || body["requestId"] == nil {
		t.Fatalf("expected request id in error body %v", body)
	}
	resp, _ = doJSON(t, http.MethodGet, ts.URL+"/api/admin/users", nil, map[string]string{adminTokenHeader: "admin_deadbeef"})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for unknown token, got %d", resp.StatusCode)
	}

	_, body = doJSON(t, http.MethodPost, ts.URL+"/api/admin/login", map[string]string{"password": "7777"}, nil)
	token, _ := body["token"].(string)
	admin := map[string]string{adminTokenHeader: token}
	resp, body = doJSON(t, http.MethodGet, ts.URL+"/api/admin/users", nil, admin)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 with admin token, got %d: %v", resp.StatusCode, body)
	}
	resp, _ = doJSON(t, http.MethodGet, ts.URL+"/api/admin/books", nil, nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("admin book list without token expected 401, got %d", resp.StatusCode)
	}
	resp, body = doJSON(t, http.MethodGet, ts.URL+"/api/admin/books", nil, admin)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("admin book list expected 200, got %d: %v", resp.StatusCode, body)
	}
	if _, ok := body["books"]; !ok {
		t.Fatalf("expected books field, got %v", body)
	}

	resp, _ = doJSON(t, http.MethodPost, ts.URL+"/api/admin/logout", nil, admin)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("logout expected 200, got %d", resp.StatusCode)
	}
	resp, _ = doJSON(t, http.MethodGet, ts.URL+"/api/admin/users", nil, admin)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 after logout, got %d", resp.StatusCode)
	}
}

func TestAnonKeyEnforced(t *testing.T) {
	ts := newTestServer(t, Config{AnonKey: "anon-key"})

	resp, body := doJSON(t, http.MethodGet, ts.URL+"/api/health", nil, nil)
	if resp.StatusCode != http.StatusUnauthorized || body["code"] != "AUTH_INVALID_API_KEY" {
		t.Fatalf("expected 401 without key, got %d %v", resp.StatusCode, body)
	}
	resp, _ = doJSON(t, http.MethodGet, ts.URL+"/api/health", nil, map[string]string{"Authorization": "Bearer other"})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 with wrong key, got %d", resp.StatusCode)
	}
	resp, body = doJSON(t, http.MethodGet, ts.URL+"/api/health", nil, map[string]string{"Authorization": "Bearer anon-key"})
	if resp.StatusCode != http.StatusOK || body["status"] != "ok" {
		t.Fatalf("expected 200 with key, got %d %v", resp.StatusCode, body)
	}

	req, _ := http.NewRequest(http.MethodOptions, ts.URL+"/api/books", nil)
	req.Header.Set("Origin", "https://reader.example")
	req.Header.Set("Access-Control-Request-Method", "GET")
	preflight, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("preflight: %v", err)
	}
	preflight.Body.Close()
	if preflight.StatusCode != http.StatusNoContent {
		t.Fatalf("expected preflight 204 without key, got %d", preflight.StatusCode)
	}
	if got := preflight.Header.Get("Access-Control-Allow-Headers"); !strings.Contains(got, "X-Access-Token") {
		t.Fatalf("unexpected allow headers %q", got)
	}
}

func TestUserRoutesRequireAccessToken(t *testing.T) {
	ts := newTestServer(t, Config{})
	for _, tc := range []struct{ method, path string }{
		{http.MethodGet, "/api/auth/me"},
		{http.MethodPost, "/api/user/favorites"},
		{http.MethodPost, "/api/books/book_1/rate"},
		{http.MethodGet, "/api/books/book_1/my-rating"},
	} {
		resp, _ := doJSON(t, tc.method, ts.URL+tc.path, map[string]string{}, map[string]string{accessTokenHeader: "not-a-jwt"})
		if resp.StatusCode != http.StatusUnauthorized {
			t.Fatalf("%s %s expected 401, got %d", tc.method, tc.path, resp.StatusCode)
		}
	}
}

func TestReaderFlow(t *testing.T) {
	ts := newTestServer(t, Config{})

	_, body := doJSON(t, http.MethodPost, ts.URL+"/api/admin/login", map[string]string{"password": "7777"}, nil)
	admin := map[string]string{adminTokenHeader: body["token"].(string)}
	bookID := createBook(t, ts.URL, admin)

	_, body = doJSON(t, http.MethodPost, ts.URL+"/api/auth/signup", map[string]string{"firstName": "Ann", "lastName": "Smith", "password": "secret1"}, nil)
	_, body = doJSON(t, http.MethodPost, ts.URL+"/api/auth/signin", map[string]string{"login": body["login"].(string), "password": "secret1"}, nil)
	user := map[string]string{accessTokenHeader: body["accessToken"].(string)}

	resp, body := doJSON(t, http.MethodGet, ts.URL+"/api/books/"+bookID+"/my-rating", nil, user)
	if resp.StatusCode != http.StatusOK || body["rating"] != nil {
		t.Fatalf("expected null rating, got %d %v", resp.StatusCode, body)
	}
	resp, body = doJSON(t, http.MethodPost, ts.URL+"/api/books/"+bookID+"/rate", map[string]any{"rating": 7}, user)
	if resp.StatusCode != http.StatusBadRequest || body["code"] != "RATING_INVALID_VALUE" {
		t.Fatalf("expected 400 for out of range rating, got %d %v", resp.StatusCode, body)
	}
	resp, _ = doJSON(t, http.MethodPost, ts.URL+"/api/books/"+bookID+"/rate", map[string]any{"rating": 4}, user)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("rate expected 200, got %d", resp.StatusCode)
	}
	_, body = doJSON(t, http.MethodGet, ts.URL+"/api/books/"+bookID+"/my-rating", nil, user)
	if body["rating"] != float64(4) {
		t.Fatalf("expected rating 4, got %v", body)
	}
	_, body = doJSON(t, http.MethodGet, ts.URL+"/api/books/ratings/all", nil, nil)
	ratings, _ := body["ratings"].([]any)
	if len(ratings) != 1 {
		t.Fatalf("expected one aggregate, got %v", body)
	}

	resp, body = doJSON(t, http.MethodPost, ts.URL+"/api/user/favorites", map[string]string{"bookId": bookID}, user)
	if resp.StatusCode != http.StatusOK || len(body["favorites"].([]any)) != 1 {
		t.Fatalf("unexpected favorites response %d %v", resp.StatusCode, body)
	}
	resp, body = doJSON(t, http.MethodDelete, ts.URL+"/api/user/favorites/"+bookID, nil, user)
	if resp.StatusCode != http.StatusOK || len(body["favorites"].([]any)) != 0 {
		t.Fatalf("unexpected favorites response %d %v", resp.StatusCode, body)
	}
	resp, body = doJSON(t, http.MethodPost, ts.URL+"/api/user/recent", map[string]string{"bookId": bookID}, user)
	if resp.StatusCode != http.StatusOK || len(body["recent"].([]any)) != 1 {
		t.Fatalf("unexpected recent response %d %v", resp.StatusCode, body)
	}

	resp, body = doJSON(t, http.MethodPost, ts.URL+"/api/books/"+bookID+"/comments", map[string]string{"text": "<b>Loved</b> it"}, user)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("comment expected 200, got %d %v", resp.StatusCode, body)
	}
	comment := body["comment"].(map[string]any)
	if comment["text"] != "Loved it" || comment["userName"] != "Ann Smith" {
		t.Fatalf("unexpected comment %v", comment)
	}
	_, body = doJSON(t, http.MethodGet, ts.URL+"/api/books/"+bookID+"/comments", nil, nil)
	if len(body["comments"].([]any)) != 1 {
		t.Fatalf("expected one comment, got %v", body)
	}
	resp, _ = doJSON(t, http.MethodDelete, ts.URL+"/api/admin/comments/"+comment["id"].(string), nil, admin)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("delete comment expected 200, got %d", resp.StatusCode)
	}
	_, body = doJSON(t, http.MethodGet, ts.URL+"/api/admin/comments", nil, admin)
	if len(body["comments"].([]any)) != 0 {
		t.Fatalf("expected no comments, got %v", body)
	}

	resp, _ = doJSON(t, http.MethodDelete, ts.URL+"/api/admin/books/"+bookID, nil, admin)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("delete book expected 200, got %d", resp.StatusCode)
	}
	resp, body = doJSON(t, http.MethodGet, ts.URL+"/api/books/"+bookID, nil, nil)
	if resp.StatusCode != http.StatusNotFound || body["code"] != "BOOK_NOT_FOUND" {
		t.Fatalf("expected 404 after delete, got %d %v", resp.StatusCode, body)
	}
}

var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x06\x00\x00\x00")

func bookForm(t *testing.T, fields map[string]string, files map[string][]byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			t.Fatalf("write field: %v", err)
		}
	}
	for name, data := range files {
		part, err := mw.CreateFormFile(name, name+".bin")
		if err != nil {
			t.Fatalf("create form file: %v", err)
		}
		if _, err := part.Write(data); err != nil {
			t.Fatalf("write form file: %v", err)
		}
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close multipart: %v", err)
	}
	return &buf, mw.FormDataContentType()
}

func postForm(t *testing.T, method, url string, headers map[string]string, body io.Reader, contentType string) (*http.Response, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(method, url, body)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", contentType)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()
	var out map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp, out
}

var bookFields = map[string]string{
	"title":       "Dune",
	"author":      "Herbert",
	"description": "Desert planet",
	"summary":     "Spice",
	"category":    "SciFi",
}

func createBook(t *testing.T, baseURL string, admin map[string]string) string {
	t.Helper()
	form, ct := bookForm(t, bookFields, map[string][]byte{"coverImage": pngHeader})
	resp, body := postForm(t, http.MethodPost, baseURL+"/api/admin/books", admin, form, ct)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("create book expected 200, got %d %v", resp.StatusCode, body)
	}
	book := body["book"].(map[string]any)
	if book["coverImageUrl"] == nil || book["coverImageUrl"] == "" {
		t.Fatalf("expected cover url in %v", book)
	}
	return book["id"].(string)
}

func TestBookUploadValidation(t *testing.T) {
	ts, srv := newTestServerWith(t, Config{})
	_, body := doJSON(t, http.MethodPost, ts.URL+"/api/admin/login", map[string]string{"password": "7777"}, nil)
	admin := map[string]string{adminTokenHeader: body["token"].(string)}

	form, ct := bookForm(t, map[string]string{"title": "Only title"}, nil)
	resp, body := postForm(t, http.MethodPost, ts.URL+"/api/admin/books", admin, form, ct)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing fields, got %d %v", resp.StatusCode, body)
	}

	form, ct = bookForm(t, bookFields, map[string][]byte{"pdfFile": []byte("definitely not a pdf")})
	resp, body = postForm(t, http.MethodPost, ts.URL+"/api/admin/books", admin, form, ct)
	if resp.StatusCode != http.StatusBadRequest || body["code"] != "BOOK_INVALID_PDF" {
		t.Fatalf("expected 400 for invalid pdf, got %d %v", resp.StatusCode, body)
	}

	form, ct = bookForm(t, bookFields, map[string][]byte{"pdfFile": bytes.Repeat([]byte("x"), 3<<20)})
	req := httptest.NewRequest(http.MethodPost, "/api/admin/books", form)
	req.Header.Set("Content-Type", ct)
	req.Header.Set(adminTokenHeader, admin[adminTokenHeader])
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413 for oversized body, got %d: %s", rec.Code, rec.Body.String())
	}

	form, ct = bookForm(t, map[string]string{"title": "New"}, nil)
	resp, body = postForm(t, http.MethodPut, ts.URL+"/api/admin/books/book_missing", admin, form, ct)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 updating missing book, got %d %v", resp.StatusCode, body)
	}

	bookID := createBook(t, ts.URL, admin)
	form, ct = bookForm(t, map[string]string{"title": "Dune Messiah"}, nil)
	resp, body = postForm(t, http.MethodPut, ts.URL+"/api/admin/books/"+bookID, admin, form, ct)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("update expected 200, got %d %v", resp.StatusCode, body)
	}
	book := body["book"].(map[string]any)
	if book["title"] != "Dune Messiah" || book["author"] != "Herbert" {
		t.Fatalf("unexpected updated book %v", book)
	}
}

func TestFeedbackRoutes(t *testing.T) {
	ts := newTestServer(t, Config{})

	resp, _ := doJSON(t, http.MethodPost, ts.URL+"/api/feedback", map[string]string{"name": "Ann"}, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing fields, got %d", resp.StatusCode)
	}
	resp, _ = doJSON(t, http.MethodPost, ts.URL+"/api/feedback", map[string]string{"name": "Ann", "email": "a@example.com", "message": "hi"}, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	_, body := doJSON(t, http.MethodPost, ts.URL+"/api/admin/login", map[string]string{"password": "7777"}, nil)
	admin := map[string]string{adminTokenHeader: body["token"].(string)}
	_, body = doJSON(t, http.MethodGet, ts.URL+"/api/admin/feedback", nil, admin)
	items, _ := body["feedback"].([]any)
	if len(items) != 1 {
		t.Fatalf("expected one feedback entry, got %v", body)
	}
	id := items[0].(map[string]any)["id"].(string)

	resp, body = doJSON(t, http.MethodDelete, ts.URL+"/api/admin/feedback/comment:x:1", nil, admin)
	if resp.StatusCode != http.StatusNotFound || body["code"] != "FEEDBACK_NOT_FOUND" {
		t.Fatalf("expected 404 for foreign id, got %d %v", resp.StatusCode, body)
	}
	resp, _ = doJSON(t, http.MethodDelete, ts.URL+"/api/admin/feedback/"+id, nil, admin)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("delete expected 200, got %d", resp.StatusCode)
	}
}

func TestSignupRateLimit(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	limiter, err := ratelimit.New(client, ratelimit.Options{Name: "signup", Limit: 1, Window: time.Minute})
	if err != nil {
		t.Fatalf("new limiter: %v", err)
	}
	ts := newTestServer(t, Config{SignupLimiter: limiter})

	payload := map[string]string{"firstName": "Ann", "password": "secret1"}
	resp, _ := doJSON(t, http.MethodPost, ts.URL+"/api/auth/signup", payload, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("first signup expected 200, got %d", resp.StatusCode)
	}
	resp, body := doJSON(t, http.MethodPost, ts.URL+"/api/auth/signup", payload, nil)
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("second signup expected 429, got %d", resp.StatusCode)
	}
	if resp.Header.Get("Retry-After") == "" || body["code"] != "SYSTEM_RATE_LIMITED" {
		t.Fatalf("expected Retry-After and rate limit code, got %q %v", resp.Header.Get("Retry-After"), body)
	}

	// signin is not limited by the signup limiter
	resp, _ = doJSON(t, http.MethodPost, ts.URL+"/api/auth/signin", map[string]string{"login": "x", "password": "y"}, nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("signin expected 401, got %d", resp.StatusCode)
	}
}

func TestRetryAfterSeconds(t *testing.T) {
	for _, tc := range []struct {
		in   float64
		want int
	}{
		{0, 1},
		{0.2, 1},
		{30, 30},
		{30.5, 31},
	} {
		if got := retryAfterSeconds(tc.in); got != tc.want {
			t.Fatalf("retryAfterSeconds(%v) = %d, want %d", tc.in, got, tc.want)
		}
	}
}

func TestAdminLoginFailuresRaiseAlert(t *testing.T) {
	var logs bytes.Buffer
	prev := slog.Default()
	util.InitLoggerTo(&logs, "info")
	t.Cleanup(func() { slog.SetDefault(prev) })

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	srv, err := New(Config{
		App:        newTestApp(t),
		PathPrefix: "/api",
		Alerter:    security.NewAuditAlerter(client, "test:alerts"),
	})
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	handler := srv.Router()

	rule, _ := security.RuleFor("library.admin.login", "fail")
	for i := int64(0); i < rule.Threshold; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/admin/login", strings.NewReader(`{"password":"0000"}`))
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("attempt %d expected 401, got %d", i+1, rec.Code)
		}
		if i < rule.Threshold-1 && strings.Contains(logs.String(), `"msg":"security_alert"`) {
			t.Fatalf("alert raised early on attempt %d", i+1)
		}
	}
	if !strings.Contains(logs.String(), `"msg":"security_alert"`) {
		t.Fatalf("expected security_alert in logs:\n%s", logs.String())
	}
}
