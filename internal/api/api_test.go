package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/celerix-dev/celerix-expenses/internal/auth"
	"github.com/celerix-dev/celerix-expenses/internal/blobstore"
	"github.com/celerix-dev/celerix-expenses/internal/engine"
	"github.com/celerix-dev/celerix-expenses/internal/intake"
	"github.com/celerix-dev/celerix-expenses/pkg/schema"
)

const testPassword = "hunter2"

func setupTestRouter() (*gin.Engine, *Handler, *blobstore.MemStore) {
	gin.SetMode(gin.TestMode)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	store := blobstore.NewMemStore("http://localhost:7003")
	repo := engine.New(store, engine.Options{Logger: logger})
	h := &Handler{
		Repo:         repo,
		Blobs:        store,
		Intake:       intake.NewService(repo, store, nil, intake.Options{Logger: logger}),
		Tokens:       auth.NewTokenService("test-secret", time.Hour),
		PasswordHash: auth.SHA256Hex(testPassword),
		MaxBodyBytes: 1 << 20,
		Logger:       logger,
	}
	return NewRouter(h, RouterOptions{CORSOrigin: "https://expenses.example.org"}), h, store
}

func adminCookie(t *testing.T, h *Handler) *http.Cookie {
	t.Helper()
	token, _, err := h.Tokens.Issue(auth.Claims{Subject: "admin"})
	if err != nil {
		t.Fatal(err)
	}
	return &http.Cookie{Name: auth.CookieName, Value: token}
}

func do(r http.Handler, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func seed(t *testing.T, h *Handler, id string, minutes int) {
	t.Helper()
	s := &schema.Submission{
		ID:        id,
		Timestamp: time.Date(2024, 3, 1, 9, minutes, 0, 0, time.UTC),
		Name:      "Claimant " + id,
		Email:     id + "@example.org",
		Date:      "2024-03-01",
		Items:     []schema.ExpenseItem{{Description: "Taxi", BudgetLine: "Travel", Amount: "10.50"}},
	}
	if err := h.Repo.Save(context.Background(), s); err != nil {
		t.Fatal(err)
	}
}

func TestSubmit(t *testing.T) {
	r, h, _ := setupTestRouter()

	body := `{"name":"Ada","email":"ada@example.org","items":[{"amount":"10.50"},{"amount":"bad"},{"amount":"5"}]}`
	req, _ := http.NewRequest("POST", "/api/submit", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := do(r, req)
	h.Intake.Wait()

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", w.Code, w.Body.String())
	}
	var resp struct {
		Status string `json:"status"`
		ID     string `json:"id"`
		Total  string `json:"total"`
	}
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Status != "success" || resp.ID == "" || resp.Total != "15.50" {
		t.Errorf("Unexpected response %+v", resp)
	}
	if _, err := h.Repo.LoadOne(context.Background(), resp.ID); err != nil {
		t.Errorf("Submission was not stored: %v", err)
	}
}

func TestSubmitValidation(t *testing.T) {
	r, _, _ := setupTestRouter()

	for _, body := range []string{`{"email":"ada@example.org"}`, `{"name":"Ada","email":"not-an-email"}`, `{`} {
		req, _ := http.NewRequest("POST", "/api/submit", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		if w := do(r, req); w.Code != http.StatusBadRequest {
			t.Errorf("Body %s: expected 400, got %d", body, w.Code)
		}
	}
}

func TestSubmitTooLarge(t *testing.T) {
	r, h, _ := setupTestRouter()
	h.MaxBodyBytes = 64

	body := `{"name":"` + strings.Repeat("a", 200) + `","email":"ada@example.org"}`
	req, _ := http.NewRequest("POST", "/api/submit", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if w := do(r, req); w.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("Expected 413, got %d", w.Code)
	}
}

func TestHealth(t *testing.T) {
	r, h, _ := setupTestRouter()
	seed(t, h, "a", 0)

	req, _ := http.NewRequest("GET", "/api/health", nil)
	w := do(r, req)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	var resp map[string]any
	json.Unmarshal(w.Body.Bytes(), &resp)
	// The record and the index.
	if resp["status"] != "ok" || resp["blobCount"] != float64(2) {
		t.Errorf("Unexpected health %v", resp)
	}
}

func TestLoginJSON(t *testing.T) {
	r, _, _ := setupTestRouter()

	req, _ := http.NewRequest("POST", "/api/login", bytes.NewBufferString(`{"password":"wrong"}`))
	req.Header.Set("Content-Type", "application/json")
	if w := do(r, req); w.Code != http.StatusUnauthorized {
		t.Errorf("Expected 401 for a bad password, got %d", w.Code)
	}

	req, _ = http.NewRequest("POST", "/api/login", bytes.NewBufferString(`{"password":"`+testPassword+`"}`))
	req.Header.Set("Content-Type", "application/json")
	w := do(r, req)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}

	cookies := w.Result().Cookies()
	if len(cookies) != 1 || cookies[0].Name != auth.CookieName {
		t.Fatalf("Expected admin cookie, got %v", cookies)
	}
	c := cookies[0]
	if !c.HttpOnly || c.SameSite != http.SameSiteLaxMode || c.Path != "/" || c.MaxAge != 3600 {
		t.Errorf("Unexpected cookie attributes %+v", c)
	}

	req, _ = http.NewRequest("GET", "/api/admin/summaries", nil)
	req.AddCookie(c)
	if w := do(r, req); w.Code != http.StatusOK {
		t.Errorf("Issued cookie should grant admin access, got %d", w.Code)
	}
}

func TestLoginForm(t *testing.T) {
	r, _, _ := setupTestRouter()

	form := url.Values{"password": {"wrong"}}
	req, _ := http.NewRequest("POST", "/api/login", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := do(r, req)
	if w.Code != http.StatusSeeOther || w.Header().Get("Location") != "/login?error=1" {
		t.Errorf("Expected redirect to login error, got %d %s", w.Code, w.Header().Get("Location"))
	}

	form.Set("password", testPassword)
	req, _ = http.NewRequest("POST", "/api/login", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w = do(r, req)
	if w.Code != http.StatusSeeOther || w.Header().Get("Location") != "/admin" {
		t.Errorf("Expected redirect to admin, got %d %s", w.Code, w.Header().Get("Location"))
	}
}

func TestLoginWithoutSecret(t *testing.T) {
	r, h, _ := setupTestRouter()
	h.Tokens = auth.NewTokenService("", 0)

	req, _ := http.NewRequest("POST", "/api/login", bytes.NewBufferString(`{"password":"`+testPassword+`"}`))
	req.Header.Set("Content-Type", "application/json")
	if w := do(r, req); w.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected 503, got %d", w.Code)
	}
}

func TestLogout(t *testing.T) {
	r, _, _ := setupTestRouter()

	req, _ := http.NewRequest("GET", "/logout", nil)
	w := do(r, req)
	if w.Code != http.StatusFound || w.Header().Get("Location") != "/login" {
		t.Errorf("Expected redirect to /login, got %d", w.Code)
	}
	cookies := w.Result().Cookies()
	if len(cookies) != 1 || cookies[0].MaxAge >= 0 {
		t.Errorf("Expected cookie to be cleared, got %v", cookies)
	}
}

func TestAdminRoutesRequireCookie(t *testing.T) {
	r, _, _ := setupTestRouter()

	for _, path := range []string{"/api/admin/submissions", "/api/submission/x", "/api/pdf?id=x", "/blobs/x"} {
		req, _ := http.NewRequest("GET", path, nil)
		if w := do(r, req); w.Code != http.StatusUnauthorized {
			t.Errorf("%s: expected 401, got %d", path, w.Code)
		}
	}

	req, _ := http.NewRequest("GET", "/api/admin/submissions", nil)
	req.AddCookie(&http.Cookie{Name: auth.CookieName, Value: "a.b.c"})
	if w := do(r, req); w.Code != http.StatusUnauthorized {
		t.Errorf("Forged cookie: expected 401, got %d", w.Code)
	}
}

func TestListSubmissions(t *testing.T) {
	r, h, _ := setupTestRouter()
	seed(t, h, "a", 0)
	seed(t, h, "b", 1)
	seed(t, h, "c", 2)

	req, _ := http.NewRequest("GET", "/api/admin/submissions?sort=recent&per_page=2&page=1", nil)
	req.AddCookie(adminCookie(t, h))
	w := do(r, req)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", w.Code, w.Body.String())
	}

	var listing engine.Listing
	json.Unmarshal(w.Body.Bytes(), &listing)
	if listing.Total != 3 || len(listing.Submissions) != 2 || listing.Submissions[0].ID != "c" {
		t.Errorf("Unexpected listing %+v", listing)
	}
	if listing.Submissions[0].Total != "10.50" {
		t.Errorf("Expected derived total, got %s", listing.Submissions[0].Total)
	}

	req, _ = http.NewRequest("GET", "/api/admin/submissions?sort=bogus", nil)
	req.AddCookie(adminCookie(t, h))
	if w := do(r, req); w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for unknown sort, got %d", w.Code)
	}
}

func TestSummaries(t *testing.T) {
	r, h, _ := setupTestRouter()
	seed(t, h, "a", 0)
	seed(t, h, "b", 1)

	req, _ := http.NewRequest("GET", "/api/admin/summaries?limit=1&offset=1", nil)
	req.AddCookie(adminCookie(t, h))
	w := do(r, req)

	var page engine.Page
	json.Unmarshal(w.Body.Bytes(), &page)
	if page.Total != 2 || len(page.Summaries) != 1 || page.Summaries[0].ID != "b" {
		t.Errorf("Unexpected page %+v", page)
	}
}

func TestGetSubmission(t *testing.T) {
	r, h, _ := setupTestRouter()
	seed(t, h, "a", 0)
	cookie := adminCookie(t, h)

	tests := []struct {
		path string
		code int
	}{
		{"/api/submission/a", http.StatusOK},
		{"/api/submission/missing", http.StatusNotFound},
		{"/api/submission/a..b", http.StatusBadRequest},
	}
	for _, tt := range tests {
		req, _ := http.NewRequest("GET", tt.path, nil)
		req.AddCookie(cookie)
		if w := do(r, req); w.Code != tt.code {
			t.Errorf("%s: expected %d, got %d", tt.path, tt.code, w.Code)
		}
	}
}

func TestUpdateReimbursed(t *testing.T) {
	r, h, _ := setupTestRouter()
	seed(t, h, "a", 0)
	cookie := adminCookie(t, h)

	req, _ := http.NewRequest("POST", "/api/update-reimbursed", bytes.NewBufferString(`{"id":"a","reimbursed":true}`))
	req.Header.Set("Content-Type", "application/json")
	req.AddCookie(cookie)
	if w := do(r, req); w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	s, _ := h.Repo.LoadOne(context.Background(), "a")
	if !s.Reimbursed {
		t.Error("Expected submission to be reimbursed")
	}

	req, _ = http.NewRequest("POST", "/api/update-reimbursed", bytes.NewBufferString(`{"id":"a"}`))
	req.Header.Set("Content-Type", "application/json")
	req.AddCookie(cookie)
	if w := do(r, req); w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 without reimbursed flag, got %d", w.Code)
	}

	req, _ = http.NewRequest("POST", "/api/update-reimbursed", bytes.NewBufferString(`{"id":"nope","reimbursed":true}`))
	req.Header.Set("Content-Type", "application/json")
	req.AddCookie(cookie)
	if w := do(r, req); w.Code != http.StatusNotFound {
		t.Errorf("Expected 404 for unknown id, got %d", w.Code)
	}
}

func TestDeleteSubmission(t *testing.T) {
	r, h, _ := setupTestRouter()
	seed(t, h, "a", 0)

	req, _ := http.NewRequest("DELETE", "/api/admin/submissions/a", nil)
	req.AddCookie(adminCookie(t, h))
	if w := do(r, req); w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	if _, err := h.Repo.LoadOne(context.Background(), "a"); err == nil {
		t.Error("Expected submission to be gone")
	}
}

func TestPDF(t *testing.T) {
	r, h, _ := setupTestRouter()
	seed(t, h, "a", 0)
	cookie := adminCookie(t, h)

	req, _ := http.NewRequest("GET", "/api/pdf?id=a", nil)
	req.AddCookie(cookie)
	w := do(r, req)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	if w.Header().Get("Content-Type") != "application/pdf" || !bytes.HasPrefix(w.Body.Bytes(), []byte("%PDF")) {
		t.Errorf("Expected a PDF document, got %s", w.Header().Get("Content-Type"))
	}
	if !strings.Contains(w.Header().Get("Content-Disposition"), "expense-report-a.pdf") {
		t.Errorf("Unexpected disposition %s", w.Header().Get("Content-Disposition"))
	}

	req, _ = http.NewRequest("GET", "/api/pdf", nil)
	req.AddCookie(cookie)
	if w := do(r, req); w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 without id, got %d", w.Code)
	}
}

func TestReindexAndMigrate(t *testing.T) {
	r, h, _ := setupTestRouter()
	seed(t, h, "a", 0)
	cookie := adminCookie(t, h)

	for _, path := range []string{"/api/admin/reindex", "/api/admin/migrate"} {
		req, _ := http.NewRequest("POST", path, nil)
		req.AddCookie(cookie)
		if w := do(r, req); w.Code != http.StatusOK {
			t.Errorf("%s: expected 200, got %d", path, w.Code)
		}
	}
}

func TestServeBlob(t *testing.T) {
	r, h, store := setupTestRouter()
	store.Put(context.Background(), "abc_0_0_scan.png", []byte("png"), "image/png")
	cookie := adminCookie(t, h)

	req, _ := http.NewRequest("GET", "/blobs/abc_0_0_scan.png", nil)
	req.AddCookie(cookie)
	w := do(r, req)
	if w.Code != http.StatusOK || w.Body.String() != "png" || w.Header().Get("Content-Type") != "image/png" {
		t.Errorf("Unexpected blob response %d %q %s", w.Code, w.Body.String(), w.Header().Get("Content-Type"))
	}

	req, _ = http.NewRequest("GET", "/blobs/missing.png", nil)
	req.AddCookie(cookie)
	if w := do(r, req); w.Code != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", w.Code)
	}
}

func TestCORSPreflight(t *testing.T) {
	r, _, _ := setupTestRouter()

	req, _ := http.NewRequest("OPTIONS", "/api/submit", nil)
	w := do(r, req)
	if w.Code != http.StatusNoContent {
		t.Errorf("Expected 204, got %d", w.Code)
	}
	if w.Header().Get("Access-Control-Allow-Origin") != "https://expenses.example.org" {
		t.Errorf("Unexpected origin header %q", w.Header().Get("Access-Control-Allow-Origin"))
	}
}

func TestUnknownAPIRoute(t *testing.T) {
	r, _, _ := setupTestRouter()
	req, _ := http.NewRequest("GET", "/api/nope", nil)
	if w := do(r, req); w.Code != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", w.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	r, _, _ := setupTestRouter()
	req, _ := http.NewRequest("GET", "/metrics", nil)
	if w := do(r, req); w.Code != http.StatusOK {
		t.Errorf("Expected 200, got %d", w.Code)
	}
}
