package sdk_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/celerix-dev/celerix-expenses/internal/api"
	"github.com/celerix-dev/celerix-expenses/internal/auth"
	"github.com/celerix-dev/celerix-expenses/internal/blobstore"
	"github.com/celerix-dev/celerix-expenses/internal/engine"
	"github.com/celerix-dev/celerix-expenses/internal/intake"
	"github.com/celerix-dev/celerix-expenses/pkg/schema"
	"github.com/celerix-dev/celerix-expenses/pkg/sdk"
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func startDaemon(t *testing.T) (*httptest.Server, *engine.Repository) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store := blobstore.NewMemStore("")
	repo := engine.New(store, engine.Options{Logger: discard()})
	h := &api.Handler{
		Repo:         repo,
		Blobs:        store,
		Intake:       intake.NewService(repo, store, nil, intake.Options{Logger: discard()}),
		Tokens:       auth.NewTokenService("secret", time.Hour),
		PasswordHash: auth.SHA256Hex("letmein"),
		Logger:       discard(),
	}
	srv := httptest.NewServer(api.NewRouter(h, api.RouterOptions{}))
	t.Cleanup(srv.Close)
	return srv, repo
}

func TestClient_Integration(t *testing.T) {
	srv, repo := startDaemon(t)
	ctx := context.Background()

	for i, id := range []string{"a", "b", "c"} {
		s := &schema.Submission{
			ID:        id,
			Timestamp: time.Date(2024, 3, 1, 9, i, 0, 0, time.UTC),
			Name:      "Claimant " + id,
			Email:     id + "@example.org",
			Items:     []schema.ExpenseItem{{Amount: "12"}},
		}
		if err := repo.Save(ctx, s); err != nil {
			t.Fatal(err)
		}
	}

	client, err := sdk.Connect(srv.URL, sdk.WithLogger(discard()), sdk.WithBackoff(time.Millisecond))
	if err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	if _, err := client.List(ctx, engine.Query{}); !errors.Is(err, sdk.ErrUnauthorized) {
		t.Errorf("Expected ErrUnauthorized before login, got %v", err)
	}
	if err := client.Login(ctx, "wrong"); !errors.Is(err, sdk.ErrUnauthorized) {
		t.Errorf("Expected ErrUnauthorized for a bad password, got %v", err)
	}
	if err := client.Login(ctx, "letmein"); err != nil {
		t.Fatalf("Login failed: %v", err)
	}

	listing, err := client.List(ctx, engine.Query{Sort: engine.SortRecent, PerPage: 2})
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if listing.Total != 3 || len(listing.Submissions) != 2 || listing.Submissions[0].ID != "c" {
		t.Errorf("Unexpected listing %+v", listing)
	}

	page, err := client.Summaries(ctx, 10, 2)
	if err != nil || len(page.Summaries) != 1 || page.Summaries[0].ID != "c" {
		t.Errorf("Unexpected page %+v (%v)", page, err)
	}

	if err := client.SetReimbursed(ctx, "b", true); err != nil {
		t.Fatalf("SetReimbursed failed: %v", err)
	}
	got, err := client.Get(ctx, "b")
	if err != nil || !got.Reimbursed {
		t.Errorf("Expected b to be reimbursed, got %+v (%v)", got, err)
	}

	pdf, err := client.PDF(ctx, "a")
	if err != nil || !bytes.HasPrefix(pdf, []byte("%PDF")) {
		t.Errorf("Expected a PDF, got %d bytes (%v)", len(pdf), err)
	}

	if err := client.Delete(ctx, "a"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := client.Get(ctx, "a"); !sdk.IsNotFound(err) {
		t.Errorf("Expected ErrNotFound after delete, got %v", err)
	}

	if _, err := client.Reindex(ctx); err != nil {
		t.Errorf("Reindex failed: %v", err)
	}
	if res, err := client.Migrate(ctx); err != nil || res.Found {
		t.Errorf("Expected no legacy blob, got %+v (%v)", res, err)
	}
	if n, err := client.Health(ctx); err != nil || n == 0 {
		t.Errorf("Unexpected health %d (%v)", n, err)
	}

	if err := client.Logout(ctx); err != nil {
		t.Fatalf("Logout failed: %v", err)
	}
	if _, err := client.Get(ctx, "b"); !errors.Is(err, sdk.ErrUnauthorized) {
		t.Errorf("Expected ErrUnauthorized after logout, got %v", err)
	}
}

func TestClient_RetryLogic(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"status":"ok","blobCount":7}`)
	}))
	defer srv.Close()

	client, _ := sdk.Connect(srv.URL, sdk.WithLogger(discard()), sdk.WithBackoff(time.Millisecond))
	n, err := client.Health(context.Background())
	if err != nil {
		t.Fatalf("Expected success on the third attempt, got %v", err)
	}
	if n != 7 || calls.Load() != 3 {
		t.Errorf("Expected 7 blobs after 3 calls, got %d after %d", n, calls.Load())
	}
}

func TestClient_GivesUpAfterThreeAttempts(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
		io.WriteString(w, `{"error":"store unavailable"}`)
	}))
	defer srv.Close()

	client, _ := sdk.Connect(srv.URL, sdk.WithLogger(discard()), sdk.WithBackoff(time.Millisecond))
	_, err := client.Health(context.Background())

	var apiErr *sdk.APIError
	if !errors.As(err, &apiErr) || apiErr.Message != "store unavailable" {
		t.Errorf("Expected wrapped APIError, got %v", err)
	}
	if calls.Load() != 3 {
		t.Errorf("Expected 3 attempts, got %d", calls.Load())
	}
}

func TestClient_NoRetryOnClientError(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		io.WriteString(w, `{"error":"bad sort"}`)
	}))
	defer srv.Close()

	client, _ := sdk.Connect(srv.URL, sdk.WithLogger(discard()))
	_, err := client.List(context.Background(), engine.Query{Sort: "bogus"})

	var apiErr *sdk.APIError
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusBadRequest {
		t.Errorf("Expected 400 APIError, got %v", err)
	}
	if calls.Load() != 1 {
		t.Errorf("Expected a single attempt, got %d", calls.Load())
	}
}

func TestConnectRejectsBadURL(t *testing.T) {
	if _, err := sdk.Connect("ftp://example.org"); err == nil {
		t.Error("Expected an error for a non-http scheme")
	}
}

func TestNewFromEnvironment(t *testing.T) {
	srv, _ := startDaemon(t)
	t.Setenv(sdk.EnvURL, srv.URL)
	t.Setenv(sdk.EnvPassword, "letmein")

	client, err := sdk.New(context.Background(), sdk.WithLogger(discard()))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if _, err := client.Summaries(context.Background(), 10, 0); err != nil {
		t.Errorf("Expected an authenticated client, got %v", err)
	}
}
