// Package sdk provides a client for the Celerix expenses admin API.
package sdk

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/celerix-dev/celerix-expenses/internal/engine"
	"github.com/celerix-dev/celerix-expenses/pkg/schema"
)

const maxAttempts = 3

// APIError is a non-success response that is neither 401 nor 404.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("expenses api: %d %s", e.Status, e.Message)
}

// Client talks to a running daemon over HTTP. The admin cookie set by Login
// is kept in the client's cookie jar.
type Client struct {
	baseURL *url.URL
	http    *http.Client
	logger  *slog.Logger
	backoff time.Duration
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client. Its Jar is set if nil.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithLogger sets the logger used to report retries.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithBackoff sets the base delay between attempts.
func WithBackoff(d time.Duration) Option {
	return func(c *Client) { c.backoff = d }
}

// Connect returns a client for the daemon at baseURL.
func Connect(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid base URL %q: scheme must be http or https", baseURL)
	}

	c := &Client{
		baseURL: u,
		http:    &http.Client{Timeout: 30 * time.Second},
		logger:  slog.Default(),
		backoff: 200 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.http.Jar == nil {
		jar, err := cookiejar.New(nil)
		if err != nil {
			return nil, err
		}
		c.http.Jar = jar
	}
	return c, nil
}

// do sends a request, retrying transport errors and 5xx responses with
// linear backoff. out may be nil, a *[]byte for raw bodies, or a JSON target.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, in, out any) error {
	var payload []byte
	if in != nil {
		var err error
		if payload, err = json.Marshal(in); err != nil {
			return err
		}
	}
	target := c.baseURL.JoinPath(path)
	target.RawQuery = query.Encode()

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		req, err := http.NewRequestWithContext(ctx, method, target.String(), bytes.NewReader(payload))
		if err != nil {
			return err
		}
		if in != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.http.Do(req)
		if err == nil {
			body, readErr := io.ReadAll(resp.Body)
			resp.Body.Close()
			switch {
			case readErr != nil:
				err = readErr
			case resp.StatusCode >= 500:
				err = responseError(resp.StatusCode, body)
			default:
				return decode(resp.StatusCode, body, out)
			}
		}
		lastErr = err
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if attempt == maxAttempts {
			break
		}

		c.logger.Warn("expenses api request failed, retrying", "method", method, "path", path, "attempt", attempt, "error", err)
		select {
		case <-time.After(time.Duration(attempt) * c.backoff):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return fmt.Errorf("failed after %d attempts: %w", maxAttempts, lastErr)
}

func decode(status int, body []byte, out any) error {
	if status >= 300 {
		return responseError(status, body)
	}
	switch v := out.(type) {
	case nil:
		return nil
	case *[]byte:
		*v = body
		return nil
	default:
		return json.Unmarshal(body, out)
	}
}

func responseError(status int, body []byte) error {
	switch status {
	case http.StatusUnauthorized:
		return ErrUnauthorized
	case http.StatusNotFound:
		return ErrNotFound
	}
	var msg struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(body, &msg) != nil || msg.Error == "" {
		msg.Error = http.StatusText(status)
	}
	return &APIError{Status: status, Message: msg.Error}
}

func (c *Client) Login(ctx context.Context, password string) error {
	return c.do(ctx, http.MethodPost, "/api/login", nil, map[string]string{"password": password}, nil)
}

func (c *Client) Logout(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/api/logout", nil, nil, nil)
}

// Health returns the number of blobs the daemon can see.
func (c *Client) Health(ctx context.Context) (int, error) {
	var resp struct {
		Status    string `json:"status"`
		BlobCount int    `json:"blobCount"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/health", nil, nil, &resp); err != nil {
		return 0, err
	}
	return resp.BlobCount, nil
}

func (c *Client) List(ctx context.Context, q engine.Query) (engine.Listing, error) {
	query := url.Values{}
	if q.Sort != "" {
		query.Set("sort", q.Sort)
	}
	if q.Search != "" {
		query.Set("q", q.Search)
	}
	if q.Page > 0 {
		query.Set("page", strconv.Itoa(q.Page))
	}
	if q.PerPage > 0 {
		query.Set("per_page", strconv.Itoa(q.PerPage))
	}
	var listing engine.Listing
	err := c.do(ctx, http.MethodGet, "/api/admin/submissions", query, nil, &listing)
	return listing, err
}

func (c *Client) Summaries(ctx context.Context, limit, offset int) (engine.Page, error) {
	query := url.Values{
		"limit":  {strconv.Itoa(limit)},
		"offset": {strconv.Itoa(offset)},
	}
	var page engine.Page
	err := c.do(ctx, http.MethodGet, "/api/admin/summaries", query, nil, &page)
	return page, err
}

func (c *Client) Get(ctx context.Context, id string) (*schema.Submission, error) {
	var s schema.Submission
	if err := c.do(ctx, http.MethodGet, "/api/submission/"+url.PathEscape(id), nil, nil, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

func (c *Client) SetReimbursed(ctx context.Context, id string, reimbursed bool) error {
	body := map[string]any{"id": id, "reimbursed": reimbursed}
	return c.do(ctx, http.MethodPost, "/api/update-reimbursed", nil, body, nil)
}

func (c *Client) Delete(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/api/admin/submissions/"+url.PathEscape(id), nil, nil, nil)
}

func (c *Client) PDF(ctx context.Context, id string) ([]byte, error) {
	var body []byte
	err := c.do(ctx, http.MethodGet, "/api/pdf", url.Values{"id": {id}}, nil, &body)
	return body, err
}

func (c *Client) Reindex(ctx context.Context) (engine.ReindexResult, error) {
	var res engine.ReindexResult
	err := c.do(ctx, http.MethodPost, "/api/admin/reindex", nil, nil, &res)
	return res, err
}

func (c *Client) Migrate(ctx context.Context) (engine.MigrationResult, error) {
	var res engine.MigrationResult
	err := c.do(ctx, http.MethodPost, "/api/admin/migrate", nil, nil, &res)
	return res, err
}

// IsNotFound reports whether err means the submission does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

var _ Admin = (*Client)(nil)
