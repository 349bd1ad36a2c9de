// Package store is the client side of the hub's durable row API. Every
// failure that crosses this boundary is mapped to errs.StoreUnavailable
// so callers can treat the store as a single capability that is either
// reachable or not.
package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/mentorchat/mentorchat/internal/errs"
	"go.uber.org/zap"
)

const requestTimeout = 15 * time.Second

// Client talks to the hub's row API over HTTP with a bearer token.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	logger  *zap.Logger
}

// New creates a store client for the given hub. baseURL has no trailing
// slash; token may be empty until Login succeeds.
func New(baseURL, token string, logger *zap.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: requestTimeout},
		logger:  logger,
	}
}

// SetToken installs the bearer token used on authenticated calls.
func (c *Client) SetToken(token string) { c.token = token }

// BaseURL returns the hub URL this client talks to.
func (c *Client) BaseURL() string { return c.baseURL }

// Login exchanges an email for an access token. The hub normalizes the
// email; the returned value is the canonical identity.
func (c *Client) Login(ctx context.Context, email string) (token, canonical string, err error) {
	var out struct {
		Token string `json:"token"`
		Email string `json:"email"`
	}
	if err := c.post(ctx, "/api/login", map[string]string{"email": email}, &out); err != nil {
		return "", "", err
	}
	c.token = out.Token
	return out.Token, out.Email, nil
}

// Health checks that the hub is reachable.
func (c *Client) Health(ctx context.Context) error {
	var out struct {
		Status string `json:"status"`
	}
	return c.post(ctx, "/api/health", nil, &out)
}

// Select fetches rows from a table and decodes them into dest, which
// must be a pointer to a slice of the table's row type.
func (c *Client) Select(ctx context.Context, table string, filter map[string]any, order string, limit int, dest any) error {
	body := map[string]any{"filter": filter, "order": order, "limit": limit}
	var out struct {
		Rows json.RawMessage `json:"rows"`
	}
	if err := c.post(ctx, "/api/rows/"+table+"/select", body, &out); err != nil {
		return err
	}
	if err := json.Unmarshal(out.Rows, dest); err != nil {
		return &errs.StoreUnavailable{Op: "select " + table, Err: err}
	}
	return nil
}

// Insert writes rows into a table. rows is a slice of the table's row
// type or of row maps.
func (c *Client) Insert(ctx context.Context, table string, rows any) error {
	return c.post(ctx, "/api/rows/"+table+"/insert", map[string]any{"rows": rows}, nil)
}

// Update applies a patch to every row matching the filter.
func (c *Client) Update(ctx context.Context, table string, patch, filter map[string]any) error {
	body := map[string]any{"patch": patch, "filter": filter}
	return c.post(ctx, "/api/rows/"+table+"/update", body, nil)
}

// Delete removes every row matching the filter.
func (c *Client) Delete(ctx context.Context, table string, filter map[string]any) error {
	return c.post(ctx, "/api/rows/"+table+"/delete", map[string]any{"filter": filter}, nil)
}

// UploadResult is the hub's description of a stored blob.
type UploadResult struct {
	URL  string `json:"url"`
	Name string `json:"name"`
	Type string `json:"type"`
	Size int64  `json:"size"`
}

// Upload stores a blob on the hub and returns its URL and metadata.
func (c *Client) Upload(ctx context.Context, filename string, r io.Reader) (*UploadResult, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return nil, &errs.StoreUnavailable{Op: "upload", Err: err}
	}
	if _, err := io.Copy(part, r); err != nil {
		return nil, &errs.StoreUnavailable{Op: "upload", Err: err}
	}
	if err := mw.Close(); err != nil {
		return nil, &errs.StoreUnavailable{Op: "upload", Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/upload", &buf)
	if err != nil {
		return nil, &errs.StoreUnavailable{Op: "upload", Err: err}
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &errs.StoreUnavailable{Op: "upload", Err: err}
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return nil, &errs.StoreUnavailable{Op: "upload", Err: apiError(resp)}
	}
	out := new(UploadResult)
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return nil, &errs.StoreUnavailable{Op: "upload", Err: err}
	}
	return out, nil
}

// AIReply relays a tagged question plus its context window to the hub's
// assistant endpoint and returns the reply text.
func (c *Client) AIReply(ctx context.Context, message string, contextLines []string) (string, error) {
	body := map[string]any{"message": message, "context": contextLines}
	var out struct {
		Reply string `json:"reply"`
	}
	if err := c.post(ctx, "/api/ai-reply", body, &out); err != nil {
		return "", err
	}
	return out.Reply, nil
}

// post runs one JSON round trip against the hub. Transport errors and
// non-200 statuses both surface as StoreUnavailable.
func (c *Client) post(ctx context.Context, path string, body, dest any) error {
	op := strings.TrimPrefix(path, "/api/")

	var rd io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return &errs.StoreUnavailable{Op: op, Err: err}
		}
		rd = bytes.NewReader(raw)
	} else {
		rd = strings.NewReader("{}")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, rd)
	if err != nil {
		return &errs.StoreUnavailable{Op: op, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return &errs.StoreUnavailable{Op: op, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return &errs.StoreUnavailable{Op: op, Err: apiError(resp)}
	}
	if dest == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
		return &errs.StoreUnavailable{Op: op, Err: err}
	}
	return nil
}

func apiError(resp *http.Response) error {
	var out struct {
		Error string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err == nil && out.Error != "" {
		return fmt.Errorf("hub returned %d: %s", resp.StatusCode, out.Error)
	}
	return fmt.Errorf("hub returned %d", resp.StatusCode)
}
