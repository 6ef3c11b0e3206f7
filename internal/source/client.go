package source

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/storeops/tenant-backup/internal/utils"
)

const pageSize = 200

// Timeouts per operation class. One stalled call must not stall the run.
const (
	authTimeout   = 15 * time.Second
	listTimeout   = 30 * time.Second
	fileTimeout   = 60 * time.Second
	writeTimeout  = 15 * time.Second
	exportTimeout = 5 * time.Minute
)

// Client implements DataSource against the admin HTTP API.
type Client struct {
	baseURL  string
	email    string
	password string
	token    string
	http     *http.Client
	logger   *slog.Logger
}

// NewClient creates an unauthenticated client. Call Authenticate before use.
func NewClient(baseURL, email, password string, logger *slog.Logger) *Client {
	return &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		email:    email,
		password: password,
		http:     &http.Client{},
		logger:   logger.With("component", "source"),
	}
}

// Authenticate implements DataSource.Authenticate.
func (c *Client) Authenticate(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, authTimeout)
	defer cancel()

	body, err := json.Marshal(map[string]string{
		"identity": c.email,
		"password": c.password,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/api/admins/auth-with-password", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusBadRequest:
		return fmt.Errorf("%w: status %d", ErrAuth, resp.StatusCode)
	case resp.StatusCode >= 500:
		return fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	default:
		return fmt.Errorf("auth: unexpected status %d", resp.StatusCode)
	}

	var out struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return fmt.Errorf("auth: decode response: %w", err)
	}
	if out.Token == "" {
		return fmt.Errorf("%w: empty token", ErrAuth)
	}
	c.token = out.Token
	c.logger.Info("admin login OK", "identity", c.email)
	return nil
}

// ListTenants implements DataSource.ListTenants. Tenants live in the
// owners collection; identity is the record id, the archive namespace uses
// the display name.
func (c *Client) ListTenants(ctx context.Context) ([]Tenant, error) {
	records, err := c.ListRecords(ctx, "owners", "")
	if err != nil {
		return nil, err
	}

	tenants := make([]Tenant, 0, len(records))
	for _, rec := range records {
		id, _ := rec["id"].(string)
		if id == "" {
			continue
		}
		name, _ := rec["name"].(string)
		if name == "" {
			name, _ = rec["storeName"].(string)
		}
		if name == "" {
			name = id
		}
		tenants = append(tenants, Tenant{ID: id, Name: name, OwnerRef: id})
	}
	return tenants, nil
}

// ListRecords implements DataSource.ListRecords.
func (c *Client) ListRecords(ctx context.Context, collection, ownerFilter string) ([]Record, error) {
	var records []Record

	for page := 1; ; page++ {
		items, err := c.listPage(ctx, collection, ownerFilter, page)
		if err != nil {
			return nil, err
		}
		if items == nil {
			// Collection does not exist.
			c.logger.Warn("collection absent, skipping", "collection", collection)
			return []Record{}, nil
		}
		records = append(records, items...)
		if len(items) < pageSize {
			break
		}
	}
	if records == nil {
		records = []Record{}
	}
	return records, nil
}

// listPage fetches one page; a nil slice with nil error means the
// collection does not exist.
func (c *Client) listPage(ctx context.Context, collection, ownerFilter string, page int) ([]Record, error) {
	ctx, cancel := context.WithTimeout(ctx, listTimeout)
	defer cancel()

	q := url.Values{}
	q.Set("page", fmt.Sprint(page))
	q.Set("perPage", fmt.Sprint(pageSize))
	q.Set("skipTotal", "1")
	if ownerFilter != "" {
		q.Set("filter", fmt.Sprintf("ownerId = %q", ownerFilter))
	}

	endpoint := fmt.Sprintf("%s/api/collections/%s/records?%s", c.baseURL, url.PathEscape(collection), q.Encode())
	resp, err := c.do(ctx, http.MethodGet, endpoint, nil, "")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if err := classifyStatus(resp.StatusCode); err != nil {
		return nil, fmt.Errorf("list %s page %d: %w", collection, page, err)
	}

	var out struct {
		Items []Record `json:"items"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("list %s page %d: decode: %w", collection, page, err)
	}
	return out.Items, nil
}

// FetchFile implements DataSource.FetchFile.
func (c *Client) FetchFile(ctx context.Context, collection, recordID, filename string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, fileTimeout)
	defer cancel()

	endpoint := fmt.Sprintf("%s/api/files/%s/%s/%s", c.baseURL,
		url.PathEscape(collection), url.PathEscape(recordID), url.PathEscape(filename))
	resp, err := c.do(ctx, http.MethodGet, endpoint, nil, "")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if err := classifyStatus(resp.StatusCode); err != nil {
		return nil, fmt.Errorf("fetch file %s/%s/%s: %w", collection, recordID, filename, err)
	}
	return io.ReadAll(resp.Body)
}

// systemFields are server-managed and must not be replayed on restore.
var systemFields = map[string]bool{
	"id":             true,
	"created":        true,
	"updated":        true,
	"collectionId":   true,
	"collectionName": true,
	"expand":         true,
}

// UpsertRecord implements DataSource.UpsertRecord: overwrite when the id
// exists, otherwise create with the archived id.
func (c *Client) UpsertRecord(ctx context.Context, collection, id string, fields Record) (bool, error) {
	exists, err := c.recordExists(ctx, collection, id)
	if err != nil {
		return false, err
	}

	payload := make(Record, len(fields))
	for k, v := range fields {
		if !systemFields[k] {
			payload[k] = v
		}
	}

	if exists {
		endpoint := fmt.Sprintf("%s/api/collections/%s/records/%s", c.baseURL,
			url.PathEscape(collection), url.PathEscape(id))
		if err := c.writeJSON(ctx, http.MethodPatch, endpoint, payload); err != nil {
			return false, fmt.Errorf("update %s/%s: %w", collection, id, err)
		}
		return false, nil
	}

	payload["id"] = id
	endpoint := fmt.Sprintf("%s/api/collections/%s/records", c.baseURL, url.PathEscape(collection))
	if err := c.writeJSON(ctx, http.MethodPost, endpoint, payload); err != nil {
		return false, fmt.Errorf("create %s/%s: %w", collection, id, err)
	}
	return true, nil
}

func (c *Client) recordExists(ctx context.Context, collection, id string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()

	endpoint := fmt.Sprintf("%s/api/collections/%s/records/%s", c.baseURL,
		url.PathEscape(collection), url.PathEscape(id))
	resp, err := c.do(ctx, http.MethodGet, endpoint, nil, "")
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return false, nil
	}
	if err := classifyStatus(resp.StatusCode); err != nil {
		return false, fmt.Errorf("check %s/%s: %w", collection, id, err)
	}
	return true, nil
}

func (c *Client) writeJSON(ctx context.Context, method, endpoint string, payload Record) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()

	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	resp, err := c.do(ctx, method, endpoint, bytes.NewReader(body), "application/json")
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	return classifyStatus(resp.StatusCode)
}

// UploadFile implements DataSource.UploadFile with a multipart PATCH on the
// record's file field.
func (c *Client) UploadFile(ctx context.Context, collection, recordID, field, filename string, data []byte) error {
	ctx, cancel := context.WithTimeout(ctx, fileTimeout)
	defer cancel()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile(field, filename)
	if err != nil {
		return err
	}
	if _, err := part.Write(data); err != nil {
		return err
	}
	if err := mw.Close(); err != nil {
		return err
	}

	endpoint := fmt.Sprintf("%s/api/collections/%s/records/%s", c.baseURL,
		url.PathEscape(collection), url.PathEscape(recordID))
	resp, err := c.do(ctx, http.MethodPatch, endpoint, &buf, mw.FormDataContentType())
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := classifyStatus(resp.StatusCode); err != nil {
		return fmt.Errorf("upload file %s/%s/%s: %w", collection, recordID, filename, err)
	}
	return nil
}

// RequestFullExport implements DataSource.RequestFullExport.
func (c *Client) RequestFullExport(ctx context.Context) (string, []byte, error) {
	ctx, cancel := context.WithTimeout(ctx, exportTimeout)
	defer cancel()

	name := fmt.Sprintf("auto_%s.zip", time.Now().UTC().Format("20060102_1504"))

	body, err := json.Marshal(map[string]string{"name": name})
	if err != nil {
		return "", nil, err
	}
	resp, err := c.do(ctx, http.MethodPost, c.baseURL+"/api/backups", bytes.NewReader(body), "application/json")
	if err != nil {
		return "", nil, err
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		if err := classifyStatus(resp.StatusCode); err != nil {
			return "", nil, fmt.Errorf("trigger full export: %w", err)
		}
		return "", nil, fmt.Errorf("trigger full export: unexpected status %d", resp.StatusCode)
	}

	dl, err := c.do(ctx, http.MethodGet, c.baseURL+"/api/backups/"+url.PathEscape(name), nil, "")
	if err != nil {
		return "", nil, err
	}
	defer dl.Body.Close()
	if err := classifyStatus(dl.StatusCode); err != nil {
		return "", nil, fmt.Errorf("download full export %s: %w", name, err)
	}

	pr := utils.NewProgressReader(dl.Body, func(read int64, elapsed time.Duration) {
		c.logger.Info("downloading full export",
			"name", name,
			"read", utils.FormatBytes(read),
			"rate", utils.FormatRate(float64(read)/elapsed.Seconds()),
		)
	})
	data, err := io.ReadAll(pr)
	if err != nil {
		return "", nil, fmt.Errorf("download full export %s: %w", name, err)
	}
	return name, data, nil
}

// StageFullImport implements DataSource.StageFullImport.
func (c *Client) StageFullImport(ctx context.Context, name string, data []byte) error {
	ctx, cancel := context.WithTimeout(ctx, exportTimeout)
	defer cancel()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", name)
	if err != nil {
		return err
	}
	if _, err := part.Write(data); err != nil {
		return err
	}
	if err := mw.Close(); err != nil {
		return err
	}

	resp, err := c.do(ctx, http.MethodPost, c.baseURL+"/api/backups/upload", &buf, mw.FormDataContentType())
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		if err := classifyStatus(resp.StatusCode); err != nil {
			return fmt.Errorf("stage full import %s: %w", name, err)
		}
		return fmt.Errorf("stage full import %s: unexpected status %d", name, resp.StatusCode)
	}
	c.logger.Info("full database blob staged", "name", name)
	return nil
}

// do issues an authenticated request. Network failures classify as
// ErrUnavailable.
func (c *Client) do(ctx context.Context, method, endpoint string, body io.Reader, contentType string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return nil, err
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return resp, nil
}

// classifyStatus maps HTTP statuses onto the error taxonomy. 2xx is nil.
func classifyStatus(status int) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return fmt.Errorf("%w: status %d", ErrAuth, status)
	case status == http.StatusNotFound:
		return fmt.Errorf("%w: status %d", ErrNotFound, status)
	case status >= 500:
		return fmt.Errorf("%w: status %d", ErrUnavailable, status)
	default:
		return fmt.Errorf("unexpected status %d", status)
	}
}
