// Package upload delivers signed documents to a Microsoft Graph style
// document library and marks them as signed.
package upload

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"
)

// DefaultBaseURL is the Microsoft Graph v1.0 endpoint.
const DefaultBaseURL = "https://graph.microsoft.com/v1.0"

const defaultTimeout = 30 * time.Second

// filenameLayout is the timestamp layout used in uploaded file names.
const filenameLayout = "20060102_150405"

var (
	// ErrTokenExpired is returned by token sources holding an expired token.
	ErrTokenExpired = errors.New("access token expired")

	// ErrNotConfigured is returned when required configuration is missing.
	ErrNotConfigured = errors.New("uploader not configured")
)

// Filename returns the name a signed document is uploaded under:
// {base}_signed_{YYYYmmdd_HHMMSS}.pdf.
func Filename(base string, t time.Time) string {
	base = strings.TrimSuffix(path.Base(strings.ReplaceAll(base, `\`, "/")), path.Ext(base))
	return fmt.Sprintf("%s_signed_%s.pdf", base, t.Format(filenameLayout))
}

// TokenSource returns bearer tokens for the upload API.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// StaticToken is a fixed token with an optional expiry.
type StaticToken struct {
	Value  string
	Expiry time.Time

	now func() time.Time
}

func (s StaticToken) Token(ctx context.Context) (string, error) {
	if s.Value == "" {
		return "", fmt.Errorf("%w: empty access token", ErrNotConfigured)
	}
	now := time.Now
	if s.now != nil {
		now = s.now
	}
	if !s.Expiry.IsZero() && !now().Before(s.Expiry) {
		return "", ErrTokenExpired
	}
	return s.Value, nil
}

// Config configures a GraphUploader.
type Config struct {
	// BaseURL defaults to DefaultBaseURL.
	BaseURL string
	SiteID  string
	DriveID string

	// Folder is the path below the drive root, for example "SignedDoc".
	Folder string

	Tokens TokenSource

	// Timeout bounds each request. Defaults to 30 seconds.
	Timeout time.Duration

	// HTTPClient defaults to a client with Timeout.
	HTTPClient *http.Client
}

// Request is one document to upload.
type Request struct {
	Name     string
	Data     []byte
	SignedBy string
}

// Result describes the uploaded item.
type Result struct {
	ItemID      string
	WebURL      string
	DownloadURL string
}

// Uploader delivers a signed document.
type Uploader interface {
	Upload(ctx context.Context, req Request) (*Result, error)
}

// StatusError reports an unexpected HTTP status from the upload API.
type StatusError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: unexpected status %d: %s", e.Op, e.StatusCode, e.Body)
}

// GraphUploader uploads files with a drive item PUT and then updates the
// item's list fields.
type GraphUploader struct {
	cfg    Config
	client *http.Client
}

// NewGraph validates cfg and returns an uploader.
func NewGraph(cfg Config) (*GraphUploader, error) {
	if cfg.SiteID == "" || cfg.DriveID == "" {
		return nil, fmt.Errorf("%w: site and drive IDs are required", ErrNotConfigured)
	}
	if cfg.Tokens == nil {
		return nil, fmt.Errorf("%w: no token source", ErrNotConfigured)
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	return &GraphUploader{cfg: cfg, client: client}, nil
}

type driveItem struct {
	ID          string `json:"id"`
	WebURL      string `json:"webUrl"`
	DownloadURL string `json:"@microsoft.graph.downloadUrl"`
}

// Upload stores req.Data as req.Name in the configured folder and marks the
// item as signed by req.SignedBy.
func (u *GraphUploader) Upload(ctx context.Context, req Request) (*Result, error) {
	if req.Name == "" {
		return nil, errors.New("upload: empty file name")
	}
	ctx, cancel := context.WithTimeout(ctx, u.cfg.Timeout)
	defer cancel()

	token, err := u.cfg.Tokens.Token(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get access token: %w", err)
	}

	var item driveItem
	if err := u.do(ctx, "upload file", http.MethodPut, u.contentURL(req.Name), token,
		"application/pdf", bytes.NewReader(req.Data), &item, http.StatusOK, http.StatusCreated); err != nil {
		return nil, err
	}
	if item.ID == "" {
		return nil, errors.New("upload file: response carries no item id")
	}

	fields, err := json.Marshal(map[string]string{
		"Status":   "Signed",
		"SignedBy": req.SignedBy,
	})
	if err != nil {
		return nil, err
	}
	if err := u.do(ctx, "update list item", http.MethodPatch, u.fieldsURL(item.ID), token,
		"application/json", bytes.NewReader(fields), nil, http.StatusOK); err != nil {
		return nil, err
	}

	return &Result{ItemID: item.ID, WebURL: item.WebURL, DownloadURL: item.DownloadURL}, nil
}

func (u *GraphUploader) driveURL() string {
	return fmt.Sprintf("%s/sites/%s/drives/%s", u.cfg.BaseURL, url.PathEscape(u.cfg.SiteID), url.PathEscape(u.cfg.DriveID))
}

func (u *GraphUploader) contentURL(name string) string {
	var segments []string
	for _, s := range strings.Split(strings.Trim(u.cfg.Folder, "/"), "/") {
		if s != "" {
			segments = append(segments, url.PathEscape(s))
		}
	}
	segments = append(segments, url.PathEscape(name))
	return fmt.Sprintf("%s/root:/%s:/content", u.driveURL(), strings.Join(segments, "/"))
}

func (u *GraphUploader) fieldsURL(itemID string) string {
	return fmt.Sprintf("%s/items/%s/listItem/fields", u.driveURL(), url.PathEscape(itemID))
}

func (u *GraphUploader) do(ctx context.Context, op, method, endpoint, token, contentType string, body io.Reader, out any, want ...int) error {
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", contentType)

	resp, err := u.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("%s: failed to read response: %w", op, err)
	}

	ok := false
	for _, code := range want {
		if resp.StatusCode == code {
			ok = true
			break
		}
	}
	if !ok {
		return &StatusError{Op: op, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}

	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("%s: failed to decode response: %w", op, err)
		}
	}
	return nil
}
