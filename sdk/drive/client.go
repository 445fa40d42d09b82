// Package drive is a minimal client for the Drive v3 file API: metadata,
// content download, media upload, and metadata rename. It covers exactly
// what the sync engine needs and nothing else; multi-file operations are out
// of scope by design.
package drive

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// ErrPermissionDenied is returned when the storage API refuses an operation
// with 403 even after one forced re-consent round.
var ErrPermissionDenied = errors.New("drive: permission denied")

// ErrNotFound is returned for a file id the API does not know (404).
var ErrNotFound = errors.New("drive: file not found")

const (
	defaultAPIBase    = "https://www.googleapis.com/drive/v3"
	defaultUploadBase = "https://www.googleapis.com/upload/drive/v3"

	// metaFields is the field mask for every metadata fetch. headRevisionId
	// is what the sync engine's conflict preflight keys on.
	metaFields = "id,name,mimeType,headRevisionId,modifiedTime"
)

// TokenProvider supplies bearer tokens. The auth orchestrator satisfies it.
type TokenProvider interface {
	GetAccessToken(ctx context.Context) (string, error)
	ReauthenticateWithConsent(ctx context.Context) (string, error)
}

// FileMeta is the subset of file metadata the sync engine tracks.
type FileMeta struct {
	ID             string
	Name           string
	MimeType       string
	HeadRevisionID string
	ModifiedTime   string
}

// Client talks to the Drive file API with tokens from a TokenProvider.
type Client struct {
	apiBase    string
	uploadBase string
	httpClient *http.Client
	tokens     TokenProvider
}

// Options overrides Client defaults; zero values keep them.
type Options struct {
	APIBase    string
	UploadBase string
	HTTPClient *http.Client
}

// NewClient builds a Drive client.
func NewClient(tokens TokenProvider, opts *Options) *Client {
	c := &Client{
		apiBase:    defaultAPIBase,
		uploadBase: defaultUploadBase,
		httpClient: &http.Client{Timeout: 60 * time.Second},
		tokens:     tokens,
	}
	if opts != nil {
		if opts.APIBase != "" {
			c.apiBase = opts.APIBase
		}
		if opts.UploadBase != "" {
			c.uploadBase = opts.UploadBase
		}
		if opts.HTTPClient != nil {
			c.httpClient = opts.HTTPClient
		}
	}
	return c
}

// Metadata fetches the tracked metadata fields for a file.
func (c *Client) Metadata(ctx context.Context, fileID string) (*FileMeta, error) {
	endpoint := fmt.Sprintf("%s/files/%s?fields=%s", c.apiBase, url.PathEscape(fileID), url.QueryEscape(metaFields))
	body, err := c.do(ctx, http.MethodGet, endpoint, nil, "")
	if err != nil {
		return nil, err
	}
	return parseMeta(body), nil
}

// Download fetches the file content.
func (c *Client) Download(ctx context.Context, fileID string) ([]byte, error) {
	endpoint := fmt.Sprintf("%s/files/%s?alt=media", c.apiBase, url.PathEscape(fileID))
	return c.do(ctx, http.MethodGet, endpoint, nil, "")
}

// Upload replaces the file content via media upload. A 403 triggers exactly
// one forced-consent re-authentication and one retry before giving up with
// ErrPermissionDenied.
func (c *Client) Upload(ctx context.Context, fileID string, content []byte) error {
	endpoint := fmt.Sprintf("%s/files/%s?uploadType=media", c.uploadBase, url.PathEscape(fileID))

	_, err := c.do(ctx, http.MethodPatch, endpoint, content, "text/html; charset=utf-8")
	if !errors.Is(err, ErrPermissionDenied) {
		return err
	}

	log.Debug("upload refused with 403, forcing re-consent and retrying once")
	if _, reauthErr := c.tokens.ReauthenticateWithConsent(ctx); reauthErr != nil {
		return fmt.Errorf("drive: re-authentication failed: %w", reauthErr)
	}
	_, err = c.do(ctx, http.MethodPatch, endpoint, content, "text/html; charset=utf-8")
	return err
}

// Rename updates the file's display name.
func (c *Client) Rename(ctx context.Context, fileID, name string) error {
	body, err := sjson.Set("", "name", name)
	if err != nil {
		return fmt.Errorf("drive: build rename body: %w", err)
	}
	endpoint := fmt.Sprintf("%s/files/%s?fields=%s", c.apiBase, url.PathEscape(fileID), url.QueryEscape(metaFields))
	_, err = c.do(ctx, http.MethodPatch, endpoint, []byte(body), "application/json; charset=utf-8")
	return err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body []byte, contentType string) ([]byte, error) {
	token, err := c.tokens.GetAccessToken(ctx)
	if err != nil {
		return nil, fmt.Errorf("drive: acquire access token: %w", err)
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, fmt.Errorf("drive: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("drive: request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 64<<20))
	if err != nil {
		return nil, fmt.Errorf("drive: read response: %w", err)
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return payload, nil
	case resp.StatusCode == http.StatusForbidden:
		return nil, ErrPermissionDenied
	case resp.StatusCode == http.StatusNotFound:
		return nil, ErrNotFound
	default:
		message := gjson.GetBytes(payload, "error.message").String()
		if message == "" {
			message = http.StatusText(resp.StatusCode)
		}
		return nil, fmt.Errorf("drive: api error %d: %s", resp.StatusCode, message)
	}
}

func parseMeta(body []byte) *FileMeta {
	result := gjson.ParseBytes(body)
	return &FileMeta{
		ID:             result.Get("id").String(),
		Name:           result.Get("name").String(),
		MimeType:       result.Get("mimeType").String(),
		HeadRevisionID: result.Get("headRevisionId").String(),
		ModifiedTime:   result.Get("modifiedTime").String(),
	}
}
