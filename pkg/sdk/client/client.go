// Package client is a Go client for the certd HTTP API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/bturcanu/certproof/pkg/types"
	"github.com/google/uuid"
)

type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// New creates a client. apiKey may be empty when only verification is used.
func New(baseURL, apiKey string) *Client {
	return &Client{
		baseURL:    baseURL,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
}

func (c *Client) Issue(ctx context.Context, in types.IssueInput) (*types.IssuedCertificate, error) {
	var out types.IssuedCertificate
	if err := c.call(ctx, http.MethodPost, "/v1/certificates", "application/json", in, true, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Get(ctx context.Context, certificateID string) (*types.CertificateRecord, error) {
	var out types.CertificateRecord
	if err := c.call(ctx, http.MethodGet, "/v1/certificates/"+url.PathEscape(certificateID), "", nil, true, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Revoke(ctx context.Context, certificateID, reason string) (*types.CertificateRecord, error) {
	var out types.CertificateRecord
	path := "/v1/certificates/" + url.PathEscape(certificateID) + "/revoke"
	if err := c.call(ctx, http.MethodPost, path, "application/json", types.RevokeInput{Reason: reason}, true, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// VerifyID runs an anonymous ID lookup.
func (c *Client) VerifyID(ctx context.Context, certificateID string) (*types.Verdict, error) {
	var out types.Verdict
	if err := c.call(ctx, http.MethodGet, "/v1/verify/"+url.PathEscape(certificateID), "", nil, false, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// VerifyDocument submits already-extracted document metadata.
func (c *Client) VerifyDocument(ctx context.Context, meta types.ExtractedMetadata) (*types.Verdict, error) {
	var out types.Verdict
	if err := c.call(ctx, http.MethodPost, "/v1/verify/document", "application/json", meta, false, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// VerifyUpload submits a raw certificate PDF for server-side extraction.
func (c *Client) VerifyUpload(ctx context.Context, pdf []byte) (*types.Verdict, error) {
	var out types.Verdict
	if err := c.call(ctx, http.MethodPost, "/v1/verify/document/upload", "application/pdf", pdf, false, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) call(ctx context.Context, method, path, contentType string, in any, authed bool, out any) error {
	var body io.Reader = http.NoBody
	switch v := in.(type) {
	case nil:
	case []byte:
		body = bytes.NewReader(v)
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("client marshal: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("X-Request-ID", uuid.NewString())
	if authed && c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}
	return c.doJSON(req, out)
}

// doJSON decodes a 2xx body into out. Error responses come back as *types.APIError
// when the server sent one, so callers can inspect Code with errors.As.
func (c *Client) doJSON(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var apiErr types.APIError
		if decodeErr := json.NewDecoder(resp.Body).Decode(&apiErr); decodeErr == nil && apiErr.Message != "" {
			apiErr.HTTPCode = resp.StatusCode
			return &apiErr
		}
		return fmt.Errorf("http status %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return err
	}
	return nil
}
