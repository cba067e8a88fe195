// Package docsvc provides an HTTP client for the external document service,
// which renders issued certificates and extracts embedded metadata from
// presented PDFs.
package docsvc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/bturcanu/certproof/pkg/types"
)

// maxResponseBytes caps how much of a document service response is read.
const maxResponseBytes = 1 << 20

// Client calls the document service over HTTP.
type Client struct {
	baseURL       string
	internalToken string
	httpClient    *http.Client
}

// NewClient creates a document service client.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// SetTimeout overrides the default HTTP client timeout.
func (c *Client) SetTimeout(d time.Duration) {
	c.httpClient.Timeout = d
}

// SetInternalToken sets the X-Internal-Token header sent on every call.
func (c *Client) SetInternalToken(token string) {
	c.internalToken = token
}

// Render asks the document service to produce the certificate document.
func (c *Client) Render(ctx context.Context, req types.RenderRequest) (*types.RenderResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("docsvc render marshal: %w", err)
	}

	respBody, err := c.post(ctx, "/render", "application/json", body)
	if err != nil {
		return nil, fmt.Errorf("docsvc render: %w", err)
	}

	var out types.RenderResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return nil, fmt.Errorf("docsvc render decode response: %w", err)
	}
	if out.DocumentURL == "" {
		return nil, fmt.Errorf("docsvc render: empty document_url")
	}
	return &out, nil
}

// Extract sends a raw PDF and returns the metadata embedded in it. Numbers
// are kept as json.Number so epoch millis survive without float rounding.
func (c *Client) Extract(ctx context.Context, pdf []byte) (*types.ExtractedMetadata, error) {
	if len(pdf) == 0 {
		return nil, fmt.Errorf("docsvc extract: empty document")
	}

	respBody, err := c.post(ctx, "/extract", "application/pdf", pdf)
	if err != nil {
		return nil, fmt.Errorf("docsvc extract: %w", err)
	}

	dec := json.NewDecoder(bytes.NewReader(respBody))
	dec.UseNumber()
	var out types.ExtractedMetadata
	if err := dec.Decode(&out); err != nil {
		return nil, fmt.Errorf("docsvc extract decode response: %w", err)
	}
	return &out, nil
}

func (c *Client) post(ctx context.Context, path, contentType string, body []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	if c.internalToken != "" {
		req.Header.Set("X-Internal-Token", c.internalToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("document service returned %d: %s", resp.StatusCode, string(respBody))
	}
	return respBody, nil
}
