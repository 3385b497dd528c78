package uploader

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Transferer performs the actual byte transfer of one segment payload to the
// location bound by a write credential.
type Transferer interface {
	Upload(ctx context.Context, url string, payload []byte) error
}

// HTTPTransferer uploads payloads with a single HTTP PUT against a presigned
// URL.
type HTTPTransferer struct {
	client *http.Client
}

// NewHTTPTransferer returns a Transferer using the given client, or a default
// client with a 2 minute timeout when nil.
func NewHTTPTransferer(client *http.Client) *HTTPTransferer {
	if client == nil {
		client = &http.Client{Timeout: 2 * time.Minute}
	}
	return &HTTPTransferer{client: client}
}

// Upload implements Transferer.
func (t *HTTPTransferer) Upload(ctx context.Context, url string, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to build upload request: %w", err)
	}
	req.ContentLength = int64(len(payload))
	req.Header.Set("Content-Type", "video/webm")

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("upload request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("upload rejected with status %d: %s", resp.StatusCode, string(body))
	}
	return nil
}
