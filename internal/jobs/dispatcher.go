package jobs

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"podfeed/internal/podcast"
)

// SecretHeader authenticates calls between the API and job runners.
const SecretHeader = "X-Import-Secret"

// HTTPDispatcher hands jobs to an external runner over HTTP. The runner
// owns retries; a 2xx answer means the job was accepted.
type HTTPDispatcher struct {
	Endpoint string
	Secret   string
	Client   *http.Client
}

func NewHTTPDispatcher(endpoint, secret string, timeout time.Duration) *HTTPDispatcher {
	return &HTTPDispatcher{
		Endpoint: strings.TrimRight(endpoint, "/"),
		Secret:   secret,
		Client:   &http.Client{Timeout: timeout},
	}
}

func (d *HTTPDispatcher) DispatchImport(ctx context.Context, job podcast.ImportJob) error {
	return d.post(ctx, "/import", job)
}

func (d *HTTPDispatcher) DispatchTracking(ctx context.Context, podcastID string) error {
	return d.post(ctx, "/track", map[string]string{"podcastId": podcastID})
}

func (d *HTTPDispatcher) post(ctx context.Context, path string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.Endpoint+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(SecretHeader, d.Secret)

	resp, err := d.Client.Do(req)
	if err != nil {
		return fmt.Errorf("dispatch %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("job runner http %d: %s", resp.StatusCode, raw)
	}
	return nil
}
