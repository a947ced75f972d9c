package jobs

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"podfeed/internal/podcast"
)

// Callback headers understood by the import endpoints.
const (
	HeaderPodcastID   = "X-Podcast-Id"
	HeaderTaskToken   = "X-Task-Token"
	HeaderUpdateToken = "X-Update-Token"
	HeaderIsLast      = "X-Is-Last-Request"
)

// callbackClient posts job results back to the API.
type callbackClient struct {
	secret string
	client *http.Client
}

func (c *callbackClient) postPodcast(ctx context.Context, baseURL, token string, p podcast.ImportedPodcast) error {
	headers := map[string]string{
		HeaderPodcastID: p.PodcastID,
		HeaderTaskToken: token,
	}
	return c.do(ctx, baseURL+"/podcast/import/podcast", headers, p, nil)
}

func (c *callbackClient) postEpisodes(ctx context.Context, baseURL, podcastID, token string, isUpdate, isLast bool, episodes []podcast.Episode) error {
	headers := map[string]string{
		HeaderPodcastID: podcastID,
		HeaderIsLast:    strconv.FormatBool(isLast),
	}
	if isUpdate {
		headers[HeaderUpdateToken] = token
	} else {
		headers[HeaderTaskToken] = token
	}
	if episodes == nil {
		episodes = []podcast.Episode{}
	}
	return c.do(ctx, baseURL+"/podcast/import/episodes", headers, episodes, nil)
}

func (c *callbackClient) beginUpdate(ctx context.Context, baseURL, podcastID string) (*podcast.UpdateTicket, error) {
	headers := map[string]string{
		HeaderPodcastID: podcastID,
		SecretHeader:    c.secret,
	}
	var ticket podcast.UpdateTicket
	if err := c.do(ctx, baseURL+"/podcast/import/update", headers, nil, &ticket); err != nil {
		return nil, err
	}
	return &ticket, nil
}

func (c *callbackClient) do(ctx context.Context, url string, headers map[string]string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal callback: %w", err)
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("callback %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("callback %s: http %d: %s", url, resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode callback response: %w", err)
		}
	}
	return nil
}
