// Package driveapi is a typed wrapper over the cloud file service's REST
// API (spec §4.1): folder ensure, list, multipart upload, media download,
// conditional-by-etag write, delete, and a batch delete. It hides HTTP
// details the same way the teacher's internal/client package hides them
// from the distributed KV store's CLI: callers never see a raw
// *http.Request.
package driveapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"drivesync/internal/errs"
	"drivesync/internal/logging"
)

// DefaultAPIEndpoint is the default REST base, overridable for mocking
// (spec §6 configuration: apiEndpoint).
const DefaultAPIEndpoint = "https://www.googleapis.com"

const maxRetries = 4

// Client talks to exactly one cloud file service account, authenticated
// with a single bearer token. It does not cache folder/file ids — that's
// internal/layout's job.
type Client struct {
	apiEndpoint string
	authToken   string
	httpClient  *http.Client
	log         *logging.Logger
}

// New creates a Client. apiEndpoint defaults to DefaultAPIEndpoint when
// empty, so tests can point it at an httptest.Server.
func New(apiEndpoint, authToken string) *Client {
	if apiEndpoint == "" {
		apiEndpoint = DefaultAPIEndpoint
	}
	return &Client{
		apiEndpoint: apiEndpoint,
		authToken:   authToken,
		httpClient:  &http.Client{Timeout: 30 * time.Second},
		log:         logging.New("driveapi"),
	}
}

// request is one HTTP round trip with the retry policy of spec §4.1:
// 429/5xx retried with 250·2^attempt ms + jitter[0,200) up to maxRetries
// attempts; any other non-2xx is a durable *errs.FetchError.
//
// This mirrors the teacher's Replicator.sendReplicateRequest /
// doHTTPReplicate split: a retrying outer loop around a single-shot
// request function, context-scoped per attempt.
func (c *Client) request(ctx context.Context, method, path string, query url.Values, headers map[string]string, body []byte) (*http.Response, error) {
	u := c.apiEndpoint + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(backoffDelay(attempt - 1)):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		req, err := http.NewRequestWithContext(ctx, method, u, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+c.authToken)
		if len(body) > 0 {
			req.Header.Set("Content-Type", "application/json")
		}
		for k, v := range headers {
			req.Header.Set(k, v)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = err
			continue
		}

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			resp.Body.Close()
			lastErr = fmt.Errorf("%w: HTTP %d on attempt %d", errs.ErrRateLimited, resp.StatusCode, attempt+1)
			continue
		}

		return resp, nil
	}
	return nil, lastErr
}

func backoffDelay(attempt int) time.Duration {
	base := 250 * (1 << attempt) // 250·2^attempt ms
	jitter := jitterMillis()
	return time.Duration(base+jitter) * time.Millisecond
}

func readBody(resp *http.Response) string {
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	return string(b)
}

func decodeJSON(resp *http.Response, out any) error {
	defer resp.Body.Close()
	return json.NewDecoder(resp.Body).Decode(out)
}

func checkStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	return &errs.FetchError{Status: resp.StatusCode, Body: readBody(resp)}
}
