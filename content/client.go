// Package content implements the content-store client (SPEC_FULL.md §4.3):
// GET/PUT of a document's canonical HTML against the external authoritative
// store, with authorization aggregation and GET retry on transport failure.
package content

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// EmptyHTML is the canonical empty document, returned by Get when the store
// responds 404 (SPEC_FULL.md §6 "Canonical empty HTML").
const EmptyHTML = "<main></main>"

// ErrUpstreamUnavailable is returned for any non-200/404 response, or a
// transport failure that survives retry.
var ErrUpstreamUnavailable = errors.New("content: upstream unavailable")

// ErrForbidden marks a 401 PUT response — the coordinator's signal to
// close every session for the document (scenario 6). A 403 is not treated
// the same: it falls through to ErrUpstreamUnavailable and is recorded as
// a per-update error instead (spec.md §7, "UpstreamRejected" is 401-only).
var ErrForbidden = errors.New("content: forbidden")

// Client issues GET/PUT against one content-store base URL.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
}

// NewClient builds a Client with a sane default HTTP timeout.
func NewClient(baseURL string) *Client {
	return &Client{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		HTTPClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// AggregateAuth combines per-session auth tokens into the single header
// value forwarded upstream: de-duplicated, comma-separated, sorted so the
// result is deterministic regardless of the input order (callers build
// tokens by ranging over a Go map, which has none) — a pure function,
// independently testable per SPEC_FULL.md §4.3.
func AggregateAuth(tokens []string) string {
	seen := make(map[string]bool, len(tokens))
	var out []string
	for _, t := range tokens {
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	sort.Strings(out)
	return strings.Join(out, ",")
}

// Get fetches the document's current HTML. A 404 yields (EmptyHTML, nil) —
// a brand-new document, not an error. Transport-level failures (DNS,
// connect, timeout) are retried with a short exponential backoff; any
// non-200/404 status is an immediate ErrUpstreamUnavailable.
func (c *Client) Get(ctx context.Context, name, auth string) (string, error) {
	url := c.BaseURL + "/" + name

	var body string
	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		if auth != "" {
			req.Header.Set("Authorization", auth)
		}
		resp, err := c.HTTPClient.Do(req)
		if err != nil {
			return err // transport failure: retryable
		}
		defer resp.Body.Close()

		switch resp.StatusCode {
		case http.StatusNotFound:
			body = EmptyHTML
			return nil
		case http.StatusOK:
			b, err := io.ReadAll(resp.Body)
			if err != nil {
				return backoff.Permanent(fmt.Errorf("content: read body: %w", err))
			}
			body = string(b)
			return nil
		default:
			return backoff.Permanent(fmt.Errorf("%w: GET %s: status %d", ErrUpstreamUnavailable, url, resp.StatusCode))
		}
	}

	bo := backoff.WithMaxRetries(backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(50*time.Millisecond),
	), 2)
	notify := func(err error, wait time.Duration) {}
	if err := backoff.RetryNotify(operation, bo, notify); err != nil {
		if errors.Is(err, ErrUpstreamUnavailable) {
			return "", err
		}
		return "", fmt.Errorf("%w: GET %s: %w", ErrUpstreamUnavailable, url, err)
	}
	return body, nil
}

// Put writes html as the document's authoritative content. Only a 401
// response is reported as ErrForbidden; 403 and any other non-2xx are
// ErrUpstreamUnavailable.
func (c *Client) Put(ctx context.Context, name, auth, html string) error {
	url := c.BaseURL + "/" + name

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreatePart(multipartHeader("data", "text/html"))
	if err != nil {
		return fmt.Errorf("content: build multipart body: %w", err)
	}
	if _, err := part.Write([]byte(html)); err != nil {
		return fmt.Errorf("content: write multipart body: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("content: close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, &buf)
	if err != nil {
		return fmt.Errorf("content: build request: %w", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	req.Header.Set("X-DA-Initiator", "collab")
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: PUT %s: %w", ErrUpstreamUnavailable, url, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusUnauthorized:
		return fmt.Errorf("%w: PUT %s: status %d", ErrForbidden, url, resp.StatusCode)
	default:
		return fmt.Errorf("%w: PUT %s: status %d", ErrUpstreamUnavailable, url, resp.StatusCode)
	}
}

func multipartHeader(field, contentType string) map[string][]string {
	return map[string][]string{
		"Content-Disposition": {fmt.Sprintf(`form-data; name=%q`, field)},
		"Content-Type":        {contentType},
	}
}
