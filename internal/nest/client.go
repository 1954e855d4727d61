package nest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// maxErrorBody bounds how much of an error response body is read for logging.
const maxErrorBody = 4096

// TokenSource supplies the current access token for authenticated calls.
// It returns false when no valid credential is available.
type TokenSource func() (string, bool)

// Logger is the narrow logging contract consumed by this package.
// Satisfied by logging.Logger and slog.Logger.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Client performs authenticated REST calls against the vendor API.
//
// One http.Client is reused across calls so a warm connection is kept per
// endpoint. On any transport error or non-2xx final status the idle
// connections are discarded, forcing the next call to dial fresh.
//
// Redirect policy: the transport never follows redirects itself; a 307
// response is re-issued against the Location target exactly once and the
// second response is final regardless of status.
type Client struct {
	baseURL string
	token   TokenSource
	http    *http.Client
	logger  Logger
}

// NewClient creates a Client for the given API base URL.
//
// Parameters:
//   - baseURL: Vendor API root (e.g. "https://developer-api.nest.com")
//   - token: Source of the current access token
//   - logger: Structured logging sink
func NewClient(baseURL string, token TokenSource, logger Logger) *Client {
	return &Client{
		baseURL: baseURL,
		token:   token,
		logger:  logger,
		http: &http.Client{
			// Redirects are handled manually with a single-hop policy.
			CheckRedirect: func(_ *http.Request, _ []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
}

// Fetch retrieves the full vendor state snapshot.
//
// Returns:
//   - *Snapshot: Parsed snapshot tree on success
//   - error: ErrNoCredential without a token, ErrBadStatus on a non-2xx
//     final status, or a transport error
func (c *Client) Fetch(ctx context.Context) (*Snapshot, error) {
	body, err := c.do(ctx, http.MethodGet, c.baseURL+"/", nil)
	if err != nil {
		return nil, err
	}
	return ParseSnapshot(body)
}

// SendChange issues a partial update for a device subpath.
//
// The payload must contain only the changed keys and must not be empty.
//
// Parameters:
//   - path: Device subpath (e.g. "/devices/thermostats/<vendor-id>")
//   - payload: Changed keys and their new values
func (c *Client) SendChange(ctx context.Context, path string, payload map[string]any) error {
	if len(payload) == 0 {
		return ErrEmptyPayload
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("nest: encode change payload: %w", err)
	}

	c.logger.Debug("sending change request", "path", path, "payload", string(body))

	resp, err := c.do(ctx, http.MethodPut, c.baseURL+path, body)
	if err != nil {
		return err
	}

	c.logger.Debug("change accepted", "path", path, "response", string(resp))
	return nil
}

// do executes one authenticated request with the single-redirect policy,
// returning the final response body.
func (c *Client) do(ctx context.Context, method, url string, body []byte) ([]byte, error) {
	token, ok := c.token()
	if !ok {
		return nil, ErrNoCredential
	}

	resp, err := c.issue(ctx, method, url, token, body)
	if err != nil {
		return nil, err
	}

	// The vendor parks clients behind a per-account firebase host and
	// announces it with a 307. Follow that one hop and stop.
	if resp.StatusCode == http.StatusTemporaryRedirect {
		location := resp.Header.Get("Location")
		drain(resp)
		if location == "" {
			c.discard()
			return nil, ErrRedirectLocation
		}
		c.logger.Debug("following API redirect", "location", location)

		resp, err = c.issue(ctx, method, location, token, body)
		if err != nil {
			return nil, err
		}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<22))
	if err != nil {
		c.discard()
		return nil, fmt.Errorf("nest: read API response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		if len(data) > maxErrorBody {
			data = data[:maxErrorBody]
		}
		c.logger.Error("vendor API request failed",
			"method", method, "url", url,
			"status", resp.StatusCode, "body", string(data))
		c.discard()
		return nil, fmt.Errorf("%w: %d", ErrBadStatus, resp.StatusCode)
	}

	return data, nil
}

// issue sends a single request, discarding idle connections on transport
// failure so the next call reconnects.
func (c *Client) issue(ctx context.Context, method, url, token string, body []byte) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, fmt.Errorf("nest: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		c.discard()
		return nil, fmt.Errorf("nest: API connection error: %w", err)
	}
	return resp, nil
}

// discard drops idle connections so the next request dials fresh.
func (c *Client) discard() {
	c.http.CloseIdleConnections()
}

// drain consumes and closes a response body so the connection can be reused.
func drain(resp *http.Response) {
	io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBody)) //nolint:errcheck // Best effort
	resp.Body.Close()
}
