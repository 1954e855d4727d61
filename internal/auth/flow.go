package auth

import (
	"context"
	"crypto/hmac"
	"crypto/sha1" //nolint:gosec // CSRF state derivation, not signature verification
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"
)

// maxPinAttempts caps PIN retrieval proxy polls. At one poll per fast
// tick this is roughly fifteen minutes.
const maxPinAttempts = 60

// Deployment modes. Values match the bridge configuration.
const (
	ModeSelfHosted = "self"
	ModeCloud      = "cloud"
)

// credentialsFile is the on-disk layout of the self-hosted OAuth client
// credentials file.
type credentialsFile struct {
	APIClient string `json:"api_client"`
	APIKey    string `json:"api_key"`
}

// Challenge is one in-flight authorization attempt: the link state token
// and, for cloud deployments, the remaining proxy poll budget.
type Challenge struct {
	ClientID string
	State    string
	Attempts int
}

// FlowOptions configures an authorization Flow.
type FlowOptions struct {
	// Mode is the deployment mode, ModeSelfHosted or ModeCloud.
	Mode string

	// CredentialsFile is the self-hosted client credentials path.
	CredentialsFile string

	// ClientID, ClientSecret, and Worker are the host-injected cloud
	// initialization data. Worker is the opaque session token used as the
	// authorization link state.
	ClientID     string
	ClientSecret string
	Worker       string

	// LoginURL is the vendor's interactive login host.
	LoginURL string

	// AuthURL is the vendor OAuth host for the token exchange.
	AuthURL string

	// PinProxyURL is the cloud PIN retrieval endpoint root.
	PinProxyURL string

	// Logger is the structured logging sink.
	Logger Logger

	// Now returns the current time; defaults to time.Now. Tests override it.
	Now func() time.Time
}

// Flow drives the interactive PIN/OAuth authorization exchange.
//
// Begin issues an authorization link and opens a Challenge. The PIN then
// arrives either out of band (self-hosted, via Exchange) or by polling the
// retrieval proxy once per fast tick (cloud, via PollPin). Exchange trades
// the PIN for a token; persistence is the caller's concern.
type Flow struct {
	opts         FlowOptions
	clientID     string
	clientSecret string
	http         *http.Client

	mu        sync.Mutex
	challenge *Challenge
}

// NewFlow creates a Flow, loading client credentials for the configured
// deployment mode.
//
// Returns:
//   - *Flow: Ready flow
//   - error: ErrCredentialsFile when the self-hosted credentials file is
//     unusable, or a validation error for incomplete cloud init data
func NewFlow(opts FlowOptions) (*Flow, error) {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	f := &Flow{
		opts: opts,
		http: &http.Client{Timeout: 30 * time.Second},
	}

	switch opts.Mode {
	case ModeCloud:
		if opts.ClientID == "" || opts.ClientSecret == "" {
			return nil, fmt.Errorf("%w: missing client id or secret in init data", ErrCredentialsFile)
		}
		f.clientID = opts.ClientID
		f.clientSecret = opts.ClientSecret
	default:
		raw, err := os.ReadFile(opts.CredentialsFile)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrCredentialsFile, err)
		}
		var creds credentialsFile
		if err := json.Unmarshal(raw, &creds); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrCredentialsFile, err)
		}
		if creds.APIClient == "" || creds.APIKey == "" {
			return nil, fmt.Errorf("%w: missing api_client or api_key", ErrCredentialsFile)
		}
		f.clientID = creds.APIClient
		f.clientSecret = creds.APIKey
	}

	return f, nil
}

// Begin opens an authorization challenge and returns the one-time link the
// operator must visit. Calling Begin again replaces the active challenge.
func (f *Flow) Begin() string {
	f.mu.Lock()
	defer f.mu.Unlock()

	var state string
	if f.opts.Mode == ModeCloud {
		state = f.opts.Worker
	} else {
		state = hmacState(f.clientSecret, f.clientID, f.opts.Now())
	}

	f.challenge = &Challenge{
		ClientID: f.clientID,
		State:    state,
		Attempts: maxPinAttempts,
	}

	link := fmt.Sprintf("%s/login/oauth2?client_id=%s&state=%s",
		f.opts.LoginURL, url.QueryEscape(f.clientID), url.QueryEscape(state))
	f.opts.Logger.Info("authorization link issued", "url", link)
	return link
}

// AuthorizationURL returns the active challenge's link, or false when no
// challenge is open.
func (f *Flow) AuthorizationURL() (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.challenge == nil {
		return "", false
	}
	return fmt.Sprintf("%s/login/oauth2?client_id=%s&state=%s",
		f.opts.LoginURL, url.QueryEscape(f.challenge.ClientID), url.QueryEscape(f.challenge.State)), true
}

// Pending reports whether an authorization challenge is open.
func (f *Flow) Pending() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.challenge != nil
}

// PollPin polls the cloud PIN retrieval proxy once.
//
// Each call consumes one attempt from the challenge budget.
//
// Returns:
//   - string: The PIN when the operator has completed the login
//   - error: ErrPinPending while the PIN has not arrived, ErrNoChallenge
//     without an open challenge, ErrAttemptsExhausted once the budget is
//     spent (the challenge is discarded)
func (f *Flow) PollPin(ctx context.Context) (string, error) {
	f.mu.Lock()
	challenge := f.challenge
	f.mu.Unlock()

	if challenge == nil {
		return "", ErrNoChallenge
	}
	if challenge.Attempts <= 0 {
		f.mu.Lock()
		f.challenge = nil
		f.mu.Unlock()
		f.opts.Logger.Warn("pin retrieval attempts exhausted, restart the bridge to retry authorization")
		return "", ErrAttemptsExhausted
	}
	challenge.Attempts--

	f.opts.Logger.Debug("polling pin retrieval proxy", "attempts_left", challenge.Attempts)

	pollURL := f.opts.PinProxyURL + "/pin?state=" + url.QueryEscape(challenge.State)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pollURL, nil)
	if err != nil {
		return "", fmt.Errorf("auth: build pin poll request: %w", err)
	}
	resp, err := f.http.Do(req)
	if err != nil {
		f.opts.Logger.Error("pin proxy request failed", "error", err)
		return "", ErrPinPending
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		return "", fmt.Errorf("auth: read pin proxy response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		f.opts.Logger.Error("pin proxy returned bad status", "status", resp.StatusCode)
		return "", ErrPinPending
	}

	var payload struct {
		Pin string `json:"pin"`
	}
	if err := json.Unmarshal(body, &payload); err != nil || payload.Pin == "" {
		f.opts.Logger.Error("pin proxy response has no pin", "body", string(body))
		return "", ErrPinPending
	}

	f.mu.Lock()
	f.challenge = nil
	f.mu.Unlock()
	return payload.Pin, nil
}

// Exchange trades an authorization PIN for an access token.
//
// Returns:
//   - string: The access token
//   - int: Token lifetime in seconds (0 when the vendor omits it)
//   - error: ErrExchangeFailed on any rejection; no retry is attempted
func (f *Flow) Exchange(ctx context.Context, pin string) (string, int, error) {
	form := url.Values{}
	form.Set("code", pin)
	form.Set("client_id", f.clientID)
	form.Set("client_secret", f.clientSecret)
	form.Set("grant_type", "authorization_code")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		f.opts.AuthURL+"/oauth2/access_token", strings.NewReader(form.Encode()))
	if err != nil {
		return "", 0, fmt.Errorf("auth: build exchange request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := f.http.Do(req)
	if err != nil {
		return "", 0, fmt.Errorf("%w: %w", ErrExchangeFailed, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		return "", 0, fmt.Errorf("%w: read response: %w", ErrExchangeFailed, err)
	}

	var payload struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.Unmarshal(body, &payload); err != nil || payload.AccessToken == "" {
		f.opts.Logger.Error("token exchange rejected", "status", resp.StatusCode, "body", string(body))
		return "", 0, ErrExchangeFailed
	}

	f.mu.Lock()
	f.challenge = nil
	f.mu.Unlock()

	f.opts.Logger.Info("received authentication token")
	return payload.AccessToken, payload.ExpiresIn, nil
}

// hmacState derives the CSRF state for a self-hosted authorization link:
// HMAC-SHA1 over the timestamp and client id, keyed by the client secret,
// base64-encoded with padding stripped.
func hmacState(secret, clientID string, now time.Time) string {
	message := now.Format("2006-01-02 15:04:05.000000") + clientID
	mac := hmac.New(sha1.New, []byte(secret))
	mac.Write([]byte(message))
	digest := base64.StdEncoding.EncodeToString(mac.Sum(nil))
	return strings.ReplaceAll(digest, "=", "")
}
