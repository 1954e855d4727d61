package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeCredentialsFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "server.json")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write credentials file: %v", err)
	}
	return path
}

func selfHostedFlow(t *testing.T, overrides func(*FlowOptions)) *Flow {
	t.Helper()
	opts := FlowOptions{
		Mode:            ModeSelfHosted,
		CredentialsFile: writeCredentialsFile(t, `{"api_client":"client-1","api_key":"secret-1"}`),
		LoginURL:        "https://home.nest.com",
		Logger:          testAuthLogger(),
		Now:             fixedNow,
	}
	if overrides != nil {
		overrides(&opts)
	}
	flow, err := NewFlow(opts)
	if err != nil {
		t.Fatalf("NewFlow() error = %v", err)
	}
	return flow
}

func TestNewFlow_CredentialsFile(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr bool
	}{
		{"valid", `{"api_client":"c","api_key":"k"}`, false},
		{"missing key", `{"api_client":"c"}`, true},
		{"malformed", `{nope`, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewFlow(FlowOptions{
				Mode:            ModeSelfHosted,
				CredentialsFile: writeCredentialsFile(t, tt.content),
				Logger:          testAuthLogger(),
			})
			if tt.wantErr && !errors.Is(err, ErrCredentialsFile) {
				t.Errorf("NewFlow() error = %v, want %v", err, ErrCredentialsFile)
			}
			if !tt.wantErr && err != nil {
				t.Errorf("NewFlow() error = %v", err)
			}
		})
	}

	if _, err := NewFlow(FlowOptions{
		Mode:            ModeSelfHosted,
		CredentialsFile: filepath.Join(t.TempDir(), "missing.json"),
		Logger:          testAuthLogger(),
	}); !errors.Is(err, ErrCredentialsFile) {
		t.Errorf("NewFlow() with missing file error = %v, want %v", err, ErrCredentialsFile)
	}
}

func TestNewFlow_CloudRequiresInitData(t *testing.T) {
	if _, err := NewFlow(FlowOptions{
		Mode:     ModeCloud,
		ClientID: "c",
		Logger:   testAuthLogger(),
	}); !errors.Is(err, ErrCredentialsFile) {
		t.Errorf("NewFlow() error = %v, want %v", err, ErrCredentialsFile)
	}
}

func TestFlow_Begin_SelfHosted(t *testing.T) {
	flow := selfHostedFlow(t, nil)

	link := flow.Begin()
	parsed, err := url.Parse(link)
	if err != nil {
		t.Fatalf("parse link: %v", err)
	}
	if parsed.Path != "/login/oauth2" {
		t.Errorf("link path = %q", parsed.Path)
	}
	if got := parsed.Query().Get("client_id"); got != "client-1" {
		t.Errorf("client_id = %q", got)
	}
	state := parsed.Query().Get("state")
	if state == "" {
		t.Fatal("link missing state")
	}
	if strings.Contains(state, "=") {
		t.Errorf("state %q contains base64 padding", state)
	}

	// Same secret, client id, and time must derive the same state.
	if again := hmacState("secret-1", "client-1", fixedNow()); again != state {
		t.Errorf("state not reproducible: %q vs %q", state, again)
	}

	if !flow.Pending() {
		t.Error("Pending() = false after Begin")
	}
	if got, ok := flow.AuthorizationURL(); !ok || got != link {
		t.Errorf("AuthorizationURL() = %q, %v", got, ok)
	}
}

func TestFlow_Begin_CloudUsesWorkerState(t *testing.T) {
	flow, err := NewFlow(FlowOptions{
		Mode:         ModeCloud,
		ClientID:     "client-1",
		ClientSecret: "secret-1",
		Worker:       "worker-token-9",
		LoginURL:     "https://home.nest.com",
		Logger:       testAuthLogger(),
	})
	if err != nil {
		t.Fatalf("NewFlow() error = %v", err)
	}

	link := flow.Begin()
	parsed, _ := url.Parse(link) //nolint:errcheck // Constructed above
	if got := parsed.Query().Get("state"); got != "worker-token-9" {
		t.Errorf("state = %q, want worker token", got)
	}
}

func TestFlow_PollPin(t *testing.T) {
	var gotState string
	ready := false
	proxy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotState = r.URL.Query().Get("state")
		if !ready {
			json.NewEncoder(w).Encode(map[string]string{}) //nolint:errcheck // Test shim
			return
		}
		json.NewEncoder(w).Encode(map[string]string{"pin": "PIN123"}) //nolint:errcheck // Test shim
	}))
	defer proxy.Close()

	flow, err := NewFlow(FlowOptions{
		Mode:         ModeCloud,
		ClientID:     "client-1",
		ClientSecret: "secret-1",
		Worker:       "worker-token-9",
		LoginURL:     "https://home.nest.com",
		PinProxyURL:  proxy.URL,
		Logger:       testAuthLogger(),
	})
	if err != nil {
		t.Fatalf("NewFlow() error = %v", err)
	}

	if _, err := flow.PollPin(context.Background()); !errors.Is(err, ErrNoChallenge) {
		t.Errorf("PollPin() before Begin error = %v, want %v", err, ErrNoChallenge)
	}

	flow.Begin()

	if _, err := flow.PollPin(context.Background()); !errors.Is(err, ErrPinPending) {
		t.Errorf("PollPin() error = %v, want %v", err, ErrPinPending)
	}
	if gotState != "worker-token-9" {
		t.Errorf("proxy received state %q", gotState)
	}

	ready = true
	pin, err := flow.PollPin(context.Background())
	if err != nil {
		t.Fatalf("PollPin() error = %v", err)
	}
	if pin != "PIN123" {
		t.Errorf("PollPin() = %q, want PIN123", pin)
	}
	if flow.Pending() {
		t.Error("challenge still open after successful poll")
	}
}

func TestFlow_PollPin_AttemptsExhausted(t *testing.T) {
	proxy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer proxy.Close()

	flow, err := NewFlow(FlowOptions{
		Mode:         ModeCloud,
		ClientID:     "client-1",
		ClientSecret: "secret-1",
		Worker:       "w",
		LoginURL:     "https://home.nest.com",
		PinProxyURL:  proxy.URL,
		Logger:       testAuthLogger(),
	})
	if err != nil {
		t.Fatalf("NewFlow() error = %v", err)
	}
	flow.Begin()

	for i := 0; i < maxPinAttempts; i++ {
		if _, err := flow.PollPin(context.Background()); !errors.Is(err, ErrPinPending) {
			t.Fatalf("poll %d error = %v, want %v", i, err, ErrPinPending)
		}
	}

	if _, err := flow.PollPin(context.Background()); !errors.Is(err, ErrAttemptsExhausted) {
		t.Errorf("PollPin() error = %v, want %v", err, ErrAttemptsExhausted)
	}
	if flow.Pending() {
		t.Error("challenge still open after attempts exhausted")
	}
}

func TestFlow_Exchange(t *testing.T) {
	var gotForm url.Values
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/oauth2/access_token" {
			t.Errorf("exchange path = %q", r.URL.Path)
		}
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse form: %v", err)
		}
		gotForm = r.PostForm
		json.NewEncoder(w).Encode(map[string]any{ //nolint:errcheck // Test shim
			"access_token": "tok-xyz",
			"expires_in":   315360000,
		})
	}))
	defer server.Close()

	flow := selfHostedFlow(t, func(opts *FlowOptions) {
		opts.AuthURL = server.URL
	})
	flow.Begin()

	token, expiresIn, err := flow.Exchange(context.Background(), "PIN123")
	if err != nil {
		t.Fatalf("Exchange() error = %v", err)
	}
	if token != "tok-xyz" || expiresIn != 315360000 {
		t.Errorf("Exchange() = %q, %d", token, expiresIn)
	}

	want := map[string]string{
		"code":          "PIN123",
		"client_id":     "client-1",
		"client_secret": "secret-1",
		"grant_type":    "authorization_code",
	}
	for key, value := range want {
		if got := gotForm.Get(key); got != value {
			t.Errorf("form %s = %q, want %q", key, got, value)
		}
	}
	if flow.Pending() {
		t.Error("challenge still open after successful exchange")
	}
}

func TestFlow_Exchange_Rejected(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"error":"oauth2_error"}`, http.StatusBadRequest)
	}))
	defer server.Close()

	flow := selfHostedFlow(t, func(opts *FlowOptions) {
		opts.AuthURL = server.URL
	})

	if _, _, err := flow.Exchange(context.Background(), "BAD"); !errors.Is(err, ErrExchangeFailed) {
		t.Errorf("Exchange() error = %v, want %v", err, ErrExchangeFailed)
	}
}

func TestHmacState_DependsOnInputs(t *testing.T) {
	now := fixedNow()
	base := hmacState("secret", "client", now)

	if hmacState("secret", "client", now) != base {
		t.Error("hmacState not deterministic")
	}
	if hmacState("other", "client", now) == base {
		t.Error("hmacState ignores the secret")
	}
	if hmacState("secret", "other", now) == base {
		t.Error("hmacState ignores the client id")
	}
	if hmacState("secret", "client", now.Add(time.Second)) == base {
		t.Error("hmacState ignores the timestamp")
	}
}
