package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/exking/udi-nest2-poly/internal/bridge"
	"github.com/exking/udi-nest2-poly/internal/infrastructure/config"
	"github.com/exking/udi-nest2-poly/internal/infrastructure/logging"
)

// fakeBridge scripts the controller surface for handler tests.
type fakeBridge struct {
	status      bridge.Status
	nodes       []bridge.NodeInfo
	dispatchErr error
	dispatched  []string
	discoverErr error
	discovered  int
	authLink    string
	pinErr      error
	pins        []string
	revokeErr   error
	revocations int
}

func (f *fakeBridge) Status() bridge.Status    { return f.status }
func (f *fakeBridge) Nodes() []bridge.NodeInfo { return f.nodes }
func (f *fakeBridge) AuthLink() (string, bool) { return f.authLink, f.authLink != "" }

func (f *fakeBridge) Dispatch(_ context.Context, address string, cmd bridge.Command) error {
	if f.dispatchErr != nil {
		return f.dispatchErr
	}
	f.dispatched = append(f.dispatched, address+":"+cmd.Cmd)
	return nil
}

func (f *fakeBridge) Discover(_ context.Context) error {
	if f.discoverErr != nil {
		return f.discoverErr
	}
	f.discovered++
	return nil
}

func (f *fakeBridge) SubmitPin(_ context.Context, pin string) error {
	if f.pinErr != nil {
		return f.pinErr
	}
	f.pins = append(f.pins, pin)
	return nil
}

func (f *fakeBridge) RevokeAuth(_ context.Context) error {
	if f.revokeErr != nil {
		return f.revokeErr
	}
	f.revocations++
	return nil
}

func newTestServer(t *testing.T, fb *fakeBridge) *Server {
	t.Helper()
	s, err := New(Deps{
		Config:  config.APIConfig{},
		WS:      config.WebSocketConfig{PingInterval: 30, PongTimeout: 60, MaxMessageSize: 4096},
		Logger:  logging.Default(),
		Bridge:  fb,
		Version: "test",
	})
	if err != nil {
		t.Fatalf("creating server: %v", err)
	}
	s.hub = NewHub(s.wsCfg, s.logger)
	return s
}

func doRequest(t *testing.T, s *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("encoding request body: %v", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.buildRouter().ServeHTTP(rec, req)
	return rec
}

func TestHealthEndpoint(t *testing.T) {
	s := newTestServer(t, &fakeBridge{})

	rec := doRequest(t, s, http.MethodGet, "/api/v1/health", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if body["status"] != "ok" || body["version"] != "test" {
		t.Errorf("unexpected health body: %v", body)
	}
}

func TestStatusEndpoint(t *testing.T) {
	fb := &fakeBridge{status: bridge.Status{Mode: "self", Authorized: true, NodeCount: 3, StreamState: "open"}}
	s := newTestServer(t, fb)

	rec := doRequest(t, s, http.MethodGet, "/api/v1/status", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var status bridge.Status
	if err := json.Unmarshal(rec.Body.Bytes(), &status); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if !status.Authorized || status.NodeCount != 3 || status.StreamState != "open" {
		t.Errorf("unexpected status: %+v", status)
	}
}

func TestListNodesEndpoint(t *testing.T) {
	fb := &fakeBridge{nodes: []bridge.NodeInfo{
		{Address: "963f7d28e17f72", Name: "Living Room", Category: bridge.CategoryThermostat},
	}}
	s := newTestServer(t, fb)

	rec := doRequest(t, s, http.MethodGet, "/api/v1/nodes/", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var body struct {
		Nodes []bridge.NodeInfo `json:"nodes"`
		Count int               `json:"count"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if body.Count != 1 || body.Nodes[0].Name != "Living Room" {
		t.Errorf("unexpected nodes body: %+v", body)
	}
}

func TestNodeCommandEndpoint(t *testing.T) {
	fb := &fakeBridge{}
	s := newTestServer(t, fb)

	value := 70.0
	rec := doRequest(t, s, http.MethodPost, "/api/v1/nodes/963f7d28e17f72/command",
		bridge.Command{Cmd: bridge.CmdSetHeat, Value: &value})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if len(fb.dispatched) != 1 || fb.dispatched[0] != "963f7d28e17f72:CLISPH" {
		t.Errorf("unexpected dispatches: %v", fb.dispatched)
	}
}

func TestNodeCommandErrorMapping(t *testing.T) {
	tests := []struct {
		err    error
		status int
	}{
		{bridge.ErrNodeNotFound, http.StatusNotFound},
		{bridge.ErrUnknownCommand, http.StatusBadRequest},
		{bridge.ErrMissingValue, http.StatusBadRequest},
		{bridge.ErrDeviceOffline, http.StatusConflict},
		{bridge.ErrLocked, http.StatusConflict},
		{bridge.ErrSetpointRange, http.StatusConflict},
		{bridge.ErrNoChange, http.StatusConflict},
		{bridge.ErrModeMismatch, http.StatusConflict},
		{bridge.ErrNoFan, http.StatusConflict},
		{fmt.Errorf("transport exploded"), http.StatusInternalServerError},
	}

	for _, tc := range tests {
		s := newTestServer(t, &fakeBridge{dispatchErr: tc.err})
		rec := doRequest(t, s, http.MethodPost, "/api/v1/nodes/963f7d28e17f72/command",
			bridge.Command{Cmd: bridge.CmdQuery})
		if rec.Code != tc.status {
			t.Errorf("%v: expected %d, got %d", tc.err, tc.status, rec.Code)
		}
	}
}

func TestNodeCommandRejectsEmptyCmd(t *testing.T) {
	s := newTestServer(t, &fakeBridge{})

	rec := doRequest(t, s, http.MethodPost, "/api/v1/nodes/963f7d28e17f72/command", map[string]any{})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestDiscoverEndpoint(t *testing.T) {
	fb := &fakeBridge{}
	s := newTestServer(t, fb)

	rec := doRequest(t, s, http.MethodPost, "/api/v1/discover", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if fb.discovered != 1 {
		t.Errorf("expected 1 discovery, got %d", fb.discovered)
	}

	s = newTestServer(t, &fakeBridge{discoverErr: bridge.ErrNotReady})
	rec = doRequest(t, s, http.MethodPost, "/api/v1/discover", nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 without credential, got %d", rec.Code)
	}
}

func TestAuthLinkEndpoint(t *testing.T) {
	s := newTestServer(t, &fakeBridge{authLink: "https://home.nest.com/login/oauth2?client_id=x&state=y"})

	rec := doRequest(t, s, http.MethodGet, "/api/v1/auth/link", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	s = newTestServer(t, &fakeBridge{})
	rec = doRequest(t, s, http.MethodGet, "/api/v1/auth/link", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 with no pending flow, got %d", rec.Code)
	}
}

func TestAuthPinEndpoint(t *testing.T) {
	fb := &fakeBridge{}
	s := newTestServer(t, fb)

	rec := doRequest(t, s, http.MethodPost, "/api/v1/auth/pin", authPinRequest{Pin: "ABCD1234"})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if len(fb.pins) != 1 || fb.pins[0] != "ABCD1234" {
		t.Errorf("unexpected pins: %v", fb.pins)
	}

	rec = doRequest(t, s, http.MethodPost, "/api/v1/auth/pin", authPinRequest{})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty pin, got %d", rec.Code)
	}

	s = newTestServer(t, &fakeBridge{pinErr: fmt.Errorf("exchange rejected")})
	rec = doRequest(t, s, http.MethodPost, "/api/v1/auth/pin", authPinRequest{Pin: "ABCD1234"})
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 for rejected pin, got %d", rec.Code)
	}
}

func TestAuthRevokeEndpoint(t *testing.T) {
	fb := &fakeBridge{}
	s := newTestServer(t, fb)

	rec := doRequest(t, s, http.MethodDelete, "/api/v1/auth/", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if fb.revocations != 1 {
		t.Errorf("expected one revocation, got %d", fb.revocations)
	}

	s = newTestServer(t, &fakeBridge{revokeErr: fmt.Errorf("vendor unreachable")})
	rec = doRequest(t, s, http.MethodDelete, "/api/v1/auth/", nil)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 for failed revocation, got %d", rec.Code)
	}
}

func TestRequestIDPropagation(t *testing.T) {
	s := newTestServer(t, &fakeBridge{})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	req.Header.Set("X-Request-ID", "fixed-id")
	rec := httptest.NewRecorder()
	s.buildRouter().ServeHTTP(rec, req)

	if got := rec.Header().Get("X-Request-ID"); got != "fixed-id" {
		t.Errorf("expected request id to round-trip, got %q", got)
	}

	rec = doRequest(t, s, http.MethodGet, "/api/v1/health", nil)
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("expected a generated request id")
	}
}

func TestHubRoutesBridgeMessages(t *testing.T) {
	hub := NewHub(config.WebSocketConfig{}, logging.Default())

	stateClient := &WSClient{
		hub:           hub,
		send:          make(chan []byte, 4),
		subscriptions: map[string]struct{}{ChannelNodeState: {}},
	}
	eventClient := &WSClient{
		hub:           hub,
		send:          make(chan []byte, 4),
		subscriptions: map[string]struct{}{ChannelNodeEvent: {}},
	}
	hub.Register(stateClient)
	hub.Register(eventClient)

	hub.Broadcast(bridge.StateMessage{Type: "state", Address: "963f7d28e17f72", Drivers: map[string]float64{"ST": 1}})

	select {
	case raw := <-stateClient.send:
		var msg WSMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			t.Fatalf("decoding broadcast: %v", err)
		}
		if msg.EventType != ChannelNodeState {
			t.Errorf("expected channel %s, got %s", ChannelNodeState, msg.EventType)
		}
	default:
		t.Fatal("expected state broadcast for subscribed client")
	}

	select {
	case <-eventClient.send:
		t.Fatal("event client should not receive state broadcasts")
	default:
	}
}
