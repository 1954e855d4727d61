package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/exking/udi-nest2-poly/internal/bridge"
)

// handleStatus returns the bridge controller status.
func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.bridge.Status())
}

// handleListNodes returns all registered nodes.
func (s *Server) handleListNodes(w http.ResponseWriter, _ *http.Request) {
	nodes := s.bridge.Nodes()
	writeJSON(w, http.StatusOK, map[string]any{
		"nodes": nodes,
		"count": len(nodes),
	})
}

// handleNodeCommand dispatches a command to one node.
//
// Command validation failures map to HTTP statuses: unknown nodes are
// 404, malformed commands are 400, and gate rejections (offline, locked,
// out of range, no-op) are 409.
func (s *Server) handleNodeCommand(w http.ResponseWriter, r *http.Request) {
	address := chi.URLParam(r, "address")

	var cmd bridge.Command
	if err := json.NewDecoder(r.Body).Decode(&cmd); err != nil {
		writeBadRequest(w, "invalid command payload: "+err.Error())
		return
	}
	if cmd.Cmd == "" {
		writeBadRequest(w, "cmd is required")
		return
	}

	err := s.bridge.Dispatch(r.Context(), address, cmd)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]string{"result": "ok"})
	case errors.Is(err, bridge.ErrNodeNotFound):
		writeNotFound(w, err.Error())
	case errors.Is(err, bridge.ErrUnknownCommand), errors.Is(err, bridge.ErrMissingValue):
		writeBadRequest(w, err.Error())
	case errors.Is(err, bridge.ErrDeviceOffline),
		errors.Is(err, bridge.ErrEmergencyHeat),
		errors.Is(err, bridge.ErrLocked),
		errors.Is(err, bridge.ErrSetpointRange),
		errors.Is(err, bridge.ErrNoChange),
		errors.Is(err, bridge.ErrModeMismatch),
		errors.Is(err, bridge.ErrNoFan):
		writeConflict(w, err.Error())
	default:
		s.logger.Error("command dispatch failed", "address", address, "error", err)
		writeInternalError(w, "command dispatch failed")
	}
}

// handleDiscover triggers a discovery pass.
func (s *Server) handleDiscover(w http.ResponseWriter, r *http.Request) {
	err := s.bridge.Discover(r.Context())
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]any{
			"result": "ok",
			"nodes":  len(s.bridge.Nodes()),
		})
	case errors.Is(err, bridge.ErrNotReady), errors.Is(err, bridge.ErrNoStructures):
		writeConflict(w, err.Error())
	default:
		s.logger.Error("discovery failed", "error", err)
		writeInternalError(w, "discovery failed")
	}
}

// handleAuthLink returns the pending account-linking URL, if any.
func (s *Server) handleAuthLink(w http.ResponseWriter, _ *http.Request) {
	link, ok := s.bridge.AuthLink()
	if !ok {
		writeNotFound(w, "no authorization pending")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"link": link})
}

// authPinRequest is the body of POST /auth/pin.
type authPinRequest struct {
	Pin string `json:"pin"`
}

// handleAuthPin completes the account-linking flow with an operator PIN.
func (s *Server) handleAuthPin(w http.ResponseWriter, r *http.Request) {
	var req authPinRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid request payload: "+err.Error())
		return
	}
	if req.Pin == "" {
		writeBadRequest(w, "pin is required")
		return
	}

	if err := s.bridge.SubmitPin(r.Context(), req.Pin); err != nil {
		s.logger.Warn("pin submission rejected", "error", err)
		writeConflict(w, "pin was rejected by the vendor")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"result": "ok"})
}

// handleAuthRevoke revokes the stored credential with the vendor.
func (s *Server) handleAuthRevoke(w http.ResponseWriter, r *http.Request) {
	if err := s.bridge.RevokeAuth(r.Context()); err != nil {
		s.logger.Error("credential revocation failed", "error", err)
		writeInternalError(w, "credential revocation failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"result": "revoked"})
}
