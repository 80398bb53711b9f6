package handler

import (
	"net/http"

	"github.com/gatekeepd/gatekeep/internal/model"
	"github.com/gatekeepd/gatekeep/internal/server/middleware"
	"github.com/gatekeepd/gatekeep/internal/service"
)

// AuthHandler exposes the game-server authentication surface: exchanging an
// API key for a session token and managing that token's lifecycle.
type AuthHandler struct {
	sessions *service.SessionService
}

// NewAuthHandler creates a new AuthHandler.
func NewAuthHandler(sessions *service.SessionService) *AuthHandler {
	return &AuthHandler{sessions: sessions}
}

// validateRequest is the expected payload for the Validate endpoint.
// PlaceID and JobID are optional deployment coordinates recorded on the
// session for audit and attribution.
type validateRequest struct {
	APIKey     string  `json:"apiKey"`
	UniverseID string  `json:"universeId"`
	PlaceID    *string `json:"placeId,omitempty"`
	JobID      *string `json:"jobId,omitempty"`
}

// Validate exchanges an API key for a short-lived session token.
// POST /v1/auth/validate
func (h *AuthHandler) Validate(w http.ResponseWriter, r *http.Request) {
	var req validateRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid request body: "+err.Error())
		return
	}

	issued, err := h.sessions.Validate(r.Context(), req.APIKey, req.UniverseID, req.PlaceID, req.JobID)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, model.ValidateResponse{
		SessionToken: issued.Token,
		Tier:         issued.Tier,
		Scopes:       issued.Scopes,
		TTL:          int64(issued.TTL.Seconds()),
		ExpiresAt:    issued.ExpiresAt.Unix(),
	})
}

// Refresh extends a live session's expiry. The token itself is not rotated.
// POST /v1/auth/refresh
func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	tok := middleware.BearerToken(r)
	if tok == "" {
		writeServiceError(w, service.ErrMissingToken)
		return
	}

	issued, err := h.sessions.Refresh(r.Context(), tok)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, model.RefreshResponse{
		SessionToken: issued.Token,
		TTL:          int64(issued.TTL.Seconds()),
		ExpiresAt:    issued.ExpiresAt.Unix(),
	})
}

// Revoke terminates a session. Revoking a token that is already gone still
// returns 200, so crash-looping game servers can retry safely.
// POST /v1/auth/revoke
func (h *AuthHandler) Revoke(w http.ResponseWriter, r *http.Request) {
	tok := middleware.BearerToken(r)
	if tok == "" {
		writeServiceError(w, service.ErrMissingToken)
		return
	}

	if err := h.sessions.Revoke(r.Context(), tok); err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, model.OKResponse{OK: true})
}
