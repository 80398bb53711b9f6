package handler

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/gatekeepd/gatekeep/internal/model"
	"github.com/gatekeepd/gatekeep/internal/service"
	"github.com/gatekeepd/gatekeep/internal/store"
	"github.com/gatekeepd/gatekeep/internal/token"
)

// SystemHandler manages the gateway's own provisioning data: games,
// licenses, API keys, and operator sessions. Everything here sits behind
// the admin JWT middleware except Login itself.
type SystemHandler struct {
	store   *store.Store
	authSvc *service.AuthService
}

// NewSystemHandler creates a new SystemHandler.
func NewSystemHandler(st *store.Store, authSvc *service.AuthService) *SystemHandler {
	return &SystemHandler{store: st, authSvc: authSvc}
}

// ---------------------------------------------------------------------------
// Operator authentication
// ---------------------------------------------------------------------------

// loginRequest is the expected payload for the Login endpoint.
type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// loginResponse is the response payload for a successful login.
type loginResponse struct {
	Token     string `json:"token"`
	TokenType string `json:"token_type"`
	ExpiresIn int    `json:"expires_in"`
	AdminID   int64  `json:"admin_id"`
	Email     string `json:"email"`
	Name      string `json:"name"`
}

// Login authenticates an operator and returns a JWT bearer token.
// POST /v1/system/login
func (h *SystemHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid request body: "+err.Error())
		return
	}

	if req.Email == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "email and password are required")
		return
	}

	signed, admin, err := h.authSvc.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, loginResponse{
		Token:     signed,
		TokenType: "bearer",
		ExpiresIn: int(h.authSvc.JWTExpiry().Seconds()),
		AdminID:   admin.ID,
		Email:     admin.Email,
		Name:      admin.Name,
	})
}

// ---------------------------------------------------------------------------
// Game management
// ---------------------------------------------------------------------------

type createGameRequest struct {
	Name       string `json:"name"`
	UniverseID string `json:"universe_id"`
}

// CreateGame registers a tenant game.
// POST /v1/system/games
func (h *SystemHandler) CreateGame(w http.ResponseWriter, r *http.Request) {
	var req createGameRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid request body: "+err.Error())
		return
	}
	if req.Name == "" || req.UniverseID == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "name and universe_id are required")
		return
	}

	if existing, err := h.store.GetGameByUniverse(r.Context(), req.UniverseID); err == nil && existing != nil {
		writeError(w, http.StatusConflict, "universe_taken", "universe is already registered to "+existing.Name)
		return
	}

	game := &model.Game{Name: req.Name, UniverseID: req.UniverseID}
	if err := h.store.CreateGame(r.Context(), game); err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to create game: "+err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, game)
}

// ListGames returns all registered games.
// GET /v1/system/games
func (h *SystemHandler) ListGames(w http.ResponseWriter, r *http.Request) {
	games, err := h.store.ListGames(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to list games: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"games": games,
		"count": len(games),
	})
}

// ---------------------------------------------------------------------------
// License management
// ---------------------------------------------------------------------------

type grantLicenseRequest struct {
	Tier       model.Tier `json:"tier"`
	IsInternal bool       `json:"is_internal"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
}

// GrantLicense attaches an active license to a game. A game holds at most
// one license row; granting over an existing one is a conflict.
// POST /v1/system/games/{gameID}/license
func (h *SystemHandler) GrantLicense(w http.ResponseWriter, r *http.Request) {
	gameID, ok := pathID(w, r, "gameID")
	if !ok {
		return
	}

	var req grantLicenseRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid request body: "+err.Error())
		return
	}
	if !req.Tier.Valid() {
		writeError(w, http.StatusBadRequest, "bad_request", "unknown tier: "+string(req.Tier))
		return
	}

	if _, err := h.store.GetGame(r.Context(), gameID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "game_not_found", "no such game")
			return
		}
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to look up game: "+err.Error())
		return
	}

	if existing, err := h.store.GetLicenseByGame(r.Context(), gameID); err == nil && existing != nil {
		writeError(w, http.StatusConflict, "license_exists", "game already holds a license")
		return
	}

	lic := &model.License{
		GameID:     gameID,
		Tier:       req.Tier,
		Status:     model.LicenseActive,
		IsInternal: req.IsInternal,
		ExpiresAt:  req.ExpiresAt,
	}
	if err := h.store.CreateLicense(r.Context(), lic); err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to create license: "+err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, lic)
}

type updateLicenseRequest struct {
	Status string `json:"status"`
}

// UpdateLicenseStatus flips a license between active, suspended, and
// expired. Live sessions are unaffected; they ride out their TTL.
// PUT /v1/system/games/{gameID}/license
func (h *SystemHandler) UpdateLicenseStatus(w http.ResponseWriter, r *http.Request) {
	gameID, ok := pathID(w, r, "gameID")
	if !ok {
		return
	}

	var req updateLicenseRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid request body: "+err.Error())
		return
	}
	switch req.Status {
	case model.LicenseActive, model.LicenseSuspended, model.LicenseExpired:
	default:
		writeError(w, http.StatusBadRequest, "bad_request", "unknown status: "+req.Status)
		return
	}

	if err := h.store.UpdateLicenseStatus(r.Context(), gameID, req.Status); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "no_license", "game has no license")
			return
		}
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to update license: "+err.Error())
		return
	}

	lic, err := h.store.GetLicenseByGame(r.Context(), gameID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to reload license: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, lic)
}

// ListLicenses returns all licenses.
// GET /v1/system/licenses
func (h *SystemHandler) ListLicenses(w http.ResponseWriter, r *http.Request) {
	lics, err := h.store.ListLicenses(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to list licenses: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"licenses": lics,
		"count":    len(lics),
	})
}

// ---------------------------------------------------------------------------
// API key management
// ---------------------------------------------------------------------------

type createAPIKeyRequest struct {
	Label  string `json:"label"`
	GameID int64  `json:"game_id"`
}

// createAPIKeyResponse includes the plaintext key (shown once only).
type createAPIKeyResponse struct {
	ID        int64     `json:"id"`
	Key       string    `json:"api_key"` // Plaintext, shown ONCE.
	KeyPrefix string    `json:"key_prefix"`
	Label     string    `json:"label"`
	GameID    int64     `json:"game_id"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
}

// CreateAPIKey generates a new API key for a game, stores its hash, and
// returns the plaintext exactly once.
// POST /v1/system/keys
func (h *SystemHandler) CreateAPIKey(w http.ResponseWriter, r *http.Request) {
	var req createAPIKeyRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid request body: "+err.Error())
		return
	}
	if req.GameID == 0 {
		writeError(w, http.StatusBadRequest, "bad_request", "game_id is required")
		return
	}

	if _, err := h.store.GetGame(r.Context(), req.GameID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "game_not_found", "no such game")
			return
		}
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to look up game: "+err.Error())
		return
	}

	minted, err := token.NewAPIKey()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to generate key: "+err.Error())
		return
	}

	key := &model.APIKey{
		KeyHash:   minted.Hash,
		KeyPrefix: minted.Prefix,
		Label:     req.Label,
		GameID:    req.GameID,
		IsActive:  true,
	}
	if err := h.store.CreateAPIKey(r.Context(), key); err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to save API key: "+err.Error())
		return
	}

	// Return the plaintext key. This is the ONLY time it will be visible.
	writeJSON(w, http.StatusCreated, createAPIKeyResponse{
		ID:        key.ID,
		Key:       minted.Raw,
		KeyPrefix: key.KeyPrefix,
		Label:     key.Label,
		GameID:    key.GameID,
		IsActive:  key.IsActive,
		CreatedAt: key.CreatedAt,
	})
}

// ListAPIKeys returns all API keys without exposing hashes.
// GET /v1/system/keys
func (h *SystemHandler) ListAPIKeys(w http.ResponseWriter, r *http.Request) {
	keys, err := h.store.ListAPIKeys(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to list API keys: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"keys":  keys,
		"count": len(keys),
	})
}

// RevokeAPIKey deactivates an API key by ID. Sessions already minted from
// the key stay valid until they expire.
// DELETE /v1/system/keys/{keyID}
func (h *SystemHandler) RevokeAPIKey(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "keyID")
	if !ok {
		return
	}

	if err := h.store.RevokeAPIKey(r.Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "key_not_found", "no such API key")
			return
		}
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to revoke API key: "+err.Error())
		return
	}

	writeJSON(w, http.StatusOK, model.OKResponse{OK: true})
}

// pathID parses a numeric chi URL parameter, writing a 400 on failure.
func pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	raw := chi.URLParam(r, name)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid "+name+": "+raw)
		return 0, false
	}
	return id, true
}
