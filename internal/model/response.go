package model

// ErrorResponse is the standard envelope for error responses.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail contains the structured error information returned by the API.
// Reason is a stable machine-readable string (e.g. "invalid_api_key");
// Message is for humans and may change between releases.
type ErrorDetail struct {
	Code    int    `json:"code"`
	Reason  string `json:"reason"`
	Message string `json:"message"`
}

// ValidateResponse is the payload returned by a successful session issuance.
type ValidateResponse struct {
	SessionToken string   `json:"sessionToken"`
	Tier         Tier     `json:"tier"`
	Scopes       []string `json:"scopes"`
	TTL          int64    `json:"ttl"` // seconds
	ExpiresAt    int64    `json:"expiresAt"`
}

// RefreshResponse is the payload returned by a successful session refresh.
// The token is not rotated; only the expiry moves forward.
type RefreshResponse struct {
	SessionToken string `json:"sessionToken"`
	TTL          int64  `json:"ttl"`
	ExpiresAt    int64  `json:"expiresAt"`
}

// OKResponse acknowledges revoke and usage-report calls.
type OKResponse struct {
	OK bool `json:"ok"`
}
