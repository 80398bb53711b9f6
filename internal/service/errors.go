package service

// Error is a terminal request error carrying an HTTP status and a stable
// machine-readable reason. Handlers surface it verbatim; callers are
// expected to branch on Reason, not Message.
type Error struct {
	Status  int
	Reason  string
	Message string
}

func (e *Error) Error() string {
	return e.Reason + ": " + e.Message
}

var (
	ErrBadRequest = &Error{Status: 400, Reason: "bad_request",
		Message: "apiKey and universeId are required"}
	ErrInvalidAPIKey = &Error{Status: 401, Reason: "invalid_api_key",
		Message: "API key is not recognized"}
	ErrAPIKeyRevoked = &Error{Status: 401, Reason: "api_key_revoked",
		Message: "API key has been revoked"}
	ErrGameNotFound = &Error{Status: 404, Reason: "game_not_found",
		Message: "no game is provisioned for this API key"}
	ErrUniverseMismatch = &Error{Status: 403, Reason: "universe_mismatch",
		Message: "API key is not valid for the presented universe"}
	ErrNoLicense = &Error{Status: 403, Reason: "no_license",
		Message: "game has no license"}
	ErrLicenseSuspended = &Error{Status: 403, Reason: "license_suspended",
		Message: "license is suspended"}
	ErrLicenseExpired = &Error{Status: 403, Reason: "license_expired",
		Message: "license has expired"}
	ErrMissingToken = &Error{Status: 401, Reason: "missing_token",
		Message: "Authorization bearer token is required"}
	ErrSessionNotFound = &Error{Status: 401, Reason: "session_not_found",
		Message: "session token is not recognized or has expired"}
	ErrSessionNotFoundOrExpired = &Error{Status: 401, Reason: "session_not_found_or_expired",
		Message: "no active session exists for this token"}
	ErrInvalidCredentials = &Error{Status: 401, Reason: "invalid_credentials",
		Message: "invalid email or password"}
	ErrInternal = &Error{Status: 500, Reason: "internal_error",
		Message: "internal error"}
)
