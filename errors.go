package stepauth

import "errors"

var (
	// ErrInputInvalid reports structurally invalid caller input, detected
	// before any cryptographic or storage work.
	ErrInputInvalid = errors.New("invalid input")
	// ErrIdentityNotFound reports that the referenced identity does not exist.
	ErrIdentityNotFound = errors.New("identity not found")
	// ErrSecretNotProvisioned reports that no enrollment exists for the
	// identity in the stage the operation requires.
	ErrSecretNotProvisioned = errors.New("two-factor secret not provisioned")
	// ErrCodeInvalid is the single outward verdict for every failed code
	// check. TOTP and backup-code failures are deliberately not
	// distinguishable from the outside.
	ErrCodeInvalid = errors.New("invalid verification code")
	// ErrAlreadyActive reports that the enrollment was activated by a
	// concurrent call. Callers should treat it as a benign outcome.
	ErrAlreadyActive = errors.New("two-factor already active")
	// ErrTokenRequired reports that no bearer token was presented.
	ErrTokenRequired = errors.New("token required")
	// ErrTokenExpired reports a well-formed token past its expiry.
	ErrTokenExpired = errors.New("token expired")
	// ErrTokenInvalid reports a token that failed signature, structure, or
	// stage validation. The client must restart login.
	ErrTokenInvalid = errors.New("invalid token")
	// ErrInsufficientPermissions reports a principal whose role lacks the
	// required capability.
	ErrInsufficientPermissions = errors.New("insufficient permissions")
	// ErrTokenConfig reports missing or invalid signing configuration, a
	// server-side misconfiguration distinct from any client failure.
	ErrTokenConfig = errors.New("token signing configuration error")
	// ErrStorageUnavailable wraps persistence-layer failures. Driver detail
	// stays in the wrapped error and is never sent to clients.
	ErrStorageUnavailable = errors.New("storage unavailable")
	// ErrInternal wraps engine-internal faults, such as the random source
	// failing. Distinct from ErrStorageUnavailable so callers do not
	// mistake it for a backend outage; at the wire it still collapses to
	// the generic failure code.
	ErrInternal = errors.New("internal failure")
	// ErrTooManyAttempts reports that the optional step-up attempt limiter
	// rejected the identity until its cooldown elapses.
	ErrTooManyAttempts = errors.New("too many verification attempts")
	// ErrEngineNotReady reports use of an engine that was not built with
	// its required dependencies.
	ErrEngineNotReady = errors.New("engine not initialized")
)

// Stable machine-readable codes surfaced at the API edge.
const (
	CodeInputInvalid            = "INPUT_INVALID"
	CodeIdentityNotFound        = "IDENTITY_NOT_FOUND"
	CodeSecretNotProvisioned    = "SECRET_NOT_PROVISIONED"
	CodeCodeInvalid             = "CODE_INVALID"
	CodeAlreadyActive           = "ALREADY_ACTIVE"
	CodeTokenRequired           = "TOKEN_REQUIRED"
	CodeTokenExpired            = "TOKEN_EXPIRED"
	CodeTokenInvalid            = "TOKEN_INVALID"
	CodeInsufficientPermissions = "INSUFFICIENT_PERMISSIONS"
	CodeTokenConfigError        = "JWT_CONFIG_ERROR"
	CodeStorageFailure          = "STORAGE_FAILURE"
	CodeAttemptsExceeded        = "ATTEMPTS_EXCEEDED"
)

// ErrorCode maps err to its stable wire code. Unrecognized errors collapse
// into CodeStorageFailure so that internal detail never reaches clients.
// A nil error maps to the empty string.
func ErrorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInputInvalid):
		return CodeInputInvalid
	case errors.Is(err, ErrIdentityNotFound):
		return CodeIdentityNotFound
	case errors.Is(err, ErrSecretNotProvisioned):
		return CodeSecretNotProvisioned
	case errors.Is(err, ErrCodeInvalid):
		return CodeCodeInvalid
	case errors.Is(err, ErrAlreadyActive):
		return CodeAlreadyActive
	case errors.Is(err, ErrTokenRequired):
		return CodeTokenRequired
	case errors.Is(err, ErrTokenExpired):
		return CodeTokenExpired
	case errors.Is(err, ErrTokenInvalid):
		return CodeTokenInvalid
	case errors.Is(err, ErrInsufficientPermissions):
		return CodeInsufficientPermissions
	case errors.Is(err, ErrTokenConfig):
		return CodeTokenConfigError
	case errors.Is(err, ErrTooManyAttempts):
		return CodeAttemptsExceeded
	default:
		return CodeStorageFailure
	}
}
