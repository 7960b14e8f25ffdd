package fleetauth

import "errors"

var (
	// ErrInvalidCredentials is returned for a wrong email/password pair.
	// Callers must not distinguish "unknown account" from "wrong password".
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrPrincipalNotFound is returned by principal stores for unknown ids.
	ErrPrincipalNotFound = errors.New("principal not found")
	// ErrAccountLocked is returned when the account is locked, whether by
	// persisted status or by recent failed login attempts.
	ErrAccountLocked = errors.New("account locked")
	// ErrAccountDisabled is returned for administratively disabled accounts.
	ErrAccountDisabled = errors.New("account disabled")
	// ErrAccountUnverified is returned when the account has not completed
	// email verification and the configuration requires it.
	ErrAccountUnverified = errors.New("account unverified")

	// ErrChallengeInvalid is returned when an OTP challenge id is unknown,
	// already consumed, or otherwise unusable.
	ErrChallengeInvalid = errors.New("login challenge invalid")
	// ErrChallengeExpired is returned when the OTP challenge window has
	// elapsed; the caller must restart from the credential step.
	ErrChallengeExpired = errors.New("login challenge expired")
	// ErrChallengeUnavailable indicates the challenge backend is unreachable.
	ErrChallengeUnavailable = errors.New("login challenge backend unavailable")

	// ErrOTPInvalid is returned for a wrong or malformed one-time code.
	ErrOTPInvalid = errors.New("invalid one-time code")
	// ErrMFANotConfigured is returned when a TOTP operation is requested for
	// a principal without a provisioned secret.
	ErrMFANotConfigured = errors.New("mfa not configured")
	// ErrMFAAttemptsExceeded is returned when the failed-MFA counter crosses
	// the lock threshold; the account transitions to Locked.
	ErrMFAAttemptsExceeded = errors.New("mfa attempts exceeded")

	// ErrBackupCodeInvalid is returned for an unknown or already consumed
	// backup code.
	ErrBackupCodeInvalid = errors.New("invalid backup code")
	// ErrBackupCodesNotConfigured is returned when no backup codes exist.
	ErrBackupCodesNotConfigured = errors.New("backup codes not configured")

	// ErrTokenInvalid is returned for tokens that fail signature or claim
	// validation.
	ErrTokenInvalid = errors.New("invalid token")
	// ErrTokenRevoked is returned for tokens present in the revocation
	// registry, regardless of their own expiry.
	ErrTokenRevoked = errors.New("token revoked")

	// ErrSessionNotFound is returned when no device session matches.
	ErrSessionNotFound = errors.New("session not found")

	// ErrStoreUnavailable wraps infrastructure failures from the shared
	// Redis store. The circuit breaker classifies database failures; this
	// sentinel covers the cache tier.
	ErrStoreUnavailable = errors.New("shared store unavailable")

	// ErrEngineNotReady is returned when an Engine method is called before
	// Build or on a nil receiver.
	ErrEngineNotReady = errors.New("engine not initialized")
)

// IsAuthFailure reports whether err is an expected authentication failure
// (wrong password, wrong code, expired challenge, locked account) as
// opposed to an infrastructure or contract error. Expected failures carry a
// user-facing message and must never be retried against the backend.
func IsAuthFailure(err error) bool {
	for _, sentinel := range []error{
		ErrInvalidCredentials, ErrAccountLocked, ErrAccountDisabled,
		ErrAccountUnverified, ErrChallengeInvalid, ErrChallengeExpired,
		ErrOTPInvalid, ErrMFAAttemptsExceeded, ErrBackupCodeInvalid,
		ErrBackupCodesNotConfigured, ErrTokenInvalid, ErrTokenRevoked,
	} {
		if errors.Is(err, sentinel) {
			return true
		}
	}
	return false
}
