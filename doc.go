// Package fleetauth is the authentication and session-security core of the
// fleetdesk driver/fleet management platform. It owns the multi-step
// login/MFA pipeline, TOTP and backup-code verification, JWT issuance with a
// shared revocation registry, and the device-bound session registry consulted
// by the request-path middleware.
//
// The package is the public surface: it exposes [Engine], [Builder], [Config],
// the store interfaces the host application implements, and value types such
// as [LoginResult] and [Principal]. Request-path components (session
// validator, database circuit breaker, rate limiter) live in the middleware
// subpackage and call back into Engine methods.
//
// # Shared state
//
// Challenge records, device sessions, the token blacklist, and rate-limit
// windows all live in Redis so that logout and forced invalidation are
// consistent across every instance of the application. A per-process cache
// would only be correct in a single-instance deployment; the Engine refuses
// to build without a Redis client.
//
// # Failure posture
//
// Expected authentication failures (wrong password, wrong code, expired
// challenge, locked account) are sentinel errors, never panics. Any error
// escaping into the session validator resolves to "deny". Database
// availability failures are the circuit breaker's problem, not the caller's.
package fleetauth
