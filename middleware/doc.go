// Package middleware holds the request-path stages of the authentication
// core: the database circuit breaker (outermost, so it short-circuits
// before anything touches storage), the per-route rate limiter, and the
// session validator for authenticated routes.
//
// Each stage is an explicit object injected with its dependencies; none of
// them keeps package-level mutable state.
package middleware
