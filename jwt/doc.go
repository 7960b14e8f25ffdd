// Package jwt wraps golang-jwt with the claim set and validation rules the
// fleetauth core depends on: HS256 over a server-held key, a fixed TTL, and
// an explicit MFA-completed marker distinct from mere authentication.
package jwt
