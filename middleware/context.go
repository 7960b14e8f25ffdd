package middleware

import (
	"context"
	"net"
	"net/http"
	"strings"
)

// SessionState is the validated session threaded through the request
// context. It replaces scattered claim lookups: handlers read one struct
// instead of re-deriving authentication and MFA status.
type SessionState struct {
	PrincipalID   string
	SessionID     string
	Role          string
	Authenticated bool
	MFACompleted  bool
}

type sessionStateKey struct{}
type sessionExpiredKey struct{}

// SessionStateFrom returns the validated session state, if the session
// validator ran and passed.
func SessionStateFrom(ctx context.Context) (SessionState, bool) {
	state, ok := ctx.Value(sessionStateKey{}).(SessionState)
	return state, ok
}

func withSessionState(ctx context.Context, state SessionState) context.Context {
	return context.WithValue(ctx, sessionStateKey{}, state)
}

// SessionExpired reports whether the validator terminated the session on
// this request, so callers can render "your session has expired" instead of
// a generic redirect loop.
func SessionExpired(ctx context.Context) bool {
	v, _ := ctx.Value(sessionExpiredKey{}).(bool)
	return v
}

func withSessionExpired(ctx context.Context) context.Context {
	return context.WithValue(ctx, sessionExpiredKey{}, true)
}

// clientIP extracts the client address, preferring the first entry of
// X-Forwarded-For when present.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if i := strings.IndexByte(fwd, ','); i >= 0 {
			fwd = fwd[:i]
		}
		return strings.TrimSpace(fwd)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
