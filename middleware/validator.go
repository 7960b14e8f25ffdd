package middleware

import (
	"errors"
	"log"
	"net/http"
	"strings"

	fleetauth "github.com/fleetdesk/fleetauth"
	"github.com/fleetdesk/fleetauth/session"
)

// ValidatorConfig wires the session validator's routes and cookie.
type ValidatorConfig struct {
	// CookieName is the session cookie checked when no bearer token is
	// present.
	CookieName string
	// SignInPath receives terminated and unauthenticated requests.
	SignInPath string
	// OTPChallengePath receives authenticated requests that have not yet
	// completed MFA.
	OTPChallengePath string
	// Report, when set, receives backend errors encountered during
	// validation so the database circuit breaker can open from
	// protected-route traffic.
	Report func(error) bool
}

// Validator enforces session validity on every authenticated route: device
// binding, MFA completion, and blacklist consistency. Integrity violations
// terminate the session and force re-authentication; backend outages deny
// the request but leave the token and sessions intact.
type Validator struct {
	engine *fleetauth.Engine
	config ValidatorConfig
}

func NewValidator(engine *fleetauth.Engine, cfg ValidatorConfig) *Validator {
	if cfg.CookieName == "" {
		cfg.CookieName = "fleet_session"
	}
	if cfg.SignInPath == "" {
		cfg.SignInPath = "/signin"
	}
	if cfg.OTPChallengePath == "" {
		cfg.OTPChallengePath = "/signin/otp"
	}
	return &Validator{engine: engine, config: cfg}
}

// Middleware validates the request's session before passing it on. On
// success the request context carries a [SessionState] and the session's
// last-activity timestamp has been refreshed.
func (v *Validator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := v.requestToken(r)
		if token == "" {
			http.Redirect(w, r, v.config.SignInPath, http.StatusSeeOther)
			return
		}

		claims, err := v.engine.ValidateAccessToken(r.Context(), token)
		switch {
		case errors.Is(err, fleetauth.ErrTokenInvalid):
			v.terminate(w, r, token, "", "token_invalid")
			return
		case errors.Is(err, fleetauth.ErrTokenRevoked):
			v.terminate(w, r, token, claims.Subject, "token_revoked")
			return
		case err != nil:
			v.unavailable(w, err)
			return
		}

		// Mid-flow principals hold a valid token without the MFA marker;
		// send them to the challenge, do not reject outright.
		if !claims.MFACompleted {
			http.Redirect(w, r, v.config.OTPChallengePath, http.StatusSeeOther)
			return
		}

		principal, err := v.engine.PrincipalByID(r.Context(), claims.Subject)
		if err != nil {
			if errors.Is(err, fleetauth.ErrPrincipalNotFound) {
				v.terminate(w, r, token, claims.Subject, "principal_missing")
				return
			}
			v.unavailable(w, err)
			return
		}
		// Locked and disabled accounts lose live sessions, not just the
		// ability to sign in again.
		if principal.Status == fleetauth.AccountDisabled || principal.Status == fleetauth.AccountLocked {
			v.terminate(w, r, token, claims.Subject, "account_inactive")
			return
		}

		sess, err := v.lookupSession(r, claims.Subject, claims.SessionID)
		if err != nil {
			if errors.Is(err, fleetauth.ErrSessionNotFound) {
				v.terminate(w, r, token, claims.Subject, "session_missing")
				return
			}
			v.unavailable(w, err)
			return
		}
		if sess.FingerprintHash != session.Fingerprint(r.UserAgent()) {
			v.terminate(w, r, token, claims.Subject, "device_mismatch")
			return
		}

		// Write-through; racing with another request from the same session
		// is tolerated, last write wins.
		if err := v.engine.TouchSession(r.Context(), sess.ID); err != nil {
			log.Printf("fleetauth: session touch failed: %v", err)
		}

		state := SessionState{
			PrincipalID:   claims.Subject,
			SessionID:     sess.ID,
			Role:          claims.Role,
			Authenticated: true,
			MFACompleted:  claims.MFACompleted,
		}
		next.ServeHTTP(w, r.WithContext(withSessionState(r.Context(), state)))
	})
}

// lookupSession prefers the exact session id from the token; the
// fingerprint heuristic with most-recent fallback covers tokens minted
// before session ids were embedded.
func (v *Validator) lookupSession(r *http.Request, principalID, sessionID string) (*session.Session, error) {
	if sessionID != "" {
		return v.engine.SessionByID(r.Context(), sessionID)
	}
	return v.engine.MatchSession(r.Context(), principalID, r.UserAgent())
}

// terminate forcibly ends the session: revoke the token, drop every device
// session for the principal, clear the client cookie, mark the request so
// the caller can render expiry messaging, and send the client to sign-in.
func (v *Validator) terminate(w http.ResponseWriter, r *http.Request, token, principalID, reason string) {
	ctx := withSessionExpired(r.Context())

	if err := v.engine.RevokeToken(ctx, token); err != nil {
		log.Printf("fleetauth: revoke on terminate failed: %v", err)
	}
	if principalID != "" {
		if err := v.engine.InvalidateSessions(ctx, principalID, reason); err != nil {
			log.Printf("fleetauth: invalidate on terminate failed: %v", err)
		}
	}

	http.SetCookie(w, &http.Cookie{
		Name:     v.config.CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
	})

	http.Redirect(w, r.WithContext(ctx), v.config.SignInPath+"?reason=session-expired", http.StatusSeeOther)
}

// unavailable denies the request when a backing store cannot be reached.
// Outages are availability failures, not integrity violations: the token
// stays valid and no session is touched, so service resumes for the client
// as soon as the backend does.
func (v *Validator) unavailable(w http.ResponseWriter, err error) {
	log.Printf("fleetauth: session validation backend failure: %v", err)
	if v.config.Report != nil {
		v.config.Report(err)
	}
	w.Header().Set("Retry-After", "30")
	http.Error(w, "service temporarily unavailable", http.StatusServiceUnavailable)
}

func (v *Validator) requestToken(r *http.Request) string {
	const bearer = "Bearer "
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, bearer) {
		return auth[len(bearer):]
	}
	if c, err := r.Cookie(v.config.CookieName); err == nil {
		return c.Value
	}
	return ""
}
