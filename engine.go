package fleetauth

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/fleetdesk/fleetauth/jwt"
	"github.com/fleetdesk/fleetauth/password"
	"github.com/fleetdesk/fleetauth/session"
)

// Engine is the authentication core. Configure it through [Builder]; after
// Build it is immutable and safe for concurrent use.
type Engine struct {
	config Config

	principals PrincipalStore
	attempts   LoginAttemptStore
	mailer     Mailer

	otp          *otpEngine
	passwordHash *password.Hasher
	jwtManager   *jwt.Manager
	challenges   *challengeStore
	revocations  *revocationRegistry
	sessions     *session.Store
	metrics      *Metrics
}

// Metrics exposes the counter set so middleware can share it.
func (e *Engine) Metrics() *Metrics {
	if e == nil {
		return nil
	}
	return e.metrics
}

// PrincipalByID loads a principal from the backing store.
func (e *Engine) PrincipalByID(ctx context.Context, id string) (*Principal, error) {
	if e == nil || e.principals == nil {
		return nil, ErrEngineNotReady
	}
	return e.principals.GetByID(ctx, id)
}

// ParseAccessToken validates the token signature and claims.
func (e *Engine) ParseAccessToken(token string) (*jwt.Claims, error) {
	if e == nil || e.jwtManager == nil {
		return nil, ErrEngineNotReady
	}
	return e.jwtManager.Parse(token)
}

// ValidateAccessToken parses a token and consults the revocation registry.
// On [ErrTokenRevoked] the parsed claims are still returned so the caller
// can tear down the session they name.
func (e *Engine) ValidateAccessToken(ctx context.Context, token string) (*jwt.Claims, error) {
	if e == nil || e.jwtManager == nil || e.revocations == nil {
		return nil, ErrEngineNotReady
	}
	claims, err := e.jwtManager.Parse(token)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}
	revoked, err := e.revocations.IsRevoked(ctx, token)
	if err != nil {
		return nil, err
	}
	if revoked {
		return claims, ErrTokenRevoked
	}
	return claims, nil
}

// IsTokenBlacklisted consults the shared revocation registry.
func (e *Engine) IsTokenBlacklisted(ctx context.Context, token string) (bool, error) {
	if e == nil || e.revocations == nil {
		return false, ErrEngineNotReady
	}
	return e.revocations.IsRevoked(ctx, token)
}

// AddToBlacklist revokes a token for the given ttl. The entry is floored to
// the token's remaining natural lifetime so revocation always outlives the
// token.
func (e *Engine) AddToBlacklist(ctx context.Context, token string, ttl time.Duration) error {
	if e == nil || e.revocations == nil {
		return ErrEngineNotReady
	}
	if expiry, ok := e.jwtManager.Expiry(token); ok {
		if remaining := time.Until(expiry); remaining > ttl {
			ttl = remaining
		}
	}
	if err := e.revocations.Revoke(ctx, token, ttl); err != nil {
		return err
	}
	e.metrics.TokensRevoked.Inc()
	return nil
}

// RevokeToken blacklists the token for its remaining lifetime.
func (e *Engine) RevokeToken(ctx context.Context, token string) error {
	return e.AddToBlacklist(ctx, token, time.Minute)
}

// SessionByID returns the device session with the given id.
func (e *Engine) SessionByID(ctx context.Context, id string) (*session.Session, error) {
	if e == nil || e.sessions == nil {
		return nil, ErrEngineNotReady
	}
	s, err := e.sessions.Get(ctx, id)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}
	return s, nil
}

// MatchSession finds a device session for the principal by user-agent
// fingerprint, falling back to the most recently active session.
func (e *Engine) MatchSession(ctx context.Context, principalID, userAgent string) (*session.Session, error) {
	if e == nil || e.sessions == nil {
		return nil, ErrEngineNotReady
	}
	s, err := e.sessions.Match(ctx, principalID, session.Fingerprint(userAgent))
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}
	return s, nil
}

// TouchSession updates the session's last-activity timestamp.
func (e *Engine) TouchSession(ctx context.Context, id string) error {
	if e == nil || e.sessions == nil {
		return ErrEngineNotReady
	}
	return e.sessions.Touch(ctx, id, time.Now())
}

// DeleteSession removes a single device session.
func (e *Engine) DeleteSession(ctx context.Context, principalID, id string) error {
	if e == nil || e.sessions == nil {
		return ErrEngineNotReady
	}
	return e.sessions.Delete(ctx, principalID, id)
}

// InvalidateSessions removes every device session for the principal and
// counts the invalidation under the given reason.
func (e *Engine) InvalidateSessions(ctx context.Context, principalID, reason string) error {
	if e == nil || e.sessions == nil {
		return ErrEngineNotReady
	}
	if err := e.sessions.DeleteAll(ctx, principalID); err != nil {
		return err
	}
	e.metrics.SessionsInvalidated.WithLabelValues(reason).Inc()
	return nil
}

// RecordLoginAttempt appends an audit row. principalID may be empty when the
// submitted email matched no account.
func (e *Engine) RecordLoginAttempt(ctx context.Context, principalID, address string, success bool) error {
	if e == nil || e.attempts == nil {
		return ErrEngineNotReady
	}
	return e.attempts.Append(ctx, LoginAttempt{
		PrincipalID: principalID,
		Address:     address,
		At:          time.Now(),
		Success:     success,
	})
}

// IsAccountLocked reports whether the account is locked, combining the
// persisted status with recent failed login attempts.
func (e *Engine) IsAccountLocked(ctx context.Context, email string) (bool, error) {
	if e == nil || e.principals == nil {
		return false, ErrEngineNotReady
	}
	p, err := e.principals.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrPrincipalNotFound) {
			return false, nil
		}
		return false, err
	}
	return e.isLocked(ctx, p)
}

func (e *Engine) isLocked(ctx context.Context, p *Principal) (bool, error) {
	if p.Status == AccountLocked {
		return true, nil
	}
	since := time.Now().Add(-e.config.Lockout.Window)
	failures, err := e.attempts.CountRecentFailures(ctx, p.ID, since)
	if err != nil {
		return false, err
	}
	return failures >= e.config.Lockout.MaxFailures, nil
}

func accountStatusToError(status AccountStatus) error {
	switch status {
	case AccountLocked:
		return ErrAccountLocked
	case AccountDisabled:
		return ErrAccountDisabled
	case AccountPendingVerification:
		return ErrAccountUnverified
	default:
		return nil
	}
}

// notifyLocked dispatches the lockout email without blocking the login flow.
// Delivery failure is logged, never surfaced.
func (e *Engine) notifyLocked(email string) {
	if e.mailer == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := e.mailer.AccountLocked(ctx, email); err != nil {
			log.Printf("fleetauth: account-locked mail for %s failed: %v", email, err)
		}
	}()
}
