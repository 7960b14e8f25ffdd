package fleetauth

import (
	"context"
	"errors"
	"time"

	"github.com/fleetdesk/fleetauth/session"
	"github.com/google/uuid"
)

// Authenticate runs the credential step of the login state machine. On a
// correct password it either completes the login outright (MFA disabled) or
// issues an OTP challenge and returns [StateAwaitingOTP].
//
// Wrong credentials, locked accounts, and disabled accounts come back as
// sentinel errors; the result's State tells the caller where the flow
// stands. Every outcome appends a [LoginAttempt] row.
func (e *Engine) Authenticate(ctx context.Context, email, password string, rememberMe bool, meta ClientMeta) (*LoginResult, error) {
	if e == nil || e.principals == nil {
		return nil, ErrEngineNotReady
	}

	p, err := e.principals.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrPrincipalNotFound) {
			// Record with an empty principal id; the caller must not learn
			// whether the account exists.
			_ = e.RecordLoginAttempt(ctx, "", meta.Address, false)
			e.metrics.Logins.WithLabelValues("invalid").Inc()
			return &LoginResult{State: StateAwaitingCredentials}, ErrInvalidCredentials
		}
		return nil, err
	}

	locked, err := e.isLocked(ctx, p)
	if err != nil {
		return nil, err
	}
	if locked {
		_ = e.RecordLoginAttempt(ctx, p.ID, meta.Address, false)
		e.metrics.Logins.WithLabelValues("locked").Inc()
		return &LoginResult{State: StateLocked, PrincipalID: p.ID}, ErrAccountLocked
	}
	if statusErr := accountStatusToError(p.Status); statusErr != nil {
		_ = e.RecordLoginAttempt(ctx, p.ID, meta.Address, false)
		e.metrics.Logins.WithLabelValues("rejected").Inc()
		return &LoginResult{State: StateAwaitingCredentials, PrincipalID: p.ID}, statusErr
	}

	ok, err := e.passwordHash.Verify(password, p.PasswordHash)
	if err != nil {
		// Corrupted hash material is a contract error, not a wrong password.
		return nil, err
	}
	if !ok {
		_ = e.RecordLoginAttempt(ctx, p.ID, meta.Address, false)
		e.metrics.Logins.WithLabelValues("invalid").Inc()
		return &LoginResult{State: StateAwaitingCredentials, PrincipalID: p.ID}, ErrInvalidCredentials
	}

	if err := e.RecordLoginAttempt(ctx, p.ID, meta.Address, true); err != nil {
		return nil, err
	}
	e.metrics.Logins.WithLabelValues("password_ok").Inc()

	// Re-read the principal before deciding the MFA branch so a stale
	// in-memory flag cannot bypass an OTP that was enabled mid-flight.
	fresh, err := e.principals.GetByID(ctx, p.ID)
	if err != nil {
		return nil, err
	}
	if !fresh.MFAEnabled {
		return e.finalizeLogin(ctx, fresh, rememberMe, meta)
	}

	challengeID := uuid.NewString()
	record := &loginChallenge{
		PrincipalID: fresh.ID,
		RememberMe:  rememberMe,
		ExpiresAt:   time.Now().Add(e.config.Challenge.TTL).Unix(),
	}
	if err := e.challenges.Save(ctx, challengeID, record, e.config.Challenge.TTL); err != nil {
		return nil, err
	}

	return &LoginResult{
		State:       StateAwaitingOTP,
		PrincipalID: fresh.ID,
		ChallengeID: challengeID,
	}, nil
}

// finalizeLogin is the Authenticated transition: issue claims with the
// MFA-completed marker, register the device session, clear the failed
// counter, and hand back the signed token.
func (e *Engine) finalizeLogin(ctx context.Context, p *Principal, rememberMe bool, meta ClientMeta) (*LoginResult, error) {
	sid := uuid.NewString()
	now := time.Now()

	ttl := e.config.Session.TTL
	if rememberMe {
		ttl = e.config.Session.RememberTTL
	}

	sess := &session.Session{
		ID:              sid,
		PrincipalID:     p.ID,
		FingerprintHash: session.Fingerprint(meta.UserAgent),
		Address:         meta.Address,
		CreatedAt:       now.Unix(),
		LastActivityAt:  now.Unix(),
	}
	if err := e.sessions.Create(ctx, sess, ttl); err != nil {
		return nil, err
	}

	token, expires, err := e.jwtManager.Issue(p.ID, p.Email, p.Name, p.Role, sid, true)
	if err != nil {
		// The session must not outlive a failed issuance.
		_ = e.sessions.Delete(ctx, p.ID, sid)
		return nil, err
	}

	e.metrics.Logins.WithLabelValues("authenticated").Inc()
	return &LoginResult{
		State:       StateAuthenticated,
		PrincipalID: p.ID,
		AccessToken: token,
		SessionID:   sid,
		ExpiresAt:   expires,
	}, nil
}
