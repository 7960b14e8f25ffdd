package fleetauth

import (
	"context"
	"errors"
	"time"
)

// ConfirmOTP runs the OTP step of the login state machine. It accepts either
// a live TOTP code or a backup code; six-to-eight digit numeric input is
// treated as TOTP, anything else as a backup code (backup codes contain
// letters by construction).
//
// Each failure increments the principal's failed-MFA counter. At the
// configured offer threshold the result starts carrying OfferBackupCode; at
// the lock threshold the account transitions to Locked and the challenge is
// destroyed. A locked account is rejected before any code is inspected.
func (e *Engine) ConfirmOTP(ctx context.Context, challengeID, code string, meta ClientMeta) (*LoginResult, error) {
	if e == nil || e.principals == nil {
		return nil, ErrEngineNotReady
	}
	if challengeID == "" {
		return nil, ErrChallengeInvalid
	}

	record, err := e.challenges.Get(ctx, challengeID)
	if err != nil {
		// Expired challenges force a return to the credential step; the
		// sentinel tells the caller which case it hit.
		return &LoginResult{State: StateAwaitingCredentials}, err
	}

	p, err := e.principals.GetByID(ctx, record.PrincipalID)
	if err != nil {
		_, _ = e.challenges.Delete(ctx, challengeID)
		if errors.Is(err, ErrPrincipalNotFound) {
			return nil, ErrChallengeInvalid
		}
		return nil, err
	}

	// Locked and otherwise unusable accounts are rejected without touching
	// the OTP engine.
	if p.Status == AccountLocked || p.FailedMFAAttempts >= e.config.Challenge.MaxFailures {
		_, _ = e.challenges.Delete(ctx, challengeID)
		e.metrics.MFAAttempts.WithLabelValues("any", "locked").Inc()
		return &LoginResult{State: StateLocked, PrincipalID: p.ID}, ErrAccountLocked
	}
	if statusErr := accountStatusToError(p.Status); statusErr != nil {
		_, _ = e.challenges.Delete(ctx, challengeID)
		return &LoginResult{State: StateAwaitingCredentials, PrincipalID: p.ID}, statusErr
	}

	// Bypass path: MFA disabled for this principal. The check reads the
	// row just loaded from the store, not whatever state the challenge was
	// created under, so a stale flag cannot smuggle a login past OTP.
	if !p.MFAEnabled {
		if _, err := e.challenges.Delete(ctx, challengeID); err != nil {
			return nil, err
		}
		return e.finalizeLogin(ctx, p, record.RememberMe, meta)
	}

	method := "backup"
	if allDigits(code) && len(code) == e.config.TOTP.Digits {
		method = "totp"
	}

	var verified bool
	switch method {
	case "totp":
		verified, err = e.otp.VerifyCode(p.MFASecret, code, time.Now())
		if err != nil && !errors.Is(err, ErrMFANotConfigured) {
			return nil, err
		}
	case "backup":
		verified, err = e.consumeBackupCode(ctx, p.ID, code)
		if err != nil {
			return nil, err
		}
	}

	if !verified {
		return e.failOTPAttempt(ctx, challengeID, p, method)
	}

	// Consume the challenge before issuing anything. A zero delete count
	// means a concurrent request won the race; treat it as a replay.
	deleted, err := e.challenges.Delete(ctx, challengeID)
	if err != nil {
		return nil, err
	}
	if !deleted {
		e.metrics.MFAAttempts.WithLabelValues(method, "replay").Inc()
		return nil, ErrChallengeInvalid
	}

	if err := e.principals.ResetFailedMFA(ctx, p.ID); err != nil {
		return nil, err
	}
	e.metrics.MFAAttempts.WithLabelValues(method, "success").Inc()

	return e.finalizeLogin(ctx, p, record.RememberMe, meta)
}

func (e *Engine) failOTPAttempt(ctx context.Context, challengeID string, p *Principal, method string) (*LoginResult, error) {
	count, err := e.principals.IncrementFailedMFA(ctx, p.ID)
	if err != nil {
		return nil, err
	}
	e.metrics.MFAAttempts.WithLabelValues(method, "failure").Inc()

	if count >= e.config.Challenge.MaxFailures {
		if err := e.principals.SetStatus(ctx, p.ID, AccountLocked); err != nil {
			return nil, err
		}
		_, _ = e.challenges.Delete(ctx, challengeID)
		e.metrics.AccountsLocked.Inc()
		e.notifyLocked(p.Email)
		return &LoginResult{
			State:          StateLocked,
			PrincipalID:    p.ID,
			FailedAttempts: count,
		}, ErrMFAAttemptsExceeded
	}

	result := &LoginResult{
		State:           StateAwaitingOTP,
		PrincipalID:     p.ID,
		ChallengeID:     challengeID,
		FailedAttempts:  count,
		OfferBackupCode: count >= e.config.Challenge.BackupOfferThreshold,
	}
	if method == "backup" {
		return result, ErrBackupCodeInvalid
	}
	return result, ErrOTPInvalid
}

// consumeBackupCode canonicalizes and atomically consumes a backup code.
// The conditional delete at the storage layer guarantees two concurrent
// presentations of the same code cannot both succeed.
func (e *Engine) consumeBackupCode(ctx context.Context, principalID, code string) (bool, error) {
	canonical := canonicalizeBackupCode(code)
	if len(canonical) != e.config.TOTP.BackupCodeLength {
		return false, nil
	}
	return e.principals.ConsumeBackupCode(ctx, principalID, backupCodeHash(principalID, canonical))
}
