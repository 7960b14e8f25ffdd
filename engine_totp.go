package fleetauth

import (
	"context"
	"time"
)

// ProvisionTOTP generates a fresh secret for the principal and stages it
// (MFA stays disabled until [Engine.ConfirmTOTPSetup] proves the
// authenticator app holds the secret). The returned URI is ready for QR
// rendering.
func (e *Engine) ProvisionTOTP(ctx context.Context, principalID string) (*TOTPProvision, error) {
	if e == nil || e.principals == nil {
		return nil, ErrEngineNotReady
	}
	p, err := e.principals.GetByID(ctx, principalID)
	if err != nil {
		return nil, err
	}

	raw, encoded, err := e.otp.GenerateSecret()
	if err != nil {
		return nil, err
	}
	if err := e.principals.SetMFA(ctx, p.ID, false, raw); err != nil {
		return nil, err
	}

	return &TOTPProvision{
		Secret: encoded,
		URI:    e.otp.ProvisionURI(encoded, p.Email),
	}, nil
}

// ConfirmTOTPSetup verifies a live code against the staged secret, enables
// MFA, and returns a fresh set of single-use backup codes. All existing
// device sessions are invalidated so every device re-authenticates under
// the new MFA requirement.
func (e *Engine) ConfirmTOTPSetup(ctx context.Context, principalID, code string) ([]string, error) {
	if e == nil || e.principals == nil {
		return nil, ErrEngineNotReady
	}
	p, err := e.principals.GetByID(ctx, principalID)
	if err != nil {
		return nil, err
	}
	if len(p.MFASecret) == 0 {
		return nil, ErrMFANotConfigured
	}

	ok, err := e.otp.VerifyCode(p.MFASecret, code, time.Now())
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrOTPInvalid
	}

	if err := e.principals.SetMFA(ctx, p.ID, true, p.MFASecret); err != nil {
		return nil, err
	}
	codes, err := e.generateBackupCodes(ctx, p.ID)
	if err != nil {
		return nil, err
	}
	if err := e.InvalidateSessions(ctx, p.ID, "mfa_enabled"); err != nil {
		return nil, err
	}
	return codes, nil
}

// VerifyTOTP checks a live code for an MFA-enabled principal outside the
// login flow (sensitive-operation step-up).
func (e *Engine) VerifyTOTP(ctx context.Context, principalID, code string) error {
	if e == nil || e.principals == nil {
		return ErrEngineNotReady
	}
	p, err := e.principals.GetByID(ctx, principalID)
	if err != nil {
		return err
	}
	if !p.MFAEnabled || len(p.MFASecret) == 0 {
		return ErrMFANotConfigured
	}
	ok, err := e.otp.VerifyCode(p.MFASecret, code, time.Now())
	if err != nil {
		return err
	}
	if !ok {
		return ErrOTPInvalid
	}
	return nil
}
