package fleetauth

import "context"

// RegenerateBackupCodes replaces the principal's backup codes with a fresh
// set. Regeneration requires a live TOTP code: a session alone must not be
// able to mint recovery material.
func (e *Engine) RegenerateBackupCodes(ctx context.Context, principalID, totpCode string) ([]string, error) {
	if err := e.VerifyTOTP(ctx, principalID, totpCode); err != nil {
		return nil, err
	}
	return e.generateBackupCodes(ctx, principalID)
}

// VerifyBackupCode consumes a backup code outside the login flow. Each code
// is usable exactly once; consumption is atomic at the storage layer.
func (e *Engine) VerifyBackupCode(ctx context.Context, principalID, code string) error {
	if e == nil || e.principals == nil {
		return ErrEngineNotReady
	}
	records, err := e.principals.GetBackupCodes(ctx, principalID)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		return ErrBackupCodesNotConfigured
	}

	ok, err := e.consumeBackupCode(ctx, principalID, code)
	if err != nil {
		return err
	}
	if !ok {
		return ErrBackupCodeInvalid
	}
	return nil
}

func (e *Engine) generateBackupCodes(ctx context.Context, principalID string) ([]string, error) {
	count := e.config.TOTP.BackupCodeCount
	length := e.config.TOTP.BackupCodeLength

	codes := make([]string, 0, count)
	records := make([]BackupCodeRecord, 0, count)
	for i := 0; i < count; i++ {
		raw, err := newBackupCode(length)
		if err != nil {
			return nil, err
		}
		records = append(records, BackupCodeRecord{Hash: backupCodeHash(principalID, raw)})
		codes = append(codes, formatBackupCode(raw))
	}

	if err := e.principals.ReplaceBackupCodes(ctx, principalID, records); err != nil {
		return nil, err
	}
	return codes, nil
}
