package fleetauth

import (
	"errors"
	"time"
)

// Config carries every tunable of the authentication core. Zero values are
// filled in by defaultConfig; Validate rejects combinations that would
// silently weaken the pipeline.
type Config struct {
	JWT       JWTConfig
	TOTP      TOTPConfig
	Challenge ChallengeConfig
	Lockout   LockoutConfig
	Session   SessionConfig
	Password  PasswordConfig
}

// JWTConfig controls access-token issuance. Tokens are signed with a
// server-held symmetric key; the validity window is fixed here, never by
// the caller.
type JWTConfig struct {
	SigningKey []byte
	AccessTTL  time.Duration
	Issuer     string
	Leeway     time.Duration
}

// TOTPConfig controls one-time code generation and verification.
type TOTPConfig struct {
	Issuer    string
	Digits    int
	Period    int
	Algorithm string
	// Skew is the number of adjacent time steps accepted on either side of
	// the current one, tolerating client clock drift.
	Skew int

	BackupCodeCount  int
	BackupCodeLength int
}

// ChallengeConfig bounds the credential-to-OTP handoff.
type ChallengeConfig struct {
	// TTL is the OTP challenge window measured from challenge issuance. An
	// expired challenge forces a return to the credential step.
	TTL time.Duration
	// MaxFailures locks the account once the principal's failed-MFA counter
	// reaches it.
	MaxFailures int
	// BackupOfferThreshold is the failed-attempt count at which the caller
	// is told to offer the backup-code alternative.
	BackupOfferThreshold int
}

// LockoutConfig derives account lockout from the append-only login-attempt
// record.
type LockoutConfig struct {
	MaxFailures int
	Window      time.Duration
}

// SessionConfig controls the device-session registry.
type SessionConfig struct {
	TTL time.Duration
	// RememberTTL is used instead of TTL when the login carried the
	// "remember me" preference.
	RememberTTL time.Duration
}

// PasswordConfig tunes argon2id hashing for new password material.
type PasswordConfig struct {
	Memory      uint32
	Time        uint32
	Parallelism uint8
}

// DefaultConfig returns the documented defaults: 5-minute OTP challenges,
// lock at 10 failed MFA attempts, backup-code offer at 3, 15-second breaker
// probes, 30-minute access tokens.
func DefaultConfig() Config {
	return defaultConfig()
}

func defaultConfig() Config {
	return Config{
		JWT: JWTConfig{
			AccessTTL: 30 * time.Minute,
			Issuer:    "fleetdesk",
			Leeway:    30 * time.Second,
		},
		TOTP: TOTPConfig{
			Issuer:           "fleetdesk",
			Digits:           6,
			Period:           30,
			Algorithm:        "SHA1",
			Skew:             1,
			BackupCodeCount:  8,
			BackupCodeLength: 10,
		},
		Challenge: ChallengeConfig{
			TTL:                  5 * time.Minute,
			MaxFailures:          10,
			BackupOfferThreshold: 3,
		},
		Lockout: LockoutConfig{
			MaxFailures: 5,
			Window:      15 * time.Minute,
		},
		Session: SessionConfig{
			TTL:         12 * time.Hour,
			RememberTTL: 30 * 24 * time.Hour,
		},
		Password: PasswordConfig{
			Memory:      64 * 1024,
			Time:        2,
			Parallelism: 2,
		},
	}
}

// Validate checks invariants that misconfiguration would otherwise turn into
// silent security regressions at runtime.
func (c Config) Validate() error {
	if len(c.JWT.SigningKey) < 16 {
		return errors.New("jwt signing key must be at least 16 bytes")
	}
	if c.JWT.AccessTTL <= 0 {
		return errors.New("jwt access ttl must be positive")
	}
	if c.JWT.Leeway < 0 || c.JWT.Leeway > 2*time.Minute {
		return errors.New("jwt leeway out of range")
	}
	if c.TOTP.Digits < 6 || c.TOTP.Digits > 8 {
		return errors.New("totp digits must be 6..8")
	}
	if c.TOTP.Period <= 0 {
		return errors.New("totp period must be positive")
	}
	if c.TOTP.Skew < 0 || c.TOTP.Skew > 2 {
		return errors.New("totp skew must be 0..2")
	}
	if c.TOTP.BackupCodeCount < 4 || c.TOTP.BackupCodeCount > 16 {
		return errors.New("backup code count must be 4..16")
	}
	if c.TOTP.BackupCodeLength < 8 || c.TOTP.BackupCodeLength > 24 {
		return errors.New("backup code length must be 8..24")
	}
	if c.Challenge.TTL <= 0 {
		return errors.New("challenge ttl must be positive")
	}
	if c.Challenge.MaxFailures <= 0 {
		return errors.New("challenge max failures must be positive")
	}
	if c.Challenge.BackupOfferThreshold <= 0 ||
		c.Challenge.BackupOfferThreshold >= c.Challenge.MaxFailures {
		return errors.New("backup offer threshold must sit below max failures")
	}
	if c.Lockout.MaxFailures <= 0 || c.Lockout.Window <= 0 {
		return errors.New("lockout thresholds must be positive")
	}
	if c.Session.TTL <= 0 {
		return errors.New("session ttl must be positive")
	}
	if c.Session.RememberTTL < c.Session.TTL {
		return errors.New("remember-me ttl must not undercut the session ttl")
	}
	return nil
}
