package fleetauth

import (
	"context"
	"time"
)

// AccountStatus is the lifecycle state of a principal.
type AccountStatus uint8

const (
	// AccountActive is the normal state.
	AccountActive AccountStatus = iota
	// AccountPendingVerification marks an account awaiting email verification.
	AccountPendingVerification
	// AccountDisabled marks an administratively disabled account.
	AccountDisabled
	// AccountLocked marks an account locked by failed MFA attempts. The
	// state is terminal from the login flow's perspective; unlocking belongs
	// to account lifecycle, which is out of this core's scope.
	AccountLocked
)

// Principal is a user identity as persisted by the host application. The
// core reads principals from the [PrincipalStore] and mutates only the MFA
// fields, the failed-MFA counter, and the status.
type Principal struct {
	ID           string
	Email        string
	Name         string
	PasswordHash string
	Role         string
	Status       AccountStatus

	MFAEnabled bool
	// MFASecret is the raw TOTP secret. Present only once MFA has been
	// provisioned; opaque to everything but the OTP engine.
	MFASecret []byte

	FailedMFAAttempts int
	CreatedAt         time.Time
}

// LoginAttempt is an immutable audit record. Append-only; recent failures
// feed the lockout computation.
type LoginAttempt struct {
	// PrincipalID is empty when the submitted email matched no account.
	PrincipalID string
	Address     string
	At          time.Time
	Success     bool
}

// BackupCodeRecord is a single-use recovery code at rest. Only the hash is
// stored; consumption must be atomic per code.
type BackupCodeRecord struct {
	Hash [32]byte
}

// PrincipalStore is the persistence collaborator for principals. Implemented
// by the host application (see store/pg for the reference implementation).
type PrincipalStore interface {
	GetByEmail(ctx context.Context, email string) (*Principal, error)
	GetByID(ctx context.Context, id string) (*Principal, error)

	// SetMFA stages or enables a TOTP secret. A staged secret (enabled ==
	// false) is not yet honored by the login flow.
	SetMFA(ctx context.Context, id string, enabled bool, secret []byte) error
	SetStatus(ctx context.Context, id string, status AccountStatus) error

	// IncrementFailedMFA bumps the failed-MFA counter and returns the new
	// value. ResetFailedMFA zeroes it; the login flow calls it only after a
	// fully successful verification.
	IncrementFailedMFA(ctx context.Context, id string) (int, error)
	ResetFailedMFA(ctx context.Context, id string) error

	ReplaceBackupCodes(ctx context.Context, id string, codes []BackupCodeRecord) error
	GetBackupCodes(ctx context.Context, id string) ([]BackupCodeRecord, error)
	// ConsumeBackupCode removes the code with the given hash and reports
	// whether it existed. The removal must be a single conditional update so
	// that two concurrent presentations of the same code cannot both succeed.
	ConsumeBackupCode(ctx context.Context, id string, hash [32]byte) (bool, error)
}

// LoginAttemptStore appends audit records and answers the lockout query.
type LoginAttemptStore interface {
	Append(ctx context.Context, attempt LoginAttempt) error
	CountRecentFailures(ctx context.Context, principalID string, since time.Time) (int, error)
}

// Mailer delivers account notifications. Calls are fire-and-forget from the
// core's perspective; failures are logged, never surfaced to the login flow.
type Mailer interface {
	AccountLocked(ctx context.Context, email string) error
}

// ClientMeta carries the request-scoped client address and user agent into
// Engine methods.
type ClientMeta struct {
	Address   string
	UserAgent string
}

// LoginState is the position of a login inside the state machine.
type LoginState uint8

const (
	// StateAwaitingCredentials is the initial state.
	StateAwaitingCredentials LoginState = iota
	// StateAwaitingOTP means the password step passed and an OTP challenge
	// is outstanding.
	StateAwaitingOTP
	// StateAuthenticated means the pipeline completed: claims issued,
	// device session registered.
	StateAuthenticated
	// StateLocked is terminal.
	StateLocked
)

func (s LoginState) String() string {
	switch s {
	case StateAwaitingCredentials:
		return "awaiting-credentials"
	case StateAwaitingOTP:
		return "awaiting-otp"
	case StateAuthenticated:
		return "authenticated"
	case StateLocked:
		return "locked"
	default:
		return "unknown"
	}
}

// LoginResult reports the outcome of a state-machine step. State is always
// meaningful; the token fields are set only once State is
// [StateAuthenticated].
type LoginResult struct {
	State       LoginState
	PrincipalID string

	// ChallengeID identifies the outstanding OTP challenge while State is
	// StateAwaitingOTP.
	ChallengeID string
	// OfferBackupCode is set once enough OTP attempts have failed that the
	// caller should surface the backup-code alternative.
	OfferBackupCode bool
	// FailedAttempts mirrors the principal's failed-MFA counter after the
	// step.
	FailedAttempts int

	AccessToken string
	SessionID   string
	ExpiresAt   time.Time
}

// TOTPProvision is returned when staging MFA for a principal. URI is a
// standard otpauth:// URI suitable for QR rendering.
type TOTPProvision struct {
	Secret string
	URI    string
}
