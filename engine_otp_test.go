package fleetauth

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// startMFALogin seeds an MFA-enabled principal, runs the password step, and
// returns the challenge id the OTP step needs.
func startMFALogin(t *testing.T, engine *Engine, principals *mockPrincipalStore, secret []byte) string {
	t.Helper()
	seedPrincipal(t, engine, principals, Principal{
		ID:         "p-1",
		Email:      "driver@fleetdesk.example",
		Role:       "driver",
		MFAEnabled: true,
		MFASecret:  secret,
	}, "correct-horse")

	result, err := engine.Authenticate(context.Background(), "driver@fleetdesk.example", "correct-horse", false, testMeta)
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if result.State != StateAwaitingOTP {
		t.Fatalf("expected StateAwaitingOTP, got %v", result.State)
	}
	return result.ChallengeID
}

func TestConfirmOTPSuccess(t *testing.T) {
	principals := newMockPrincipalStore()
	engine, _, done := newTestEngine(t, testConfig(), principals, &mockAttemptStore{})
	defer done()

	secret := []byte("12345678901234567890")
	challengeID := startMFALogin(t, engine, principals, secret)

	code := codeAt(t, secret, engine.config.TOTP, time.Now(), 0)
	result, err := engine.ConfirmOTP(context.Background(), challengeID, code, testMeta)
	if err != nil {
		t.Fatalf("ConfirmOTP: %v", err)
	}
	if result.State != StateAuthenticated {
		t.Fatalf("expected StateAuthenticated, got %v", result.State)
	}
	if result.AccessToken == "" || result.SessionID == "" {
		t.Fatal("authenticated result must carry token and session id")
	}

	claims, err := engine.ParseAccessToken(result.AccessToken)
	if err != nil {
		t.Fatalf("ParseAccessToken: %v", err)
	}
	if !claims.MFACompleted {
		t.Fatal("mfa claim must be set after OTP verification")
	}

	if _, err := engine.SessionByID(context.Background(), result.SessionID); err != nil {
		t.Fatalf("session lookup: %v", err)
	}
}

func TestConfirmOTPRejectsWrongCodeAndCounts(t *testing.T) {
	principals := newMockPrincipalStore()
	engine, _, done := newTestEngine(t, testConfig(), principals, &mockAttemptStore{})
	defer done()

	secret := []byte("12345678901234567890")
	challengeID := startMFALogin(t, engine, principals, secret)

	wrong := codeAt(t, secret, engine.config.TOTP, time.Now(), 5)
	result, err := engine.ConfirmOTP(context.Background(), challengeID, wrong, testMeta)
	if !errors.Is(err, ErrOTPInvalid) {
		t.Fatalf("expected ErrOTPInvalid, got %v", err)
	}
	if result.State != StateAwaitingOTP {
		t.Fatalf("expected StateAwaitingOTP, got %v", result.State)
	}
	if result.FailedAttempts != 1 {
		t.Fatalf("expected counter 1, got %d", result.FailedAttempts)
	}
	if result.OfferBackupCode {
		t.Fatal("backup-code offer must not appear on the first failure")
	}

	if got := principals.get("p-1").FailedMFAAttempts; got != 1 {
		t.Fatalf("persisted counter = %d, want 1", got)
	}
}

func TestConfirmOTPOffersBackupCodesAtThreshold(t *testing.T) {
	principals := newMockPrincipalStore()
	engine, _, done := newTestEngine(t, testConfig(), principals, &mockAttemptStore{})
	defer done()

	secret := []byte("12345678901234567890")
	challengeID := startMFALogin(t, engine, principals, secret)

	wrong := codeAt(t, secret, engine.config.TOTP, time.Now(), 5)
	threshold := engine.config.Challenge.BackupOfferThreshold
	for i := 1; i <= threshold; i++ {
		result, err := engine.ConfirmOTP(context.Background(), challengeID, wrong, testMeta)
		if !errors.Is(err, ErrOTPInvalid) {
			t.Fatalf("attempt %d: expected ErrOTPInvalid, got %v", i, err)
		}
		want := i >= threshold
		if result.OfferBackupCode != want {
			t.Fatalf("attempt %d: OfferBackupCode = %v, want %v", i, result.OfferBackupCode, want)
		}
		if result.State != StateAwaitingOTP {
			t.Fatalf("attempt %d: expected StateAwaitingOTP, got %v", i, result.State)
		}
	}
}

func TestConfirmOTPLocksAtMaxFailures(t *testing.T) {
	principals := newMockPrincipalStore()
	engine, _, done := newTestEngine(t, testConfig(), principals, &mockAttemptStore{})
	defer done()

	secret := []byte("12345678901234567890")
	challengeID := startMFALogin(t, engine, principals, secret)

	wrong := codeAt(t, secret, engine.config.TOTP, time.Now(), 5)
	max := engine.config.Challenge.MaxFailures

	for i := 1; i < max; i++ {
		result, err := engine.ConfirmOTP(context.Background(), challengeID, wrong, testMeta)
		if !errors.Is(err, ErrOTPInvalid) {
			t.Fatalf("attempt %d: expected ErrOTPInvalid, got %v", i, err)
		}
		if result.State != StateAwaitingOTP {
			t.Fatalf("attempt %d: still expected StateAwaitingOTP, got %v", i, result.State)
		}
	}

	result, err := engine.ConfirmOTP(context.Background(), challengeID, wrong, testMeta)
	if !errors.Is(err, ErrMFAAttemptsExceeded) {
		t.Fatalf("attempt %d: expected ErrMFAAttemptsExceeded, got %v", max, err)
	}
	if result.State != StateLocked {
		t.Fatalf("expected StateLocked, got %v", result.State)
	}

	if principals.get("p-1").Status != AccountLocked {
		t.Fatal("principal status must be Locked")
	}

	// Once locked, even the correct code is refused and the challenge is gone.
	good := codeAt(t, secret, engine.config.TOTP, time.Now(), 0)
	if _, err := engine.ConfirmOTP(context.Background(), challengeID, good, testMeta); err == nil {
		t.Fatal("locked account must not pass OTP")
	}
}

func TestConfirmOTPResetsCounterOnSuccess(t *testing.T) {
	principals := newMockPrincipalStore()
	engine, _, done := newTestEngine(t, testConfig(), principals, &mockAttemptStore{})
	defer done()

	secret := []byte("12345678901234567890")
	challengeID := startMFALogin(t, engine, principals, secret)

	wrong := codeAt(t, secret, engine.config.TOTP, time.Now(), 5)
	for i := 0; i < 4; i++ {
		if _, err := engine.ConfirmOTP(context.Background(), challengeID, wrong, testMeta); !errors.Is(err, ErrOTPInvalid) {
			t.Fatalf("expected ErrOTPInvalid, got %v", err)
		}
	}

	good := codeAt(t, secret, engine.config.TOTP, time.Now(), 0)
	result, err := engine.ConfirmOTP(context.Background(), challengeID, good, testMeta)
	if err != nil {
		t.Fatalf("ConfirmOTP: %v", err)
	}
	if result.State != StateAuthenticated {
		t.Fatalf("expected StateAuthenticated, got %v", result.State)
	}

	if got := principals.get("p-1").FailedMFAAttempts; got != 0 {
		t.Fatalf("counter must reset on success, got %d", got)
	}
}

func TestConfirmOTPExpiredChallenge(t *testing.T) {
	principals := newMockPrincipalStore()
	engine, _, done := newTestEngine(t, testConfig(), principals, &mockAttemptStore{})
	defer done()

	secret := []byte("12345678901234567890")
	seedPrincipal(t, engine, principals, Principal{
		ID:         "p-1",
		Email:      "driver@fleetdesk.example",
		MFAEnabled: true,
		MFASecret:  secret,
	}, "correct-horse")

	record := &loginChallenge{
		PrincipalID: "p-1",
		ExpiresAt:   time.Now().Add(-time.Minute).Unix(),
	}
	if err := engine.challenges.Save(context.Background(), "stale", record, time.Minute); err != nil {
		t.Fatalf("Save: %v", err)
	}

	good := codeAt(t, secret, engine.config.TOTP, time.Now(), 0)
	result, err := engine.ConfirmOTP(context.Background(), "stale", good, testMeta)
	if !errors.Is(err, ErrChallengeExpired) {
		t.Fatalf("expected ErrChallengeExpired, got %v", err)
	}
	if result.State != StateAwaitingCredentials {
		t.Fatalf("expected a restart from StateAwaitingCredentials, got %v", result.State)
	}
}

func TestConfirmOTPChallengeIsSingleUse(t *testing.T) {
	principals := newMockPrincipalStore()
	engine, _, done := newTestEngine(t, testConfig(), principals, &mockAttemptStore{})
	defer done()

	secret := []byte("12345678901234567890")
	challengeID := startMFALogin(t, engine, principals, secret)

	good := codeAt(t, secret, engine.config.TOTP, time.Now(), 0)
	if _, err := engine.ConfirmOTP(context.Background(), challengeID, good, testMeta); err != nil {
		t.Fatalf("first ConfirmOTP: %v", err)
	}
	if _, err := engine.ConfirmOTP(context.Background(), challengeID, good, testMeta); !errors.Is(err, ErrChallengeInvalid) {
		t.Fatalf("expected ErrChallengeInvalid on replay, got %v", err)
	}
}

func TestConfirmOTPBypassFollowsPersistedFlag(t *testing.T) {
	principals := newMockPrincipalStore()
	engine, _, done := newTestEngine(t, testConfig(), principals, &mockAttemptStore{})
	defer done()

	secret := []byte("12345678901234567890")
	challengeID := startMFALogin(t, engine, principals, secret)

	// MFA is switched off after the challenge was issued. The OTP step must
	// honor the row as persisted now: complete the login without a code.
	if err := principals.SetMFA(context.Background(), "p-1", false, nil); err != nil {
		t.Fatalf("SetMFA: %v", err)
	}

	result, err := engine.ConfirmOTP(context.Background(), challengeID, "", testMeta)
	if err != nil {
		t.Fatalf("ConfirmOTP: %v", err)
	}
	if result.State != StateAuthenticated {
		t.Fatalf("expected StateAuthenticated, got %v", result.State)
	}
}

func TestConfirmOTPAcceptsBackupCode(t *testing.T) {
	principals := newMockPrincipalStore()
	engine, _, done := newTestEngine(t, testConfig(), principals, &mockAttemptStore{})
	defer done()

	secret := []byte("12345678901234567890")
	challengeID := startMFALogin(t, engine, principals, secret)

	codes, err := engine.generateBackupCodes(context.Background(), "p-1")
	if err != nil {
		t.Fatalf("generateBackupCodes: %v", err)
	}

	result, err := engine.ConfirmOTP(context.Background(), challengeID, codes[0], testMeta)
	if err != nil {
		t.Fatalf("ConfirmOTP with backup code: %v", err)
	}
	if result.State != StateAuthenticated {
		t.Fatalf("expected StateAuthenticated, got %v", result.State)
	}

	// The consumed code is dead even for a fresh login.
	challengeID = startMFALogin(t, engine, principals, secret)
	if _, err := engine.ConfirmOTP(context.Background(), challengeID, codes[0], testMeta); !errors.Is(err, ErrBackupCodeInvalid) {
		t.Fatalf("expected ErrBackupCodeInvalid on reuse, got %v", err)
	}
}

func TestBackupCodeConsumptionRaces(t *testing.T) {
	principals := newMockPrincipalStore()
	engine, _, done := newTestEngine(t, testConfig(), principals, &mockAttemptStore{})
	defer done()

	principals.put(&Principal{ID: "p-1", Email: "driver@fleetdesk.example"})
	codes, err := engine.generateBackupCodes(context.Background(), "p-1")
	if err != nil {
		t.Fatalf("generateBackupCodes: %v", err)
	}

	var wg sync.WaitGroup
	results := make([]bool, 2)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ok, err := engine.consumeBackupCode(context.Background(), "p-1", codes[0])
			if err != nil {
				t.Errorf("consumeBackupCode: %v", err)
				return
			}
			results[i] = ok
		}(i)
	}
	wg.Wait()

	if results[0] == results[1] {
		t.Fatalf("exactly one concurrent consumption must win, got %v and %v", results[0], results[1])
	}
}
