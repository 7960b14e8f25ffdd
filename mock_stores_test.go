package fleetauth

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

// mockPrincipalStore is an in-memory PrincipalStore with the same atomicity
// guarantees the real store provides: counter increments and backup-code
// consumption hold a lock across read-check-write.
type mockPrincipalStore struct {
	mu          sync.Mutex
	principals  map[string]*Principal
	byEmail     map[string]string
	backupCodes map[string]map[[32]byte]struct{}
}

func newMockPrincipalStore() *mockPrincipalStore {
	return &mockPrincipalStore{
		principals:  map[string]*Principal{},
		byEmail:     map[string]string{},
		backupCodes: map[string]map[[32]byte]struct{}{},
	}
}

func (s *mockPrincipalStore) put(p *Principal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *p
	s.principals[p.ID] = &cp
	s.byEmail[p.Email] = p.ID
}

func (s *mockPrincipalStore) get(id string) *Principal {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.principals[id]; ok {
		cp := *p
		return &cp
	}
	return nil
}

func (s *mockPrincipalStore) GetByEmail(_ context.Context, email string) (*Principal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byEmail[email]
	if !ok {
		return nil, ErrPrincipalNotFound
	}
	cp := *s.principals[id]
	return &cp, nil
}

func (s *mockPrincipalStore) GetByID(_ context.Context, id string) (*Principal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.principals[id]
	if !ok {
		return nil, ErrPrincipalNotFound
	}
	cp := *p
	return &cp, nil
}

func (s *mockPrincipalStore) SetMFA(_ context.Context, id string, enabled bool, secret []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.principals[id]
	if !ok {
		return ErrPrincipalNotFound
	}
	p.MFAEnabled = enabled
	p.MFASecret = secret
	return nil
}

func (s *mockPrincipalStore) SetStatus(_ context.Context, id string, status AccountStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.principals[id]
	if !ok {
		return ErrPrincipalNotFound
	}
	p.Status = status
	return nil
}

func (s *mockPrincipalStore) IncrementFailedMFA(_ context.Context, id string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.principals[id]
	if !ok {
		return 0, ErrPrincipalNotFound
	}
	p.FailedMFAAttempts++
	return p.FailedMFAAttempts, nil
}

func (s *mockPrincipalStore) ResetFailedMFA(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.principals[id]
	if !ok {
		return ErrPrincipalNotFound
	}
	p.FailedMFAAttempts = 0
	return nil
}

func (s *mockPrincipalStore) ReplaceBackupCodes(_ context.Context, id string, codes []BackupCodeRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	set := map[[32]byte]struct{}{}
	for _, code := range codes {
		set[code.Hash] = struct{}{}
	}
	s.backupCodes[id] = set
	return nil
}

func (s *mockPrincipalStore) GetBackupCodes(_ context.Context, id string) ([]BackupCodeRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var records []BackupCodeRecord
	for hash := range s.backupCodes[id] {
		records = append(records, BackupCodeRecord{Hash: hash})
	}
	return records, nil
}

func (s *mockPrincipalStore) ConsumeBackupCode(_ context.Context, id string, hash [32]byte) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	set, ok := s.backupCodes[id]
	if !ok {
		return false, nil
	}
	if _, ok := set[hash]; !ok {
		return false, nil
	}
	delete(set, hash)
	return true, nil
}

type mockAttemptStore struct {
	mu       sync.Mutex
	attempts []LoginAttempt
}

func (s *mockAttemptStore) Append(_ context.Context, attempt LoginAttempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts = append(s.attempts, attempt)
	return nil
}

func (s *mockAttemptStore) CountRecentFailures(_ context.Context, principalID string, since time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, a := range s.attempts {
		if a.PrincipalID == principalID && !a.Success && !a.At.Before(since) {
			count++
		}
	}
	return count, nil
}

func (s *mockAttemptStore) all() []LoginAttempt {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]LoginAttempt(nil), s.attempts...)
}

type mockMailer struct {
	mu     sync.Mutex
	locked []string
}

func (m *mockMailer) AccountLocked(_ context.Context, email string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.locked = append(m.locked, email)
	return nil
}

func testConfig() Config {
	cfg := defaultConfig()
	cfg.JWT.SigningKey = []byte("test-signing-key-0123456789")
	return cfg
}

func newTestEngine(t *testing.T, cfg Config, principals PrincipalStore, attempts LoginAttemptStore) (*Engine, *redis.Client, func()) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	engine, err := New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithPrincipalStore(principals).
		WithLoginAttemptStore(attempts).
		Build()
	if err != nil {
		mr.Close()
		t.Fatalf("Build failed: %v", err)
	}

	return engine, rdb, func() { rdb.Close(); mr.Close() }
}

// seedPrincipal stores a principal with the given password already hashed.
func seedPrincipal(t *testing.T, e *Engine, store *mockPrincipalStore, p Principal, plaintext string) {
	t.Helper()
	hash, err := e.passwordHash.Hash(plaintext)
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	p.PasswordHash = hash
	store.put(&p)
}
