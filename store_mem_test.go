package stepauth

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"
)

// memStore is the in-memory EnrollmentStore used across the engine tests.
// It mirrors the transactional contract with a single mutex.
type memStore struct {
	mu         sync.Mutex
	identities map[string]Identity
	pending    map[string]Enrollment
	active     map[string]Enrollment

	failWith error
}

func newMemStore(identities ...Identity) *memStore {
	s := &memStore{
		identities: make(map[string]Identity, len(identities)),
		pending:    map[string]Enrollment{},
		active:     map[string]Enrollment{},
	}
	for _, identity := range identities {
		s.identities[identity.ID] = identity
	}
	return s
}

func (s *memStore) GetIdentity(_ context.Context, id string) (Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWith != nil {
		return Identity{}, s.failWith
	}
	identity, ok := s.identities[id]
	if !ok {
		return Identity{}, ErrIdentityNotFound
	}
	return identity, nil
}

func (s *memStore) GetEnrollment(_ context.Context, id string) (Enrollment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWith != nil {
		return Enrollment{}, s.failWith
	}
	if enrollment, ok := s.active[id]; ok {
		return enrollment, nil
	}
	if enrollment, ok := s.pending[id]; ok {
		return enrollment, nil
	}
	return Enrollment{Stage: StageDisabled}, nil
}

func (s *memStore) UpsertPending(_ context.Context, id string, secret []byte, codes []string, createdAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWith != nil {
		return s.failWith
	}
	if _, ok := s.identities[id]; !ok {
		return ErrIdentityNotFound
	}
	s.pending[id] = Enrollment{
		Stage:       StagePending,
		Secret:      secret,
		BackupCodes: codes,
		CreatedAt:   createdAt,
	}
	return nil
}

func (s *memStore) ActivatePending(_ context.Context, id string, verifiedSecret []byte, verifiedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWith != nil {
		return s.failWith
	}
	if _, ok := s.active[id]; ok {
		return ErrAlreadyActive
	}
	enrollment, ok := s.pending[id]
	if !ok || !bytes.Equal(enrollment.Secret, verifiedSecret) {
		return ErrSecretNotProvisioned
	}
	delete(s.pending, id)
	enrollment.Stage = StageActive
	enrollment.VerifiedAt = verifiedAt
	s.active[id] = enrollment

	identity := s.identities[id]
	identity.TwoFactorEnabled = true
	s.identities[id] = identity
	return nil
}

func (s *memStore) Disable(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWith != nil {
		return s.failWith
	}
	delete(s.active, id)
	delete(s.pending, id)
	if identity, ok := s.identities[id]; ok {
		identity.TwoFactorEnabled = false
		s.identities[id] = identity
	}
	return nil
}

func (s *memStore) ConsumeBackupCode(_ context.Context, id, code string, usedAt time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWith != nil {
		return false, s.failWith
	}
	enrollment, ok := s.active[id]
	if !ok {
		return false, nil
	}
	matched, remaining := ConsumeBackupCode(enrollment.BackupCodes, code)
	if !matched {
		return false, nil
	}
	enrollment.BackupCodes = remaining
	enrollment.LastUsedAt = usedAt
	s.active[id] = enrollment
	return true, nil
}

func (s *memStore) RecordTOTPUse(_ context.Context, id string, counter int64, usedAt time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWith != nil {
		return false, s.failWith
	}
	enrollment, ok := s.active[id]
	if !ok {
		return false, nil
	}
	if counter <= enrollment.LastUsedCounter {
		return false, nil
	}
	enrollment.LastUsedCounter = counter
	enrollment.LastUsedAt = usedAt
	s.active[id] = enrollment
	return true, nil
}

func (s *memStore) activeEnrollment(id string) (Enrollment, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	enrollment, ok := s.active[id]
	return enrollment, ok
}

func (s *memStore) pendingEnrollment(id string) (Enrollment, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	enrollment, ok := s.pending[id]
	return enrollment, ok
}

func (s *memStore) identity(id string) Identity {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.identities[id]
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Token.Secret = []byte("0123456789abcdef0123456789abcdef")
	cfg.Audit.Enabled = false
	return cfg
}

func newTestEngine(t *testing.T, store EnrollmentStore, mutate ...func(*Config)) *Engine {
	t.Helper()
	cfg := testConfig()
	for _, fn := range mutate {
		fn(&cfg)
	}
	engine, err := New().WithConfig(cfg).WithStore(store).Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	t.Cleanup(engine.Close)
	return engine
}

// totpAt computes the expected code for a secret at a moment, through the
// same HOTP core the engine uses plus an independent check in totp_test.go.
func totpAt(t *testing.T, secret []byte, at time.Time, cfg TOTPConfig) string {
	t.Helper()
	code, err := hotpCode(secret, at.Unix()/int64(cfg.Period), cfg.Digits, cfg.Algorithm)
	if err != nil {
		t.Fatalf("hotpCode: %v", err)
	}
	return code
}
