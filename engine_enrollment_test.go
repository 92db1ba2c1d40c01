package stepauth

import (
	"context"
	"encoding/base32"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
)

func provisionAndActivate(t *testing.T, engine *Engine, store *memStore, id string) *ProvisionResult {
	t.Helper()
	ctx := context.Background()

	result, err := engine.Provision(ctx, id)
	if err != nil {
		t.Fatalf("Provision: %v", err)
	}
	enrollment, ok := store.pendingEnrollment(id)
	if !ok {
		t.Fatal("no pending enrollment after Provision")
	}
	code := totpAt(t, enrollment.Secret, time.Now(), engine.config.TOTP)
	if err := engine.Activate(ctx, id, code); err != nil {
		t.Fatalf("Activate: %v", err)
	}
	return result
}

func TestProvision(t *testing.T) {
	store := newMemStore(Identity{ID: "u-1", Email: "writer@example.com", Role: "editor"})
	engine := newTestEngine(t, store)
	ctx := context.Background()

	result, err := engine.Provision(ctx, "u-1")
	if err != nil {
		t.Fatalf("Provision: %v", err)
	}
	if len(result.BackupCodes) != 8 {
		t.Fatalf("got %d backup codes, want 8", len(result.BackupCodes))
	}
	if !strings.Contains(result.OtpauthURI, "secret="+result.Secret) {
		t.Errorf("URI does not carry the secret: %s", result.OtpauthURI)
	}
	if result.AccountLabel != "writer@example.com" {
		t.Errorf("AccountLabel = %q", result.AccountLabel)
	}

	enrollment, ok := store.pendingEnrollment("u-1")
	if !ok || enrollment.Stage != StagePending {
		t.Fatal("expected a pending enrollment")
	}
	decoded, err := base32.StdEncoding.WithPadding(base32.NoPadding).DecodeString(result.Secret)
	if err != nil || string(decoded) != string(enrollment.Secret) {
		t.Fatal("returned secret does not match the stored one")
	}
	if store.identity("u-1").TwoFactorEnabled {
		t.Fatal("provisioning must not enable two-factor")
	}

	if _, err := engine.Provision(ctx, "ghost"); !errors.Is(err, ErrIdentityNotFound) {
		t.Fatalf("unknown identity: got %v, want ErrIdentityNotFound", err)
	}
	if _, err := engine.Provision(ctx, ""); !errors.Is(err, ErrInputInvalid) {
		t.Fatalf("empty id: got %v, want ErrInputInvalid", err)
	}
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) {
	return 0, errors.New("entropy exhausted")
}

func TestProvisionEntropyFailure(t *testing.T) {
	orig := entropy
	entropy = failingReader{}
	defer func() { entropy = orig }()

	store := newMemStore(Identity{ID: "u-1"})
	engine := newTestEngine(t, store)

	_, err := engine.Provision(context.Background(), "u-1")
	if !errors.Is(err, ErrInternal) {
		t.Fatalf("got %v, want ErrInternal", err)
	}
	// A random-source fault is not a backend outage.
	if errors.Is(err, ErrStorageUnavailable) {
		t.Fatal("entropy failure labeled a storage failure")
	}
	if ErrorCode(err) != CodeStorageFailure {
		t.Fatalf("ErrorCode = %q, want the generic %q collapse", ErrorCode(err), CodeStorageFailure)
	}
	if _, ok := store.pendingEnrollment("u-1"); ok {
		t.Fatal("failed provisioning left a pending enrollment")
	}
}

func TestProvisionOverwritesPending(t *testing.T) {
	store := newMemStore(Identity{ID: "u-1"})
	engine := newTestEngine(t, store)
	ctx := context.Background()

	first, err := engine.Provision(ctx, "u-1")
	if err != nil {
		t.Fatalf("first Provision: %v", err)
	}
	second, err := engine.Provision(ctx, "u-1")
	if err != nil {
		t.Fatalf("second Provision: %v", err)
	}
	if first.Secret == second.Secret {
		t.Fatal("re-provision reused the secret")
	}

	// A code for the first, replaced secret must no longer activate.
	firstSecret, _ := base32.StdEncoding.WithPadding(base32.NoPadding).DecodeString(first.Secret)
	staleCode := totpAt(t, firstSecret, time.Now(), engine.config.TOTP)
	err = engine.Activate(ctx, "u-1", staleCode)
	if !errors.Is(err, ErrCodeInvalid) {
		t.Fatalf("stale code: got %v, want ErrCodeInvalid", err)
	}
	if _, ok := store.pendingEnrollment("u-1"); !ok {
		t.Fatal("failed activation dropped the pending enrollment")
	}
}

func TestActivate(t *testing.T) {
	store := newMemStore(Identity{ID: "u-1"})
	engine := newTestEngine(t, store)
	ctx := context.Background()

	if err := engine.Activate(ctx, "u-1", "123456"); !errors.Is(err, ErrSecretNotProvisioned) {
		t.Fatalf("no enrollment: got %v, want ErrSecretNotProvisioned", err)
	}

	if _, err := engine.Provision(ctx, "u-1"); err != nil {
		t.Fatalf("Provision: %v", err)
	}
	enrollment, _ := store.pendingEnrollment("u-1")

	if err := engine.Activate(ctx, "u-1", "000000"); !errors.Is(err, ErrCodeInvalid) {
		t.Fatalf("wrong code: got %v, want ErrCodeInvalid", err)
	}
	if _, ok := store.pendingEnrollment("u-1"); !ok {
		t.Fatal("wrong code consumed the pending enrollment")
	}

	code := totpAt(t, enrollment.Secret, time.Now(), engine.config.TOTP)
	if err := engine.Activate(ctx, "u-1", code); err != nil {
		t.Fatalf("Activate: %v", err)
	}

	active, ok := store.activeEnrollment("u-1")
	if !ok || active.Stage != StageActive {
		t.Fatal("expected an active enrollment")
	}
	if _, ok := store.pendingEnrollment("u-1"); ok {
		t.Fatal("pending enrollment survived activation")
	}
	if !store.identity("u-1").TwoFactorEnabled {
		t.Fatal("identity flag not flipped with activation")
	}

	if err := engine.Activate(ctx, "u-1", code); !errors.Is(err, ErrAlreadyActive) {
		t.Fatalf("second activation: got %v, want ErrAlreadyActive", err)
	}
}

func TestActivateConcurrentSingleWinner(t *testing.T) {
	store := newMemStore(Identity{ID: "u-1"})
	engine := newTestEngine(t, store)
	ctx := context.Background()

	if _, err := engine.Provision(ctx, "u-1"); err != nil {
		t.Fatalf("Provision: %v", err)
	}
	enrollment, _ := store.pendingEnrollment("u-1")
	code := totpAt(t, enrollment.Secret, time.Now(), engine.config.TOTP)

	const workers = 16
	results := make(chan error, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- engine.Activate(ctx, "u-1", code)
		}()
	}
	wg.Wait()
	close(results)

	winners, losers := 0, 0
	for err := range results {
		switch {
		case err == nil:
			winners++
		case errors.Is(err, ErrAlreadyActive):
			losers++
		default:
			t.Fatalf("unexpected activation outcome: %v", err)
		}
	}
	if winners != 1 {
		t.Fatalf("got %d winners, want exactly 1", winners)
	}
	if losers != workers-1 {
		t.Fatalf("got %d losers, want %d", losers, workers-1)
	}
}

func TestDisable(t *testing.T) {
	store := newMemStore(Identity{ID: "u-1"})
	engine := newTestEngine(t, store)
	ctx := context.Background()

	// Disabling a never-enrolled identity succeeds.
	if err := engine.Disable(ctx, "u-1"); err != nil {
		t.Fatalf("Disable on clean identity: %v", err)
	}

	provisionAndActivate(t, engine, store, "u-1")
	if err := engine.Disable(ctx, "u-1"); err != nil {
		t.Fatalf("Disable: %v", err)
	}
	if _, ok := store.activeEnrollment("u-1"); ok {
		t.Fatal("active enrollment survived Disable")
	}
	if store.identity("u-1").TwoFactorEnabled {
		t.Fatal("identity flag not cleared with Disable")
	}

	// The lifecycle is closed: the identity can re-enroll from scratch.
	provisionAndActivate(t, engine, store, "u-1")
	if !store.identity("u-1").TwoFactorEnabled {
		t.Fatal("re-enrollment after Disable failed")
	}
}

func TestVerifyForLoginTOTP(t *testing.T) {
	store := newMemStore(Identity{ID: "u-1"})
	engine := newTestEngine(t, store)
	ctx := context.Background()

	if err := engine.VerifyForLogin(ctx, "u-1", "123456"); !errors.Is(err, ErrSecretNotProvisioned) {
		t.Fatalf("no enrollment: got %v, want ErrSecretNotProvisioned", err)
	}

	provisionAndActivate(t, engine, store, "u-1")
	enrollment, _ := store.activeEnrollment("u-1")

	code := totpAt(t, enrollment.Secret, time.Now(), engine.config.TOTP)
	if err := engine.VerifyForLogin(ctx, "u-1", code); err != nil {
		t.Fatalf("VerifyForLogin: %v", err)
	}

	for _, bad := range []string{"000000", "", "letters", "12345"} {
		if err := engine.VerifyForLogin(ctx, "u-1", bad); !errors.Is(err, ErrCodeInvalid) {
			t.Fatalf("VerifyForLogin(%q): got %v, want ErrCodeInvalid", bad, err)
		}
	}
}

func TestVerifyForLoginReplay(t *testing.T) {
	store := newMemStore(Identity{ID: "u-1"})
	engine := newTestEngine(t, store, func(cfg *Config) {
		cfg.TOTP.EnforceReplayProtection = true
	})
	ctx := context.Background()

	provisionAndActivate(t, engine, store, "u-1")
	enrollment, _ := store.activeEnrollment("u-1")
	code := totpAt(t, enrollment.Secret, time.Now(), engine.config.TOTP)

	if err := engine.VerifyForLogin(ctx, "u-1", code); err != nil {
		t.Fatalf("first use: %v", err)
	}
	if err := engine.VerifyForLogin(ctx, "u-1", code); !errors.Is(err, ErrCodeInvalid) {
		t.Fatalf("replay: got %v, want ErrCodeInvalid", err)
	}
}

func TestVerifyForLoginReplayAllowedByDefault(t *testing.T) {
	store := newMemStore(Identity{ID: "u-1"})
	engine := newTestEngine(t, store)
	ctx := context.Background()

	provisionAndActivate(t, engine, store, "u-1")
	enrollment, _ := store.activeEnrollment("u-1")
	code := totpAt(t, enrollment.Secret, time.Now(), engine.config.TOTP)

	for i := 0; i < 2; i++ {
		if err := engine.VerifyForLogin(ctx, "u-1", code); err != nil {
			t.Fatalf("use %d: %v", i+1, err)
		}
	}
}

func TestVerifyForLoginBackupCode(t *testing.T) {
	store := newMemStore(Identity{ID: "u-1"})
	engine := newTestEngine(t, store)
	ctx := context.Background()

	result := provisionAndActivate(t, engine, store, "u-1")
	backup := result.BackupCodes[0]

	// Lowercase input with a separator still matches after canonicalization.
	messy := strings.ToLower(backup[:4] + "-" + backup[4:])
	if err := engine.VerifyForLogin(ctx, "u-1", messy); err != nil {
		t.Fatalf("backup code: %v", err)
	}

	// Single use.
	if err := engine.VerifyForLogin(ctx, "u-1", backup); !errors.Is(err, ErrCodeInvalid) {
		t.Fatalf("reused backup code: got %v, want ErrCodeInvalid", err)
	}

	enrollment, _ := store.activeEnrollment("u-1")
	if len(enrollment.BackupCodes) != len(result.BackupCodes)-1 {
		t.Fatalf("remaining codes = %d, want %d", len(enrollment.BackupCodes), len(result.BackupCodes)-1)
	}

	// The remaining codes still work.
	if err := engine.VerifyForLogin(ctx, "u-1", result.BackupCodes[1]); err != nil {
		t.Fatalf("second backup code: %v", err)
	}
}

func TestVerifyForLoginStorageFailure(t *testing.T) {
	store := newMemStore(Identity{ID: "u-1"})
	engine := newTestEngine(t, store)
	ctx := context.Background()

	provisionAndActivate(t, engine, store, "u-1")
	store.failWith = errors.New("connection refused")

	err := engine.VerifyForLogin(ctx, "u-1", "123456")
	if !errors.Is(err, ErrStorageUnavailable) {
		t.Fatalf("got %v, want ErrStorageUnavailable", err)
	}
	if ErrorCode(err) != CodeStorageFailure {
		t.Fatalf("ErrorCode = %q, want %q", ErrorCode(err), CodeStorageFailure)
	}
}
