package stepauth

import (
	"context"
	"time"
)

// Identity is the slice of a user account this engine reads. The account
// itself is owned by external user management; the engine only observes it
// and flips TwoFactorEnabled through the store's transactional operations.
type Identity struct {
	ID               string
	Email            string
	Role             string
	TwoFactorEnabled bool
}

// EnrollmentStage is the lifecycle stage of an identity's two-factor
// enrollment. Modeling the stage explicitly keeps illegal combinations
// (pending and active at once) unrepresentable in engine code.
type EnrollmentStage uint8

const (
	// StageDisabled means no enrollment exists.
	StageDisabled EnrollmentStage = iota
	// StagePending means a secret was provisioned but never confirmed.
	StagePending
	// StageActive means two-factor is enabled and enforced at login.
	StageActive
)

func (s EnrollmentStage) String() string {
	switch s {
	case StagePending:
		return "pending"
	case StageActive:
		return "active"
	default:
		return "disabled"
	}
}

// Enrollment is the tagged union over the enrollment lifecycle. Secret and
// BackupCodes are set for StagePending and StageActive; CreatedAt only for
// StagePending; VerifiedAt, LastUsedAt, and LastUsedCounter only for
// StageActive.
type Enrollment struct {
	Stage           EnrollmentStage
	Secret          []byte
	BackupCodes     []string
	CreatedAt       time.Time
	VerifiedAt      time.Time
	LastUsedAt      time.Time
	LastUsedCounter int64
}

// ProvisionResult is returned once, at provisioning time. The secret and
// backup codes are never readable again through the API.
type ProvisionResult struct {
	// Secret is the base32-encoded shared secret, suitable for manual entry.
	Secret string
	// OtpauthURI is the canonical otpauth:// provisioning URI for QR
	// rendering, which is delegated to the caller.
	OtpauthURI string
	// Issuer and AccountLabel are the raw URI inputs for callers that
	// render their own label.
	Issuer       string
	AccountLabel string
	// BackupCodes are the single-use fallback codes, shown to the user
	// exactly once.
	BackupCodes []string
}

// EnrollmentStore is the persistence boundary. Implementations must make
// every mutating operation atomic per identity: concurrent ActivatePending
// calls admit exactly one winner, Disable leaves no partial state, and two
// ConsumeBackupCode calls can never both consume the same code.
//
// Error contract: GetIdentity returns [ErrIdentityNotFound] for unknown
// identities; ActivatePending returns [ErrAlreadyActive] when an active
// credential already exists and [ErrSecretNotProvisioned] when no matching
// pending enrollment does; every backend failure is wrapped with
// [ErrStorageUnavailable].
type EnrollmentStore interface {
	GetIdentity(ctx context.Context, identityID string) (Identity, error)

	// GetEnrollment returns the current lifecycle union for the identity.
	// An identity with no rows yields Stage == StageDisabled and a nil
	// error.
	GetEnrollment(ctx context.Context, identityID string) (Enrollment, error)

	// UpsertPending creates or overwrites the single pending enrollment
	// for the identity. It never touches active state.
	UpsertPending(ctx context.Context, identityID string, secret []byte, backupCodes []string, createdAt time.Time) error

	// ActivatePending atomically moves the pending enrollment to active,
	// deletes the pending row, and sets Identity.TwoFactorEnabled, all in
	// one transaction. verifiedSecret must equal the stored pending secret
	// (it is the secret the caller just verified a code against), so a
	// concurrent re-provision between load and activation loses cleanly.
	ActivatePending(ctx context.Context, identityID string, verifiedSecret []byte, verifiedAt time.Time) error

	// Disable atomically deletes any active credential and clears
	// Identity.TwoFactorEnabled. Disabling an already-disabled identity
	// succeeds.
	Disable(ctx context.Context, identityID string) error

	// ConsumeBackupCode removes canonicalCode from the active credential's
	// remaining set and stamps last-used, serialized per identity. It
	// reports false, without mutating anything, when the code is absent.
	ConsumeBackupCode(ctx context.Context, identityID, canonicalCode string, usedAt time.Time) (bool, error)

	// RecordTOTPUse stamps last-used and advances the last accepted
	// time-step counter. It reports false when counter does not exceed the
	// stored value, leaving the stored counter untouched; the engine
	// treats that as a replay when enforcement is on.
	RecordTOTPUse(ctx context.Context, identityID string, counter int64, usedAt time.Time) (bool, error)
}
