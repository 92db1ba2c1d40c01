package stepauth

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Provision generates a fresh shared secret and backup-code set for the
// identity and upserts them as a pending enrollment. Re-provisioning
// overwrites any earlier pending record; active credentials and the
// identity's two-factor flag are untouched. The returned secret and codes
// are shown to the user once and never readable again.
func (e *Engine) Provision(ctx context.Context, identityID string) (*ProvisionResult, error) {
	if e == nil || e.store == nil || e.totp == nil {
		return nil, ErrEngineNotReady
	}
	if identityID == "" {
		return nil, ErrInputInvalid
	}

	identity, err := e.store.GetIdentity(ctx, identityID)
	if err != nil {
		return nil, e.storageFail(ctx, identityID, err)
	}

	secretRaw, secretBase32, err := e.totp.GenerateSecret()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInternal, err)
	}
	codes, err := generateBackupCodes(e.config.Backup.Count, e.config.Backup.Length)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInternal, err)
	}

	if err := e.store.UpsertPending(ctx, identityID, secretRaw, codes, time.Now()); err != nil {
		return nil, e.storageFail(ctx, identityID, err)
	}

	account := identity.Email
	if account == "" {
		account = identity.ID
	}

	e.metricInc(MetricProvision)
	e.emitAudit(ctx, auditEventEnrollmentProvisioned, true, identityID, nil, nil)

	return &ProvisionResult{
		Secret:       secretBase32,
		OtpauthURI:   e.totp.ProvisionURI(secretBase32, account),
		Issuer:       e.config.TOTP.Issuer,
		AccountLabel: account,
		BackupCodes:  codes,
	}, nil
}

// Activate confirms the pending enrollment by verifying submittedCode
// against the pending secret, then atomically promotes it to an active
// credential and enables two-factor on the identity. A verification
// failure leaves the pending enrollment intact for a retry; losing an
// activation race yields the benign [ErrAlreadyActive].
func (e *Engine) Activate(ctx context.Context, identityID, submittedCode string) error {
	if e == nil || e.store == nil || e.totp == nil {
		return ErrEngineNotReady
	}
	if identityID == "" {
		return ErrInputInvalid
	}

	enrollment, err := e.store.GetEnrollment(ctx, identityID)
	if err != nil {
		return e.storageFail(ctx, identityID, err)
	}
	switch enrollment.Stage {
	case StagePending:
	case StageActive:
		return ErrAlreadyActive
	default:
		return ErrSecretNotProvisioned
	}

	ok, _, verr := e.totp.Verify(enrollment.Secret, submittedCode, time.Now())
	if verr != nil {
		return fmt.Errorf("%w: %v", ErrInternal, verr)
	}
	if !ok {
		e.metricInc(MetricActivationFailure)
		e.emitAudit(ctx, auditEventActivationRejected, false, identityID, ErrCodeInvalid, nil)
		return ErrCodeInvalid
	}

	if err := e.store.ActivatePending(ctx, identityID, enrollment.Secret, time.Now()); err != nil {
		if errors.Is(err, ErrAlreadyActive) {
			// A concurrent call won the race after we verified. Benign.
			return ErrAlreadyActive
		}
		if errors.Is(err, ErrSecretNotProvisioned) {
			return ErrSecretNotProvisioned
		}
		return e.storageFail(ctx, identityID, err)
	}

	e.metricInc(MetricActivationSuccess)
	e.emitAudit(ctx, auditEventEnrollmentActivated, true, identityID, nil, nil)
	return nil
}

// Disable removes the active credential and clears the identity's
// two-factor flag in one transaction. Disabling an identity that never
// enrolled succeeds.
func (e *Engine) Disable(ctx context.Context, identityID string) error {
	if e == nil || e.store == nil {
		return ErrEngineNotReady
	}
	if identityID == "" {
		return ErrInputInvalid
	}

	if err := e.store.Disable(ctx, identityID); err != nil {
		return e.storageFail(ctx, identityID, err)
	}

	e.metricInc(MetricDisable)
	e.emitAudit(ctx, auditEventTwoFactorDisabled, true, identityID, nil, nil)
	return nil
}

// VerifyForLogin checks submittedCode against the identity's active
// credential: TOTP first, and only on TOTP failure the backup-code set.
// Every failed check collapses into [ErrCodeInvalid]; callers can never
// tell which path rejected, so responses give an attacker no oracle.
func (e *Engine) VerifyForLogin(ctx context.Context, identityID, submittedCode string) error {
	if e == nil || e.store == nil || e.totp == nil {
		return ErrEngineNotReady
	}
	if identityID == "" {
		return ErrIdentityNotFound
	}

	if err := e.limiter.Check(ctx, identityID); err != nil {
		if errors.Is(err, ErrTooManyAttempts) {
			e.metricInc(MetricAttemptsLimited)
			return ErrTooManyAttempts
		}
		return e.storageFail(ctx, identityID, err)
	}

	enrollment, err := e.store.GetEnrollment(ctx, identityID)
	if err != nil {
		return e.storageFail(ctx, identityID, err)
	}
	if enrollment.Stage != StageActive {
		return ErrSecretNotProvisioned
	}
	if submittedCode == "" {
		return e.failCodeAttempt(ctx, identityID)
	}

	now := time.Now()
	ok, counter, verr := e.totp.Verify(enrollment.Secret, submittedCode, now)
	if verr != nil {
		return fmt.Errorf("%w: %v", ErrInternal, verr)
	}
	if ok {
		accepted, err := e.store.RecordTOTPUse(ctx, identityID, counter, now)
		if err != nil {
			return e.storageFail(ctx, identityID, err)
		}
		if !accepted && e.config.TOTP.EnforceReplayProtection {
			e.metricInc(MetricReplayRejected)
			return e.failCodeAttempt(ctx, identityID)
		}
		_ = e.limiter.Reset(ctx, identityID)
		e.metricInc(MetricCodeAccepted)
		e.emitAudit(ctx, auditEventCodeAccepted, true, identityID, nil, nil)
		return nil
	}

	canonical := CanonicalizeBackupCode(submittedCode)
	if canonical != "" {
		matched, err := e.store.ConsumeBackupCode(ctx, identityID, canonical, now)
		if err != nil {
			return e.storageFail(ctx, identityID, err)
		}
		if matched {
			_ = e.limiter.Reset(ctx, identityID)
			e.metricInc(MetricBackupCodeUsed)
			e.emitAudit(ctx, auditEventBackupCodeUsed, true, identityID, nil, nil)
			return nil
		}
	}

	return e.failCodeAttempt(ctx, identityID)
}

// failCodeAttempt records the failure with the limiter and returns the
// single outward verdict for a rejected code.
func (e *Engine) failCodeAttempt(ctx context.Context, identityID string) error {
	e.metricInc(MetricCodeRejected)
	e.emitAudit(ctx, auditEventCodeRejected, false, identityID, ErrCodeInvalid, nil)
	if err := e.limiter.RecordFailure(ctx, identityID); err != nil {
		if errors.Is(err, ErrTooManyAttempts) {
			e.metricInc(MetricAttemptsLimited)
			return ErrTooManyAttempts
		}
		return e.storageFail(ctx, identityID, err)
	}
	return ErrCodeInvalid
}

// storageFail passes engine sentinels through untouched and wraps
// everything else as a storage failure, auditing with identity context
// only, never secret material.
func (e *Engine) storageFail(ctx context.Context, identityID string, err error) error {
	switch {
	case errors.Is(err, ErrIdentityNotFound),
		errors.Is(err, ErrSecretNotProvisioned),
		errors.Is(err, ErrAlreadyActive):
		return err
	}
	e.metricInc(MetricStorageFailure)
	e.emitAudit(ctx, auditEventStorageFailure, false, identityID, ErrStorageUnavailable, nil)
	if errors.Is(err, ErrStorageUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
}
