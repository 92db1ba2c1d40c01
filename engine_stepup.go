package stepauth

import (
	"context"
	"errors"
	"fmt"

	"github.com/sabq4org/stepauth/token"
)

// StepUpChallenge is the outcome of the password-stage hand-off. When the
// identity has an active second factor, PendingToken is set and the caller
// must follow up with [Engine.VerifyStepUp]; otherwise AccessToken is
// issued directly.
type StepUpChallenge struct {
	TwoFactorRequired bool
	PendingToken      string
	AccessToken       string
}

// Session is a completed authentication: the access token plus the claims
// it carries.
type Session struct {
	AccessToken string
	IdentityID  string
	Email       string
	Role        string
}

// BeginStepUp is called after the caller has verified the identity's
// password. Identities with an active second factor receive a short-lived
// pending token; everyone else receives an access token immediately.
func (e *Engine) BeginStepUp(ctx context.Context, identityID string) (*StepUpChallenge, error) {
	if e == nil || e.store == nil || e.tokens == nil {
		return nil, ErrEngineNotReady
	}
	if identityID == "" {
		return nil, ErrInputInvalid
	}

	identity, err := e.store.GetIdentity(ctx, identityID)
	if err != nil {
		return nil, e.storageFail(ctx, identityID, err)
	}

	if !identity.TwoFactorEnabled {
		access, err := e.tokens.CreateAccess(identity.ID, identity.Email, e.roleOrDefault(identity.Role))
		if err != nil {
			return nil, tokenErr(err)
		}
		return &StepUpChallenge{AccessToken: access}, nil
	}

	pending, err := e.tokens.CreatePending(identity.ID)
	if err != nil {
		return nil, tokenErr(err)
	}

	e.metricInc(MetricStepUpIssued)
	e.emitAudit(ctx, auditEventStepUpIssued, true, identity.ID, nil, nil)

	return &StepUpChallenge{TwoFactorRequired: true, PendingToken: pending}, nil
}

// VerifyStepUp exchanges a pending token plus a valid code for a full
// session. A rejected code does not consume the pending token; it remains
// usable for retries until its expiry. An identity that disappeared or
// dropped its enrollment since the token was minted yields
// [ErrTokenInvalid], forcing a fresh login.
func (e *Engine) VerifyStepUp(ctx context.Context, pendingToken, submittedCode string) (*Session, error) {
	if e == nil || e.store == nil || e.tokens == nil {
		return nil, ErrEngineNotReady
	}
	if pendingToken == "" {
		return nil, ErrTokenRequired
	}

	claims, err := e.tokens.ParsePending(pendingToken)
	if err != nil {
		return nil, tokenErr(err)
	}
	identityID := claims.Subject

	identity, err := e.store.GetIdentity(ctx, identityID)
	if err != nil {
		if errors.Is(err, ErrIdentityNotFound) {
			return nil, ErrTokenInvalid
		}
		return nil, e.storageFail(ctx, identityID, err)
	}

	if err := e.VerifyForLogin(ctx, identityID, submittedCode); err != nil {
		if errors.Is(err, ErrSecretNotProvisioned) {
			// Enrollment vanished after the password stage.
			return nil, ErrTokenInvalid
		}
		if errors.Is(err, ErrCodeInvalid) || errors.Is(err, ErrTooManyAttempts) {
			e.metricInc(MetricStepUpFailure)
			e.emitAudit(ctx, auditEventStepUpRejected, false, identityID, err, nil)
		}
		return nil, err
	}

	role := e.roleOrDefault(identity.Role)
	access, err := e.tokens.CreateAccess(identity.ID, identity.Email, role)
	if err != nil {
		return nil, tokenErr(err)
	}

	e.metricInc(MetricStepUpSuccess)
	e.emitAudit(ctx, auditEventStepUpSucceeded, true, identity.ID, nil, nil)

	return &Session{
		AccessToken: access,
		IdentityID:  identity.ID,
		Email:       identity.Email,
		Role:        role,
	}, nil
}

func (e *Engine) roleOrDefault(role string) string {
	if role == "" {
		return "user"
	}
	return role
}

// tokenErr maps token-package failures onto the engine's sentinels.
func tokenErr(err error) error {
	switch {
	case errors.Is(err, token.ErrExpired):
		return ErrTokenExpired
	case errors.Is(err, token.ErrConfig):
		return fmt.Errorf("%w: %v", ErrTokenConfig, err)
	default:
		return ErrTokenInvalid
	}
}
