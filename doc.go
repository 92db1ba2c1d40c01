// Package stepauth implements the two-factor authentication lifecycle and
// claims-based permission resolution for a content platform: TOTP secret
// provisioning with single-use backup codes, enrollment activation and
// disablement, the two-phase password → step-up login state machine, and
// signed-token claim extraction with role → permission guards.
//
// The engine is storage-agnostic. Callers supply an [EnrollmentStore]
// (see the pgstore subpackage for a PostgreSQL implementation) and a role
// table, then drive the lifecycle through [Engine.Provision],
// [Engine.Activate], [Engine.Disable], [Engine.VerifyStepUp], and
// [Engine.RequireCapability].
package stepauth
