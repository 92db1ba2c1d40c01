// Package token mints and validates the two signed-token kinds of the
// step-up login flow: short-lived pending tokens proving password-stage
// success, and access tokens proving full authentication. Both are
// self-contained JWTs; nothing is persisted server-side.
package token
