// Package permission resolves roles to capability sets. The role table is
// injected once at construction and immutable afterwards; changing it
// requires a redeploy, never a runtime mutation.
package permission
