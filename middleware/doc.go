// Package middleware adapts the stepauth guard to net/http handlers:
// bearer-token extraction, permission enforcement, and JSON error bodies
// carrying the stable machine-readable code.
package middleware
