package stepauth

import (
	"strings"

	"github.com/sabq4org/stepauth/permission"
)

// Principal is the authenticated caller derived from an access token. The
// capability booleans are computed once at resolution so hot paths never
// rescan the permission set.
type Principal struct {
	ID          string
	Email       string
	Role        string
	Permissions []string

	CanEditContent            bool
	CanManageContent          bool
	CanManageUsers            bool
	CanViewRestrictedListings bool
}

// ResolvePrincipal validates rawToken as an access token and maps its
// claims onto a Principal. It is a pure function of the token and the
// signing configuration; no storage is consulted. A missing role claim
// defaults to "user".
func (e *Engine) ResolvePrincipal(rawToken string) (*Principal, error) {
	if e == nil || e.tokens == nil || e.roles == nil {
		return nil, ErrEngineNotReady
	}
	rawToken = strings.TrimSpace(rawToken)
	if rawToken == "" {
		return nil, ErrTokenRequired
	}

	claims, err := e.tokens.ParseAccess(rawToken)
	if err != nil {
		return nil, tokenErr(err)
	}

	role := e.roleOrDefault(claims.Role)
	principal := &Principal{
		ID:          claims.Subject,
		Email:       claims.Email,
		Role:        role,
		Permissions: e.roles.Resolve(role),
	}
	principal.CanEditContent = e.roles.HasAny(role,
		permission.PermEditArticles, permission.PermPublishArticles)
	principal.CanManageContent = e.roles.Has(role, permission.PermManageContent)
	principal.CanManageUsers = e.roles.Has(role, permission.PermManageUsers)
	principal.CanViewRestrictedListings = e.roles.Has(role, permission.PermViewRestrictedListings)
	return principal, nil
}

// RequireCapability chains token resolution and a permission check,
// returning the principal when the caller holds perm (directly or via the
// admin wildcard).
func (e *Engine) RequireCapability(rawToken, perm string) (*Principal, error) {
	principal, err := e.ResolvePrincipal(rawToken)
	if err != nil {
		return nil, err
	}
	if !e.roles.Has(principal.Role, perm) {
		return nil, ErrInsufficientPermissions
	}
	return principal, nil
}
