package permission

import "sort"

// Wildcard satisfies every individual permission check. Granting it to a
// role makes that role pass any guard.
const Wildcard = "admin_access"

// Permission names checked on hot paths across the platform.
const (
	PermEditArticles           = "edit_articles"
	PermPublishArticles        = "publish_articles"
	PermManageContent          = "manage_content"
	PermManageMedia            = "manage_media"
	PermManageUsers            = "manage_users"
	PermViewRestrictedListings = "view_restricted_listings"
)

// Known roles. Roles outside this set resolve to no permissions at all;
// there is deliberately no silent fallback to a default role.
const (
	RoleAdmin  = "admin"
	RoleEditor = "editor"
	RoleUser   = "user"
)

// Table maps a role to its permission names. It is plain configuration
// data; hand it to [NewResolver] once at startup.
type Table map[string][]string

// DefaultTable returns the built-in role table.
func DefaultTable() Table {
	return Table{
		RoleAdmin: {Wildcard},
		RoleEditor: {
			PermEditArticles,
			PermPublishArticles,
			PermManageContent,
			PermManageMedia,
			PermViewRestrictedListings,
		},
		RoleUser: {},
	}
}

// Resolver answers role → capability queries. It copies the table at
// construction and never mutates it afterwards, so all methods are safe
// for concurrent use without locking.
type Resolver struct {
	roles map[string]map[string]struct{}
}

// NewResolver builds a resolver over a deep copy of table. Tests can pass
// alternate tables without touching process state.
func NewResolver(table Table) *Resolver {
	roles := make(map[string]map[string]struct{}, len(table))
	for role, perms := range table {
		set := make(map[string]struct{}, len(perms))
		for _, p := range perms {
			if p == "" {
				continue
			}
			set[p] = struct{}{}
		}
		roles[role] = set
	}
	return &Resolver{roles: roles}
}

// Known reports whether role appears in the table.
func (r *Resolver) Known(role string) bool {
	_, ok := r.roles[role]
	return ok
}

// Resolve returns the role's permission names, sorted. Unknown roles
// yield nil.
func (r *Resolver) Resolve(role string) []string {
	set, ok := r.roles[role]
	if !ok || len(set) == 0 {
		return nil
	}
	out := make([]string, 0, len(set))
	for p := range set {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Has reports whether role carries perm, either directly or through
// [Wildcard].
func (r *Resolver) Has(role, perm string) bool {
	set, ok := r.roles[role]
	if !ok || perm == "" {
		return false
	}
	if _, ok := set[Wildcard]; ok {
		return true
	}
	_, ok = set[perm]
	return ok
}

// HasAll reports whether role carries every listed permission.
func (r *Resolver) HasAll(role string, perms ...string) bool {
	for _, p := range perms {
		if !r.Has(role, p) {
			return false
		}
	}
	return true
}

// HasAny reports whether role carries at least one listed permission.
func (r *Resolver) HasAny(role string, perms ...string) bool {
	for _, p := range perms {
		if r.Has(role, p) {
			return true
		}
	}
	return false
}
