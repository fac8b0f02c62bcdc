package domain

// State is a point-in-time view of the auth context as seen by the UI.
//
// Role, Profile and Department are nil while unknown: before the enrichment
// fetches settle, after a failed fetch, and whenever Session is nil.
// Pointed-to values are never mutated after being published, so copies of a
// State can be shared freely.
type State struct {
	Session    *Session
	User       *User
	Role       *Role
	Profile    *Profile
	Department *string
	Loading    bool
	// Version increases on every change.
	Version uint64
}

// Authenticated reports whether a session is present.
func (s State) Authenticated() bool {
	return s.Session != nil
}

// HasRole reports whether the fetched role is one of roles.
func (s State) HasRole(roles ...Role) bool {
	if s.Role == nil {
		return false
	}
	for _, r := range roles {
		if *s.Role == r {
			return true
		}
	}
	return false
}
