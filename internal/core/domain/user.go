package domain

import "strings"

// Role is the authorization level the backend assigns to a user.
type Role string

const (
	RoleAdmin  Role = "admin"
	RoleMember Role = "member"
)

// ParseRole normalises the raw value returned by the role RPC. An empty value
// means the backend has no role for the user.
func ParseRole(raw string) (Role, bool) {
	r := Role(strings.ToLower(strings.TrimSpace(raw)))
	if r == "" {
		return "", false
	}
	return r, true
}

// metadataDepartment is the user_metadata key holding the department.
const metadataDepartment = "department"

// User is the identity record owned by the backend. Only ID, Email and
// Metadata are read locally.
type User struct {
	ID       string         `json:"id"`
	Email    string         `json:"email,omitempty"`
	Metadata map[string]any `json:"user_metadata,omitempty"`
}

// Department returns the free-text department stored in the user's metadata.
func (u *User) Department() (string, bool) {
	if u == nil || u.Metadata == nil {
		return "", false
	}
	dept, ok := u.Metadata[metadataDepartment].(string)
	if !ok || strings.TrimSpace(dept) == "" {
		return "", false
	}
	return dept, true
}

// Profile is the user-chosen display metadata from the profiles table.
type Profile struct {
	DisplayName string  `json:"display_name"`
	AvatarURL   *string `json:"avatar_url"`
}
