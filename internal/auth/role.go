package auth

import "strings"

// Role is a caller role. RoleAny is a wildcard requirement and is never a
// caller's actual role.
type Role string

const (
	RoleAny   Role = "any"
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// Authorize reports whether actual satisfies required. An empty required
// list authorizes nothing.
func Authorize(required []Role, actual Role) bool {
	for _, r := range required {
		if r == RoleAny {
			return true
		}
		if actual != RoleAny && r == actual {
			return true
		}
	}
	return false
}

// ParseRole normalizes a role claim. Empty claims and the wildcard fall
// back to def.
func ParseRole(claim string, def Role) Role {
	r := Role(strings.ToLower(strings.TrimSpace(claim)))
	if r == "" || r == RoleAny {
		return def
	}
	return r
}
