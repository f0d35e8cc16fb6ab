package rbac

import (
	"errors"
	"strings"
)

// Role is the closed set of dashboard roles.
type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// ParseRole converts a case-insensitive string to a Role.
func ParseRole(value string) (Role, bool) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "user":
		return RoleUser, true
	case "admin":
		return RoleAdmin, true
	default:
		return "", false
	}
}

var ErrScopeViolation = errors.New("scope violation")

// Identity is the authenticated principal attached to a request.
type Identity struct {
	UserID string
	Role   Role
}

// IsAdmin reports whether the identity carries the admin role.
func (id Identity) IsAdmin() bool { return id.Role == RoleAdmin }

// ResolveUserIDs derives the permitted user-id set for a query.
//
// Non-admin callers may request nothing or exactly their own id; the resolved
// scope is always their own id and any other request fails with
// ErrScopeViolation. Admin callers get the requested ids verbatim, where an
// empty request means every user.
func ResolveUserIDs(identity Identity, requested []string) ([]string, error) {
	if identity.Role == RoleAdmin {
		return dedupIDs(requested), nil
	}

	for _, id := range requested {
		if strings.TrimSpace(id) != identity.UserID {
			return nil, ErrScopeViolation
		}
	}
	return []string{identity.UserID}, nil
}

func dedupIDs(ids []string) []string {
	if len(ids) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(ids))
	result := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		result = append(result, id)
	}
	return result
}
