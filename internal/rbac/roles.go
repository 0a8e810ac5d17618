package rbac

// Role names. Keep these stable; they are part of auth/RBAC contracts.
const (
	RoleUser      = "user"
	RoleResponder = "responder"
	RoleAdmin     = "admin"
)

func IsAdmin(role string) bool { return role == RoleAdmin }

func IsValidRole(role string) bool {
	switch role {
	case RoleUser, RoleResponder, RoleAdmin:
		return true
	default:
		return false
	}
}
