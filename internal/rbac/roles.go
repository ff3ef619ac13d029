package rbac

// Role names carried in access tokens.
const (
	RoleAdmin    = "admin"
	RoleOperator = "operator"
	RoleViewer   = "viewer"
)

func IsAdmin(role string) bool { return role == RoleAdmin }

func ValidRole(role string) bool {
	switch role {
	case RoleAdmin, RoleOperator, RoleViewer:
		return true
	default:
		return false
	}
}

// CanPlaceCalls lists the roles allowed to start, end or import calls.
var CanPlaceCalls = []string{RoleOperator}

// CanRead lists the roles allowed to read call data.
var CanRead = []string{RoleOperator, RoleViewer}
