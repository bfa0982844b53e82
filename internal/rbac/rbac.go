// Package rbac decides which map operations a role may perform.
package rbac

type Role string

const (
	RoleAdmin Role = "admin"
	RoleUser  Role = "user"
	RoleDemo  Role = "demo"
)

type Action string

const (
	ActionRead   Action = "read"
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
)

// Can reports whether role may perform action. Demo accounts browse and
// edit in memory only, so every persisting action is denied for them.
func Can(role Role, action Action) bool {
	switch role {
	case RoleAdmin:
		return true
	case RoleUser:
		return action == ActionRead || action == ActionCreate || action == ActionUpdate
	case RoleDemo:
		return action == ActionRead
	default:
		return false
	}
}

// Normalize maps arbitrary stored strings onto a known role. Unknown
// values fall back to demo, the least privileged role.
func Normalize(s string) Role {
	switch Role(s) {
	case RoleAdmin:
		return RoleAdmin
	case RoleUser:
		return RoleUser
	case RoleDemo:
		return RoleDemo
	default:
		return RoleDemo
	}
}
