package rbac

// Role names. Keep these stable; they are part of auth/RBAC contracts.
const (
	RoleOwner      = "owner"
	RoleManager    = "manager"
	RoleStaff      = "staff"
	RoleSuperAdmin = "super_admin"
	RoleSupport    = "platform_support" // read-only call history
)

func IsSuperAdmin(role string) bool { return role == RoleSuperAdmin }
