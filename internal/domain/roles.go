package domain

// JWT roles accepted by the ops API. Admin may do everything ops may.
const (
	RoleAdmin = "admin"
	RoleOps   = "ops"
)
