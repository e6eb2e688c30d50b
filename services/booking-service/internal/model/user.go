package model

type Role string

const (
	RoleClient   Role = "client"
	RoleProvider Role = "provider"
	RoleAdmin    Role = "admin"
)

func (r Role) IsValid() bool {
	switch r {
	case RoleClient, RoleProvider, RoleAdmin:
		return true
	}
	return false
}

// User is the caller identity as asserted by the gateway. Clients and
// providers share this shape and differ only by Role.
type User struct {
	ID   string
	Role Role
}

func (u User) Is(role Role) bool {
	return u.Role == role
}
