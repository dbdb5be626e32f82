package domain

// UserRole enumerates supported roles.
type UserRole string

const (
	UserRoleUser  UserRole = "user"
	UserRoleAdmin UserRole = "admin"
)

// Session is the request-scoped caller identity. It is built per request
// from verified credentials and passed explicitly; nothing holds it globally.
type Session struct {
	UserID string
	Role   UserRole
	Locale string
}

// IsAdmin reports whether the session carries the admin role.
func (s Session) IsAdmin() bool {
	return s.Role == UserRoleAdmin
}
