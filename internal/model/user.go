package model

// Role names carried in the access token's "role" claim.  Tokens are
// issued by the external identity service; this service only verifies them.
const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// Caller is the authenticated identity attached to a request.
//
// Fields:
//  UserID – subject of the access token.
//  Role   – role claim (user or admin).
type Caller struct {
	UserID string
	Role   string
}

// IsAdmin reports whether the caller may act on other users' bookings.
func (c Caller) IsAdmin() bool { return c.Role == RoleAdmin }
