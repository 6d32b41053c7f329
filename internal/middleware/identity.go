package middleware

// identity.go defines helpers shared by middleware and handlers for reading
// the authenticated caller out of the Echo context.  JWTAuth stores the
// caller under the keys below; the helpers never trust any other source.

import (
	"strconv"

	"github.com/labstack/echo/v4"
)

// Context keys set by JWTAuth.
const (
	ContextUserID = "user_id"
	ContextRole   = "role"
)

// Roles carried in the JWT "role" claim.
const (
	RoleCustomer     = "CUSTOMER"
	RoleVenueManager = "VENUE_MANAGER"
	RoleAdmin        = "ADMIN"
)

// UserID returns the authenticated user ID.  ok is false for anonymous
// requests.
func UserID(c echo.Context) (uint64, bool) {
	id, ok := c.Get(ContextUserID).(uint64)
	return id, ok && id != 0
}

// Role returns the role of the authenticated caller, or "" when anonymous.
func Role(c echo.Context) string {
	r, _ := c.Get(ContextRole).(string)
	return r
}

// IsAdmin reports whether the caller may act on bookings it does not own.
func IsAdmin(c echo.Context) bool {
	return Role(c) == RoleAdmin
}

// subjectID converts a "sub" claim into a user ID.  Numeric claims decode
// as float64 from JSON; string subjects are parsed as decimal.
func subjectID(v any) (uint64, bool) {
	switch t := v.(type) {
	case float64:
		if t <= 0 || t != float64(uint64(t)) {
			return 0, false
		}
		return uint64(t), true
	case string:
		n, err := strconv.ParseUint(t, 10, 64)
		if err != nil || n == 0 {
			return 0, false
		}
		return n, true
	}
	return 0, false
}

// rateKeyUser identifies the caller for rate limiting.
func rateKeyUser(c echo.Context) string {
	if id, ok := UserID(c); ok {
		return strconv.FormatUint(id, 10)
	}
	return "anon"
}
