package middleware

import (
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"

	"github.com/noah-isme/gema-grader/internal/utils"
)

const (
	localUserID   = "user_id"
	localUserRole = "user_role"
)

// Principal is the authenticated caller of a grading route.
type Principal struct {
	UserID uint
	Role   string
}

// JWTProtected validates HMAC signed bearer tokens and stores the caller's
// principal on the request.
func JWTProtected(secret string) fiber.Handler {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"}),
		jwt.WithLeeway(30*time.Second),
	)
	key := []byte(secret)

	return func(c *fiber.Ctx) error {
		header := strings.TrimSpace(c.Get(fiber.HeaderAuthorization))
		if header == "" {
			return utils.SendError(c, fiber.StatusUnauthorized, "authorization header missing")
		}
		scheme, raw, found := strings.Cut(header, " ")
		if !found || !strings.EqualFold(scheme, "bearer") {
			return utils.SendError(c, fiber.StatusUnauthorized, "invalid authorization header")
		}

		claims := jwt.MapClaims{}
		if _, err := parser.ParseWithClaims(strings.TrimSpace(raw), claims, func(*jwt.Token) (interface{}, error) {
			return key, nil
		}); err != nil {
			return utils.SendError(c, fiber.StatusUnauthorized, "invalid token")
		}

		principal := principalFromClaims(claims)
		if principal.UserID != 0 {
			c.Locals(localUserID, principal.UserID)
		}
		if principal.Role != "" {
			c.Locals(localUserRole, principal.Role)
		}
		return c.Next()
	}
}

// CurrentPrincipal returns the caller stored by JWTProtected. The zero value
// means the request is anonymous.
func CurrentPrincipal(c *fiber.Ctx) Principal {
	var p Principal
	if id, ok := c.Locals(localUserID).(uint); ok {
		p.UserID = id
	}
	if role, ok := c.Locals(localUserRole).(string); ok {
		p.Role = normalizeRole(role)
	}
	return p
}

func principalFromClaims(claims jwt.MapClaims) Principal {
	var p Principal
	for _, key := range []string{"sub", "user_id", "id"} {
		if id, ok := claimUint(claims[key]); ok {
			p.UserID = id
			break
		}
	}
	for _, key := range []string{"role", "roles"} {
		if role := claimRole(claims[key]); role != "" {
			p.Role = role
			break
		}
	}
	return p
}

func claimUint(value interface{}) (uint, bool) {
	switch v := value.(type) {
	case float64:
		if v > 0 && v == math.Trunc(v) {
			return uint(v), true
		}
	case string:
		if n, err := strconv.ParseUint(strings.TrimSpace(v), 10, 64); err == nil && n > 0 {
			return uint(n), true
		}
	}
	return 0, false
}

func claimRole(value interface{}) string {
	switch v := value.(type) {
	case string:
		return normalizeRole(v)
	case []interface{}:
		for _, item := range v {
			if s, ok := item.(string); ok && normalizeRole(s) != "" {
				return normalizeRole(s)
			}
		}
	}
	return ""
}

func normalizeRole(role string) string {
	return strings.ToLower(strings.TrimSpace(role))
}
