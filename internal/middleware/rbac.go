package middleware

import (
	"github.com/gofiber/fiber/v2"

	"github.com/noah-isme/gema-grader/internal/utils"
)

// RequireRole admits callers whose principal carries one of roles.
func RequireRole(roles ...string) fiber.Handler {
	allowed := make(map[string]bool, len(roles))
	for _, role := range roles {
		if role = normalizeRole(role); role != "" {
			allowed[role] = true
		}
	}

	return func(c *fiber.Ctx) error {
		if !allowed[CurrentPrincipal(c).Role] {
			return utils.SendError(c, fiber.StatusForbidden, "insufficient permissions")
		}
		return c.Next()
	}
}
