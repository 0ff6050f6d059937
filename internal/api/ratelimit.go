package api

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/Checker-Finance/settlement/internal/rate"
	"github.com/Checker-Finance/settlement/pkg/model"
)

// RateLimit throttles each caller address, falling back to the remote IP
// for unauthenticated requests.
func RateLimit(mgr *rate.Manager) fiber.Handler {
	return func(c *fiber.Ctx) error {
		key := strings.ToLower(c.Get(model.HeaderCallerAddress))
		if key == "" {
			key = c.IP()
		}
		if !mgr.Allow(key) {
			return c.Status(fiber.StatusTooManyRequests).JSON(model.ErrorResponse{Error: "rate limit exceeded", Reason: "rate_limited"})
		}
		return c.Next()
	}
}
