package api

import (
	"context"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Checker-Finance/settlement/internal/metrics"
	"github.com/Checker-Finance/settlement/internal/rate"
)

// HealthCheck reports whether a dependency is reachable.
type HealthCheck func(ctx context.Context) error

// Routes bundles what RegisterRoutes mounts.
type Routes struct {
	Handler *Handler
	Auth    *Authenticator
	Limiter *rate.Manager
	Checks  map[string]HealthCheck
}

func RegisterRoutes(app *fiber.App, r Routes) {
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))
	app.Get("/health", health(r.Checks))

	v1 := app.Group("/api/v1", countRequests)
	if r.Limiter != nil {
		v1.Use(RateLimit(r.Limiter))
	}
	auth := r.Auth.Handler()
	h := r.Handler

	v1.Post("/settlements/user", auth, h.SettleUser)
	v1.Post("/settlements/relayer", auth, h.SettleRelayer)
	v1.Post("/quotes/hash", h.QuoteHash)
	v1.Get("/quotes/:quoteId", h.QuoteStatus)
	v1.Get("/fees", h.Fees)
	v1.Get("/fees/:asset", h.AccruedFees)
	v1.Post("/admin/fee-rate", auth, h.SetFeeRate)
	v1.Post("/admin/withdraw", auth, h.WithdrawFees)

	if h.wallet != nil {
		v1.Post("/tokens/approve", auth, h.Approve)
		v1.Post("/vault/deposit", auth, h.Deposit)
		v1.Post("/vault/withdraw", auth, h.Withdraw)
		v1.Get("/accounts/:address/balances", h.Balances)
	}
}

func health(checks map[string]HealthCheck) fiber.Handler {
	return func(c *fiber.Ctx) error {
		results := make(map[string]string, len(checks))
		status := "ok"
		code := fiber.StatusOK

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		for name, check := range checks {
			if err := check(ctx); err != nil {
				results[name] = err.Error()
				status = "degraded"
				code = fiber.StatusServiceUnavailable
				continue
			}
			results[name] = "ok"
		}

		return c.Status(code).JSON(fiber.Map{
			"status": status,
			"checks": results,
		})
	}
}

func countRequests(c *fiber.Ctx) error {
	err := c.Next()
	metrics.IncHTTPRequest(c.Route().Path, c.Method(), strconv.Itoa(c.Response().StatusCode()))
	return err
}
