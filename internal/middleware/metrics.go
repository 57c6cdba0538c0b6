package middleware

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
)

type RequestMetrics interface {
	ObserveRequest(method, route string, status int, elapsed time.Duration)
}

// Metrics records method, matched route pattern, status and latency of every request
func Metrics(m RequestMetrics) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		status := c.Response().StatusCode()
		if err != nil {
			// the app error handler has not run yet
			status = fiber.StatusInternalServerError
			var fe *fiber.Error
			if errors.As(err, &fe) {
				status = fe.Code
			}
		}

		route := "unmatched"
		if r := c.Route(); r != nil && r.Path != "" && r.Path != "/" {
			route = r.Path
		}
		m.ObserveRequest(c.Method(), route, status, time.Since(start))
		return err
	}
}
