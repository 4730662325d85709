package handlers

import (
	"vidmill/internal/app"

	"github.com/gofiber/fiber/v2"
)

func HealthHandler(router fiber.Router, app *app.App) {
	router.Get("/health", func(c *fiber.Ctx) error {
		payload := fiber.Map{
			"status":      "ok",
			"version":     app.Config.GeneralVersion,
			"service":     "vidmill_api",
			"active_jobs": app.JobManager.ActiveCount(),
		}
		if app.SchedulerService.IsRunning() {
			if next := app.SchedulerService.GetNextRunTime(); next != nil {
				payload["next_cleanup"] = next
			}
		}
		return c.JSON(payload)
	})
}
