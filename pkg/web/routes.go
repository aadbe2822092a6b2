package web

import "github.com/gofiber/fiber/v3"

// Register mounts the relay routes. A non-empty token protects every route
// except the workflow callback and health checks.
func Register(app *fiber.App, handlers *APIHandlers, token string) {
	app.Use(BearerAuth(token))
	app.Use(Identify())

	app.Get("/health", handlers.HealthCheck)

	w := app.Group("/workflows")
	w.Get("/base-url", handlers.GetBaseURL)
	w.Post("/run", handlers.RunWorkflow)
	w.Post("/updates", handlers.ReceiveUpdate)
	w.Get("/runs", handlers.ListRuns)
	w.Get("/:runId/status", handlers.GetRunStatus)
	w.Get("/:runId/stream", handlers.StreamRun)
	w.Get("/:workflowId/webhook-url", handlers.GetWebhookURL)
	w.Post("/:workflowId/webhook", handlers.RunHostedWorkflow)
	w.Post("/:workflowId/webhook/*", handlers.RunHostedWorkflow)

	app.Use(handlers.NotFound)
}
