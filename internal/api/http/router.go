package http

import (
	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/helpdesk-service/internal/api/http/handlers"
	"github.com/spec-kit/helpdesk-service/internal/auth"
	"github.com/spec-kit/helpdesk-service/internal/domain"
)

// RouteConfig bundles dependencies for route registration.
type RouteConfig struct {
	Health         *handlers.HealthHandler
	Auth           *handlers.AuthHandler
	Catalog        *handlers.CatalogHandler
	Uploads        *handlers.UploadsHandler
	Requester      *handlers.RequesterHandler
	Technician     *handlers.TechnicianHandler
	AuthMiddleware *auth.AuthMiddleware
}

// RegisterRoutes wires HTTP routes.
func RegisterRoutes(app *fiber.App, cfg RouteConfig) {
	app.Get("/health/live", cfg.Health.Live)
	app.Get("/health/ready", cfg.Health.Ready)
	app.Get("/metrics", cfg.Health.Metrics)

	app.Post("/auth/login", cfg.Auth.Login)

	app.Get("/uploads/tickets/:name", cfg.AuthMiddleware.Handle, auth.RequireAnyRole(), cfg.Uploads.Serve)

	api := app.Group("/api", cfg.AuthMiddleware.Handle, auth.RequireAnyRole())
	api.Get("/me", cfg.Auth.Me)
	api.Get("/catalog/request-types", cfg.Catalog.RequestTypes)
	api.Get("/catalog/suggestions", cfg.Catalog.Suggestions)

	requester := api.Group("/requester", auth.RequireRole(domain.RoleRequester))
	requester.Post("/tickets", cfg.Requester.CreateTicket)
	requester.Get("/tickets", cfg.Requester.ListTickets)
	requester.Get("/tickets/quota", cfg.Requester.Quota)
	requester.Get("/tickets/:id/attachments", cfg.Requester.Attachments)
	requester.Get("/surveys/pending", cfg.Requester.PendingSurveys)
	requester.Get("/surveys/:id", cfg.Requester.SurveyForm)
	requester.Post("/surveys", cfg.Requester.SubmitSurvey)

	technician := api.Group("/technician", auth.RequireRole(domain.RoleTechnician))
	technician.Get("/tickets", cfg.Technician.ListTickets)
	technician.Get("/tickets/:id", cfg.Technician.GetTicket)
	technician.Get("/technicians", cfg.Technician.Technicians)
	technician.Post("/tickets/:id/claim", cfg.Technician.Claim)
	technician.Post("/tickets/:id/assignees", cfg.Technician.Assign)
	technician.Patch("/tickets/:id/state", cfg.Technician.ChangeState)
	technician.Post("/tickets/:id/notes", cfg.Technician.AddNote)
	technician.Post("/tickets/:id/evidence", cfg.Technician.Evidence)
}
