package http

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/spec-kit/service-portal/internal/api/http/handlers"
	"github.com/spec-kit/service-portal/internal/auth"
	"github.com/spec-kit/service-portal/internal/domain"
)

// RouteConfig bundles dependencies for route registration.
type RouteConfig struct {
	Health         *handlers.HealthHandler
	Auth           *handlers.AuthHandler
	Requests       *handlers.RequestsHandler
	Workflow       *handlers.WorkflowHandler
	Directory      *handlers.DirectoryHandler
	AuthMiddleware *auth.AuthMiddleware
	// Gatherer backs GET /metrics. Nil disables the endpoint.
	Gatherer prometheus.Gatherer
}

// RegisterRoutes wires HTTP routes.
func RegisterRoutes(app *fiber.App, cfg RouteConfig) {
	app.Get("/health/live", cfg.Health.Live)
	app.Get("/health/ready", cfg.Health.Ready)
	if cfg.Gatherer != nil {
		app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{})))
	}

	authGroup := app.Group("/auth")
	authGroup.Post("/admin/login", cfg.Auth.AdminLogin)
	authGroup.Post("/login", cfg.Auth.CodeLogin)
	authGroup.Get("/me", cfg.AuthMiddleware.Handle, auth.RequireAnyRole(), cfg.Auth.Me)

	protect := []fiber.Handler{cfg.AuthMiddleware.Handle, auth.RequireAnyRole()}
	managers := auth.RequireRoles(domain.RoleAgentManager, domain.RoleSuperAdmin)
	staff := auth.RequireRoles(domain.RoleAgent, domain.RoleAgentManager, domain.RoleSuperAdmin)

	requests := app.Group("/requests", protect...)
	requests.Get("/", cfg.Requests.List)
	requests.Post("/", cfg.Requests.Create)
	requests.Get("/export", cfg.Requests.Export)
	requests.Get("/:id", cfg.Requests.Get)
	requests.Patch("/:id", cfg.Requests.Update)
	requests.Post("/:id/assign", managers, cfg.Requests.Assign)
	requests.Post("/:id/close", managers, cfg.Requests.Close)

	requests.Get("/:id/notes", cfg.Workflow.ListNotes)
	requests.Post("/:id/notes", cfg.Workflow.AddNote)
	requests.Get("/:id/attachments", cfg.Workflow.ListAttachments)
	requests.Post("/:id/attachments", cfg.Workflow.UploadAttachments)
	requests.Get("/:id/activity", cfg.Workflow.ListActivity)
	requests.Get("/:id/subtasks", staff, cfg.Workflow.ListSubTasks)
	requests.Post("/:id/subtasks", auth.RequireRoles(domain.RoleAgentManager), cfg.Workflow.CreateSubTask)
	requests.Get("/:id/assignment-changes", staff, cfg.Workflow.ListChanges)
	requests.Post("/:id/assignment-changes", auth.RequireRoles(domain.RoleAgent), cfg.Workflow.RequestChange)

	subTasks := app.Group("/subtasks", protect...)
	subTasks.Patch("/:id", staff, cfg.Workflow.UpdateSubTaskStatus)

	changes := app.Group("/assignment-changes", protect...)
	changes.Get("/pending", managers, cfg.Workflow.ListPendingChanges)
	changes.Post("/:id/review", auth.RequireRoles(domain.RoleAgentManager), cfg.Workflow.ReviewChange)

	attachments := app.Group("/attachments", protect...)
	attachments.Get("/:id", cfg.Workflow.DownloadAttachment)
	attachments.Delete("/:id", cfg.Workflow.DeleteAttachment)

	companies := app.Group("/companies", protect...)
	companies.Get("/", cfg.Directory.ListCompanies)
	companies.Post("/", auth.RequireRoles(domain.RoleSuperAdmin), cfg.Directory.CreateCompany)
	companies.Get("/:id", cfg.Directory.GetCompany)
	companies.Patch("/:id", auth.RequireRoles(domain.RoleSuperAdmin, domain.RoleCustomerAdmin), cfg.Directory.UpdateCompany)
	companies.Get("/:id/assignees", staff, cfg.Directory.AssigneeCandidates)

	users := app.Group("/users", protect...)
	users.Get("/", auth.RequireRoles(domain.RoleSuperAdmin, domain.RoleCustomerAdmin), cfg.Directory.ListUsers)
	users.Post("/", auth.RequireRoles(domain.RoleSuperAdmin, domain.RoleCustomerAdmin), cfg.Directory.CreateUser)
	users.Patch("/:id", auth.RequireRoles(domain.RoleSuperAdmin, domain.RoleCustomerAdmin), cfg.Directory.UpdateUser)

	agents := app.Group("/agents", protect...)
	agents.Get("/", managers, cfg.Directory.ListAgents)
	agents.Put("/:id/companies", auth.RequireRoles(domain.RoleSuperAdmin), cfg.Directory.SetAgentCompanies)
	agents.Post("/:id/promote", auth.RequireRoles(domain.RoleSuperAdmin), cfg.Directory.Promote)
	agents.Post("/:id/demote", auth.RequireRoles(domain.RoleSuperAdmin), cfg.Directory.Demote)
}
