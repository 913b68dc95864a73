package http

import (
	"net/http"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"

	"github.com/jhoicas/fiscal-api/internal/application/auth"
	"github.com/jhoicas/fiscal-api/internal/application/billing"
	"github.com/jhoicas/fiscal-api/internal/application/usecase"
	"github.com/jhoicas/fiscal-api/internal/domain/entity"
)

// RouterDeps dependencias para el router.
type RouterDeps struct {
	Issuance  *billing.IssuanceService
	PDF       *billing.PDFUseCase
	AuthUC    *auth.AuthUseCase
	IssuerUC  *usecase.IssuerUseCase
	Metrics   http.Handler     // nil = sin /metrics
	Health    func() fiber.Map // Datos extra del health check
	JWTSecret string
}

// Router registra las rutas de la API.
func Router(app *fiber.App, deps RouterDeps) {
	app.Get("/health", func(c *fiber.Ctx) error {
		body := fiber.Map{"status": "ok"}
		if deps.Health != nil {
			for k, v := range deps.Health() {
				body[k] = v
			}
		}
		return c.JSON(body)
	})
	if deps.Metrics != nil {
		app.Get("/metrics", adaptor.HTTPHandler(deps.Metrics))
	}

	api := app.Group("/api")

	// Públicas: login y alta de emisor
	authHandler := NewAuthHandler(deps.AuthUC)
	issuerHandler := NewIssuerHandler(deps.IssuerUC)
	api.Post("/auth/login", authHandler.Login)
	api.Post("/issuers", issuerHandler.Register)

	// Rutas protegidas (requieren Bearer Token)
	protected := api.Group("", AuthMiddleware(deps.JWTSecret))
	readers := RequireRole(entity.RoleAdmin, entity.RoleIssuer, entity.RoleAuditor)
	writers := RequireRole(entity.RoleAdmin, entity.RoleIssuer)
	admins := RequireRole(entity.RoleAdmin)

	protected.Get("/issuers/me", readers, issuerHandler.Me)
	protected.Patch("/issuers/me", admins, issuerHandler.Update)

	protected.Get("/users", admins, authHandler.ListUsers)
	protected.Post("/users", admins, authHandler.CreateUser)

	docs := NewDocumentHandler(deps.Issuance, deps.PDF)
	documents := protected.Group("/documents")
	documents.Get("/", readers, docs.List)
	documents.Post("/", writers, docs.Create)
	documents.Post("/batch", writers, docs.Batch)
	documents.Get("/:id", readers, docs.Get)
	documents.Put("/:id", writers, docs.Update)
	documents.Delete("/:id", writers, docs.Delete)
	documents.Post("/:id/validate", readers, docs.Validate)
	documents.Post("/:id/submit", writers, docs.Submit)
	documents.Post("/:id/reconcile", writers, docs.Reconcile)
	documents.Post("/:id/cancel", writers, docs.Cancel)
	documents.Post("/:id/corrections", writers, docs.Correct)
	documents.Post("/:id/reissue", writers, docs.Reissue)
	documents.Get("/:id/xml", readers, docs.XML)
	documents.Get("/:id/access-key", readers, docs.AccessKey)
	documents.Get("/:id/events", readers, docs.History)
	documents.Get("/:id/pdf", readers, docs.PDF)

	protected.Post("/voided-ranges", writers, docs.VoidRange)
}
