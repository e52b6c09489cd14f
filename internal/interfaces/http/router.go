package http

import (
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
)

// RouterDeps dependencias para el router.
type RouterDeps struct {
	AppName   string
	Invoices  invoiceService
	PDF       invoicePDF
	Companies companyLookup
	JWTSecret string
	Log       zerolog.Logger
}

// Router registra las rutas de la API.
func Router(app *fiber.App, deps RouterDeps) {
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok", "service": deps.AppName})
	})

	api := app.Group("/api")

	// Rutas protegidas (requieren Bearer Token y empresa habilitada)
	protected := api.Group("/", AuthMiddleware(deps.JWTSecret), RequireActiveCompany(deps.Companies))

	invoices := protected.Group("/invoices")
	invoiceHandler := NewInvoiceHandler(deps.Invoices, deps.PDF, deps.Log.With().Str("component", "http").Logger())

	emit := RequireRole(RoleAdmin, RoleFacturador)
	invoices.Post("/issue", emit, invoiceHandler.Issue)
	invoices.Post("/reissue", emit, invoiceHandler.Reissue)
	invoices.Post("/:id/retry", emit, invoiceHandler.Retry)

	invoices.Get("/:id", invoiceHandler.GetByID)
	invoices.Get("/:id/submissions", invoiceHandler.Submissions)
	invoices.Get("/:id/xml", invoiceHandler.XML)
	invoices.Get("/:id/pdf", invoiceHandler.PDF)
}
