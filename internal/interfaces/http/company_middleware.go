package http

import (
	"context"

	"github.com/gofiber/fiber/v2"

	"github.com/jhoicas/facturador-sunat/internal/application/dto"
	"github.com/jhoicas/facturador-sunat/internal/domain/entity"
)

// companyLookup es lo mínimo que necesita el middleware para conocer la empresa del token.
// Lo implementan los repositorios de empresas (postgres y memoria).
type companyLookup interface {
	GetByID(ctx context.Context, id string) (*entity.Company, error)
}

// RequireActiveCompany corta la petición si la empresa del token no existe o no está
// habilitada para emitir. Debe usarse DESPUÉS de AuthMiddleware (necesita LocalCompanyID).
//
// Comportamiento:
//   - 401 si no hay company_id en el contexto.
//   - 403 si la empresa no existe o está suspendida.
//   - 503 si falla la consulta.
func RequireActiveCompany(companies companyLookup) fiber.Handler {
	return func(c *fiber.Ctx) error {
		companyID := GetCompanyID(c)
		if companyID == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(dto.ErrorResponse{
				Code:    "UNAUTHORIZED",
				Message: "company_id no encontrado en el token",
			})
		}

		company, err := companies.GetByID(c.UserContext(), companyID)
		if err != nil {
			return c.Status(fiber.StatusServiceUnavailable).JSON(dto.ErrorResponse{
				Code:    "COMPANY_CHECK_FAILED",
				Message: "no se pudo verificar la empresa, intente más tarde",
			})
		}
		if company == nil || company.Status != entity.CompanyStatusActive {
			return c.Status(fiber.StatusForbidden).JSON(dto.ErrorResponse{
				Code:    "COMPANY_DISABLED",
				Message: "la empresa no está habilitada para emitir comprobantes",
			})
		}

		return c.Next()
	}
}
