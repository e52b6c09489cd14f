package http

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/jhoicas/facturador-sunat/internal/application/dto"
	"github.com/jhoicas/facturador-sunat/internal/domain"
)

type errorMapping struct {
	target error
	status int
	code   string
}

// El orden importa: un error puede envolver más de un sentinel.
var errorMappings = []errorMapping{
	{domain.ErrNotFound, fiber.StatusNotFound, "NOT_FOUND"},
	{domain.ErrForbidden, fiber.StatusForbidden, "FORBIDDEN"},
	{domain.ErrInvalidInput, fiber.StatusBadRequest, "VALIDATION"},
	{domain.ErrBuildValidation, fiber.StatusUnprocessableEntity, "BUILD_VALIDATION"},
	{domain.ErrCredential, fiber.StatusUnprocessableEntity, "CREDENTIAL"},
	{domain.ErrUnsendable, fiber.StatusUnprocessableEntity, "UNSENDABLE"},
	{domain.ErrSeriesExhausted, fiber.StatusConflict, "SERIES_EXHAUSTED"},
	{domain.ErrAuthorityRejection, fiber.StatusConflict, "REJECTED"},
	{domain.ErrInvalidTransition, fiber.StatusConflict, "CONFLICT"},
	{domain.ErrConflict, fiber.StatusConflict, "CONFLICT"},
	{domain.ErrAllocationConflict, fiber.StatusServiceUnavailable, "ALLOCATION_CONFLICT"},
	{domain.ErrSigning, fiber.StatusServiceUnavailable, "SIGNING"},
	{domain.ErrTransport, fiber.StatusBadGateway, "TRANSPORT"},
}

// writeError traduce la taxonomía de dominio a HTTP. Lo no reconocido es 500 y
// se registra; al cliente no le llega el detalle interno.
func writeError(c *fiber.Ctx, log zerolog.Logger, err error) error {
	for _, m := range errorMappings {
		if errors.Is(err, m.target) {
			return c.Status(m.status).JSON(dto.ErrorResponse{Code: m.code, Message: err.Error()})
		}
	}
	log.Error().Err(err).Str("path", c.Path()).Msg("error no controlado")
	return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Code: "INTERNAL", Message: "error interno"})
}

func unauthorized(c *fiber.Ctx) error {
	return c.Status(fiber.StatusUnauthorized).JSON(dto.ErrorResponse{Code: "UNAUTHORIZED", Message: "token inválido"})
}
