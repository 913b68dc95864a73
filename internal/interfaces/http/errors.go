package http

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/jhoicas/fiscal-api/internal/application/dto"
	"github.com/jhoicas/fiscal-api/internal/domain"
	"github.com/jhoicas/fiscal-api/internal/domain/fiscal"
)

// ValidationErrorResponse 422 con las violaciones detectadas.
type ValidationErrorResponse struct {
	Code       string             `json:"code"`
	Message    string             `json:"message"`
	Violations []fiscal.Violation `json:"violations"`
}

// AuthorityErrorResponse 422 con el código crudo de la autoridad.
type AuthorityErrorResponse struct {
	Code          string                `json:"code"`
	Message       string                `json:"message"`
	AuthorityCode string                `json:"authority_code"`
	Document      *dto.DocumentResponse `json:"document,omitempty"`
}

// writeError traduce errores de dominio y fiscales a la respuesta HTTP.
func writeError(c *fiber.Ctx, err error) error {
	var (
		validation  *fiscal.ValidationFailure
		rejection   *fiscal.AuthorityRejection
		unavailable *fiscal.AuthorityUnavailableError
		transition  *fiscal.InvalidTransitionError
		concurrent  *fiscal.ConcurrentModificationError
		serialize   *fiscal.SerializationError
		keyInput    *fiscal.InvalidInputError
	)
	switch {
	case errors.As(err, &validation):
		resp := ValidationErrorResponse{Code: "VALIDATION_FAILED", Message: "el documento no cumple las reglas fiscales"}
		if validation.Result != nil {
			resp.Violations = validation.Result.Violations
		}
		return c.Status(fiber.StatusUnprocessableEntity).JSON(resp)
	case errors.As(err, &rejection):
		return c.Status(fiber.StatusUnprocessableEntity).JSON(AuthorityErrorResponse{
			Code: "AUTHORITY_REJECTED", Message: rejection.Reason, AuthorityCode: rejection.Code,
		})
	case errors.As(err, &unavailable):
		return c.Status(fiber.StatusServiceUnavailable).JSON(dto.ErrorResponse{Code: "AUTHORITY_UNAVAILABLE", Message: unavailable.Error()})
	case errors.As(err, &transition):
		return c.Status(fiber.StatusConflict).JSON(dto.ErrorResponse{Code: "INVALID_TRANSITION", Message: transition.Error()})
	case errors.As(err, &concurrent):
		return c.Status(fiber.StatusConflict).JSON(dto.ErrorResponse{Code: "CONCURRENT_MODIFICATION", Message: "el documento fue modificado por otra operación, reintente"})
	case errors.As(err, &serialize):
		return c.Status(fiber.StatusConflict).JSON(dto.ErrorResponse{Code: "NOT_SERIALIZABLE", Message: serialize.Error()})
	case errors.As(err, &keyInput):
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Code: "INVALID_KEY_INPUT", Message: keyInput.Error()})
	case errors.Is(err, domain.ErrNotFound), errors.Is(err, domain.ErrUserNotFound):
		return c.Status(fiber.StatusNotFound).JSON(dto.ErrorResponse{Code: "NOT_FOUND", Message: "recurso no encontrado"})
	case errors.Is(err, domain.ErrForbidden):
		return c.Status(fiber.StatusForbidden).JSON(dto.ErrorResponse{Code: "FORBIDDEN", Message: "acceso denegado"})
	case errors.Is(err, domain.ErrIssuerInactive):
		return c.Status(fiber.StatusForbidden).JSON(dto.ErrorResponse{Code: "ISSUER_INACTIVE", Message: "el emisor está suspendido"})
	case errors.Is(err, domain.ErrUnauthorized):
		return c.Status(fiber.StatusUnauthorized).JSON(dto.ErrorResponse{Code: "UNAUTHORIZED", Message: "credenciales inválidas"})
	case errors.Is(err, domain.ErrEmailAlreadyExists):
		return c.Status(fiber.StatusConflict).JSON(dto.ErrorResponse{Code: "EMAIL_EXISTS", Message: "el email ya está registrado"})
	case errors.Is(err, domain.ErrDuplicate):
		return c.Status(fiber.StatusConflict).JSON(dto.ErrorResponse{Code: "DUPLICATE", Message: err.Error()})
	case errors.Is(err, domain.ErrConflict):
		return c.Status(fiber.StatusConflict).JSON(dto.ErrorResponse{Code: "CONFLICT", Message: err.Error()})
	case errors.Is(err, domain.ErrInvalidInput):
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Code: "VALIDATION", Message: err.Error()})
	}
	return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Code: "INTERNAL", Message: err.Error()})
}

func badBody(c *fiber.Ctx) error {
	return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Code: "INVALID_BODY", Message: "cuerpo inválido"})
}
