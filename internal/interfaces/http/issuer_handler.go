package http

import (
	"github.com/gofiber/fiber/v2"

	"github.com/jhoicas/fiscal-api/internal/application/dto"
	"github.com/jhoicas/fiscal-api/internal/application/usecase"
)

// IssuerHandler alta y perfil del emisor.
type IssuerHandler struct {
	uc *usecase.IssuerUseCase
}

// NewIssuerHandler construye el handler.
func NewIssuerHandler(uc *usecase.IssuerUseCase) *IssuerHandler {
	return &IssuerHandler{uc: uc}
}

// Register crea un emisor y su operador admin.
// POST /api/issuers
func (h *IssuerHandler) Register(c *fiber.Ctx) error {
	var in dto.RegisterIssuerRequest
	if err := c.BodyParser(&in); err != nil {
		return badBody(c)
	}
	out, err := h.uc.Register(c.UserContext(), in)
	if err != nil {
		return writeError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(out)
}

// Me perfil del emisor del token.
// GET /api/issuers/me
func (h *IssuerHandler) Me(c *fiber.Ctx) error {
	out, err := h.uc.GetByID(c.UserContext(), GetIssuerID(c))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(out)
}

// Update modifica el perfil del emisor del token.
// PATCH /api/issuers/me (admin)
func (h *IssuerHandler) Update(c *fiber.Ctx) error {
	var in dto.UpdateIssuerRequest
	if err := c.BodyParser(&in); err != nil {
		return badBody(c)
	}
	out, err := h.uc.Update(c.UserContext(), GetIssuerID(c), in)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(out)
}
