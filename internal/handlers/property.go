package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/Windi-Fikriyansyah/platform_be_estate/internal/models"
	"github.com/Windi-Fikriyansyah/platform_be_estate/internal/services/property"
	"github.com/Windi-Fikriyansyah/platform_be_estate/internal/utils"
)

type PropertyHandler struct {
	Properties *property.Service
	Log        *zap.Logger
}

func NewPropertyHandler(p *property.Service, log *zap.Logger) *PropertyHandler {
	return &PropertyHandler{Properties: p, Log: log}
}

func (h *PropertyHandler) List(c *fiber.Ctx) error {
	f, err := pageFilter(c)
	if err != nil {
		return fail(c, h.Log, err)
	}
	items, total, err := h.Properties.List(c.UserContext(), models.PropertyStatus(c.Query("status")), f)
	if err != nil {
		return fail(c, h.Log, err)
	}
	return ok(c, fiber.StatusOK, "", paged(items, total, f))
}

func (h *PropertyHandler) Locations(c *fiber.Ctx) error {
	locs, err := h.Properties.Locations(c.UserContext())
	if err != nil {
		return fail(c, h.Log, err)
	}
	return ok(c, fiber.StatusOK, "", locs)
}

func (h *PropertyHandler) Get(c *fiber.Ctx) error {
	id, err := paramUUID(c, "id")
	if err != nil {
		return fail(c, h.Log, err)
	}
	p, err := h.Properties.Get(c.UserContext(), id)
	if err != nil {
		return fail(c, h.Log, err)
	}
	return ok(c, fiber.StatusOK, "", p)
}

type CreatePropertyReq struct {
	Title       string          `json:"title" validate:"required"`
	Description string          `json:"description"`
	Location    string          `json:"location" validate:"required"`
	Price       decimal.Decimal `json:"price"`
}

func (h *PropertyHandler) Create(c *fiber.Ctx) error {
	adminID, err := currentUser(c)
	if err != nil {
		return fail(c, h.Log, err)
	}
	var req CreatePropertyReq
	if err := c.BodyParser(&req); err != nil {
		return badBody(c)
	}
	if errs := utils.ValidateStruct(req); errs != nil {
		return validationFail(c, errs)
	}

	p, err := h.Properties.Create(c.UserContext(), adminID, property.CreateInput{
		Title:       req.Title,
		Description: req.Description,
		Location:    req.Location,
		Price:       req.Price,
	})
	if err != nil {
		return fail(c, h.Log, err)
	}
	return ok(c, fiber.StatusCreated, "Property listed", p)
}

func (h *PropertyHandler) Purchase(c *fiber.Ctx) error {
	uid, err := currentUser(c)
	if err != nil {
		return fail(c, h.Log, err)
	}
	id, err := paramUUID(c, "id")
	if err != nil {
		return fail(c, h.Log, err)
	}

	t, err := h.Properties.PurchaseWithWallet(c.UserContext(), uid, id)
	if err != nil {
		return fail(c, h.Log, err)
	}
	return ok(c, fiber.StatusCreated, "Property purchased", t)
}
