package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/Windi-Fikriyansyah/platform_be_estate/internal/models"
	"github.com/Windi-Fikriyansyah/platform_be_estate/internal/services/marketplace"
	"github.com/Windi-Fikriyansyah/platform_be_estate/internal/utils"
)

type MarketplaceHandler struct {
	Market *marketplace.Service
	Log    *zap.Logger
}

func NewMarketplaceHandler(m *marketplace.Service, log *zap.Logger) *MarketplaceHandler {
	return &MarketplaceHandler{Market: m, Log: log}
}

func (h *MarketplaceHandler) List(c *fiber.Ctx) error {
	f, err := pageFilter(c)
	if err != nil {
		return fail(c, h.Log, err)
	}
	status := models.ListingStatus(c.Query("status", string(models.ListingActive)))
	items, total, err := h.Market.List(c.UserContext(), status, f)
	if err != nil {
		return fail(c, h.Log, err)
	}
	return ok(c, fiber.StatusOK, "", paged(items, total, f))
}

func (h *MarketplaceHandler) Get(c *fiber.Ctx) error {
	id, err := paramUUID(c, "id")
	if err != nil {
		return fail(c, h.Log, err)
	}
	l, err := h.Market.Get(c.UserContext(), id)
	if err != nil {
		return fail(c, h.Log, err)
	}
	return ok(c, fiber.StatusOK, "", l)
}

type CreateListingReq struct {
	PropertyID  string          `json:"propertyId" validate:"omitempty,uuid"`
	Title       string          `json:"title" validate:"required"`
	Description string          `json:"description"`
	UnitPrice   decimal.Decimal `json:"unitPrice"`
	Quantity    int             `json:"quantity" validate:"required,min=1"`
}

func (h *MarketplaceHandler) Create(c *fiber.Ctx) error {
	uid, err := currentUser(c)
	if err != nil {
		return fail(c, h.Log, err)
	}
	var req CreateListingReq
	if err := c.BodyParser(&req); err != nil {
		return badBody(c)
	}
	if errs := utils.ValidateStruct(req); errs != nil {
		return validationFail(c, errs)
	}

	l, err := h.Market.CreateListing(c.UserContext(), uid, marketplace.CreateListingInput{
		PropertyID:  optionalUUID(req.PropertyID),
		Title:       req.Title,
		Description: req.Description,
		UnitPrice:   req.UnitPrice,
		Quantity:    req.Quantity,
	})
	if err != nil {
		return fail(c, h.Log, err)
	}
	return ok(c, fiber.StatusCreated, "Listing created", l)
}

type PurchaseListingReq struct {
	Quantity int `json:"quantity" validate:"required,min=1"`
}

func (h *MarketplaceHandler) Purchase(c *fiber.Ctx) error {
	uid, err := currentUser(c)
	if err != nil {
		return fail(c, h.Log, err)
	}
	id, err := paramUUID(c, "id")
	if err != nil {
		return fail(c, h.Log, err)
	}
	var req PurchaseListingReq
	if err := c.BodyParser(&req); err != nil {
		return badBody(c)
	}
	if errs := utils.ValidateStruct(req); errs != nil {
		return validationFail(c, errs)
	}

	res, err := h.Market.Purchase(c.UserContext(), uid, id, req.Quantity)
	if err != nil {
		return fail(c, h.Log, err)
	}
	return ok(c, fiber.StatusCreated, "Purchase successful", res)
}
