package handlers

import (
	"context"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/Windi-Fikriyansyah/platform_be_estate/internal/models"
	"github.com/Windi-Fikriyansyah/platform_be_estate/internal/services/investment"
	"github.com/Windi-Fikriyansyah/platform_be_estate/internal/utils"
)

type InvestmentHandler struct {
	Investments *investment.Service
	Log         *zap.Logger
}

func NewInvestmentHandler(s *investment.Service, log *zap.Logger) *InvestmentHandler {
	return &InvestmentHandler{Investments: s, Log: log}
}

func (h *InvestmentHandler) ListPlans(c *fiber.Ctx) error {
	plans, err := h.Investments.ListPlans(c.UserContext(), true)
	if err != nil {
		return fail(c, h.Log, err)
	}
	return ok(c, fiber.StatusOK, "", plans)
}

type CreatePlanReq struct {
	Name            string          `json:"name" validate:"required"`
	Description     string          `json:"description"`
	MinAmount       decimal.Decimal `json:"minAmount"`
	MaxAmount       decimal.Decimal `json:"maxAmount"`
	ROIPercent      decimal.Decimal `json:"roiPercent"`
	DurationDays    int             `json:"durationDays" validate:"required,min=1"`
	PayoutFrequency string          `json:"payoutFrequency" validate:"omitempty,oneof=monthly maturity"`
}

func (h *InvestmentHandler) CreatePlan(c *fiber.Ctx) error {
	var req CreatePlanReq
	if err := c.BodyParser(&req); err != nil {
		return badBody(c)
	}
	if errs := utils.ValidateStruct(req); errs != nil {
		return validationFail(c, errs)
	}

	p, err := h.Investments.CreatePlan(c.UserContext(), investment.PlanInput{
		Name:            req.Name,
		Description:     req.Description,
		MinAmount:       req.MinAmount,
		MaxAmount:       req.MaxAmount,
		ROIPercent:      req.ROIPercent,
		DurationDays:    req.DurationDays,
		PayoutFrequency: models.PayoutFrequency(req.PayoutFrequency),
	})
	if err != nil {
		return fail(c, h.Log, err)
	}
	return ok(c, fiber.StatusCreated, "Plan created", p)
}

type InvestReq struct {
	PlanID string          `json:"planId" validate:"required,uuid"`
	Amount decimal.Decimal `json:"amount"`
}

func (h *InvestmentHandler) Invest(c *fiber.Ctx) error {
	uid, err := currentUser(c)
	if err != nil {
		return fail(c, h.Log, err)
	}
	var req InvestReq
	if err := c.BodyParser(&req); err != nil {
		return badBody(c)
	}
	if errs := utils.ValidateStruct(req); errs != nil {
		return validationFail(c, errs)
	}

	inv, err := h.Investments.Invest(c.UserContext(), uid, uuid.MustParse(req.PlanID), req.Amount)
	if err != nil {
		return fail(c, h.Log, err)
	}
	return ok(c, fiber.StatusCreated, "Investment started", inv)
}

func (h *InvestmentHandler) List(c *fiber.Ctx) error {
	uid, err := currentUser(c)
	if err != nil {
		return fail(c, h.Log, err)
	}
	f, err := pageFilter(c)
	if err != nil {
		return fail(c, h.Log, err)
	}
	items, total, err := h.Investments.ListForUser(c.UserContext(), uid, f)
	if err != nil {
		return fail(c, h.Log, err)
	}
	return ok(c, fiber.StatusOK, "", paged(items, total, f))
}

func (h *InvestmentHandler) Schedule(c *fiber.Ctx) error {
	uid, err := currentUser(c)
	if err != nil {
		return fail(c, h.Log, err)
	}
	id, err := paramUUID(c, "id")
	if err != nil {
		return fail(c, h.Log, err)
	}
	schedule, err := h.Investments.Schedule(c.UserContext(), uid, id)
	if err != nil {
		return fail(c, h.Log, err)
	}
	return ok(c, fiber.StatusOK, "", schedule)
}

func (h *InvestmentHandler) Approve(c *fiber.Ctx) error {
	return h.adminAction(c, "Investment approved", h.Investments.Approve)
}

func (h *InvestmentHandler) Cancel(c *fiber.Ctx) error {
	return h.adminAction(c, "Investment cancelled", h.Investments.Cancel)
}

type investmentAction func(ctx context.Context, id, adminID uuid.UUID) (*models.UserInvestment, error)

func (h *InvestmentHandler) adminAction(c *fiber.Ctx, msg string, action investmentAction) error {
	adminID, err := currentUser(c)
	if err != nil {
		return fail(c, h.Log, err)
	}
	id, err := paramUUID(c, "id")
	if err != nil {
		return fail(c, h.Log, err)
	}
	inv, err := action(c.UserContext(), id, adminID)
	if err != nil {
		return fail(c, h.Log, err)
	}
	return ok(c, fiber.StatusOK, msg, inv)
}
