package handlers

import (
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/Windi-Fikriyansyah/platform_be_estate/internal/services/referral"
)

type ReferralHandler struct {
	Engine *referral.Engine
	Log    *zap.Logger
}

func NewReferralHandler(e *referral.Engine, log *zap.Logger) *ReferralHandler {
	return &ReferralHandler{Engine: e, Log: log}
}

func (h *ReferralHandler) Stats(c *fiber.Ctx) error {
	uid, err := currentUser(c)
	if err != nil {
		return fail(c, h.Log, err)
	}
	stats, err := h.Engine.Stats(c.UserContext(), uid)
	if err != nil {
		return fail(c, h.Log, err)
	}
	return ok(c, fiber.StatusOK, "", stats)
}

// FailedCommissions lists the commission levels that could not be paid.
// ?resolved=true shows the ones already retried.
func (h *ReferralHandler) FailedCommissions(c *fiber.Ctx) error {
	f, err := pageFilter(c)
	if err != nil {
		return fail(c, h.Log, err)
	}
	items, total, err := h.Engine.ListFailed(c.UserContext(), c.QueryBool("resolved", false), f)
	if err != nil {
		return fail(c, h.Log, err)
	}
	return ok(c, fiber.StatusOK, "", paged(items, total, f))
}

func (h *ReferralHandler) RetryFailed(c *fiber.Ctx) error {
	id, err := paramUUID(c, "id")
	if err != nil {
		return fail(c, h.Log, err)
	}
	t, err := h.Engine.RetryFailed(c.UserContext(), id)
	if err != nil {
		return fail(c, h.Log, err)
	}
	return ok(c, fiber.StatusOK, "Commission paid", t)
}
