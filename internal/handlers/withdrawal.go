package handlers

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/Windi-Fikriyansyah/platform_be_estate/internal/services/withdrawal"
)

type WithdrawalHandler struct {
	Workflow *withdrawal.Workflow
	Log      *zap.Logger
}

func NewWithdrawalHandler(w *withdrawal.Workflow, log *zap.Logger) *WithdrawalHandler {
	return &WithdrawalHandler{Workflow: w, Log: log}
}

func (h *WithdrawalHandler) Pending(c *fiber.Ctx) error {
	f, err := pageFilter(c)
	if err != nil {
		return fail(c, h.Log, err)
	}
	page, err := h.Workflow.ListPending(c.UserContext(), f)
	if err != nil {
		return fail(c, h.Log, err)
	}
	return ok(c, fiber.StatusOK, "", page)
}

func (h *WithdrawalHandler) Approve(c *fiber.Ctx) error {
	adminID, err := currentUser(c)
	if err != nil {
		return fail(c, h.Log, err)
	}
	id, err := paramUUID(c, "id")
	if err != nil {
		return fail(c, h.Log, err)
	}

	t, err := h.Workflow.Approve(c.UserContext(), id, adminID)
	if err != nil {
		return fail(c, h.Log, err)
	}
	return ok(c, fiber.StatusOK, "Withdrawal approved", t)
}

type RejectReq struct {
	Note   string `json:"note"`
	Reason string `json:"reason"`
}

func (h *WithdrawalHandler) Reject(c *fiber.Ctx) error {
	adminID, err := currentUser(c)
	if err != nil {
		return fail(c, h.Log, err)
	}
	id, err := paramUUID(c, "id")
	if err != nil {
		return fail(c, h.Log, err)
	}
	var req RejectReq
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return badBody(c)
		}
	}
	note := strings.TrimSpace(req.Note)
	if note == "" {
		note = strings.TrimSpace(req.Reason)
	}

	t, err := h.Workflow.Reject(c.UserContext(), id, adminID, note)
	if err != nil {
		return fail(c, h.Log, err)
	}
	return ok(c, fiber.StatusOK, "Withdrawal rejected", t)
}
