package handlers

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/Windi-Fikriyansyah/platform_be_estate/internal/apperr"
	"github.com/Windi-Fikriyansyah/platform_be_estate/internal/models"
	"github.com/Windi-Fikriyansyah/platform_be_estate/internal/services/payment"
	"github.com/Windi-Fikriyansyah/platform_be_estate/internal/utils"
)

// SignatureHeader carries the HMAC-SHA512 of a Paystack webhook body.
const SignatureHeader = "x-paystack-signature"

type PaymentHandler struct {
	Payments *payment.Service
	Log      *zap.Logger
}

func NewPaymentHandler(p *payment.Service, log *zap.Logger) *PaymentHandler {
	return &PaymentHandler{Payments: p, Log: log}
}

type InitializePaymentReq struct {
	Type       string          `json:"type" validate:"required,oneof=deposit property_purchase investment payment"`
	Amount     decimal.Decimal `json:"amount"`
	PropertyID string          `json:"propertyId" validate:"omitempty,uuid"`
	ListingID  string          `json:"listingId" validate:"omitempty,uuid"`
	PlanID     string          `json:"planId" validate:"omitempty,uuid"`
	Quantity   int             `json:"quantity" validate:"omitempty,min=1"`
}

func (h *PaymentHandler) Initialize(c *fiber.Ctx) error {
	uid, err := currentUser(c)
	if err != nil {
		return fail(c, h.Log, err)
	}
	var req InitializePaymentReq
	if err := c.BodyParser(&req); err != nil {
		return badBody(c)
	}
	req.Type = strings.TrimSpace(req.Type)
	if errs := utils.ValidateStruct(req); errs != nil {
		return validationFail(c, errs)
	}

	checkout, err := h.Payments.Initialize(c.UserContext(), uid, payment.Intent{
		Type:       models.TransactionType(req.Type),
		Amount:     req.Amount,
		PropertyID: optionalUUID(req.PropertyID),
		ListingID:  optionalUUID(req.ListingID),
		PlanID:     optionalUUID(req.PlanID),
		Quantity:   req.Quantity,
	})
	if err != nil {
		return fail(c, h.Log, err)
	}
	return ok(c, fiber.StatusCreated, "Payment initialized", checkout)
}

func (h *PaymentHandler) Verify(c *fiber.Ctx) error {
	uid, err := currentUser(c)
	if err != nil {
		return fail(c, h.Log, err)
	}
	ref := strings.TrimSpace(c.Params("reference"))
	if ref == "" {
		return fail(c, h.Log, apperr.BadRequest("reference is required"))
	}

	// another user's reference must not reach the gateway
	owned, err := h.Payments.Lookup(c.UserContext(), ref)
	if err != nil {
		return fail(c, h.Log, err)
	}
	if owned.UserID != uid {
		return fail(c, h.Log, apperr.ErrTransactionNotFound)
	}

	t, err := h.Payments.Verify(c.UserContext(), ref)
	if err != nil {
		return fail(c, h.Log, err)
	}
	return ok(c, fiber.StatusOK, "Payment verified", t)
}

// Webhook receives Paystack events. The raw body is needed untouched for
// the signature check.
func (h *PaymentHandler) Webhook(c *fiber.Ctx) error {
	signature := c.Get(SignatureHeader)
	if signature == "" {
		return fail(c, h.Log, apperr.ErrInvalidSignature)
	}

	body := append([]byte(nil), c.Body()...)
	if err := h.Payments.HandleWebhook(c.UserContext(), body, signature); err != nil {
		return fail(c, h.Log, err)
	}
	return c.JSON(fiber.Map{"success": true})
}

func optionalUUID(s string) *uuid.UUID {
	if s == "" {
		return nil
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return nil
	}
	return &id
}
