package payment

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/Windi-Fikriyansyah/platform_be_estate/internal/apperr"
	"github.com/Windi-Fikriyansyah/platform_be_estate/internal/metrics"
	"github.com/Windi-Fikriyansyah/platform_be_estate/internal/models"
	"github.com/Windi-Fikriyansyah/platform_be_estate/internal/services/ledger"
)

var ErrForeignPayment = apperr.Forbidden("payment was made by another customer")

type FundInput struct {
	UserID    uuid.UUID
	Amount    decimal.Decimal
	Reference string
	Method    string
}

// Fund credits a wallet for a payment the client collected itself under
// in.Reference (the inline checkout). The gateway must report the reference
// as paid in full by the user before the ledger is touched.
func (s *Service) Fund(ctx context.Context, in FundInput) (*models.Transaction, error) {
	t, outcome, err := s.fund(ctx, in)
	metrics.PaymentVerifications.WithLabelValues(outcome).Inc()
	return t, err
}

func (s *Service) fund(ctx context.Context, in FundInput) (*models.Transaction, string, error) {
	ref := strings.TrimSpace(in.Reference)
	if ref == "" {
		return nil, "invalid", apperr.BadRequest("reference is required")
	}
	if in.Amount.LessThan(ledger.MinAmount) {
		return nil, "invalid", apperr.ErrAmountTooSmall
	}

	var user models.User
	if err := s.DB.WithContext(ctx).First(&user, "id = ?", in.UserID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, "invalid", apperr.ErrUserNotFound
		}
		return nil, "error", err
	}
	// a checkout reference is settled through Verify, never here
	exists, err := s.Ledger.ReferenceExists(s.DB.WithContext(ctx), ref)
	if err != nil {
		return nil, "error", err
	}
	if exists {
		return nil, "duplicate", apperr.ErrDuplicateReference
	}

	v, err := s.Gateway.Verify(ctx, ref)
	if err != nil {
		s.Log.Error("Gateway verify failed", zap.String("reference", ref), zap.Error(err))
		return nil, "gateway_error", fmt.Errorf("%w: %v", apperr.ErrGateway, err)
	}
	switch {
	case v.InProgress():
		return nil, "pending", apperr.ErrPaymentPending
	case !v.Succeeded() || !v.Amount.Equal(in.Amount.Round(2)):
		s.Log.Warn("Direct funding rejected",
			zap.String("reference", ref),
			zap.String("gateway_status", v.Status),
			zap.String("paid", v.Amount.StringFixed(2)),
			zap.String("claimed", in.Amount.StringFixed(2)))
		return nil, "failed", apperr.ErrPaymentFailed
	case v.CustomerEmail != "" && !strings.EqualFold(v.CustomerEmail, user.Email):
		s.Log.Warn("Direct funding with another customer's payment",
			zap.String("reference", ref),
			zap.String("user_id", in.UserID.String()))
		return nil, "failed", ErrForeignPayment
	}

	method := in.Method
	if method == "" {
		method = "paystack"
	}
	t, err := s.Ledger.Fund(ctx, ledger.FundInput{
		UserID:      in.UserID,
		Amount:      in.Amount,
		Reference:   ref,
		Method:      method,
		Description: "Wallet funding via Paystack",
	})
	if err != nil {
		return nil, "error", err
	}
	return t, "completed", nil
}
