package payment

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/Windi-Fikriyansyah/platform_be_estate/internal/apperr"
	"github.com/Windi-Fikriyansyah/platform_be_estate/internal/services/paystack"
)

const (
	EventChargeSuccess = "charge.success"

	replayTTL = 24 * time.Hour
)

func replayKey(reference string) string { return "paystack:webhook:" + reference }

// HandleWebhook authenticates a gateway callback by the HMAC-SHA512 of its raw
// body and verifies charge.success references. Other events are acknowledged
// and ignored. A nil error means the delivery should be acknowledged.
func (s *Service) HandleWebhook(ctx context.Context, body []byte, signature string) error {
	if !s.Gateway.ValidateSignature(signature, body) {
		s.Log.Warn("Rejected webhook with invalid signature")
		return apperr.ErrInvalidSignature
	}

	var evt paystack.WebhookEvent
	if err := json.Unmarshal(body, &evt); err != nil {
		return apperr.ErrInvalidRequest
	}
	if evt.Event != EventChargeSuccess {
		s.Log.Info("Ignoring webhook event", zap.String("event", evt.Event))
		return nil
	}
	ref := evt.Data.Reference
	if ref == "" {
		return apperr.ErrInvalidRequest
	}

	if s.RDB != nil {
		fresh, err := s.RDB.SetNX(ctx, replayKey(ref), "1", replayTTL).Result()
		if err != nil {
			s.Log.Warn("Webhook replay guard unavailable", zap.Error(err))
		} else if !fresh {
			s.Log.Info("Duplicate webhook delivery", zap.String("reference", ref))
			return nil
		}
	}

	_, err := s.Verify(ctx, ref)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, apperr.ErrPaymentRefunded):
		return nil
	case errors.Is(err, apperr.ErrTransactionNotFound), errors.Is(err, apperr.ErrPaymentFailed):
		s.Log.Warn("Webhook for unusable transaction", zap.String("reference", ref), zap.Error(err))
		return nil
	default:
		// let the gateway redeliver
		if s.RDB != nil {
			s.RDB.Del(ctx, replayKey(ref))
		}
		return err
	}
}
