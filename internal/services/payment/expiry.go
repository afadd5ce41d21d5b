package payment

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/Windi-Fikriyansyah/platform_be_estate/internal/apperr"
	"github.com/Windi-Fikriyansyah/platform_be_estate/internal/models"
)

const expiryBatch = 100

// ExpireStale re-checks gateway checkouts still pending after ttl. Paid ones
// are completed, and unpaid ones are failed so whatever they reserved goes
// back on sale. It returns how many checkouts were failed.
func (s *Service) ExpireStale(ctx context.Context, ttl time.Duration) (int, error) {
	cutoff := s.Now().Add(-ttl)

	var refs []string
	err := s.DB.WithContext(ctx).Model(&models.Transaction{}).
		Where("status = ? AND payment_method = ? AND created_at < ?", models.TransactionStatusPending, "paystack", cutoff).
		Order("created_at").
		Limit(expiryBatch).
		Pluck("reference", &refs).Error
	if err != nil {
		return 0, err
	}

	failed := 0
	for _, ref := range refs {
		if ctx.Err() != nil {
			return failed, ctx.Err()
		}
		_, err := s.Verify(ctx, ref)
		switch {
		case err == nil, errors.Is(err, apperr.ErrPaymentRefunded):
		case errors.Is(err, apperr.ErrPaymentFailed):
			failed++
		case errors.Is(err, apperr.ErrPaymentPending):
			if err := s.markFailed(ctx, ref, "checkout expired"); err != nil {
				s.Log.Error("Failed to expire checkout", zap.String("reference", ref), zap.Error(err))
				continue
			}
			s.Log.Info("Checkout expired", zap.String("reference", ref))
			failed++
		default:
			s.Log.Warn("Failed to re-check stale checkout", zap.String("reference", ref), zap.Error(err))
		}
	}
	return failed, nil
}

// RunExpiry expires stale checkouts every interval until ctx is done.
func (s *Service) RunExpiry(ctx context.Context, interval, ttl time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.Log.Info("Checkout expiry runner started", zap.Duration("interval", interval), zap.Duration("ttl", ttl))
	for {
		select {
		case <-ctx.Done():
			s.Log.Info("Checkout expiry runner stopped")
			return
		case <-ticker.C:
			n, err := s.ExpireStale(ctx, ttl)
			if err != nil {
				s.Log.Error("Expiring stale checkouts failed", zap.Error(err))
				continue
			}
			if n > 0 {
				s.Log.Info("Expired stale checkouts", zap.Int("count", n))
			}
		}
	}
}
