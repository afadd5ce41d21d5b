package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/Windi-Fikriyansyah/platform_be_estate/internal/models"
	"github.com/Windi-Fikriyansyah/platform_be_estate/internal/utils"
)

// BootstrapSystemAccount resolves the platform escrow account. A configured id
// must exist; otherwise the system user with email is found or created, with
// its wallet.
func BootstrapSystemAccount(ctx context.Context, db *gorm.DB, configuredID, email string) (uuid.UUID, error) {
	if configuredID != "" {
		id, err := uuid.Parse(configuredID)
		if err != nil {
			return uuid.Nil, fmt.Errorf("invalid SYSTEM_USER_ID: %w", err)
		}
		var u models.User
		if err := db.WithContext(ctx).First(&u, "id = ?", id).Error; err != nil {
			return uuid.Nil, fmt.Errorf("system user %s: %w", id, err)
		}
		return id, ensureWallet(ctx, db, id)
	}

	var u models.User
	err := db.WithContext(ctx).Where("email = ?", email).First(&u).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		hash, herr := utils.HashPassword(uuid.NewString())
		if herr != nil {
			return uuid.Nil, herr
		}
		u = models.User{
			Name:         "Platform Escrow",
			Email:        email,
			Password:     hash,
			Role:         models.RoleSystem,
			IsActive:     true,
			ReferralCode: utils.NewReferralCode(),
		}
		err = db.WithContext(ctx).Create(&u).Error
	}
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to resolve system account: %w", err)
	}
	return u.ID, ensureWallet(ctx, db, u.ID)
}

func ensureWallet(ctx context.Context, db *gorm.DB, userID uuid.UUID) error {
	s := &Service{}
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		_, err := s.FindOrCreateWallet(tx, userID)
		return err
	})
}
