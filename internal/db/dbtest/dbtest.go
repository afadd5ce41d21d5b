// Package dbtest opens migrated in-memory SQLite databases for package tests.
package dbtest

import (
	"fmt"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/Windi-Fikriyansyah/platform_be_estate/internal/models"
)

// Open returns a fresh migrated database private to t.
func Open(t *testing.T) *gorm.DB {
	t.Helper()

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s_%s?mode=memory&cache=shared", name, uuid.NewString()[:8])

	gdb, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}

	sqlDB, err := gdb.DB()
	if err != nil {
		t.Fatalf("Failed to get sql.DB: %v", err)
	}
	// one connection: SQLite has no row locks and the shared cache would
	// otherwise report "table is locked" for concurrent writers
	sqlDB.SetMaxOpenConns(1)

	if err := gdb.AutoMigrate(models.AllModels()...); err != nil {
		t.Fatalf("Failed to migrate test database: %v", err)
	}

	t.Cleanup(func() { sqlDB.Close() })
	return gdb
}

// CreateUser inserts a user with a wallet holding the given available balance.
func CreateUser(t *testing.T, gdb *gorm.DB, email string, balance int64) models.User {
	t.Helper()

	u := models.User{
		Name:         email,
		Email:        email,
		Password:     "x",
		Role:         models.RoleUser,
		IsActive:     true,
		ReferralCode: strings.ToUpper(uuid.NewString()[:8]),
	}
	if err := gdb.Create(&u).Error; err != nil {
		t.Fatalf("Failed to create user %s: %v", email, err)
	}

	amt := decimal.NewFromInt(balance)
	w := models.Wallet{UserID: u.ID, Balance: amt, AvailableBalance: amt, PendingBalance: decimal.Zero}
	if err := gdb.Create(&w).Error; err != nil {
		t.Fatalf("Failed to create wallet for %s: %v", email, err)
	}
	return u
}

// Wallet reloads the wallet of userID.
func Wallet(t *testing.T, gdb *gorm.DB, userID uuid.UUID) models.Wallet {
	t.Helper()

	var w models.Wallet
	if err := gdb.Where("user_id = ?", userID).First(&w).Error; err != nil {
		t.Fatalf("Failed to load wallet for %s: %v", userID, err)
	}
	return w
}

// Refer records referrer -> referred.
func Refer(t *testing.T, gdb *gorm.DB, referrer, referred uuid.UUID) {
	t.Helper()

	r := models.Referral{ReferrerID: referrer, ReferredID: referred, Status: models.ReferralPending, Earnings: decimal.Zero}
	if err := gdb.Create(&r).Error; err != nil {
		t.Fatalf("Failed to create referral: %v", err)
	}
	if err := gdb.Model(&models.User{}).Where("id = ?", referred).Update("referred_by", referrer).Error; err != nil {
		t.Fatalf("Failed to set referred_by: %v", err)
	}
}

// AssertAmount fails when got != want.
func AssertAmount(t *testing.T, label string, got decimal.Decimal, want int64) {
	t.Helper()
	if !got.Equal(decimal.NewFromInt(want)) {
		t.Errorf("%s: expected %d, got %s", label, want, got.String())
	}
}
