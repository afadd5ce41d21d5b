package property

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/Windi-Fikriyansyah/platform_be_estate/internal/apperr"
	"github.com/Windi-Fikriyansyah/platform_be_estate/internal/config"
	"github.com/Windi-Fikriyansyah/platform_be_estate/internal/db/dbtest"
	"github.com/Windi-Fikriyansyah/platform_be_estate/internal/events"
	"github.com/Windi-Fikriyansyah/platform_be_estate/internal/models"
	"github.com/Windi-Fikriyansyah/platform_be_estate/internal/realtime"
	"github.com/Windi-Fikriyansyah/platform_be_estate/internal/services/ledger"
	"github.com/Windi-Fikriyansyah/platform_be_estate/internal/services/payment"
	"github.com/Windi-Fikriyansyah/platform_be_estate/internal/services/referral"
)

func setup(t *testing.T) (*Service, *gorm.DB, uuid.UUID) {
	t.Helper()
	gdb := dbtest.Open(t)
	system := dbtest.CreateUser(t, gdb, "system@platform.local", 0)
	l := ledger.NewService(gdb, realtime.NewRecorder(), &events.Recorder{}, zap.NewNop(), system.ID)
	engine := referral.NewEngine(gdb, l, config.DefaultCommission(), system.ID, zap.NewNop())
	return NewService(gdb, l, engine, zap.NewNop()), gdb, system.ID
}

func listProperty(t *testing.T, s *Service, admin uuid.UUID, price int64) *models.Property {
	t.Helper()
	p, err := s.Create(context.Background(), admin, CreateInput{Title: "2-bed flat, Lekki", Location: "Lagos", Price: decimal.NewFromInt(price)})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	return p
}

func TestPurchaseWithWallet_PaysReferrer(t *testing.T) {
	s, gdb, admin := setup(t)
	referrer := dbtest.CreateUser(t, gdb, "ref@test.com", 0)
	buyer := dbtest.CreateUser(t, gdb, "buyer@test.com", 100000)
	dbtest.Refer(t, gdb, referrer.ID, buyer.ID)
	p := listProperty(t, s, admin, 80000)

	tx, err := s.PurchaseWithWallet(context.Background(), buyer.ID, p.ID)
	if err != nil {
		t.Fatalf("PurchaseWithWallet failed: %v", err)
	}
	if tx.Type != models.TxPropertyPurchase || tx.Status != models.TransactionStatusCompleted {
		t.Errorf("unexpected transaction %+v", tx)
	}

	dbtest.AssertAmount(t, "buyer balance", dbtest.Wallet(t, gdb, buyer.ID).Balance, 20000)
	dbtest.AssertAmount(t, "referrer commission", dbtest.Wallet(t, gdb, referrer.ID).Balance, 8000)

	got, _ := s.Get(context.Background(), p.ID)
	if got.Status != models.PropertySold || got.OwnerID == nil || *got.OwnerID != buyer.ID {
		t.Errorf("expected property sold to buyer, got %+v", got)
	}

	other := dbtest.CreateUser(t, gdb, "other@test.com", 100000)
	if _, err := s.PurchaseWithWallet(context.Background(), other.ID, p.ID); !errors.Is(err, apperr.ErrPropertyUnavailable) {
		t.Errorf("expected ErrPropertyUnavailable, got %v", err)
	}
}

func TestPurchaseWithWallet_InsufficientBalance(t *testing.T) {
	s, gdb, admin := setup(t)
	buyer := dbtest.CreateUser(t, gdb, "buyer@test.com", 1000)
	p := listProperty(t, s, admin, 80000)

	if _, err := s.PurchaseWithWallet(context.Background(), buyer.ID, p.ID); !errors.Is(err, apperr.ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
	got, _ := s.Get(context.Background(), p.ID)
	if got.Status != models.PropertyAvailable {
		t.Errorf("expected property still available, got %s", got.Status)
	}
}

func TestGatewayReservation(t *testing.T) {
	s, gdb, admin := setup(t)
	buyer := dbtest.CreateUser(t, gdb, "buyer@test.com", 0)
	p := listProperty(t, s, admin, 80000)
	pid := p.ID

	var tx models.Transaction
	err := gdb.Transaction(func(db *gorm.DB) error {
		tx = models.Transaction{UserID: buyer.ID, Type: models.TxPropertyPurchase, Direction: models.DirectionDebit}
		return s.Prepare(db, &tx, payment.Intent{Type: models.TxPropertyPurchase, PropertyID: &pid})
	})
	if err != nil {
		t.Fatalf("Prepare failed: %v", err)
	}
	dbtest.AssertAmount(t, "amount", tx.Amount, 80000)
	if got, _ := s.Get(context.Background(), pid); got.Status != models.PropertyReserved {
		t.Fatalf("expected reserved, got %s", got.Status)
	}

	if err := s.Fail(gdb, &tx); err != nil {
		t.Fatalf("Fail: %v", err)
	}
	if got, _ := s.Get(context.Background(), pid); got.Status != models.PropertyAvailable {
		t.Fatalf("expected available after Fail, got %s", got.Status)
	}

	if err := s.Fulfill(gdb, &tx); !errors.Is(err, apperr.ErrPropertyUnavailable) {
		t.Errorf("Fulfill without reservation: expected ErrPropertyUnavailable, got %v", err)
	}
	gdb.Model(&models.Property{}).Where("id = ?", pid).Update("status", models.PropertyReserved)
	if err := s.Fulfill(gdb, &tx); err != nil {
		t.Fatalf("Fulfill: %v", err)
	}
	if got, _ := s.Get(context.Background(), pid); got.Status != models.PropertySold {
		t.Errorf("expected sold, got %s", got.Status)
	}
}

func TestList(t *testing.T) {
	s, _, admin := setup(t)
	listProperty(t, s, admin, 1000)
	listProperty(t, s, admin, 2000)

	items, total, err := s.List(context.Background(), models.PropertyAvailable, ledger.Filter{Limit: 1})
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if total != 2 || len(items) != 1 {
		t.Errorf("expected 2 total and 1 item, got %d/%d", total, len(items))
	}
	if _, err := s.Get(context.Background(), uuid.New()); apperr.Status(err) != 404 {
		t.Errorf("expected 404, got %v", err)
	}
}

func TestLocations(t *testing.T) {
	s, gdb, admin := setup(t)
	listProperty(t, s, admin, 1000)
	listProperty(t, s, admin, 2000)
	sold, err := s.Create(context.Background(), admin, CreateInput{Title: "Duplex", Location: "Abuja", Price: decimal.NewFromInt(5000)})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	gdb.Model(sold).Update("status", models.PropertySold)

	locs, err := s.Locations(context.Background())
	if err != nil {
		t.Fatalf("Locations failed: %v", err)
	}
	if len(locs) != 1 || locs[0] != "Lagos" {
		t.Errorf("expected [Lagos], got %v", locs)
	}
}

func TestRevive(t *testing.T) {
	s, gdb, admin := setup(t)
	buyer := dbtest.CreateUser(t, gdb, "buyer@test.com", 0)
	p := listProperty(t, s, admin, 80000)
	pid := p.ID
	tx := models.Transaction{UserID: buyer.ID, Type: models.TxPropertyPurchase, PropertyID: &pid}

	if err := s.Revive(gdb, &tx); err != nil {
		t.Fatalf("Revive: %v", err)
	}
	if got, _ := s.Get(context.Background(), pid); got.Status != models.PropertyReserved {
		t.Fatalf("expected reserved, got %s", got.Status)
	}

	// held by someone else by now
	if err := s.Revive(gdb, &tx); !errors.Is(err, apperr.ErrReservationLost) {
		t.Errorf("expected ErrReservationLost, got %v", err)
	}
}
