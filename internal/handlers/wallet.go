package handlers

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/Windi-Fikriyansyah/platform_be_estate/internal/apperr"
	"github.com/Windi-Fikriyansyah/platform_be_estate/internal/models"
	"github.com/Windi-Fikriyansyah/platform_be_estate/internal/services/ledger"
	"github.com/Windi-Fikriyansyah/platform_be_estate/internal/services/payment"
	"github.com/Windi-Fikriyansyah/platform_be_estate/internal/services/withdrawal"
	"github.com/Windi-Fikriyansyah/platform_be_estate/internal/utils"
)

type WalletHandler struct {
	DB          *gorm.DB
	Ledger      *ledger.Service
	Withdrawals *withdrawal.Workflow
	Payments    *payment.Service
	Log         *zap.Logger
}

func NewWalletHandler(db *gorm.DB, l *ledger.Service, w *withdrawal.Workflow, p *payment.Service, log *zap.Logger) *WalletHandler {
	return &WalletHandler{DB: db, Ledger: l, Withdrawals: w, Payments: p, Log: log}
}

func (h *WalletHandler) Get(c *fiber.Ctx) error {
	uid, err := currentUser(c)
	if err != nil {
		return fail(c, h.Log, err)
	}
	w, err := h.Ledger.GetWallet(c.UserContext(), uid)
	if err != nil {
		return fail(c, h.Log, err)
	}
	return ok(c, fiber.StatusOK, "", w)
}

type FundReq struct {
	Amount        decimal.Decimal `json:"amount"`
	Reference     string          `json:"reference" validate:"required"`
	PaymentMethod string          `json:"paymentMethod"`
}

// Fund credits the wallet for a payment the client already collected under
// reference; the gateway is asked to confirm it first.
func (h *WalletHandler) Fund(c *fiber.Ctx) error {
	uid, err := currentUser(c)
	if err != nil {
		return fail(c, h.Log, err)
	}
	var req FundReq
	if err := c.BodyParser(&req); err != nil {
		return badBody(c)
	}
	req.Reference = strings.TrimSpace(req.Reference)
	if errs := utils.ValidateStruct(req); errs != nil {
		return validationFail(c, errs)
	}

	t, err := h.Payments.Fund(c.UserContext(), payment.FundInput{
		UserID:    uid,
		Amount:    req.Amount,
		Reference: req.Reference,
		Method:    req.PaymentMethod,
	})
	if err != nil {
		return fail(c, h.Log, err)
	}
	return h.withWallet(c, fiber.StatusCreated, "Wallet funded", uid, t)
}

// withWallet answers with the transaction and the wallet it moved.
func (h *WalletHandler) withWallet(c *fiber.Ctx, status int, msg string, userID uuid.UUID, t *models.Transaction) error {
	w, err := h.Ledger.GetWallet(c.UserContext(), userID)
	if err != nil {
		return fail(c, h.Log, err)
	}
	return ok(c, status, msg, fiber.Map{"transaction": t, "wallet": w})
}

type AdminFundReq struct {
	Amount      decimal.Decimal `json:"amount"`
	Reference   string          `json:"reference"`
	Method      string          `json:"method"`
	Description string          `json:"description"`
}

// AdminFund credits a user's wallet for money received outside the gateway.
func (h *WalletHandler) AdminFund(c *fiber.Ctx) error {
	userID, err := paramUUID(c, "userId")
	if err != nil {
		return fail(c, h.Log, err)
	}
	var req AdminFundReq
	if err := c.BodyParser(&req); err != nil {
		return badBody(c)
	}
	if req.Method == "" {
		req.Method = "manual"
	}

	t, err := h.Ledger.Fund(c.UserContext(), ledger.FundInput{
		UserID:      userID,
		Amount:      req.Amount,
		Reference:   strings.TrimSpace(req.Reference),
		Method:      req.Method,
		Description: req.Description,
	})
	if err != nil {
		return fail(c, h.Log, err)
	}
	return h.withWallet(c, fiber.StatusCreated, "Wallet funded", userID, t)
}

type WithdrawReq struct {
	Amount        decimal.Decimal `json:"amount"`
	BankAccountID string          `json:"bankAccountId" validate:"required,uuid"`
	Note          string          `json:"note"`
}

func (h *WalletHandler) Withdraw(c *fiber.Ctx) error {
	uid, err := currentUser(c)
	if err != nil {
		return fail(c, h.Log, err)
	}
	var req WithdrawReq
	if err := c.BodyParser(&req); err != nil {
		return badBody(c)
	}
	if errs := utils.ValidateStruct(req); errs != nil {
		return validationFail(c, errs)
	}

	t, err := h.Withdrawals.Create(c.UserContext(), ledger.WithdrawInput{
		UserID:        uid,
		Amount:        req.Amount,
		BankAccountID: uuid.MustParse(req.BankAccountID),
		Note:          req.Note,
	})
	if err != nil {
		return fail(c, h.Log, err)
	}
	return h.withWallet(c, fiber.StatusCreated, "Withdrawal request submitted", uid, t)
}

type TransferReq struct {
	RecipientID    string          `json:"recipientId" validate:"omitempty,uuid"`
	RecipientEmail string          `json:"recipientEmail" validate:"omitempty,email"`
	Amount         decimal.Decimal `json:"amount"`
	Note           string          `json:"note"`
}

func (h *WalletHandler) Transfer(c *fiber.Ctx) error {
	uid, err := currentUser(c)
	if err != nil {
		return fail(c, h.Log, err)
	}
	var req TransferReq
	if err := c.BodyParser(&req); err != nil {
		return badBody(c)
	}
	req.RecipientEmail = strings.ToLower(strings.TrimSpace(req.RecipientEmail))
	if errs := utils.ValidateStruct(req); errs != nil {
		return validationFail(c, errs)
	}
	if req.RecipientID == "" && req.RecipientEmail == "" {
		errs := utils.FieldErrors{}
		errs.Add("recipientId", "recipientId or recipientEmail is required")
		return validationFail(c, errs)
	}

	recipient, err := h.resolveRecipient(req)
	if err != nil {
		return fail(c, h.Log, err)
	}

	res, err := h.Ledger.Transfer(c.UserContext(), ledger.TransferInput{
		SenderID:    uid,
		RecipientID: recipient,
		Amount:      req.Amount,
		Note:        req.Note,
	})
	if err != nil {
		return fail(c, h.Log, err)
	}
	return ok(c, fiber.StatusCreated, "Transfer successful", res)
}

func (h *WalletHandler) resolveRecipient(req TransferReq) (uuid.UUID, error) {
	if req.RecipientID != "" {
		return uuid.MustParse(req.RecipientID), nil
	}
	var u models.User
	err := h.DB.Select("id").Where("email = ? AND role = ?", req.RecipientEmail, models.RoleUser).First(&u).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return uuid.Nil, apperr.ErrUserNotFound
	}
	return u.ID, err
}

func (h *WalletHandler) Transactions(c *fiber.Ctx) error {
	uid, err := currentUser(c)
	if err != nil {
		return fail(c, h.Log, err)
	}
	f, err := pageFilter(c)
	if err != nil {
		return fail(c, h.Log, err)
	}
	page, err := h.Ledger.GetTransactions(c.UserContext(), uid, f)
	if err != nil {
		return fail(c, h.Log, err)
	}
	return ok(c, fiber.StatusOK, "", page)
}

func (h *WalletHandler) Reconcile(c *fiber.Ctx) error {
	uid, err := currentUser(c)
	if err != nil {
		return fail(c, h.Log, err)
	}
	rec, err := h.Ledger.Reconcile(c.UserContext(), uid)
	if err != nil {
		return fail(c, h.Log, err)
	}
	if !rec.Balanced {
		h.Log.Warn("Wallet drift detected", zap.String("user_id", uid.String()))
	}
	return ok(c, fiber.StatusOK, "", rec)
}

type BankAccountReq struct {
	BankName      string `json:"bankName" validate:"required"`
	BankCode      string `json:"bankCode"`
	AccountNumber string `json:"accountNumber" validate:"required,numeric,min=10,max=10"`
	AccountName   string `json:"accountName" validate:"required"`
	IsDefault     bool   `json:"isDefault"`
}

func (h *WalletHandler) AddBankAccount(c *fiber.Ctx) error {
	uid, err := currentUser(c)
	if err != nil {
		return fail(c, h.Log, err)
	}
	var req BankAccountReq
	if err := c.BodyParser(&req); err != nil {
		return badBody(c)
	}
	req.AccountNumber = strings.TrimSpace(req.AccountNumber)
	if errs := utils.ValidateStruct(req); errs != nil {
		return validationFail(c, errs)
	}

	acct := models.BankAccount{
		UserID:        uid,
		BankName:      strings.TrimSpace(req.BankName),
		BankCode:      strings.TrimSpace(req.BankCode),
		AccountNumber: req.AccountNumber,
		AccountName:   strings.TrimSpace(req.AccountName),
		IsDefault:     req.IsDefault,
	}
	err = h.DB.WithContext(c.UserContext()).Transaction(func(tx *gorm.DB) error {
		if acct.IsDefault {
			if err := tx.Model(&models.BankAccount{}).Where("user_id = ?", uid).Update("is_default", false).Error; err != nil {
				return err
			}
		}
		return tx.Create(&acct).Error
	})
	if err != nil {
		return fail(c, h.Log, err)
	}
	return ok(c, fiber.StatusCreated, "Bank account added", acct)
}

func (h *WalletHandler) ListBankAccounts(c *fiber.Ctx) error {
	uid, err := currentUser(c)
	if err != nil {
		return fail(c, h.Log, err)
	}
	accts := []models.BankAccount{}
	if err := h.DB.WithContext(c.UserContext()).Where("user_id = ?", uid).Order("is_default DESC, created_at ASC").Find(&accts).Error; err != nil {
		return fail(c, h.Log, err)
	}
	return ok(c, fiber.StatusOK, "", accts)
}
