package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"

	"github.com/Windi-Fikriyansyah/platform_be_estate/internal/middleware"
	"github.com/Windi-Fikriyansyah/platform_be_estate/internal/models"
)

// Router holds every handler mounted under /api/v1.
type Router struct {
	JWTSecret string
	Limiter   *middleware.Limiter

	Auth          *AuthHandler
	Google        *GoogleOAuthHandler // nil when Google sign-in is not configured
	Wallet        *WalletHandler
	Withdrawals   *WithdrawalHandler
	Payments      *PaymentHandler
	Properties    *PropertyHandler
	Market        *MarketplaceHandler
	Investments   *InvestmentHandler
	Referrals     *ReferralHandler
	Notifications *NotificationHandler
	Health        *HealthHandler
}

func (r *Router) Mount(app *fiber.App) {
	app.Get("/health", r.Health.Check)

	api := app.Group("/api/v1")
	if r.Limiter != nil {
		api.Use(r.Limiter.Handler())
	}

	// public
	api.Post("/auth/register", r.Auth.Register)
	api.Post("/auth/login", r.Auth.Login)
	api.Post("/auth/logout", r.Auth.Logout)
	if r.Google != nil {
		api.Get("/auth/google/start", r.Google.GoogleStart)
		api.Get("/auth/google/callback", r.Google.GoogleCallback)
	}
	api.Get("/properties", r.Properties.List)
	api.Get("/properties/locations", r.Properties.Locations)
	api.Get("/properties/:id", r.Properties.Get)
	api.Get("/marketplace/listings", r.Market.List)
	api.Get("/marketplace/listings/:id", r.Market.Get)
	api.Get("/investment-plans", r.Investments.ListPlans)
	api.Post("/payments/webhook/paystack", r.Payments.Webhook)
	api.Get("/ws/notifications", r.Notifications.Upgrade, websocket.New(r.Notifications.Stream))

	protected := api.Group("/",
		middleware.JWTAuth(r.JWTSecret),
		middleware.AttachJWTLocals(),
	)
	admin := middleware.RequireRoles(string(models.RoleAdmin))

	protected.Get("/me", r.Auth.Me)

	protected.Get("/wallet", r.Wallet.Get)
	protected.Post("/wallet/fund", r.Wallet.Fund)
	protected.Post("/wallet/withdraw", r.Wallet.Withdraw)
	protected.Post("/wallet/transfer", r.Wallet.Transfer)
	protected.Get("/wallet/transactions", r.Wallet.Transactions)
	protected.Get("/wallet/reconcile", r.Wallet.Reconcile)
	protected.Post("/bank-accounts", r.Wallet.AddBankAccount)
	protected.Get("/bank-accounts", r.Wallet.ListBankAccounts)

	protected.Post("/process-withdrawal", r.Wallet.Withdraw)
	protected.Get("/process-withdrawal/pending", admin, r.Withdrawals.Pending)
	protected.Patch("/process-withdrawal/:id/approve", admin, r.Withdrawals.Approve)
	protected.Patch("/process-withdrawal/:id/reject", admin, r.Withdrawals.Reject)

	protected.Post("/payments/initialize", r.Payments.Initialize)
	protected.Get("/payments/verify/:reference", r.Payments.Verify)

	protected.Post("/properties", admin, r.Properties.Create)
	protected.Post("/properties/:id/purchase", r.Properties.Purchase)

	protected.Post("/marketplace/listings", r.Market.Create)
	protected.Post("/marketplace/listings/:id/purchase", r.Market.Purchase)

	protected.Post("/investment-plans", admin, r.Investments.CreatePlan)
	protected.Post("/investments", r.Investments.Invest)
	protected.Get("/investments", r.Investments.List)
	protected.Get("/investments/:id/schedule", r.Investments.Schedule)
	protected.Patch("/investments/:id/approve", admin, r.Investments.Approve)
	protected.Patch("/investments/:id/cancel", admin, r.Investments.Cancel)

	protected.Get("/referrals/stats", r.Referrals.Stats)

	protected.Get("/notifications", r.Notifications.List)
	protected.Patch("/notifications/:id/read", r.Notifications.MarkRead)

	protected.Post("/admin/wallets/:userId/fund", admin, r.Wallet.AdminFund)
	protected.Post("/admin/notifications/broadcast", admin, r.Notifications.Broadcast)
	protected.Get("/admin/failed-commissions", admin, r.Referrals.FailedCommissions)
	protected.Post("/admin/failed-commissions/:id/retry", admin, r.Referrals.RetryFailed)
}
