package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/Windi-Fikriyansyah/platform_be_estate/internal/config"
	"github.com/Windi-Fikriyansyah/platform_be_estate/internal/db"
	"github.com/Windi-Fikriyansyah/platform_be_estate/internal/events"
	"github.com/Windi-Fikriyansyah/platform_be_estate/internal/handlers"
	"github.com/Windi-Fikriyansyah/platform_be_estate/internal/middleware"
	"github.com/Windi-Fikriyansyah/platform_be_estate/internal/models"
	"github.com/Windi-Fikriyansyah/platform_be_estate/internal/realtime"
	"github.com/Windi-Fikriyansyah/platform_be_estate/internal/services/investment"
	"github.com/Windi-Fikriyansyah/platform_be_estate/internal/services/ledger"
	"github.com/Windi-Fikriyansyah/platform_be_estate/internal/services/marketplace"
	"github.com/Windi-Fikriyansyah/platform_be_estate/internal/services/payment"
	"github.com/Windi-Fikriyansyah/platform_be_estate/internal/services/paystack"
	"github.com/Windi-Fikriyansyah/platform_be_estate/internal/services/property"
	"github.com/Windi-Fikriyansyah/platform_be_estate/internal/services/referral"
	"github.com/Windi-Fikriyansyah/platform_be_estate/internal/services/withdrawal"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	log := newLogger(cfg)
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	gdb, err := db.Connect(cfg.DBDSN, log, !cfg.IsProduction())
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	if err := db.Migrate(gdb); err != nil {
		log.Fatal("Failed to migrate database", zap.Error(err))
	}

	rdb := realtime.NewRedis(cfg.Redis.Addr, cfg.Redis.Password, log)
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Fatal("Redis is not reachable", zap.Error(err))
	}

	hub := realtime.NewHub(log)
	go hub.Run(ctx.Done())
	notifier := realtime.NewNotifier(gdb, hub, rdb, log)

	var publisher events.Publisher = events.NewRedisPublisher(rdb)
	if len(cfg.Kafka.Brokers) > 0 {
		kp := events.NewKafkaPublisher(events.NewKafkaWriter(cfg.Kafka.Brokers, cfg.Kafka.Topic, log))
		defer kp.Close()
		publisher = kp
		log.Info("Publishing ledger events to Kafka", zap.Strings("brokers", cfg.Kafka.Brokers), zap.String("topic", cfg.Kafka.Topic))
	}

	systemID, err := ledger.BootstrapSystemAccount(ctx, gdb, cfg.SystemUserID, cfg.SystemAccountEmail)
	if err != nil {
		log.Fatal("Failed to resolve system account", zap.Error(err))
	}
	log.Info("System account ready", zap.String("user_id", systemID.String()))

	gateway := paystack.NewPaystackService(cfg.Paystack.SecretKey, cfg.Paystack.WebhookSecret, cfg.Paystack.BaseURL, cfg.Paystack.CallbackURL)

	ledgerSvc := ledger.NewService(gdb, notifier, publisher, log.Named("ledger"), systemID)
	engine := referral.NewEngine(gdb, ledgerSvc, cfg.Commission, systemID, log.Named("referral"))
	workflow := withdrawal.NewWorkflow(gdb, ledgerSvc, log.Named("withdrawal"))
	payments := payment.NewService(gdb, ledgerSvc, gateway, engine, rdb, log.Named("payment"))
	properties := property.NewService(gdb, ledgerSvc, engine, log.Named("property"))
	market := marketplace.NewService(gdb, ledgerSvc, engine, log.Named("marketplace"))
	investments := investment.NewService(gdb, ledgerSvc, engine, log.Named("investment"))

	payments.Register(models.TxPropertyPurchase, properties)
	payments.Register(models.TxPayment, market)
	payments.Register(models.TxInvestment, investments)

	go investments.Run(ctx, cfg.PayoutInterval)
	go payments.RunExpiry(ctx, cfg.CheckoutSweepPeriod, cfg.CheckoutTTL)

	limiter := middleware.NewLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
	go limiter.Cleanup(ctx.Done(), time.Minute, 3*time.Minute)

	app := fiber.New(fiber.Config{
		ErrorHandler: handlers.ErrorHandler(log),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 45 * time.Second,
	})

	app.Use(recover.New())
	app.Use(middleware.RequestLogger(log.Named("http")))
	app.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.AllowedOrigins(),
		AllowMethods:     "GET,POST,PUT,PATCH,DELETE,OPTIONS",
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization",
		ExposeHeaders:    "Content-Length",
		AllowCredentials: true,
	}))

	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	authH := &handlers.AuthHandler{
		DB:        gdb,
		Ledger:    ledgerSvc,
		Referrals: engine,
		JWTSecret: cfg.JWTSecret,
		Expires:   cfg.JWTExpiresMin,
		Secure:    cfg.IsProduction(),
		Log:       log.Named("auth"),
	}
	var googleH *handlers.GoogleOAuthHandler
	if cfg.Google.ClientID != "" {
		googleH = &handlers.GoogleOAuthHandler{
			Auth:            authH,
			GoogleClientID:  cfg.Google.ClientID,
			GoogleSecret:    cfg.Google.ClientSecret,
			GoogleRedirect:  cfg.Google.RedirectURL,
			FrontendBaseURL: cfg.FrontendBaseURL,
		}
	}

	router := &handlers.Router{
		JWTSecret:     cfg.JWTSecret,
		Limiter:       limiter,
		Auth:          authH,
		Google:        googleH,
		Wallet:        handlers.NewWalletHandler(gdb, ledgerSvc, workflow, payments, log),
		Withdrawals:   handlers.NewWithdrawalHandler(workflow, log),
		Payments:      handlers.NewPaymentHandler(payments, log),
		Properties:    handlers.NewPropertyHandler(properties, log),
		Market:        handlers.NewMarketplaceHandler(market, log),
		Investments:   handlers.NewInvestmentHandler(investments, log),
		Referrals:     handlers.NewReferralHandler(engine, log),
		Notifications: handlers.NewNotificationHandler(gdb, hub, cfg.JWTSecret, log),
		Health:        &handlers.HealthHandler{DB: gdb, RDB: rdb},
	}
	router.Mount(app)

	go func() {
		if err := app.Listen(":" + cfg.AppPort); err != nil {
			log.Error("HTTP server stopped", zap.Error(err))
			stop()
		}
	}()
	log.Info("Server started", zap.String("port", cfg.AppPort), zap.String("env", cfg.AppEnv))

	<-ctx.Done()
	log.Info("Shutting down")
	if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
		log.Error("Graceful shutdown failed", zap.Error(err))
	}
	if err := rdb.Close(); err != nil {
		log.Warn("Failed to close Redis", zap.Error(err))
	}
}

func newLogger(cfg config.Config) *zap.Logger {
	var (
		log *zap.Logger
		err error
	)
	if cfg.IsProduction() {
		log, err = zap.NewProduction()
	} else {
		log, err = zap.NewDevelopment()
	}
	if err != nil {
		panic(err)
	}
	return log
}
