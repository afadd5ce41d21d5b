package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	AppEnv        string
	AppPort       string
	DBDSN         string
	JWTSecret     string
	JWTRefresh    string
	JWTExpiresMin int

	Paystack PaystackConfig
	Google   GoogleConfig
	Redis    RedisConfig
	Kafka    KafkaConfig

	// escrow / platform account, resolved once at startup
	SystemUserID       string
	SystemAccountEmail string

	ClientLiveURL   string
	ClientLocalURL  string
	FrontendBaseURL string

	RateLimitRPS   float64
	RateLimitBurst int
	PayoutInterval time.Duration

	// unpaid gateway checkouts are failed after CheckoutTTL
	CheckoutTTL         time.Duration
	CheckoutSweepPeriod time.Duration

	Commission CommissionConfig
}

type PaystackConfig struct {
	SecretKey     string
	PublicKey     string
	WebhookSecret string
	BaseURL       string
	CallbackURL   string
}

// GoogleConfig enables Google sign-in when ClientID is set.
type GoogleConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
}

type RedisConfig struct {
	Addr     string
	Password string
}

type KafkaConfig struct {
	Brokers []string
	Topic   string
}

func Load() (Config, error) {
	expires, _ := strconv.Atoi(get("JWT_EXPIRES_MIN", "10080"))
	rps, _ := strconv.ParseFloat(get("RATE_LIMIT_RPS", "10"), 64)
	burst, _ := strconv.Atoi(get("RATE_LIMIT_BURST", "50"))
	payoutEvery, err := time.ParseDuration(get("PAYOUT_INTERVAL", "1h"))
	if err != nil {
		payoutEvery = time.Hour
	}

	checkoutTTL := duration("CHECKOUT_TTL", 30*time.Minute)
	sweepEvery := duration("CHECKOUT_SWEEP_INTERVAL", 5*time.Minute)

	dsn := get("DB_DSN", "")
	if dsn == "" {
		dsn = must("DATABASE_URL")
	}

	secret := get("PAYSTACK_SECRET_KEY", "")

	commission, err := LoadCommission(get("COMMISSION_FILE", ""))
	if err != nil {
		return Config{}, err
	}

	return Config{
		AppEnv:        get("APP_ENV", "development"),
		AppPort:       get("APP_PORT", "8080"),
		DBDSN:         dsn,
		JWTSecret:     must("JWT_SECRET"),
		JWTRefresh:    get("JWT_REFRESH_SECRET", ""),
		JWTExpiresMin: expires,
		Paystack: PaystackConfig{
			SecretKey:     secret,
			PublicKey:     get("PAYSTACK_PUBLIC_KEY", ""),
			WebhookSecret: get("PAYSTACK_WEBHOOK_SECRET", secret),
			BaseURL:       get("PAYSTACK_BASE_URL", "https://api.paystack.co"),
			CallbackURL:   get("PAYSTACK_CALLBACK_URL", ""),
		},
		Google: GoogleConfig{
			ClientID:     get("GOOGLE_CLIENT_ID", ""),
			ClientSecret: get("GOOGLE_CLIENT_SECRET", ""),
			RedirectURL:  get("GOOGLE_REDIRECT_URL", ""),
		},
		Redis: RedisConfig{
			Addr:     get("REDIS_ADDR", "localhost:6379"),
			Password: get("REDIS_PASSWORD", ""),
		},
		Kafka: KafkaConfig{
			Brokers: splitList(get("KAFKA_BROKERS", "")),
			Topic:   get("KAFKA_TOPIC", "ledger-events"),
		},
		SystemUserID:        get("SYSTEM_USER_ID", ""),
		SystemAccountEmail:  get("SYSTEM_ACCOUNT_EMAIL", "system@platform.local"),
		ClientLiveURL:       get("CLIENT_LIVE_URL", ""),
		ClientLocalURL:      get("CLIENT_LOCAL_URL", "http://localhost:3000"),
		FrontendBaseURL:     get("FRONTEND_BASE_URL", "http://localhost:3000"),
		RateLimitRPS:        rps,
		RateLimitBurst:      burst,
		PayoutInterval:      payoutEvery,
		CheckoutTTL:         checkoutTTL,
		CheckoutSweepPeriod: sweepEvery,
		Commission:          commission,
	}, nil
}

// AllowedOrigins joins the client URLs for the CORS middleware.
func (c Config) AllowedOrigins() string {
	var out []string
	for _, u := range []string{c.ClientLiveURL, c.ClientLocalURL} {
		if u != "" {
			out = append(out, u)
		}
	}
	return strings.Join(out, ", ")
}

func (c Config) IsProduction() bool { return c.AppEnv == "production" }

func get(k, def string) string {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	return v
}

func must(k string) string {
	v := os.Getenv(k)
	if v == "" {
		panic("missing env: " + k)
	}
	return v
}

func duration(k string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(get(k, ""))
	if err != nil || d <= 0 {
		return def
	}
	return d
}

func splitList(v string) []string {
	if v == "" {
		return nil
	}
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
