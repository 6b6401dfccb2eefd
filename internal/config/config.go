package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	Port                int
	StripeSecretKey     string // empty enables the mock billing client
	StripeWebhookSecret string
	StripePriceID       string
	FrontendURL         string
	DatabaseURL         string // empty disables the durable store
	JWTSecret           string
	CORSOrigins         []string
	ProviderTimeout     time.Duration
	StoreTimeout        time.Duration
	ScanPageSize        int64 // cap on the provider subscription scan
}

// Load reads configuration from environment variables with sensible defaults.
func Load() (*Config, error) {
	port, _ := strconv.Atoi(getEnv("PORT", "4242"))

	webhookSecret := getEnv("STRIPE_WEBHOOK_SECRET", "")
	if webhookSecret == "" {
		return nil, fmt.Errorf("STRIPE_WEBHOOK_SECRET is required")
	}

	jwtSecret := getEnv("JWT_SECRET", "")
	if jwtSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}

	providerTimeout, err := getEnvDuration("PROVIDER_TIMEOUT", 15*time.Second)
	if err != nil {
		return nil, err
	}
	storeTimeout, err := getEnvDuration("STORE_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, err
	}

	scanPageSize, _ := strconv.ParseInt(getEnv("SCAN_PAGE_SIZE", "100"), 10, 64)
	if scanPageSize <= 0 {
		return nil, fmt.Errorf("SCAN_PAGE_SIZE must be positive")
	}

	origins := strings.Split(getEnv("CORS_ORIGINS", "http://localhost:3000"), ",")
	for i := range origins {
		origins[i] = strings.TrimSpace(origins[i])
	}

	return &Config{
		Port:                port,
		StripeSecretKey:     getEnv("STRIPE_SECRET_KEY", ""),
		StripeWebhookSecret: webhookSecret,
		StripePriceID:       getEnv("STRIPE_PRICE_ID", ""),
		FrontendURL:         getEnv("FRONTEND_URL", "http://localhost:3000"),
		DatabaseURL:         getEnv("DATABASE_URL", ""),
		JWTSecret:           jwtSecret,
		CORSOrigins:         origins,
		ProviderTimeout:     providerTimeout,
		StoreTimeout:        storeTimeout,
		ScanPageSize:        scanPageSize,
	}, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be a duration like 10s: %w", key, err)
	}
	return d, nil
}
