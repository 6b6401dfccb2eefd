package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/substatus/backend/internal/config"
	"github.com/substatus/backend/internal/handler"
	appMiddleware "github.com/substatus/backend/internal/middleware"
	"github.com/substatus/backend/internal/repository"
	"github.com/substatus/backend/internal/service"
	"github.com/substatus/backend/internal/ws"
	"github.com/substatus/backend/pkg/billing"
)

func main() {
	// Load .env file if present (for local development)
	_ = godotenv.Load()

	// Load config
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("❌ Config error: %v", err)
	}

	ctx := context.Background()

	// Durable store is optional: failure to configure it never blocks the
	// authoritative path, the status cache carries the service alone.
	var db *pgxpool.Pool
	var store service.RecordStore
	if cfg.DatabaseURL != "" {
		db, err = repository.NewDB(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("❌ Database error: %v", err)
		}
		defer db.Close()

		if err := repository.RunMigrations(ctx, db); err != nil {
			log.Fatalf("❌ Migration error: %v", err)
		}
		store = repository.NewRecordRepository(db)
		log.Println("✅ Durable store connected & migrated")
	} else {
		log.Println("⚠️  DATABASE_URL not set, running with in-memory cache only")
	}

	// Billing provider client
	var billingClient billing.Client
	if cfg.StripeSecretKey != "" {
		billingClient = billing.NewStripeClient(cfg.StripeSecretKey, cfg.StripePriceID, cfg.FrontendURL)
		log.Println("✅ Stripe billing client configured")
	} else {
		billingClient = billing.NewMockClient()
		log.Println("⚠️  STRIPE_SECRET_KEY not set, using mock billing client")
	}

	// Core services
	hub := ws.NewHub()
	cache := service.NewStatusCache()
	reconciler := service.NewReconciler(billingClient, store, cache, hub, service.ReconcilerConfig{
		ProviderTimeout: cfg.ProviderTimeout,
		StoreTimeout:    cfg.StoreTimeout,
		ScanPageSize:    cfg.ScanPageSize,
	})
	reconciler.WarmCache(ctx)

	tokenSvc := service.NewTokenService(cfg.JWTSecret)

	// Initialize handlers
	healthHandler := handler.NewHealthHandler(db)
	subHandler := handler.NewSubscriptionHandler(reconciler)
	checkoutHandler := handler.NewCheckoutHandler(reconciler)
	webhookHandler := handler.NewWebhookHandler(reconciler, billingClient, cfg.StripeWebhookSecret)
	eventsHandler := ws.NewEventsHandler(hub, tokenSvc)

	// Build router
	r := chi.NewRouter()

	// Global middleware
	r.Use(appMiddleware.Recovery)
	r.Use(appMiddleware.Logger)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Stripe-Signature"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Global rate limiter (20 req/sec per IP, burst of 40)
	globalRL := appMiddleware.NewRateLimiter(20, 40)
	r.Use(globalRL.Middleware())

	// Public routes
	r.Get("/health", healthHandler.Check)
	r.Post("/api/webhooks/stripe", webhookHandler.HandleStripe)
	r.Get("/check-subscription/{userId}", subHandler.Check)
	r.Post("/refresh-subscription/{userId}", subHandler.Refresh)

	// Mutating routes hit the billing provider; keep them on a tighter budget.
	r.Group(func(r chi.Router) {
		r.Use(appMiddleware.StrictRateLimiter())
		r.Post("/cancel-subscription/{userId}", subHandler.Cancel)
		r.Post("/create-checkout-session", checkoutHandler.Create)
	})

	// Diagnostic routes (token-gated; the manual override bypasses the provider)
	r.Group(func(r chi.Router) {
		r.Use(appMiddleware.Auth(tokenSvc))
		r.Use(appMiddleware.AdminOnly)
		r.Post("/set-subscription/{userId}", subHandler.Set)
		r.Get("/debug-subscriptions/{userId}", subHandler.Debug)
		r.Post("/fix-subscription-metadata/{userId}", subHandler.FixMetadata)
	})

	// WebSocket transition feed (auth via query param)
	r.HandleFunc("/ws/events", eventsHandler.Handle)

	// Start server
	addr := fmt.Sprintf("0.0.0.0:%d", cfg.Port)
	server := &http.Server{
		Addr:        addr,
		Handler:     r,
		ReadTimeout: 30 * time.Second,
		// WriteTimeout must be 0 for WebSocket connections (they are long-lived)
		IdleTimeout: 120 * time.Second,
	}

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		log.Println("🛑 Shutting down...")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		server.Shutdown(ctx)
	}()

	log.Printf("🚀 Subscription backend listening at http://%s", addr)
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		log.Fatalf("❌ Server error: %v", err)
	}
}
