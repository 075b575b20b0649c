package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"

	"github.com/marchand/paygate/internal/config"
	"github.com/marchand/paygate/internal/gateway"
	"github.com/marchand/paygate/internal/handler"
	"github.com/marchand/paygate/internal/ledger"
	"github.com/marchand/paygate/internal/logging"
	"github.com/marchand/paygate/internal/middleware"
	"github.com/marchand/paygate/internal/provider/hookpay"
	"github.com/marchand/paygate/internal/provider/tokenpay"
	"github.com/marchand/paygate/internal/registry"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logging.Init("paygate-api", cfg.LogLevel, cfg.AppEnv)

	led, cleanup, err := openLedger(cfg)
	if err != nil {
		slog.Error("failed to open ledger", "error", err)
		os.Exit(1)
	}
	defer cleanup()

	reg, err := buildRegistry(cfg, led)
	if err != nil {
		slog.Error("failed to build gateway registry", "error", err)
		os.Exit(1)
	}

	purchases := handler.NewPurchaseHandler(reg)
	webhooks := handler.NewWebhookHandler(reg)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", handleHealth)
	mux.HandleFunc("POST /api/v1/tenants/{tenant}/purchase", purchases.CreatePurchase)
	mux.HandleFunc("POST /api/v1/webhooks/{tenant}/{provider}", webhooks.ReceiveProviderCallback)

	chain := middleware.RequestID(
		middleware.Logging(
			middleware.Recovery(
				middleware.Idempotency(middleware.NewReplayCache())(mux),
			),
		),
	)

	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           chain,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		slog.Info("server started", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down server")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}
	slog.Info("server stopped")
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]string{"status": "ok"}); err != nil {
		slog.Error("failed to write health response", "error", err)
	}
}

func openLedger(cfg *config.Config) (ledger.Ledger, func(), error) {
	if cfg.DatabaseURL == "" {
		slog.Info("using in-memory ledger")
		return ledger.NewMemory(), func() {}, nil
	}

	db, err := connectDB(cfg)
	if err != nil {
		return nil, nil, err
	}
	slog.Info("using postgres ledger")
	return ledger.NewPostgres(db), func() { db.Close() }, nil
}

func connectDB(cfg *config.Config) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("connectDB: %w", err)
	}

	db.SetMaxOpenConns(cfg.DBMaxOpenConns)
	db.SetMaxIdleConns(cfg.DBMaxIdleConns)
	db.SetConnMaxLifetime(time.Duration(cfg.DBConnMaxLifetimeS) * time.Second)

	for i := range 30 {
		if err = db.Ping(); err == nil {
			return db, nil
		}
		slog.Info("waiting for database", "attempt", i+1)
		time.Sleep(time.Second)
	}

	db.Close()
	return nil, fmt.Errorf("connectDB: gave up after 30 attempts: %w", err)
}

// buildRegistry wires one gateway per configured tenant. The mapping is
// frozen before the server starts serving, so resolution stays stable for
// the life of the process.
func buildRegistry(cfg *config.Config, led ledger.Ledger) (*registry.Registry, error) {
	builder := registry.NewBuilder()

	for tenantID, providerName := range cfg.Tenants {
		var gw gateway.PaymentGateway
		switch providerName {
		case hookpay.Name:
			gw = hookpay.New(tenantID, hookpay.Config{
				BaseURL: cfg.HookpayBaseURL,
				Secret:  cfg.HookpaySecret,
				Timeout: cfg.ProviderTimeout,
			}, led)
		case tokenpay.Name:
			gw = tokenpay.New(tenantID, tokenpay.Config{
				BaseURL:     cfg.TokenpayBaseURL,
				APIKey:      cfg.TokenpayAPIKey,
				TokenSecret: cfg.TokenpayTokenSecret,
				Timeout:     cfg.ProviderTimeout,
			}, led)
		default:
			return nil, fmt.Errorf("buildRegistry: tenant %q: unknown provider %q", tenantID, providerName)
		}
		builder.Register(tenantID, gw)
	}

	return builder.Build(), nil
}
