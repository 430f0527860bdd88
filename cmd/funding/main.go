package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/kelseyhightower/envconfig"

	"fundcore/internal/common/database"
	"fundcore/internal/common/middleware"
	"fundcore/internal/common/money"
	natsclient "fundcore/internal/common/nats"
	"fundcore/internal/fees"
	"fundcore/internal/funding"
	"fundcore/internal/funding/api"
	"fundcore/internal/fx"
	"fundcore/internal/provider"
	"fundcore/internal/provider/banklink"
	"fundcore/internal/provider/cryptoramp"
	"fundcore/internal/provider/stripecard"
	"fundcore/migrations"
)

// Config holds service configuration
type Config struct {
	Port        int    `envconfig:"FUNDING_PORT" default:"8086"`
	Environment string `envconfig:"ENVIRONMENT" default:"development"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat   string `envconfig:"LOG_FORMAT" default:"json"`

	SettlementCurrency string `envconfig:"SETTLEMENT_CURRENCY" default:"USDC"`
	// FXRates is a JSON object of direct rates keyed "FROM:TO",
	// e.g. {"BRL:USD":0.185,"EUR:USD":1.08}.
	FXRates string `envconfig:"FX_RATES"`

	Database database.Config
	NATS     natsclient.Config
	Stripe   stripecard.Config
	Plaid    banklink.Config
	Onramp   cryptoramp.Config
}

func main() {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		fmt.Fprintf(os.Stderr, "failed to process config: %v\n", err)
		os.Exit(1)
	}

	logger := setupLogger(cfg.LogLevel, cfg.LogFormat)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	if err := database.Migrate(cfg.Database.URL, migrations.FS, ".", logger); err != nil {
		logger.Error("failed to apply migrations", "error", err)
		os.Exit(1)
	}

	db, err := database.New(ctx, cfg.Database, logger)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	nc, err := natsclient.New(ctx, cfg.NATS, logger)
	if err != nil {
		logger.Error("failed to connect to NATS", "error", err)
		os.Exit(1)
	}
	defer nc.Close()

	if _, err := nc.EnsureStream(ctx, natsclient.DefaultStreamConfig("FUNDING", []string{"funding.>"})); err != nil {
		logger.Error("failed to ensure stream", "error", err)
		os.Exit(1)
	}
	publisher := natsclient.NewPublisher(nc, logger)

	registry := provider.NewRegistry(logger)
	registry.Register(stripecard.NewAdapter(cfg.Stripe, logger))
	registry.Register(banklink.NewAdapter(cfg.Plaid, logger))
	registry.Register(cryptoramp.NewAdapter(cfg.Onramp, nc.Conn(), logger))

	feeEngine := fees.NewEngine(fees.NewPostgresStore(db.Pool()), fees.StandardDefaults(), logger)

	rates, err := parseRates(cfg.FXRates)
	if err != nil {
		logger.Error("failed to parse FX rates", "error", err)
		os.Exit(1)
	}
	fxEngine := fx.NewEngine(rates, fx.Options{
		Stablecoin: money.Currency(cfg.SettlementCurrency),
	}, logger)

	store := funding.NewPostgresStore(db.Pool())
	service := funding.NewService(store, registry, feeEngine, fxEngine, publisher,
		money.Currency(cfg.SettlementCurrency), logger)

	handler := api.NewHandler(service)

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(middleware.CorrelationID)
	r.Use(middleware.Recoverer(logger))
	r.Use(middleware.Logger(logger))
	r.Use(middleware.TenantExtractor)
	r.Use(chimw.Compress(5))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		if err := db.HealthCheck(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"status":"unhealthy","component":"database"}`))
			return
		}
		if err := nc.HealthCheck(); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"status":"unhealthy","component":"nats"}`))
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy"}`))
	})

	r.Get("/ready", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ready"}`))
	})

	r.Route("/api/v1/funding", func(r chi.Router) {
		r.Mount("/", handler.Routes())
	})

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("starting funding service",
			"port", cfg.Port,
			"environment", cfg.Environment,
			"settlement_currency", cfg.SettlementCurrency,
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			cancel()
		}
	}()

	<-ctx.Done()

	logger.Info("shutting down server")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}

	logger.Info("server stopped")
}

// parseRates reads the FX_RATES JSON object; an empty value falls back to the
// built-in table.
func parseRates(raw string) (map[string]float64, error) {
	if raw == "" {
		return defaultRates(), nil
	}

	var rates map[string]float64
	if err := json.Unmarshal([]byte(raw), &rates); err != nil {
		return nil, fmt.Errorf("parsing FX_RATES: %w", err)
	}
	return rates, nil
}

func defaultRates() map[string]float64 {
	return map[string]float64{
		"BRL:USD": 0.185,
		"MXN:USD": 0.055,
		"EUR:USD": 1.08,
		"GBP:USD": 1.27,
		"JPY:USD": 0.0066,
	}
}

func setupLogger(level, format string) *slog.Logger {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: logLevel,
	}

	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
