package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"time"

	"e2ee-relay/internal/auth"
	"e2ee-relay/internal/config"
	"e2ee-relay/internal/observability/logging"
	"e2ee-relay/internal/observability/metrics"
	"e2ee-relay/internal/registry"
	"e2ee-relay/internal/relay"
	"e2ee-relay/internal/store"
	transport "e2ee-relay/internal/transport/http"

	"github.com/joho/godotenv"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func main() {
	_ = godotenv.Load()

	env := os.Getenv("ENVIRONMENT")
	if env == "" {
		env = "dev"
	}

	logger := logging.NewLogger(logging.Config{
		ServiceName: "relay",
		Environment: env,
		Level:       os.Getenv("LOG_LEVEL"),
	})

	slog.SetDefault(logger)
	metrics.MustRegister("relay")

	logger.Info("starting service")

	cfg := config.Load()

	db, err := gorm.Open(postgres.Open(cfg.DatabaseURL), &gorm.Config{})
	if err != nil {
		logger.Error("gorm open", "error", err)
		os.Exit(1)
	}

	st := store.New(db)
	if err := st.AutoMigrate(context.Background()); err != nil {
		logger.Error("auto migrate", "error", err)
		os.Exit(1)
	}

	tokens := auth.NewTokenServiceHS256(auth.TokenConfig{
		Issuer:     cfg.JWTIssuer,
		Audience:   cfg.JWTAudience,
		TTL:        cfg.TokenTTL,
		SigningKey: []byte(cfg.JWTSecret),
	})

	reg := registry.New(logger)
	rl := relay.New(st, reg, logger)

	handler := transport.NewRouter(cfg, st, tokens, rl, reg, logger)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	slog.Info("relay listening", "addr", cfg.Addr)
	if err := srv.ListenAndServe(); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}
