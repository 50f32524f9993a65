package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/xelth-com/tapcount/internal/config"
	"github.com/xelth-com/tapcount/internal/database"
	"github.com/xelth-com/tapcount/internal/handlers"
	"github.com/xelth-com/tapcount/internal/logger"
	"github.com/xelth-com/tapcount/internal/metrics"
	"github.com/xelth-com/tapcount/internal/middleware"
	"github.com/xelth-com/tapcount/internal/websocket"
	"go.uber.org/zap"
)

func main() {
	// 1. Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	log := logger.Must(cfg.NodeEnv)
	defer log.Sync()

	// 2. Initialize database (detects embedded vs external automatically)
	db, err := database.Connect(cfg.Database, log)
	if err != nil {
		log.Fatal("failed to connect to database", zap.Error(err))
	}
	// db.Close() is called in the shutdown path below

	// 3. Auto-migrate schema
	log.Info("synchronizing database schema")
	if err := db.Migrate(); err != nil {
		log.Warn("migration warning", zap.Error(err))
	} else {
		log.Info("schema synchronized")
	}

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	// 4. Live event hub for dashboards and other stations
	hub := websocket.NewHub(log)
	go hub.Run(ctx)

	// 5. HTTP router
	router := handlers.NewRouter(handlers.Deps{
		DB:        db.DB,
		Hub:       hub,
		Metrics:   metrics.New("tapcount"),
		Log:       log,
		PublicURL: cfg.Server.PublicURL,
	})

	server := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           middleware.CaseInsensitive(router),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Channel to listen for shutdown signals
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	go func() {
		log.Info("server starting", zap.String("port", cfg.Server.Port), zap.String("env", cfg.NodeEnv))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("failed to start server", zap.Error(err))
		}
	}()

	sig := <-shutdown
	log.Info("shutting down gracefully", zap.String("signal", sig.String()))

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("http server shutdown error", zap.Error(err))
	}
	stop()

	// Close database (this also stops embedded PostgreSQL)
	log.Info("closing database connection")
	if err := db.Close(); err != nil {
		log.Error("database close error", zap.Error(err))
	}

	log.Info("shutdown complete")
}
