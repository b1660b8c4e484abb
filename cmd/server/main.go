package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Arttribute/agent-commons-sub004/internal/api"
	"github.com/Arttribute/agent-commons-sub004/internal/config"
	"github.com/Arttribute/agent-commons-sub004/internal/database"
	"github.com/Arttribute/agent-commons-sub004/internal/services"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Failed to load configuration:", err)
	}

	logger, err := cfg.Log.NewLogger()
	if err != nil {
		log.Fatal("Failed to configure logging:", err)
	}

	// Connect to database
	db, err := database.NewConnection(cfg.Database)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to database")
	}
	defer db.Close()

	// Run migrations
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	err = database.RunMigrations(ctx, db, cfg.Database)
	cancel()
	if err != nil {
		logger.WithError(err).Fatal("Failed to run migrations")
	}

	// Initialize services
	svc := services.NewServices(db.DB, cfg.Database.Schema, db, logger)

	app := api.NewApp(cfg.Server, svc, logger)

	monitorCtx, stopMonitor := context.WithCancel(context.Background())
	defer stopMonitor()
	go svc.Monitor.Run(monitorCtx, 30*time.Second)

	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
		<-quit

		logger.Info("Shutting down server")
		if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
			logger.WithError(err).Error("Server shutdown failed")
		}
	}()

	logger.WithField("addr", cfg.Server.Addr()).Info("Agent Commons checkpoint service starting")
	if err := app.Listen(cfg.Server.Addr()); err != nil {
		logger.WithError(err).Fatal("Failed to start server")
	}
}
