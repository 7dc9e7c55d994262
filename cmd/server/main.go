package main

import (
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/mdresch/CogniSync-sub001/internal/config"
	"github.com/mdresch/CogniSync-sub001/internal/database"
	"github.com/mdresch/CogniSync-sub001/internal/dispatcher"
	"github.com/mdresch/CogniSync-sub001/internal/handlers"
	"github.com/mdresch/CogniSync-sub001/internal/logger"
	"github.com/mdresch/CogniSync-sub001/internal/metrics"
	"github.com/mdresch/CogniSync-sub001/internal/publisher"
	"github.com/mdresch/CogniSync-sub001/internal/rabbitmq"
	"github.com/mdresch/CogniSync-sub001/internal/registry"
	"github.com/mdresch/CogniSync-sub001/internal/routes"
	"github.com/mdresch/CogniSync-sub001/internal/store"
)

func main() {
	log, err := logger.New(os.Getenv("LOG_LEVEL"))
	if err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}
	defer log.Sync()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Failed to load config", zap.Error(err))
	}

	// Connect to PostgreSQL and apply migrations
	db, err := database.Connect(&cfg.Database, log)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer func() {
		if err := database.Close(db, log); err != nil {
			log.Error("Error closing database", zap.Error(err))
		}
	}()

	if err := database.RunMigrations(&cfg.Database, log); err != nil {
		log.Fatal("Failed to run migrations", zap.Error(err))
	}

	// Connect to RabbitMQ
	rmq := rabbitmq.NewConnection(&cfg.RabbitMQ, log)
	if err := rmq.Connect(); err != nil {
		log.Fatal("Failed to connect to RabbitMQ", zap.Error(err))
	}
	defer rmq.Close()

	// Wire the pipeline
	eventStore := store.NewPostgres(db)
	reg := registry.New(eventStore, cfg.Registry.CacheTTL, log)
	pub := publisher.NewAMQP(rmq, &cfg.RabbitMQ, log)

	disp := dispatcher.New(&cfg.Dispatcher, eventStore, reg, pub, log)
	if err := disp.Start(); err != nil {
		log.Fatal("Failed to start dispatcher", zap.Error(err))
	}

	// Metrics on a dedicated listener
	metrics.RegisterDefault()
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))
		addr := ":" + cfg.Metrics.Port
		log.Info("Metrics listener starting", zap.String("address", addr))
		if err := http.ListenAndServe(addr, mux); err != nil {
			log.Error("Metrics listener stopped", zap.Error(err))
		}
	}()

	// Create Fiber app
	app := fiber.New(fiber.Config{
		AppName:      "CogniSync Ingestion Service",
		ServerHeader: "Fiber",
	})

	// Middleware
	app.Use(recover.New())
	app.Use(fiberlogger.New(fiberlogger.Config{
		Format: "[${time}] ${status} - ${latency} ${method} ${path}\n",
	}))
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,PUT,DELETE,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept,Authorization,x-api-key",
	}))

	// Setup routes
	routes.SetupRoutes(app, routes.Handlers{
		Health:  handlers.NewHealthHandler(db, rmq),
		Webhook: handlers.NewWebhookHandler(eventStore, reg, cfg.Dispatcher.MaxRetries, log),
		Events:  handlers.NewEventsHandler(eventStore, log),
		Configs: handlers.NewConfigsHandler(eventStore, reg, log),
		APIKey:  cfg.Auth.APIKey,
	})

	// Start server in a goroutine
	go func() {
		addr := cfg.Server.Host + ":" + cfg.Server.Port
		log.Info("Server starting",
			zap.String("address", addr),
		)
		if err := app.Listen(addr); err != nil {
			log.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	// Wait for interrupt signal to gracefully shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down server")
	if err := app.Shutdown(); err != nil {
		log.Error("Error during server shutdown", zap.Error(err))
	}

	// Stop dispatcher last so in-flight events settle before the store closes
	if err := disp.Stop(); err != nil {
		log.Error("Error stopping dispatcher", zap.Error(err))
	}

	log.Info("Server stopped")
}
