package main

import (
	"log"

	"github.com/classbuddy/ClassBuddyBack/internal/config"
	"github.com/classbuddy/ClassBuddyBack/internal/database"
	"github.com/classbuddy/ClassBuddyBack/internal/routes"
	"github.com/dustin/go-humanize"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
)

func main() {
	// 1. Load Config
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// 2. Connect to Database
	if cfg.DBUrl == "" {
		log.Fatal("DB_URL is required")
	}
	if err := database.ConnectDB(cfg.DBUrl, cfg.DBMaxConns); err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer database.CloseDB()

	// 3. Setup Fiber
	app := fiber.New(fiber.Config{
		// multipart overhead on top of the largest accepted attachment
		BodyLimit: int(cfg.MaxUploadSize) + 1024*1024,
	})

	// Middleware
	app.Use(cors.New(cors.Config{AllowOrigins: cfg.AllowedOrigins}))
	if cfg.DebugLogging() {
		app.Use(logger.New())
	}
	app.Use(recover.New())

	// Routes
	hub, err := routes.RegisterRoutes(app, cfg, database.DB)
	if err != nil {
		log.Fatalf("Failed to register routes: %v", err)
	}
	defer hub.Stop()

	log.Printf("Storage driver %q, attachment limit %s", cfg.StorageDriver, humanize.Bytes(uint64(cfg.MaxUploadSize)))

	// 4. Start Server
	log.Printf("Server starting on port %s", cfg.Port)
	if err := app.Listen(":" + cfg.Port); err != nil {
		log.Fatalf("Server failed to start: %v", err)
	}
}
