package main

import (
	"database/sql"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/hibiken/asynq"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/robfig/cron"

	config "github.com/postloom/postloom/configs"
	"github.com/postloom/postloom/internal/api/handlers"
	"github.com/postloom/postloom/internal/api/middleware"
	job "github.com/postloom/postloom/internal/jobs"
	"github.com/postloom/postloom/internal/platform"
	"github.com/postloom/postloom/internal/queue"
	"github.com/postloom/postloom/internal/repository"
	"github.com/postloom/postloom/internal/service"
	"github.com/postloom/postloom/pkg/crypto"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("Warning: Failed to load environment variables", err)
	}

	cfg := config.LoadConfig()

	db, err := sql.Open("postgres", cfg.PostgresURI)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer closeDB(db)

	if err := db.Ping(); err != nil {
		log.Fatalf("Database is unreachable: %v", err)
	}

	cryptor, err := crypto.New([]byte(cfg.EncryptionKey))
	if err != nil {
		log.Fatalf("Invalid encryption key: %v", err)
	}

	redisConn := asynq.RedisClientOpt{Addr: cfg.RedisURI}
	client := asynq.NewClient(redisConn)
	defer client.Close()
	inspector := asynq.NewInspector(redisConn)
	defer inspector.Close()

	registry := platform.NewRegistry(
		platform.NewTwitter(*cfg),
		platform.NewLinkedin(*cfg),
		platform.NewFacebook(*cfg),
	)
	throttle := platform.NewThrottle(5, 10)

	app := fiber.New(fiber.Config{
		ReadTimeout:  10 * time.Minute,
		WriteTimeout: 10 * time.Minute,
		BodyLimit:    100 * 1024 * 1024, // 100 MB
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			log.Printf("Error: %v", err)
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
		},
	})

	app.Use(logger.New())
	app.Use(cors.New(cors.Config{
		AllowOriginsFunc: func(origin string) bool {
			return true
		},
		AllowMethods:     "GET,POST,PUT,DELETE,OPTIONS",
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization",
		AllowCredentials: true,
		MaxAge:           3600,
	}))

	userRepo := repository.NewUserRepository(db)
	postRepo := repository.NewPostRepository(db)
	publicationRepo := repository.NewPublicationRepository(db)
	connectionRepo := repository.NewConnectionRepository(db)
	snapshotRepo := repository.NewMetricSnapshotRepository(db)
	fetchLogRepo := repository.NewFetchLogRepository(db)
	mediaAssetRepo := repository.NewMediaAssetRepository(db)
	postMediaRepo := repository.NewPostMediaRepository(db)

	authService := service.NewAuthService(*cfg, userRepo)
	userService := service.NewUserService(userRepo)
	storageService := service.NewStorageService(*cfg)
	postService := service.NewPostService(db, registry, postRepo, publicationRepo, connectionRepo, mediaAssetRepo, postMediaRepo, storageService)
	connectionService := service.NewConnectionService(registry, connectionRepo, cryptor)
	metricsService := service.NewMetricsService(postRepo, publicationRepo, snapshotRepo)

	authMiddleware := middleware.NewAuthMiddleware(*cfg)

	auth := handlers.NewAuthHandler(*cfg, authService)
	app.Get("/login", auth.Login)
	app.Get("/login/callback", auth.LoginCallback)
	app.Post("/logout", auth.Logout)

	connection := handlers.NewConnectionHandler(*cfg, connectionService)
	app.Get("/auth/:platform/callback", connection.Callback)

	api := app.Group("/api")
	api.Use(authMiddleware.AuthMiddleware())

	user := handlers.NewUserHandler(userService)
	api.Get("/user/info", user.GetUserInfo)

	api.Get("/connections", connection.List)
	api.Get("/connections/connect/:platform", connection.Connect)
	api.Delete("/connections/:id", connection.Disconnect)

	post := handlers.NewPostHandler(postService, client)
	api.Post("/posts/create", post.CreatePost)
	api.Get("/posts", post.ListPosts)
	api.Post("/posts/:id/cancel", post.CancelSchedule)
	api.Delete("/posts/:id", post.RemovePost)

	metrics := handlers.NewMetricsHandler(metricsService)
	api.Get("/posts/:id/metrics", metrics.PostMetrics)
	api.Get("/publications/:id/metrics", metrics.PublicationLatest)
	api.Get("/publications/:id/metrics/history", metrics.PublicationHistory)

	// cron jobs
	metricsSweepJob := job.NewMetricsSweepJob(*cfg, publicationRepo, fetchLogRepo, client)
	tokenRefreshJob := job.NewTokenRefreshJob(*cfg, connectionRepo, client)
	retentionJob := job.NewRetentionJob(*cfg, fetchLogRepo)

	c := cron.New()
	c.AddFunc("@every 00h15m00s", metricsSweepJob.SweepDueCheckpoints)
	c.AddFunc("@every 00h30m00s", tokenRefreshJob.SweepExpiringTokens)
	c.AddFunc("@daily", retentionJob.PruneFetchLogs)
	c.Start()

	// queue workers
	queueW := queue.NewQueue(*cfg, client, inspector, registry, throttle, cryptor,
		postRepo, publicationRepo, connectionRepo, snapshotRepo, fetchLogRepo, mediaAssetRepo, postMediaRepo)

	go func() {
		server := asynq.NewServer(redisConn, asynq.Config{
			Concurrency: 10,
			Queues: map[string]int{
				queue.QueuePublish: 5,
				queue.QueueMetrics: 3,
				queue.QueueRefresh: 1,
				queue.QueueDefault: 1,
			},
		})

		mux := asynq.NewServeMux()
		mux.HandleFunc(queue.TaskTypePostScheduled, queueW.HandlePostScheduled)
		mux.HandleFunc(queue.TaskTypePostScheduleCancelled, queueW.HandlePostScheduleCancelled)
		mux.HandleFunc(queue.TaskTypePostPublished, queueW.HandlePostPublished)
		mux.HandleFunc(queue.TaskTypePostPublishFailed, queueW.HandlePostPublishFailed)
		mux.HandleFunc(queue.TaskTypeMetricsFetchRequested, queueW.HandleMetricsFetchRequested)
		mux.HandleFunc(queue.TaskTypeMetricsFetchBatch, queueW.HandleMetricsFetchBatch)
		mux.HandleFunc(queue.TaskTypeMetricsFetchCompleted, queueW.HandleMetricsFetchCompleted)
		mux.HandleFunc(queue.TaskTypeConnectionExpiring, queueW.HandleConnectionExpiring)
		mux.HandleFunc(queue.TaskTypeConnectionRefreshed, queueW.HandleConnectionRefreshed)

		log.Println("Starting the Asynq server...")
		if err := server.Run(mux); err != nil {
			log.Fatalf("Could not start Asynq server: %v", err)
		}
	}()

	go func() {
		if err := app.Listen(":3000"); err != nil {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()
	log.Println("Server is running on http://localhost:3000")

	gracefulShutdown(app, db, c)
}

func closeDB(db *sql.DB) {
	fmt.Fprint(os.Stdout, "Closing database connection... ")
	if err := db.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to close database: %v", err)
		return
	}
	fmt.Fprintln(os.Stdout, "Done")
}

func gracefulShutdown(app *fiber.App, db *sql.DB, c *cron.Cron) {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	<-quit
	log.Println("Shutting down server...")

	c.Stop()
	if err := app.Shutdown(); err != nil {
		log.Fatalf("Failed to shut down server: %v", err)
	}

	closeDB(db)
	log.Println("Server shutdown complete.")
}
