package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"cloud.google.com/go/firestore"
	"github.com/gin-gonic/gin"

	"github-telegram-notifier/internal/config"
	"github-telegram-notifier/internal/handlers"
	"github-telegram-notifier/internal/middleware"
	"github-telegram-notifier/internal/services"
)

// App holds the wired services and handlers.
type App struct {
	config             *config.Config
	firestoreService   *services.FirestoreService
	credentialService  *services.CredentialService
	telegramService    *services.TelegramService
	dispatcher         *services.Dispatcher
	onboardingService  *services.OnboardingService
	eventRouter        *services.EventRouter
	cloudTasksService  *services.CloudTasksService
	telegramHandler    *handlers.TelegramHandler
	githubHandler      *handlers.GitHubHandler
	eventWorkerHandler *handlers.EventWorkerHandler
}

func main() {
	cfg := config.Load()

	// Setup structured logging
	var logger *slog.Logger
	isDev := cfg.GinMode != "release"
	var logLevel slog.Level
	switch cfg.LogLevel {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	if isDev {
		logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level: logLevel,
		}))
	} else {
		logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: logLevel,
		}))
	}
	slog.SetDefault(logger)

	gin.SetMode(cfg.GinMode)

	ctx := context.Background()

	slog.Info("Connecting to Firestore", "project_id", cfg.FirestoreProjectID, "database_id", cfg.FirestoreDatabaseID)
	firestoreClient, err := firestore.NewClientWithDatabase(ctx, cfg.FirestoreProjectID, cfg.FirestoreDatabaseID)
	if err != nil {
		slog.Error("Failed to create Firestore client", "component", "startup", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := firestoreClient.Close(); err != nil {
			slog.Error("Error closing Firestore client", "component", "shutdown", "error", err)
		}
	}()

	firestoreService := services.NewFirestoreService(firestoreClient)
	credentialService := services.NewCredentialService(firestoreService)
	githubService := services.NewGitHubService(cfg)

	telegramService, err := services.NewTelegramService(cfg.TelegramBotToken)
	if err != nil {
		slog.Error("Failed to create Telegram client", "component", "startup", "error", err)
		os.Exit(1)
	}

	dispatcher := services.NewDispatcher(telegramService, services.DispatcherConfig{
		MaxAttempts: cfg.DispatchMaxAttempts,
		BaseDelay:   cfg.DispatchBaseDelay,
		SendTimeout: cfg.DispatchSendTimeout,
		QueueSize:   cfg.DispatchQueueSize,
	})

	onboardingService := services.NewOnboardingService(
		firestoreService,
		credentialService,
		githubService,
		dispatcher,
		services.OnboardingConfig{
			MaxAttempts:   cfg.OnboardingMaxAttempts,
			IdleTimeout:   cfg.ConversationIdleTimeout,
			PublicBaseURL: cfg.PublicBaseURL,
		},
	)

	eventRouter := services.NewEventRouter(firestoreService, firestoreService)

	// Cloud Tasks is only wired when async event processing is on; inline
	// routing needs no queue infrastructure.
	var cloudTasksService *services.CloudTasksService
	var eventQueue handlers.EventQueue
	if cfg.EnableAsyncProcessing {
		cloudTasksService, err = services.NewCloudTasksService(services.CloudTasksConfig{
			ProjectID: cfg.GoogleCloudProject,
			Location:  cfg.GCPRegion,
			QueueName: cfg.CloudTasksQueue,
			WorkerURL: cfg.EventWorkerURL,
		})
		if err != nil {
			slog.Error("Failed to create Cloud Tasks service", "error", err)
			os.Exit(1)
		}
		defer func() {
			if err := cloudTasksService.Close(); err != nil {
				slog.Error("Error closing Cloud Tasks client", "error", err)
			}
		}()
		eventQueue = cloudTasksService
	}

	app := &App{
		config:             cfg,
		firestoreService:   firestoreService,
		credentialService:  credentialService,
		telegramService:    telegramService,
		dispatcher:         dispatcher,
		onboardingService:  onboardingService,
		eventRouter:        eventRouter,
		cloudTasksService:  cloudTasksService,
		telegramHandler:    handlers.NewTelegramHandler(onboardingService),
		githubHandler:      handlers.NewGitHubHandler(eventRouter, dispatcher, eventQueue),
		eventWorkerHandler: handlers.NewEventWorkerHandler(eventRouter, dispatcher, cfg.EventProcessingTimeout),
	}

	janitorCtx, stopJanitor := context.WithCancel(ctx)
	defer stopJanitor()
	app.onboardingService.StartJanitor(janitorCtx)

	router := gin.Default()
	router.Use(middleware.LoggingMiddleware())

	router.POST("/webhooks/telegram", app.telegramHandler.HandleWebhook)
	router.POST("/webhooks/github", app.githubHandler.HandleWebhook)
	router.POST("/process-event", app.eventWorkerHandler.ProcessEvent)
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy"})
	})

	slog.Info("Starting server", "component", "server", "port", cfg.Port)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Port),
		Handler:      router,
		ReadTimeout:  cfg.ServerReadTimeout,
		WriteTimeout: cfg.ServerWriteTimeout,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed to start", "component", "server", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("Shutting down server...", "component", "server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ServerShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "component", "server", "error", err)
		os.Exit(1)
	}

	// No new requests can queue notifications now; flush what remains.
	app.dispatcher.Stop()

	slog.Info("Server exited gracefully", "component", "server")
}
