package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"github.com/sashabaranov/go-openai"
	slackapi "github.com/slack-go/slack"

	"supportdraft/internal/config"
	"supportdraft/internal/handlers"
	"supportdraft/internal/integrations/logiless"
	"supportdraft/internal/integrations/slack"
	"supportdraft/internal/jobs"
	"supportdraft/internal/logging"
	"supportdraft/internal/middleware"
	"supportdraft/internal/queue"
	"supportdraft/internal/search"
	"supportdraft/internal/services"
	"supportdraft/internal/storage"
	"supportdraft/internal/threads"
)

// ServiceBundle holds everything main starts and stops
type ServiceBundle struct {
	Config *config.Config
	DB     *sql.DB
	Redis  *redis.Client
	AMQP   *amqp.Connection

	EmbeddingService   *services.EmbeddingService
	SearchService      *services.SearchService
	Pipeline           *services.Pipeline
	EmbeddingProcessor *jobs.EmbeddingProcessor

	Dispatcher      handlers.Dispatcher
	closeDispatcher func(context.Context) error

	InteractionHandler *slack.InteractionHandler
	SlackHandler       *handlers.SlackHandler
	WebhookHandler     *handlers.WebhookHandler
	SearchHandler      *handlers.SearchHandler
}

// connectDatabase retries until the database answers or ctx is done
func connectDatabase(ctx context.Context, cfg *config.Config) (*sql.DB, error) {
	for {
		db, err := storage.Open(ctx, cfg.DatabaseURL)
		if err == nil {
			if err = storage.InitSchema(ctx, db, cfg.EmbeddingDimensions); err == nil {
				return db, nil
			}
			db.Close()
		}

		slog.Error("Failed to initialize database, retrying in 10s", "error", err)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(10 * time.Second):
		}
	}
}

func newThreadStore(ctx context.Context, cfg *config.Config, bundle *ServiceBundle) (threads.Store, error) {
	switch cfg.ThreadBackend {
	case "redis":
		client, err := storage.NewRedisClient(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			return nil, err
		}
		bundle.Redis = client
		return storage.NewRedisThreadStore(client, cfg.ThreadRetention), nil
	case "memory":
		slog.Warn("Thread bindings are kept in memory and lost on restart")
		return threads.NewMemoryStore(), nil
	default:
		return storage.NewThreadStore(bundle.DB), nil
	}
}

func initializeServices(ctx context.Context, cfg *config.Config) (*ServiceBundle, error) {
	slog.Info("Initializing services...")

	bundle := &ServiceBundle{Config: cfg}

	db, err := connectDatabase(ctx, cfg)
	if err != nil {
		return nil, err
	}
	bundle.DB = db

	openaiClient := openai.NewClient(cfg.OpenAIAPIKey)
	bundle.EmbeddingService = services.NewEmbeddingService(openaiClient, cfg.EmbeddingModel)
	drafter := services.NewDraftService(openaiClient, cfg.CompletionModel, cfg.Temperature)

	chunkStore := storage.NewChunkStore(db)
	bundle.SearchService = services.NewSearchService(search.NewEngine(chunkStore))

	threadStore, err := newThreadStore(ctx, cfg, bundle)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize thread store: %w", err)
	}
	registry := threads.NewRegistry(threadStore, cfg.ThreadTTL)

	slackOptions := []slackapi.Option{}
	if cfg.SlackAppToken != "" {
		slackOptions = append(slackOptions, slackapi.OptionAppLevelToken(cfg.SlackAppToken))
	}
	slackClient := slackapi.New(cfg.SlackBotToken, slackOptions...)
	notifier := slack.NewNotifier(slackClient, cfg.SlackChannelID, cfg.SlackErrorChannelID)

	deps := services.PipelineDeps{
		Embedder: bundle.EmbeddingService,
		Searcher: bundle.SearchService,
		Drafter:  drafter,
		Registry: registry,
		Notifier: notifier,
		Reporter: notifier,
	}
	if cfg.LogilessEnabled() {
		orders, err := logiless.NewClient(logiless.Config{
			ClientID:     cfg.LogilessClientID,
			ClientSecret: cfg.LogilessClientSecret,
			RefreshToken: cfg.LogilessRefreshToken,
			TokenURL:     cfg.LogilessTokenEndpoint,
			BaseURL:      cfg.LogilessAPIBaseURL,
			MerchantID:   cfg.LogilessMerchantID,
			OrderPattern: cfg.OrderPattern,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to initialize Logiless client: %w", err)
		}
		deps.Orders = orders
	} else {
		slog.Warn("Logiless credentials are not set; order lookups are disabled")
	}

	bundle.Pipeline, err = services.NewPipeline(deps, services.PipelineConfig{
		Search:       cfg.Search,
		ThreadTTL:    cfg.ThreadTTL,
		CallTimeout:  cfg.CallTimeout,
		StoreRetries: cfg.StoreRetries,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize pipeline: %w", err)
	}

	if cfg.AMQPURL != "" {
		conn, err := queue.Connect(ctx, cfg.AMQPURL)
		if err != nil {
			return nil, err
		}
		bundle.AMQP = conn

		worker := queue.NewWorker(conn, bundle.Pipeline, cfg.AMQPQueue, 0)
		if err := worker.Start(ctx); err != nil {
			return nil, err
		}
		bundle.Dispatcher = queue.NewPublisher(conn, cfg.AMQPQueue)
		bundle.closeDispatcher = func(context.Context) error {
			worker.Close()
			return nil
		}
		slog.Info("Inquiries are queued through RabbitMQ", "queue", cfg.AMQPQueue)
	} else {
		dispatcher := queue.NewInProcessDispatcher(bundle.Pipeline, 4, 64, 0)
		bundle.Dispatcher = dispatcher
		bundle.closeDispatcher = dispatcher.Close
	}

	bundle.InteractionHandler = slack.NewInteractionHandler(storage.NewFeedbackStore(db))
	if cfg.SlackAppToken != "" {
		bundle.SlackHandler = handlers.NewSlackHandler(slackClient, bundle.InteractionHandler)
	}

	bundle.EmbeddingProcessor = jobs.NewEmbeddingProcessor(chunkStore, bundle.EmbeddingService, cfg.EmbeddingDimensions, cfg.BackfillInterval)
	bundle.WebhookHandler = handlers.NewWebhookHandler(bundle.Dispatcher, cfg.ChannelioDeskURL)
	bundle.SearchHandler = handlers.NewSearchHandler(bundle.EmbeddingService, bundle.SearchService, cfg.Search)

	slog.Info("All services initialized successfully", "thread_backend", cfg.ThreadBackend)
	return bundle, nil
}

func newRouter(bundle *ServiceBundle, apiLimiters, webhookLimiters *middleware.IPLimiters) *mux.Router {
	router := mux.NewRouter()

	router.Use(middleware.LoggingMiddleware)
	router.Use(middleware.MetricsMiddleware)
	router.Use(middleware.RateLimitMiddleware(500, 1000))

	webhookRouter := router.PathPrefix("/webhook").Subrouter()
	webhookRouter.Use(webhookLimiters.Middleware)
	webhookRouter.HandleFunc("/channelio", bundle.WebhookHandler.HandleWebhook)

	slackRouter := router.PathPrefix("/slack").Subrouter()
	slackRouter.Use(webhookLimiters.Middleware)
	slackRouter.HandleFunc("/actions", bundle.InteractionHandler.HandleAction).Methods("POST")

	apiRouter := router.PathPrefix("/api").Subrouter()
	apiRouter.Use(apiLimiters.Middleware)
	apiRouter.HandleFunc("/search", bundle.SearchHandler.HandleSearch).Methods("POST")
	apiRouter.HandleFunc("/stats", func(w http.ResponseWriter, r *http.Request) {
		stats, err := bundle.EmbeddingProcessor.GetStats(r.Context())
		if err != nil {
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}
		handlers.WriteJSON(w, http.StatusOK, stats)
	}).Methods("GET")

	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	}).Methods("GET")

	router.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := bundle.DB.PingContext(ctx); err != nil {
			slog.Warn("Readiness check failed", "error", err)
			http.Error(w, "Database unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("Ready"))
	}).Methods("GET")

	router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	return router
}

func main() {
	cfg, err := config.Load()
	if err == nil {
		err = cfg.Validate()
	}
	if err != nil {
		logging.SetupLogger("INFO", "text")
		slog.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}

	logging.SetupLogger(cfg.LogLevel, cfg.LogFormat)
	slog.Info("Starting supportdraft", slog.String("environment", cfg.Environment))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	bundle, err := initializeServices(ctx, cfg)
	if err != nil {
		slog.Error("Failed to initialize services", "error", err)
		os.Exit(1)
	}

	go bundle.EmbeddingProcessor.Start(ctx)

	if bundle.SlackHandler != nil {
		go func() {
			if err := bundle.SlackHandler.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("Slack Socket Mode stopped", "error", err)
			}
		}()
	}

	apiLimiters := middleware.APILimiters()
	webhookLimiters := middleware.WebhookLimiters()
	go apiLimiters.Cleanup(ctx, time.Minute, 10*time.Minute)
	go webhookLimiters.Cleanup(ctx, time.Minute, 10*time.Minute)

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      newRouter(bundle, apiLimiters, webhookLimiters),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 35 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("Server starting", slog.String("port", cfg.Port))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("Server failed to start", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	slog.Info("Server shutting down...")

	bundle.EmbeddingProcessor.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
	}

	// in-flight inquiries still need the database and Slack
	if err := bundle.closeDispatcher(shutdownCtx); err != nil {
		slog.Error("Inquiries still running at shutdown", "error", err)
	}

	if bundle.AMQP != nil {
		bundle.AMQP.Close()
	}
	if bundle.Redis != nil {
		bundle.Redis.Close()
	}
	bundle.DB.Close()

	slog.Info("Server exited gracefully")
}
