package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"storefront-api/config"
	"storefront-api/internal/api"
	"storefront-api/internal/auth"
	"storefront-api/internal/broker"
	"storefront-api/internal/notify"
	"storefront-api/internal/redisclient"
	"storefront-api/internal/service"
	"storefront-api/internal/store"
	"storefront-api/internal/util"
	"storefront-api/internal/worker"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	if err := util.InitLogger(cfg.Server.Env, cfg.Observ.LogLevel); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()

	logger := util.GetLogger()
	logger.Info("Starting storefront API", zap.String("store", cfg.Store.Name), zap.String("transport", cfg.Mail.Transport))

	tp, err := util.InitTracer("storefront-api", cfg.Observ.JaegerEndpoint)
	if err != nil {
		logger.Fatal("Failed to initialize tracer", zap.Error(err))
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			logger.Warn("Error shutting down tracer", zap.Error(err))
		}
	}()

	db, err := store.NewStore(cfg.Database.URL, cfg.Database.MaxOpenConns)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()
	logger.Info("Database connected")

	bootCtx, bootCancel := context.WithTimeout(context.Background(), 30*time.Second)
	if err := db.Migrate(bootCtx); err != nil {
		logger.Fatal("Failed to migrate database", zap.Error(err))
	}
	seeder := service.NewSeeder(db)
	if err := seeder.SeedAdmin(bootCtx, cfg.Mail.AdminEmail, cfg.Store.AdminPassword); err != nil {
		logger.Fatal("Failed to seed admin", zap.Error(err))
	}
	if err := seeder.SeedCategories(bootCtx, cfg.SeedCategoryList()); err != nil {
		logger.Fatal("Failed to seed categories", zap.Error(err))
	}
	bootCancel()

	checks := map[string]api.Pinger{"postgres": db}

	// Left as nil interfaces when Redis is off so the services skip them.
	var (
		idem  service.IdempotencyStore
		cache service.CatalogCache
	)
	if cfg.RedisEnabled() {
		redisClient, err := redisclient.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, cfg.Redis.CatalogTTL)
		if err != nil {
			logger.Fatal("Failed to connect to Redis", zap.Error(err))
		}
		defer redisClient.Close()
		idem, cache = redisClient, redisClient
		checks["redis"] = redisClient
		logger.Info("Redis connected")
	}

	var mailer notify.Mailer = notify.NewLogMailer(logger)
	if cfg.Mail.SMTPHost != "" {
		mailer = notify.NewSMTPMailer(notify.SMTPConfig{
			Host:     cfg.Mail.SMTPHost,
			Port:     cfg.Mail.SMTPPort,
			Username: cfg.Mail.SMTPUser,
			Password: cfg.Mail.SMTPPass,
			From:     cfg.Mail.From,
		})
	} else {
		logger.Warn("SMTP_HOST not set, order emails will only be logged")
	}

	dispatcher := notify.NewDispatcher(mailer, notify.DispatcherConfig{
		AdminEmail: cfg.Mail.AdminEmail,
		Currency:   cfg.Store.Currency,
		Workers:    cfg.Mail.Workers,
		QueueSize:  cfg.Mail.QueueSize,
	})

	var (
		events  service.OrderEventSink
		workers []*worker.NotificationWorker
		closers []func() error
	)
	switch cfg.Mail.Transport {
	case config.TransportKafka:
		producer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		closers = append(closers, producer.Close)
		events = broker.NewEventPublisher(producer)

		consumer := broker.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.Topic, cfg.Kafka.Group)
		workers = append(workers, worker.NewNotificationWorker("kafka", consumer, dispatcher))
		logger.Info("Kafka notification pipeline initialized", zap.String("topic", cfg.Kafka.Topic))

	case config.TransportRabbitMQ:
		publisher, err := broker.NewRabbitPublisher(cfg.RabbitMQ.URL, cfg.RabbitMQ.Exchange)
		if err != nil {
			logger.Fatal("Failed to connect to RabbitMQ", zap.Error(err))
		}
		closers = append(closers, publisher.Close)
		events = publisher

		consumer, err := broker.NewRabbitConsumer(cfg.RabbitMQ.URL, cfg.RabbitMQ.Exchange, cfg.RabbitMQ.Queue)
		if err != nil {
			logger.Fatal("Failed to start RabbitMQ consumer", zap.Error(err))
		}
		workers = append(workers, worker.NewNotificationWorker("rabbitmq", consumer, dispatcher))
		logger.Info("RabbitMQ notification pipeline initialized", zap.String("queue", cfg.RabbitMQ.Queue))

	default:
		dispatcher.Start()
		events = dispatcher
	}

	tokens := auth.NewTokenIssuer(cfg.Auth.Secret, cfg.Auth.TTL)
	authService := service.NewAuthService(db, tokens)
	catalogService := service.NewCatalogService(db, cache)
	orderService := service.NewOrderService(db, events, idem, cache, cfg.Store.Name)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	handler := api.NewHandler(api.Deps{
		Auth:        authService,
		Catalog:     catalogService,
		Orders:      orderService,
		Tokens:      tokens,
		Policy:      auth.DefaultPolicy(),
		Checks:      checks,
		CORSOrigins: cfg.Server.CORSOrigins,
		Production:  cfg.IsProduction(),
	})
	handler.SetupRoutes(router)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("Starting HTTP server", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	for _, w := range workers {
		w := w
		g.Go(func() error {
			return w.Start(gctx)
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("Server forced to shutdown", zap.Error(err))
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("Server stopped with error", zap.Error(err))
	}

	for _, w := range workers {
		if err := w.Stop(); err != nil {
			logger.Warn("Error stopping worker", zap.Error(err))
		}
	}

	orderService.Drain()

	drainCtx, drainCancel := context.WithTimeout(context.Background(), 15*time.Second)
	if err := dispatcher.Close(drainCtx); err != nil {
		logger.Warn("Notification queue not fully drained", zap.Error(err))
	}
	drainCancel()

	for _, closeFn := range closers {
		if err := closeFn(); err != nil {
			logger.Warn("Error closing broker connection", zap.Error(err))
		}
	}

	logger.Info("Server exited")
}
