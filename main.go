package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/IBM/sarama"
	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"github.com/urfave/cli/v2"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"

	"github.com/hadiulofficial/bookswap-pro-sub001/cache"
	"github.com/hadiulofficial/bookswap-pro-sub001/config"
	"github.com/hadiulofficial/bookswap-pro-sub001/database"
	"github.com/hadiulofficial/bookswap-pro-sub001/grpc"
	"github.com/hadiulofficial/bookswap-pro-sub001/handlers"
	"github.com/hadiulofficial/bookswap-pro-sub001/kafka"
	"github.com/hadiulofficial/bookswap-pro-sub001/ledger"
	"github.com/hadiulofficial/bookswap-pro-sub001/logging"
	"github.com/hadiulofficial/bookswap-pro-sub001/middleware"
	"github.com/hadiulofficial/bookswap-pro-sub001/notifications"
	"github.com/hadiulofficial/bookswap-pro-sub001/payment"
	"github.com/hadiulofficial/bookswap-pro-sub001/query"
	"github.com/hadiulofficial/bookswap-pro-sub001/shipping"
)

func main() {
	app := &cli.App{
		Name:  "bookswap",
		Usage: "book marketplace order and fulfillment service",
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "run the REST, gRPC and Kafka endpoints",
				Action: serve,
			},
			{
				Name:  "migrate",
				Usage: "apply database migrations",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "down", Usage: "roll back every migration"},
				},
				Action: runMigrate,
			},
			{
				Name:  "reconcile",
				Usage: "cancel pending orders abandoned before checkout",
				Flags: []cli.Flag{
					&cli.DurationFlag{Name: "older-than", Value: time.Hour, Usage: "minimum age of a pending order"},
				},
				Action: reconcile,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func setup() (config.Config, *zap.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, nil, err
	}
	logger, err := logging.New(cfg.ServiceName, cfg.LogLevel, cfg.LogFile)
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return cfg, logger, nil
}

func runMigrate(c *cli.Context) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	defer logger.Sync()

	return database.Migrate(cfg.DB.URL(), !c.Bool("down"), logger)
}

func reconcile(c *cli.Context) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	defer logger.Sync()

	db, err := database.InitDB(cfg.DB, logger)
	if err != nil {
		return err
	}
	defer db.Close()

	l := newLedger(cfg, db, nil, nil, logger)
	n, err := l.Reconcile(c.Context, c.Duration("older-than"))
	if err != nil {
		return err
	}
	logger.Info("Stale orders cancelled", zap.Int("count", n))
	return nil
}

// newLedger wires the ledger to its Postgres stores. publisher and views may
// be nil.
func newLedger(cfg config.Config, db *sqlx.DB, publisher ledger.EventPublisher, views ledger.ViewInvalidator, logger *zap.Logger) *ledger.Ledger {
	return ledger.New(ledger.Deps{
		Orders:    database.NewOrderRepo(db),
		Catalog:   database.NewBookRepo(db),
		Shipping:  shipping.NewCapture(database.NewShippingRepo(db), logger),
		Gateway:   payment.NewStripeGateway(cfg.Payment, logger),
		Notifier:  notifications.NewEmitter(database.NewNotificationRepo(db), logger),
		Publisher: publisher,
		Views:     views,
	}, cfg.Payment.SuccessURL, cfg.Payment.CancelURL, logger)
}

func serve(c *cli.Context) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	defer logger.Sync()

	// Initialize OpenTelemetry
	shutdownTracing := func() {}
	if cfg.Tracing.Enabled {
		shutdownTracing, err = middleware.InitTracing(cfg.ServiceName, cfg.Tracing.CollectorEndpoint)
		if err != nil {
			logger.Fatal("Failed to initialize tracing", zap.Error(err))
		}
	}

	// Initialize database
	db, err := database.InitDB(cfg.DB, logger)
	if err != nil {
		logger.Fatal("Failed to initialize database", zap.Error(err))
	}
	if err := database.Migrate(cfg.DB.URL(), true, logger); err != nil {
		logger.Fatal("Failed to migrate database", zap.Error(err))
	}

	// Initialize Redis cache
	redisClient, err := cache.InitRedis(cfg.Redis, logger)
	if err != nil {
		logger.Fatal("Failed to initialize Redis", zap.Error(err))
	}
	viewCache := cache.NewViewCache(redisClient)

	// Initialize Kafka producer
	var (
		producer  sarama.SyncProducer
		publisher ledger.EventPublisher
	)
	if cfg.Kafka.Enabled {
		producer, err = kafka.InitProducer(cfg.Kafka, logger)
		if err != nil {
			logger.Fatal("Failed to initialize Kafka producer", zap.Error(err))
		}
		publisher = kafka.NewPublisher(producer, cfg.Kafka.OrderEventsTopic, logger)
	}

	profiles := database.NewProfileRepo(db)
	orderLedger := newLedger(cfg, db, publisher, viewCache, logger)
	views := query.NewService(
		database.NewOrderRepo(db),
		database.NewBookRepo(db),
		database.NewShippingRepo(db),
		profiles,
		viewCache,
		cfg.CacheTTL,
		logger,
	)
	emitter := notifications.NewEmitter(database.NewNotificationRepo(db), logger)

	ctx, stop := context.WithCancel(c.Context)
	defer stop()

	// Start Kafka consumer in background
	var group sarama.ConsumerGroup
	if cfg.Kafka.Enabled {
		group, err = kafka.InitConsumerGroup(cfg.Kafka, logger)
		if err != nil {
			logger.Fatal("Failed to initialize Kafka consumer group", zap.Error(err))
		}
		consumer := kafka.NewPaymentConsumer(group, cfg.Kafka.PaymentEventsTopic, orderLedger, logger)
		go func() {
			if err := consumer.Start(ctx); err != nil {
				logger.Error("Kafka consumer error", zap.Error(err))
			}
		}()
	}

	// Setup REST API with Gin
	router := gin.New()
	router.Use(gin.Recovery())
	// OpenTelemetry middleware must be first to extract trace context
	router.Use(otelgin.Middleware(cfg.ServiceName))
	router.Use(middleware.LoggerMiddleware(logger))
	router.Use(middleware.MetricsMiddleware())

	router.GET("/health", handlers.HealthCheck)
	router.GET("/metrics", middleware.PrometheusHandler())

	webhookHandler := handlers.NewWebhookHandler(
		payment.NewStripeGateway(cfg.Payment, logger),
		cache.NewEventDeduper(redisClient, "stripe:event:", 24*time.Hour),
		orderLedger,
		logger,
	)
	router.POST("/webhooks/stripe", webhookHandler.Stripe)

	v1 := router.Group("/v1", middleware.AuthMiddleware([]byte(cfg.Auth.JWTSecret)))

	profileHandler := handlers.NewProfileHandler(profiles, database.NewWishlistRepo(db), logger)
	v1.POST("/session", profileHandler.EnsureSession)
	v1.GET("/wishlist", profileHandler.ListWishlist)
	v1.POST("/wishlist/:bookId", profileHandler.AddToWishlist)
	v1.DELETE("/wishlist/:bookId", profileHandler.RemoveFromWishlist)

	orderHandler := handlers.NewOrderHandler(orderLedger, views, logger)
	v1.POST("/orders", orderHandler.CreateOrder)
	v1.GET("/orders", orderHandler.ListOrders)
	v1.GET("/orders/:id", orderHandler.GetOrder)
	v1.PATCH("/orders/:id/status", orderHandler.UpdateStatus)

	notificationHandler := handlers.NewNotificationHandler(emitter, logger)
	v1.GET("/notifications", notificationHandler.List)
	v1.GET("/notifications/unread-count", notificationHandler.UnreadCount)
	v1.POST("/notifications/read-all", notificationHandler.MarkAllRead)
	v1.POST("/notifications/:id/read", notificationHandler.MarkRead)

	// Start REST server
	restSrv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := restSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Failed to start REST server", zap.Error(err))
		}
	}()
	logger.Info("REST API started", zap.String("addr", cfg.HTTPAddr))

	// Start gRPC server
	grpcListener, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		logger.Fatal("Failed to listen on gRPC port", zap.Error(err))
	}
	grpcServer := grpc.NewServer(db, 15*time.Second, logger)
	go grpcServer.Watch(ctx)
	go func() {
		if err := grpcServer.Serve(grpcListener); err != nil {
			logger.Fatal("Failed to start gRPC server", zap.Error(err))
		}
	}()
	logger.Info("gRPC server started", zap.String("addr", cfg.GRPCAddr))

	gracefulShutdown(restSrv, grpcServer, stop, group, producer, db, redisClient, shutdownTracing, logger)
	return nil
}

// gracefulShutdown handles SIGINT/SIGTERM and shuts down all services gracefully
func gracefulShutdown(
	restSrv *http.Server,
	grpcServer *grpc.Server,
	stopBackground context.CancelFunc,
	group sarama.ConsumerGroup,
	producer sarama.SyncProducer,
	db *sqlx.DB,
	redisClient *redis.Client,
	shutdownTracing func(),
	logger *zap.Logger,
) {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutdown signal received. Exiting...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Stop REST server
	if err := restSrv.Shutdown(ctx); err != nil {
		logger.Error("REST server forced to shutdown", zap.Error(err))
	} else {
		logger.Info("REST server stopped gracefully")
	}

	// Stop gRPC server
	grpcServer.GracefulStop()
	logger.Info("gRPC server stopped gracefully")

	// Stop Kafka consumer and producer
	stopBackground()
	if group != nil {
		if err := group.Close(); err != nil {
			logger.Error("Failed to close Kafka consumer group", zap.Error(err))
		}
	}
	if producer != nil {
		if err := producer.Close(); err != nil {
			logger.Error("Failed to close Kafka producer", zap.Error(err))
		}
	}

	// Close database
	if err := db.Close(); err != nil {
		logger.Error("Failed to close database", zap.Error(err))
	} else {
		logger.Info("Database connection closed gracefully")
	}

	// Close Redis cache
	if err := redisClient.Close(); err != nil {
		logger.Error("Failed to close Redis cache", zap.Error(err))
	} else {
		logger.Info("Redis cache closed gracefully")
	}

	// Shutdown tracing
	shutdownTracing()
	logger.Info("Service exited gracefully")
}
