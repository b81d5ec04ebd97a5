package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/aop00-00/GRIND-PROJECT/internal/events"
	"github.com/aop00-00/GRIND-PROJECT/internal/grpcserver"
	"github.com/aop00-00/GRIND-PROJECT/internal/httpapi"
	"github.com/aop00-00/GRIND-PROJECT/internal/observability"
	"github.com/aop00-00/GRIND-PROJECT/internal/payments"
	"github.com/aop00-00/GRIND-PROJECT/internal/store/classcache"
	"github.com/aop00-00/GRIND-PROJECT/internal/store/gormstore"
	"github.com/aop00-00/GRIND-PROJECT/internal/store/memstore"
	"github.com/aop00-00/GRIND-PROJECT/internal/store/pgstore"
	"github.com/aop00-00/GRIND-PROJECT/pkg/booking"
	"github.com/glebarez/sqlite"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

const (
	serviceName     = "grindd"
	serviceVersion  = "0.1.0"
	shutdownTimeout = 10 * time.Second
)

func runServer(ctx context.Context, cfg *runtimeConfig) error {
	logger, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("logger init: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	shutdownTracing, err := observability.InitTracing(ctx, observability.TracingConfig{
		ServiceName:    serviceName,
		ServiceVersion: serviceVersion,
		Environment:    cfg.Environment,
		Endpoint:       cfg.OTLPEndpoint,
		Insecure:       cfg.OTLPInsecure,
	})
	if err != nil {
		return fmt.Errorf("tracing init: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if shutdownErr := shutdownTracing(flushCtx); shutdownErr != nil {
			logger.Warn("tracer shutdown failed", zap.Error(shutdownErr))
		}
	}()

	store, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	if cfg.RedisURL != "" {
		cached, closeCache, cacheErr := withClassCache(ctx, store, cfg, logger)
		if cacheErr != nil {
			return cacheErr
		}
		defer closeCache()
		store = cached
	}

	serviceOptions := []booking.ServiceOption{
		booking.WithOperationLogger(observability.NewZapOperationLogger(logger)),
		booking.WithTracer(otel.Tracer(serviceName)),
	}
	if !cfg.AtomicBooking {
		serviceOptions = append(serviceOptions, booking.WithAtomicBookingDisabled())
	}
	var publisher events.Publisher = events.NewNoopPublisher(logger)
	if cfg.AMQPURL != "" {
		amqpPublisher, publisherErr := events.NewAMQPPublisher(cfg.AMQPURL, cfg.AMQPExchange, events.DefaultBreakerConfig(), logger)
		if publisherErr != nil {
			return fmt.Errorf("event publisher: %w", publisherErr)
		}
		publisher = amqpPublisher
	}
	defer func() { _ = publisher.Close() }()
	serviceOptions = append(serviceOptions, booking.WithOperationLogger(events.NewOperationPublisher(publisher, logger)))

	service, err := booking.NewService(store, time.Now, serviceOptions...)
	if err != nil {
		return fmt.Errorf("booking service init: %w", err)
	}
	logger.Info("booking service ready", zap.String("commit_path", service.CommitPath()))

	apiServer, err := httpapi.NewServer(httpapi.Config{
		ListenAddr:        cfg.HTTPListenAddr,
		AllowedOrigins:    httpapi.ParseAllowedOrigins(cfg.AllowedOrigins),
		SessionSigningKey: cfg.JWTSigningKey,
		SessionIssuer:     cfg.JWTIssuer,
		SessionCookieName: cfg.JWTCookieName,
		RequestTimeout:    cfg.RequestTimeout,
	}, service, logger)
	if err != nil {
		return fmt.Errorf("http api init: %w", err)
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return apiServer.Run(groupCtx)
	})
	if cfg.GRPCListenAddr != "" {
		group.Go(func() error {
			return serveGRPC(groupCtx, cfg.GRPCListenAddr, service, logger)
		})
	}
	if cfg.AMQPURL != "" && cfg.PaymentsQueue != "" {
		consumer, consumerErr := payments.NewConsumer(payments.ConsumerConfig{
			URL:       cfg.AMQPURL,
			Exchange:  cfg.AMQPExchange,
			QueueName: cfg.PaymentsQueue,
			Logger:    logger,
		}, payments.NewHandler(service, logger))
		if consumerErr != nil {
			return fmt.Errorf("payments consumer: %w", consumerErr)
		}
		defer func() { _ = consumer.Close() }()
		group.Go(func() error {
			if startErr := consumer.Start(groupCtx); startErr != nil && !errors.Is(startErr, context.Canceled) {
				return startErr
			}
			return nil
		})
	}

	err = group.Wait()
	logger.Info("shutdown complete")
	return err
}

func serveGRPC(ctx context.Context, listenAddr string, service grpcserver.BookingService, logger *zap.Logger) error {
	lis, err := net.Listen("tcp", listenAddr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}

	grpcServer := grpc.NewServer()
	healthServer := grpcserver.Register(grpcServer, grpcserver.NewBookingServiceServer(service))

	errCh := make(chan error, 1)
	go func() {
		logger.Info("gRPC server starting", zap.String("listen_addr", listenAddr))
		errCh <- grpcServer.Serve(lis)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown requested")
		healthServer.Shutdown()
		grpcServer.GracefulStop()
		if serveErr := <-errCh; serveErr != nil && serveErr != grpc.ErrServerStopped {
			return serveErr
		}
		return nil
	case serveErr := <-errCh:
		if serveErr == grpc.ErrServerStopped {
			return nil
		}
		return serveErr
	}
}

func openStore(ctx context.Context, cfg *runtimeConfig, logger *zap.Logger) (booking.Store, func(), error) {
	if cfg.DatabaseURL == databaseMemory {
		logger.Warn("using in-memory store, data is lost on restart")
		return memstore.New(), func() {}, nil
	}
	if cfg.StoreDriver == storeDriverPgx {
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("database open: %w", err)
		}
		if err := pgstore.Migrate(ctx, pool, logger); err != nil {
			pool.Close()
			return nil, nil, err
		}
		return pgstore.New(pool, pgstore.Options{AtomicFunctions: cfg.AtomicBooking}), pool.Close, nil
	}

	gormDB, cleanup, err := openDatabase(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("database open: %w", err)
	}
	store := gormstore.New(gormDB, gormstore.WithAtomicBooking(cfg.AtomicBooking))
	if err := store.Migrate(ctx); err != nil {
		_ = cleanup()
		return nil, nil, err
	}
	return store, func() { _ = cleanup() }, nil
}

func withClassCache(ctx context.Context, store booking.Store, cfg *runtimeConfig, logger *zap.Logger) (booking.Store, func(), error) {
	options, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(options)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("redis ping: %w", err)
	}
	cached := classcache.New(store, client, classcache.WithTTL(cfg.ClassCacheTTL), classcache.WithLogger(logger))
	return cached, func() { _ = client.Close() }, nil
}

func openDatabase(ctx context.Context, dsn string) (*gorm.DB, func() error, error) {
	driver, sqlitePath, err := resolveDriver(dsn)
	if err != nil {
		return nil, nil, err
	}

	var db *gorm.DB
	gormConfig := &gorm.Config{TranslateError: true}
	switch driver {
	case "postgres":
		db, err = gorm.Open(postgres.Open(dsn), gormConfig)
	case "sqlite":
		db, err = gorm.Open(sqlite.Open(sqlitePath), gormConfig)
	default:
		return nil, nil, fmt.Errorf("unsupported database scheme %q", driver)
	}
	if err != nil {
		return nil, nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, nil, err
	}
	if driver == "sqlite" {
		// sqlite has a single writer.
		sqlDB.SetMaxOpenConns(1)
	}
	cleanup := func() error { return sqlDB.Close() }
	return db.WithContext(ctx), cleanup, nil
}

func resolveDriver(dsn string) (string, string, error) {
	if isPostgresURL(dsn) {
		return "postgres", "", nil
	}
	if strings.HasPrefix(dsn, "sqlite://") {
		u, err := url.Parse(dsn)
		if err != nil {
			return "", "", fmt.Errorf("parse sqlite url: %w", err)
		}
		path := u.Path
		if path == "" {
			path = u.Host
		}
		if path == "" || path == "/" {
			path = "grind.db"
		}
		sqlitePath, err := normalizeSQLitePath(path)
		return "sqlite", sqlitePath, err
	}
	sqlitePath, err := normalizeSQLitePath(dsn)
	return "sqlite", sqlitePath, err
}

func normalizeSQLitePath(path string) (string, error) {
	if path == ":memory:" {
		return path, nil
	}
	if strings.HasPrefix(path, "/") {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return "", err
		}
		return path, nil
	}
	abs := filepath.Join(".", path)
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return "", err
	}
	return abs, nil
}
