package main // Entry point package

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"                   // Echo web framework
	echomw "github.com/labstack/echo/v4/middleware" // Echo's built-in recover middleware
	"github.com/redis/go-redis/v9"                  // Redis client for locks, rate limiting and caching
	"go.uber.org/zap"                               // structured logging

	"github.com/iliyamo/ticket-booking/internal/booking"
	"github.com/iliyamo/ticket-booking/internal/config"
	"github.com/iliyamo/ticket-booking/internal/database"
	"github.com/iliyamo/ticket-booking/internal/handler"
	"github.com/iliyamo/ticket-booking/internal/lock"
	"github.com/iliyamo/ticket-booking/internal/logger"
	"github.com/iliyamo/ticket-booking/internal/middleware"
	"github.com/iliyamo/ticket-booking/internal/queue"
	"github.com/iliyamo/ticket-booking/internal/repository"
	"github.com/iliyamo/ticket-booking/internal/router"
)

// store is what the server needs from a persistence backend: the booking
// engine's store plus the catalog writes.
type store interface {
	booking.Store
	handler.Catalog
}

func main() {
	cfg, err := config.Load() // Load environment config
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	log, err := logger.New(logger.Config{
		Level:       cfg.LogLevel,
		Service:     "ticket-booking",
		Development: cfg.Development(),
		OutputPath:  cfg.LogOutput,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	if err := run(cfg, log); err != nil {
		log.Fatal("server stopped with error", zap.Error(err))
	}
}

func run(cfg config.Config, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, ready, closeStore, err := openStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeStore()

	rdb := config.NewRedisClient(cfg.Redis)
	if rdb == nil {
		log.Warn("redis unavailable: using in-process event locks, rate limiting and caching disabled")
	} else {
		defer func() { _ = rdb.Close() }()
	}

	cache := middleware.NewEventCache(cfg.Cache, rdb, log.Named("cache"))
	opts := []booking.Option{
		booking.WithLogger(log.Named("booking")),
		booking.WithEventInvalidator(cache),
		booking.WithNumberAttempts(cfg.Booking.NumberAttempts),
		booking.WithCompensationTimeout(cfg.Booking.CompensationTimeout),
	}
	var publisher *queue.Publisher
	if cfg.RabbitURL != "" {
		publisher = queue.NewPublisher(cfg.RabbitURL, nil, log.Named("queue"))
		defer publisher.Close()
		opts = append(opts, booking.WithNotifier(publisher))
	} else {
		log.Warn("RABBITMQ_URL not set: lifecycle events and reconcile requests are not published")
	}
	svc := booking.NewService(st, newLocker(cfg, rdb, log), opts...)

	if cfg.RabbitURL != "" {
		consumer := queue.NewConsumer(cfg.RabbitURL, queue.QueueInventoryReconcile,
			queue.ReconcileHandler(svc, log.Named("reconcile")), log.Named("queue"))
		go func() {
			if err := consumer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error("reconcile consumer stopped", zap.Error(err))
			}
		}()
	}

	e := echo.New() // Create Echo instance
	e.HideBanner = true
	e.Validator = handler.NewValidator()
	e.Use(echomw.Recover())
	e.Use(middleware.RequestLogger(log.Named("http")))

	events := handler.NewEventHandler(st, svc, log.Named("http"))
	bookings := handler.NewBookingHandler(svc, log.Named("http"))
	router.RegisterRoutes(e, ready)
	router.RegisterPublic(e, events, cache.Middleware())
	router.RegisterBookings(e, bookings, cfg.JWTSecret, middleware.NewTokenBucket(cfg.RateLimit, rdb, log.Named("ratelimit")))
	router.RegisterAdmin(e, events, cfg.JWTSecret)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		log.Info("listening", zap.String("addr", srv.Addr), zap.String("env", cfg.Env), zap.String("store", cfg.StoreDriver))
		if err := e.StartServer(srv); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	log.Info("server stopped")
	return nil
}

// openStore opens the configured backend.  ready is the readiness check
// served on /readyz.
func openStore(ctx context.Context, cfg config.Config, log *zap.Logger) (st store, ready func(context.Context) error, closeFn func(), err error) {
	if cfg.StoreDriver == config.StoreMemory {
		log.Warn("using the in-memory store: data is lost on restart")
		return repository.NewMemoryStore(), nil, func() {}, nil
	}

	var db *sql.DB
	db, err = database.Open(database.Config{
		User: cfg.DBUser,
		Pass: cfg.DBPass,
		Host: cfg.DBHost,
		Port: cfg.DBPort,
		Name: cfg.DBName,
	})
	if err != nil {
		return nil, nil, nil, fmt.Errorf("open database: %w", err)
	}
	if cfg.DBMigrate {
		if err := database.Migrate(ctx, db); err != nil {
			_ = db.Close()
			return nil, nil, nil, err
		}
		log.Info("database schema applied")
	}
	return repository.NewStore(db), db.PingContext, func() { _ = db.Close() }, nil
}

// newLocker picks the per-event lock: Redis when available so that
// several server instances serialize on the same event, otherwise an
// in-process lock.
func newLocker(cfg config.Config, rdb *redis.Client, log *zap.Logger) booking.Locker {
	if rdb == nil {
		return lock.NewKeyedLocker()
	}
	return lock.NewRedisLocker(rdb, lock.RedisConfig{
		Prefix: "lock",
		TTL:    cfg.Booking.LockTTL,
		Wait:   cfg.Booking.LockWait,
	}, log.Named("lock"))
}
