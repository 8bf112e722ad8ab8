package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"

	"github.com/iliyamo/seat-arbiter/internal/broadcast"
	"github.com/iliyamo/seat-arbiter/internal/config"
	"github.com/iliyamo/seat-arbiter/internal/database"
	"github.com/iliyamo/seat-arbiter/internal/fanout"
	"github.com/iliyamo/seat-arbiter/internal/handler"
	"github.com/iliyamo/seat-arbiter/internal/lock"
	"github.com/iliyamo/seat-arbiter/internal/middleware"
	"github.com/iliyamo/seat-arbiter/internal/queue"
	"github.com/iliyamo/seat-arbiter/internal/reaper"
	"github.com/iliyamo/seat-arbiter/internal/repository"
	"github.com/iliyamo/seat-arbiter/internal/router"
	"github.com/iliyamo/seat-arbiter/internal/service"
)

func main() {
	_ = godotenv.Load() // .env is optional

	cfg, err := config.Load()
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}
	log := config.NewLogger(cfg.Log, os.Stdout)
	slog.SetDefault(log)

	if err := run(cfg, log); err != nil {
		log.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	instanceID := uuid.NewString()
	log = log.With("instance", instanceID)

	store, db, err := openStore(cfg.DB, log)
	if err != nil {
		return err
	}
	if db != nil {
		defer db.Close()
	}

	rdb, err := config.NewRedisClient(cfg.Redis)
	if err != nil {
		log.Warn("redis not reachable at startup, seat operations will fail until it is", "addr", cfg.Redis.Address(), "error", err)
	}
	defer rdb.Close()

	transport, err := newTransport(cfg.Fanout, rdb, instanceID, log)
	if err != nil {
		return err
	}
	defer transport.Close()

	hub := broadcast.NewHub(log)
	bridge := fanout.NewBridge(transport, hub, instanceID, log)
	go func() { _ = bridge.Run(ctx) }()

	res := cfg.Reservation
	svc := service.NewBookingService(store, lock.NewCoordinator(rdb), bridge, log, service.Options{
		HoldTTL:       res.HoldTTL,
		ConfirmGrace:  res.ConfirmGrace,
		RetryAttempts: res.RetryAttempts,
		RetryInitial:  res.RetryInitial,
	})

	if cfg.Audit.Enabled {
		pub := service.NewQueuePublisher(cfg.Fanout.RabbitMQURL, cfg.Audit.Queue)
		defer pub.Close()
		svc.WithAudit(pub)
	}
	if cfg.Audit.Consume {
		go queue.StartAuditConsumer(ctx, cfg.Fanout.RabbitMQURL, cfg.Audit.Queue, queue.NewAuditLog(cfg.Audit.LogPath), log)
	}

	go reaper.New(svc, res.ReaperInterval, res.ReaperBatch, log).Start(ctx)

	e := echo.New()
	e.HideBanner = true
	e.Use(echomw.Recover())
	e.Use(requestLogger(log))
	router.Register(e, router.Deps{
		Bookings: handler.NewBookingHandler(svc, log),
		Realtime: handler.NewRealtimeHandler(hub, svc, log),
		Health: handler.Health(map[string]handler.Pinger{
			"store": store,
			"redis": handler.PingFunc(func(ctx context.Context) error { return rdb.Ping(ctx).Err() }),
		}),
		JWTSecret: cfg.JWT.Secret,
		RateLimit: middleware.NewTokenBucket(cfg.RateLimit, rdb, log),
	})

	errCh := make(chan error, 1)
	go func() {
		addr := ":" + cfg.App.Port
		log.Info("listening", "addr", addr, "env", cfg.App.Env, "store", cfg.DB.Driver, "fanout", cfg.Fanout.Driver)
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return e.Shutdown(shutdownCtx)
}

func openStore(cfg config.DBConfig, log *slog.Logger) (repository.Store, *sql.DB, error) {
	if cfg.Driver == "memory" {
		log.Warn("using in-memory store; state is lost on restart and not shared between instances")
		return repository.NewMemoryStore(), nil, nil
	}
	db, err := database.Open(cfg)
	if err != nil {
		return nil, nil, err
	}
	if cfg.Migrate {
		if err := database.Migrate(db); err != nil {
			_ = db.Close()
			return nil, nil, err
		}
	}
	return repository.NewSQLStore(db), db, nil
}

func newTransport(cfg config.FanoutConfig, rdb *redis.Client, instanceID string, log *slog.Logger) (fanout.Transport, error) {
	switch cfg.Driver {
	case config.FanoutAMQP:
		return fanout.NewAMQPTransport(cfg.RabbitMQURL, cfg.Channel), nil
	case config.FanoutKafka:
		return fanout.NewKafkaTransport(cfg.KafkaBrokers, cfg.Channel, instanceID, log)
	case config.FanoutLocal:
		log.Warn("local fan-out only reaches subscribers of this instance")
		return fanout.NewLocalTransport(256), nil
	default:
		return fanout.NewRedisTransport(rdb, cfg.Channel), nil
	}
}

func requestLogger(log *slog.Logger) echo.MiddlewareFunc {
	return echomw.RequestLoggerWithConfig(echomw.RequestLoggerConfig{
		LogMethod:   true,
		LogURI:      true,
		LogStatus:   true,
		LogLatency:  true,
		LogRemoteIP: true,
		LogError:    true,
		HandleError: true,
		LogValuesFunc: func(c echo.Context, v echomw.RequestLoggerValues) error {
			attrs := []any{"method", v.Method, "uri", v.URI, "status", v.Status, "latency", v.Latency, "remote_ip", v.RemoteIP}
			if v.Error != nil {
				log.Error("request", append(attrs, "error", v.Error)...)
				return nil
			}
			log.Info("request", attrs...)
			return nil
		},
	})
}
