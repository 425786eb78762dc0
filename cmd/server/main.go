package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"

	"github.com/nvaziri/seatbook/internal/config"
	"github.com/nvaziri/seatbook/internal/database"
	"github.com/nvaziri/seatbook/internal/handler"
	"github.com/nvaziri/seatbook/internal/middleware"
	"github.com/nvaziri/seatbook/internal/payment"
	"github.com/nvaziri/seatbook/internal/queue"
	"github.com/nvaziri/seatbook/internal/repository"
	"github.com/nvaziri/seatbook/internal/reservation"
	"github.com/nvaziri/seatbook/internal/router"
	"github.com/nvaziri/seatbook/internal/saga"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()

	logger := logrus.New()
	if cfg.Env == "prod" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetLevel(logrus.DebugLevel)
	}

	db, err := database.Open(database.Params{
		User: cfg.DBUser, Pass: cfg.DBPass,
		Host: cfg.DBHost, Port: cfg.DBPort, Name: cfg.DBName,
	})
	if err != nil {
		log.Fatalf("database: %v", err)
	}
	defer db.Close()

	rdb := config.NewRedisClient()
	if rdb == nil {
		log.Fatal("redis: connection failed; the reservation engine cannot run without it")
	}

	bookingRepo := repository.NewBookingRepo(db)
	showRepo := repository.NewShowRepo(db)

	seatMaps := reservation.NewSeatMapCache(showRepo)
	engine := reservation.NewEngine(rdb, seatMaps, reservation.Config{
		MaxSeatsPerRequest: cfg.MaxSeatsPerLock,
		ConfirmMarkerTTL:   cfg.ConfirmMarkerTTL,
	})
	pricer := reservation.NewPricer(showRepo, seatMaps, uint32(cfg.DefaultSeatPriceCents))

	retrier := payment.NewRetrier(payment.RetryConfig{
		MaxAttempts:      3,
		BaseDelay:        200 * time.Millisecond,
		MaxDelay:         2 * time.Second,
		FailureThreshold: 5,
		CoolDown:         30 * time.Second,
	}, logger)
	payClient := payment.NewClient(cfg.PaymentURL, retrier, logger)

	publisher := queue.NewPublisher(cfg.RabbitURL, logger)

	orchestrator := saga.NewOrchestrator(bookingRepo, showRepo, engine, pricer, payClient, publisher,
		saga.Config{LockTTL: cfg.LockTTL}, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reaper := saga.NewReaper(bookingRepo, engine, saga.ReaperConfig{
		Interval:  cfg.ReaperInterval,
		Timeout:   cfg.BookingTimeout,
		BatchSize: cfg.ReaperBatch,
	}, logger)
	go reaper.Run(ctx)

	go queue.StartBookingConsumer(ctx, cfg.RabbitURL, logger)

	e := echo.New()
	e.HideBanner = true
	router.Register(e, router.Deps{
		Bookings:    handler.NewBookingHandler(orchestrator),
		Seats:       handler.NewReservationHandler(engine, showRepo, cfg.LockTTL),
		Webhook:     handler.NewWebhookHandler(orchestrator, cfg.PaymentWebhookSecret, logger),
		JWTSecret:   cfg.JWTSecret,
		RateLimit:   middleware.RateLimitConfig{Enabled: true, Limit: 30, Window: time.Minute},
		RedisClient: rdb,
	})

	// stop serving when the signal context fires, then give in-flight
	// requests a bounded window to finish
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := e.Shutdown(shutdownCtx); err != nil {
			logger.WithError(err).Warn("server shutdown failed")
		}
	}()

	addr := ":" + cfg.Port
	logger.Infof("listening on %s (env=%s)", addr, cfg.Env)
	if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal(err)
	}
}
