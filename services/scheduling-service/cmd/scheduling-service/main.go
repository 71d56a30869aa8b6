package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/aline-moraes/chairbook/libs/config"
	"github.com/aline-moraes/chairbook/libs/db"
	"github.com/aline-moraes/chairbook/libs/httpx"
	"github.com/aline-moraes/chairbook/libs/kafkax"
	otelx "github.com/aline-moraes/chairbook/libs/otel"
	"github.com/aline-moraes/chairbook/libs/runtime"
	"github.com/aline-moraes/chairbook/services/scheduling-service/internal/consumer"
	"github.com/aline-moraes/chairbook/services/scheduling-service/internal/engine"
	"github.com/aline-moraes/chairbook/services/scheduling-service/internal/handlers"
	"github.com/aline-moraes/chairbook/services/scheduling-service/internal/inbox"
	"github.com/aline-moraes/chairbook/services/scheduling-service/internal/model"
	"github.com/aline-moraes/chairbook/services/scheduling-service/internal/outbox"
	"github.com/aline-moraes/chairbook/services/scheduling-service/internal/rules"
	"github.com/aline-moraes/chairbook/services/scheduling-service/internal/storage"
)

func main() {
	service := config.String("SERVICE_NAME", "scheduling-service")
	port, err := config.Port("PORT", "8084")
	if err != nil {
		panic(err)
	}
	logger := runtime.NewLogger(service)

	ctx, stop := runtime.SignalContext()
	defer stop()

	otelShutdown, err := otelx.Setup(ctx, otelx.ConfigFromEnv(service))
	if err != nil {
		logger.Error("otel setup failed", "err", err)
	} else {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = otelShutdown(shutdownCtx)
		}()
	}

	dbURL, err := config.RequiredString("DATABASE_URL")
	if err != nil {
		panic(err)
	}
	pool, err := db.Open(ctx, dbURL, db.Options{
		MaxConns: int32(config.Int("DB_MAX_CONNS", 10)),
	})
	if err != nil {
		logger.Error("db connection failed", "err", err)
		panic(err)
	}
	defer pool.Close()

	rulesRepo := rules.NewRepository(pool)
	outboxRepo := outbox.NewRepository(pool)
	ledger := storage.NewLedger(pool, outboxRepo,
		time.Duration(config.Int("COMMIT_TIMEOUT_SECONDS", 5))*time.Second)

	eng := engine.New(rulesRepo, ledger, engine.RealClock{}, logger, engine.Config{
		SlotStep:           config.Minutes("SLOT_STEP_MINUTES", 0),
		GridAlign:          config.Minutes("GRID_ALIGN_MINUTES", 30*time.Minute),
		DefaultHorizonDays: config.Int("SEARCH_HORIZON_DAYS", 30),
		MaxHorizonDays:     config.Int("SEARCH_HORIZON_MAX_DAYS", 90),
	})

	kafkaBrokers := config.String("KAFKA_BROKERS", "")
	outboxPublisher := outbox.NewPublisher(pool, outboxRepo, logger, outbox.PublisherConfig{
		Brokers:   kafkaBrokers,
		PollEvery: 2 * time.Second,
		BatchSize: 50,
	})
	go outboxPublisher.Run(ctx)

	// Payment results come back over Kafka: a succeeded payment confirms the
	// pending reservation it was taken for.
	paymentTopic := config.String("KAFKA_PAYMENT_TOPIC", "payment.payment.succeeded.v1")
	if strings.TrimSpace(paymentTopic) != "" && strings.TrimSpace(kafkaBrokers) != "" {
		inboxRepo := inbox.NewRepository(pool)
		paymentConsumer := consumer.New(logger, inboxRepo, consumer.Config{
			Brokers: kafkaBrokers,
			GroupID: config.String("KAFKA_GROUP_ID", "scheduling-service"),
			Topic:   paymentTopic,
		}, func(ctx context.Context, msg kafka.Message) error {
			var payload struct {
				ReservationID string `json:"reservation_id"`
			}
			if err := json.Unmarshal(msg.Value, &payload); err != nil {
				logger.Error("invalid payment event payload", "err", err, "topic", msg.Topic)
				return nil
			}
			if payload.ReservationID == "" {
				logger.Error("payment event missing reservation_id", "topic", msg.Topic)
				return nil
			}
			_, err := eng.ConfirmBooking(ctx, payload.ReservationID)
			switch {
			case err == nil:
				return nil
			case errors.Is(err, model.ErrNotFound),
				errors.Is(err, model.ErrTerminalState),
				errors.Is(err, model.ErrInvalidInput):
				// Stale or duplicate payment outcome; nothing to retry.
				logger.Warn("payment confirmation skipped", "reservation_id", payload.ReservationID, "err", err)
				return nil
			default:
				return err
			}
		})
		go paymentConsumer.Run(ctx)
	}

	bookingHandler := handlers.NewBookingHandler(eng, ledger, engine.RealClock{}, logger)
	adminHandler := handlers.NewAdminHandler(rulesRepo, logger)

	jwtSecret, err := config.RequiredString("JWT_SECRET")
	if err != nil {
		panic(err)
	}
	publicAuth := handlers.WithAuth(jwtSecret, false)
	adminOnly := func(h http.HandlerFunc) http.Handler {
		return httpx.Chain(h, handlers.WithAuth(jwtSecret, true), handlers.RequireRole("admin"))
	}

	mux := runtime.NewBaseMux(
		runtime.ReadyCheck{Name: "db", Check: db.ReadyCheck(pool)},
		runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(kafkaBrokers)},
	)
	mux.Handle("/api/v1/slots", publicAuth(http.HandlerFunc(bookingHandler.Slots)))
	mux.Handle("/api/v1/slots/next", publicAuth(http.HandlerFunc(bookingHandler.NextAvailable)))
	mux.Handle("/api/v1/bookings", publicAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			bookingHandler.List(w, r)
			return
		}
		bookingHandler.Create(w, r)
	})))
	mux.Handle("/api/v1/bookings/get", publicAuth(http.HandlerFunc(bookingHandler.Get)))
	mux.Handle("/api/v1/bookings/cancel", publicAuth(http.HandlerFunc(bookingHandler.Cancel)))

	mux.Handle("/api/v1/admin/resources", adminOnly(adminHandler.CreateResource))
	mux.Handle("/api/v1/admin/resources/get", adminOnly(adminHandler.GetResource))
	mux.Handle("/api/v1/admin/resources/deactivate", adminOnly(adminHandler.DeactivateResource))
	mux.Handle("/api/v1/admin/hours", adminOnly(adminHandler.UpsertHours))
	mux.Handle("/api/v1/admin/exceptions", adminOnly(adminHandler.SetException))
	mux.Handle("/api/v1/admin/exceptions/delete", adminOnly(adminHandler.DeleteException))
	mux.Handle("/api/v1/admin/policy", adminOnly(adminHandler.UpsertPolicy))

	rateLimit := rateLimitMiddleware(logger)
	httpHandler := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
		httpx.WithCORS(httpx.CORSPolicy{
			AllowedOrigins: splitList(config.String("CORS_ALLOWED_ORIGINS", "")),
			AllowedMethods: []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders: []string{"Authorization", "Content-Type", "Idempotency-Key"},
			MaxAge:         10 * time.Minute,
		}),
		rateLimit,
		httpx.WithBodyLimit(1<<20),
	)
	httpHandler = otelhttp.NewHandler(httpHandler, "scheduling")
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           httpHandler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server error", "err", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "err", err)
	}
	logger.Info("http server stopped")
}

// rateLimitMiddleware prefers Redis when configured so the window holds
// across instances; otherwise it falls back to a per-process limiter.
func rateLimitMiddleware(logger *slog.Logger) httpx.Middleware {
	limit := config.Int("RATE_LIMIT_PER_MINUTE", 120)
	if addr := config.String("REDIS_ADDR", ""); addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: config.String("REDIS_PASSWORD", ""),
		})
		limiter := httpx.NewRedisRateLimiter(rdb, limit, time.Minute, "scheduling:rl")
		return limiter.Middleware(logger, true)
	}
	return httpx.NewRateLimiter(limit, time.Minute).Middleware()
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
