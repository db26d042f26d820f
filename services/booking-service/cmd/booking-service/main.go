package main

import (
	"context"
	"net/http"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/md-rashed-zaman/slotbook/libs/auth"
	"github.com/md-rashed-zaman/slotbook/libs/config"
	"github.com/md-rashed-zaman/slotbook/libs/db"
	"github.com/md-rashed-zaman/slotbook/libs/httpx"
	"github.com/md-rashed-zaman/slotbook/libs/kafkax"
	"github.com/md-rashed-zaman/slotbook/libs/metrics"
	otelx "github.com/md-rashed-zaman/slotbook/libs/otel"
	"github.com/md-rashed-zaman/slotbook/libs/runtime"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/availability"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/consumer"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/handlers"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/inbox"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/outbox"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/scheduling"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/slots"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/storage"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func main() {
	if err := config.LoadDotEnv(); err != nil {
		panic(err)
	}
	service := config.String("SERVICE_NAME", "booking-service")
	port, err := config.Port("PORT", "8083")
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
	jwtSecret, err := config.RequiredString("JWT_SECRET")
	if err != nil {
		panic(err)
	}

	pool, err := db.OpenWithOptions(ctx, dbURL, db.Options{
		MaxConns: int32(config.Int("DB_MAX_CONNS", 10)),
	})
	if err != nil {
		logger.Error("db connection failed", "err", err)
		panic(err)
	}
	defer pool.Close()

	brokers := config.String("KAFKA_BROKERS", "")
	bookingRepo := storage.NewBookingRepository(pool)
	scheduleRepo := storage.NewScheduleRepository(pool)
	outboxRepo := outbox.NewRepository()
	engine := availability.NewEngine(nil)
	slotMetrics := metrics.NewSlotMetrics(prometheus.DefaultRegisterer)

	defaultTZ := config.String("DEFAULT_TIMEZONE", availability.DefaultTimezone)
	if _, err := engine.Location(defaultTZ); err != nil {
		logger.Error("invalid DEFAULT_TIMEZONE", "timezone", defaultTZ, "err", err)
		panic(err)
	}
	storeProvider := scheduling.NewStoreProvider(scheduleRepo, scheduling.StoreConfig{
		DefaultTimezone:    defaultTZ,
		DefaultStepMinutes: config.Int("DEFAULT_SLOT_STEP_MINUTES", availability.DefaultStepMinutes),
	})

	readyChecks := []runtime.ReadyCheck{
		{Name: "db", Check: db.ReadyCheck(pool)},
	}
	if brokers != "" {
		readyChecks = append(readyChecks, runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(brokers)})
	}

	// Slot lookups read through Redis when it is configured; bookings always
	// re-validate against the database.
	var (
		lookupProvider scheduling.Provider = storeProvider
		invalidator    scheduling.Invalidator
		rateLimitMW    httpx.Middleware
	)
	limitPerMinute := config.Int("BOOK_RATE_LIMIT_PER_MINUTE", 30)
	if addr := strings.TrimSpace(config.String("REDIS_ADDR", "")); addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: config.String("REDIS_PASSWORD", ""),
			DB:       config.Int("REDIS_DB", 0),
		})
		defer func() { _ = rdb.Close() }()

		cached := scheduling.NewCachedProvider(storeProvider, rdb, config.Duration("SCHEDULE_CACHE_TTL", 5*time.Minute), logger)
		lookupProvider = cached
		invalidator = cached
		rateLimitMW = httpx.NewRedisRateLimiter(rdb, limitPerMinute, time.Minute, config.String("RATE_LIMIT_PREFIX", "rl:book")).
			Middleware(logger, config.Bool("RATE_LIMIT_FAIL_OPEN", true))
		readyChecks = append(readyChecks, runtime.ReadyCheck{Name: "redis", Check: func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		}})
		logger.Info("schedule cache enabled (redis)", "redis_addr", addr)
	} else {
		rateLimitMW = httpx.NewRateLimiter(limitPerMinute, time.Minute).Middleware()
		logger.Info("schedule cache disabled; rate limiting in-memory")
	}

	outboxPublisher := outbox.NewPublisher(pool, outboxRepo, logger, outbox.PublisherConfig{
		Brokers:   brokers,
		PollEvery: config.Duration("OUTBOX_POLL_INTERVAL", 2*time.Second),
		BatchSize: config.Int("OUTBOX_BATCH_SIZE", 50),
	})
	go outboxPublisher.Run(ctx)

	if invalidator != nil && brokers != "" {
		scheduleConsumer := consumer.New(logger, inbox.NewRepository(pool), consumer.Config{
			Brokers: brokers,
			GroupID: config.String("KAFKA_GROUP_ID", "booking-service"),
			Topic:   config.String("KAFKA_SCHEDULE_TOPIC", outbox.EventScheduleUpdated),
		}, consumer.InvalidateSchedules(invalidator))
		go scheduleConsumer.Run(ctx)
	}

	finder := slots.NewFinder(lookupProvider, bookingRepo, scheduleRepo, engine, slotMetrics)
	bookingHandler := handlers.NewBookingHandler(handlers.BookingConfig{
		Repo:       bookingRepo,
		OutboxRepo: outboxRepo,
		Finder:     finder,
		Schedules:  storeProvider,
		Engine:     engine,
		Metrics:    slotMetrics,
		Logger:     logger,
	})
	scheduleHandler := handlers.NewScheduleHandler(scheduleRepo, outboxRepo, invalidator, nil, logger)

	if err := startGrpcServer(ctx, logger, finder); err != nil {
		logger.Error("grpc server failed to start", "err", err)
		panic(err)
	}

	mux := runtime.NewBaseMuxWithReady(readyChecks...)
	mux.Handle("/metrics", metrics.Handler(prometheus.DefaultGatherer))
	mux.HandleFunc("/api/v1/public/slots", bookingHandler.Slots)
	mux.HandleFunc("/api/v1/public/book", bookingHandler.Create)

	staffOnly := auth.RequireRole(jwtSecret, "owner", "staff")
	ownerOnly := auth.RequireRole(jwtSecret, "owner")
	mux.Handle("/api/v1/appointments", staffOnly(http.HandlerFunc(bookingHandler.List)))
	mux.Handle("/api/v1/appointments/cancel", staffOnly(http.HandlerFunc(bookingHandler.Cancel)))

	mux.Handle("GET /api/v1/admin/profile", staffOnly(http.HandlerFunc(scheduleHandler.GetProfile)))
	mux.Handle("PUT /api/v1/admin/profile", ownerOnly(http.HandlerFunc(scheduleHandler.UpdateProfile)))
	mux.Handle("GET /api/v1/admin/variants", staffOnly(http.HandlerFunc(scheduleHandler.ListVariants)))
	mux.Handle("POST /api/v1/admin/variants", ownerOnly(http.HandlerFunc(scheduleHandler.CreateVariant)))
	mux.Handle("GET /api/v1/admin/staff", staffOnly(http.HandlerFunc(scheduleHandler.ListStaff)))
	mux.Handle("POST /api/v1/admin/staff", ownerOnly(http.HandlerFunc(scheduleHandler.CreateStaff)))
	mux.Handle("GET /api/v1/admin/staff/working-hours", staffOnly(http.HandlerFunc(scheduleHandler.ListWorkingHours)))
	mux.Handle("PUT /api/v1/admin/staff/working-hours", ownerOnly(http.HandlerFunc(scheduleHandler.UpsertWorkingHours)))
	mux.Handle("GET /api/v1/admin/staff/time-off", staffOnly(http.HandlerFunc(scheduleHandler.ListTimeOff)))
	mux.Handle("POST /api/v1/admin/staff/time-off", staffOnly(http.HandlerFunc(scheduleHandler.CreateTimeOff)))
	mux.Handle("DELETE /api/v1/admin/staff/time-off", staffOnly(http.HandlerFunc(scheduleHandler.DeleteTimeOff)))

	httpHandler := httpx.Chain(mux,
		httpx.WithCORS(httpx.CORSPolicy{
			AllowedOrigins: config.List("CORS_ALLOWED_ORIGINS", ""),
			AllowedMethods: config.List("CORS_ALLOWED_METHODS", "GET,POST,OPTIONS"),
			AllowedHeaders: config.List("CORS_ALLOWED_HEADERS", "Content-Type,Idempotency-Key,X-Request-Id"),
			MaxAge:         config.Duration("CORS_MAX_AGE", 10*time.Minute),
		}),
		httpx.WithRequestID,
		httpx.WithRecover(logger),
		httpx.WithAccessLog(logger),
		httpx.WithBodyLimit(int64(config.Int("REQUEST_BODY_LIMIT_BYTES", 1<<20))),
		httpx.WithTimeout(config.Duration("REQUEST_TIMEOUT", 10*time.Second)),
		httpx.Only(rateLimitMW, "/api/v1/public/book"),
	)
	httpHandler = otelhttp.NewHandler(httpHandler, "booking")
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
