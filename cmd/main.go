package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"dispatch-service/internal/audit"
	"dispatch-service/internal/bookings"
	"dispatch-service/internal/config"
	"dispatch-service/internal/dispatch"
	"dispatch-service/internal/locations"
	"dispatch-service/internal/locking"
	"dispatch-service/internal/reservations"
	"dispatch-service/internal/routing"
	"dispatch-service/internal/tracking"
	"dispatch-service/internal/users"
	"dispatch-service/internal/vehicles"
	"dispatch-service/migrations"
	"dispatch-service/pkg/db"
	"dispatch-service/pkg/jwt"
	"dispatch-service/pkg/kafka"
	"dispatch-service/pkg/logger"
	rredis "dispatch-service/pkg/redis"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ── 1. Config & logging ──
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}
	logg := logger.New(cfg.LogLevel, cfg.Production())

	if err := jwt.Init(cfg.JWTSecret, cfg.JWTAccessExpiry, cfg.JWTRefreshExpiry); err != nil {
		log.Fatal(err)
	}

	// ── 2. PostgreSQL ──
	database, err := db.Connect(ctx, cfg.DatabaseURL, logg)
	if err != nil {
		log.Fatal(err)
	}
	defer database.Close()

	if err := database.RunMigrations(ctx, migrations.FS); err != nil {
		log.Fatal("migrations failed:", err)
	}

	// ── 3. Redis ──
	redisClient, err := rredis.NewClient(cfg.RedisAddr)
	if err != nil {
		log.Fatal(err)
	}
	defer redisClient.Close()

	// ── 4. Kafka ──
	kafkaClient := kafka.NewClient(cfg.KafkaBrokers)
	if err := kafkaClient.EnsureTopics(ctx,
		kafka.TopicDispatchRequested,
		kafka.TopicDispatchAssigned,
		kafka.TopicTripCompleted,
		kafka.TopicReservationConflict,
	); err != nil {
		log.Fatal(err)
	}

	// ── 5. Services ──
	vehicleLocks := locking.NewKeyed()
	oracle := routing.NewOracle(routing.NewClient(cfg.RoutesAPIKey, cfg.RouteTimeout), cfg.RouteCacheSize)

	auditSvc := audit.NewService(database.Pool, logg)
	userSvc := users.NewService(database.Pool, logg)
	vehicleSvc := vehicles.NewService(database.Pool, redisClient, logg, cfg.LocationStaleThreshold)

	reservationStore := reservations.NewPostgresStore(database.Pool)
	engine := reservations.NewEngine(reservationStore, vehicleLocks, kafkaClient, logg,
		cfg.ReservationGrace, cfg.AdmissionRetries)

	dispatchStore := dispatch.NewPostgresStore(database.Pool)
	dispatchSvc := dispatch.NewService(dispatchStore, vehicleLocks, oracle, vehicleSvc,
		kafkaClient, logg, cfg.AdmissionRetries)

	bookingSvc := bookings.NewService(dispatchSvc, engine, logg)

	// ── 6. WebSocket hub & location pipeline ──
	wsHub := tracking.NewHub(logg)
	locationSvc := locations.NewService(database.Pool, redisClient, wsHub, logg)

	mqttBridge, err := locations.NewMQTTBridge(cfg.MQTTBroker, locationSvc, logg)
	if err != nil {
		log.Fatal(err)
	}
	defer mqttBridge.Close()

	// ── 7. Background consumers & sweeps ──
	matcher := dispatch.NewMatcher(dispatchSvc, redisClient, logg, 10, 5)
	kafkaClient.Subscribe(ctx, kafka.TopicDispatchRequested, "dispatch-matcher", func(msg []byte) error {
		matcher.Handle(msg)
		return nil
	})

	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n, err := engine.CompleteExpired(ctx); err != nil {
					logg.WithError(err).Warn("reservation sweep failed")
				} else if n > 0 {
					logg.WithField("count", n).Info("expired reservations completed")
				}
			}
		}
	}()

	// ── 8. HTTP router ──
	r := chi.NewRouter()
	r.Use(chimw.Logger)
	r.Use(chimw.Recoverer)
	r.Use(chimw.RealIP)
	r.Use(jwt.OptionalAuth)
	r.Use(audit.Middleware(auditSvc))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"dispatch-service"}`))
	})

	reservationHandler := reservations.NewHandler(engine)
	dispatchHandler := dispatch.NewHandler(dispatchSvc)
	bookingHandler := bookings.NewHandler(bookingSvc, engine)
	userHandler := users.NewHandler(userSvc)

	r.Route("/api/v1", func(r chi.Router) {
		r.Mount("/auth", userHandler.AuthRoutes())
		r.Mount("/users", userHandler.Routes())
		r.Mount("/vehicles", vehicles.NewHandler(vehicleSvc).Routes())
		r.Mount("/reservations", reservationHandler.Routes())
		r.Mount("/conflicts", reservationHandler.ConflictRoutes())
		r.Mount("/dispatches", dispatchHandler.Routes())
		r.Mount("/bookings", bookingHandler.Routes())

		driverRouter := chi.NewRouter()
		driverRouter.Mount("/bookings", bookingHandler.DriverRoutes())
		driverRouter.Mount("/", dispatchHandler.DriverRoutes())
		r.Mount("/driver", driverRouter)
		r.Mount("/locations", locations.NewHandler(locationSvc).Routes())
		r.Mount("/audit", audit.NewHandler(auditSvc).Routes())
	})
	r.Mount("/ws", wsHub.Routes())

	// ── 9. Start server ──
	srv := &http.Server{Addr: ":" + cfg.Port, Handler: r}

	go func() {
		logg.WithField("port", cfg.Port).Info("dispatch-service listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal(err)
		}
	}()

	// ── 10. Graceful shutdown ──
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logg.Info("shutting down...")

	shutCtx, shutCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutCancel()
	srv.Shutdown(shutCtx)
	cancel() // stop consumers and sweeps
}
