package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/transitlive/transitlive_core/internal/api"
	"github.com/transitlive/transitlive_core/internal/cache"
	"github.com/transitlive/transitlive_core/internal/clock"
	"github.com/transitlive/transitlive_core/internal/config"
	"github.com/transitlive/transitlive_core/internal/db"
	"github.com/transitlive/transitlive_core/internal/graph"
	"github.com/transitlive/transitlive_core/internal/gtfs"
	"github.com/transitlive/transitlive_core/internal/logging"
	"github.com/transitlive/transitlive_core/internal/metrics"
	"github.com/transitlive/transitlive_core/internal/middleware"
	"github.com/transitlive/transitlive_core/internal/models"
	"github.com/transitlive/transitlive_core/internal/publisher"
	"github.com/transitlive/transitlive_core/internal/routing"
	"github.com/transitlive/transitlive_core/internal/store"
	"github.com/transitlive/transitlive_core/internal/tracking"
)

const (
	limiterCleanupInterval = time.Minute
	limiterMaxIdle         = 10 * time.Minute
)

func main() {
	configPath := flag.String("config", "", "Path to YAML config file (defaults to $CONFIG_FILE)")
	networkPath := flag.String("network", "", "YAML network file to seed the memory store")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := logging.NewLogger(cfg.Server.LogLevel)
	slog.SetDefault(log)
	log.Info("Starting TransitLive API server...")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	collector := metrics.NewCollector(cfg.Tracking.AggregationInterval)
	checks := map[string]api.HealthCheck{}

	st, err := openStore(ctx, cfg.Server.StoreBackend, *networkPath, log)
	if err != nil {
		log.Error("failed to open store", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer st.Close()
	checks["store"] = st.Ping
	log.Info("✓ Store ready", slog.String("backend", cfg.Server.StoreBackend))

	// Redis is optional: without it itineraries are not cached and rate
	// limiting stays in process.
	var (
		resultCache routing.ResultCache
		keyFn       routing.KeyFunc
		limiter     middleware.Limiter
		local       *middleware.LocalLimiter
	)
	redisCfg := cache.LoadConfigFromEnv()
	if redisCfg.Enabled {
		rdb, err := cache.GetClient()
		if err != nil {
			log.Warn("Redis unavailable, continuing without cache", slog.String("error", err.Error()))
		} else {
			defer cache.Close()
			itineraries := cache.NewItineraryCache(rdb, redisCfg, collector, log)
			resultCache = itineraries
			keyFn = cache.ItineraryKey
			checks["redis"] = itineraries.HealthCheck
			if cfg.Limits.LocationUpdatesPerSecond > 0 {
				limiter = middleware.NewRedisLimiter(rdb, cfg.Limits.LocationUpdatesPerSecond, nil)
			}
			log.Info("✓ Redis connection established")
		}
	}
	if limiter == nil && cfg.Limits.LocationUpdatesPerSecond > 0 {
		local = middleware.NewLocalLimiter(cfg.Limits.LocationUpdatesPerSecond, cfg.Limits.LocationUpdateBurst, nil)
		limiter = local
		go local.RunCleanup(ctx, limiterCleanupInterval, limiterMaxIdle)
	}

	planner := routing.NewPlanner(st, routing.Options{
		Graph: graph.Options{
			BusSpeedKPH: cfg.Routing.BusSpeedKPH,
			MinEdgeCost: cfg.Routing.MinEdgeCostSeconds,
		},
		TransferPenalty: cfg.Routing.TransferPenaltySecs,
		MaxStopRadius:   cfg.Routing.MaxStopRadiusMeters,
	}, resultCache, keyFn, log)
	if _, err := planner.Graph(ctx); err != nil {
		log.Error("failed to load routing graph", slog.String("error", err.Error()))
		os.Exit(1)
	}
	log.Info("✓ Routing graph loaded into memory")

	clk := clock.RealClock{}
	evaluator := tracking.NewEvaluator(clk, tracking.EvaluatorOptions{
		StopProximity:       cfg.Tracking.StopProximityMeters,
		BusProximity:        cfg.Tracking.BusProximityMeters,
		SeedOnStopDeparture: cfg.Tracking.SeedOnStopDeparture,
	}, log)
	tracker := tracking.NewService(st, evaluator, clk, log)

	schedulerOpts := []tracking.SchedulerOption{tracking.WithObserver(collector)}
	if cfg.NATS.URL != "" {
		pub, err := publisher.NewNATSPublisher(cfg.NATS.URL, cfg.NATS.SubjectPrefix, collector, log)
		if err != nil {
			log.Warn("NATS unavailable, virtual buses will not be published", slog.String("error", err.Error()))
		} else {
			defer pub.Close()
			schedulerOpts = append(schedulerOpts, tracking.WithPublisher(pub))
			log.Info("✓ NATS connection established", slog.String("subject_prefix", cfg.NATS.SubjectPrefix))
		}
	}
	scheduler := tracking.NewScheduler(st, tracking.NewAggregator(clk, log), cfg.Tracking.AggregationInterval, log, schedulerOpts...)
	scheduler.Start(ctx)
	log.Info("✓ Aggregation scheduler started", slog.Duration("interval", cfg.Tracking.AggregationInterval))

	app := fiber.New(fiber.Config{
		AppName:      "TransitLive API",
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  120 * time.Second,
		ErrorHandler: customErrorHandler(log),
	})

	app.Use(recover.New())
	app.Use(logger.New(logger.Config{
		Format:     "${time} | ${status} | ${latency} | ${method} ${path}\n",
		TimeFormat: "15:04:05",
		TimeZone:   "Local",
	}))
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,OPTIONS",
		AllowHeaders: "Origin, Content-Type, Accept",
	}))
	app.Use(middleware.Metrics(collector))

	app.Get("/metrics", adaptor.HTTPHandler(collector.Handler()))

	var locationLimit fiber.Handler
	if limiter != nil {
		locationLimit = middleware.RateLimit(limiter, middleware.UserIDFromBody, collector, log)
	}
	api.NewHandlers(planner, tracker, checks, log).Register(app, locationLimit)

	app.Use(func(c *fiber.Ctx) error {
		return c.Status(404).JSON(fiber.Map{
			"error": "endpoint not found",
		})
	})

	addr := fmt.Sprintf(":%d", cfg.Server.Port)

	go func() {
		<-ctx.Done()
		log.Info("Shutting down gracefully...")
		if err := app.ShutdownWithTimeout(cfg.Server.ShutdownTimeout); err != nil {
			log.Error("error during shutdown", slog.String("error", err.Error()))
		}
	}()

	log.Info(fmt.Sprintf("🚀 Server listening on http://localhost%s", addr))
	log.Info(fmt.Sprintf("📍 Itinerary: http://localhost%s/v1/itinerary?from=LAT,LON&to=LAT,LON", addr))
	log.Info(fmt.Sprintf("❤️  Health check: http://localhost%s/health", addr))

	if err := app.Listen(addr); err != nil {
		log.Error("failed to start server", slog.String("error", err.Error()))
	}

	scheduler.Stop()
	log.Info("Server stopped")
}

func openStore(ctx context.Context, backend, networkPath string, log *slog.Logger) (store.Store, error) {
	switch backend {
	case "memory":
		network := models.Network{}
		if networkPath != "" {
			loaded, err := gtfs.LoadNetworkFile(networkPath)
			if err != nil {
				return nil, err
			}
			network = loaded
		}
		log.Info("using in-memory store",
			slog.Int("stops", len(network.Stops)),
			slog.Int("routes", len(network.Routes)))
		return store.NewMemoryStore(network), nil
	case "postgres":
		pool, err := db.GetDB()
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		pg := store.NewPostgresStore(pool)
		if err := pg.EnsureSchema(ctx); err != nil {
			pg.Close()
			return nil, err
		}
		return pg, nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", backend)
	}
}

// customErrorHandler handles errors returned from handlers
func customErrorHandler(log *slog.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		code := fiber.StatusInternalServerError
		msg := "internal server error"

		var e *fiber.Error
		if errors.As(err, &e) {
			code = e.Code
			msg = e.Message
		}

		log.Error("request error",
			slog.Int("status", code),
			slog.String("path", c.Path()),
			slog.String("error", err.Error()))

		return c.Status(code).JSON(fiber.Map{
			"error": msg,
		})
	}
}
