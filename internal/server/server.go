package server

import (
	"time"

	"backend-orienteering/internal/activity"
	"backend-orienteering/internal/auth"
	"backend-orienteering/internal/config"
	"backend-orienteering/internal/course"
	"backend-orienteering/internal/db"
	"backend-orienteering/internal/location"
	"backend-orienteering/internal/log"
	"backend-orienteering/internal/remote"
	"backend-orienteering/internal/run"
	"backend-orienteering/internal/settings"
	"backend-orienteering/internal/stream"
	"backend-orienteering/internal/sync"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type Server struct {
	App      *fiber.App
	Cfg      config.Config
	DB       *pgxpool.Pool
	Redis    *redis.Client
	Logger   *zap.Logger
	Stream   *stream.Hub
	Settings *settings.Provider
	Runs     *run.Manager
	Sync     *sync.Service
}

func NewServer(cfg config.Config, pg *pgxpool.Pool, redisClient *redis.Client, logger *zap.Logger) *Server {
	logger = log.OrNop(logger)
	app := fiber.New(fiber.Config{DisableStartupMessage: true})
	app.Use(recover.New())
	app.Use(requestLogger(logger))

	var q db.Querier
	if pg != nil {
		q = pg
	}
	maps := course.NewStore(q)
	activities := activity.NewStore(q)
	prefs := settings.NewProvider(redisClient, settings.Accuracy(cfg.GPSAccuracy), logger)
	hub := stream.NewHub(redisClient, logger)

	s := &Server{
		App:      app,
		Cfg:      cfg,
		DB:       pg,
		Redis:    redisClient,
		Logger:   logger,
		Stream:   hub,
		Settings: prefs,
		Sync:     NewSyncService(cfg, maps, activities, prefs, logger),
		Runs: run.NewManager(run.ManagerConfig{
			Sources:    location.NewRegistry(0),
			Maps:       maps,
			Activities: activities,
			Radius:     radiusFor(prefs),
			Notifier:   run.HubNotifier{Hub: hub},
			Filter: location.FilterConfig{
				MaxSpeedMps:       cfg.MaxRunningSpeedMps,
				MaxAccuracyMeters: cfg.MaxFixAccuracyM,
			},
			Interval:     cfg.LocationInterval,
			MinDistanceM: cfg.LocationMinDistanceM,
			Logger:       logger,
		}),
	}

	registerRoutes(s, maps, activities)
	return s
}

// NewSyncService wires map and activity sync against the remote API.
func NewSyncService(cfg config.Config, maps *course.Store, activities *activity.Store, prefs *settings.Provider, logger *zap.Logger) *sync.Service {
	client := remote.NewClient(cfg.RemoteAPIURL, cfg.RemoteAPIToken, cfg.RemoteAPITimeout, logger)
	return sync.NewService(sync.Config{
		Maps:             maps,
		Activities:       activities,
		RemoteMaps:       client.Maps(),
		RemoteActivities: client.Activities(),
		Radius:           radiusFor(prefs),
		Logger:           logger,
	})
}

func radiusFor(prefs *settings.Provider) func(int64) settings.RadiusProvider {
	return func(userID int64) settings.RadiusProvider { return prefs.For(userID) }
}

func registerRoutes(s *Server, maps *course.Store, activities *activity.Store) {
	s.App.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	jwtMiddleware := auth.JWTMiddleware(s.Cfg.JWTSecret)

	course.RegisterRoutes(s.App.Group("/maps"), maps, s.Sync, jwtMiddleware)
	activity.RegisterRoutes(s.App.Group("/activities"), activities, s.Sync, jwtMiddleware)
	run.RegisterRoutes(s.App.Group("/runs"), s.Runs, jwtMiddleware)
	sync.RegisterRoutes(s.App.Group("/sync"), s.Sync, jwtMiddleware)
	settings.RegisterRoutes(s.App.Group("/settings"), s.Settings, jwtMiddleware)
	stream.RegisterRoutes(s.App.Group("/stream"), s.Stream, jwtMiddleware)
}

func requestLogger(logger *zap.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()
		status := c.Response().StatusCode()
		if fe, ok := err.(*fiber.Error); ok {
			status = fe.Code
		}
		logger.Info("request",
			zap.String("method", c.Method()),
			zap.String("path", c.Path()),
			zap.Int("status", status),
			zap.Duration("latency", time.Since(start)),
			zap.Error(err))
		return err
	}
}
