package server

import (
	"context"
	"errors"

	"github.com/Az1mzhan/bt-ass-3/internal/auth"
	"github.com/Az1mzhan/bt-ass-3/internal/config"
	"github.com/Az1mzhan/bt-ass-3/internal/contract"
	"github.com/Az1mzhan/bt-ass-3/internal/shared/geo"
	"github.com/Az1mzhan/bt-ass-3/internal/stream"
	"github.com/Az1mzhan/bt-ass-3/internal/tracking"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

type Server struct {
	App       *fiber.App
	Cfg       config.Config
	Hub       *stream.Hub
	Publisher *stream.Publisher
	Artifacts contract.Store
	Archive   *tracking.Service
	recorder  *tracking.Recorder
	log       zerolog.Logger
}

func NewServer(cfg config.Config, pg *pgxpool.Pool, redisClient *redis.Client, log zerolog.Logger) (*Server, error) {
	if !cfg.Generate && redisClient == nil {
		return nil, errors.New("a relay replica (GENERATE=false) needs REDIS_ADDR")
	}

	hub, err := stream.NewHub(redisClient, log)
	if err != nil {
		return nil, err
	}

	app := fiber.New(fiber.Config{DisableStartupMessage: true})
	app.Use(recover.New())
	app.Use(logger.New())
	app.Use(cors.New())

	s := &Server{
		App: app,
		Cfg: cfg,
		Hub: hub,
		log: log,
	}

	var out stream.Broadcaster = hub
	if pg != nil {
		s.Archive = tracking.NewService(pg)
		if cfg.Generate {
			s.recorder = tracking.NewRecorder(hub, s.Archive, log, cfg.HistorySize*4)
			out = s.recorder
		}
	}

	if cfg.Generate {
		s.Publisher = stream.NewPublisher(out, stream.PublisherConfig{
			Interval:    cfg.TickInterval,
			MaxStepKm:   cfg.MaxStepKm,
			Origin:      geo.Coordinate{Latitude: cfg.OriginLat, Longitude: cfg.OriginLon},
			HistorySize: cfg.HistorySize,
		}, log)
	}

	if pg != nil {
		s.Artifacts = contract.NewPGStore(pg)
	} else {
		s.Artifacts = contract.NewFileStore(cfg.ArtifactsDir)
	}

	registerRoutes(s)
	return s, nil
}

func registerRoutes(s *Server) {
	s.App.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":      "ok",
			"generating":  s.Publisher != nil,
			"subscribers": s.Hub.ClientCount(),
		})
	})
	s.App.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	var history stream.HistorySource
	if s.Publisher != nil {
		history = s.Publisher
	}
	stream.RegisterRoutes(s.App, s.Hub, history)
	contract.RegisterRoutes(s.App, s.Artifacts, s.log)
	if s.Archive != nil {
		tracking.RegisterRoutes(s.App.Group("/walks"), s.Archive)
	}

	admin := s.App.Group("/admin", auth.JWTMiddleware(s.Cfg.AdminSecret, auth.RoleAdmin))
	admin.Put("/walk/origin", func(c *fiber.Ctx) error {
		if s.Publisher == nil {
			return fiber.NewError(fiber.StatusConflict, "this replica does not generate samples")
		}
		var origin geo.Coordinate
		if err := c.BodyParser(&origin); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid payload")
		}
		id, err := s.Publisher.Reset(origin)
		if errors.Is(err, stream.ErrInvalidOrigin) {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, err.Error())
		}
		return c.JSON(fiber.Map{"stream": id, "origin": origin})
	})
}

func (s *Server) ArtifactNames(ctx context.Context) ([]string, error) {
	if pgs, ok := s.Artifacts.(*contract.PGStore); ok {
		return pgs.Names(ctx)
	}
	return nil, nil
}

func (s *Server) Start(ctx context.Context) error {
	if s.Publisher == nil {
		s.log.Info().Msg("relay replica: samples come from redis only")
		return nil
	}
	return s.Publisher.Start(ctx)
}

// Shutdown stops generation, flushes the archive, disconnects stream
// subscribers and then drains the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.Publisher != nil {
		s.Publisher.Stop()
	}
	if s.recorder != nil {
		s.recorder.Close()
	}
	s.Hub.Close()
	return shutdownFn(s.App, ctx)
}

var shutdownFn = func(app *fiber.App, ctx context.Context) error {
	return app.ShutdownWithContext(ctx)
}
