package server

import (
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"gorm.io/gorm"

	"boardsync/internal/auth"
	"boardsync/internal/cache"
	"boardsync/internal/config"
	"boardsync/internal/handler"
	"boardsync/internal/room"
)

// Server wraps the Fiber app and its handlers
type Server struct {
	app            *fiber.App
	cfg            *config.Config
	db             *gorm.DB
	hub            *room.Hub
	jwtManager     *auth.JWTManager
	boardHandler   *handler.BoardHandler
	boardWSHandler *handler.BoardWSHandler
	healthHandler  *handler.HealthHandler
}

// New creates a server instance. redisClient may be nil; rooms then live
// purely in memory.
func New(cfg *config.Config, db *gorm.DB, redisClient *cache.RedisClient) *Server {
	app := fiber.New(fiber.Config{
		AppName:         "Board Sync Gateway",
		ServerHeader:    "Fiber",
		StrictRouting:   true,
		CaseSensitive:   true,
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    cfg.Server.WriteTimeout,
		IdleTimeout:     cfg.Server.IdleTimeout,
		Prefork:         false, // incompatible with websockets
		ReadBufferSize:  16384,
		WriteBufferSize: 16384,
	})

	jwtManager := auth.NewJWTManager(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenExpiry)

	var snapshots room.SnapshotStore
	if redisClient != nil {
		snapshots = redisClient
	}
	hub := room.NewHub(snapshots)

	return &Server{
		app:            app,
		cfg:            cfg,
		db:             db,
		hub:            hub,
		jwtManager:     jwtManager,
		boardHandler:   handler.NewBoardHandler(db, hub),
		boardWSHandler: handler.NewBoardWSHandler(hub, db, jwtManager, cfg),
		healthHandler:  handler.NewHealthHandler(db, redisClient, hub),
	}
}

// SetupMiddleware installs the global middleware stack
func (s *Server) SetupMiddleware() {
	s.app.Use(recover.New(recover.Config{
		EnableStackTrace: true,
	}))

	s.app.Use(logger.New(logger.Config{
		Format:     "${time} | ${status} | ${latency} | ${ip} | ${method} ${path}\n",
		TimeFormat: "2006-01-02 15:04:05",
	}))

	s.app.Use(cors.New(cors.Config{
		AllowOrigins:     s.cfg.CORS.AllowOrigins,
		AllowHeaders:     s.cfg.CORS.AllowHeaders,
		AllowMethods:     "GET, POST, PUT, DELETE, OPTIONS",
		AllowCredentials: true,
	}))
}

// SetupRoutes installs all routes
func (s *Server) SetupRoutes() {
	s.app.Get("/health", s.healthHandler.Check)

	// Invite spam protection
	inviteLimiter := limiter.New(limiter.Config{
		Max:        20,
		Expiration: 1 * time.Minute,
		KeyGenerator: func(c *fiber.Ctx) string {
			return c.IP()
		},
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error": "too many requests, please try again later",
			})
		},
	})

	api := s.app.Group("/api", auth.Middleware(s.jwtManager))
	api.Get("/boards/:code", s.boardHandler.GetBoard)
	api.Post("/boards/:code/invite", inviteLimiter, s.boardHandler.Invite)

	// Board sync channel. The token rides as a query parameter or cookie
	// so admission happens before the upgrade.
	s.app.Get("/ws/board/:boardId", s.boardWSHandler.Upgrade,
		websocket.New(s.boardWSHandler.HandleWebSocket, websocket.Config{
			ReadBufferSize:  s.cfg.WebSocket.ReadBufferSize,
			WriteBufferSize: s.cfg.WebSocket.WriteBufferSize,
		}))
}

// Start runs the server with graceful shutdown on SIGINT/SIGTERM
func (s *Server) Start() error {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		log.Println("Shutting down server...")
		if err := s.app.ShutdownWithTimeout(30 * time.Second); err != nil {
			log.Fatalf("Server shutdown error: %v", err)
		}
	}()

	log.Printf("Board Sync Gateway starting on %s", s.cfg.Server.Port)
	log.Printf("Channel endpoint: ws://localhost%s/ws/board/:boardId", s.cfg.Server.Port)

	return s.app.Listen(s.cfg.Server.Port)
}

// Shutdown stops the server
func (s *Server) Shutdown() error {
	return s.app.ShutdownWithTimeout(30 * time.Second)
}
