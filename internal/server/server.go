package server

import (
	"context"
	"errors"
	"fmt"
	"time"

	"sessionreel/internal/config"
	"sessionreel/internal/control"
	"sessionreel/internal/metrics"
	"sessionreel/internal/registry"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"
)

// Server exposes the chunk registry over HTTP: the playback retrieval
// endpoint, the websocket control channel, health, and metrics.
type Server struct {
	app           *fiber.App
	registry      *registry.Service
	metrics       *metrics.Collector
	logger        *zap.Logger
	chunkDuration time.Duration
	port          int
}

// New builds the fiber application and registers all routes.
func New(cfg config.Server, reg *registry.Service, m *metrics.Collector, chunkDuration time.Duration, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}

	app := fiber.New(fiber.Config{
		ServerHeader: "sessionreel",
		AppName:      "sessionreel",
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	s := &Server{
		app:           app,
		registry:      reg,
		metrics:       m,
		logger:        logger,
		chunkDuration: chunkDuration,
		port:          cfg.Port,
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,OPTIONS",
		AllowHeaders: "Accept,Authorization,Content-Type",
	}))

	s.app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	if s.metrics != nil {
		s.app.Get("/metrics", adaptor.HTTPHandler(s.metrics.Handler()))
	}

	s.app.Get("/sessions/:sessionId/video-chunks", s.handleVideoChunks)

	s.app.Use("/ws/:sessionId", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	s.app.Get("/ws/:sessionId", websocket.New(control.WSHandler(s.registry, s.metrics, s.logger)))
}

// App exposes the fiber app for tests.
func (s *Server) App() *fiber.App { return s.app }

// Listen serves until Shutdown is called.
func (s *Server) Listen() error {
	return s.app.Listen(fmt.Sprintf(":%d", s.port))
}

// Shutdown drains connections and stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}

type chunkResponse struct {
	Index       uint64    `json:"index"`
	S3Key       string    `json:"s3Key"`
	Size        int64     `json:"size"`
	UploadedAt  time.Time `json:"uploadedAt"`
	DownloadURL string    `json:"downloadUrl"`
}

type videoChunksResponse struct {
	SessionID       string          `json:"sessionId"`
	VideoStatus     string          `json:"videoStatus"`
	VideoStartedAt  *time.Time      `json:"videoStartedAt,omitempty"`
	VideoEndedAt    *time.Time      `json:"videoEndedAt,omitempty"`
	Chunks          []chunkResponse `json:"chunks"`
	TotalDurationMs int64           `json:"totalDurationMs"`
	ChunkDurationMs int64           `json:"chunkDurationMs"`
}

// handleVideoChunks serves the ordered chunk list with fresh read
// credentials for the segment reconstructor.
func (s *Server) handleVideoChunks(c *fiber.Ctx) error {
	sessionID := c.Params("sessionId")

	session, err := s.registry.GetSession(c.Context(), sessionID)
	if err != nil {
		if errors.Is(err, registry.ErrSessionNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "session not found"})
		}
		s.logger.Error("failed to load session",
			zap.String("session_id", sessionID),
			zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal error"})
	}

	chunks, err := s.registry.ListChunks(c.Context(), sessionID)
	if err != nil {
		s.logger.Error("failed to list chunks",
			zap.String("session_id", sessionID),
			zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal error"})
	}

	chunkMs := s.chunkDuration.Milliseconds()
	resp := videoChunksResponse{
		SessionID:       sessionID,
		VideoStatus:     string(session.Status),
		VideoEndedAt:    session.EndedAt,
		Chunks:          make([]chunkResponse, 0, len(chunks)),
		ChunkDurationMs: chunkMs,
	}
	if !session.StartedAt.IsZero() {
		startedAt := session.StartedAt
		resp.VideoStartedAt = &startedAt
	}
	for _, ch := range chunks {
		resp.Chunks = append(resp.Chunks, chunkResponse{
			Index:       ch.Index,
			S3Key:       ch.StorageKey,
			Size:        ch.Size,
			UploadedAt:  ch.UploadedAt,
			DownloadURL: ch.DownloadURL,
		})
	}
	if n := len(chunks); n > 0 {
		resp.TotalDurationMs = int64(chunks[n-1].Index+1) * chunkMs
	}

	return c.JSON(resp)
}
