// Package statusapi exposes a read-only view of the supervisor's
// aggregate statistics over HTTP and WebSocket, for external tooling
// (CI dashboards, curl, a browser tab) that wants the same numbers
// fuzzer_stats already records, without any control surface.
package statusapi

import (
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/websocket/v2"

	"github.com/fuzzlab/manul/pkg/types"
)

// StatsSource is the minimal view of a supervisor a status server needs:
// the current aggregate statistics and the per-worker breakdown behind
// them. Defined here, not in internal/supervisor, so this package has no
// dependency on the supervisor's process-management internals.
type StatsSource interface {
	Aggregate() (types.Statistics, []types.Statistics)
}

// Server is the read-only stats surface. No /start, /stop, or /config
// route exists anywhere in this package: none of spec.md's control
// actions are reachable from it.
type Server struct {
	app    *fiber.App
	source StatsSource

	clientsMu sync.Mutex
	clients   map[*websocket.Conn]bool
	broadcast chan []byte

	logger *slog.Logger
}

// New builds a status server reading from source. Call PushSnapshot after
// every supervisor sync tick to fan the current stats out to connected
// WebSocket clients.
func New(source StatsSource) *Server {
	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
	})

	s := &Server{
		app:       app,
		source:    source,
		clients:   make(map[*websocket.Conn]bool),
		broadcast: make(chan []byte, 64),
		logger:    slog.Default().With("component", "statusapi"),
	}

	s.setupRoutes()
	go s.handleBroadcast()
	return s
}

func (s *Server) setupRoutes() {
	s.app.Use(cors.New())

	api := s.app.Group("/api")
	api.Get("/stats", s.handleStats)
	api.Get("/workers", s.handleWorkers)

	s.app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	s.app.Get("/ws", websocket.New(s.handleWebSocket))
}

// handleStats returns the current aggregate statistics block as JSON.
func (s *Server) handleStats(c *fiber.Ctx) error {
	agg, _ := s.source.Aggregate()
	return c.JSON(agg)
}

// handleWorkers returns the per-worker statistics breakdown.
func (s *Server) handleWorkers(c *fiber.Ctx) error {
	_, per := s.source.Aggregate()
	return c.JSON(per)
}

func (s *Server) handleWebSocket(c *websocket.Conn) {
	s.clientsMu.Lock()
	s.clients[c] = true
	s.clientsMu.Unlock()

	defer func() {
		s.clientsMu.Lock()
		delete(s.clients, c)
		s.clientsMu.Unlock()
		c.Close()
	}()

	agg, _ := s.source.Aggregate()
	if data, err := json.Marshal(agg); err == nil {
		c.WriteMessage(websocket.TextMessage, data)
	}

	for {
		if _, _, err := c.ReadMessage(); err != nil {
			break
		}
	}
}

func (s *Server) handleBroadcast() {
	for msg := range s.broadcast {
		s.clientsMu.Lock()
		for client := range s.clients {
			if err := client.WriteMessage(websocket.TextMessage, msg); err != nil {
				client.Close()
				delete(s.clients, client)
			}
		}
		s.clientsMu.Unlock()
	}
}

// PushSnapshot marshals the current aggregate statistics and queues them
// for every connected WebSocket client; a full broadcast channel drops
// the snapshot rather than block the caller's sync tick.
func (s *Server) PushSnapshot() {
	agg, _ := s.source.Aggregate()
	data, err := json.Marshal(agg)
	if err != nil {
		return
	}
	select {
	case s.broadcast <- data:
	default:
		s.logger.Warn("status broadcast channel full, dropping snapshot")
	}
}

// Start runs the status server, blocking until it is stopped.
func (s *Server) Start(addr string) error {
	s.logger.Info("status server listening", "addr", addr)
	return s.app.Listen(addr)
}

// Stop gracefully shuts the status server down.
func (s *Server) Stop() error {
	return s.app.Shutdown()
}
