package handlers

import (
	"fmt"
	"sync"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"

	"github.com/vanpelt/scrollguard/internal/config"
	"github.com/vanpelt/scrollguard/internal/glitch"
	"github.com/vanpelt/scrollguard/internal/logger"
	"github.com/vanpelt/scrollguard/internal/supervisor"
)

// DiagnosticsHandler serves the localhost inspection surface: a read-only
// stats snapshot, runtime config tuning, and a live event stream. It never
// touches the supervised output path.
type DiagnosticsHandler struct {
	sup *supervisor.Supervisor
	det *glitch.Detector // may be nil
	cfg *config.Store

	app *fiber.App

	clientsMux sync.RWMutex
	clients    map[chan glitch.Event]struct{}
}

// NewDiagnosticsHandler wires the handler. det may be nil; the events
// stream then only ever sends the initial hello.
func NewDiagnosticsHandler(sup *supervisor.Supervisor, det *glitch.Detector, cfg *config.Store) *DiagnosticsHandler {
	h := &DiagnosticsHandler{
		sup:     sup,
		det:     det,
		cfg:     cfg,
		clients: make(map[chan glitch.Event]struct{}),
	}
	if det != nil {
		det.Subscribe(h.broadcast)
	}
	return h
}

// ConfigUpdate is the PUT /v1/config request body.
type ConfigUpdate struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// RegisterRoutes registers all diagnostics routes.
func (h *DiagnosticsHandler) RegisterRoutes(v1 fiber.Router) {
	v1.Get("/stats", h.handleStats)
	v1.Put("/config", h.handleConfig)
	v1.Get("/events", h.handleEvents)
	if h.det != nil {
		v1.Post("/detector/reset", h.handleDetectorReset)
	}
}

// handleStats returns the snapshot of counters, config, and detector metrics.
// @Summary Get supervisor stats
// @Tags diagnostics
// @Success 200 {object} models.Snapshot
// @Router /v1/stats [get]
func (h *DiagnosticsHandler) handleStats(c *fiber.Ctx) error {
	return c.JSON(h.sup.Snapshot())
}

// handleConfig applies a single runtime tuning update. Unknown keys are
// ignored, matching the permissive runtime-tuning surface.
// @Summary Update a config value at runtime
// @Tags diagnostics
// @Router /v1/config [put]
func (h *DiagnosticsHandler) handleConfig(c *fiber.Ctx) error {
	var update ConfigUpdate
	if err := c.BodyParser(&update); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid body")
	}
	applied := h.cfg.Set(update.Key, update.Value)
	if applied {
		logger.Infof("🔧 Runtime config update: %s=%s", update.Key, update.Value)
	} else {
		logger.Debugf("🔧 Ignored config update for unknown key %q", update.Key)
	}
	return c.JSON(fiber.Map{"applied": applied})
}

// handleDetectorReset forces the detector back to Normal after a manual
// recovery.
// @Summary Reset the glitch detector
// @Tags diagnostics
// @Router /v1/detector/reset [post]
func (h *DiagnosticsHandler) handleDetectorReset(c *fiber.Ctx) error {
	h.det.Reset()
	return c.SendStatus(fiber.StatusNoContent)
}

// handleEvents streams detector events over a WebSocket.
// @Summary Stream glitch detector events
// @Tags diagnostics
// @Success 101 {string} string "Switching Protocols"
// @Router /v1/events [get]
func (h *DiagnosticsHandler) handleEvents(c *fiber.Ctx) error {
	if !websocket.IsWebSocketUpgrade(c) {
		return fiber.ErrUpgradeRequired
	}
	return websocket.New(func(conn *websocket.Conn) {
		ch := make(chan glitch.Event, 16)
		h.clientsMux.Lock()
		h.clients[ch] = struct{}{}
		h.clientsMux.Unlock()

		defer func() {
			h.clientsMux.Lock()
			delete(h.clients, ch)
			h.clientsMux.Unlock()
			conn.Close()
		}()

		h.streamEvents(conn, ch)
	})(c)
}

// eventConn is the slice of *websocket.Conn the event stream needs.
type eventConn interface {
	ReadMessage() (int, []byte, error)
	WriteJSON(v interface{}) error
}

// streamEvents relays detector events to one client until it disconnects.
// The read pump discards inbound frames; it exists so a closed connection
// ends the stream even when no event ever arrives.
func (h *DiagnosticsHandler) streamEvents(conn eventConn, ch chan glitch.Event) {
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case ev := <-ch:
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}

// broadcast fans a detector event out to all connected clients. Slow
// clients are skipped rather than blocking the detector.
func (h *DiagnosticsHandler) broadcast(ev glitch.Event) {
	h.clientsMux.RLock()
	defer h.clientsMux.RUnlock()
	for ch := range h.clients {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Start launches the diagnostics server on localhost. A port of 0 disables
// the surface entirely.
func (h *DiagnosticsHandler) Start(port int) error {
	if port <= 0 {
		return nil
	}

	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
	})
	v1 := app.Group("/v1")
	h.RegisterRoutes(v1)
	h.app = app

	go func() {
		addr := fmt.Sprintf("127.0.0.1:%d", port)
		logger.Infof("📊 Diagnostics server listening on %s", addr)
		if err := app.Listen(addr); err != nil {
			logger.Warnf("⚠️  Diagnostics server stopped: %v", err)
		}
	}()
	return nil
}

// Stop shuts the server down. Safe to call when it never started.
func (h *DiagnosticsHandler) Stop() {
	if h.app != nil {
		_ = h.app.Shutdown()
	}
}
