// Package statusapi serves capture health, statistics and controls over HTTP.
//
// Routes:
//
//	GET /health            200 when capturing, 503 otherwise
//	GET /stats             capture statistics
//	GET /controls          every device control with its committed value
//	GET /controls/:name    one control
//	PUT /controls/:name    {"value": ...} validates and commits a value
package statusapi

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/e7canasta/orion-care-sensor/modules/camera-capture/internal/controls"
)

// Health is the liveness report of the capture pipeline
type Health struct {
	Running bool   `json:"running"`
	Camera  string `json:"camera"`
	Stream  string `json:"stream"`
	Reason  string `json:"reason,omitempty"`
}

// Control is one device control as shown by the API
type Control struct {
	Name      string `json:"name"`
	Type      string `json:"type"`
	Min       string `json:"min"`
	Max       string `json:"max"`
	Default   string `json:"default"`
	Value     string `json:"value,omitempty"`
	Committed bool   `json:"committed"`
}

// Provider is what the API reports on
type Provider interface {
	Health() Health
	Stats() any
	Controls() []Control
	// SetControl validates and commits value. The new value is applied to
	// every request armed afterwards.
	SetControl(name string, value any) error
}

// Server is the status HTTP server
type Server struct {
	app    *fiber.App
	listen string
	p      Provider
}

// New builds the server. It does not listen.
func New(listen string, p Provider) *Server {
	s := &Server{listen: listen, p: p}

	app := fiber.New(fiber.Config{
		AppName:               "camera-capture",
		DisableStartupMessage: true,
	})

	app.Get("/health", s.handleHealth)
	app.Get("/stats", s.handleStats)
	app.Get("/controls", s.handleListControls)
	app.Get("/controls/:name", s.handleGetControl)
	app.Put("/controls/:name", s.handleSetControl)

	s.app = app
	return s
}

// App returns the underlying fiber app
func (s *Server) App() *fiber.App { return s.app }

// Start listens and serves until Shutdown
func (s *Server) Start() error {
	slog.Info("statusapi: listening", "addr", s.listen)
	return s.app.Listen(s.listen)
}

// StartAsync starts the server in a goroutine
func (s *Server) StartAsync() {
	go func() {
		if err := s.Start(); err != nil {
			slog.Error("statusapi: server error", "error", err)
		}
	}()
}

// Shutdown stops the server
func (s *Server) Shutdown() error {
	if err := s.app.Shutdown(); err != nil {
		return fmt.Errorf("statusapi: shutdown: %w", err)
	}
	return nil
}

func (s *Server) handleHealth(c *fiber.Ctx) error {
	h := s.p.Health()
	if !h.Running {
		return c.Status(fiber.StatusServiceUnavailable).JSON(h)
	}
	return c.JSON(h)
}

func (s *Server) handleStats(c *fiber.Ctx) error {
	return c.JSON(s.p.Stats())
}

func (s *Server) handleListControls(c *fiber.Ctx) error {
	return c.JSON(s.p.Controls())
}

func (s *Server) handleGetControl(c *fiber.Ctx) error {
	name := c.Params("name")
	for _, ctl := range s.p.Controls() {
		if ctl.Name == name {
			return c.JSON(ctl)
		}
	}
	return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
		"error": fmt.Sprintf("unknown control %q", name),
	})
}

func (s *Server) handleSetControl(c *fiber.Ctx) error {
	name := c.Params("name")

	value, err := decodeValue(c.Body())
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}

	if err := s.p.SetControl(name, value); err != nil {
		status := fiber.StatusBadRequest
		if errors.Is(err, controls.ErrUnknownControl) {
			status = fiber.StatusNotFound
		}
		return c.Status(status).JSON(fiber.Map{"error": err.Error()})
	}

	slog.Info("statusapi: control set", "control", name, "value", value)
	return c.SendStatus(fiber.StatusNoContent)
}

// decodeValue reads {"value": ...}. Numbers written without a fraction or
// exponent decode as integers, the rest as floats.
func decodeValue(body []byte) (any, error) {
	var req struct {
		Value any `json:"value"`
	}
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(&req); err != nil {
		return nil, fmt.Errorf("invalid body: %w", err)
	}
	if req.Value == nil {
		return nil, fmt.Errorf("invalid body: missing value")
	}
	return normalize(req.Value)
}

func normalize(v any) (any, error) {
	switch x := v.(type) {
	case json.Number:
		if !strings.ContainsAny(x.String(), ".eE") {
			if n, err := x.Int64(); err == nil {
				return n, nil
			}
		}
		f, err := x.Float64()
		if err != nil {
			return nil, fmt.Errorf("invalid number %s", x)
		}
		return f, nil
	case []any:
		out := make([]any, len(x))
		for i, item := range x {
			n, err := normalize(item)
			if err != nil {
				return nil, err
			}
			out[i] = n
		}
		return out, nil
	case bool, string:
		return x, nil
	default:
		return nil, fmt.Errorf("unsupported value %v", v)
	}
}
