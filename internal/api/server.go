// Package api exposes the worker control surface and the published
// execution state over HTTP.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/adaptor"

	"github.com/livinlefevreloca/tally/internal/state"
	"github.com/livinlefevreloca/tally/internal/stats"
	"github.com/livinlefevreloca/tally/internal/worker"
)

// startTimeout bounds the initial metric load of POST /worker/start
const startTimeout = 30 * time.Second

const (
	defaultPassLimit = 20
	maxPassLimit     = 500
)

// Controller is the worker control surface
type Controller interface {
	Start(ctx context.Context) error
	Stop()
	Status() worker.Status
}

// StateReader returns the current execution state
type StateReader interface {
	State() state.Snapshot
}

// TotalsReader returns pass totals since process start
type TotalsReader interface {
	Totals() stats.Totals
}

// HistoryReader returns recorded passes, newest first
type HistoryReader interface {
	RecentPasses(ctx context.Context, limit int) ([]stats.PassSummary, error)
}

// Server serves the control API
type Server struct {
	controller Controller
	states     StateReader
	totals     TotalsReader
	history    HistoryReader
	logger     *slog.Logger
	app        *fiber.App
}

// NewServer creates the API server. totals and history may be nil.
func NewServer(controller Controller, states StateReader, totals TotalsReader, history HistoryReader, logger *slog.Logger) *Server {
	s := &Server{
		controller: controller,
		states:     states,
		totals:     totals,
		history:    history,
		logger:     logger,
	}
	s.app = s.routes()
	return s
}

// App returns the fiber application
func (s *Server) App() *fiber.App {
	return s.app
}

func (s *Server) routes() *fiber.App {
	app := fiber.New()

	app.Get("/health", s.health)

	w := app.Group("/worker")
	w.Get("/status", s.workerStatus)
	w.Post("/start", s.startWorker)
	w.Post("/stop", s.stopWorker)

	st := app.Group("/state")
	st.Get("/", s.getState)
	st.Get("/metrics/:id", s.getMetricState)

	app.Get("/stats", s.getStats)
	app.Get("/stats/passes", s.getPasses)

	return app
}

func (s *Server) health(c fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": "ok"})
}

func (s *Server) workerStatus(c fiber.Ctx) error {
	return c.JSON(s.controller.Status())
}

func (s *Server) startWorker(c fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(context.Background(), startTimeout)
	defer cancel()

	if err := s.controller.Start(ctx); err != nil {
		s.logger.Error("worker start failed", "error", err)
		return internalError(c, "worker_start_failed", err)
	}
	return c.Status(fiber.StatusAccepted).JSON(s.controller.Status())
}

func (s *Server) stopWorker(c fiber.Ctx) error {
	s.controller.Stop()
	return c.Status(fiber.StatusAccepted).JSON(s.controller.Status())
}

func (s *Server) getState(c fiber.Ctx) error {
	return c.JSON(s.states.State())
}

func (s *Server) getMetricState(c fiber.Ctx) error {
	id := c.Params("id")
	m, ok := s.states.State().Metric(id)
	if !ok {
		return notFound(c, "metric "+id+" not found")
	}
	return c.JSON(m)
}

func (s *Server) getStats(c fiber.Ctx) error {
	if s.totals == nil {
		return c.JSON(stats.Totals{})
	}
	return c.JSON(s.totals.Totals())
}

func (s *Server) getPasses(c fiber.Ctx) error {
	if s.history == nil {
		return notFound(c, "pass history is only recorded with the sql store backend")
	}

	limit := defaultPassLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > maxPassLimit {
			return badRequest(c, fmt.Sprintf("limit must be an integer between 1 and %d", maxPassLimit))
		}
		limit = n
	}

	passes, err := s.history.RecentPasses(c.Context(), limit)
	if err != nil {
		s.logger.Error("failed to read pass history", "error", err)
		return internalError(c, "pass_history_failed", err)
	}
	return c.JSON(passes)
}

// NewMetricsApp serves handler on path, for the Prometheus endpoint
func NewMetricsApp(path string, handler http.Handler) *fiber.App {
	app := fiber.New()
	app.Get(path, adaptor.HTTPHandler(handler))
	return app
}
