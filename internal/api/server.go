package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/skalibog/ginbot/internal/trader"
	"github.com/skalibog/ginbot/pkg/logger"
	"github.com/skalibog/ginbot/pkg/models"
)

// StatusProvider источник снимка состояния бота
type StatusProvider interface {
	Status() trader.Status
}

// PositionReader чтение истории позиций
type PositionReader interface {
	All() []models.Position
	Get(id string) (models.Position, bool)
}

// Response конверт ответа API
type Response struct {
	Status  int         `json:"status"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// Server HTTP API статуса бота
type Server struct {
	echo   *echo.Echo
	listen string
}

// NewServer создаёт сервер и регистрирует маршруты
func NewServer(listen string, status StatusProvider, positions PositionReader, gatherer prometheus.Gatherer) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(requestLogging())

	h := &handler{status: status, positions: positions}
	e.GET("/healthz", h.health)
	e.GET("/api/status", h.fullStatus)
	e.GET("/api/signals", h.signals)
	e.GET("/api/summary", h.summary)
	e.GET("/api/positions", h.listPositions)
	e.GET("/api/positions/:id", h.getPosition)
	if gatherer != nil {
		e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}

	return &Server{echo: e, listen: listen}
}

// Handler возвращает http.Handler, удобно для тестов
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Run обслуживает запросы до отмены контекста
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		logger.Info("HTTP API запущен", zap.String("listen", s.listen))
		if err := s.echo.Start(s.listen); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.echo.Shutdown(shutdownCtx)
}

func requestLogging() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			logger.Debug("HTTP запрос",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("latency", time.Since(start)))
			return err
		}
	}
}

type handler struct {
	status    StatusProvider
	positions PositionReader
}

func ok(c echo.Context, data interface{}) error {
	return c.JSON(http.StatusOK, Response{Status: http.StatusOK, Message: http.StatusText(http.StatusOK), Data: data})
}

func fail(c echo.Context, code int, msg string) error {
	return c.JSON(code, Response{Status: code, Message: msg})
}

func (h *handler) health(c echo.Context) error {
	return ok(c, map[string]interface{}{
		"last_cycle": h.status.Status().LastCycle,
	})
}

func (h *handler) fullStatus(c echo.Context) error {
	return ok(c, h.status.Status())
}

func (h *handler) signals(c echo.Context) error {
	return ok(c, h.status.Status().Decisions)
}

func (h *handler) summary(c echo.Context) error {
	s := h.status.Status()
	return ok(c, map[string]interface{}{
		"summary":    s.Summary,
		"unrealized": s.Unrealized,
	})
}

// listPositions по умолчанию открытые позиции, ?status=all или ?status=closed для истории
func (h *handler) listPositions(c echo.Context) error {
	switch c.QueryParam("status") {
	case "", "open":
		return ok(c, h.status.Status().Positions)
	case "all":
		return ok(c, h.positions.All())
	case "closed":
		closed := make([]models.Position, 0)
		for _, p := range h.positions.All() {
			if p.Status == models.StatusClosed {
				closed = append(closed, p)
			}
		}
		return ok(c, closed)
	default:
		return fail(c, http.StatusBadRequest, "status must be open, closed or all")
	}
}

func (h *handler) getPosition(c echo.Context) error {
	p, found := h.positions.Get(c.Param("id"))
	if !found {
		return fail(c, http.StatusNotFound, "position not found")
	}
	return ok(c, p)
}
