package observability

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/tphakala/sensorflow/internal/dpu"
	"github.com/tphakala/sensorflow/internal/logger"
	"github.com/tphakala/sensorflow/internal/observability/metrics"
	"github.com/tphakala/sensorflow/internal/sinks"
)

// StatusSource supplies the data behind the status API.
type StatusSource interface {
	RunID() string
	Stages() []dpu.Stats
	Results() []sinks.Record
}

// HistorySource supplies persisted detections, when a store is configured.
type HistorySource interface {
	Recent(limit int) ([]sinks.Detection, error)
}

// Endpoint serves /metrics and the status API.
type Endpoint struct {
	echo          *echo.Echo
	listenAddress string
	metrics       *Metrics
	status        StatusSource
	history       HistorySource
	log           logger.Logger
}

// NewEndpoint builds the router. history may be nil.
func NewEndpoint(listen string, m *Metrics, status StatusSource, history HistorySource, log logger.Logger) *Endpoint {
	e := &Endpoint{
		echo:          echo.New(),
		listenAddress: listen,
		metrics:       m,
		status:        status,
		history:       history,
		log:           log,
	}
	e.echo.HideBanner = true
	e.echo.HidePort = true
	e.echo.Logger = logger.NewEchoAdapter(log)

	e.echo.GET("/metrics", echo.WrapHandler(m.Handler()))
	e.echo.GET("/healthz", e.health)
	api := e.echo.Group("/api/v1")
	api.GET("/stages", e.stages)
	api.GET("/results", e.results)
	api.GET("/detections", e.detections)
	return e
}

// Handler exposes the router for embedding and tests.
func (e *Endpoint) Handler() http.Handler { return e.echo }

// Run serves until ctx ends, then shuts down gracefully.
func (e *Endpoint) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", e.listenAddress)
	if err != nil {
		return err
	}
	e.echo.Listener = ln
	e.log.Info("Telemetry endpoint starting", logger.String("address", ln.Addr().String()))

	errCh := make(chan error, 1)
	go func() {
		errCh <- e.echo.Start("")
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	e.log.Info("Stopping telemetry server")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), metrics.ShutdownTimeout)
	defer cancel()
	if err := e.echo.Shutdown(shutdownCtx); err != nil {
		e.log.Error("Telemetry server shutdown error", logger.Error(err))
		return err
	}
	<-errCh
	return nil
}

func (e *Endpoint) health(c echo.Context) error {
	for _, st := range e.status.Stages() {
		if st.Fault != "" {
			return c.JSON(http.StatusServiceUnavailable, map[string]string{
				"status": "faulted",
				"stage":  st.Name,
			})
		}
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (e *Endpoint) stages(c echo.Context) error {
	stages := e.status.Stages()
	for _, st := range stages {
		e.metrics.Pipeline.ObserveStage(st)
	}
	return c.JSON(http.StatusOK, map[string]any{
		"run_id": e.status.RunID(),
		"stages": stages,
	})
}

func (e *Endpoint) results(c echo.Context) error {
	return c.JSON(http.StatusOK, e.status.Results())
}

func (e *Endpoint) detections(c echo.Context) error {
	if e.history == nil {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "no datastore configured"})
	}
	limit := 50
	if v := c.QueryParam("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 1000 {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "limit must be between 1 and 1000"})
		}
		limit = n
	}
	rows, err := e.history.Recent(limit)
	if err != nil {
		e.log.Error("Failed to fetch detections", logger.Error(err))
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Error fetching detections"})
	}
	return c.JSON(http.StatusOK, rows)
}
