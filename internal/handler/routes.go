package handler

import (
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"soap-proxy-go/internal/config"
	"soap-proxy-go/internal/metrics"
)

// RegisterRoutes wires all route handlers onto the Echo instance. Reserved
// routes live under /_proxy/, where unknown paths are 404; every other path
// is dispatched by the proxy.
func RegisterRoutes(
	e *echo.Echo,
	cfg *config.Config,
	m *metrics.Metrics,
	proxy *ProxyHandler,
	health *HealthHandler,
	admin *AdminHandler,
) {
	e.GET(config.HealthzPath, health.Healthz)
	e.GET(config.StatusPath, health.Status)

	if cfg.Admin.Enabled {
		e.GET(config.AdminPath, admin.Get)
		e.PATCH(config.AdminPath, admin.Patch)
	}

	if cfg.Metrics.Enabled && m != nil {
		e.GET(cfg.Metrics.Path, echo.WrapHandler(promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})))
	}

	e.Any(config.ReservedPrefix+"*", func(echo.Context) error { return echo.ErrNotFound })
	e.Any("/*", proxy.Handle)
}
