package handler

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"soap-proxy-go/internal/config"
)

// Version is a string type for dependency injection of the build version.
type Version string

// HealthHandler serves health and status endpoints.
type HealthHandler struct {
	cfg     *config.Config
	store   *config.Store
	version Version
	started time.Time
}

// NewHealthHandler creates a HealthHandler.
func NewHealthHandler(cfg *config.Config, store *config.Store, v Version) *HealthHandler {
	return &HealthHandler{cfg: cfg, store: store, version: v, started: time.Now()}
}

// Healthz returns a simple OK response for liveness probes.
func (h *HealthHandler) Healthz(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status": "ok",
	})
}

type statusResponse struct {
	Status         string               `json:"status"`
	Version        string               `json:"version"`
	UptimeSeconds  int64                `json:"uptime_seconds"`
	ContextPath    string               `json:"context_path"`
	ConfigFile     string               `json:"config_file"`
	ReloadWatching bool                 `json:"reload_watching"`
	Proxy          config.ProxySettings `json:"proxy"`
}

// Status returns proxy status information with the current settings snapshot.
func (h *HealthHandler) Status(c echo.Context) error {
	return c.JSON(http.StatusOK, statusResponse{
		Status:         "ok",
		Version:        string(h.version),
		UptimeSeconds:  int64(time.Since(h.started).Seconds()),
		ContextPath:    h.cfg.Server.ContextPath,
		ConfigFile:     h.cfg.FilePath(),
		ReloadWatching: h.cfg.Reload.Watch && h.cfg.FilePath() != "",
		Proxy:          h.store.Load(),
	})
}
