package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"soap-proxy-go/internal/config"
)

// settingsPatch carries the fields of a partial settings update; nil
// fields keep their current value.
type settingsPatch struct {
	RemoveCoordinationContext *bool `json:"remove_coordination_context"`
	RemoveWSATElements        *bool `json:"remove_wsat_elements"`
	RemoveTransactionElements *bool `json:"remove_transaction_elements"`
	AllowRestrictedHeaders    *bool `json:"allow_restricted_headers"`
	DetailedLogging           *bool `json:"detailed_logging"`
	ConnectTimeoutMs          *int  `json:"connect_timeout_ms"`
	SocketTimeoutMs           *int  `json:"socket_timeout_ms"`
}

func (p settingsPatch) apply(s config.ProxySettings) config.ProxySettings {
	setBool(&s.RemoveCoordinationContext, p.RemoveCoordinationContext)
	setBool(&s.RemoveWSATElements, p.RemoveWSATElements)
	setBool(&s.RemoveTransactionElements, p.RemoveTransactionElements)
	setBool(&s.AllowRestrictedHeaders, p.AllowRestrictedHeaders)
	setBool(&s.DetailedLogging, p.DetailedLogging)
	if p.ConnectTimeoutMs != nil {
		s.ConnectTimeoutMs = *p.ConnectTimeoutMs
	}
	if p.SocketTimeoutMs != nil {
		s.SocketTimeoutMs = *p.SocketTimeoutMs
	}
	return s
}

func setBool(dst *bool, src *bool) {
	if src != nil {
		*dst = *src
	}
}

// AdminHandler exposes the runtime proxy settings.
type AdminHandler struct {
	store  *config.Store
	logger *slog.Logger
}

// NewAdminHandler creates an AdminHandler.
func NewAdminHandler(store *config.Store, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{
		store:  store,
		logger: logger.With("component", "admin_handler"),
	}
}

// Get returns the current settings snapshot.
func (h *AdminHandler) Get(c echo.Context) error {
	return c.JSON(http.StatusOK, h.store.Load())
}

// Patch applies a partial update. Requests already in flight keep the
// snapshot they started with.
func (h *AdminHandler) Patch(c echo.Context) error {
	var patch settingsPatch
	dec := json.NewDecoder(c.Request().Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&patch); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error": "invalid settings patch: " + err.Error(),
		})
	}

	next, err := h.store.Update(patch.apply)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error": err.Error(),
		})
	}

	h.logger.Info("proxy settings updated via admin endpoint",
		"request_id", c.Response().Header().Get(echo.HeaderXRequestID),
		"remote_ip", c.RealIP(),
	)
	return c.JSON(http.StatusOK, next)
}
