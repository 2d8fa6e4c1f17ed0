package handler

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"soap-proxy-go/internal/client"
	"soap-proxy-go/internal/metrics"
	"soap-proxy-go/internal/model"
	"soap-proxy-go/internal/service"
)

// relayedResponseHeaders are copied from the destination's answer. The
// content type is always set by the proxy.
var relayedResponseHeaders = []string{
	"Cache-Control",
	"Content-Encoding",
	"Date",
}

// ProxyHandler dispatches every non-reserved path: POST runs the SOAP
// pipeline, GET either forwards a WSDL request or renders the status page.
type ProxyHandler struct {
	service *service.ProxyService
	status  *StatusPage
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewProxyHandler creates a ProxyHandler.
// The metrics parameter is optional; pass nil to disable error metrics.
func NewProxyHandler(svc *service.ProxyService, status *StatusPage, m *metrics.Metrics, logger *slog.Logger) *ProxyHandler {
	return &ProxyHandler{
		service: svc,
		status:  status,
		metrics: m,
		logger:  logger.With("component", "proxy_handler"),
	}
}

// Handle is the catch-all route.
func (h *ProxyHandler) Handle(c echo.Context) error {
	req := c.Request()

	switch req.Method {
	case http.MethodPost:
		return h.handleSOAP(c)
	case http.MethodGet:
		if service.IsWSDLRequest(req.URL.RawQuery) {
			return h.handleWSDL(c)
		}
		return h.status.Render(c)
	default:
		c.Response().Header().Set(echo.HeaderAllow, "GET, POST")
		return c.String(http.StatusMethodNotAllowed, "Method Not Allowed")
	}
}

func (h *ProxyHandler) handleSOAP(c echo.Context) error {
	in := inboundRequest(c)

	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		var he *echo.HTTPError
		if errors.As(err, &he) {
			return he
		}
		return h.fail(c, in, model.NewProxyError(model.MalformedSoapMessage, "read request body", err))
	}
	in.Body = body

	res, err := h.service.ProxySOAP(in)
	if err != nil {
		return h.fail(c, in, err)
	}
	return relay(c, res)
}

func (h *ProxyHandler) handleWSDL(c echo.Context) error {
	in := inboundRequest(c)

	res, err := h.service.ProxyWSDL(in)
	if err != nil {
		return h.fail(c, in, err)
	}
	return relay(c, res)
}

func inboundRequest(c echo.Context) *model.InboundRequest {
	req := c.Request()
	return &model.InboundRequest{
		Ctx:       req.Context(),
		RequestID: c.Response().Header().Get(echo.HeaderXRequestID),
		Method:    req.Method,
		Path:      req.URL.Path,
		RawQuery:  req.URL.RawQuery,
		Header:    req.Header,
	}
}

// relay writes the destination's answer with its status and body unchanged.
func relay(c echo.Context, res *model.OutboundResult) error {
	for _, key := range relayedResponseHeaders {
		for _, v := range res.Header.Values(key) {
			c.Response().Header().Add(key, v)
		}
	}
	return c.Blob(res.StatusCode, client.ContentTypeSOAP, res.Body)
}

// fail reports a proxy failure as 500 with a plain-text description.
func (h *ProxyHandler) fail(c echo.Context, in *model.InboundRequest, err error) error {
	kind := model.KindOf(err)

	attrs := []any{
		"request_id", in.RequestID,
		"method", in.Method,
		"uri", in.URI(),
		"kind", kind.String(),
		"err", err,
	}
	message := err.Error()
	var pe *model.ProxyError
	if errors.As(err, &pe) {
		if pe.Destination != "" {
			attrs = append(attrs, "destination", pe.Destination)
		}
		if pe.Timeout {
			attrs = append(attrs, "timeout", true)
		}
		message = describe(pe)
	}
	h.logger.Error("proxy request failed", attrs...)

	if h.metrics != nil {
		h.metrics.ProxyErrors.WithLabelValues(kind.String()).Inc()
	}
	return c.String(http.StatusInternalServerError, "Proxy Error: "+message)
}

func describe(pe *model.ProxyError) string {
	if pe.Cause == nil || pe.Timeout {
		return pe.Message
	}
	return pe.Message + ": " + pe.Cause.Error()
}
