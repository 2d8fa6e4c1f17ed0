// Package service implements the proxy pipeline: parse, resolve, sanitize,
// filter headers and forward.
package service

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"soap-proxy-go/internal/config"
	"soap-proxy-go/internal/metrics"
	"soap-proxy-go/internal/model"
	"soap-proxy-go/internal/soap"
)

// Messages returned to clients when no destination could be determined.
const (
	msgNoDestinationSOAP = "no destination URL found in SOAP To field or destination headers; " +
		"set wsa:To or send " + HeaderDestinationURL + " (or " + HeaderDestinationHost + ", " +
		HeaderDestinationPort + " and " + HeaderDestinationProtocol + ")"
	msgNoDestinationWSDL = "no destination URL found in destination headers; send " +
		HeaderDestinationURL + " (or " + HeaderDestinationHost + ", " +
		HeaderDestinationPort + " and " + HeaderDestinationProtocol + ")"
)

// Forwarder sends a rewritten request to its destination.
type Forwarder interface {
	Forward(ctx context.Context, out *model.OutboundRequest) (*model.OutboundResult, error)
}

// ProxyService runs the forwarding pipeline for SOAP and WSDL requests.
type ProxyService struct {
	forwarder Forwarder
	store     *config.Store
	resolver  *Resolver
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

// NewProxyService creates a ProxyService.
// The metrics parameter is optional; pass nil to disable pipeline metrics.
func NewProxyService(f Forwarder, store *config.Store, cfg *config.Config, m *metrics.Metrics, logger *slog.Logger) *ProxyService {
	return &ProxyService{
		forwarder: f,
		store:     store,
		resolver:  NewResolver(cfg),
		metrics:   m,
		logger:    logger.With("component", "proxy_service"),
	}
}

// IsWSDLRequest reports whether a GET asks for a service description.
func IsWSDLRequest(rawQuery string) bool {
	return strings.Contains(strings.ToLower(rawQuery), "wsdl")
}

// ProxySOAP parses the envelope, resolves the destination, strips
// transaction-context headers and forwards the result as a POST. Non-2xx
// answers from the destination are returned as results, not errors.
func (s *ProxyService) ProxySOAP(req *model.InboundRequest) (*model.OutboundResult, error) {
	settings := s.store.Load()
	log := s.newRequestLog(req, settings)

	log.step("processing SOAP request", "uri", req.URI())
	log.detail("inbound request", "headers", req.Header, "body", string(req.Body))

	env, err := soap.Parse(req.Body)
	if err != nil {
		return nil, model.NewProxyError(model.MalformedSoapMessage, "parse SOAP envelope", err)
	}

	target, ok := s.resolver.FromEnvelope(env, req.RawQuery)
	if !ok {
		log.step("no WS-Addressing To in SOAP header, trying destination headers")
		target, ok = s.resolver.FromHeaders(req.Header, req.Path, req.RawQuery)
	}
	if !ok {
		return nil, model.NewProxyError(model.NoDestination, msgNoDestinationSOAP, nil)
	}
	if err := target.Validate(); err != nil {
		pe := model.NewProxyError(model.NoDestination, "invalid destination", err)
		pe.Destination = target.URL
		return nil, pe
	}
	s.resolved(log, target)

	removed := env.Sanitize(rulesFor(settings))
	for _, r := range removed {
		log.step("removed SOAP header element", "rule", string(r.Rule), "element", r.Local, "namespace", r.NamespaceURI)
		if s.metrics != nil {
			s.metrics.SanitizedElements.WithLabelValues(string(r.Rule)).Inc()
		}
	}

	body := env.Bytes()
	log.detail("outbound request", "destination", target.URL, "removed", len(removed), "body", string(body))

	return s.forward(req, log, settings, target, http.MethodPost, body)
}

// ProxyWSDL forwards a service description request. The destination comes
// from the destination headers only; there is no envelope to inspect.
func (s *ProxyService) ProxyWSDL(req *model.InboundRequest) (*model.OutboundResult, error) {
	settings := s.store.Load()
	log := s.newRequestLog(req, settings)

	log.step("processing WSDL request", "uri", req.URI())

	target, ok := s.resolver.FromHeaders(req.Header, req.Path, req.RawQuery)
	if !ok {
		return nil, model.NewProxyError(model.NoDestination, msgNoDestinationWSDL, nil)
	}
	if err := target.Validate(); err != nil {
		pe := model.NewProxyError(model.NoDestination, "invalid destination", err)
		pe.Destination = target.URL
		return nil, pe
	}
	s.resolved(log, target)

	return s.forward(req, log, settings, target, http.MethodGet, nil)
}

func (s *ProxyService) forward(
	req *model.InboundRequest,
	log requestLog,
	settings config.ProxySettings,
	target model.DestinationTarget,
	method string,
	body []byte,
) (*model.OutboundResult, error) {
	header, decisions := FilterHeaders(req.Header, settings.AllowRestrictedHeaders)
	for _, d := range decisions {
		if d.Forwarded {
			log.step("allowing restricted header", "header", d.Name)
		} else {
			log.step("skipping restricted header", "header", d.Name)
		}
	}

	ctx := req.Ctx
	if ctx == nil {
		ctx = context.Background()
	}
	res, err := s.forwarder.Forward(ctx, &model.OutboundRequest{
		Method:         method,
		URL:            target.URL,
		Header:         header,
		Body:           body,
		ConnectTimeout: settings.ConnectTimeout(),
		Timeout:        settings.SocketTimeout(),
	})
	if err != nil {
		var pe *model.ProxyError
		if !errors.As(err, &pe) {
			pe = model.NewProxyError(model.TransportFailure, "forward request", err)
		}
		pe.Destination = target.URL
		return nil, pe
	}

	if res.UpstreamError() {
		log.step("destination returned error status", "destination", target.URL, "status", res.StatusCode)
	} else {
		log.step("destination responded", "destination", target.URL, "status", res.StatusCode)
	}
	log.detail("destination response", "headers", res.Header, "body", string(res.Body))
	return res, nil
}

func (s *ProxyService) resolved(log requestLog, target model.DestinationTarget) {
	log.step("destination resolved", "destination", target.URL, "source", string(target.Source))
	if s.metrics != nil {
		s.metrics.DestinationsResolved.WithLabelValues(string(target.Source)).Inc()
	}
}

func rulesFor(settings config.ProxySettings) soap.Rules {
	return soap.Rules{
		CoordinationContext: settings.RemoveCoordinationContext,
		WSAT:                settings.RemoveWSATElements,
		Transaction:         settings.RemoveTransactionElements,
	}
}

// requestLog emits pipeline steps at info level when detailed logging is
// on, and at debug level otherwise. Headers and bodies are logged only in
// detailed mode.
type requestLog struct {
	logger   *slog.Logger
	detailed bool
}

func (s *ProxyService) newRequestLog(req *model.InboundRequest, settings config.ProxySettings) requestLog {
	logger := s.logger
	if req.RequestID != "" {
		logger = logger.With("request_id", req.RequestID)
	}
	return requestLog{logger: logger, detailed: settings.DetailedLogging}
}

func (l requestLog) step(msg string, args ...any) {
	if l.detailed {
		l.logger.Info(msg, args...)
		return
	}
	l.logger.Debug(msg, args...)
}

func (l requestLog) detail(msg string, args ...any) {
	if l.detailed {
		l.logger.Info(msg, args...)
	}
}
