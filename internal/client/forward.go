// Package client provides the outbound HTTP client that forwards rewritten
// requests to their destination.
package client

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"soap-proxy-go/internal/config"
	"soap-proxy-go/internal/metrics"
	"soap-proxy-go/internal/model"
)

// ContentTypeSOAP is sent on every forwarded POST.
const ContentTypeSOAP = "text/xml; charset=UTF-8"

// ErrResponseTooLarge is returned when a destination answers with more than
// upstream.response_max_bytes.
var ErrResponseTooLarge = errors.New("response body exceeds configured limit")

type connectTimeoutKey struct{}

// ForwardingClient sends rewritten requests to their destination.
type ForwardingClient struct {
	httpClient       *http.Client
	logger           *slog.Logger
	metrics          *metrics.Metrics
	responseMaxBytes int64
}

// NewForwardingClient creates a ForwardingClient. Timeouts are taken from
// each OutboundRequest, since they may change between requests.
// The metrics parameter is optional; pass nil to disable upstream metrics recording.
func NewForwardingClient(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *ForwardingClient {
	transport := &http.Transport{
		MaxIdleConns:        cfg.Upstream.IdleConnections,
		MaxIdleConnsPerHost: cfg.Upstream.IdleConnections,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
		DialContext:         boundedDial((&net.Dialer{KeepAlive: 30 * time.Second}).DialContext),
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: cfg.Upstream.InsecureSkipVerify, //nolint:gosec // opt-in for self-signed test endpoints
		},
	}

	return &ForwardingClient{
		httpClient: &http.Client{
			Transport: transport,
			// The destination's answer is relayed as-is, redirects included.
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		logger:           logger.With("component", "forwarding_client"),
		metrics:          m,
		responseMaxBytes: cfg.Upstream.ResponseMaxBytes,
	}
}

type dialFunc func(ctx context.Context, network, addr string) (net.Conn, error)

// boundedDial bounds connection establishment by the connect timeout carried
// on the request context. An established connection outlives the deadline.
func boundedDial(dial dialFunc) dialFunc {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		if t, ok := ctx.Value(connectTimeoutKey{}).(time.Duration); ok && t > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, t)
			defer cancel()
		}
		return dial(ctx, network, addr)
	}
}

// Forward executes out and returns whatever the destination answered,
// including 4xx/5xx statuses. Only transport faults are returned as errors,
// always as a *model.ProxyError of kind TransportFailure. Canceling ctx
// (e.g. the client disconnected) aborts the outbound call.
func (c *ForwardingClient) Forward(ctx context.Context, out *model.OutboundRequest) (*model.OutboundResult, error) {
	if out.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, out.Timeout)
		defer cancel()
	}
	if out.ConnectTimeout > 0 {
		ctx = context.WithValue(ctx, connectTimeoutKey{}, out.ConnectTimeout)
	}

	var body io.Reader = http.NoBody
	if len(out.Body) > 0 {
		body = bytes.NewReader(out.Body)
	}
	req, err := http.NewRequestWithContext(ctx, out.Method, out.URL, body)
	if err != nil {
		return nil, model.NewProxyError(model.TransportFailure, "build outbound request", err)
	}
	req.Header = out.Header.Clone()
	if req.Header == nil {
		req.Header = make(http.Header)
	}
	if out.Method == http.MethodPost {
		req.Header.Set("Content-Type", ContentTypeSOAP)
	}

	c.logger.Debug("upstream request",
		"method", req.Method,
		"host", req.URL.Host,
		"path", req.URL.Path,
	)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	method := metrics.NormalizeMethod(req.Method)
	if err != nil {
		c.observe(method, "", start)
		return nil, transportError(ctx, "send request", err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := c.readBody(resp.Body)
	c.observe(method, strconv.Itoa(resp.StatusCode), start)
	if err != nil {
		return nil, transportError(ctx, "read response", err)
	}

	return &model.OutboundResult{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       data,
	}, nil
}

func (c *ForwardingClient) readBody(r io.Reader) ([]byte, error) {
	if c.responseMaxBytes <= 0 {
		return io.ReadAll(r)
	}
	data, err := io.ReadAll(io.LimitReader(r, c.responseMaxBytes+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > c.responseMaxBytes {
		return nil, fmt.Errorf("%w (%d bytes)", ErrResponseTooLarge, c.responseMaxBytes)
	}
	return data, nil
}

func (c *ForwardingClient) observe(method, status string, start time.Time) {
	if c.metrics == nil {
		return
	}
	c.metrics.UpstreamDuration.WithLabelValues(method).Observe(time.Since(start).Seconds())
	if status != "" {
		c.metrics.UpstreamResponses.WithLabelValues(method, status).Inc()
	}
}

// transportError classifies a forwarding fault. Deadline faults, from the
// dialer or the overall wait, are flagged as timeouts.
func transportError(ctx context.Context, op string, err error) *model.ProxyError {
	pe := model.NewProxyError(model.TransportFailure, op, err)

	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded),
		errors.Is(ctx.Err(), context.DeadlineExceeded),
		errors.As(err, &netErr) && netErr.Timeout():
		pe.Timeout = true
		pe.Message = op + ": timed out"
	case errors.Is(err, context.Canceled):
		pe.Message = op + ": canceled"
	}
	return pe
}
