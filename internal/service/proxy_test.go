package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"soap-proxy-go/internal/client"
	"soap-proxy-go/internal/config"
	"soap-proxy-go/internal/metrics"
	"soap-proxy-go/internal/model"
)

const transferEnvelopeTmpl = `<soapenv:Envelope xmlns:soapenv="http://schemas.xmlsoap.org/soap/envelope/" ` +
	`xmlns:wsa="http://www.w3.org/2005/08/addressing" ` +
	`xmlns:wscoor="http://docs.oasis-open.org/ws-tx/wscoor/2006/06">` +
	`<soapenv:Header>` +
	`<wsa:To>%s</wsa:To>` +
	`<wsa:Action>transfer</wsa:Action>` +
	`<wscoor:CoordinationContext><wscoor:Identifier>urn:uuid:0f1e</wscoor:Identifier></wscoor:CoordinationContext>` +
	`</soapenv:Header>` +
	`<soapenv:Body><ns2:transfer xmlns:ns2="http://bank.example/"><amount>10</amount></ns2:transfer></soapenv:Body>` +
	`</soapenv:Envelope>`

const noAddressingEnvelope = `<soapenv:Envelope xmlns:soapenv="http://schemas.xmlsoap.org/soap/envelope/">` +
	`<soapenv:Body><ns2:balance xmlns:ns2="http://bank.example/"/></soapenv:Body>` +
	`</soapenv:Envelope>`

func transferEnvelope(to string) []byte {
	return []byte(fmt.Sprintf(transferEnvelopeTmpl, to))
}

type fakeForwarder struct {
	got   []*model.OutboundRequest
	res   *model.OutboundResult
	err   error
	calls int
}

func (f *fakeForwarder) Forward(_ context.Context, out *model.OutboundRequest) (*model.OutboundResult, error) {
	f.calls++
	f.got = append(f.got, out)
	if f.err != nil {
		return nil, f.err
	}
	if f.res != nil {
		return f.res, nil
	}
	return &model.OutboundResult{StatusCode: http.StatusOK, Header: http.Header{}, Body: []byte("<ok/>")}, nil
}

func (f *fakeForwarder) last() *model.OutboundRequest {
	return f.got[len(f.got)-1]
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestService(settings config.ProxySettings, f Forwarder) (*ProxyService, *config.Store, *metrics.Metrics) {
	cfg := &config.Config{Proxy: settings}
	store := config.NewStore(cfg, discardLogger())
	m := metrics.New()
	return NewProxyService(f, store, cfg, m, discardLogger()), store, m
}

func inbound(method, path, rawQuery string, body []byte) *model.InboundRequest {
	return &model.InboundRequest{
		Ctx:       context.Background(),
		RequestID: "req-1",
		Method:    method,
		Path:      path,
		RawQuery:  rawQuery,
		Header:    http.Header{},
		Body:      body,
	}
}

func counterValue(t *testing.T, m *metrics.Metrics, name, label, value string) float64 {
	t.Helper()
	families, err := m.Registry.Gather()
	require.NoError(t, err)
	for _, f := range families {
		if f.GetName() != name {
			continue
		}
		for _, metric := range f.GetMetric() {
			for _, lp := range metric.GetLabel() {
				if lp.GetName() == label && lp.GetValue() == value {
					return metric.GetCounter().GetValue()
				}
			}
		}
	}
	return 0
}

func TestProxySOAP_ForwardsToAddressingTo(t *testing.T) {
	fwd := &fakeForwarder{}
	s, _, m := newTestService(config.DefaultProxySettings(), fwd)

	req := inbound(http.MethodPost, "/", "", transferEnvelope("https://localhost:9444/TransferService"))
	req.Header.Set("SOAPAction", `"transfer"`)

	res, err := s.ProxySOAP(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, res.StatusCode)

	require.Equal(t, 1, fwd.calls)
	out := fwd.last()
	assert.Equal(t, http.MethodPost, out.Method)
	assert.Equal(t, "https://localhost:9444/TransferService", out.URL)
	assert.Equal(t, 10*time.Second, out.ConnectTimeout)
	assert.Equal(t, 30*time.Second, out.Timeout)
	assert.Equal(t, `"transfer"`, out.Header.Get("SOAPAction"))

	body := string(out.Body)
	assert.NotContains(t, body, "CoordinationContext")
	assert.Contains(t, body, "<wsa:Action>transfer</wsa:Action>")
	assert.Contains(t, body, `<ns2:transfer xmlns:ns2="http://bank.example/"><amount>10</amount></ns2:transfer>`)

	assert.Equal(t, 1.0, counterValue(t, m, "soap_proxy_sanitized_elements_total", "rule", "coordination-context"))
	assert.Equal(t, 1.0, counterValue(t, m, "soap_proxy_destination_resolved_total", "source", "soap-to"))
}

func TestProxySOAP_BodyForwardedByteIdentical(t *testing.T) {
	fwd := &fakeForwarder{}
	s, _, _ := newTestService(config.DefaultProxySettings(), fwd)

	body := `<soapenv:Body><ns2:transfer xmlns:ns2='http://bank.example/' id = '7'>` +
		`<memo></memo><x>caf&#233; &amp; cr&#xE8;me</x><![CDATA[a<b]]></ns2:transfer></soapenv:Body>`
	data := `<soapenv:Envelope xmlns:soapenv='http://schemas.xmlsoap.org/soap/envelope/'>` +
		`<soapenv:Header>` +
		`<wsa:To xmlns:wsa='http://www.w3.org/2005/08/addressing'>http://bank.example/Svc</wsa:To>` +
		`<wscoor:CoordinationContext xmlns:wscoor='http://docs.oasis-open.org/ws-tx/wscoor/2006/06'/>` +
		`</soapenv:Header>` + body + `</soapenv:Envelope>`

	_, err := s.ProxySOAP(inbound(http.MethodPost, "/", "", []byte(data)))
	require.NoError(t, err)

	out := string(fwd.last().Body)
	assert.Contains(t, out, body)
	assert.NotContains(t, out, "CoordinationContext")
	assert.Equal(t, strings.Replace(data,
		`<wscoor:CoordinationContext xmlns:wscoor='http://docs.oasis-open.org/ws-tx/wscoor/2006/06'/>`, "", 1), out)
}

func TestProxySOAP_RemovalDisabledKeepsHeader(t *testing.T) {
	fwd := &fakeForwarder{}
	settings := config.DefaultProxySettings()
	settings.RemoveCoordinationContext = false
	settings.RemoveWSATElements = false
	settings.RemoveTransactionElements = false
	s, _, _ := newTestService(settings, fwd)

	_, err := s.ProxySOAP(inbound(http.MethodPost, "/", "", transferEnvelope("http://svc.local/A")))
	require.NoError(t, err)
	assert.Contains(t, string(fwd.last().Body), "CoordinationContext")
}

func TestProxySOAP_AppendsInboundQuery(t *testing.T) {
	fwd := &fakeForwarder{}
	s, _, _ := newTestService(config.DefaultProxySettings(), fwd)

	_, err := s.ProxySOAP(inbound(http.MethodPost, "/", "trace=1", transferEnvelope("http://svc.local/A?x=y")))
	require.NoError(t, err)
	assert.Equal(t, "http://svc.local/A?x=y&trace=1", fwd.last().URL)
}

func TestProxySOAP_FallsBackToDestinationHeaders(t *testing.T) {
	fwd := &fakeForwarder{}
	s, _, m := newTestService(config.DefaultProxySettings(), fwd)

	req := inbound(http.MethodPost, "/Accounts", "", []byte(noAddressingEnvelope))
	req.Header.Set(HeaderDestinationURL, "https://localhost:9444/")

	_, err := s.ProxySOAP(req)
	require.NoError(t, err)

	out := fwd.last()
	assert.Equal(t, "https://localhost:9444/Accounts", out.URL)
	assert.Empty(t, out.Header.Get(HeaderDestinationURL))
	assert.Equal(t, 1.0, counterValue(t, m, "soap_proxy_destination_resolved_total", "source", "url-header"))
}

func TestProxySOAP_AddressingToWinsOverHeaders(t *testing.T) {
	fwd := &fakeForwarder{}
	s, _, _ := newTestService(config.DefaultProxySettings(), fwd)

	req := inbound(http.MethodPost, "/", "", transferEnvelope("http://from-envelope.local/A"))
	req.Header.Set(HeaderDestinationURL, "http://from-header.local")

	_, err := s.ProxySOAP(req)
	require.NoError(t, err)
	assert.Equal(t, "http://from-envelope.local/A", fwd.last().URL)
}

func TestProperty_AddressingToWinsOverAnyHeaders(t *testing.T) {
	host := rapid.StringMatching(`[a-z]{1,8}\.local`)

	rapid.Check(t, func(rt *rapid.T) {
		fwd := &fakeForwarder{}
		s, _, _ := newTestService(config.DefaultProxySettings(), fwd)

		to := "http://" + host.Draw(rt, "to") + "/Svc"
		req := inbound(http.MethodPost, "/Other", "", transferEnvelope(to))
		if rapid.Bool().Draw(rt, "urlHeader") {
			req.Header.Set(HeaderDestinationURL, "http://"+host.Draw(rt, "header")+"/")
		}
		if rapid.Bool().Draw(rt, "components") {
			req.Header.Set(HeaderDestinationHost, host.Draw(rt, "component"))
			req.Header.Set(HeaderDestinationPort, "8080")
			req.Header.Set(HeaderDestinationProtocol, "http")
		}

		if _, err := s.ProxySOAP(req); err != nil {
			rt.Fatalf("ProxySOAP: %v", err)
		}
		if got := fwd.last().URL; got != to {
			rt.Fatalf("forwarded to %q, want addressing To %q", got, to)
		}
	})
}

func TestProxySOAP_Failures(t *testing.T) {
	tests := []struct {
		name      string
		body      string
		header    map[string]string
		fwdErr    error
		wantKind  model.ErrorKind
		wantDest  string
		wantCalls int
	}{
		{
			name:     "not xml",
			body:     "this is not xml",
			wantKind: model.MalformedSoapMessage,
		},
		{
			name:     "xml but not an envelope",
			body:     "<order><id>1</id></order>",
			wantKind: model.MalformedSoapMessage,
		},
		{
			name:     "no destination",
			body:     noAddressingEnvelope,
			wantKind: model.NoDestination,
		},
		{
			name:     "unsupported scheme",
			body:     string(transferEnvelope("ftp://svc.local/A")),
			wantKind: model.NoDestination,
			wantDest: "ftp://svc.local/A",
		},
		{
			name:      "transport failure",
			body:      string(transferEnvelope("http://svc.local/A")),
			fwdErr:    model.NewProxyError(model.TransportFailure, "send request", errors.New("connection refused")),
			wantKind:  model.TransportFailure,
			wantDest:  "http://svc.local/A",
			wantCalls: 1,
		},
		{
			name:      "plain forwarder error wrapped",
			body:      string(transferEnvelope("http://svc.local/A")),
			fwdErr:    errors.New("boom"),
			wantKind:  model.TransportFailure,
			wantDest:  "http://svc.local/A",
			wantCalls: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fwd := &fakeForwarder{err: tt.fwdErr}
			s, _, _ := newTestService(config.DefaultProxySettings(), fwd)

			req := inbound(http.MethodPost, "/", "", []byte(tt.body))
			for k, v := range tt.header {
				req.Header.Set(k, v)
			}

			res, err := s.ProxySOAP(req)
			require.Error(t, err)
			assert.Nil(t, res)

			var pe *model.ProxyError
			require.ErrorAs(t, err, &pe)
			assert.Equal(t, tt.wantKind, pe.Kind)
			assert.Equal(t, tt.wantDest, pe.Destination)
			assert.Equal(t, tt.wantCalls, fwd.calls)
		})
	}
}

func TestProxySOAP_NoDestinationMessageNamesHeaders(t *testing.T) {
	s, _, _ := newTestService(config.DefaultProxySettings(), &fakeForwarder{})

	_, err := s.ProxySOAP(inbound(http.MethodPost, "/", "", []byte(noAddressingEnvelope)))
	var pe *model.ProxyError
	require.ErrorAs(t, err, &pe)
	assert.Contains(t, pe.Message, HeaderDestinationURL)
	assert.Contains(t, pe.Message, "SOAP To")
}

func TestProxySOAP_UpstreamErrorRelayed(t *testing.T) {
	fault := []byte(`<soapenv:Fault/>`)
	fwd := &fakeForwarder{res: &model.OutboundResult{StatusCode: http.StatusInternalServerError, Header: http.Header{}, Body: fault}}
	s, _, _ := newTestService(config.DefaultProxySettings(), fwd)

	res, err := s.ProxySOAP(inbound(http.MethodPost, "/", "", transferEnvelope("http://svc.local/A")))
	require.NoError(t, err)
	assert.Equal(t, http.StatusInternalServerError, res.StatusCode)
	assert.Equal(t, fault, res.Body)
}

func TestProxySOAP_RestrictedHeaderPolicy(t *testing.T) {
	for _, allow := range []bool{false, true} {
		t.Run(fmt.Sprintf("allow=%v", allow), func(t *testing.T) {
			fwd := &fakeForwarder{}
			settings := config.DefaultProxySettings()
			settings.AllowRestrictedHeaders = allow
			s, _, _ := newTestService(settings, fwd)

			req := inbound(http.MethodPost, "/", "", transferEnvelope("http://svc.local/A"))
			req.Header.Set("Upgrade", "h2c")

			_, err := s.ProxySOAP(req)
			require.NoError(t, err)
			assert.Equal(t, allow, fwd.last().Header.Get("Upgrade") == "h2c")
		})
	}
}

func TestProxySOAP_UsesSettingsCurrentAtRequestStart(t *testing.T) {
	fwd := &fakeForwarder{}
	s, store, _ := newTestService(config.DefaultProxySettings(), fwd)

	_, err := s.ProxySOAP(inbound(http.MethodPost, "/", "", transferEnvelope("http://svc.local/A")))
	require.NoError(t, err)

	_, err = store.Update(func(p config.ProxySettings) config.ProxySettings {
		p.SocketTimeoutMs = 1500
		p.RemoveCoordinationContext = false
		p.RemoveTransactionElements = false
		p.DetailedLogging = false
		return p
	})
	require.NoError(t, err)

	_, err = s.ProxySOAP(inbound(http.MethodPost, "/", "", transferEnvelope("http://svc.local/A")))
	require.NoError(t, err)

	require.Len(t, fwd.got, 2)
	assert.Equal(t, 30*time.Second, fwd.got[0].Timeout)
	assert.NotContains(t, string(fwd.got[0].Body), "CoordinationContext")
	assert.Equal(t, 1500*time.Millisecond, fwd.got[1].Timeout)
	assert.Contains(t, string(fwd.got[1].Body), "CoordinationContext")
}

func TestProxyWSDL(t *testing.T) {
	fwd := &fakeForwarder{res: &model.OutboundResult{StatusCode: http.StatusOK, Header: http.Header{}, Body: []byte("<definitions/>")}}
	s, _, _ := newTestService(config.DefaultProxySettings(), fwd)

	req := inbound(http.MethodGet, "/", "wsdl", nil)
	req.Header.Set(HeaderDestinationURL, "https://localhost:9444/TransferService")

	res, err := s.ProxyWSDL(req)
	require.NoError(t, err)
	assert.Equal(t, "<definitions/>", string(res.Body))

	out := fwd.last()
	assert.Equal(t, http.MethodGet, out.Method)
	assert.Equal(t, "https://localhost:9444/TransferService?wsdl", out.URL)
	assert.Empty(t, out.Body)
}

func TestProxyWSDL_NoDestination(t *testing.T) {
	fwd := &fakeForwarder{}
	s, _, _ := newTestService(config.DefaultProxySettings(), fwd)

	_, err := s.ProxyWSDL(inbound(http.MethodGet, "/Svc", "wsdl", nil))
	assert.Equal(t, model.NoDestination, model.KindOf(err))
	assert.Zero(t, fwd.calls)
}

func TestIsWSDLRequest(t *testing.T) {
	tests := []struct {
		query string
		want  bool
	}{
		{"wsdl", true},
		{"WSDL", true},
		{"xsd=1&wsdl", true},
		{"singleWsdl", true},
		{"", false},
		{"id=7", false},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			assert.Equal(t, tt.want, IsWSDLRequest(tt.query))
		})
	}
}

func TestProxySOAP_EndToEndWithForwardingClient(t *testing.T) {
	var gotBody, gotCT, gotPath string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		gotCT = r.Header.Get("Content-Type")
		gotPath = r.URL.Path
		w.Header().Set("Content-Type", "text/xml")
		_, _ = w.Write([]byte(`<soapenv:Envelope xmlns:soapenv="http://schemas.xmlsoap.org/soap/envelope/"><soapenv:Body><ok/></soapenv:Body></soapenv:Envelope>`))
	}))
	defer upstream.Close()

	cfg := &config.Config{
		Proxy:    config.DefaultProxySettings(),
		Upstream: config.UpstreamConfig{IdleConnections: 2, ResponseMaxBytes: 1 << 20},
	}
	fc := client.NewForwardingClient(cfg, discardLogger(), nil)
	s := NewProxyService(fc, config.NewStore(cfg, discardLogger()), cfg, nil, discardLogger())

	res, err := s.ProxySOAP(inbound(http.MethodPost, "/", "", transferEnvelope(upstream.URL+"/TransferService")))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Contains(t, string(res.Body), "<ok/>")

	assert.Equal(t, "/TransferService", gotPath)
	assert.Equal(t, client.ContentTypeSOAP, gotCT)
	assert.False(t, strings.Contains(gotBody, "CoordinationContext"), "CoordinationContext reached destination")
	assert.Contains(t, gotBody, "<amount>10</amount>")
}
