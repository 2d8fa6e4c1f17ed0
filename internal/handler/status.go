package handler

import (
	"bytes"
	"html/template"
	"net/http"

	"github.com/labstack/echo/v4"

	"soap-proxy-go/internal/config"
	"soap-proxy-go/internal/service"
)

var statusTemplate = template.Must(template.New("status").Parse(`<!DOCTYPE html>
<html>
<head><title>SOAP Proxy</title></head>
<body>
<h1>SOAP Proxy is running</h1>
<p>Version: {{.Version}}</p>

<h2>Configuration</h2>
<table>
<tr><td>Remove CoordinationContext</td><td>{{.Settings.RemoveCoordinationContext}}</td></tr>
<tr><td>Remove WS-AT elements</td><td>{{.Settings.RemoveWSATElements}}</td></tr>
<tr><td>Remove transaction elements</td><td>{{.Settings.RemoveTransactionElements}}</td></tr>
<tr><td>Allow restricted headers</td><td>{{.Settings.AllowRestrictedHeaders}}</td></tr>
<tr><td>Detailed logging</td><td>{{.Settings.DetailedLogging}}</td></tr>
<tr><td>Connect timeout (ms)</td><td>{{.Settings.ConnectTimeoutMs}}</td></tr>
<tr><td>Socket timeout (ms)</td><td>{{.Settings.SocketTimeoutMs}}</td></tr>
</table>

<h2>Usage</h2>
<p>POST SOAP messages to this endpoint. The destination is taken from the
WS-Addressing To header of the envelope. When it is missing, send one of:</p>
<ul>
<li><code>{{.HeaderURL}}</code>: full destination base URL, or</li>
<li><code>{{.HeaderHost}}</code>, <code>{{.HeaderPort}}</code> and <code>{{.HeaderProtocol}}</code></li>
</ul>
<p>GET requests with <code>?wsdl</code> are forwarded using the destination headers.</p>
<p>Restricted headers{{if not .Settings.AllowRestrictedHeaders}} (not forwarded){{end}}:
{{range $i, $h := .Restricted}}{{if $i}}, {{end}}<code>{{$h}}</code>{{end}}</p>
<p>Request: <code>{{.Method}} {{.URI}}</code></p>
</body>
</html>
`))

type statusData struct {
	Version        Version
	Settings       config.ProxySettings
	Restricted     []string
	HeaderURL      string
	HeaderHost     string
	HeaderPort     string
	HeaderProtocol string
	Method         string
	URI            string
}

// StatusPage renders the HTML page shown for plain GET requests.
type StatusPage struct {
	store   *config.Store
	version Version
}

// NewStatusPage creates a StatusPage.
func NewStatusPage(store *config.Store, v Version) *StatusPage {
	return &StatusPage{store: store, version: v}
}

// Render writes the status page with the current settings.
func (p *StatusPage) Render(c echo.Context) error {
	req := c.Request()
	data := statusData{
		Version:        p.version,
		Settings:       p.store.Load(),
		Restricted:     service.RestrictedHeaderNames(),
		HeaderURL:      service.HeaderDestinationURL,
		HeaderHost:     service.HeaderDestinationHost,
		HeaderPort:     service.HeaderDestinationPort,
		HeaderProtocol: service.HeaderDestinationProtocol,
		Method:         req.Method,
		URI:            req.URL.RequestURI(),
	}

	var buf bytes.Buffer
	if err := statusTemplate.Execute(&buf, data); err != nil {
		return err
	}
	return c.HTMLBlob(http.StatusOK, buf.Bytes())
}
