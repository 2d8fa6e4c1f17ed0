package service

import (
	"net/http"
	"strings"

	"soap-proxy-go/internal/config"
	"soap-proxy-go/internal/model"
	"soap-proxy-go/internal/soap"
)

// Destination override headers accepted on inbound requests.
const (
	HeaderDestinationURL      = "X-Proxy-Destination-URL"
	HeaderDestinationHost     = "X-Proxy-Destination-Host"
	HeaderDestinationPort     = "X-Proxy-Destination-Port"
	HeaderDestinationProtocol = "X-Proxy-Destination-Protocol"

	// destinationHeaderPrefix covers all of the above; such headers are never forwarded.
	destinationHeaderPrefix = "x-proxy-destination"
)

// addressingNamespaces are the WS-Addressing versions recognized by URI.
// Any namespace containing "addressing" is accepted as well.
var addressingNamespaces = []string{
	"http://www.w3.org/2005/08/addressing",
	"http://schemas.xmlsoap.org/ws/2004/08/addressing",
}

// Resolver derives the forwarding target for a request.
type Resolver struct {
	contextPath string
}

// NewResolver creates a Resolver that strips the configured context path.
func NewResolver(cfg *config.Config) *Resolver {
	return &Resolver{contextPath: cfg.Server.ContextPath}
}

// FromEnvelope returns the first top-level WS-Addressing To entry with a
// non-blank value, with rawQuery appended.
func (r *Resolver) FromEnvelope(env *soap.Envelope, rawQuery string) (model.DestinationTarget, bool) {
	if env == nil {
		return model.DestinationTarget{}, false
	}
	for _, entry := range env.HeaderEntries() {
		if entry.Local != "To" || !isAddressingNamespace(entry.NamespaceURI) {
			continue
		}
		addr := strings.TrimSpace(entry.Text)
		if addr == "" {
			continue
		}
		if rawQuery != "" {
			sep := "?"
			if strings.Contains(addr, "?") {
				sep = "&"
			}
			addr += sep + rawQuery
		}
		return model.DestinationTarget{URL: addr, Source: model.SourceAddressingTo}, true
	}
	return model.DestinationTarget{}, false
}

// FromHeaders builds the target from the destination override headers. A
// full URL header wins; otherwise host, port and protocol must all be present.
func (r *Resolver) FromHeaders(h http.Header, path, rawQuery string) (model.DestinationTarget, bool) {
	servicePath := r.servicePath(path)

	if base := strings.TrimSpace(h.Get(HeaderDestinationURL)); base != "" {
		return model.DestinationTarget{
			URL:    withQuery(joinPath(base, servicePath), rawQuery),
			Source: model.SourceURLHeader,
		}, true
	}

	host := strings.TrimSpace(h.Get(HeaderDestinationHost))
	port := strings.TrimSpace(h.Get(HeaderDestinationPort))
	protocol := strings.TrimSpace(h.Get(HeaderDestinationProtocol))
	if host == "" || port == "" || protocol == "" {
		return model.DestinationTarget{}, false
	}

	if !strings.HasPrefix(servicePath, "/") {
		servicePath = "/" + servicePath
	}
	return model.DestinationTarget{
		URL:    withQuery(protocol+"://"+host+":"+port+servicePath, rawQuery),
		Source: model.SourceComponentHeaders,
	}, true
}

// servicePath strips the proxy's context path. A bare "/" means no path.
func (r *Resolver) servicePath(path string) string {
	if r.contextPath != "" && r.contextPath != "/" {
		if path == r.contextPath || strings.HasPrefix(path, r.contextPath+"/") {
			path = path[len(r.contextPath):]
		}
	}
	if path == "/" {
		return ""
	}
	return path
}

// joinPath concatenates base and path with exactly one "/" between them.
func joinPath(base, path string) string {
	if path == "" {
		return base
	}
	baseSlash := strings.HasSuffix(base, "/")
	pathSlash := strings.HasPrefix(path, "/")
	switch {
	case baseSlash && pathSlash:
		return base + path[1:]
	case !baseSlash && !pathSlash:
		return base + "/" + path
	default:
		return base + path
	}
}

func withQuery(u, rawQuery string) string {
	if rawQuery == "" {
		return u
	}
	return u + "?" + rawQuery
}

func isAddressingNamespace(uri string) bool {
	if strings.Contains(uri, "addressing") {
		return true
	}
	for _, ns := range addressingNamespaces {
		if uri == ns {
			return true
		}
	}
	return false
}
