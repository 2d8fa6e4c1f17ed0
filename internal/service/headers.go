package service

import (
	"net/http"
	"strings"
)

// droppedHeaders are never copied onto the outbound request; the client
// computes them for the rewritten message.
var droppedHeaders = map[string]bool{
	"host":              true,
	"content-length":    true,
	"transfer-encoding": true,
}

// restrictedHeaders are hop-by-hop headers forwarded only when
// allow_restricted_headers is set.
var restrictedHeaders = map[string]bool{
	"connection":          true,
	"upgrade":             true,
	"proxy-connection":    true,
	"proxy-authenticate":  true,
	"proxy-authorization": true,
	"te":                  true,
	"trailers":            true,
	"expect":              true,
}

// RestrictedHeaderNames returns the restricted header names in a stable order.
func RestrictedHeaderNames() []string {
	return []string{"connection", "upgrade", "proxy-connection", "proxy-authenticate", "proxy-authorization", "te", "trailers", "expect"}
}

// HeaderDecision records what the policy did with a restricted header.
type HeaderDecision struct {
	Name      string
	Forwarded bool
}

// FilterHeaders returns the inbound headers to copy onto the outbound
// request, with every value of multi-valued headers preserved. Restricted
// headers seen along the way are reported for logging.
func FilterHeaders(src http.Header, allowRestricted bool) (http.Header, []HeaderDecision) {
	dst := make(http.Header, len(src))
	var decisions []HeaderDecision

	for name, vals := range src {
		lower := strings.ToLower(name)
		if droppedHeaders[lower] || strings.HasPrefix(lower, destinationHeaderPrefix) {
			continue
		}
		if restrictedHeaders[lower] {
			decisions = append(decisions, HeaderDecision{Name: name, Forwarded: allowRestricted})
			if !allowRestricted {
				continue
			}
		}
		dst[name] = append([]string(nil), vals...)
	}
	return dst, decisions
}
