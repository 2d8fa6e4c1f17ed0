// Package model defines shared types for the proxy.
package model

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// InboundRequest represents a client request received by the proxy.
type InboundRequest struct {
	Ctx       context.Context
	RequestID string
	Method    string
	Path      string
	RawQuery  string
	Header    http.Header
	Body      []byte
}

// URI returns the request path with its query string, as seen by the proxy.
func (r *InboundRequest) URI() string {
	if r.RawQuery == "" {
		return r.Path
	}
	return r.Path + "?" + r.RawQuery
}

// DestinationSource records where a destination was taken from.
type DestinationSource string

const (
	SourceAddressingTo     DestinationSource = "soap-to"
	SourceURLHeader        DestinationSource = "url-header"
	SourceComponentHeaders DestinationSource = "component-headers"
)

// DestinationTarget is the resolved forwarding target.
type DestinationTarget struct {
	URL    string
	Source DestinationSource
}

// Validate reports whether the target is an absolute http(s) URL with a host.
func (d DestinationTarget) Validate() error {
	u, err := url.Parse(d.URL)
	if err != nil {
		return fmt.Errorf("parse destination %q: %w", d.URL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("destination %q must use http or https", d.URL)
	}
	if u.Host == "" {
		return fmt.Errorf("destination %q has no host", d.URL)
	}
	return nil
}

// OutboundRequest is the rewritten request sent to the destination.
type OutboundRequest struct {
	Method string
	URL    string
	Header http.Header
	Body   []byte

	// ConnectTimeout bounds connection establishment; Timeout bounds the
	// whole exchange including reading the response body.
	ConnectTimeout time.Duration
	Timeout        time.Duration
}

// OutboundResult is whatever the destination answered, including 4xx/5xx.
type OutboundResult struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// UpstreamError reports whether the destination answered with a non-2xx status.
// Such results are relayed unchanged and are not failures of the proxy.
func (r *OutboundResult) UpstreamError() bool {
	return r.StatusCode < 200 || r.StatusCode > 299
}
