// Package soap parses SOAP envelopes and edits their headers.
//
// Envelopes are matched as an etree document but written from the raw input.
// Removing a header entry cuts its byte range out; every other byte, the
// body included, leaves as it arrived.
package soap

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/beevik/etree"
)

// Envelope namespaces accepted by Parse.
const (
	NamespaceSOAP11 = "http://schemas.xmlsoap.org/soap/envelope/"
	NamespaceSOAP12 = "http://www.w3.org/2003/05/soap-envelope"
)

// ErrMalformed is returned when the input is not a SOAP envelope.
var ErrMalformed = errors.New("malformed SOAP message")

// Envelope is a parsed SOAP message. Header may be absent; Body never is.
type Envelope struct {
	raw     []byte
	header  *etree.Element
	spans   map[*etree.Element]span
	removed []span
}

// span is a half-open byte range of the raw input.
type span struct {
	start, end int64
}

// HeaderEntry is one immediate child element of the SOAP header.
type HeaderEntry struct {
	Local        string
	Prefix       string
	NamespaceURI string
	Text         string // concatenated text content, untrimmed

	el *etree.Element
}

// Parse reads a SOAP 1.1 or 1.2 envelope.
func Parse(data []byte) (*Envelope, error) {
	doc := etree.NewDocument()
	doc.ReadSettings.PreserveCData = true
	if err := doc.ReadFromBytes(data); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	root := doc.Root()
	if root == nil {
		return nil, fmt.Errorf("%w: no root element", ErrMalformed)
	}
	if root.Tag != "Envelope" || !isEnvelopeNamespace(root.NamespaceURI()) {
		return nil, fmt.Errorf("%w: root element is %s, want SOAP Envelope", ErrMalformed, describe(root))
	}

	env := &Envelope{raw: data}
	headerIndex, hasBody := -1, false
	for i, child := range root.ChildElements() {
		if !isEnvelopeNamespace(child.NamespaceURI()) {
			continue
		}
		switch child.Tag {
		case "Header":
			if env.header != nil || hasBody {
				return nil, fmt.Errorf("%w: unexpected Header element", ErrMalformed)
			}
			env.header, headerIndex = child, i
		case "Body":
			if hasBody {
				return nil, fmt.Errorf("%w: more than one Body element", ErrMalformed)
			}
			hasBody = true
		}
	}
	if !hasBody {
		return nil, fmt.Errorf("%w: missing Body element", ErrMalformed)
	}

	if env.header != nil {
		spans, err := entrySpans(data, headerIndex)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		entries := env.header.ChildElements()
		if len(spans) != len(entries) {
			return nil, fmt.Errorf("%w: header has %d entries, located %d", ErrMalformed, len(entries), len(spans))
		}
		env.spans = make(map[*etree.Element]span, len(entries))
		for i, el := range entries {
			env.spans[el] = spans[i]
		}
	}
	return env, nil
}

// entrySpans returns the byte range of each element child of the root's
// element child at position headerIndex, in document order. The decoder is
// configured like etree's own so both passes agree on the input.
func entrySpans(data []byte, headerIndex int) ([]span, error) {
	dec := xml.NewDecoder(bytes.NewReader(data))
	dec.CharsetReader = func(_ string, r io.Reader) (io.Reader, error) { return r, nil }

	var (
		spans     []span
		depth     int
		rootChild = -1
		start     int64
	)
	for {
		offset := dec.InputOffset()
		tok, err := dec.RawToken()
		if err == io.EOF {
			return nil, errors.New("header not found")
		}
		if err != nil {
			return nil, err
		}

		inHeader := rootChild == headerIndex
		switch tok.(type) {
		case xml.StartElement:
			depth++
			switch {
			case depth == 2:
				rootChild++
			case depth == 3 && inHeader:
				start = offset
			}
		case xml.EndElement:
			switch {
			case depth == 3 && inHeader:
				spans = append(spans, span{start: start, end: dec.InputOffset()})
			case depth == 2 && inHeader:
				return spans, nil
			}
			depth--
		}
	}
}

// HeaderEntries returns the header's immediate child elements in document order.
func (e *Envelope) HeaderEntries() []HeaderEntry {
	if e.header == nil {
		return nil
	}
	children := e.header.ChildElements()
	entries := make([]HeaderEntry, 0, len(children))
	for _, child := range children {
		entries = append(entries, HeaderEntry{
			Local:        child.Tag,
			Prefix:       child.Space,
			NamespaceURI: child.NamespaceURI(),
			Text:         textContent(child),
			el:           child,
		})
	}
	return entries
}

// Bytes returns the envelope as received, minus the header entries removed
// by Sanitize.
func (e *Envelope) Bytes() []byte {
	if len(e.removed) == 0 {
		return e.raw
	}
	out := make([]byte, 0, len(e.raw))
	var pos int64
	for _, sp := range e.removed {
		out = append(out, e.raw[pos:sp.start]...)
		pos = sp.end
	}
	return append(out, e.raw[pos:]...)
}

func isEnvelopeNamespace(uri string) bool {
	return uri == NamespaceSOAP11 || uri == NamespaceSOAP12
}

func describe(el *etree.Element) string {
	if ns := el.NamespaceURI(); ns != "" {
		return fmt.Sprintf("{%s}%s", ns, el.Tag)
	}
	return el.Tag
}

// textContent concatenates all character data below el.
func textContent(el *etree.Element) string {
	var sb strings.Builder
	var walk func(*etree.Element)
	walk = func(e *etree.Element) {
		for _, tok := range e.Child {
			switch t := tok.(type) {
			case *etree.CharData:
				sb.WriteString(t.Data)
			case *etree.Element:
				walk(t)
			}
		}
	}
	walk(el)
	return sb.String()
}
