package httpmsg

import (
	"strconv"
	"strings"
)

// Header names this package and its consumers agree on. Names are kept
// lowercase on the wire side, but lookups are case-insensitive either way.
const (
	HeaderContentEncoding  = "content-encoding"
	HeaderAcceptEncoding   = "accept-encoding"
	HeaderContentLength    = "content-length"
	HeaderTransferEncoding = "transfer-encoding"
	HeaderConnection       = "connection"
	HeaderKeepAlive        = "keep-alive"
	HeaderProxyConnection  = "proxy-connection"
	HeaderHost             = "host"
	HeaderTrailer          = "trailer"
)

// EncodingIdentity is the no-op content coding. It must never be
// advertised in a content-encoding header.
const EncodingIdentity = "identity"

// HeaderEntry is a single name/value pair.
type HeaderEntry struct {
	Name  string
	Value string
}

// Headers is an ordered multimap of header fields. Insertion order is
// preserved and names are stored as received; lookups ignore case.
type Headers struct {
	entries []HeaderEntry
}

// Add appends a field, keeping any existing fields with the same name.
func (h *Headers) Add(name, value string) {
	h.entries = append(h.entries, HeaderEntry{Name: name, Value: value})
}

// Set replaces every field named name with a single field holding value.
// The replacement keeps the position of the first occurrence.
func (h *Headers) Set(name, value string) {
	replaced := false
	kept := h.entries[:0]
	for _, e := range h.entries {
		if strings.EqualFold(e.Name, name) {
			if !replaced {
				kept = append(kept, HeaderEntry{Name: name, Value: value})
				replaced = true
			}
			continue
		}
		kept = append(kept, e)
	}
	h.entries = kept
	if !replaced {
		h.Add(name, value)
	}
}

// Get returns the first value for name, or "" if absent.
func (h *Headers) Get(name string) string {
	for _, e := range h.entries {
		if strings.EqualFold(e.Name, name) {
			return e.Value
		}
	}
	return ""
}

// Values returns all values for name in insertion order.
func (h *Headers) Values(name string) []string {
	var vals []string
	for _, e := range h.entries {
		if strings.EqualFold(e.Name, name) {
			vals = append(vals, e.Value)
		}
	}
	return vals
}

// Del removes every field named name.
func (h *Headers) Del(name string) {
	kept := h.entries[:0]
	for _, e := range h.entries {
		if !strings.EqualFold(e.Name, name) {
			kept = append(kept, e)
		}
	}
	h.entries = kept
}

// Has reports whether at least one field named name is present.
func (h *Headers) Has(name string) bool {
	for _, e := range h.entries {
		if strings.EqualFold(e.Name, name) {
			return true
		}
	}
	return false
}

// Len returns the number of fields.
func (h *Headers) Len() int {
	return len(h.entries)
}

// Entries returns the fields in insertion order. The returned slice is
// the live backing store and must not be retained across mutations.
func (h *Headers) Entries() []HeaderEntry {
	return h.entries
}

// Clone returns a deep copy.
func (h *Headers) Clone() Headers {
	c := Headers{entries: make([]HeaderEntry, len(h.entries))}
	copy(c.entries, h.entries)
	return c
}

// ContentLength parses the content-length field. ok is false when the
// field is absent or unparseable.
func (h *Headers) ContentLength() (n int64, ok bool) {
	v := h.Get(HeaderContentLength)
	if v == "" {
		return 0, false
	}
	n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

// SetContentLength sets the content-length field to n.
func (h *Headers) SetContentLength(n int64) {
	h.Set(HeaderContentLength, strconv.FormatInt(n, 10))
}

// IsChunked reports whether transfer-encoding declares chunked framing.
func (h *Headers) IsChunked() bool {
	for _, v := range h.Values(HeaderTransferEncoding) {
		for _, tok := range strings.Split(v, ",") {
			if strings.EqualFold(strings.TrimSpace(tok), "chunked") {
				return true
			}
		}
	}
	return false
}
