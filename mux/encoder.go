package mux

import (
	"errors"
	"fmt"
	"strconv"

	"osmium/httpmsg"
)

// Usage errors on the encode path. Both are integration faults, not
// recoverable protocol conditions.
var (
	ErrUnsupportedMessage = errors.New("mux: unsupported message type")
	ErrMissingStreamID    = errors.New("mux: message has no stream id annotation")
)

// StreamEncoder translates header messages and body chunks into
// multiplexed frames. Messages must carry the x-mux-* annotation headers
// identifying their stream; body chunks are attached to the stream of
// the most recently encoded header, reflecting that one connection emits
// one outbound body at a time.
type StreamEncoder struct {
	version         int
	currentStreamID uint32
}

// NewStreamEncoder returns an encoder for the given protocol version.
func NewStreamEncoder(version int) (*StreamEncoder, error) {
	if version < MinVersion || version > MaxVersion {
		return nil, fmt.Errorf("mux: unsupported version: %d", version)
	}
	return &StreamEncoder{version: version}, nil
}

// Encode translates one outbound unit into the frames to put on the
// wire, in order.
func (e *StreamEncoder) Encode(msg httpmsg.Message) ([]Frame, error) {
	switch m := msg.(type) {
	case *httpmsg.HeaderMessage:
		if m.IsRequest() {
			f, err := e.synStream(m)
			if err != nil {
				return nil, err
			}
			return []Frame{f}, nil
		}
		// A response carrying a parent-stream association is a pushed
		// resource and opens its own unidirectional stream.
		if m.Headers.Has(HeaderAssociatedStreamID) {
			f, err := e.synStream(m)
			if err != nil {
				return nil, err
			}
			return []Frame{f}, nil
		}
		f, err := e.synReply(m)
		if err != nil {
			return nil, err
		}
		return []Frame{f}, nil

	case *httpmsg.BodyChunk:
		data := &DataFrame{StreamID: e.currentStreamID, Data: m.Data, Last: m.Final}
		if m.Final && m.Trailers.Len() > 0 {
			// Trailers travel in a HEADERS frame written before the
			// terminating data frame, so the peer merges them while the
			// stream is still open.
			trailers := &HeadersFrame{StreamID: e.currentStreamID, Headers: m.Trailers.Clone()}
			return []Frame{trailers, data}, nil
		}
		return []Frame{data}, nil

	default:
		return nil, fmt.Errorf("%w: %T", ErrUnsupportedMessage, msg)
	}
}

func (e *StreamEncoder) synStream(m *httpmsg.HeaderMessage) (*SynStreamFrame, error) {
	h := &m.Headers
	id, err := streamIDAnnotation(h)
	if err != nil {
		return nil, err
	}
	assoc, _ := strconv.ParseUint(h.Get(HeaderAssociatedStreamID), 10, 32)
	priority, _ := strconv.ParseUint(h.Get(HeaderPriority), 10, 8)
	url := h.Get(HeaderURL)
	scheme := h.Get(HeaderScheme)
	h.Del(HeaderStreamID)
	h.Del(HeaderAssociatedStreamID)
	h.Del(HeaderPriority)
	h.Del(HeaderURL)
	h.Del(HeaderScheme)
	stripHopByHop(h)

	f := &SynStreamFrame{
		StreamID:           id,
		AssociatedStreamID: uint32(assoc),
		Priority:           uint8(priority),
	}

	// Unfold the first line into header fields.
	if m.IsRequest() {
		f.Headers.Set(methodField(e.version), m.Method)
		f.Headers.Set(pathField(e.version), m.Target)
		f.Headers.Set(versionField(e.version), m.Version)
	} else {
		f.Headers.Set(statusField(e.version), strconv.Itoa(m.Status))
		f.Headers.Set(pathField(e.version), url)
		f.Headers.Set(versionField(e.version), m.Version)
		f.Unidirectional = true
	}

	if e.version >= 3 {
		// The host moves into the protocol's own host field.
		if host := h.Get(httpmsg.HeaderHost); host != "" {
			f.Headers.Set(hostField(e.version), host)
		}
		h.Del(httpmsg.HeaderHost)
	}

	if scheme == "" {
		scheme = "https"
	}
	f.Headers.Set(schemeField(e.version), scheme)

	for _, entry := range h.Entries() {
		f.Headers.Add(entry.Name, entry.Value)
	}
	e.currentStreamID = id
	return f, nil
}

func (e *StreamEncoder) synReply(m *httpmsg.HeaderMessage) (*SynReplyFrame, error) {
	h := &m.Headers
	id, err := streamIDAnnotation(h)
	if err != nil {
		return nil, err
	}
	h.Del(HeaderStreamID)
	stripHopByHop(h)

	f := &SynReplyFrame{StreamID: id}
	f.Headers.Set(statusField(e.version), strconv.Itoa(m.Status))
	f.Headers.Set(versionField(e.version), m.Version)
	for _, entry := range h.Entries() {
		f.Headers.Add(entry.Name, entry.Value)
	}

	// The reply is never marked last here; the body that follows (possibly
	// a single empty final chunk) terminates the stream with a data frame.
	e.currentStreamID = id
	return f, nil
}

func streamIDAnnotation(h *httpmsg.Headers) (uint32, error) {
	v := h.Get(HeaderStreamID)
	if v == "" {
		return 0, ErrMissingStreamID
	}
	id, err := strconv.ParseUint(v, 10, 32)
	if err != nil || id == 0 || id > 0x7fffffff {
		return 0, fmt.Errorf("%w: invalid value %q", ErrMissingStreamID, v)
	}
	return uint32(id), nil
}

// stripHopByHop removes fields that are only meaningful on a single
// connection leg and must not cross the translation boundary.
func stripHopByHop(h *httpmsg.Headers) {
	h.Del(httpmsg.HeaderConnection)
	h.Del(httpmsg.HeaderKeepAlive)
	h.Del(httpmsg.HeaderProxyConnection)
	h.Del(httpmsg.HeaderTransferEncoding)
}
