package mux

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"osmium/httpmsg"
)

// ErrContentLengthExceeded is returned when a stream's accumulated body
// would exceed the configured maximum. The stream's state is evicted;
// whether the connection survives is the caller's decision.
var ErrContentLengthExceeded = errors.New("mux: content length exceeded")

// pendingMessage is a message being rebuilt from frames: its header plus
// the body accumulated from data frames so far.
type pendingMessage struct {
	header *httpmsg.HeaderMessage
	body   []byte
}

// StreamDecoder translates multiplexed frames into header messages and
// body chunks. It owns the per-connection table of in-flight streams;
// every entry is removed on completion, reset, or size violation, so the
// table is bounded by the number of concurrently open streams.
//
// Frames for stream ids not in the table are silently discarded: the
// session layer in front of this translator is expected to have already
// rejected them. This is deliberate, not an oversight.
type StreamDecoder struct {
	version          int
	maxContentLength int
	messages         map[uint32]*pendingMessage
}

// NewStreamDecoder returns a decoder for the given protocol version.
// maxContentLength bounds the accumulated body size of a single stream.
func NewStreamDecoder(version, maxContentLength int) (*StreamDecoder, error) {
	if version < MinVersion || version > MaxVersion {
		return nil, fmt.Errorf("mux: unsupported version: %d", version)
	}
	if maxContentLength <= 0 {
		return nil, fmt.Errorf("mux: maxContentLength must be a positive integer: %d", maxContentLength)
	}
	return &StreamDecoder{
		version:          version,
		maxContentLength: maxContentLength,
		messages:         make(map[uint32]*pendingMessage),
	}, nil
}

// Streams returns the number of in-flight streams.
func (d *StreamDecoder) Streams() int {
	return len(d.messages)
}

// Reset drops all in-flight stream state. Called on connection loss.
func (d *StreamDecoder) Reset() {
	clear(d.messages)
}

// Decode processes one frame. msgs are completed messages to forward
// inbound (a header message followed by its final body chunk); replies
// are frames to write back to the peer (resets and synthetic error
// replies). An error is only returned for the size-limit violation.
func (d *StreamDecoder) Decode(f Frame) (msgs []httpmsg.Message, replies []Frame, err error) {
	switch fr := f.(type) {
	case *SynStreamFrame:
		return d.decodeSynStream(fr)
	case *SynReplyFrame:
		return d.decodeSynReply(fr)
	case *HeadersFrame:
		pm, ok := d.messages[fr.StreamID]
		if !ok {
			return nil, nil, nil
		}
		for _, e := range fr.Headers.Entries() {
			pm.header.Headers.Add(e.Name, e.Value)
		}
		return nil, nil, nil
	case *DataFrame:
		return d.decodeData(fr)
	case *RstStreamFrame:
		delete(d.messages, fr.StreamID)
		return nil, nil, nil
	default:
		return nil, nil, nil
	}
}

func (d *StreamDecoder) decodeSynStream(fr *SynStreamFrame) ([]httpmsg.Message, []Frame, error) {
	id := fr.StreamID

	if isServerStream(id) {
		// Pushed resource. A push not associated with a client stream is
		// answered with INVALID_STREAM; a push without a url with
		// PROTOCOL_ERROR. Either way only this stream dies.
		if fr.AssociatedStreamID == 0 {
			return nil, []Frame{&RstStreamFrame{StreamID: id, Status: StatusInvalidStream}}, nil
		}
		url := fr.Headers.Get(pathField(d.version))
		if url == "" {
			return nil, []Frame{&RstStreamFrame{StreamID: id, Status: StatusProtocolError}}, nil
		}
		resp, err := d.newResponse(&fr.Headers)
		if err != nil {
			return nil, []Frame{&RstStreamFrame{StreamID: id, Status: StatusProtocolError}}, nil
		}
		resp.Headers.Set(HeaderStreamID, strconv.FormatUint(uint64(id), 10))
		resp.Headers.Set(HeaderAssociatedStreamID, strconv.FormatUint(uint64(fr.AssociatedStreamID), 10))
		resp.Headers.Set(HeaderPriority, strconv.Itoa(int(fr.Priority)))
		resp.Headers.Set(HeaderURL, url)
		if fr.Last {
			resp.Headers.SetContentLength(0)
			return []httpmsg.Message{resp, &httpmsg.BodyChunk{Final: true}}, nil, nil
		}
		d.messages[id] = &pendingMessage{header: resp}
		return nil, nil, nil
	}

	// Client-initiated stream: a request. A malformed first line earns a
	// synthetic 400 reply and the stream is not registered.
	req, err := d.newRequest(&fr.Headers)
	if err != nil {
		reply := &SynReplyFrame{StreamID: id, Last: true}
		reply.Headers.Set(statusField(d.version), "400 Bad Request")
		reply.Headers.Set(versionField(d.version), "HTTP/1.0")
		return nil, []Frame{reply}, nil
	}
	req.Headers.Set(HeaderStreamID, strconv.FormatUint(uint64(id), 10))
	if fr.Last {
		return []httpmsg.Message{req, &httpmsg.BodyChunk{Final: true}}, nil, nil
	}
	d.messages[id] = &pendingMessage{header: req}
	return nil, nil, nil
}

func (d *StreamDecoder) decodeSynReply(fr *SynReplyFrame) ([]httpmsg.Message, []Frame, error) {
	id := fr.StreamID
	resp, err := d.newResponse(&fr.Headers)
	if err != nil {
		return nil, []Frame{&RstStreamFrame{StreamID: id, Status: StatusProtocolError}}, nil
	}
	resp.Headers.Set(HeaderStreamID, strconv.FormatUint(uint64(id), 10))
	if fr.Last {
		resp.Headers.SetContentLength(0)
		return []httpmsg.Message{resp, &httpmsg.BodyChunk{Final: true}}, nil, nil
	}
	d.messages[id] = &pendingMessage{header: resp}
	return nil, nil, nil
}

func (d *StreamDecoder) decodeData(fr *DataFrame) ([]httpmsg.Message, []Frame, error) {
	pm, ok := d.messages[fr.StreamID]
	if !ok {
		return nil, nil, nil
	}
	if len(pm.body) > d.maxContentLength-len(fr.Data) {
		delete(d.messages, fr.StreamID)
		return nil, nil, fmt.Errorf("%w: %d bytes", ErrContentLengthExceeded, d.maxContentLength)
	}
	pm.body = append(pm.body, fr.Data...)
	if fr.Last {
		pm.header.Headers.SetContentLength(int64(len(pm.body)))
		delete(d.messages, fr.StreamID)
		return []httpmsg.Message{pm.header, &httpmsg.BodyChunk{Data: pm.body, Final: true}}, nil, nil
	}
	return nil, nil, nil
}

// newRequest rebuilds a request-shaped message from an open frame's
// header fields, consuming the folded first-line fields.
func (d *StreamDecoder) newRequest(h *httpmsg.Headers) (*httpmsg.HeaderMessage, error) {
	method := h.Get(methodField(d.version))
	url := h.Get(pathField(d.version))
	version := h.Get(versionField(d.version))
	if method == "" || url == "" || !strings.HasPrefix(version, "HTTP/") {
		return nil, fmt.Errorf("mux: request stream missing method, url, or version")
	}
	h.Del(methodField(d.version))
	h.Del(pathField(d.version))
	h.Del(versionField(d.version))
	h.Del(schemeField(d.version))

	req := &httpmsg.HeaderMessage{Version: version, Method: method, Target: url}
	if d.version >= 3 {
		if host := h.Get(hostField(d.version)); host != "" {
			req.Headers.Set(httpmsg.HeaderHost, host)
		}
		h.Del(hostField(d.version))
	}
	for _, e := range h.Entries() {
		req.Headers.Add(e.Name, e.Value)
	}
	// Hop-by-hop fields do not survive translation.
	req.Headers.Del(httpmsg.HeaderTransferEncoding)
	req.Headers.Del(httpmsg.HeaderConnection)
	req.Headers.Del(httpmsg.HeaderKeepAlive)
	return req, nil
}

// newResponse rebuilds a response-shaped message, consuming the folded
// status and version fields.
func (d *StreamDecoder) newResponse(h *httpmsg.Headers) (*httpmsg.HeaderMessage, error) {
	statusText := h.Get(statusField(d.version))
	version := h.Get(versionField(d.version))
	if statusText == "" || !strings.HasPrefix(version, "HTTP/") {
		return nil, fmt.Errorf("mux: response stream missing status or version")
	}
	// The status field may carry a reason phrase ("200 OK").
	code, _, _ := strings.Cut(statusText, " ")
	status, err := strconv.Atoi(code)
	if err != nil || status < 100 {
		return nil, fmt.Errorf("mux: invalid status: %q", statusText)
	}
	h.Del(statusField(d.version))
	h.Del(versionField(d.version))
	h.Del(pathField(d.version))
	h.Del(schemeField(d.version))
	h.Del(hostField(d.version))

	resp := &httpmsg.HeaderMessage{Version: version, Status: status}
	for _, e := range h.Entries() {
		resp.Headers.Add(e.Name, e.Value)
	}
	resp.Headers.Del(httpmsg.HeaderTransferEncoding)
	resp.Headers.Del(httpmsg.HeaderConnection)
	resp.Headers.Del(httpmsg.HeaderKeepAlive)
	resp.Headers.Del(httpmsg.HeaderTrailer)
	return resp, nil
}
