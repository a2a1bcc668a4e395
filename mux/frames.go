package mux

import "osmium/httpmsg"

/*
Stream-multiplexed framing, modeled on SPDY-style synchronous streams.

One connection carries many logical exchanges, each identified by a
31-bit stream id. Client-initiated streams use odd ids, server-initiated
(pushed) streams use even ids. The frame set:

- SYN_STREAM opens a stream and carries its initial header fields,
  priority, an optional association to a parent stream, a last flag, and
  a unidirectional flag (set on pushed streams).
- SYN_REPLY answers a stream with response header fields.
- HEADERS supplies additional header fields for an open stream.
- DATA carries body bytes, with a last flag terminating the stream.
- RST_STREAM abnormally terminates a stream with a status code.

Protocol versions 2 and 3 are supported. Version 3 folds the first line
and host into pseudo fields (":method", ":path", ":version", ":status",
":scheme", ":host"); version 2 uses plain names and keeps host a regular
header.
*/

// Supported protocol versions.
const (
	MinVersion = 2
	MaxVersion = 3
)

// StreamStatus is the status code carried by a RST_STREAM frame.
type StreamStatus uint32

const (
	StatusProtocolError StreamStatus = iota + 1
	StatusInvalidStream
	StatusRefusedStream
	StatusUnsupportedVersion
	StatusCancel
	StatusInternalError
	StatusFlowControlError
)

// Translator annotation headers. The stream encoder reads these from
// message headers and strips them before putting the message on the
// wire; the stream decoder sets them on messages it rebuilds.
const (
	HeaderStreamID           = "x-mux-stream-id"
	HeaderAssociatedStreamID = "x-mux-associated-stream-id"
	HeaderPriority           = "x-mux-priority"
	HeaderURL                = "x-mux-url"
	HeaderScheme             = "x-mux-scheme"
)

// Frame is one unit of the multiplexed protocol.
type Frame interface {
	frame()
}

// SynStreamFrame opens a stream.
type SynStreamFrame struct {
	StreamID           uint32
	AssociatedStreamID uint32
	Priority           uint8
	Last               bool
	Unidirectional     bool
	Headers            httpmsg.Headers
}

func (*SynStreamFrame) frame() {}

// SynReplyFrame answers an open stream.
type SynReplyFrame struct {
	StreamID uint32
	Last     bool
	Headers  httpmsg.Headers
}

func (*SynReplyFrame) frame() {}

// HeadersFrame supplies additional header fields for an open stream.
type HeadersFrame struct {
	StreamID uint32
	Headers  httpmsg.Headers
}

func (*HeadersFrame) frame() {}

// DataFrame carries body bytes for an open stream.
type DataFrame struct {
	StreamID uint32
	Last     bool
	Data     []byte
}

func (*DataFrame) frame() {}

// RstStreamFrame abnormally terminates a stream.
type RstStreamFrame struct {
	StreamID uint32
	Status   StreamStatus
}

func (*RstStreamFrame) frame() {}

// isServerStream reports whether the stream was initiated by the server.
// Server ids are even.
func isServerStream(id uint32) bool {
	return id%2 == 0
}

// Version-dependent header field names for the folded first line.

func methodField(version int) string {
	if version >= 3 {
		return ":method"
	}
	return "method"
}

func pathField(version int) string {
	if version >= 3 {
		return ":path"
	}
	return "url"
}

func versionField(version int) string {
	if version >= 3 {
		return ":version"
	}
	return "version"
}

func statusField(version int) string {
	if version >= 3 {
		return ":status"
	}
	return "status"
}

func schemeField(version int) string {
	if version >= 3 {
		return ":scheme"
	}
	return "scheme"
}

// hostField is only meaningful for version 3 and later, where the host
// moves out of the regular headers into a pseudo field.
func hostField(version int) string {
	return ":host"
}
