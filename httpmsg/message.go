package httpmsg

/*
Message model shared by the transcoding and stream-translation layers.

A logical exchange travels as one HeaderMessage followed by zero or more
BodyChunks, exactly one of which is marked Final (an empty final chunk
terminates a bodiless message). Ownership is linear: a stage holds a
message, may mutate it in place, and forwards it; nothing aliases a
message across stages.
*/

// StatusContinue is the interim status code whose responses are passed
// through every transcoding stage untouched.
const StatusContinue = 100

// Message is the unit flowing through the pipeline. It is a closed set:
// *HeaderMessage, *BodyChunk, or Opaque for foreign values that stages
// forward unchanged.
type Message interface {
	message()
}

// HeaderMessage carries the metadata of one request or response: the
// protocol version, the role-specific first-line data, and the header
// fields. Method being set marks the request shape, otherwise Status
// marks the response shape.
type HeaderMessage struct {
	Version string
	Method  string
	Target  string
	Status  int
	Headers Headers
}

func (*HeaderMessage) message() {}

// IsRequest reports whether the message is request-shaped.
func (m *HeaderMessage) IsRequest() bool {
	return m.Method != ""
}

// BodyChunk is one fragment of a message body. A Final chunk terminates
// the body and may carry trailer fields.
type BodyChunk struct {
	Data     []byte
	Final    bool
	Trailers Headers
}

func (*BodyChunk) message() {}

// Opaque wraps any value that is neither a header nor a body chunk.
// Transcoding stages forward it unmodified; the stream translator
// rejects it as unsupported.
type Opaque struct {
	Value any
}

func (Opaque) message() {}
