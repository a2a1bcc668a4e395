package transcode

import (
	"errors"
	"fmt"

	"osmium/httpmsg"
)

// ErrResponseWithoutRequest is the usage error returned when a response
// body is encoded but no matching request was observed; callers cannot
// send more responses than requests.
var ErrResponseWithoutRequest = errors.New("transcode: cannot send more responses than requests")

// EncodeResult names the chosen target coding and the adapter that
// produces it.
type EncodeResult struct {
	TargetEncoding string
	Codec          CodecAdapter
}

// BeginEncodeFunc negotiates the outbound coding from the response
// header, its first body chunk, and the accept-encoding value recorded
// for the matching request. Returning nil means pass-through.
type BeginEncodeFunc func(header *httpmsg.HeaderMessage, chunk *httpmsg.BodyChunk, acceptEncoding string) *EncodeResult

// Encoder rewrites outbound message bodies through an encoding codec,
// mirroring Decoder. Because responses may be produced while several
// requests are in flight, it keeps a FIFO of accept-encoding values: one
// entry enqueued per request seen (ObserveRequest), one dequeued per
// response header encoded.
type Encoder struct {
	begin   BeginEncodeFunc
	accepts []string
	state   sessionState
	header  *httpmsg.HeaderMessage
	codec   CodecAdapter // nil while passing through
	chunked bool
}

// NewEncoder returns an Encoder negotiating codings through begin.
func NewEncoder(begin BeginEncodeFunc) *Encoder {
	return &Encoder{begin: begin}
}

// ObserveRequest records the accept-encoding declaration of one inbound
// request. Must be called exactly once per request forwarded upstream.
func (e *Encoder) ObserveRequest(req *httpmsg.HeaderMessage) {
	accept := req.Headers.Get(httpmsg.HeaderAcceptEncoding)
	if accept == "" {
		accept = httpmsg.EncodingIdentity
	}
	e.accepts = append(e.accepts, accept)
}

// Encode processes one outbound pipeline unit and returns the units to
// forward toward the wire.
func (e *Encoder) Encode(msg httpmsg.Message) ([]httpmsg.Message, error) {
	switch m := msg.(type) {
	case *httpmsg.HeaderMessage:
		// Interim 100 responses pass through untouched.
		if !m.IsRequest() && m.Status == httpmsg.StatusContinue {
			return []httpmsg.Message{m}, nil
		}
		if e.state == stateHeaderPending {
			return nil, ErrHeaderPending
		}
		e.discardCodec()
		e.header = m
		e.state = stateHeaderPending
		return nil, nil
	case *httpmsg.BodyChunk:
		return e.encodeChunk(m)
	default:
		return []httpmsg.Message{msg}, nil
	}
}

func (e *Encoder) encodeChunk(c *httpmsg.BodyChunk) ([]httpmsg.Message, error) {
	switch e.state {
	case stateHeaderPending:
		header := e.header
		e.header = nil
		e.state = stateBodyInProgress

		if len(e.accepts) == 0 {
			return nil, ErrResponseWithoutRequest
		}
		accept := e.accepts[0]
		e.accepts = e.accepts[1:]

		result := e.begin(header, c, accept)
		if result == nil {
			// No acceptable coding: header and body pass through untouched.
			e.codec = nil
			if c.Final {
				e.state = stateFinished
			}
			return []httpmsg.Message{header, c}, nil
		}
		e.codec = result.Codec
		e.chunked = header.Headers.IsChunked()
		header.Headers.Set(httpmsg.HeaderContentEncoding, result.TargetEncoding)

		out, done, err := e.transform(c)
		if err != nil {
			return nil, err
		}
		if done {
			e.state = stateFinished
		}
		// When the body is not chunk-framed and finalization split the
		// output in two, the declared length covers both pieces. A
		// missing content-length is never introduced here.
		if !e.chunked && len(out) == 2 {
			if _, ok := header.Headers.ContentLength(); ok {
				total := len(out[0].(*httpmsg.BodyChunk).Data) + len(out[1].(*httpmsg.BodyChunk).Data)
				header.Headers.SetContentLength(int64(total))
			}
		}
		return append([]httpmsg.Message{header}, out...), nil

	case stateBodyInProgress:
		if e.codec == nil {
			if c.Final {
				e.state = stateFinished
			}
			return []httpmsg.Message{c}, nil
		}
		out, done, err := e.transform(c)
		if err != nil {
			return nil, err
		}
		if done {
			e.state = stateFinished
		}
		return out, nil

	default:
		return []httpmsg.Message{c}, nil
	}
}

func (e *Encoder) transform(c *httpmsg.BodyChunk) ([]httpmsg.Message, bool, error) {
	out, done, err := transformChunk(e.codec, c)
	if err != nil {
		e.codec = nil
		return nil, false, fmt.Errorf("encoding content: %w", err)
	}
	if done {
		e.codec = nil
	}
	return out, done, nil
}

// Close finalizes any live codec adapter, discarding its output. Must be
// called on pipeline removal or connection loss.
func (e *Encoder) Close() {
	e.discardCodec()
	e.header = nil
	e.state = stateIdle
}

func (e *Encoder) discardCodec() {
	if e.codec != nil {
		e.codec.Finish()
		e.codec = nil
	}
}
