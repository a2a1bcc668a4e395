package transcode

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"osmium/httpmsg"
)

// ErrHeaderPending is the usage error returned when a new header message
// arrives while the previous one is still waiting for its first body
// chunk. Messages are processed strictly sequentially per direction.
var ErrHeaderPending = errors.New("transcode: header message arrived while another is pending")

// Transcoding session states. Exactly one session is live per direction.
type sessionState int

const (
	stateIdle sessionState = iota
	stateHeaderPending
	stateBodyInProgress
	stateFinished
)

// NewDecoderFunc builds a codec adapter that decodes the given content
// coding, or returns nil when the coding is unsupported and the message
// should pass through unmodified.
type NewDecoderFunc func(contentEncoding string) CodecAdapter

// Decoder rewrites inbound message bodies through a decoding codec and
// keeps the headers consistent with the transformed body. Feed it header
// messages and body chunks in arrival order via Decode.
type Decoder struct {
	// TargetEncoding maps the source coding to the coding the decoded
	// body should be declared as. Defaults to identity when nil.
	TargetEncoding func(sourceEncoding string) string

	newCodec NewDecoderFunc
	state    sessionState
	header   *httpmsg.HeaderMessage
	codec    CodecAdapter // nil while passing through
}

// NewDecoder returns a Decoder using newCodec to open decoding sessions.
func NewDecoder(newCodec NewDecoderFunc) *Decoder {
	return &Decoder{newCodec: newCodec}
}

// Decode processes one pipeline unit and returns the units to forward.
// Header messages are held back until the first body chunk arrives, since
// the codec can only be chosen then.
func (d *Decoder) Decode(msg httpmsg.Message) ([]httpmsg.Message, error) {
	switch m := msg.(type) {
	case *httpmsg.HeaderMessage:
		// Interim 100 responses pass through untouched.
		if !m.IsRequest() && m.Status == httpmsg.StatusContinue {
			return []httpmsg.Message{m}, nil
		}
		if d.state == stateHeaderPending {
			return nil, ErrHeaderPending
		}
		d.discardCodec()
		d.header = m
		d.state = stateHeaderPending
		return nil, nil
	case *httpmsg.BodyChunk:
		return d.decodeChunk(m)
	default:
		return []httpmsg.Message{msg}, nil
	}
}

func (d *Decoder) decodeChunk(c *httpmsg.BodyChunk) ([]httpmsg.Message, error) {
	switch d.state {
	case stateHeaderPending:
		header := d.header
		d.header = nil
		d.state = stateBodyInProgress

		encoding := strings.TrimSpace(header.Headers.Get(httpmsg.HeaderContentEncoding))
		if encoding == "" {
			encoding = httpmsg.EncodingIdentity
		}
		d.codec = d.newCodec(encoding)
		if d.codec == nil {
			// Unsupported coding: header and body pass through untouched.
			if c.Final {
				d.state = stateFinished
			}
			return []httpmsg.Message{header, c}, nil
		}

		target := httpmsg.EncodingIdentity
		if d.TargetEncoding != nil {
			target = d.TargetEncoding(encoding)
		}
		if target == httpmsg.EncodingIdentity {
			// Identity must not be advertised in content-encoding.
			header.Headers.Del(httpmsg.HeaderContentEncoding)
		} else {
			header.Headers.Set(httpmsg.HeaderContentEncoding, target)
		}

		out, done, err := d.transform(c)
		if err != nil {
			return nil, err
		}
		if done {
			d.state = stateFinished
		}
		if _, ok := header.Headers.ContentLength(); ok {
			first := out[0].(*httpmsg.BodyChunk)
			header.Headers.SetContentLength(int64(len(first.Data)))
		}
		return append([]httpmsg.Message{header}, out...), nil

	case stateBodyInProgress:
		if d.codec == nil {
			if c.Final {
				d.state = stateFinished
			}
			return []httpmsg.Message{c}, nil
		}
		out, done, err := d.transform(c)
		if err != nil {
			return nil, err
		}
		if done {
			d.state = stateFinished
		}
		return out, nil

	default:
		// No session is open for this chunk; forward it as-is.
		return []httpmsg.Message{c}, nil
	}
}

func (d *Decoder) transform(c *httpmsg.BodyChunk) ([]httpmsg.Message, bool, error) {
	out, done, err := transformChunk(d.codec, c)
	if err != nil {
		d.codec = nil
		return nil, false, fmt.Errorf("decoding content: %w", err)
	}
	if done {
		d.codec = nil
	}
	return out, done, nil
}

// Close finalizes any live codec adapter, discarding its output. It must
// be called on pipeline removal or connection loss so adapters never
// outlive the connection.
func (d *Decoder) Close() {
	d.discardCodec()
	d.header = nil
	d.state = stateIdle
}

func (d *Decoder) discardCodec() {
	if d.codec != nil {
		d.codec.Finish()
		d.codec = nil
	}
}

// transformChunk feeds one chunk through the codec and collects the
// produced output. On a final chunk the codec is finalized; if that
// yields trailing bytes they become an extra final chunk and the chunk
// before it is demoted, so exactly one final marker leaves the stage.
func transformChunk(codec CodecAdapter, c *httpmsg.BodyChunk) ([]httpmsg.Message, bool, error) {
	var buf bytes.Buffer
	if err := codec.Write(c.Data); err != nil {
		return nil, false, err
	}
	drain(codec, &buf)

	if !c.Final {
		return []httpmsg.Message{&httpmsg.BodyChunk{Data: buf.Bytes()}}, false, nil
	}

	produced, err := codec.Finish()
	if err != nil {
		return nil, false, err
	}
	if produced {
		var tail bytes.Buffer
		drain(codec, &tail)
		if tail.Len() > 0 {
			return []httpmsg.Message{
				&httpmsg.BodyChunk{Data: buf.Bytes()},
				&httpmsg.BodyChunk{Data: tail.Bytes(), Final: true, Trailers: c.Trailers},
			}, true, nil
		}
	}
	return []httpmsg.Message{
		&httpmsg.BodyChunk{Data: buf.Bytes(), Final: true, Trailers: c.Trailers},
	}, true, nil
}
