package mux

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"strings"

	"golang.org/x/net/http2/hpack"

	"osmium/httpmsg"
)

// Wire frame types.
const (
	dataFrameType      byte = 0x0
	synStreamFrameType byte = 0x1
	synReplyFrameType  byte = 0x2
	rstStreamFrameType byte = 0x3
	headersFrameType   byte = 0x8
)

// Wire frame flags.
const (
	lastFlag           byte = 0x1
	unidirectionalFlag byte = 0x2
)

// maxFramePayload caps what ReadFrame will buffer for a single frame.
const maxFramePayload = 1 << 20

const headerTableSize = 4096

// Framer reads and writes frames on one connection. Header blocks are
// hpack-compressed with per-connection state, so a Framer must only be
// paired with the single peer Framer it was connected to, and is not
// safe for concurrent use.
type Framer struct {
	w      io.Writer
	br     *bufio.Reader
	hbuf   bytes.Buffer
	henc   *hpack.Encoder
	hdec   *hpack.Decoder
	fields []hpack.HeaderField
}

// NewFramer returns a Framer writing frames to w and reading them from r.
func NewFramer(w io.Writer, r io.Reader) *Framer {
	f := &Framer{w: w, br: bufio.NewReader(r)}
	f.henc = hpack.NewEncoder(&f.hbuf)
	f.hdec = hpack.NewDecoder(headerTableSize, func(hf hpack.HeaderField) {
		f.fields = append(f.fields, hf)
	})
	return f
}

// WriteFrame serializes one frame onto the connection.
func (f *Framer) WriteFrame(fr Frame) error {
	switch v := fr.(type) {
	case *SynStreamFrame:
		block, err := f.encodeHeaders(&v.Headers)
		if err != nil {
			return err
		}
		payload := make([]byte, 5, 5+len(block))
		binary.BigEndian.PutUint32(payload, v.AssociatedStreamID&0x7fffffff)
		payload[4] = v.Priority
		payload = append(payload, block...)
		var flags byte
		if v.Last {
			flags |= lastFlag
		}
		if v.Unidirectional {
			flags |= unidirectionalFlag
		}
		return f.writeRaw(synStreamFrameType, flags, v.StreamID, payload)
	case *SynReplyFrame:
		block, err := f.encodeHeaders(&v.Headers)
		if err != nil {
			return err
		}
		var flags byte
		if v.Last {
			flags |= lastFlag
		}
		return f.writeRaw(synReplyFrameType, flags, v.StreamID, block)
	case *HeadersFrame:
		block, err := f.encodeHeaders(&v.Headers)
		if err != nil {
			return err
		}
		return f.writeRaw(headersFrameType, 0, v.StreamID, block)
	case *DataFrame:
		var flags byte
		if v.Last {
			flags |= lastFlag
		}
		return f.writeRaw(dataFrameType, flags, v.StreamID, v.Data)
	case *RstStreamFrame:
		payload := make([]byte, 4)
		binary.BigEndian.PutUint32(payload, uint32(v.Status))
		return f.writeRaw(rstStreamFrameType, 0, v.StreamID, payload)
	default:
		return fmt.Errorf("mux: cannot serialize frame type %T", fr)
	}
}

// writeRaw writes a frame header followed by its payload.
// The header layout follows the usual 9-byte framing: 24-bit length,
// type, flags, and a 31-bit stream id with the top bit reserved.
func (f *Framer) writeRaw(ft, flags byte, streamID uint32, payload []byte) error {
	hdr := make([]byte, 9)
	length := uint32(len(payload))
	hdr[0] = byte(length >> 16)
	hdr[1] = byte(length >> 8)
	hdr[2] = byte(length)
	hdr[3] = ft
	hdr[4] = flags
	binary.BigEndian.PutUint32(hdr[5:], streamID&0x7fffffff)
	if _, err := f.w.Write(hdr); err != nil {
		return err
	}
	if len(payload) > 0 {
		_, err := f.w.Write(payload)
		return err
	}
	return nil
}

// ReadFrame reads and parses the next frame from the connection.
func (f *Framer) ReadFrame() (Frame, error) {
	hdr := make([]byte, 9)
	if _, err := io.ReadFull(f.br, hdr); err != nil {
		return nil, err
	}

	length := int(hdr[0])<<16 | int(hdr[1])<<8 | int(hdr[2])
	ft := hdr[3]
	flags := hdr[4]
	streamID := binary.BigEndian.Uint32(hdr[5:]) & 0x7fffffff

	if length > maxFramePayload {
		return nil, fmt.Errorf("mux: frame payload of %d bytes exceeds limit", length)
	}
	payload := make([]byte, length)
	if length > 0 {
		if _, err := io.ReadFull(f.br, payload); err != nil {
			return nil, err
		}
	}

	switch ft {
	case synStreamFrameType:
		if len(payload) < 5 {
			return nil, fmt.Errorf("mux: truncated SYN_STREAM payload")
		}
		headers, err := f.decodeHeaders(payload[5:])
		if err != nil {
			return nil, err
		}
		return &SynStreamFrame{
			StreamID:           streamID,
			AssociatedStreamID: binary.BigEndian.Uint32(payload[0:4]) & 0x7fffffff,
			Priority:           payload[4],
			Last:               flags&lastFlag != 0,
			Unidirectional:     flags&unidirectionalFlag != 0,
			Headers:            headers,
		}, nil
	case synReplyFrameType:
		headers, err := f.decodeHeaders(payload)
		if err != nil {
			return nil, err
		}
		return &SynReplyFrame{
			StreamID: streamID,
			Last:     flags&lastFlag != 0,
			Headers:  headers,
		}, nil
	case headersFrameType:
		headers, err := f.decodeHeaders(payload)
		if err != nil {
			return nil, err
		}
		return &HeadersFrame{StreamID: streamID, Headers: headers}, nil
	case dataFrameType:
		return &DataFrame{
			StreamID: streamID,
			Last:     flags&lastFlag != 0,
			Data:     payload,
		}, nil
	case rstStreamFrameType:
		if len(payload) < 4 {
			return nil, fmt.Errorf("mux: truncated RST_STREAM payload")
		}
		return &RstStreamFrame{
			StreamID: streamID,
			Status:   StreamStatus(binary.BigEndian.Uint32(payload)),
		}, nil
	default:
		return nil, fmt.Errorf("mux: unknown frame type 0x%x", ft)
	}
}

func (f *Framer) encodeHeaders(h *httpmsg.Headers) ([]byte, error) {
	f.hbuf.Reset()
	for _, e := range h.Entries() {
		// hpack wants lowercase field names
		err := f.henc.WriteField(hpack.HeaderField{Name: strings.ToLower(e.Name), Value: e.Value})
		if err != nil {
			return nil, err
		}
	}
	return append([]byte(nil), f.hbuf.Bytes()...), nil
}

func (f *Framer) decodeHeaders(block []byte) (httpmsg.Headers, error) {
	f.fields = f.fields[:0]
	if _, err := f.hdec.Write(block); err != nil {
		return httpmsg.Headers{}, fmt.Errorf("mux: malformed header block: %w", err)
	}
	if err := f.hdec.Close(); err != nil {
		return httpmsg.Headers{}, fmt.Errorf("mux: malformed header block: %w", err)
	}
	var h httpmsg.Headers
	for _, hf := range f.fields {
		h.Add(hf.Name, hf.Value)
	}
	return h, nil
}
