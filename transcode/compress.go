package transcode

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"

	"osmium/httpmsg"
)

type flushWriteCloser interface {
	io.WriteCloser
	Flush() error
}

// compressAdapter wraps a compressing writer as a CodecAdapter. Each
// Write is flushed so output is available per chunk; Close on Finish
// emits the trailing frame/checksum bytes.
type compressAdapter struct {
	buf bytes.Buffer
	w   flushWriteCloser
}

// NewCompressor returns an encode-side adapter for the given content
// coding, or nil if the coding is unsupported.
func NewCompressor(encoding string) CodecAdapter {
	c := &compressAdapter{}
	switch encoding {
	case "gzip":
		c.w = gzip.NewWriter(&c.buf)
	case "deflate":
		fw, err := flate.NewWriter(&c.buf, flate.BestCompression)
		if err != nil {
			return nil
		}
		c.w = fw
	case "zstd":
		zw, err := zstd.NewWriter(&c.buf)
		if err != nil {
			return nil
		}
		c.w = zw
	default:
		return nil
	}
	return c
}

func (c *compressAdapter) Write(p []byte) error {
	if len(p) == 0 {
		return nil
	}
	if _, err := c.w.Write(p); err != nil {
		return err
	}
	return c.w.Flush()
}

func (c *compressAdapter) ReadAvailable() []byte {
	if c.buf.Len() == 0 {
		return nil
	}
	out := append([]byte(nil), c.buf.Bytes()...)
	c.buf.Reset()
	return out
}

func (c *compressAdapter) Finish() (bool, error) {
	if err := c.w.Close(); err != nil {
		return false, err
	}
	return c.buf.Len() > 0, nil
}

// decompressAdapter decodes a compressed stream fed in arbitrary pieces.
// Prefix decoding of these formats is deterministic, so it re-inflates
// the accumulated input on every write and hands out only the delta past
// what was already emitted. Truncation errors are expected mid-stream
// and only surfaced on Finish.
type decompressAdapter struct {
	encoding string
	in       []byte
	emitted  int
	pending  []byte
}

// NewDecompressor returns a decode-side adapter for the given content
// coding, or nil if the coding is unsupported (pass-through).
func NewDecompressor(encoding string) CodecAdapter {
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "gzip", "x-gzip":
		return &decompressAdapter{encoding: "gzip"}
	case "deflate", "x-deflate":
		return &decompressAdapter{encoding: "deflate"}
	case "zstd":
		return &decompressAdapter{encoding: "zstd"}
	default:
		return nil
	}
}

func (d *decompressAdapter) Write(p []byte) error {
	d.in = append(d.in, p...)
	out, _ := d.inflate()
	if len(out) > d.emitted {
		d.pending = append(d.pending, out[d.emitted:]...)
		d.emitted = len(out)
	}
	return nil
}

func (d *decompressAdapter) ReadAvailable() []byte {
	out := d.pending
	d.pending = nil
	return out
}

func (d *decompressAdapter) Finish() (bool, error) {
	if len(d.in) == 0 {
		return len(d.pending) > 0, nil
	}
	out, err := d.inflate()
	if err != nil {
		return false, fmt.Errorf("incomplete %s stream: %w", d.encoding, err)
	}
	if len(out) > d.emitted {
		d.pending = append(d.pending, out[d.emitted:]...)
		d.emitted = len(out)
	}
	return len(d.pending) > 0, nil
}

func (d *decompressAdapter) inflate() ([]byte, error) {
	src := bytes.NewReader(d.in)
	var r io.ReadCloser
	switch d.encoding {
	case "gzip":
		zr, err := gzip.NewReader(src)
		if err != nil {
			return nil, err
		}
		r = zr
	case "deflate":
		r = flate.NewReader(src)
	case "zstd":
		zr, err := zstd.NewReader(src, zstd.WithDecoderConcurrency(1))
		if err != nil {
			return nil, err
		}
		r = zr.IOReadCloser()
	}
	var out bytes.Buffer
	_, err := io.Copy(&out, r)
	r.Close()
	return out.Bytes(), err
}

// DefaultCompressor is a beginEncode implementation that picks the first
// supported coding listed in the accept-encoding value. Quality values
// are ignored beyond stripping them off the token.
func DefaultCompressor(header *httpmsg.HeaderMessage, chunk *httpmsg.BodyChunk, acceptEncoding string) *EncodeResult {
	for _, tok := range strings.Split(acceptEncoding, ",") {
		name, _, _ := strings.Cut(strings.TrimSpace(tok), ";")
		name = strings.ToLower(strings.TrimSpace(name))
		switch name {
		case "gzip", "deflate", "zstd":
			if c := NewCompressor(name); c != nil {
				return &EncodeResult{TargetEncoding: name, Codec: c}
			}
		}
	}
	return nil
}
