package transcode

import (
	"bytes"
	"errors"
	"testing"

	"github.com/klauspost/compress/gzip"

	"osmium/httpmsg"
)

func gzipBytes(t *testing.T, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		t.Fatalf("gzip write: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("gzip close: %v", err)
	}
	return buf.Bytes()
}

// feed pushes units through the decoder and returns everything emitted.
func feed(t *testing.T, d *Decoder, msgs ...httpmsg.Message) []httpmsg.Message {
	t.Helper()
	var out []httpmsg.Message
	for _, m := range msgs {
		emitted, err := d.Decode(m)
		if err != nil {
			t.Fatalf("Decode: %v", err)
		}
		out = append(out, emitted...)
	}
	return out
}

func bodyOf(out []httpmsg.Message) (body []byte, finals int) {
	for _, m := range out {
		if c, ok := m.(*httpmsg.BodyChunk); ok {
			body = append(body, c.Data...)
			if c.Final {
				finals++
			}
		}
	}
	return body, finals
}

func TestDecodeGzipBody(t *testing.T) {
	plain := []byte("hello gzip world")
	compressed := gzipBytes(t, plain)

	header := &httpmsg.HeaderMessage{Version: "HTTP/1.1", Status: 200}
	header.Headers.Set(httpmsg.HeaderContentEncoding, "gzip")
	header.Headers.SetContentLength(int64(len(compressed)))

	d := NewDecoder(NewDecompressor)
	out := feed(t, d, header, &httpmsg.BodyChunk{Data: compressed, Final: true})

	got, ok := out[0].(*httpmsg.HeaderMessage)
	if !ok {
		t.Fatalf("first emitted unit is %T, want header", out[0])
	}
	if got.Headers.Has(httpmsg.HeaderContentEncoding) {
		t.Errorf("content-encoding should be removed for an identity target, got %q",
			got.Headers.Get(httpmsg.HeaderContentEncoding))
	}
	body, finals := bodyOf(out)
	if !bytes.Equal(body, plain) {
		t.Errorf("decoded body = %q, want %q", body, plain)
	}
	if finals != 1 {
		t.Errorf("emitted %d final chunks, want exactly 1", finals)
	}
	if cl, _ := got.Headers.ContentLength(); cl != int64(len(plain)) {
		t.Errorf("content-length = %d, want %d", cl, len(plain))
	}
}

func TestDecodeMultiChunk(t *testing.T) {
	plain := []byte("streaming bodies arrive in arbitrary pieces")
	compressed := gzipBytes(t, plain)
	header := &httpmsg.HeaderMessage{Version: "HTTP/1.1", Status: 200}
	header.Headers.Set(httpmsg.HeaderContentEncoding, "gzip")

	d := NewDecoder(NewDecompressor)
	third := len(compressed) / 3
	out := feed(t, d,
		header,
		&httpmsg.BodyChunk{Data: compressed[:third]},
		&httpmsg.BodyChunk{Data: compressed[third : 2*third]},
		&httpmsg.BodyChunk{Data: compressed[2*third:], Final: true},
	)

	body, finals := bodyOf(out)
	if !bytes.Equal(body, plain) {
		t.Errorf("decoded body = %q, want %q", body, plain)
	}
	if finals != 1 {
		t.Errorf("emitted %d final chunks, want exactly 1", finals)
	}
}

func TestDecodePassthrough(t *testing.T) {
	// Unsupported codings pass through byte-identical, headers included.
	for _, encoding := range []string{"br", "identity", ""} {
		t.Run("encoding="+encoding, func(t *testing.T) {
			header := &httpmsg.HeaderMessage{Version: "HTTP/1.1", Status: 200}
			if encoding != "" {
				header.Headers.Set(httpmsg.HeaderContentEncoding, encoding)
			}
			header.Headers.SetContentLength(4)
			payload := []byte("data")

			d := NewDecoder(NewDecompressor)
			out := feed(t, d, header, &httpmsg.BodyChunk{Data: payload, Final: true})

			if len(out) != 2 {
				t.Fatalf("emitted %d units, want 2", len(out))
			}
			got := out[0].(*httpmsg.HeaderMessage)
			if got.Headers.Get(httpmsg.HeaderContentEncoding) != encoding && encoding != "" {
				t.Errorf("content-encoding modified on pass-through")
			}
			if cl, _ := got.Headers.ContentLength(); cl != 4 {
				t.Errorf("content-length modified on pass-through: %d", cl)
			}
			chunk := out[1].(*httpmsg.BodyChunk)
			if !bytes.Equal(chunk.Data, payload) || !chunk.Final {
				t.Errorf("body modified on pass-through: %q final=%v", chunk.Data, chunk.Final)
			}
		})
	}
}

func TestDecodeEmptyBody(t *testing.T) {
	// A declared coding with an empty body decodes to an empty final chunk.
	header := &httpmsg.HeaderMessage{Version: "HTTP/1.1", Status: 200}
	header.Headers.Set(httpmsg.HeaderContentEncoding, "gzip")

	d := NewDecoder(NewDecompressor)
	out := feed(t, d, header, &httpmsg.BodyChunk{Final: true})

	got := out[0].(*httpmsg.HeaderMessage)
	if got.Headers.Has(httpmsg.HeaderContentEncoding) {
		t.Error("content-encoding should be removed")
	}
	body, finals := bodyOf(out)
	if len(body) != 0 || finals != 1 {
		t.Errorf("got body %q with %d finals, want empty body and 1 final", body, finals)
	}
}

func TestDecodeTargetEncodingOverride(t *testing.T) {
	header := &httpmsg.HeaderMessage{Version: "HTTP/1.1", Status: 200}
	header.Headers.Set(httpmsg.HeaderContentEncoding, "x-gzip")

	d := NewDecoder(NewDecompressor)
	d.TargetEncoding = func(string) string { return "gzip" }
	out := feed(t, d, header, &httpmsg.BodyChunk{Data: gzipBytes(t, []byte("x")), Final: true})

	got := out[0].(*httpmsg.HeaderMessage)
	if ce := got.Headers.Get(httpmsg.HeaderContentEncoding); ce != "gzip" {
		t.Errorf("content-encoding = %q, want %q", ce, "gzip")
	}
}

func TestDecodeHeaderPending(t *testing.T) {
	d := NewDecoder(NewDecompressor)
	if _, err := d.Decode(&httpmsg.HeaderMessage{Version: "HTTP/1.1", Status: 200}); err != nil {
		t.Fatalf("first header: %v", err)
	}
	_, err := d.Decode(&httpmsg.HeaderMessage{Version: "HTTP/1.1", Status: 200})
	if !errors.Is(err, ErrHeaderPending) {
		t.Errorf("second header before body: err = %v, want ErrHeaderPending", err)
	}
}

func TestDecodeContinuePassthrough(t *testing.T) {
	d := NewDecoder(NewDecompressor)
	cont := &httpmsg.HeaderMessage{Version: "HTTP/1.1", Status: httpmsg.StatusContinue}
	out, err := d.Decode(cont)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(out) != 1 || out[0] != httpmsg.Message(cont) {
		t.Error("100-continue should be forwarded immediately and untouched")
	}
}

func TestDecodeOpaquePassthrough(t *testing.T) {
	d := NewDecoder(NewDecompressor)
	op := httpmsg.Opaque{Value: "ping"}
	out, err := d.Decode(op)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(out) != 1 || out[0] != httpmsg.Message(op) {
		t.Error("opaque units should be forwarded unchanged")
	}
}

func TestDecodeSequentialMessages(t *testing.T) {
	d := NewDecoder(NewDecompressor)
	for i := 0; i < 3; i++ {
		plain := []byte("message body")
		header := &httpmsg.HeaderMessage{Version: "HTTP/1.1", Status: 200}
		header.Headers.Set(httpmsg.HeaderContentEncoding, "gzip")
		out := feed(t, d, header, &httpmsg.BodyChunk{Data: gzipBytes(t, plain), Final: true})
		body, _ := bodyOf(out)
		if !bytes.Equal(body, plain) {
			t.Fatalf("message %d: body = %q, want %q", i, body, plain)
		}
	}
}
