package mux

import (
	"bytes"
	"reflect"
	"testing"

	"osmium/httpmsg"
)

func testHeaders(pairs ...string) httpmsg.Headers {
	var h httpmsg.Headers
	for i := 0; i+1 < len(pairs); i += 2 {
		h.Add(pairs[i], pairs[i+1])
	}
	return h
}

func TestFramerRoundTrip(t *testing.T) {
	frames := []Frame{
		&SynStreamFrame{
			StreamID:           1,
			AssociatedStreamID: 0,
			Priority:           3,
			Headers:            testHeaders(":method", "GET", ":path", "/a", ":version", "HTTP/1.1"),
		},
		&SynStreamFrame{
			StreamID:           2,
			AssociatedStreamID: 1,
			Priority:           0,
			Last:               true,
			Unidirectional:     true,
			Headers:            testHeaders(":status", "200", ":version", "HTTP/1.1", ":path", "/push"),
		},
		&SynReplyFrame{
			StreamID: 1,
			Headers:  testHeaders(":status", "200", ":version", "HTTP/1.1", "content-type", "text/html"),
		},
		&HeadersFrame{
			StreamID: 1,
			Headers:  testHeaders("x-trailer", "value"),
		},
		&DataFrame{StreamID: 1, Data: []byte("hello frames")},
		&DataFrame{StreamID: 1, Last: true, Data: []byte("bye")},
		&RstStreamFrame{StreamID: 5, Status: StatusProtocolError},
	}

	// A single framer reading its own output keeps the hpack encoder and
	// decoder tables in lockstep, like a connected peer would.
	var wire bytes.Buffer
	f := NewFramer(&wire, &wire)

	for i, in := range frames {
		if err := f.WriteFrame(in); err != nil {
			t.Fatalf("frame %d: WriteFrame: %v", i, err)
		}
		out, err := f.ReadFrame()
		if err != nil {
			t.Fatalf("frame %d: ReadFrame: %v", i, err)
		}
		if !reflect.DeepEqual(out, in) {
			t.Errorf("frame %d: round trip mismatch\n got %#v\nwant %#v", i, out, in)
		}
	}
}

func TestFramerRepeatedHeaderBlocks(t *testing.T) {
	// Repeated header sets exercise the shared dynamic table across
	// multiple blocks on one connection.
	var wire bytes.Buffer
	f := NewFramer(&wire, &wire)

	for i := 0; i < 4; i++ {
		in := &SynReplyFrame{
			StreamID: uint32(2*i + 1),
			Headers:  testHeaders(":status", "200", ":version", "HTTP/1.1", "server", "osmium"),
		}
		if err := f.WriteFrame(in); err != nil {
			t.Fatalf("iteration %d: WriteFrame: %v", i, err)
		}
		out, err := f.ReadFrame()
		if err != nil {
			t.Fatalf("iteration %d: ReadFrame: %v", i, err)
		}
		if !reflect.DeepEqual(out, in) {
			t.Errorf("iteration %d: mismatch\n got %#v\nwant %#v", i, out, in)
		}
	}
}

func TestFramerUnknownFrameType(t *testing.T) {
	var wire bytes.Buffer
	f := NewFramer(&wire, &wire)

	// 9-byte header with type 0x7f and no payload.
	wire.Write([]byte{0, 0, 0, 0x7f, 0, 0, 0, 0, 1})
	if _, err := f.ReadFrame(); err == nil {
		t.Error("unknown frame type should fail to parse")
	}
}

func TestFramerEmptyDataFrame(t *testing.T) {
	var wire bytes.Buffer
	f := NewFramer(&wire, &wire)

	in := &DataFrame{StreamID: 3, Last: true}
	if err := f.WriteFrame(in); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}
	out, err := f.ReadFrame()
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	data := out.(*DataFrame)
	if data.StreamID != 3 || !data.Last || len(data.Data) != 0 {
		t.Errorf("got %#v", data)
	}
}
