package transcode

import "bytes"

// CodecAdapter is the streaming compressor/decompressor boundary used by
// both transcoding directions. Input is pushed with Write, output pulled
// with ReadAvailable until it returns nil, and Finish flushes whatever
// the codec held back (returning true when that produced output, which
// must then be drained the same way).
type CodecAdapter interface {
	Write(p []byte) error
	ReadAvailable() []byte
	Finish() (bool, error)
}

// drain moves everything the adapter has ready into out.
func drain(c CodecAdapter, out *bytes.Buffer) {
	for {
		b := c.ReadAvailable()
		if len(b) == 0 {
			return
		}
		out.Write(b)
	}
}
