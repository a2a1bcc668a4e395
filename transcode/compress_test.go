package transcode

import (
	"bytes"
	"testing"
)

func collectOutput(t *testing.T, c CodecAdapter) []byte {
	t.Helper()
	var buf bytes.Buffer
	drain(c, &buf)
	return buf.Bytes()
}

func TestCompressorRoundTrip(t *testing.T) {
	plain := []byte("the quick brown fox jumps over the lazy dog, twice: " +
		"the quick brown fox jumps over the lazy dog")

	for _, encoding := range []string{"gzip", "deflate", "zstd"} {
		t.Run(encoding, func(t *testing.T) {
			enc := NewCompressor(encoding)
			if enc == nil {
				t.Fatalf("NewCompressor(%q) = nil", encoding)
			}

			var compressed bytes.Buffer
			// Write in two pieces to cross a flush boundary.
			half := len(plain) / 2
			for _, piece := range [][]byte{plain[:half], plain[half:]} {
				if err := enc.Write(piece); err != nil {
					t.Fatalf("Write: %v", err)
				}
				compressed.Write(collectOutput(t, enc))
			}
			produced, err := enc.Finish()
			if err != nil {
				t.Fatalf("Finish: %v", err)
			}
			if produced {
				compressed.Write(collectOutput(t, enc))
			}

			dec := NewDecompressor(encoding)
			if dec == nil {
				t.Fatalf("NewDecompressor(%q) = nil", encoding)
			}
			var plainAgain bytes.Buffer
			// Feed the compressed stream back one byte at a time; output
			// must not depend on flush boundaries.
			for _, b := range compressed.Bytes() {
				if err := dec.Write([]byte{b}); err != nil {
					t.Fatalf("Write: %v", err)
				}
				plainAgain.Write(collectOutput(t, dec))
			}
			produced, err = dec.Finish()
			if err != nil {
				t.Fatalf("Finish: %v", err)
			}
			if produced {
				plainAgain.Write(collectOutput(t, dec))
			}

			if !bytes.Equal(plainAgain.Bytes(), plain) {
				t.Errorf("round trip mismatch: got %q, want %q", plainAgain.Bytes(), plain)
			}
		})
	}
}

func TestNewCompressorUnsupported(t *testing.T) {
	for _, encoding := range []string{"", "identity", "br", "lzma"} {
		if c := NewCompressor(encoding); c != nil {
			t.Errorf("NewCompressor(%q) should be nil", encoding)
		}
	}
}

func TestNewDecompressorNames(t *testing.T) {
	supported := []string{"gzip", "x-gzip", "deflate", "x-deflate", "zstd", " GZIP "}
	for _, encoding := range supported {
		if NewDecompressor(encoding) == nil {
			t.Errorf("NewDecompressor(%q) should not be nil", encoding)
		}
	}
	unsupported := []string{"", "identity", "br", "compress"}
	for _, encoding := range unsupported {
		if NewDecompressor(encoding) != nil {
			t.Errorf("NewDecompressor(%q) should be nil", encoding)
		}
	}
}

func TestDefaultCompressor(t *testing.T) {
	tests := []struct {
		accept string
		want   string
	}{
		{"gzip", "gzip"},
		{"gzip, deflate", "gzip"},
		{"deflate;q=0.9, zstd", "deflate"},
		{"br, zstd", "zstd"},
		{"identity", ""},
		{"br", ""},
		{"", ""},
	}
	for _, tt := range tests {
		result := DefaultCompressor(nil, nil, tt.accept)
		if tt.want == "" {
			if result != nil {
				t.Errorf("DefaultCompressor(%q) = %v, want nil", tt.accept, result.TargetEncoding)
			}
			continue
		}
		if result == nil || result.TargetEncoding != tt.want {
			t.Errorf("DefaultCompressor(%q) chose %v, want %q", tt.accept, result, tt.want)
		}
	}
}
