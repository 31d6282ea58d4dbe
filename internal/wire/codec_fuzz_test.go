package wire

import (
	"bytes"
	"testing"

	"github.com/kstaniek/go-can-bridge/internal/can"
)

// FuzzCodecRoundTrip re-encodes every datagram that decodes cleanly and expects identical bytes.
func FuzzCodecRoundTrip(f *testing.F) {
	c := Codec{}
	seed := [][]can.Frame{{mkFrame(0x100, 0)}, {mkFrame(0x200, 8)}, {mkFrame(0x300, 3), can.New(0x301, 5)}}
	for _, s := range seed {
		f.Add(c.Encode(s))
	}
	f.Fuzz(func(t *testing.T, data []byte) {
		frames, err := c.DecodeDatagram(data)
		if err != nil || len(frames) == 0 {
			return
		}
		again := c.Encode(frames)
		back, err := c.DecodeDatagram(again)
		if err != nil {
			t.Fatalf("re-decode: %v", err)
		}
		for i := range frames {
			if back[i] != frames[i] {
				t.Fatalf("frame %d changed across re-encode", i)
			}
		}
	})
}

// FuzzCodecDecodeInvalid ensures decoder doesn't panic with random input.
func FuzzCodecDecodeInvalid(f *testing.F) {
	c := Codec{}
	f.Add([]byte{0, 0, 0, 1, 0})
	f.Fuzz(func(t *testing.T, data []byte) {
		r := bytes.NewReader(data)
		_, _ = c.Decode(r)
	})
}
