package hasher

import (
	"testing"

	"github.com/hydra3333/bestsource/internal/frame"
)

func TestHashDeterministic(t *testing.T) {
	f := &frame.Frame{Packed: []byte{1, 2, 3, 4, 5, 6, 7, 8}, NumSamples: 2, Channels: 2, BytesPerSample: 2}
	h1 := Hash(f)
	h2 := Hash(f)
	if h1 != h2 {
		t.Fatalf("hash not deterministic: %x != %x", h1, h2)
	}
}

func TestHashOfPlanarMatchesConcatenatedPlanes(t *testing.T) {
	// Canonical order concatenates plane 0..channels-1; a packed frame
	// carrying exactly that concatenation (not interleaved) must hash
	// identically to the equivalent planar frame.
	planar := &frame.Frame{
		Planes:         [][]byte{{1, 2, 5, 6}, {3, 4, 7, 8}},
		NumSamples:     2,
		Channels:       2,
		BytesPerSample: 2,
	}
	packedEquivalent := &frame.Frame{
		Packed:         []byte{1, 2, 5, 6, 3, 4, 7, 8},
		NumSamples:     2,
		Channels:       2,
		BytesPerSample: 2,
	}
	if Hash(planar) != Hash(packedEquivalent) {
		t.Fatalf("expected plane-concatenation to match its packed equivalent byte for byte")
	}
}

func TestHashDiffersOnContentChange(t *testing.T) {
	a := &frame.Frame{Packed: []byte{1, 2, 3, 4}, NumSamples: 1, Channels: 2, BytesPerSample: 2}
	b := &frame.Frame{Packed: []byte{1, 2, 3, 5}, NumSamples: 1, Channels: 2, BytesPerSample: 2}
	if Hash(a) == Hash(b) {
		t.Fatalf("expected different payloads to hash differently")
	}
}
