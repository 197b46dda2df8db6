// Package hasher computes the deterministic content hash used to
// identify decoded frames during seek verification.
package hasher

import (
	"crypto/md5"

	"github.com/hydra3333/bestsource/internal/frame"
)

// Hash computes the canonical 16-byte digest of f's PCM payload.
//
// Planar frames are hashed plane 0..channels-1 in order; packed frames
// hash the single interleaved region. No metadata, header, or padding
// bytes participate. The bytes are hashed in their stored order, so a
// packed frame hashes like a planar one only if its buffer holds the
// plane concatenation; interleaved data of the same PCM content hashes
// differently from its planar form.
func Hash(f *frame.Frame) frame.Hash {
	h := md5.New()
	if len(f.Packed) > 0 {
		h.Write(f.Packed)
	} else {
		for _, plane := range f.Planes {
			h.Write(plane)
		}
	}
	var out frame.Hash
	copy(out[:], h.Sum(nil))
	return out
}
