// Package frame defines the PCM frame and index-record types shared by
// every layer of the seek-and-verify engine.
package frame

// Format describes the sample encoding of decoded PCM data.
type Format int

const (
	// FormatUnknown is the zero value; never produced by a real decoder.
	FormatUnknown Format = iota
	// FormatInteger marks fixed-point PCM samples.
	FormatInteger
	// FormatFloat marks IEEE float PCM samples.
	FormatFloat
)

// Properties describes the immutable, post-open characteristics of an
// audio track. Populated once from the first decoded frame and never
// mutated afterward except for NumSamples/NumFrames, which the track
// index recomputes authoritatively once the index is complete.
type Properties struct {
	Format         Format
	BytesPerSample int
	BitsPerSample  int
	SampleRate     int
	Channels       int
	ChannelLayout  uint64
	NumSamples     int64
	NumFrames      int64
	StartTimeSecs  float64
	Track          int
}

// Frame is one decoder-emitted unit of PCM samples across all channels.
//
// Exactly one of Planes or Packed holds data, matching how the backend
// produced it. Handle.NextFrame passes the backend's frame through
// unchanged, so callers must branch on len(Planes) > 0 vs Packed rather
// than assume either is always populated.
type Frame struct {
	// Planes holds one byte slice per channel, each BytesPerSample*NumSamples long.
	Planes [][]byte
	// Packed holds interleaved channel data, BytesPerSample*Channels*NumSamples long.
	Packed []byte

	NumSamples     int
	Channels       int
	BytesPerSample int
	PTS            int64 // sentinel PTSUnknown means "no timestamp"
}

// PTSUnknown is the sentinel PTS value meaning "no timestamp reported".
const PTSUnknown = int64(-1) << 62

// ByteSize returns the total payload size counted by the frame cache,
// ignoring any header/metadata overhead per spec.
func (f *Frame) ByteSize() int {
	if len(f.Packed) > 0 {
		return len(f.Packed)
	}
	total := 0
	for _, p := range f.Planes {
		total += len(p)
	}
	return total
}

// Clone returns a deep copy suitable for handing to a caller or storing
// in the cache independently of the original's backing arrays.
func (f *Frame) Clone() *Frame {
	out := &Frame{
		NumSamples:     f.NumSamples,
		Channels:       f.Channels,
		BytesPerSample: f.BytesPerSample,
		PTS:            f.PTS,
	}
	if f.Packed != nil {
		out.Packed = append([]byte(nil), f.Packed...)
	}
	if f.Planes != nil {
		out.Planes = make([][]byte, len(f.Planes))
		for i, p := range f.Planes {
			out.Planes[i] = append([]byte(nil), p...)
		}
	}
	return out
}

// Hash is the 16-byte deterministic content digest of a frame's PCM
// payload, computed by internal/hasher.
type Hash [16]byte

// Record is one entry in the track index: metadata about a single
// decoded frame, without its PCM payload.
type Record struct {
	PTS    int64 // PTSUnknown if not reported
	Start  int64 // cumulative sample offset of this frame's first sample
	Length int64 // sample count in this frame, > 0
	Hash   Hash
}
