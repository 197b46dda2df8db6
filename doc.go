// Package bestsource provides frame-accurate random access to audio
// streams in arbitrary container/codec combinations. Callers open a
// Source once, then request individual decoded frames by ordinal or
// contiguous PCM ranges by sample offset, and get deterministic output
// regardless of the underlying container's seek accuracy.
//
// The hard work is the seek-and-verify engine in internal/seekengine:
// a hash-indexed, multi-decoder scheduler that builds a persistent
// per-track index on first open, uses it to translate sample ranges
// into frame ranges, chooses among a small pool of live decoders or
// seeks a fresh one to the best keyframe, reconstructs exact frame
// identity via content-hash sequence matching, and degrades to linear
// decoding when seeking proves unreliable.
package bestsource
