// Package slicer implements the sample-range API (C6): translating a
// [start, count) sample range into a covering frame range, zero-padding
// out-of-bounds regions, and scattering PCM into the caller's per-channel
// buffers.
package slicer

import (
	"errors"
	"fmt"

	"github.com/hydra3333/bestsource/internal/frame"
	"github.com/hydra3333/bestsource/internal/trackindex"
)

// ErrInternalConsistency mirrors seekengine.ErrInternalConsistency for
// the slicer's own unrecoverable failure mode: producing something
// other than exactly the requested sample count.
var ErrInternalConsistency = errors.New("slicer: internal consistency failure")

// FrameSource is the subset of seekengine.Engine the slicer depends
// on, kept as an interface so tests can substitute a fake.
type FrameSource interface {
	GetFrame(n int64, linearHint bool) (*frame.Frame, error)
}

// Slicer answers GetPlanar requests against an index and a frame
// source. It carries no delay compensation: SampleDelay, mentioned as
// a planned-but-unimplemented offset in the original engine this is
// modeled on, is not exposed here. Were a backend ever to report a
// non-zero decoder delay, the fix belongs here, subtracted from start
// in GetPlanar before the zero-fill regions are computed.
type Slicer struct {
	idx    *trackindex.Index
	engine FrameSource
}

// New builds a Slicer over idx, pulling frames from engine.
func New(idx *trackindex.Index, engine FrameSource) *Slicer {
	return &Slicer{idx: idx, engine: engine}
}

// GetPlanar fills each of out (one slice per channel, len(out) ==
// channel count) with bytesPerSample*count bytes covering
// [start, start+count) samples, zero-padding any portion outside
// [0, NumSamples).
func (s *Slicer) GetPlanar(out [][]byte, bytesPerSample int, start, count int64) error {
	if count <= 0 {
		return nil
	}
	numSamples := s.idx.NumSamples()

	// Compute the three regions independently from the caller's
	// original (possibly negative / possibly overflowing) range,
	// rather than mutating a running offset: this is what makes the
	// negative-start-and-overflowing-end combination well-defined,
	// unlike the pointer-arithmetic version this replaces.
	leftZero := int64(0)
	if start < 0 {
		leftZero = count
		if -start < leftZero {
			leftZero = -start
		}
	}

	end := start + count
	rightZeroSamples := int64(0)
	if end > numSamples {
		rightZeroSamples = end - numSamples
		if rightZeroSamples > count {
			rightZeroSamples = count
		}
	}

	realStart := start
	if realStart < 0 {
		realStart = 0
	}
	realEnd := end
	if realEnd > numSamples {
		realEnd = numSamples
	}
	realCount := realEnd - realStart
	if realCount < 0 {
		realCount = 0
	}

	for ch := range out {
		zeroRange(out[ch], 0, leftZero*int64(bytesPerSample))
		tailOffset := (leftZero + realCount) * int64(bytesPerSample)
		zeroRange(out[ch], tailOffset, int64(len(out[ch])))
	}

	if realCount == 0 {
		return nil
	}

	first, last, _ := s.idx.FrameRange(realStart, realCount)
	if first == -1 {
		return fmt.Errorf("%w: FrameRange returned empty for a non-empty real region", ErrInternalConsistency)
	}

	writeOffsetSamples := leftZero
	cursorSample := realStart

	for i := first; i <= last; i++ {
		f, err := s.engine.GetFrame(int64(i), false)
		if err != nil {
			return fmt.Errorf("slicer: get_frame(%d): %w", i, err)
		}
		if f == nil {
			return fmt.Errorf("%w: frame %d unavailable within a validated range", ErrInternalConsistency, i)
		}

		rec := s.idx.Frame(i)

		// Portion of this frame that falls inside [cursorSample, realEnd).
		copyFrom := cursorSample - rec.Start
		if copyFrom < 0 {
			copyFrom = 0
		}
		copyTo := rec.Length
		if rec.Start+copyTo > realEnd {
			copyTo = realEnd - rec.Start
		}
		copySamples := copyTo - copyFrom
		if copySamples <= 0 {
			continue
		}

		if err := copyFrameInto(out, f, bytesPerSample, copyFrom, copySamples, writeOffsetSamples); err != nil {
			return err
		}

		writeOffsetSamples += copySamples
		cursorSample = rec.Start + copyTo
	}

	if writeOffsetSamples != leftZero+realCount {
		return fmt.Errorf("%w: wrote %d samples, expected %d", ErrInternalConsistency, writeOffsetSamples-leftZero, realCount)
	}
	return nil
}

func zeroRange(buf []byte, from, to int64) {
	if from < 0 {
		from = 0
	}
	if to > int64(len(buf)) {
		to = int64(len(buf))
	}
	for i := from; i < to; i++ {
		buf[i] = 0
	}
}

// copyFrameInto copies copySamples samples starting at sample offset
// copyFrom within f into out, starting at sample offset writeOffset in
// each channel's output buffer. It de-interleaves packed frames and
// copies planar frames directly.
func copyFrameInto(out [][]byte, f *frame.Frame, bytesPerSample int, copyFrom, copySamples, writeOffset int64) error {
	if len(f.Planes) > 0 {
		if len(f.Planes) != len(out) {
			return fmt.Errorf("%w: frame has %d planes, output wants %d channels", ErrInternalConsistency, len(f.Planes), len(out))
		}
		for ch := range out {
			src := f.Planes[ch]
			srcOff := copyFrom * int64(bytesPerSample)
			dstOff := writeOffset * int64(bytesPerSample)
			n := copySamples * int64(bytesPerSample)
			copy(out[ch][dstOff:dstOff+n], src[srcOff:srcOff+n])
		}
		return nil
	}

	channels := int64(len(out))
	for s := int64(0); s < copySamples; s++ {
		srcSample := copyFrom + s
		for ch := int64(0); ch < channels; ch++ {
			srcOff := (srcSample*channels + ch) * int64(bytesPerSample)
			dstOff := (writeOffset + s) * int64(bytesPerSample)
			copy(out[ch][dstOff:dstOff+int64(bytesPerSample)], f.Packed[srcOff:srcOff+int64(bytesPerSample)])
		}
	}
	return nil
}
