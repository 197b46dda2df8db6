// Package trackindex builds, persists, and queries the ordered
// per-frame index (C2) that everything else in the seek-and-verify
// engine is built on top of.
package trackindex

import (
	"fmt"
	"os"

	"github.com/hydra3333/bestsource/internal/cachefile"
	"github.com/hydra3333/bestsource/internal/decoder"
	"github.com/hydra3333/bestsource/internal/frame"
	"github.com/hydra3333/bestsource/internal/hasher"
)

// ErrEmptyIndex is IndexFailure: a build that produced zero frames.
var ErrEmptyIndex = fmt.Errorf("trackindex: index build produced zero frames")

// ProgressFunc receives (track, current, total) during a build. Both
// counts are decoded samples, not bytes: Build calls it every 64 frames
// with total == -1 while the total is still unknown, and one final time
// with current == total on completion.
type ProgressFunc func(track int, current, total int64)

// Index is the immutable, ordered sequence of frame records for one
// track, plus the open-options header it was built or loaded under.
type Index struct {
	Header  cachefile.Header
	Records []frame.Record
}

// Build decodes h linearly from its current position (a fresh,
// never-seeked decoder is expected) to produce a complete index.
// AudioProperties.NumSamples is authoritative from this index, not
// from any container-declared duration.
func Build(h *decoder.Handle, header cachefile.Header, progress ProgressFunc) (*Index, error) {
	var records []frame.Record
	var cumulative int64
	var frameNum int

	for {
		f, err := h.NextFrame()
		if err != nil {
			return nil, fmt.Errorf("trackindex: build: %w", err)
		}
		if f == nil {
			break
		}
		rec := frame.Record{
			PTS:    f.PTS,
			Start:  cumulative,
			Length: int64(f.NumSamples),
			Hash:   hasher.Hash(f),
		}
		records = append(records, rec)
		cumulative += rec.Length
		frameNum++

		if progress != nil && frameNum%64 == 0 {
			progress(int(header.Track), cumulative, -1)
		}
	}

	if len(records) == 0 {
		return nil, ErrEmptyIndex
	}
	if progress != nil {
		progress(int(header.Track), cumulative, cumulative)
	}

	return &Index{Header: header, Records: records}, nil
}

// Store persists idx to path in the §6.2 wire format.
func Store(path string, idx *Index) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("trackindex: store: %w", err)
	}
	defer f.Close()
	if err := cachefile.Write(f, idx.Header, idx.Records); err != nil {
		return fmt.Errorf("trackindex: store: %w", err)
	}
	return nil
}

// ErrIndexMismatch signals that an on-disk index exists but was built
// under different open options; the caller must rebuild.
var ErrIndexMismatch = fmt.Errorf("trackindex: on-disk index does not match requested open options")

// Load reads path and validates it against want. Returns
// ErrIndexMismatch (recoverable by rebuilding) if the stored header
// doesn't match.
func Load(path string, want cachefile.Header) (*Index, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err // caller treats "not found" as "no cache yet", not IndexMismatch
	}
	defer f.Close()

	h, records, err := cachefile.Read(f)
	if err != nil {
		return nil, fmt.Errorf("trackindex: load: %w", err)
	}
	if !h.Equivalent(want) {
		return nil, ErrIndexMismatch
	}
	return &Index{Header: h, Records: records}, nil
}

// Len returns the number of frames in the index.
func (idx *Index) Len() int { return len(idx.Records) }

// Frame returns the i'th frame record.
func (idx *Index) Frame(i int) frame.Record { return idx.Records[i] }

// NumSamples returns the authoritative total sample count.
func (idx *Index) NumSamples() int64 {
	if len(idx.Records) == 0 {
		return 0
	}
	last := idx.Records[len(idx.Records)-1]
	return last.Start + last.Length
}

// FrameRange translates the half-open sample range [start, start+count)
// into an inclusive frame-ordinal range (first, last) plus the
// absolute sample offset of frame `first`'s first sample.
//
// Returns first == -1 when count <= 0 or start >= NumSamples(), per
// spec.md §4.2, and also when the whole range lies before sample 0.
// A negative start is clamped to 0 after the end of the range is
// computed, so only the in-bounds part is translated.
func (idx *Index) FrameRange(start, count int64) (first, last int, firstSample int64) {
	if count <= 0 || start >= idx.NumSamples() || len(idx.Records) == 0 {
		return -1, -1, 0
	}
	end := start + count
	if end <= 0 {
		return -1, -1, 0
	}
	if start < 0 {
		start = 0
	}
	if end > idx.NumSamples() {
		end = idx.NumSamples()
	}

	first = idx.frameContaining(start)
	last = idx.frameContaining(end - 1)
	firstSample = idx.Records[first].Start
	return first, last, firstSample
}

// frameContaining returns the ordinal of the frame whose [start,
// start+length) range contains sample, via binary search over the
// monotonic Start field.
func (idx *Index) frameContaining(sample int64) int {
	lo, hi := 0, len(idx.Records)-1
	for lo < hi {
		mid := (lo + hi + 1) / 2
		if idx.Records[mid].Start <= sample {
			lo = mid
		} else {
			hi = mid - 1
		}
	}
	return lo
}
