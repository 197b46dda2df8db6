// Package decoder wraps a demuxer+decoder backend behind a single
// interface (Backend) and a stateful driver (Handle) that the
// seek-and-verify engine uses to pull frames, skip, and seek.
package decoder

import (
	"errors"

	"github.com/hydra3333/bestsource/internal/frame"
)

// ErrNoMoreFrames is returned by Backend.NextFrame at end of stream.
var ErrNoMoreFrames = errors.New("decoder: no more frames")

// ErrUnseekable is returned by Backend.Seek when the backend cannot
// honor a seek request at all (as opposed to seeking imprecisely).
var ErrUnseekable = errors.New("decoder: stream is not seekable")

// OpenOptions configures a Backend.Open call.
type OpenOptions struct {
	Path           string
	Track          int // -1 selects the first audio stream
	VariableFormat bool
	Threads        int // < 1 means "choose automatically"
	DemuxOptions   [][2]string
	DRCScale       float64 // AC-3/E-AC-3 dynamic range compression scale
}

// Backend is the decoder-capability contract every concrete decoder
// (FFmpeg-backed or native) must satisfy. A Backend is not expected to
// be safe for concurrent use; the engine drives one Backend from one
// goroutine at a time, per the single-caller concurrency model.
type Backend interface {
	// Open opens the container/stream described by opts and prepares
	// to decode. It must resolve an auto-track when opts.Track < 0.
	Open(opts OpenOptions) error

	// NextFrame decodes and returns the next PCM frame, or
	// ErrNoMoreFrames at end of stream.
	NextFrame() (*frame.Frame, error)

	// SkipFrames decodes and discards up to n frames without
	// materializing their PCM payload where the backend can avoid the
	// cost. It returns the number of frames actually consumed, which is
	// less than n at end of stream (never an error in that case).
	SkipFrames(n int) (int, error)

	// Seek flushes buffers and seeks to the nearest keyframe at or
	// before pts, in the stream's native time base. Returns
	// ErrUnseekable if the backend cannot seek at all.
	Seek(pts int64) error

	// Properties returns the properties observed from the first
	// decoded frame. Valid only after at least one NextFrame call.
	Properties() frame.Properties

	// Close releases all resources held by the backend.
	Close() error
}
