package decoder

import (
	"errors"
	"fmt"
	"runtime"

	"github.com/hydra3333/bestsource/internal/config"
	"github.com/hydra3333/bestsource/internal/frame"
)

// ErrZeroSizedSamples is a hard UnsupportedFormat error: a decoder that
// reports zero samples per frame cannot be indexed or seek-verified.
var ErrZeroSizedSamples = errors.New("decoder: backend reported a frame with zero samples")

// ErrUnsupportedChannelLayout is a hard UnsupportedFormat error: an
// ambisonic or custom channel order has no fixed per-channel plane
// mapping and can't be interpreted as flat PCM.
var ErrUnsupportedChannelLayout = errors.New("decoder: ambisonic or custom channel order not supported")

// ErrFormatChanged is a hard UnsupportedFormat error: the backend's
// sample format, byte width, or channel count changed mid-stream while
// the caller requires a fixed format (OpenOptions.VariableFormat == false).
var ErrFormatChanged = errors.New("decoder: mid-stream format change with variable_format disabled")

// Handle is the thin state the engine keeps around one open Backend:
// its next-to-emit frame ordinal and cumulative sample position, plus
// flags describing whether it has ever seeked and whether it has more
// frames to give.
type Handle struct {
	backend Backend

	ordinal    int64
	samplePos  int64
	hasSeeked  bool
	hasMore    bool
	properties frame.Properties
	propsKnown bool
}

// Open resolves thread count auto-selection and opens backend with
// opts, then returns a Handle positioned at ordinal 0.
func Open(backend Backend, opts OpenOptions) (*Handle, error) {
	if opts.Threads < 1 {
		opts.Threads = runtime.NumCPU()
		if opts.Threads > config.DefaultThreadCap {
			opts.Threads = config.DefaultThreadCap
		}
		if opts.Threads < 1 {
			opts.Threads = 1
		}
	}
	if err := backend.Open(opts); err != nil {
		return nil, fmt.Errorf("decoder: open %q: %w", opts.Path, err)
	}
	return &Handle{backend: backend, hasMore: true}, nil
}

// Ordinal returns the ordinal of the next frame NextFrame will emit.
func (h *Handle) Ordinal() int64 { return h.ordinal }

// SamplePos returns the cumulative sample offset of the next frame, as
// advanced by NextFrame. SkipFrames does not advance it, so after a
// skip it lags behind Ordinal until SetPosition sets it again.
func (h *Handle) SamplePos() int64 { return h.samplePos }

// HasSeeked reports whether Seek has ever succeeded on this handle.
func (h *Handle) HasSeeked() bool { return h.hasSeeked }

// MoreFrames reports whether the backend has not yet signalled EOF.
func (h *Handle) MoreFrames() bool { return h.hasMore }

// Properties returns the properties observed from the first decoded
// frame. Ambisonic or otherwise unsupported channel layouts must be
// rejected by the caller before relying on this value; Handle itself
// only surfaces what the backend reports.
func (h *Handle) Properties() frame.Properties { return h.properties }

// NextFrame pulls one decoded frame and advances ordinal/samplePos.
// Returns (nil, nil) at end of stream (matching spec's "end" sentinel,
// distinct from a hard error).
func (h *Handle) NextFrame() (*frame.Frame, error) {
	if !h.hasMore {
		return nil, nil
	}
	f, err := h.backend.NextFrame()
	if err != nil {
		if errors.Is(err, ErrNoMoreFrames) {
			h.hasMore = false
			return nil, nil
		}
		return nil, err
	}
	if f.NumSamples <= 0 {
		return nil, ErrZeroSizedSamples
	}
	if !h.propsKnown {
		h.properties = h.backend.Properties()
		h.propsKnown = true
	}
	h.ordinal++
	h.samplePos += int64(f.NumSamples)
	return f, nil
}

// SkipFrames decodes and drops up to n frames without returning them.
// If the backend runs out mid-skip, ordinal only advances by what was
// actually consumed and MoreFrames reports false from then on.
func (h *Handle) SkipFrames(n int) error {
	skipped, err := h.backend.SkipFrames(n)
	// SkipFrames can't know sample counts without decoding, so only the
	// ordinal advances, by the frames actually consumed; samplePos is
	// left unchanged.
	h.ordinal += int64(skipped)
	if err != nil {
		return err
	}
	if skipped < n {
		h.hasMore = false
	}
	return nil
}

// Seek flushes and seeks the backend to pts and sets ordinal/samplePos
// to -1 ("unknown"). Later NextFrame and SkipFrames calls advance them
// from -1 as usual, so after a seek they describe a real position only
// once SetPosition has been called with a hash-verified location.
func (h *Handle) Seek(pts int64) error {
	if err := h.backend.Seek(pts); err != nil {
		return err
	}
	h.hasSeeked = true
	h.hasMore = true
	h.ordinal = -1
	h.samplePos = -1
	return nil
}

// SetPosition is called by the engine once a hash-sequence match
// identifies exactly where a post-seek decoder landed.
func (h *Handle) SetPosition(ordinal, samplePos int64) {
	h.ordinal = ordinal
	h.samplePos = samplePos
}

// Close releases the underlying backend.
func (h *Handle) Close() error { return h.backend.Close() }
