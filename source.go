package bestsource

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/hydra3333/bestsource/internal/cachefile"
	"github.com/hydra3333/bestsource/internal/config"
	"github.com/hydra3333/bestsource/internal/decoder"
	"github.com/hydra3333/bestsource/internal/decoder/registry"
	"github.com/hydra3333/bestsource/internal/frame"
	"github.com/hydra3333/bestsource/internal/framecache"
	"github.com/hydra3333/bestsource/internal/seekengine"
	"github.com/hydra3333/bestsource/internal/slicer"
	"github.com/hydra3333/bestsource/internal/trackindex"
)

// ProgressFunc receives (track, current, total) while an index is
// being built from a linear decode. Both counts are decoded samples,
// not bytes; total is -1 until the build completes, when it is called
// once more with current == total.
type ProgressFunc func(track int, current, total int64)

// OpenOptions configures Open.
type OpenOptions struct {
	// Track selects an audio stream by index; -1 auto-selects the
	// first audio stream. The zero value selects track 0 explicitly,
	// not auto-select — pass -1 if that's what's wanted.
	Track int
	// VariableFormat, when true, tolerates (rather than refuses)
	// mid-stream format changes; it also forces the FFmpeg backend,
	// since none of the native backends handle that case.
	VariableFormat bool
	// Threads bounds decoder thread count; < 1 auto-selects
	// min(runtime.NumCPU(), DefaultThreadCap).
	Threads int
	// CacheDir, if non-empty, is a directory used to persist and
	// reload the per-track index across opens of the same file.
	CacheDir string
	// DemuxOptions are passed through to the underlying demuxer.
	DemuxOptions [][2]string
	// DRCScale is the AC-3/E-AC-3 dynamic range compression scale;
	// must be >= 0. Zero means "backend default".
	DRCScale float64
	// Progress, if non-nil, is invoked periodically during index
	// construction. Never called when an on-disk index is reused.
	Progress ProgressFunc
	// MaxCacheBytes overrides the frame cache's byte budget; <= 0
	// selects config.DefaultMaxCacheBytes.
	MaxCacheBytes int64
	// SeekPreroll overrides the engine's pre-roll frame count; <= 0
	// selects config.DefaultSeekPreroll.
	SeekPreroll int
}

// Source is one open, seekable audio track.
type Source struct {
	idx    *trackindex.Index
	cache  *framecache.Cache
	engine *seekengine.Engine
	slicer *slicer.Slicer
	props  frame.Properties
}

// Open opens path, resolving or rebuilding its per-track index and
// preparing the seek-and-verify engine. The returned Source owns all
// decoders it creates; call Close when done.
func Open(path string, opts OpenOptions) (*Source, error) {
	if opts.DRCScale < 0 {
		return nil, fmt.Errorf("%w: negative drc_scale %v", ErrOpenFailure, opts.DRCScale)
	}
	if opts.Track < 0 {
		opts.Track = -1
	}

	backend, _, err := registry.Select(path, opts.VariableFormat)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrOpenFailure, err)
	}
	decOpts := decoder.OpenOptions{
		Path:           path,
		Track:          opts.Track,
		VariableFormat: opts.VariableFormat,
		Threads:        opts.Threads,
		DemuxOptions:   opts.DemuxOptions,
		DRCScale:       opts.DRCScale,
	}
	handle, err := decoder.Open(backend, decOpts)
	if err != nil {
		if errors.Is(err, decoder.ErrUnsupportedChannelLayout) || errors.Is(err, decoder.ErrFormatChanged) {
			return nil, fmt.Errorf("%w: %v", ErrUnsupportedFormat, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrOpenFailure, err)
	}

	header := cachefile.Header{
		Track:          int32(opts.Track),
		VariableFormat: opts.VariableFormat,
		DemuxOptions:   opts.DemuxOptions,
		DRCScale:       opts.DRCScale,
	}

	cachePath := ""
	if opts.CacheDir != "" {
		cachePath = indexFilePath(opts.CacheDir, path, opts.Track)
	}

	idx, seedHandle, err := loadOrBuildIndex(handle, header, cachePath, opts.Progress)
	if err != nil {
		handle.Close()
		return nil, err
	}
	if seedHandle == nil {
		// Build consumed the handle to end of stream; nothing left to
		// reuse for the engine's first decoder slot.
		handle.Close()
	}

	props := handle.Properties()
	if props.Channels <= 0 {
		if seedHandle != nil {
			seedHandle.Close()
		}
		return nil, fmt.Errorf("%w: decoder reported %d channels", ErrUnsupportedFormat, props.Channels)
	}
	props.NumSamples = idx.NumSamples()
	props.NumFrames = int64(idx.Len())
	props.Track = opts.Track

	maxBytes := opts.MaxCacheBytes
	if maxBytes <= 0 {
		maxBytes = config.DefaultMaxCacheBytes
	}
	preroll := opts.SeekPreroll
	if preroll <= 0 {
		preroll = config.DefaultSeekPreroll
	}

	cache := framecache.New(maxBytes)
	// Select already succeeded once above for this exact (path,
	// variableFormat) pair, so it is not expected to fail here; a
	// backend that errors on Open still surfaces through Handle.Open.
	newBackend := func() decoder.Backend {
		b, _, _ := registry.Select(path, opts.VariableFormat)
		return b
	}
	engine := seekengine.New(idx, cache, newBackend, decOpts, preroll)
	if seedHandle != nil {
		engine.SeedSlot(seedHandle)
	}

	return &Source{
		idx:    idx,
		cache:  cache,
		engine: engine,
		slicer: slicer.New(idx, engine),
		props:  props,
	}, nil
}

// loadOrBuildIndex tries the on-disk index at cachePath (when
// non-empty), falling back to a linear-decode build via handle. On the
// load path, a one-frame peek decode establishes AudioProperties and
// leaves handle sitting at ordinal 1, positioned to be seeded directly
// into the engine's slot pool rather than discarded and reopened.
func loadOrBuildIndex(handle *decoder.Handle, header cachefile.Header, cachePath string, progress ProgressFunc) (idx *trackindex.Index, seedHandle *decoder.Handle, err error) {
	if cachePath != "" {
		// A missing file, a mismatched header, or a corrupt file are
		// all treated the same way: silently rebuild.
		if loaded, loadErr := trackindex.Load(cachePath, header); loadErr == nil {
			if _, err := handle.NextFrame(); err != nil {
				return nil, nil, classifyDecodeErr(err)
			}
			return loaded, handle, nil
		}
	}

	built, buildErr := trackindex.Build(handle, header, trackindex.ProgressFunc(progress))
	if buildErr != nil {
		return nil, nil, classifyDecodeErr(buildErr)
	}
	if cachePath != "" {
		if err := trackindex.Store(cachePath, built); err != nil {
			return nil, nil, fmt.Errorf("%w: storing index: %v", ErrOpenFailure, err)
		}
	}
	return built, nil, nil
}

func classifyDecodeErr(err error) error {
	if errors.Is(err, trackindex.ErrEmptyIndex) {
		return fmt.Errorf("%w: %v", ErrIndexFailure, err)
	}
	if errors.Is(err, decoder.ErrZeroSizedSamples) || errors.Is(err, decoder.ErrUnsupportedChannelLayout) || errors.Is(err, decoder.ErrFormatChanged) {
		return fmt.Errorf("%w: %v", ErrUnsupportedFormat, err)
	}
	return fmt.Errorf("%w: %v", ErrOpenFailure, err)
}

func indexFilePath(cacheDir, path string, track int) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s#%d", abs, track)))
	return filepath.Join(cacheDir, hex.EncodeToString(sum[:])+config.IndexFileExt)
}

// Properties returns the track's audio properties, authoritative as of
// the completed index build or load.
func (s *Source) Properties() frame.Properties { return s.props }

// SetMaxCacheSize updates the frame cache's byte budget, applying
// eviction immediately if the new budget is smaller.
func (s *Source) SetMaxCacheSize(bytes int64) { s.cache.SetMax(bytes) }

// SetSeekPreroll updates the number of frames decoded before a seek
// target to warm up the decoder before verification begins.
func (s *Source) SetSeekPreroll(frames int) { s.engine.SetPreroll(frames) }

// GetFrame returns frame ordinal n, or (nil, nil) if n is out of
// range or a never-seeked decoder's output fails hash verification
// against the index. linearHint asks the engine to skip seek-target selection and
// satisfy the request by forward decode, useful for callers scanning
// sequentially who don't want to pay for seek-point bookkeeping.
func (s *Source) GetFrame(n int64, linearHint bool) (*frame.Frame, error) {
	f, err := s.engine.GetFrame(n, linearHint)
	if err != nil {
		if errors.Is(err, seekengine.ErrInternalConsistency) {
			return nil, fmt.Errorf("%w: %v", ErrInternalConsistency, err)
		}
		if errors.Is(err, decoder.ErrUnsupportedChannelLayout) || errors.Is(err, decoder.ErrFormatChanged) {
			return nil, fmt.Errorf("%w: %v", ErrUnsupportedFormat, err)
		}
		return nil, err
	}
	return f, nil
}

// GetPlanar fills each of out (one slice per channel) with
// bytesPerSample*count bytes covering [start, start+count) samples,
// zero-padding any portion outside [0, NumSamples).
func (s *Source) GetPlanar(out [][]byte, start, count int64) error {
	if err := s.slicer.GetPlanar(out, s.props.BytesPerSample, start, count); err != nil {
		if errors.Is(err, slicer.ErrInternalConsistency) {
			return fmt.Errorf("%w: %v", ErrInternalConsistency, err)
		}
		return err
	}
	return nil
}

// Close releases every decoder the Source has opened.
func (s *Source) Close() error { return s.engine.Close() }

// LinearMode reports whether the engine has permanently latched linear
// decoding, a diagnostic signal that seeking on this stream is
// unreliable.
func (s *Source) LinearMode() bool { return s.engine.LinearMode() }

// BadSeekCount reports how many seek targets have been marked
// unreliable so far, a diagnostic signal for CLI/verify tooling.
func (s *Source) BadSeekCount() int { return s.engine.BadSeekCount() }
