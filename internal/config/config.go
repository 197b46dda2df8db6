// Package config holds tunable constants for the seek-and-verify engine.
package config

// Indexing settings
const (
	// MinSeekTargetOrdinal is the smallest frame ordinal choose_seek_target
	// will ever return. Below this floor, container quirks near stream
	// start are unreliable enough that a fresh linear decode is cheaper
	// and safer than seeking.
	MinSeekTargetOrdinal = 100

	// IndexFileExt is the extension used for persisted per-track indexes.
	IndexFileExt = ".bsindex"
)

// Seeking settings
const (
	// DefaultSeekPreroll is the number of frames decoded before the
	// target to warm up the decoder; these frames are cached but not
	// returned to the caller.
	DefaultSeekPreroll = 20

	// RetrySeekAttempts bounds how many times seek_and_decode will pick
	// a new seek target before permanently latching linear mode.
	RetrySeekAttempts = 3

	// AmbiguityHashLimit is the number of buffered hashes after which
	// an unresolved multi-match is treated as ambiguous rather than
	// continuing to accumulate more hashes.
	AmbiguityHashLimit = 10
)

// Decoding settings
const (
	// MaxDecoders is the number of live decoder slots the engine keeps.
	MaxDecoders = 3

	// DefaultThreadCap caps the automatically chosen decoder thread
	// count: passing < 1 selects min(runtime.NumCPU(), DefaultThreadCap).
	// An explicit count >= 1 is passed through unchanged.
	DefaultThreadCap = 16
)

// Caching settings
const (
	// DefaultMaxCacheBytes is the frame cache's byte budget when the
	// caller doesn't call SetMaxCacheSize.
	DefaultMaxCacheBytes = 1 << 30 // 1 GiB
)
