package bestsource

import "errors"

// Error kinds a caller can test for with errors.Is. IndexMismatch and
// SeekUnreliable never reach this boundary: the first is absorbed by
// rebuilding the index, the second by the engine's retry/linear-mode
// machinery, per the propagation policy this taxonomy implements.
var (
	// ErrOpenFailure covers a container that cannot be opened, missing
	// stream info, a requested track that doesn't exist or isn't
	// audio, a missing codec, or an invalid option value.
	ErrOpenFailure = errors.New("bestsource: open failure")

	// ErrUnsupportedFormat covers ambisonic/custom channel layouts and
	// decoders that report zero-sized frames.
	ErrUnsupportedFormat = errors.New("bestsource: unsupported format")

	// ErrIndexFailure means indexing produced zero frames.
	ErrIndexFailure = errors.New("bestsource: index build produced no frames")

	// ErrInternalConsistency means the slicer failed to produce the
	// requested sample count, or the engine's decoder-slot bookkeeping
	// contradicted itself. A linear decode's hash mismatch with no
	// prior seek is deliberately not one of these: GetFrame returns
	// (nil, nil) for that case instead, the same as an out-of-range
	// ordinal.
	ErrInternalConsistency = errors.New("bestsource: internal consistency failure")
)
