// Package seekengine implements the hash-indexed, multi-decoder
// scheduling core (C5): choosing a decoder, seeking by index,
// verifying location by hash-sequence match, retrying, and degrading
// to permanent linear decoding when seeking proves unreliable.
package seekengine

import (
	"errors"
	"fmt"

	"github.com/hydra3333/bestsource/internal/config"
	"github.com/hydra3333/bestsource/internal/decoder"
	"github.com/hydra3333/bestsource/internal/frame"
	"github.com/hydra3333/bestsource/internal/framecache"
	"github.com/hydra3333/bestsource/internal/hasher"
	"github.com/hydra3333/bestsource/internal/trackindex"
)

// ErrInternalConsistency marks defects that should be structurally
// impossible given the engine's own bookkeeping (e.g. a decoder slot
// identified moments ago no longer being there). It does not cover a
// hash mismatch with no prior seek: that case returns (nil, nil), the
// same null-return convention spec.md §7 uses for out-of-range
// ordinals, matching the original's exception-vs-nullptr split where
// the slicer's own count mismatch is the one that raises.
var ErrInternalConsistency = errors.New("seekengine: internal consistency failure")

type slot struct {
	handle  *decoder.Handle
	lastUse int64
	empty   bool
}

// NewBackendFunc constructs a fresh, unopened decoder backend of the
// concrete type the engine should use for new decoder slots.
type NewBackendFunc func() decoder.Backend

// Engine is the seek-and-verify core. It is not safe for concurrent
// use, matching the single-caller model of the source it belongs to.
type Engine struct {
	idx         *trackindex.Index
	cache       *framecache.Cache
	newBackend  NewBackendFunc
	openOpts    decoder.OpenOptions
	preroll     int
	slots       []slot
	useSeq      int64
	badSeek     map[int64]bool
	linearMode  bool
}

// New builds an Engine over idx, using cache for decoded-frame reuse
// and newBackend to open fresh decoders when needed.
func New(idx *trackindex.Index, cache *framecache.Cache, newBackend NewBackendFunc, openOpts decoder.OpenOptions, preroll int) *Engine {
	slots := make([]slot, config.MaxDecoders)
	for i := range slots {
		slots[i].empty = true
	}
	return &Engine{
		idx:        idx,
		cache:      cache,
		newBackend: newBackend,
		openOpts:   openOpts,
		preroll:    preroll,
		slots:      slots,
		badSeek:    make(map[int64]bool),
	}
}

// SeedSlot installs an already-open handle into slot 0, letting the
// property-peek decoder opened during source.Open stay resident
// instead of being discarded and reopened for the first GetFrame call.
func (e *Engine) SeedSlot(h *decoder.Handle) {
	e.slots[0] = slot{handle: h, lastUse: e.nextUseSeq()}
}

// LinearMode reports whether the engine has permanently latched linear
// decoding.
func (e *Engine) LinearMode() bool { return e.linearMode }

// SetPreroll updates the pre-roll frame count used by future
// seek-target selection and linear catch-up.
func (e *Engine) SetPreroll(preroll int) { e.preroll = preroll }

// BadSeekCount reports the number of ordinals in the BadSeekSet, for
// tests exercising P9.
func (e *Engine) BadSeekCount() int { return len(e.badSeek) }

// Close releases every live decoder slot.
func (e *Engine) Close() error {
	var firstErr error
	for i := range e.slots {
		if !e.slots[i].empty {
			if err := e.slots[i].handle.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
			e.slots[i].empty = true
			e.slots[i].handle = nil
		}
	}
	return firstErr
}

func (e *Engine) nextUseSeq() int64 {
	e.useSeq++
	return e.useSeq
}

// GetFrame returns frame ordinal n, or (nil, nil) if n is out of
// range or a never-seeked decoder's output fails hash verification
// against the index. linearHint asks the engine to skip seek-target selection
// entirely and satisfy the request via the linear path, useful for
// callers who know they're scanning sequentially.
func (e *Engine) GetFrame(n int64, linearHint bool) (*frame.Frame, error) {
	if n < 0 || n >= int64(e.idx.Len()) {
		return nil, nil
	}
	if cached, ok := e.cache.Get(n); ok {
		return cached, nil
	}
	if e.linearMode || linearHint {
		return e.getFrameLinear(n, -1, 0, false, -1)
	}

	seekTarget := e.chooseSeekTarget(n)
	if seekTarget < config.MinSeekTargetOrdinal {
		return e.getFrameLinear(n, -1, 0, false, -1)
	}
	if slotIdx, ok := e.findSlotInRange(seekTarget, n); ok {
		return e.getFrameLinear(n, seekTarget, 0, false, slotIdx)
	}
	return e.seekAndDecode(n, seekTarget, 0)
}

// chooseSeekTarget walks backward from n-preroll for the largest
// ordinal >= MinSeekTargetOrdinal with a known PTS that isn't in
// BadSeekSet. Returns -1 if none qualifies.
func (e *Engine) chooseSeekTarget(n int64) int64 {
	numFrames := int64(e.idx.Len())
	start := n - int64(e.preroll)
	if start >= numFrames {
		start = numFrames - 1
	}
	for i := start; i >= config.MinSeekTargetOrdinal; i-- {
		if i < 0 {
			break
		}
		rec := e.idx.Frame(int(i))
		if rec.PTS != frame.PTSUnknown && !e.badSeek[i] {
			return i
		}
	}
	return -1
}

// findSlotInRange returns the index of a live decoder slot whose
// current ordinal lies in [lo, hi], if one exists.
func (e *Engine) findSlotInRange(lo, hi int64) (int, bool) {
	for i := range e.slots {
		s := &e.slots[i]
		if s.empty {
			continue
		}
		ord := s.handle.Ordinal()
		if ord >= lo && ord <= hi {
			return i, true
		}
	}
	return -1, false
}

// pickSlotForOpen returns an empty slot index, or the LRU victim slot
// (closing its current decoder) if none is empty.
func (e *Engine) pickSlotForOpen() (int, error) {
	for i := range e.slots {
		if e.slots[i].empty {
			return i, nil
		}
	}
	victim := 0
	for i := range e.slots {
		if e.slots[i].lastUse < e.slots[victim].lastUse {
			victim = i
		}
	}
	if err := e.slots[victim].handle.Close(); err != nil {
		return -1, fmt.Errorf("seekengine: closing evicted decoder: %w", err)
	}
	e.slots[victim] = slot{empty: true}
	return victim, nil
}

func (e *Engine) openFreshHandle() (*decoder.Handle, error) {
	return decoder.Open(e.newBackend(), e.openOpts)
}

// setLinearMode clears the cache, drops all decoders, and marks every
// future request as satisfied by forward-only decode. Irreversible.
func (e *Engine) setLinearMode() {
	e.linearMode = true
	e.cache.Clear()
	for i := range e.slots {
		if !e.slots[i].empty {
			e.slots[i].handle.Close()
			e.slots[i] = slot{empty: true}
		}
	}
}

// seekAndDecode seeks a fresh decoder to seekTarget and identifies its
// landing position by hash-sequence matching before handing off to the
// linear path to reach n.
func (e *Engine) seekAndDecode(n, seekTarget int64, depth int) (*frame.Frame, error) {
	if seekTarget < config.MinSeekTargetOrdinal {
		e.setLinearMode()
		return e.getFrameLinear(n, -1, depth, true, -1)
	}

	slotIdx, err := e.pickSlotForOpen()
	if err != nil {
		return nil, err
	}
	h, err := e.openFreshHandle()
	if err != nil {
		return nil, err
	}
	e.slots[slotIdx] = slot{handle: h, lastUse: e.nextUseSeq()}

	seekPTS := e.idx.Frame(int(seekTarget)).PTS
	if err := h.Seek(seekPTS); err != nil {
		e.setLinearMode()
		return e.getFrameLinear(n, -1, depth, true, -1)
	}

	if err := h.SkipFrames(e.preroll / 2); err != nil {
		return nil, err
	}

	retryBackward := func() (*frame.Frame, error) {
		e.badSeek[seekTarget] = true
		if depth < config.RetrySeekAttempts {
			newTarget := e.chooseSeekTarget(seekTarget - 100)
			return e.seekAndDecode(n, newTarget, depth+1)
		}
		e.setLinearMode()
		return e.getFrameLinear(n, -1, depth, true, -1)
	}

	var buffered []*frame.Frame
	var hashes []frame.Hash

	for {
		f, err := h.NextFrame()
		if err != nil {
			return nil, err
		}
		eof := f == nil
		if !eof {
			buffered = append(buffered, f)
			hashes = append(hashes, hasher.Hash(f))
		}

		matches := e.findMatches(hashes, eof)

		hasCandidate := false
		for _, m := range matches {
			if m <= n {
				hasCandidate = true
				break
			}
		}
		if !hasCandidate {
			return retryBackward()
		}
		if len(matches) > 1 && (eof || len(hashes) >= config.AmbiguityHashLimit) {
			return retryBackward()
		}
		if len(matches) == 1 {
			return e.identified(n, seekTarget, matches[0], buffered, depth)
		}
		if eof {
			// len(matches) == 0 already handled by hasCandidate above,
			// and >1 handled by the ambiguity branch, so this is
			// unreachable; guard anyway to avoid an infinite loop.
			return retryBackward()
		}
		// len(matches) > 1, not yet ambiguous: decode one more frame.
	}
}

// findMatches returns every index i (0 <= i <= NumFrames-len(hashes))
// such that idx.Frame(i+j).Hash == hashes[j] for all j. When eof is
// true, only the tail position is tested (the decoder has nothing left
// to disambiguate with).
func (e *Engine) findMatches(hashes []frame.Hash, eof bool) []int64 {
	m := int64(len(hashes))
	if m == 0 {
		return nil
	}
	numFrames := int64(e.idx.Len())
	if eof {
		i := numFrames - m
		if i < 0 {
			return nil
		}
		if e.matchesAt(i, hashes) {
			return []int64{i}
		}
		return nil
	}
	var out []int64
	maxI := numFrames - m
	for i := int64(0); i <= maxI; i++ {
		if e.matchesAt(i, hashes) {
			out = append(out, i)
		}
	}
	return out
}

func (e *Engine) matchesAt(i int64, hashes []frame.Hash) bool {
	for j, h := range hashes {
		if e.idx.Frame(int(i)+j).Hash != h {
			return false
		}
	}
	return true
}

// identified handles the len(matches)==1 case: it pins the decoder's
// position, distributes buffered frames into the cache (and picks out
// n's frame if buffered), then falls through to the linear path if n
// wasn't in the buffer.
func (e *Engine) identified(n, seekTarget, matchedN int64, buffered []*frame.Frame, depth int) (*frame.Frame, error) {
	slotIdx, ok := e.findHandleSlot(buffered)
	if !ok {
		return nil, fmt.Errorf("%w: identified decoder slot vanished", ErrInternalConsistency)
	}
	h := e.slots[slotIdx].handle

	landedOrdinal := matchedN + int64(len(buffered))
	var landedSample int64
	if landedOrdinal >= int64(e.idx.Len()) {
		// The buffered sequence ran exactly to end-of-stream; indexing
		// idx.Frame(landedOrdinal) would be out of bounds, so fall
		// back to the authoritative total instead of the original's
		// undefined one-past-the-end access.
		landedSample = e.idx.NumSamples()
	} else {
		landedSample = e.idx.Frame(int(landedOrdinal)).Start
	}
	h.SetPosition(landedOrdinal, landedSample)

	var result *frame.Frame
	for k, f := range buffered {
		absOrdinal := matchedN + int64(k)
		if absOrdinal >= n-int64(e.preroll) {
			e.cache.Put(absOrdinal, f.Clone())
		}
		if absOrdinal == n {
			result = f.Clone()
		}
	}
	if result != nil {
		return result, nil
	}
	return e.getFrameLinear(n, seekTarget, depth, false, slotIdx)
}

// findHandleSlot locates the slot currently holding a handle that just
// produced the frames in buffered. Since seekAndDecode always opens
// exactly one fresh handle per attempt and this is called immediately
// afterward, it's simply the most recently used slot.
func (e *Engine) findHandleSlot(buffered []*frame.Frame) (int, bool) {
	best := -1
	for i := range e.slots {
		if e.slots[i].empty {
			continue
		}
		if best == -1 || e.slots[i].lastUse > e.slots[best].lastUse {
			best = i
		}
	}
	if best == -1 {
		return -1, false
	}
	return best, true
}

// getFrameLinear decodes forward from the best available decoder until
// frame n is produced, verifying each frame's hash against the index.
// preferSlot, when >= 0, forces the use of that specific slot instead
// of the usual "largest ordinal <= n" selection.
func (e *Engine) getFrameLinear(n, seekTarget int64, depth int, forceUnseeked bool, preferSlot int) (*frame.Frame, error) {
	slotIdx, err := e.selectLinearSlot(n, forceUnseeked, preferSlot)
	if err != nil {
		return nil, err
	}
	h := e.slots[slotIdx].handle

	var result *frame.Frame
	for h.Ordinal() <= n && h.MoreFrames() {
		if h.Ordinal() >= n-int64(e.preroll) {
			ordinalBefore := h.Ordinal()
			f, err := h.NextFrame()
			if err != nil {
				return nil, err
			}
			if f == nil {
				break // decoder exhausted
			}
			got := hasher.Hash(f)
			want := e.idx.Frame(int(ordinalBefore)).Hash
			if got != want {
				if h.HasSeeked() {
					// seekTarget is -1 here when getFrameLinear was entered
					// from GetFrame's own linear path (no seek attempted for
					// this call) rather than from seekAndDecode, and the
					// mismatching handle just happens to carry an unrelated
					// earlier seek. -1 is not an ordinal, so nothing is
					// recorded in BadSeekSet for it, and the retry below
					// immediately falls below MinSeekTargetOrdinal and
					// latches linear mode, the same safe outcome as a real
					// exhausted retry.
					if seekTarget >= 0 {
						e.badSeek[seekTarget] = true
					}
					if depth < config.RetrySeekAttempts {
						newTarget := e.chooseSeekTarget(seekTarget - 100)
						return e.seekAndDecode(n, newTarget, depth+1)
					}
					e.setLinearMode()
					return e.getFrameLinear(n, -1, depth, true, -1)
				}
				// A never-seeked decoder producing a hash mismatch should
				// be impossible; treat it the same as an out-of-range
				// ordinal (nil, nil) rather than surfacing a hard error.
				return nil, nil
			}
			if ordinalBefore == n {
				result = f.Clone()
			}
			e.cache.Put(ordinalBefore, f.Clone())
		} else {
			toSkip := n - int64(e.preroll) - h.Ordinal()
			if err := h.SkipFrames(int(toSkip)); err != nil {
				return nil, err
			}
		}
	}
	return result, nil
}

// selectLinearSlot picks the decoder slot whose ordinal is the largest
// value <= n (restricted to never-seeked decoders when forceUnseeked),
// opening a fresh one in the best available slot if none qualifies.
func (e *Engine) selectLinearSlot(n int64, forceUnseeked bool, preferSlot int) (int, error) {
	if preferSlot >= 0 && !e.slots[preferSlot].empty {
		return preferSlot, nil
	}

	best := -1
	for i := range e.slots {
		s := &e.slots[i]
		if s.empty {
			continue
		}
		if forceUnseeked && s.handle.HasSeeked() {
			continue
		}
		if s.handle.Ordinal() > n {
			continue
		}
		if best == -1 || s.handle.Ordinal() > e.slots[best].handle.Ordinal() {
			best = i
		}
	}
	if best != -1 {
		e.slots[best].lastUse = e.nextUseSeq()
		return best, nil
	}

	slotIdx, err := e.pickSlotForOpen()
	if err != nil {
		return -1, err
	}
	h, err := e.openFreshHandle()
	if err != nil {
		return -1, err
	}
	e.slots[slotIdx] = slot{handle: h, lastUse: e.nextUseSeq()}
	return slotIdx, nil
}
