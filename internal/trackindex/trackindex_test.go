package trackindex

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/hydra3333/bestsource/internal/cachefile"
	"github.com/hydra3333/bestsource/internal/decoder"
	"github.com/hydra3333/bestsource/internal/frame"
)

// fakeBackend emits a fixed sequence of fixed-size frames, matching
// internal/decoder's own test fake but kept local to avoid an import
// cycle between the two test packages.
type fakeBackend struct {
	numFrames   int
	samplesEach int
	channels    int
	emitted     int
}

func (f *fakeBackend) Open(opts decoder.OpenOptions) error { return nil }

func (f *fakeBackend) NextFrame() (*frame.Frame, error) {
	if f.emitted >= f.numFrames {
		return nil, decoder.ErrNoMoreFrames
	}
	f.emitted++
	packed := make([]byte, f.samplesEach*f.channels*2)
	packed[0] = byte(f.emitted) // vary content so hashes differ per frame
	return &frame.Frame{
		Packed:         packed,
		NumSamples:     f.samplesEach,
		Channels:       f.channels,
		BytesPerSample: 2,
		PTS:            int64(f.emitted),
	}, nil
}

func (f *fakeBackend) SkipFrames(n int) (int, error) {
	remaining := f.numFrames - f.emitted
	if n > remaining {
		n = remaining
	}
	f.emitted += n
	return n, nil
}
func (f *fakeBackend) Seek(pts int64) error   { return decoder.ErrUnseekable }
func (f *fakeBackend) Properties() frame.Properties {
	return frame.Properties{Format: frame.FormatInteger, BytesPerSample: 2, SampleRate: 44100, Channels: f.channels}
}
func (f *fakeBackend) Close() error { return nil }

func buildTestIndex(t *testing.T, numFrames, samplesEach, channels int) *Index {
	t.Helper()
	be := &fakeBackend{numFrames: numFrames, samplesEach: samplesEach, channels: channels}
	h, err := decoder.Open(be, decoder.OpenOptions{Path: "fake", Track: -1})
	if err != nil {
		t.Fatalf("decoder.Open: %v", err)
	}
	idx, err := Build(h, cachefile.Header{Track: 0}, nil)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	return idx
}

func TestBuildSampleContinuity(t *testing.T) {
	idx := buildTestIndex(t, 10, 1024, 2)
	if idx.Len() != 10 {
		t.Fatalf("Len() = %d, want 10", idx.Len())
	}
	var cumulative int64
	for i, rec := range idx.Records {
		if rec.Start != cumulative {
			t.Fatalf("frame %d: start = %d, want %d", i, rec.Start, cumulative)
		}
		cumulative += rec.Length
	}
	if idx.NumSamples() != cumulative {
		t.Fatalf("NumSamples() = %d, want %d", idx.NumSamples(), cumulative)
	}
}

func TestBuildEmptyIsError(t *testing.T) {
	be := &fakeBackend{numFrames: 0}
	h, err := decoder.Open(be, decoder.OpenOptions{Path: "fake", Track: -1})
	if err != nil {
		t.Fatalf("decoder.Open: %v", err)
	}
	if _, err := Build(h, cachefile.Header{}, nil); !errors.Is(err, ErrEmptyIndex) {
		t.Fatalf("expected ErrEmptyIndex, got %v", err)
	}
}

func TestStoreLoadRoundTrip(t *testing.T) {
	idx := buildTestIndex(t, 5, 512, 1)
	path := filepath.Join(t.TempDir(), "test.bsindex")
	if err := Store(path, idx); err != nil {
		t.Fatalf("Store: %v", err)
	}
	loaded, err := Load(path, idx.Header)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.Len() != idx.Len() {
		t.Fatalf("loaded.Len() = %d, want %d", loaded.Len(), idx.Len())
	}
	for i := range idx.Records {
		if loaded.Records[i] != idx.Records[i] {
			t.Fatalf("record %d mismatch: want %+v got %+v", i, idx.Records[i], loaded.Records[i])
		}
	}
}

func TestLoadMismatchedHeader(t *testing.T) {
	idx := buildTestIndex(t, 3, 256, 1)
	path := filepath.Join(t.TempDir(), "test.bsindex")
	if err := Store(path, idx); err != nil {
		t.Fatalf("Store: %v", err)
	}
	other := idx.Header
	other.DRCScale = idx.Header.DRCScale + 1.0
	if _, err := Load(path, other); !errors.Is(err, ErrIndexMismatch) {
		t.Fatalf("expected ErrIndexMismatch, got %v", err)
	}
}

func TestLoadMissingFileIsPlainError(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.bsindex"), cachefile.Header{})
	if err == nil {
		t.Fatalf("expected an error opening a missing file")
	}
	if errors.Is(err, ErrIndexMismatch) {
		t.Fatalf("a missing file is not the same as a mismatched index")
	}
	if !os.IsNotExist(err) {
		t.Fatalf("expected a not-exist error, got %v", err)
	}
}

func TestFrameRange(t *testing.T) {
	idx := buildTestIndex(t, 10, 100, 1) // frames cover [0,100),[100,200),...,[900,1000)

	first, last, firstSample := idx.FrameRange(150, 120) // [150, 270)
	if first != 1 || last != 2 || firstSample != 100 {
		t.Fatalf("FrameRange(150,120) = (%d,%d,%d), want (1,2,100)", first, last, firstSample)
	}

	first, _, _ = idx.FrameRange(0, 1)
	if first != 0 {
		t.Fatalf("FrameRange(0,1) first = %d, want 0", first)
	}
}

func TestFrameRangeClampsNegativeStart(t *testing.T) {
	// Negative start is the slicer's zero-fill job; FrameRange treats
	// it as clamped to 0 rather than returning empty, so the slicer
	// can still translate the in-bounds remainder of the request.
	idx := buildTestIndex(t, 10, 100, 1)
	first, _, firstSample := idx.FrameRange(-5, 10)
	if first != 0 || firstSample != 0 {
		t.Fatalf("FrameRange(-5,10) = (first=%d, firstSample=%d), want (0,0)", first, firstSample)
	}
}

func TestFrameRangeEmptyOnOutOfBounds(t *testing.T) {
	idx := buildTestIndex(t, 5, 100, 1) // NumSamples() == 500

	if first, _, _ := idx.FrameRange(500, 10); first != -1 {
		t.Fatalf("FrameRange at start==NumSamples should be empty, got first=%d", first)
	}
	if first, _, _ := idx.FrameRange(0, 0); first != -1 {
		t.Fatalf("FrameRange with count==0 should be empty, got first=%d", first)
	}
}
