package decoder

import (
	"errors"
	"testing"

	"github.com/hydra3333/bestsource/internal/frame"
)

// fakeBackend produces a fixed number of same-size frames and records
// the last Seek pts and the total frames skipped, for assertions.
type fakeBackend struct {
	numFrames    int
	samplesEach  int
	channels     int
	emitted      int
	seekable     bool
	lastSeekPTS  int64
	skippedTotal int
	opened       bool
}

func (f *fakeBackend) Open(opts OpenOptions) error {
	f.opened = true
	return nil
}

func (f *fakeBackend) NextFrame() (*frame.Frame, error) {
	if f.emitted >= f.numFrames {
		return nil, ErrNoMoreFrames
	}
	f.emitted++
	packed := make([]byte, f.samplesEach*f.channels*2)
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
	f.skippedTotal += n
	f.emitted += n
	return n, nil
}

func (f *fakeBackend) Seek(pts int64) error {
	if !f.seekable {
		return ErrUnseekable
	}
	f.lastSeekPTS = pts
	return nil
}

func (f *fakeBackend) Properties() frame.Properties {
	return frame.Properties{
		Format:         frame.FormatInteger,
		BytesPerSample: 2,
		BitsPerSample:  16,
		SampleRate:     44100,
		Channels:       f.channels,
	}
}

func (f *fakeBackend) Close() error { return nil }

func TestHandleAdvancesOrdinalAndSamplePos(t *testing.T) {
	be := &fakeBackend{numFrames: 3, samplesEach: 1024, channels: 2, seekable: true}
	h, err := Open(be, OpenOptions{Path: "fake.wav", Track: -1})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if !be.opened {
		t.Fatalf("backend was not opened")
	}

	for i := 0; i < 3; i++ {
		f, err := h.NextFrame()
		if err != nil {
			t.Fatalf("NextFrame %d: %v", i, err)
		}
		if f == nil {
			t.Fatalf("NextFrame %d: unexpected nil frame", i)
		}
		if h.Ordinal() != int64(i+1) {
			t.Fatalf("after frame %d: ordinal = %d, want %d", i, h.Ordinal(), i+1)
		}
		if h.SamplePos() != int64((i+1)*1024) {
			t.Fatalf("after frame %d: samplePos = %d, want %d", i, h.SamplePos(), (i+1)*1024)
		}
	}

	f, err := h.NextFrame()
	if err != nil {
		t.Fatalf("NextFrame at EOF: %v", err)
	}
	if f != nil {
		t.Fatalf("expected nil frame at EOF, got %+v", f)
	}
	if h.MoreFrames() {
		t.Fatalf("expected MoreFrames() == false after EOF")
	}
}

func TestHandleSeekMarksPositionUnknown(t *testing.T) {
	be := &fakeBackend{numFrames: 5, samplesEach: 512, channels: 1, seekable: true}
	h, err := Open(be, OpenOptions{Path: "fake.wav", Track: -1})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := h.NextFrame(); err != nil {
		t.Fatalf("NextFrame: %v", err)
	}

	if err := h.Seek(12345); err != nil {
		t.Fatalf("Seek: %v", err)
	}
	if !h.HasSeeked() {
		t.Fatalf("expected HasSeeked() == true after a successful seek")
	}
	if h.Ordinal() != -1 || h.SamplePos() != -1 {
		t.Fatalf("expected ordinal/samplePos == -1 after seek, got %d/%d", h.Ordinal(), h.SamplePos())
	}
	if be.lastSeekPTS != 12345 {
		t.Fatalf("backend did not receive seek pts: got %d", be.lastSeekPTS)
	}

	h.SetPosition(2, 1024)
	if h.Ordinal() != 2 || h.SamplePos() != 1024 {
		t.Fatalf("SetPosition did not take effect: ordinal=%d samplePos=%d", h.Ordinal(), h.SamplePos())
	}
}

func TestHandleSeekUnseekableSurfacesError(t *testing.T) {
	be := &fakeBackend{numFrames: 1, samplesEach: 128, channels: 1, seekable: false}
	h, err := Open(be, OpenOptions{Path: "fake.wav", Track: -1})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := h.Seek(1); !errors.Is(err, ErrUnseekable) {
		t.Fatalf("expected ErrUnseekable, got %v", err)
	}
	if h.HasSeeked() {
		t.Fatalf("HasSeeked() must remain false after a failed seek")
	}
}

func TestHandleSkipFramesPastEndOfStreamStopsAtTruePosition(t *testing.T) {
	be := &fakeBackend{numFrames: 3, samplesEach: 256, channels: 1, seekable: true}
	h, err := Open(be, OpenOptions{Path: "fake.wav", Track: -1})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	if err := h.SkipFrames(10); err != nil {
		t.Fatalf("SkipFrames: %v", err)
	}
	if h.Ordinal() != 3 {
		t.Fatalf("Ordinal() = %d, want 3 (only 3 frames existed)", h.Ordinal())
	}
	if h.MoreFrames() {
		t.Fatalf("expected MoreFrames() == false after skipping past end of stream")
	}
}

func TestHandleRejectsZeroSizedFrames(t *testing.T) {
	be := &fakeBackend{numFrames: 1, samplesEach: 0, channels: 2, seekable: true}
	h, err := Open(be, OpenOptions{Path: "fake.wav", Track: -1})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := h.NextFrame(); !errors.Is(err, ErrZeroSizedSamples) {
		t.Fatalf("expected ErrZeroSizedSamples, got %v", err)
	}
}
