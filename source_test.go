package bestsource

import (
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/hydra3333/bestsource/internal/frame"
)

// sampleAt is the deterministic content generator both the fixture
// writer and the test assertions use, so expected PCM bytes never
// need to be hand-copied out of the WAV encoder.
func sampleAt(i int) int16 { return int16((i*37 + 11) % 30000) }

// writeTestWAV writes a minimal mono 16-bit PCM WAV file with
// numSamples samples of sampleAt content at sampleRate Hz.
func writeTestWAV(t *testing.T, path string, sampleRate, numSamples int) {
	t.Helper()
	const bitsPerSample = 16
	const channels = 1
	byteRate := sampleRate * channels * bitsPerSample / 8
	blockAlign := channels * bitsPerSample / 8
	dataSize := numSamples * blockAlign

	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create fixture: %v", err)
	}
	defer f.Close()

	write := func(v any) {
		if err := binary.Write(f, binary.LittleEndian, v); err != nil {
			t.Fatalf("write fixture: %v", err)
		}
	}

	f.WriteString("RIFF")
	write(uint32(36 + dataSize))
	f.WriteString("WAVE")
	f.WriteString("fmt ")
	write(uint32(16))
	write(uint16(1)) // PCM
	write(uint16(channels))
	write(uint32(sampleRate))
	write(uint32(byteRate))
	write(uint16(blockAlign))
	write(uint16(bitsPerSample))
	f.WriteString("data")
	write(uint32(dataSize))
	for i := 0; i < numSamples; i++ {
		write(sampleAt(i))
	}
}

func openTestFixture(t *testing.T, numSamples int, opts OpenOptions) *Source {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fixture.wav")
	writeTestWAV(t, path, 8000, numSamples)
	src, err := Open(path, opts)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return src
}

func TestOpenReportsAuthoritativeProperties(t *testing.T) {
	src := openTestFixture(t, 10000, OpenOptions{})
	defer src.Close()

	props := src.Properties()
	if props.Channels != 1 {
		t.Fatalf("Channels = %d, want 1", props.Channels)
	}
	if props.SampleRate != 8000 {
		t.Fatalf("SampleRate = %d, want 8000", props.SampleRate)
	}
	if props.BytesPerSample != 2 {
		t.Fatalf("BytesPerSample = %d, want 2", props.BytesPerSample)
	}
	if props.Format != frame.FormatInteger {
		t.Fatalf("Format = %v, want Integer", props.Format)
	}
	if props.NumSamples != 10000 {
		t.Fatalf("NumSamples = %d, want 10000 (authoritative from index)", props.NumSamples)
	}
}

// TestGetFrameMatchesFixtureContent is a P6-flavored check over the
// real WAV backend: the first frame's decoded bytes must equal the
// same generator function used to build the fixture.
func TestGetFrameMatchesFixtureContent(t *testing.T) {
	src := openTestFixture(t, 10000, OpenOptions{})
	defer src.Close()

	f, err := src.GetFrame(0, false)
	if err != nil {
		t.Fatalf("GetFrame(0): %v", err)
	}
	if f == nil {
		t.Fatalf("GetFrame(0): unexpected nil")
	}
	for i := 0; i < f.NumSamples; i++ {
		want := sampleAt(i)
		got := int16(uint16(f.Packed[i*2]) | uint16(f.Packed[i*2+1])<<8)
		if got != want {
			t.Fatalf("sample %d = %d, want %d", i, got, want)
		}
	}
}

func TestGetPlanarZeroPaddingAtBothEnds(t *testing.T) {
	src := openTestFixture(t, 1000, OpenOptions{})
	defer src.Close()

	out := [][]byte{make([]byte, 2*200)} // 200 samples, 2 bytes each
	if err := src.GetPlanar(out, -100, 200); err != nil {
		t.Fatalf("GetPlanar: %v", err)
	}
	for i := 0; i < 100; i++ {
		if out[0][2*i] != 0 || out[0][2*i+1] != 0 {
			t.Fatalf("left-pad sample %d not zero", i)
		}
	}
	for i := 0; i < 100; i++ {
		want := sampleAt(i)
		got := int16(uint16(out[0][2*(100+i)]) | uint16(out[0][2*(100+i)+1])<<8)
		if got != want {
			t.Fatalf("sample %d = %d, want %d", i, got, want)
		}
	}

	out2 := [][]byte{make([]byte, 2*100)}
	if err := src.GetPlanar(out2, 950, 100); err != nil {
		t.Fatalf("GetPlanar: %v", err)
	}
	for i := 0; i < 50; i++ {
		want := sampleAt(950 + i)
		got := int16(uint16(out2[0][2*i]) | uint16(out2[0][2*i+1])<<8)
		if got != want {
			t.Fatalf("tail sample %d = %d, want %d", i, got, want)
		}
	}
	for i := 50; i < 100; i++ {
		if out2[0][2*i] != 0 || out2[0][2*i+1] != 0 {
			t.Fatalf("right-pad sample %d not zero", i)
		}
	}
}

// TestIndexPersistsAcrossOpens is a real-backend flavor of P3: an
// index built on first open is reused (without error) on a second
// open of the same file with the same options.
func TestIndexPersistsAcrossOpens(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "fixture.wav")
	writeTestWAV(t, path, 8000, 5000)

	cacheDir := t.TempDir()
	first, err := Open(path, OpenOptions{CacheDir: cacheDir})
	if err != nil {
		t.Fatalf("first Open: %v", err)
	}
	firstFrame, err := first.GetFrame(0, false)
	if err != nil || firstFrame == nil {
		t.Fatalf("first GetFrame(0) = (%v, %v)", firstFrame, err)
	}
	first.Close()

	entries, err := os.ReadDir(cacheDir)
	if err != nil || len(entries) == 0 {
		t.Fatalf("expected an index file to be written to %s", cacheDir)
	}

	second, err := Open(path, OpenOptions{CacheDir: cacheDir})
	if err != nil {
		t.Fatalf("second Open: %v", err)
	}
	defer second.Close()
	if second.Properties().NumSamples != first.Properties().NumSamples {
		t.Fatalf("NumSamples mismatch across cached open")
	}
	secondFrame, err := second.GetFrame(0, false)
	if err != nil || secondFrame == nil {
		t.Fatalf("second GetFrame(0) = (%v, %v)", secondFrame, err)
	}
}

func TestOpenRejectsNegativeDRCScale(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fixture.wav")
	writeTestWAV(t, path, 8000, 1000)

	_, err := Open(path, OpenOptions{DRCScale: -1})
	if !errors.Is(err, ErrOpenFailure) {
		t.Fatalf("Open with negative drc_scale = %v, want ErrOpenFailure", err)
	}
}

func TestSetMaxCacheSizeAndPrerollDoNotError(t *testing.T) {
	src := openTestFixture(t, 5000, OpenOptions{})
	defer src.Close()

	src.SetMaxCacheSize(1 << 20)
	src.SetSeekPreroll(5)

	if _, err := src.GetFrame(0, false); err != nil {
		t.Fatalf("GetFrame after tuning: %v", err)
	}
}
