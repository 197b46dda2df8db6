package slicer

import (
	"bytes"
	"testing"

	"github.com/hydra3333/bestsource/internal/cachefile"
	"github.com/hydra3333/bestsource/internal/frame"
	"github.com/hydra3333/bestsource/internal/hasher"
	"github.com/hydra3333/bestsource/internal/trackindex"
)

// fakeSource decodes deterministic content on demand: sample value at
// absolute position p (for a mono, 1-byte-per-sample track) is byte(p).
type fakeSource struct {
	idx            *trackindex.Index
	bytesPerSample int
	channels       int
}

func (s *fakeSource) GetFrame(n int64, linearHint bool) (*frame.Frame, error) {
	if n < 0 || n >= int64(s.idx.Len()) {
		return nil, nil
	}
	rec := s.idx.Frame(int(n))
	packed := make([]byte, rec.Length*int64(s.channels)*int64(s.bytesPerSample))
	for i := range packed {
		packed[i] = byte((rec.Start*int64(s.channels) + int64(i)) % 256)
	}
	return &frame.Frame{
		Packed:         packed,
		NumSamples:     int(rec.Length),
		Channels:       s.channels,
		BytesPerSample: s.bytesPerSample,
		PTS:            rec.PTS,
	}, nil
}

// buildTestIndex constructs an index of numFrames frames of frameLen
// samples each, with content hashes matching fakeSource's deterministic
// content function, for one channel and 1 byte/sample.
func buildTestIndex(t *testing.T, numFrames, frameLen int) *trackindex.Index {
	t.Helper()
	records := make([]frame.Record, numFrames)
	var cumulative int64
	for i := 0; i < numFrames; i++ {
		packed := make([]byte, frameLen)
		for j := range packed {
			packed[j] = byte((cumulative + int64(j)) % 256)
		}
		h := hasher.Hash(&frame.Frame{Packed: packed, NumSamples: frameLen, Channels: 1, BytesPerSample: 1})
		records[i] = frame.Record{PTS: int64(i), Start: cumulative, Length: int64(frameLen), Hash: h}
		cumulative += int64(frameLen)
	}
	return &trackindex.Index{Header: cachefile.Header{}, Records: records}
}

func TestGetPlanarFullRangeMatchesReference(t *testing.T) {
	idx := buildTestIndex(t, 10, 100) // 1000 samples total
	src := &fakeSource{idx: idx, bytesPerSample: 1, channels: 1}
	sl := New(idx, src)

	out := [][]byte{make([]byte, 1000)}
	if err := sl.GetPlanar(out, 1, 0, 1000); err != nil {
		t.Fatalf("GetPlanar: %v", err)
	}
	want := make([]byte, 1000)
	for i := range want {
		want[i] = byte(i % 256)
	}
	if !bytes.Equal(out[0], want) {
		t.Fatalf("GetPlanar(0,1000) did not match reference decode")
	}
}

func TestGetPlanarLeftZeroFill(t *testing.T) {
	idx := buildTestIndex(t, 10, 100)
	src := &fakeSource{idx: idx, bytesPerSample: 1, channels: 1}
	sl := New(idx, src)

	out := [][]byte{make([]byte, 200)}
	if err := sl.GetPlanar(out, 1, -100, 200); err != nil {
		t.Fatalf("GetPlanar: %v", err)
	}
	for i := 0; i < 100; i++ {
		if out[0][i] != 0 {
			t.Fatalf("byte %d = %d, want 0 (left zero-fill)", i, out[0][i])
		}
	}
	for i := 100; i < 200; i++ {
		want := byte((i - 100) % 256)
		if out[0][i] != want {
			t.Fatalf("byte %d = %d, want %d", i, out[0][i], want)
		}
	}
}

func TestGetPlanarRightZeroFill(t *testing.T) {
	idx := buildTestIndex(t, 10, 100) // NumSamples() == 1000
	src := &fakeSource{idx: idx, bytesPerSample: 1, channels: 1}
	sl := New(idx, src)

	out := [][]byte{make([]byte, 100)}
	if err := sl.GetPlanar(out, 1, 990, 100); err != nil {
		t.Fatalf("GetPlanar: %v", err)
	}
	for i := 0; i < 10; i++ {
		want := byte((990 + i) % 256)
		if out[0][i] != want {
			t.Fatalf("byte %d = %d, want %d", i, out[0][i], want)
		}
	}
	for i := 10; i < 100; i++ {
		if out[0][i] != 0 {
			t.Fatalf("byte %d = %d, want 0 (right zero-fill)", i, out[0][i])
		}
	}
}

func TestGetPlanarEntirelyOutOfBounds(t *testing.T) {
	idx := buildTestIndex(t, 5, 100) // NumSamples() == 500
	src := &fakeSource{idx: idx, bytesPerSample: 1, channels: 1}
	sl := New(idx, src)

	out := [][]byte{make([]byte, 50)}
	for i := range out[0] {
		out[0][i] = 0xAA // sentinel to prove it gets overwritten with zeros
	}
	if err := sl.GetPlanar(out, 1, 1000, 50); err != nil {
		t.Fatalf("GetPlanar: %v", err)
	}
	for i, b := range out[0] {
		if b != 0 {
			t.Fatalf("byte %d = %d, want 0 for an entirely out-of-range request", i, b)
		}
	}
}

func TestGetPlanarMultiChannelDeinterleaves(t *testing.T) {
	// One 2-channel, 2-byte-per-sample frame whose packed layout is
	// interleaved L,R,L,R,...; the slicer must de-interleave it.
	rec := frame.Record{PTS: 0, Start: 0, Length: 4}
	idx := &trackindex.Index{Records: []frame.Record{rec}}

	packed := []byte{
		1, 0, 100, 0, // sample 0: L=1, R=100
		2, 0, 101, 0, // sample 1
		3, 0, 102, 0, // sample 2
		4, 0, 103, 0, // sample 3
	}
	src := &constFrameSource{f: &frame.Frame{Packed: packed, NumSamples: 4, Channels: 2, BytesPerSample: 2}}
	sl := New(idx, src)

	out := [][]byte{make([]byte, 8), make([]byte, 8)}
	if err := sl.GetPlanar(out, 2, 0, 4); err != nil {
		t.Fatalf("GetPlanar: %v", err)
	}
	wantL := []byte{1, 0, 2, 0, 3, 0, 4, 0}
	wantR := []byte{100, 0, 101, 0, 102, 0, 103, 0}
	if !bytes.Equal(out[0], wantL) {
		t.Fatalf("left channel = %v, want %v", out[0], wantL)
	}
	if !bytes.Equal(out[1], wantR) {
		t.Fatalf("right channel = %v, want %v", out[1], wantR)
	}
}

type constFrameSource struct{ f *frame.Frame }

func (c *constFrameSource) GetFrame(n int64, linearHint bool) (*frame.Frame, error) {
	if n != 0 {
		return nil, nil
	}
	return c.f, nil
}
