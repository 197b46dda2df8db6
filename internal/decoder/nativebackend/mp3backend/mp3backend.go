// Package mp3backend implements decoder.Backend for MP3 files using
// hajimehoshi/go-mp3, without going through FFmpeg.
//
// go-mp3 always decodes to interleaved 16-bit stereo PCM regardless of
// the source channel count, and its Seek only lands on a frame
// boundary near the requested byte offset rather than an exact sample.
// This backend reports the position it actually landed on rather than
// the one requested, which is the deliberate grounding for this
// library's approximate post-seek positioning behavior.
package mp3backend

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/hajimehoshi/go-mp3"

	"github.com/hydra3333/bestsource/internal/decoder"
	"github.com/hydra3333/bestsource/internal/frame"
)

const (
	channels       = 2
	bytesPerSample = 2
	framesamples   = 4096
)

// Backend is a decoder.Backend realized over go-mp3.
type Backend struct {
	file       *os.File
	dec        *mp3.Decoder
	sampleRate int
	numSamples int64
	samplePos  int64
	props      frame.Properties
}

// New returns an unopened MP3 decoder.Backend.
func New() decoder.Backend { return &Backend{} }

// Sniff reports whether the header looks like an MP3 frame sync or an
// ID3 tag preceding one.
func Sniff(header []byte) bool {
	if len(header) >= 3 && string(header[0:3]) == "ID3" {
		return true
	}
	return len(header) >= 2 && header[0] == 0xFF && header[1]&0xE0 == 0xE0
}

func (b *Backend) Open(opts decoder.OpenOptions) error {
	f, err := os.Open(opts.Path)
	if err != nil {
		return fmt.Errorf("mp3backend: open %q: %w", opts.Path, err)
	}
	dec, err := mp3.NewDecoder(f)
	if err != nil {
		f.Close()
		return fmt.Errorf("mp3backend: parse %q: %w", opts.Path, err)
	}

	b.file = f
	b.dec = dec
	b.sampleRate = dec.SampleRate()
	b.numSamples = dec.Length() / (channels * bytesPerSample)
	b.props = frame.Properties{
		Format:         frame.FormatInteger,
		BytesPerSample: bytesPerSample,
		BitsPerSample:  bytesPerSample * 8,
		SampleRate:     b.sampleRate,
		Channels:       channels,
		NumSamples:     b.numSamples,
	}
	return nil
}

func (b *Backend) NextFrame() (*frame.Frame, error) {
	buf := make([]byte, framesamples*channels*bytesPerSample)
	n, err := io.ReadFull(b.dec, buf)
	if n == 0 {
		if err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("mp3backend: read: %w", err)
		}
		return nil, decoder.ErrNoMoreFrames
	}
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("mp3backend: read: %w", err)
	}

	samples := n / (channels * bytesPerSample)
	f := &frame.Frame{
		Packed:         append([]byte(nil), buf[:samples*channels*bytesPerSample]...),
		NumSamples:     samples,
		Channels:       channels,
		BytesPerSample: bytesPerSample,
		PTS:            b.samplePos,
	}
	b.samplePos += int64(samples)
	return f, nil
}

func (b *Backend) SkipFrames(n int) (int, error) {
	for i := 0; i < n; i++ {
		if _, err := b.NextFrame(); err != nil {
			if errors.Is(err, decoder.ErrNoMoreFrames) {
				return i, nil
			}
			return i, err
		}
	}
	return n, nil
}

func (b *Backend) Seek(pts int64) error {
	if pts < 0 || pts > b.numSamples {
		return fmt.Errorf("%w: sample %d out of range", decoder.ErrUnseekable, pts)
	}
	wantOffset := pts * channels * bytesPerSample
	landed, err := b.dec.Seek(wantOffset, io.SeekStart)
	if err != nil {
		return fmt.Errorf("%w: %v", decoder.ErrUnseekable, err)
	}
	// go-mp3 rounds to the nearest frame boundary at or before the
	// requested offset; report where it actually landed.
	b.samplePos = landed / (channels * bytesPerSample)
	return nil
}

func (b *Backend) Properties() frame.Properties { return b.props }

func (b *Backend) Close() error {
	if b.file != nil {
		return b.file.Close()
	}
	return nil
}
