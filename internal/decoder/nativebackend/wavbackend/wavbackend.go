// Package wavbackend implements decoder.Backend for uncompressed WAV
// files using go-audio/wav, without going through FFmpeg.
package wavbackend

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/hydra3333/bestsource/internal/decoder"
	"github.com/hydra3333/bestsource/internal/frame"
)

// framesamples is the number of samples per channel NextFrame reads at
// a time. WAV has no native framing, so this backend imposes one.
const framesamples = 4096

// Backend is a decoder.Backend realized over go-audio/wav.
type Backend struct {
	path     string
	file     *os.File
	dec      *wav.Decoder
	pcmStart int64

	channels       int
	bytesPerSample int
	sampleRate     int
	numSamples     int64
	samplePos      int64
	props          frame.Properties
}

// New returns an unopened WAV decoder.Backend.
func New() decoder.Backend { return &Backend{} }

// Sniff reports whether the first bytes of a file look like a RIFF/WAVE
// container.
func Sniff(header []byte) bool {
	return len(header) >= 12 &&
		string(header[0:4]) == "RIFF" &&
		string(header[8:12]) == "WAVE"
}

func (b *Backend) Open(opts decoder.OpenOptions) error {
	f, err := os.Open(opts.Path)
	if err != nil {
		return fmt.Errorf("wavbackend: open %q: %w", opts.Path, err)
	}
	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		f.Close()
		return fmt.Errorf("wavbackend: %q is not a valid WAV file", opts.Path)
	}
	if err := dec.FwdToPCM(); err != nil {
		f.Close()
		return fmt.Errorf("wavbackend: seek to PCM data: %w", err)
	}
	pcmStart, err := f.Seek(0, io.SeekCurrent)
	if err != nil {
		f.Close()
		return fmt.Errorf("wavbackend: locate PCM start: %w", err)
	}

	bytesPerSample := int(dec.BitDepth) / 8
	channels := int(dec.NumChans)
	if bytesPerSample == 0 || channels == 0 {
		f.Close()
		return fmt.Errorf("wavbackend: %q reports zero bit depth or channel count", opts.Path)
	}
	total := int64(dec.PCMLen()) / (int64(bytesPerSample) * int64(channels))

	b.path = opts.Path
	b.file = f
	b.dec = dec
	b.pcmStart = pcmStart
	b.channels = channels
	b.bytesPerSample = bytesPerSample
	b.sampleRate = int(dec.SampleRate)
	b.numSamples = total
	b.props = frame.Properties{
		Format:         frame.FormatInteger,
		BytesPerSample: bytesPerSample,
		BitsPerSample:  int(dec.BitDepth),
		SampleRate:     b.sampleRate,
		Channels:       channels,
		NumSamples:     total,
	}
	return nil
}

func (b *Backend) NextFrame() (*frame.Frame, error) {
	if b.samplePos >= b.numSamples {
		return nil, decoder.ErrNoMoreFrames
	}
	want := framesamples
	if remaining := b.numSamples - b.samplePos; int64(want) > remaining {
		want = int(remaining)
	}

	intBuf := &audio.IntBuffer{
		Data:   make([]int, want*b.channels),
		Format: &audio.Format{NumChannels: b.channels, SampleRate: b.sampleRate},
	}
	n, err := b.dec.PCMBuffer(intBuf)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("wavbackend: read PCM: %w", err)
	}
	if n == 0 {
		return nil, decoder.ErrNoMoreFrames
	}
	samples := n / b.channels

	packed := make([]byte, n*b.bytesPerSample)
	for i := 0; i < n; i++ {
		putLE(packed[i*b.bytesPerSample:], intBuf.Data[i], b.bytesPerSample)
	}

	f := &frame.Frame{
		Packed:         packed,
		NumSamples:     samples,
		Channels:       b.channels,
		BytesPerSample: b.bytesPerSample,
		PTS:            b.samplePos,
	}
	b.samplePos += int64(samples)
	return f, nil
}

func putLE(dst []byte, v, bytesPerSample int) {
	for i := 0; i < bytesPerSample; i++ {
		dst[i] = byte(v >> (8 * i))
	}
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

// Seek repositions to an exact sample offset. WAV's PCM data is a flat
// array, so this is exact, unlike the compressed native backends.
func (b *Backend) Seek(pts int64) error {
	if pts < 0 || pts > b.numSamples {
		return fmt.Errorf("%w: sample %d out of range", decoder.ErrUnseekable, pts)
	}
	offset := b.pcmStart + pts*int64(b.bytesPerSample)*int64(b.channels)
	if _, err := b.file.Seek(offset, io.SeekStart); err != nil {
		return fmt.Errorf("%w: %v", decoder.ErrUnseekable, err)
	}
	// A fresh decoder around the same file avoids relying on any
	// internal buffering state surviving the raw file seek above; the
	// format fields are carried over by hand since this decoder never
	// parses the header (the file is already positioned past it).
	dec := wav.NewDecoder(b.file)
	dec.NumChans = uint16(b.channels)
	dec.SampleRate = uint32(b.sampleRate)
	dec.BitDepth = uint16(b.bytesPerSample * 8)
	b.dec = dec
	b.samplePos = pts
	return nil
}

func (b *Backend) Properties() frame.Properties { return b.props }

func (b *Backend) Close() error {
	if b.file != nil {
		return b.file.Close()
	}
	return nil
}
