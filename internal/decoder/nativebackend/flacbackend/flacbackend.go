// Package flacbackend implements decoder.Backend for FLAC files using
// mewkiz/flac, without going through FFmpeg.
package flacbackend

import (
	"fmt"
	"io"
	"os"

	"github.com/mewkiz/flac"

	"github.com/hydra3333/bestsource/internal/decoder"
	fr "github.com/hydra3333/bestsource/internal/frame"
)

// Backend is a decoder.Backend realized over mewkiz/flac. mewkiz/flac
// exposes no random-access API, so Seek reopens the stream and
// discards frames up to the target: correct, but not O(1).
type Backend struct {
	path      string
	file      *os.File
	stream    *flac.Stream
	channels  int
	numSample int64
	samplePos int64
	props     fr.Properties
}

// New returns an unopened FLAC decoder.Backend.
func New() decoder.Backend { return &Backend{} }

// Sniff reports whether the first bytes of a file are the FLAC magic.
func Sniff(header []byte) bool {
	return len(header) >= 4 && string(header[0:4]) == "fLaC"
}

func (b *Backend) Open(opts decoder.OpenOptions) error {
	f, err := os.Open(opts.Path)
	if err != nil {
		return fmt.Errorf("flacbackend: open %q: %w", opts.Path, err)
	}
	stream, err := flac.New(f)
	if err != nil {
		f.Close()
		return fmt.Errorf("flacbackend: parse %q: %w", opts.Path, err)
	}

	b.path = opts.Path
	b.file = f
	b.stream = stream
	b.channels = int(stream.Info.NChannels)
	b.numSample = int64(stream.Info.NSamples)
	b.samplePos = 0
	b.props = fr.Properties{
		Format:         fr.FormatInteger,
		BytesPerSample: 4, // mewkiz/flac widens every bit depth to int32 samples
		BitsPerSample:  int(stream.Info.BitsPerSample),
		SampleRate:     int(stream.Info.SampleRate),
		Channels:       b.channels,
		NumSamples:     b.numSample,
	}
	return nil
}

func (b *Backend) NextFrame() (*fr.Frame, error) {
	if b.numSample > 0 && b.samplePos >= b.numSample {
		return nil, decoder.ErrNoMoreFrames
	}
	flacFrame, err := b.stream.ParseNext()
	if err != nil {
		if err == io.EOF {
			return nil, decoder.ErrNoMoreFrames
		}
		return nil, fmt.Errorf("flacbackend: parse frame: %w", err)
	}
	if len(flacFrame.Subframes) == 0 {
		return nil, fmt.Errorf("flacbackend: frame with no subframes")
	}

	numSamples := len(flacFrame.Subframes[0].Samples)
	planes := make([][]byte, len(flacFrame.Subframes))
	for ch, sub := range flacFrame.Subframes {
		plane := make([]byte, numSamples*4)
		for i, s := range sub.Samples {
			v := uint32(s)
			plane[i*4+0] = byte(v)
			plane[i*4+1] = byte(v >> 8)
			plane[i*4+2] = byte(v >> 16)
			plane[i*4+3] = byte(v >> 24)
		}
		planes[ch] = plane
	}

	f := &fr.Frame{
		Planes:         planes,
		NumSamples:     numSamples,
		Channels:       len(planes),
		BytesPerSample: 4,
		PTS:            b.samplePos,
	}
	b.samplePos += int64(numSamples)
	return f, nil
}

func (b *Backend) SkipFrames(n int) (int, error) {
	for i := 0; i < n; i++ {
		if _, err := b.NextFrame(); err != nil {
			if err == decoder.ErrNoMoreFrames {
				return i, nil
			}
			return i, err
		}
	}
	return n, nil
}

// Seek reopens the underlying file and re-decodes from the start,
// discarding frames until samplePos reaches pts.
func (b *Backend) Seek(pts int64) error {
	if pts < 0 || (b.numSample > 0 && pts > b.numSample) {
		return fmt.Errorf("%w: sample %d out of range", decoder.ErrUnseekable, pts)
	}
	if b.file != nil {
		b.stream.Close()
		b.file.Close()
	}
	f, err := os.Open(b.path)
	if err != nil {
		return fmt.Errorf("%w: reopen: %v", decoder.ErrUnseekable, err)
	}
	stream, err := flac.New(f)
	if err != nil {
		f.Close()
		return fmt.Errorf("%w: reparse: %v", decoder.ErrUnseekable, err)
	}
	b.file = f
	b.stream = stream
	b.samplePos = 0

	for b.samplePos < pts {
		if _, err := b.NextFrame(); err != nil {
			if err == decoder.ErrNoMoreFrames {
				break
			}
			return fmt.Errorf("%w: %v", decoder.ErrUnseekable, err)
		}
	}
	return nil
}

func (b *Backend) Properties() fr.Properties { return b.props }

func (b *Backend) Close() error {
	if b.stream != nil {
		b.stream.Close()
	}
	if b.file != nil {
		return b.file.Close()
	}
	return nil
}
