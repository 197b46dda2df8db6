// Package registry picks a decoder.Backend for a given file by
// sniffing its header, preferring a native pure-Go backend when one
// recognizes the format and falling back to FFmpeg otherwise. It lives
// apart from internal/decoder to avoid that package importing every
// backend it defines the interface for.
package registry

import (
	"fmt"
	"io"
	"os"

	"github.com/hydra3333/bestsource/internal/decoder"
	"github.com/hydra3333/bestsource/internal/decoder/ffmpegbackend"
	"github.com/hydra3333/bestsource/internal/decoder/nativebackend/flacbackend"
	"github.com/hydra3333/bestsource/internal/decoder/nativebackend/mp3backend"
	"github.com/hydra3333/bestsource/internal/decoder/nativebackend/wavbackend"
)

type sniffer struct {
	name  string
	sniff func([]byte) bool
	build func() decoder.Backend
}

var sniffers = []sniffer{
	{"wav", wavbackend.Sniff, wavbackend.New},
	{"flac", flacbackend.Sniff, flacbackend.New},
	{"mp3", mp3backend.Sniff, mp3backend.New},
}

// Select returns a fresh, unopened backend appropriate for path, and
// the human-readable name of the backend chosen. VariableFormat forces
// FFmpeg, since none of the native backends handle mid-stream format
// changes.
func Select(path string, variableFormat bool) (decoder.Backend, string, error) {
	if variableFormat {
		return ffmpegbackend.New(), "ffmpeg", nil
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, "", fmt.Errorf("registry: open %q: %w", path, err)
	}
	header := make([]byte, decoder.HeaderSniffLen)
	n, _ := io.ReadFull(f, header)
	f.Close()
	header = header[:n]

	for _, s := range sniffers {
		if s.sniff(header) {
			return s.build(), s.name, nil
		}
	}
	return ffmpegbackend.New(), "ffmpeg", nil
}
