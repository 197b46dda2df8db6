package main

import (
	"fmt"
	"os"
	"time"

	"github.com/alecthomas/kong"
	"github.com/go-audio/audio"
	"github.com/go-audio/wav"

	bestsource "github.com/hydra3333/bestsource"
	"github.com/hydra3333/bestsource/internal/cli"
	"github.com/hydra3333/bestsource/internal/frame"
)

// version is set via ldflags at build time.
// Local dev builds: "dev"
// Release builds: git tag (e.g. "v0.1.0")
var version = "dev"

var CLI struct {
	Open    openCmd    `cmd:"" help:"Open a file and print its authoritative properties."`
	Frame   frameCmd   `cmd:"" help:"Decode and inspect a single frame by ordinal."`
	Slice   sliceCmd   `cmd:"" help:"Decode a contiguous sample range, optionally to a WAV file."`
	Verify  verifyCmd  `cmd:"" help:"Decode across a file, reporting seek reliability."`
	Version versionCmd `cmd:"" help:"Show version information."`
}

func main() {
	ctx := kong.Parse(&CLI,
		kong.Name("bsdump"),
		kong.Description("Inspect and extract audio through the frame-accurate seek engine."),
		kong.Vars{"version": version},
		kong.UsageOnError(),
		kong.Help(cli.StyledHelpPrinter(kong.HelpOptions{Compact: true})),
	)
	if err := ctx.Run(); err != nil {
		cli.PrintError(err.Error())
		os.Exit(1)
	}
}

// openOptions is the flag set shared by every subcommand that opens a
// source, kept as a plain struct rather than kong embedding so each
// command's help text lists them under its own name.
type openOptions struct {
	Track    int    `help:"Track index; -1 auto-selects the first audio stream." default:"-1"`
	CacheDir string `help:"Directory used to persist and reload the per-track index."`
}

func (o openOptions) open(path string) (*bestsource.Source, error) {
	return bestsource.Open(path, bestsource.OpenOptions{
		Track:    o.Track,
		CacheDir: o.CacheDir,
	})
}

type openCmd struct {
	Input string `arg:"" help:"Audio file to open."`
	openOptions
}

func (c *openCmd) Run() error {
	start := time.Now()
	src, err := c.open(c.Input)
	if err != nil {
		return err
	}
	defer src.Close()

	props := src.Properties()
	cli.PrintSection("Properties")
	cli.PrintInfo("channels", fmt.Sprintf("%d", props.Channels))
	cli.PrintInfo("sample rate", fmt.Sprintf("%d Hz", props.SampleRate))
	cli.PrintInfo("bytes per sample", fmt.Sprintf("%d", props.BytesPerSample))
	cli.PrintInfo("format", formatName(props.Format))
	cli.PrintInfo("track", fmt.Sprintf("%d", props.Track))
	cli.PrintInfo("frames", fmt.Sprintf("%d", props.NumFrames))
	cli.PrintInfo("samples", fmt.Sprintf("%d", props.NumSamples))
	cli.PrintSuccess(fmt.Sprintf("opened in %s", cli.FormatDuration(time.Since(start))))
	return nil
}

type frameCmd struct {
	Input   string `arg:"" help:"Audio file to open."`
	Ordinal int64  `arg:"" help:"Frame ordinal to decode."`
	Linear  bool   `help:"Force forward decode instead of seek-target selection."`
	openOptions
}

func (c *frameCmd) Run() error {
	src, err := c.open(c.Input)
	if err != nil {
		return err
	}
	defer src.Close()

	f, err := src.GetFrame(c.Ordinal, c.Linear)
	if err != nil {
		return err
	}
	if f == nil {
		cli.PrintWarning(fmt.Sprintf("frame %d is out of range or failed hash verification", c.Ordinal))
		return nil
	}

	cli.PrintSection(fmt.Sprintf("Frame %d", c.Ordinal))
	cli.PrintInfo("samples", fmt.Sprintf("%d", f.NumSamples))
	cli.PrintInfo("channels", fmt.Sprintf("%d", f.Channels))
	cli.PrintInfo("bytes", cli.FormatBytes(int64(f.ByteSize())))
	if f.PTS == frame.PTSUnknown {
		cli.PrintInfo("pts", "unknown")
	} else {
		cli.PrintInfo("pts", fmt.Sprintf("%d", f.PTS))
	}
	return nil
}

type sliceCmd struct {
	Input string `arg:"" help:"Audio file to open."`
	Start int64  `arg:"" help:"First sample offset of the range, may be negative."`
	Count int64  `arg:"" help:"Number of samples in the range."`
	Out   string `help:"Write the decoded range to this WAV file instead of a summary."`
	openOptions
}

func (c *sliceCmd) Run() error {
	if c.Count <= 0 {
		return fmt.Errorf("count must be positive, got %d", c.Count)
	}
	src, err := c.open(c.Input)
	if err != nil {
		return err
	}
	defer src.Close()

	props := src.Properties()
	planes := make([][]byte, props.Channels)
	for i := range planes {
		planes[i] = make([]byte, c.Count*int64(props.BytesPerSample))
	}
	if err := src.GetPlanar(planes, c.Start, c.Count); err != nil {
		return err
	}

	if c.Out == "" {
		cli.PrintSection("Slice")
		cli.PrintInfo("start", fmt.Sprintf("%d", c.Start))
		cli.PrintInfo("count", fmt.Sprintf("%d", c.Count))
		cli.PrintInfo("bytes per channel", cli.FormatBytes(int64(len(planes[0]))))
		cli.PrintSuccess("slice decoded")
		return nil
	}

	if props.Format != frame.FormatInteger {
		return fmt.Errorf("cannot write %s as WAV: only integer PCM is supported", c.Input)
	}
	return writeWAV(c.Out, props, planes, c.Count)
}

// writeWAV interleaves a planar slice and encodes it as a PCM WAV file.
func writeWAV(path string, props frame.Properties, planes [][]byte, count int64) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	bits := props.BitsPerSample
	if bits == 0 {
		bits = props.BytesPerSample * 8
	}
	enc := wav.NewEncoder(f, props.SampleRate, bits, props.Channels, 1)

	data := make([]int, int(count)*props.Channels)
	bps := props.BytesPerSample
	for s := int64(0); s < count; s++ {
		for ch := 0; ch < props.Channels; ch++ {
			off := int(s) * bps
			data[int(s)*props.Channels+ch] = decodeSignedLE(planes[ch][off : off+bps])
		}
	}

	buf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: props.Channels, SampleRate: props.SampleRate},
		SourceBitDepth: bits,
		Data:           data,
	}
	if err := enc.Write(buf); err != nil {
		return err
	}
	if err := enc.Close(); err != nil {
		return err
	}
	cli.PrintSuccess(fmt.Sprintf("wrote %s", path))
	return nil
}

// decodeSignedLE reinterprets a little-endian byte slice as a signed
// integer of matching width, sign-extended to Go's int.
func decodeSignedLE(b []byte) int {
	var v int64
	for i, bb := range b {
		v |= int64(bb) << (8 * uint(i))
	}
	bits := uint(len(b) * 8)
	sign := int64(1) << (bits - 1)
	if v&sign != 0 {
		v -= int64(1) << bits
	}
	return int(v)
}

type verifyCmd struct {
	Input  string `arg:"" help:"Audio file to open."`
	Stride int64  `help:"Check every Nth frame instead of every frame." default:"1"`
	openOptions
}

func (c *verifyCmd) Run() error {
	src, err := c.open(c.Input)
	if err != nil {
		return err
	}
	defer src.Close()

	stride := c.Stride
	if stride < 1 {
		stride = 1
	}

	props := src.Properties()
	checked := int64(0)
	for n := int64(0); n < props.NumFrames; n += stride {
		if _, err := src.GetFrame(n, false); err != nil {
			return fmt.Errorf("frame %d: %w", n, err)
		}
		checked++
	}

	cli.PrintSection("Verification")
	cli.PrintInfo("frames checked", fmt.Sprintf("%d", checked))
	cli.PrintInfo("bad seeks", fmt.Sprintf("%d", src.BadSeekCount()))
	cli.PrintInfo("linear mode", fmt.Sprintf("%t", src.LinearMode()))
	cli.PrintSuccess("verification complete")
	return nil
}

type versionCmd struct{}

func (c *versionCmd) Run() error {
	cli.PrintVersion(version)
	return nil
}

func formatName(f frame.Format) string {
	switch f {
	case frame.FormatInteger:
		return "integer"
	case frame.FormatFloat:
		return "float"
	default:
		return "unknown"
	}
}
