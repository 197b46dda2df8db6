// Package ffmpegbackend implements decoder.Backend on top of FFmpeg's
// libavformat/libavcodec via cgo bindings, supporting any container or
// codec FFmpeg itself can decode.
package ffmpegbackend

import (
	"errors"
	"fmt"
	"unsafe"

	ffmpeg "github.com/linuxmatters/ffmpeg-statigo"

	"github.com/hydra3333/bestsource/internal/decoder"
	"github.com/hydra3333/bestsource/internal/frame"
)

// Sample format IDs, mirrored from libavutil's AVSampleFormat enum
// (the values ffmpeg-statigo passes through verbatim).
const (
	sampleFmtU8 = iota
	sampleFmtS16
	sampleFmtS32
	sampleFmtFlt
	sampleFmtDbl
	sampleFmtU8P
	sampleFmtS16P
	sampleFmtS32P
	sampleFmtFltP
	sampleFmtDblP
)

// Channel order values, mirrored from libavutil's AVChannelOrder enum.
const (
	avChannelOrderUnspec = iota
	avChannelOrderNative
	avChannelOrderCustom
	avChannelOrderAmbisonic
)

// Backend is a decoder.Backend realized over FFmpeg.
type Backend struct {
	formatCtx   *ffmpeg.AVFormatContext
	codecCtx    *ffmpeg.AVCodecContext
	streamIndex int
	packet      *ffmpeg.AVPacket
	frame       *ffmpeg.AVFrame

	channels       int
	channelLayout  uint64
	bytesPerSample int
	format         frame.Format
	sampleRate     int
	variableFormat bool
	firstFrameSeen bool
	props          frame.Properties
}

// New returns an unopened FFmpeg-backed decoder.Backend.
func New() decoder.Backend { return &Backend{} }

func (b *Backend) Open(opts decoder.OpenOptions) error {
	path := ffmpeg.ToCStr(opts.Path)
	defer path.Free()

	demuxDict, err := buildDictionary(opts.DemuxOptions)
	if err != nil {
		return err
	}

	if ret, err := ffmpeg.AVFormatOpenInput(&b.formatCtx, path, nil, &demuxDict); err != nil {
		return fmt.Errorf("ffmpegbackend: open %q: %w", opts.Path, err)
	} else if ret < 0 {
		return fmt.Errorf("ffmpegbackend: open %q: error code %d", opts.Path, ret)
	}

	if ret, err := ffmpeg.AVFormatFindStreamInfo(b.formatCtx, nil); err != nil {
		b.Close()
		return fmt.Errorf("ffmpegbackend: find stream info: %w", err)
	} else if ret < 0 {
		b.Close()
		return fmt.Errorf("ffmpegbackend: find stream info: error code %d", ret)
	}

	streams := b.formatCtx.Streams()
	b.streamIndex = -1
	if opts.Track >= 0 {
		if uintptr(opts.Track) >= uintptr(b.formatCtx.NbStreams()) {
			b.Close()
			return fmt.Errorf("ffmpegbackend: track %d not found", opts.Track)
		}
		candidate := streams.Get(uintptr(opts.Track))
		if candidate.Codecpar().CodecType() != ffmpeg.AVMediaTypeAudio {
			b.Close()
			return fmt.Errorf("ffmpegbackend: track %d is not an audio track", opts.Track)
		}
		b.streamIndex = opts.Track
	}
	if b.streamIndex == -1 {
		for i := uintptr(0); i < uintptr(b.formatCtx.NbStreams()); i++ {
			if streams.Get(i).Codecpar().CodecType() == ffmpeg.AVMediaTypeAudio {
				b.streamIndex = int(i)
				break
			}
		}
	}
	if b.streamIndex == -1 {
		b.Close()
		return fmt.Errorf("ffmpegbackend: no audio stream found")
	}

	audioStream := streams.Get(uintptr(b.streamIndex))
	codec := ffmpeg.AVCodecFindDecoder(audioStream.Codecpar().CodecId())
	if codec == nil {
		b.Close()
		return fmt.Errorf("ffmpegbackend: no decoder for codec id %d", audioStream.Codecpar().CodecId())
	}

	b.codecCtx = ffmpeg.AVCodecAllocContext3(codec)
	if b.codecCtx == nil {
		b.Close()
		return fmt.Errorf("ffmpegbackend: failed to allocate codec context")
	}

	if ret, err := ffmpeg.AVCodecParametersToContext(b.codecCtx, audioStream.Codecpar()); err != nil {
		b.Close()
		return fmt.Errorf("ffmpegbackend: copy codec params: %w", err)
	} else if ret < 0 {
		b.Close()
		return fmt.Errorf("ffmpegbackend: copy codec params: error code %d", ret)
	}

	b.codecCtx.SetThreadCount(opts.Threads)

	codecDict, err := buildCodecDictionary(opts.DRCScale)
	if err != nil {
		b.Close()
		return err
	}
	if ret, err := ffmpeg.AVCodecOpen2(b.codecCtx, codec, &codecDict); err != nil {
		b.Close()
		return fmt.Errorf("ffmpegbackend: open codec: %w", err)
	} else if ret < 0 {
		b.Close()
		return fmt.Errorf("ffmpegbackend: open codec: error code %d", ret)
	}

	b.variableFormat = opts.VariableFormat
	b.channels = b.codecCtx.ChLayout().NbChannels()
	if err := b.checkChannelLayout(); err != nil {
		b.Close()
		return err
	}
	b.sampleRate = b.codecCtx.SampleRate()
	fmtID := int32(b.codecCtx.SampleFmt())
	bps, family, err := formatInfo(fmtID)
	if err != nil {
		b.Close()
		return err
	}
	b.bytesPerSample = bps
	b.format = family

	b.packet = ffmpeg.AVPacketAlloc()
	if b.packet == nil {
		b.Close()
		return fmt.Errorf("ffmpegbackend: failed to allocate packet")
	}
	b.frame = ffmpeg.AVFrameAlloc()
	if b.frame == nil {
		b.Close()
		return fmt.Errorf("ffmpegbackend: failed to allocate frame")
	}

	return nil
}

// checkChannelLayout rejects ambisonic or custom channel orders, which
// have no fixed per-channel plane mapping the rest of the pipeline can
// rely on, and records the native layout mask when one is available.
func (b *Backend) checkChannelLayout() error {
	layout := b.codecCtx.ChLayout()
	switch int32(layout.Order()) {
	case avChannelOrderNative:
		b.channelLayout = layout.Mask()
	case avChannelOrderUnspec:
		// No explicit mask to report; NbChannels alone is still a
		// well-defined flat PCM layout.
	default:
		return fmt.Errorf("%w: order %d", decoder.ErrUnsupportedChannelLayout, layout.Order())
	}
	return nil
}

// checkFormatUnchanged compares the frame just received from
// AVCodecReceiveFrame against the format captured at Open, refusing
// mid-stream changes unless the caller opted into VariableFormat. A
// tolerated change updates the backend's working format/channel count
// so extractFrame sizes the new frame correctly instead of using the
// stale one.
func (b *Backend) checkFormatUnchanged() error {
	sampleFmt := int32(b.frame.Format())
	nbChannels := b.frame.ChLayout().NbChannels()
	bps, family, err := formatInfo(sampleFmt)
	if err != nil {
		return err
	}
	if bps == b.bytesPerSample && family == b.format && nbChannels == b.channels {
		return nil
	}
	if !b.variableFormat {
		return fmt.Errorf("%w: channels %d->%d, bytes/sample %d->%d", decoder.ErrFormatChanged, b.channels, nbChannels, b.bytesPerSample, bps)
	}

	b.bytesPerSample = bps
	b.format = family
	b.channels = nbChannels
	layout := b.frame.ChLayout()
	switch int32(layout.Order()) {
	case avChannelOrderNative:
		b.channelLayout = layout.Mask()
	case avChannelOrderUnspec:
		b.channelLayout = 0
	default:
		return fmt.Errorf("%w: order %d", decoder.ErrUnsupportedChannelLayout, layout.Order())
	}
	return nil
}

func formatInfo(fmtID int32) (bytesPerSample int, family frame.Format, err error) {
	switch fmtID {
	case sampleFmtS16, sampleFmtS16P:
		return 2, frame.FormatInteger, nil
	case sampleFmtS32, sampleFmtS32P:
		return 4, frame.FormatInteger, nil
	case sampleFmtFlt, sampleFmtFltP:
		return 4, frame.FormatFloat, nil
	case sampleFmtDbl, sampleFmtDblP:
		return 8, frame.FormatFloat, nil
	case sampleFmtU8, sampleFmtU8P:
		return 1, frame.FormatInteger, nil
	default:
		return 0, frame.FormatUnknown, fmt.Errorf("ffmpegbackend: unsupported sample format %d", fmtID)
	}
}

func isPlanarFormat(fmtID int32) bool { return fmtID >= sampleFmtU8P }

func buildDictionary(kv [][2]string) (*ffmpeg.AVDictionary, error) {
	if len(kv) == 0 {
		return nil, nil
	}
	var dict *ffmpeg.AVDictionary
	for _, pair := range kv {
		k, v := ffmpeg.ToCStr(pair[0]), ffmpeg.ToCStr(pair[1])
		ret, err := ffmpeg.AVDictSet(&dict, k, v, 0)
		k.Free()
		v.Free()
		if err != nil {
			return nil, fmt.Errorf("ffmpegbackend: setting demux option %s=%s: %w", pair[0], pair[1], err)
		}
		if ret < 0 {
			return nil, fmt.Errorf("ffmpegbackend: setting demux option %s=%s: error code %d", pair[0], pair[1], ret)
		}
	}
	return dict, nil
}

// buildCodecDictionary sets drc_scale (AC-3/E-AC-3 dynamic range
// compression) when non-zero; a negative value is caller error.
func buildCodecDictionary(drcScale float64) (*ffmpeg.AVDictionary, error) {
	if drcScale < 0 {
		return nil, fmt.Errorf("ffmpegbackend: negative drc_scale %v", drcScale)
	}
	if drcScale == 0 {
		return nil, nil
	}
	var dict *ffmpeg.AVDictionary
	k := ffmpeg.ToCStr("drc_scale")
	v := ffmpeg.ToCStr(fmt.Sprintf("%v", drcScale))
	defer k.Free()
	defer v.Free()
	if _, err := ffmpeg.AVDictSet(&dict, k, v, 0); err != nil {
		return nil, fmt.Errorf("ffmpegbackend: setting drc_scale: %w", err)
	}
	return dict, nil
}

func (b *Backend) NextFrame() (*frame.Frame, error) {
	for {
		ret, err := ffmpeg.AVReadFrame(b.formatCtx, b.packet)
		if err != nil {
			if errors.Is(err, ffmpeg.AVErrorEOF) {
				return nil, decoder.ErrNoMoreFrames
			}
			return nil, fmt.Errorf("ffmpegbackend: read frame: %w", err)
		}
		if ret < 0 {
			return nil, fmt.Errorf("ffmpegbackend: read frame: error code %d", ret)
		}
		if b.packet.StreamIndex() != b.streamIndex {
			ffmpeg.AVPacketUnref(b.packet)
			continue
		}

		ret, err = ffmpeg.AVCodecSendPacket(b.codecCtx, b.packet)
		ffmpeg.AVPacketUnref(b.packet)
		if err != nil {
			return nil, fmt.Errorf("ffmpegbackend: send packet: %w", err)
		}
		_ = ret

		ret, err = ffmpeg.AVCodecReceiveFrame(b.codecCtx, b.frame)
		if err != nil {
			if errors.Is(err, ffmpeg.EAgain) {
				continue // decoder wants another packet before it can emit
			}
			if errors.Is(err, ffmpeg.AVErrorEOF) {
				return nil, decoder.ErrNoMoreFrames
			}
			return nil, fmt.Errorf("ffmpegbackend: receive frame: %w", err)
		}

		if b.firstFrameSeen {
			if err := b.checkFormatUnchanged(); err != nil {
				ffmpeg.AVFrameUnref(b.frame)
				return nil, err
			}
		}

		f, err := b.extractFrame()
		ffmpeg.AVFrameUnref(b.frame)
		if err != nil {
			return nil, err
		}
		if !b.firstFrameSeen {
			b.firstFrameSeen = true
			b.props = frame.Properties{
				Format:         b.format,
				BytesPerSample: b.bytesPerSample,
				BitsPerSample:  b.bytesPerSample * 8,
				SampleRate:     b.sampleRate,
				Channels:       b.channels,
				ChannelLayout:  b.channelLayout,
			}
		}
		return f, nil
	}
}

func (b *Backend) extractFrame() (*frame.Frame, error) {
	nbSamples := int(b.frame.NbSamples())
	sampleFmt := int32(b.frame.Format())
	planar := isPlanarFormat(sampleFmt)
	planeLen := nbSamples * b.bytesPerSample

	f := &frame.Frame{
		NumSamples:     nbSamples,
		Channels:       b.channels,
		BytesPerSample: b.bytesPerSample,
		PTS:            b.frame.Pts(),
	}
	if f.PTS < 0 {
		f.PTS = frame.PTSUnknown
	}

	data := b.frame.Data()
	if planar {
		f.Planes = make([][]byte, b.channels)
		for ch := 0; ch < b.channels; ch++ {
			ptr := data.Get(uintptr(ch))
			if ptr == nil {
				return nil, fmt.Errorf("ffmpegbackend: missing plane %d", ch)
			}
			f.Planes[ch] = append([]byte(nil), (*[1 << 30]byte)(unsafe.Pointer(ptr))[:planeLen:planeLen]...)
		}
	} else {
		ptr := data.Get(0)
		if ptr == nil {
			return nil, fmt.Errorf("ffmpegbackend: missing packed data")
		}
		total := planeLen * b.channels
		f.Packed = append([]byte(nil), (*[1 << 30]byte)(unsafe.Pointer(ptr))[:total:total]...)
	}
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
	if ret, err := ffmpeg.AVSeekFrame(b.formatCtx, b.streamIndex, pts, ffmpeg.AVSeekFlagBackward); err != nil {
		return fmt.Errorf("%w: %v", decoder.ErrUnseekable, err)
	} else if ret < 0 {
		return fmt.Errorf("%w: error code %d", decoder.ErrUnseekable, ret)
	}
	ffmpeg.AVCodecFlushBuffers(b.codecCtx)
	return nil
}

func (b *Backend) Properties() frame.Properties { return b.props }

func (b *Backend) Close() error {
	if b.frame != nil {
		ffmpeg.AVFrameFree(&b.frame)
	}
	if b.packet != nil {
		ffmpeg.AVPacketFree(&b.packet)
	}
	if b.codecCtx != nil {
		ffmpeg.AVCodecFreeContext(&b.codecCtx)
	}
	if b.formatCtx != nil {
		ffmpeg.AVFormatCloseInput(&b.formatCtx)
	}
	return nil
}
