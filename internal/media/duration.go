package media

import (
	"io"

	"github.com/hajimehoshi/go-mp3"
	"github.com/mewkiz/flac"

	"github.com/calliope-audio/calliope/internal/logger"
)

// probeDuration estimates the source's duration in milliseconds from its
// container headers. Formats without a cheap probe report zero; callers
// treat zero as unknown.
func probeDuration(src *Source) int64 {
	if _, err := src.Reader.Seek(0, io.SeekStart); err != nil {
		return 0
	}

	switch extensionOf(src.Path) {
	case "flac":
		return flacDuration(src)
	case "mp3":
		return mp3Duration(src)
	default:
		return 0
	}
}

func flacDuration(src *Source) int64 {
	stream, err := flac.New(src.Reader)
	if err != nil {
		logger.Debug("FLAC duration probe failed", "path", src.Path, "error", err)
		return 0
	}

	info := stream.Info
	if info == nil || info.SampleRate == 0 {
		return 0
	}
	return int64(info.NSamples) * 1000 / int64(info.SampleRate)
}

func mp3Duration(src *Source) int64 {
	decoder, err := mp3.NewDecoder(src.Reader)
	if err != nil {
		logger.Debug("MP3 duration probe failed", "path", src.Path, "error", err)
		return 0
	}

	rate := int64(decoder.SampleRate())
	if rate == 0 {
		return 0
	}
	// Length reports decoded bytes: 2 channels of 16-bit samples.
	samples := decoder.Length() / 4
	return samples * 1000 / rate
}
