package media

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/cespare/xxhash/v2"
	"github.com/dhowden/tag"

	"github.com/calliope-audio/calliope/internal/database"
	"github.com/calliope-audio/calliope/internal/logger"
)

// errStopTraversal signals an early, successful exit from archive traversal.
var errStopTraversal = errors.New("stop traversal")

// CueSheetTag is the extra tag carrying an embedded cue sheet.
const CueSheetTag = "CUESHEET"

// DefaultTagReader reads tags with dhowden/tag and probes durations from
// container headers without decoding sample data.
type DefaultTagReader struct {
	supported map[string]bool
}

// NewDefaultTagReader creates a tag reader for the formats dhowden/tag
// understands.
func NewDefaultTagReader() *DefaultTagReader {
	return &DefaultTagReader{
		supported: map[string]bool{
			"mp3":  true,
			"flac": true,
			"ogg":  true,
			"m4a":  true,
			"m4b":  true,
			"m4p":  true,
			"mp4":  true,
			"dsf":  true,
		},
	}
}

// Supports reports whether the extension is readable.
func (r *DefaultTagReader) Supports(ext string) bool {
	return r.supported[ext]
}

// Extensions lists the readable extensions, without dots.
func (r *DefaultTagReader) Extensions() []string {
	exts := make([]string, 0, len(r.supported))
	for ext := range r.supported {
		exts = append(exts, ext)
	}
	return exts
}

// ReadTracks reads all logical sub-songs from the stream. Unsupported or
// unreadable streams yield zero tracks.
func (r *DefaultTagReader) ReadTracks(src *Source) ([]*database.Track, error) {
	track := &database.Track{
		Path:     src.Path,
		FileSize: src.Size,
	}
	if !r.refresh(track, src) {
		return nil, nil
	}
	return []*database.Track{track}, nil
}

// refresh reads tags, duration and hash from the source into the track.
func (r *DefaultTagReader) refresh(track *database.Track, src *Source) bool {
	if _, err := src.Reader.Seek(0, io.SeekStart); err != nil {
		return false
	}

	meta, err := tag.ReadFrom(src.Reader)
	if err != nil {
		logger.Debug("Unsupported file", "path", src.Path, "error", err)
		return false
	}

	track.Title = meta.Title()
	track.Artist = meta.Artist()
	track.Album = meta.Album()
	track.AlbumArtist = meta.AlbumArtist()
	track.Genre = meta.Genre()
	track.Year = meta.Year()
	track.TrackNumber, _ = meta.Track()
	track.DiscNumber, _ = meta.Disc()
	track.FileSize = src.Size

	if cue := rawCueSheet(meta); cue != "" {
		track.SetExtraTag(CueSheetTag, cue)
	}

	track.Duration = probeDuration(src)
	track.Hash = ContentHash(src, track.SubSong)

	return true
}

// rawCueSheet extracts an embedded cue sheet from the raw tag map. Vorbis
// comment keys come through lowercased, ID3 frame ids as written.
func rawCueSheet(meta tag.Metadata) string {
	for key, value := range meta.Raw() {
		if !strings.EqualFold(key, CueSheetTag) {
			continue
		}
		if text, ok := value.(string); ok && strings.TrimSpace(text) != "" {
			return text
		}
	}
	return ""
}

// ContentHash fingerprints the audio content of the source. When the format
// is tag-aware the hash covers the audio data only, so it survives renames
// and retagging; otherwise it falls back to hashing the raw bytes. Sub-song
// indices are folded in so container entries hash distinctly.
func ContentHash(src *Source, subSong int) string {
	var sum string

	if _, err := src.Reader.Seek(0, io.SeekStart); err != nil {
		return ""
	}
	if s, err := tag.Sum(src.Reader); err == nil {
		sum = s
	} else {
		if _, err := src.Reader.Seek(0, io.SeekStart); err != nil {
			return ""
		}
		h := xxhash.New()
		if _, err := io.Copy(h, src.Reader); err != nil {
			return ""
		}
		sum = fmt.Sprintf("%016x", h.Sum64())
	}

	if subSong > 0 {
		return fmt.Sprintf("%s-%d", sum, subSong)
	}
	return sum
}
