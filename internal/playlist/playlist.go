// Package playlist parses playlist and cue sheet formats into track lists.
package playlist

import (
	"io"
	"strings"

	"github.com/calliope-audio/calliope/internal/database"
)

// Parser reads one playlist format.
type Parser interface {
	// ReadPlaylist parses the stream into tracks. basePath is the playlist's
	// own location (or the owning media file for embedded sheets); relative
	// entries resolve against baseDir, or against basePath itself when
	// baseDir is empty. When skipMissing is set, entries whose resolved file
	// does not exist are dropped.
	ReadPlaylist(r io.Reader, basePath, baseDir string, skipMissing bool) ([]*database.Track, error)
}

// Loader resolves parsers by file extension.
type Loader struct {
	parsers map[string]Parser
}

// NewLoader creates a loader with the built-in m3u and cue parsers.
func NewLoader() *Loader {
	return &Loader{
		parsers: map[string]Parser{
			"m3u":  &M3UParser{},
			"m3u8": &M3UParser{},
			"cue":  &CueParser{},
		},
	}
}

// ParserForExtension returns the parser for the extension, if any.
func (l *Loader) ParserForExtension(ext string) (Parser, bool) {
	parser, ok := l.parsers[strings.ToLower(strings.TrimPrefix(ext, "."))]
	return parser, ok
}

// SupportedExtensions lists the playlist extensions, without dots.
func (l *Loader) SupportedExtensions() []string {
	exts := make([]string, 0, len(l.parsers))
	for ext := range l.parsers {
		exts = append(exts, ext)
	}
	return exts
}
