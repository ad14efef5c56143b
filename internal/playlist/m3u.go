package playlist

import (
	"bufio"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/calliope-audio/calliope/internal/database"
)

// M3UParser reads m3u and extended m3u playlists.
type M3UParser struct{}

// ReadPlaylist parses an m3u stream into tracks.
func (p *M3UParser) ReadPlaylist(r io.Reader, basePath, baseDir string, skipMissing bool) ([]*database.Track, error) {
	var tracks []*database.Track

	var pendingTitle string
	var pendingDuration int64

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		if strings.HasPrefix(line, "#") {
			if title, duration, ok := parseExtInf(line); ok {
				pendingTitle = title
				pendingDuration = duration
			}
			continue
		}

		path := resolveEntry(line, basePath, baseDir)
		if skipMissing {
			if _, err := os.Stat(path); err != nil {
				pendingTitle, pendingDuration = "", 0
				continue
			}
		}

		track := &database.Track{
			Path:     path,
			Title:    pendingTitle,
			Duration: pendingDuration,
		}
		tracks = append(tracks, track)
		pendingTitle, pendingDuration = "", 0
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	return tracks, nil
}

// parseExtInf parses "#EXTINF:<seconds>,<artist - title>" directives.
func parseExtInf(line string) (title string, durationMs int64, ok bool) {
	rest, found := strings.CutPrefix(line, "#EXTINF:")
	if !found {
		return "", 0, false
	}

	meta, title, found := strings.Cut(rest, ",")
	if !found {
		title = ""
	}
	if secs, err := strconv.ParseFloat(strings.TrimSpace(meta), 64); err == nil && secs > 0 {
		durationMs = int64(secs * 1000)
	}
	return strings.TrimSpace(title), durationMs, true
}

func resolveEntry(entry, basePath, baseDir string) string {
	entry = filepath.FromSlash(entry)
	if filepath.IsAbs(entry) {
		return filepath.Clean(entry)
	}
	if baseDir == "" {
		baseDir = filepath.Dir(basePath)
	}
	return filepath.Clean(filepath.Join(baseDir, entry))
}
