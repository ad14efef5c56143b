package playlist

import (
	"bufio"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/calliope-audio/calliope/internal/database"
)

// CueParser reads cue sheets and produces one track per TRACK directive.
// When baseDir is empty the sheet is treated as embedded and every track
// points at basePath itself.
type CueParser struct{}

type cueTrack struct {
	track   *database.Track
	start   int64
	missing bool
}

// ReadPlaylist parses a cue sheet into ordered subsong tracks. Track
// durations are derived from the gap between consecutive INDEX 01 offsets
// within the same media file; the last track of a file keeps duration 0
// until the caller probes the audio itself.
func (p *CueParser) ReadPlaylist(r io.Reader, basePath, baseDir string, skipMissing bool) ([]*database.Track, error) {
	embedded := baseDir == ""

	var parsed []*cueTrack

	var albumTitle string
	var albumArtist string
	var albumGenre string
	var albumYear int
	var discNumber int

	mediaPath := basePath
	mediaMissing := false

	var current *cueTrack

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		command, args := splitCueLine(scanner.Text())
		if command == "" {
			continue
		}

		switch command {
		case "FILE":
			if embedded {
				break
			}
			name := cueFileName(args)
			if name == "" {
				break
			}
			mediaPath = resolveEntry(name, basePath, baseDir)
			mediaMissing = false
			if skipMissing {
				if _, err := os.Stat(mediaPath); err != nil {
					mediaMissing = true
				}
			}
		case "TRACK":
			fields := strings.Fields(args)
			if len(fields) == 0 {
				break
			}
			number, err := strconv.Atoi(fields[0])
			if err != nil {
				break
			}
			current = &cueTrack{
				track: &database.Track{
					Path:        mediaPath,
					SubSong:     number,
					CuePath:     cuePathFor(basePath, embedded),
					Album:       albumTitle,
					AlbumArtist: albumArtist,
					Artist:      albumArtist,
					Genre:       albumGenre,
					Year:        albumYear,
					TrackNumber: number,
					DiscNumber:  discNumber,
				},
				start:   -1,
				missing: mediaMissing,
			}
			parsed = append(parsed, current)
		case "TITLE":
			if current != nil {
				current.track.Title = cueUnquote(args)
			} else {
				albumTitle = cueUnquote(args)
			}
		case "PERFORMER":
			if current != nil {
				current.track.Artist = cueUnquote(args)
			} else {
				albumArtist = cueUnquote(args)
			}
		case "INDEX":
			fields := strings.Fields(args)
			if len(fields) < 2 || current == nil || fields[0] != "01" {
				break
			}
			if offset, err := parseCueTime(fields[1]); err == nil {
				current.start = offset
			}
		case "REM":
			key, value, found := strings.Cut(args, " ")
			if !found {
				break
			}
			value = cueUnquote(strings.TrimSpace(value))
			switch strings.ToUpper(key) {
			case "DATE":
				if year, err := strconv.Atoi(value); err == nil {
					if current != nil {
						current.track.Year = year
					} else {
						albumYear = year
					}
				}
			case "GENRE":
				if current != nil {
					current.track.Genre = value
				} else {
					albumGenre = value
				}
			case "DISCNUMBER":
				if number, err := strconv.Atoi(value); err == nil {
					discNumber = number
				}
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	tracks := make([]*database.Track, 0, len(parsed))
	for i, entry := range parsed {
		if i+1 < len(parsed) {
			next := parsed[i+1]
			if next.track.Path == entry.track.Path && entry.start >= 0 && next.start > entry.start {
				entry.track.Duration = next.start - entry.start
			}
		}
		if entry.missing && skipMissing {
			continue
		}
		tracks = append(tracks, entry.track)
	}

	return tracks, nil
}

func cuePathFor(basePath string, embedded bool) string {
	if embedded {
		return database.CueEmbedded
	}
	return basePath
}

// splitCueLine splits a cue line into its command keyword and argument rest.
func splitCueLine(line string) (command, args string) {
	line = strings.TrimSpace(line)
	if line == "" {
		return "", ""
	}
	command, args, _ = strings.Cut(line, " ")
	return strings.ToUpper(command), strings.TrimSpace(args)
}

// cueFileName extracts the media path from a FILE directive's arguments,
// which carry a trailing file-type token: `"album.flac" WAVE`. Unquoted
// names fall back to the first whitespace-delimited field.
func cueFileName(args string) string {
	if start := strings.IndexByte(args, '"'); start >= 0 {
		if end := strings.LastIndexByte(args, '"'); end > start {
			return args[start+1 : end]
		}
	}
	fields := strings.Fields(args)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

func cueUnquote(s string) string {
	s = strings.TrimSpace(s)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		return s[1 : len(s)-1]
	}
	return s
}

// parseCueTime converts mm:ss:ff (75 frames per second) to milliseconds.
func parseCueTime(s string) (int64, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return 0, strconv.ErrSyntax
	}
	minutes, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return 0, err
	}
	seconds, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return 0, err
	}
	frames, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil {
		return 0, err
	}
	return minutes*60*1000 + seconds*1000 + frames*1000/75, nil
}
