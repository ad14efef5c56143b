// Package media provides tag and container reading for the scanner: format
// detection, tag extraction, duration probing, content hashing, and archive
// traversal. The scanner never interprets raw audio bytes itself.
package media

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/calliope-audio/calliope/internal/database"
)

// Source is an open, seekable view of one media stream, either a file on
// disk or an entry inside an archive.
type Source struct {
	Path   string
	Reader io.ReadSeeker
	Size   int64
}

// TagReader extracts tracks from a single media stream.
type TagReader interface {
	// ReadTracks reads all logical sub-songs of the stream. An unsupported
	// or unreadable stream yields zero tracks and a nil error.
	ReadTracks(src *Source) ([]*database.Track, error)
}

// ArchiveReader enumerates the inner entries of an archive container.
type ArchiveReader interface {
	// Type identifies the container format ("zip", "rar", "7z").
	Type() string

	// ReadEntries opens the archive at path and invokes fn for each inner
	// file entry. fn returning an error stops the traversal.
	ReadEntries(ctx context.Context, path string, fn func(entry string, src *Source) error) error
}

// AudioLoader is the tag/container reading collaborator used by the scanner.
type AudioLoader interface {
	// IsArchive reports whether the path is a recognized archive container.
	IsArchive(path string) bool

	// ReaderForFile returns a tag reader for the file type, or false if the
	// type is unsupported.
	ReaderForFile(path string) (TagReader, bool)

	// ArchiveReaderForFile returns an archive reader for the container
	// type, or false if the type is unsupported.
	ArchiveReaderForFile(path string) (ArchiveReader, bool)

	// SupportedFileExtensions lists the media extensions the loader can
	// read, without dots.
	SupportedFileExtensions() []string

	// ReadTrackMetadata re-reads tags, duration, size and hash for an
	// existing track in place. Returns false when the file cannot be read.
	ReadTrackMetadata(track *database.Track) bool
}

// Loader is the production AudioLoader.
type Loader struct {
	tagReader      *DefaultTagReader
	archiveFormats map[string]ArchiveReader
}

// NewLoader creates a loader with the built-in tag reader and archive
// format table.
func NewLoader() *Loader {
	return &Loader{
		tagReader: NewDefaultTagReader(),
		archiveFormats: map[string]ArchiveReader{
			"zip": newArchiveFormat("zip"),
			"rar": newArchiveFormat("rar"),
			"7z":  newArchiveFormat("7z"),
		},
	}
}

// IsArchive reports whether the path has a recognized archive extension.
func (l *Loader) IsArchive(path string) bool {
	_, ok := l.archiveFormats[extensionOf(path)]
	return ok
}

// ReaderForFile returns the tag reader when the file type is supported.
func (l *Loader) ReaderForFile(path string) (TagReader, bool) {
	if !l.tagReader.Supports(extensionOf(path)) {
		return nil, false
	}
	return l.tagReader, true
}

// ArchiveReaderForFile returns the archive reader for the container type.
func (l *Loader) ArchiveReaderForFile(path string) (ArchiveReader, bool) {
	reader, ok := l.archiveFormats[extensionOf(path)]
	return reader, ok
}

// SupportedFileExtensions lists media extensions readable by the tag
// reader plus the archive container extensions, so scans enumerate both.
func (l *Loader) SupportedFileExtensions() []string {
	exts := l.tagReader.Extensions()
	for ext := range l.archiveFormats {
		exts = append(exts, ext)
	}
	return exts
}

// ReadTrackMetadata refreshes an existing track's tags from its file. The
// track's identity fields (id, library, added time, cue association) are
// left untouched.
func (l *Loader) ReadTrackMetadata(track *database.Track) bool {
	if track.InArchive() {
		return l.readArchiveTrackMetadata(track)
	}

	file, err := os.Open(track.Path)
	if err != nil {
		return false
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return false
	}

	src := &Source{Path: track.Path, Reader: file, Size: info.Size()}
	return l.tagReader.refresh(track, src)
}

func (l *Loader) readArchiveTrackMetadata(track *database.Track) bool {
	reader, ok := l.ArchiveReaderForFile(track.ArchivePath)
	if !ok {
		return false
	}

	found := false
	err := reader.ReadEntries(context.Background(), track.ArchivePath, func(entry string, src *Source) error {
		if !strings.HasSuffix(track.Path, "!"+entry) {
			return nil
		}
		found = l.tagReader.refresh(track, src)
		return errStopTraversal
	})
	if err != nil && err != errStopTraversal {
		return false
	}
	return found
}

func extensionOf(path string) string {
	return strings.ToLower(strings.TrimPrefix(filepath.Ext(path), "."))
}
