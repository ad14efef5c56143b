package scanner

import (
	"io/fs"
	"path/filepath"
	"sort"
	"strings"

	"github.com/calliope-audio/calliope/internal/logger"
)

// fileEntry is one enumerated candidate file.
type fileEntry struct {
	path string
	ext  string
	size int64
}

func (f fileEntry) isCue() bool {
	return f.ext == "cue"
}

// extensionFilter answers whether a file extension passes the configured
// restrict and exclude lists.
type extensionFilter struct {
	allowed map[string]bool
}

func newExtensionFilter(restrict, exclude []string) *extensionFilter {
	allowed := make(map[string]bool, len(restrict))
	for _, ext := range restrict {
		allowed[strings.ToLower(ext)] = true
	}
	for _, ext := range exclude {
		delete(allowed, strings.ToLower(ext))
	}
	return &extensionFilter{allowed: allowed}
}

func (f *extensionFilter) matches(ext string) bool {
	return f.allowed[ext]
}

// collectDirectoryFiles enumerates the subtree under base, applying the
// extension filter and skipping zero-byte files.
func collectDirectoryFiles(base string, restrict, exclude []string) []fileEntry {
	return collectFiles([]string{base}, restrict, exclude, nil)
}

// collectFiles enumerates an explicit set of locations. Directories are
// expanded recursively; plain files are included directly when they pass
// the filter or carry a playlist extension. The result is sorted
// alphabetically by path with cue sheets moved in front of everything else,
// so companion cue logic always runs before the media it references.
func collectFiles(paths []string, restrict, exclude, playlistExts []string) []fileEntry {
	filter := newExtensionFilter(restrict, exclude)

	playlists := make(map[string]bool, len(playlistExts))
	for _, ext := range playlistExts {
		playlists[strings.ToLower(ext)] = true
	}

	var files []fileEntry

	for _, path := range paths {
		abs, err := filepath.Abs(path)
		if err != nil {
			abs = path
		}

		info, err := statPath(abs)
		if err != nil {
			logger.Debug("Skipping unreadable path", "path", abs, "error", err)
			continue
		}

		if !info.IsDir() {
			entry := fileEntry{path: abs, ext: extensionOf(abs), size: info.Size()}
			if entry.size > 0 && (filter.matches(entry.ext) || playlists[entry.ext]) {
				files = append(files, entry)
			}
			continue
		}

		walkErr := filepath.WalkDir(abs, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				logger.Debug("Skipping unreadable entry", "path", path, "error", err)
				return nil
			}
			if d.IsDir() {
				return nil
			}

			ext := extensionOf(path)
			if !filter.matches(ext) {
				return nil
			}

			fileInfo, err := d.Info()
			if err != nil || fileInfo.Size() == 0 {
				return nil
			}

			files = append(files, fileEntry{path: path, ext: ext, size: fileInfo.Size()})
			return nil
		})
		if walkErr != nil {
			logger.Warn("Directory walk failed", "path", abs, "error", walkErr)
		}
	}

	sortFiles(files)

	return files
}

// sortFiles orders entries alphabetically by path, then moves cue sheets to
// the front with a stable pass that preserves the alphabetical order within
// each group.
func sortFiles(files []fileEntry) {
	sort.Slice(files, func(i, j int) bool {
		return files[i].path < files[j].path
	})
	sort.SliceStable(files, func(i, j int) bool {
		return files[i].isCue() && !files[j].isCue()
	})
}

func extensionOf(path string) string {
	return strings.ToLower(strings.TrimPrefix(filepath.Ext(path), "."))
}
