package scanner

import (
	"io/fs"
	"os"
	"path/filepath"

	"github.com/calliope-audio/calliope/internal/database"
)

// scanRun is the per-run scan index and progress state. It is built at the
// start of a run from the existing track set and discarded when the run
// ends; nothing in it is persisted.
type scanRun struct {
	library      database.Library
	onlyModified bool

	// trackPaths indexes known tracks by file path; existingArchives by
	// their container path.
	trackPaths       map[string][]database.Track
	existingArchives map[string][]database.Track

	// missingFiles and missingHashes hold tracks whose file was absent at
	// index build time, keyed by filename and content hash for identity
	// recovery. The first track registered per key wins.
	missingFiles  map[string]database.Track
	missingHashes map[string]database.Track

	// Cue association indexes, keyed by effective cue path.
	existingCueTracks map[string][]database.Track
	missingCueTracks  map[string][]database.Track

	// cueFilesScanned records media paths already resolved through a cue
	// sheet this run, so the media files themselves are not re-read.
	cueFilesScanned map[string]struct{}

	filesScanned map[string]struct{}
	totalFiles   int

	batch *trackBatch
}

func newScanRun(library database.Library, onlyModified bool, batch *trackBatch) *scanRun {
	return &scanRun{
		library:           library,
		onlyModified:      onlyModified,
		trackPaths:        make(map[string][]database.Track),
		existingArchives:  make(map[string][]database.Track),
		missingFiles:      make(map[string]database.Track),
		missingHashes:     make(map[string]database.Track),
		existingCueTracks: make(map[string][]database.Track),
		missingCueTracks:  make(map[string][]database.Track),
		cueFilesScanned:   make(map[string]struct{}),
		filesScanned:      make(map[string]struct{}),
		batch:             batch,
	}
}

// populateExistingTracks builds the scan index from the stored track set.
// When includeMissing is set, tracks whose file no longer exists are also
// registered under their filename and hash so renames can be recovered.
func (r *scanRun) populateExistingTracks(tracks []database.Track, includeMissing bool) {
	for _, track := range tracks {
		r.trackPaths[track.Path] = append(r.trackPaths[track.Path], track)
		if track.InArchive() {
			r.existingArchives[track.ArchivePath] = append(r.existingArchives[track.ArchivePath], track)
		}

		if !includeMissing {
			continue
		}

		if track.HasCue() {
			cuePath := track.EffectiveCuePath()
			r.existingCueTracks[cuePath] = append(r.existingCueTracks[cuePath], track)
			if !fileExists(cuePath) {
				r.missingCueTracks[cuePath] = append(r.missingCueTracks[cuePath], track)
			}
		}

		onDisk := track.Path
		if track.InArchive() {
			onDisk = track.ArchivePath
		}
		if !fileExists(onDisk) {
			if _, ok := r.missingFiles[track.Filename()]; !ok {
				r.missingFiles[track.Filename()] = track
			}
			if _, ok := r.missingHashes[track.Hash]; !ok {
				r.missingHashes[track.Hash] = track
			}
		}
	}
}

// matchMissingTrack recovers the identity of a missing track that the
// candidate may be a renamed or moved copy of. Filename match covers a
// rename in place, hash match a move across directories; in both branches
// the stored duration must corroborate the match.
func (r *scanRun) matchMissingTrack(candidate *database.Track) (database.Track, bool) {
	if missing, ok := r.missingFiles[candidate.Filename()]; ok && missing.Duration == candidate.Duration {
		return missing, true
	}
	if missing, ok := r.missingHashes[candidate.Hash]; ok && missing.Duration == candidate.Duration {
		return missing, true
	}
	return database.Track{}, false
}

// cueResolved reports whether the media path was already covered by a cue
// sheet this run.
func (r *scanRun) cueResolved(path string) bool {
	_, ok := r.cueFilesScanned[path]
	return ok
}

func (r *scanRun) markCueResolved(path string) {
	r.cueFilesScanned[path] = struct{}{}
}

func (r *scanRun) markScanned(path string) {
	r.filesScanned[path] = struct{}{}
}

func statPath(path string) (fs.FileInfo, error) {
	return os.Stat(path)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// modifiedTimeOf returns the file's mtime in unix milliseconds, 0 when the
// file cannot be read.
func modifiedTimeOf(path string) int64 {
	info, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return info.ModTime().UnixMilli()
}

func baseName(path string) string {
	return filepath.Base(path)
}
