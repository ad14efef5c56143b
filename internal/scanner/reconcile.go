package scanner

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/calliope-audio/calliope/internal/database"
	"github.com/calliope-audio/calliope/internal/logger"
	"github.com/calliope-audio/calliope/internal/media"
)

// scanAndSave enumerates the subtree under path, reconciles every candidate
// against the scan index, demotes unresolved missing tracks, and flushes
// the final batch. Returns false when the run was cancelled or paused;
// queued work is flushed either way.
func (s *LibraryScanner) scanAndSave(ctx context.Context, run *scanRun, path string, tracks []database.Track) bool {
	run.populateExistingTracks(tracks, true)

	restrict := s.cfg.RestrictExtensions
	if len(restrict) == 0 {
		restrict = append(s.audio.SupportedFileExtensions(), "cue")
	}

	files := collectDirectoryFiles(path, restrict, s.cfg.ExcludeExtensions)

	run.totalFiles = len(files)
	s.reportProgress(run)

	for _, file := range files {
		if !s.mayRun(ctx) {
			run.batch.flush()
			return false
		}

		if file.isCue() {
			s.readCue(run, file.path)
		} else {
			s.readFile(ctx, run, file.path)
		}

		s.fileScanned(run, file.path)
		run.batch.flushIfFull()
	}

	// Missing tracks still unresolved after the whole subtree was examined
	// are demoted: unlinked from the library and disabled, never deleted.
	for _, track := range run.missingFiles {
		if track.InLibrary() || track.Enabled {
			demoted := track
			demoted.LibraryID = -1
			demoted.Enabled = false
			run.batch.queueUpdate(&demoted)
		}
	}

	run.batch.flush()

	return true
}

// readFile reconciles one non-cue candidate file: skip if a cue already
// resolved it this run, refresh a known track when stale, or treat as new.
func (s *LibraryScanner) readFile(ctx context.Context, run *scanRun, file string) {
	if run.cueResolved(file) {
		return
	}

	lastModified := modifiedTimeOf(file)

	if existing, ok := run.trackPaths[file]; ok {
		libraryTrack := existing[0]

		if s.needsRefresh(run, libraryTrack, lastModified) {
			changed := libraryTrack
			if !s.audio.ReadTrackMetadata(&changed) {
				return
			}
			if lastModified > 0 {
				changed.ModifiedAt = lastModified
			}
			s.updateExistingTrack(run, &changed, file)
		}
		return
	}

	if existing, ok := run.existingArchives[file]; ok {
		libraryTrack := existing[0]

		if s.needsRefresh(run, libraryTrack, lastModified) {
			for _, track := range s.readArchiveTracks(ctx, file) {
				s.updateExistingTrack(run, track, track.Path)
			}
		}
		return
	}

	s.readNewTrack(ctx, run, file)
}

// needsRefresh decides whether a known track must be re-read. Staleness is
// mtime-based only; a file whose mtime went backwards counts as unchanged
// under modified-only scans even if its content differs.
func (s *LibraryScanner) needsRefresh(run *scanRun, track database.Track, lastModified int64) bool {
	return !track.Enabled ||
		track.LibraryID != run.library.ID ||
		track.ModifiedAt < lastModified ||
		!run.onlyModified
}

// updateExistingTrack finalizes a refreshed track and queues it for update.
// Tracks with an embedded cue sheet expand into sub-tracks that replace the
// container track, preserving prior ids by composite path key.
func (s *LibraryScanner) updateExistingTrack(run *scanRun, track *database.Track, file string) {
	s.setTrackProps(run, track, file)
	delete(run.missingFiles, track.Filename())

	if !track.InDatabase() {
		if id := s.store.IDForTrack(track); id < 0 {
			logger.Warn("Updating track not present in store", "path", file)
		} else {
			track.ID = id
		}
	}

	if track.HasExtraTag(media.CueSheetTag) {
		existingByPath := make(map[string]database.Track)
		for _, existing := range run.existingCueTracks[track.Path] {
			existingByPath[existing.UniquePath()] = existing
		}

		for _, cueTrack := range s.readEmbeddedPlaylistTracks(track) {
			if existing, ok := existingByPath[cueTrack.UniquePath()]; ok {
				cueTrack.ID = existing.ID
			}
			s.setTrackProps(run, cueTrack, file)
			run.batch.queueUpdate(cueTrack)
			delete(run.missingHashes, cueTrack.Hash)
		}
		return
	}

	run.batch.queueUpdate(track)
	delete(run.missingHashes, track.Hash)
}

// readNewTrack reads a path unknown to the index. Each produced track is
// first checked against the missing-track indexes so a renamed or moved
// file updates its old record instead of creating a duplicate.
func (s *LibraryScanner) readNewTrack(ctx context.Context, run *scanRun, file string) {
	tracks := s.readTracks(ctx, file)
	if len(tracks) == 0 {
		return
	}

	for _, track := range tracks {
		if refound, ok := run.matchMissingTrack(track); ok && (refound.InLibrary() || refound.InDatabase()) {
			delete(run.missingHashes, refound.Hash)
			delete(run.missingFiles, refound.Filename())

			recovered := refound
			s.setTrackProps(run, &recovered, file)
			run.batch.queueUpdate(&recovered)
			continue
		}

		s.setTrackProps(run, track, track.Path)
		track.AddedAt = time.Now().UnixMilli()

		if track.HasExtraTag(media.CueSheetTag) {
			for _, cueTrack := range s.readEmbeddedPlaylistTracks(track) {
				s.setTrackProps(run, cueTrack, file)
				run.batch.queueStore(cueTrack)
			}
		} else {
			run.batch.queueStore(track)
		}
	}
}

// readCue reconciles one companion cue sheet. Known cues are re-derived
// only when the sheet's mtime advanced past the stored tracks'; unknown
// cues either re-associate tracks whose old sheet vanished or produce
// brand new sub-tracks.
func (s *LibraryScanner) readCue(run *scanRun, cue string) {
	lastModified := modifiedTimeOf(cue)

	if existing, ok := run.existingCueTracks[cue]; ok {
		if existing[0].ModifiedAt < lastModified || !run.onlyModified {
			s.updateExistingCueTracks(run, existing, cue)
		} else {
			for _, track := range existing {
				run.markCueResolved(track.Path)
			}
		}
		return
	}

	s.addNewCueTracks(run, cue)
}

// updateExistingCueTracks re-derives a known cue's sub-tracks, carrying ids
// over by composite path key rather than position.
func (s *LibraryScanner) updateExistingCueTracks(run *scanRun, existing []database.Track, cue string) {
	existingByPath := make(map[string]database.Track, len(existing))
	for _, track := range existing {
		existingByPath[track.UniquePath()] = track
	}

	for _, cueTrack := range s.readPlaylistTracks(cue, false) {
		if prior, ok := existingByPath[cueTrack.UniquePath()]; ok {
			cueTrack.ID = prior.ID
			cueTrack.AddedAt = prior.AddedAt
			cueTrack.PlayCount = prior.PlayCount
			cueTrack.FirstPlayed = prior.FirstPlayed
			cueTrack.LastPlayed = prior.LastPlayed
		}
		s.setTrackProps(run, cueTrack, cueTrack.Path)
		run.batch.queueUpdate(cueTrack)
		run.markCueResolved(cueTrack.Path)
	}
}

// addNewCueTracks handles a cue sheet not in the index. If tracks exist
// whose old cue sheet vanished and shared this sheet's filename, they are
// re-pointed at the new sheet; otherwise the sheet's sub-tracks are stored
// fresh.
func (s *LibraryScanner) addNewCueTracks(run *scanRun, cue string) {
	filename := baseName(cue)

	for missingCue, tracks := range run.missingCueTracks {
		if baseName(missingCue) != filename {
			continue
		}
		for _, track := range tracks {
			refound := track
			refound.CuePath = cue
			run.batch.queueUpdate(&refound)
			run.markCueResolved(refound.Path)
		}
		delete(run.missingCueTracks, missingCue)
		return
	}

	for _, cueTrack := range s.readPlaylistTracks(cue, false) {
		s.setTrackProps(run, cueTrack, cueTrack.Path)
		cueTrack.AddedAt = time.Now().UnixMilli()
		run.batch.queueStore(cueTrack)
		run.markCueResolved(cueTrack.Path)
	}
}

// setTrackProps finalizes a track before it is queued: timestamps, library
// linkage, enablement, and the content hash. A path change invalidates the
// stored hash so it is recomputed from the new file, never carried across
// a rename.
func (s *LibraryScanner) setTrackProps(run *scanRun, track *database.Track, file string) {
	if file != track.Path && !track.InArchive() {
		track.Path = file
		track.Hash = ""
	}

	s.readFileProperties(track)

	if run.library.ID > 0 {
		track.LibraryID = run.library.ID
	}
	if track.Hash == "" {
		hashTrack(track)
	}
	track.Enabled = true
}

// readTracks reads all tracks from one file, dispatching to archive
// traversal for containers. Unreadable or unsupported files produce zero
// tracks, never an error for the caller.
func (s *LibraryScanner) readTracks(ctx context.Context, path string) []*database.Track {
	if s.audio.IsArchive(path) {
		return s.readArchiveTracks(ctx, path)
	}

	reader, ok := s.audio.ReaderForFile(path)
	if !ok {
		return nil
	}

	file, err := os.Open(path)
	if err != nil {
		logger.Warn("Failed to open file", "path", path, "error", err)
		return nil
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return nil
	}

	tracks, err := reader.ReadTracks(&media.Source{Path: path, Reader: file, Size: info.Size()})
	if err != nil {
		logger.Info("Unsupported file", "path", path, "error", err)
		return nil
	}
	return tracks
}

// readArchiveTracks reads every supported entry inside an archive. Inner
// track paths use the container addressing scheme so a track maps back to
// its (container, entry) pair.
func (s *LibraryScanner) readArchiveTracks(ctx context.Context, path string) []*database.Track {
	reader, ok := s.audio.ArchiveReaderForFile(path)
	if !ok {
		return nil
	}

	prefix := media.ArchivePathPrefix(reader.Type(), path)
	modified := modifiedTimeOf(path)

	var tracks []*database.Track

	err := reader.ReadEntries(ctx, path, func(entry string, src *media.Source) error {
		if err := ctx.Err(); err != nil {
			return err
		}

		entryReader, ok := s.audio.ReaderForFile(entry)
		if !ok {
			logger.Info("Unsupported archive entry", "archive", path, "entry", entry)
			return nil
		}

		entryTracks, err := entryReader.ReadTracks(src)
		if err != nil {
			logger.Info("Unsupported archive entry", "archive", path, "entry", entry, "error", err)
			return nil
		}

		for _, track := range entryTracks {
			track.Path = prefix + entry
			track.ArchivePath = path
			track.ModifiedAt = modified
			tracks = append(tracks, track)
		}
		return nil
	})
	if err != nil {
		logger.Info("Failed to read archive", "path", path, "error", err)
		return nil
	}

	logger.Debug("Indexed archive", "path", path, "tracks", len(tracks))
	return tracks
}

// readPlaylist resolves a playlist's entries against the known track index,
// reusing existing records and hashing entries seen for the first time.
func (s *LibraryScanner) readPlaylist(run *scanRun, path string) []*database.Track {
	var tracks []*database.Track

	for _, entry := range s.readPlaylistTracks(path, true) {
		if existing, ok := run.trackPaths[entry.Path]; ok {
			for _, known := range existing {
				if known.UniquePath() == entry.UniquePath() {
					resolved := known
					tracks = append(tracks, &resolved)
					break
				}
			}
			continue
		}

		s.readFileProperties(entry)
		if entry.Hash == "" {
			hashTrack(entry)
		}
		tracks = append(tracks, entry)
	}

	return tracks
}

// readPlaylistTracks parses one playlist or cue file from disk. With
// addMissing set, entries whose files are absent are kept.
func (s *LibraryScanner) readPlaylistTracks(path string, addMissing bool) []*database.Track {
	if path == "" {
		return nil
	}

	parser, ok := s.playlists.ParserForExtension(filepath.Ext(path))
	if !ok {
		return nil
	}

	file, err := os.Open(path)
	if err != nil {
		logger.Warn("Failed to open playlist", "path", path, "error", err)
		return nil
	}
	defer file.Close()

	tracks, err := parser.ReadPlaylist(file, path, filepath.Dir(path), !addMissing)
	if err != nil {
		logger.Warn("Failed to parse playlist", "path", path, "error", err)
		return nil
	}
	return tracks
}

// readEmbeddedPlaylistTracks expands a track's embedded cue sheet into
// sub-tracks rooted at the track's own path.
func (s *LibraryScanner) readEmbeddedPlaylistTracks(track *database.Track) []*database.Track {
	values := track.ExtraTag(media.CueSheetTag)
	if len(values) == 0 {
		return nil
	}

	parser, ok := s.playlists.ParserForExtension("cue")
	if !ok {
		return nil
	}

	tracks, err := parser.ReadPlaylist(strings.NewReader(values[0]), track.Path, "", false)
	if err != nil {
		logger.Warn("Failed to parse embedded cue sheet", "path", track.Path, "error", err)
		return nil
	}

	for _, cueTrack := range tracks {
		hashTrack(cueTrack)
	}
	return tracks
}

// hashTrack computes the content hash for a plain file track. Archive
// entries keep the hash computed during traversal.
func hashTrack(track *database.Track) {
	if track.InArchive() {
		return
	}

	file, err := os.Open(track.Path)
	if err != nil {
		return
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return
	}

	track.Hash = media.ContentHash(&media.Source{Path: track.Path, Reader: file, Size: info.Size()}, track.SubSong)
}
