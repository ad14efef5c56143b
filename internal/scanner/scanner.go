// Package scanner implements library scanning and incremental
// reconciliation: walking filesystem trees and archives, refreshing track
// metadata, recovering renamed files, demoting missing tracks, and writing
// results back in batches while reporting progress over the event bus.
package scanner

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/calliope-audio/calliope/internal/config"
	"github.com/calliope-audio/calliope/internal/database"
	"github.com/calliope-audio/calliope/internal/events"
	"github.com/calliope-audio/calliope/internal/logger"
	"github.com/calliope-audio/calliope/internal/media"
	"github.com/calliope-audio/calliope/internal/playlist"
)

// ScanState is the lifecycle state of a LibraryScanner.
type ScanState int

const (
	Idle ScanState = iota
	Running
	Paused
)

func (s ScanState) String() string {
	switch s {
	case Running:
		return "running"
	case Paused:
		return "paused"
	default:
		return "idle"
	}
}

// LibraryScanner runs scans for one library at a time. At most one scan is
// active per scanner, enforced by the state machine; callers observe
// results through the event bus, not return values.
type LibraryScanner struct {
	store     *database.TrackStore
	bus       events.EventBus
	audio     media.AudioLoader
	playlists *playlist.Loader
	cfg       config.ScannerConfig

	mu    sync.Mutex
	state ScanState
}

// New creates a scanner over the given collaborators.
func New(store *database.TrackStore, bus events.EventBus, audio media.AudioLoader, playlists *playlist.Loader, cfg config.ScannerConfig) *LibraryScanner {
	return &LibraryScanner{
		store:     store,
		bus:       bus,
		audio:     audio,
		playlists: playlists,
		cfg:       cfg,
	}
}

// State returns the current lifecycle state.
func (s *LibraryScanner) State() ScanState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *LibraryScanner) setState(state ScanState) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

// Pause requests a cooperative suspension. The running scan observes it at
// the next file boundary, flushes queued work and leaves its library in
// the pending status until a fresh scan call resumes it.
func (s *LibraryScanner) Pause() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == Running {
		s.state = Paused
	}
}

// Stop requests a cooperative stop. Queued work is flushed before the run
// returns.
func (s *LibraryScanner) Stop() {
	s.setState(Idle)
}

// mayRun is the cooperative check honored before each unit of work.
func (s *LibraryScanner) mayRun(ctx context.Context) bool {
	return ctx.Err() == nil && s.State() == Running
}

// ScanLibrary runs a full reconciliation of a library root against its
// stored tracks. With onlyModified set, files whose mtime has not advanced
// past the stored track's are skipped.
func (s *LibraryScanner) ScanLibrary(ctx context.Context, library database.Library, tracks []database.Track, onlyModified bool) {
	s.setState(Running)

	run := newScanRun(library, onlyModified, s.newBatch(library.ID))
	s.changeLibraryStatus(run, database.LibraryScanning)

	start := time.Now()

	if library.ID > 0 && fileExists(library.Path) {
		s.scanAndSave(ctx, run, library.Path, tracks)
	} else {
		logger.Warn("Library root missing, skipping scan", "library", library.Name, "path", library.Path)
	}

	logger.Info("Library scan finished",
		"library", library.Name,
		"files", len(run.filesScanned),
		"duration", time.Since(start).Round(time.Millisecond))

	s.finishLibraryScan(run)
}

// ScanLibraryDirectory runs a reconciliation scoped to one subtree of a
// library, as triggered by a watch event. Always modified-only.
func (s *LibraryScanner) ScanLibraryDirectory(ctx context.Context, library database.Library, dir string, tracks []database.Track) {
	s.setState(Running)

	run := newScanRun(library, true, s.newBatch(library.ID))
	s.changeLibraryStatus(run, database.LibraryScanning)

	s.scanAndSave(ctx, run, dir, tracks)

	s.finishLibraryScan(run)
}

// ScanTracks re-reads metadata for the given tracks without discovering new
// files. Tracks with a cue association are skipped; their metadata comes
// from the cue sheet.
func (s *LibraryScanner) ScanTracks(ctx context.Context, tracks []database.Track) {
	s.setState(Running)

	run := newScanRun(database.Library{}, false, s.newBatch(0))
	run.totalFiles = len(tracks)

	var updated []*database.Track

	for _, track := range tracks {
		if !s.mayRun(ctx) {
			s.finishScan(run)
			return
		}

		if track.HasCue() {
			continue
		}

		refreshed := &database.Track{
			Path:        track.Path,
			SubSong:     track.SubSong,
			ArchivePath: track.ArchivePath,
		}
		if s.audio.ReadTrackMetadata(refreshed) {
			refreshed.ID = track.ID
			refreshed.LibraryID = track.LibraryID
			refreshed.AddedAt = track.AddedAt
			refreshed.Enabled = track.Enabled
			refreshed.PlayCount = track.PlayCount
			refreshed.FirstPlayed = track.FirstPlayed
			refreshed.LastPlayed = track.LastPlayed
			s.readFileProperties(refreshed)

			updated = append(updated, refreshed)
		}

		s.fileScanned(run, track.Path)
	}

	if len(updated) > 0 {
		if err := s.store.UpdateTracks(updated); err != nil {
			logger.Error("Failed to update rescanned tracks", "error", err)
		}
		if err := s.store.UpdateTrackStats(updated); err != nil {
			logger.Error("Failed to update track stats", "error", err)
		}

		event := events.NewScannerEvent(events.EventScanUpdate, "Tracks rescanned", "")
		event.Data["update"] = events.ScanUpdateData{UpdatedTracks: updated}
		s.publish(event)
	}

	s.finishScan(run)
}

// ScanFiles scans an explicit set of files and directories not tied to a
// configured library. Playlists are expanded; media already known from
// libraryTracks is reused rather than re-read. Results are stored and
// announced with a tracks-scanned event.
func (s *LibraryScanner) ScanFiles(ctx context.Context, libraryTracks []database.Track, paths []string) {
	s.setState(Running)

	run := newScanRun(database.Library{}, false, s.newBatch(0))
	run.populateExistingTracks(libraryTracks, false)

	playlistExts := s.playlists.SupportedExtensions()
	restrict := s.cfg.ExternalRestrictExtensions
	if len(restrict) == 0 {
		restrict = append(s.audio.SupportedFileExtensions(), "cue")
	}

	files := collectFiles(paths, restrict, s.cfg.ExternalExcludeExtensions, playlistExts)
	run.totalFiles = len(files)
	s.reportProgress(run)

	playlists := make(map[string]bool, len(playlistExts))
	for _, ext := range playlistExts {
		playlists[ext] = true
	}

	var scanned []*database.Track

	for _, file := range files {
		if !s.mayRun(ctx) {
			break
		}

		if playlists[file.ext] {
			playlistTracks := s.readPlaylist(run, file.path)
			run.totalFiles += len(playlistTracks)
			for _, track := range playlistTracks {
				s.fileScanned(run, track.Path)
				scanned = append(scanned, track)
			}
			s.fileScanned(run, file.path)
			continue
		}

		if _, seen := run.filesScanned[file.path]; !seen {
			scanned = append(scanned, s.resolveExternalFile(ctx, run, file.path)...)
		}
		s.fileScanned(run, file.path)
	}

	if len(scanned) > 0 {
		s.storeNewTracks(scanned)

		event := events.NewScannerEvent(events.EventTracksScanned, "Tracks scanned", "")
		event.Data["tracks"] = scanned
		s.publish(event)
	}

	s.finishScan(run)
}

// ScanPlaylist reads the given playlist files and announces their resolved
// track lists without touching the filesystem beyond those files.
func (s *LibraryScanner) ScanPlaylist(ctx context.Context, libraryTracks []database.Track, paths []string) {
	s.setState(Running)

	run := newScanRun(database.Library{}, false, s.newBatch(0))
	run.populateExistingTracks(libraryTracks, false)
	s.reportProgress(run)

	if !s.mayRun(ctx) {
		s.finishScan(run)
		return
	}

	var scanned []*database.Track

	for _, path := range paths {
		for _, track := range s.readPlaylist(run, path) {
			run.markScanned(track.Path)
			scanned = append(scanned, track)
		}
	}

	if len(scanned) > 0 {
		s.storeNewTracks(scanned)

		event := events.NewScannerEvent(events.EventPlaylistLoaded, "Playlist loaded", "")
		event.Data["tracks"] = scanned
		s.publish(event)
	}

	s.finishScan(run)
}

// resolveExternalFile resolves one ad-hoc media file against the known
// track index, reading it fresh only when unknown.
func (s *LibraryScanner) resolveExternalFile(ctx context.Context, run *scanRun, path string) []*database.Track {
	if existing, ok := run.trackPaths[path]; ok {
		return copyTracks(existing)
	}
	if existing, ok := run.existingArchives[path]; ok {
		return copyTracks(existing)
	}

	tracks := s.readTracks(ctx, path)
	var resolved []*database.Track
	for _, track := range tracks {
		s.readFileProperties(track)
		track.AddedAt = time.Now().UnixMilli()

		if track.HasExtraTag(media.CueSheetTag) {
			resolved = append(resolved, s.readEmbeddedPlaylistTracks(track)...)
		} else {
			resolved = append(resolved, track)
		}
	}
	return resolved
}

// storeNewTracks persists the tracks that are not yet in the store.
func (s *LibraryScanner) storeNewTracks(tracks []*database.Track) {
	var fresh []*database.Track
	for _, track := range tracks {
		if !track.InDatabase() {
			fresh = append(fresh, track)
		}
	}
	if err := s.store.StoreTracks(fresh); err != nil {
		logger.Error("Failed to store scanned tracks", "error", err)
	}
}

func (s *LibraryScanner) newBatch(libraryID int) *trackBatch {
	size := s.cfg.BatchSize
	if size <= 0 {
		size = config.DefaultBatchSize
	}
	return newTrackBatch(s.store, s.bus, size, libraryID)
}

// finishLibraryScan restores library status after a library-rooted scan. A
// paused scan leaves the library pending and keeps the paused state; a
// fresh scan call resumes it.
func (s *LibraryScanner) finishLibraryScan(run *scanRun) {
	if s.State() == Paused {
		s.changeLibraryStatus(run, database.LibraryPending)
		return
	}

	status := database.LibraryIdle
	if s.cfg.MonitorLibraries {
		status = database.LibraryMonitoring
	}
	s.changeLibraryStatus(run, status)

	s.setState(Idle)
	s.emitFinished(run)
}

// finishScan completes a non-library run.
func (s *LibraryScanner) finishScan(run *scanRun) {
	if s.State() == Paused {
		return
	}
	s.setState(Idle)
	s.reportProgress(run)
	s.emitFinished(run)
}

func (s *LibraryScanner) emitFinished(run *scanRun) {
	event := events.NewScannerEvent(events.EventScanFinished, "Scan finished", "")
	event.Data["progress"] = events.ScanProgressData{
		LibraryID:    run.library.ID,
		FilesScanned: len(run.filesScanned),
		FilesTotal:   run.totalFiles,
	}
	s.publish(event)
}

func (s *LibraryScanner) changeLibraryStatus(run *scanRun, status database.LibraryStatus) {
	run.library.Status = status

	if err := s.store.SaveLibrary(&run.library); err != nil {
		logger.Error("Failed to save library status", "library", run.library.Name, "error", err)
	}

	event := events.NewScannerEvent(events.EventLibraryStatusChanged, "Library status changed", "")
	event.Data["library"] = events.LibraryStatusData{
		LibraryID: run.library.ID,
		Path:      run.library.Path,
		Name:      run.library.Name,
		Status:    string(status),
	}
	s.publish(event)
}

func (s *LibraryScanner) fileScanned(run *scanRun, path string) {
	run.markScanned(path)
	s.reportProgress(run)
}

func (s *LibraryScanner) reportProgress(run *scanRun) {
	event := events.NewScannerEvent(events.EventScanProgress, "Scan progress", "")
	event.Data["progress"] = events.ScanProgressData{
		LibraryID:    run.library.ID,
		FilesScanned: len(run.filesScanned),
		FilesTotal:   run.totalFiles,
	}
	s.publish(event)
}

func (s *LibraryScanner) publish(event events.Event) {
	if s.bus == nil {
		return
	}
	if err := s.bus.PublishAsync(event); err != nil {
		logger.Debug("Failed to publish scanner event", "type", event.Type, "error", err)
	}
}

// readFileProperties fills in timestamps and size for fields still at their
// zero value.
func (s *LibraryScanner) readFileProperties(track *database.Track) {
	if track.AddedAt == 0 {
		track.AddedAt = time.Now().UnixMilli()
	}

	statTarget := track.Path
	if track.InArchive() {
		statTarget = track.ArchivePath
	}

	if track.ModifiedAt == 0 {
		track.ModifiedAt = modifiedTimeOf(statTarget)
	}
	if track.FileSize == 0 {
		if info, err := os.Stat(statTarget); err == nil {
			track.FileSize = info.Size()
		}
	}
}

func copyTracks(tracks []database.Track) []*database.Track {
	out := make([]*database.Track, 0, len(tracks))
	for i := range tracks {
		track := tracks[i]
		out = append(out, &track)
	}
	return out
}
