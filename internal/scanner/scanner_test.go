package scanner

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/calliope-audio/calliope/internal/config"
	"github.com/calliope-audio/calliope/internal/database"
	"github.com/calliope-audio/calliope/internal/events"
	"github.com/calliope-audio/calliope/internal/media"
	"github.com/calliope-audio/calliope/internal/playlist"
)

// fakeLoader reads the test audio format: a text file whose first line is
// AUDIO, followed by the title, the duration in milliseconds, and an
// optional CUESHEET section.
type fakeLoader struct{}

func (l *fakeLoader) IsArchive(path string) bool { return extensionOf(path) == "zip" }

func (l *fakeLoader) ReaderForFile(path string) (media.TagReader, bool) {
	ext := extensionOf(path)
	if ext == "flac" || ext == "mp3" {
		return &fakeTagReader{}, true
	}
	return nil, false
}

func (l *fakeLoader) ArchiveReaderForFile(path string) (media.ArchiveReader, bool) {
	if extensionOf(path) == "zip" {
		return &fakeArchiveReader{}, true
	}
	return nil, false
}

func (l *fakeLoader) SupportedFileExtensions() []string { return []string{"flac", "mp3", "zip"} }

func (l *fakeLoader) ReadTrackMetadata(track *database.Track) bool {
	data, err := os.ReadFile(track.Path)
	if err != nil {
		return false
	}
	return parseFakeAudio(track, data)
}

type fakeTagReader struct{}

func (r *fakeTagReader) ReadTracks(src *media.Source) ([]*database.Track, error) {
	if _, err := src.Reader.Seek(0, io.SeekStart); err != nil {
		return nil, nil
	}
	data, err := io.ReadAll(src.Reader)
	if err != nil {
		return nil, nil
	}

	track := &database.Track{Path: src.Path, FileSize: src.Size}
	if !parseFakeAudio(track, data) {
		return nil, nil
	}
	return []*database.Track{track}, nil
}

func parseFakeAudio(track *database.Track, data []byte) bool {
	lines := strings.Split(string(data), "\n")
	if len(lines) < 3 || lines[0] != "AUDIO" {
		return false
	}

	duration, err := strconv.ParseInt(lines[2], 10, 64)
	if err != nil {
		return false
	}

	track.Title = lines[1]
	track.Duration = duration
	// Same fallback hashing as the production loader uses for untagged
	// content, so hashes agree across read paths.
	track.Hash = fmt.Sprintf("%016x", xxhash.Sum64(data))

	if len(lines) > 4 && lines[3] == "CUESHEET" {
		track.SetExtraTag(media.CueSheetTag, strings.Join(lines[4:], "\n"))
	}
	return true
}

// recordingBus captures published events synchronously.
type recordingBus struct {
	mu      sync.Mutex
	events  []events.Event
	onEvent func(events.Event)
}

func (b *recordingBus) Publish(_ context.Context, event events.Event) error {
	return b.PublishAsync(event)
}

func (b *recordingBus) PublishAsync(event events.Event) error {
	b.mu.Lock()
	b.events = append(b.events, event)
	cb := b.onEvent
	b.mu.Unlock()

	if cb != nil {
		cb(event)
	}
	return nil
}

func (b *recordingBus) Subscribe(context.Context, events.EventFilter, events.EventHandler) (*events.Subscription, error) {
	return &events.Subscription{}, nil
}
func (b *recordingBus) Unsubscribe(string) error { return nil }

func (b *recordingBus) GetSubscriptions() []*events.Subscription { return nil }

func (b *recordingBus) GetEvents(events.EventFilter, int, int) ([]events.Event, int64, error) {
	return nil, 0, nil
}

func (b *recordingBus) GetStats() events.EventStats { return events.EventStats{} }

func (b *recordingBus) Start(context.Context) error { return nil }

func (b *recordingBus) Stop(context.Context) error { return nil }

func (b *recordingBus) Health() error { return nil }

func (b *recordingBus) ofType(eventType events.EventType) []events.Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	var matched []events.Event
	for _, event := range b.events {
		if event.Type == eventType {
			matched = append(matched, event)
		}
	}
	return matched
}

func (b *recordingBus) reset() {
	b.mu.Lock()
	b.events = nil
	b.mu.Unlock()
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)

	// Every pooled connection to :memory: is a distinct database, so the
	// pool must stay at one connection.
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, database.Migrate(db))
	return db
}

func newTestScanner(t *testing.T, db *gorm.DB, bus events.EventBus) (*LibraryScanner, *database.TrackStore) {
	t.Helper()

	store := database.NewTrackStore(db)
	cfg := config.ScannerConfig{BatchSize: config.DefaultBatchSize}
	return New(store, bus, &fakeLoader{}, playlist.NewLoader(), cfg), store
}

func createLibrary(t *testing.T, db *gorm.DB, path string) database.Library {
	t.Helper()

	library := database.Library{Path: path, Name: "Test Library", Status: database.LibraryIdle}
	require.NoError(t, db.Create(&library).Error)
	return library
}

func writeAudio(t *testing.T, path, title string, duration int64) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(fmt.Sprintf("AUDIO\n%s\n%d\n", title, duration)), 0o644))
}

func setMtime(t *testing.T, path string, at time.Time) {
	t.Helper()
	require.NoError(t, os.Chtimes(path, at, at))
}

func scanLibraryNow(t *testing.T, s *LibraryScanner, store *database.TrackStore, library database.Library, onlyModified bool) {
	t.Helper()

	tracks, err := store.TracksForLibrary(library.ID)
	require.NoError(t, err)
	s.ScanLibrary(context.Background(), library, tracks, onlyModified)
}

func TestScanLibraryAddsNewTracks(t *testing.T) {
	dir := t.TempDir()
	writeAudio(t, filepath.Join(dir, "one.flac"), "One", 180000)
	writeAudio(t, filepath.Join(dir, "two.flac"), "Two", 200000)
	writeAudio(t, filepath.Join(dir, "notes.txt"), "ignored", 0)

	db := newTestDB(t)
	bus := &recordingBus{}
	s, store := newTestScanner(t, db, bus)
	library := createLibrary(t, db, dir)

	scanLibraryNow(t, s, store, library, true)

	tracks, err := store.TracksForLibrary(library.ID)
	require.NoError(t, err)
	require.Len(t, tracks, 2)

	for _, track := range tracks {
		assert.True(t, track.InDatabase())
		assert.True(t, track.Enabled)
		assert.Equal(t, library.ID, track.LibraryID)
		assert.NotEmpty(t, track.Hash)
		assert.NotZero(t, track.ModifiedAt)
		assert.NotZero(t, track.AddedAt)
	}
	assert.Equal(t, "One", tracks[0].Title)

	assert.Equal(t, Idle, s.State())
	assert.Len(t, bus.ofType(events.EventScanFinished), 1)
	require.NotEmpty(t, bus.ofType(events.EventScanUpdate))

	var saved database.Library
	require.NoError(t, db.First(&saved, library.ID).Error)
	assert.Equal(t, database.LibraryIdle, saved.Status)
}

func TestScanLibraryIdempotent(t *testing.T) {
	dir := t.TempDir()
	writeAudio(t, filepath.Join(dir, "one.flac"), "One", 180000)
	writeAudio(t, filepath.Join(dir, "two.flac"), "Two", 200000)

	db := newTestDB(t)
	bus := &recordingBus{}
	s, store := newTestScanner(t, db, bus)
	library := createLibrary(t, db, dir)

	scanLibraryNow(t, s, store, library, true)
	bus.reset()

	scanLibraryNow(t, s, store, library, true)

	assert.Empty(t, bus.ofType(events.EventScanUpdate), "unchanged filesystem must produce no writes")

	tracks, err := store.TracksForLibrary(library.ID)
	require.NoError(t, err)
	assert.Len(t, tracks, 2)
}

func TestScanLibraryRecoversRenamedFile(t *testing.T) {
	dir := t.TempDir()
	original := filepath.Join(dir, "original.flac")
	writeAudio(t, original, "One", 180000)

	db := newTestDB(t)
	bus := &recordingBus{}
	s, store := newTestScanner(t, db, bus)
	library := createLibrary(t, db, dir)

	scanLibraryNow(t, s, store, library, true)

	before, err := store.TracksForLibrary(library.ID)
	require.NoError(t, err)
	require.Len(t, before, 1)

	// Same content under a new name: identity must be recovered by hash.
	renamed := filepath.Join(dir, "renamed.flac")
	writeAudio(t, renamed, "One", 180000)
	require.NoError(t, os.Remove(original))

	scanLibraryNow(t, s, store, library, true)

	all, err := store.AllTracks()
	require.NoError(t, err)
	require.Len(t, all, 1, "rename must not create a second track")

	assert.Equal(t, before[0].ID, all[0].ID)
	assert.Equal(t, renamed, all[0].Path)
	assert.True(t, all[0].Enabled)
	assert.Equal(t, library.ID, all[0].LibraryID)
}

func TestScanLibrarySoftDeletesMissingTracks(t *testing.T) {
	dir := t.TempDir()
	kept := filepath.Join(dir, "kept.flac")
	gone := filepath.Join(dir, "gone.flac")
	writeAudio(t, kept, "Kept", 180000)
	writeAudio(t, gone, "Gone", 200000)

	db := newTestDB(t)
	s, store := newTestScanner(t, db, &recordingBus{})
	library := createLibrary(t, db, dir)

	scanLibraryNow(t, s, store, library, true)
	require.NoError(t, os.Remove(gone))
	scanLibraryNow(t, s, store, library, true)

	all, err := store.AllTracks()
	require.NoError(t, err)
	require.Len(t, all, 2, "missing tracks are demoted, never deleted")

	var missing *database.Track
	for i := range all {
		if all[i].Path == gone {
			missing = &all[i]
		}
	}
	require.NotNil(t, missing)
	assert.False(t, missing.Enabled)
	assert.Equal(t, -1, missing.LibraryID)
}

func TestScanLibraryCueSheetSuppliesTracks(t *testing.T) {
	dir := t.TempDir()
	writeAudio(t, filepath.Join(dir, "track1.flac"), "Raw One", 180000)
	writeAudio(t, filepath.Join(dir, "track2.flac"), "Raw Two", 200000)

	cuePath := filepath.Join(dir, "album.cue")
	sheet := `TITLE "Album"
PERFORMER "Artist"
FILE "track1.flac" WAVE
  TRACK 01 AUDIO
    TITLE "Cue One"
    INDEX 01 00:00:00
FILE "track2.flac" WAVE
  TRACK 02 AUDIO
    TITLE "Cue Two"
    INDEX 01 00:00:00
`
	require.NoError(t, os.WriteFile(cuePath, []byte(sheet), 0o644))

	db := newTestDB(t)
	s, store := newTestScanner(t, db, &recordingBus{})
	library := createLibrary(t, db, dir)

	scanLibraryNow(t, s, store, library, true)

	tracks, err := store.TracksForLibrary(library.ID)
	require.NoError(t, err)
	require.Len(t, tracks, 2, "media covered by a cue must not produce standalone tracks")

	for _, track := range tracks {
		assert.Equal(t, cuePath, track.CuePath)
		assert.True(t, strings.HasPrefix(track.Title, "Cue"))
		assert.Equal(t, "Album", track.Album)
	}
}

func TestScanLibraryExpandsEmbeddedCueSheet(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "disc.flac")
	sheet := "CUESHEET\nFILE \"disc.flac\" WAVE\n  TRACK 01 AUDIO\n    TITLE \"Part One\"\n    INDEX 01 00:00:00\n  TRACK 02 AUDIO\n    TITLE \"Part Two\"\n    INDEX 01 03:00:00\n"
	content := fmt.Sprintf("AUDIO\nWhole Disc\n360000\n%s", sheet)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	db := newTestDB(t)
	s, store := newTestScanner(t, db, &recordingBus{})
	library := createLibrary(t, db, dir)

	scanLibraryNow(t, s, store, library, true)

	tracks, err := store.TracksForLibrary(library.ID)
	require.NoError(t, err)
	require.Len(t, tracks, 2, "embedded cue replaces the container track")

	assert.Equal(t, "Part One", tracks[0].Title)
	assert.Equal(t, 1, tracks[0].SubSong)
	assert.Equal(t, database.CueEmbedded, tracks[0].CuePath)
	assert.Equal(t, path, tracks[0].Path)
	assert.Equal(t, 2, tracks[1].SubSong)
}

func TestScanLibraryBatchesWrites(t *testing.T) {
	dir := t.TempDir()
	for i := 0; i < 600; i++ {
		writeAudio(t, filepath.Join(dir, fmt.Sprintf("file%03d.flac", i)), fmt.Sprintf("Track %d", i), 180000)
	}

	db := newTestDB(t)
	bus := &recordingBus{}
	s, store := newTestScanner(t, db, bus)
	library := createLibrary(t, db, dir)

	scanLibraryNow(t, s, store, library, true)

	tracks, err := store.TracksForLibrary(library.ID)
	require.NoError(t, err)
	assert.Len(t, tracks, 600)

	updates := bus.ofType(events.EventScanUpdate)
	require.Len(t, updates, 3, "expected flushes at 250, 500 and run end")

	var sizes []int
	for _, event := range updates {
		data, ok := event.Data["update"].(events.ScanUpdateData)
		require.True(t, ok)
		sizes = append(sizes, trackCount(data.AddedTracks))
	}
	assert.Equal(t, []int{250, 250, 100}, sizes)

	// Progress counters never go backwards relative to flushes.
	last := 0
	for _, event := range bus.ofType(events.EventScanProgress) {
		data := event.Data["progress"].(events.ScanProgressData)
		assert.GreaterOrEqual(t, data.FilesScanned, last)
		last = data.FilesScanned
	}
	assert.Equal(t, 600, last)
}

func TestScanLibraryFlushesOnCancellation(t *testing.T) {
	dir := t.TempDir()
	for i := 0; i < 600; i++ {
		writeAudio(t, filepath.Join(dir, fmt.Sprintf("file%03d.flac", i)), fmt.Sprintf("Track %d", i), 180000)
	}

	db := newTestDB(t)
	bus := &recordingBus{}
	s, store := newTestScanner(t, db, bus)
	library := createLibrary(t, db, dir)

	scanned := 0
	bus.onEvent = func(event events.Event) {
		if event.Type != events.EventScanProgress {
			return
		}
		if data, ok := event.Data["progress"].(events.ScanProgressData); ok {
			if data.FilesScanned >= 100 && data.FilesTotal == 600 {
				s.Stop()
			}
			scanned = data.FilesScanned
		}
	}

	scanLibraryNow(t, s, store, library, true)

	assert.Equal(t, 100, scanned)

	tracks, err := store.TracksForLibrary(library.ID)
	require.NoError(t, err)
	assert.Len(t, tracks, 100, "work queued before cancellation must be flushed")

	updates := bus.ofType(events.EventScanUpdate)
	require.Len(t, updates, 1)
	data := updates[0].Data["update"].(events.ScanUpdateData)
	assert.Equal(t, 100, trackCount(data.AddedTracks))
}

func TestPauseLeavesLibraryPending(t *testing.T) {
	dir := t.TempDir()
	for i := 0; i < 10; i++ {
		writeAudio(t, filepath.Join(dir, fmt.Sprintf("file%d.flac", i)), fmt.Sprintf("Track %d", i), 180000)
	}

	db := newTestDB(t)
	bus := &recordingBus{}
	s, store := newTestScanner(t, db, bus)
	library := createLibrary(t, db, dir)

	bus.onEvent = func(event events.Event) {
		if event.Type != events.EventScanProgress {
			return
		}
		if data, ok := event.Data["progress"].(events.ScanProgressData); ok && data.FilesScanned == 3 {
			s.Pause()
		}
	}

	scanLibraryNow(t, s, store, library, true)

	assert.Equal(t, Paused, s.State())
	assert.Empty(t, bus.ofType(events.EventScanFinished))

	var saved database.Library
	require.NoError(t, db.First(&saved, library.ID).Error)
	assert.Equal(t, database.LibraryPending, saved.Status)

	// A fresh scan call resumes and completes the run.
	bus.onEvent = nil
	bus.reset()
	scanLibraryNow(t, s, store, library, true)

	assert.Equal(t, Idle, s.State())
	assert.Len(t, bus.ofType(events.EventScanFinished), 1)

	tracks, err := store.TracksForLibrary(library.ID)
	require.NoError(t, err)
	assert.Len(t, tracks, 10)
}

func TestScanLibraryRefreshesModifiedFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "one.flac")
	writeAudio(t, path, "Old Title", 180000)

	base := time.Now().Add(-time.Hour).Truncate(time.Second)
	setMtime(t, path, base)

	db := newTestDB(t)
	s, store := newTestScanner(t, db, &recordingBus{})
	library := createLibrary(t, db, dir)

	scanLibraryNow(t, s, store, library, true)

	writeAudio(t, path, "New Title", 180000)
	setMtime(t, path, base.Add(time.Minute))
	scanLibraryNow(t, s, store, library, true)

	tracks, err := store.TracksForLibrary(library.ID)
	require.NoError(t, err)
	require.Len(t, tracks, 1)
	assert.Equal(t, "New Title", tracks[0].Title)
}

func TestScanLibraryIgnoresOlderMtime(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "one.flac")
	writeAudio(t, path, "Old Title", 180000)

	base := time.Now().Add(-time.Hour).Truncate(time.Second)
	setMtime(t, path, base)

	db := newTestDB(t)
	s, store := newTestScanner(t, db, &recordingBus{})
	library := createLibrary(t, db, dir)

	scanLibraryNow(t, s, store, library, true)

	// Content changed but mtime went backwards: staleness is time-based,
	// so a modified-only scan must treat the file as unchanged.
	writeAudio(t, path, "New Title", 180000)
	setMtime(t, path, base.Add(-time.Minute))
	scanLibraryNow(t, s, store, library, true)

	tracks, err := store.TracksForLibrary(library.ID)
	require.NoError(t, err)
	require.Len(t, tracks, 1)
	assert.Equal(t, "Old Title", tracks[0].Title)

	// A full rescan picks the change up.
	scanLibraryNow(t, s, store, library, false)
	tracks, err = store.TracksForLibrary(library.ID)
	require.NoError(t, err)
	assert.Equal(t, "New Title", tracks[0].Title)
}

func TestScanTracksRefreshesMetadataOnly(t *testing.T) {
	dir := t.TempDir()
	plain := filepath.Join(dir, "plain.flac")
	cued := filepath.Join(dir, "cued.flac")
	writeAudio(t, plain, "Plain Old", 180000)
	writeAudio(t, cued, "Cued Old", 200000)

	db := newTestDB(t)
	bus := &recordingBus{}
	s, store := newTestScanner(t, db, bus)
	library := createLibrary(t, db, dir)

	scanLibraryNow(t, s, store, library, true)

	// Associate one track with a cue so the rescan skips it.
	require.NoError(t, db.Model(&database.Track{}).Where("path = ?", cued).
		Update("cue_path", filepath.Join(dir, "album.cue")).Error)

	writeAudio(t, plain, "Plain New", 180000)
	writeAudio(t, cued, "Cued New", 200000)

	tracks, err := store.TracksForLibrary(library.ID)
	require.NoError(t, err)
	s.ScanTracks(context.Background(), tracks)

	all, err := store.AllTracks()
	require.NoError(t, err)
	byPath := make(map[string]database.Track, len(all))
	for _, track := range all {
		byPath[track.Path] = track
	}

	assert.Equal(t, "Plain New", byPath[plain].Title)
	assert.Equal(t, "Cued Old", byPath[cued].Title, "cue-associated tracks refresh through their cue")
	assert.Equal(t, Idle, s.State())
}

func TestScanFilesExpandsPlaylists(t *testing.T) {
	dir := t.TempDir()
	song := filepath.Join(dir, "song.flac")
	listed := filepath.Join(dir, "listed.flac")
	writeAudio(t, song, "Song", 180000)
	writeAudio(t, listed, "Listed", 200000)

	playlistPath := filepath.Join(dir, "mix.m3u")
	require.NoError(t, os.WriteFile(playlistPath, []byte("#EXTM3U\n#EXTINF:200,Listed\nlisted.flac\n"), 0o644))

	db := newTestDB(t)
	bus := &recordingBus{}
	s, _ := newTestScanner(t, db, bus)

	s.ScanFiles(context.Background(), nil, []string{song, playlistPath})

	scannedEvents := bus.ofType(events.EventTracksScanned)
	require.Len(t, scannedEvents, 1)
	scanned, ok := scannedEvents[0].Data["tracks"].([]*database.Track)
	require.True(t, ok)
	require.Len(t, scanned, 2)

	store := database.NewTrackStore(db)
	all, err := store.AllTracks()
	require.NoError(t, err)
	assert.Len(t, all, 2)
	for _, track := range all {
		assert.NotEmpty(t, track.Hash)
	}
}

func TestScanFilesReusesKnownTracks(t *testing.T) {
	dir := t.TempDir()
	song := filepath.Join(dir, "song.flac")
	writeAudio(t, song, "Song", 180000)

	db := newTestDB(t)
	bus := &recordingBus{}
	s, store := newTestScanner(t, db, bus)
	library := createLibrary(t, db, dir)

	scanLibraryNow(t, s, store, library, true)
	known, err := store.TracksForLibrary(library.ID)
	require.NoError(t, err)
	require.Len(t, known, 1)

	bus.reset()
	s.ScanFiles(context.Background(), known, []string{song})

	scannedEvents := bus.ofType(events.EventTracksScanned)
	require.Len(t, scannedEvents, 1)
	scanned := scannedEvents[0].Data["tracks"].([]*database.Track)
	require.Len(t, scanned, 1)
	assert.Equal(t, known[0].ID, scanned[0].ID, "known files resolve to their stored record")

	all, err := store.AllTracks()
	require.NoError(t, err)
	assert.Len(t, all, 1, "no duplicate row for an already known file")
}

func TestScanPlaylistResolvesAgainstLibrary(t *testing.T) {
	dir := t.TempDir()
	known := filepath.Join(dir, "known.flac")
	fresh := filepath.Join(dir, "fresh.flac")
	writeAudio(t, known, "Known", 180000)
	writeAudio(t, fresh, "Fresh", 200000)

	db := newTestDB(t)
	bus := &recordingBus{}
	s, store := newTestScanner(t, db, bus)
	library := createLibrary(t, db, dir)

	scanLibraryNow(t, s, store, library, true)
	libraryTracks, err := store.TracksForLibrary(library.ID)
	require.NoError(t, err)

	playlistPath := filepath.Join(dir, "mix.m3u")
	require.NoError(t, os.WriteFile(playlistPath, []byte("known.flac\nfresh.flac\n"), 0o644))

	bus.reset()
	s.ScanPlaylist(context.Background(), libraryTracks, []string{playlistPath})

	loaded := bus.ofType(events.EventPlaylistLoaded)
	require.Len(t, loaded, 1)
	tracks := loaded[0].Data["tracks"].([]*database.Track)
	require.Len(t, tracks, 2)

	byPath := make(map[string]*database.Track, len(tracks))
	for _, track := range tracks {
		byPath[track.Path] = track
	}
	assert.True(t, byPath[known].InDatabase(), "library entry resolves to its stored record")
	assert.NotEmpty(t, byPath[fresh].Hash, "fresh entry gets hashed")
}

func TestScanLibraryMissingRootSkipsScan(t *testing.T) {
	db := newTestDB(t)
	bus := &recordingBus{}
	s, store := newTestScanner(t, db, bus)
	library := createLibrary(t, db, filepath.Join(t.TempDir(), "does-not-exist"))

	scanLibraryNow(t, s, store, library, true)

	assert.Equal(t, Idle, s.State())
	assert.Len(t, bus.ofType(events.EventScanFinished), 1, "status transitions still occur")

	statuses := bus.ofType(events.EventLibraryStatusChanged)
	require.NotEmpty(t, statuses)
	last := statuses[len(statuses)-1].Data["library"].(events.LibraryStatusData)
	assert.Equal(t, string(database.LibraryIdle), last.Status)
}
