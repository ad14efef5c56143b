package scanner

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/calliope-audio/calliope/internal/config"
	"github.com/calliope-audio/calliope/internal/database"
	"github.com/calliope-audio/calliope/internal/events"
	"github.com/calliope-audio/calliope/internal/playlist"
)

func newTestManager(t *testing.T, db *gorm.DB) *Manager {
	t.Helper()
	return newTestManagerWithConfig(t, db, config.ScannerConfig{BatchSize: config.DefaultBatchSize})
}

func newTestManagerWithConfig(t *testing.T, db *gorm.DB, cfg config.ScannerConfig) *Manager {
	t.Helper()

	bus := events.NewEventBus(events.DefaultEventBusConfig())
	require.NoError(t, bus.Start(context.Background()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = bus.Stop(ctx)
	})

	manager := NewManager(db, bus, &fakeLoader{}, playlist.NewLoader(), cfg)
	require.NoError(t, manager.Start(context.Background()))
	t.Cleanup(manager.Stop)
	return manager
}

func loadJob(t *testing.T, db *gorm.DB, jobID uint) database.ScanJob {
	t.Helper()

	var job database.ScanJob
	require.NoError(t, db.First(&job, jobID).Error)
	return job
}

func TestManagerScanLibraryRunsJobToCompletion(t *testing.T) {
	dir := t.TempDir()
	writeAudio(t, filepath.Join(dir, "one.flac"), "One", 180000)
	writeAudio(t, filepath.Join(dir, "two.flac"), "Two", 200000)
	writeAudio(t, filepath.Join(dir, "three.flac"), "Three", 210000)

	db := newTestDB(t)
	library := createLibrary(t, db, dir)
	manager := newTestManager(t, db)

	job, err := manager.ScanLibrary(library.ID, false)
	require.NoError(t, err)
	require.NotZero(t, job.ID)

	require.Eventually(t, func() bool {
		return loadJob(t, db, job.ID).Status == database.ScanJobCompleted
	}, 5*time.Second, 10*time.Millisecond)

	finished := loadJob(t, db, job.ID)
	assert.NotNil(t, finished.StartedAt)
	assert.NotNil(t, finished.CompletedAt)

	tracks, err := database.NewTrackStore(db).TracksForLibrary(library.ID)
	require.NoError(t, err)
	assert.Len(t, tracks, 3)
}

func TestManagerRejectsConcurrentScan(t *testing.T) {
	db := newTestDB(t)
	library := createLibrary(t, db, t.TempDir())
	manager := newTestManager(t, db)

	manager.mu.Lock()
	manager.activeJobs[library.ID] = 7
	manager.mu.Unlock()

	_, err := manager.ScanLibrary(library.ID, false)
	assert.Error(t, err)

	manager.mu.Lock()
	delete(manager.activeJobs, library.ID)
	manager.mu.Unlock()

	job, err := manager.ScanLibrary(library.ID, false)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return loadJob(t, db, job.ID).Status == database.ScanJobCompleted
	}, 5*time.Second, 10*time.Millisecond)
}

func TestManagerScanUnknownLibrary(t *testing.T) {
	db := newTestDB(t)
	manager := newTestManager(t, db)

	_, err := manager.ScanLibrary(42, false)
	assert.Error(t, err)
}

func TestManagerScanDirectoryQueuesSubtreeScan(t *testing.T) {
	dir := t.TempDir()
	sub := filepath.Join(dir, "album")
	writeAudio(t, filepath.Join(sub, "one.flac"), "One", 180000)

	db := newTestDB(t)
	library := createLibrary(t, db, dir)
	manager := newTestManager(t, db)

	require.NoError(t, manager.ScanDirectory(library.ID, sub))

	store := database.NewTrackStore(db)
	require.Eventually(t, func() bool {
		tracks, err := store.TracksForLibrary(library.ID)
		return err == nil && len(tracks) == 1
	}, 5*time.Second, 10*time.Millisecond)
}

func TestManagerInstallsWatchAfterMonitoredScan(t *testing.T) {
	dir := t.TempDir()
	writeAudio(t, filepath.Join(dir, "one.flac"), "One", 180000)

	db := newTestDB(t)
	library := createLibrary(t, db, dir)
	manager := newTestManagerWithConfig(t, db, config.ScannerConfig{
		BatchSize:        config.DefaultBatchSize,
		MonitorLibraries: true,
	})

	job, err := manager.ScanLibrary(library.ID, false)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return loadJob(t, db, job.ID).Status == database.ScanJobCompleted
	}, 5*time.Second, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		manager.mu.RLock()
		defer manager.mu.RUnlock()
		_, ok := manager.watchers[library.ID]
		return ok
	}, 5*time.Second, 10*time.Millisecond)

	// Files added after the scan are picked up through the watch.
	writeAudio(t, filepath.Join(dir, "two.flac"), "Two", 200000)

	store := database.NewTrackStore(db)
	require.Eventually(t, func() bool {
		tracks, err := store.TracksForLibrary(library.ID)
		return err == nil && len(tracks) == 2
	}, 15*time.Second, 50*time.Millisecond)
}

func TestManagerFoldsScanEventsIntoJob(t *testing.T) {
	db := newTestDB(t)
	library := createLibrary(t, db, t.TempDir())
	manager := newTestManager(t, db)

	job := &database.ScanJob{LibraryID: library.ID, Status: database.ScanJobRunning}
	require.NoError(t, db.Create(job).Error)
	manager.mu.Lock()
	manager.activeJobs[library.ID] = job.ID
	manager.mu.Unlock()

	progress := events.NewScannerEvent(events.EventScanProgress, "Scan progress", "")
	progress.Data["progress"] = events.ScanProgressData{
		LibraryID:    library.ID,
		FilesScanned: 40,
		FilesTotal:   120,
	}
	require.NoError(t, manager.handleScanEvent(progress))

	update := events.NewScannerEvent(events.EventScanUpdate, "Batch written", "")
	update.Data["update"] = events.ScanUpdateData{
		LibraryID:   library.ID,
		AddedTracks: []*database.Track{{Path: "/a.flac"}, {Path: "/b.flac"}},
	}
	require.NoError(t, manager.handleScanEvent(update))
	require.NoError(t, manager.handleScanEvent(update))

	got := loadJob(t, db, job.ID)
	assert.Equal(t, 120, got.FilesFound)
	assert.Equal(t, 40, got.FilesProcessed)
	assert.Equal(t, 4, got.TracksAdded)
	assert.Equal(t, 0, got.TracksUpdated)

	// Events for libraries without an active job are dropped.
	orphan := events.NewScannerEvent(events.EventScanUpdate, "Batch written", "")
	orphan.Data["update"] = events.ScanUpdateData{
		LibraryID:   library.ID + 1,
		AddedTracks: []*database.Track{{Path: "/c.flac"}},
	}
	require.NoError(t, manager.handleScanEvent(orphan))
	assert.Equal(t, 4, loadJob(t, db, job.ID).TracksAdded)

	manager.mu.Lock()
	delete(manager.activeJobs, library.ID)
	manager.mu.Unlock()
}
