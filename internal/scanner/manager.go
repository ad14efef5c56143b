package scanner

import (
	"context"
	"fmt"
	"sync"
	"time"

	"gorm.io/gorm"

	"github.com/calliope-audio/calliope/internal/config"
	"github.com/calliope-audio/calliope/internal/database"
	"github.com/calliope-audio/calliope/internal/events"
	"github.com/calliope-audio/calliope/internal/logger"
	"github.com/calliope-audio/calliope/internal/media"
	"github.com/calliope-audio/calliope/internal/playlist"
)

// Manager owns scan job lifecycle across libraries. Scan requests, whether
// from callers or from filesystem watches, go through one serialized queue
// so a single worker owns all store writes while scans run.
type Manager struct {
	db        *gorm.DB
	store     *database.TrackStore
	bus       events.EventBus
	audio     media.AudioLoader
	playlists *playlist.Loader
	cfg       config.ScannerConfig

	mu         sync.RWMutex
	scanners   map[int]*LibraryScanner // libraryID -> scanner
	watchers   map[int]*LibraryWatcher
	activeJobs map[int]uint // libraryID -> running scan job id

	requests chan scanRequest
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	sub      *events.Subscription
}

type scanRequest struct {
	library      database.Library
	jobID        uint
	dir          string // empty for a full library scan
	onlyModified bool
}

// NewManager creates a scan manager over the given collaborators.
func NewManager(db *gorm.DB, bus events.EventBus, audio media.AudioLoader, playlists *playlist.Loader, cfg config.ScannerConfig) *Manager {
	return &Manager{
		db:         db,
		store:      database.NewTrackStore(db),
		bus:        bus,
		audio:      audio,
		playlists:  playlists,
		cfg:        cfg,
		scanners:   make(map[int]*LibraryScanner),
		watchers:   make(map[int]*LibraryWatcher),
		activeJobs: make(map[int]uint),
		requests:   make(chan scanRequest, 64),
	}
}

// Start launches the scan worker and subscribes to scanner events so job
// records track progress.
func (m *Manager) Start(ctx context.Context) error {
	m.ctx, m.cancel = context.WithCancel(ctx)

	if m.bus != nil {
		sub, err := m.bus.Subscribe(m.ctx, events.EventFilter{
			Types: []events.EventType{events.EventScanUpdate, events.EventScanProgress},
		}, m.handleScanEvent)
		if err != nil {
			return fmt.Errorf("failed to subscribe to scan events: %w", err)
		}
		m.sub = sub
	}

	m.wg.Add(1)
	go m.runRequests()

	logger.Info("Scan manager started")
	return nil
}

// Stop shuts down the worker and all watchers.
func (m *Manager) Stop() {
	if m.cancel != nil {
		m.cancel()
	}

	m.mu.Lock()
	for id, watcher := range m.watchers {
		watcher.Stop()
		delete(m.watchers, id)
	}
	for _, scanner := range m.scanners {
		scanner.Stop()
	}
	m.mu.Unlock()

	m.wg.Wait()

	if m.bus != nil && m.sub != nil {
		if err := m.bus.Unsubscribe(m.sub.ID); err != nil {
			logger.Debug("Failed to unsubscribe scan events", "error", err)
		}
	}

	logger.Info("Scan manager stopped")
}

// ScanLibrary queues a full scan of the library and returns the created
// job record. Fails if a scan is already running for the library.
func (m *Manager) ScanLibrary(libraryID int, onlyModified bool) (*database.ScanJob, error) {
	library, err := m.loadLibrary(libraryID)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	if jobID, running := m.activeJobs[libraryID]; running {
		m.mu.Unlock()
		return nil, fmt.Errorf("scan job %d is already running for library %d", jobID, libraryID)
	}

	job := &database.ScanJob{
		LibraryID: libraryID,
		Status:    database.ScanJobPending,
	}
	if err := m.db.Create(job).Error; err != nil {
		m.mu.Unlock()
		return nil, fmt.Errorf("failed to create scan job: %w", err)
	}
	m.activeJobs[libraryID] = job.ID
	m.mu.Unlock()

	m.publishStarted(library, job)

	select {
	case m.requests <- scanRequest{library: library, jobID: job.ID, onlyModified: onlyModified}:
	default:
		m.finishJob(library.ID, job.ID, database.ScanJobFailed, "scan queue full")
		return nil, fmt.Errorf("scan queue is full")
	}

	return job, nil
}

// ScanDirectory queues a modified-only scan of one subtree, as watch
// events do.
func (m *Manager) ScanDirectory(libraryID int, dir string) error {
	library, err := m.loadLibrary(libraryID)
	if err != nil {
		return err
	}

	select {
	case m.requests <- scanRequest{library: library, dir: dir, onlyModified: true}:
		return nil
	default:
		return fmt.Errorf("scan queue is full")
	}
}

// Pause asks the library's running scan to suspend at its next file
// boundary.
func (m *Manager) Pause(libraryID int) {
	m.mu.RLock()
	scanner, ok := m.scanners[libraryID]
	m.mu.RUnlock()
	if ok {
		scanner.Pause()
	}
}

// Monitor installs a filesystem watch over the library root. Changed
// directories are queued as modified-only subtree scans.
func (m *Manager) Monitor(libraryID int) error {
	library, err := m.loadLibrary(libraryID)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.watchers[libraryID]; ok {
		return nil
	}

	watcher, err := NewLibraryWatcher(library, m.bus, func(dir string) {
		if err := m.ScanDirectory(libraryID, dir); err != nil {
			logger.Warn("Failed to queue directory scan", "dir", dir, "error", err)
		}
	})
	if err != nil {
		return err
	}

	m.watchers[libraryID] = watcher

	library.Status = database.LibraryMonitoring
	if err := m.store.SaveLibrary(&library); err != nil {
		logger.Error("Failed to save library status", "library", library.Name, "error", err)
	}
	return nil
}

// SetMonitorLibraries toggles filesystem monitoring. Enabling installs
// watches over every registered library; disabling removes all of them.
func (m *Manager) SetMonitorLibraries(enabled bool) error {
	m.mu.Lock()
	m.cfg.MonitorLibraries = enabled
	// Scanners capture the config at creation time.
	m.scanners = make(map[int]*LibraryScanner)
	m.mu.Unlock()

	if enabled {
		return m.SetupWatchers()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for id, watcher := range m.watchers {
		watcher.Stop()
		delete(m.watchers, id)
	}
	return nil
}

// SetupWatchers installs a filesystem watch over every registered library.
func (m *Manager) SetupWatchers() error {
	libraries, err := m.store.Libraries()
	if err != nil {
		return err
	}
	for _, library := range libraries {
		if err := m.Monitor(library.ID); err != nil {
			logger.Warn("Failed to monitor library", "library", library.Name, "error", err)
		}
	}
	return nil
}

// Unmonitor removes the library's filesystem watch.
func (m *Manager) Unmonitor(libraryID int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if watcher, ok := m.watchers[libraryID]; ok {
		watcher.Stop()
		delete(m.watchers, libraryID)
	}
}

// runRequests is the scan worker loop. Requests execute strictly one at a
// time; the store is only written from here while a scan is active.
func (m *Manager) runRequests() {
	defer m.wg.Done()

	for {
		select {
		case req := <-m.requests:
			m.runScan(req)

		case <-m.ctx.Done():
			return
		}
	}
}

func (m *Manager) runScan(req scanRequest) {
	scanner := m.scannerFor(req.library.ID)

	tracks, err := m.store.TracksForLibrary(req.library.ID)
	if err != nil {
		logger.Error("Failed to load library tracks", "library", req.library.Name, "error", err)
		if req.jobID != 0 {
			m.finishJob(req.library.ID, req.jobID, database.ScanJobFailed, err.Error())
		}
		return
	}

	if req.jobID != 0 {
		m.markJobRunning(req.jobID)
	}

	if req.dir != "" {
		scanner.ScanLibraryDirectory(m.ctx, req.library, req.dir, tracks)
	} else {
		scanner.ScanLibrary(m.ctx, req.library, tracks, req.onlyModified)
	}

	paused := scanner.State() == Paused

	if req.jobID != 0 {
		status := database.ScanJobCompleted
		message := ""
		if paused {
			status = database.ScanJobPaused
			message = "scan paused"
		}
		m.finishJob(req.library.ID, req.jobID, status, message)
	}

	// A completed library scan installs the filesystem watch when
	// monitoring is enabled.
	if m.cfg.MonitorLibraries && req.dir == "" && !paused {
		if err := m.Monitor(req.library.ID); err != nil {
			logger.Warn("Failed to monitor library", "library", req.library.Name, "error", err)
		}
	}
}

func (m *Manager) scannerFor(libraryID int) *LibraryScanner {
	m.mu.Lock()
	defer m.mu.Unlock()

	if scanner, ok := m.scanners[libraryID]; ok {
		return scanner
	}
	scanner := New(m.store, m.bus, m.audio, m.playlists, m.cfg)
	m.scanners[libraryID] = scanner
	return scanner
}

// handleScanEvent folds scanner progress into the library's active job
// record.
func (m *Manager) handleScanEvent(event events.Event) error {
	switch event.Type {
	case events.EventScanProgress:
		data, ok := event.Data["progress"].(events.ScanProgressData)
		if !ok {
			return nil
		}
		if jobID, running := m.activeJob(data.LibraryID); running {
			m.db.Model(&database.ScanJob{}).Where("id = ?", jobID).Updates(map[string]interface{}{
				"files_found":     data.FilesTotal,
				"files_processed": data.FilesScanned,
			})
		}

	case events.EventScanUpdate:
		data, ok := event.Data["update"].(events.ScanUpdateData)
		if !ok {
			return nil
		}
		jobID, running := m.activeJob(data.LibraryID)
		if !running {
			return nil
		}
		added := trackCount(data.AddedTracks)
		updated := trackCount(data.UpdatedTracks)
		if added > 0 || updated > 0 {
			m.db.Model(&database.ScanJob{}).Where("id = ?", jobID).Updates(map[string]interface{}{
				"tracks_added":   gorm.Expr("tracks_added + ?", added),
				"tracks_updated": gorm.Expr("tracks_updated + ?", updated),
			})
		}
	}
	return nil
}

func (m *Manager) activeJob(libraryID int) (uint, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	jobID, ok := m.activeJobs[libraryID]
	return jobID, ok
}

func (m *Manager) markJobRunning(jobID uint) {
	now := time.Now()
	m.db.Model(&database.ScanJob{}).Where("id = ?", jobID).Updates(map[string]interface{}{
		"status":     database.ScanJobRunning,
		"started_at": &now,
	})
}

func (m *Manager) finishJob(libraryID int, jobID uint, status database.ScanJobStatus, message string) {
	m.mu.Lock()
	delete(m.activeJobs, libraryID)
	m.mu.Unlock()

	updates := map[string]interface{}{"status": status}
	if message != "" {
		updates["status_message"] = message
	}
	if status == database.ScanJobCompleted || status == database.ScanJobFailed {
		now := time.Now()
		updates["completed_at"] = &now
	}
	if err := m.db.Model(&database.ScanJob{}).Where("id = ?", jobID).Updates(updates).Error; err != nil {
		logger.Error("Failed to update scan job", "job", jobID, "error", err)
	}
}

func (m *Manager) loadLibrary(libraryID int) (database.Library, error) {
	var library database.Library
	if err := m.db.First(&library, libraryID).Error; err != nil {
		return library, fmt.Errorf("failed to load library %d: %w", libraryID, err)
	}
	return library, nil
}

func (m *Manager) publishStarted(library database.Library, job *database.ScanJob) {
	if m.bus == nil {
		return
	}
	event := events.NewSystemEvent(events.EventScanStarted, "Library scan started",
		fmt.Sprintf("Scanning %s", library.Path))
	event.Data["library"] = events.LibraryStatusData{
		LibraryID: library.ID,
		Path:      library.Path,
		Name:      library.Name,
		Status:    string(database.LibraryScanning),
	}
	event.Data["job_id"] = job.ID
	if err := m.bus.PublishAsync(event); err != nil {
		logger.Debug("Failed to publish scan started", "error", err)
	}
}

func trackCount(value interface{}) int {
	if tracks, ok := value.([]*database.Track); ok {
		return len(tracks)
	}
	return 0
}
