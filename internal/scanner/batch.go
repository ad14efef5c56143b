package scanner

import (
	"github.com/calliope-audio/calliope/internal/database"
	"github.com/calliope-audio/calliope/internal/events"
	"github.com/calliope-audio/calliope/internal/logger"
)

// trackBatch accumulates pending inserts and updates and flushes both to
// the store once either queue crosses the batch size. Bounds memory on
// large libraries and gives observers incremental visibility.
type trackBatch struct {
	store     *database.TrackStore
	bus       events.EventBus
	size      int
	libraryID int

	toStore  []*database.Track
	toUpdate []*database.Track
}

func newTrackBatch(store *database.TrackStore, bus events.EventBus, size, libraryID int) *trackBatch {
	return &trackBatch{store: store, bus: bus, size: size, libraryID: libraryID}
}

func (b *trackBatch) queueStore(track *database.Track) {
	b.toStore = append(b.toStore, track)
}

func (b *trackBatch) queueUpdate(track *database.Track) {
	b.toUpdate = append(b.toUpdate, track)
}

// flushIfFull flushes both queues once either reaches the batch size. The
// mid-run update event carries the inserted tracks only; updates become
// visible through the final combined event.
func (b *trackBatch) flushIfFull() {
	if len(b.toStore) < b.size && len(b.toUpdate) < b.size {
		return
	}

	b.write()

	event := events.NewScannerEvent(events.EventScanUpdate, "Scan update", "")
	event.Data["update"] = events.ScanUpdateData{LibraryID: b.libraryID, AddedTracks: b.toStore}
	b.publish(event)

	b.toStore = nil
	b.toUpdate = nil
}

// flush writes whatever remains in both queues and, when anything was
// written, emits a combined update event. Called at run end and on
// cancellation, so already-discovered tracks are never lost.
func (b *trackBatch) flush() {
	b.write()

	if len(b.toStore) > 0 || len(b.toUpdate) > 0 {
		event := events.NewScannerEvent(events.EventScanUpdate, "Scan update", "")
		event.Data["update"] = events.ScanUpdateData{
			LibraryID:     b.libraryID,
			AddedTracks:   b.toStore,
			UpdatedTracks: b.toUpdate,
		}
		b.publish(event)
	}

	b.toStore = nil
	b.toUpdate = nil
}

func (b *trackBatch) write() {
	if err := b.store.StoreTracks(b.toStore); err != nil {
		logger.Error("Failed to store tracks", "count", len(b.toStore), "error", err)
	}
	if err := b.store.UpdateTracks(b.toUpdate); err != nil {
		logger.Error("Failed to update tracks", "count", len(b.toUpdate), "error", err)
	}
}

func (b *trackBatch) publish(event events.Event) {
	if b.bus == nil {
		return
	}
	if err := b.bus.PublishAsync(event); err != nil {
		logger.Debug("Failed to publish scan update", "error", err)
	}
}
