// Package events provides the notification bus connecting the scanner core
// to its observers (a UI shell, the CLI, tests).
package events

import (
	"time"
)

// EventType represents the type of event
type EventType string

// System-wide event types
const (
	// Scan lifecycle events
	EventScanStarted  EventType = "scan.started"
	EventScanProgress EventType = "scan.progress"
	EventScanUpdate   EventType = "scan.update"
	EventScanFinished EventType = "scan.finished"
	EventScanFailed   EventType = "scan.failed"

	// Scan result events
	EventTracksScanned  EventType = "scan.tracks"
	EventPlaylistLoaded EventType = "playlist.loaded"

	// Library events
	EventLibraryStatusChanged    EventType = "library.status.changed"
	EventLibraryDirectoryChanged EventType = "library.directory.changed"
	EventLibraryMonitoring       EventType = "library.monitoring"

	// General events
	EventError   EventType = "error"
	EventWarning EventType = "warning"
	EventInfo    EventType = "info"
)

// EventPriority represents the priority level of an event
type EventPriority int

const (
	PriorityLow      EventPriority = 1
	PriorityNormal   EventPriority = 5
	PriorityHigh     EventPriority = 10
	PriorityCritical EventPriority = 20
)

// Event represents a system event
type Event struct {
	ID        string                 `json:"id"`
	Type      EventType              `json:"type"`
	Source    string                 `json:"source"` // system, scanner, watcher, etc.
	Title     string                 `json:"title"`
	Message   string                 `json:"message"`
	Data      map[string]interface{} `json:"data"`
	Priority  EventPriority          `json:"priority"`
	Tags      []string               `json:"tags"`
	Timestamp time.Time              `json:"timestamp"`
}

// EventHandler represents a function that handles events
type EventHandler func(event Event) error

// EventFilter represents filters for event subscriptions
type EventFilter struct {
	Types    []EventType    `json:"types,omitempty"`
	Sources  []string       `json:"sources,omitempty"`
	Tags     []string       `json:"tags,omitempty"`
	Priority *EventPriority `json:"priority,omitempty"`
}

// Subscription represents an event subscription
type Subscription struct {
	ID            string       `json:"id"`
	Filter        EventFilter  `json:"filter"`
	Handler       EventHandler `json:"-"`
	Subscriber    string       `json:"subscriber"`
	Created       time.Time    `json:"created"`
	LastTriggered *time.Time   `json:"last_triggered,omitempty"`
	TriggerCount  int64        `json:"trigger_count"`
}

// EventStats represents statistics about events
type EventStats struct {
	TotalEvents         int64            `json:"total_events"`
	EventsByType        map[string]int64 `json:"events_by_type"`
	RecentEvents        []Event          `json:"recent_events"`
	ActiveSubscriptions int              `json:"active_subscriptions"`
}

// EventBusConfig represents configuration for the event bus
type EventBusConfig struct {
	BufferSize      int `json:"buffer_size"`
	MaxStoredEvents int `json:"max_stored_events"`
}

// DefaultEventBusConfig returns default configuration
func DefaultEventBusConfig() EventBusConfig {
	return EventBusConfig{
		BufferSize:      1000,
		MaxStoredEvents: 100,
	}
}

// =============================================================================
// PREDEFINED EVENT DATA STRUCTURES
// =============================================================================

// ScanProgressData represents data for scan.progress events. FilesScanned
// only ever increases within a run.
type ScanProgressData struct {
	LibraryID    int `json:"library_id"`
	FilesScanned int `json:"files_scanned"`
	FilesTotal   int `json:"files_total"`
}

// ScanUpdateData represents data for scan.update events, emitted after each
// batch flush with the tracks that were written.
type ScanUpdateData struct {
	LibraryID     int         `json:"library_id"`
	AddedTracks   interface{} `json:"added_tracks"`
	UpdatedTracks interface{} `json:"updated_tracks"`
}

// LibraryStatusData represents data for library.status.changed events
type LibraryStatusData struct {
	LibraryID int    `json:"library_id"`
	Path      string `json:"path"`
	Name      string `json:"name"`
	Status    string `json:"status"`
}

// DirectoryChangedData represents data for library.directory.changed events
type DirectoryChangedData struct {
	LibraryID int    `json:"library_id"`
	Directory string `json:"directory"`
}
