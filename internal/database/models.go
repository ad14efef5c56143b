package database

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

// LibraryStatus represents the scan status of a configured library.
type LibraryStatus string

const (
	LibraryIdle       LibraryStatus = "idle"
	LibraryPending    LibraryStatus = "pending"
	LibraryScanning   LibraryStatus = "scanning"
	LibraryMonitoring LibraryStatus = "monitoring"
)

// CueEmbedded is the sentinel cue path for tracks whose cue sheet lives in
// their own tags rather than a companion file.
const CueEmbedded = "Embedded"

// Library represents a configured scan root.
type Library struct {
	ID        int           `gorm:"primaryKey" json:"id"`
	Path      string        `gorm:"uniqueIndex;not null" json:"path"`
	Name      string        `gorm:"not null" json:"name"`
	Status    LibraryStatus `gorm:"default:idle" json:"status"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// Track represents one logical playable media item, possibly a sub-song of
// a container file. Tracks are never deleted: a track whose file disappears
// is disabled and unlinked from its library instead.
type Track struct {
	ID        int `gorm:"primaryKey" json:"id"`
	LibraryID int `gorm:"index" json:"library_id"`

	Path        string `gorm:"index;not null" json:"path"`
	SubSong     int    `json:"sub_song"`
	ArchivePath string `gorm:"index" json:"archive_path,omitempty"`
	CuePath     string `gorm:"index" json:"cue_path,omitempty"`

	// Hash is derived from the decoded audio characteristics, not from the
	// raw file bytes, so it survives renames and retagging.
	Hash     string `gorm:"index" json:"hash"`
	FileSize int64  `json:"file_size"`
	Duration int64  `json:"duration"` // milliseconds

	AddedAt    int64 `json:"added_at"`    // unix milliseconds
	ModifiedAt int64 `json:"modified_at"` // unix milliseconds
	Enabled    bool  `json:"enabled"`

	Title       string `json:"title"`
	Artist      string `json:"artist"`
	Album       string `json:"album"`
	AlbumArtist string `json:"album_artist"`
	Genre       string `json:"genre"`
	Year        int    `json:"year"`
	TrackNumber int    `json:"track_number"`
	DiscNumber  int    `json:"disc_number"`

	// ExtraTags carries non-standard tag fields, notably CUESHEET for
	// embedded cue sheets.
	ExtraTags map[string][]string `gorm:"serializer:json" json:"extra_tags,omitempty"`

	// Playback statistics, written through UpdateTrackStats only.
	PlayCount   int   `json:"play_count"`
	FirstPlayed int64 `json:"first_played"`
	LastPlayed  int64 `json:"last_played"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Filename returns the base name of the track's file, the inner entry name
// for archive tracks.
func (t *Track) Filename() string {
	path := t.Path
	if t.ArchivePath != "" {
		if idx := strings.LastIndex(path, "!"); idx >= 0 && idx+1 < len(path) {
			path = path[idx+1:]
		}
	}
	return filepath.Base(path)
}

// UniquePath identifies a track within a multi-track container: the file
// path combined with the sub-song index.
func (t *Track) UniquePath() string {
	return fmt.Sprintf("%s|%d", t.Path, t.SubSong)
}

// InArchive reports whether the track lives inside an archive container.
func (t *Track) InArchive() bool {
	return t.ArchivePath != ""
}

// HasCue reports whether the track is associated with a cue sheet,
// companion or embedded.
func (t *Track) HasCue() bool {
	return t.CuePath != ""
}

// EffectiveCuePath resolves the Embedded sentinel to the track's own path.
func (t *Track) EffectiveCuePath() string {
	if t.CuePath == CueEmbedded {
		return t.Path
	}
	return t.CuePath
}

// InLibrary reports whether the track is linked to a configured library.
func (t *Track) InLibrary() bool {
	return t.LibraryID > 0
}

// InDatabase reports whether the track has been persisted.
func (t *Track) InDatabase() bool {
	return t.ID > 0
}

// HasExtraTag reports whether the named extra tag is present and non-empty.
func (t *Track) HasExtraTag(name string) bool {
	values, ok := t.ExtraTags[name]
	return ok && len(values) > 0
}

// ExtraTag returns the values of the named extra tag.
func (t *Track) ExtraTag(name string) []string {
	return t.ExtraTags[name]
}

// SetExtraTag replaces the values of the named extra tag.
func (t *Track) SetExtraTag(name string, values ...string) {
	if t.ExtraTags == nil {
		t.ExtraTags = make(map[string][]string)
	}
	t.ExtraTags[name] = values
}

// ScanJobStatus represents the possible states of a scan job record.
type ScanJobStatus string

const (
	ScanJobPending   ScanJobStatus = "pending"
	ScanJobRunning   ScanJobStatus = "running"
	ScanJobPaused    ScanJobStatus = "paused"
	ScanJobCompleted ScanJobStatus = "completed"
	ScanJobFailed    ScanJobStatus = "failed"
)

// ScanJob records one scan run against a library, for status reporting and
// restart visibility.
type ScanJob struct {
	ID        uint          `gorm:"primaryKey" json:"id"`
	LibraryID int           `gorm:"index;not null" json:"library_id"`
	Library   Library       `gorm:"foreignKey:LibraryID" json:"library,omitempty"`
	Status    ScanJobStatus `gorm:"default:pending" json:"status"`

	FilesFound     int `json:"files_found"`
	FilesProcessed int `json:"files_processed"`
	TracksAdded    int `json:"tracks_added"`
	TracksUpdated  int `json:"tracks_updated"`

	StatusMessage string `json:"status_message,omitempty"`
	ErrorMessage  string `json:"error_message,omitempty"`

	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}
