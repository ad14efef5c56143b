package database

import (
	"fmt"

	"gorm.io/gorm"

	"github.com/calliope-audio/calliope/internal/logger"
)

// TrackStore is the persisted store for tracks. The scanner treats it as a
// synchronous batch sink; no transactionality is assumed beyond single calls.
type TrackStore struct {
	db *gorm.DB
}

// NewTrackStore creates a track store backed by the given connection.
func NewTrackStore(db *gorm.DB) *TrackStore {
	return &TrackStore{db: db}
}

// StoreTracks inserts new tracks and fills in their assigned ids.
func (s *TrackStore) StoreTracks(tracks []*Track) error {
	if len(tracks) == 0 {
		return nil
	}

	if err := s.db.CreateInBatches(tracks, 100).Error; err != nil {
		return fmt.Errorf("failed to store %d tracks: %w", len(tracks), err)
	}
	return nil
}

// UpdateTracks writes the full current state of each track. A track that
// was never persisted keeps its sentinel id: the update matches no rows but
// is still attempted, and a warning is logged.
func (s *TrackStore) UpdateTracks(tracks []*Track) error {
	for _, track := range tracks {
		if !track.InDatabase() {
			logger.Warn("Updating track with no database id", "path", track.Path)
		}

		// Struct update with an explicit column list so zero values are
		// written and the extra_tags serializer applies.
		result := s.db.Model(&Track{}).Where("id = ?", track.ID).
			Select("library_id", "path", "sub_song", "archive_path", "cue_path",
				"hash", "file_size", "duration", "added_at", "modified_at", "enabled",
				"title", "artist", "album", "album_artist", "genre", "year",
				"track_number", "disc_number", "extra_tags").
			Updates(track)
		if result.Error != nil {
			return fmt.Errorf("failed to update track %d: %w", track.ID, result.Error)
		}
	}
	return nil
}

// UpdateTrackStats writes playback statistics only, leaving scanner-owned
// columns untouched.
func (s *TrackStore) UpdateTrackStats(tracks []*Track) error {
	for _, track := range tracks {
		if !track.InDatabase() {
			continue
		}

		result := s.db.Model(&Track{}).Where("id = ?", track.ID).Updates(map[string]interface{}{
			"play_count":   track.PlayCount,
			"first_played": track.FirstPlayed,
			"last_played":  track.LastPlayed,
		})
		if result.Error != nil {
			return fmt.Errorf("failed to update track stats %d: %w", track.ID, result.Error)
		}
	}
	return nil
}

// IDForTrack looks up the persisted id for a track by its unique path,
// returning -1 when the track is not in the store.
func (s *TrackStore) IDForTrack(track *Track) int {
	var existing Track
	err := s.db.Where("path = ? AND sub_song = ?", track.Path, track.SubSong).First(&existing).Error
	if err != nil {
		if err != gorm.ErrRecordNotFound {
			logger.Error("Track id lookup failed", "path", track.Path, "error", err)
		}
		return -1
	}
	return existing.ID
}

// TracksForLibrary returns all tracks linked to a library.
func (s *TrackStore) TracksForLibrary(libraryID int) ([]Track, error) {
	var tracks []Track
	if err := s.db.Where("library_id = ?", libraryID).Order("path, sub_song").Find(&tracks).Error; err != nil {
		return nil, fmt.Errorf("failed to load tracks for library %d: %w", libraryID, err)
	}
	return tracks, nil
}

// AllTracks returns every track in the store, including disabled ones.
func (s *TrackStore) AllTracks() ([]Track, error) {
	var tracks []Track
	if err := s.db.Order("path, sub_song").Find(&tracks).Error; err != nil {
		return nil, fmt.Errorf("failed to load tracks: %w", err)
	}
	return tracks, nil
}

// Libraries returns all configured libraries.
func (s *TrackStore) Libraries() ([]Library, error) {
	var libraries []Library
	if err := s.db.Order("id").Find(&libraries).Error; err != nil {
		return nil, fmt.Errorf("failed to load libraries: %w", err)
	}
	return libraries, nil
}

// SaveLibrary inserts or updates a library record.
func (s *TrackStore) SaveLibrary(library *Library) error {
	if err := s.db.Save(library).Error; err != nil {
		return fmt.Errorf("failed to save library: %w", err)
	}
	return nil
}
