// Package jsonstore is the concrete Persistence Adapter (spec.md §4.H): one
// JSON file, loaded whole into memory, saved atomically via
// write-to-temp-file then rename.
package jsonstore

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/arung-agamani/denpa-player/internal/persistence"
)

type onDisk struct {
	Version     int                          `json:"version"`
	Playlists   map[string]*onDiskPlaylist   `json:"playlists"`
	Enrichment  map[string]onDiskEnrichment  `json:"enrichment"`
}

type onDiskPlaylist struct {
	Name        string                     `json:"name"`
	ColumnOrder []string                   `json:"columnOrder,omitempty"`
	Tracks      map[string]*onDiskTrackRow `json:"tracks"`
}

type onDiskTrackRow struct {
	TrackID  string `json:"trackId"`
	Path     string `json:"path"`
	Position int    `json:"position"`
}

type onDiskEnrichment struct {
	Payload    []byte `json:"payload"`
	ImagePath  string `json:"imagePath,omitempty"`
	LastError  string `json:"lastError,omitempty"`
	NowMS      int64  `json:"nowMs"`
	ExpiresMS  int64  `json:"expiresMs"`
	Conclusive bool   `json:"conclusive"`
}

// Store implements persistence.Adapter over one JSON file.
type Store struct {
	mu   sync.Mutex
	path string
	data onDisk
}

var _ persistence.Adapter = (*Store)(nil)

// Open loads path if it exists, or starts with an empty store. The parent
// directory is created automatically.
func Open(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("jsonstore: create directory %q: %w", dir, err)
	}

	s := &Store{
		path: path,
		data: onDisk{
			Version:    1,
			Playlists:  make(map[string]*onDiskPlaylist),
			Enrichment: make(map[string]onDiskEnrichment),
		},
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, fmt.Errorf("jsonstore: read %q: %w", path, err)
	}
	if err := json.Unmarshal(raw, &s.data); err != nil {
		return nil, fmt.Errorf("jsonstore: parse %q: %w", path, err)
	}
	if s.data.Playlists == nil {
		s.data.Playlists = make(map[string]*onDiskPlaylist)
	}
	if s.data.Enrichment == nil {
		s.data.Enrichment = make(map[string]onDiskEnrichment)
	}
	return s, nil
}

// saveLocked writes s.data atomically via a temp file + rename. Caller
// must hold s.mu.
func (s *Store) saveLocked() error {
	jsonBytes, err := json.MarshalIndent(s.data, "", "  ")
	if err != nil {
		return fmt.Errorf("jsonstore: marshal: %w", err)
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, "denpa-player-*.json.tmp")
	if err != nil {
		return fmt.Errorf("jsonstore: create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(jsonBytes); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("jsonstore: write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("jsonstore: close temp file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("jsonstore: rename temp file to %q: %w", s.path, err)
	}
	return nil
}

func (s *Store) CreatePlaylist(name string) (persistence.PlaylistRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := fmt.Sprintf("pl-%d", len(s.data.Playlists)+1)
	for {
		if _, exists := s.data.Playlists[id]; !exists {
			break
		}
		id = id + "x"
	}
	s.data.Playlists[id] = &onDiskPlaylist{Name: name, Tracks: make(map[string]*onDiskTrackRow)}
	if err := s.saveLocked(); err != nil {
		return persistence.PlaylistRow{}, err
	}
	return persistence.PlaylistRow{ID: id, Name: name}, nil
}

func (s *Store) RenamePlaylist(id, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	pl, ok := s.data.Playlists[id]
	if !ok {
		return fmt.Errorf("jsonstore: playlist %q not found", id)
	}
	pl.Name = name
	return s.saveLocked()
}

func (s *Store) DeletePlaylist(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data.Playlists, id)
	return s.saveLocked()
}

func (s *Store) ListPlaylists() ([]persistence.PlaylistRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows := make([]persistence.PlaylistRow, 0, len(s.data.Playlists))
	for id, pl := range s.data.Playlists {
		rows = append(rows, persistence.PlaylistRow{ID: id, Name: pl.Name, ColumnOrder: pl.ColumnOrder})
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].ID < rows[j].ID })
	return rows, nil
}

func (s *Store) ReadTracks(playlistID string) ([]persistence.TrackRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pl, ok := s.data.Playlists[playlistID]
	if !ok {
		return nil, nil
	}
	rows := make([]persistence.TrackRow, 0, len(pl.Tracks))
	for _, t := range pl.Tracks {
		rows = append(rows, persistence.TrackRow{PlaylistID: playlistID, TrackID: t.TrackID, Path: t.Path, Position: t.Position})
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Position < rows[j].Position })
	return rows, nil
}

func (s *Store) InsertTracksAt(playlistID string, tracks []persistence.TrackRow, startPosition int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	pl, ok := s.data.Playlists[playlistID]
	if !ok {
		pl = &onDiskPlaylist{Tracks: make(map[string]*onDiskTrackRow)}
		s.data.Playlists[playlistID] = pl
	}
	for _, row := range pl.Tracks {
		if row.Position >= startPosition {
			row.Position += len(tracks)
		}
	}
	for i, t := range tracks {
		pl.Tracks[t.TrackID] = &onDiskTrackRow{TrackID: t.TrackID, Path: t.Path, Position: startPosition + i}
	}
	return s.saveLocked()
}

func (s *Store) DeleteTracks(playlistID string, trackIDs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	pl, ok := s.data.Playlists[playlistID]
	if !ok {
		return nil
	}
	for _, id := range trackIDs {
		delete(pl.Tracks, id)
	}
	return s.saveLocked()
}

func (s *Store) UpdatePositions(playlistID string, orderedTrackIDs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	pl, ok := s.data.Playlists[playlistID]
	if !ok {
		return fmt.Errorf("jsonstore: playlist %q not found", playlistID)
	}
	for i, id := range orderedTrackIDs {
		if row, ok := pl.Tracks[id]; ok {
			row.Position = i
		}
	}
	return s.saveLocked()
}

func (s *Store) GetColumnOrder(playlistID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pl, ok := s.data.Playlists[playlistID]
	if !ok {
		return nil, nil
	}
	return pl.ColumnOrder, nil
}

func (s *Store) SetColumnOrder(playlistID string, columns []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	pl, ok := s.data.Playlists[playlistID]
	if !ok {
		return fmt.Errorf("jsonstore: playlist %q not found", playlistID)
	}
	pl.ColumnOrder = columns
	return s.saveLocked()
}

func (s *Store) UpsertEnrichmentRow(row persistence.EnrichmentRow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.Enrichment[row.Fingerprint] = onDiskEnrichment{
		Payload:    row.Payload,
		ImagePath:  row.ImagePath,
		LastError:  row.LastError,
		NowMS:      row.NowMS,
		ExpiresMS:  row.ExpiresMS,
		Conclusive: row.Conclusive,
	}
	return s.saveLocked()
}

func (s *Store) GetEnrichmentRow(fingerprint string) (persistence.EnrichmentRow, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.data.Enrichment[fingerprint]
	if !ok {
		return persistence.EnrichmentRow{}, false, nil
	}
	return persistence.EnrichmentRow{
		Fingerprint: fingerprint,
		Payload:     e.Payload,
		ImagePath:   e.ImagePath,
		LastError:   e.LastError,
		NowMS:       e.NowMS,
		ExpiresMS:   e.ExpiresMS,
		Conclusive:  e.Conclusive,
	}, true, nil
}

func (s *Store) PruneExpiredEnrichmentRows(nowMS int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pruned := 0
	for fp, e := range s.data.Enrichment {
		if e.ExpiresMS <= nowMS {
			delete(s.data.Enrichment, fp)
			pruned++
		}
	}
	if pruned > 0 {
		if err := s.saveLocked(); err != nil {
			return pruned, err
		}
	}
	return pruned, nil
}

func (s *Store) ClearImagePath(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	changed := false
	for fp, e := range s.data.Enrichment {
		if e.ImagePath == path {
			e.ImagePath = ""
			s.data.Enrichment[fp] = e
			changed = true
		}
	}
	if !changed {
		return nil
	}
	slog.Debug("jsonstore: cleared stale image path", "path", path)
	return s.saveLocked()
}

func (s *Store) Close() error { return nil }
