package jsonstore

import (
	"path/filepath"
	"testing"

	"github.com/arung-agamani/denpa-player/internal/persistence"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := Open(filepath.Join(dir, "store.json"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return s
}

func TestOpenCreatesEmptyStoreWhenFileMissing(t *testing.T) {
	s := newTestStore(t)
	rows, err := s.ListPlaylists()
	if err != nil {
		t.Fatalf("ListPlaylists: %v", err)
	}
	if len(rows) != 0 {
		t.Errorf("got %d playlists, want 0 on a fresh store", len(rows))
	}
}

func TestCreateAndListPlaylists(t *testing.T) {
	s := newTestStore(t)
	row, err := s.CreatePlaylist("Favorites")
	if err != nil {
		t.Fatalf("CreatePlaylist: %v", err)
	}
	if row.Name != "Favorites" || row.ID == "" {
		t.Errorf("row = %+v, want non-empty ID and Name Favorites", row)
	}

	rows, err := s.ListPlaylists()
	if err != nil {
		t.Fatalf("ListPlaylists: %v", err)
	}
	if len(rows) != 1 || rows[0].ID != row.ID {
		t.Errorf("rows = %+v, want exactly the created playlist", rows)
	}
}

func TestRenameAndDeletePlaylist(t *testing.T) {
	s := newTestStore(t)
	row, _ := s.CreatePlaylist("Old Name")

	if err := s.RenamePlaylist(row.ID, "New Name"); err != nil {
		t.Fatalf("RenamePlaylist: %v", err)
	}
	rows, _ := s.ListPlaylists()
	if rows[0].Name != "New Name" {
		t.Errorf("Name = %q, want New Name", rows[0].Name)
	}

	if err := s.DeletePlaylist(row.ID); err != nil {
		t.Fatalf("DeletePlaylist: %v", err)
	}
	rows, _ = s.ListPlaylists()
	if len(rows) != 0 {
		t.Errorf("got %d playlists after delete, want 0", len(rows))
	}
}

func TestRenameMissingPlaylistReturnsError(t *testing.T) {
	s := newTestStore(t)
	if err := s.RenamePlaylist("missing", "x"); err == nil {
		t.Error("expected an error renaming a playlist that does not exist")
	}
}

func TestInsertTracksAtShiftsExistingPositions(t *testing.T) {
	s := newTestStore(t)
	row, _ := s.CreatePlaylist("Mix")

	err := s.InsertTracksAt(row.ID, []persistence.TrackRow{
		{TrackID: "a", Path: "/a.flac"},
		{TrackID: "b", Path: "/b.flac"},
	}, 0)
	if err != nil {
		t.Fatalf("InsertTracksAt: %v", err)
	}

	err = s.InsertTracksAt(row.ID, []persistence.TrackRow{{TrackID: "c", Path: "/c.flac"}}, 0)
	if err != nil {
		t.Fatalf("InsertTracksAt: %v", err)
	}

	tracks, err := s.ReadTracks(row.ID)
	if err != nil {
		t.Fatalf("ReadTracks: %v", err)
	}
	if len(tracks) != 3 {
		t.Fatalf("got %d tracks, want 3", len(tracks))
	}
	wantOrder := []string{"c", "a", "b"}
	for i, want := range wantOrder {
		if tracks[i].TrackID != want {
			t.Errorf("tracks[%d].TrackID = %q, want %q", i, tracks[i].TrackID, want)
		}
		if tracks[i].Position != i {
			t.Errorf("tracks[%d].Position = %d, want %d", i, tracks[i].Position, i)
		}
	}
}

func TestDeleteTracksRemovesOnlyRequestedIDs(t *testing.T) {
	s := newTestStore(t)
	row, _ := s.CreatePlaylist("Mix")
	s.InsertTracksAt(row.ID, []persistence.TrackRow{
		{TrackID: "a", Path: "/a.flac"},
		{TrackID: "b", Path: "/b.flac"},
	}, 0)

	if err := s.DeleteTracks(row.ID, []string{"a"}); err != nil {
		t.Fatalf("DeleteTracks: %v", err)
	}
	tracks, _ := s.ReadTracks(row.ID)
	if len(tracks) != 1 || tracks[0].TrackID != "b" {
		t.Errorf("tracks = %+v, want only b remaining", tracks)
	}
}

func TestUpdatePositionsReordersTracks(t *testing.T) {
	s := newTestStore(t)
	row, _ := s.CreatePlaylist("Mix")
	s.InsertTracksAt(row.ID, []persistence.TrackRow{
		{TrackID: "a", Path: "/a.flac"},
		{TrackID: "b", Path: "/b.flac"},
	}, 0)

	if err := s.UpdatePositions(row.ID, []string{"b", "a"}); err != nil {
		t.Fatalf("UpdatePositions: %v", err)
	}
	tracks, _ := s.ReadTracks(row.ID)
	if tracks[0].TrackID != "b" || tracks[1].TrackID != "a" {
		t.Errorf("tracks = %+v, want [b a]", tracks)
	}
}

func TestColumnOrderRoundTrip(t *testing.T) {
	s := newTestStore(t)
	row, _ := s.CreatePlaylist("Mix")

	cols, err := s.GetColumnOrder(row.ID)
	if err != nil {
		t.Fatalf("GetColumnOrder: %v", err)
	}
	if len(cols) != 0 {
		t.Errorf("got %v, want empty default column order", cols)
	}

	want := []string{"title", "artist", "duration"}
	if err := s.SetColumnOrder(row.ID, want); err != nil {
		t.Fatalf("SetColumnOrder: %v", err)
	}
	got, err := s.GetColumnOrder(row.ID)
	if err != nil {
		t.Fatalf("GetColumnOrder: %v", err)
	}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("got[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestEnrichmentRowRoundTripAndPrune(t *testing.T) {
	s := newTestStore(t)
	row := persistence.EnrichmentRow{
		Fingerprint: "artist|Daft Punk",
		Payload:     []byte(`{"status":"ready"}`),
		NowMS:       1000,
		ExpiresMS:   2000,
		Conclusive:  true,
	}
	if err := s.UpsertEnrichmentRow(row); err != nil {
		t.Fatalf("UpsertEnrichmentRow: %v", err)
	}

	got, ok, err := s.GetEnrichmentRow("artist|Daft Punk")
	if err != nil {
		t.Fatalf("GetEnrichmentRow: %v", err)
	}
	if !ok {
		t.Fatal("GetEnrichmentRow: not found")
	}
	if string(got.Payload) != string(row.Payload) {
		t.Errorf("Payload = %s, want %s", got.Payload, row.Payload)
	}

	pruned, err := s.PruneExpiredEnrichmentRows(2500)
	if err != nil {
		t.Fatalf("PruneExpiredEnrichmentRows: %v", err)
	}
	if pruned != 1 {
		t.Errorf("pruned = %d, want 1", pruned)
	}
	if _, ok, _ := s.GetEnrichmentRow("artist|Daft Punk"); ok {
		t.Error("expected the expired row to be gone after pruning")
	}
}

func TestGetEnrichmentRowMissingReturnsNotFound(t *testing.T) {
	s := newTestStore(t)
	_, ok, err := s.GetEnrichmentRow("artist|Nobody")
	if err != nil {
		t.Fatalf("GetEnrichmentRow: %v", err)
	}
	if ok {
		t.Error("expected ok=false for a fingerprint never stored")
	}
}

func TestClearImagePathOnlyTouchesMatchingRows(t *testing.T) {
	s := newTestStore(t)
	s.UpsertEnrichmentRow(persistence.EnrichmentRow{Fingerprint: "a", ImagePath: "/img/a.png", ExpiresMS: 9e15})
	s.UpsertEnrichmentRow(persistence.EnrichmentRow{Fingerprint: "b", ImagePath: "/img/b.png", ExpiresMS: 9e15})

	if err := s.ClearImagePath("/img/a.png"); err != nil {
		t.Fatalf("ClearImagePath: %v", err)
	}

	rowA, _, _ := s.GetEnrichmentRow("a")
	if rowA.ImagePath != "" {
		t.Errorf("row a ImagePath = %q, want cleared", rowA.ImagePath)
	}
	rowB, _, _ := s.GetEnrichmentRow("b")
	if rowB.ImagePath != "/img/b.png" {
		t.Errorf("row b ImagePath = %q, want untouched", rowB.ImagePath)
	}
}

func TestReopenPersistsAcrossInstances(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "store.json")

	s1, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	row, err := s1.CreatePlaylist("Persisted")
	if err != nil {
		t.Fatalf("CreatePlaylist: %v", err)
	}

	s2, err := Open(path)
	if err != nil {
		t.Fatalf("re-Open: %v", err)
	}
	rows, err := s2.ListPlaylists()
	if err != nil {
		t.Fatalf("ListPlaylists: %v", err)
	}
	if len(rows) != 1 || rows[0].ID != row.ID || rows[0].Name != "Persisted" {
		t.Errorf("rows after reopen = %+v, want the persisted playlist", rows)
	}
}
