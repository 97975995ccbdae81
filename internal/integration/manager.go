// Package integration implements the Integration Manager (spec.md §4.F):
// it owns remote backend profiles, their connection lifecycle, and
// OpenSubsonic playlist write-back. Passwords are held in memory only: the
// plaintext for adapter calls, plus a bcrypt hash of it. Neither is written
// to disk.
package integration

import (
	"context"
	"log/slog"
	"sync"

	"golang.org/x/crypto/bcrypt"

	"github.com/arung-agamani/denpa-player/internal/bus"
	"github.com/arung-agamani/denpa-player/internal/model"
)

// RemoteAdapter is the contract every concrete backend integration
// implements (spec.md §4.F): test a connection, fetch the library and
// playlists, and write a playlist's track list back.
type RemoteAdapter interface {
	Test(ctx context.Context, baseURL, username, password string) error
	FetchLibrary(ctx context.Context, baseURL, username, password, profileID string) ([]model.Track, error)
	FetchPlaylists(ctx context.Context, baseURL, username, password string) ([]string, error)
	ReplacePlaylistTracks(ctx context.Context, baseURL, username, password, remoteID string, songIDs []string) error
}

// Manager owns BackendProfileSnapshot state and dispatches to one adapter
// per BackendKind (only OpenSubsonic has a concrete adapter in this repo).
type Manager struct {
	b        *bus.Bus
	recv     *bus.Receiver
	adapters map[model.BackendKind]RemoteAdapter

	mu              sync.Mutex
	profiles        map[string]model.BackendProfileSnapshot
	passwordHashes  map[string]string
	plaintextCache  map[string]string // kept until the profile is removed; read by connect and writeback
	snapshotVersion uint64
}

func New(b *bus.Bus, adapters map[model.BackendKind]RemoteAdapter) *Manager {
	return &Manager{
		b:              b,
		adapters:       adapters,
		profiles:       make(map[string]model.BackendProfileSnapshot),
		passwordHashes: make(map[string]string),
		plaintextCache: make(map[string]string),
	}
}

func (m *Manager) Start(ctx context.Context) {
	m.recv = m.b.Subscribe("integration")
	go m.run(ctx)
}

func (m *Manager) run(ctx context.Context) {
	defer m.recv.Unsubscribe()
	for {
		msg, ok := m.recv.Recv(ctx)
		if !ok {
			return
		}
		switch v := msg.(type) {
		case bus.UpsertBackendProfile:
			m.upsert(ctx, v)
		case bus.RemoveBackendProfile:
			m.remove(v.ProfileID)
		case bus.PushOpenSubsonicPlaylistUpdate:
			m.writeback(ctx, v)
		}
	}
}

func (m *Manager) upsert(ctx context.Context, v bus.UpsertBackendProfile) {
	m.mu.Lock()
	m.snapshotVersion++
	profile := v.Profile
	profile.SnapshotVer = m.snapshotVersion
	if v.Password != "" {
		hash, err := bcrypt.GenerateFromPassword([]byte(v.Password), bcrypt.DefaultCost)
		if err != nil {
			slog.Error("integration: failed to hash password", "profile_id", profile.ProfileID, "error", err)
		} else {
			m.passwordHashes[profile.ProfileID] = string(hash)
		}
		m.plaintextCache[profile.ProfileID] = v.Password
	}
	m.profiles[profile.ProfileID] = profile
	m.mu.Unlock()

	m.b.Publish(bus.BackendSnapshotUpdated{Snapshot: profile})

	if v.ConnectNow {
		m.connect(ctx, profile.ProfileID)
	}
}

func (m *Manager) remove(profileID string) {
	m.mu.Lock()
	profile, existed := m.profiles[profileID]
	delete(m.profiles, profileID)
	delete(m.passwordHashes, profileID)
	delete(m.plaintextCache, profileID)
	m.mu.Unlock()

	if !existed {
		return
	}
	if profile.Kind == model.BackendOpenSubsonic {
		m.b.Publish(bus.BackendSnapshotUpdated{Snapshot: model.BackendProfileSnapshot{
			ProfileID: profileID,
			Kind:      model.BackendOpenSubsonic,
			State:     model.StateDisconnected,
		}})
		m.b.Publish(bus.RemoteLibrarySnapshotUpdated{ProfileID: profileID})
		m.b.Publish(bus.RemotePlaylistsSnapshotUpdated{ProfileID: profileID})
	}
}

// connect implements spec.md §4.F's connect flow: test -> Connecting ->
// fetch library/playlists -> emit snapshots + Connected, or Error on any
// failure.
func (m *Manager) connect(ctx context.Context, profileID string) {
	m.mu.Lock()
	profile, ok := m.profiles[profileID]
	password := m.plaintextCache[profileID]
	adapter := m.adapters[profile.Kind]
	m.mu.Unlock()
	if !ok || adapter == nil {
		return
	}

	m.transition(profileID, model.StateConnecting, "")
	m.b.Publish(bus.BackendConnectionStateChanged{ProfileID: profileID, State: model.StateConnecting})

	if err := adapter.Test(ctx, profile.BaseURL, profile.Username, password); err != nil {
		m.fail(profileID, "test", err)
		return
	}

	tracks, err := adapter.FetchLibrary(ctx, profile.BaseURL, profile.Username, password, profileID)
	if err != nil {
		m.fail(profileID, "fetch_library", err)
		return
	}
	playlists, err := adapter.FetchPlaylists(ctx, profile.BaseURL, profile.Username, password)
	if err != nil {
		m.fail(profileID, "fetch_playlists", err)
		return
	}
	m.b.Publish(bus.RemoteLibrarySnapshotUpdated{ProfileID: profileID, Tracks: tracks})
	m.b.Publish(bus.RemotePlaylistsSnapshotUpdated{ProfileID: profileID, PlaylistIDs: playlists})

	m.transition(profileID, model.StateConnected, "")
	m.b.Publish(bus.BackendConnectionStateChanged{ProfileID: profileID, State: model.StateConnected})
}

func (m *Manager) fail(profileID, action string, err error) {
	m.transition(profileID, model.StateError, err.Error())
	m.b.Publish(bus.BackendConnectionStateChanged{ProfileID: profileID, State: model.StateError})
	m.b.Publish(bus.BackendOperationFailed{ProfileID: profileID, Action: action, Error: err.Error()})
}

func (m *Manager) transition(profileID string, state model.ConnectionState, lastError string) {
	m.mu.Lock()
	profile, ok := m.profiles[profileID]
	if ok {
		profile.State = state
		profile.LastError = lastError
		m.snapshotVersion++
		profile.SnapshotVer = m.snapshotVersion
		m.profiles[profileID] = profile
	}
	m.mu.Unlock()
	if ok {
		m.b.Publish(bus.BackendSnapshotUpdated{Snapshot: profile})
	}
}

func (m *Manager) writeback(ctx context.Context, v bus.PushOpenSubsonicPlaylistUpdate) {
	m.mu.Lock()
	profile, ok := m.profiles[v.ProfileID]
	password := m.plaintextCache[v.ProfileID]
	adapter := m.adapters[model.BackendOpenSubsonic]
	m.mu.Unlock()
	if !ok || adapter == nil {
		m.b.Publish(bus.OpenSubsonicPlaylistWritebackResult{LocalID: v.LocalID, Success: false, Error: "profile not found"})
		return
	}

	err := adapter.ReplacePlaylistTracks(ctx, profile.BaseURL, profile.Username, password, v.RemoteID, v.SongIDs)
	if err != nil {
		m.b.Publish(bus.OpenSubsonicPlaylistWritebackResult{LocalID: v.LocalID, Success: false, Error: err.Error()})
		return
	}
	m.b.Publish(bus.OpenSubsonicPlaylistWritebackResult{LocalID: v.LocalID, Success: true})
}
