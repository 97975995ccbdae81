// Package adminapi is the read-only status/health HTTP surface (spec.md §6
// "local HTTP API for a status dashboard"): a service layer that owns
// state, a handler layer that only renders it as JSON.
package adminapi

import (
	"context"
	"sync"
	"time"

	"github.com/arung-agamani/denpa-player/internal/bus"
	"github.com/arung-agamani/denpa-player/internal/model"
)

// StatusSnapshot holds everything the GET /api/status response renders.
// It is assembled purely from bus broadcasts: adminapi never calls into
// another worker directly, matching spec.md §9's "workers only talk
// through the bus" rule.
type StatusSnapshot struct {
	PlayingTrackID   string
	IsPlaying        bool
	ElapsedMS        uint64
	Volume           float32
	OutputSampleRate uint32
	BackendProfiles  map[string]model.BackendProfileSnapshot
	CastState        model.ConnectionState
	ServerTime       string
}

// Service accumulates bus broadcasts into the latest StatusSnapshot.
type Service struct {
	b    *bus.Bus
	recv *bus.Receiver

	mu       sync.RWMutex
	snapshot StatusSnapshot
}

func NewService(b *bus.Bus) *Service {
	return &Service{
		b:        b,
		snapshot: StatusSnapshot{BackendProfiles: make(map[string]model.BackendProfileSnapshot)},
	}
}

func (s *Service) Start(ctx context.Context) {
	s.recv = s.b.Subscribe("adminapi")
	go s.run(ctx)
}

func (s *Service) run(ctx context.Context) {
	defer s.recv.Unsubscribe()
	for {
		msg, ok := s.recv.Recv(ctx)
		if !ok {
			return
		}
		s.apply(msg)
	}
}

func (s *Service) apply(msg bus.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch v := msg.(type) {
	case bus.TrackStarted:
		s.snapshot.PlayingTrackID = v.ID
		s.snapshot.IsPlaying = true
	case bus.Stop:
		s.snapshot.IsPlaying = false
	case bus.PlaybackProgress:
		s.snapshot.ElapsedMS = v.ElapsedMS
	case bus.SetVolume:
		s.snapshot.Volume = v.Volume
	case bus.RuntimeOutputSampleRateChanged:
		s.snapshot.OutputSampleRate = v.SampleRateHz
	case bus.BackendSnapshotUpdated:
		s.snapshot.BackendProfiles[v.Snapshot.ProfileID] = v.Snapshot
	case bus.CastConnectionStateChanged:
		s.snapshot.CastState = v.State
	}
}

func (s *Service) Status() StatusSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := s.snapshot
	snap.BackendProfiles = make(map[string]model.BackendProfileSnapshot, len(s.snapshot.BackendProfiles))
	for k, v := range s.snapshot.BackendProfiles {
		snap.BackendProfiles[k] = v
	}
	snap.ServerTime = time.Now().Format(time.RFC3339)
	return snap
}
