// Package playback implements the Playlist / Playback Manager (spec.md
// §4.D): it owns the editing and playback playlists, the integration of
// remote and local tracks, the prefetch plan, and routing between the
// Local and Cast sinks. State shape is one mutex guarding the playlists
// and cursors, plus a handful of maps for cache and availability
// bookkeeping.
package playback

import (
	"context"
	"log/slog"
	"math/rand"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/arung-agamani/denpa-player/internal/bus"
	"github.com/arung-agamani/denpa-player/internal/model"
	"github.com/arung-agamani/denpa-player/internal/persistence"
	"github.com/arung-agamani/denpa-player/internal/playback/undostack"
	"github.com/arung-agamani/denpa-player/internal/trackprobe"
)

const lastSeekUnset = ^uint64(0)

// Manager is the Playlist / Playback Manager described in spec.md §4.D.
type Manager struct {
	b       *bus.Bus
	recv    *bus.Receiver
	persist persistence.Adapter
	prober  *trackprobe.Prober

	maxNumCachedTracks int
	sampleRateAuto     bool

	mu sync.Mutex

	editingPlaylist  []model.Track
	activePlaylistID string

	playbackPlaylist    []model.Track
	playbackQueueSource model.QueueSource
	playbackRoute       model.PlaybackRoute
	playbackOrder       model.PlaybackOrder
	repeatMode          model.RepeatMode

	playingIndex    int
	hasPlayingIndex bool
	shuffleOrder    []int

	cachedAtZero        map[string]bool
	fullyCachedTrackIDs map[string]bool

	requestedTrackOffsets map[string]uint64

	hasPendingStart bool
	pendingStartID  string
	hasStartedTrack bool
	startedID       string

	pendingOrderChange    *model.PlaybackOrder
	probedSourceRates     map[string]uint32
	pendingRateSwitch     *uint32
	pendingRatePlayNow    bool
	currentOutputRateHz   uint32
	verifiedOutputRates   []uint32

	unavailableTrackIDs map[string]bool
	remotePlaylistIDs   map[string][]string

	undo *undostack.Stack[[]model.Track]
	redo *undostack.Stack[[]model.Track]

	lastSeekMS uint64

	remoteWritebackSignatures map[string]string
}

func New(b *bus.Bus, persist persistence.Adapter, prober *trackprobe.Prober, maxNumCachedTracks int) *Manager {
	if maxNumCachedTracks <= 0 {
		maxNumCachedTracks = 2
	}
	return &Manager{
		b:                         b,
		persist:                   persist,
		prober:                    prober,
		maxNumCachedTracks:        maxNumCachedTracks,
		sampleRateAuto:            true,
		cachedAtZero:              make(map[string]bool),
		fullyCachedTrackIDs:       make(map[string]bool),
		requestedTrackOffsets:     make(map[string]uint64),
		probedSourceRates:         make(map[string]uint32),
		unavailableTrackIDs:       make(map[string]bool),
		remotePlaylistIDs:         make(map[string][]string),
		undo:                      undostack.New[[]model.Track](128),
		redo:                      undostack.New[[]model.Track](128),
		lastSeekMS:                lastSeekUnset,
		remoteWritebackSignatures: make(map[string]string),
	}
}

func (m *Manager) Start(ctx context.Context) {
	m.recv = m.b.Subscribe("playback")
	go m.run(ctx)
}

func (m *Manager) run(ctx context.Context) {
	defer m.recv.Unsubscribe()
	for {
		msg, ok := m.recv.Recv(ctx)
		if !ok {
			return
		}
		m.handle(msg)
	}
}

func (m *Manager) handle(msg bus.Message) {
	switch v := msg.(type) {
	case bus.StartQueueRequest:
		m.startQueue(v.Source, v.Tracks, v.StartIndex)
	case bus.Play:
		m.play()
	case bus.Pause:
		m.setPlayingFlag(false)
	case bus.Stop:
		m.stop()
	case bus.Next:
		m.advance(1)
	case bus.Previous:
		m.advance(-1)
	case bus.TrackFinished:
		m.onTrackFinished(v.ID)
	case bus.TrackStarted:
		m.onTrackStarted(v.ID)
	case bus.ReadyForPlayback:
		m.onReadyForPlayback(v.ID)
	case bus.TrackCached:
		m.onTrackCached(v.ID, v.StartOffsetMS)
	case bus.TrackEvicted:
		m.onTrackEvicted(v.ID)
	case bus.Seek:
		m.seek(v.Fraction)
	case bus.SetVolume:
		m.setVolume(v.Volume)
	case bus.ChangePlaybackOrder:
		m.changePlaybackOrder(v.Order)
	case bus.ToggleRepeat:
		m.toggleRepeat()
	case bus.ConfirmDetachRemotePlaylist:
		m.confirmDetach(v.PlaylistID)
	case bus.LoadTrack:
		m.loadTracks([]string{v.Path})
	case bus.LoadTracksBatch:
		m.loadTracks(v.Paths)
	case bus.PasteTracks:
		m.pasteTracks(v.Paths, nil)
	case bus.DeleteTracks:
		m.deleteTracks(v.Indices)
	case bus.ReorderTracks:
		m.reorderTracks(v.Indices, v.To)
	case bus.UndoTrackListEdit:
		m.undoEdit()
	case bus.RedoTrackListEdit:
		m.redoEdit()
	case bus.AudioDeviceOpened:
		m.onAudioDeviceOpened(v.StreamInfo.Signature.SampleRateHz)
	case bus.TechnicalMetadataChanged:
		m.onTechnicalMetadataChanged(v.Meta)
	case bus.OutputDeviceCapabilitiesChanged:
		m.onVerifiedRatesChanged(v.VerifiedSampleRates)
	case bus.BackendConnectionStateChanged:
		// remote backend availability for queued remote tracks
		m.onBackendConnectionStateChanged(v.ProfileID, v.State)
	case bus.RemoteLibrarySnapshotUpdated:
		m.onRemoteLibrarySnapshotUpdated(v.ProfileID, v.Tracks)
	case bus.RemotePlaylistsSnapshotUpdated:
		m.onRemotePlaylistsSnapshotUpdated(v.ProfileID, v.PlaylistIDs)
	case bus.CastConnectionStateChanged:
		m.onCastConnectionStateChanged(v.State)
	}
}

// --- editing playlist operations ---

func (m *Manager) loadTracks(paths []string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.isEditingPlaylistRemoteBoundLocked() && containsNonRemotePath(paths, m.activePlaylistID) {
		slog.Warn("playback: mixed-detach prompt required, not mutating", "playlist_id", m.activePlaylistID)
		return
	}

	before := cloneTracks(m.editingPlaylist)
	added := make([]model.Track, 0, len(paths))
	for _, p := range paths {
		t := model.Track{ID: uuid.NewString(), Path: p}
		m.editingPlaylist = append(m.editingPlaylist, t)
		added = append(added, t)
	}
	if orderChanged(before, m.editingPlaylist) {
		m.undo.Push(before)
		m.redo.Clear()
	}

	if len(added) == 1 {
		m.b.Publish(bus.TrackAdded{Track: added[0]})
	} else if len(added) > 0 {
		m.b.Publish(bus.TracksInsertedBatch{Tracks: added})
	}
	m.maybePushRemoteWritebackLocked()
}

func (m *Manager) pasteTracks(paths []string, selected []int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	insertAt := len(m.editingPlaylist)
	maxSelected := -1
	for _, idx := range selected {
		if idx >= 0 && idx < len(m.editingPlaylist) && idx > maxSelected {
			maxSelected = idx
		}
	}
	if maxSelected >= 0 {
		insertAt = maxSelected + 1
	}

	inserted := make([]model.Track, 0, len(paths))
	for _, p := range paths {
		inserted = append(inserted, model.Track{ID: uuid.NewString(), Path: p})
	}

	before := cloneTracks(m.editingPlaylist)
	m.editingPlaylist = insertAtIndex(m.editingPlaylist, insertAt, inserted)
	if orderChanged(before, m.editingPlaylist) {
		m.undo.Push(before)
		m.redo.Clear()
	}

	m.b.Publish(bus.TracksInserted{Tracks: inserted, InsertAt: insertAt})
	m.maybePushRemoteWritebackLocked()
}

func (m *Manager) deleteTracks(indices []int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	before := cloneTracks(m.editingPlaylist)

	sorted := append([]int(nil), indices...)
	sortDescending(sorted)
	removedIDs := make(map[string]bool)
	for _, idx := range sorted {
		if idx < 0 || idx >= len(m.editingPlaylist) {
			continue
		}
		removedIDs[m.editingPlaylist[idx].ID] = true
		m.editingPlaylist = append(m.editingPlaylist[:idx], m.editingPlaylist[idx+1:]...)
	}

	if orderChanged(before, m.editingPlaylist) {
		m.undo.Push(before)
		m.redo.Clear()
	}
	for id := range removedIDs {
		delete(m.unavailableTrackIDs, id)
	}
	m.maybePushRemoteWritebackLocked()
}

func (m *Manager) reorderTracks(indices []int, to int) {
	if len(indices) == 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	before := cloneTracks(m.editingPlaylist)
	m.editingPlaylist = moveToGap(m.editingPlaylist, indices, to)

	if orderChanged(before, m.editingPlaylist) {
		m.undo.Push(before)
		m.redo.Clear()
	}
	m.maybePushRemoteWritebackLocked()
}

func (m *Manager) undoEdit() {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot, ok := m.undo.Pop()
	if !ok {
		return
	}
	m.redo.Push(cloneTracks(m.editingPlaylist))
	m.editingPlaylist = snapshot
	m.maybePushRemoteWritebackLocked()
}

func (m *Manager) redoEdit() {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot, ok := m.redo.Pop()
	if !ok {
		return
	}
	m.undo.Push(cloneTracks(m.editingPlaylist))
	m.editingPlaylist = snapshot
	m.maybePushRemoteWritebackLocked()
}

func (m *Manager) confirmDetach(playlistID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if playlistID != m.activePlaylistID {
		return
	}
	newID := uuid.NewString()
	localized := make([]model.Track, len(m.editingPlaylist))
	for i, t := range m.editingPlaylist {
		localized[i] = model.Track{ID: uuid.NewString(), Path: t.Path}
	}
	m.activePlaylistID = newID
	m.editingPlaylist = localized
	slog.Info("playback: detached remote-bound playlist", "old_id", playlistID, "new_id", newID)
}

func (m *Manager) isEditingPlaylistRemoteBoundLocked() bool {
	for _, t := range m.editingPlaylist {
		if strings.HasPrefix(t.Path, "remote:opensubsonic:") {
			return true
		}
	}
	return false
}

func containsNonRemotePath(paths []string, _ string) bool {
	for _, p := range paths {
		if !strings.HasPrefix(p, "remote:opensubsonic:") {
			return true
		}
	}
	return false
}

// maybePushRemoteWritebackLocked emits PushOpenSubsonicPlaylistUpdate only
// when the editing playlist is a "pure remote playlist" (spec.md GLOSSARY)
// and its song-id signature actually changed since the last push. Caller
// must hold m.mu.
func (m *Manager) maybePushRemoteWritebackLocked() {
	if len(m.editingPlaylist) == 0 || !m.isEditingPlaylistRemoteBoundLocked() {
		return
	}
	profile, pure := pureRemoteProfile(m.editingPlaylist)
	if !pure {
		return
	}
	ids := make([]string, len(m.editingPlaylist))
	remoteIDs := make([]string, len(m.editingPlaylist))
	for i, t := range m.editingPlaylist {
		ids[i] = t.ID
		remoteIDs[i] = remoteIDSuffix(t.Path)
	}
	signature := strings.Join(remoteIDs, ",")
	if m.remoteWritebackSignatures[m.activePlaylistID] == signature {
		return
	}
	m.remoteWritebackSignatures[m.activePlaylistID] = signature
	m.b.Publish(bus.PushOpenSubsonicPlaylistUpdate{
		ProfileID: profile,
		LocalID:   m.activePlaylistID,
		SongIDs:   remoteIDs,
	})
}

func pureRemoteProfile(tracks []model.Track) (string, bool) {
	var profile string
	for i, t := range tracks {
		parts := strings.SplitN(t.Path, ":", 4)
		if len(parts) != 4 || parts[0] != "remote" || parts[1] != "opensubsonic" {
			return "", false
		}
		if i == 0 {
			profile = parts[2]
		} else if parts[2] != profile {
			return "", false
		}
	}
	return profile, profile != ""
}

func remoteIDSuffix(path string) string {
	parts := strings.SplitN(path, ":", 4)
	if len(parts) != 4 {
		return path
	}
	return parts[3]
}

// --- playback queue lifecycle ---

func (m *Manager) startQueue(source model.QueueSource, tracks []model.Track, startIndex int) {
	m.mu.Lock()
	m.playbackPlaylist = cloneTracks(tracks)
	m.playbackQueueSource = source
	m.shuffleOrder = freshShuffle(len(m.playbackPlaylist))

	if startIndex < 0 {
		startIndex = 0
	}
	if startIndex >= len(m.playbackPlaylist) && len(m.playbackPlaylist) > 0 {
		startIndex = len(m.playbackPlaylist) - 1
	}
	m.mu.Unlock()

	m.b.Publish(bus.ClearPlayerCache{})
	m.playPlaybackTrack(startIndex, true)
}

func (m *Manager) play() {
	m.mu.Lock()
	hasPaused := m.hasPlayingIndex && m.playingIndex < len(m.playbackPlaylist)
	route := m.playbackRoute
	idx := m.playingIndex
	m.mu.Unlock()

	if !hasPaused {
		return
	}
	m.setPlayingFlag(true)
	if route == model.RouteCast {
		m.b.Publish(bus.CastPlay{})
	}
	m.b.Publish(bus.PlaylistIndicesChanged{PlayingIndex: idx})
}

func (m *Manager) setPlayingFlag(playing bool) {
	if playing {
		m.b.Publish(bus.Play{})
	} else {
		m.b.Publish(bus.Pause{})
	}
}

func (m *Manager) stop() {
	m.b.Publish(bus.Stop{})
	m.b.Publish(bus.ClearRuntimeOutputRateOverride{})
	m.b.Publish(bus.ClearPlayerCache{})

	m.mu.Lock()
	m.pendingRateSwitch = nil
	m.pendingRatePlayNow = false
	m.mu.Unlock()
}

// advance is the direct Next/Previous command path (spec.md §8): an empty
// playlist or a request with no successor is silent, it does not stop
// playback.
func (m *Manager) advance(direction int) {
	m.mu.Lock()
	next, ok := m.computeNextIndexLocked(direction)
	m.mu.Unlock()
	if !ok {
		return
	}
	m.playPlaybackTrack(next, direction > 0)
}

// advanceOrStop is used where running out of playlist means playback has
// genuinely ended (a finished track, a track going unavailable mid-play),
// so the lack of a successor is reported with a Stop.
func (m *Manager) advanceOrStop(direction int) {
	m.mu.Lock()
	next, ok := m.computeNextIndexLocked(direction)
	m.mu.Unlock()
	if !ok {
		m.b.Publish(bus.Stop{})
		return
	}
	m.playPlaybackTrack(next, direction > 0)
}

// computeNextIndexLocked finds the next playable index respecting playback
// order and repeat mode. Caller must hold m.mu.
func (m *Manager) computeNextIndexLocked(direction int) (int, bool) {
	n := len(m.playbackPlaylist)
	if n == 0 {
		return 0, false
	}
	if !m.hasPlayingIndex {
		return 0, true
	}

	visited := make(map[int]bool)
	idx := m.playingIndex
	for i := 0; i < n; i++ {
		idx = m.stepIndexLocked(idx, direction, n)
		if idx < 0 {
			if m.repeatMode == model.RepeatPlaylist {
				idx = 0
				if direction < 0 {
					idx = n - 1
				}
			} else {
				return 0, false
			}
		}
		if visited[idx] {
			return 0, false
		}
		visited[idx] = true
		if idx >= 0 && idx < n && !m.unavailableTrackIDs[m.playbackPlaylist[idx].ID] {
			return idx, true
		}
	}
	return 0, false
}

func (m *Manager) stepIndexLocked(idx, direction, n int) int {
	if m.playbackOrder == model.OrderShuffle && len(m.shuffleOrder) == n {
		pos := indexOf(m.shuffleOrder, idx)
		pos += direction
		if pos < 0 || pos >= n {
			return -1
		}
		return m.shuffleOrder[pos]
	}
	if m.playbackOrder == model.OrderRandom {
		return rand.Intn(n)
	}
	next := idx + direction
	if next < 0 || next >= n {
		return -1
	}
	return next
}

// playPlaybackTrack implements spec.md §4.D's play_playback_track(index, forward).
func (m *Manager) playPlaybackTrack(index int, forward bool) {
	m.mu.Lock()
	if len(m.playbackPlaylist) == 0 {
		m.mu.Unlock()
		m.b.Publish(bus.Stop{})
		return
	}
	if index < 0 || index >= len(m.playbackPlaylist) {
		m.mu.Unlock()
		return
	}
	track := m.playbackPlaylist[index]

	m.hasPendingStart = false
	m.pendingStartID = ""
	m.hasStartedTrack = false
	m.startedID = ""
	m.pendingRateSwitch = nil

	m.playingIndex = index
	m.hasPlayingIndex = true
	route := m.playbackRoute
	cachedAtZero := m.cachedAtZero[track.ID]
	m.mu.Unlock()

	m.setPlayingFlag(true)
	m.b.Publish(bus.PlaylistIndicesChanged{PlayingIndex: index})

	if route == model.RouteCast {
		m.mu.Lock()
		m.hasPendingStart = true
		m.pendingStartID = track.ID
		m.mu.Unlock()
		m.b.Publish(bus.CastLoadTrack{ID: track.ID, Path: track.Path, StartOffsetMS: 0})
		return
	}

	if cachedAtZero {
		m.b.Publish(bus.PlayTrackByID{ID: track.ID})
		return
	}

	m.b.Publish(bus.StopDecoding{})
	m.mu.Lock()
	m.cachedAtZero = make(map[string]bool)
	m.fullyCachedTrackIDs = make(map[string]bool)
	m.mu.Unlock()
	m.b.Publish(bus.ClearPlayerCache{})
	m.cacheTracks(true)
}

// cacheTracks implements spec.md §4.D's cache_tracks(play_immediately), the
// core prefetch algorithm.
func (m *Manager) cacheTracks(playImmediately bool) {
	m.mu.Lock()
	if m.pendingRateSwitch != nil {
		m.pendingRatePlayNow = m.pendingRatePlayNow || playImmediately
		m.mu.Unlock()
		return
	}
	if !m.hasPlayingIndex || len(m.playbackPlaylist) == 0 {
		m.mu.Unlock()
		return
	}
	first := m.playbackPlaylist[m.playingIndex]
	m.mu.Unlock()

	desiredFirstRate := m.desiredOutputRateForTrack(first)
	m.mu.Lock()
	currentRate := m.currentOutputRateHz
	m.mu.Unlock()
	if desiredFirstRate != 0 && desiredFirstRate != currentRate {
		m.requestRuntimeOutputRateSwitch(desiredFirstRate, playImmediately)
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	var batch []model.TrackIdentifier
	var segmentRate uint32
	haveSegmentRate := false
	n := len(m.playbackPlaylist)
	for i := 0; i < m.maxNumCachedTracks && i+m.playingIndex < n; i++ {
		idx := m.playingIndex + i
		track := m.playbackPlaylist[idx]
		if m.cachedAtZero[track.ID] {
			continue
		}
		if _, requested := m.requestedTrackOffsets[track.ID]; requested {
			continue
		}
		rate := m.desiredOutputRateForTrackLocked(track)
		if haveSegmentRate && rate != 0 && rate != segmentRate {
			break
		}
		if rate != 0 {
			segmentRate = rate
			haveSegmentRate = true
		}
		batch = append(batch, model.TrackIdentifier{
			ID:              track.ID,
			Path:            track.Path,
			PlayImmediately: i == 0 && playImmediately,
			StartOffsetMS:   0,
		})
	}

	if len(batch) == 0 {
		return
	}
	for _, t := range batch {
		m.requestedTrackOffsets[t.ID] = 0
	}
	m.b.Publish(bus.DecodeTracks{Batch: batch})
}

// desiredOutputRateForTrack implements spec.md §4.D's
// desired_output_rate_for_track(track).
func (m *Manager) desiredOutputRateForTrack(track model.Track) uint32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.desiredOutputRateForTrackLocked(track)
}

func (m *Manager) desiredOutputRateForTrackLocked(track model.Track) uint32 {
	if !m.sampleRateAuto || len(m.verifiedOutputRates) == 0 {
		return m.currentOutputRateHz
	}
	if strings.HasPrefix(track.Path, "remote:") {
		return m.currentOutputRateHz
	}

	source, ok := m.probedSourceRates[track.ID]
	if !ok {
		sf, err := m.probeLocked(track.Path)
		if err != nil {
			return m.currentOutputRateHz
		}
		source = sf
		m.probedSourceRates[track.ID] = source
	}

	for _, r := range m.verifiedOutputRates {
		if r == source {
			return r
		}
	}
	var smallestAbove uint32
	haveSmallest := false
	largest := m.verifiedOutputRates[0]
	for _, r := range m.verifiedOutputRates {
		if r > largest {
			largest = r
		}
		if r > source && (!haveSmallest || r < smallestAbove) {
			smallestAbove = r
			haveSmallest = true
		}
	}
	if haveSmallest {
		return smallestAbove
	}
	return largest
}

// probeLocked is a thin seam so desiredOutputRateForTrackLocked can be
// tested without a real ffprobe binary; it shells out via trackprobe when a
// Prober is configured.
func (m *Manager) probeLocked(path string) (uint32, error) {
	if m.prober == nil {
		return 0, errNoProber
	}
	sf, err := m.prober.Probe(context.Background(), path)
	if err != nil {
		return 0, err
	}
	return sf.SampleRateHz, nil
}

var errNoProber = errNoProberSentinel{}

type errNoProberSentinel struct{}

func (errNoProberSentinel) Error() string { return "playback: no prober configured" }

func (m *Manager) requestRuntimeOutputRateSwitch(rate uint32, playImmediately bool) {
	m.mu.Lock()
	m.pendingRateSwitch = &rate
	m.pendingRatePlayNow = playImmediately
	m.mu.Unlock()
	m.b.Publish(bus.SetRuntimeOutputRate{SampleRateHz: rate, Reason: "rate_adaptation"})
}

func (m *Manager) onAudioDeviceOpened(rateHz uint32) {
	m.mu.Lock()
	m.currentOutputRateHz = rateHz
	pending := m.pendingRateSwitch
	playNow := m.pendingRatePlayNow
	if pending == nil {
		m.mu.Unlock()
		return
	}
	if *pending == rateHz {
		m.pendingRateSwitch = nil
		m.pendingRatePlayNow = false
		m.mu.Unlock()
		m.cacheTracks(playNow)
		return
	}

	// one fallback attempt to the largest verified rate
	var fallback uint32
	if len(m.verifiedOutputRates) > 0 {
		fallback = m.verifiedOutputRates[0]
		for _, r := range m.verifiedOutputRates {
			if r > fallback {
				fallback = r
			}
		}
	}
	m.pendingRateSwitch = nil
	m.pendingRatePlayNow = false
	m.mu.Unlock()

	if fallback != 0 && fallback != rateHz {
		m.requestRuntimeOutputRateSwitch(fallback, playNow)
		return
	}
	// best-effort accept
	m.cacheTracks(playNow)
}

func (m *Manager) onTechnicalMetadataChanged(meta model.TechnicalMetadata) {
	m.mu.Lock()
	route := m.playbackRoute
	auto := m.sampleRateAuto
	hasPending := m.pendingRateSwitch != nil
	supported := containsRate(m.verifiedOutputRates, meta.SampleRateHz)
	m.mu.Unlock()

	if route != model.RouteLocal || !auto || hasPending || !supported {
		return
	}

	m.b.Publish(bus.ClearPlayerCache{})
	m.mu.Lock()
	m.cachedAtZero = make(map[string]bool)
	m.fullyCachedTrackIDs = make(map[string]bool)
	m.mu.Unlock()
	m.requestRuntimeOutputRateSwitch(meta.SampleRateHz, true)
}

func (m *Manager) onVerifiedRatesChanged(rates []uint32) {
	m.mu.Lock()
	m.verifiedOutputRates = append([]uint32(nil), rates...)
	m.mu.Unlock()
}

func containsRate(rates []uint32, r uint32) bool {
	for _, v := range rates {
		if v == r {
			return true
		}
	}
	return false
}

// --- audio engine feedback handlers ---

func (m *Manager) onTrackFinished(id string) {
	m.mu.Lock()
	current := m.currentPlayingIDLocked()
	if current != id {
		m.mu.Unlock()
		return
	}
	repeatTrack := m.repeatMode == model.RepeatTrack
	idx := m.playingIndex
	m.mu.Unlock()

	if repeatTrack {
		m.mu.Lock()
		delete(m.cachedAtZero, id)
		delete(m.fullyCachedTrackIDs, id)
		delete(m.requestedTrackOffsets, id)
		m.mu.Unlock()
		m.playPlaybackTrack(idx, true)
		return
	}
	m.advanceOrStop(1)
}

func (m *Manager) currentPlayingIDLocked() string {
	if !m.hasPlayingIndex || m.playingIndex >= len(m.playbackPlaylist) {
		return ""
	}
	return m.playbackPlaylist[m.playingIndex].ID
}

func (m *Manager) onTrackStarted(id string) {
	m.mu.Lock()
	if m.currentPlayingIDLocked() != id {
		m.mu.Unlock()
		return
	}
	m.lastSeekMS = lastSeekUnset
	m.startedID = id
	m.hasStartedTrack = true
	m.mu.Unlock()
}

func (m *Manager) onReadyForPlayback(id string) {
	m.mu.Lock()
	isCurrent := m.currentPlayingIDLocked() == id
	alreadyStarted := m.hasStartedTrack && m.startedID == id
	alreadyPending := m.hasPendingStart && m.pendingStartID == id
	if !isCurrent || alreadyStarted || alreadyPending {
		m.mu.Unlock()
		return
	}
	m.hasPendingStart = true
	m.pendingStartID = id
	m.mu.Unlock()

	m.b.Publish(bus.PlayTrackByID{ID: id})
}

func (m *Manager) onTrackCached(id string, offsetMS uint64) {
	m.mu.Lock()
	if offsetMS == 0 {
		m.cachedAtZero[id] = true
	}
	m.fullyCachedTrackIDs[id] = true
	delete(m.requestedTrackOffsets, id)

	pendingOrder := m.pendingOrderChange
	current := m.currentPlayingIDLocked()
	fullyCachedCurrent := m.fullyCachedTrackIDs[current]
	m.mu.Unlock()

	if pendingOrder != nil && id == current && fullyCachedCurrent {
		m.applyPendingOrderChange(*pendingOrder)
	}
}

func (m *Manager) onTrackEvicted(id string) {
	m.mu.Lock()
	delete(m.cachedAtZero, id)
	delete(m.fullyCachedTrackIDs, id)
	m.mu.Unlock()
}

func (m *Manager) seek(fraction float32) {
	if fraction < 0 {
		fraction = 0
	}
	if fraction > 1 {
		fraction = 1
	}

	m.mu.Lock()
	current := m.currentPlayingIDLocked()
	if current == "" {
		m.mu.Unlock()
		return
	}
	duration := m.probedDurationLocked(current)
	targetMS := uint64(float64(duration) * float64(fraction))
	if targetMS == m.lastSeekMS {
		m.mu.Unlock()
		return
	}
	m.lastSeekMS = targetMS
	route := m.playbackRoute
	path := m.trackPathLocked(current)
	m.mu.Unlock()

	if route == model.RouteCast {
		m.b.Publish(bus.CastSeekMs{Ms: targetMS})
		return
	}

	m.mu.Lock()
	delete(m.cachedAtZero, current)
	delete(m.fullyCachedTrackIDs, current)
	m.mu.Unlock()

	m.b.Publish(bus.StopDecoding{})
	m.b.Publish(bus.ClearPlayerCache{})
	m.b.Publish(bus.DecodeTracks{Batch: []model.TrackIdentifier{{
		ID:              current,
		Path:            path,
		PlayImmediately: true,
		StartOffsetMS:   targetMS,
	}}})
}

// probedDurationLocked is a best-effort duration lookup used only to turn a
// seek fraction into milliseconds; 0 if unknown (seek then targets 0ms). It
// must never block on ffprobe since it runs under m.mu, so it only
// consults whatever the Prober has already cached from an earlier Probe
// call made off the hot path.
func (m *Manager) probedDurationLocked(id string) uint64 {
	if m.prober == nil {
		return 0
	}
	path := m.trackPathLocked(id)
	sf, ok := m.prober.Cached(path)
	if !ok {
		return 0
	}
	return sf.DurationMS
}

func (m *Manager) trackPathLocked(id string) string {
	for _, t := range m.playbackPlaylist {
		if t.ID == id {
			return t.Path
		}
	}
	return ""
}

func (m *Manager) setVolume(v float32) {
	m.mu.Lock()
	route := m.playbackRoute
	m.mu.Unlock()
	if route == model.RouteCast {
		m.b.Publish(bus.CastSetVolume{Volume: v})
		return
	}
	m.b.Publish(bus.SetVolume{Volume: v})
}

func (m *Manager) changePlaybackOrder(order model.PlaybackOrder) {
	m.mu.Lock()
	m.playbackOrder = order
	if order == model.OrderShuffle {
		m.shuffleOrder = freshShuffle(len(m.playbackPlaylist))
	}
	playing := m.hasPlayingIndex
	current := m.currentPlayingIDLocked()
	fullyCached := playing && m.fullyCachedTrackIDs[current]
	m.mu.Unlock()

	if playing && fullyCached {
		m.applyPendingOrderChange(order)
		return
	}
	if playing {
		m.mu.Lock()
		o := order
		m.pendingOrderChange = &o
		m.mu.Unlock()
	}
}

func (m *Manager) applyPendingOrderChange(order model.PlaybackOrder) {
	m.mu.Lock()
	m.pendingOrderChange = nil
	current := m.currentPlayingIDLocked()
	for id := range m.fullyCachedTrackIDs {
		if id != current {
			delete(m.fullyCachedTrackIDs, id)
			delete(m.cachedAtZero, id)
		}
	}
	m.mu.Unlock()

	m.b.Publish(bus.StopDecoding{})
	m.b.Publish(bus.ClearNextTracks{})
	m.cacheTracks(false)
}

func (m *Manager) toggleRepeat() {
	m.mu.Lock()
	m.repeatMode = m.repeatMode.Next()
	mode := m.repeatMode
	m.mu.Unlock()
	m.b.Publish(bus.RepeatModeChanged{Mode: mode})
}

// --- remote / cast route transitions ---

func (m *Manager) onBackendConnectionStateChanged(profileID string, state model.ConnectionState) {
	if state != model.StateDisconnected {
		return
	}
	m.mu.Lock()
	var affected []string
	current := m.currentPlayingIDLocked()
	wasCurrentAffected := false
	for _, t := range m.playbackPlaylist {
		if strings.HasPrefix(t.Path, "remote:opensubsonic:"+profileID+":") {
			m.unavailableTrackIDs[t.ID] = true
			affected = append(affected, t.ID)
			if t.ID == current {
				wasCurrentAffected = true
			}
		}
	}
	m.mu.Unlock()

	if len(affected) == 0 {
		return
	}
	m.b.Publish(bus.TrackMetadataBatchUpdated{IDs: affected, Title: "Remote track unavailable"})
	for _, id := range affected {
		m.b.Publish(bus.TrackUnavailable{ID: id, Reason: "backend_disconnected"})
	}
	if wasCurrentAffected {
		m.advanceOrStop(1)
	}
}

// onRemoteLibrarySnapshotUpdated reconciles a freshly fetched remote library
// (spec.md §4.F/§4.D) into the queued playlist: any already-queued track
// bound to profileID that no longer appears in the remote library is marked
// unavailable, the same way a backend disconnect does.
func (m *Manager) onRemoteLibrarySnapshotUpdated(profileID string, tracks []model.Track) {
	known := make(map[string]bool, len(tracks))
	for _, t := range tracks {
		known[t.ID] = true
	}
	prefix := "remote:opensubsonic:" + profileID + ":"

	m.mu.Lock()
	var affected []string
	current := m.currentPlayingIDLocked()
	wasCurrentAffected := false
	for _, t := range m.playbackPlaylist {
		if m.unavailableTrackIDs[t.ID] || !strings.HasPrefix(t.Path, prefix) {
			continue
		}
		if !known[remoteIDSuffix(t.Path)] {
			m.unavailableTrackIDs[t.ID] = true
			affected = append(affected, t.ID)
			if t.ID == current {
				wasCurrentAffected = true
			}
		}
	}
	m.mu.Unlock()

	if len(affected) == 0 {
		return
	}
	m.b.Publish(bus.TrackMetadataBatchUpdated{IDs: affected, Title: "Remote track unavailable"})
	for _, id := range affected {
		m.b.Publish(bus.TrackUnavailable{ID: id, Reason: "removed_from_remote_library"})
	}
	if wasCurrentAffected {
		m.advanceOrStop(1)
	}
}

// onRemotePlaylistsSnapshotUpdated records which remote playlists profileID
// currently exposes. An empty snapshot (disconnect or profile removal)
// drops the cached write-back signature for a pure remote playlist bound to
// that profile, so reconnecting forces a fresh PushOpenSubsonicPlaylistUpdate
// instead of assuming the remote side still matches what was last pushed.
func (m *Manager) onRemotePlaylistsSnapshotUpdated(profileID string, playlistIDs []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.remotePlaylistIDs[profileID] = append([]string(nil), playlistIDs...)
	if len(playlistIDs) == 0 {
		if profile, pure := pureRemoteProfile(m.editingPlaylist); pure && profile == profileID {
			delete(m.remoteWritebackSignatures, m.activePlaylistID)
		}
	}
}

func (m *Manager) onCastConnectionStateChanged(state model.ConnectionState) {
	switch state {
	case model.StateConnected:
		m.mu.Lock()
		wasLocal := m.playbackRoute == model.RouteLocal
		playing := m.hasPlayingIndex
		current := m.currentPlayingIDLocked()
		path := m.trackPathLocked(current)
		m.playbackRoute = model.RouteCast
		m.mu.Unlock()

		if wasLocal && playing {
			m.b.Publish(bus.StopDecoding{})
			m.b.Publish(bus.ClearPlayerCache{})
			m.b.Publish(bus.CastLoadTrack{ID: current, Path: path, StartOffsetMS: 0})
			m.mu.Lock()
			m.hasPendingStart = true
			m.pendingStartID = current
			m.mu.Unlock()
		}
	case model.StateDisconnected:
		m.mu.Lock()
		wasPlaying := m.playbackRoute == model.RouteCast && m.hasPlayingIndex
		current := m.currentPlayingIDLocked()
		path := m.trackPathLocked(current)
		m.playbackRoute = model.RouteLocal
		m.mu.Unlock()

		if wasPlaying {
			m.b.Publish(bus.DecodeTracks{Batch: []model.TrackIdentifier{{
				ID:              current,
				Path:            path,
				PlayImmediately: true,
				StartOffsetMS:   0,
			}}})
		}
	}
}
