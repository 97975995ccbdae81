package bus

import "github.com/arung-agamani/denpa-player/internal/model"

// Message is the tagged union carried by the bus (spec.md §6). Every
// concrete type below implements it and is a self-contained value (safe to
// clone, no pointers into another worker's state).
type Message interface {
	isMessage()
}

// kind is embedded into each message type to satisfy Message without
// per-type boilerplate.
type kind struct{}

func (kind) isMessage() {}

// --- Playback -----------------------------------------------------------

type Play struct{ kind }
type Pause struct{ kind }
type Stop struct{ kind }

type StartQueueRequest struct {
	kind
	Source     model.QueueSource
	Tracks     []model.Track
	StartIndex int
}

type Next struct{ kind }
type Previous struct{ kind }

type Seek struct {
	kind
	Fraction float32 // in [0,1]
}

type SetVolume struct {
	kind
	Volume float32
}

type PlayTrackByID struct {
	kind
	ID string
}

type ClearPlayerCache struct{ kind }
type ClearNextTracks struct{ kind }

type ReadyForPlayback struct {
	kind
	ID string
}

type TrackStarted struct {
	kind
	ID            string
	StartOffsetMS uint64
}

type TrackFinished struct {
	kind
	ID string
}

type PlaybackProgress struct {
	kind
	ElapsedMS uint64
	TotalMS   uint64
}

type TechnicalMetadataChanged struct {
	kind
	Meta model.TechnicalMetadata
}

type OutputPathChanged struct {
	kind
	TrackID string
	Path    string
}

// --- Audio ----------------------------------------------------------------

type DecodeTracks struct {
	kind
	Batch []model.TrackIdentifier
}

type StopDecoding struct{ kind }

type AudioPacketSamples struct {
	kind
	TrackID string
	Samples []float32
}

type AudioPacketHeader struct {
	kind
	TrackID         string
	PlayImmediately bool
	Technical       model.TechnicalMetadata
	StartOffsetMS   uint64
}

type AudioPacketFooter struct {
	kind
	TrackID string
}

type RequestDecodeChunk struct {
	kind
	RequestedSamples uint64
}

type TrackCached struct {
	kind
	ID            string
	StartOffsetMS uint64
}

type TrackEvicted struct {
	kind
	ID string
}

// --- Config -----------------------------------------------------------------

type ConfigLoaded struct {
	kind
	Snapshot ConfigSnapshot
}

type ConfigChanged struct {
	kind
	Deltas []model.DeltaEntry
}

type AudioDeviceOpened struct {
	kind
	StreamInfo model.StreamInfo
}

type OutputDeviceCapabilitiesChanged struct {
	kind
	VerifiedSampleRates []uint32
}

type SetRuntimeOutputRate struct {
	kind
	SampleRateHz uint32
	Reason       string
}

type ClearRuntimeOutputRateOverride struct{ kind }

type RuntimeOutputSampleRateChanged struct {
	kind
	SampleRateHz uint32
}

// ConfigSnapshot is the subset of config that travels over the bus. It is
// intentionally a plain value type distinct from internal/config.Config so
// the bus package has no dependency on the config package.
type ConfigSnapshot struct {
	OutputDeviceName       string
	SampleRateAuto         bool
	LowWatermarkSamples    uint64
	TargetBufferSamples    uint64
	RequestIntervalMS      uint64
	MaxNumCachedTracks     int
	DitherOnBitDepthReduce bool
	BitsPerSample          uint16
	ChannelCount           uint16
}

// --- Library / enrichment --------------------------------------------------

type RequestEnrichment struct {
	kind
	Entity   model.EnrichmentEntity
	Priority model.RequestPriority
}

type ReplaceEnrichmentPrefetchQueue struct {
	kind
	Entities []model.EnrichmentEntity
}

type ReplaceEnrichmentBackgroundQueue struct {
	kind
	Entities []model.EnrichmentEntity
}

type ClearEnrichmentCache struct{ kind }

type EnrichmentResult struct {
	kind
	Payload model.EnrichmentPayload
}

type EnrichmentCacheCleared struct {
	kind
	ClearedRows   int
	DeletedImages int
}

// --- Playlist editing -------------------------------------------------------

type LoadTrack struct {
	kind
	Path string
}

type LoadTracksBatch struct {
	kind
	Paths []string
}

type PasteTracks struct {
	kind
	Paths []string
}

type DeleteTracks struct {
	kind
	Indices []int
}

type ReorderTracks struct {
	kind
	Indices []int
	To      int
}

type UndoTrackListEdit struct{ kind }
type RedoTrackListEdit struct{ kind }

type TrackAdded struct {
	kind
	Track model.Track
}

type TracksInsertedBatch struct {
	kind
	Tracks []model.Track
}

type TracksInserted struct {
	kind
	Tracks   []model.Track
	InsertAt int
}

type ChangePlaybackOrder struct {
	kind
	Order model.PlaybackOrder
}

type ToggleRepeat struct{ kind }

type RepeatModeChanged struct {
	kind
	Mode model.RepeatMode
}

type ConfirmDetachRemotePlaylist struct {
	kind
	PlaylistID string
}

type PlaylistIndicesChanged struct {
	kind
	PlayingIndex int
}

type TrackUnavailable struct {
	kind
	ID     string
	Reason string
}

type TrackMetadataBatchUpdated struct {
	kind
	IDs   []string
	Title string
}

// --- Integration ------------------------------------------------------------

type UpsertBackendProfile struct {
	kind
	Profile    model.BackendProfileSnapshot
	Password   string // "" means keep existing
	ConnectNow bool
}

type RemoveBackendProfile struct {
	kind
	ProfileID string
}

type BackendSnapshotUpdated struct {
	kind
	Snapshot model.BackendProfileSnapshot
}

type BackendOperationFailed struct {
	kind
	ProfileID string
	Action    string
	Error     string
}

type PushOpenSubsonicPlaylistUpdate struct {
	kind
	ProfileID  string
	RemoteID   string
	LocalID    string
	SongIDs    []string
}

type OpenSubsonicPlaylistWritebackResult struct {
	kind
	LocalID string
	Success bool
	Error   string
}

type BackendConnectionStateChanged struct {
	kind
	ProfileID string
	State     model.ConnectionState
}

type RemoteLibrarySnapshotUpdated struct {
	kind
	ProfileID string
	Tracks    []model.Track
}

type RemotePlaylistsSnapshotUpdated struct {
	kind
	ProfileID   string
	PlaylistIDs []string
}

// --- Cast ---------------------------------------------------------------

type CastLoadTrack struct {
	kind
	ID            string
	Path          string
	StartOffsetMS uint64
}

type CastPlay struct{ kind }
type CastPause struct{ kind }
type CastStop struct{ kind }

type CastSeekMs struct {
	kind
	Ms uint64
}

type CastSetVolume struct {
	kind
	Volume float32
}

type CastConnectionStateChanged struct {
	kind
	State model.ConnectionState
}

