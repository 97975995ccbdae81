// Package model holds the data types shared across the bus and every worker
// package (spec.md §3). Every value here must be safe to clone and pass by
// value across goroutines — no borrowed data, per spec.md §4.A.
package model

import "fmt"

// Track is a single playable item: either a local filesystem path or a
// remote URI. ID is opaque and stable within a playlist; Path may repeat
// across tracks (spec.md §3).
type Track struct {
	ID   string
	Path string
}

// PlaybackOrder controls how PlaybackQueue.Next() picks the next index.
type PlaybackOrder int

const (
	OrderDefault PlaybackOrder = iota
	OrderShuffle
	OrderRandom
)

func (o PlaybackOrder) String() string {
	switch o {
	case OrderShuffle:
		return "shuffle"
	case OrderRandom:
		return "random"
	default:
		return "default"
	}
}

// RepeatMode controls what happens when the queue is exhausted.
type RepeatMode int

const (
	RepeatOff RepeatMode = iota
	RepeatPlaylist
	RepeatTrack
)

func (r RepeatMode) Next() RepeatMode {
	switch r {
	case RepeatOff:
		return RepeatPlaylist
	case RepeatPlaylist:
		return RepeatTrack
	default:
		return RepeatOff
	}
}

func (r RepeatMode) String() string {
	switch r {
	case RepeatPlaylist:
		return "playlist"
	case RepeatTrack:
		return "track"
	default:
		return "off"
	}
}

// QueueSource tags where a PlaybackQueue was built from.
type QueueSource struct {
	IsLibrary  bool
	PlaylistID string
}

func LibrarySource() QueueSource { return QueueSource{IsLibrary: true} }

func PlaylistSource(id string) QueueSource { return QueueSource{PlaylistID: id} }

// PlaybackRoute selects which sink playback is mirrored to.
type PlaybackRoute int

const (
	RouteLocal PlaybackRoute = iota
	RouteCast
)

// AudioEntryKind discriminates the tagged union stored in the sample deque
// (spec.md §3, AudioQueueEntry).
type AudioEntryKind int

const (
	EntrySamples AudioEntryKind = iota
	EntryHeader
	EntryFooter
)

// AudioQueueEntry is one slot in the audio engine's sample deque. Only the
// fields relevant to Kind are populated; this mirrors a Rust enum's payload
// variants as the idiomatic Go tagged-struct rendering spec.md §9 calls for.
type AudioQueueEntry struct {
	Kind Kind
	// Samples: a chunk of channel-interleaved f32 PCM. Each f32 value (one
	// channel of one frame) counts as one virtual index step, so a stereo
	// frame occupies two steps.
	Samples []float32

	// Header / Footer fields.
	TrackID         string
	PlayImmediately bool
	StartOffsetMS   uint64
	Technical       TechnicalMetadata
}

// Kind re-exports AudioEntryKind under the name used by AudioQueueEntry.Kind
// for readability at call sites (model.EntrySamples etc.).
type Kind = AudioEntryKind

// Len returns how many virtual-index steps this entry occupies: each f32
// value in Samples counts 1 (a stereo frame counts 2), a Header/Footer
// marker counts 1.
func (e AudioQueueEntry) Len() uint64 {
	if e.Kind == EntrySamples {
		return uint64(len(e.Samples))
	}
	return 1
}

// TrackIndex records the cached virtual-position span of a decoded track
// inside the sample deque (spec.md §3).
type TrackIndex struct {
	Start         uint64
	End           uint64 // only meaningful when EndValid
	EndValid      bool
	StartOffsetMS uint64
	Technical     TechnicalMetadata
}

// TechnicalMetadata describes a track's decoded audio format.
type TechnicalMetadata struct {
	SampleRateHz  uint32
	ChannelCount  uint16
	BitsPerSample uint16
	DurationMS    uint64
}

// OutputConfigSignature determines whether the output device must be
// reopened (spec.md §3): equality is the whole contract.
type OutputConfigSignature struct {
	DeviceName             string // canonicalized; "" means "system default"
	SampleRateHz           uint32
	ChannelCount           uint16
	BitsPerSample          uint16
	DitherOnBitDepthReduce bool
}

func (s OutputConfigSignature) Equal(o OutputConfigSignature) bool {
	return s == o
}

func (s OutputConfigSignature) String() string {
	return fmt.Sprintf("%s@%dHz/%dch/%dbit(dither=%v)", s.DeviceName, s.SampleRateHz, s.ChannelCount, s.BitsPerSample, s.DitherOnBitDepthReduce)
}

// StreamInfo is what the audio device reports back after opening.
type StreamInfo struct {
	Signature OutputConfigSignature
}

// TrackIdentifier is one entry of a DecodeTracks batch (spec.md §6).
type TrackIdentifier struct {
	ID              string
	Path            string
	PlayImmediately bool
	StartOffsetMS   uint64
}

// EnrichmentEntityKind discriminates Artist vs Album enrichment subjects.
type EnrichmentEntityKind int

const (
	EntityArtist EnrichmentEntityKind = iota
	EntityAlbum
)

// EnrichmentEntity identifies an enrichment subject (spec.md §3).
type EnrichmentEntity struct {
	Kind        EnrichmentEntityKind
	Name        string
	AlbumArtist string // only meaningful for EntityAlbum
}

// Fingerprint is the cache key for an EnrichmentEntity.
func (e EnrichmentEntity) Fingerprint() string {
	if e.Kind == EntityAlbum {
		return "album|" + normalizeFingerprint(e.AlbumArtist) + "|" + normalizeFingerprint(e.Name)
	}
	return "artist|" + normalizeFingerprint(e.Name)
}

func normalizeFingerprint(s string) string {
	return s
}

// EnrichmentStatus is the outcome of attempting to enrich an entity.
type EnrichmentStatus int

const (
	StatusReady EnrichmentStatus = iota
	StatusNotFound
	StatusError
	StatusDisabled
)

// EnrichmentErrorKind classifies a StatusError outcome (spec.md §7).
type EnrichmentErrorKind int

const (
	ErrNone EnrichmentErrorKind = iota
	ErrTimeout
	ErrRateLimited
	ErrBudgetExhausted
	ErrHard
)

func (k EnrichmentErrorKind) String() string {
	switch k {
	case ErrTimeout:
		return "timeout"
	case ErrRateLimited:
		return "rate_limit"
	case ErrBudgetExhausted:
		return "budget_exhausted"
	case ErrHard:
		return "hard"
	default:
		return "none"
	}
}

// EnrichmentLane is the priority class a request was dispatched under.
type EnrichmentLane int

const (
	LaneDetail EnrichmentLane = iota
	LaneVisiblePrefetch
	LaneBackgroundWarm
)

// Priority returns lower-is-more-urgent ordinal used for cascade decisions.
func (l EnrichmentLane) Priority() int { return int(l) }

// Higher returns true if l outranks o (Detail > VisiblePrefetch > BackgroundWarm).
func (l EnrichmentLane) Higher(o EnrichmentLane) bool { return l.Priority() < o.Priority() }

// RequestPriority is the caller-facing priority used by RequestEnrichment
// (spec.md §6); it maps 1:1 onto a subset of EnrichmentLane.
type RequestPriority int

const (
	PriorityInteractive RequestPriority = iota
	PriorityPrefetch
)

func (p RequestPriority) Lane() EnrichmentLane {
	if p == PriorityInteractive {
		return LaneDetail
	}
	return LaneVisiblePrefetch
}

// EnrichmentPayload is the result delivered for one entity (spec.md §3).
type EnrichmentPayload struct {
	Entity      EnrichmentEntity
	Status      EnrichmentStatus
	Blurb       string
	ImagePath   string
	SourceName  string
	SourceURL   string
	ErrorKind   EnrichmentErrorKind
	AttemptKind string
}

// DeltaEntry is one changed configuration key, carried by ConfigChanged.
type DeltaEntry struct {
	Key      string
	OldValue string
	NewValue string
}

// BackendKind enumerates the remote backend adapter types the Integration
// Manager can hold. Only OpenSubsonic has a concrete adapter in this repo
// (spec.md Non-goals exclude a specific wire format from the manager's own
// code, but the adapter boundary still needs a concrete implementation to be
// a complete repo — see SPEC_FULL.md §4.F+).
type BackendKind int

const (
	BackendOpenSubsonic BackendKind = iota
)

// ConnectionState is shared by both the Integration Manager's remote
// backends and the Cast Adapter (spec.md §4.F, §4.I).
type ConnectionState int

const (
	StateDisconnected ConnectionState = iota
	StateDiscovering
	StateConnecting
	StateConnected
	StateError
)

func (s ConnectionState) String() string {
	switch s {
	case StateDiscovering:
		return "discovering"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateError:
		return "error"
	default:
		return "disconnected"
	}
}

// BackendProfileSnapshot is the Integration Manager's view of one configured
// remote backend (spec.md §4.F).
type BackendProfileSnapshot struct {
	ProfileID   string
	Kind        BackendKind
	BaseURL     string
	Username    string
	State       ConnectionState
	LastError   string
	SnapshotVer uint64
}

// RemoteTrackRef encodes a track URI bound to a remote backend profile
// (spec.md GLOSSARY "Pure remote playlist"): "remote:opensubsonic:<profile>:<remote_id>".
func RemoteTrackRef(profileID, remoteID string) string {
	return "remote:opensubsonic:" + profileID + ":" + remoteID
}
