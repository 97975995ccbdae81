// Package cast defines the Cast Adapter boundary (spec.md §4.I): an opaque
// command/event contract the Playback Manager drives without knowing which
// concrete cast protocol is behind it.
package cast

import "context"

// Adapter is one connected cast-capable route. The Playback Manager only
// ever talks to this interface; a concrete protocol (Chromecast, AirPlay,
// DLNA, ...) implements it behind the scenes.
type Adapter interface {
	LoadTrack(ctx context.Context, id, path string, startOffsetMS uint64) error
	Play(ctx context.Context) error
	Pause(ctx context.Context) error
	Stop(ctx context.Context) error
	SeekMs(ctx context.Context, ms uint64) error
	SetVolume(ctx context.Context, volume float32) error
}
