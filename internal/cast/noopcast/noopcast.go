// Package noopcast is a loopback cast.Adapter: it accepts every command and
// logs it, used when no real cast route is connected so the bridge always
// has something to dispatch to.
package noopcast

import (
	"context"
	"log/slog"
)

type Adapter struct{}

func New() *Adapter { return &Adapter{} }

func (a *Adapter) LoadTrack(ctx context.Context, id, path string, startOffsetMS uint64) error {
	slog.Debug("noopcast: load track", "id", id, "path", path, "start_offset_ms", startOffsetMS)
	return nil
}

func (a *Adapter) Play(ctx context.Context) error {
	slog.Debug("noopcast: play")
	return nil
}

func (a *Adapter) Pause(ctx context.Context) error {
	slog.Debug("noopcast: pause")
	return nil
}

func (a *Adapter) Stop(ctx context.Context) error {
	slog.Debug("noopcast: stop")
	return nil
}

func (a *Adapter) SeekMs(ctx context.Context, ms uint64) error {
	slog.Debug("noopcast: seek", "ms", ms)
	return nil
}

func (a *Adapter) SetVolume(ctx context.Context, volume float32) error {
	slog.Debug("noopcast: set volume", "volume", volume)
	return nil
}
