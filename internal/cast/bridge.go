package cast

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/arung-agamani/denpa-player/internal/bus"
	"github.com/arung-agamani/denpa-player/internal/model"
)

// Bridge subscribes to the bus's Cast* command messages and forwards them
// to whichever Adapter is currently active, publishing
// CastConnectionStateChanged as the adapter's state changes.
type Bridge struct {
	b       *bus.Bus
	recv    *bus.Receiver
	adapter Adapter
}

func NewBridge(b *bus.Bus, adapter Adapter) *Bridge {
	return &Bridge{b: b, adapter: adapter}
}

func (br *Bridge) Start(ctx context.Context) {
	br.recv = br.b.Subscribe("cast-bridge")
	go br.run(ctx)
}

func (br *Bridge) run(ctx context.Context) {
	defer br.recv.Unsubscribe()
	for {
		msg, ok := br.recv.Recv(ctx)
		if !ok {
			return
		}
		var err error
		switch v := msg.(type) {
		case bus.CastLoadTrack:
			err = br.adapter.LoadTrack(ctx, v.ID, v.Path, v.StartOffsetMS)
		case bus.CastPlay:
			err = br.adapter.Play(ctx)
		case bus.CastPause:
			err = br.adapter.Pause(ctx)
		case bus.CastStop:
			err = br.adapter.Stop(ctx)
		case bus.CastSeekMs:
			err = br.adapter.SeekMs(ctx, v.Ms)
		case bus.CastSetVolume:
			err = br.adapter.SetVolume(ctx, v.Volume)
		default:
			continue
		}
		if err != nil {
			slog.Warn("cast: command failed", "kind", fmt.Sprintf("%T", msg), "error", err)
			br.b.Publish(bus.CastConnectionStateChanged{State: model.StateError})
		}
	}
}
