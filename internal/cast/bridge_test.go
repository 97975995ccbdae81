package cast

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/arung-agamani/denpa-player/internal/bus"
	"github.com/arung-agamani/denpa-player/internal/model"
)

type fakeAdapter struct {
	playErr  error
	lastLoad struct {
		id, path string
		offset   uint64
	}
	playCalled int
}

func (f *fakeAdapter) LoadTrack(ctx context.Context, id, path string, startOffsetMS uint64) error {
	f.lastLoad.id, f.lastLoad.path, f.lastLoad.offset = id, path, startOffsetMS
	return nil
}
func (f *fakeAdapter) Play(ctx context.Context) error {
	f.playCalled++
	return f.playErr
}
func (f *fakeAdapter) Pause(ctx context.Context) error               { return nil }
func (f *fakeAdapter) Stop(ctx context.Context) error                { return nil }
func (f *fakeAdapter) SeekMs(ctx context.Context, ms uint64) error   { return nil }
func (f *fakeAdapter) SetVolume(ctx context.Context, v float32) error { return nil }

func TestBridgeDispatchesLoadTrack(t *testing.T) {
	b := bus.New(8)
	fake := &fakeAdapter{}
	br := NewBridge(b, fake)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	br.Start(ctx)
	time.Sleep(10 * time.Millisecond) // let the subscriber register

	b.Publish(bus.CastLoadTrack{ID: "track-1", Path: "/music/a.flac", StartOffsetMS: 500})
	time.Sleep(20 * time.Millisecond)

	if fake.lastLoad.id != "track-1" || fake.lastLoad.path != "/music/a.flac" || fake.lastLoad.offset != 500 {
		t.Errorf("adapter did not receive the expected LoadTrack call: %+v", fake.lastLoad)
	}
}

func TestBridgePublishesErrorStateOnAdapterFailure(t *testing.T) {
	b := bus.New(8)
	fake := &fakeAdapter{playErr: errors.New("cast device unreachable")}
	br := NewBridge(b, fake)

	recv := b.Subscribe("test-observer")
	defer recv.Unsubscribe()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	br.Start(ctx)
	time.Sleep(10 * time.Millisecond)

	b.Publish(bus.CastPlay{})

	recvCtx, recvCancel := context.WithTimeout(context.Background(), time.Second)
	defer recvCancel()
	msg, ok := recv.Recv(recvCtx)
	if !ok {
		t.Fatal("did not observe any bus message after a failing Play")
	}
	if _, isEcho := msg.(bus.CastPlay); isEcho {
		// The observer also receives the CastPlay command published above.
		msg, ok = recv.Recv(recvCtx)
		if !ok {
			t.Fatal("did not observe a bus message after the echoed CastPlay")
		}
	}
	stateChange, isStateChange := msg.(bus.CastConnectionStateChanged)
	if !isStateChange {
		t.Fatalf("got %T, want CastConnectionStateChanged", msg)
	}
	if stateChange.State != model.StateError {
		t.Errorf("State = %v, want StateError", stateChange.State)
	}
	if fake.playCalled != 1 {
		t.Errorf("adapter.Play called %d times, want 1", fake.playCalled)
	}
}
