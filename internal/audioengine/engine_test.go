package audioengine

import (
	"context"
	"testing"
	"time"

	"github.com/arung-agamani/denpa-player/internal/audioengine/devicesim"
	"github.com/arung-agamani/denpa-player/internal/bus"
	"github.com/arung-agamani/denpa-player/internal/model"
)

func newTestEngine(t *testing.T) (*Engine, *bus.Bus) {
	t.Helper()
	b := bus.New(32)
	e := New(b, &devicesim.NullDevice{})
	return e, b
}

func TestRenderPlaysHeaderSamplesFooterInOrder(t *testing.T) {
	e, b := newTestEngine(t)
	recv := b.Subscribe("observer")
	defer recv.Unsubscribe()

	e.handle(bus.AudioPacketHeader{TrackID: "t1", PlayImmediately: true, StartOffsetMS: 0})
	e.handle(bus.AudioPacketSamples{TrackID: "t1", Samples: []float32{0.1, 0.2, 0.3, 0.4}})
	e.handle(bus.AudioPacketFooter{TrackID: "t1"})

	out := make([]float32, 2)
	n := e.render(out)
	if n != 2 {
		t.Fatalf("render n = %d, want 2", n)
	}
	if out[0] != 0.1 || out[1] != 0.2 {
		t.Errorf("out = %v, want [0.1 0.2]", out)
	}

	n = e.render(out)
	if n != 2 {
		t.Fatalf("render n = %d, want 2", n)
	}
	if out[0] != 0.3 || out[1] != 0.4 {
		t.Errorf("out = %v, want [0.3 0.4]", out)
	}

	// the footer entry stops playback and zero-fills the remainder of this call.
	out = make([]float32, 4)
	n = e.render(out)
	if n != 4 {
		t.Fatalf("render n = %d, want 4 (zero-filled)", n)
	}
	for i, s := range out {
		if s != 0 {
			t.Errorf("out[%d] = %v, want 0 after footer", i, s)
		}
	}
	if e.isPlaying.Load() {
		t.Error("isPlaying should be false after the footer entry is consumed")
	}

	var sawStarted, sawFinished bool
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	for {
		msg, ok := recv.Recv(ctx)
		if !ok {
			break
		}
		switch msg.(type) {
		case bus.TrackStarted:
			sawStarted = true
		case bus.TrackFinished:
			sawFinished = true
		}
	}
	if !sawStarted {
		t.Error("expected a TrackStarted publish")
	}
	if !sawFinished {
		t.Error("expected a TrackFinished publish")
	}
}

func TestRenderSilentWhenNotPlaying(t *testing.T) {
	e, _ := newTestEngine(t)
	out := []float32{1, 1, 1}
	n := e.render(out)
	if n != len(out) {
		t.Fatalf("render n = %d, want %d", n, len(out))
	}
	for i, s := range out {
		if s != 0 {
			t.Errorf("out[%d] = %v, want 0 when not playing", i, s)
		}
	}
}

func TestSetVolumeClampsToUnitRange(t *testing.T) {
	e, _ := newTestEngine(t)
	e.setVolume(1.5)
	if v := e.volume(); v != 1 {
		t.Errorf("volume = %v, want clamped to 1", v)
	}
	e.setVolume(-0.5)
	if v := e.volume(); v != 0 {
		t.Errorf("volume = %v, want clamped to 0", v)
	}
	e.setVolume(0.3)
	if v := e.volume(); v != 0.3 {
		t.Errorf("volume = %v, want 0.3", v)
	}
}

func TestApplyVolumeAndQuantizeScalesFloat32WhenNoBitDepthReduction(t *testing.T) {
	e, _ := newTestEngine(t)
	e.setVolume(0.5)
	samples := []float32{1, -1, 0.5}
	e.applyVolumeAndQuantize(samples)
	want := []float32{0.5, -0.5, 0.25}
	for i := range want {
		if samples[i] != want[i] {
			t.Errorf("samples[%d] = %v, want %v", i, samples[i], want[i])
		}
	}
}

func TestApplyVolumeAndQuantizeReducesPrecisionAt16Bits(t *testing.T) {
	e, _ := newTestEngine(t)
	e.signature.BitsPerSample = 16
	e.setVolume(1.0)

	samples := []float32{1, -1, 0}
	e.applyVolumeAndQuantize(samples)

	if samples[0] <= 0.99999 || samples[0] > 1 {
		t.Errorf("samples[0] = %v, want close to 1", samples[0])
	}
	if samples[1] >= -0.99999 || samples[1] < -1 {
		t.Errorf("samples[1] = %v, want close to -1", samples[1])
	}
}

func TestSelectConfigPrefersExactChannelAndRateMatch(t *testing.T) {
	configs := []devicesim.SupportedConfig{
		{
			Name:            "default",
			MinSampleRateHz: 8000,
			MaxSampleRateHz: 192000,
			ChannelCounts:   []uint16{1, 2},
			Formats:         []devicesim.SampleFormat{devicesim.FormatFloat32, devicesim.FormatI16},
		},
	}
	requested := model.OutputConfigSignature{SampleRateHz: 44100, ChannelCount: 2}

	resolved, format, ok := selectConfig(requested, configs, "default")
	if !ok {
		t.Fatal("selectConfig returned ok=false")
	}
	if resolved.SampleRateHz != 44100 {
		t.Errorf("SampleRateHz = %d, want 44100", resolved.SampleRateHz)
	}
	if resolved.ChannelCount != 2 {
		t.Errorf("ChannelCount = %d, want 2", resolved.ChannelCount)
	}
	if format != devicesim.FormatFloat32 {
		t.Errorf("format = %v, want FormatFloat32 (lowest format score)", format)
	}
}

func TestSelectConfigFallsBackToNearestRateWhenOutOfRange(t *testing.T) {
	configs := []devicesim.SupportedConfig{
		{
			Name:            "default",
			MinSampleRateHz: 44100,
			MaxSampleRateHz: 48000,
			ChannelCounts:   []uint16{2},
			Formats:         []devicesim.SampleFormat{devicesim.FormatFloat32},
		},
	}
	requested := model.OutputConfigSignature{SampleRateHz: 192000, ChannelCount: 2}

	resolved, _, ok := selectConfig(requested, configs, "default")
	if !ok {
		t.Fatal("selectConfig returned ok=false")
	}
	if resolved.SampleRateHz != 48000 {
		t.Errorf("SampleRateHz = %d, want 48000 (nearest ladder rate within range)", resolved.SampleRateHz)
	}
}

func TestSelectConfigReturnsFalseWhenNoConfigsOffered(t *testing.T) {
	_, _, ok := selectConfig(model.OutputConfigSignature{}, nil, "default")
	if ok {
		t.Error("selectConfig should return ok=false with no configs")
	}
}

func TestNearestRateClampsOutsideStandardLadder(t *testing.T) {
	if got := nearestRate(192000, 8000, 48000); got != 48000 {
		t.Errorf("nearestRate = %d, want nearest ladder rate within range (48000)", got)
	}
	if got := nearestRate(1000, 8000, 16000); got != 8000 {
		t.Errorf("nearestRate = %d, want clamp to min 8000 when no ladder rate fits", got)
	}
	if got := nearestRate(1000, 8000, 48000); got != 44100 {
		t.Errorf("nearestRate = %d, want nearest ladder rate within range (44100)", got)
	}
	if got := nearestRate(44100, 8000, 48000); got != 44100 {
		t.Errorf("nearestRate = %d, want unchanged when within range", got)
	}
}

func TestOnClearNextTracksKeepsOnlyCurrentTrack(t *testing.T) {
	e, _ := newTestEngine(t)
	e.handle(bus.AudioPacketHeader{TrackID: "t1", PlayImmediately: true})
	e.handle(bus.AudioPacketSamples{TrackID: "t1", Samples: []float32{0.1}})
	e.handle(bus.AudioPacketFooter{TrackID: "t1"})
	e.handle(bus.AudioPacketHeader{TrackID: "t2", PlayImmediately: false})
	e.handle(bus.AudioPacketSamples{TrackID: "t2", Samples: []float32{0.2}})
	e.handle(bus.AudioPacketFooter{TrackID: "t2"})

	e.onClearNextTracks()

	e.mu.Lock()
	_, stillCached := e.cachedTrackIndices["t2"]
	e.mu.Unlock()
	if stillCached {
		t.Error("t2 should have been dropped by onClearNextTracks")
	}
}

func TestOnClearPlayerCacheResetsAllState(t *testing.T) {
	e, _ := newTestEngine(t)
	e.handle(bus.AudioPacketHeader{TrackID: "t1", PlayImmediately: true})
	e.handle(bus.AudioPacketSamples{TrackID: "t1", Samples: []float32{0.1, 0.2}})

	e.onClearPlayerCache()

	if e.queueStartPosition.Load() != 0 || e.queueEndPosition.Load() != 0 {
		t.Error("queue positions should reset to 0")
	}
	e.mu.Lock()
	n := e.queue.Len()
	curr := e.currentTrackID
	e.mu.Unlock()
	if n != 0 {
		t.Errorf("queue length = %d, want 0", n)
	}
	if curr != "" {
		t.Errorf("currentTrackID = %q, want empty", curr)
	}
}
