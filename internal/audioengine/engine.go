// Package audioengine implements the Audio Output Engine (spec.md §4.B):
// it owns the decoded sample ring, drives the device callback, reports
// progress and track edges, and applies volume, dither, and format
// conversion. State shape is one mutex for the deque + cache plus atomics
// for the hot cursors, built around the real-time constraint that the
// callback goroutine must never block on anything but this mutex.
package audioengine

import (
	"container/list"
	"context"
	"log/slog"
	"math"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/arung-agamani/denpa-player/internal/audioengine/devicesim"
	"github.com/arung-agamani/denpa-player/internal/audioengine/dither"
	"github.com/arung-agamani/denpa-player/internal/bus"
	"github.com/arung-agamani/denpa-player/internal/model"
)

const minRequestIntervalMS = 20

var verifiedFallbackRates = []uint32{44100, 48000, 88200, 96000, 176400, 192000}

// Engine is the Audio Output Engine described in spec.md §4.B.
type Engine struct {
	b    *bus.Bus
	recv *bus.Receiver

	device devicesim.Device

	// queue + cache state, guarded by mu. The real-time render path takes
	// this lock for the minimum time needed to copy/consume entries.
	mu                 sync.Mutex
	queue              *list.List // of model.AudioQueueEntry
	cachedTrackIndices map[string]model.TrackIndex
	currentTrackID     string
	hasPendingStart     bool
	pendingStartTrackID string

	// hot cursors, lock-free for the callback path.
	queueStartPosition   atomic.Uint64
	queueEndPosition     atomic.Uint64
	currentTrackPosition atomic.Uint64
	isPlaying            atomic.Bool
	volumeBits           atomic.Uint32

	// progress bookkeeping.
	trackStartPosition atomic.Uint64 // virtual index where current track's audio begins
	trackStartOffsetMS atomic.Uint64

	// output configuration, guarded by cfgMu (cold path: only touched on
	// config/device changes, never from the render callback).
	cfgMu         sync.Mutex
	signature     model.OutputConfigSignature
	watermark     watermarkConfig
	stopStream    func()
	openSampleRateHz uint32
	openChannels     uint16

	rng *dither.Generator
}

type watermarkConfig struct {
	requestIntervalMS   uint64
	lowWatermarkSamples uint64
	targetBufferSamples uint64
}

// New constructs an Engine with no device open and sane default watermarks.
func New(b *bus.Bus, device devicesim.Device) *Engine {
	volBits := atomic.Uint32{}
	volBits.Store(math.Float32bits(1.0))
	e := &Engine{
		b:                  b,
		device:             device,
		queue:              list.New(),
		cachedTrackIndices: make(map[string]model.TrackIndex),
		volumeBits:         volBits,
		rng:                dither.NewGenerator(0x9E3779B97F4A7C15),
		watermark: watermarkConfig{
			requestIntervalMS:   250,
			lowWatermarkSamples: 44100 * 2,
			targetBufferSamples: 44100 * 8,
		},
	}
	return e
}

// Start subscribes to the bus and launches the engine's three loops: the
// message-handling loop, the prefetch watermark loop, and the progress
// loop.
func (e *Engine) Start(ctx context.Context) {
	e.recv = e.b.Subscribe("audioengine")
	go e.runMessageLoop(ctx)
	go e.runWatermarkLoop(ctx)
	go e.runProgressLoop(ctx)
}

func (e *Engine) runMessageLoop(ctx context.Context) {
	defer e.recv.Unsubscribe()
	for {
		msg, ok := e.recv.Recv(ctx)
		if !ok {
			return
		}
		e.handle(msg)
	}
}

func (e *Engine) handle(msg bus.Message) {
	switch m := msg.(type) {
	case bus.AudioPacketHeader:
		e.onHeader(m)
	case bus.AudioPacketSamples:
		e.onSamples(m)
	case bus.AudioPacketFooter:
		e.onFooter(m)
	case bus.PlayTrackByID:
		e.onPlayTrackByID(m.ID)
	case bus.ClearNextTracks:
		e.onClearNextTracks()
	case bus.ClearPlayerCache:
		e.onClearPlayerCache()
	case bus.ConfigLoaded:
		e.onConfigSnapshot(m.Snapshot)
	case bus.ConfigChanged:
		e.onConfigDeltas(m.Deltas)
	case bus.RuntimeOutputSampleRateChanged:
		e.onRuntimeRateChanged(m.SampleRateHz)
	case bus.Play:
		e.isPlaying.Store(true)
	case bus.Pause:
		e.isPlaying.Store(false)
	case bus.Stop:
		e.isPlaying.Store(false)
		e.clearBootstrap()
	case bus.SetVolume:
		e.setVolume(m.Volume)
	}
}

func (e *Engine) setVolume(v float32) {
	if v < 0 {
		v = 0
	}
	if v > 1 {
		v = 1
	}
	e.volumeBits.Store(math.Float32bits(v))
}

func (e *Engine) volume() float32 {
	return math.Float32frombits(e.volumeBits.Load())
}

func (e *Engine) clearBootstrap() {
	e.mu.Lock()
	e.hasPendingStart = false
	e.pendingStartTrackID = ""
	e.mu.Unlock()
}

// --- message handlers: queue mutation (spec.md §4.B "Messages handled") ---

func (e *Engine) onHeader(m bus.AudioPacketHeader) {
	e.mu.Lock()
	startIdx := e.queueEndPosition.Load()
	e.queue.PushBack(model.AudioQueueEntry{
		Kind:            model.EntryHeader,
		TrackID:         m.TrackID,
		PlayImmediately: m.PlayImmediately,
		StartOffsetMS:   m.StartOffsetMS,
		Technical:       m.Technical,
	})
	e.queueEndPosition.Add(1)
	e.cachedTrackIndices[m.TrackID] = model.TrackIndex{
		Start:         startIdx,
		EndValid:      false,
		StartOffsetMS: m.StartOffsetMS,
		Technical:     m.Technical,
	}
	if m.PlayImmediately {
		e.currentTrackID = m.TrackID
		e.currentTrackPosition.Store(startIdx)
		e.trackStartPosition.Store(startIdx)
		e.trackStartOffsetMS.Store(m.StartOffsetMS)
		e.hasPendingStart = true
		e.pendingStartTrackID = m.TrackID
		e.isPlaying.Store(false)
	}
	e.mu.Unlock()

	if m.PlayImmediately {
		e.b.Publish(bus.TechnicalMetadataChanged{Meta: m.Technical})
		e.b.Publish(bus.OutputPathChanged{TrackID: m.TrackID})
	}
}

func (e *Engine) onSamples(m bus.AudioPacketSamples) {
	e.mu.Lock()
	e.queue.PushBack(model.AudioQueueEntry{Kind: model.EntrySamples, Samples: m.Samples})
	e.queueEndPosition.Add(uint64(len(m.Samples)))
	shouldStart := e.hasPendingStart && e.pendingStartTrackID == m.TrackID && e.currentTrackID == m.TrackID
	if shouldStart {
		e.hasPendingStart = false
	}
	e.mu.Unlock()

	if shouldStart {
		e.isPlaying.Store(true)
	}
}

func (e *Engine) onFooter(m bus.AudioPacketFooter) {
	e.mu.Lock()
	footerIdx := e.queueEndPosition.Load()
	e.queue.PushBack(model.AudioQueueEntry{Kind: model.EntryFooter, TrackID: m.TrackID})
	e.queueEndPosition.Add(1)
	idx, ok := e.cachedTrackIndices[m.TrackID]
	if ok {
		idx.End = footerIdx
		idx.EndValid = true
		e.cachedTrackIndices[m.TrackID] = idx
	}
	isCurrentlyPlaying := e.currentTrackID == m.TrackID && e.isPlaying.Load()
	e.mu.Unlock()

	e.b.Publish(bus.TrackCached{ID: m.TrackID, StartOffsetMS: idx.StartOffsetMS})
	if m.TrackID != e.currentTrackID || !isCurrentlyPlaying {
		e.b.Publish(bus.ReadyForPlayback{ID: m.TrackID})
	}
}

func (e *Engine) onPlayTrackByID(id string) {
	e.mu.Lock()
	idx, ok := e.cachedTrackIndices[id]
	start := e.queueStartPosition.Load()
	if ok && idx.Start >= start {
		e.currentTrackID = id
		e.currentTrackPosition.Store(idx.Start)
		e.trackStartPosition.Store(idx.Start)
		e.trackStartOffsetMS.Store(idx.StartOffsetMS)
		e.mu.Unlock()
		e.isPlaying.Store(true)
		return
	}
	e.mu.Unlock()
	e.b.Publish(bus.TrackEvicted{ID: id})
}

func (e *Engine) onClearNextTracks() {
	e.mu.Lock()
	defer e.mu.Unlock()

	current := e.currentTrackID
	kept := list.New()
	truncated := false
	for el := e.queue.Front(); el != nil; el = el.Next() {
		entry := el.Value.(model.AudioQueueEntry)
		if truncated {
			continue
		}
		kept.PushBack(entry)
		if entry.Kind == model.EntryFooter && entry.TrackID == current {
			truncated = true
		}
	}
	e.queue = kept
	// recompute queueEndPosition from kept entries, anchored at queueStartPosition
	pos := e.queueStartPosition.Load()
	for el := kept.Front(); el != nil; el = el.Next() {
		pos += el.Value.(model.AudioQueueEntry).Len()
	}
	e.queueEndPosition.Store(pos)

	for id := range e.cachedTrackIndices {
		if id != current {
			delete(e.cachedTrackIndices, id)
		}
	}
}

func (e *Engine) onClearPlayerCache() {
	e.mu.Lock()
	e.queue = list.New()
	e.cachedTrackIndices = make(map[string]model.TrackIndex)
	e.currentTrackID = ""
	e.hasPendingStart = false
	e.pendingStartTrackID = ""
	e.mu.Unlock()

	e.queueStartPosition.Store(0)
	e.queueEndPosition.Store(0)
	e.currentTrackPosition.Store(0)
	e.trackStartPosition.Store(0)
	e.trackStartOffsetMS.Store(0)
}

// --- config / device handling ---

func (e *Engine) onConfigSnapshot(snap bus.ConfigSnapshot) {
	e.applyWatermark(snap)
	e.reconcileDevice(snap)
}

func (e *Engine) onConfigDeltas(deltas []model.DeltaEntry) {
	// Deltas only affect watermark book-keeping here; the signature
	// reconciliation happens on the next ConfigLoaded/RuntimeOutputSampleRateChanged
	// rather than mutating mid-flight.
	e.cfgMu.Lock()
	defer e.cfgMu.Unlock()
	for _, d := range deltas {
		if v, err := strconv.ParseUint(d.NewValue, 10, 64); err == nil {
			switch d.Key {
			case "low_watermark_samples":
				e.watermark.lowWatermarkSamples = v
			case "target_buffer_samples":
				e.watermark.targetBufferSamples = v
			case "request_interval_ms":
				e.watermark.requestIntervalMS = v
			}
		}
	}
}

func (e *Engine) applyWatermark(snap bus.ConfigSnapshot) {
	interval := snap.RequestIntervalMS
	if interval < minRequestIntervalMS {
		interval = minRequestIntervalMS
	}
	e.cfgMu.Lock()
	e.watermark = watermarkConfig{
		requestIntervalMS:   interval,
		lowWatermarkSamples: snap.LowWatermarkSamples,
		targetBufferSamples: snap.TargetBufferSamples,
	}
	e.cfgMu.Unlock()
}

func (e *Engine) onRuntimeRateChanged(rateHz uint32) {
	e.cfgMu.Lock()
	desired := e.signature
	desired.SampleRateHz = rateHz
	e.cfgMu.Unlock()
	e.reopenDevice(desired)
}

func (e *Engine) reconcileDevice(snap bus.ConfigSnapshot) {
	e.cfgMu.Lock()
	rate := e.signature.SampleRateHz
	e.cfgMu.Unlock()
	if rate == 0 {
		rate = 44100
	}
	desired := model.OutputConfigSignature{
		DeviceName:             snap.OutputDeviceName,
		SampleRateHz:           rate,
		ChannelCount:           snap.ChannelCount,
		BitsPerSample:          snap.BitsPerSample,
		DitherOnBitDepthReduce: snap.DitherOnBitDepthReduce,
	}
	e.reopenDevice(desired)
}

func (e *Engine) reopenDevice(requested model.OutputConfigSignature) {
	if e.device == nil {
		slog.Error("audioengine: no device configured")
		return
	}

	resolved, chosen, ok := selectConfig(requested, e.device.SupportedConfigs(), e.device.Name())
	if !ok {
		slog.Error("audioengine: no matching device configuration", "requested", requested.String())
		return
	}

	e.cfgMu.Lock()
	if e.signature.Equal(resolved) {
		e.cfgMu.Unlock()
		return
	}
	previous := e.signature
	prevStop := e.stopStream
	e.cfgMu.Unlock()

	stop, err := e.device.Open(devicesim.OpenedStream{
		SampleRateHz: resolved.SampleRateHz,
		ChannelCount: resolved.ChannelCount,
		Format:       chosen,
	}, e.render)
	if err != nil {
		slog.Error("audioengine: failed to open device, rolling back", "error", err)
		return
	}

	if prevStop != nil {
		prevStop()
	}

	e.cfgMu.Lock()
	e.signature = resolved
	e.stopStream = stop
	e.openSampleRateHz = resolved.SampleRateHz
	e.openChannels = resolved.ChannelCount
	e.cfgMu.Unlock()

	_ = previous
	e.b.Publish(bus.AudioDeviceOpened{StreamInfo: model.StreamInfo{Signature: resolved}})
}

// selectConfig implements spec.md §4.B's device selection scoring:
// channels_delta*1000 + sample_rate_delta + format_score, with nearest-rate
// fallback among the standard rate ladder, falling back to the device's
// default when the requested device name doesn't match any config.
func selectConfig(requested model.OutputConfigSignature, configs []devicesim.SupportedConfig, defaultName string) (model.OutputConfigSignature, devicesim.SampleFormat, bool) {
	if len(configs) == 0 {
		return model.OutputConfigSignature{}, devicesim.FormatFloat32, false
	}

	candidates := configs
	if requested.DeviceName != "" {
		var matched []devicesim.SupportedConfig
		for _, c := range configs {
			if c.Name == requested.DeviceName {
				matched = append(matched, c)
			}
		}
		if len(matched) == 0 {
			slog.Warn("audioengine: requested device not found, falling back to default", "requested", requested.DeviceName)
		} else {
			candidates = matched
		}
	}

	bestScore := int(^uint(0) >> 1)
	var best model.OutputConfigSignature
	var bestFormat devicesim.SampleFormat
	found := false

	for _, cfg := range candidates {
		rate := nearestRate(requested.SampleRateHz, cfg.MinSampleRateHz, cfg.MaxSampleRateHz)
		for _, ch := range cfg.ChannelCounts {
			for _, format := range cfg.Formats {
				chDelta := int(ch) - int(requested.ChannelCount)
				if chDelta < 0 {
					chDelta = -chDelta
				}
				rateDelta := int(rate) - int(requested.SampleRateHz)
				if rateDelta < 0 {
					rateDelta = -rateDelta
				}
				score := chDelta*1000 + rateDelta + format.FormatScore()
				if !found || score < bestScore {
					found = true
					bestScore = score
					best = model.OutputConfigSignature{
						DeviceName:             cfg.Name,
						SampleRateHz:           rate,
						ChannelCount:           ch,
						BitsPerSample:          bitsForFormat(format),
						DitherOnBitDepthReduce: requested.DitherOnBitDepthReduce,
					}
					bestFormat = format
				}
			}
		}
	}

	if !found {
		return model.OutputConfigSignature{DeviceName: defaultName}, devicesim.FormatFloat32, false
	}
	return best, bestFormat, true
}

func bitsForFormat(f devicesim.SampleFormat) uint16 {
	switch f {
	case devicesim.FormatI16, devicesim.FormatU16:
		return 16
	default:
		return 32
	}
}

// nearestRate picks, within [min,max] if the requested rate fits there,
// else the nearest standard rate that fits, else clamps to the range.
func nearestRate(requested, min, max uint32) uint32 {
	if requested >= min && requested <= max {
		return requested
	}
	bestDelta := int64(-1)
	var best uint32
	haveCandidate := false
	for _, r := range verifiedFallbackRates {
		if r < min || r > max {
			continue
		}
		delta := int64(r) - int64(requested)
		if delta < 0 {
			delta = -delta
		}
		if !haveCandidate || delta < bestDelta {
			haveCandidate = true
			bestDelta = delta
			best = r
		}
	}
	if haveCandidate {
		return best
	}
	if requested < min {
		return min
	}
	return max
}

// --- real-time render callback ---

// render is invoked repeatedly by the device. It must never block on
// anything other than Engine.mu, and only for as long as it takes to copy
// out the entries it consumes.
func (e *Engine) render(out []float32) int {
	if !e.isPlaying.Load() {
		for i := range out {
			out[i] = 0
		}
		return len(out)
	}

	written := 0
	e.mu.Lock()
	for written < len(out) {
		front := e.queue.Front()
		if front == nil {
			break
		}
		entry := front.Value.(model.AudioQueueEntry)

		switch entry.Kind {
		case model.EntryHeader:
			e.b.Publish(bus.TrackStarted{ID: entry.TrackID, StartOffsetMS: entry.StartOffsetMS})
			e.currentTrackPosition.Add(1)
			e.popFrontLocked()
		case model.EntryFooter:
			e.b.Publish(bus.TrackFinished{ID: entry.TrackID})
			e.currentTrackPosition.Add(1)
			e.popFrontLocked()
			e.isPlaying.Store(false)
			for i := written; i < len(out); i++ {
				out[i] = 0
			}
			written = len(out)
		case model.EntrySamples:
			n := copy(out[written:], entry.Samples)
			e.applyVolumeAndQuantize(out[written : written+n])
			written += n
			e.currentTrackPosition.Add(uint64(n))
			if n == len(entry.Samples) {
				e.popFrontLocked()
			} else {
				front.Value = model.AudioQueueEntry{Kind: model.EntrySamples, Samples: entry.Samples[n:]}
			}
		}
	}
	e.mu.Unlock()

	e.evictConsumedTracks()

	return written
}

// popFrontLocked removes the current front entry and advances
// queueStartPosition. Caller must hold e.mu.
func (e *Engine) popFrontLocked() {
	front := e.queue.Front()
	if front == nil {
		return
	}
	entry := front.Value.(model.AudioQueueEntry)
	e.queue.Remove(front)
	e.queueStartPosition.Add(entry.Len())
}

// applyVolumeAndQuantize scales samples by the current volume and, when the
// negotiated signature asks for a reduced bit depth, quantizes each sample
// down to that depth (adding TPDF dither first if requested) and expands it
// back to float32. The render callback's buffer stays float32-typed either
// way; this simulates the precision loss a real sub-32-bit device would
// impose rather than performing any wire-format conversion.
func (e *Engine) applyVolumeAndQuantize(samples []float32) {
	vol := e.volume()
	e.cfgMu.Lock()
	bits := e.signature.BitsPerSample
	ditherOn := e.signature.DitherOnBitDepthReduce
	e.cfgMu.Unlock()

	switch bits {
	case 16:
		for i, s := range samples {
			q := e.quantizeI16(s*vol, ditherOn)
			samples[i] = float32(q) / 32767.0
		}
	default:
		for i, s := range samples {
			samples[i] = s * vol
		}
	}
}

// quantizeI16 converts a volume-applied float32 sample in [-1,1] to an i16,
// optionally adding TPDF dither scaled to 1 LSB, per spec.md §4.B.
func (e *Engine) quantizeI16(sample float32, ditherOn bool) int16 {
	v := float64(sample)
	if ditherOn {
		v += e.rng.TPDFSample() / 32768.0
	}
	if v > 1 {
		v = 1
	}
	if v < -1 {
		v = -1
	}
	return int16(math.Round(v * 32767))
}

func (e *Engine) evictConsumedTracks() {
	start := e.queueStartPosition.Load()
	current := func() string {
		e.mu.Lock()
		defer e.mu.Unlock()
		return e.currentTrackID
	}()

	e.mu.Lock()
	var evicted []string
	for id, idx := range e.cachedTrackIndices {
		if idx.EndValid && idx.End < start && id != current {
			delete(e.cachedTrackIndices, id)
			evicted = append(evicted, id)
		}
	}
	e.mu.Unlock()

	for _, id := range evicted {
		e.b.Publish(bus.TrackEvicted{ID: id})
	}
}

// --- watermark + progress loops ---

func (e *Engine) runWatermarkLoop(ctx context.Context) {
	for {
		e.cfgMu.Lock()
		interval := e.watermark.requestIntervalMS
		e.cfgMu.Unlock()
		if interval < minRequestIntervalMS {
			interval = minRequestIntervalMS
		}
		timer := time.NewTimer(time.Duration(interval) * time.Millisecond)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			e.checkWatermark()
		}
	}
}

func (e *Engine) checkWatermark() {
	e.cfgMu.Lock()
	wm := e.watermark
	e.cfgMu.Unlock()

	if !e.hasActiveOrBootstrap() {
		return
	}

	buffered := e.queueEndPosition.Load() - e.currentTrackPosition.Load()
	if buffered < wm.lowWatermarkSamples {
		requested := uint64(0)
		if wm.targetBufferSamples > buffered {
			requested = wm.targetBufferSamples - buffered
		}
		e.b.Publish(bus.RequestDecodeChunk{RequestedSamples: requested})
	}
}

func (e *Engine) hasActiveOrBootstrap() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.isPlaying.Load() || e.hasPendingStart
}

func (e *Engine) runProgressLoop(ctx context.Context) {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.emitProgress()
		}
	}
}

func (e *Engine) emitProgress() {
	if !e.isPlaying.Load() {
		return
	}
	e.cfgMu.Lock()
	sig := e.signature
	e.cfgMu.Unlock()
	if sig.SampleRateHz == 0 || sig.ChannelCount == 0 {
		return
	}

	offsetMS := e.trackStartOffsetMS.Load()
	trackStart := e.trackStartPosition.Load()
	current := e.currentTrackPosition.Load()
	if current < trackStart {
		return
	}
	elapsedSamples := current - trackStart
	elapsedMS := offsetMS + elapsedSamples*1000/uint64(sig.SampleRateHz)/uint64(sig.ChannelCount)

	e.mu.Lock()
	id := e.currentTrackID
	idx, ok := e.cachedTrackIndices[id]
	e.mu.Unlock()

	var totalMS uint64
	if ok {
		totalMS = idx.Technical.DurationMS
	}
	e.b.Publish(bus.PlaybackProgress{ElapsedMS: elapsedMS, TotalMS: totalMS})
}
