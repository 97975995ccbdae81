// Package decodefeeder is the concrete Decode Feeder (spec.md §4, component
// C — treated as an external contract by the distillation, but a complete
// repo needs one implementation to exercise it end to end). It runs ffmpeg
// as a subprocess (os/exec.CommandContext + stdout pipe + background
// stderr drain) and emits raw float32 PCM, chunked into AudioPacket bus
// messages bracketed by a Header and a Footer.
package decodefeeder

import (
	"bufio"
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"
	"math"
	"os/exec"
	"sync"

	"github.com/arung-agamani/denpa-player/internal/bus"
	"github.com/arung-agamani/denpa-player/internal/model"
	"github.com/arung-agamani/denpa-player/internal/trackprobe"
)

const samplesPerChunk = 4096

// Feeder decodes DecodeTracks batches into AudioPacket{Header,Samples,Footer}
// messages. Only one batch decodes at a time, matching spec.md §4.E's
// invariant that two decodes in one batch target the same device rate.
type Feeder struct {
	b           *bus.Bus
	recv        *bus.Receiver
	ffmpegPath  string
	prober      *trackprobe.Prober
	outputRate  uint32
	channels    uint16

	mu        sync.Mutex
	cancelRun context.CancelFunc
}

func New(b *bus.Bus, ffmpegPath string, prober *trackprobe.Prober) *Feeder {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	return &Feeder{
		b:          b,
		ffmpegPath: ffmpegPath,
		prober:     prober,
		outputRate: 44100,
		channels:   2,
	}
}

// Start subscribes to the bus and processes DecodeTracks / StopDecoding /
// RuntimeOutputSampleRateChanged messages.
func (f *Feeder) Start(ctx context.Context) {
	f.recv = f.b.Subscribe("decodefeeder")
	go f.run(ctx)
}

func (f *Feeder) run(ctx context.Context) {
	defer f.recv.Unsubscribe()
	for {
		msg, ok := f.recv.Recv(ctx)
		if !ok {
			return
		}
		switch m := msg.(type) {
		case bus.DecodeTracks:
			f.decodeBatch(ctx, m.Batch)
		case bus.StopDecoding:
			f.stopDecoding()
		case bus.RuntimeOutputSampleRateChanged:
			f.outputRate = m.SampleRateHz
		}
	}
}

func (f *Feeder) stopDecoding() {
	f.mu.Lock()
	cancel := f.cancelRun
	f.cancelRun = nil
	f.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (f *Feeder) decodeBatch(parent context.Context, batch []model.TrackIdentifier) {
	runCtx, cancel := context.WithCancel(parent)
	f.mu.Lock()
	if f.cancelRun != nil {
		f.cancelRun()
	}
	f.cancelRun = cancel
	f.mu.Unlock()

	for _, track := range batch {
		if runCtx.Err() != nil {
			break
		}
		if err := f.decodeOne(runCtx, track); err != nil {
			slog.Error("decodefeeder: decode failed", "track_id", track.ID, "path", track.Path, "error", err)
		}
	}
}

func (f *Feeder) decodeOne(ctx context.Context, track model.TrackIdentifier) error {
	technical := model.TechnicalMetadata{
		SampleRateHz:  f.outputRate,
		ChannelCount:  f.channels,
		BitsPerSample: 32,
	}
	if f.prober != nil {
		if sf, err := f.prober.Probe(ctx, track.Path); err == nil {
			technical.DurationMS = sf.DurationMS
		}
	}

	f.b.Publish(bus.AudioPacketHeader{
		TrackID:         track.ID,
		PlayImmediately: track.PlayImmediately,
		Technical:       technical,
		StartOffsetMS:   track.StartOffsetMS,
	})

	args := []string{
		"-ss", msToSeconds(track.StartOffsetMS),
		"-i", track.Path,
		"-f", "f32le",
		"-ar", fmt.Sprintf("%d", f.outputRate),
		"-ac", fmt.Sprintf("%d", f.channels),
		"-vn",
		"pipe:1",
	}
	cmd := exec.CommandContext(ctx, f.ffmpegPath, args...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("decodefeeder: stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("decodefeeder: stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("decodefeeder: start ffmpeg: %w", err)
	}

	go func() {
		buf := make([]byte, 1024)
		for {
			n, err := stderr.Read(buf)
			if err != nil {
				return
			}
			if n > 0 {
				slog.Debug("decodefeeder: ffmpeg", "output", string(buf[:n]))
			}
		}
	}()

	reader := bufio.NewReaderSize(stdout, samplesPerChunk*4)
	raw := make([]byte, samplesPerChunk*4)
	for {
		n, readErr := reader.Read(raw)
		if n > 0 {
			samples := bytesToFloat32(raw[:n])
			f.b.Publish(bus.AudioPacketSamples{TrackID: track.ID, Samples: samples})
		}
		if readErr != nil {
			break
		}
	}

	waitErr := cmd.Wait()
	f.b.Publish(bus.AudioPacketFooter{TrackID: track.ID})

	if waitErr != nil && ctx.Err() == nil {
		return fmt.Errorf("decodefeeder: ffmpeg exited: %w", waitErr)
	}
	return nil
}

func bytesToFloat32(raw []byte) []float32 {
	count := len(raw) / 4
	out := make([]float32, count)
	for i := 0; i < count; i++ {
		bits := binary.LittleEndian.Uint32(raw[i*4:])
		out[i] = math.Float32frombits(bits)
	}
	return out
}

func msToSeconds(ms uint64) string {
	return fmt.Sprintf("%.3f", float64(ms)/1000.0)
}
