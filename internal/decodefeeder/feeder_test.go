package decodefeeder

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/arung-agamani/denpa-player/internal/bus"
	"github.com/arung-agamani/denpa-player/internal/model"
)

func TestBytesToFloat32(t *testing.T) {
	var buf []byte
	for _, v := range []float32{1, -0.5, 0.25} {
		b := make([]byte, 4)
		binary.LittleEndian.PutUint32(b, math.Float32bits(v))
		buf = append(buf, b...)
	}
	got := bytesToFloat32(buf)
	want := []float32{1, -0.5, 0.25}
	if len(got) != len(want) {
		t.Fatalf("got %d samples, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("got[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestBytesToFloat32IgnoresTrailingPartialSample(t *testing.T) {
	buf := make([]byte, 4+3) // one full sample, plus 3 stray bytes
	binary.LittleEndian.PutUint32(buf, math.Float32bits(0.75))
	got := bytesToFloat32(buf)
	if len(got) != 1 || got[0] != 0.75 {
		t.Errorf("got %v, want exactly one sample of 0.75", got)
	}
}

func TestMsToSeconds(t *testing.T) {
	cases := map[uint64]string{
		0:     "0.000",
		1500:  "1.500",
		60000: "60.000",
	}
	for ms, want := range cases {
		if got := msToSeconds(ms); got != want {
			t.Errorf("msToSeconds(%d) = %q, want %q", ms, got, want)
		}
	}
}

func TestNewDefaultsFfmpegPathAndFormat(t *testing.T) {
	f := New(bus.New(1), "", nil)
	if f.ffmpegPath != "ffmpeg" {
		t.Errorf("ffmpegPath = %q, want default ffmpeg", f.ffmpegPath)
	}
	if f.outputRate != 44100 || f.channels != 2 {
		t.Errorf("default format = %d/%d, want 44100/2", f.outputRate, f.channels)
	}
}

// fakeFFmpeg writes a script that ignores its arguments and streams a fixed
// raw float32 PCM payload to stdout, standing in for the real ffmpeg
// subprocess the way fakeFFprobe stands in for trackprobe's ffprobe calls.
func fakeFFmpeg(t *testing.T, samples []float32) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake ffmpeg script requires a POSIX shell")
	}
	dir := t.TempDir()

	payload := make([]byte, 0, len(samples)*4)
	for _, s := range samples {
		b := make([]byte, 4)
		binary.LittleEndian.PutUint32(b, math.Float32bits(s))
		payload = append(payload, b...)
	}
	dataPath := filepath.Join(dir, "pcm.raw")
	if err := os.WriteFile(dataPath, payload, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	scriptPath := filepath.Join(dir, "ffmpeg")
	script := fmt.Sprintf("#!/bin/sh\ncat %q\n", dataPath)
	if err := os.WriteFile(scriptPath, []byte(script), 0o755); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return scriptPath
}

func TestDecodeOnePublishesHeaderSamplesAndFooter(t *testing.T) {
	samples := []float32{0.1, 0.2, 0.3, 0.4}
	f := New(bus.New(32), fakeFFmpeg(t, samples), nil)

	recv := f.b.Subscribe("observer")
	defer recv.Unsubscribe()

	ctx := context.Background()
	if err := f.decodeOne(ctx, model.TrackIdentifier{ID: "t1", Path: "/music/a.flac", PlayImmediately: true}); err != nil {
		t.Fatalf("decodeOne: %v", err)
	}

	var sawHeader, sawFooter bool
	var gotSamples []float32
	recvCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	for {
		msg, ok := recv.Recv(recvCtx)
		if !ok {
			break
		}
		switch m := msg.(type) {
		case bus.AudioPacketHeader:
			sawHeader = true
			if m.TrackID != "t1" || !m.PlayImmediately {
				t.Errorf("header = %+v, want TrackID=t1 PlayImmediately=true", m)
			}
		case bus.AudioPacketSamples:
			gotSamples = append(gotSamples, m.Samples...)
		case bus.AudioPacketFooter:
			sawFooter = true
			if len(gotSamples) > 0 { // footer should arrive once all samples are drained
				break
			}
		}
		if sawHeader && sawFooter {
			break
		}
	}
	if !sawHeader {
		t.Error("expected an AudioPacketHeader publish")
	}
	if !sawFooter {
		t.Error("expected an AudioPacketFooter publish")
	}
	if len(gotSamples) != len(samples) {
		t.Fatalf("got %d samples, want %d", len(gotSamples), len(samples))
	}
	for i := range samples {
		if gotSamples[i] != samples[i] {
			t.Errorf("sample[%d] = %v, want %v", i, gotSamples[i], samples[i])
		}
	}
}
