// Package devicesim stands in for the audio host's device callback thread.
// No example repo's go.mod carries a usable non-vendored cgo audio driver as
// a direct dependency (the other_examples/ go-musicfox vendor copy of
// gopxl/beep's speaker package is reference-only, not importable), so this
// boundary is modeled on stdlib alone — see DESIGN.md for that
// justification. The shape is an interface wrapping a render callback plus
// an io.Writer-backed sink for tests.
package devicesim

import (
	"io"
	"math"
	"sync"
)

// SampleFormat is the on-the-wire quantization of one output sample.
type SampleFormat int

const (
	FormatFloat32 SampleFormat = iota
	FormatI16
	FormatU16
)

// FormatScore implements spec.md §4.B's format_score term: 0 for float32,
// 20 for i16, 30 for u16.
func (f SampleFormat) FormatScore() int {
	switch f {
	case FormatI16:
		return 20
	case FormatU16:
		return 30
	default:
		return 0
	}
}

// SupportedConfig is one configuration a Device can be opened with.
type SupportedConfig struct {
	Name             string
	MinSampleRateHz  uint32
	MaxSampleRateHz  uint32
	ChannelCounts    []uint16
	Formats          []SampleFormat
}

// OpenedStream is the live handle returned by Device.Open.
type OpenedStream struct {
	SampleRateHz  uint32
	ChannelCount  uint16
	Format        SampleFormat
}

// Device is the minimal contract the audio engine needs from a real output
// device: enumerate what it supports, and open a stream rendered by a
// caller-supplied frame callback.
type Device interface {
	// Name reports the device's canonical name ("" is the system default).
	Name() string
	// SupportedConfigs lists the configurations this device can open.
	SupportedConfigs() []SupportedConfig
	// Open starts rendering: render is called repeatedly from a dedicated
	// goroutine, once per output frame-buffer, until the returned stop
	// function is called.
	Open(cfg OpenedStream, render func(out []float32) (n int)) (stop func(), err error)
}

// NullDevice discards everything rendered to it; used by tests and by
// Engine when no real device is configured.
type NullDevice struct {
	DeviceName string
	Configs    []SupportedConfig
}

func (d *NullDevice) Name() string { return d.DeviceName }

func (d *NullDevice) SupportedConfigs() []SupportedConfig {
	if len(d.Configs) > 0 {
		return d.Configs
	}
	return []SupportedConfig{{
		Name:            d.DeviceName,
		MinSampleRateHz: 8000,
		MaxSampleRateHz: 192000,
		ChannelCounts:   []uint16{1, 2},
		Formats:         []SampleFormat{FormatFloat32, FormatI16, FormatU16},
	}}
}

func (d *NullDevice) Open(cfg OpenedStream, render func(out []float32) (n int)) (func(), error) {
	stopCh := make(chan struct{})
	go func() {
		buf := make([]float32, 1024)
		for {
			select {
			case <-stopCh:
				return
			default:
				render(buf)
			}
		}
	}()
	var once sync.Once
	return func() { once.Do(func() { close(stopCh) }) }, nil
}

// PCMSinkDevice renders into an io.Writer as interleaved little-endian
// samples, letting tests assert byte-for-byte output.
type PCMSinkDevice struct {
	DeviceName string
	Configs    []SupportedConfig
	Writer     io.Writer

	mu sync.Mutex
}

func (d *PCMSinkDevice) Name() string { return d.DeviceName }

func (d *PCMSinkDevice) SupportedConfigs() []SupportedConfig {
	if len(d.Configs) > 0 {
		return d.Configs
	}
	return []SupportedConfig{{
		Name:            d.DeviceName,
		MinSampleRateHz: 44100,
		MaxSampleRateHz: 48000,
		ChannelCounts:   []uint16{2},
		Formats:         []SampleFormat{FormatFloat32},
	}}
}

func (d *PCMSinkDevice) Open(cfg OpenedStream, render func(out []float32) (n int)) (func(), error) {
	stopCh := make(chan struct{})
	go func() {
		buf := make([]float32, 1024)
		for {
			select {
			case <-stopCh:
				return
			default:
				n := render(buf)
				d.writeFloat32LE(buf[:n])
			}
		}
	}()
	var once sync.Once
	return func() { once.Do(func() { close(stopCh) }) }, nil
}

func (d *PCMSinkDevice) writeFloat32LE(samples []float32) {
	if d.Writer == nil || len(samples) == 0 {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]byte, len(samples)*4)
	for i, s := range samples {
		bits := math.Float32bits(s)
		out[i*4+0] = byte(bits)
		out[i*4+1] = byte(bits >> 8)
		out[i*4+2] = byte(bits >> 16)
		out[i*4+3] = byte(bits >> 24)
	}
	_, _ = d.Writer.Write(out)
}
