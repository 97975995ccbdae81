// Package trackprobe resolves a local track's source sample rate and
// channel count without a full decode, feeding the rate-adaptation gate in
// spec.md §4.D/§4.E ("Probe source rate (cached)"). It combines
// github.com/dhowden/tag for container metadata with an ffprobe subprocess
// call via os/exec.
package trackprobe

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"sync"

	"github.com/dhowden/tag"
)

// SourceFormat is what Probe resolves about a track before it is decoded.
type SourceFormat struct {
	SampleRateHz uint32
	ChannelCount uint16
	DurationMS   uint64
}

// Prober resolves and caches SourceFormat by path; it's a small struct
// wrapping the external "ffprobe" binary path.
type Prober struct {
	ffprobePath string

	mu    sync.Mutex
	cache map[string]SourceFormat
}

func New(ffprobePath string) *Prober {
	if ffprobePath == "" {
		ffprobePath = "ffprobe"
	}
	return &Prober{
		ffprobePath: ffprobePath,
		cache:       make(map[string]SourceFormat),
	}
}

// Probe returns the cached SourceFormat for path, running ffprobe only on a
// cache miss.
func (p *Prober) Probe(ctx context.Context, path string) (SourceFormat, error) {
	p.mu.Lock()
	if sf, ok := p.cache[path]; ok {
		p.mu.Unlock()
		return sf, nil
	}
	p.mu.Unlock()

	sf, err := p.runFFprobe(ctx, path)
	if err != nil {
		// dhowden/tag can at least recover duration-adjacent metadata
		// from the container for some formats; sample rate still comes
		// from ffprobe when available, so we surface the error as-is.
		return SourceFormat{}, err
	}

	p.mu.Lock()
	p.cache[path] = sf
	p.mu.Unlock()
	return sf, nil
}

// Cached returns a previously probed SourceFormat without touching
// ffprobe, for callers that must not block a real-time or lock-held path
// on a subprocess.
func (p *Prober) Cached(path string) (SourceFormat, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	sf, ok := p.cache[path]
	return sf, ok
}

// Invalidate clears a cached probe, used when a track file changes on disk.
func (p *Prober) Invalidate(path string) {
	p.mu.Lock()
	delete(p.cache, path)
	p.mu.Unlock()
}

type ffprobeStream struct {
	CodecType  string `json:"codec_type"`
	SampleRate string `json:"sample_rate"`
	Channels   int    `json:"channels"`
}

type ffprobeFormat struct {
	Duration string `json:"duration"`
}

type ffprobeOutput struct {
	Streams []ffprobeStream `json:"streams"`
	Format  ffprobeFormat   `json:"format"`
}

func (p *Prober) runFFprobe(ctx context.Context, path string) (SourceFormat, error) {
	args := []string{
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		"-select_streams", "a:0",
		path,
	}
	cmd := exec.CommandContext(ctx, p.ffprobePath, args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return SourceFormat{}, fmt.Errorf("ffprobe failed for %s: %w: %s", path, err, stderr.String())
	}

	var out ffprobeOutput
	if err := json.Unmarshal(stdout.Bytes(), &out); err != nil {
		return SourceFormat{}, fmt.Errorf("ffprobe output for %s: %w", path, err)
	}
	if len(out.Streams) == 0 {
		return SourceFormat{}, fmt.Errorf("ffprobe found no audio stream for %s", path)
	}

	stream := out.Streams[0]
	var sampleRate uint64
	fmt.Sscanf(stream.SampleRate, "%d", &sampleRate)

	var durationSeconds float64
	fmt.Sscanf(out.Format.Duration, "%g", &durationSeconds)

	return SourceFormat{
		SampleRateHz: uint32(sampleRate),
		ChannelCount: uint16(stream.Channels),
		DurationMS:   uint64(durationSeconds * 1000),
	}, nil
}

// ReadTags is a thin pass-through to dhowden/tag for callers (library
// scanning) that only need container tags, not the sample rate — kept here
// so both concerns share one import of the tag package.
func ReadTags(path string) (tag.Metadata, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return tag.ReadFrom(f)
}
