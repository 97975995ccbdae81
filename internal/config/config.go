// Package config loads the player backend's configuration from the
// environment using a small getEnv/getEnvAsInt helper family, extended
// with the bool/float/duration helpers this module's wider config surface
// needs.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/arung-agamani/denpa-player/internal/bus"
	"github.com/arung-agamani/denpa-player/internal/model"
)

// Config is the full set of tunables for one player backend process
// (spec.md §2, SPEC_FULL.md §2).
type Config struct {
	// Library / playlist persistence.
	MusicDir     string
	PlaylistFile string
	DataDir      string

	// Audio output (spec.md §4.B, §4.E).
	OutputDeviceName       string
	SampleRateAuto         bool
	PreferredSampleRates   []uint32
	BitsPerSample          uint16
	ChannelCount           uint16
	DitherOnBitDepthReduce bool
	LowWatermarkSamples    uint64
	TargetBufferSamples    uint64
	ProgressIntervalMS     uint64

	// Decode feeder (spec.md §4.C).
	RequestIntervalMS  uint64
	MaxNumCachedTracks int
	FFmpegPath         string
	FFprobePath        string

	// Playback manager (spec.md §4.D).
	UndoStackDepth int

	// Enrichment (spec.md §4.G).
	EnrichmentEnabled        bool
	EnrichmentCacheTTL       time.Duration
	EnrichmentNegativeTTL    time.Duration
	EnrichmentDetailBudget   time.Duration
	EnrichmentPrefetchBudget time.Duration
	EnrichmentBackgroundQPS  float64
	TheAudioDBAPIKey         string
	EnrichmentImageCacheDir  string
	EnrichmentMaxCacheBytes  int64

	// Integration manager (spec.md §4.F).
	IntegrationProfilesFile string
	IntegrationHTTPTimeout  time.Duration

	// Admin/status HTTP surface (SPEC_FULL.md §5).
	AdminListenAddr string
	AdminAuthToken  string

	Timezone string
}

// Load reads Config from the environment, applying defaults field by
// field.
func Load() *Config {
	return &Config{
		MusicDir:     getEnv("MUSIC_DIR", "./music"),
		PlaylistFile: getEnv("PLAYLIST_FILE", "./data/playlists.json"),
		DataDir:      getEnv("DATA_DIR", "./data"),

		OutputDeviceName:       getEnv("OUTPUT_DEVICE", ""),
		SampleRateAuto:         getEnvAsBool("SAMPLE_RATE_AUTO", true),
		PreferredSampleRates:   getEnvAsUint32List("PREFERRED_SAMPLE_RATES", []uint32{44100, 48000, 88200, 96000, 176400, 192000}),
		BitsPerSample:          uint16(getEnvAsInt("BITS_PER_SAMPLE", 16)),
		ChannelCount:           uint16(getEnvAsInt("CHANNEL_COUNT", 2)),
		DitherOnBitDepthReduce: getEnvAsBool("DITHER_ON_BIT_DEPTH_REDUCE", true),
		LowWatermarkSamples:    uint64(getEnvAsInt("LOW_WATERMARK_SAMPLES", 44100*2)),
		TargetBufferSamples:    uint64(getEnvAsInt("TARGET_BUFFER_SAMPLES", 44100*8)),
		ProgressIntervalMS:     uint64(getEnvAsInt("PROGRESS_INTERVAL_MS", 50)),

		RequestIntervalMS:  uint64(getEnvAsInt("DECODE_REQUEST_INTERVAL_MS", 250)),
		MaxNumCachedTracks: getEnvAsInt("MAX_NUM_CACHED_TRACKS", 3),
		FFmpegPath:         getEnv("FFMPEG_PATH", "ffmpeg"),
		FFprobePath:        getEnv("FFPROBE_PATH", "ffprobe"),

		UndoStackDepth: getEnvAsInt("UNDO_STACK_DEPTH", 128),

		EnrichmentEnabled:        getEnvAsBool("ENRICHMENT_ENABLED", true),
		EnrichmentCacheTTL:       getEnvAsDuration("ENRICHMENT_CACHE_TTL", 30*24*time.Hour),
		EnrichmentNegativeTTL:    getEnvAsDuration("ENRICHMENT_NEGATIVE_TTL", 6*time.Hour),
		EnrichmentDetailBudget:   getEnvAsDuration("ENRICHMENT_DETAIL_BUDGET", 3*time.Second),
		EnrichmentPrefetchBudget: getEnvAsDuration("ENRICHMENT_PREFETCH_BUDGET", 15*time.Second),
		EnrichmentBackgroundQPS:  getEnvAsFloat("ENRICHMENT_BACKGROUND_QPS", 0.5),
		TheAudioDBAPIKey:         getEnv("THEAUDIODB_API_KEY", "2"),
		EnrichmentImageCacheDir:  getEnv("ENRICHMENT_IMAGE_CACHE_DIR", "./data/enrichment-images"),
		EnrichmentMaxCacheBytes:  int64(getEnvAsInt("ENRICHMENT_MAX_CACHE_BYTES", 256*1024*1024)),

		IntegrationProfilesFile: getEnv("INTEGRATION_PROFILES_FILE", "./data/backend-profiles.json"),
		IntegrationHTTPTimeout:  getEnvAsDuration("INTEGRATION_HTTP_TIMEOUT", 10*time.Second),

		AdminListenAddr: getEnv("ADMIN_LISTEN_ADDR", ":8100"),
		AdminAuthToken:  getEnv("ADMIN_AUTH_TOKEN", ""),

		Timezone: getEnv("TIMEZONE", ""),
	}
}

// Snapshot converts Config into the bus-safe value published as
// ConfigLoaded / carried in ConfigChanged deltas (spec.md §6).
func (c *Config) Snapshot() bus.ConfigSnapshot {
	return bus.ConfigSnapshot{
		OutputDeviceName:       c.OutputDeviceName,
		SampleRateAuto:         c.SampleRateAuto,
		LowWatermarkSamples:    c.LowWatermarkSamples,
		TargetBufferSamples:    c.TargetBufferSamples,
		RequestIntervalMS:      c.RequestIntervalMS,
		MaxNumCachedTracks:     c.MaxNumCachedTracks,
		DitherOnBitDepthReduce: c.DitherOnBitDepthReduce,
		BitsPerSample:          c.BitsPerSample,
		ChannelCount:           c.ChannelCount,
	}
}

// Diff compares two snapshots and returns the changed keys, used to build
// ConfigChanged's Deltas (spec.md §6).
func Diff(old, next bus.ConfigSnapshot) []model.DeltaEntry {
	var deltas []model.DeltaEntry
	add := func(key, oldV, newV string) {
		if oldV != newV {
			deltas = append(deltas, model.DeltaEntry{Key: key, OldValue: oldV, NewValue: newV})
		}
	}
	add("output_device_name", old.OutputDeviceName, next.OutputDeviceName)
	add("sample_rate_auto", strconv.FormatBool(old.SampleRateAuto), strconv.FormatBool(next.SampleRateAuto))
	add("low_watermark_samples", strconv.FormatUint(old.LowWatermarkSamples, 10), strconv.FormatUint(next.LowWatermarkSamples, 10))
	add("target_buffer_samples", strconv.FormatUint(old.TargetBufferSamples, 10), strconv.FormatUint(next.TargetBufferSamples, 10))
	add("request_interval_ms", strconv.FormatUint(old.RequestIntervalMS, 10), strconv.FormatUint(next.RequestIntervalMS, 10))
	add("max_num_cached_tracks", strconv.Itoa(old.MaxNumCachedTracks), strconv.Itoa(next.MaxNumCachedTracks))
	add("dither_on_bit_depth_reduce", strconv.FormatBool(old.DitherOnBitDepthReduce), strconv.FormatBool(next.DitherOnBitDepthReduce))
	add("bits_per_sample", strconv.Itoa(int(old.BitsPerSample)), strconv.Itoa(int(next.BitsPerSample)))
	add("channel_count", strconv.Itoa(int(old.ChannelCount)), strconv.Itoa(int(next.ChannelCount)))
	return deltas
}

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvAsInt(name string, defaultVal int) int {
	if valueStr, exists := os.LookupEnv(name); exists {
		if value, err := strconv.Atoi(valueStr); err == nil {
			return value
		}
	}
	return defaultVal
}

func getEnvAsBool(name string, defaultVal bool) bool {
	if valueStr, exists := os.LookupEnv(name); exists {
		if value, err := strconv.ParseBool(valueStr); err == nil {
			return value
		}
	}
	return defaultVal
}

func getEnvAsFloat(name string, defaultVal float64) float64 {
	if valueStr, exists := os.LookupEnv(name); exists {
		if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
			return value
		}
	}
	return defaultVal
}

func getEnvAsDuration(name string, defaultVal time.Duration) time.Duration {
	if valueStr, exists := os.LookupEnv(name); exists {
		if value, err := time.ParseDuration(valueStr); err == nil {
			return value
		}
	}
	return defaultVal
}

func getEnvAsUint32List(name string, defaultVal []uint32) []uint32 {
	valueStr, exists := os.LookupEnv(name)
	if !exists || strings.TrimSpace(valueStr) == "" {
		return defaultVal
	}
	parts := strings.Split(valueStr, ",")
	out := make([]uint32, 0, len(parts))
	for _, p := range parts {
		v, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			continue
		}
		out = append(out, uint32(v))
	}
	if len(out) == 0 {
		return defaultVal
	}
	return out
}
