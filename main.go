// Command denpa-player is the player backend's entry point: it wires the
// event bus and every worker together, then blocks until a shutdown signal
// arrives.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/arung-agamani/denpa-player/internal/adminapi"
	"github.com/arung-agamani/denpa-player/internal/audioengine"
	"github.com/arung-agamani/denpa-player/internal/audioengine/devicesim"
	"github.com/arung-agamani/denpa-player/internal/bus"
	"github.com/arung-agamani/denpa-player/internal/cast"
	"github.com/arung-agamani/denpa-player/internal/cast/noopcast"
	"github.com/arung-agamani/denpa-player/internal/config"
	"github.com/arung-agamani/denpa-player/internal/decodefeeder"
	"github.com/arung-agamani/denpa-player/internal/enrichment"
	"github.com/arung-agamani/denpa-player/internal/enrichment/cache"
	"github.com/arung-agamani/denpa-player/internal/enrichment/provider/theaudiodb"
	"github.com/arung-agamani/denpa-player/internal/enrichment/provider/wikipedia"
	"github.com/arung-agamani/denpa-player/internal/enrichment/ratelimit"
	"github.com/arung-agamani/denpa-player/internal/integration"
	"github.com/arung-agamani/denpa-player/internal/integration/opensubsonic"
	"github.com/arung-agamani/denpa-player/internal/model"
	"github.com/arung-agamani/denpa-player/internal/persistence/jsonstore"
	"github.com/arung-agamani/denpa-player/internal/playback"
	"github.com/arung-agamani/denpa-player/internal/trackprobe"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg := config.Load()
	slog.Info("starting player backend", "music_dir", cfg.MusicDir, "data_dir", cfg.DataDir)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		<-sigChan
		slog.Info("shutdown signal received")
		cancel()
	}()

	eventBus := bus.New(0)

	store, err := jsonstore.Open(cfg.DataDir + "/player.json")
	if err != nil {
		slog.Error("failed to open persistence store", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	prober := trackprobe.New(cfg.FFprobePath)

	device := &devicesim.NullDevice{DeviceName: cfg.OutputDeviceName}
	engine := audioengine.New(eventBus, device)
	engine.Start(ctx)

	feeder := decodefeeder.New(eventBus, cfg.FFmpegPath, prober)
	feeder.Start(ctx)

	playbackMgr := playback.New(eventBus, store, prober, cfg.MaxNumCachedTracks)
	playbackMgr.Start(ctx)

	adapters := map[model.BackendKind]integration.RemoteAdapter{
		model.BackendOpenSubsonic: opensubsonic.New(),
	}
	integrationMgr := integration.New(eventBus, adapters)
	integrationMgr.Start(ctx)

	enrichCache := cache.New(store, cfg.EnrichmentImageCacheDir, cfg.EnrichmentMaxCacheBytes)
	enrichMgr := enrichment.New(
		eventBus,
		theaudiodb.New(cfg.TheAudioDBAPIKey),
		wikipedia.New(),
		ratelimit.NewTheAudioDBLimiter(),
		enrichCache,
		cfg.EnrichmentEnabled,
	)
	enrichMgr.Start(ctx)

	castBridge := cast.NewBridge(eventBus, noopcast.New())
	castBridge.Start(ctx)

	adminSvc := adminapi.NewService(eventBus)
	adminSvc.Start(ctx)
	adminServer := adminapi.NewServer(cfg.AdminListenAddr, cfg.AdminAuthToken, adminSvc)

	if err := adminServer.Run(ctx); err != nil {
		slog.Error("admin server error", "error", err)
		os.Exit(1)
	}

	slog.Info("player backend stopped")
}
