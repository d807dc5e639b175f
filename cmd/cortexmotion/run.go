package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/normanking/cortexmotion/internal/bus"
	"github.com/normanking/cortexmotion/internal/clip/asset"
	"github.com/normanking/cortexmotion/internal/config"
	"github.com/normanking/cortexmotion/internal/control"
	"github.com/normanking/cortexmotion/internal/engine"
	"github.com/normanking/cortexmotion/internal/lipsync"
	"github.com/normanking/cortexmotion/internal/logging"
	"github.com/normanking/cortexmotion/internal/metrics"
	"github.com/normanking/cortexmotion/internal/rig"
)

func newRunCmd(loadConfig func() (*config.Config, error)) *cobra.Command {
	var (
		speakPath string
		speakRate int
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the headless engine with its control endpoint",
		Long: `Run loads the configured avatar, starts the WebSocket control endpoint
and advances the engine at the configured frame rate until interrupted.

--speak plays a raw 16-bit little-endian mono PCM file through the lip-sync
analyzer once the avatar is loaded.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, cfg, speakPath, speakRate)
		},
	}
	cmd.Flags().StringVar(&speakPath, "speak", "", "raw PCM file to lip-sync on start")
	cmd.Flags().IntVar(&speakRate, "rate", 16000, "sample rate of the --speak file")
	return cmd
}

func run(ctx context.Context, cfg *config.Config, speakPath string, speakRate int) error {
	logger, err := logging.New(&cfg.Log)
	if err != nil {
		return err
	}
	defer logger.Close()
	log := logger.Component("main")

	logger.Info("main", "Starting cortexmotion", map[string]any{
		"version": version,
		"fps":     cfg.Engine.FPS,
		"logFile": logger.LogPath(),
	})

	engCfg, err := cfg.EngineSettings()
	if err != nil {
		return err
	}
	eventBus := bus.NewEventBus()
	eng := engine.New(engCfg, eventBus, logger.Zerolog())
	defer eng.Close()

	h, err := addAvatar(eng, cfg)
	if err != nil {
		return err
	}
	log.Info().Str("avatar", cfg.Avatar.Name).Str("handle", h.String()).Msg("Avatar loaded")

	if cfg.Avatar.StartPreset != "" {
		if err := eng.Submit(h, engine.Play(cfg.Avatar.StartPreset, 0)); err != nil {
			log.Warn().Err(err).Str("preset", cfg.Avatar.StartPreset).Msg("Start preset rejected")
		}
	}

	if speakPath != "" {
		src, err := loadSpeech(speakPath, speakRate)
		if err != nil {
			return err
		}
		src.Play()
		if err := eng.Submit(h, engine.Speak(src)); err != nil {
			return fmt.Errorf("speak: %w", err)
		}
		log.Info().Str("file", speakPath).Float64("seconds", src.Duration()).Msg("Speaking")
	}

	dispatcher := control.Dispatcher{
		Submitter:     eng,
		DefaultAvatar: cfg.Avatar.Name,
		DefaultFade:   float32(cfg.Engine.DefaultFade),
	}
	server := control.NewServer(control.Options{
		Dispatcher: dispatcher,
		Bus:        eventBus,
		Logger:     logger.Zerolog(),
	})
	if err := server.Start(cfg.Control.Listen); err != nil {
		return fmt.Errorf("start control endpoint: %w", err)
	}
	defer shutdown(log, "control endpoint", server.Shutdown)

	if cfg.Control.FeedURL != "" {
		feed := control.NewFeed(cfg.Control.FeedURL, dispatcher, logger.Zerolog())
		feed.Connect(ctx)
		defer feed.Disconnect()
	}

	if cfg.Metrics.Enabled {
		srv := metricsServer(cfg.Metrics.Listen, logger)
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error().Err(err).Msg("Metrics server failed")
			}
		}()
		defer shutdown(log, "metrics server", srv.Shutdown)
	}

	frameLoop(ctx, eng, cfg.FrameInterval())
	log.Info().Msg("Shutting down")
	return nil
}

func addAvatar(eng *engine.Engine, cfg *config.Config) (engine.Handle, error) {
	r := rig.NewHumanoid()
	if cfg.Avatar.Rig != "" {
		var err error
		if r, err = rig.FromGLTF(cfg.Avatar.Rig); err != nil {
			return engine.Handle{}, fmt.Errorf("load rig: %w", err)
		}
	}

	opts := engine.AvatarOptions{
		Name:  cfg.Avatar.Name,
		Rig:   r,
		Watch: cfg.Clips.Watch,
		Fetcher: asset.MultiFetcher{
			File: asset.FileFetcher{},
			HTTP: asset.HTTPFetcher{Client: &http.Client{Timeout: cfg.Clips.HTTPTimeout}},
		},
	}
	if cfg.Clips.Manifest != "" {
		m, err := asset.LoadManifest(cfg.Clips.Manifest)
		if err != nil {
			return engine.Handle{}, err
		}
		opts.Manifest = m
	}
	return eng.Add(opts)
}

func loadSpeech(path string, rate int) (*lipsync.PCMSource, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read speech: %w", err)
	}
	return lipsync.NewPCMSource(data, lipsync.FormatInt16, rate)
}

func metricsServer(addr string, logger *logging.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.Handle("/logs", logger.HistoryHandler())
	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// frameLoop drives the engine with wall-clock deltas until ctx is done.
func frameLoop(ctx context.Context, eng *engine.Engine, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	last := time.Now()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			eng.Update(float32(now.Sub(last).Seconds()))
			last = now
		}
	}
}

func shutdown(log zerolog.Logger, what string, fn func(context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := fn(ctx); err != nil {
		log.Warn().Err(err).Msgf("Failed to stop %s", what)
	}
}
