package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/Dankular/Babblefish/internal/config"
	"github.com/Dankular/Babblefish/internal/metrics"
	"github.com/Dankular/Babblefish/internal/pipeline"
	"github.com/Dankular/Babblefish/internal/room"
	"github.com/Dankular/Babblefish/internal/server"
	"github.com/Dankular/Babblefish/internal/session"
	"github.com/Dankular/Babblefish/internal/transcription"
	"github.com/Dankular/Babblefish/internal/translation"
	"github.com/Dankular/Babblefish/internal/tts"
	"github.com/Dankular/Babblefish/internal/vad"
)

const (
	defaultConfigPath = "configs/config.yaml"
	shutdownTimeout   = 10 * time.Second
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file (empty for defaults)")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger based on configuration
	logger := initLogger(cfg.Logging)

	logger.Info("Service starting",
		slog.String("service", server.ServiceName),
		slog.String("version", server.ServiceVersion),
		slog.String("config_path", *configPath),
	)

	// Log configuration summary (without sensitive data)
	logger.Info("Configuration loaded",
		slog.Int("port", cfg.Server.Port),
		slog.String("bind_address", cfg.Server.BindAddress),
		slog.Int("max_rooms", cfg.Rooms.MaxRooms),
		slog.Int("max_participants", cfg.Rooms.MaxParticipants),
		slog.Int("sample_rate", cfg.Audio.SampleRate),
		slog.Int("silence_threshold_ms", cfg.Audio.SilenceThreshold),
		slog.Float64("max_segment_duration", cfg.Audio.MaxSegmentDuration),
		slog.Bool("vad_enabled", cfg.VAD.Enabled),
		slog.String("asr_endpoint", cfg.ASR.Endpoint),
		slog.String("translation_endpoint", cfg.Translation.Endpoint),
		slog.String("translation_health_endpoint", cfg.Translation.HealthEndpoint),
		slog.Bool("tts_enabled", cfg.TTS.Enabled),
		slog.String("log_level", cfg.Logging.Level),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("Service failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger.Info("Service stopped")
}

// run wires the components, serves until ctx is cancelled and shuts down
func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	// Initialize Prometheus metrics on a private registry
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	appMetrics := metrics.NewMetrics(registry)
	logger.Info("Prometheus metrics initialized")

	// Room registry
	rooms, err := room.NewManager(room.ManagerConfig{
		MaxRooms:        cfg.Rooms.MaxRooms,
		MaxParticipants: cfg.Rooms.MaxParticipants,
		IdleTimeout:     cfg.Rooms.GetIdleTimeout(),
		SweepInterval:   cfg.Rooms.GetSweepInterval(),
		OnSweep:         appMetrics.RecordSweep,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to create room manager: %w", err)
	}
	rooms.Start(ctx)
	defer rooms.Stop()

	// Model clients. Either may be absent; the pipeline degrades without them.
	components := map[string]server.StatsFunc{}

	var transcriber pipeline.Transcriber
	if cfg.ASR.Endpoint != "" {
		asr, err := transcription.NewClient(transcription.Config{
			Endpoint:      cfg.ASR.Endpoint,
			APIKey:        cfg.ASR.APIKey,
			Model:         cfg.ASR.Model,
			Timeout:       cfg.ASR.GetTimeoutDuration(),
			MaxRetries:    cfg.ASR.MaxRetries,
			MaxConcurrent: cfg.ASR.MaxConcurrent,
			OnRetry:       func() { appMetrics.RecordTranscriptionRetries(1) },
		})
		if err != nil {
			return fmt.Errorf("failed to create transcription client: %w", err)
		}
		defer asr.Close()
		transcriber = asr
		components["transcription"] = func() any { return asr.GetStats() }
	} else {
		logger.Warn("No ASR endpoint configured, utterances will be rejected")
	}

	var translator pipeline.Translator
	if cfg.Translation.Endpoint != "" {
		mt, err := translation.NewClient(translation.Config{
			Endpoint:       cfg.Translation.Endpoint,
			APIKey:         cfg.Translation.APIKey,
			Timeout:        cfg.Translation.GetTimeoutDuration(),
			MaxConcurrent:  cfg.Translation.MaxConcurrent,
			HealthEndpoint: cfg.Translation.HealthEndpoint,
			HealthInterval: cfg.Translation.GetHealthInterval(),
			Logger:         logger,
		})
		if err != nil {
			return fmt.Errorf("failed to create translation client: %w", err)
		}
		mt.Start(ctx)
		defer mt.Stop()
		translator = mt
		components["translation"] = func() any { return mt.GetStats() }
	} else {
		logger.Warn("No translation endpoint configured, text will be passed through")
	}

	orchestrator := pipeline.New(pipeline.Config{
		Workers: cfg.Pipeline.Workers,
		Timeout: cfg.Pipeline.GetTimeoutDuration(),
	}, transcriber, translator, logger)

	// Speech synthesis routing
	router, stopTTS, err := newTTSRouter(ctx, cfg.TTS, appMetrics, logger, components)
	if err != nil {
		return err
	}
	defer stopTTS()

	sessions, err := session.NewHandler(session.Config{
		Segmenter: vad.SegmenterConfig{
			SampleRate:       cfg.Audio.SampleRate,
			Threshold:        cfg.VAD.Threshold,
			SilenceThreshold: cfg.Audio.GetSilenceThreshold(),
			MaxSegment:       cfg.Audio.GetMaxSegmentDuration(),
		},
		VADEnabled:        cfg.VAD.Enabled,
		EnergyScale:       cfg.VAD.EnergyScale,
		ChunkDuration:     cfg.Audio.GetChunkDuration(),
		MessagesPerSecond: cfg.Server.MessagesPerSecond,
		MessageBurst:      cfg.Server.MessageBurst,
	}, session.Deps{
		Rooms:    rooms,
		Pipeline: orchestrator,
		TTS:      router,
		Metrics:  appMetrics,
		Logger:   logger,
	})
	if err != nil {
		return fmt.Errorf("failed to create session handler: %w", err)
	}

	httpServer, err := server.New(server.Deps{
		Config:     cfg,
		Rooms:      rooms,
		Sessions:   sessions,
		Pipeline:   orchestrator,
		TTS:        router,
		Metrics:    appMetrics,
		Gatherer:   registry,
		Components: components,
		Logger:     logger,
	})
	if err != nil {
		return fmt.Errorf("failed to create HTTP server: %w", err)
	}

	if err := httpServer.Start(); err != nil {
		return err
	}

	logger.Info("Service started successfully, waiting for signals...",
		slog.String("address", httpServer.Addr()),
		slog.Bool("pipeline_ready", orchestrator.Ready()),
	)

	<-ctx.Done()
	logger.Info("Starting graceful shutdown...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := httpServer.Stop(shutdownCtx); err != nil {
		logger.Error("Error stopping HTTP server", slog.String("error", err.Error()))
	}
	sessions.Wait()

	// Final statistics
	stats := sessions.GetStats()
	pipeStats := orchestrator.GetStats()
	logger.Info("Final service statistics",
		slog.Uint64("total_sessions", stats.TotalSessions),
		slog.Uint64("session_panics", stats.Panics),
		slog.Uint64("utterances_processed", pipeStats.Processed),
		slog.Uint64("utterances_failed", pipeStats.Failed),
		slog.Uint64("translation_fallbacks", pipeStats.Fallbacks),
	)

	return nil
}

// newTTSRouter builds the synthesis router with the accelerator as the
// preferred tier and the HTTP fallback as the last resort. The returned
// function stops the accelerator connection.
func newTTSRouter(ctx context.Context, cfg config.TTSConfig, m *metrics.Metrics,
	logger *slog.Logger, components map[string]server.StatsFunc) (*tts.Router, func(), error) {

	router := tts.NewRouter(tts.RouterConfig{
		Enabled:          cfg.Enabled,
		Budget:           cfg.GetBudget(),
		MaxServerClients: cfg.MaxServerClients,
		MinVRAMF5TTS:     cfg.MinVRAMF5TTS,
		MinVRAMKokoro:    cfg.MinVRAMKokoro,
		OnAttempt:        m.RecordTTS,
	}, logger)

	stop := func() {}
	if !cfg.Enabled {
		return router, stop, nil
	}

	if cfg.AcceleratorURL != "" {
		acc, err := tts.NewAccelerator(tts.AcceleratorConfig{
			URL:               cfg.AcceleratorURL,
			RequestTimeout:    cfg.GetRequestTimeout(),
			ReconnectMaxDelay: cfg.GetReconnectMaxDelay(),
		}, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create TTS accelerator: %w", err)
		}
		acc.Start(ctx)
		stop = acc.Stop
		router.RegisterVoiceBackend(acc)
		router.RegisterBackend(acc)
		components["accelerator"] = func() any { return acc.GetStats() }
	}

	if cfg.FallbackURL != "" {
		fallback, err := tts.NewHTTPBackend("fallback", cfg.FallbackURL, cfg.FallbackLanguages, cfg.GetBudget())
		if err != nil {
			stop()
			return nil, nil, fmt.Errorf("failed to create TTS fallback: %w", err)
		}
		router.SetFallback(fallback)
	}

	logger.Info("TTS router initialized",
		slog.String("accelerator_url", cfg.AcceleratorURL),
		slog.String("fallback_url", cfg.FallbackURL),
		slog.Int("max_server_clients", cfg.MaxServerClients),
	)

	return router, stop, nil
}

// initLogger creates and configures the structured logger based on configuration
func initLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug,
	}

	// Determine output destination
	var output *os.File
	switch cfg.Output {
	case "stderr":
		output = os.Stderr
	case "stdout", "":
		output = os.Stdout
	default:
		file, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open log file %s: %v, falling back to stdout\n", cfg.Output, err)
			output = os.Stdout
		} else {
			output = file
		}
	}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(output, opts)
	} else {
		handler = slog.NewTextHandler(output, opts)
	}

	return slog.New(handler)
}
