package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/samber/lo"

	"github.com/Dankular/Babblefish/internal/config"
	"github.com/Dankular/Babblefish/internal/metrics"
	"github.com/Dankular/Babblefish/internal/pipeline"
	"github.com/Dankular/Babblefish/internal/room"
	"github.com/Dankular/Babblefish/internal/session"
	"github.com/Dankular/Babblefish/internal/tts"
)

const (
	// ServiceName is reported by the status endpoints
	ServiceName = "babblefish"
	// ServiceVersion is reported by the status endpoints
	ServiceVersion = "1.0.0"

	inboundFrameQueue = 16
)

// StatsFunc reports statistics of an optional component for /stats
type StatsFunc func() any

// Deps are the services the HTTP server exposes
type Deps struct {
	Config   *config.Config
	Rooms    *room.Manager
	Sessions *session.Handler
	Pipeline *pipeline.Orchestrator
	TTS      *tts.Router        // optional
	Metrics  *metrics.Metrics
	Gatherer prometheus.Gatherer // nil means the default registry

	// Components adds named entries (e.g. "transcription") to /stats
	Components map[string]StatsFunc

	Logger *slog.Logger
}

// Server accepts client WebSocket connections and serves monitoring endpoints
type Server struct {
	server   *http.Server
	listener net.Listener
	logger   *slog.Logger
	config   *config.Config
	deps     Deps

	upgrader websocket.Upgrader
	limiter  *upgradeLimiter
	origins  map[string]bool

	// Server state
	ctx       context.Context
	cancel    context.CancelFunc
	conns     sync.WaitGroup
	startTime time.Time
}

// New creates the HTTP server
func New(deps Deps) (*Server, error) {
	if deps.Config == nil {
		return nil, fmt.Errorf("config is required")
	}
	if deps.Rooms == nil || deps.Sessions == nil || deps.Pipeline == nil {
		return nil, fmt.Errorf("rooms, sessions and pipeline are required")
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.NewMetrics(prometheus.NewRegistry())
	}
	if deps.Gatherer == nil {
		deps.Gatherer = prometheus.DefaultGatherer
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	cfg := deps.Config.Server
	ctx, cancel := context.WithCancel(context.Background())

	s := &Server{
		logger: deps.Logger.With(slog.String("component", "http")),
		config: deps.Config,
		deps:   deps,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 * 1024,
			WriteBufferSize: 64 * 1024,
			// Origins are checked before the upgrade so rejections can be counted
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		limiter: newUpgradeLimiter(cfg.UpgradesPerSecond, int(math.Ceil(cfg.UpgradesPerSecond))),
		origins: lo.SliceToMap(cfg.AllowedOrigins, func(o string) (string, bool) {
			return strings.ToLower(o), true
		}),
		ctx:       ctx,
		cancel:    cancel,
		startTime: time.Now(),
	}

	mux := http.NewServeMux()
	s.setupRoutes(mux)

	s.server = &http.Server{
		Addr:              net.JoinHostPort(cfg.BindAddress, fmt.Sprintf("%d", cfg.Port)),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return s, nil
}

// Handler returns the root HTTP handler
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// setupRoutes configures HTTP routes
func (s *Server) setupRoutes(mux *http.ServeMux) {
	// Client connections (long-lived, not timed)
	mux.HandleFunc(s.config.Server.ClientPath, s.handleClient)

	// Health check endpoint
	mux.HandleFunc("/health", s.withMetrics("/health", s.handleHealth))

	// Room monitoring endpoints
	mux.HandleFunc("/rooms", s.withMetrics("/rooms", s.handleRooms))
	mux.HandleFunc("/rooms/", s.withMetrics("/rooms/{id}", s.handleRoomDetail))

	// Configuration endpoint
	mux.HandleFunc("/config", s.withMetrics("/config", s.handleConfig))

	// Statistics endpoint
	mux.HandleFunc("/stats", s.withMetrics("/stats", s.handleStats))

	// Prometheus metrics endpoint
	mux.Handle("/metrics", promhttp.HandlerFor(s.deps.Gatherer, promhttp.HandlerOpts{}))

	// Root endpoint with API documentation
	mux.HandleFunc("/", s.withMetrics("/", s.handleRoot))
}

// withMetrics wraps an HTTP handler with metrics collection
func (s *Server) withMetrics(endpoint string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		startTime := time.Now()

		ww := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		handler(ww, r)

		duration := time.Since(startTime).Seconds()
		s.deps.Metrics.RecordHTTPRequest(r.Method, endpoint, fmt.Sprintf("%d", ww.statusCode), duration)

		if ww.statusCode >= 400 {
			errorType := "client_error"
			if ww.statusCode >= 500 {
				errorType = "server_error"
			}
			s.deps.Metrics.RecordHTTPError(r.Method, endpoint, errorType)
		}
	}
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Start binds the listen address and serves in the background
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.server.Addr, err)
	}
	s.listener = listener

	s.logger.Info("Starting HTTP server",
		slog.String("address", listener.Addr().String()),
		slog.String("client_path", s.config.Server.ClientPath),
	)

	go s.limiter.run(s.ctx)
	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("HTTP server error", slog.String("error", err.Error()))
		}
	}()

	return nil
}

// Addr returns the bound address once started
func (s *Server) Addr() string {
	if s.listener == nil {
		return s.server.Addr
	}
	return s.listener.Addr().String()
}

// Stop stops accepting requests, ends every client session and waits for
// their connections to flush, bounded by ctx.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Stopping HTTP server...")

	err := s.server.Shutdown(ctx)
	s.cancel()

	done := make(chan struct{})
	go func() {
		s.conns.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		s.logger.Warn("Client connections still open at shutdown deadline")
		if err == nil {
			err = ctx.Err()
		}
	}
	return err
}

// handleClient upgrades a client connection and runs its session
func (s *Server) handleClient(w http.ResponseWriter, r *http.Request) {
	if !s.limiter.Allow(r) {
		s.deps.Metrics.RecordUpgradeRejected("rate_limited")
		http.Error(w, "Too many connection attempts", http.StatusTooManyRequests)
		return
	}

	if !s.originAllowed(r) {
		s.deps.Metrics.RecordUpgradeRejected("origin")
		s.logger.Warn("Rejected connection from disallowed origin",
			slog.String("origin", r.Header.Get("Origin")),
			slog.String("remote_addr", r.RemoteAddr),
		)
		http.Error(w, "Origin not allowed", http.StatusForbidden)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.deps.Metrics.RecordUpgradeRejected("handshake")
		s.logger.Debug("Failed to upgrade connection", slog.String("error", err.Error()))
		return
	}

	s.conns.Add(1)
	defer s.conns.Done()

	logger := s.logger.With(slog.String("remote_addr", r.RemoteAddr))
	c := newWSConn(conn, s.config.Server.SendQueueSize, s.config.Server.MaxMessageSize, logger)
	frames := make(chan []byte, inboundFrameQueue)

	go c.writePump()
	go c.readPump(frames)

	s.deps.Sessions.Serve(s.ctx, c, frames)
	<-c.writerDone
}

// originAllowed checks the Origin header against the configured allow list.
// An empty list, or a request without Origin, is allowed.
func (s *Server) originAllowed(r *http.Request) bool {
	if len(s.origins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	if s.origins["*"] || s.origins[strings.ToLower(origin)] {
		return true
	}
	if u, err := url.Parse(origin); err == nil && s.origins[strings.ToLower(u.Host)] {
		return true
	}
	return false
}

// handleHealth implements the /health endpoint
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	ready := s.deps.Pipeline.Ready()
	status := "healthy"
	if !ready {
		status = "degraded"
	}

	components := map[string]any{
		"pipeline": s.deps.Pipeline.GetStats(),
		"sessions": s.deps.Sessions.GetStats(),
	}
	if s.deps.TTS != nil {
		components["tts"] = s.deps.TTS.GetStats()
	}

	health := map[string]any{
		"status":           status,
		"ready":            ready,
		"roomCount":        s.deps.Rooms.RoomCount(),
		"participantCount": s.deps.Rooms.TotalParticipants(),
		"timestamp":        time.Now().UTC(),
		"uptime":           time.Since(s.startTime).String(),
		"service": map[string]any{
			"name":    ServiceName,
			"version": ServiceVersion,
		},
		"components": components,
	}

	writeJSON(w, health)
}

// handleRooms implements the /rooms endpoint
func (s *Server) handleRooms(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	rooms := lo.Map(s.deps.Rooms.Rooms(), func(rm *room.Room, _ int) room.Info {
		return rm.Snapshot()
	})

	writeJSON(w, map[string]any{
		"total_rooms": len(rooms),
		"timestamp":   time.Now().UTC(),
		"rooms":       rooms,
	})
}

// handleRoomDetail implements the /rooms/{id} endpoint
func (s *Server) handleRoomDetail(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	roomID := strings.TrimPrefix(r.URL.Path, "/rooms/")
	if roomID == "" {
		http.Error(w, "Room ID required", http.StatusBadRequest)
		return
	}

	rm, exists := s.deps.Rooms.GetRoom(roomID)
	if !exists {
		http.Error(w, "Room not found", http.StatusNotFound)
		return
	}

	writeJSON(w, rm.Snapshot())
}

// handleConfig implements the /config endpoint
func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	cfg := s.config
	// API keys are never exposed
	sanitizedConfig := map[string]any{
		"server": map[string]any{
			"port":                cfg.Server.Port,
			"bind_address":        cfg.Server.BindAddress,
			"client_path":         cfg.Server.ClientPath,
			"max_message_size":    cfg.Server.MaxMessageSize,
			"send_queue_size":     cfg.Server.SendQueueSize,
			"messages_per_second": cfg.Server.MessagesPerSecond,
			"message_burst":       cfg.Server.MessageBurst,
			"upgrades_per_second": cfg.Server.UpgradesPerSecond,
			"allowed_origins":     cfg.Server.AllowedOrigins,
		},
		"rooms": map[string]any{
			"max_participants": cfg.Rooms.MaxParticipants,
			"max_rooms":        cfg.Rooms.MaxRooms,
			"idle_timeout":     cfg.Rooms.IdleTimeout,
			"sweep_interval":   cfg.Rooms.SweepInterval,
		},
		"audio": map[string]any{
			"sample_rate":          cfg.Audio.SampleRate,
			"chunk_duration":       cfg.Audio.ChunkDuration,
			"silence_threshold":    cfg.Audio.SilenceThreshold,
			"max_segment_duration": cfg.Audio.MaxSegmentDuration,
		},
		"vad": map[string]any{
			"enabled":      cfg.VAD.Enabled,
			"threshold":    cfg.VAD.Threshold,
			"energy_scale": cfg.VAD.EnergyScale,
		},
		"asr": map[string]any{
			"endpoint":       cfg.ASR.Endpoint,
			"model":          cfg.ASR.Model,
			"timeout":        cfg.ASR.Timeout,
			"max_retries":    cfg.ASR.MaxRetries,
			"max_concurrent": cfg.ASR.MaxConcurrent,
		},
		"translation": map[string]any{
			"endpoint":       cfg.Translation.Endpoint,
			"timeout":        cfg.Translation.Timeout,
			"max_concurrent": cfg.Translation.MaxConcurrent,
		},
		"pipeline": map[string]any{
			"workers": cfg.Pipeline.Workers,
			"timeout": cfg.Pipeline.Timeout,
		},
		"tts": map[string]any{
			"enabled":            cfg.TTS.Enabled,
			"accelerator_url":    cfg.TTS.AcceleratorURL,
			"request_timeout":    cfg.TTS.RequestTimeout,
			"budget":             cfg.TTS.Budget,
			"max_server_clients": cfg.TTS.MaxServerClients,
			"min_vram_f5tts":     cfg.TTS.MinVRAMF5TTS,
			"min_vram_kokoro":    cfg.TTS.MinVRAMKokoro,
			"fallback_url":       cfg.TTS.FallbackURL,
			"fallback_languages": cfg.TTS.FallbackLanguages,
		},
		"logging": map[string]any{
			"level":  cfg.Logging.Level,
			"format": cfg.Logging.Format,
			"output": cfg.Logging.Output,
		},
	}

	writeJSON(w, sanitizedConfig)
}

// handleStats implements the /stats endpoint
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	stats := map[string]any{
		"uptime":    time.Since(s.startTime).String(),
		"timestamp": time.Now().UTC(),
		"rooms": map[string]any{
			"active_count":      s.deps.Rooms.RoomCount(),
			"participant_count": s.deps.Rooms.TotalParticipants(),
		},
		"sessions": s.deps.Sessions.GetStats(),
		"pipeline": s.deps.Pipeline.GetStats(),
	}
	if s.deps.TTS != nil {
		stats["tts"] = s.deps.TTS.GetStats()
	}
	for name, fn := range s.deps.Components {
		stats[name] = fn()
	}

	writeJSON(w, stats)
}

// handleRoot implements the / endpoint with API documentation
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	apiDoc := map[string]any{
		"service": "Babblefish speech translation hub",
		"version": ServiceVersion,
		"endpoints": map[string]any{
			"GET /":                              "API documentation",
			"GET " + s.config.Server.ClientPath: "Client WebSocket connection",
			"GET /health":                        "Service health check",
			"GET /rooms":                         "List all active rooms",
			"GET /rooms/{room_id}":               "Get detailed room information",
			"GET /config":                        "Get service configuration",
			"GET /stats":                         "Get service statistics",
			"GET /metrics":                       "Prometheus metrics",
		},
		"timestamp": time.Now().UTC(),
	}

	writeJSON(w, apiDoc)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
