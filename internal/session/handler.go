package session

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/Dankular/Babblefish/internal/audio"
	"github.com/Dankular/Babblefish/internal/metrics"
	"github.com/Dankular/Babblefish/internal/pipeline"
	"github.com/Dankular/Babblefish/internal/protocol"
	"github.com/Dankular/Babblefish/internal/room"
	"github.com/Dankular/Babblefish/internal/tts"
	"github.com/Dankular/Babblefish/internal/vad"
)

// Transport is the client connection a session runs over. Send must not
// block. Close flushes queued messages before closing.
type Transport interface {
	room.Sink
	Close() error
}

// Pipeline turns an utterance into text and translations
type Pipeline interface {
	Process(ctx context.Context, utterance *vad.Utterance, targets []string) (*pipeline.Result, error)
}

// Config contains per-connection settings
type Config struct {
	Segmenter   vad.SegmenterConfig
	VADEnabled  bool
	EnergyScale float64

	// Expected client chunk length. Chunks far off it are counted and
	// logged. Zero disables the check.
	ChunkDuration time.Duration

	// Inbound message rate limit. Zero disables limiting.
	MessagesPerSecond float64
	MessageBurst      int
}

// Deps are the shared services every session uses
type Deps struct {
	Rooms    *room.Manager
	Pipeline Pipeline
	TTS      *tts.Router      // optional
	Metrics  *metrics.Metrics // optional
	Logger   *slog.Logger
}

// Stats represents handler statistics
type Stats struct {
	ActiveSessions int    `json:"active_sessions"`
	TotalSessions  uint64 `json:"total_sessions"`
	Panics         uint64 `json:"panics"`
}

// Handler runs client sessions
type Handler struct {
	config  Config
	rooms   *room.Manager
	pipe    Pipeline
	tts     *tts.Router
	metrics *metrics.Metrics
	logger  *slog.Logger

	active int
	total  uint64
	panics uint64
	mu     sync.Mutex

	synthesis sync.WaitGroup
}

// NewHandler creates a session handler
func NewHandler(config Config, deps Deps) (*Handler, error) {
	if deps.Rooms == nil {
		return nil, fmt.Errorf("room manager is required")
	}
	if deps.Pipeline == nil {
		return nil, fmt.Errorf("pipeline is required")
	}
	if config.Segmenter.SampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive")
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.NewMetrics(prometheus.NewRegistry())
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	return &Handler{
		config:  config,
		rooms:   deps.Rooms,
		pipe:    deps.Pipeline,
		tts:     deps.TTS,
		metrics: deps.Metrics,
		logger:  deps.Logger.With(slog.String("component", "session")),
	}, nil
}

// Serve runs the dispatch loop for one connection until the client leaves,
// frames is closed, or ctx is cancelled. Frames are raw inbound text
// messages delivered by the connection's reader goroutine. The transport is
// closed before Serve returns.
func (h *Handler) Serve(ctx context.Context, t Transport, frames <-chan []byte) {
	s := h.newSession(t)
	h.track(1)
	h.metrics.ConnectionOpened()

	defer func() {
		s.close()
		h.track(-1)
		h.metrics.ConnectionClosed()
	}()

	s.logger.Debug("Session started")

	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-frames:
			if !ok {
				return
			}
			if !h.dispatch(ctx, s, data) {
				return
			}
		}
	}
}

// dispatch handles one frame. A panic ends only this session.
func (h *Handler) dispatch(ctx context.Context, s *session, data []byte) (keepOpen bool) {
	defer func() {
		if r := recover(); r != nil {
			h.mu.Lock()
			h.panics++
			h.mu.Unlock()
			s.logger.Error("Session panicked",
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())))
			keepOpen = false
		}
	}()

	return s.handleFrame(ctx, data)
}

func (h *Handler) newSession(t Transport) *session {
	id := uuid.NewString()

	var limiter *rate.Limiter
	if h.config.MessagesPerSecond > 0 {
		burst := h.config.MessageBurst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(h.config.MessagesPerSecond), burst)
	}

	return &session{
		id:        id,
		h:         h,
		transport: t,
		limiter:   limiter,
		state:     StateConnected,
		createdAt: time.Now(),
		logger:    h.logger.With(slog.String("session", id)),
	}
}

// newSegmenter returns the participant's segmenter and, when VAD is
// enabled, the energy scorer feeding it
func (h *Handler) newSegmenter(logger *slog.Logger) (*vad.Segmenter, *vad.Processor, error) {
	var (
		scorer vad.Scorer
		proc   *vad.Processor
	)
	if h.config.VADEnabled {
		var err error
		proc, err = vad.NewProcessor(h.config.EnergyScale, h.config.Segmenter.Threshold)
		if err != nil {
			return nil, nil, err
		}
		scorer = vad.ScorerFunc(func(chunk []int16) (float32, error) {
			prob, err := proc.SpeechProbability(chunk)
			if err == nil {
				h.metrics.RecordSpeechProbability(prob)
			}
			return prob, err
		})
	}

	segmenter, err := vad.NewSegmenter(h.config.Segmenter, scorer, logger)
	if err != nil {
		return nil, nil, err
	}
	return segmenter, proc, nil
}

// deliverAudio synthesizes each language and sends the audio to the
// server-synthesis members of that language still in the room. Languages
// are delivered as they finish; failures leave those recipients text-only.
func (h *Handler) deliverAudio(ctx context.Context, r *room.Room, speaker *room.Participant,
	msg *protocol.Translation, texts map[string]string, logger *slog.Logger) {

	startTime := time.Now()
	defer func() { h.metrics.RecordTTSDuration(time.Since(startTime).Seconds()) }()

	var g errgroup.Group
	for lang, text := range texts {
		g.Go(func() error {
			syn, err := h.tts.Synthesize(ctx, &tts.Request{
				Text:        text,
				SpeakerID:   speaker.SpeakerID,
				SpeakerName: speaker.Name,
				TargetLang:  lang,
			})
			if err != nil {
				logger.Debug("Synthesis skipped",
					slog.String("lang", lang),
					slog.String("error", err.Error()))
				return nil
			}
			if r.Closed() {
				return nil
			}

			voiced := protocol.NewTranslationAudio(msg, lang, audio.EncodeBase64(syn.Audio), syn.Engine)
			res := r.BroadcastFunc(func(recipient *room.Participant) protocol.Message {
				if recipient.TTSMode == protocol.ModeServer && recipient.Language == lang {
					return voiced
				}
				return nil
			}, speaker.ID)
			h.metrics.RecordDeliveryFailures(res.Failed)
			return nil
		})
	}
	g.Wait()
}

// Wait blocks until audio deliveries started by sessions have finished.
// Each is bounded by the synthesis budget.
func (h *Handler) Wait() {
	h.synthesis.Wait()
}

func (h *Handler) updateRoomGauges() {
	h.metrics.SetRoomGauges(h.rooms.RoomCount(), h.rooms.TotalParticipants())
}

func (h *Handler) track(delta int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.active += delta
	if delta > 0 {
		h.total++
	}
}

// GetStats returns current handler statistics
func (h *Handler) GetStats() Stats {
	h.mu.Lock()
	defer h.mu.Unlock()
	return Stats{
		ActiveSessions: h.active,
		TotalSessions:  h.total,
		Panics:         h.panics,
	}
}
