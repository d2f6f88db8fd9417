package tts

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/samber/lo"

	"github.com/Dankular/Babblefish/internal/protocol"
)

// Synthesis models a local client may run
const (
	ModelF5TTS  = "f5-tts"
	ModelKokoro = "kokoro"
)

// Attempt outcomes reported to RouterConfig.OnAttempt
const (
	OutcomeOK       = "ok"
	OutcomeError    = "error"
	OutcomeUnusable = "unusable"
)

// RouterConfig contains synthesis routing configuration
type RouterConfig struct {
	Enabled          bool
	Budget           time.Duration
	MaxServerClients int
	MinVRAMF5TTS     int // MB
	MinVRAMKokoro    int // MB

	// OnAttempt is called after every backend attempt
	OnAttempt func(backend, outcome string)
}

// RouterStats represents router statistics
type RouterStats struct {
	Enabled       bool                         `json:"enabled"`
	Backends      []string                     `json:"backends"`
	ServerClients int                          `json:"server_clients"`
	MaxServer     int                          `json:"max_server_clients"`
	Voices        int                          `json:"voice_references"`
	Attempts      map[string]map[string]uint64 `json:"attempts"`
}

// Router picks a synthesis backend per request and assigns synthesis modes
// to joining participants
type Router struct {
	config RouterConfig
	logger *slog.Logger
	voices *VoiceCache

	voiceBackends []VoiceBackend
	backends      []Backend
	fallback      Backend

	serverClients int
	attempts      map[string]map[string]uint64

	mu sync.RWMutex
}

// NewRouter creates a router with no backends
func NewRouter(config RouterConfig, logger *slog.Logger) *Router {
	if config.Budget <= 0 {
		config.Budget = 2 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Router{
		config:   config,
		logger:   logger.With(slog.String("component", "tts")),
		voices:   NewVoiceCache(),
		attempts: make(map[string]map[string]uint64),
	}
}

// RegisterVoiceBackend adds a trained-voice provider
func (r *Router) RegisterVoiceBackend(b VoiceBackend) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.voiceBackends = append(r.voiceBackends, b)
}

// RegisterBackend adds a general backend. Backends are tried in
// registration order.
func (r *Router) RegisterBackend(b Backend) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.backends = append(r.backends, b)
}

// SetFallback sets the last-resort backend
func (r *Router) SetFallback(b Backend) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fallback = b
}

// Enabled reports whether server-side synthesis is switched on
func (r *Router) Enabled() bool {
	return r.config.Enabled
}

// Synthesize walks the tiers until one backend produces usable audio. At
// most the configured budget is spent.
func (r *Router) Synthesize(ctx context.Context, req *Request) (*Synthesis, error) {
	if !r.config.Enabled {
		return nil, ErrNoBackend
	}

	ctx, cancel := context.WithTimeout(ctx, r.config.Budget)
	defer cancel()

	if req.VoiceData == "" {
		if ref, ok := r.voices.Get(req.SpeakerID); ok {
			req.VoiceData = ref.Data
		}
	}

	tried := make(map[string]struct{})
	var lastErr error
	for _, b := range r.candidates(req) {
		if _, ok := tried[b.Name()]; ok {
			continue
		}
		tried[b.Name()] = struct{}{}

		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrNoBackend, err)
		}

		syn, err := b.Synthesize(ctx, req)
		switch {
		case err != nil:
			r.record(b.Name(), OutcomeError)
			lastErr = err
			r.logger.Debug("Synthesis backend failed",
				slog.String("backend", b.Name()),
				slog.String("lang", req.TargetLang),
				slog.String("error", err.Error()))
			continue
		case syn == nil || !usable(syn.Audio):
			r.record(b.Name(), OutcomeUnusable)
			lastErr = ErrUnusableAudio
			continue
		}

		r.record(b.Name(), OutcomeOK)
		if syn.Engine == "" {
			syn.Engine = b.Name()
		}
		return syn, nil
	}

	if lastErr != nil {
		return nil, fmt.Errorf("%w: %w", ErrNoBackend, lastErr)
	}
	return nil, ErrNoBackend
}

// candidates lists backends in priority order for the request
func (r *Router) candidates(req *Request) []Backend {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Backend
	for _, b := range r.voiceBackends {
		if b.HasVoice(req.SpeakerID) {
			out = append(out, b)
		}
	}
	out = append(out, lo.Filter(r.backends, func(b Backend, _ int) bool {
		return b.Supports(req.TargetLang)
	})...)
	if r.fallback != nil && r.fallback.Supports(req.TargetLang) {
		out = append(out, r.fallback)
	}
	return out
}

// AssignMode chooses the synthesis mode for a joining participant. A
// server assignment takes a slot that must be given back with Release.
func (r *Router) AssignMode(caps protocol.Capabilities) (mode, model string) {
	switch caps.PreferredMode {
	case protocol.ModeLocal:
		if !caps.WebGPU {
			return protocol.ModeNone, ""
		}
		switch {
		case caps.VRAMEstimate >= r.config.MinVRAMF5TTS:
			return protocol.ModeLocal, ModelF5TTS
		case caps.VRAMEstimate >= r.config.MinVRAMKokoro:
			return protocol.ModeLocal, ModelKokoro
		}
	case protocol.ModeServer:
		if !r.config.Enabled {
			return protocol.ModeNone, ""
		}
		r.mu.Lock()
		defer r.mu.Unlock()
		if r.serverClients < r.config.MaxServerClients {
			r.serverClients++
			return protocol.ModeServer, ""
		}
	}
	return protocol.ModeNone, ""
}

// Release frees the slot held by a participant with the given mode
func (r *Router) Release(mode string) {
	if mode != protocol.ModeServer {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.serverClients > 0 {
		r.serverClients--
	}
}

// StoreVoiceReference caches a speaker's reference recording
func (r *Router) StoreVoiceReference(speakerID, data string, sampleRate int) {
	r.voices.Store(speakerID, data, sampleRate)
}

// VoiceReference returns a speaker's cached reference recording
func (r *Router) VoiceReference(speakerID string) (VoiceReference, bool) {
	return r.voices.Get(speakerID)
}

// ForgetVoice drops a speaker's cached reference
func (r *Router) ForgetVoice(speakerID string) {
	r.voices.Delete(speakerID)
}

func (r *Router) record(backend, outcome string) {
	r.mu.Lock()
	byOutcome, ok := r.attempts[backend]
	if !ok {
		byOutcome = make(map[string]uint64)
		r.attempts[backend] = byOutcome
	}
	byOutcome[outcome]++
	r.mu.Unlock()

	if r.config.OnAttempt != nil {
		r.config.OnAttempt(backend, outcome)
	}
}

// GetStats returns current router statistics
func (r *Router) GetStats() RouterStats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := lo.Map(r.backends, func(b Backend, _ int) string { return b.Name() })
	for _, b := range r.voiceBackends {
		if !lo.Contains(names, b.Name()) {
			names = append(names, b.Name())
		}
	}
	if r.fallback != nil {
		names = append(names, r.fallback.Name())
	}

	attempts := make(map[string]map[string]uint64, len(r.attempts))
	for backend, byOutcome := range r.attempts {
		attempts[backend] = lo.Assign(byOutcome)
	}

	return RouterStats{
		Enabled:       r.config.Enabled,
		Backends:      names,
		ServerClients: r.serverClients,
		MaxServer:     r.config.MaxServerClients,
		Voices:        r.voices.Len(),
		Attempts:      attempts,
	}
}
