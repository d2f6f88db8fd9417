package tts

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/samber/lo"
)

const (
	// Time allowed to write a message to the accelerator.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the accelerator.
	pongWait = 60 * time.Second

	// Send pings with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Synthesized audio for one sentence fits comfortably in this.
	maxMessageSize = 16 << 20
)

// Accelerator message types
const (
	typeReady      = "ready"
	typeTTSRequest = "ttsRequest"
	typeTTSResult  = "ttsResult"
)

// AcceleratorConfig contains remote accelerator configuration
type AcceleratorConfig struct {
	URL                string
	Header             http.Header
	RequestTimeout     time.Duration
	ReconnectBaseDelay time.Duration
	ReconnectMaxDelay  time.Duration
}

type ttsRequest struct {
	Type        string `json:"type"`
	RequestID   string `json:"requestId"`
	Text        string `json:"text"`
	SpeakerID   string `json:"speakerId"`
	SpeakerName string `json:"speakerName"`
	TargetLang  string `json:"targetLang"`
	VoiceData   string `json:"voiceData,omitempty"`
}

// acceleratorMessage covers every message the accelerator sends
type acceleratorMessage struct {
	Type string `json:"type"`

	// ready
	Languages []string `json:"languages,omitempty"`
	Speakers  []string `json:"speakers,omitempty"`

	// ttsResult
	RequestID string  `json:"requestId,omitempty"`
	Audio     string  `json:"audio,omitempty"`
	TTSEngine string  `json:"ttsEngine,omitempty"`
	LatencyMs float64 `json:"latencyMs,omitempty"`
	Error     string  `json:"error,omitempty"`
}

// AcceleratorStats represents accelerator statistics
type AcceleratorStats struct {
	Connected  bool     `json:"connected"`
	Languages  []string `json:"languages"`
	Speakers   int      `json:"speakers"`
	Requests   uint64   `json:"requests"`
	Timeouts   uint64   `json:"timeouts"`
	Failures   uint64   `json:"failures"`
	Reconnects uint64   `json:"reconnects"`
	Pending    int      `json:"pending"`
}

// Accelerator is a remote GPU synthesis server reached over a WebSocket the
// hub dials. Results are matched to requests by id, so replies may arrive
// in any order.
type Accelerator struct {
	config AcceleratorConfig
	logger *slog.Logger
	dialer *websocket.Dialer

	conn      *websocket.Conn
	languages []string
	speakers  map[string]struct{}
	pending   map[string]chan *acceleratorMessage

	requests   uint64
	timeouts   uint64
	failures   uint64
	reconnects uint64

	mu      sync.RWMutex
	writeMu sync.Mutex

	startOnce sync.Once
	stopOnce  sync.Once
	cancel    context.CancelFunc
	done      chan struct{}
}

// NewAccelerator creates an accelerator client. Start must be called to
// connect.
func NewAccelerator(config AcceleratorConfig, logger *slog.Logger) (*Accelerator, error) {
	if config.URL == "" {
		return nil, fmt.Errorf("accelerator URL cannot be empty")
	}
	if config.RequestTimeout <= 0 {
		config.RequestTimeout = 5 * time.Second
	}
	if config.ReconnectBaseDelay <= 0 {
		config.ReconnectBaseDelay = 500 * time.Millisecond
	}
	if config.ReconnectMaxDelay <= 0 {
		config.ReconnectMaxDelay = time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Accelerator{
		config:  config,
		logger:  logger.With(slog.String("component", "accelerator")),
		dialer:  websocket.DefaultDialer,
		pending: make(map[string]chan *acceleratorMessage),
		done:    make(chan struct{}),
	}, nil
}

// Start launches the connection loop
func (a *Accelerator) Start(ctx context.Context) {
	a.startOnce.Do(func() {
		ctx, a.cancel = context.WithCancel(ctx)
		go a.run(ctx)
	})
}

// Stop closes the connection and waits for the loop to exit
func (a *Accelerator) Stop() {
	a.stopOnce.Do(func() {
		a.startOnce.Do(func() {})
		if a.cancel != nil {
			a.cancel()
			<-a.done
		}
	})
}

func (a *Accelerator) run(ctx context.Context) {
	defer close(a.done)

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = a.config.ReconnectBaseDelay
	policy.MaxInterval = a.config.ReconnectMaxDelay

	for {
		conn, _, err := a.dialer.DialContext(ctx, a.config.URL, a.config.Header)
		if err == nil {
			policy.Reset()
			a.logger.Info("Accelerator connected", slog.String("url", a.config.URL))
			a.serve(ctx, conn)
		}
		if ctx.Err() != nil {
			return
		}

		delay := policy.NextBackOff()
		if err != nil {
			a.logger.Warn("Accelerator dial failed",
				slog.String("url", a.config.URL),
				slog.String("error", err.Error()),
				slog.Duration("retry_in", delay))
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}

		a.mu.Lock()
		a.reconnects++
		a.mu.Unlock()
	}
}

// serve reads from one connection until it fails or ctx ends
func (a *Accelerator) serve(ctx context.Context, conn *websocket.Conn) {
	a.mu.Lock()
	a.conn = conn
	a.mu.Unlock()

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()
	defer a.disconnect(conn)

	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	pingDone := make(chan struct{})
	defer close(pingDone)
	go func() {
		ticker := time.NewTicker(pingPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-pingDone:
				return
			case <-ticker.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
					return
				}
			}
		}
	}()

	for {
		var msg acceleratorMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if ctx.Err() == nil {
				a.logger.Warn("Accelerator connection lost", slog.String("error", err.Error()))
			}
			return
		}
		conn.SetReadDeadline(time.Now().Add(pongWait))

		switch msg.Type {
		case typeReady:
			a.setCapabilities(msg.Languages, msg.Speakers)
		case typeTTSResult:
			a.resolve(&msg)
		default:
			a.logger.Debug("Ignoring accelerator message", slog.String("type", msg.Type))
		}
	}
}

func (a *Accelerator) setCapabilities(languages, speakers []string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.languages = append([]string(nil), languages...)
	a.speakers = make(map[string]struct{}, len(speakers))
	for _, s := range speakers {
		a.speakers[s] = struct{}{}
	}

	a.logger.Info("Accelerator ready",
		slog.Int("languages", len(languages)),
		slog.Int("speakers", len(speakers)))
}

func (a *Accelerator) resolve(msg *acceleratorMessage) {
	a.mu.Lock()
	ch, ok := a.pending[msg.RequestID]
	delete(a.pending, msg.RequestID)
	a.mu.Unlock()

	if !ok {
		a.logger.Debug("Dropping late accelerator result", slog.String("request_id", msg.RequestID))
		return
	}
	ch <- msg
}

// disconnect forgets the connection and fails every waiting request
func (a *Accelerator) disconnect(conn *websocket.Conn) {
	conn.Close()

	a.mu.Lock()
	if a.conn == conn {
		a.conn = nil
		a.languages = nil
		a.speakers = nil
	}
	pending := a.pending
	a.pending = make(map[string]chan *acceleratorMessage)
	a.mu.Unlock()

	for _, ch := range pending {
		close(ch)
	}
}

func (a *Accelerator) forget(requestID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.pending, requestID)
}

// Name implements Backend
func (a *Accelerator) Name() string { return "accelerator" }

// Connected reports whether a connection is open
func (a *Accelerator) Connected() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.conn != nil
}

// Supports reports whether the accelerator announced the language
func (a *Accelerator) Supports(lang string) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.conn != nil && lo.Contains(a.languages, lang)
}

// HasVoice reports whether the accelerator announced a trained voice for the speaker
func (a *Accelerator) HasVoice(speakerID string) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.conn == nil {
		return false
	}
	_, ok := a.speakers[speakerID]
	return ok
}

// Synthesize sends a request and waits for its result
func (a *Accelerator) Synthesize(ctx context.Context, req *Request) (*Synthesis, error) {
	requestID := uuid.NewString()
	ch := make(chan *acceleratorMessage, 1)

	a.mu.Lock()
	conn := a.conn
	if conn == nil {
		a.mu.Unlock()
		return nil, ErrAcceleratorUnavailable
	}
	a.pending[requestID] = ch
	a.requests++
	a.mu.Unlock()

	a.writeMu.Lock()
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	err := conn.WriteJSON(ttsRequest{
		Type:        typeTTSRequest,
		RequestID:   requestID,
		Text:        req.Text,
		SpeakerID:   req.SpeakerID,
		SpeakerName: req.SpeakerName,
		TargetLang:  req.TargetLang,
		VoiceData:   req.VoiceData,
	})
	a.writeMu.Unlock()
	if err != nil {
		a.forget(requestID)
		a.countFailure()
		return nil, fmt.Errorf("%w: %w", ErrAcceleratorUnavailable, err)
	}

	timer := time.NewTimer(a.config.RequestTimeout)
	defer timer.Stop()

	select {
	case msg, ok := <-ch:
		if !ok {
			a.countFailure()
			return nil, fmt.Errorf("%w: connection lost", ErrAcceleratorUnavailable)
		}
		if msg.Error != "" {
			a.countFailure()
			return nil, fmt.Errorf("accelerator synthesis failed: %s", msg.Error)
		}
		data, err := base64.StdEncoding.DecodeString(msg.Audio)
		if err != nil {
			a.countFailure()
			return nil, fmt.Errorf("invalid accelerator audio: %w", err)
		}
		a.logger.Debug("Accelerator synthesis complete",
			slog.String("request_id", requestID),
			slog.String("engine", msg.TTSEngine),
			slog.Float64("latency_ms", msg.LatencyMs))
		return &Synthesis{Audio: data, Engine: msg.TTSEngine}, nil

	case <-timer.C:
		a.forget(requestID)
		a.mu.Lock()
		a.timeouts++
		a.mu.Unlock()
		return nil, fmt.Errorf("%w: no result within %s", ErrAcceleratorUnavailable, a.config.RequestTimeout)

	case <-ctx.Done():
		a.forget(requestID)
		return nil, fmt.Errorf("%w: %w", ErrAcceleratorUnavailable, ctx.Err())
	}
}

func (a *Accelerator) countFailure() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.failures++
}

// GetStats returns current accelerator statistics
func (a *Accelerator) GetStats() AcceleratorStats {
	a.mu.RLock()
	defer a.mu.RUnlock()

	return AcceleratorStats{
		Connected:  a.conn != nil,
		Languages:  append([]string(nil), a.languages...),
		Speakers:   len(a.speakers),
		Requests:   a.requests,
		Timeouts:   a.timeouts,
		Failures:   a.failures,
		Reconnects: a.reconnects,
		Pending:    len(a.pending),
	}
}
