package vad

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Dankular/Babblefish/internal/audio"
)

// State is the segmenter's speech state
type State int

const (
	StateSilent State = iota
	StateSpeaking
)

func (s State) String() string {
	switch s {
	case StateSilent:
		return "silent"
	case StateSpeaking:
		return "speaking"
	default:
		return "unknown"
	}
}

// Utterance is a contiguous run of one participant's audio, ready for transcription
type Utterance struct {
	Samples    []int16
	SampleRate int
	EmittedAt  time.Time
	Forced     bool // emitted by the length cap or an explicit flush, not by silence
}

// Duration returns the playback length of the utterance
func (u *Utterance) Duration() time.Duration {
	return audio.SamplesDuration(len(u.Samples), u.SampleRate)
}

// SegmenterConfig holds the segmentation parameters
type SegmenterConfig struct {
	SampleRate       int
	Threshold        float32
	SilenceThreshold time.Duration
	MaxSegment       time.Duration
}

// SegmenterStats counts what the segmenter has seen
type SegmenterStats struct {
	ChunksSeen     uint64 `json:"chunks_seen"`
	SpeechChunks   uint64 `json:"speech_chunks"`
	Utterances     uint64 `json:"utterances"`
	ForcedEmits    uint64 `json:"forced_emits"`
	ScorerFailures uint64 `json:"scorer_failures"`
}

// Segmenter turns a stream of audio chunks into utterances.
//
// Speech while silent opens a segment; trailing silence is kept in the segment
// until the silence run reaches the threshold, at which point the segment is
// emitted. A segment reaching the length cap is emitted regardless of state.
// A nil scorer, or a scorer error, counts as speech, which degrades
// segmentation to periodic emission at the cap.
type Segmenter struct {
	scorer Scorer
	logger *slog.Logger

	sampleRate       int
	threshold        float32
	silenceThreshold int // samples
	maxSegment       int // samples

	state   State
	buffer  []int16
	silence int
	stats   SegmenterStats

	mu sync.Mutex
}

// NewSegmenter creates a segmenter. scorer may be nil.
func NewSegmenter(config SegmenterConfig, scorer Scorer, logger *slog.Logger) (*Segmenter, error) {
	if config.SampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %d", config.SampleRate)
	}

	silence := audio.DurationSamples(config.SilenceThreshold, config.SampleRate)
	maxSegment := audio.DurationSamples(config.MaxSegment, config.SampleRate)
	if silence <= 0 {
		return nil, fmt.Errorf("silence threshold must be positive, got %v", config.SilenceThreshold)
	}
	if maxSegment <= silence {
		return nil, fmt.Errorf("max segment (%v) must exceed silence threshold (%v)",
			config.MaxSegment, config.SilenceThreshold)
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &Segmenter{
		scorer:           scorer,
		logger:           logger,
		sampleRate:       config.SampleRate,
		threshold:        config.Threshold,
		silenceThreshold: silence,
		maxSegment:       maxSegment,
		state:            StateSilent,
	}, nil
}

// AddChunk feeds one chunk and returns a completed utterance, or nil
func (s *Segmenter) AddChunk(chunk []int16) *Utterance {
	if len(chunk) == 0 {
		return nil
	}

	isSpeech := s.probability(chunk) > s.threshold

	s.mu.Lock()
	defer s.mu.Unlock()

	s.stats.ChunksSeen++
	if isSpeech {
		s.stats.SpeechChunks++
	}

	switch {
	case isSpeech:
		s.buffer = append(s.buffer, chunk...)
		s.silence = 0
		s.state = StateSpeaking

	case s.state == StateSpeaking:
		s.buffer = append(s.buffer, chunk...)
		s.silence += len(chunk)
		if s.silence >= s.silenceThreshold {
			return s.emitLocked(false)
		}
	}

	if len(s.buffer) >= s.maxSegment {
		return s.emitLocked(true)
	}

	return nil
}

// Flush emits whatever is buffered and resets to silent. It returns nil
// when nothing is buffered.
func (s *Segmenter) Flush() *Utterance {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.emitLocked(true)
}

// State returns the current speech state
func (s *Segmenter) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Buffered returns the number of samples waiting in the current segment
func (s *Segmenter) Buffered() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.buffer)
}

// Stats returns a copy of the segmenter counters
func (s *Segmenter) Stats() SegmenterStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

func (s *Segmenter) probability(chunk []int16) float32 {
	if s.scorer == nil {
		return 1.0
	}

	prob, err := s.scorer.SpeechProbability(chunk)
	if err != nil {
		s.mu.Lock()
		s.stats.ScorerFailures++
		s.mu.Unlock()
		s.logger.Warn("Speech scorer failed, treating chunk as speech",
			slog.String("error", err.Error()))
		return 1.0
	}
	return prob
}

func (s *Segmenter) emitLocked(forced bool) *Utterance {
	defer s.resetLocked()

	if len(s.buffer) == 0 {
		return nil
	}

	s.stats.Utterances++
	if forced {
		s.stats.ForcedEmits++
	}

	return &Utterance{
		Samples:    s.buffer,
		SampleRate: s.sampleRate,
		EmittedAt:  time.Now(),
		Forced:     forced,
	}
}

func (s *Segmenter) resetLocked() {
	s.buffer = nil
	s.silence = 0
	s.state = StateSilent
}
