package vad

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/Dankular/Babblefish/internal/audio"
)

// Scorer estimates the probability that a chunk of PCM16 audio contains speech
type Scorer interface {
	SpeechProbability(samples []int16) (float32, error)
}

// ScorerFunc adapts a plain function to the Scorer interface
type ScorerFunc func(samples []int16) (float32, error)

// SpeechProbability calls f(samples)
func (f ScorerFunc) SpeechProbability(samples []int16) (float32, error) {
	return f(samples)
}

// Processor is an energy-based speech scorer. The chunk RMS is mapped
// linearly onto [0, 1], saturating at energyScale.
type Processor struct {
	energyScale float64
	threshold   float32

	// Statistics
	totalChunks   uint64
	voiceChunks   uint64
	lastProcessed time.Time

	mu sync.RWMutex
}

// ProcessorStats represents VAD processor statistics
type ProcessorStats struct {
	TotalChunks     uint64    `json:"total_chunks"`
	VoiceChunks     uint64    `json:"voice_chunks"`
	VoicePercentage float64   `json:"voice_percentage"`
	LastProcessed   time.Time `json:"last_processed"`
	Threshold       float32   `json:"threshold"`
	EnergyScale     float64   `json:"energy_scale"`
}

// NewProcessor creates an energy scorer. threshold is only used for the
// voice percentage in stats; the segmenter applies its own threshold.
func NewProcessor(energyScale float64, threshold float32) (*Processor, error) {
	if energyScale <= 0 {
		return nil, fmt.Errorf("energy scale must be positive, got %f", energyScale)
	}

	if threshold < 0 || threshold > 1 {
		return nil, fmt.Errorf("threshold must be between 0 and 1, got %f", threshold)
	}

	return &Processor{
		energyScale: energyScale,
		threshold:   threshold,
	}, nil
}

// SpeechProbability implements Scorer
func (p *Processor) SpeechProbability(samples []int16) (float32, error) {
	if len(samples) == 0 {
		return 0, fmt.Errorf("empty audio chunk")
	}

	probability := float32(math.Min(audio.RMS(samples)/p.energyScale, 1.0))

	p.mu.Lock()
	p.totalChunks++
	if probability > p.threshold {
		p.voiceChunks++
	}
	p.lastProcessed = time.Now()
	p.mu.Unlock()

	return probability, nil
}

// GetStats returns current processor statistics
func (p *Processor) GetStats() ProcessorStats {
	p.mu.RLock()
	defer p.mu.RUnlock()

	voicePercentage := float64(0)
	if p.totalChunks > 0 {
		voicePercentage = float64(p.voiceChunks) / float64(p.totalChunks) * 100
	}

	return ProcessorStats{
		TotalChunks:     p.totalChunks,
		VoiceChunks:     p.voiceChunks,
		VoicePercentage: voicePercentage,
		LastProcessed:   p.lastProcessed,
		Threshold:       p.threshold,
		EnergyScale:     p.energyScale,
	}
}
