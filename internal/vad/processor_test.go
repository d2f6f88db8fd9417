package vad

import (
	"testing"
)

func constantChunk(n int, value int16) []int16 {
	chunk := make([]int16, n)
	for i := range chunk {
		if i%2 == 0 {
			chunk[i] = value
		} else {
			chunk[i] = -value
		}
	}
	return chunk
}

func TestNewProcessorValidation(t *testing.T) {
	tests := []struct {
		name        string
		energyScale float64
		threshold   float32
		expectErr   bool
	}{
		{name: "valid parameters", energyScale: 3000, threshold: 0.5},
		{name: "zero scale", energyScale: 0, threshold: 0.5, expectErr: true},
		{name: "threshold too low", energyScale: 3000, threshold: -0.1, expectErr: true},
		{name: "threshold too high", energyScale: 3000, threshold: 1.1, expectErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewProcessor(tt.energyScale, tt.threshold)
			if tt.expectErr && err == nil {
				t.Error("Expected error but got none")
			}
			if !tt.expectErr && err != nil {
				t.Errorf("Expected no error but got: %v", err)
			}
		})
	}
}

func TestSpeechProbability(t *testing.T) {
	processor, err := NewProcessor(3000, 0.5)
	if err != nil {
		t.Fatalf("Failed to create processor: %v", err)
	}

	tests := []struct {
		name     string
		samples  []int16
		expected float32
	}{
		{name: "silence", samples: make([]int16, 480), expected: 0},
		{name: "half scale", samples: constantChunk(480, 1500), expected: 0.5},
		{name: "saturated", samples: constantChunk(480, 20000), expected: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			prob, err := processor.SpeechProbability(tt.samples)
			if err != nil {
				t.Fatalf("SpeechProbability failed: %v", err)
			}
			if diff := prob - tt.expected; diff > 0.001 || diff < -0.001 {
				t.Errorf("Expected probability %.3f, got %.3f", tt.expected, prob)
			}
		})
	}

	if _, err := processor.SpeechProbability(nil); err == nil {
		t.Error("Expected error for empty chunk")
	}
}

func TestProcessorStats(t *testing.T) {
	processor, err := NewProcessor(3000, 0.5)
	if err != nil {
		t.Fatalf("Failed to create processor: %v", err)
	}

	for i := 0; i < 3; i++ {
		if _, err := processor.SpeechProbability(constantChunk(160, 10000)); err != nil {
			t.Fatalf("SpeechProbability failed: %v", err)
		}
	}
	if _, err := processor.SpeechProbability(make([]int16, 160)); err != nil {
		t.Fatalf("SpeechProbability failed: %v", err)
	}

	stats := processor.GetStats()
	if stats.TotalChunks != 4 {
		t.Errorf("Expected 4 chunks, got %d", stats.TotalChunks)
	}
	if stats.VoiceChunks != 3 {
		t.Errorf("Expected 3 voice chunks, got %d", stats.VoiceChunks)
	}
	if stats.VoicePercentage != 75 {
		t.Errorf("Expected 75%% voice, got %.1f", stats.VoicePercentage)
	}
}
