package tts

import (
	"sync"
	"time"
)

// VoiceReference is a speaker's reference recording
type VoiceReference struct {
	SpeakerID  string
	Data       string // base64
	SampleRate int
	StoredAt   time.Time
}

// VoiceCache holds the latest reference recording per speaker
type VoiceCache struct {
	voices map[string]VoiceReference
	mu     sync.RWMutex
}

// NewVoiceCache creates an empty cache
func NewVoiceCache() *VoiceCache {
	return &VoiceCache{voices: make(map[string]VoiceReference)}
}

// Store replaces the speaker's reference
func (c *VoiceCache) Store(speakerID, data string, sampleRate int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.voices[speakerID] = VoiceReference{
		SpeakerID:  speakerID,
		Data:       data,
		SampleRate: sampleRate,
		StoredAt:   time.Now(),
	}
}

// Get returns the speaker's reference
func (c *VoiceCache) Get(speakerID string) (VoiceReference, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ref, ok := c.voices[speakerID]
	return ref, ok
}

// Delete forgets the speaker's reference
func (c *VoiceCache) Delete(speakerID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.voices, speakerID)
}

// Len returns the number of cached references
func (c *VoiceCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.voices)
}
