package tts

import (
	"context"
	"errors"

	"github.com/samber/lo"

	"github.com/Dankular/Babblefish/internal/audio"
)

var (
	// ErrNoBackend is returned when every tier failed or none is registered
	ErrNoBackend = errors.New("no synthesis backend available")
	// ErrAcceleratorUnavailable is returned when the remote accelerator is
	// disconnected or did not answer in time
	ErrAcceleratorUnavailable = errors.New("synthesis accelerator unavailable")
	// ErrUnusableAudio is returned when a backend produced empty or silent audio
	ErrUnusableAudio = errors.New("synthesized audio is empty or silent")
)

// Request is one text to synthesize in one language
type Request struct {
	Text        string
	SpeakerID   string
	SpeakerName string
	TargetLang  string
	VoiceData   string // base64 reference recording, optional
}

// Synthesis is audio produced by a backend
type Synthesis struct {
	Audio  []byte // WAV or raw PCM16
	Engine string
}

// Backend synthesizes speech
type Backend interface {
	Name() string
	Supports(lang string) bool
	Synthesize(ctx context.Context, req *Request) (*Synthesis, error)
}

// VoiceBackend is a backend holding trained voices for specific speakers
type VoiceBackend interface {
	Backend
	HasVoice(speakerID string) bool
}

// BackendFunc adapts a function into a Backend supporting the given languages.
// An empty language list supports every language.
type BackendFunc struct {
	BackendName string
	Languages   []string
	Fn          func(ctx context.Context, req *Request) (*Synthesis, error)
}

func (b *BackendFunc) Name() string { return b.BackendName }

func (b *BackendFunc) Supports(lang string) bool {
	return len(b.Languages) == 0 || lo.Contains(b.Languages, lang)
}

func (b *BackendFunc) Synthesize(ctx context.Context, req *Request) (*Synthesis, error) {
	return b.Fn(ctx, req)
}

// usable reports whether synthesized audio contains any signal
func usable(data []byte) bool {
	if len(data) == 0 {
		return false
	}

	samples, _, err := audio.DecodeWAV(data)
	if err != nil {
		samples, err = audio.BytesToSamples(data)
		if err != nil {
			return false
		}
	}

	return len(samples) > 0 && !audio.IsSilent(samples)
}
