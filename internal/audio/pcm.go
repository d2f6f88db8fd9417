package audio

import (
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"math"
	"time"
)

// DecodeBase64PCM decodes a client audio frame: base64 of little-endian PCM16 mono
func DecodeBase64PCM(data string) ([]int16, error) {
	raw, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return nil, fmt.Errorf("invalid base64 audio: %w", err)
	}
	return BytesToSamples(raw)
}

// EncodeBase64 returns the standard base64 form used for binary fields on the wire
func EncodeBase64(data []byte) string {
	return base64.StdEncoding.EncodeToString(data)
}

// BytesToSamples converts little-endian PCM16 bytes to samples
func BytesToSamples(raw []byte) ([]int16, error) {
	if len(raw)%2 != 0 {
		return nil, fmt.Errorf("PCM16 data must have an even length, got %d bytes", len(raw))
	}

	samples := make([]int16, len(raw)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(raw[i*2:]))
	}
	return samples, nil
}

// SamplesToBytes converts samples to little-endian PCM16 bytes
func SamplesToBytes(samples []int16) []byte {
	raw := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(raw[i*2:], uint16(s))
	}
	return raw
}

// SamplesDuration converts a sample count to wall-clock duration
func SamplesDuration(n, sampleRate int) time.Duration {
	if sampleRate <= 0 {
		return 0
	}
	return time.Duration(int64(n) * int64(time.Second) / int64(sampleRate))
}

// DurationSamples converts a duration to a sample count at sampleRate
func DurationSamples(d time.Duration, sampleRate int) int {
	return int(int64(d) * int64(sampleRate) / int64(time.Second))
}

// RMS returns the root-mean-square level of the samples
func RMS(samples []int16) float64 {
	if len(samples) == 0 {
		return 0
	}

	var sum float64
	for _, s := range samples {
		v := float64(s)
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(samples)))
}

// SilenceLevel is the RMS at or below which audio is considered pure silence
const SilenceLevel = 1.0

// IsSilent reports whether samples carry no audible signal
func IsSilent(samples []int16) bool {
	return RMS(samples) <= SilenceLevel
}
