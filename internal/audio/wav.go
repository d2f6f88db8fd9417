package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"time"
)

const wavHeaderSize = 44

// ErrNotWAV is returned when a payload does not carry a mono PCM16 WAV header
var ErrNotWAV = errors.New("not a mono PCM16 WAV payload")

// wavHeader is the canonical 44-byte RIFF header for mono PCM16 audio
type wavHeader struct {
	ChunkID       [4]byte // "RIFF"
	ChunkSize     uint32
	Format        [4]byte // "WAVE"
	Subchunk1ID   [4]byte // "fmt "
	Subchunk1Size uint32
	AudioFormat   uint16
	NumChannels   uint16
	SampleRate    uint32
	ByteRate      uint32
	BlockAlign    uint16
	BitsPerSample uint16
	Subchunk2ID   [4]byte // "data"
	Subchunk2Size uint32
}

// EncodeWAV wraps PCM16 samples in a WAV container for upload to the speech backend
func EncodeWAV(samples []int16, sampleRate int) ([]byte, error) {
	if len(samples) == 0 {
		return nil, fmt.Errorf("cannot encode empty audio samples")
	}

	if sampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %d", sampleRate)
	}

	dataSize := uint32(len(samples) * 2)
	header := wavHeader{
		ChunkID:       [4]byte{'R', 'I', 'F', 'F'},
		ChunkSize:     36 + dataSize,
		Format:        [4]byte{'W', 'A', 'V', 'E'},
		Subchunk1ID:   [4]byte{'f', 'm', 't', ' '},
		Subchunk1Size: 16,
		AudioFormat:   1,
		NumChannels:   1,
		SampleRate:    uint32(sampleRate),
		ByteRate:      uint32(sampleRate) * 2,
		BlockAlign:    2,
		BitsPerSample: 16,
		Subchunk2ID:   [4]byte{'d', 'a', 't', 'a'},
		Subchunk2Size: dataSize,
	}

	buf := bytes.NewBuffer(make([]byte, 0, wavHeaderSize+int(dataSize)))
	if err := binary.Write(buf, binary.LittleEndian, header); err != nil {
		return nil, fmt.Errorf("failed to write WAV header: %w", err)
	}
	if err := binary.Write(buf, binary.LittleEndian, samples); err != nil {
		return nil, fmt.Errorf("failed to write audio data: %w", err)
	}

	return buf.Bytes(), nil
}

// DecodeWAV returns the samples and sample rate of a mono PCM16 WAV payload.
// Synthesis backends answer with WAV, so this is used to inspect their output.
func DecodeWAV(data []byte) ([]int16, int, error) {
	if len(data) < wavHeaderSize {
		return nil, 0, fmt.Errorf("%w: %d bytes is shorter than a header", ErrNotWAV, len(data))
	}

	var header wavHeader
	if err := binary.Read(bytes.NewReader(data[:wavHeaderSize]), binary.LittleEndian, &header); err != nil {
		return nil, 0, fmt.Errorf("failed to read WAV header: %w", err)
	}

	switch {
	case string(header.ChunkID[:]) != "RIFF" || string(header.Format[:]) != "WAVE":
		return nil, 0, fmt.Errorf("%w: missing RIFF/WAVE magic", ErrNotWAV)
	case string(header.Subchunk1ID[:]) != "fmt " || string(header.Subchunk2ID[:]) != "data":
		return nil, 0, fmt.Errorf("%w: unexpected chunk layout", ErrNotWAV)
	case header.AudioFormat != 1 || header.BitsPerSample != 16 || header.NumChannels != 1:
		return nil, 0, fmt.Errorf("%w: format=%d bits=%d channels=%d",
			ErrNotWAV, header.AudioFormat, header.BitsPerSample, header.NumChannels)
	}

	// Streaming encoders write 0 or 0xFFFFFFFF when the length is unknown.
	body := data[wavHeaderSize:]
	if size := int(header.Subchunk2Size); size > 0 && size <= len(body) {
		body = body[:size]
	}

	samples, err := BytesToSamples(body)
	if err != nil {
		return nil, 0, err
	}
	return samples, int(header.SampleRate), nil
}

// WAVDuration reports the playback length of a WAV payload
func WAVDuration(data []byte) (time.Duration, error) {
	samples, sampleRate, err := DecodeWAV(data)
	if err != nil {
		return 0, err
	}
	if sampleRate == 0 {
		return 0, fmt.Errorf("invalid sample rate: 0")
	}
	return SamplesDuration(len(samples), sampleRate), nil
}
