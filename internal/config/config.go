package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is the prefix for environment overrides, e.g. BABBLEFISH_ROOMS_MAX_ROOMS.
const EnvPrefix = "BABBLEFISH"

// DotEnvFile is read (if present) before environment overrides are applied
const DotEnvFile = ".env"

// Config represents the complete service configuration
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Rooms       RoomsConfig       `yaml:"rooms"`
	Audio       AudioConfig       `yaml:"audio"`
	VAD         VADConfig         `yaml:"vad"`
	ASR         ASRConfig         `yaml:"asr"`
	Translation TranslationConfig `yaml:"translation"`
	Pipeline    PipelineConfig    `yaml:"pipeline"`
	TTS         TTSConfig         `yaml:"tts"`
	Logging     LoggingConfig     `yaml:"logging"`
}

// ServerConfig contains HTTP/WebSocket server configuration
type ServerConfig struct {
	Port              int      `yaml:"port" split_words:"true"`
	BindAddress       string   `yaml:"bind_address" split_words:"true"`
	ClientPath        string   `yaml:"client_path" split_words:"true"`
	MaxMessageSize    int64    `yaml:"max_message_size" split_words:"true"`    // bytes
	SendQueueSize     int      `yaml:"send_queue_size" split_words:"true"`     // outbound messages per connection
	MessagesPerSecond float64  `yaml:"messages_per_second" split_words:"true"` // inbound, per connection
	MessageBurst      int      `yaml:"message_burst" split_words:"true"`
	UpgradesPerSecond float64  `yaml:"upgrades_per_second" split_words:"true"` // per remote address
	AllowedOrigins    []string `yaml:"allowed_origins" split_words:"true"`     // empty allows any origin
}

// RoomsConfig contains room registry limits and sweep settings
type RoomsConfig struct {
	MaxParticipants int `yaml:"max_participants" split_words:"true"`
	MaxRooms        int `yaml:"max_rooms" split_words:"true"`
	IdleTimeout     int `yaml:"idle_timeout" split_words:"true"`   // seconds
	SweepInterval   int `yaml:"sweep_interval" split_words:"true"` // seconds
}

// AudioConfig contains segmentation parameters
type AudioConfig struct {
	SampleRate         int     `yaml:"sample_rate" split_words:"true"`
	ChunkDuration      int     `yaml:"chunk_duration" split_words:"true"`       // milliseconds
	SilenceThreshold   int     `yaml:"silence_threshold" split_words:"true"`    // milliseconds
	MaxSegmentDuration float64 `yaml:"max_segment_duration" split_words:"true"` // seconds
}

// VADConfig contains Voice Activity Detection configuration
type VADConfig struct {
	Enabled     bool    `yaml:"enabled"`
	Threshold   float32 `yaml:"threshold"`
	EnergyScale float64 `yaml:"energy_scale" split_words:"true"` // RMS that maps to probability 1.0
}

// ASRConfig contains speech-to-text API configuration
type ASRConfig struct {
	Endpoint      string `yaml:"endpoint"`
	APIKey        string `yaml:"api_key" split_words:"true"`
	Model         string `yaml:"model"`
	Timeout       int    `yaml:"timeout"` // seconds
	MaxRetries    int    `yaml:"max_retries" split_words:"true"`
	MaxConcurrent int    `yaml:"max_concurrent" split_words:"true"`
}

// TranslationConfig contains machine translation API configuration
type TranslationConfig struct {
	Endpoint       string `yaml:"endpoint"`
	APIKey         string `yaml:"api_key" split_words:"true"`
	Timeout        int    `yaml:"timeout"` // seconds
	MaxConcurrent  int    `yaml:"max_concurrent" split_words:"true"`
	HealthEndpoint string `yaml:"health_endpoint" split_words:"true"`
	HealthInterval int    `yaml:"health_interval" split_words:"true"` // seconds
}

// PipelineConfig contains orchestration limits
type PipelineConfig struct {
	Workers int `yaml:"workers"`
	Timeout int `yaml:"timeout"` // seconds
}

// TTSConfig contains synthesis routing configuration
type TTSConfig struct {
	Enabled           bool     `yaml:"enabled"`
	AcceleratorURL    string   `yaml:"accelerator_url" split_words:"true"`
	RequestTimeout    int      `yaml:"request_timeout" split_words:"true"` // milliseconds
	Budget            int      `yaml:"budget"`                             // milliseconds
	MaxServerClients  int      `yaml:"max_server_clients" split_words:"true"`
	MinVRAMF5TTS      int      `yaml:"min_vram_f5tts" envconfig:"MIN_VRAM_F5TTS"`  // MB
	MinVRAMKokoro     int      `yaml:"min_vram_kokoro" envconfig:"MIN_VRAM_KOKORO"` // MB
	ReconnectMaxDelay int      `yaml:"reconnect_max_delay" split_words:"true"` // seconds
	FallbackURL       string   `yaml:"fallback_url" split_words:"true"`
	FallbackLanguages []string `yaml:"fallback_languages" split_words:"true"` // empty means all
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Default returns the configuration used when nothing overrides it
func Default() Config {
	return Config{
		Server: ServerConfig{
			Port:              8000,
			BindAddress:       "0.0.0.0",
			ClientPath:        "/ws/client",
			MaxMessageSize:    1 << 20,
			SendQueueSize:     256,
			MessagesPerSecond: 50,
			MessageBurst:      100,
			UpgradesPerSecond: 5,
		},
		Rooms: RoomsConfig{
			MaxParticipants: 10,
			MaxRooms:        100,
			IdleTimeout:     3600,
			SweepInterval:   60,
		},
		Audio: AudioConfig{
			SampleRate:         16000,
			ChunkDuration:      300,
			SilenceThreshold:   500,
			MaxSegmentDuration: 5,
		},
		VAD: VADConfig{
			Enabled:     true,
			Threshold:   0.5,
			EnergyScale: 3000,
		},
		ASR: ASRConfig{
			Model:         "whisper-medium",
			Timeout:       30,
			MaxRetries:    2,
			MaxConcurrent: 4,
		},
		Translation: TranslationConfig{
			Timeout:        10,
			MaxConcurrent:  8,
			HealthInterval: 30,
		},
		Pipeline: PipelineConfig{
			Workers: 4,
			Timeout: 60,
		},
		TTS: TTSConfig{
			Enabled:           false,
			RequestTimeout:    5000,
			Budget:            2000,
			MaxServerClients:  4,
			MinVRAMF5TTS:      4096,
			MinVRAMKokoro:     2048,
			ReconnectMaxDelay: 60,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stdout",
		},
	}
}

// Load reads the configuration file (if path is non-empty) on top of the
// defaults, applies .env and BABBLEFISH_* environment overrides, and validates.
func Load(path string) (*Config, error) {
	config := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		if err := yaml.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	if err := godotenv.Load(DotEnvFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load %s: %w", DotEnvFile, err)
	}

	if err := ApplyEnv(&config); err != nil {
		return nil, err
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// ApplyEnv overlays BABBLEFISH_* environment variables onto config.
// Unset variables leave the existing values untouched.
func ApplyEnv(config *Config) error {
	if err := envconfig.Process(EnvPrefix, config); err != nil {
		return fmt.Errorf("failed to apply environment overrides: %w", err)
	}
	return nil
}

// Validate performs comprehensive validation of the configuration
func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server config: %w", err)
	}

	if err := c.Rooms.Validate(); err != nil {
		return fmt.Errorf("rooms config: %w", err)
	}

	if err := c.Audio.Validate(); err != nil {
		return fmt.Errorf("audio config: %w", err)
	}

	if err := c.VAD.Validate(); err != nil {
		return fmt.Errorf("vad config: %w", err)
	}

	if err := c.ASR.Validate(); err != nil {
		return fmt.Errorf("asr config: %w", err)
	}

	if err := c.Translation.Validate(); err != nil {
		return fmt.Errorf("translation config: %w", err)
	}

	if err := c.Pipeline.Validate(); err != nil {
		return fmt.Errorf("pipeline config: %w", err)
	}

	if err := c.TTS.Validate(); err != nil {
		return fmt.Errorf("tts config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	return nil
}

// Validate validates server configuration
func (s *ServerConfig) Validate() error {
	if s.Port < 1 || s.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", s.Port)
	}

	if s.BindAddress == "" {
		return fmt.Errorf("bind_address cannot be empty")
	}

	if s.ClientPath == "" || s.ClientPath[0] != '/' {
		return fmt.Errorf("client_path must start with '/', got '%s'", s.ClientPath)
	}

	if s.MaxMessageSize < 1024 {
		return fmt.Errorf("max_message_size must be at least 1024 bytes, got %d", s.MaxMessageSize)
	}

	if s.SendQueueSize < 1 {
		return fmt.Errorf("send_queue_size must be at least 1, got %d", s.SendQueueSize)
	}

	if s.MessagesPerSecond <= 0 {
		return fmt.Errorf("messages_per_second must be positive, got %f", s.MessagesPerSecond)
	}

	if s.MessageBurst < 1 {
		return fmt.Errorf("message_burst must be at least 1, got %d", s.MessageBurst)
	}

	if s.UpgradesPerSecond <= 0 {
		return fmt.Errorf("upgrades_per_second must be positive, got %f", s.UpgradesPerSecond)
	}

	return nil
}

// Validate validates room limits
func (r *RoomsConfig) Validate() error {
	if r.MaxParticipants < 2 {
		return fmt.Errorf("max_participants must be at least 2, got %d", r.MaxParticipants)
	}

	if r.MaxRooms < 1 {
		return fmt.Errorf("max_rooms must be at least 1, got %d", r.MaxRooms)
	}

	if r.IdleTimeout < 1 {
		return fmt.Errorf("idle_timeout must be at least 1 second, got %d", r.IdleTimeout)
	}

	if r.SweepInterval < 1 {
		return fmt.Errorf("sweep_interval must be at least 1 second, got %d", r.SweepInterval)
	}

	return nil
}

// Validate validates audio configuration
func (a *AudioConfig) Validate() error {
	if a.SampleRate < 8000 || a.SampleRate > 48000 {
		return fmt.Errorf("sample_rate must be between 8000 and 48000 Hz, got %d", a.SampleRate)
	}

	if a.ChunkDuration <= 0 {
		return fmt.Errorf("chunk_duration must be positive, got %d", a.ChunkDuration)
	}

	if a.SilenceThreshold <= 0 {
		return fmt.Errorf("silence_threshold must be positive, got %d", a.SilenceThreshold)
	}

	if a.MaxSegmentDuration*1000 <= float64(a.SilenceThreshold) {
		return fmt.Errorf("max_segment_duration (%.2fs) must be longer than silence_threshold (%dms)",
			a.MaxSegmentDuration, a.SilenceThreshold)
	}

	return nil
}

// Validate validates VAD configuration
func (v *VADConfig) Validate() error {
	if v.Threshold < 0 || v.Threshold > 1 {
		return fmt.Errorf("threshold must be between 0 and 1, got %f", v.Threshold)
	}

	if v.EnergyScale <= 0 {
		return fmt.Errorf("energy_scale must be positive, got %f", v.EnergyScale)
	}

	return nil
}

// Validate validates speech-to-text configuration. An empty endpoint is
// allowed and leaves the server running without transcription.
func (a *ASRConfig) Validate() error {
	if a.Timeout < 1 {
		return fmt.Errorf("timeout must be at least 1 second, got %d", a.Timeout)
	}

	if a.MaxRetries < 0 {
		return fmt.Errorf("max_retries cannot be negative, got %d", a.MaxRetries)
	}

	if a.MaxConcurrent < 1 {
		return fmt.Errorf("max_concurrent must be at least 1, got %d", a.MaxConcurrent)
	}

	return nil
}

// Validate validates translation configuration. An empty endpoint means
// every translation degrades to pass-through text.
func (t *TranslationConfig) Validate() error {
	if t.Timeout < 1 {
		return fmt.Errorf("timeout must be at least 1 second, got %d", t.Timeout)
	}

	if t.MaxConcurrent < 1 {
		return fmt.Errorf("max_concurrent must be at least 1, got %d", t.MaxConcurrent)
	}

	if t.HealthEndpoint != "" && t.HealthInterval < 1 {
		return fmt.Errorf("health_interval must be at least 1 second, got %d", t.HealthInterval)
	}

	return nil
}

// Validate validates pipeline configuration
func (p *PipelineConfig) Validate() error {
	if p.Workers < 1 {
		return fmt.Errorf("workers must be at least 1, got %d", p.Workers)
	}

	if p.Timeout < 1 {
		return fmt.Errorf("timeout must be at least 1 second, got %d", p.Timeout)
	}

	return nil
}

// Validate validates TTS configuration
func (t *TTSConfig) Validate() error {
	if !t.Enabled {
		return nil
	}

	if t.RequestTimeout < 100 {
		return fmt.Errorf("request_timeout must be at least 100ms, got %d", t.RequestTimeout)
	}

	if t.Budget < 100 {
		return fmt.Errorf("budget must be at least 100ms, got %d", t.Budget)
	}

	if t.MaxServerClients < 0 {
		return fmt.Errorf("max_server_clients cannot be negative, got %d", t.MaxServerClients)
	}

	if t.MinVRAMKokoro < 0 || t.MinVRAMF5TTS < t.MinVRAMKokoro {
		return fmt.Errorf("min_vram_f5tts (%d) must be >= min_vram_kokoro (%d) >= 0",
			t.MinVRAMF5TTS, t.MinVRAMKokoro)
	}

	if t.ReconnectMaxDelay < 1 {
		return fmt.Errorf("reconnect_max_delay must be at least 1 second, got %d", t.ReconnectMaxDelay)
	}

	return nil
}

// Validate validates logging configuration
func (l *LoggingConfig) Validate() error {
	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[l.Level] {
		return fmt.Errorf("level must be one of [debug, info, warn, error], got '%s'", l.Level)
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("format must be 'json' or 'text', got '%s'", l.Format)
	}

	// Anything other than stdout/stderr is treated as a file path.
	return nil
}

// GetIdleTimeout returns the room idle timeout as a time.Duration
func (r *RoomsConfig) GetIdleTimeout() time.Duration {
	return time.Duration(r.IdleTimeout) * time.Second
}

// GetSweepInterval returns the room sweep interval as a time.Duration
func (r *RoomsConfig) GetSweepInterval() time.Duration {
	return time.Duration(r.SweepInterval) * time.Second
}

// GetChunkDuration returns the nominal client chunk duration
func (a *AudioConfig) GetChunkDuration() time.Duration {
	return time.Duration(a.ChunkDuration) * time.Millisecond
}

// GetSilenceThreshold returns the silence run that ends an utterance
func (a *AudioConfig) GetSilenceThreshold() time.Duration {
	return time.Duration(a.SilenceThreshold) * time.Millisecond
}

// GetMaxSegmentDuration returns the utterance duration cap
func (a *AudioConfig) GetMaxSegmentDuration() time.Duration {
	return time.Duration(a.MaxSegmentDuration * float64(time.Second))
}

// GetTimeoutDuration returns the ASR request timeout as a time.Duration
func (a *ASRConfig) GetTimeoutDuration() time.Duration {
	return time.Duration(a.Timeout) * time.Second
}

// GetTimeoutDuration returns the translation request timeout as a time.Duration
func (t *TranslationConfig) GetTimeoutDuration() time.Duration {
	return time.Duration(t.Timeout) * time.Second
}

// GetHealthInterval returns the readiness polling period
func (t *TranslationConfig) GetHealthInterval() time.Duration {
	return time.Duration(t.HealthInterval) * time.Second
}

// GetTimeoutDuration returns the per-utterance pipeline timeout
func (p *PipelineConfig) GetTimeoutDuration() time.Duration {
	return time.Duration(p.Timeout) * time.Second
}

// GetRequestTimeout returns the accelerator reply timeout
func (t *TTSConfig) GetRequestTimeout() time.Duration {
	return time.Duration(t.RequestTimeout) * time.Millisecond
}

// GetBudget returns the maximum time synthesis may delay a translation
func (t *TTSConfig) GetBudget() time.Duration {
	return time.Duration(t.Budget) * time.Millisecond
}

// GetReconnectMaxDelay returns the accelerator reconnect backoff cap
func (t *TTSConfig) GetReconnectMaxDelay() time.Duration {
	return time.Duration(t.ReconnectMaxDelay) * time.Second
}
