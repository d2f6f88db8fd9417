package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultIsValid(t *testing.T) {
	config := Default()
	if err := config.Validate(); err != nil {
		t.Fatalf("Expected default configuration to be valid, got: %v", err)
	}

	if config.Audio.SampleRate != 16000 {
		t.Errorf("Expected default sample rate 16000, got %d", config.Audio.SampleRate)
	}

	if config.Rooms.MaxParticipants != 10 {
		t.Errorf("Expected default max participants 10, got %d", config.Rooms.MaxParticipants)
	}
}

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name        string
		mutate      func(c *Config)
		expectError bool
		errorMsg    string
	}{
		{
			name:        "valid configuration",
			mutate:      func(c *Config) {},
			expectError: false,
		},
		{
			name:        "invalid server port",
			mutate:      func(c *Config) { c.Server.Port = 70000 },
			expectError: true,
			errorMsg:    "port must be between 1 and 65535",
		},
		{
			name:        "client path without slash",
			mutate:      func(c *Config) { c.Server.ClientPath = "ws" },
			expectError: true,
			errorMsg:    "client_path must start with '/'",
		},
		{
			name:        "single participant rooms",
			mutate:      func(c *Config) { c.Rooms.MaxParticipants = 1 },
			expectError: true,
			errorMsg:    "max_participants must be at least 2",
		},
		{
			name:        "zero rooms",
			mutate:      func(c *Config) { c.Rooms.MaxRooms = 0 },
			expectError: true,
			errorMsg:    "max_rooms must be at least 1",
		},
		{
			name:        "unsupported sample rate",
			mutate:      func(c *Config) { c.Audio.SampleRate = 4000 },
			expectError: true,
			errorMsg:    "sample_rate must be between",
		},
		{
			name: "segment shorter than silence threshold",
			mutate: func(c *Config) {
				c.Audio.SilenceThreshold = 800
				c.Audio.MaxSegmentDuration = 0.5
			},
			expectError: true,
			errorMsg:    "max_segment_duration",
		},
		{
			name:        "threshold out of range",
			mutate:      func(c *Config) { c.VAD.Threshold = 1.5 },
			expectError: true,
			errorMsg:    "threshold must be between 0 and 1",
		},
		{
			name:        "no pipeline workers",
			mutate:      func(c *Config) { c.Pipeline.Workers = 0 },
			expectError: true,
			errorMsg:    "workers must be at least 1",
		},
		{
			name: "health polling without interval",
			mutate: func(c *Config) {
				c.Translation.HealthEndpoint = "http://mt.local/health"
				c.Translation.HealthInterval = 0
			},
			expectError: true,
			errorMsg:    "health_interval must be at least 1 second",
		},
		{
			name: "tts validated only when enabled",
			mutate: func(c *Config) {
				c.TTS.Enabled = false
				c.TTS.Budget = 0
			},
			expectError: false,
		},
		{
			name: "tts budget too small",
			mutate: func(c *Config) {
				c.TTS.Enabled = true
				c.TTS.Budget = 10
			},
			expectError: true,
			errorMsg:    "budget must be at least 100ms",
		},
		{
			name:        "invalid log level",
			mutate:      func(c *Config) { c.Logging.Level = "trace" },
			expectError: true,
			errorMsg:    "level must be one of",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := Default()
			tt.mutate(&config)

			err := config.Validate()
			if tt.expectError {
				if err == nil {
					t.Errorf("Expected error but got none")
				} else if tt.errorMsg != "" && !strings.Contains(err.Error(), tt.errorMsg) {
					t.Errorf("Expected error to contain '%s', got '%s'", tt.errorMsg, err.Error())
				}
			} else if err != nil {
				t.Errorf("Expected no error but got: %v", err)
			}
		})
	}
}

func TestConfigLoad(t *testing.T) {
	tempDir := t.TempDir()

	tests := []struct {
		name        string
		configYAML  string
		expectError bool
		errorMsg    string
	}{
		{
			name: "partial file keeps defaults",
			configYAML: `
server:
  port: 9000
rooms:
  max_participants: 4
audio:
  silence_threshold: 700
logging:
  level: debug
  format: json
`,
			expectError: false,
		},
		{
			name: "invalid yaml",
			configYAML: `
server:
  port: [not a number
`,
			expectError: true,
			errorMsg:    "failed to parse config file",
		},
		{
			name: "invalid values",
			configYAML: `
rooms:
  max_rooms: -1
`,
			expectError: true,
			errorMsg:    "config validation failed",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			configPath := filepath.Join(tempDir, strings.ReplaceAll(tt.name, " ", "_")+".yaml")
			if err := os.WriteFile(configPath, []byte(tt.configYAML), 0644); err != nil {
				t.Fatalf("Failed to write test config: %v", err)
			}

			config, err := Load(configPath)
			if tt.expectError {
				if err == nil {
					t.Fatalf("Expected error but got none")
				}
				if !strings.Contains(err.Error(), tt.errorMsg) {
					t.Errorf("Expected error to contain '%s', got '%s'", tt.errorMsg, err.Error())
				}
				return
			}

			if err != nil {
				t.Fatalf("Expected no error but got: %v", err)
			}
			if config.Server.Port != 9000 {
				t.Errorf("Expected port 9000, got %d", config.Server.Port)
			}
			if config.Rooms.MaxParticipants != 4 {
				t.Errorf("Expected max participants 4, got %d", config.Rooms.MaxParticipants)
			}
			if config.Rooms.MaxRooms != 100 {
				t.Errorf("Expected default max rooms 100 to survive, got %d", config.Rooms.MaxRooms)
			}
			if config.Audio.GetSilenceThreshold() != 700*time.Millisecond {
				t.Errorf("Expected 700ms silence threshold, got %v", config.Audio.GetSilenceThreshold())
			}
		})
	}
}

func TestConfigLoadNonexistentFile(t *testing.T) {
	_, err := Load("/nonexistent/config.yaml")
	if err == nil {
		t.Errorf("Expected error for nonexistent file but got none")
	} else if !strings.Contains(err.Error(), "failed to read config file") {
		t.Errorf("Expected error about reading file, got: %v", err)
	}
}

func TestEnvironmentOverrides(t *testing.T) {
	t.Setenv("BABBLEFISH_ROOMS_MAX_PARTICIPANTS", "3")
	t.Setenv("BABBLEFISH_AUDIO_SAMPLE_RATE", "8000")
	t.Setenv("BABBLEFISH_TRANSLATION_ENDPOINT", "http://mt.local/translate")
	t.Setenv("BABBLEFISH_TRANSLATION_HEALTH_ENDPOINT", "http://mt.local/health")
	t.Setenv("BABBLEFISH_TTS_MIN_VRAM_F5TTS", "6000")

	config := Default()
	if err := ApplyEnv(&config); err != nil {
		t.Fatalf("Failed to apply environment: %v", err)
	}

	if config.Rooms.MaxParticipants != 3 {
		t.Errorf("Expected max participants 3, got %d", config.Rooms.MaxParticipants)
	}
	if config.Audio.SampleRate != 8000 {
		t.Errorf("Expected sample rate 8000, got %d", config.Audio.SampleRate)
	}
	if config.Translation.Endpoint != "http://mt.local/translate" {
		t.Errorf("Expected translation endpoint override, got '%s'", config.Translation.Endpoint)
	}
	if config.Translation.HealthEndpoint != "http://mt.local/health" {
		t.Errorf("Expected health endpoint override, got '%s'", config.Translation.HealthEndpoint)
	}
	if config.TTS.MinVRAMF5TTS != 6000 {
		t.Errorf("Expected min vram 6000, got %d", config.TTS.MinVRAMF5TTS)
	}
	if config.Rooms.MaxRooms != 100 {
		t.Errorf("Expected untouched max rooms 100, got %d", config.Rooms.MaxRooms)
	}
}

func TestDurationHelpers(t *testing.T) {
	config := Default()

	if config.Rooms.GetIdleTimeout() != time.Hour {
		t.Errorf("Expected 1 hour idle timeout, got %v", config.Rooms.GetIdleTimeout())
	}
	if config.Rooms.GetSweepInterval() != time.Minute {
		t.Errorf("Expected 1 minute sweep interval, got %v", config.Rooms.GetSweepInterval())
	}
	if config.Audio.GetChunkDuration() != 300*time.Millisecond {
		t.Errorf("Expected 300ms chunks, got %v", config.Audio.GetChunkDuration())
	}
	if config.Audio.GetMaxSegmentDuration() != 5*time.Second {
		t.Errorf("Expected 5s max segment, got %v", config.Audio.GetMaxSegmentDuration())
	}
	if config.Translation.GetHealthInterval() != 30*time.Second {
		t.Errorf("Expected 30s health interval, got %v", config.Translation.GetHealthInterval())
	}
	if config.TTS.GetBudget() != 2*time.Second {
		t.Errorf("Expected 2s budget, got %v", config.TTS.GetBudget())
	}
}
