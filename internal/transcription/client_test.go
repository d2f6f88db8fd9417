package transcription

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Dankular/Babblefish/internal/audio"
)

func testConfig(endpoint string) Config {
	return Config{
		Endpoint:       endpoint,
		Model:          "whisper-test",
		Timeout:        2 * time.Second,
		MaxRetries:     2,
		MaxConcurrent:  2,
		RetryBaseDelay: 5 * time.Millisecond,
	}
}

func tone(n int) []int16 {
	samples := make([]int16, n)
	for i := range samples {
		samples[i] = int16((i % 50) * 100)
	}
	return samples
}

func TestNewClientValidation(t *testing.T) {
	_, err := NewClient(Config{})
	require.Error(t, err)

	c, err := NewClient(Config{Endpoint: "http://localhost"})
	require.NoError(t, err)
	require.Equal(t, 30*time.Second, c.config.Timeout)
	require.Equal(t, time.Second, c.config.RetryBaseDelay)
}

func TestTranscribeSendsMultipartWAV(t *testing.T) {
	require := require.New(t)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method", http.StatusMethodNotAllowed)
			return
		}
		if err := r.ParseMultipartForm(10 << 20); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		file, _, err := r.FormFile("file")
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		defer file.Close()
		data, _ := io.ReadAll(file)

		samples, rate, err := audio.DecodeWAV(data)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		json.NewEncoder(w).Encode(map[string]any{
			"text":       "hello world",
			"language":   "en",
			"confidence": 0.9,
			"duration":   float64(len(samples)) / float64(rate),
			"echo": map[string]string{
				"sample_rate": r.FormValue("sample_rate"),
				"request_id":  r.FormValue("request_id"),
				"model":       r.FormValue("model"),
			},
		})
	}))
	defer server.Close()

	client, err := NewClient(testConfig(server.URL))
	require.NoError(err)

	result, err := client.Transcribe(context.Background(), &Request{
		Samples:    tone(16000),
		SampleRate: 16000,
		RequestID:  "req-1",
	})
	require.NoError(err)
	require.Equal("hello world", result.Text)
	require.Equal("en", result.Language)
	require.InDelta(1.0, result.Duration, 0.001)
	require.Equal("req-1", result.RequestID)

	stats := client.GetStats()
	require.Equal(uint64(1), stats.TotalRequests)
	require.Equal(uint64(1), stats.SuccessRequests)
	require.Zero(stats.ActiveRequests)
	require.True(client.Healthy())
}

func TestTranscribeRetriesServerErrors(t *testing.T) {
	require := require.New(t)

	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			http.Error(w, "warming up", http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{"text":"finally","language":"de"}`))
	}))
	defer server.Close()

	client, err := NewClient(testConfig(server.URL))
	require.NoError(err)

	result, err := client.Transcribe(context.Background(), &Request{Samples: tone(800), SampleRate: 16000})
	require.NoError(err)
	require.Equal("finally", result.Text)
	require.NotEmpty(result.RequestID)
	require.Equal(int32(3), calls.Load())
	require.Equal(uint64(2), client.GetStats().TotalRetries)
}

func TestTranscribeDoesNotRetryClientErrors(t *testing.T) {
	require := require.New(t)

	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "bad audio", http.StatusBadRequest)
	}))
	defer server.Close()

	client, err := NewClient(testConfig(server.URL))
	require.NoError(err)

	_, err = client.Transcribe(context.Background(), &Request{Samples: tone(800), SampleRate: 16000})
	require.Error(err)

	var httpErr *HTTPError
	require.True(errors.As(err, &httpErr))
	require.Equal(http.StatusBadRequest, httpErr.StatusCode)
	require.Equal(int32(1), calls.Load())
	require.Equal(uint64(1), client.GetStats().FailedRequests)
}

func TestTranscribeBecomesUnhealthy(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusUnprocessableEntity)
	}))
	defer server.Close()

	client, err := NewClient(testConfig(server.URL))
	require.NoError(t, err)

	for i := 0; i < unhealthyAfter; i++ {
		_, err := client.Transcribe(context.Background(), &Request{Samples: tone(10), SampleRate: 16000})
		require.Error(t, err)
	}
	require.False(t, client.Healthy())
}

func TestTranscribeRejectsEmptyAudio(t *testing.T) {
	client, err := NewClient(testConfig("http://127.0.0.1:1"))
	require.NoError(t, err)

	_, err = client.Transcribe(context.Background(), &Request{SampleRate: 16000})
	require.Error(t, err)
	require.Zero(t, client.GetStats().TotalRequests)
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"service unavailable", &HTTPError{StatusCode: 503}, true},
		{"rate limited", &HTTPError{StatusCode: 429}, true},
		{"bad request", &HTTPError{StatusCode: 400}, false},
		{"deadline", context.DeadlineExceeded, true},
		{"cancelled", context.Canceled, false},
		{"truncated body", io.ErrUnexpectedEOF, true},
		{"parse error", errors.New("failed to parse response JSON"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.expected, isRetryable(tt.err))
		})
	}
}
