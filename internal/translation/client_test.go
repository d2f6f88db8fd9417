package translation

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTranslationServer(t *testing.T, calls *atomic.Int32) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)

		var req translateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if req.TargetLang == "deu_Latn" {
			http.Error(w, "model not loaded", http.StatusServiceUnavailable)
			return
		}

		json.NewEncoder(w).Encode(translateResponse{
			Translation: "[" + req.SourceLang + "->" + req.TargetLang + "] " + req.Text,
		})
	}))
	t.Cleanup(server.Close)
	return server
}

func TestTranslateUsesFloresCodes(t *testing.T) {
	var calls atomic.Int32
	server := newTranslationServer(t, &calls)

	client, err := NewClient(Config{Endpoint: server.URL, Timeout: time.Second})
	require.NoError(t, err)

	out, err := client.Translate(context.Background(), "hello", "en", "fr")
	require.NoError(t, err)
	require.Equal(t, "[eng_Latn->fra_Latn] hello", out)
	require.Equal(t, int32(1), calls.Load())
}

func TestTranslateSameLanguageSkipsService(t *testing.T) {
	var calls atomic.Int32
	server := newTranslationServer(t, &calls)

	client, err := NewClient(Config{Endpoint: server.URL})
	require.NoError(t, err)

	out, err := client.Translate(context.Background(), "bonjour", "fr", "FR")
	require.NoError(t, err)
	require.Equal(t, "bonjour", out)
	require.Zero(t, calls.Load())
	require.Equal(t, uint64(1), client.GetStats().PassThrough)
}

func TestTranslateErrors(t *testing.T) {
	var calls atomic.Int32
	server := newTranslationServer(t, &calls)

	client, err := NewClient(Config{Endpoint: server.URL})
	require.NoError(t, err)

	_, err = client.Translate(context.Background(), "hello", "en", "xx")
	require.True(t, errors.Is(err, ErrUnsupportedLanguage))
	require.Zero(t, calls.Load())

	_, err = client.Translate(context.Background(), "hello", "en", "de")
	require.Error(t, err)
	require.Contains(t, err.Error(), "HTTP error 503")
	require.Equal(t, uint64(1), client.GetStats().FailedRequests)
}

func TestTranslateUnhealthyAfterFailures(t *testing.T) {
	var calls atomic.Int32
	server := newTranslationServer(t, &calls)

	client, err := NewClient(Config{Endpoint: server.URL})
	require.NoError(t, err)

	for i := 0; i < unhealthyAfter; i++ {
		_, err := client.Translate(context.Background(), "hello", "en", "de")
		require.Error(t, err)
	}
	require.False(t, client.Healthy())

	_, err = client.Translate(context.Background(), "hello", "en", "fr")
	require.NoError(t, err)
	require.True(t, client.Healthy())
}

func TestCheckHealthCachesReadiness(t *testing.T) {
	var status atomic.Int32
	status.Store(http.StatusServiceUnavailable)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || r.URL.Path != "/health" || r.Header.Get("Authorization") != "Bearer mt-key" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.WriteHeader(int(status.Load()))
	}))
	t.Cleanup(server.Close)

	client, err := NewClient(Config{
		Endpoint:       server.URL + "/translate",
		APIKey:         "mt-key",
		HealthEndpoint: server.URL + "/health",
	})
	require.NoError(t, err)
	require.True(t, client.Healthy())

	err = client.CheckHealth(context.Background())
	require.ErrorContains(t, err, "HTTP 503")
	require.False(t, client.Healthy())
	require.False(t, client.GetStats().Healthy)
	require.False(t, client.GetStats().LastHealthCheck.IsZero())

	status.Store(http.StatusOK)
	require.NoError(t, client.CheckHealth(context.Background()))
	require.True(t, client.Healthy())
}

func TestCheckHealthUnreachable(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	healthURL := server.URL + "/health"
	server.Close()

	client, err := NewClient(Config{Endpoint: healthURL, HealthEndpoint: healthURL, Timeout: time.Second})
	require.NoError(t, err)
	require.Error(t, client.CheckHealth(context.Background()))
	require.False(t, client.Healthy())
}

func TestHealthPollingRunsUntilStopped(t *testing.T) {
	var checks atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		checks.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	t.Cleanup(server.Close)

	client, err := NewClient(Config{
		Endpoint:       server.URL,
		HealthEndpoint: server.URL,
		HealthInterval: 10 * time.Millisecond,
	})
	require.NoError(t, err)

	client.Start(context.Background())
	require.Eventually(t, func() bool { return checks.Load() >= 2 }, 2*time.Second, 5*time.Millisecond)
	require.False(t, client.Healthy())

	client.Stop()
	stopped := checks.Load()
	time.Sleep(50 * time.Millisecond)
	require.Equal(t, stopped, checks.Load())
}

func TestHealthPollingDisabledWithoutEndpoint(t *testing.T) {
	client, err := NewClient(Config{Endpoint: "http://mt.invalid/translate"})
	require.NoError(t, err)

	require.NoError(t, client.CheckHealth(context.Background()))
	client.Start(context.Background())
	client.Stop()
	require.True(t, client.Healthy())
}

func TestNewClientRequiresEndpoint(t *testing.T) {
	_, err := NewClient(Config{})
	require.Error(t, err)
}
