package tts

import (
	"context"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

// fakeAccelerator answers ttsRequests. Requests for "de" are never answered;
// a pair of "fr" requests is answered in reverse order.
type fakeAccelerator struct {
	audio    string
	conns    atomic.Int32
	dropNext atomic.Bool
}

func (f *fakeAccelerator) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()
	f.conns.Add(1)

	conn.WriteJSON(acceleratorMessage{
		Type:      typeReady,
		Languages: []string{"fr", "de"},
		Speakers:  []string{"alice"},
	})

	var held []ttsRequest
	for {
		var req ttsRequest
		if err := conn.ReadJSON(&req); err != nil {
			return
		}
		if f.dropNext.CompareAndSwap(true, false) {
			return
		}

		switch req.TargetLang {
		case "de":
			continue
		case "fr":
			held = append(held, req)
			if len(held) < 2 {
				continue
			}
			for i := len(held) - 1; i >= 0; i-- {
				conn.WriteJSON(acceleratorMessage{
					Type:      typeTTSResult,
					RequestID: held[i].RequestID,
					Audio:     f.audio,
					TTSEngine: "f5-" + held[i].Text,
				})
			}
			held = nil
		default:
			conn.WriteJSON(acceleratorMessage{
				Type:      typeTTSResult,
				RequestID: req.RequestID,
				Audio:     f.audio,
				TTSEngine: "chatterbox",
			})
		}
	}
}

func startAccelerator(t *testing.T, timeout time.Duration) (*Accelerator, *fakeAccelerator) {
	t.Helper()

	fake := &fakeAccelerator{audio: base64.StdEncoding.EncodeToString(toneWAV(t))}
	server := httptest.NewServer(fake)
	t.Cleanup(server.Close)

	acc, err := NewAccelerator(AcceleratorConfig{
		URL:                "ws" + strings.TrimPrefix(server.URL, "http"),
		RequestTimeout:     timeout,
		ReconnectBaseDelay: 10 * time.Millisecond,
		ReconnectMaxDelay:  50 * time.Millisecond,
	}, nil)
	require.NoError(t, err)

	acc.Start(context.Background())
	t.Cleanup(acc.Stop)

	require.Eventually(t, func() bool { return acc.Supports("fr") }, 2*time.Second, 5*time.Millisecond)
	return acc, fake
}

func TestAcceleratorAnnouncesCapabilities(t *testing.T) {
	acc, _ := startAccelerator(t, time.Second)

	require.True(t, acc.Connected())
	require.True(t, acc.Supports("de"))
	require.False(t, acc.Supports("ja"))
	require.True(t, acc.HasVoice("alice"))
	require.False(t, acc.HasVoice("bob"))
}

func TestAcceleratorCorrelatesOutOfOrderResults(t *testing.T) {
	acc, _ := startAccelerator(t, 2*time.Second)

	type outcome struct {
		engine string
		err    error
	}
	results := make(chan outcome, 2)
	for _, text := range []string{"one", "two"} {
		go func() {
			syn, err := acc.Synthesize(context.Background(), &Request{Text: text, SpeakerID: "alice", TargetLang: "fr"})
			if err != nil {
				results <- outcome{err: err}
				return
			}
			results <- outcome{engine: syn.Engine}
		}()
	}

	engines := map[string]bool{}
	for i := 0; i < 2; i++ {
		r := <-results
		require.NoError(t, r.err)
		engines[r.engine] = true
	}
	require.Equal(t, map[string]bool{"f5-one": true, "f5-two": true}, engines)
}

func TestAcceleratorTimeout(t *testing.T) {
	acc, _ := startAccelerator(t, 50*time.Millisecond)

	_, err := acc.Synthesize(context.Background(), &Request{Text: "hallo", TargetLang: "de"})
	require.ErrorIs(t, err, ErrAcceleratorUnavailable)
	require.Equal(t, uint64(1), acc.GetStats().Timeouts)
	require.Zero(t, acc.GetStats().Pending)
}

func TestAcceleratorDisconnectFailsPendingAndReconnects(t *testing.T) {
	acc, fake := startAccelerator(t, 2*time.Second)

	fake.dropNext.Store(true)
	_, err := acc.Synthesize(context.Background(), &Request{Text: "hola", TargetLang: "es"})
	require.ErrorIs(t, err, ErrAcceleratorUnavailable)

	require.Eventually(t, func() bool {
		return fake.conns.Load() >= 2 && acc.Supports("fr")
	}, 2*time.Second, 5*time.Millisecond)

	syn, err := acc.Synthesize(context.Background(), &Request{Text: "hola", TargetLang: "es"})
	require.NoError(t, err)
	require.Equal(t, "chatterbox", syn.Engine)
	require.True(t, usable(syn.Audio))
}

func TestAcceleratorUnavailableWhenNotConnected(t *testing.T) {
	acc, err := NewAccelerator(AcceleratorConfig{URL: "ws://127.0.0.1:1/none"}, nil)
	require.NoError(t, err)

	_, err = acc.Synthesize(context.Background(), &Request{Text: "x", TargetLang: "fr"})
	require.ErrorIs(t, err, ErrAcceleratorUnavailable)
	require.False(t, acc.Supports("fr"))

	acc.Stop()
}

func TestRouterFallsBackWhenAcceleratorTimesOut(t *testing.T) {
	acc, _ := startAccelerator(t, 30*time.Millisecond)

	r := NewRouter(RouterConfig{Enabled: true, Budget: time.Second}, nil)
	r.RegisterVoiceBackend(acc)
	r.RegisterBackend(acc)
	r.SetFallback(&recordingBackend{name: "fallback", output: toneWAV(t)})

	syn, err := r.Synthesize(context.Background(), &Request{Text: "guten tag", SpeakerID: "alice", TargetLang: "de"})
	require.NoError(t, err)
	require.Equal(t, "fallback", syn.Engine)

	stats := r.GetStats()
	require.Equal(t, uint64(1), stats.Attempts["accelerator"][OutcomeError])
}
