package pipeline

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Dankular/Babblefish/internal/transcription"
	"github.com/Dankular/Babblefish/internal/translation"
	"github.com/Dankular/Babblefish/internal/vad"
)

type fakeTranscriber struct {
	text     string
	language string
	err      error
	delay    time.Duration
	healthy  bool
	calls    atomic.Int32
}

func (f *fakeTranscriber) Transcribe(ctx context.Context, req *transcription.Request) (*transcription.Result, error) {
	f.calls.Add(1)
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return &transcription.Result{Text: f.text, Language: f.language}, nil
}

func (f *fakeTranscriber) Healthy() bool { return f.healthy }

type fakeTranslator struct {
	failFor map[string]bool

	mu    sync.Mutex
	calls []string
}

func (f *fakeTranslator) Translate(ctx context.Context, text, source, target string) (string, error) {
	f.mu.Lock()
	f.calls = append(f.calls, source+"->"+target)
	f.mu.Unlock()

	if f.failFor[target] {
		return "", fmt.Errorf("no model for %s", target)
	}
	return fmt.Sprintf("%s(%s)", target, text), nil
}

func (f *fakeTranslator) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func utterance() *vad.Utterance {
	return &vad.Utterance{Samples: make([]int16, 16000), SampleRate: 16000}
}

func TestProcessTranslatesEachTarget(t *testing.T) {
	require := require.New(t)

	asr := &fakeTranscriber{text: " hello there ", language: "EN", healthy: true}
	mt := &fakeTranslator{}
	o := New(Config{Workers: 2, Timeout: time.Second}, asr, mt, nil)

	result, err := o.Process(context.Background(), utterance(), []string{"fr", "de", "fr"})
	require.NoError(err)
	require.Equal("hello there", result.SourceText)
	require.Equal("en", result.SourceLang)
	require.Equal(map[string]string{
		"fr": "fr(hello there)",
		"de": "de(hello there)",
	}, result.Translations)
	require.Empty(result.Fallbacks)
	require.ElementsMatch([]string{"en->fr", "en->de"}, mt.Calls())
	require.True(o.Ready())
}

func TestProcessSameLanguageSkipsTranslator(t *testing.T) {
	asr := &fakeTranscriber{text: "bonjour", language: "fr"}
	mt := &fakeTranslator{}
	o := New(Config{}, asr, mt, nil)

	result, err := o.Process(context.Background(), utterance(), []string{"fr"})
	require.NoError(t, err)
	require.Equal(t, "bonjour", result.Translations["fr"])
	require.Empty(t, mt.Calls())
}

func TestProcessWithoutTranslatorUsesMarker(t *testing.T) {
	asr := &fakeTranscriber{text: "hello", language: "en"}
	o := New(Config{}, asr, nil, nil)

	result, err := o.Process(context.Background(), utterance(), []string{"fr", "de", "en"})
	require.NoError(t, err)
	require.Equal(t, NoTranslatorPrefix+"hello", result.Translations["fr"])
	require.Equal(t, NoTranslatorPrefix+"hello", result.Translations["de"])
	require.Equal(t, "hello", result.Translations["en"])
	require.Equal(t, []string{"de", "fr"}, result.Fallbacks)
	require.False(t, o.Ready())
}

func TestProcessSingleTargetFailureDegrades(t *testing.T) {
	asr := &fakeTranscriber{text: "hello", language: "en"}
	mt := &fakeTranslator{failFor: map[string]bool{"ja": true}}
	o := New(Config{}, asr, mt, nil)

	result, err := o.Process(context.Background(), utterance(), []string{"ja", "es"})
	require.NoError(t, err)
	require.Equal(t, NoTranslatorPrefix+"hello", result.Translations["ja"])
	require.Equal(t, "es(hello)", result.Translations["es"])
	require.Equal(t, []string{"ja"}, result.Fallbacks)
	require.Equal(t, uint64(1), o.GetStats().Fallbacks)
}

func TestProcessEmptyTextSkipsTranslation(t *testing.T) {
	asr := &fakeTranscriber{text: "   "}
	mt := &fakeTranslator{}
	o := New(Config{}, asr, mt, nil)

	result, err := o.Process(context.Background(), utterance(), []string{"fr"})
	require.NoError(t, err)
	require.True(t, result.Empty())
	require.Equal(t, "en", result.SourceLang)
	require.Empty(t, result.Translations)
	require.Empty(t, mt.Calls())
	require.Equal(t, uint64(1), o.GetStats().Empty)
}

func TestProcessDetectsMissingLanguage(t *testing.T) {
	asr := &fakeTranscriber{text: "The weather today is wonderful and we are going to walk along the river for the whole afternoon."}
	o := New(Config{}, asr, nil, nil)

	result, err := o.Process(context.Background(), utterance(), []string{"en"})
	require.NoError(t, err)
	require.Equal(t, "en", result.SourceLang)
	require.Empty(t, result.Fallbacks)
}

func TestProcessErrors(t *testing.T) {
	o := New(Config{}, nil, &fakeTranslator{}, nil)
	_, err := o.Process(context.Background(), utterance(), []string{"fr"})
	require.ErrorIs(t, err, ErrModelUnavailable)
	require.False(t, o.Ready())

	cause := errors.New("asr exploded")
	o = New(Config{}, &fakeTranscriber{err: cause}, &fakeTranslator{}, nil)
	_, err = o.Process(context.Background(), utterance(), []string{"fr"})

	var pipelineErr *Error
	require.ErrorAs(t, err, &pipelineErr)
	require.Equal(t, "transcription", pipelineErr.Stage)
	require.ErrorIs(t, err, cause)
	require.Equal(t, uint64(1), o.GetStats().Failed)
}

func TestProcessSurvivesCallerCancellation(t *testing.T) {
	asr := &fakeTranscriber{text: "still here", language: "en", delay: 50 * time.Millisecond}
	o := New(Config{Timeout: time.Second}, asr, &fakeTranslator{}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := o.Process(ctx, utterance(), []string{"fr"})
	require.NoError(t, err)
	require.Equal(t, "fr(still here)", result.Translations["fr"])
}

func TestProcessTimeout(t *testing.T) {
	asr := &fakeTranscriber{text: "slow", delay: time.Second}
	o := New(Config{Timeout: 20 * time.Millisecond}, asr, nil, nil)

	_, err := o.Process(context.Background(), utterance(), []string{"fr"})
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestProcessBoundedWorkers(t *testing.T) {
	asr := &fakeTranscriber{text: "hi", language: "en", delay: 30 * time.Millisecond}
	o := New(Config{Workers: 2, Timeout: time.Second}, asr, nil, nil)

	var peak atomic.Int32
	var wg sync.WaitGroup
	stop := make(chan struct{})
	go func() {
		for {
			select {
			case <-stop:
				return
			default:
				if n := int32(o.GetStats().InFlight); n > peak.Load() {
					peak.Store(n)
				}
				time.Sleep(time.Millisecond)
			}
		}
	}()

	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := o.Process(context.Background(), utterance(), []string{"fr"})
			require.NoError(t, err)
		}()
	}
	wg.Wait()
	close(stop)

	require.LessOrEqual(t, peak.Load(), int32(2))
	require.Equal(t, int32(6), asr.calls.Load())
}

func TestReadyRequiresHealthyCollaborators(t *testing.T) {
	asr := &fakeTranscriber{healthy: false}
	o := New(Config{}, asr, &fakeTranslator{}, nil)
	require.False(t, o.Ready())

	asr.healthy = true
	require.True(t, o.Ready())
}

func TestReadyFollowsTranslationHealthCheck(t *testing.T) {
	var status atomic.Int32
	status.Store(http.StatusServiceUnavailable)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(int(status.Load()))
	}))
	t.Cleanup(server.Close)

	mt, err := translation.NewClient(translation.Config{Endpoint: server.URL, HealthEndpoint: server.URL})
	require.NoError(t, err)
	o := New(Config{}, &fakeTranscriber{healthy: true}, mt, nil)
	require.True(t, o.Ready())

	require.Error(t, mt.CheckHealth(context.Background()))
	require.False(t, o.Ready())

	status.Store(http.StatusOK)
	require.NoError(t, mt.CheckHealth(context.Background()))
	require.True(t, o.Ready())
}
