package pipeline

import (
	"context"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/Dankular/Babblefish/internal/transcription"
	"github.com/Dankular/Babblefish/internal/translation"
	"github.com/Dankular/Babblefish/internal/vad"
)

// NoTranslatorPrefix marks source text delivered in place of a translation
const NoTranslatorPrefix = "[No translator] "

const defaultSourceLanguage = "en"

// Transcriber converts an utterance to text
type Transcriber interface {
	Transcribe(ctx context.Context, request *transcription.Request) (*transcription.Result, error)
}

// Translator translates text between ISO 639-1 languages
type Translator interface {
	Translate(ctx context.Context, text, sourceLang, targetLang string) (string, error)
}

type healthChecker interface {
	Healthy() bool
}

// Config contains orchestrator configuration
type Config struct {
	Workers int
	Timeout time.Duration
}

// Result is the outcome of processing one utterance
type Result struct {
	SourceText     string
	SourceLang     string
	Translations   map[string]string // target language -> text
	Fallbacks      []string          // targets that received the pass-through marker
	ProcessingTime time.Duration
}

// Empty reports whether nothing was recognized
func (r *Result) Empty() bool {
	return r.SourceText == ""
}

// Stats represents orchestrator statistics
type Stats struct {
	Processed uint64 `json:"processed"`
	Empty     uint64 `json:"empty"`
	Failed    uint64 `json:"failed"`
	Fallbacks uint64 `json:"fallbacks"`
	InFlight  int    `json:"in_flight"`
	Ready     bool   `json:"ready"`
}

// Orchestrator runs speech recognition followed by translation into every
// requested language. It is safe for concurrent use.
type Orchestrator struct {
	transcriber Transcriber
	translator  Translator
	config      Config
	sem         *semaphore.Weighted
	logger      *slog.Logger

	processed uint64
	empty     uint64
	failed    uint64
	fallbacks uint64
	inFlight  int
	mu        sync.Mutex
}

// New creates an orchestrator. Either collaborator may be nil.
func New(config Config, transcriber Transcriber, translator Translator, logger *slog.Logger) *Orchestrator {
	if config.Workers <= 0 {
		config.Workers = 4
	}
	if config.Timeout <= 0 {
		config.Timeout = 60 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Orchestrator{
		transcriber: transcriber,
		translator:  translator,
		config:      config,
		sem:         semaphore.NewWeighted(int64(config.Workers)),
		logger:      logger.With(slog.String("component", "pipeline")),
	}
}

// Process transcribes the utterance and translates the text into each target.
// The work continues if ctx is cancelled; it is bounded by the configured
// timeout instead.
func (o *Orchestrator) Process(ctx context.Context, utterance *vad.Utterance, targets []string) (*Result, error) {
	if o.transcriber == nil {
		o.count(&o.failed)
		return nil, ErrModelUnavailable
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.config.Timeout)
	defer cancel()

	if err := o.sem.Acquire(ctx, 1); err != nil {
		o.count(&o.failed)
		return nil, &Error{Stage: "scheduling", Err: err}
	}
	defer o.sem.Release(1)

	o.track(1)
	defer o.track(-1)

	startTime := time.Now()

	asr, err := o.transcriber.Transcribe(ctx, &transcription.Request{
		Samples:    utterance.Samples,
		SampleRate: utterance.SampleRate,
	})
	if err != nil {
		o.count(&o.failed)
		return nil, &Error{Stage: "transcription", Err: err}
	}

	text := strings.TrimSpace(asr.Text)
	if text == "" {
		o.count(&o.empty)
		lang := strings.ToLower(asr.Language)
		if lang == "" {
			lang = defaultSourceLanguage
		}
		return &Result{
			SourceLang:     lang,
			Translations:   map[string]string{},
			ProcessingTime: time.Since(startTime),
		}, nil
	}

	sourceLang := o.sourceLanguage(asr.Language, text)
	translations, fallbacks := o.translateAll(ctx, text, sourceLang, targets)

	o.mu.Lock()
	o.processed++
	o.fallbacks += uint64(len(fallbacks))
	o.mu.Unlock()

	result := &Result{
		SourceText:     text,
		SourceLang:     sourceLang,
		Translations:   translations,
		Fallbacks:      fallbacks,
		ProcessingTime: time.Since(startTime),
	}

	o.logger.Debug("Utterance processed",
		slog.String("source_lang", sourceLang),
		slog.Int("targets", len(targets)),
		slog.Int("fallbacks", len(fallbacks)),
		slog.Duration("duration", result.ProcessingTime))

	return result, nil
}

func (o *Orchestrator) sourceLanguage(reported, text string) string {
	if lang := strings.ToLower(strings.TrimSpace(reported)); lang != "" {
		return lang
	}
	if lang := translation.DetectLanguage(text); lang != "" {
		return lang
	}
	return defaultSourceLanguage
}

// translateAll fans out one translation per target. A failed target gets the
// pass-through marker and never fails the whole call.
func (o *Orchestrator) translateAll(ctx context.Context, text, sourceLang string, targets []string) (map[string]string, []string) {
	translations := make(map[string]string, len(targets))
	var fallbacks []string
	var mu sync.Mutex

	set := func(target, value string, fallback bool) {
		mu.Lock()
		defer mu.Unlock()
		translations[target] = value
		if fallback {
			fallbacks = append(fallbacks, target)
		}
	}

	seen := make(map[string]struct{}, len(targets))
	var g errgroup.Group
	for _, target := range targets {
		if _, dup := seen[target]; dup {
			continue
		}
		seen[target] = struct{}{}

		switch {
		case strings.EqualFold(target, sourceLang):
			set(target, text, false)
			continue
		case o.translator == nil:
			set(target, NoTranslatorPrefix+text, true)
			continue
		}

		g.Go(func() error {
			translated, err := o.translator.Translate(ctx, text, sourceLang, target)
			if err != nil {
				o.logger.Warn("Translation failed, passing source text through",
					slog.String("source_lang", sourceLang),
					slog.String("target_lang", target),
					slog.String("error", err.Error()))
				set(target, NoTranslatorPrefix+text, true)
				return nil
			}
			set(target, translated, false)
			return nil
		})
	}
	g.Wait()
	slices.Sort(fallbacks)

	return translations, fallbacks
}

// Ready reports whether both collaborators are present and healthy
func (o *Orchestrator) Ready() bool {
	if o.transcriber == nil || o.translator == nil {
		return false
	}
	if h, ok := o.transcriber.(healthChecker); ok && !h.Healthy() {
		return false
	}
	if h, ok := o.translator.(healthChecker); ok && !h.Healthy() {
		return false
	}
	return true
}

// GetStats returns current orchestrator statistics
func (o *Orchestrator) GetStats() Stats {
	o.mu.Lock()
	defer o.mu.Unlock()

	return Stats{
		Processed: o.processed,
		Empty:     o.empty,
		Failed:    o.failed,
		Fallbacks: o.fallbacks,
		InFlight:  o.inFlight,
		Ready:     o.Ready(),
	}
}

func (o *Orchestrator) count(counter *uint64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	*counter++
}

func (o *Orchestrator) track(delta int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.inFlight += delta
}
